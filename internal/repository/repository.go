// Package repository implements persistence for rooms, events, RSVPs and the
// administrative calendar. Every write the booking rules depend on runs
// inside Store.InTx so the read it was decided on and the write commit
// together.
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/Shivanand-hulikatti/converge/internal/model"
	"github.com/Shivanand-hulikatti/converge/internal/slot"
)

// ErrRetryable is returned for lock timeouts, deadlocks and serialization
// failures. The whole operation may be replayed with the same inputs.
var ErrRetryable = errors.New("transient storage conflict, retry")

// Store runs units of work against the booking tables.
type Store interface {
	// InTx runs fn in a single transaction. The transaction commits only if
	// fn returns nil; otherwise nothing fn wrote is kept.
	InTx(ctx context.Context, fn func(q Queries) error) error

	// Read runs fn outside a write transaction. fn must not write.
	Read(ctx context.Context, fn func(q Queries) error) error
}

// EventFilter narrows ListEvents. Zero values match everything.
type EventFilter struct {
	Date      time.Time
	PlannerID string
}

// Queries is the set of statements available inside a unit of work.
type Queries interface {
	// LockSlot serialises every writer touching (date, s) until the
	// surrounding transaction ends.
	LockSlot(ctx context.Context, date time.Time, s slot.Slot) error

	CreateRoom(ctx context.Context, room *model.Room) error
	UpdateRoom(ctx context.Context, room *model.Room) error
	// DeleteRoom fails with model.ErrReferentialRestriction while any event
	// references the room.
	DeleteRoom(ctx context.Context, id string) error
	GetRoom(ctx context.Context, id string) (*model.Room, error)
	ListRooms(ctx context.Context) ([]model.Room, error)
	CountRooms(ctx context.Context, status model.RoomStatus) (int, error)

	CreatePlanner(ctx context.Context, p *model.Planner) error
	GetPlanner(ctx context.Context, id string) (*model.Planner, error)
	ListPlanners(ctx context.Context) ([]model.Planner, error)
	// DeletePlanner fails with model.ErrReferentialRestriction while any
	// event references the planner.
	DeletePlanner(ctx context.Context, id string) error

	IsDateBlocked(ctx context.Context, date time.Time) (bool, error)
	// BlockDates inserts the given rows, skipping dates already blocked, and
	// returns the rows actually inserted.
	BlockDates(ctx context.Context, rows []model.BlockedDate) ([]model.BlockedDate, error)
	DeleteBlockedDate(ctx context.Context, id string) error
	ListBlockedDates(ctx context.Context) ([]model.BlockedDate, error)

	CreateEvent(ctx context.Context, e *model.Event) error
	GetEvent(ctx context.Context, id string) (*model.Event, error)
	// GetEventForUpdate reads the event and locks its row until the
	// surrounding transaction ends.
	GetEventForUpdate(ctx context.Context, id string) (*model.Event, error)
	ListEvents(ctx context.Context, f EventFilter) ([]model.Event, error)
	// EventsAt returns every event, pending or approved, at (date, s).
	EventsAt(ctx context.Context, date time.Time, s slot.Slot) ([]model.Event, error)
	// MarkApproved fails with model.ErrSlotTaken if another approved event
	// already holds the same room, date and slot.
	MarkApproved(ctx context.Context, id string) error
	// DeletePendingAt deletes the pending events at (roomID, date, s) other
	// than keepID and returns their ids.
	DeletePendingAt(ctx context.Context, roomID string, date time.Time, s slot.Slot, keepID string) ([]string, error)
	DeleteEvent(ctx context.Context, id string) error
	// DeleteEventsBefore deletes at most limit events dated before the given
	// day, skipping rows other transactions hold, and returns how many went.
	DeleteEventsBefore(ctx context.Context, before time.Time, limit int) (int, error)
	// CountEventsByDay counts events per day within [from, to], keyed by
	// model.DateLayout.
	CountEventsByDay(ctx context.Context, from, to time.Time) (map[string]int, error)
	SetConfirmedCount(ctx context.Context, eventID string, n int) error

	// GetRSVP returns model.ErrNotFound when the user has not responded.
	GetRSVP(ctx context.Context, eventID, userID string) (*model.RSVP, error)
	UpsertRSVP(ctx context.Context, r *model.RSVP) error
	ListRSVPs(ctx context.Context, eventID string) ([]model.RSVP, error)
	CountRSVPs(ctx context.Context, eventID string, status model.RSVPStatus) (int, error)

	CreateNotification(ctx context.Context, n *model.Notification) error
	// ClaimDueNotifications leases at most limit unsent notifications
	// scheduled at or before now until the given time. A notification under
	// an unexpired lease is not returned again.
	ClaimDueNotifications(ctx context.Context, now, until time.Time, limit int) ([]model.Notification, error)
	// ReleaseNotification drops the lease on an unsent notification.
	ReleaseNotification(ctx context.Context, id string) error
	MarkNotificationSent(ctx context.Context, id string) error
	// AttendingUsers returns the users whose RSVP for the event is Attending.
	AttendingUsers(ctx context.Context, eventID string) ([]string, error)
}
