// Package model defines the core domain types for the room booking system.
package model

import (
	"fmt"
	"strings"
	"time"

	"github.com/Shivanand-hulikatti/converge/internal/slot"
)

// DateLayout is the wire and storage format for calendar dates.
const DateLayout = "2006-01-02"

// MinCapacity and MaxCapacity bound both room capacity and event capacity.
const (
	MinCapacity = 1
	MaxCapacity = 100
)

// RoomStatus is the administrative state of a room.
type RoomStatus string

const (
	RoomAvailable   RoomStatus = "available"
	RoomReserved    RoomStatus = "reserved"
	RoomUnavailable RoomStatus = "unavailable"
)

// Valid reports whether s is a known room status.
func (s RoomStatus) Valid() bool {
	switch s {
	case RoomAvailable, RoomReserved, RoomUnavailable:
		return true
	}
	return false
}

// Room is a bookable space.
type Room struct {
	ID       string     `json:"id"`
	Name     string     `json:"name"`
	Capacity int        `json:"capacity"`
	Status   RoomStatus `json:"status"`
}

// Planner owns events.
type Planner struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Detail string `json:"detail"`
	UserID string `json:"user_id,omitempty"`
}

// BlockedDate is a calendar day on which nothing may be booked.
type BlockedDate struct {
	ID     string    `json:"id"`
	Date   time.Time `json:"date"`
	Reason string    `json:"reason,omitempty"`
}

// Event is a booking occupying one room at one (date, slot).
type Event struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	Detail         string    `json:"detail"`
	Capacity       int       `json:"capacity"`
	Date           time.Time `json:"date"`
	Slot           slot.Slot `json:"slot"`
	PlannerID      string    `json:"planner_id"`
	RoomID         string    `json:"room_id"`
	Approved       bool      `json:"approved"`
	ConfirmedCount int       `json:"confirmed_count"`
	Genres         []string  `json:"genres,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// Remaining returns the number of attendee places left.
func (e *Event) Remaining() int {
	return e.Capacity - e.ConfirmedCount
}

// IsFull returns true when no attendee places remain.
func (e *Event) IsFull() bool {
	return e.ConfirmedCount >= e.Capacity
}

// Collides reports whether e and o claim the same room at the same time.
func (e *Event) Collides(o *Event) bool {
	return e.RoomID == o.RoomID && e.Slot == o.Slot && SameDate(e.Date, o.Date)
}

// Snapshot returns the read-only view handed to notification and calendar
// collaborators.
func (e *Event) Snapshot() EventSnapshot {
	state := ApprovalPending
	if e.Approved {
		state = ApprovalApproved
	}
	return EventSnapshot{
		ID:                     e.ID,
		Name:                   e.Name,
		RoomID:                 e.RoomID,
		ApprovalState:          state,
		ScheduledDate:          e.Date.Format(DateLayout),
		ScheduledSlot:          e.Slot.String(),
		ConfirmedAttendeeCount: e.ConfirmedCount,
		Capacity:               e.Capacity,
	}
}

// Approval states as exposed to collaborators.
const (
	ApprovalPending  = "pending"
	ApprovalApproved = "approved"
)

// EventSnapshot is the outbound, read-only shape of an event.
type EventSnapshot struct {
	ID                     string `json:"id"`
	Name                   string `json:"name"`
	RoomID                 string `json:"room_id"`
	ApprovalState          string `json:"approval_state"`
	ScheduledDate          string `json:"scheduled_date"`
	ScheduledSlot          string `json:"scheduled_slot"`
	ConfirmedAttendeeCount int    `json:"confirmed_attendee_count"`
	Capacity               int    `json:"capacity"`
}

// RSVPStatus is an attendance response.
type RSVPStatus string

const (
	Attending    RSVPStatus = "attending"
	NotAttending RSVPStatus = "not_attending"
)

// ParseRSVPStatus accepts the enumerated statuses only.
func ParseRSVPStatus(v string) (RSVPStatus, error) {
	switch s := RSVPStatus(strings.ToLower(strings.TrimSpace(v))); s {
	case Attending, NotAttending:
		return s, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidStatus, v)
}

// RSVP is one user's attendance response for one event.
type RSVP struct {
	ID        string     `json:"id"`
	EventID   string     `json:"event_id"`
	UserID    string     `json:"user_id"`
	Status    RSVPStatus `json:"status"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// Notification is a message a planner scheduled for an event's attendees.
type Notification struct {
	ID           string    `json:"id"`
	EventID      string    `json:"event_id"`
	PlannerID    string    `json:"planner_id"`
	Subject      string    `json:"subject"`
	Body         string    `json:"body"`
	ScheduledFor time.Time `json:"scheduled_for"`
	Sent         bool      `json:"sent"`
	CreatedAt    time.Time `json:"created_at"`
}

// ─── Requests ────────────────────────────────────────────────────────────────

// AllocateRequest asks for a room at (date, slot). RoomID is optional.
type AllocateRequest struct {
	RoomID    string `json:"room_id,omitempty"`
	Date      string `json:"date"`
	Slot      string `json:"slot"`
	PartySize int    `json:"party_size"`
}

// BookEventRequest is the payload for booking a new event.
type BookEventRequest struct {
	Name      string   `json:"name"`
	Detail    string   `json:"detail"`
	PartySize int      `json:"party_size"`
	Date      string   `json:"date"`
	Slot      string   `json:"slot"`
	PlannerID string   `json:"planner_id"`
	RoomID    string   `json:"room_id,omitempty"`
	Approved  bool     `json:"approved"`
	Genres    []string `json:"genres,omitempty"`
}

// RSVPRequest is the payload for responding to an event. Status may be empty.
type RSVPRequest struct {
	Status string `json:"status"`
}

// RoomRequest creates or updates a room.
type RoomRequest struct {
	Name     string `json:"name"`
	Capacity int    `json:"capacity"`
	Status   string `json:"status"`
}

// PlannerRequest creates a planner.
type PlannerRequest struct {
	Name   string `json:"name"`
	Detail string `json:"detail"`
	UserID string `json:"user_id,omitempty"`
}

// BlockDatesRequest blocks an inclusive range of dates.
type BlockDatesRequest struct {
	StartDate string `json:"start_date"`
	EndDate   string `json:"end_date"`
	Reason    string `json:"reason,omitempty"`
}

// NotificationRequest schedules a notification.
type NotificationRequest struct {
	Subject      string    `json:"subject"`
	Body         string    `json:"body"`
	ScheduledFor time.Time `json:"scheduled_for"`
}

// ─── Results ─────────────────────────────────────────────────────────────────

// Allocation is the decision for one allocation request.
type Allocation struct {
	Room          Room   `json:"room"`
	Substituted   bool   `json:"substituted"`
	RequestedRoom string `json:"requested_room,omitempty"`
}

// BookingResult is the outcome of booking an event.
type BookingResult struct {
	Event         Event  `json:"event"`
	Substituted   bool   `json:"substituted"`
	RequestedRoom string `json:"requested_room,omitempty"`
	Notice        string `json:"notice,omitempty"`
}

// ApprovalResult is the outcome of approving an event.
type ApprovalResult struct {
	Event   Event    `json:"event"`
	Evicted []string `json:"evicted"`
}

// LedgerResult is the outcome of an RSVP status change.
type LedgerResult struct {
	RSVP           RSVP       `json:"rsvp"`
	PreviousStatus RSVPStatus `json:"previous_status,omitempty"`
	ConfirmedCount int        `json:"confirmed_count"`
	Defaulted      bool       `json:"defaulted,omitempty"`
}

// LedgerAudit compares the stored counter with the attending RSVP rows.
type LedgerAudit struct {
	EventID        string `json:"event_id"`
	ConfirmedCount int    `json:"confirmed_count"`
	AttendingRows  int    `json:"attending_rows"`
	Consistent     bool   `json:"consistent"`
}

// ErrorResponse is a standard JSON error envelope.
type ErrorResponse struct {
	Error string `json:"error"`
}

// ─── Dates ───────────────────────────────────────────────────────────────────

// ParseDate reads a YYYY-MM-DD date as UTC midnight.
func ParseDate(v string) (time.Time, error) {
	d, err := time.Parse(DateLayout, strings.TrimSpace(v))
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: date must be YYYY-MM-DD", ErrValidation)
	}
	return d, nil
}

// DateOf truncates t to its calendar day in UTC.
func DateOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// SameDate reports whether a and b fall on the same calendar day.
func SameDate(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

// ─── Calendar views ──────────────────────────────────────────────────────────

// DayCell is one day of a month grid.
type DayCell struct {
	Date    string `json:"date"`
	InMonth bool   `json:"in_month"`
	Count   int    `json:"count"`
	Tier    string `json:"tier"`
}

// MonthGrid is the occupancy summary of a calendar month.
type MonthGrid struct {
	Year       int         `json:"year"`
	Month      int         `json:"month"`
	Name       string      `json:"name"`
	Weeks      [][]DayCell `json:"weeks"`
	RoomsTotal int         `json:"rooms_total"`
	SlotsTotal int         `json:"slots_total"`
}

// RoomCell is one room at one slot of a day view.
type RoomCell struct {
	RoomID   string         `json:"room_id"`
	RoomName string         `json:"room_name"`
	Free     bool           `json:"free"`
	Event    *EventSnapshot `json:"event,omitempty"`
	Pending  int            `json:"pending"`
}

// SlotRow is one slot of a day view across every room.
type SlotRow struct {
	Slot  string     `json:"slot"`
	Ends  string     `json:"ends"`
	Cells []RoomCell `json:"cells"`
}

// DayView is the room-by-slot grid of one day.
type DayView struct {
	Date    string    `json:"date"`
	Blocked bool      `json:"blocked"`
	Rows    []SlotRow `json:"rows"`
}

// Message is what the notification dispatcher hands to a sender.
type Message struct {
	NotificationID string        `json:"notification_id"`
	Event          EventSnapshot `json:"event"`
	Subject        string        `json:"subject"`
	Body           string        `json:"body"`
	Recipients     []string      `json:"recipients"`
}
