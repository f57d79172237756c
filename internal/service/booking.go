// Package service implements business logic, validation, and orchestration
// between HTTP handlers and the repository layer. Every operation that
// decides on a read and then writes runs inside one store transaction.
package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Shivanand-hulikatti/converge/internal/booking"
	"github.com/Shivanand-hulikatti/converge/internal/model"
	"github.com/Shivanand-hulikatti/converge/internal/repository"
	"github.com/Shivanand-hulikatti/converge/internal/slot"
)

// sweepBatch bounds how many stale events one sweep transaction deletes.
const sweepBatch = 500

// EventDraft is a validated event ready to be stored.
type EventDraft struct {
	Name      string
	Detail    string
	PartySize int
	Date      time.Time
	Slot      slot.Slot
	PlannerID string
	RoomID    string
	Approved  bool
	Genres    []string
}

// BookingService allocates rooms, creates events and arbitrates approvals.
type BookingService struct {
	store repository.Store
	now   func() time.Time
}

// NewBookingService constructs a BookingService.
func NewBookingService(store repository.Store) *BookingService {
	return &BookingService{store: store, now: time.Now}
}

// Allocate answers which room a request would get, without booking it.
func (s *BookingService) Allocate(ctx context.Context, req model.AllocateRequest) (*model.Allocation, error) {
	breq, err := parseAllocateRequest(req)
	if err != nil {
		return nil, err
	}
	var alloc model.Allocation
	err = s.store.Read(ctx, func(q repository.Queries) error {
		alloc, err = allocate(ctx, q, breq)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &alloc, nil
}

// BookEvent allocates a room for the request and creates the event in the
// same transaction. If the requested room could not be used the result says
// so and names the substitute.
func (s *BookingService) BookEvent(ctx context.Context, req model.BookEventRequest) (*model.BookingResult, error) {
	draft, err := parseBookRequest(req)
	if err != nil {
		return nil, err
	}

	var res model.BookingResult
	err = s.store.InTx(ctx, func(q repository.Queries) error {
		if err := q.LockSlot(ctx, draft.Date, draft.Slot); err != nil {
			return err
		}
		alloc, err := allocate(ctx, q, booking.Request{
			RoomID:    draft.RoomID,
			Date:      draft.Date,
			Slot:      draft.Slot,
			PartySize: draft.PartySize,
		})
		if err != nil {
			return err
		}
		d := draft
		d.RoomID = alloc.Room.ID
		e, err := s.createEvent(ctx, q, d)
		if err != nil {
			return err
		}
		res = model.BookingResult{Event: *e, Substituted: alloc.Substituted, RequestedRoom: alloc.RequestedRoom}
		if alloc.Substituted {
			res.Notice = fmt.Sprintf("requested room %s was not available, assigned %s instead", alloc.RequestedRoom, alloc.Room.Name)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &res, nil
}

// CreateEvent stores an event in an already chosen room. Events created
// approved evict pending competitors immediately.
func (s *BookingService) CreateEvent(ctx context.Context, d EventDraft) (*model.Event, error) {
	if err := validateDraft(&d); err != nil {
		return nil, err
	}
	if d.RoomID == "" {
		return nil, fmt.Errorf("%w: room_id is required", model.ErrValidation)
	}
	var e *model.Event
	err := s.store.InTx(ctx, func(q repository.Queries) error {
		if err := q.LockSlot(ctx, d.Date, d.Slot); err != nil {
			return err
		}
		blocked, err := q.IsDateBlocked(ctx, d.Date)
		if err != nil {
			return err
		}
		if blocked {
			return fmt.Errorf("%w: %s", model.ErrDateBlocked, d.Date.Format(model.DateLayout))
		}
		if _, err := q.GetRoom(ctx, d.RoomID); err != nil {
			return fmt.Errorf("room %s: %w", d.RoomID, err)
		}
		e, err = s.createEvent(ctx, q, d)
		return err
	})
	if err != nil {
		return nil, err
	}
	return e, nil
}

func (s *BookingService) createEvent(ctx context.Context, q repository.Queries, d EventDraft) (*model.Event, error) {
	if _, err := q.GetPlanner(ctx, d.PlannerID); err != nil {
		return nil, fmt.Errorf("planner %s: %w", d.PlannerID, err)
	}
	e := &model.Event{
		ID:        uuid.New().String(),
		Name:      d.Name,
		Detail:    d.Detail,
		Capacity:  d.PartySize,
		Date:      d.Date,
		Slot:      d.Slot,
		PlannerID: d.PlannerID,
		RoomID:    d.RoomID,
		Approved:  d.Approved,
		Genres:    d.Genres,
		CreatedAt: s.now().UTC(),
	}
	if err := q.CreateEvent(ctx, e); err != nil {
		return nil, err
	}
	if e.Approved {
		if _, err := evictCompetitors(ctx, q, e); err != nil {
			return nil, err
		}
	}
	return e, nil
}

// Approve moves a pending event to approved and deletes every other pending
// event for the same room, date and slot. Both happen in one transaction:
// if the eviction fails the approval is rolled back too.
//
// Approving an approved event changes nothing. Of two approvals racing for
// the same slot exactly one wins; the loser was evicted by the winner and
// gets model.ErrNotFound.
func (s *BookingService) Approve(ctx context.Context, eventID string) (*model.ApprovalResult, error) {
	if strings.TrimSpace(eventID) == "" {
		return nil, fmt.Errorf("%w: event id is required", model.ErrValidation)
	}
	var res model.ApprovalResult
	err := s.store.InTx(ctx, func(q repository.Queries) error {
		first, err := q.GetEvent(ctx, eventID)
		if err != nil {
			return err
		}
		if err := q.LockSlot(ctx, first.Date, first.Slot); err != nil {
			return err
		}
		// Re-read under the slot lock; a rival approval may have evicted it.
		e, err := q.GetEventForUpdate(ctx, eventID)
		if err != nil {
			return err
		}
		res = model.ApprovalResult{Event: *e, Evicted: []string{}}
		if e.Approved {
			return nil
		}
		if err := q.MarkApproved(ctx, e.ID); err != nil {
			return err
		}
		e.Approved = true
		evicted, err := evictCompetitors(ctx, q, e)
		if err != nil {
			return err
		}
		res.Event = *e
		res.Evicted = evicted
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &res, nil
}

// evictCompetitors deletes the pending events that collide with the
// just-approved event e.
func evictCompetitors(ctx context.Context, q repository.Queries, e *model.Event) ([]string, error) {
	evicted, err := q.DeletePendingAt(ctx, e.RoomID, e.Date, e.Slot, e.ID)
	if err != nil {
		return nil, fmt.Errorf("evict competitors of %s: %w", e.ID, err)
	}
	if evicted == nil {
		evicted = []string{}
	}
	if len(evicted) > 0 {
		log.Printf("approval of %s evicted %d pending event(s) at room %s %s %s",
			e.ID, len(evicted), e.RoomID, e.Date.Format(model.DateLayout), e.Slot)
	}
	return evicted, nil
}

// GetEvent returns a single event by ID.
func (s *BookingService) GetEvent(ctx context.Context, id string) (*model.Event, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: event id is required", model.ErrValidation)
	}
	var e *model.Event
	err := s.store.Read(ctx, func(q repository.Queries) error {
		var err error
		e, err = q.GetEvent(ctx, id)
		return err
	})
	return e, err
}

// ListEvents returns events, optionally only those on date (YYYY-MM-DD).
func (s *BookingService) ListEvents(ctx context.Context, date string) ([]model.Event, error) {
	var f repository.EventFilter
	if date != "" {
		d, err := model.ParseDate(date)
		if err != nil {
			return nil, err
		}
		f.Date = d
	}
	var events []model.Event
	err := s.store.Read(ctx, func(q repository.Queries) error {
		var err error
		events, err = q.ListEvents(ctx, f)
		return err
	})
	return events, err
}

// DeleteEvent removes an event together with its RSVPs and notifications.
func (s *BookingService) DeleteEvent(ctx context.Context, id string) error {
	if id == "" {
		return fmt.Errorf("%w: event id is required", model.ErrValidation)
	}
	return s.store.InTx(ctx, func(q repository.Queries) error {
		return q.DeleteEvent(ctx, id)
	})
}

// SweepStale deletes events dated before today in small transactions so
// live allocation and approval traffic is never blocked behind it.
func (s *BookingService) SweepStale(ctx context.Context) (int, error) {
	today := model.DateOf(s.now())
	total := 0
	for {
		var n int
		err := s.store.InTx(ctx, func(q repository.Queries) error {
			var err error
			n, err = q.DeleteEventsBefore(ctx, today, sweepBatch)
			return err
		})
		if err != nil {
			return total, fmt.Errorf("sweep stale events: %w", err)
		}
		total += n
		if n < sweepBatch {
			break
		}
		if err := ctx.Err(); err != nil {
			return total, err
		}
	}
	if total > 0 {
		log.Printf("swept %d stale event(s) dated before %s", total, today.Format(model.DateLayout))
	}
	return total, nil
}

// allocate loads the state for req and runs the allocator over it. A blocked
// date is rejected before any room is looked at.
func allocate(ctx context.Context, q repository.Queries, req booking.Request) (model.Allocation, error) {
	blocked, err := q.IsDateBlocked(ctx, req.Date)
	if err != nil {
		return model.Allocation{}, err
	}
	if blocked {
		return booking.Allocate(req, booking.State{Blocked: true})
	}
	if req.RoomID != "" {
		if _, err := q.GetRoom(ctx, req.RoomID); err != nil {
			if errors.Is(err, model.ErrNotFound) {
				return model.Allocation{}, fmt.Errorf("room %s: %w", req.RoomID, err)
			}
			return model.Allocation{}, err
		}
	}
	rooms, err := q.ListRooms(ctx)
	if err != nil {
		return model.Allocation{}, err
	}
	events, err := q.EventsAt(ctx, req.Date, req.Slot)
	if err != nil {
		return model.Allocation{}, err
	}
	return booking.Allocate(req, booking.State{
		Rooms:        rooms,
		Availability: booking.NewAvailability(events),
	})
}

// ─── Request parsing ─────────────────────────────────────────────────────────

func parseDateSlot(date, start string) (time.Time, slot.Slot, error) {
	d, err := model.ParseDate(date)
	if err != nil {
		return time.Time{}, 0, err
	}
	sl, err := slot.Parse(start)
	if err != nil {
		return time.Time{}, 0, err
	}
	return d, sl, nil
}

func parseAllocateRequest(req model.AllocateRequest) (booking.Request, error) {
	d, sl, err := parseDateSlot(req.Date, req.Slot)
	if err != nil {
		return booking.Request{}, err
	}
	if req.PartySize < model.MinCapacity || req.PartySize > model.MaxCapacity {
		return booking.Request{}, fmt.Errorf("%w: party_size %d", model.ErrInvalidCapacity, req.PartySize)
	}
	return booking.Request{
		RoomID:    strings.TrimSpace(req.RoomID),
		Date:      d,
		Slot:      sl,
		PartySize: req.PartySize,
	}, nil
}

func parseBookRequest(req model.BookEventRequest) (EventDraft, error) {
	d, sl, err := parseDateSlot(req.Date, req.Slot)
	if err != nil {
		return EventDraft{}, err
	}
	draft := EventDraft{
		Name:      req.Name,
		Detail:    req.Detail,
		PartySize: req.PartySize,
		Date:      d,
		Slot:      sl,
		PlannerID: req.PlannerID,
		RoomID:    strings.TrimSpace(req.RoomID),
		Approved:  req.Approved,
		Genres:    req.Genres,
	}
	if err := validateDraft(&draft); err != nil {
		return EventDraft{}, err
	}
	return draft, nil
}

func validateDraft(d *EventDraft) error {
	d.Name = strings.TrimSpace(d.Name)
	d.Detail = strings.TrimSpace(d.Detail)
	d.PlannerID = strings.TrimSpace(d.PlannerID)
	if d.Name == "" {
		return fmt.Errorf("%w: event name is required", model.ErrValidation)
	}
	if len(d.Name) > 255 {
		return fmt.Errorf("%w: event name is longer than 255 characters", model.ErrValidation)
	}
	if len(d.Detail) > 1000 {
		return fmt.Errorf("%w: detail is longer than 1000 characters", model.ErrValidation)
	}
	if d.PlannerID == "" {
		return fmt.Errorf("%w: planner_id is required", model.ErrValidation)
	}
	if d.PartySize < model.MinCapacity || d.PartySize > model.MaxCapacity {
		return fmt.Errorf("%w: party_size %d", model.ErrInvalidCapacity, d.PartySize)
	}
	if !d.Slot.Valid() {
		return fmt.Errorf("%w: %d", model.ErrInvalidSlot, int(d.Slot))
	}
	d.Date = model.DateOf(d.Date)

	seen := make(map[string]bool, len(d.Genres))
	genres := d.Genres[:0:0]
	for _, g := range d.Genres {
		g = strings.TrimSpace(g)
		if g == "" || seen[strings.ToLower(g)] {
			continue
		}
		seen[strings.ToLower(g)] = true
		genres = append(genres, g)
	}
	d.Genres = genres
	return nil
}
