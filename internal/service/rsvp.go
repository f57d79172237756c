package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Shivanand-hulikatti/converge/internal/booking"
	"github.com/Shivanand-hulikatti/converge/internal/model"
	"github.com/Shivanand-hulikatti/converge/internal/repository"
)

// RSVPService keeps each event's attendance responses and its confirmed
// attendee counter in step.
type RSVPService struct {
	store repository.Store
	now   func() time.Time
}

// NewRSVPService constructs an RSVPService.
func NewRSVPService(store repository.Store) *RSVPService {
	return &RSVPService{store: store, now: time.Now}
}

// SetStatus records userID's response to eventID.
//
// The event row is locked before the counter is read, so concurrent
// responses to the same event apply one at a time and the capacity guard
// never acts on a stale count. A response that would overfill the event
// fails with model.ErrEventFull and changes nothing.
func (s *RSVPService) SetStatus(ctx context.Context, eventID, userID string, status model.RSVPStatus) (*model.LedgerResult, error) {
	eventID = strings.TrimSpace(eventID)
	userID = strings.TrimSpace(userID)
	if eventID == "" || userID == "" {
		return nil, fmt.Errorf("%w: event id and user id are required", model.ErrValidation)
	}
	status, err := model.ParseRSVPStatus(string(status))
	if err != nil {
		return nil, err
	}

	var res model.LedgerResult
	err = s.store.InTx(ctx, func(q repository.Queries) error {
		e, err := q.GetEventForUpdate(ctx, eventID)
		if err != nil {
			return err
		}

		var prev model.RSVPStatus
		existing, err := q.GetRSVP(ctx, eventID, userID)
		switch {
		case err == nil:
			prev = existing.Status
		case errors.Is(err, model.ErrNotFound):
		default:
			return err
		}

		delta, err := booking.Transition(prev, status, e.ConfirmedCount, e.Capacity)
		if err != nil {
			return err
		}

		r := &model.RSVP{
			ID:        uuid.New().String(),
			EventID:   eventID,
			UserID:    userID,
			Status:    status,
			UpdatedAt: s.now().UTC(),
		}
		if existing != nil {
			r.ID = existing.ID
		}
		if err := q.UpsertRSVP(ctx, r); err != nil {
			return err
		}

		confirmed := booking.Apply(e.ConfirmedCount, delta)
		if confirmed != e.ConfirmedCount {
			if err := q.SetConfirmedCount(ctx, eventID, confirmed); err != nil {
				return err
			}
		}
		res = model.LedgerResult{RSVP: *r, PreviousStatus: prev, ConfirmedCount: confirmed}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &res, nil
}

// ListRSVPs returns all responses for an event.
func (s *RSVPService) ListRSVPs(ctx context.Context, eventID string) ([]model.RSVP, error) {
	var out []model.RSVP
	err := s.store.Read(ctx, func(q repository.Queries) error {
		if _, err := q.GetEvent(ctx, eventID); err != nil {
			return err
		}
		var err error
		out, err = q.ListRSVPs(ctx, eventID)
		return err
	})
	return out, err
}

// Audit recounts the attending responses for an event and compares the
// result with the stored counter.
func (s *RSVPService) Audit(ctx context.Context, eventID string) (*model.LedgerAudit, error) {
	var a model.LedgerAudit
	err := s.store.InTx(ctx, func(q repository.Queries) error {
		e, err := q.GetEventForUpdate(ctx, eventID)
		if err != nil {
			return err
		}
		n, err := q.CountRSVPs(ctx, eventID, model.Attending)
		if err != nil {
			return err
		}
		a = model.LedgerAudit{
			EventID:        eventID,
			ConfirmedCount: e.ConfirmedCount,
			AttendingRows:  n,
			Consistent:     n == e.ConfirmedCount,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &a, nil
}
