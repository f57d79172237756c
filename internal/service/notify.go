package service

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Shivanand-hulikatti/converge/internal/model"
	"github.com/Shivanand-hulikatti/converge/internal/repository"
)

// dispatchBatch bounds how many notifications one dispatch pass handles.
const dispatchBatch = 100

// dispatchLease keeps a claimed notification from other dispatch passes
// while it is being sent.
const dispatchLease = 5 * time.Minute

// Sender delivers a message to its recipients.
type Sender interface {
	Send(ctx context.Context, msg model.Message) error
}

// LogSender writes messages to the process log instead of delivering them.
type LogSender struct{}

// Send logs msg.
func (LogSender) Send(_ context.Context, msg model.Message) error {
	log.Printf("notification %s for event %s (%s): %q to %d recipient(s)",
		msg.NotificationID, msg.Event.ID, msg.Event.ScheduledDate, msg.Subject, len(msg.Recipients))
	return nil
}

// NotificationService schedules planner messages and hands due ones to a
// Sender.
type NotificationService struct {
	store  repository.Store
	sender Sender
	now    func() time.Time
}

// NewNotificationService constructs a NotificationService. A nil sender
// logs messages.
func NewNotificationService(store repository.Store, sender Sender) *NotificationService {
	if sender == nil {
		sender = LogSender{}
	}
	return &NotificationService{store: store, sender: sender, now: time.Now}
}

// Schedule queues a message for the attendees of eventID.
func (s *NotificationService) Schedule(ctx context.Context, eventID string, req model.NotificationRequest) (*model.Notification, error) {
	n := model.Notification{
		ID:           uuid.New().String(),
		EventID:      eventID,
		Subject:      strings.TrimSpace(req.Subject),
		Body:         strings.TrimSpace(req.Body),
		ScheduledFor: req.ScheduledFor.UTC(),
		CreatedAt:    s.now().UTC(),
	}
	if n.Subject == "" || n.Body == "" {
		return nil, fmt.Errorf("%w: subject and body are required", model.ErrValidation)
	}
	if n.ScheduledFor.IsZero() {
		n.ScheduledFor = n.CreatedAt
	}
	err := s.store.InTx(ctx, func(q repository.Queries) error {
		e, err := q.GetEvent(ctx, eventID)
		if err != nil {
			return err
		}
		n.PlannerID = e.PlannerID
		return q.CreateNotification(ctx, &n)
	})
	if err != nil {
		return nil, err
	}
	return &n, nil
}

// DispatchDue sends every unsent notification scheduled at or before now to
// the users attending its event, then marks it sent. A notification with no
// attendees is marked sent without calling the sender. It returns how many
// notifications were marked.
//
// Due notifications are leased in one short transaction and then delivered
// one at a time with no store lock held. A failed delivery is logged and its
// lease released, so it is retried on the next pass without holding up the
// rest of the batch.
func (s *NotificationService) DispatchDue(ctx context.Context) (int, error) {
	now := s.now().UTC()
	var due []model.Notification
	err := s.store.InTx(ctx, func(q repository.Queries) error {
		var err error
		due, err = q.ClaimDueNotifications(ctx, now, now.Add(dispatchLease), dispatchBatch)
		return err
	})
	if err != nil {
		return 0, err
	}

	sent := 0
	for _, n := range due {
		if err := ctx.Err(); err != nil {
			return sent, err
		}
		if err := s.deliver(ctx, n); err != nil {
			log.Printf("notification %s: %v", n.ID, err)
			rerr := s.store.InTx(ctx, func(q repository.Queries) error {
				return q.ReleaseNotification(ctx, n.ID)
			})
			if rerr != nil {
				log.Printf("release notification %s: %v", n.ID, rerr)
			}
			continue
		}
		sent++
	}
	return sent, nil
}

// deliver sends one leased notification and marks it sent.
func (s *NotificationService) deliver(ctx context.Context, n model.Notification) error {
	var msg model.Message
	err := s.store.Read(ctx, func(q repository.Queries) error {
		e, err := q.GetEvent(ctx, n.EventID)
		if err != nil {
			return err
		}
		users, err := q.AttendingUsers(ctx, n.EventID)
		if err != nil {
			return err
		}
		msg = model.Message{
			NotificationID: n.ID,
			Event:          e.Snapshot(),
			Subject:        n.Subject,
			Body:           n.Body,
			Recipients:     users,
		}
		return nil
	})
	if err != nil {
		return err
	}
	if len(msg.Recipients) > 0 {
		if err := s.sender.Send(ctx, msg); err != nil {
			return fmt.Errorf("send: %w", err)
		}
	}
	return s.store.InTx(ctx, func(q repository.Queries) error {
		return q.MarkNotificationSent(ctx, n.ID)
	})
}
