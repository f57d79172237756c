package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/Shivanand-hulikatti/converge/internal/model"
)

var contractDay = time.Date(2031, 5, 6, 0, 0, 0, 0, time.UTC)

type seed struct {
	room    model.Room
	planner model.Planner
}

func seedStore(t *testing.T, s Store) seed {
	t.Helper()
	sd := seed{
		room:    model.Room{ID: uuid.New().String(), Name: "Hall", Capacity: 20, Status: model.RoomAvailable},
		planner: model.Planner{ID: uuid.New().String(), Name: "Drama"},
	}
	err := s.InTx(context.Background(), func(q Queries) error {
		if err := q.CreateRoom(context.Background(), &sd.room); err != nil {
			return err
		}
		return q.CreatePlanner(context.Background(), &sd.planner)
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	return sd
}

func newEvent(sd seed, approved bool) *model.Event {
	return &model.Event{
		ID:        uuid.New().String(),
		Name:      "Rehearsal",
		Capacity:  5,
		Date:      contractDay,
		Slot:      14,
		PlannerID: sd.planner.ID,
		RoomID:    sd.room.ID,
		Approved:  approved,
		Genres:    []string{"theatre"},
		CreatedAt: time.Now().UTC().Truncate(time.Microsecond),
	}
}

func insert(t *testing.T, s Store, e *model.Event) error {
	t.Helper()
	return s.InTx(context.Background(), func(q Queries) error {
		return q.CreateEvent(context.Background(), e)
	})
}

// runStoreContract checks the behaviour every Store must share.
func runStoreContract(t *testing.T, newStore func(t *testing.T) Store) {
	ctx := context.Background()

	t.Run("one approved event per slot", func(t *testing.T) {
		s := newStore(t)
		sd := seedStore(t, s)
		if err := insert(t, s, newEvent(sd, true)); err != nil {
			t.Fatalf("first approved: %v", err)
		}
		if err := insert(t, s, newEvent(sd, false)); err != nil {
			t.Fatalf("pending stacks: %v", err)
		}
		if err := insert(t, s, newEvent(sd, true)); !errors.Is(err, model.ErrSlotTaken) {
			t.Fatalf("second approved: %v, want ErrSlotTaken", err)
		}
	})

	t.Run("failed unit of work leaves no trace", func(t *testing.T) {
		s := newStore(t)
		sd := seedStore(t, s)
		e := newEvent(sd, false)
		boom := errors.New("boom")
		err := s.InTx(ctx, func(q Queries) error {
			if err := q.CreateEvent(ctx, e); err != nil {
				return err
			}
			return boom
		})
		if !errors.Is(err, boom) {
			t.Fatalf("InTx error = %v", err)
		}
		err = s.Read(ctx, func(q Queries) error {
			_, err := q.GetEvent(ctx, e.ID)
			return err
		})
		if !errors.Is(err, model.ErrNotFound) {
			t.Fatalf("rolled back event visible: %v", err)
		}
	})

	t.Run("restrict on delete", func(t *testing.T) {
		s := newStore(t)
		sd := seedStore(t, s)
		if err := insert(t, s, newEvent(sd, false)); err != nil {
			t.Fatalf("insert: %v", err)
		}
		err := s.InTx(ctx, func(q Queries) error { return q.DeleteRoom(ctx, sd.room.ID) })
		if !errors.Is(err, model.ErrReferentialRestriction) {
			t.Fatalf("delete room: %v, want ErrReferentialRestriction", err)
		}
		err = s.InTx(ctx, func(q Queries) error { return q.DeletePlanner(ctx, sd.planner.ID) })
		if !errors.Is(err, model.ErrReferentialRestriction) {
			t.Fatalf("delete planner: %v, want ErrReferentialRestriction", err)
		}
	})

	t.Run("evict pending and cascade", func(t *testing.T) {
		s := newStore(t)
		sd := seedStore(t, s)
		keep := newEvent(sd, false)
		gone := newEvent(sd, false)
		for _, e := range []*model.Event{keep, gone} {
			if err := insert(t, s, e); err != nil {
				t.Fatalf("insert: %v", err)
			}
		}
		err := s.InTx(ctx, func(q Queries) error {
			return q.UpsertRSVP(ctx, &model.RSVP{
				ID: uuid.New().String(), EventID: gone.ID, UserID: "u1",
				Status: model.Attending, UpdatedAt: time.Now().UTC(),
			})
		})
		if err != nil {
			t.Fatalf("rsvp: %v", err)
		}

		var evicted []string
		err = s.InTx(ctx, func(q Queries) error {
			if err := q.MarkApproved(ctx, keep.ID); err != nil {
				return err
			}
			var err error
			evicted, err = q.DeletePendingAt(ctx, sd.room.ID, contractDay, 14, keep.ID)
			return err
		})
		if err != nil {
			t.Fatalf("approve: %v", err)
		}
		if len(evicted) != 1 || evicted[0] != gone.ID {
			t.Fatalf("evicted %v, want [%s]", evicted, gone.ID)
		}
		err = s.Read(ctx, func(q Queries) error {
			rsvps, err := q.ListRSVPs(ctx, gone.ID)
			if err != nil {
				return err
			}
			if len(rsvps) != 0 {
				t.Errorf("rsvps of evicted event survived: %v", rsvps)
			}
			e, err := q.GetEvent(ctx, keep.ID)
			if err != nil {
				return err
			}
			if !e.Approved || len(e.Genres) != 1 || e.Genres[0] != "theatre" {
				t.Errorf("kept event = %+v", e)
			}
			return nil
		})
		if err != nil {
			t.Fatalf("read back: %v", err)
		}
	})

	t.Run("rsvp upsert keeps one row", func(t *testing.T) {
		s := newStore(t)
		sd := seedStore(t, s)
		e := newEvent(sd, true)
		if err := insert(t, s, e); err != nil {
			t.Fatalf("insert: %v", err)
		}
		var firstID string
		for i, st := range []model.RSVPStatus{model.Attending, model.NotAttending} {
			r := &model.RSVP{ID: uuid.New().String(), EventID: e.ID, UserID: "u1", Status: st, UpdatedAt: time.Now().UTC()}
			if err := s.InTx(ctx, func(q Queries) error { return q.UpsertRSVP(ctx, r) }); err != nil {
				t.Fatalf("upsert %d: %v", i, err)
			}
			if i == 0 {
				firstID = r.ID
			} else if r.ID != firstID {
				t.Fatalf("upsert replaced id %s with %s", firstID, r.ID)
			}
		}
		err := s.Read(ctx, func(q Queries) error {
			n, err := q.CountRSVPs(ctx, e.ID, model.NotAttending)
			if err != nil {
				return err
			}
			if n != 1 {
				t.Errorf("not attending rows = %d, want 1", n)
			}
			return nil
		})
		if err != nil {
			t.Fatalf("count: %v", err)
		}
	})

	t.Run("rsvp status outside the enum is rejected", func(t *testing.T) {
		s := newStore(t)
		sd := seedStore(t, s)
		e := newEvent(sd, true)
		if err := insert(t, s, e); err != nil {
			t.Fatalf("insert: %v", err)
		}
		for _, st := range []model.RSVPStatus{"Attending", " attending", "maybe"} {
			r := &model.RSVP{ID: uuid.New().String(), EventID: e.ID, UserID: "u1", Status: st, UpdatedAt: time.Now().UTC()}
			err := s.InTx(ctx, func(q Queries) error { return q.UpsertRSVP(ctx, r) })
			if !errors.Is(err, model.ErrInvalidStatus) {
				t.Fatalf("upsert %q: %v, want ErrInvalidStatus", st, err)
			}
		}
		err := s.Read(ctx, func(q Queries) error {
			rsvps, err := q.ListRSVPs(ctx, e.ID)
			if err != nil {
				return err
			}
			if len(rsvps) != 0 {
				t.Errorf("stored %v", rsvps)
			}
			return nil
		})
		if err != nil {
			t.Fatalf("list: %v", err)
		}
	})

	t.Run("notification leases", func(t *testing.T) {
		s := newStore(t)
		sd := seedStore(t, s)
		e := newEvent(sd, true)
		if err := insert(t, s, e); err != nil {
			t.Fatalf("insert: %v", err)
		}
		now := time.Date(2031, 5, 1, 12, 0, 0, 0, time.UTC)
		var ids []string
		for i := 0; i < 3; i++ {
			n := &model.Notification{
				ID: uuid.New().String(), EventID: e.ID, PlannerID: sd.planner.ID,
				Subject: "s", Body: "b", ScheduledFor: now.Add(time.Duration(i-2) * time.Minute), CreatedAt: now,
			}
			if i == 2 {
				n.ScheduledFor = now.Add(time.Hour)
			}
			if err := s.InTx(ctx, func(q Queries) error { return q.CreateNotification(ctx, n) }); err != nil {
				t.Fatalf("create notification: %v", err)
			}
			ids = append(ids, n.ID)
		}
		claim := func(at time.Time) []model.Notification {
			t.Helper()
			var got []model.Notification
			err := s.InTx(ctx, func(q Queries) error {
				var err error
				got, err = q.ClaimDueNotifications(ctx, at, at.Add(5*time.Minute), 10)
				return err
			})
			if err != nil {
				t.Fatalf("claim: %v", err)
			}
			return got
		}

		if got := claim(now); len(got) != 2 || got[0].ID != ids[0] || got[1].ID != ids[1] {
			t.Fatalf("first claim = %v, want the two due notifications in order", got)
		}
		if got := claim(now); len(got) != 0 {
			t.Fatalf("leased notifications claimed again: %v", got)
		}
		err := s.InTx(ctx, func(q Queries) error {
			if err := q.MarkNotificationSent(ctx, ids[0]); err != nil {
				return err
			}
			return q.ReleaseNotification(ctx, ids[1])
		})
		if err != nil {
			t.Fatalf("mark and release: %v", err)
		}
		if got := claim(now); len(got) != 1 || got[0].ID != ids[1] {
			t.Fatalf("after release = %v, want [%s]", got, ids[1])
		}
		if got := claim(now.Add(10 * time.Minute)); len(got) != 1 || got[0].ID != ids[1] {
			t.Fatalf("after expiry = %v, want [%s]", got, ids[1])
		}
	})

	t.Run("confirmed count bounded by capacity", func(t *testing.T) {
		s := newStore(t)
		sd := seedStore(t, s)
		e := newEvent(sd, true)
		if err := insert(t, s, e); err != nil {
			t.Fatalf("insert: %v", err)
		}
		err := s.InTx(ctx, func(q Queries) error { return q.SetConfirmedCount(ctx, e.ID, e.Capacity+1) })
		if err == nil {
			t.Fatal("counter above capacity was accepted")
		}
	})

	t.Run("blocked dates are idempotent", func(t *testing.T) {
		s := newStore(t)
		rows := []model.BlockedDate{{ID: uuid.New().String(), Date: contractDay, Reason: "audit"}}
		var first, second []model.BlockedDate
		err := s.InTx(ctx, func(q Queries) error {
			var err error
			first, err = q.BlockDates(ctx, rows)
			return err
		})
		if err != nil {
			t.Fatalf("block: %v", err)
		}
		dup := []model.BlockedDate{{ID: uuid.New().String(), Date: contractDay}}
		err = s.InTx(ctx, func(q Queries) error {
			var err error
			second, err = q.BlockDates(ctx, dup)
			return err
		})
		if err != nil {
			t.Fatalf("block again: %v", err)
		}
		if len(first) != 1 || len(second) != 0 {
			t.Fatalf("inserted %d then %d, want 1 then 0", len(first), len(second))
		}
		err = s.Read(ctx, func(q Queries) error {
			blocked, err := q.IsDateBlocked(ctx, contractDay)
			if err != nil {
				return err
			}
			if !blocked {
				t.Error("date not blocked")
			}
			return nil
		})
		if err != nil {
			t.Fatalf("check: %v", err)
		}
	})
}

func TestMemoryStore(t *testing.T) {
	runStoreContract(t, func(*testing.T) Store { return NewMemory() })
}

func TestMemoryRejectsUnknownReferences(t *testing.T) {
	s := NewMemory()
	sd := seedStore(t, s)
	e := newEvent(sd, false)
	e.RoomID = uuid.New().String()
	if err := insert(t, s, e); !errors.Is(err, model.ErrReferentialRestriction) {
		t.Fatalf("error = %v, want ErrReferentialRestriction", err)
	}
}
