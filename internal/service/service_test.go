package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Shivanand-hulikatti/converge/internal/model"
	"github.com/Shivanand-hulikatti/converge/internal/repository"
	"github.com/Shivanand-hulikatti/converge/internal/slot"
)

const testDay = "2025-01-10"

type fixture struct {
	store    *repository.Memory
	booking  *BookingService
	rsvp     *RSVPService
	registry *RegistryService
	calendar *CalendarService
	planner  string
	roomA    string
	roomB    string
}

// newFixture seeds room A (capacity 10) and room B (capacity 4) plus one
// planner. The booking clock ticks one second per call so creation order is
// deterministic.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	store := repository.NewMemory()
	f := &fixture{
		store:    store,
		booking:  NewBookingService(store),
		rsvp:     NewRSVPService(store),
		registry: NewRegistryService(store),
		calendar: NewCalendarService(store),
	}
	clock := time.Date(2025, 1, 1, 9, 0, 0, 0, time.UTC)
	f.booking.now = func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}

	a, err := f.registry.CreateRoom(ctx, model.RoomRequest{Name: "A", Capacity: 10})
	if err != nil {
		t.Fatalf("create room A: %v", err)
	}
	b, err := f.registry.CreateRoom(ctx, model.RoomRequest{Name: "B", Capacity: 4, Status: "available"})
	if err != nil {
		t.Fatalf("create room B: %v", err)
	}
	p, err := f.registry.CreatePlanner(ctx, model.PlannerRequest{Name: "Film Society"})
	if err != nil {
		t.Fatalf("create planner: %v", err)
	}
	f.roomA, f.roomB, f.planner = a.ID, b.ID, p.ID
	return f
}

func (f *fixture) create(t *testing.T, roomID string, capacity int, approved bool) *model.Event {
	t.Helper()
	e, err := f.booking.CreateEvent(context.Background(), EventDraft{
		Name:      "Screening",
		PartySize: capacity,
		Date:      time.Date(2025, 1, 10, 0, 0, 0, 0, time.UTC),
		Slot:      10,
		PlannerID: f.planner,
		RoomID:    roomID,
		Approved:  approved,
	})
	if err != nil {
		t.Fatalf("create event: %v", err)
	}
	return e
}

func TestAllocateThenApproveExhaustsRoom(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	req := model.AllocateRequest{RoomID: f.roomA, Date: testDay, Slot: "10:00", PartySize: 6}

	got, err := f.booking.Allocate(ctx, req)
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}
	if got.Room.ID != f.roomA {
		t.Fatalf("got room %s, want A", got.Room.Name)
	}

	e := f.create(t, f.roomA, 6, false)
	if _, err := f.booking.Approve(ctx, e.ID); err != nil {
		t.Fatalf("approve: %v", err)
	}

	if _, err := f.booking.Allocate(ctx, req); !errors.Is(err, model.ErrNoRoomAvailable) {
		t.Fatalf("error = %v, want ErrNoRoomAvailable", err)
	}
}

func TestAllocateTightestFitWithoutPreference(t *testing.T) {
	f := newFixture(t)
	got, err := f.booking.Allocate(context.Background(), model.AllocateRequest{Date: testDay, Slot: "10:00", PartySize: 3})
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}
	if got.Room.ID != f.roomB || got.Substituted {
		t.Fatalf("got %+v, want room B without substitution", got)
	}
}

func TestAllocateIsRepeatable(t *testing.T) {
	f := newFixture(t)
	req := model.AllocateRequest{Date: testDay, Slot: "12:00", PartySize: 2}
	first, err := f.booking.Allocate(context.Background(), req)
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}
	for i := 0; i < 5; i++ {
		again, err := f.booking.Allocate(context.Background(), req)
		if err != nil {
			t.Fatalf("allocate #%d: %v", i, err)
		}
		if again.Room.ID != first.Room.ID {
			t.Fatalf("allocate #%d picked %s, first picked %s", i, again.Room.ID, first.Room.ID)
		}
	}
}

func TestAllocateRejectsBadInput(t *testing.T) {
	f := newFixture(t)
	cases := []struct {
		name string
		req  model.AllocateRequest
		want error
	}{
		{"off grid slot", model.AllocateRequest{Date: testDay, Slot: "11:00", PartySize: 1}, model.ErrInvalidSlot},
		{"minutes", model.AllocateRequest{Date: testDay, Slot: "10:30", PartySize: 1}, model.ErrInvalidSlot},
		{"zero party", model.AllocateRequest{Date: testDay, Slot: "10:00"}, model.ErrInvalidCapacity},
		{"party too large", model.AllocateRequest{Date: testDay, Slot: "10:00", PartySize: 101}, model.ErrInvalidCapacity},
		{"bad date", model.AllocateRequest{Date: "10/01/2025", Slot: "10:00", PartySize: 1}, model.ErrValidation},
		{"unknown room", model.AllocateRequest{RoomID: "nope", Date: testDay, Slot: "10:00", PartySize: 1}, model.ErrNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := f.booking.Allocate(context.Background(), tc.req); !errors.Is(err, tc.want) {
				t.Fatalf("error = %v, want %v", err, tc.want)
			}
		})
	}
}

func TestBlockedDateRejectsAllocation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	blocked, err := f.registry.BlockDates(ctx, model.BlockDatesRequest{StartDate: "2025-01-10", EndDate: "2025-01-12", Reason: "maintenance"})
	if err != nil {
		t.Fatalf("block dates: %v", err)
	}
	if len(blocked) != 3 {
		t.Fatalf("blocked %d dates, want 3", len(blocked))
	}

	_, err = f.booking.Allocate(ctx, model.AllocateRequest{Date: "2025-01-11", Slot: "10:00", PartySize: 1})
	if !errors.Is(err, model.ErrDateBlocked) {
		t.Fatalf("error = %v, want ErrDateBlocked", err)
	}

	// Repeating the range inserts nothing new.
	again, err := f.registry.BlockDates(ctx, model.BlockDatesRequest{StartDate: "2025-01-11", EndDate: "2025-01-12"})
	if err != nil {
		t.Fatalf("block dates again: %v", err)
	}
	if len(again) != 0 {
		t.Fatalf("re-blocking inserted %d rows", len(again))
	}

	if err := f.registry.UnblockDate(ctx, blocked[1].ID); err != nil {
		t.Fatalf("unblock: %v", err)
	}
	if _, err := f.booking.Allocate(ctx, model.AllocateRequest{Date: "2025-01-11", Slot: "10:00", PartySize: 1}); err != nil {
		t.Fatalf("allocate after unblock: %v", err)
	}
}

func TestBlockDatesRejectsInvertedRange(t *testing.T) {
	f := newFixture(t)
	_, err := f.registry.BlockDates(context.Background(), model.BlockDatesRequest{StartDate: "2025-01-12", EndDate: "2025-01-10"})
	if !errors.Is(err, model.ErrInvalidDateRange) {
		t.Fatalf("error = %v, want ErrInvalidDateRange", err)
	}
}

func TestBookEventSubstitutesTakenRoom(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.create(t, f.roomB, 3, true)

	res, err := f.booking.BookEvent(ctx, model.BookEventRequest{
		Name:      "Quiz night",
		PartySize: 3,
		Date:      testDay,
		Slot:      "10:00",
		PlannerID: f.planner,
		RoomID:    f.roomB,
	})
	if err != nil {
		t.Fatalf("book: %v", err)
	}
	if !res.Substituted || res.Event.RoomID != f.roomA || res.RequestedRoom != f.roomB {
		t.Fatalf("got %+v, want substitution of B by A", res)
	}
	if res.Notice == "" {
		t.Fatal("substitution should carry a notice")
	}
	if res.Event.Approved {
		t.Fatal("booked events start pending")
	}
}

func TestApproveEvictsPendingCompetitors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	winner := f.create(t, f.roomA, 5, false)
	loser1 := f.create(t, f.roomA, 5, false)
	loser2 := f.create(t, f.roomA, 5, false)
	other := f.create(t, f.roomB, 2, false)

	res, err := f.booking.Approve(ctx, winner.ID)
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if !res.Event.Approved {
		t.Fatal("event not approved")
	}
	if len(res.Evicted) != 2 {
		t.Fatalf("evicted %v, want two", res.Evicted)
	}
	for _, id := range []string{loser1.ID, loser2.ID} {
		if _, err := f.booking.GetEvent(ctx, id); !errors.Is(err, model.ErrNotFound) {
			t.Fatalf("competitor %s still present: %v", id, err)
		}
	}
	if _, err := f.booking.GetEvent(ctx, other.ID); err != nil {
		t.Fatalf("event in another room was touched: %v", err)
	}

	// Re-approving is a no-op.
	again, err := f.booking.Approve(ctx, winner.ID)
	if err != nil {
		t.Fatalf("re-approve: %v", err)
	}
	if len(again.Evicted) != 0 {
		t.Fatalf("re-approve evicted %v", again.Evicted)
	}
}

func TestCreateApprovedEvictsImmediately(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	pending := f.create(t, f.roomA, 5, false)
	f.create(t, f.roomA, 5, true)

	if _, err := f.booking.GetEvent(ctx, pending.ID); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("pending competitor survived an approved creation: %v", err)
	}
}

func TestSecondApprovalForSlotFails(t *testing.T) {
	f := newFixture(t)
	f.create(t, f.roomA, 5, true)
	_, err := f.booking.CreateEvent(context.Background(), EventDraft{
		Name: "Clash", PartySize: 5, Date: time.Date(2025, 1, 10, 0, 0, 0, 0, time.UTC),
		Slot: 10, PlannerID: f.planner, RoomID: f.roomA, Approved: true,
	})
	if !errors.Is(err, model.ErrSlotTaken) {
		t.Fatalf("error = %v, want ErrSlotTaken", err)
	}
}

func TestConcurrentApprovalsLeaveOneHolder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	var ids []string
	for i := 0; i < 8; i++ {
		ids = append(ids, f.create(t, f.roomA, 5, false).ID)
	}

	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			_, _ = f.booking.Approve(ctx, id)
		}(id)
	}
	wg.Wait()

	events, err := f.booking.ListEvents(ctx, testDay)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(events) != 1 || !events[0].Approved {
		t.Fatalf("got %d event(s) after racing approvals, want one approved", len(events))
	}
}

func TestRSVPCapacityGuard(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	e := f.create(t, f.roomA, 2, true)

	for i, user := range []string{"user1", "user2"} {
		res, err := f.rsvp.SetStatus(ctx, e.ID, user, model.Attending)
		if err != nil {
			t.Fatalf("rsvp %s: %v", user, err)
		}
		if res.ConfirmedCount != i+1 {
			t.Fatalf("counter = %d, want %d", res.ConfirmedCount, i+1)
		}
	}

	if _, err := f.rsvp.SetStatus(ctx, e.ID, "user3", model.Attending); !errors.Is(err, model.ErrEventFull) {
		t.Fatalf("error = %v, want ErrEventFull", err)
	}
	got, err := f.booking.GetEvent(ctx, e.ID)
	if err != nil {
		t.Fatalf("get event: %v", err)
	}
	if got.ConfirmedCount != 2 {
		t.Fatalf("counter = %d after rejected rsvp, want 2", got.ConfirmedCount)
	}
	rsvps, err := f.rsvp.ListRSVPs(ctx, e.ID)
	if err != nil {
		t.Fatalf("list rsvps: %v", err)
	}
	if len(rsvps) != 2 {
		t.Fatalf("got %d rsvps, want 2", len(rsvps))
	}
}

func TestRSVPTransitions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	e := f.create(t, f.roomA, 3, true)

	steps := []struct {
		status model.RSVPStatus
		want   int
	}{
		{model.NotAttending, 0},
		{model.Attending, 1},
		{model.Attending, 1},
		{model.NotAttending, 0},
		{model.NotAttending, 0},
		{model.Attending, 1},
	}
	for i, st := range steps {
		res, err := f.rsvp.SetStatus(ctx, e.ID, "user1", st.status)
		if err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
		if res.ConfirmedCount != st.want {
			t.Fatalf("step %d: counter = %d, want %d", i, res.ConfirmedCount, st.want)
		}
	}

	audit, err := f.rsvp.Audit(ctx, e.ID)
	if err != nil {
		t.Fatalf("audit: %v", err)
	}
	if !audit.Consistent || audit.AttendingRows != 1 {
		t.Fatalf("audit = %+v", audit)
	}
}

func TestRSVPRejectsUnknownStatus(t *testing.T) {
	f := newFixture(t)
	e := f.create(t, f.roomA, 3, true)
	if _, err := f.rsvp.SetStatus(context.Background(), e.ID, "user1", "maybe"); !errors.Is(err, model.ErrInvalidStatus) {
		t.Fatalf("error = %v, want ErrInvalidStatus", err)
	}
	if _, err := f.rsvp.SetStatus(context.Background(), "missing", "user1", model.Attending); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("error = %v, want ErrNotFound", err)
	}
}

func TestRSVPNormalisesStatusBeforeGuard(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	e := f.create(t, f.roomA, 1, true)

	if _, err := f.rsvp.SetStatus(ctx, e.ID, "alice", "attending"); err != nil {
		t.Fatalf("alice: %v", err)
	}
	res, err := f.rsvp.SetStatus(ctx, e.ID, "alice", "Attending")
	if err != nil {
		t.Fatalf("alice again: %v", err)
	}
	if res.ConfirmedCount != 1 || res.RSVP.Status != model.Attending || res.PreviousStatus != model.Attending {
		t.Fatalf("repeat = %+v, want counter 1 and status attending", res)
	}
	if _, err := f.rsvp.SetStatus(ctx, e.ID, "bob", " ATTENDING "); !errors.Is(err, model.ErrEventFull) {
		t.Fatalf("bob error = %v, want ErrEventFull", err)
	}

	rsvps, err := f.rsvp.ListRSVPs(ctx, e.ID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(rsvps) != 1 || rsvps[0].UserID != "alice" || rsvps[0].Status != model.Attending {
		t.Fatalf("rsvps = %+v, want alice attending only", rsvps)
	}
	audit, err := f.rsvp.Audit(ctx, e.ID)
	if err != nil {
		t.Fatalf("audit: %v", err)
	}
	if !audit.Consistent || audit.AttendingRows != 1 || audit.ConfirmedCount != 1 {
		t.Fatalf("audit = %+v", audit)
	}
}

func TestConcurrentRSVPsNeverOverfill(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	e := f.create(t, f.roomA, 5, true)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _ = f.rsvp.SetStatus(ctx, e.ID, string(rune('a'+i)), model.Attending)
		}(i)
	}
	wg.Wait()

	audit, err := f.rsvp.Audit(ctx, e.ID)
	if err != nil {
		t.Fatalf("audit: %v", err)
	}
	if audit.ConfirmedCount != 5 || !audit.Consistent {
		t.Fatalf("audit = %+v, want 5 consistent", audit)
	}
}

func TestDeleteRoomRestricted(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	e := f.create(t, f.roomA, 5, false)

	if err := f.registry.DeleteRoom(ctx, f.roomA); !errors.Is(err, model.ErrReferentialRestriction) {
		t.Fatalf("error = %v, want ErrReferentialRestriction", err)
	}
	if err := f.registry.DeletePlanner(ctx, f.planner); !errors.Is(err, model.ErrReferentialRestriction) {
		t.Fatalf("error = %v, want ErrReferentialRestriction", err)
	}
	if err := f.booking.DeleteEvent(ctx, e.ID); err != nil {
		t.Fatalf("delete event: %v", err)
	}
	if err := f.registry.DeleteRoom(ctx, f.roomA); err != nil {
		t.Fatalf("delete room after event removal: %v", err)
	}
}

func TestUpdateRoomStatusAffectsAllocation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if _, err := f.registry.UpdateRoom(ctx, f.roomB, model.RoomRequest{Name: "B", Capacity: 4, Status: "reserved"}); err != nil {
		t.Fatalf("update room: %v", err)
	}
	got, err := f.booking.Allocate(ctx, model.AllocateRequest{RoomID: f.roomB, Date: testDay, Slot: "10:00", PartySize: 2})
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}
	if got.Room.ID != f.roomA || !got.Substituted {
		t.Fatalf("got %+v, want A substituted for reserved B", got)
	}
}

func TestRoomValidation(t *testing.T) {
	f := newFixture(t)
	cases := []struct {
		name string
		req  model.RoomRequest
		want error
	}{
		{"empty name", model.RoomRequest{Name: " ", Capacity: 5}, model.ErrValidation},
		{"zero capacity", model.RoomRequest{Name: "C", Capacity: 0}, model.ErrInvalidCapacity},
		{"too big", model.RoomRequest{Name: "C", Capacity: 101}, model.ErrInvalidCapacity},
		{"bad status", model.RoomRequest{Name: "C", Capacity: 5, Status: "closed"}, model.ErrValidation},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := f.registry.CreateRoom(context.Background(), tc.req); !errors.Is(err, tc.want) {
				t.Fatalf("error = %v, want %v", err, tc.want)
			}
		})
	}
}

func TestSweepStale(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	old := f.create(t, f.roomA, 5, true)
	future, err := f.booking.CreateEvent(ctx, EventDraft{
		Name: "Later", PartySize: 5, Date: time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC),
		Slot: 12, PlannerID: f.planner, RoomID: f.roomA,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := f.rsvp.SetStatus(ctx, old.ID, "user1", model.Attending); err != nil {
		t.Fatalf("rsvp: %v", err)
	}

	f.booking.now = func() time.Time { return time.Date(2025, 2, 1, 8, 0, 0, 0, time.UTC) }
	n, err := f.booking.SweepStale(ctx)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if n != 1 {
		t.Fatalf("swept %d, want 1", n)
	}
	if _, err := f.booking.GetEvent(ctx, old.ID); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("stale event survived: %v", err)
	}
	if _, err := f.booking.GetEvent(ctx, future.ID); err != nil {
		t.Fatalf("future event swept: %v", err)
	}
}

func TestMonthGridTiers(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	// Two rooms give 12 slots a day: 3 events is light, 7 moderate, 8 heavy.
	seed := func(day, n int) {
		for i := 0; i < n; i++ {
			room := f.roomA
			if i%2 == 1 {
				room = f.roomB
			}
			_, err := f.booking.CreateEvent(ctx, EventDraft{
				Name: "Talk", PartySize: 2, Date: time.Date(2025, 1, day, 0, 0, 0, 0, time.UTC),
				Slot: slot.Valid()[i/2], PlannerID: f.planner, RoomID: room,
			})
			if err != nil {
				t.Fatalf("seed day %d: %v", day, err)
			}
		}
	}
	seed(6, 3)
	seed(7, 7)
	seed(8, 8)

	grid, err := f.calendar.MonthGrid(ctx, 2025, time.January)
	if err != nil {
		t.Fatalf("month grid: %v", err)
	}
	if grid.SlotsTotal != 12 {
		t.Fatalf("slots total = %d, want 12", grid.SlotsTotal)
	}
	want := map[string]string{
		"2025-01-05": "empty",
		"2025-01-06": "light",
		"2025-01-07": "moderate",
		"2025-01-08": "heavy",
	}
	seen := 0
	for _, week := range grid.Weeks {
		if len(week) != 7 {
			t.Fatalf("week has %d days", len(week))
		}
		for _, c := range week {
			if tier, ok := want[c.Date]; ok {
				seen++
				if c.Tier != tier {
					t.Errorf("%s tier = %s, want %s", c.Date, c.Tier, tier)
				}
			}
		}
	}
	if seen != len(want) {
		t.Fatalf("found %d of %d expected days", seen, len(want))
	}
	if first := grid.Weeks[0][0]; first.Date != "2024-12-29" || first.InMonth {
		t.Fatalf("first cell = %+v, want 2024-12-29 outside the month", first)
	}
}

func TestMonthGridRejectsBadMonth(t *testing.T) {
	f := newFixture(t)
	if _, err := f.calendar.MonthGrid(context.Background(), 2025, 13); !errors.Is(err, model.ErrValidation) {
		t.Fatalf("error = %v, want ErrValidation", err)
	}
}

func TestDayView(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	first := f.create(t, f.roomB, 2, false)
	f.create(t, f.roomB, 2, false)
	approved := f.create(t, f.roomA, 5, true)

	view, err := f.calendar.DayView(ctx, time.Date(2025, 1, 10, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("day view: %v", err)
	}
	if len(view.Rows) != slot.PerDay() {
		t.Fatalf("got %d rows, want %d", len(view.Rows), slot.PerDay())
	}
	row := view.Rows[0]
	if row.Slot != "10:00" || row.Ends != "12:00" {
		t.Fatalf("first row = %s-%s", row.Slot, row.Ends)
	}
	for _, c := range row.Cells {
		switch c.RoomID {
		case f.roomA:
			if c.Free || c.Event == nil || c.Event.ID != approved.ID {
				t.Fatalf("room A cell = %+v, want held by %s", c, approved.ID)
			}
		case f.roomB:
			if !c.Free || c.Pending != 2 || c.Event == nil || c.Event.ID != first.ID {
				t.Fatalf("room B cell = %+v, want free with 2 pending led by %s", c, first.ID)
			}
		}
	}
	for _, c := range view.Rows[1].Cells {
		if !c.Free || c.Event != nil {
			t.Fatalf("12:00 cell = %+v, want empty", c)
		}
	}
}
