package repository

import (
	"context"
	"fmt"
	"maps"
	"sort"
	"sync"
	"time"

	"github.com/Shivanand-hulikatti/converge/internal/model"
	"github.com/Shivanand-hulikatti/converge/internal/slot"
)

type rsvpKey struct {
	event string
	user  string
}

type memState struct {
	rooms         map[string]model.Room
	planners      map[string]model.Planner
	blocked       map[string]model.BlockedDate // keyed by date
	events        map[string]model.Event
	rsvps         map[rsvpKey]model.RSVP
	notifications map[string]model.Notification
	claims        map[string]time.Time // notification id -> lease expiry
}

func newMemState() *memState {
	return &memState{
		rooms:         make(map[string]model.Room),
		planners:      make(map[string]model.Planner),
		blocked:       make(map[string]model.BlockedDate),
		events:        make(map[string]model.Event),
		rsvps:         make(map[rsvpKey]model.RSVP),
		notifications: make(map[string]model.Notification),
		claims:        make(map[string]time.Time),
	}
}

func (s *memState) clone() *memState {
	return &memState{
		rooms:         maps.Clone(s.rooms),
		planners:      maps.Clone(s.planners),
		blocked:       maps.Clone(s.blocked),
		events:        maps.Clone(s.events),
		rsvps:         maps.Clone(s.rsvps),
		notifications: maps.Clone(s.notifications),
		claims:        maps.Clone(s.claims),
	}
}

// Memory is a Store that keeps everything in process memory. Transactions
// are serialised by a single mutex and applied copy-on-write, so a failed
// unit of work leaves no trace. It enforces the same constraints as the
// PostgreSQL schema.
type Memory struct {
	mu    sync.Mutex
	state *memState
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{state: newMemState()}
}

// InTx runs fn against a private copy of the state and publishes it only if
// fn succeeds.
func (m *Memory) InTx(ctx context.Context, fn func(q Queries) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	work := m.state.clone()
	if err := fn(&memQueries{s: work}); err != nil {
		return err
	}
	m.state = work
	return nil
}

// Read runs fn against the current state.
func (m *Memory) Read(ctx context.Context, fn func(q Queries) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return fn(&memQueries{s: m.state})
}

type memQueries struct {
	s *memState
}

func dateKey(d time.Time) string { return d.Format(model.DateLayout) }

// LockSlot is a no-op: the store mutex already serialises transactions.
func (q *memQueries) LockSlot(context.Context, time.Time, slot.Slot) error { return nil }

// ─── Rooms ───────────────────────────────────────────────────────────────────

func checkCapacity(n int) error {
	if n < model.MinCapacity || n > model.MaxCapacity {
		return fmt.Errorf("%w: %d", model.ErrInvalidCapacity, n)
	}
	return nil
}

func (q *memQueries) CreateRoom(_ context.Context, room *model.Room) error {
	if err := checkCapacity(room.Capacity); err != nil {
		return err
	}
	if _, ok := q.s.rooms[room.ID]; ok {
		return fmt.Errorf("insert room: duplicate id %s", room.ID)
	}
	q.s.rooms[room.ID] = *room
	return nil
}

func (q *memQueries) UpdateRoom(_ context.Context, room *model.Room) error {
	if err := checkCapacity(room.Capacity); err != nil {
		return err
	}
	if _, ok := q.s.rooms[room.ID]; !ok {
		return model.ErrNotFound
	}
	q.s.rooms[room.ID] = *room
	return nil
}

func (q *memQueries) DeleteRoom(_ context.Context, id string) error {
	if _, ok := q.s.rooms[id]; !ok {
		return model.ErrNotFound
	}
	for _, e := range q.s.events {
		if e.RoomID == id {
			return fmt.Errorf("%w: room %s", model.ErrReferentialRestriction, id)
		}
	}
	delete(q.s.rooms, id)
	return nil
}

func (q *memQueries) GetRoom(_ context.Context, id string) (*model.Room, error) {
	r, ok := q.s.rooms[id]
	if !ok {
		return nil, model.ErrNotFound
	}
	return &r, nil
}

func (q *memQueries) ListRooms(context.Context) ([]model.Room, error) {
	rooms := make([]model.Room, 0, len(q.s.rooms))
	for _, r := range q.s.rooms {
		rooms = append(rooms, r)
	}
	sort.Slice(rooms, func(i, j int) bool {
		if rooms[i].Name != rooms[j].Name {
			return rooms[i].Name < rooms[j].Name
		}
		return rooms[i].ID < rooms[j].ID
	})
	return rooms, nil
}

func (q *memQueries) CountRooms(_ context.Context, status model.RoomStatus) (int, error) {
	n := 0
	for _, r := range q.s.rooms {
		if r.Status == status {
			n++
		}
	}
	return n, nil
}

// ─── Planners ────────────────────────────────────────────────────────────────

func (q *memQueries) CreatePlanner(_ context.Context, p *model.Planner) error {
	if _, ok := q.s.planners[p.ID]; ok {
		return fmt.Errorf("insert planner: duplicate id %s", p.ID)
	}
	q.s.planners[p.ID] = *p
	return nil
}

func (q *memQueries) GetPlanner(_ context.Context, id string) (*model.Planner, error) {
	p, ok := q.s.planners[id]
	if !ok {
		return nil, model.ErrNotFound
	}
	return &p, nil
}

func (q *memQueries) ListPlanners(context.Context) ([]model.Planner, error) {
	out := make([]model.Planner, 0, len(q.s.planners))
	for _, p := range q.s.planners {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (q *memQueries) DeletePlanner(_ context.Context, id string) error {
	if _, ok := q.s.planners[id]; !ok {
		return model.ErrNotFound
	}
	for _, e := range q.s.events {
		if e.PlannerID == id {
			return fmt.Errorf("%w: planner %s", model.ErrReferentialRestriction, id)
		}
	}
	delete(q.s.planners, id)
	return nil
}

// ─── Blocked dates ───────────────────────────────────────────────────────────

func (q *memQueries) IsDateBlocked(_ context.Context, date time.Time) (bool, error) {
	_, ok := q.s.blocked[dateKey(date)]
	return ok, nil
}

func (q *memQueries) BlockDates(_ context.Context, rows []model.BlockedDate) ([]model.BlockedDate, error) {
	var inserted []model.BlockedDate
	for _, b := range rows {
		k := dateKey(b.Date)
		if _, ok := q.s.blocked[k]; ok {
			continue
		}
		q.s.blocked[k] = b
		inserted = append(inserted, b)
	}
	return inserted, nil
}

func (q *memQueries) DeleteBlockedDate(_ context.Context, id string) error {
	for k, b := range q.s.blocked {
		if b.ID == id {
			delete(q.s.blocked, k)
			return nil
		}
	}
	return model.ErrNotFound
}

func (q *memQueries) ListBlockedDates(context.Context) ([]model.BlockedDate, error) {
	out := make([]model.BlockedDate, 0, len(q.s.blocked))
	for _, b := range q.s.blocked {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out, nil
}

// ─── Events ──────────────────────────────────────────────────────────────────

func sortEvents(events []model.Event) {
	sort.Slice(events, func(i, j int) bool {
		a, b := events[i], events[j]
		if !a.Date.Equal(b.Date) {
			return a.Date.Before(b.Date)
		}
		if a.Slot != b.Slot {
			return a.Slot < b.Slot
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
}

// approvedHolder returns the approved event at e's triple other than e.
func (q *memQueries) approvedHolder(e *model.Event) (string, bool) {
	for id, o := range q.s.events {
		if id != e.ID && o.Approved && e.Collides(&o) {
			return id, true
		}
	}
	return "", false
}

func (q *memQueries) CreateEvent(_ context.Context, e *model.Event) error {
	if err := checkCapacity(e.Capacity); err != nil {
		return err
	}
	if !e.Slot.Valid() {
		return model.ErrInvalidSlot
	}
	if _, ok := q.s.events[e.ID]; ok {
		return fmt.Errorf("insert event: duplicate id %s", e.ID)
	}
	if _, ok := q.s.rooms[e.RoomID]; !ok {
		return fmt.Errorf("insert event: %w: unknown room %s", model.ErrReferentialRestriction, e.RoomID)
	}
	if _, ok := q.s.planners[e.PlannerID]; !ok {
		return fmt.Errorf("insert event: %w: unknown planner %s", model.ErrReferentialRestriction, e.PlannerID)
	}
	if e.Approved {
		if _, taken := q.approvedHolder(e); taken {
			return model.ErrSlotTaken
		}
	}
	stored := *e
	stored.Genres = append([]string(nil), e.Genres...)
	sort.Strings(stored.Genres)
	q.s.events[e.ID] = stored
	return nil
}

func (q *memQueries) GetEvent(_ context.Context, id string) (*model.Event, error) {
	e, ok := q.s.events[id]
	if !ok {
		return nil, model.ErrNotFound
	}
	return &e, nil
}

func (q *memQueries) GetEventForUpdate(ctx context.Context, id string) (*model.Event, error) {
	return q.GetEvent(ctx, id)
}

func (q *memQueries) ListEvents(_ context.Context, f EventFilter) ([]model.Event, error) {
	var out []model.Event
	for _, e := range q.s.events {
		if !f.Date.IsZero() && !model.SameDate(e.Date, f.Date) {
			continue
		}
		if f.PlannerID != "" && e.PlannerID != f.PlannerID {
			continue
		}
		out = append(out, e)
	}
	sortEvents(out)
	return out, nil
}

func (q *memQueries) EventsAt(_ context.Context, date time.Time, s slot.Slot) ([]model.Event, error) {
	var out []model.Event
	for _, e := range q.s.events {
		if e.Slot == s && model.SameDate(e.Date, date) {
			out = append(out, e)
		}
	}
	sortEvents(out)
	return out, nil
}

func (q *memQueries) MarkApproved(_ context.Context, id string) error {
	e, ok := q.s.events[id]
	if !ok {
		return model.ErrNotFound
	}
	if _, taken := q.approvedHolder(&e); taken {
		return model.ErrSlotTaken
	}
	e.Approved = true
	q.s.events[id] = e
	return nil
}

func (q *memQueries) DeletePendingAt(_ context.Context, roomID string, date time.Time, s slot.Slot, keepID string) ([]string, error) {
	var ids []string
	for id, e := range q.s.events {
		if id == keepID || e.Approved || e.RoomID != roomID || e.Slot != s || !model.SameDate(e.Date, date) {
			continue
		}
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		q.deleteEvent(id)
	}
	return ids, nil
}

// deleteEvent removes an event and everything it owns.
func (q *memQueries) deleteEvent(id string) {
	delete(q.s.events, id)
	for k := range q.s.rsvps {
		if k.event == id {
			delete(q.s.rsvps, k)
		}
	}
	for nid, n := range q.s.notifications {
		if n.EventID == id {
			delete(q.s.notifications, nid)
			delete(q.s.claims, nid)
		}
	}
}

func (q *memQueries) DeleteEvent(_ context.Context, id string) error {
	if _, ok := q.s.events[id]; !ok {
		return model.ErrNotFound
	}
	q.deleteEvent(id)
	return nil
}

func (q *memQueries) DeleteEventsBefore(_ context.Context, before time.Time, limit int) (int, error) {
	var stale []model.Event
	for _, e := range q.s.events {
		if dateKey(e.Date) < dateKey(before) {
			stale = append(stale, e)
		}
	}
	sortEvents(stale)
	if len(stale) > limit {
		stale = stale[:limit]
	}
	for _, e := range stale {
		q.deleteEvent(e.ID)
	}
	return len(stale), nil
}

func (q *memQueries) CountEventsByDay(_ context.Context, from, to time.Time) (map[string]int, error) {
	lo, hi := dateKey(from), dateKey(to)
	counts := make(map[string]int)
	for _, e := range q.s.events {
		if k := dateKey(e.Date); k >= lo && k <= hi {
			counts[k]++
		}
	}
	return counts, nil
}

func (q *memQueries) SetConfirmedCount(_ context.Context, eventID string, n int) error {
	e, ok := q.s.events[eventID]
	if !ok {
		return model.ErrNotFound
	}
	if n < 0 || n > e.Capacity {
		return fmt.Errorf("update confirmed_count: %d outside 0..%d", n, e.Capacity)
	}
	e.ConfirmedCount = n
	q.s.events[eventID] = e
	return nil
}

// ─── RSVPs ───────────────────────────────────────────────────────────────────

func (q *memQueries) GetRSVP(_ context.Context, eventID, userID string) (*model.RSVP, error) {
	r, ok := q.s.rsvps[rsvpKey{eventID, userID}]
	if !ok {
		return nil, model.ErrNotFound
	}
	return &r, nil
}

func (q *memQueries) UpsertRSVP(_ context.Context, r *model.RSVP) error {
	if r.Status != model.Attending && r.Status != model.NotAttending {
		return fmt.Errorf("upsert rsvp: %w: %q", model.ErrInvalidStatus, r.Status)
	}
	if _, ok := q.s.events[r.EventID]; !ok {
		return fmt.Errorf("upsert rsvp: %w: unknown event %s", model.ErrReferentialRestriction, r.EventID)
	}
	k := rsvpKey{r.EventID, r.UserID}
	if existing, ok := q.s.rsvps[k]; ok {
		r.ID = existing.ID
	}
	q.s.rsvps[k] = *r
	return nil
}

func (q *memQueries) ListRSVPs(_ context.Context, eventID string) ([]model.RSVP, error) {
	var out []model.RSVP
	for k, r := range q.s.rsvps {
		if k.event == eventID {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].UpdatedAt.Before(out[j].UpdatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (q *memQueries) CountRSVPs(_ context.Context, eventID string, status model.RSVPStatus) (int, error) {
	n := 0
	for k, r := range q.s.rsvps {
		if k.event == eventID && r.Status == status {
			n++
		}
	}
	return n, nil
}

// ─── Notifications ───────────────────────────────────────────────────────────

func (q *memQueries) CreateNotification(_ context.Context, n *model.Notification) error {
	if _, ok := q.s.events[n.EventID]; !ok {
		return fmt.Errorf("insert notification: %w: unknown event %s", model.ErrReferentialRestriction, n.EventID)
	}
	q.s.notifications[n.ID] = *n
	return nil
}

func (q *memQueries) ClaimDueNotifications(_ context.Context, now, until time.Time, limit int) ([]model.Notification, error) {
	var out []model.Notification
	for _, n := range q.s.notifications {
		if n.Sent || n.ScheduledFor.After(now) {
			continue
		}
		if exp, ok := q.s.claims[n.ID]; ok && exp.After(now) {
			continue
		}
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].ScheduledFor.Equal(out[j].ScheduledFor) {
			return out[i].ScheduledFor.Before(out[j].ScheduledFor)
		}
		return out[i].ID < out[j].ID
	})
	if len(out) > limit {
		out = out[:limit]
	}
	for _, n := range out {
		q.s.claims[n.ID] = until
	}
	return out, nil
}

func (q *memQueries) ReleaseNotification(_ context.Context, id string) error {
	delete(q.s.claims, id)
	return nil
}

func (q *memQueries) MarkNotificationSent(_ context.Context, id string) error {
	n, ok := q.s.notifications[id]
	if !ok {
		return model.ErrNotFound
	}
	n.Sent = true
	q.s.notifications[id] = n
	delete(q.s.claims, id)
	return nil
}

func (q *memQueries) AttendingUsers(_ context.Context, eventID string) ([]string, error) {
	var users []string
	for k, r := range q.s.rsvps {
		if k.event == eventID && r.Status == model.Attending {
			users = append(users, k.user)
		}
	}
	sort.Strings(users)
	return users, nil
}
