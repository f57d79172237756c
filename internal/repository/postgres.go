package repository

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Shivanand-hulikatti/converge/internal/model"
	"github.com/Shivanand-hulikatti/converge/internal/slot"
)

// approvedSlotIndex is the partial unique index that backs "one approved
// event per (room, date, slot)".
const approvedSlotIndex = "events_approved_slot"

// PostgreSQL error codes the store translates.
const (
	pgForeignKeyViolation = "23503"
	pgUniqueViolation     = "23505"
	pgSerializationFail   = "40001"
	pgDeadlockDetected    = "40P01"
	pgLockNotAvailable    = "55P03"
	pgInvalidText         = "22P02"
)

// dbtx is satisfied by both *pgxpool.Pool and pgx.Tx.
type dbtx interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Postgres is a Store backed by a pgx connection pool.
type Postgres struct {
	db *pgxpool.Pool
}

// NewPostgres constructs a Postgres store.
func NewPostgres(db *pgxpool.Pool) *Postgres {
	return &Postgres{db: db}
}

// InTx runs fn inside a transaction.
//
// Writers that decide on a read (allocation, approval, RSVP) take either the
// slot advisory lock or the event row lock first, so two transactions can
// never both act on the same stale read. The unique index on approved slots
// is the backstop if a caller forgets.
func (p *Postgres) InTx(ctx context.Context, fn func(q Queries) error) (err error) {
	tx, err := p.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	if err = fn(&pgQueries{db: tx}); err != nil {
		return err
	}
	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", translate(err))
	}
	return nil
}

// Read runs fn against the pool directly.
func (p *Postgres) Read(ctx context.Context, fn func(q Queries) error) error {
	return fn(&pgQueries{db: p.db})
}

type pgQueries struct {
	db dbtx
}

// translate maps PostgreSQL errors onto domain errors.
func translate(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch pgErr.Code {
	case pgForeignKeyViolation:
		return fmt.Errorf("%w: %s", model.ErrReferentialRestriction, pgErr.ConstraintName)
	case pgUniqueViolation:
		if pgErr.ConstraintName == approvedSlotIndex {
			return model.ErrSlotTaken
		}
	case pgSerializationFail, pgDeadlockDetected, pgLockNotAvailable:
		return fmt.Errorf("%w: %s", ErrRetryable, pgErr.Message)
	case pgInvalidText:
		// A malformed id can never match a row.
		return model.ErrNotFound
	}
	return err
}

func (q *pgQueries) exec(ctx context.Context, what, sql string, args ...any) (pgconn.CommandTag, error) {
	tag, err := q.db.Exec(ctx, sql, args...)
	if err != nil {
		return tag, fmt.Errorf("%s: %w", what, translate(err))
	}
	return tag, nil
}

func mustAffect(tag pgconn.CommandTag) error {
	if tag.RowsAffected() == 0 {
		return model.ErrNotFound
	}
	return nil
}

// ─── Locks ───────────────────────────────────────────────────────────────────

func (q *pgQueries) LockSlot(ctx context.Context, date time.Time, s slot.Slot) error {
	key := fmt.Sprintf("slot:%s:%d", date.Format(model.DateLayout), int(s))
	_, err := q.exec(ctx, "lock slot", `SELECT pg_advisory_xact_lock(hashtext($1))`, key)
	return err
}

// ─── Rooms ───────────────────────────────────────────────────────────────────

func (q *pgQueries) CreateRoom(ctx context.Context, room *model.Room) error {
	_, err := q.exec(ctx, "insert room",
		`INSERT INTO rooms (id, name, capacity, status) VALUES ($1, $2, $3, $4)`,
		room.ID, room.Name, room.Capacity, string(room.Status),
	)
	return err
}

func (q *pgQueries) UpdateRoom(ctx context.Context, room *model.Room) error {
	tag, err := q.exec(ctx, "update room",
		`UPDATE rooms SET name = $2, capacity = $3, status = $4 WHERE id = $1`,
		room.ID, room.Name, room.Capacity, string(room.Status),
	)
	if err != nil {
		return err
	}
	return mustAffect(tag)
}

func (q *pgQueries) DeleteRoom(ctx context.Context, id string) error {
	tag, err := q.exec(ctx, "delete room", `DELETE FROM rooms WHERE id = $1`, id)
	if err != nil {
		return err
	}
	return mustAffect(tag)
}

func scanRoom(row pgx.Row) (*model.Room, error) {
	var (
		r      model.Room
		status string
	)
	if err := row.Scan(&r.ID, &r.Name, &r.Capacity, &status); err != nil {
		return nil, err
	}
	r.Status = model.RoomStatus(status)
	return &r, nil
}

func (q *pgQueries) GetRoom(ctx context.Context, id string) (*model.Room, error) {
	r, err := scanRoom(q.db.QueryRow(ctx,
		`SELECT id, name, capacity, status FROM rooms WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, model.ErrNotFound
		}
		return nil, fmt.Errorf("get room: %w", translate(err))
	}
	return r, nil
}

func (q *pgQueries) ListRooms(ctx context.Context) ([]model.Room, error) {
	rows, err := q.db.Query(ctx,
		`SELECT id, name, capacity, status FROM rooms ORDER BY name, id`)
	if err != nil {
		return nil, fmt.Errorf("list rooms: %w", err)
	}
	defer rows.Close()

	var rooms []model.Room
	for rows.Next() {
		r, err := scanRoom(rows)
		if err != nil {
			return nil, fmt.Errorf("scan room: %w", err)
		}
		rooms = append(rooms, *r)
	}
	return rooms, rows.Err()
}

func (q *pgQueries) CountRooms(ctx context.Context, status model.RoomStatus) (int, error) {
	var n int
	err := q.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM rooms WHERE status = $1`, string(status)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count rooms: %w", err)
	}
	return n, nil
}

// ─── Planners ────────────────────────────────────────────────────────────────

func (q *pgQueries) CreatePlanner(ctx context.Context, p *model.Planner) error {
	var userID *string
	if p.UserID != "" {
		userID = &p.UserID
	}
	_, err := q.exec(ctx, "insert planner",
		`INSERT INTO planners (id, name, detail, user_id) VALUES ($1, $2, $3, $4)`,
		p.ID, p.Name, p.Detail, userID,
	)
	return err
}

func scanPlanner(row pgx.Row) (*model.Planner, error) {
	var (
		p      model.Planner
		userID *string
	)
	if err := row.Scan(&p.ID, &p.Name, &p.Detail, &userID); err != nil {
		return nil, err
	}
	if userID != nil {
		p.UserID = *userID
	}
	return &p, nil
}

func (q *pgQueries) GetPlanner(ctx context.Context, id string) (*model.Planner, error) {
	p, err := scanPlanner(q.db.QueryRow(ctx,
		`SELECT id, name, detail, user_id FROM planners WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, model.ErrNotFound
		}
		return nil, fmt.Errorf("get planner: %w", translate(err))
	}
	return p, nil
}

func (q *pgQueries) ListPlanners(ctx context.Context) ([]model.Planner, error) {
	rows, err := q.db.Query(ctx,
		`SELECT id, name, detail, user_id FROM planners ORDER BY name, id`)
	if err != nil {
		return nil, fmt.Errorf("list planners: %w", err)
	}
	defer rows.Close()

	var planners []model.Planner
	for rows.Next() {
		p, err := scanPlanner(rows)
		if err != nil {
			return nil, fmt.Errorf("scan planner: %w", err)
		}
		planners = append(planners, *p)
	}
	return planners, rows.Err()
}

func (q *pgQueries) DeletePlanner(ctx context.Context, id string) error {
	tag, err := q.exec(ctx, "delete planner", `DELETE FROM planners WHERE id = $1`, id)
	if err != nil {
		return err
	}
	return mustAffect(tag)
}

// ─── Blocked dates ───────────────────────────────────────────────────────────

func (q *pgQueries) IsDateBlocked(ctx context.Context, date time.Time) (bool, error) {
	var blocked bool
	err := q.db.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM blocked_dates WHERE date = $1)`, date).Scan(&blocked)
	if err != nil {
		return false, fmt.Errorf("check blocked date: %w", err)
	}
	return blocked, nil
}

func (q *pgQueries) BlockDates(ctx context.Context, rows []model.BlockedDate) ([]model.BlockedDate, error) {
	var inserted []model.BlockedDate
	for _, b := range rows {
		var reason *string
		if b.Reason != "" {
			reason = &b.Reason
		}
		tag, err := q.exec(ctx, "insert blocked date",
			`INSERT INTO blocked_dates (id, date, reason) VALUES ($1, $2, $3)
			 ON CONFLICT (date) DO NOTHING`,
			b.ID, b.Date, reason,
		)
		if err != nil {
			return nil, err
		}
		if tag.RowsAffected() == 1 {
			inserted = append(inserted, b)
		}
	}
	return inserted, nil
}

func (q *pgQueries) DeleteBlockedDate(ctx context.Context, id string) error {
	tag, err := q.exec(ctx, "delete blocked date", `DELETE FROM blocked_dates WHERE id = $1`, id)
	if err != nil {
		return err
	}
	return mustAffect(tag)
}

func (q *pgQueries) ListBlockedDates(ctx context.Context) ([]model.BlockedDate, error) {
	rows, err := q.db.Query(ctx,
		`SELECT id, date, COALESCE(reason, '') FROM blocked_dates ORDER BY date`)
	if err != nil {
		return nil, fmt.Errorf("list blocked dates: %w", err)
	}
	defer rows.Close()

	var out []model.BlockedDate
	for rows.Next() {
		var b model.BlockedDate
		if err := rows.Scan(&b.ID, &b.Date, &b.Reason); err != nil {
			return nil, fmt.Errorf("scan blocked date: %w", err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// ─── Events ──────────────────────────────────────────────────────────────────

const eventColumns = `e.id, e.name, e.detail, e.capacity, e.date, e.slot, e.planner_id, e.room_id,
	e.approved, e.confirmed_count, e.created_at,
	COALESCE((SELECT array_agg(g.name ORDER BY g.name)
	          FROM event_genres eg JOIN genres g ON g.id = eg.genre_id
	          WHERE eg.event_id = e.id), '{}')`

func scanEvent(row pgx.Row) (*model.Event, error) {
	var (
		e    model.Event
		hour int16
	)
	err := row.Scan(&e.ID, &e.Name, &e.Detail, &e.Capacity, &e.Date, &hour,
		&e.PlannerID, &e.RoomID, &e.Approved, &e.ConfirmedCount, &e.CreatedAt, &e.Genres)
	if err != nil {
		return nil, err
	}
	e.Slot = slot.Slot(hour)
	return &e, nil
}

func collectEvents(rows pgx.Rows) ([]model.Event, error) {
	defer rows.Close()
	var events []model.Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		events = append(events, *e)
	}
	return events, rows.Err()
}

func (q *pgQueries) CreateEvent(ctx context.Context, e *model.Event) error {
	_, err := q.exec(ctx, "insert event",
		`INSERT INTO events (id, name, detail, capacity, date, slot, planner_id, room_id,
		                     approved, confirmed_count, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		e.ID, e.Name, e.Detail, e.Capacity, e.Date, int16(e.Slot), e.PlannerID, e.RoomID,
		e.Approved, e.ConfirmedCount, e.CreatedAt,
	)
	if err != nil {
		return err
	}
	for _, name := range e.Genres {
		var genreID int64
		err := q.db.QueryRow(ctx,
			`INSERT INTO genres (name) VALUES ($1)
			 ON CONFLICT (name) DO UPDATE SET name = EXCLUDED.name
			 RETURNING id`, name).Scan(&genreID)
		if err != nil {
			return fmt.Errorf("upsert genre: %w", err)
		}
		if _, err := q.exec(ctx, "link genre",
			`INSERT INTO event_genres (event_id, genre_id) VALUES ($1, $2)
			 ON CONFLICT DO NOTHING`, e.ID, genreID); err != nil {
			return err
		}
	}
	return nil
}

func (q *pgQueries) GetEvent(ctx context.Context, id string) (*model.Event, error) {
	e, err := scanEvent(q.db.QueryRow(ctx,
		`SELECT `+eventColumns+` FROM events e WHERE e.id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, model.ErrNotFound
		}
		return nil, fmt.Errorf("get event: %w", translate(err))
	}
	return e, nil
}

// GetEventForUpdate takes the row lock the RSVP ledger and approval depend
// on: any other transaction doing the same blocks until this one ends.
func (q *pgQueries) GetEventForUpdate(ctx context.Context, id string) (*model.Event, error) {
	e, err := scanEvent(q.db.QueryRow(ctx,
		`SELECT `+eventColumns+` FROM events e WHERE e.id = $1 FOR UPDATE OF e`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, model.ErrNotFound
		}
		return nil, fmt.Errorf("lock event row: %w", translate(err))
	}
	return e, nil
}

func (q *pgQueries) ListEvents(ctx context.Context, f EventFilter) ([]model.Event, error) {
	var date *time.Time
	if !f.Date.IsZero() {
		date = &f.Date
	}
	var planner *string
	if f.PlannerID != "" {
		planner = &f.PlannerID
	}
	rows, err := q.db.Query(ctx,
		`SELECT `+eventColumns+` FROM events e
		 WHERE ($1::date IS NULL OR e.date = $1)
		   AND ($2::uuid IS NULL OR e.planner_id = $2)
		 ORDER BY e.date, e.slot, e.created_at, e.id`, date, planner)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", translate(err))
	}
	return collectEvents(rows)
}

func (q *pgQueries) EventsAt(ctx context.Context, date time.Time, s slot.Slot) ([]model.Event, error) {
	rows, err := q.db.Query(ctx,
		`SELECT `+eventColumns+` FROM events e
		 WHERE e.date = $1 AND e.slot = $2
		 ORDER BY e.created_at, e.id`, date, int16(s))
	if err != nil {
		return nil, fmt.Errorf("events at slot: %w", translate(err))
	}
	return collectEvents(rows)
}

func (q *pgQueries) MarkApproved(ctx context.Context, id string) error {
	tag, err := q.exec(ctx, "approve event",
		`UPDATE events SET approved = TRUE WHERE id = $1`, id)
	if err != nil {
		return err
	}
	return mustAffect(tag)
}

func (q *pgQueries) DeletePendingAt(ctx context.Context, roomID string, date time.Time, s slot.Slot, keepID string) ([]string, error) {
	rows, err := q.db.Query(ctx,
		`DELETE FROM events
		 WHERE room_id = $1 AND date = $2 AND slot = $3
		   AND NOT approved AND id <> $4
		 RETURNING id`, roomID, date, int16(s), keepID)
	if err != nil {
		return nil, fmt.Errorf("evict pending events: %w", translate(err))
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("evict pending events: %w", translate(err))
	}
	return ids, nil
}

func (q *pgQueries) DeleteEvent(ctx context.Context, id string) error {
	tag, err := q.exec(ctx, "delete event", `DELETE FROM events WHERE id = $1`, id)
	if err != nil {
		return err
	}
	return mustAffect(tag)
}

func (q *pgQueries) DeleteEventsBefore(ctx context.Context, before time.Time, limit int) (int, error) {
	tag, err := q.exec(ctx, "delete stale events",
		`DELETE FROM events WHERE id IN (
		     SELECT id FROM events WHERE date < $1
		     ORDER BY date LIMIT $2
		     FOR UPDATE SKIP LOCKED)`, before, limit)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

func (q *pgQueries) CountEventsByDay(ctx context.Context, from, to time.Time) (map[string]int, error) {
	rows, err := q.db.Query(ctx,
		`SELECT date, COUNT(*) FROM events
		 WHERE date BETWEEN $1 AND $2
		 GROUP BY date`, from, to)
	if err != nil {
		return nil, fmt.Errorf("count events by day: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var (
			d time.Time
			n int
		)
		if err := rows.Scan(&d, &n); err != nil {
			return nil, fmt.Errorf("scan day count: %w", err)
		}
		counts[d.Format(model.DateLayout)] = n
	}
	return counts, rows.Err()
}

func (q *pgQueries) SetConfirmedCount(ctx context.Context, eventID string, n int) error {
	tag, err := q.exec(ctx, "update confirmed_count",
		`UPDATE events SET confirmed_count = $2 WHERE id = $1`, eventID, n)
	if err != nil {
		return err
	}
	return mustAffect(tag)
}

// ─── RSVPs ───────────────────────────────────────────────────────────────────

func scanRSVP(row pgx.Row) (*model.RSVP, error) {
	var (
		r      model.RSVP
		status string
	)
	if err := row.Scan(&r.ID, &r.EventID, &r.UserID, &status, &r.UpdatedAt); err != nil {
		return nil, err
	}
	r.Status = model.RSVPStatus(status)
	return &r, nil
}

func (q *pgQueries) GetRSVP(ctx context.Context, eventID, userID string) (*model.RSVP, error) {
	r, err := scanRSVP(q.db.QueryRow(ctx,
		`SELECT id, event_id, user_id, status, updated_at
		 FROM rsvps WHERE event_id = $1 AND user_id = $2`, eventID, userID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, model.ErrNotFound
		}
		return nil, fmt.Errorf("get rsvp: %w", translate(err))
	}
	return r, nil
}

// UpsertRSVP keeps one row per (event, user). On conflict the existing row
// keeps its id and r.ID is updated to match.
func (q *pgQueries) UpsertRSVP(ctx context.Context, r *model.RSVP) error {
	if r.Status != model.Attending && r.Status != model.NotAttending {
		return fmt.Errorf("upsert rsvp: %w: %q", model.ErrInvalidStatus, r.Status)
	}
	err := q.db.QueryRow(ctx,
		`INSERT INTO rsvps (id, event_id, user_id, status, updated_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (event_id, user_id)
		 DO UPDATE SET status = EXCLUDED.status, updated_at = EXCLUDED.updated_at
		 RETURNING id`,
		r.ID, r.EventID, r.UserID, string(r.Status), r.UpdatedAt,
	).Scan(&r.ID)
	if err != nil {
		return fmt.Errorf("upsert rsvp: %w", translate(err))
	}
	return nil
}

func (q *pgQueries) ListRSVPs(ctx context.Context, eventID string) ([]model.RSVP, error) {
	rows, err := q.db.Query(ctx,
		`SELECT id, event_id, user_id, status, updated_at
		 FROM rsvps WHERE event_id = $1
		 ORDER BY updated_at, id`, eventID)
	if err != nil {
		return nil, fmt.Errorf("list rsvps: %w", translate(err))
	}
	defer rows.Close()

	var out []model.RSVP
	for rows.Next() {
		r, err := scanRSVP(rows)
		if err != nil {
			return nil, fmt.Errorf("scan rsvp: %w", err)
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

func (q *pgQueries) CountRSVPs(ctx context.Context, eventID string, status model.RSVPStatus) (int, error) {
	var n int
	err := q.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM rsvps WHERE event_id = $1 AND status = $2`,
		eventID, string(status)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count rsvps: %w", translate(err))
	}
	return n, nil
}

// ─── Notifications ───────────────────────────────────────────────────────────

func (q *pgQueries) CreateNotification(ctx context.Context, n *model.Notification) error {
	_, err := q.exec(ctx, "insert notification",
		`INSERT INTO notifications (id, event_id, planner_id, subject, body, scheduled_for, sent, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		n.ID, n.EventID, n.PlannerID, n.Subject, n.Body, n.ScheduledFor, n.Sent, n.CreatedAt,
	)
	return err
}

func (q *pgQueries) ClaimDueNotifications(ctx context.Context, now, until time.Time, limit int) ([]model.Notification, error) {
	rows, err := q.db.Query(ctx,
		`WITH due AS (
		     SELECT id FROM notifications
		     WHERE NOT sent AND scheduled_for <= $1
		       AND (claimed_until IS NULL OR claimed_until <= $1)
		     ORDER BY scheduled_for, id
		     LIMIT $3
		     FOR UPDATE SKIP LOCKED
		 )
		 UPDATE notifications n SET claimed_until = $2
		 FROM due WHERE n.id = due.id
		 RETURNING n.id, n.event_id, n.planner_id, n.subject, n.body, n.scheduled_for, n.sent, n.created_at`,
		now, until, limit)
	if err != nil {
		return nil, fmt.Errorf("claim notifications: %w", translate(err))
	}
	defer rows.Close()

	var out []model.Notification
	for rows.Next() {
		var n model.Notification
		if err := rows.Scan(&n.ID, &n.EventID, &n.PlannerID, &n.Subject, &n.Body,
			&n.ScheduledFor, &n.Sent, &n.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		out = append(out, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("claim notifications: %w", translate(err))
	}
	// UPDATE ... RETURNING does not keep the CTE order.
	sort.Slice(out, func(i, j int) bool {
		if !out[i].ScheduledFor.Equal(out[j].ScheduledFor) {
			return out[i].ScheduledFor.Before(out[j].ScheduledFor)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (q *pgQueries) ReleaseNotification(ctx context.Context, id string) error {
	_, err := q.exec(ctx, "release notification",
		`UPDATE notifications SET claimed_until = NULL WHERE id = $1 AND NOT sent`, id)
	return err
}

func (q *pgQueries) MarkNotificationSent(ctx context.Context, id string) error {
	tag, err := q.exec(ctx, "mark notification sent",
		`UPDATE notifications SET sent = TRUE, claimed_until = NULL WHERE id = $1`, id)
	if err != nil {
		return err
	}
	return mustAffect(tag)
}

func (q *pgQueries) AttendingUsers(ctx context.Context, eventID string) ([]string, error) {
	rows, err := q.db.Query(ctx,
		`SELECT user_id FROM rsvps
		 WHERE event_id = $1 AND status = $2
		 ORDER BY user_id`, eventID, string(model.Attending))
	if err != nil {
		return nil, fmt.Errorf("attending users: %w", err)
	}
	users, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("attending users: %w", err)
	}
	return users, nil
}
