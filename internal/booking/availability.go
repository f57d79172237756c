// Package booking holds the allocation rules: which rooms are free, which
// room a request gets, how RSVP changes move the attendee counter, and how
// busy a day is. Everything here is a pure decision over state the caller
// loaded inside its own transaction.
package booking

import (
	"time"

	"github.com/Shivanand-hulikatti/converge/internal/model"
	"github.com/Shivanand-hulikatti/converge/internal/slot"
)

type slotKey struct {
	room string
	date string
	slot slot.Slot
}

func keyOf(roomID string, date time.Time, s slot.Slot) slotKey {
	return slotKey{room: roomID, date: date.Format(model.DateLayout), slot: s}
}

// Availability answers whether a room is free at a (date, slot). Only
// approved events hold a room; pending events stack freely.
//
// It is a snapshot of the events it was built from. Build it inside the same
// transaction as the write it guards.
type Availability struct {
	taken map[slotKey]string
}

// NewAvailability indexes the approved events in events.
func NewAvailability(events []model.Event) *Availability {
	a := &Availability{taken: make(map[slotKey]string, len(events))}
	for i := range events {
		a.Add(&events[i])
	}
	return a
}

// Add records e if it is approved.
func (a *Availability) Add(e *model.Event) {
	if e.Approved {
		a.taken[keyOf(e.RoomID, e.Date, e.Slot)] = e.ID
	}
}

// IsRoomFree reports whether no approved event occupies the room at (date, slot).
func (a *Availability) IsRoomFree(roomID string, date time.Time, s slot.Slot) bool {
	_, ok := a.taken[keyOf(roomID, date, s)]
	return !ok
}

// Holder returns the id of the approved event occupying the room, if any.
func (a *Availability) Holder(roomID string, date time.Time, s slot.Slot) (string, bool) {
	id, ok := a.taken[keyOf(roomID, date, s)]
	return id, ok
}
