package model

import (
	"errors"

	"github.com/Shivanand-hulikatti/converge/internal/slot"
)

// Booking rule failures. None of them are transient; retrying with the same
// input against the same state yields the same error.
var (
	// ErrInvalidSlot is returned when a start time is not on the slot grid.
	ErrInvalidSlot = slot.ErrInvalid

	// ErrDateBlocked is returned when the requested date is globally blocked.
	ErrDateBlocked = errors.New("date is blocked")

	// ErrNoRoomAvailable is returned when no room satisfies the request.
	ErrNoRoomAvailable = errors.New("no room available")

	// ErrEventFull is returned when an event has no remaining capacity.
	ErrEventFull = errors.New("event is full")

	// ErrInvalidStatus is returned for an RSVP status outside the enumerated set.
	ErrInvalidStatus = errors.New("invalid rsvp status")

	// ErrReferentialRestriction is returned when deleting a room or planner
	// that an event still references.
	ErrReferentialRestriction = errors.New("still referenced by an event")

	// ErrSlotTaken is returned when an approval would create a second
	// approved event for the same room, date and slot.
	ErrSlotTaken = errors.New("slot already has an approved event")

	// ErrNotFound is returned when a requested resource does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidCapacity is returned when a capacity is outside 1..100.
	ErrInvalidCapacity = errors.New("capacity must be between 1 and 100")

	// ErrInvalidDateRange is returned when a range ends before it starts.
	ErrInvalidDateRange = errors.New("end date cannot be before start date")

	// ErrValidation wraps other request-shape failures.
	ErrValidation = errors.New("validation failed")
)
