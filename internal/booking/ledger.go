package booking

import (
	"fmt"

	"github.com/Shivanand-hulikatti/converge/internal/model"
)

// Transition decides whether an RSVP may move from prev to next and by how
// much the event's confirmed counter changes if it does. prev is empty when
// the user has not responded before. Both statuses are normalised before
// they are compared.
//
// The capacity guard only applies to moves into Attending; leaving Attending
// and repeating the current status are always allowed.
func Transition(prev, next model.RSVPStatus, confirmed, capacity int) (int, error) {
	next, err := model.ParseRSVPStatus(string(next))
	if err != nil {
		return 0, err
	}
	if prev != "" {
		if prev, err = model.ParseRSVPStatus(string(prev)); err != nil {
			return 0, err
		}
	}
	switch {
	case prev != model.Attending && next == model.Attending:
		if confirmed >= capacity {
			return 0, fmt.Errorf("%w: %d of %d places taken", model.ErrEventFull, confirmed, capacity)
		}
		return 1, nil
	case prev == model.Attending && next != model.Attending:
		return -1, nil
	}
	return 0, nil
}

// Apply adds delta to confirmed, never going below zero.
func Apply(confirmed, delta int) int {
	confirmed += delta
	if confirmed < 0 {
		return 0
	}
	return confirmed
}
