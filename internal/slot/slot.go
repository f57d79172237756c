// Package slot defines the fixed daily booking grid: the hours a booking may
// start at and how long each booking lasts.
package slot

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Duration is the length of every slot, in hours.
const Duration = 2

// ClosingHour is the hour by which every slot must have ended.
const ClosingHour = 22

var starts = [...]int{10, 12, 14, 16, 18, 20}

// ErrInvalid is returned when a start time is not on the grid.
var ErrInvalid = errors.New("invalid slot")

// Slot is the start hour of a booking window.
type Slot int

// Valid returns the start hours of every slot in a day, earliest first.
func Valid() []Slot {
	out := make([]Slot, len(starts))
	for i, h := range starts {
		out[i] = Slot(h)
	}
	return out
}

// PerDay is the number of slots in one day.
func PerDay() int { return len(starts) }

// IsValidStart reports whether the given wall-clock time is the start of a
// slot. Anything but an exact hour on the grid is rejected.
func IsValidStart(hour, minute, second, nanosecond int) bool {
	if minute != 0 || second != 0 || nanosecond != 0 {
		return false
	}
	for _, h := range starts {
		if h == hour {
			return hour+Duration <= ClosingHour
		}
	}
	return false
}

// End returns the hour at which a slot starting at s ends.
func End(s Slot) int {
	return int(s) + Duration
}

// Valid reports whether s is a slot start hour.
func (s Slot) Valid() bool {
	return IsValidStart(int(s), 0, 0, 0)
}

// String renders the slot as "HH:MM".
func (s Slot) String() string {
	return fmt.Sprintf("%02d:00", int(s))
}

// MarshalJSON encodes the slot the way requests carry it, as "HH:00".
func (s Slot) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// UnmarshalJSON accepts "HH:MM" or "HH:MM:SS", and the bare start hour
// written by older clients.
func (s *Slot) UnmarshalJSON(b []byte) error {
	var v string
	if err := json.Unmarshal(b, &v); err == nil {
		p, err := Parse(v)
		if err != nil {
			return err
		}
		*s = p
		return nil
	}
	var h int
	if err := json.Unmarshal(b, &h); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalid, b)
	}
	if !Slot(h).Valid() {
		return fmt.Errorf("%w: %d", ErrInvalid, h)
	}
	*s = Slot(h)
	return nil
}

// Parse reads "HH:MM" or "HH:MM:SS" and validates it against the grid.
// Times that are off the grid are rejected, never rounded.
func Parse(v string) (Slot, error) {
	v = strings.TrimSpace(v)
	var (
		t   time.Time
		err error
	)
	switch strings.Count(v, ":") {
	case 1:
		t, err = time.Parse("15:04", v)
	case 2:
		t, err = time.Parse("15:04:05.999999999", v)
	default:
		return 0, fmt.Errorf("%w: %q", ErrInvalid, v)
	}
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalid, v)
	}
	if !IsValidStart(t.Hour(), t.Minute(), t.Second(), t.Nanosecond()) {
		return 0, fmt.Errorf("%w: %s is not a bookable start time", ErrInvalid, v)
	}
	return Slot(t.Hour()), nil
}

// Of validates a time-of-day value taken from t.
func Of(t time.Time) (Slot, error) {
	if !IsValidStart(t.Hour(), t.Minute(), t.Second(), t.Nanosecond()) {
		return 0, fmt.Errorf("%w: %s is not a bookable start time", ErrInvalid, t.Format("15:04:05"))
	}
	return Slot(t.Hour()), nil
}
