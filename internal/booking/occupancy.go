package booking

import (
	"time"

	"github.com/Shivanand-hulikatti/converge/internal/slot"
)

// Tier buckets how much of a day's slot capacity is booked.
type Tier string

const (
	// TierEmpty means no slot of the day is booked.
	TierEmpty Tier = "empty"
	// TierLight means at most a third of the day's slot capacity is booked.
	TierLight Tier = "light"
	// TierModerate means at most two thirds of the day's slot capacity is booked.
	TierModerate Tier = "moderate"
	// TierHeavy means more than two thirds of the day's slot capacity is booked.
	TierHeavy Tier = "heavy"
)

// SlotCapacity is the number of bookable (room, slot) pairs in a day. It is
// never below one slot-day so an empty registry still renders.
func SlotCapacity(availableRooms int) int {
	if availableRooms < 1 {
		availableRooms = 1
	}
	return availableRooms * slot.PerDay()
}

// LoadTier buckets count events against total slot capacity: up to 33% is
// light, up to 66% moderate, anything above heavy.
func LoadTier(count, total int) Tier {
	if total < 1 {
		total = 1
	}
	switch {
	case count <= 0:
		return TierEmpty
	case count*100 <= 33*total:
		return TierLight
	case count*100 <= 66*total:
		return TierModerate
	}
	return TierHeavy
}

// VisibleWeeks returns the Sunday-first weeks that cover the month, each
// seven days long, including the leading and trailing days of adjacent months.
func VisibleWeeks(year int, month time.Month) [][]time.Time {
	first := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
	last := first.AddDate(0, 1, -1)

	start := first.AddDate(0, 0, -int(first.Weekday()))
	end := last.AddDate(0, 0, 6-int(last.Weekday()))

	var weeks [][]time.Time
	for d := start; !d.After(end); {
		week := make([]time.Time, 7)
		for i := range week {
			week[i] = d
			d = d.AddDate(0, 0, 1)
		}
		weeks = append(weeks, week)
	}
	return weeks
}
