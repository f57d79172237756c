package booking

import (
	"fmt"
	"sort"
	"time"

	"github.com/Shivanand-hulikatti/converge/internal/model"
	"github.com/Shivanand-hulikatti/converge/internal/slot"
)

// Request is one allocation question. RoomID may be empty.
type Request struct {
	RoomID    string
	Date      time.Time
	Slot      slot.Slot
	PartySize int
}

// State is the store state an allocation is decided against.
type State struct {
	// Blocked is true when Request.Date is a blocked date.
	Blocked bool
	// Rooms is every room, in any order.
	Rooms []model.Room
	// Availability covers at least Request.Date and Request.Slot.
	Availability *Availability
}

// Allocate confirms the requested room when it is usable, or picks the
// tightest-fitting free room otherwise. It has no side effects; the same
// request against the same state always gets the same answer.
func Allocate(req Request, st State) (model.Allocation, error) {
	if st.Blocked {
		return model.Allocation{}, fmt.Errorf("%w: %s", model.ErrDateBlocked, req.Date.Format(model.DateLayout))
	}
	if !req.Slot.Valid() {
		return model.Allocation{}, fmt.Errorf("%w: %d", model.ErrInvalidSlot, int(req.Slot))
	}
	if req.PartySize < model.MinCapacity {
		return model.Allocation{}, fmt.Errorf("%w: party size %d", model.ErrInvalidCapacity, req.PartySize)
	}
	avail := st.Availability
	if avail == nil {
		avail = NewAvailability(nil)
	}

	usable := func(r *model.Room) bool {
		return r.Status == model.RoomAvailable &&
			r.Capacity >= req.PartySize &&
			avail.IsRoomFree(r.ID, req.Date, req.Slot)
	}

	if req.RoomID != "" {
		for i := range st.Rooms {
			if st.Rooms[i].ID == req.RoomID && usable(&st.Rooms[i]) {
				return model.Allocation{Room: st.Rooms[i]}, nil
			}
		}
	}

	candidates := make([]model.Room, 0, len(st.Rooms))
	for i := range st.Rooms {
		if usable(&st.Rooms[i]) {
			candidates = append(candidates, st.Rooms[i])
		}
	}
	if len(candidates) == 0 {
		return model.Allocation{}, fmt.Errorf("%w: party of %d at %s %s",
			model.ErrNoRoomAvailable, req.PartySize, req.Date.Format(model.DateLayout), req.Slot)
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Capacity != candidates[j].Capacity {
			return candidates[i].Capacity < candidates[j].Capacity
		}
		return candidates[i].ID < candidates[j].ID
	})

	return model.Allocation{
		Room:          candidates[0],
		Substituted:   req.RoomID != "",
		RequestedRoom: req.RoomID,
	}, nil
}
