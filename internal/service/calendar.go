package service

import (
	"context"
	"fmt"
	"time"

	"github.com/Shivanand-hulikatti/converge/internal/booking"
	"github.com/Shivanand-hulikatti/converge/internal/model"
	"github.com/Shivanand-hulikatti/converge/internal/repository"
	"github.com/Shivanand-hulikatti/converge/internal/slot"
)

// CalendarService computes the month and day occupancy views.
type CalendarService struct {
	store repository.Store
}

// NewCalendarService constructs a CalendarService.
func NewCalendarService(store repository.Store) *CalendarService {
	return &CalendarService{store: store}
}

// MonthGrid counts the events on every visible day of the month and buckets
// each day into a load tier.
func (s *CalendarService) MonthGrid(ctx context.Context, year int, month time.Month) (*model.MonthGrid, error) {
	if month < time.January || month > time.December || year < 1 || year > 9999 {
		return nil, fmt.Errorf("%w: no such month %d-%02d", model.ErrValidation, year, int(month))
	}
	weeks := booking.VisibleWeeks(year, month)
	first, last := weeks[0][0], weeks[len(weeks)-1][6]

	var (
		counts map[string]int
		rooms  int
	)
	err := s.store.Read(ctx, func(q repository.Queries) error {
		var err error
		if counts, err = q.CountEventsByDay(ctx, first, last); err != nil {
			return err
		}
		rooms, err = q.CountRooms(ctx, model.RoomAvailable)
		return err
	})
	if err != nil {
		return nil, err
	}

	total := booking.SlotCapacity(rooms)
	grid := &model.MonthGrid{
		Year:       year,
		Month:      int(month),
		Name:       month.String(),
		RoomsTotal: max(rooms, 1),
		SlotsTotal: total,
	}
	for _, week := range weeks {
		row := make([]model.DayCell, len(week))
		for i, d := range week {
			key := d.Format(model.DateLayout)
			n := counts[key]
			row[i] = model.DayCell{
				Date:    key,
				InMonth: d.Month() == month,
				Count:   n,
				Tier:    string(booking.LoadTier(n, total)),
			}
		}
		grid.Weeks = append(grid.Weeks, row)
	}
	return grid, nil
}

// DayView lays out every room against every slot of one day. A cell is free
// when no approved event holds it; the event shown is the approved holder,
// or else the earliest pending request.
func (s *CalendarService) DayView(ctx context.Context, date time.Time) (*model.DayView, error) {
	date = model.DateOf(date)
	var (
		rooms   []model.Room
		events  []model.Event
		blocked bool
	)
	err := s.store.Read(ctx, func(q repository.Queries) error {
		var err error
		if blocked, err = q.IsDateBlocked(ctx, date); err != nil {
			return err
		}
		if rooms, err = q.ListRooms(ctx); err != nil {
			return err
		}
		events, err = q.ListEvents(ctx, repository.EventFilter{Date: date})
		return err
	})
	if err != nil {
		return nil, err
	}

	avail := booking.NewAvailability(events)
	byID := make(map[string]*model.Event, len(events))
	firstPending := make(map[string]*model.Event)
	pending := make(map[string]int)
	for i := range events {
		e := &events[i]
		byID[e.ID] = e
		if e.Approved {
			continue
		}
		k := fmt.Sprintf("%s/%d", e.RoomID, int(e.Slot))
		pending[k]++
		if firstPending[k] == nil {
			firstPending[k] = e
		}
	}

	view := &model.DayView{Date: date.Format(model.DateLayout), Blocked: blocked}
	for _, sl := range slot.Valid() {
		row := model.SlotRow{Slot: sl.String(), Ends: fmt.Sprintf("%02d:00", slot.End(sl))}
		for _, r := range rooms {
			k := fmt.Sprintf("%s/%d", r.ID, int(sl))
			cell := model.RoomCell{
				RoomID:   r.ID,
				RoomName: r.Name,
				Free:     avail.IsRoomFree(r.ID, date, sl),
				Pending:  pending[k],
			}
			var shown *model.Event
			if id, ok := avail.Holder(r.ID, date, sl); ok {
				shown = byID[id]
			} else {
				shown = firstPending[k]
			}
			if shown != nil {
				snap := shown.Snapshot()
				cell.Event = &snap
			}
			row.Cells = append(row.Cells, cell)
		}
		view.Rows = append(view.Rows, row)
	}
	return view, nil
}
