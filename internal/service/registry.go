package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/Shivanand-hulikatti/converge/internal/model"
	"github.com/Shivanand-hulikatti/converge/internal/repository"
)

// maxBlockRange is the longest date range one BlockDates call accepts.
const maxBlockRange = 366

// RegistryService administers rooms, planners and blocked dates. Room status
// and blocked dates live only in the store and change only through here.
type RegistryService struct {
	store repository.Store
}

// NewRegistryService constructs a RegistryService.
func NewRegistryService(store repository.Store) *RegistryService {
	return &RegistryService{store: store}
}

func roomFromRequest(req model.RoomRequest) (model.Room, error) {
	room := model.Room{
		Name:     strings.TrimSpace(req.Name),
		Capacity: req.Capacity,
		Status:   model.RoomStatus(strings.ToLower(strings.TrimSpace(req.Status))),
	}
	if room.Name == "" {
		return room, fmt.Errorf("%w: room name is required", model.ErrValidation)
	}
	if room.Capacity < model.MinCapacity || room.Capacity > model.MaxCapacity {
		return room, fmt.Errorf("%w: %d", model.ErrInvalidCapacity, room.Capacity)
	}
	if room.Status == "" {
		room.Status = model.RoomAvailable
	}
	if !room.Status.Valid() {
		return room, fmt.Errorf("%w: unknown room status %q", model.ErrValidation, req.Status)
	}
	return room, nil
}

// CreateRoom adds a room. An empty status means available.
func (s *RegistryService) CreateRoom(ctx context.Context, req model.RoomRequest) (*model.Room, error) {
	room, err := roomFromRequest(req)
	if err != nil {
		return nil, err
	}
	room.ID = uuid.New().String()
	err = s.store.InTx(ctx, func(q repository.Queries) error {
		return q.CreateRoom(ctx, &room)
	})
	if err != nil {
		return nil, err
	}
	return &room, nil
}

// UpdateRoom replaces a room's name, capacity and status.
func (s *RegistryService) UpdateRoom(ctx context.Context, id string, req model.RoomRequest) (*model.Room, error) {
	room, err := roomFromRequest(req)
	if err != nil {
		return nil, err
	}
	room.ID = id
	err = s.store.InTx(ctx, func(q repository.Queries) error {
		return q.UpdateRoom(ctx, &room)
	})
	if err != nil {
		return nil, err
	}
	return &room, nil
}

// DeleteRoom removes a room no event references.
func (s *RegistryService) DeleteRoom(ctx context.Context, id string) error {
	return s.store.InTx(ctx, func(q repository.Queries) error {
		return q.DeleteRoom(ctx, id)
	})
}

// ListRooms returns every room ordered by name.
func (s *RegistryService) ListRooms(ctx context.Context) ([]model.Room, error) {
	var rooms []model.Room
	err := s.store.Read(ctx, func(q repository.Queries) error {
		var err error
		rooms, err = q.ListRooms(ctx)
		return err
	})
	return rooms, err
}

// CreatePlanner adds an event planner.
func (s *RegistryService) CreatePlanner(ctx context.Context, req model.PlannerRequest) (*model.Planner, error) {
	p := model.Planner{
		ID:     uuid.New().String(),
		Name:   strings.TrimSpace(req.Name),
		Detail: strings.TrimSpace(req.Detail),
		UserID: strings.TrimSpace(req.UserID),
	}
	if p.Name == "" {
		return nil, fmt.Errorf("%w: planner name is required", model.ErrValidation)
	}
	err := s.store.InTx(ctx, func(q repository.Queries) error {
		return q.CreatePlanner(ctx, &p)
	})
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// ListPlanners returns every planner ordered by name.
func (s *RegistryService) ListPlanners(ctx context.Context) ([]model.Planner, error) {
	var out []model.Planner
	err := s.store.Read(ctx, func(q repository.Queries) error {
		var err error
		out, err = q.ListPlanners(ctx)
		return err
	})
	return out, err
}

// DeletePlanner removes a planner that owns no events.
func (s *RegistryService) DeletePlanner(ctx context.Context, id string) error {
	return s.store.InTx(ctx, func(q repository.Queries) error {
		return q.DeletePlanner(ctx, id)
	})
}

// BlockDates blocks every day from start to end inclusive. Days already
// blocked are skipped, so repeating a call is harmless. It returns only the
// newly blocked days.
func (s *RegistryService) BlockDates(ctx context.Context, req model.BlockDatesRequest) ([]model.BlockedDate, error) {
	start, err := model.ParseDate(req.StartDate)
	if err != nil {
		return nil, err
	}
	end, err := model.ParseDate(req.EndDate)
	if err != nil {
		return nil, err
	}
	if end.Before(start) {
		return nil, model.ErrInvalidDateRange
	}
	if days := int(end.Sub(start).Hours()/24) + 1; days > maxBlockRange {
		return nil, fmt.Errorf("%w: range covers %d days, at most %d allowed", model.ErrValidation, days, maxBlockRange)
	}

	reason := strings.TrimSpace(req.Reason)
	var rows []model.BlockedDate
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		rows = append(rows, model.BlockedDate{ID: uuid.New().String(), Date: d, Reason: reason})
	}

	var inserted []model.BlockedDate
	err = s.store.InTx(ctx, func(q repository.Queries) error {
		var err error
		inserted, err = q.BlockDates(ctx, rows)
		return err
	})
	if err != nil {
		return nil, err
	}
	if inserted == nil {
		inserted = []model.BlockedDate{}
	}
	return inserted, nil
}

// UnblockDate removes one blocked date.
func (s *RegistryService) UnblockDate(ctx context.Context, id string) error {
	return s.store.InTx(ctx, func(q repository.Queries) error {
		return q.DeleteBlockedDate(ctx, id)
	})
}

// ListBlockedDates returns every blocked date in calendar order.
func (s *RegistryService) ListBlockedDates(ctx context.Context) ([]model.BlockedDate, error) {
	var out []model.BlockedDate
	err := s.store.Read(ctx, func(q repository.Queries) error {
		var err error
		out, err = q.ListBlockedDates(ctx)
		return err
	})
	return out, err
}

// IsDateBlocked reports whether date (YYYY-MM-DD) is blocked.
func (s *RegistryService) IsDateBlocked(ctx context.Context, date string) (bool, error) {
	d, err := model.ParseDate(date)
	if err != nil {
		return false, err
	}
	var blocked bool
	err = s.store.Read(ctx, func(q repository.Queries) error {
		var err error
		blocked, err = q.IsDateBlocked(ctx, d)
		return err
	})
	return blocked, err
}
