package repository

import (
	"context"
	"errors"

	"github.com/m3xD/parkus/internal/domain"
)

var ErrNotFound = errors.New("record not found")
var ErrDuplicateEntry = errors.New("record already exists")
var ErrStoreUnavailable = errors.New("store unavailable")

// ParkingSlotRepository is the slot store. Every write is a single-row atomic statement; there are no
// multi-row transactions and no row locks, so concurrent writers to one slot resolve last-writer-wins.
type ParkingSlotRepository interface {
	Create(ctx context.Context, slot *domain.ParkingSlot) (*domain.ParkingSlot, error)
	FindBySlotNumber(ctx context.Context, slotNumber int) (*domain.ParkingSlot, error)
	FindAll(ctx context.Context) ([]domain.ParkingSlot, error)
	// Save writes the selected field groups of slot and returns the committed row.
	Save(ctx context.Context, slot *domain.ParkingSlot, fields domain.SlotFields) (*domain.ParkingSlot, error)
}

type DetectionLogRepository interface {
	Create(ctx context.Context, entry *domain.DetectionLog) error
}

// ChangeStream delivers committed slot mutations to sink in commit order until ctx is done.
// sink is called from a single goroutine at a time.
type ChangeStream interface {
	Stream(ctx context.Context, sink func(domain.ChangeEvent)) error
}
