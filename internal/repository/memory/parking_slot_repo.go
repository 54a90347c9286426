// Package memory is an in-process slot store with the same single-slot atomicity and change
// stream contract as the PostgreSQL store.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/m3xD/parkus/internal/domain"
	"github.com/m3xD/parkus/internal/repository"
)

type ParkingSlotRepository struct {
	mu    sync.Mutex
	slots map[int]*domain.ParkingSlot
	sinks map[int]func(domain.ChangeEvent)
	next  int
	now   func() time.Time
}

func NewParkingSlotRepository() *ParkingSlotRepository {
	return &ParkingSlotRepository{
		slots: make(map[int]*domain.ParkingSlot),
		sinks: make(map[int]func(domain.ChangeEvent)),
		now:   time.Now,
	}
}

var (
	_ repository.ParkingSlotRepository = (*ParkingSlotRepository)(nil)
	_ repository.ChangeStream          = (*ParkingSlotRepository)(nil)
)

func (r *ParkingSlotRepository) Create(ctx context.Context, slot *domain.ParkingSlot) (*domain.ParkingSlot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.slots[slot.SlotNumber]; exists {
		return nil, fmt.Errorf("%w: slot %d", repository.ErrDuplicateEntry, slot.SlotNumber)
	}
	stored := slot.Clone()
	now := r.now().UTC()
	stored.CreatedAt = now
	stored.UpdatedAt = now
	r.slots[stored.SlotNumber] = stored
	r.emit(nil, stored, now)
	return stored.Clone(), nil
}

func (r *ParkingSlotRepository) FindBySlotNumber(ctx context.Context, slotNumber int) (*domain.ParkingSlot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	slot, ok := r.slots[slotNumber]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return slot.Clone(), nil
}

func (r *ParkingSlotRepository) FindAll(ctx context.Context) ([]domain.ParkingSlot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	slots := make([]domain.ParkingSlot, 0, len(r.slots))
	for _, s := range r.slots {
		slots = append(slots, *s.Clone())
	}
	sort.Slice(slots, func(i, j int) bool { return slots[i].SlotNumber < slots[j].SlotNumber })
	return slots, nil
}

func (r *ParkingSlotRepository) Save(ctx context.Context, slot *domain.ParkingSlot, fields domain.SlotFields) (*domain.ParkingSlot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.slots[slot.SlotNumber]
	if !ok {
		return nil, repository.ErrNotFound
	}
	before := current.Clone()
	domain.Merge(current, slot, fields)
	now := r.now().UTC()
	current.UpdatedAt = now
	r.emit(before, current, now)
	return current.Clone(), nil
}

// Delete removes a slot. It stands in for out-of-band administrative removal; no booking operation deletes.
func (r *ParkingSlotRepository) Delete(ctx context.Context, slotNumber int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	slot, ok := r.slots[slotNumber]
	if !ok {
		return repository.ErrNotFound
	}
	delete(r.slots, slotNumber)
	r.emit(slot, nil, r.now().UTC())
	return nil
}

// Stream registers sink for every mutation committed after the call, until ctx is done.
func (r *ParkingSlotRepository) Stream(ctx context.Context, sink func(domain.ChangeEvent)) error {
	cancel := r.Subscribe(sink)
	defer cancel()
	<-ctx.Done()
	return nil
}

// Subscribe registers sink and returns the function that removes it. Sinks run inside the write
// critical section, which is what keeps delivery in commit order.
func (r *ParkingSlotRepository) Subscribe(sink func(domain.ChangeEvent)) func() {
	r.mu.Lock()
	id := r.next
	r.next++
	r.sinks[id] = sink
	r.mu.Unlock()

	return func() {
		r.mu.Lock()
		delete(r.sinks, id)
		r.mu.Unlock()
	}
}

// emit must be called with r.mu held.
func (r *ParkingSlotRepository) emit(before, after *domain.ParkingSlot, at time.Time) {
	if len(r.sinks) == 0 {
		return
	}
	ev, err := domain.NewChangeEvent(before, after, at)
	if err != nil {
		return
	}
	for _, sink := range r.sinks {
		sink(ev)
	}
}

// SetClock replaces the clock used for createdAt/updatedAt and event timestamps.
func (r *ParkingSlotRepository) SetClock(now func() time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.now = now
}
