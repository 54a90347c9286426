package memory

import (
	"context"
	"sync"

	"github.com/m3xD/parkus/internal/domain"
	"github.com/m3xD/parkus/internal/repository"
)

type DetectionLogRepository struct {
	mu      sync.Mutex
	entries []domain.DetectionLog
}

func NewDetectionLogRepository() *DetectionLogRepository {
	return &DetectionLogRepository{}
}

var _ repository.DetectionLogRepository = (*DetectionLogRepository)(nil)

func (r *DetectionLogRepository) Create(ctx context.Context, entry *domain.DetectionLog) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	entry.ID = int64(len(r.entries) + 1)
	r.entries = append(r.entries, *entry)
	return nil
}

// Entries returns a copy of everything logged so far.
func (r *DetectionLogRepository) Entries() []domain.DetectionLog {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.DetectionLog, len(r.entries))
	copy(out, r.entries)
	return out
}
