package postgresql

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/m3xD/parkus/internal/domain"
	"github.com/m3xD/parkus/internal/repository"
	"gopkg.in/guregu/null.v4"
)

type pgDetectionLogRepository struct {
	db *pgxpool.Pool
}

func NewPgDetectionLogRepository(db *pgxpool.Pool) repository.DetectionLogRepository {
	return &pgDetectionLogRepository{db: db}
}

func (r *pgDetectionLogRepository) Create(ctx context.Context, entry *domain.DetectionLog) error {
	query := `INSERT INTO ml_detection_log
                (received_at, message_id, slot_number, payload, processed_status, processing_notes)
               VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`

	var payload []byte
	if len(entry.Payload) > 0 {
		payload = entry.Payload
		// Bodies that are not JSON are kept as a JSON string so the row still lands.
		if !json.Valid(payload) {
			quoted, err := json.Marshal(string(payload))
			if err != nil {
				return fmt.Errorf("DetectionLogRepository.Create (encoding payload): %w", err)
			}
			payload = quoted
		}
	}

	var slotNumber null.Int
	if entry.SlotNumber != nil {
		slotNumber = null.IntFrom(int64(*entry.SlotNumber))
	}

	err := r.db.QueryRow(ctx, query,
		entry.ReceivedAt,
		null.NewString(entry.MessageID, entry.MessageID != ""),
		slotNumber,
		payload,
		string(entry.ProcessedStatus),
		null.NewString(entry.ProcessingNotes, entry.ProcessingNotes != ""),
	).Scan(&entry.ID)
	if err != nil {
		return fmt.Errorf("DetectionLogRepository.Create: %w", classify(err))
	}
	return nil
}
