package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/m3xD/parkus/internal/domain"
	"github.com/m3xD/parkus/internal/repository"
)

// DetectionService handles ML detections that arrive over the queue rather than HTTP.
type DetectionService struct {
	parkingService *ParkingService
	logRepo        repository.DetectionLogRepository
	now            func() time.Time
	logger         *zap.Logger
}

func NewDetectionService(ps *ParkingService, logRepo repository.DetectionLogRepository, logger *zap.Logger) *DetectionService {
	return &DetectionService{
		parkingService: ps,
		logRepo:        logRepo,
		now:            time.Now,
		logger:         logger.Named("detection_service"),
	}
}

// HandleDetectionMessage applies one queued detection and records the outcome in the detection log.
// A nil return means the message is done with, including permanent rejections; an error means it
// should be redelivered.
func (s *DetectionService) HandleDetectionMessage(ctx context.Context, messageID, body string) error {
	entry := &domain.DetectionLog{
		ReceivedAt: s.now().UTC(),
		MessageID:  messageID,
		Payload:    json.RawMessage(body),
	}

	var msg domain.MLDetectionMessage
	if err := json.Unmarshal([]byte(body), &msg); err != nil {
		s.logger.Warn("rejecting undecodable detection", zap.String("message_id", messageID), zap.Error(err))
		entry.ProcessedStatus = domain.DetectionRejected
		entry.ProcessingNotes = fmt.Sprintf("Failed to unmarshal detection: %v", err)
		s.record(ctx, entry)
		return nil
	}
	if msg.SlotID != nil {
		n := msg.SlotID.Int()
		entry.SlotNumber = &n
	}

	result, err := s.parkingService.ApplyMLDetection(ctx, msg)
	if err != nil {
		if errors.Is(err, ErrValidation) {
			s.logger.Warn("rejecting invalid detection", zap.String("message_id", messageID), zap.Error(err))
			entry.ProcessedStatus = domain.DetectionRejected
			entry.ProcessingNotes = err.Error()
			s.record(ctx, entry)
			return nil
		}
		s.logger.Error("failed to apply detection", zap.String("message_id", messageID), zap.Error(err))
		entry.ProcessedStatus = domain.DetectionFailed
		entry.ProcessingNotes = err.Error()
		s.record(ctx, entry)
		return err
	}

	entry.ProcessedStatus = domain.DetectionProcessed
	if result.Created {
		entry.ProcessingNotes = "slot created"
	} else {
		entry.ProcessingNotes = "slot updated"
	}
	s.record(ctx, entry)
	return nil
}

// record never fails the message; a lost log row is only logged.
func (s *DetectionService) record(ctx context.Context, entry *domain.DetectionLog) {
	if s.logRepo == nil {
		return
	}
	if err := s.logRepo.Create(ctx, entry); err != nil {
		s.logger.Error("failed to write detection log",
			zap.String("message_id", entry.MessageID),
			zap.String("status", string(entry.ProcessedStatus)),
			zap.Error(err))
	}
}
