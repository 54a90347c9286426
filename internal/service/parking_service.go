package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"go.uber.org/zap"
	"gopkg.in/guregu/null.v4"

	"github.com/m3xD/parkus/internal/config"
	"github.com/m3xD/parkus/internal/domain"
	"github.com/m3xD/parkus/internal/repository"
)

const (
	msgMissingBookingFields = "Missing required fields. Please provide slotNumber, vehicleNumber, and user details (name and phone number)"
	msgMissingMLFields      = "Missing required ML detection data"
	msgSlotNotFound         = "Slot not found"
	msgSlotOccupied         = "Slot already occupied"
	msgSlotAlreadyFree      = "Slot is already free"
)

const defaultExpectedDuration = 1.0

type ParkingService struct {
	slotRepo repository.ParkingSlotRepository
	policy   config.MLOverridePolicy
	now      func() time.Time
	logger   *zap.Logger
}

type Option func(*ParkingService)

// WithClock replaces time.Now for bookedAt, receipt durations, detection defaults and expiry.
func WithClock(now func() time.Time) Option {
	return func(s *ParkingService) { s.now = now }
}

func WithOverridePolicy(policy config.MLOverridePolicy) Option {
	return func(s *ParkingService) { s.policy = policy }
}

func NewParkingService(slotRepo repository.ParkingSlotRepository, logger *zap.Logger, opts ...Option) *ParkingService {
	s := &ParkingService{
		slotRepo: slotRepo,
		policy:   config.PolicyLastWriterWins,
		now:      time.Now,
		logger:   logger.Named("parking_service"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// --- Slots ---

func (s *ParkingService) ListSlots(ctx context.Context) ([]domain.ParkingSlot, error) {
	slots, err := s.slotRepo.FindAll(ctx)
	if err != nil {
		return nil, storeError("ListSlots", err)
	}
	return slots, nil
}

func (s *ParkingService) AddSlot(ctx context.Context, dto domain.AddSlotDTO) (*domain.ParkingSlot, error) {
	if dto.SlotNumber == nil {
		return nil, newError(ErrValidation, "slotNumber is required")
	}
	slotNumber := dto.SlotNumber.Int()
	if slotNumber <= 0 {
		return nil, newError(ErrValidation, "slotNumber must be a positive integer")
	}

	slot := domain.NewParkingSlot(slotNumber)
	if dto.Floor != nil {
		if dto.Floor.Int() <= 0 {
			return nil, newError(ErrValidation, "floor must be a positive integer")
		}
		slot.Floor = dto.Floor.Int()
	}
	slot.LastStatusUpdateSource = domain.SourceAdmin

	created, err := s.slotRepo.Create(ctx, slot)
	if err != nil {
		if errors.Is(err, repository.ErrDuplicateEntry) {
			return nil, &Error{Kind: ErrDuplicateKey, Message: fmt.Sprintf("Slot %d already exists", slotNumber), Err: err}
		}
		return nil, storeError("AddSlot", err)
	}
	s.logger.Info("slot created", zap.Int("slot_number", created.SlotNumber), zap.Int("floor", created.Floor))
	return created, nil
}

// --- Bookings ---

func (s *ParkingService) BookSlot(ctx context.Context, dto domain.BookSlotDTO) (*domain.BookingResult, error) {
	vehicleNumber := strings.TrimSpace(dto.VehicleNumber)
	if dto.SlotNumber == nil || vehicleNumber == "" || dto.UserData == nil ||
		strings.TrimSpace(dto.UserData.Name) == "" || strings.TrimSpace(dto.UserData.PhoneNumber) == "" {
		return nil, newError(ErrValidation, msgMissingBookingFields)
	}

	vehicleType := dto.VehicleType
	if vehicleType == "" {
		vehicleType = domain.VehicleCar
	}
	if !vehicleType.Valid() {
		return nil, newError(ErrValidation, "Invalid vehicleType %q: must be one of car, bike, truck", dto.VehicleType)
	}

	expected := defaultExpectedDuration
	if dto.ExpectedDuration != nil {
		switch d := *dto.ExpectedDuration; {
		case d < 0 || math.IsNaN(d) || math.IsInf(d, 0):
			return nil, newError(ErrValidation, "expectedDuration must be a positive number of hours")
		case d > 0:
			expected = d
		}
	}

	slot, err := s.findSlot(ctx, dto.SlotNumber.Int())
	if err != nil {
		return nil, err
	}
	if slot.IsOccupied {
		return nil, newError(ErrConflict, msgSlotOccupied)
	}

	email := strings.TrimSpace(dto.UserData.Email)
	slot.IsOccupied = true
	slot.LastStatusUpdateSource = domain.SourceBooking
	slot.VehicleNumber = null.StringFrom(vehicleNumber)
	slot.BookedAt = null.TimeFrom(s.now().UTC())
	slot.UserData = domain.UserData{
		Name:        null.StringFrom(strings.TrimSpace(dto.UserData.Name)),
		PhoneNumber: null.StringFrom(strings.TrimSpace(dto.UserData.PhoneNumber)),
		Email:       null.NewString(email, email != ""),
		VehicleType: vehicleType,
	}
	slot.ExpectedDuration = null.FloatFrom(expected)
	slot.BookingStatus = domain.BookingActive

	saved, err := s.save(ctx, slot, domain.FieldOccupancy|domain.FieldBooking)
	if err != nil {
		return nil, err
	}
	s.logger.Info("slot booked",
		zap.Int("slot_number", saved.SlotNumber),
		zap.String("vehicle_number", saved.VehicleNumber.String),
		zap.Float64("expected_duration", saved.ExpectedDuration.Float64))

	return &domain.BookingResult{
		Slot: saved,
		Details: domain.BookingDetails{
			SlotNumber:       saved.SlotNumber,
			Floor:            saved.Floor,
			BookedAt:         saved.BookedAt,
			ExpectedDuration: saved.ExpectedDuration,
			VehicleType:      saved.UserData.VehicleType,
		},
	}, nil
}

func (s *ParkingService) FreeSlot(ctx context.Context, dto domain.FreeSlotDTO) (*domain.FreeResult, error) {
	if dto.SlotNumber == nil {
		return nil, newError(ErrValidation, "slotNumber is required")
	}
	slot, err := s.findSlot(ctx, dto.SlotNumber.Int())
	if err != nil {
		return nil, err
	}
	if !slot.IsOccupied {
		return nil, newError(ErrConflict, msgSlotAlreadyFree)
	}

	receipt := domain.BookingReceipt{
		SlotNumber:    slot.SlotNumber,
		VehicleNumber: slot.VehicleNumber,
		UserData:      slot.UserData,
		BookedAt:      slot.BookedAt,
		Duration:      hoursParked(slot.BookedAt, s.now()),
		Status:        domain.BookingCompleted,
	}

	slot.ClearBooking(domain.BookingCompleted)
	slot.LastStatusUpdateSource = domain.SourceBooking

	saved, err := s.save(ctx, slot, domain.FieldOccupancy|domain.FieldBooking)
	if err != nil {
		return nil, err
	}
	s.logger.Info("slot freed",
		zap.Int("slot_number", saved.SlotNumber),
		zap.String("vehicle_number", receipt.VehicleNumber.String),
		zap.Int("duration_hours", receipt.Duration))
	return &domain.FreeResult{Slot: saved, Receipt: receipt}, nil
}

// hoursParked rounds the elapsed time up to whole hours, with a one hour minimum.
// A slot occupied without a booking has no bookedAt and reports zero.
func hoursParked(bookedAt null.Time, now time.Time) int {
	if !bookedAt.Valid {
		return 0
	}
	hours := int(math.Ceil(now.Sub(bookedAt.Time).Hours()))
	if hours < 1 {
		return 1
	}
	return hours
}

// ExpireOverdueBookings cancels active bookings whose bookedAt + expectedDuration + grace has passed.
// It returns how many slots were released.
func (s *ParkingService) ExpireOverdueBookings(ctx context.Context, grace time.Duration) (int, error) {
	slots, err := s.slotRepo.FindAll(ctx)
	if err != nil {
		return 0, storeError("ExpireOverdueBookings", err)
	}

	now := s.now()
	released := 0
	for i := range slots {
		slot := &slots[i]
		if !slot.HasActiveBooking() {
			continue
		}
		expected := slot.ExpectedDuration.Float64
		if !slot.ExpectedDuration.Valid || expected <= 0 {
			expected = defaultExpectedDuration
		}
		deadline := slot.BookedAt.Time.Add(time.Duration(expected*float64(time.Hour)) + grace)
		if now.Before(deadline) {
			continue
		}

		vehicle := slot.VehicleNumber.String
		slot.ClearBooking(domain.BookingCancelled)
		slot.LastStatusUpdateSource = domain.SourceExpiry
		if _, err := s.save(ctx, slot, domain.FieldOccupancy|domain.FieldBooking); err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			return released, err
		}
		released++
		s.logger.Info("booking expired",
			zap.Int("slot_number", slot.SlotNumber),
			zap.String("vehicle_number", vehicle),
			zap.Time("deadline", deadline))
	}
	return released, nil
}

// --- ML detections ---

func (s *ParkingService) ApplyMLDetection(ctx context.Context, msg domain.MLDetectionMessage) (*domain.DetectionResult, error) {
	if msg.SlotID == nil || msg.Status == "" || msg.Confidence == nil {
		return nil, newError(ErrValidation, msgMissingMLFields)
	}
	slotNumber := msg.SlotID.Int()
	if slotNumber <= 0 {
		return nil, newError(ErrValidation, "slotId must be a positive integer")
	}
	if !msg.Status.Valid() {
		return nil, newError(ErrValidation, "Invalid detection status %q: must be one of empty, occupied, uncertain", msg.Status)
	}
	confidence := *msg.Confidence
	if math.IsNaN(confidence) || confidence < 0 || confidence > 1 {
		return nil, newError(ErrValidation, "confidence must be between 0 and 1")
	}

	detection := &domain.MLDetection{
		LastUpdate: s.now().UTC(),
		Confidence: confidence,
		Status:     msg.Status,
	}
	if msg.Timestamp != nil && !msg.Timestamp.Time.IsZero() {
		detection.LastUpdate = msg.Timestamp.Time.UTC()
	}

	slot, err := s.slotRepo.FindBySlotNumber(ctx, slotNumber)
	switch {
	case errors.Is(err, repository.ErrNotFound):
		created, err := s.createFromDetection(ctx, slotNumber, detection)
		if err == nil {
			return &domain.DetectionResult{Slot: created, Created: true}, nil
		}
		if !errors.Is(err, repository.ErrDuplicateEntry) {
			return nil, storeError("ApplyMLDetection", err)
		}
		// Lost a create race with another writer; apply as an update instead.
		if slot, err = s.findSlot(ctx, slotNumber); err != nil {
			return nil, err
		}
	case err != nil:
		return nil, storeError("ApplyMLDetection", err)
	}

	updated, err := s.applyDetection(ctx, slot, detection)
	if err != nil {
		return nil, err
	}
	return &domain.DetectionResult{Slot: updated}, nil
}

func (s *ParkingService) createFromDetection(ctx context.Context, slotNumber int, detection *domain.MLDetection) (*domain.ParkingSlot, error) {
	slot := domain.NewParkingSlot(slotNumber)
	slot.IsOccupied = detection.Status == domain.DetectionOccupied
	slot.LastStatusUpdateSource = domain.SourceMLDetection
	slot.MLDetection = detection

	created, err := s.slotRepo.Create(ctx, slot)
	if err != nil {
		return nil, err
	}
	s.logger.Info("slot created from ml detection",
		zap.Int("slot_number", created.SlotNumber),
		zap.String("status", string(detection.Status)),
		zap.Float64("confidence", detection.Confidence))
	return created, nil
}

func (s *ParkingService) applyDetection(ctx context.Context, slot *domain.ParkingSlot, detection *domain.MLDetection) (*domain.ParkingSlot, error) {
	booked := slot.HasActiveBooking()
	slot.MLDetection = detection
	fields := domain.FieldDetection

	if s.policy == config.PolicyRespectBooking && booked {
		s.logger.Info("ml detection recorded without touching occupancy of a booked slot",
			zap.Int("slot_number", slot.SlotNumber),
			zap.String("status", string(detection.Status)))
	} else {
		slot.IsOccupied = detection.Status == domain.DetectionOccupied
		slot.LastStatusUpdateSource = domain.SourceMLDetection
		fields |= domain.FieldOccupancy
		if booked {
			s.logger.Warn("ml detection overrides occupancy of a booked slot",
				zap.Int("slot_number", slot.SlotNumber),
				zap.String("vehicle_number", slot.VehicleNumber.String),
				zap.String("status", string(detection.Status)))
		}
	}

	saved, err := s.save(ctx, slot, fields)
	if err != nil {
		return nil, err
	}
	s.logger.Debug("slot updated from ml detection",
		zap.Int("slot_number", saved.SlotNumber),
		zap.Bool("is_occupied", saved.IsOccupied),
		zap.Float64("confidence", detection.Confidence))
	return saved, nil
}

// --- helpers ---

func (s *ParkingService) findSlot(ctx context.Context, slotNumber int) (*domain.ParkingSlot, error) {
	slot, err := s.slotRepo.FindBySlotNumber(ctx, slotNumber)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, newError(ErrNotFound, msgSlotNotFound)
		}
		return nil, storeError("findSlot", err)
	}
	return slot, nil
}

func (s *ParkingService) save(ctx context.Context, slot *domain.ParkingSlot, fields domain.SlotFields) (*domain.ParkingSlot, error) {
	saved, err := s.slotRepo.Save(ctx, slot, fields)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, newError(ErrNotFound, msgSlotNotFound)
		}
		return nil, storeError("save", err)
	}
	return saved, nil
}

// storeError wraps an unexpected repository failure. Connectivity loss keeps its own kind so the
// API can log it distinctly; both map to a generic 500 for callers.
func storeError(op string, err error) error {
	if errors.Is(err, repository.ErrStoreUnavailable) {
		return &Error{Kind: ErrStoreUnavailable, Message: "Parking store is unavailable", Err: err}
	}
	return fmt.Errorf("ParkingService.%s: %w", op, err)
}
