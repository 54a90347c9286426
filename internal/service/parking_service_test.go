package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gopkg.in/guregu/null.v4"

	"github.com/m3xD/parkus/internal/config"
	"github.com/m3xD/parkus/internal/domain"
	"github.com/m3xD/parkus/internal/repository/memory"
)

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) Now() time.Time { return c.t }

func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestService(t *testing.T, opts ...Option) (*ParkingService, *memory.ParkingSlotRepository, *fakeClock) {
	t.Helper()
	clock := &fakeClock{t: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)}
	repo := memory.NewParkingSlotRepository()
	repo.SetClock(clock.Now)
	opts = append([]Option{WithClock(clock.Now)}, opts...)
	return NewParkingService(repo, zap.NewNop(), opts...), repo, clock
}

func flex(n int) *domain.FlexInt {
	v := domain.FlexInt(n)
	return &v
}

func float(f float64) *float64 {
	return &f
}

func bookDTO(slot int) domain.BookSlotDTO {
	return domain.BookSlotDTO{
		SlotNumber:       flex(slot),
		VehicleNumber:    "KA01AB1234",
		UserData:         &domain.UserInput{Name: "Asha", PhoneNumber: "9999999999"},
		ExpectedDuration: float(2),
		VehicleType:      domain.VehicleCar,
	}
}

func mustAdd(t *testing.T, svc *ParkingService, n int) {
	t.Helper()
	_, err := svc.AddSlot(context.Background(), domain.AddSlotDTO{SlotNumber: flex(n)})
	require.NoError(t, err)
}

func TestAddSlot(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	slot, err := svc.AddSlot(ctx, domain.AddSlotDTO{SlotNumber: flex(1)})
	require.NoError(t, err)
	assert.Equal(t, 1, slot.SlotNumber)
	assert.Equal(t, domain.DefaultFloor, slot.Floor)
	assert.False(t, slot.IsOccupied)
	assert.Equal(t, domain.BookingStatus(""), slot.BookingStatus)
	assert.Equal(t, domain.SourceAdmin, slot.LastStatusUpdateSource)

	_, err = svc.AddSlot(ctx, domain.AddSlotDTO{SlotNumber: flex(1)})
	assert.ErrorIs(t, err, ErrDuplicateKey)

	slots, err := svc.ListSlots(ctx)
	require.NoError(t, err)
	assert.Len(t, slots, 1)
}

func TestAddSlot_Validation(t *testing.T) {
	svc, _, _ := newTestService(t)
	tests := []struct {
		name string
		dto  domain.AddSlotDTO
	}{
		{"missing slot number", domain.AddSlotDTO{}},
		{"zero slot number", domain.AddSlotDTO{SlotNumber: flex(0)}},
		{"negative slot number", domain.AddSlotDTO{SlotNumber: flex(-4)}},
		{"zero floor", domain.AddSlotDTO{SlotNumber: flex(3), Floor: flex(0)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.AddSlot(context.Background(), tt.dto)
			assert.ErrorIs(t, err, ErrValidation)
		})
	}
}

func TestAddSlot_RepeatedCallsKeepOneSlotPerNumber(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	for _, n := range []int{3, 1, 3, 2, 1, 3} {
		_, _ = svc.AddSlot(ctx, domain.AddSlotDTO{SlotNumber: flex(n)})
	}
	slots, err := svc.ListSlots(ctx)
	require.NoError(t, err)
	require.Len(t, slots, 3)
	assert.Equal(t, []int{1, 2, 3}, []int{slots[0].SlotNumber, slots[1].SlotNumber, slots[2].SlotNumber})
}

func TestBookThenFree_WorkedExample(t *testing.T) {
	svc, _, clock := newTestService(t)
	ctx := context.Background()
	mustAdd(t, svc, 1)

	booked, err := svc.BookSlot(ctx, bookDTO(1))
	require.NoError(t, err)
	assert.True(t, booked.Slot.IsOccupied)
	assert.Equal(t, 2.0, booked.Slot.ExpectedDuration.Float64)
	assert.Equal(t, domain.BookingActive, booked.Slot.BookingStatus)
	assert.Equal(t, domain.SourceBooking, booked.Slot.LastStatusUpdateSource)
	assert.False(t, booked.Slot.UserData.Email.Valid)
	assert.Equal(t, domain.BookingDetails{
		SlotNumber:       1,
		Floor:            1,
		BookedAt:         booked.Slot.BookedAt,
		ExpectedDuration: booked.Slot.ExpectedDuration,
		VehicleType:      domain.VehicleCar,
	}, booked.Details)
	assert.Equal(t, clock.Now(), booked.Slot.BookedAt.Time)

	clock.Advance(3 * time.Hour)
	freed, err := svc.FreeSlot(ctx, domain.FreeSlotDTO{SlotNumber: flex(1)})
	require.NoError(t, err)

	assert.Equal(t, 3, freed.Receipt.Duration)
	assert.Equal(t, domain.BookingCompleted, freed.Receipt.Status)
	assert.Equal(t, "KA01AB1234", freed.Receipt.VehicleNumber.String)
	assert.Equal(t, "Asha", freed.Receipt.UserData.Name.String)
	assert.Equal(t, "9999999999", freed.Receipt.UserData.PhoneNumber.String)

	assert.False(t, freed.Slot.IsOccupied)
	assert.Equal(t, domain.BookingCompleted, freed.Slot.BookingStatus)
	assert.False(t, freed.Slot.VehicleNumber.Valid)
	assert.False(t, freed.Slot.BookedAt.Valid)
	assert.False(t, freed.Slot.ExpectedDuration.Valid)
	assert.Equal(t, domain.EmptyUserData(), freed.Slot.UserData)
}

func TestBookThenFree_ImmediateRoundTrip(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	mustAdd(t, svc, 6)

	dto := bookDTO(6)
	dto.UserData.Email = "asha@example.com"
	dto.VehicleType = domain.VehicleBike
	_, err := svc.BookSlot(ctx, dto)
	require.NoError(t, err)

	freed, err := svc.FreeSlot(ctx, domain.FreeSlotDTO{SlotNumber: flex(6)})
	require.NoError(t, err)
	assert.Equal(t, dto.VehicleNumber, freed.Receipt.VehicleNumber.String)
	assert.Equal(t, "Asha", freed.Receipt.UserData.Name.String)
	assert.Equal(t, "asha@example.com", freed.Receipt.UserData.Email.String)
	assert.Equal(t, domain.VehicleBike, freed.Receipt.UserData.VehicleType)
	assert.GreaterOrEqual(t, freed.Receipt.Duration, 1)
}

func TestBookSlot_Defaults(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	mustAdd(t, svc, 2)

	dto := bookDTO(2)
	dto.ExpectedDuration = nil
	dto.VehicleType = ""
	res, err := svc.BookSlot(ctx, dto)
	require.NoError(t, err)
	assert.Equal(t, 1.0, res.Slot.ExpectedDuration.Float64)
	assert.Equal(t, domain.VehicleCar, res.Details.VehicleType)
}

func TestBookSlot_Validation(t *testing.T) {
	svc, _, _ := newTestService(t)
	mustAdd(t, svc, 1)

	tests := []struct {
		name   string
		mutate func(*domain.BookSlotDTO)
	}{
		{"missing slot number", func(d *domain.BookSlotDTO) { d.SlotNumber = nil }},
		{"missing vehicle number", func(d *domain.BookSlotDTO) { d.VehicleNumber = "  " }},
		{"missing user data", func(d *domain.BookSlotDTO) { d.UserData = nil }},
		{"missing name", func(d *domain.BookSlotDTO) { d.UserData.Name = "" }},
		{"missing phone", func(d *domain.BookSlotDTO) { d.UserData.PhoneNumber = "" }},
		{"unknown vehicle type", func(d *domain.BookSlotDTO) { d.VehicleType = "boat" }},
		{"negative duration", func(d *domain.BookSlotDTO) { d.ExpectedDuration = float(-1) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dto := bookDTO(1)
			tt.mutate(&dto)
			_, err := svc.BookSlot(context.Background(), dto)
			assert.ErrorIs(t, err, ErrValidation)
		})
	}
}

func TestBookSlot_NotFound(t *testing.T) {
	svc, _, _ := newTestService(t)
	_, err := svc.BookSlot(context.Background(), bookDTO(42))
	require.ErrorIs(t, err, ErrNotFound)

	var svcErr *Error
	require.ErrorAs(t, err, &svcErr)
	assert.Equal(t, "Slot not found", svcErr.Message)
}

func TestBookSlot_OccupiedSlotIsConflictAndUnchanged(t *testing.T) {
	svc, repo, clock := newTestService(t)
	ctx := context.Background()
	mustAdd(t, svc, 1)
	_, err := svc.BookSlot(ctx, bookDTO(1))
	require.NoError(t, err)
	before, err := repo.FindBySlotNumber(ctx, 1)
	require.NoError(t, err)

	clock.Advance(time.Minute)
	second := bookDTO(1)
	second.VehicleNumber = "MH12XY0001"
	_, err = svc.BookSlot(ctx, second)
	assert.ErrorIs(t, err, ErrConflict)

	after, err := repo.FindBySlotNumber(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestFreeSlot_FreeSlotIsConflictAndUnchanged(t *testing.T) {
	svc, repo, _ := newTestService(t)
	ctx := context.Background()
	mustAdd(t, svc, 1)
	before, err := repo.FindBySlotNumber(ctx, 1)
	require.NoError(t, err)

	_, err = svc.FreeSlot(ctx, domain.FreeSlotDTO{SlotNumber: flex(1)})
	require.ErrorIs(t, err, ErrConflict)
	var svcErr *Error
	require.ErrorAs(t, err, &svcErr)
	assert.Equal(t, "Slot is already free", svcErr.Message)

	after, err := repo.FindBySlotNumber(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, before, after)

	_, err = svc.FreeSlot(ctx, domain.FreeSlotDTO{SlotNumber: flex(77)})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFreeSlot_OccupiedByDetectionReportsZeroHours(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	_, err := svc.ApplyMLDetection(ctx, domain.MLDetectionMessage{SlotID: flex(9), Status: domain.DetectionOccupied, Confidence: float(0.7)})
	require.NoError(t, err)

	freed, err := svc.FreeSlot(ctx, domain.FreeSlotDTO{SlotNumber: flex(9)})
	require.NoError(t, err)
	assert.Equal(t, 0, freed.Receipt.Duration)
	assert.False(t, freed.Slot.IsOccupied)
	require.NotNil(t, freed.Slot.MLDetection)
}

func TestHoursParked(t *testing.T) {
	start := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	booked := func(d time.Duration) int { return hoursParked(null.TimeFrom(start), start.Add(d)) }

	assert.Equal(t, 1, booked(0))
	assert.Equal(t, 1, booked(10*time.Minute))
	assert.Equal(t, 1, booked(time.Hour))
	assert.Equal(t, 2, booked(time.Hour+time.Second))
	assert.Equal(t, 3, booked(3*time.Hour))
}

func TestApplyMLDetection_CreatesUnknownSlot(t *testing.T) {
	svc, _, clock := newTestService(t)
	ctx := context.Background()

	res, err := svc.ApplyMLDetection(ctx, domain.MLDetectionMessage{SlotID: flex(5), Status: domain.DetectionOccupied, Confidence: float(0.92)})
	require.NoError(t, err)
	assert.True(t, res.Created)
	assert.Equal(t, 5, res.Slot.SlotNumber)
	assert.True(t, res.Slot.IsOccupied)
	require.NotNil(t, res.Slot.MLDetection)
	assert.Equal(t, domain.DetectionOccupied, res.Slot.MLDetection.Status)
	assert.Equal(t, 0.92, res.Slot.MLDetection.Confidence)
	assert.Equal(t, clock.Now(), res.Slot.MLDetection.LastUpdate)
	assert.Equal(t, domain.SourceMLDetection, res.Slot.LastStatusUpdateSource)
}

func TestApplyMLDetection_OccupancyMatchesStatusOnCreate(t *testing.T) {
	svc, _, _ := newTestService(t)
	for i, status := range []domain.DetectionStatus{domain.DetectionEmpty, domain.DetectionOccupied, domain.DetectionUncertain} {
		res, err := svc.ApplyMLDetection(context.Background(), domain.MLDetectionMessage{SlotID: flex(i + 1), Status: status, Confidence: float(0.5)})
		require.NoError(t, err)
		assert.True(t, res.Created)
		assert.Equal(t, status == domain.DetectionOccupied, res.Slot.IsOccupied, status)
	}
}

func TestApplyMLDetection_UpdatesKnownSlot(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	mustAdd(t, svc, 3)

	ts := domain.DetectionTime{Time: time.Date(2024, 3, 1, 8, 30, 0, 0, time.UTC)}
	res, err := svc.ApplyMLDetection(ctx, domain.MLDetectionMessage{SlotID: flex(3), Status: domain.DetectionOccupied, Confidence: float(0), Timestamp: &ts})
	require.NoError(t, err)
	assert.False(t, res.Created)
	assert.True(t, res.Slot.IsOccupied)
	assert.Equal(t, ts.Time, res.Slot.MLDetection.LastUpdate)
	assert.Equal(t, 0.0, res.Slot.MLDetection.Confidence)
}

func TestApplyMLDetection_Validation(t *testing.T) {
	svc, _, _ := newTestService(t)
	tests := []struct {
		name string
		msg  domain.MLDetectionMessage
	}{
		{"missing slot", domain.MLDetectionMessage{Status: domain.DetectionEmpty, Confidence: float(0.5)}},
		{"missing status", domain.MLDetectionMessage{SlotID: flex(1), Confidence: float(0.5)}},
		{"missing confidence", domain.MLDetectionMessage{SlotID: flex(1), Status: domain.DetectionEmpty}},
		{"unknown status", domain.MLDetectionMessage{SlotID: flex(1), Status: "parked", Confidence: float(0.5)}},
		{"confidence above one", domain.MLDetectionMessage{SlotID: flex(1), Status: domain.DetectionEmpty, Confidence: float(1.5)}},
		{"non-positive slot", domain.MLDetectionMessage{SlotID: flex(0), Status: domain.DetectionEmpty, Confidence: float(0.5)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.ApplyMLDetection(context.Background(), tt.msg)
			assert.ErrorIs(t, err, ErrValidation)
		})
	}
}

func TestApplyMLDetection_OverridesActiveBooking(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	mustAdd(t, svc, 1)
	_, err := svc.BookSlot(ctx, bookDTO(1))
	require.NoError(t, err)

	res, err := svc.ApplyMLDetection(ctx, domain.MLDetectionMessage{SlotID: flex(1), Status: domain.DetectionEmpty, Confidence: float(0.8)})
	require.NoError(t, err)

	// The sensor is authoritative over isOccupied; the booking fields are left as they were.
	assert.False(t, res.Slot.IsOccupied)
	assert.Equal(t, domain.BookingActive, res.Slot.BookingStatus)
	assert.Equal(t, "KA01AB1234", res.Slot.VehicleNumber.String)
	assert.Equal(t, domain.SourceMLDetection, res.Slot.LastStatusUpdateSource)
}

func TestApplyMLDetection_RespectBookingPolicy(t *testing.T) {
	svc, _, _ := newTestService(t, WithOverridePolicy(config.PolicyRespectBooking))
	ctx := context.Background()
	mustAdd(t, svc, 1)
	mustAdd(t, svc, 2)
	_, err := svc.BookSlot(ctx, bookDTO(1))
	require.NoError(t, err)

	res, err := svc.ApplyMLDetection(ctx, domain.MLDetectionMessage{SlotID: flex(1), Status: domain.DetectionEmpty, Confidence: float(0.8)})
	require.NoError(t, err)
	assert.True(t, res.Slot.IsOccupied)
	assert.Equal(t, domain.SourceBooking, res.Slot.LastStatusUpdateSource)
	require.NotNil(t, res.Slot.MLDetection)
	assert.Equal(t, domain.DetectionEmpty, res.Slot.MLDetection.Status)

	// Unbooked slots still follow the sensor.
	res, err = svc.ApplyMLDetection(ctx, domain.MLDetectionMessage{SlotID: flex(2), Status: domain.DetectionOccupied, Confidence: float(0.8)})
	require.NoError(t, err)
	assert.True(t, res.Slot.IsOccupied)
}

func TestExpireOverdueBookings(t *testing.T) {
	svc, repo, clock := newTestService(t)
	ctx := context.Background()
	mustAdd(t, svc, 1)
	mustAdd(t, svc, 2)

	_, err := svc.BookSlot(ctx, bookDTO(1)) // 2h
	require.NoError(t, err)
	long := bookDTO(2)
	long.ExpectedDuration = float(5)
	_, err = svc.BookSlot(ctx, long)
	require.NoError(t, err)

	clock.Advance(2*time.Hour + 10*time.Minute)
	n, err := svc.ExpireOverdueBookings(ctx, 15*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	clock.Advance(10 * time.Minute)
	n, err = svc.ExpireOverdueBookings(ctx, 15*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	expired, err := repo.FindBySlotNumber(ctx, 1)
	require.NoError(t, err)
	assert.False(t, expired.IsOccupied)
	assert.Equal(t, domain.BookingCancelled, expired.BookingStatus)
	assert.Equal(t, domain.SourceExpiry, expired.LastStatusUpdateSource)

	kept, err := repo.FindBySlotNumber(ctx, 2)
	require.NoError(t, err)
	assert.True(t, kept.HasActiveBooking())
}
