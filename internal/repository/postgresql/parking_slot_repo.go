package postgresql

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/m3xD/parkus/internal/domain"
	"github.com/m3xD/parkus/internal/repository"
	"gopkg.in/guregu/null.v4"
)

const uniqueViolation = "23505"

type pgParkingSlotRepository struct {
	db *pgxpool.Pool
}

func NewPgParkingSlotRepository(db *pgxpool.Pool) repository.ParkingSlotRepository {
	return &pgParkingSlotRepository{db: db}
}

func (r *pgParkingSlotRepository) Create(ctx context.Context, slot *domain.ParkingSlot) (*domain.ParkingSlot, error) {
	query := `INSERT INTO parking_slots (slot_number, floor, is_occupied, vehicle_number, booked_at,
	            user_name, user_phone_number, user_email, vehicle_type, expected_duration, booking_status,
	            ml_last_update, ml_confidence, ml_status, last_status_update_source)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	          RETURNING ` + slotColumns

	var mlLast null.Time
	var mlConfidence null.Float
	var mlStatus null.String
	if d := slot.MLDetection; d != nil {
		mlLast = null.TimeFrom(d.LastUpdate)
		mlConfidence = null.FloatFrom(d.Confidence)
		mlStatus = null.StringFrom(string(d.Status))
	}

	created, err := scanSlot(r.db.QueryRow(ctx, query,
		slot.SlotNumber, slot.Floor, slot.IsOccupied, slot.VehicleNumber, slot.BookedAt,
		slot.UserData.Name, slot.UserData.PhoneNumber, slot.UserData.Email, string(slot.UserData.VehicleType),
		slot.ExpectedDuration, bookingStatusArg(slot.BookingStatus),
		mlLast, mlConfidence, mlStatus, sourceArg(slot.LastStatusUpdateSource),
	))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return nil, fmt.Errorf("%w: slot %d", repository.ErrDuplicateEntry, slot.SlotNumber)
		}
		return nil, fmt.Errorf("ParkingSlotRepository.Create: %w", classify(err))
	}
	return created, nil
}

func (r *pgParkingSlotRepository) FindBySlotNumber(ctx context.Context, slotNumber int) (*domain.ParkingSlot, error) {
	query := `SELECT ` + slotColumns + ` FROM parking_slots WHERE slot_number = $1`
	slot, err := scanSlot(r.db.QueryRow(ctx, query, slotNumber))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("ParkingSlotRepository.FindBySlotNumber: %w", classify(err))
	}
	return slot, nil
}

func (r *pgParkingSlotRepository) FindAll(ctx context.Context) ([]domain.ParkingSlot, error) {
	query := `SELECT ` + slotColumns + ` FROM parking_slots ORDER BY slot_number`
	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("ParkingSlotRepository.FindAll: %w", classify(err))
	}
	defer rows.Close()

	slots := []domain.ParkingSlot{}
	for rows.Next() {
		slot, err := scanSlot(rows)
		if err != nil {
			return nil, fmt.Errorf("ParkingSlotRepository.FindAll (scanning row): %w", classify(err))
		}
		slots = append(slots, *slot)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ParkingSlotRepository.FindAll (rows error): %w", classify(err))
	}
	return slots, nil
}

// Save issues one UPDATE that touches only the selected column groups.
func (r *pgParkingSlotRepository) Save(ctx context.Context, slot *domain.ParkingSlot, fields domain.SlotFields) (*domain.ParkingSlot, error) {
	set := &setClause{}
	if fields.Has(domain.FieldOccupancy) {
		set.add("is_occupied", slot.IsOccupied)
		set.add("last_status_update_source", sourceArg(slot.LastStatusUpdateSource))
	}
	if fields.Has(domain.FieldBooking) {
		set.add("vehicle_number", slot.VehicleNumber)
		set.add("booked_at", slot.BookedAt)
		set.add("user_name", slot.UserData.Name)
		set.add("user_phone_number", slot.UserData.PhoneNumber)
		set.add("user_email", slot.UserData.Email)
		set.add("vehicle_type", string(slot.UserData.VehicleType))
		set.add("expected_duration", slot.ExpectedDuration)
		set.add("booking_status", bookingStatusArg(slot.BookingStatus))
	}
	if fields.Has(domain.FieldDetection) {
		if d := slot.MLDetection; d != nil {
			set.add("ml_last_update", d.LastUpdate)
			set.add("ml_confidence", d.Confidence)
			set.add("ml_status", string(d.Status))
		} else {
			set.add("ml_last_update", nil)
			set.add("ml_confidence", nil)
			set.add("ml_status", nil)
		}
	}
	if fields.Has(domain.FieldFloor) {
		set.add("floor", slot.Floor)
	}

	set.args = append(set.args, slot.SlotNumber)
	query := `UPDATE parking_slots SET ` + strings.Join(append(set.assignments, "updated_at = now()"), ", ") +
		` WHERE slot_number = $` + strconv.Itoa(len(set.args)) + ` RETURNING ` + slotColumns

	saved, err := scanSlot(r.db.QueryRow(ctx, query, set.args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("ParkingSlotRepository.Save: %w", classify(err))
	}
	return saved, nil
}

type setClause struct {
	assignments []string
	args        []any
}

func (s *setClause) add(column string, value any) {
	s.args = append(s.args, value)
	s.assignments = append(s.assignments, column+" = $"+strconv.Itoa(len(s.args)))
}

// classify marks connectivity failures so the service layer can tell them apart from query bugs.
func classify(err error) error {
	var connectErr *pgconn.ConnectError
	if errors.As(err, &connectErr) || pgconn.Timeout(err) {
		return fmt.Errorf("%w: %v", repository.ErrStoreUnavailable, err)
	}
	return err
}
