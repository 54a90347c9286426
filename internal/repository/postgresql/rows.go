package postgresql

import (
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/m3xD/parkus/internal/domain"
	"gopkg.in/guregu/null.v4"
)

const slotColumns = `slot_number, floor, is_occupied, vehicle_number, booked_at,
	user_name, user_phone_number, user_email, vehicle_type, expected_duration, booking_status,
	ml_last_update, ml_confidence, ml_status, last_status_update_source, created_at, updated_at`

// slotRow mirrors one parking_slots row. The json tags match to_jsonb(row), which is how the
// change-feed trigger ships row images.
type slotRow struct {
	SlotNumber             int         `json:"slot_number"`
	Floor                  int         `json:"floor"`
	IsOccupied             bool        `json:"is_occupied"`
	VehicleNumber          null.String `json:"vehicle_number"`
	BookedAt               null.Time   `json:"booked_at"`
	UserName               null.String `json:"user_name"`
	UserPhoneNumber        null.String `json:"user_phone_number"`
	UserEmail              null.String `json:"user_email"`
	VehicleType            string      `json:"vehicle_type"`
	ExpectedDuration       null.Float  `json:"expected_duration"`
	BookingStatus          null.String `json:"booking_status"`
	MLLastUpdate           null.Time   `json:"ml_last_update"`
	MLConfidence           null.Float  `json:"ml_confidence"`
	MLStatus               null.String `json:"ml_status"`
	LastStatusUpdateSource null.String `json:"last_status_update_source"`
	CreatedAt              time.Time   `json:"created_at"`
	UpdatedAt              time.Time   `json:"updated_at"`
}

func scanSlot(row pgx.Row) (*domain.ParkingSlot, error) {
	var r slotRow
	err := row.Scan(
		&r.SlotNumber, &r.Floor, &r.IsOccupied, &r.VehicleNumber, &r.BookedAt,
		&r.UserName, &r.UserPhoneNumber, &r.UserEmail, &r.VehicleType, &r.ExpectedDuration, &r.BookingStatus,
		&r.MLLastUpdate, &r.MLConfidence, &r.MLStatus, &r.LastStatusUpdateSource, &r.CreatedAt, &r.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return r.toDomain(), nil
}

func (r slotRow) toDomain() *domain.ParkingSlot {
	slot := &domain.ParkingSlot{
		SlotNumber:    r.SlotNumber,
		Floor:         r.Floor,
		IsOccupied:    r.IsOccupied,
		VehicleNumber: r.VehicleNumber,
		BookedAt:      utcTime(r.BookedAt),
		UserData: domain.UserData{
			Name:        r.UserName,
			PhoneNumber: r.UserPhoneNumber,
			Email:       r.UserEmail,
			VehicleType: domain.VehicleType(r.VehicleType),
		},
		ExpectedDuration:       r.ExpectedDuration,
		BookingStatus:          domain.BookingStatus(r.BookingStatus.String),
		LastStatusUpdateSource: domain.StatusSource(r.LastStatusUpdateSource.String),
		CreatedAt:              r.CreatedAt.UTC(),
		UpdatedAt:              r.UpdatedAt.UTC(),
	}
	if slot.UserData.VehicleType == "" {
		slot.UserData.VehicleType = domain.VehicleCar
	}
	if r.MLStatus.Valid {
		slot.MLDetection = &domain.MLDetection{
			LastUpdate: r.MLLastUpdate.Time.UTC(),
			Confidence: r.MLConfidence.Float64,
			Status:     domain.DetectionStatus(r.MLStatus.String),
		}
	}
	return slot
}

func utcTime(t null.Time) null.Time {
	if !t.Valid {
		return t
	}
	return null.TimeFrom(t.Time.UTC())
}

// bookingStatusArg maps the never-booked status to SQL NULL.
func bookingStatusArg(s domain.BookingStatus) null.String {
	return null.NewString(string(s), s != "")
}

func sourceArg(s domain.StatusSource) null.String {
	return null.NewString(string(s), s != "")
}
