package domain

import (
	"encoding/json"
	"time"

	"gopkg.in/guregu/null.v4"
)

type VehicleType string

const (
	VehicleCar   VehicleType = "car"
	VehicleBike  VehicleType = "bike"
	VehicleTruck VehicleType = "truck"
)

func (v VehicleType) Valid() bool {
	switch v {
	case VehicleCar, VehicleBike, VehicleTruck:
		return true
	}
	return false
}

// BookingStatus is empty for a slot that has never been booked and is encoded as JSON null.
type BookingStatus string

const (
	BookingActive    BookingStatus = "active"
	BookingCompleted BookingStatus = "completed"
	BookingCancelled BookingStatus = "cancelled"
)

func (s BookingStatus) MarshalJSON() ([]byte, error) {
	if s == "" {
		return []byte("null"), nil
	}
	return json.Marshal(string(s))
}

func (s *BookingStatus) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*s = ""
		return nil
	}
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	*s = BookingStatus(str)
	return nil
}

type DetectionStatus string

const (
	DetectionEmpty     DetectionStatus = "empty"
	DetectionOccupied  DetectionStatus = "occupied"
	DetectionUncertain DetectionStatus = "uncertain"
)

func (s DetectionStatus) Valid() bool {
	switch s {
	case DetectionEmpty, DetectionOccupied, DetectionUncertain:
		return true
	}
	return false
}

// StatusSource names the writer that last set IsOccupied.
type StatusSource string

const (
	SourceAdmin       StatusSource = "admin"
	SourceBooking     StatusSource = "booking"
	SourceMLDetection StatusSource = "ml_detection"
	SourceExpiry      StatusSource = "expiry"
)

type UserData struct {
	Name        null.String `json:"name"`
	PhoneNumber null.String `json:"phoneNumber"`
	Email       null.String `json:"email"`
	VehicleType VehicleType `json:"vehicleType"`
}

// EmptyUserData is the userData block of a slot without a booking.
func EmptyUserData() UserData {
	return UserData{VehicleType: VehicleCar}
}

type MLDetection struct {
	LastUpdate time.Time       `json:"lastUpdate"`
	Confidence float64         `json:"confidence"`
	Status     DetectionStatus `json:"status"`
}

type ParkingSlot struct {
	SlotNumber             int           `json:"slotNumber"`
	Floor                  int           `json:"floor"`
	IsOccupied             bool          `json:"isOccupied"`
	VehicleNumber          null.String   `json:"vehicleNumber"`
	BookedAt               null.Time     `json:"bookedAt"`
	UserData               UserData      `json:"userData"`
	ExpectedDuration       null.Float    `json:"expectedDuration"`
	BookingStatus          BookingStatus `json:"bookingStatus"`
	MLDetection            *MLDetection  `json:"mlDetection"`
	LastStatusUpdateSource StatusSource  `json:"lastStatusUpdateSource,omitempty"`
	CreatedAt              time.Time     `json:"createdAt"`
	UpdatedAt              time.Time     `json:"updatedAt"`
}

const DefaultFloor = 1

// NewParkingSlot returns a free, never-booked slot.
func NewParkingSlot(slotNumber int) *ParkingSlot {
	return &ParkingSlot{
		SlotNumber: slotNumber,
		Floor:      DefaultFloor,
		UserData:   EmptyUserData(),
	}
}

// HasActiveBooking reports whether the slot is held by a human booking.
func (s *ParkingSlot) HasActiveBooking() bool {
	return s.IsOccupied && s.BookingStatus == BookingActive && s.BookedAt.Valid
}

// ClearBooking resets every booking field to its unoccupied default.
func (s *ParkingSlot) ClearBooking(status BookingStatus) {
	s.IsOccupied = false
	s.VehicleNumber = null.String{}
	s.BookedAt = null.Time{}
	s.UserData = EmptyUserData()
	s.ExpectedDuration = null.Float{}
	s.BookingStatus = status
}

// Clone returns a deep copy.
func (s *ParkingSlot) Clone() *ParkingSlot {
	c := *s
	if s.MLDetection != nil {
		d := *s.MLDetection
		c.MLDetection = &d
	}
	return &c
}

// SlotFields selects the column groups a Save writes.
type SlotFields uint8

const (
	// FieldOccupancy covers isOccupied and lastStatusUpdateSource.
	FieldOccupancy SlotFields = 1 << iota
	// FieldBooking covers vehicleNumber, bookedAt, userData, expectedDuration and bookingStatus.
	FieldBooking
	// FieldDetection covers mlDetection.
	FieldDetection
	FieldFloor

	AllFields = FieldOccupancy | FieldBooking | FieldDetection | FieldFloor
)

func (f SlotFields) Has(g SlotFields) bool {
	return f&g != 0
}

// Merge copies the selected field groups from src into dst.
func Merge(dst, src *ParkingSlot, fields SlotFields) {
	if fields.Has(FieldOccupancy) {
		dst.IsOccupied = src.IsOccupied
		dst.LastStatusUpdateSource = src.LastStatusUpdateSource
	}
	if fields.Has(FieldBooking) {
		dst.VehicleNumber = src.VehicleNumber
		dst.BookedAt = src.BookedAt
		dst.UserData = src.UserData
		dst.ExpectedDuration = src.ExpectedDuration
		dst.BookingStatus = src.BookingStatus
	}
	if fields.Has(FieldDetection) {
		if src.MLDetection == nil {
			dst.MLDetection = nil
		} else {
			d := *src.MLDetection
			dst.MLDetection = &d
		}
	}
	if fields.Has(FieldFloor) {
		dst.Floor = src.Floor
	}
}

type AddSlotDTO struct {
	SlotNumber *FlexInt `json:"slotNumber"`
	Floor      *FlexInt `json:"floor"`
}

type BookSlotDTO struct {
	SlotNumber       *FlexInt    `json:"slotNumber"`
	VehicleNumber    string      `json:"vehicleNumber"`
	UserData         *UserInput  `json:"userData"`
	ExpectedDuration *float64    `json:"expectedDuration"`
	VehicleType      VehicleType `json:"vehicleType"`
}

type UserInput struct {
	Name        string `json:"name"`
	PhoneNumber string `json:"phoneNumber"`
	Email       string `json:"email"`
}

type FreeSlotDTO struct {
	SlotNumber *FlexInt `json:"slotNumber"`
}
