package domain

import (
	"gopkg.in/guregu/null.v4"
)

// BookingDetails is the summary returned when a slot is booked.
type BookingDetails struct {
	SlotNumber       int         `json:"slotNumber"`
	Floor            int         `json:"floor"`
	BookedAt         null.Time   `json:"bookedAt"`
	ExpectedDuration null.Float  `json:"expectedDuration"`
	VehicleType      VehicleType `json:"vehicleType"`
}

// BookingReceipt captures a finished occupancy period before the slot is cleared.
type BookingReceipt struct {
	SlotNumber    int           `json:"slotNumber"`
	VehicleNumber null.String   `json:"vehicleNumber"`
	UserData      UserData      `json:"userData"`
	BookedAt      null.Time     `json:"bookedAt"`
	Duration      int           `json:"duration"` // whole hours, rounded up
	Status        BookingStatus `json:"status"`
}

type BookingResult struct {
	Slot    *ParkingSlot
	Details BookingDetails
}

type FreeResult struct {
	Slot    *ParkingSlot
	Receipt BookingReceipt
}

type DetectionResult struct {
	Slot    *ParkingSlot
	Created bool
}
