package postgresql

import (
	"testing"
	"time"

	"github.com/m3xD/parkus/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const insertPayload = `{"op":"insert","at":"2024-03-01T10:00:00.5+00:00","old":null,"new":{
	"slot_number":7,"floor":2,"is_occupied":false,"vehicle_number":null,"booked_at":null,
	"user_name":null,"user_phone_number":null,"user_email":null,"vehicle_type":"car",
	"expected_duration":null,"booking_status":null,"ml_last_update":null,"ml_confidence":null,
	"ml_status":null,"last_status_update_source":"admin",
	"created_at":"2024-03-01T10:00:00.5+00:00","updated_at":"2024-03-01T10:00:00.5+00:00"}}`

const updatePayload = `{"op":"update","at":"2024-03-01T11:00:00+00:00","old":{
	"slot_number":7,"floor":2,"is_occupied":false,"vehicle_number":null,"booked_at":null,
	"user_name":null,"user_phone_number":null,"user_email":null,"vehicle_type":"car",
	"expected_duration":null,"booking_status":null,"ml_last_update":null,"ml_confidence":null,
	"ml_status":null,"last_status_update_source":"admin",
	"created_at":"2024-03-01T10:00:00+00:00","updated_at":"2024-03-01T10:00:00+00:00"},"new":{
	"slot_number":7,"floor":2,"is_occupied":true,"vehicle_number":null,"booked_at":null,
	"user_name":null,"user_phone_number":null,"user_email":null,"vehicle_type":"car",
	"expected_duration":null,"booking_status":null,"ml_last_update":"2024-03-01T11:00:00+00:00",
	"ml_confidence":0.9,"ml_status":"occupied","last_status_update_source":"ml_detection",
	"created_at":"2024-03-01T10:00:00+00:00","updated_at":"2024-03-01T11:00:00+00:00"}}`

func TestDecodeNotification_Insert(t *testing.T) {
	ev, err := decodeNotification(insertPayload)
	require.NoError(t, err)

	assert.Equal(t, domain.OperationInsert, ev.OperationType)
	assert.Equal(t, 7, ev.SlotNumber)
	require.NotNil(t, ev.FullDocument)
	assert.Equal(t, 2, ev.FullDocument.Floor)
	assert.Equal(t, domain.BookingStatus(""), ev.FullDocument.BookingStatus)
	assert.Nil(t, ev.FullDocument.MLDetection)
	assert.Equal(t, time.Date(2024, 3, 1, 10, 0, 0, 500_000_000, time.UTC), ev.Timestamp)
}

func TestDecodeNotification_UpdateCarriesDelta(t *testing.T) {
	ev, err := decodeNotification(updatePayload)
	require.NoError(t, err)

	assert.Equal(t, domain.OperationUpdate, ev.OperationType)
	assert.Equal(t, []string{
		"isOccupied",
		"lastStatusUpdateSource",
		"mlDetection.confidence",
		"mlDetection.lastUpdate",
		"mlDetection.status",
	}, ev.ChangedPaths())
	assert.Equal(t, true, ev.UpdatedFields["isOccupied"])
	assert.Equal(t, "occupied", ev.UpdatedFields["mlDetection.status"])
}

func TestDecodeNotification_Delete(t *testing.T) {
	ev, err := decodeNotification(`{"op":"delete","at":"2024-03-01T12:00:00+00:00","old":{"slot_number":3,"vehicle_type":"car",
		"created_at":"2024-03-01T10:00:00+00:00","updated_at":"2024-03-01T10:00:00+00:00"},"new":null}`)
	require.NoError(t, err)
	assert.Equal(t, domain.OperationDelete, ev.OperationType)
	assert.Equal(t, 3, ev.SlotNumber)
	assert.Nil(t, ev.FullDocument)
}

func TestDecodeNotification_Rejects(t *testing.T) {
	_, err := decodeNotification(`not json`)
	assert.Error(t, err)

	_, err = decodeNotification(`{"op":"update","at":"2024-03-01T12:00:00Z","old":null,"new":null}`)
	assert.Error(t, err)
}
