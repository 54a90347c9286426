package watcher

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/m3xD/parkus/internal/domain"
)

func decodeEvent(t *testing.T, raw string) domain.ChangeEvent {
	t.Helper()
	var ev domain.ChangeEvent
	require.NoError(t, json.Unmarshal([]byte(raw), &ev))
	return ev
}

func TestTextRenderer(t *testing.T) {
	tests := []struct {
		name  string
		event string
	}{
		{"insert", `{"operationType":"insert","slotNumber":7,"timestamp":"2024-03-01T09:00:00Z",
			"fullDocument":{"slotNumber":7,"floor":2,"isOccupied":false,"userData":{"vehicleType":"car"}}}`},
		{"booking", `{"operationType":"update","slotNumber":1,"timestamp":"2024-03-01T09:00:00Z","updatedFields":{
			"isOccupied":true,"userData.name":"Asha","userData.phoneNumber":"9999999999","vehicleNumber":"KA01AB1234",
			"expectedDuration":2,"bookingStatus":"active","lastStatusUpdateSource":"booking"}}`},
		{"ml_detection", `{"operationType":"update","slotNumber":5,"timestamp":"2024-03-01T09:00:00Z","updatedFields":{
			"isOccupied":true,"mlDetection.status":"occupied","mlDetection.confidence":0.92,
			"mlDetection.lastUpdate":"2024-03-01T09:00:00Z","lastStatusUpdateSource":"ml_detection"}}`},
		{"free", `{"operationType":"update","slotNumber":1,"timestamp":"2024-03-01T12:00:00Z","updatedFields":{
			"isOccupied":false,"userData.name":null,"vehicleNumber":null,"expectedDuration":null,"bookingStatus":"completed"}}`},
		{"partial_delta", `{"operationType":"update","slotNumber":3,"timestamp":"2024-03-01T09:00:00Z","updatedFields":{"floor":4}}`},
		{"document_only", `{"operationType":"update","slotNumber":3,"timestamp":"2024-03-01T09:00:00Z",
			"fullDocument":{"slotNumber":3,"floor":1,"isOccupied":true,"userData":{"vehicleType":"car"}}}`},
		{"delete", `{"operationType":"delete","slotNumber":9,"timestamp":"2024-03-01T09:00:00Z"}`},
		{"unknown", `{"operationType":"replace","slotNumber":4,"timestamp":"2024-03-01T09:00:00Z"}`},
	}

	g := goldie.New(t, goldie.WithFixtureDir("testdata"), goldie.WithNameSuffix(".golden"))
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			r := NewTextRenderer(&out, time.UTC, true)
			require.NoError(t, r.Render(decodeEvent(t, tt.event)))
			g.Assert(t, tt.name, out.Bytes())
		})
	}
}

func TestTextRenderer_UsesLocation(t *testing.T) {
	var out bytes.Buffer
	r := NewTextRenderer(&out, time.FixedZone("IST", 5*3600+1800), true)
	require.NoError(t, r.Render(domain.ChangeEvent{
		OperationType: domain.OperationDelete,
		SlotNumber:    2,
		Timestamp:     time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC),
	}))
	assert.Contains(t, out.String(), "[14:30:00] Parking slot deleted: Slot #2")
}

func TestJSONRenderer(t *testing.T) {
	var out bytes.Buffer
	r, err := NewRenderer("json", &out, time.UTC, true)
	require.NoError(t, err)

	ev := domain.ChangeEvent{
		ID:            "e1",
		Sequence:      3,
		OperationType: domain.OperationUpdate,
		SlotNumber:    1,
		UpdatedFields: map[string]any{"isOccupied": true},
		Timestamp:     time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC),
	}
	require.NoError(t, r.Render(ev))
	require.NoError(t, r.Render(ev))

	lines := bytes.Split(bytes.TrimSpace(out.Bytes()), []byte("\n"))
	require.Len(t, lines, 2)
	assert.JSONEq(t, `{"id":"e1","sequence":3,"operationType":"update","slotNumber":1,
		"updatedFields":{"isOccupied":true},"timestamp":"2024-03-01T09:00:00Z"}`, string(lines[0]))
}

func TestNewRenderer_UnknownFormat(t *testing.T) {
	_, err := NewRenderer("yaml", &bytes.Buffer{}, time.UTC, true)
	assert.Error(t, err)
}
