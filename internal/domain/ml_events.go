package domain

import (
	"encoding/json"
	"time"
)

// MLDetectionMessage is what the vision pipeline sends, over HTTP or the detection queue.
type MLDetectionMessage struct {
	SlotID     *FlexInt        `json:"slotId"`
	Status     DetectionStatus `json:"status"`
	Confidence *float64        `json:"confidence"`
	Timestamp  *DetectionTime  `json:"timestamp,omitempty"`
}

type DetectionLogStatus string

const (
	DetectionProcessed DetectionLogStatus = "processed"
	DetectionRejected  DetectionLogStatus = "rejected"
	DetectionFailed    DetectionLogStatus = "error"
)

// DetectionLog records one queue-delivered detection and how it was handled.
type DetectionLog struct {
	ID              int64              `json:"id"`
	ReceivedAt      time.Time          `json:"received_at"`
	MessageID       string             `json:"message_id,omitempty"`
	SlotNumber      *int               `json:"slot_number,omitempty"`
	Payload         json.RawMessage    `json:"payload"`
	ProcessedStatus DetectionLogStatus `json:"processed_status"`
	ProcessingNotes string             `json:"processing_notes,omitempty"`
}
