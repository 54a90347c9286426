package domain

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"time"
)

type OperationType string

const (
	OperationInsert OperationType = "insert"
	OperationUpdate OperationType = "update"
	OperationDelete OperationType = "delete"
)

// ChangeEvent describes one committed mutation of a parking slot.
type ChangeEvent struct {
	ID            string         `json:"id,omitempty"`
	Sequence      uint64         `json:"sequence,omitempty"`
	OperationType OperationType  `json:"operationType"`
	SlotNumber    int            `json:"slotNumber"`
	FullDocument  *ParkingSlot   `json:"fullDocument,omitempty"`
	UpdatedFields map[string]any `json:"updatedFields,omitempty"`
	Timestamp     time.Time      `json:"timestamp"`
}

// Fields not reported in update deltas; the store maintains them on every write.
var deltaIgnored = map[string]bool{
	"createdAt": true,
	"updatedAt": true,
}

// NewChangeEvent builds the event for a committed mutation. before is nil for inserts, after is nil for deletes.
func NewChangeEvent(before, after *ParkingSlot, at time.Time) (ChangeEvent, error) {
	ev := ChangeEvent{Timestamp: at.UTC()}
	switch {
	case before == nil && after != nil:
		ev.OperationType = OperationInsert
		ev.SlotNumber = after.SlotNumber
		ev.FullDocument = after.Clone()
	case before != nil && after != nil:
		ev.OperationType = OperationUpdate
		ev.SlotNumber = after.SlotNumber
		ev.FullDocument = after.Clone()
		delta, err := DiffSlots(before, after)
		if err != nil {
			return ChangeEvent{}, err
		}
		ev.UpdatedFields = delta
	case before != nil:
		ev.OperationType = OperationDelete
		ev.SlotNumber = before.SlotNumber
	default:
		return ChangeEvent{}, fmt.Errorf("change event needs a before or after image")
	}
	return ev, nil
}

// DiffSlots returns the fields of after that differ from before, keyed by dotted JSON path ("userData.name").
// Values carry their JSON-decoded form so the delta looks the same before and after a wire round trip.
func DiffSlots(before, after *ParkingSlot) (map[string]any, error) {
	b, err := flatten(before)
	if err != nil {
		return nil, err
	}
	a, err := flatten(after)
	if err != nil {
		return nil, err
	}
	delta := make(map[string]any)
	for k, v := range a {
		if deltaIgnored[k] {
			continue
		}
		if old, ok := b[k]; !ok || !reflect.DeepEqual(old, v) {
			delta[k] = v
		}
	}
	for k := range b {
		if _, ok := a[k]; ok || deltaIgnored[k] || replacedIn(a, k) {
			continue
		}
		delta[k] = nil
	}
	return delta, nil
}

// replacedIn reports whether a path missing from doc was superseded by its parent or its children,
// as happens when a nested block switches between null and an object.
func replacedIn(doc map[string]any, path string) bool {
	if i := strings.IndexByte(path, '.'); i > 0 {
		if _, ok := doc[path[:i]]; ok {
			return true
		}
	}
	prefix := path + "."
	for k := range doc {
		if strings.HasPrefix(k, prefix) {
			return true
		}
	}
	return false
}

func flatten(slot *ParkingSlot) (map[string]any, error) {
	raw, err := json.Marshal(slot)
	if err != nil {
		return nil, fmt.Errorf("marshal slot %d: %w", slot.SlotNumber, err)
	}
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("unmarshal slot %d: %w", slot.SlotNumber, err)
	}
	out := make(map[string]any, len(doc))
	for k, v := range doc {
		if nested, ok := v.(map[string]any); ok {
			for nk, nv := range nested {
				out[k+"."+nk] = nv
			}
			continue
		}
		out[k] = v
	}
	return out, nil
}

// ChangedPaths lists the keys of an update delta in a stable order.
func (e ChangeEvent) ChangedPaths() []string {
	paths := make([]string, 0, len(e.UpdatedFields))
	for k := range e.UpdatedFields {
		paths = append(paths, k)
	}
	sort.Strings(paths)
	return paths
}
