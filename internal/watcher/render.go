package watcher

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"

	"github.com/m3xD/parkus/internal/domain"
)

const separator = "-----------------------------------"

// Renderer writes one change event for a human or a downstream tool.
type Renderer interface {
	Render(ev domain.ChangeEvent) error
}

// TextRenderer prints the event as a short block of styled lines.
type TextRenderer struct {
	out    io.Writer
	loc    *time.Location
	insert lipgloss.Style
	update lipgloss.Style
	remove lipgloss.Style
	other  lipgloss.Style
}

// NewTextRenderer styles output for out's terminal; plain forces uncolored text.
func NewTextRenderer(out io.Writer, loc *time.Location, plain bool) *TextRenderer {
	r := lipgloss.NewRenderer(out)
	if plain {
		r.SetColorProfile(termenv.Ascii)
	}
	if loc == nil {
		loc = time.Local
	}
	return &TextRenderer{
		out:    out,
		loc:    loc,
		insert: r.NewStyle().Foreground(lipgloss.Color("2")),
		update: r.NewStyle().Foreground(lipgloss.Color("3")),
		remove: r.NewStyle().Foreground(lipgloss.Color("1")),
		other:  r.NewStyle().Faint(true),
	}
}

func (t *TextRenderer) Render(ev domain.ChangeEvent) error {
	stamp := ev.Timestamp.In(t.loc).Format("15:04:05")

	var style lipgloss.Style
	var lines []string
	switch ev.OperationType {
	case domain.OperationInsert:
		style = t.insert
		lines = append(lines, fmt.Sprintf("[%s] New parking slot created: Slot #%d", stamp, ev.SlotNumber))
		if doc := ev.FullDocument; doc != nil {
			lines = append(lines, fmt.Sprintf("Floor: %d", doc.Floor))
			lines = append(lines, "Slot status: "+occupancy(doc.IsOccupied))
		}
	case domain.OperationUpdate:
		style = t.update
		lines = append(lines, fmt.Sprintf("[%s] Parking slot updated: Slot #%d", stamp, ev.SlotNumber))
		lines = append(lines, updateLines(ev)...)
	case domain.OperationDelete:
		style = t.remove
		lines = append(lines, fmt.Sprintf("[%s] Parking slot deleted: Slot #%d", stamp, ev.SlotNumber))
	default:
		style = t.other
		lines = append(lines, fmt.Sprintf("[%s] Unrecognized change %q: Slot #%d", stamp, string(ev.OperationType), ev.SlotNumber))
	}

	var b strings.Builder
	for _, line := range lines {
		b.WriteString(style.Render(line))
		b.WriteByte('\n')
	}
	b.WriteString(separator)
	b.WriteByte('\n')
	_, err := io.WriteString(t.out, b.String())
	return err
}

// updateLines describes whatever the delta carries. Deltas without any known field fall back to
// the full document, and events with neither print only the header.
func updateLines(ev domain.ChangeEvent) []string {
	var lines []string
	u := ev.UpdatedFields

	if v, ok := u["isOccupied"].(bool); ok {
		lines = append(lines, "Slot status changed: "+occupancy(v))
	}
	if name, ok := u["userData.name"].(string); ok && name != "" {
		lines = append(lines, "New booking by: "+name)
	}
	if v, ok := u["vehicleNumber"].(string); ok && v != "" {
		lines = append(lines, "Vehicle: "+v)
	}
	if d, ok := u["expectedDuration"].(float64); ok {
		lines = append(lines, "Duration: "+strconv.FormatFloat(d, 'f', -1, 64)+" hours")
	}
	if s, ok := u["bookingStatus"].(string); ok && s != "" {
		lines = append(lines, "Booking status: "+s)
	}
	if s, ok := u["mlDetection.status"].(string); ok {
		line := "ML detection: " + s
		if c, ok := detectionConfidence(ev); ok {
			line += fmt.Sprintf(" (confidence %.2f)", c)
		}
		lines = append(lines, line)
	}
	if s, ok := u["lastStatusUpdateSource"].(string); ok && s != "" {
		lines = append(lines, "Updated by: "+s)
	}

	if len(lines) == 0 && ev.FullDocument != nil {
		lines = append(lines, "Slot status: "+occupancy(ev.FullDocument.IsOccupied))
	}
	return lines
}

func detectionConfidence(ev domain.ChangeEvent) (float64, bool) {
	if c, ok := ev.UpdatedFields["mlDetection.confidence"].(float64); ok {
		return c, true
	}
	if ev.FullDocument != nil && ev.FullDocument.MLDetection != nil {
		return ev.FullDocument.MLDetection.Confidence, true
	}
	return 0, false
}

func occupancy(occupied bool) string {
	if occupied {
		return "Occupied"
	}
	return "Available"
}

// JSONRenderer writes one JSON document per line.
type JSONRenderer struct {
	enc *json.Encoder
}

func NewJSONRenderer(out io.Writer) *JSONRenderer {
	return &JSONRenderer{enc: json.NewEncoder(out)}
}

func (j *JSONRenderer) Render(ev domain.ChangeEvent) error {
	return j.enc.Encode(ev)
}

// NewRenderer picks a renderer by name: "text" or "json".
func NewRenderer(format string, out io.Writer, loc *time.Location, plain bool) (Renderer, error) {
	switch strings.ToLower(format) {
	case "", "text":
		return NewTextRenderer(out, loc, plain), nil
	case "json":
		return NewJSONRenderer(out), nil
	}
	return nil, fmt.Errorf("unknown output format %q: must be text or json", format)
}
