package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// FlexInt is an integer that also accepts a numeric JSON string, the way the ML producers send slot ids.
type FlexInt int

func (n *FlexInt) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		v, err := strconv.Atoi(strings.TrimSpace(s))
		if err != nil {
			return fmt.Errorf("%q is not an integer", s)
		}
		*n = FlexInt(v)
		return nil
	}
	var f float64
	if err := json.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("%s is not an integer", data)
	}
	if f != math.Trunc(f) || math.IsInf(f, 0) {
		return fmt.Errorf("%s is not an integer", data)
	}
	*n = FlexInt(f)
	return nil
}

func (n FlexInt) Int() int {
	return int(n)
}

// DetectionTime accepts an RFC 3339 string or epoch milliseconds.
type DetectionTime struct {
	Time time.Time
}

func (t *DetectionTime) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		parsed, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return fmt.Errorf("failed to parse timestamp: %v", err)
		}
		t.Time = parsed.UTC()
		return nil
	}
	var ms int64
	if err := json.Unmarshal(data, &ms); err != nil {
		return fmt.Errorf("failed to parse timestamp: %v", err)
	}
	t.Time = time.UnixMilli(ms).UTC()
	return nil
}

func (t DetectionTime) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.Time.Format(time.RFC3339Nano))
}
