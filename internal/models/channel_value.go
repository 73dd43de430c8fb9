// Package models contains domain types for the PMPS diagnostic service.
package models

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"
)

// Severity is the alarm severity of a channel.
type Severity int

const (
	SeverityNoAlarm      Severity = 0
	SeverityMinor        Severity = 1
	SeverityMajor        Severity = 2
	SeverityInvalid      Severity = 3
	SeverityDisconnected Severity = 4
)

func (s Severity) String() string {
	switch s {
	case SeverityNoAlarm:
		return "NO_ALARM"
	case SeverityMinor:
		return "MINOR"
	case SeverityMajor:
		return "MAJOR"
	case SeverityInvalid:
		return "INVALID"
	case SeverityDisconnected:
		return "DISCONNECTED"
	default:
		return "UNKNOWN"
	}
}

// ChannelValue is the last known state of a channel.
type ChannelValue struct {
	Address   string    `json:"address" msgpack:"address"`
	Value     any       `json:"value" msgpack:"value"` // bool, int64, float64, string or []float64
	Timestamp time.Time `json:"timestamp" msgpack:"timestamp"`
	Severity  Severity  `json:"severity" msgpack:"severity"`
	Connected bool      `json:"connected" msgpack:"connected"`
	// Enums holds the state strings of an enumerated channel.
	Enums []string `json:"enums,omitempty" msgpack:"enums,omitempty"`
}

// ToInt64 converts a channel value to an integer. Floats are truncated.
func ToInt64(v any) (int64, bool) {
	switch x := v.(type) {
	case int64:
		return x, true
	case int:
		return int64(x), true
	case int32:
		return int64(x), true
	case uint32:
		return int64(x), true
	case float64:
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return 0, false
		}
		return int64(x), true
	case float32:
		return int64(x), true
	case bool:
		if x {
			return 1, true
		}
		return 0, true
	case json.Number:
		if i, err := x.Int64(); err == nil {
			return i, true
		}
		f, err := x.Float64()
		return int64(f), err == nil
	case string:
		i, err := strconv.ParseInt(strings.TrimSpace(x), 10, 64)
		return i, err == nil
	default:
		return 0, false
	}
}

// ToFloat64 converts a channel value to a float.
func ToFloat64(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case float32:
		return float64(x), true
	case int64:
		return float64(x), true
	case int:
		return float64(x), true
	case int32:
		return float64(x), true
	case uint32:
		return float64(x), true
	case bool:
		if x {
			return 1, true
		}
		return 0, true
	case json.Number:
		f, err := x.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		return f, err == nil
	default:
		return 0, false
	}
}

// ToBool converts a channel value to a boolean. Enum strings such as
// "TRUE" and "FALSE" are accepted.
func ToBool(v any) (bool, bool) {
	switch x := v.(type) {
	case bool:
		return x, true
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(x))
		return b, err == nil
	default:
		f, ok := ToFloat64(v)
		return ok && f != 0, ok
	}
}

// ToString formats a channel value as text.
func ToString(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case bool:
		if x {
			return "TRUE"
		}
		return "FALSE"
	case float64:
		return strconv.FormatFloat(x, 'g', -1, 64)
	default:
		if i, ok := ToInt64(v); ok {
			return strconv.FormatInt(i, 10)
		}
		b, _ := json.Marshal(v)
		return string(b)
	}
}

// ToFloat64s converts an array channel value.
func ToFloat64s(v any) ([]float64, bool) {
	switch x := v.(type) {
	case []float64:
		return x, true
	case []any:
		out := make([]float64, 0, len(x))
		for _, e := range x {
			f, ok := ToFloat64(e)
			if !ok {
				return nil, false
			}
			out = append(out, f)
		}
		return out, true
	case []int64:
		out := make([]float64, len(x))
		for i, e := range x {
			out[i] = float64(e)
		}
		return out, true
	default:
		return nil, false
	}
}
