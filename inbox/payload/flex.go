package payload

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
)

// flexBool decodes booleans sent as true/false, "true"/"false" or 1/0.
// Set is false when the field was absent or null.
type flexBool struct {
	Value bool
	Set   bool
}

func (b *flexBool) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || string(data) == "null" {
		return nil
	}
	raw := strings.ToLower(strings.Trim(string(data), `"`))
	switch raw {
	case "true", "1", "yes":
		b.Value, b.Set = true, true
	case "false", "0", "no", "":
		b.Value, b.Set = false, true
	default:
		if n, err := strconv.ParseFloat(raw, 64); err == nil {
			b.Value, b.Set = n != 0, true
		}
	}
	return nil
}

// flexInt decodes integers sent as numbers or numeric strings. Protobuf-style
// Long objects ({"low":..,"high":..}) are also accepted.
type flexInt int64

func (n *flexInt) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || string(data) == "null" {
		return nil
	}
	if data[0] == '{' {
		var long struct {
			Low  int64 `json:"low"`
			High int64 `json:"high"`
		}
		if err := json.Unmarshal(data, &long); err != nil {
			return nil
		}
		*n = flexInt(long.High<<32 | (long.Low & 0xffffffff))
		return nil
	}
	raw := strings.Trim(string(data), `"`)
	if v, err := strconv.ParseFloat(raw, 64); err == nil {
		*n = flexInt(int64(v))
	}
	return nil
}

// firstBool returns the first flag that was present.
func firstBool(values ...flexBool) bool {
	for _, v := range values {
		if v.Set {
			return v.Value
		}
	}
	return false
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
