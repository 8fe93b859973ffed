package reading

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/pestguard/telemetry-core/tools/timeparser"
)

// Normalizer coerces raw device payloads into canonical Readings. It never
// returns an error: malformed input degrades to a default-valued Reading
// with Fault set, because ingestion must not fail on bad device input.
type Normalizer struct {
	timestampToleranceMinutes int
}

// NewNormalizer creates a normalizer. Device timestamps further than the
// tolerance from the receive time are discarded in favor of receive time.
func NewNormalizer(timestampToleranceMinutes int) *Normalizer {
	return &Normalizer{
		timestampToleranceMinutes: timestampToleranceMinutes,
	}
}

// Normalize parses a raw payload into a Reading. All four electrical
// fields are numeric and non-negative in the result, status booleans are
// coerced via truthiness, auto_mode defaults to true, and the timestamp
// falls back to receivedAt when the device value is absent or unusable.
func (n *Normalizer) Normalize(raw []byte, source string, receivedAt time.Time) (out *Reading) {
	out = &Reading{
		DeviceID:  UnknownDeviceID,
		AutoMode:  true,
		Timestamp: receivedAt.UTC(),
		Source:    source,
	}

	defer func() {
		if p := recover(); p != nil {
			out = &Reading{
				DeviceID:  UnknownDeviceID,
				AutoMode:  true,
				Timestamp: receivedAt.UTC(),
				Source:    source,
				Fault:     fmt.Sprintf("normalizer fault: %v", p),
			}
		}
	}()

	var payload map[string]interface{}
	if err := json.Unmarshal(raw, &payload); err != nil {
		out.Fault = fmt.Sprintf("unparseable payload: %v", err)
		return out
	}

	var faults []string

	if id, ok := deviceIDField(payload); ok {
		out.DeviceID = id
	}

	out.Voltage = floatField(payload, "voltage", &faults)
	out.Current = floatField(payload, "current", &faults)
	out.Power = floatField(payload, "power", &faults)
	out.Energy = floatField(payload, "energy", &faults)

	out.PIRStatus = boolField(payload, "pir_status", false)
	out.PumpStatus = boolField(payload, "pump_status", false)
	out.AutoMode = boolField(payload, "auto_mode", true)

	if ts, present := payload["timestamp"]; present {
		t, err := parseTimestamp(ts)
		switch {
		case err != nil:
			faults = append(faults, fmt.Sprintf("invalid timestamp: %v", err))
		case !timeparser.IsWithinTolerance(t, receivedAt, n.timestampToleranceMinutes):
			faults = append(faults, fmt.Sprintf("timestamp outside tolerance window (±%d minutes)", n.timestampToleranceMinutes))
		default:
			out.Timestamp = t.UTC()
		}
	}

	if len(faults) > 0 {
		out.Fault = strings.Join(faults, "; ")
	}
	return out
}

func deviceIDField(payload map[string]interface{}) (string, bool) {
	for _, key := range []string{"device_id", "device"} {
		switch v := payload[key].(type) {
		case string:
			if v != "" {
				return v, true
			}
		case float64:
			// ESP32 chip IDs arrive as bare numbers from some firmwares
			return strconv.FormatFloat(v, 'f', -1, 64), true
		}
	}
	return "", false
}

// floatField parses an electrical measurement. Missing fields are a normal
// partial payload and coerce to 0 silently; present-but-garbage values
// coerce to 0 with a fault note.
func floatField(payload map[string]interface{}, key string, faults *[]string) float64 {
	v, present := payload[key]
	if !present || v == nil {
		return 0
	}

	var f float64
	switch val := v.(type) {
	case float64:
		f = val
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(val), 64)
		if err != nil {
			*faults = append(*faults, fmt.Sprintf("non-numeric %s %q", key, val))
			return 0
		}
		f = parsed
	default:
		*faults = append(*faults, fmt.Sprintf("non-numeric %s of type %T", key, v))
		return 0
	}

	if math.IsNaN(f) || math.IsInf(f, 0) {
		*faults = append(*faults, fmt.Sprintf("non-finite %s", key))
		return 0
	}
	if f < 0 {
		*faults = append(*faults, fmt.Sprintf("negative %s %.3f clamped", key, f))
		return 0
	}
	return f
}

// boolField coerces a status flag via truthiness: booleans as-is, numbers
// by non-zero, strings by ParseBool with non-empty as a last resort.
func boolField(payload map[string]interface{}, key string, def bool) bool {
	v, present := payload[key]
	if !present || v == nil {
		return def
	}

	switch val := v.(type) {
	case bool:
		return val
	case float64:
		return val != 0
	case string:
		if b, err := strconv.ParseBool(strings.ToLower(strings.TrimSpace(val))); err == nil {
			return b
		}
		return strings.TrimSpace(val) != ""
	default:
		return def
	}
}

func parseTimestamp(v interface{}) (time.Time, error) {
	switch val := v.(type) {
	case string:
		return timeparser.ParseDeviceTimestamp(val)
	case float64:
		return timeparser.FromUnix(val)
	default:
		return time.Time{}, fmt.Errorf("unsupported timestamp type %T", v)
	}
}
