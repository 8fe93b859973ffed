package timeparser

import (
	"fmt"
	"strconv"
	"time"
)

// minEpochSeconds is 2000-01-01T00:00:00Z. ESP32 boards that have not
// synced NTP yet report their millis() uptime instead of an epoch; those
// values land far below this floor and must not be mistaken for timestamps.
const minEpochSeconds = 946684800

// ParseDeviceTimestamp attempts to parse a device-supplied timestamp with
// multiple formats, including numeric epoch strings.
func ParseDeviceTimestamp(raw string) (time.Time, error) {
	formats := []string{
		time.RFC3339Nano,
		time.RFC3339,
		"2006-01-02 15:04:05", // firmware datetime format
		"02/01/2006 15:04:05", // DD/MM/YYYY HH:mm:ss
	}

	var lastErr error
	for _, format := range formats {
		t, err := time.Parse(format, raw)
		if err == nil {
			return t, nil
		}
		lastErr = err
	}

	if f, err := strconv.ParseFloat(raw, 64); err == nil {
		t, err := FromUnix(f)
		if err == nil {
			return t, nil
		}
		lastErr = err
	}

	return time.Time{}, fmt.Errorf("failed to parse timestamp '%s': %w", raw, lastErr)
}

// FromUnix converts a numeric epoch value to UTC time. Values of 1e12 and
// above are read as milliseconds, anything else as seconds with a
// fractional part.
func FromUnix(f float64) (time.Time, error) {
	if f >= 1e12 {
		return time.UnixMilli(int64(f)).UTC(), nil
	}
	if f < minEpochSeconds {
		return time.Time{}, fmt.Errorf("epoch value %.0f predates year 2000, likely device uptime", f)
	}
	sec := int64(f)
	nsec := int64((f - float64(sec)) * 1e9)
	return time.Unix(sec, nsec).UTC(), nil
}

// IsWithinTolerance checks if the device timestamp is within tolerance of
// the time the reading was received.
func IsWithinTolerance(readingTime, receivedTime time.Time, toleranceMinutes int) bool {
	diff := readingTime.Sub(receivedTime)
	if diff < 0 {
		diff = -diff
	}
	return diff <= time.Duration(toleranceMinutes)*time.Minute
}
