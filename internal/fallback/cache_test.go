package fallback_test

import (
	"testing"
	"time"

	"github.com/pestguard/telemetry-core/internal/fallback"
	"github.com/pestguard/telemetry-core/internal/reading"
)

func sample(deviceID string, voltage, current, power, energy float64) *reading.Reading {
	return &reading.Reading{
		DeviceID:  deviceID,
		Voltage:   voltage,
		Current:   current,
		Power:     power,
		Energy:    energy,
		AutoMode:  true,
		Timestamp: time.Date(2025, 12, 29, 10, 30, 0, 0, time.UTC),
		Source:    "test",
	}
}

func TestEnrich_AllZeroSubstitutesKnownGood(t *testing.T) {
	c := fallback.New()

	c.Enrich(sample("d2", 219, 0.5, 110, 2.4))

	out := c.Enrich(sample("d2", 0, 0, 0, 0))

	if out.Voltage != 219 || out.Current != 0.5 || out.Power != 110 {
		t.Errorf("Expected substituted values 219/0.5/110, got %f/%f/%f", out.Voltage, out.Current, out.Power)
	}
	if out.Energy != 2.4 {
		t.Errorf("Expected substituted energy 2.4, got %f", out.Energy)
	}
	if !out.FallbackUsed {
		t.Error("Expected fallback flag to be set")
	}
}

func TestEnrich_AllZeroWithoutHistoryPassesThrough(t *testing.T) {
	c := fallback.New()

	out := c.Enrich(sample("fresh", 0, 0, 0, 0))

	if out.Voltage != 0 || out.Current != 0 || out.Power != 0 || out.Energy != 0 {
		t.Errorf("Expected zeros to pass through, got %+v", out)
	}
	if out.FallbackUsed {
		t.Error("Expected no fallback flag without prior data")
	}
}

func TestEnrich_PartialZeroNotReplacedFromCache(t *testing.T) {
	c := fallback.New()

	c.Enrich(sample("d1", 220, 0.6, 120, 3.0))

	// voltage present, current and power zero: not the all-zero branch
	out := c.Enrich(sample("d1", 221, 0, 0, 0))

	if out.Voltage != 221 {
		t.Errorf("Expected incoming voltage 221, got %f", out.Voltage)
	}
	if out.Current != 0 || out.Power != 0 {
		t.Errorf("Expected zero fields passed through, got current=%f power=%f", out.Current, out.Power)
	}
	if out.FallbackUsed {
		t.Error("Expected no fallback flag on a partial-zero reading")
	}
}

func TestEnrich_PositiveFieldsCommit(t *testing.T) {
	c := fallback.New()

	c.Enrich(sample("d1", 220, 0, 0, 0))
	c.Enrich(sample("d1", 0, 0.7, 0, 0))

	out := c.Enrich(sample("d1", 0, 0, 0, 0))

	if out.Voltage != 220 {
		t.Errorf("Expected committed voltage 220, got %f", out.Voltage)
	}
	if out.Current != 0.7 {
		t.Errorf("Expected committed current 0.7, got %f", out.Current)
	}
	if out.Power != 0 {
		t.Errorf("Expected no known-good power, got %f", out.Power)
	}
	if !out.FallbackUsed {
		t.Error("Expected fallback flag on all-zero substitution")
	}
}

func TestEnrich_EnergyKeepsIncomingWhenNoneRecorded(t *testing.T) {
	c := fallback.New()

	c.Enrich(sample("d3", 218, 0.4, 90, 0))

	in := sample("d3", 0, 0, 0, 5.5)
	out := c.Enrich(in)

	if out.Energy != 5.5 {
		t.Errorf("Expected incoming energy 5.5 kept, got %f", out.Energy)
	}
	if !out.FallbackUsed {
		t.Error("Expected fallback flag to be set")
	}
}

func TestEnrich_KnownGoodNeverRegressesToZero(t *testing.T) {
	c := fallback.New()

	c.Enrich(sample("d1", 220, 0.5, 100, 2.0))
	c.Enrich(sample("d1", 219, 0, 0, 0)) // zeros must not overwrite record

	out := c.Enrich(sample("d1", 0, 0, 0, 0))

	if out.Current != 0.5 || out.Power != 100 {
		t.Errorf("Expected record to keep 0.5/100, got %f/%f", out.Current, out.Power)
	}
	if out.Voltage != 219 {
		t.Errorf("Expected latest committed voltage 219, got %f", out.Voltage)
	}
}

func TestEnrich_InputReadingNotMutated(t *testing.T) {
	c := fallback.New()

	c.Enrich(sample("d1", 220, 0.5, 100, 2.0))

	in := sample("d1", 0, 0, 0, 0)
	c.Enrich(in)

	if in.Voltage != 0 || in.FallbackUsed {
		t.Error("Expected input reading to remain unchanged")
	}
}

func TestEnrich_DevicesIsolated(t *testing.T) {
	c := fallback.New()

	c.Enrich(sample("a", 230, 1.0, 200, 9.0))

	out := c.Enrich(sample("b", 0, 0, 0, 0))

	if out.FallbackUsed || out.Voltage != 0 {
		t.Errorf("Expected device b untouched by device a's record, got %+v", out)
	}
}
