package fallback

import (
	"sync"
	"time"

	"github.com/pestguard/telemetry-core/internal/reading"
)

// Cache keeps each device's last known-good electrical values and papers
// over transient all-zero samples from flaky PZEM sensors. State lives for
// the process lifetime only; after a restart, devices must deliver one
// good reading before fallback substitution resumes.
type Cache struct {
	mu      sync.Mutex
	records map[string]*record
}

// record holds per-field last known-good values. A zero field means no
// good value has been observed yet; committed values never regress to zero.
type record struct {
	voltage    float64
	current    float64
	power      float64
	energy     float64
	observedAt time.Time
}

func New() *Cache {
	return &Cache{records: make(map[string]*record)}
}

// Enrich applies the fallback rules to a normalized reading and returns
// the reading to carry forward. When voltage, current and power are all
// zero, all four electrical fields are replaced from the device's record
// (energy keeps the incoming value if none is recorded) and the result is
// tagged fallback-derived. Otherwise each strictly-positive field commits
// as the new known-good value and zero fields pass through untouched.
func (c *Cache) Enrich(r *reading.Reading) *reading.Reading {
	c.mu.Lock()
	defer c.mu.Unlock()

	rec := c.records[r.DeviceID]

	if r.AllElectricalZero() {
		if rec == nil {
			// Nothing observed yet; pass the zeros through untagged.
			return r
		}
		out := r.Clone()
		out.Voltage = rec.voltage
		out.Current = rec.current
		out.Power = rec.power
		if rec.energy > 0 {
			out.Energy = rec.energy
		}
		out.FallbackUsed = true
		return out
	}

	if rec == nil {
		rec = &record{}
		c.records[r.DeviceID] = rec
	}

	committed := false
	if r.Voltage > 0 {
		rec.voltage = r.Voltage
		committed = true
	}
	if r.Current > 0 {
		rec.current = r.Current
		committed = true
	}
	if r.Power > 0 {
		rec.power = r.Power
		committed = true
	}
	if r.Energy > 0 {
		rec.energy = r.Energy
		committed = true
	}
	if committed {
		rec.observedAt = r.Timestamp
	}
	return r
}
