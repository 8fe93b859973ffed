package policy

import (
	"sync"
	"time"

	"github.com/pestguard/telemetry-core/internal/reading"
)

// Decision reasons, persisted alongside the status row.
const (
	ReasonMotionAndPump = "motion_and_pump_active"
	ReasonMotion        = "motion_detected"
	ReasonPump          = "pump_active"
	ReasonIdle          = "no_sensors_active"
)

// Decision states whether a reading's sensor-status row is worth
// persisting. The electrical measurement is always persisted separately;
// this only governs the higher-cardinality status stream. PumpToggled
// reports an edge on the pump flag relative to the previous reading and
// feeds the pump notification, never the persistence decision.
type Decision struct {
	PersistRow  bool
	Reason      string
	PumpToggled bool
}

// Policy decides which sensor-status rows to persist. Idle heartbeats
// are skipped; status rows are written only at activity points.
// Per-device state is kept for edge detection; the persist decision
// itself is stateless per reading.
type Policy struct {
	mu     sync.Mutex
	states map[string]*deviceState
}

type deviceState struct {
	lastPIR     bool
	lastPump    bool
	lastVoltage float64
	lastCurrent float64
	lastPower   float64
	lastEnergy  float64
	lastSaved   time.Time
}

func New() *Policy {
	return &Policy{states: make(map[string]*deviceState)}
}

// Decide evaluates one reading. The status row persists iff motion or the
// pump is active; the reason names which. at is the ingest time used to
// stamp the device's last-saved marker.
func (p *Policy) Decide(deviceID string, r *reading.Reading, at time.Time) Decision {
	p.mu.Lock()
	defer p.mu.Unlock()

	var d Decision
	switch {
	case r.PIRStatus && r.PumpStatus:
		d = Decision{PersistRow: true, Reason: ReasonMotionAndPump}
	case r.PIRStatus:
		d = Decision{PersistRow: true, Reason: ReasonMotion}
	case r.PumpStatus:
		d = Decision{PersistRow: true, Reason: ReasonPump}
	default:
		d = Decision{PersistRow: false, Reason: ReasonIdle}
	}

	st, seen := p.states[deviceID]
	if !seen {
		st = &deviceState{}
		p.states[deviceID] = st
	} else {
		d.PumpToggled = st.lastPump != r.PumpStatus
	}

	st.lastPIR = r.PIRStatus
	st.lastPump = r.PumpStatus
	st.lastVoltage = r.Voltage
	st.lastCurrent = r.Current
	st.lastPower = r.Power
	st.lastEnergy = r.Energy
	if d.PersistRow {
		st.lastSaved = at
	}
	return d
}
