// Package liveness derives online/offline status for devices from
// transport presence and reading recency, and emits reconnect
// notifications once per offline-to-online transition.
package liveness

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/juju/clock"
	"go.uber.org/zap"
)

// State is a device's position in the liveness state machine.
type State int

const (
	StateUnknown State = iota
	StateOnline
	StateOffline
)

func (s State) String() string {
	switch s {
	case StateOnline:
		return "online"
	case StateOffline:
		return "offline"
	default:
		return "unknown"
	}
}

// Status is the answer to a device status query. LastSeen is the zero
// time when the device has never been seen on any path.
type Status struct {
	DeviceID string    `json:"device_id"`
	Online   bool      `json:"online"`
	LastSeen time.Time `json:"last_seen"`
}

// ConnSource reports transport presence. LastSeen returns the zero time
// when the device has no live session.
type ConnSource interface {
	LastSeen(deviceID string) time.Time
}

// CacheSource reports the most recent cached reading per device.
type CacheSource interface {
	LastStored(deviceID string) (time.Time, bool)
}

// StoredSampleSource reports the most recent persisted sample. It is
// only consulted when neither the registry nor the cache know the
// device. A zero time with a nil error means no sample exists.
type StoredSampleSource interface {
	LastSampleTime(ctx context.Context, deviceID string) (time.Time, error)
}

// Notifier receives device lifecycle events. Implementations are fire
// and forget; delivery failures stay inside the sink.
type Notifier interface {
	Notify(kind, deviceID, message string)
}

type Tracker struct {
	log      *zap.Logger
	clk      clock.Clock
	window   time.Duration
	conns    ConnSource
	cache    CacheSource
	store    StoredSampleSource
	notifier Notifier

	mu     sync.Mutex
	states map[string]*deviceState
}

type deviceState struct {
	state    State
	lastSeen time.Time
}

func New(log *zap.Logger, clk clock.Clock, window time.Duration, conns ConnSource, cache CacheSource, store StoredSampleSource, notifier Notifier) *Tracker {
	return &Tracker{
		log:      log,
		clk:      clk,
		window:   window,
		conns:    conns,
		cache:    cache,
		store:    store,
		notifier: notifier,
		states:   make(map[string]*deviceState),
	}
}

// Observe records activity for a device at the given wall-clock time.
// Every ingestion path and device handshake reports here. When the
// device was unknown, offline, or silent for longer than the liveness
// window, the tracker emits one device_connected notification.
func (t *Tracker) Observe(deviceID string, at time.Time) {
	t.mu.Lock()
	st, ok := t.states[deviceID]
	if !ok {
		st = &deviceState{}
		t.states[deviceID] = st
	}

	reconnect := st.state != StateOnline
	if !reconnect && !st.lastSeen.IsZero() && at.Sub(st.lastSeen) > t.window {
		// The device went silent and came back between status queries.
		reconnect = true
	}

	st.state = StateOnline
	if at.After(st.lastSeen) {
		st.lastSeen = at
	}
	t.mu.Unlock()

	if reconnect {
		t.log.Info("device transitioned online",
			zap.String("device_id", deviceID),
			zap.Time("at", at))
		t.notifier.Notify("device_connected", deviceID, fmt.Sprintf("Device %s connected", deviceID))
	}
}

// Status computes online/offline for a device. The combined last-seen is
// the most recent of the registry session activity and the latest cached
// reading; persisted samples are consulted only when both are empty.
// A device is online iff the combined last-seen falls within the
// liveness window. Going offline is detected here, lazily, and emits no
// notification.
func (t *Tracker) Status(ctx context.Context, deviceID string) (Status, error) {
	lastSeen := t.conns.LastSeen(deviceID)
	if cached, ok := t.cache.LastStored(deviceID); ok && cached.After(lastSeen) {
		lastSeen = cached
	}
	if lastSeen.IsZero() {
		stored, err := t.store.LastSampleTime(ctx, deviceID)
		if err != nil {
			return Status{}, fmt.Errorf("failed to resolve last sample for %s: %w", deviceID, err)
		}
		lastSeen = stored
	}

	now := t.clk.Now()
	online := !lastSeen.IsZero() && now.Sub(lastSeen) <= t.window

	t.mu.Lock()
	if st, ok := t.states[deviceID]; ok && !online && st.state == StateOnline {
		st.state = StateOffline
	}
	t.mu.Unlock()

	return Status{DeviceID: deviceID, Online: online, LastSeen: lastSeen}, nil
}

// Window returns the configured liveness window.
func (t *Tracker) Window() time.Duration { return t.window }
