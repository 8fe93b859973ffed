// Package registry tracks live device sessions and dashboard subscribers.
// It is the single source of truth for "which devices are connected right
// now" and hands out send handles to the command dispatcher.
package registry

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/juju/clock"
	"go.uber.org/zap"
)

type Registry struct {
	log *zap.Logger
	clk clock.Clock

	mu          sync.RWMutex
	devices     map[string]*Conn
	subscribers map[uuid.UUID]*Subscriber
}

func New(log *zap.Logger, clk clock.Clock) *Registry {
	return &Registry{
		log:         log,
		clk:         clk,
		devices:     make(map[string]*Conn),
		subscribers: make(map[uuid.UUID]*Subscriber),
	}
}

// Register binds a device ID to a live session. If the device already has
// a session the old one is replaced; the caller that owned the replaced
// session is expected to tear down its transport when it notices.
// The returned Conn identifies this session for Unregister.
func (r *Registry) Register(deviceID, remoteAddr string, sender Sender) *Conn {
	now := r.clk.Now()
	conn := &Conn{
		deviceID:    deviceID,
		session:     uuid.New(),
		sender:      sender,
		remoteAddr:  remoteAddr,
		connectedAt: now,
		lastSeen:    now,
	}

	r.mu.Lock()
	old := r.devices[deviceID]
	r.devices[deviceID] = conn
	r.mu.Unlock()

	if old != nil {
		r.log.Info("replacing existing device session",
			zap.String("device_id", deviceID),
			zap.String("old_session", old.session.String()),
			zap.String("new_session", conn.session.String()))
	} else {
		r.log.Info("device session registered",
			zap.String("device_id", deviceID),
			zap.String("session", conn.session.String()),
			zap.String("remote_addr", remoteAddr))
	}
	return conn
}

// Unregister removes the given session. If the device has since
// reconnected and the registry holds a newer session, the call is a
// no-op so a stale teardown cannot evict the replacement.
func (r *Registry) Unregister(conn *Conn) {
	if conn == nil {
		return
	}

	r.mu.Lock()
	current, ok := r.devices[conn.deviceID]
	if ok && current == conn {
		delete(r.devices, conn.deviceID)
	} else {
		ok = false
	}
	r.mu.Unlock()

	if ok {
		r.log.Info("device session unregistered",
			zap.String("device_id", conn.deviceID),
			zap.String("session", conn.session.String()),
			zap.Uint64("messages", conn.Messages()))
	}
}

// Get returns the live session for a device, or nil when offline.
func (r *Registry) Get(deviceID string) *Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.devices[deviceID]
}

// IsOnline reports whether the device has a live session.
func (r *Registry) IsOnline(deviceID string) bool {
	return r.Get(deviceID) != nil
}

// LastSeen returns the last activity time for a device's session. The
// zero time means the device has no live session.
func (r *Registry) LastSeen(deviceID string) time.Time {
	conn := r.Get(deviceID)
	if conn == nil {
		return time.Time{}
	}
	return conn.LastSeen()
}

// ListOnline returns the IDs of all connected devices in sorted order.
func (r *Registry) ListOnline() []string {
	r.mu.RLock()
	ids := make([]string, 0, len(r.devices))
	for id := range r.devices {
		ids = append(ids, id)
	}
	r.mu.RUnlock()

	sort.Strings(ids)
	return ids
}

// DeviceCount returns the number of live device sessions.
func (r *Registry) DeviceCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.devices)
}

// AddSubscriber creates a dashboard subscriber with a bounded frame queue.
func (r *Registry) AddSubscriber(remoteAddr string, queueSize int) *Subscriber {
	sub := newSubscriber(remoteAddr, queueSize)

	r.mu.Lock()
	r.subscribers[sub.id] = sub
	count := len(r.subscribers)
	r.mu.Unlock()

	r.log.Info("dashboard subscriber added",
		zap.String("subscriber", sub.id.String()),
		zap.String("remote_addr", remoteAddr),
		zap.Int("total", count))
	return sub
}

// RemoveSubscriber detaches a subscriber and wakes its write loop.
func (r *Registry) RemoveSubscriber(sub *Subscriber) {
	if sub == nil {
		return
	}

	r.mu.Lock()
	_, ok := r.subscribers[sub.id]
	if ok {
		delete(r.subscribers, sub.id)
	}
	r.mu.Unlock()

	sub.stopOnce()
	if ok {
		r.log.Info("dashboard subscriber removed",
			zap.String("subscriber", sub.id.String()),
			zap.Uint64("dropped_frames", sub.Dropped()))
	}
}

// Subscribers returns a snapshot of the current subscriber set. Callers
// iterate the snapshot without holding any registry lock.
func (r *Registry) Subscribers() []*Subscriber {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Subscriber, 0, len(r.subscribers))
	for _, sub := range r.subscribers {
		out = append(out, sub)
	}
	return out
}

// SubscriberCount returns the number of attached dashboard subscribers.
func (r *Registry) SubscriberCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.subscribers)
}
