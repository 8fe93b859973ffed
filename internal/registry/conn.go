package registry

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Sender is the transport write half of a device session. Implementations
// must be safe for use from the dispatch path while the session's read
// loop is running.
type Sender interface {
	SendFrame(data []byte) error
}

// Conn is the registry's record of one live device session. It is owned
// by the Registry; the dispatcher only borrows it to send. The state
// mutex covers the ingestion-side fields (last seen, status snapshot,
// counters) and is never taken on the command path.
type Conn struct {
	deviceID   string
	session    uuid.UUID
	sender     Sender
	remoteAddr string

	mu          sync.Mutex
	connectedAt time.Time
	lastSeen    time.Time
	messages    uint64
	pumpStatus  bool
	pirStatus   bool
	autoMode    bool
}

func (c *Conn) DeviceID() string   { return c.deviceID }
func (c *Conn) Session() uuid.UUID { return c.session }
func (c *Conn) RemoteAddr() string { return c.remoteAddr }

// Send writes a raw frame to the device transport. No registry or
// ingestion lock is held around the write.
func (c *Conn) Send(data []byte) error {
	return c.sender.SendFrame(data)
}

// MarkReading records transport activity and the device-reported status
// snapshot carried by a reading.
func (c *Conn) MarkReading(at time.Time, pump, pir, auto bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastSeen = at
	c.messages++
	c.pumpStatus = pump
	c.pirStatus = pir
	c.autoMode = auto
}

// LastSeen returns the time of the most recent activity on this session.
func (c *Conn) LastSeen() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastSeen
}

// Messages returns how many readings arrived over this session.
func (c *Conn) Messages() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.messages
}

// Status returns the last device-reported pump/pir/auto snapshot.
func (c *Conn) Status() (pump, pir, auto bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pumpStatus, c.pirStatus, c.autoMode
}

// ConnectedAt returns when the session registered.
func (c *Conn) ConnectedAt() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connectedAt
}
