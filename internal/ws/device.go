// Package ws carries the websocket transports: the device gateway that
// ingests telemetry from ESP32 units and the dashboard gateway that
// streams readings out to browsers.
package ws

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/juju/clock"
	"go.uber.org/zap"

	"github.com/pestguard/telemetry-core/internal/registry"
	"github.com/pestguard/telemetry-core/internal/service"
)

const (
	writeWait      = 10 * time.Second    // Time allowed to write a message to the peer.
	pongWait       = 60 * time.Second    // Time allowed to read the next pong message from the peer.
	pingPeriod     = (pongWait * 9) / 10 // Send pings to peer with this period. Must be less than pongWait.
	maxMessageSize = 4096                // Telemetry payloads are small JSON documents.
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Ingestor runs a raw payload through the ingestion pipeline.
type Ingestor interface {
	Ingest(ctx context.Context, raw []byte, source string) (*service.IngestResult, error)
}

// LivenessObserver records device activity on handshake.
type LivenessObserver interface {
	Observe(deviceID string, at time.Time)
}

// DeviceGateway upgrades device connections and pumps their readings
// into the pipeline. Each session registers in the connection registry
// so the command dispatcher can reach it.
type DeviceGateway struct {
	log      *zap.Logger
	clk      clock.Clock
	registry *registry.Registry
	pipeline Ingestor
	liveness LivenessObserver
}

func NewDeviceGateway(log *zap.Logger, clk clock.Clock, reg *registry.Registry, pipeline Ingestor, liveness LivenessObserver) *DeviceGateway {
	return &DeviceGateway{log: log, clk: clk, registry: reg, pipeline: pipeline, liveness: liveness}
}

// deviceConn is the write half of a device session. The write mutex
// serializes command dispatch and pings; it is never held by the read
// loop, so ingestion and dispatch cannot block each other.
type deviceConn struct {
	conn      *websocket.Conn
	writeMu   sync.Mutex
	done      chan struct{}
	closeOnce sync.Once
}

func newDeviceConn(conn *websocket.Conn) *deviceConn {
	return &deviceConn{conn: conn, done: make(chan struct{})}
}

func (c *deviceConn) SendFrame(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func (c *deviceConn) sendPing() error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(websocket.PingMessage, nil)
}

func (c *deviceConn) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.conn.Close()
	})
}

// HandleDevice is the websocket endpoint devices connect to. The device
// identifies itself with a device_id query parameter during handshake.
func (g *DeviceGateway) HandleDevice(w http.ResponseWriter, r *http.Request) {
	deviceID := r.URL.Query().Get("device_id")
	if deviceID == "" {
		http.Error(w, "device_id is required", http.StatusBadRequest)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.log.Warn("websocket upgrade failed", zap.Error(err), zap.String("device_id", deviceID))
		return
	}

	dc := newDeviceConn(conn)
	sess := g.registry.Register(deviceID, r.RemoteAddr, dc)
	g.liveness.Observe(deviceID, g.clk.Now())

	go g.pingLoop(dc)
	g.readLoop(r.Context(), sess, dc)
}

func (g *DeviceGateway) readLoop(ctx context.Context, sess *registry.Conn, dc *deviceConn) {
	defer func() {
		dc.close()
		g.registry.Unregister(sess)
	}()

	dc.conn.SetReadLimit(maxMessageSize)
	dc.conn.SetReadDeadline(time.Now().Add(pongWait))
	dc.conn.SetPongHandler(func(string) error {
		dc.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := dc.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				g.log.Warn("device websocket read error",
					zap.Error(err),
					zap.String("device_id", sess.DeviceID()))
			}
			return
		}

		result, err := g.pipeline.Ingest(ctx, message, "websocket")
		if result != nil && result.Reading != nil {
			rd := result.Reading
			sess.MarkReading(g.clk.Now(), rd.PumpStatus, rd.PIRStatus, rd.AutoMode)
		}
		if err != nil {
			// Storage trouble does not cost the device its session; the
			// realtime stages already ran.
			g.log.Error("failed to ingest device reading",
				zap.Error(err),
				zap.String("device_id", sess.DeviceID()))
		}
	}
}

func (g *DeviceGateway) pingLoop(dc *deviceConn) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-dc.done:
			return
		case <-ticker.C:
			if err := dc.sendPing(); err != nil {
				dc.close()
				return
			}
		}
	}
}
