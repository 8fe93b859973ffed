package ws

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/pestguard/telemetry-core/internal/reading"
	"github.com/pestguard/telemetry-core/internal/readingcache"
	"github.com/pestguard/telemetry-core/internal/registry"
)

// snapshotLimit caps how many cached readings a fresh dashboard gets.
const snapshotLimit = 50

// DashboardGateway streams realtime reading frames to browser clients.
// Each client gets a bounded queue; the broadcast fanout drops frames
// for clients that cannot keep up.
type DashboardGateway struct {
	log       *zap.Logger
	registry  *registry.Registry
	cache     *readingcache.Cache
	queueSize int
}

func NewDashboardGateway(log *zap.Logger, reg *registry.Registry, cache *readingcache.Cache, queueSize int) *DashboardGateway {
	return &DashboardGateway{log: log, registry: reg, cache: cache, queueSize: queueSize}
}

type snapshotFrame struct {
	Type     string             `json:"type"`
	Readings []*reading.Reading `json:"readings"`
}

// HandleDashboard is the websocket endpoint dashboards connect to. The
// client receives a snapshot of cached readings, then live frames.
func (g *DashboardGateway) HandleDashboard(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.log.Warn("dashboard websocket upgrade failed", zap.Error(err))
		return
	}

	sub := g.registry.AddSubscriber(r.RemoteAddr, g.queueSize)

	go g.readLoop(conn, sub)
	g.writeLoop(conn, sub)
}

// readLoop discards inbound messages; its job is noticing a gone client.
func (g *DashboardGateway) readLoop(conn *websocket.Conn, sub *registry.Subscriber) {
	defer g.registry.RemoveSubscriber(sub)

	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (g *DashboardGateway) writeLoop(conn *websocket.Conn, sub *registry.Subscriber) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
		g.registry.RemoveSubscriber(sub)
	}()

	if err := g.sendSnapshot(conn); err != nil {
		g.log.Warn("failed to send dashboard snapshot", zap.Error(err))
		return
	}

	for {
		select {
		case <-sub.Done():
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		case frame := <-sub.Frames():
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (g *DashboardGateway) sendSnapshot(conn *websocket.Conn) error {
	frame, err := json.Marshal(snapshotFrame{
		Type:     "snapshot",
		Readings: g.cache.Recent(snapshotLimit),
	})
	if err != nil {
		return err
	}
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteMessage(websocket.TextMessage, frame)
}
