package ws_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/juju/clock"
	"go.uber.org/zap"

	"github.com/pestguard/telemetry-core/internal/reading"
	"github.com/pestguard/telemetry-core/internal/readingcache"
	"github.com/pestguard/telemetry-core/internal/registry"
	"github.com/pestguard/telemetry-core/internal/service"
	"github.com/pestguard/telemetry-core/internal/ws"
)

type ingestCall struct {
	raw    []byte
	source string
}

type fakeIngestor struct {
	calls chan ingestCall
}

func (f *fakeIngestor) Ingest(_ context.Context, raw []byte, source string) (*service.IngestResult, error) {
	f.calls <- ingestCall{raw: raw, source: source}
	return &service.IngestResult{
		Reading:   &reading.Reading{DeviceID: "esp32-9", PumpStatus: true, AutoMode: true},
		Persisted: true,
	}, nil
}

type fakeObserver struct {
	observed chan string
}

func (f *fakeObserver) Observe(deviceID string, _ time.Time) {
	f.observed <- deviceID
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal(msg)
}

func newDeviceServer(t *testing.T) (*httptest.Server, *registry.Registry, *fakeIngestor, *fakeObserver) {
	t.Helper()
	reg := registry.New(zap.NewNop(), clock.WallClock)
	ing := &fakeIngestor{calls: make(chan ingestCall, 8)}
	obs := &fakeObserver{observed: make(chan string, 8)}
	gw := ws.NewDeviceGateway(zap.NewNop(), clock.WallClock, reg, ing, obs)

	mux := http.NewServeMux()
	mux.HandleFunc("/ws/device", gw.HandleDevice)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, reg, ing, obs
}

func dialWS(t *testing.T, srv *httptest.Server, path string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + path
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Expected websocket dial to succeed, got %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestDeviceHandshakeRequiresDeviceID(t *testing.T) {
	srv, _, _, _ := newDeviceServer(t)

	resp, err := http.Get(srv.URL + "/ws/device")
	if err != nil {
		t.Fatalf("Expected request to complete, got %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("Expected status 400, got %d", resp.StatusCode)
	}
}

func TestDeviceReadingsFlowIntoPipeline(t *testing.T) {
	srv, reg, ing, obs := newDeviceServer(t)
	conn := dialWS(t, srv, "/ws/device?device_id=esp32-9")

	waitFor(t, 2*time.Second, func() bool { return reg.IsOnline("esp32-9") },
		"Expected device to register after handshake")

	select {
	case id := <-obs.observed:
		if id != "esp32-9" {
			t.Errorf("Expected liveness observation for esp32-9, got %s", id)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Expected a liveness observation on handshake")
	}

	payload := `{"device_id":"esp32-9","voltage":220.1,"pump_status":true}`
	if err := conn.WriteMessage(websocket.TextMessage, []byte(payload)); err != nil {
		t.Fatalf("Expected write to succeed, got %v", err)
	}

	select {
	case call := <-ing.calls:
		if string(call.raw) != payload {
			t.Errorf("Expected payload to reach the pipeline unchanged, got %s", call.raw)
		}
		if call.source != "websocket" {
			t.Errorf("Expected source websocket, got %s", call.source)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Expected the reading to reach the pipeline")
	}

	conn.Close()
	waitFor(t, 2*time.Second, func() bool { return !reg.IsOnline("esp32-9") },
		"Expected device to unregister after disconnect")
}

func TestDeviceSessionReceivesCommands(t *testing.T) {
	srv, reg, _, _ := newDeviceServer(t)
	conn := dialWS(t, srv, "/ws/device?device_id=esp32-9")

	waitFor(t, 2*time.Second, func() bool { return reg.IsOnline("esp32-9") },
		"Expected device to register after handshake")

	frame := []byte(`{"command_id":"c1","action":"pump_on"}`)
	if err := reg.Get("esp32-9").Send(frame); err != nil {
		t.Fatalf("Expected command send to succeed, got %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, got, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("Expected to receive the command frame, got %v", err)
	}
	if string(got) != string(frame) {
		t.Errorf("Expected frame %s, got %s", frame, got)
	}
}

func newDashboardServer(t *testing.T) (*httptest.Server, *registry.Registry, *readingcache.Cache) {
	t.Helper()
	reg := registry.New(zap.NewNop(), clock.WallClock)
	cache := readingcache.New(200, time.Minute, 30*time.Second, clock.WallClock)
	gw := ws.NewDashboardGateway(zap.NewNop(), reg, cache, 16)

	mux := http.NewServeMux()
	mux.HandleFunc("/ws/dashboard", gw.HandleDashboard)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, reg, cache
}

func TestDashboardSnapshotThenLiveFrames(t *testing.T) {
	srv, reg, cache := newDashboardServer(t)
	cache.Put("esp32-9", &reading.Reading{DeviceID: "esp32-9", Voltage: 220.5, Timestamp: time.Now()})

	conn := dialWS(t, srv, "/ws/dashboard")

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, first, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("Expected a snapshot frame, got %v", err)
	}

	var snap struct {
		Type     string             `json:"type"`
		Readings []*reading.Reading `json:"readings"`
	}
	if err := json.Unmarshal(first, &snap); err != nil {
		t.Fatalf("Expected snapshot JSON, got %v", err)
	}
	if snap.Type != "snapshot" {
		t.Errorf("Expected type snapshot, got %s", snap.Type)
	}
	if len(snap.Readings) != 1 || snap.Readings[0].DeviceID != "esp32-9" {
		t.Errorf("Expected the cached reading in the snapshot, got %+v", snap.Readings)
	}

	waitFor(t, 2*time.Second, func() bool { return reg.SubscriberCount() == 1 },
		"Expected the dashboard to subscribe")

	live := []byte(`{"type":"reading","realtime":true}`)
	for _, sub := range reg.Subscribers() {
		if !sub.Offer(live) {
			t.Fatal("Expected the live frame to be accepted")
		}
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, got, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("Expected a live frame, got %v", err)
	}
	if string(got) != string(live) {
		t.Errorf("Expected frame %s, got %s", live, got)
	}

	conn.Close()
	waitFor(t, 2*time.Second, func() bool { return reg.SubscriberCount() == 0 },
		"Expected the subscriber to be removed after disconnect")
}
