// Package api exposes the HTTP surface: reading ingestion, device
// queries, command dispatch and health.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/pestguard/telemetry-core/internal/db"
	"github.com/pestguard/telemetry-core/internal/dispatch"
	"github.com/pestguard/telemetry-core/internal/liveness"
	"github.com/pestguard/telemetry-core/internal/reading"
	"github.com/pestguard/telemetry-core/internal/service"
)

const (
	maxIngestBytes     = 64 << 10
	defaultRecentLimit = 20
	maxRecentLimit     = 100
)

// allowedActions is the command whitelist devices understand.
var allowedActions = map[string]bool{
	"pump_on":         true,
	"pump_off":        true,
	"set_auto_mode":   true,
	"schedule_add":    true,
	"schedule_remove": true,
	"schedule_sync":   true,
}

// Ingestor runs a raw payload through the ingestion pipeline.
type Ingestor interface {
	Ingest(ctx context.Context, raw []byte, source string) (*service.IngestResult, error)
}

// CommandSender dispatches a command to a connected device.
type CommandSender interface {
	Send(ctx context.Context, deviceID, action string, params json.RawMessage) (string, error)
}

// StatusSource answers device liveness queries.
type StatusSource interface {
	Status(ctx context.Context, deviceID string) (liveness.Status, error)
}

// ReadingSource serves cached readings.
type ReadingSource interface {
	Latest(deviceID string) (*reading.Reading, bool)
	Recent(limit int) []*reading.Reading
}

// SampleSource serves persisted samples for cache misses.
type SampleSource interface {
	LatestSample(ctx context.Context, hardwareID string) (*db.TelemetrySample, error)
}

// OnlineLister lists currently connected devices.
type OnlineLister interface {
	ListOnline() []string
}

type Handler struct {
	log        *zap.Logger
	pipeline   Ingestor
	dispatcher CommandSender
	tracker    StatusSource
	cache      ReadingSource
	samples    SampleSource
	online     OnlineLister
}

func NewHandler(log *zap.Logger, pipeline Ingestor, dispatcher CommandSender, tracker StatusSource, cache ReadingSource, samples SampleSource, online OnlineLister) *Handler {
	return &Handler{
		log:        log,
		pipeline:   pipeline,
		dispatcher: dispatcher,
		tracker:    tracker,
		cache:      cache,
		samples:    samples,
		online:     online,
	}
}

// Ingest accepts one raw reading over HTTP. The payload is never
// rejected for its content; only transport and storage problems map to
// error statuses.
func (h *Handler) Ingest(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxIngestBytes))
	if err != nil {
		h.respondError(w, http.StatusBadRequest, "payload_too_large", "request body exceeds limit")
		return
	}

	result, err := h.pipeline.Ingest(r.Context(), body, "http")
	if err != nil {
		if errors.Is(err, service.ErrStorageUnavailable) {
			h.respondError(w, http.StatusServiceUnavailable, "storage_unavailable", "database is unreachable, reading was broadcast but not stored")
			return
		}
		h.respondError(w, http.StatusInternalServerError, "persist_failed", "reading was broadcast but could not be stored")
		return
	}

	h.respondJSON(w, http.StatusAccepted, map[string]any{
		"device_id":     result.Reading.DeviceID,
		"persisted":     result.Persisted,
		"status_saved":  result.StatusSaved,
		"reason":        result.Decision.Reason,
		"fallback_used": result.Reading.FallbackUsed,
		"broadcast":     result.Broadcast,
	})
}

type commandRequest struct {
	Action string          `json:"action"`
	Params json.RawMessage `json:"params"`
}

// SendCommand dispatches a command to one device.
func (h *Handler) SendCommand(w http.ResponseWriter, r *http.Request) {
	deviceID := chi.URLParam(r, "deviceID")

	var req commandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid_body", "request body must be JSON with an action field")
		return
	}
	if !allowedActions[req.Action] {
		h.respondError(w, http.StatusBadRequest, "invalid_action", "unsupported action: "+req.Action)
		return
	}

	commandID, err := h.dispatcher.Send(r.Context(), deviceID, req.Action, req.Params)
	if err != nil {
		var de *dispatch.DeliveryError
		switch {
		case errors.Is(err, dispatch.ErrDeviceOffline):
			h.respondError(w, http.StatusConflict, "device_offline", "device has no live connection")
		case errors.As(err, &de):
			h.respondError(w, http.StatusBadGateway, "delivery_failed", "device connection rejected the command frame")
		default:
			h.log.Error("command dispatch failed", zap.Error(err), zap.String("device_id", deviceID))
			h.respondError(w, http.StatusInternalServerError, "dispatch_failed", "command could not be dispatched")
		}
		return
	}

	h.respondJSON(w, http.StatusAccepted, map[string]any{
		"command_id": commandID,
		"device_id":  deviceID,
		"action":     req.Action,
		"status":     "dispatched",
	})
}

// LatestReading serves the freshest reading for a device, preferring the
// cache and falling back to storage.
func (h *Handler) LatestReading(w http.ResponseWriter, r *http.Request) {
	deviceID := chi.URLParam(r, "deviceID")

	if cached, ok := h.cache.Latest(deviceID); ok {
		h.respondJSON(w, http.StatusOK, map[string]any{
			"device_id": deviceID,
			"origin":    "cache",
			"reading":   cached,
		})
		return
	}

	sample, err := h.samples.LatestSample(r.Context(), deviceID)
	if err != nil {
		h.log.Error("failed to query latest sample", zap.Error(err), zap.String("device_id", deviceID))
		h.respondError(w, http.StatusInternalServerError, "storage_error", "could not read latest sample")
		return
	}
	if sample == nil {
		h.respondError(w, http.StatusNotFound, "not_found", "no readings for device")
		return
	}

	stored := &reading.Reading{
		DeviceID:     deviceID,
		Voltage:      sample.Voltage,
		Current:      sample.Current,
		Power:        sample.Power,
		Energy:       sample.Energy,
		Timestamp:    sample.ReadingAt,
		Source:       sample.Source,
		FallbackUsed: sample.FallbackUsed,
	}
	if sample.Fault != nil {
		stored.Fault = *sample.Fault
	}
	h.respondJSON(w, http.StatusOK, map[string]any{
		"device_id": deviceID,
		"origin":    "storage",
		"reading":   stored,
	})
}

// RecentReadings serves the most recent cached readings across devices.
func (h *Handler) RecentReadings(w http.ResponseWriter, r *http.Request) {
	limit := defaultRecentLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	if limit > maxRecentLimit {
		limit = maxRecentLimit
	}

	readings := h.cache.Recent(limit)
	h.respondJSON(w, http.StatusOK, map[string]any{
		"count":    len(readings),
		"readings": readings,
	})
}

// OnlineDevices lists devices with a live connection.
func (h *Handler) OnlineDevices(w http.ResponseWriter, r *http.Request) {
	devices := h.online.ListOnline()
	h.respondJSON(w, http.StatusOK, map[string]any{
		"count":   len(devices),
		"devices": devices,
	})
}

// DeviceStatus answers the liveness query for one device.
func (h *Handler) DeviceStatus(w http.ResponseWriter, r *http.Request) {
	deviceID := chi.URLParam(r, "deviceID")

	status, err := h.tracker.Status(r.Context(), deviceID)
	if err != nil {
		h.log.Error("failed to resolve device status", zap.Error(err), zap.String("device_id", deviceID))
		h.respondError(w, http.StatusInternalServerError, "status_unavailable", "could not resolve device status")
		return
	}
	h.respondJSON(w, http.StatusOK, status)
}

// Health is the liveness probe endpoint.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	h.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.log.Error("failed to encode response", zap.Error(err))
	}
}

func (h *Handler) respondError(w http.ResponseWriter, status int, code, message string) {
	h.respondJSON(w, status, map[string]string{
		"error":   code,
		"message": message,
	})
}
