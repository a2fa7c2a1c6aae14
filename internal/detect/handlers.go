package detect

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/HerbHall/twinhub/pkg/plugin"
	"github.com/HerbHall/twinhub/pkg/telemetry"
)

// Routes implements plugin.HTTPProvider.
func (m *Module) Routes() []plugin.Route {
	return []plugin.Route{
		{Method: "GET", Path: "/anomalies", Handler: m.handleListAnomalies},
		{Method: "GET", Path: "/anomalies/current", Handler: m.handleCurrentAnomalies},
		{Method: "POST", Path: "/anomalies/{id}/ack", Handler: m.handleAcknowledge},
		{Method: "DELETE", Path: "/anomalies", Handler: m.handleClearAnomalies},
		{Method: "GET", Path: "/baselines", Handler: m.handleListBaselines},
		{Method: "POST", Path: "/baselines/refresh", Handler: m.handleRefreshBaselines},
		{Method: "GET", Path: "/config", Handler: m.handleGetConfig},
		{Method: "PUT", Path: "/config", Handler: m.handlePutConfig},
		{Method: "GET", Path: "/statistics", Handler: m.handleStatistics},
		{Method: "POST", Path: "/readings", Handler: m.handleIngestReading},
		{Method: "POST", Path: "/performance", Handler: m.handleIngestPerformance},
	}
}

// AcknowledgeRequest is the body of an acknowledge call.
type AcknowledgeRequest struct {
	Notes string `json:"notes"`
}

// handleListAnomalies returns persisted anomalies, newest first.
//
//	@Summary		List anomalies
//	@Description	Returns persisted anomalies, newest first, optionally for one device.
//	@Tags			detect
//	@Produce		json
//	@Param			limit query int false "Maximum results" default(50)
//	@Param			device_id query string false "Device ID"
//	@Success		200 {array} telemetry.AnomalyEvent
//	@Failure		500 {object} map[string]any
//	@Router			/detect/anomalies [get]
func (m *Module) handleListAnomalies(w http.ResponseWriter, r *http.Request) {
	limit := parseLimit(r, 50)
	deviceID := r.URL.Query().Get("device_id")

	if m.store == nil {
		var out []telemetry.AnomalyEvent
		for _, a := range m.tracker.currentEvents() {
			if deviceID != "" && a.DeviceID != deviceID {
				continue
			}
			if len(out) == limit {
				break
			}
			out = append(out, a)
		}
		if out == nil {
			out = []telemetry.AnomalyEvent{}
		}
		writeJSON(w, http.StatusOK, out)
		return
	}

	anomalies, err := m.store.ListAnomalies(r.Context(), deviceID, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list anomalies")
		return
	}
	if anomalies == nil {
		anomalies = []telemetry.AnomalyEvent{}
	}
	writeJSON(w, http.StatusOK, anomalies)
}

// handleCurrentAnomalies returns the newest in-memory anomalies.
//
//	@Summary		Current anomalies
//	@Description	Returns up to 50 of the newest anomalies since the last clear.
//	@Tags			detect
//	@Produce		json
//	@Success		200 {array} telemetry.AnomalyEvent
//	@Router			/detect/anomalies/current [get]
func (m *Module) handleCurrentAnomalies(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, m.tracker.currentEvents())
}

// handleAcknowledge acknowledges an anomaly.
//
//	@Summary		Acknowledge anomaly
//	@Description	Marks an anomaly as acknowledged with optional notes.
//	@Tags			detect
//	@Accept			json
//	@Produce		json
//	@Param			id path string true "Anomaly ID"
//	@Param			request body AcknowledgeRequest false "Notes"
//	@Success		200 {object} telemetry.AnomalyEvent
//	@Failure		400 {object} map[string]any
//	@Failure		404 {object} map[string]any
//	@Router			/detect/anomalies/{id}/ack [post]
func (m *Module) handleAcknowledge(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "id is required")
		return
	}
	var req AcknowledgeRequest
	if r.ContentLength != 0 {
		if err := decodeBody(w, r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
	}

	acked, err := m.Acknowledge(r.Context(), id, req.Notes)
	if errors.Is(err, ErrAnomalyNotFound) {
		writeError(w, http.StatusNotFound, "anomaly not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to acknowledge anomaly")
		return
	}
	writeJSON(w, http.StatusOK, acked)
}

// handleClearAnomalies clears in-memory anomalies and statistics.
//
//	@Summary		Clear anomalies
//	@Description	Clears the in-memory anomaly lists, patterns and statistics. Persisted history is kept.
//	@Tags			detect
//	@Success		204
//	@Router			/detect/anomalies [delete]
func (m *Module) handleClearAnomalies(w http.ResponseWriter, _ *http.Request) {
	m.ClearAnomalies()
	w.WriteHeader(http.StatusNoContent)
}

// handleListBaselines returns the active baselines.
//
//	@Summary		List baselines
//	@Description	Returns the baselines currently used for statistical scoring.
//	@Tags			detect
//	@Produce		json
//	@Success		200 {array} DeviceBaseline
//	@Router			/detect/baselines [get]
func (m *Module) handleListBaselines(w http.ResponseWriter, _ *http.Request) {
	baselines := m.detector.Baselines()
	if baselines == nil {
		baselines = []DeviceBaseline{}
	}
	writeJSON(w, http.StatusOK, baselines)
}

// handleRefreshBaselines recomputes baselines from buffered history.
//
//	@Summary		Refresh baselines
//	@Description	Recomputes every baseline whose sensor history holds enough samples.
//	@Tags			detect
//	@Produce		json
//	@Success		200 {array} DeviceBaseline
//	@Router			/detect/baselines/refresh [post]
func (m *Module) handleRefreshBaselines(w http.ResponseWriter, _ *http.Request) {
	updated := m.RefreshBaselines()
	if updated == nil {
		updated = []DeviceBaseline{}
	}
	writeJSON(w, http.StatusOK, updated)
}

// handleGetConfig returns the active detection config.
//
//	@Summary		Get detection config
//	@Tags			detect
//	@Produce		json
//	@Success		200 {object} telemetry.AnomalyDetectionConfig
//	@Router			/detect/config [get]
func (m *Module) handleGetConfig(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, m.detector.Config())
}

// handlePutConfig replaces the detection config.
//
//	@Summary		Replace detection config
//	@Description	Replaces the detection config. Every anomaly type needs a threshold entry.
//	@Tags			detect
//	@Accept			json
//	@Produce		json
//	@Param			request body telemetry.AnomalyDetectionConfig true "Config"
//	@Success		200 {object} telemetry.AnomalyDetectionConfig
//	@Failure		400 {object} map[string]any
//	@Failure		422 {object} map[string]any
//	@Router			/detect/config [put]
func (m *Module) handlePutConfig(w http.ResponseWriter, r *http.Request) {
	var cfg telemetry.AnomalyDetectionConfig
	if err := decodeBody(w, r, &cfg); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := m.detector.SetConfig(cfg); err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, m.detector.Config())
}

// handleStatistics returns anomaly statistics.
//
//	@Summary		Anomaly statistics
//	@Description	Returns counts, rate, average confidence and per-type patterns since the last clear.
//	@Tags			detect
//	@Produce		json
//	@Success		200 {object} telemetry.AnomalyStatistics
//	@Router			/detect/statistics [get]
func (m *Module) handleStatistics(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, m.Statistics())
}

// handleIngestReading accepts a sensor reading.
//
//	@Summary		Ingest reading
//	@Description	Feeds one accelerometer, gyroscope or magnetometer reading to the detector.
//	@Tags			detect
//	@Accept			json
//	@Param			request body telemetry.Reading true "Reading"
//	@Security		BearerAuth
//	@Success		202
//	@Failure		400 {object} map[string]any
//	@Failure		401 {object} map[string]any
//	@Failure		403 {object} map[string]any
//	@Failure		503 {object} map[string]any
//	@Router			/detect/readings [post]
func (m *Module) handleIngestReading(w http.ResponseWriter, r *http.Request) {
	var reading telemetry.Reading
	if err := decodeBody(w, r, &reading); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	deviceID, ok := m.authorizeIngest(w, r, reading.DeviceID)
	if !ok {
		return
	}
	reading.DeviceID = deviceID
	writeIngestResult(w, m.IngestReading(reading))
}

// handleIngestPerformance accepts a performance sample.
//
//	@Summary		Ingest performance sample
//	@Description	Feeds one CPU, memory and temperature sample to the detector.
//	@Tags			detect
//	@Accept			json
//	@Param			request body telemetry.PerformanceSample true "Sample"
//	@Security		BearerAuth
//	@Success		202
//	@Failure		400 {object} map[string]any
//	@Failure		401 {object} map[string]any
//	@Failure		403 {object} map[string]any
//	@Failure		503 {object} map[string]any
//	@Router			/detect/performance [post]
func (m *Module) handleIngestPerformance(w http.ResponseWriter, r *http.Request) {
	var sample telemetry.PerformanceSample
	if err := decodeBody(w, r, &sample); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	deviceID, ok := m.authorizeIngest(w, r, sample.DeviceID)
	if !ok {
		return
	}
	sample.DeviceID = deviceID
	writeIngestResult(w, m.IngestPerformance(sample))
}

// -- helpers --

// authorizeIngest returns the device an ingest request writes to. A valid
// sensor token pins the device; a body naming another device is refused.
func (m *Module) authorizeIngest(w http.ResponseWriter, r *http.Request, claimed string) (string, bool) {
	var tokenDevice string
	if m.authz != nil {
		id, err := m.authz(r)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid or expired token")
			return "", false
		}
		tokenDevice = id
	}
	switch {
	case tokenDevice == "" && m.cfg.RequireIngestToken:
		writeError(w, http.StatusUnauthorized, "sensor token required")
		return "", false
	case tokenDevice == "":
		return claimed, true
	case claimed != "" && claimed != tokenDevice:
		writeError(w, http.StatusForbidden, "device_id does not match token")
		return "", false
	}
	return tokenDevice, true
}

func writeIngestResult(w http.ResponseWriter, err error) {
	switch {
	case err == nil:
		w.WriteHeader(http.StatusAccepted)
	case errors.Is(err, ErrDeviceLimit):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		writeError(w, http.StatusBadRequest, err.Error())
	}
}

// maxBodyBytes caps request bodies; a reading or config is well under 64 KiB.
const maxBodyBytes = 64 << 10

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	return json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(v)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, detail string) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"type":   "https://twinhub.dev/problems/" + http.StatusText(status),
		"title":  http.StatusText(status),
		"status": status,
		"detail": detail,
	})
}

func parseLimit(r *http.Request, defaultLimit int) int {
	if s := r.URL.Query().Get("limit"); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n > 0 && n <= 1000 {
			return n
		}
	}
	return defaultLimit
}
