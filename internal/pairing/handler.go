package pairing

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Handler serves the pairing endpoints.
type Handler struct {
	tokens *TokenService
	logger *zap.Logger
}

// NewHandler creates a pairing Handler.
func NewHandler(tokens *TokenService, logger *zap.Logger) *Handler {
	return &Handler{tokens: tokens, logger: logger}
}

// RegisterRoutes registers pairing routes on the mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/pairing/tokens", h.handleIssue)
	mux.HandleFunc("POST /api/v1/pairing/verify", h.handleVerify)
}

// PairRequest is the body of POST /pairing/tokens. An empty DeviceID pairs
// a new device under a generated ID.
type PairRequest struct {
	DeviceID string `json:"device_id" example:"kitchen-phone"`
}

// Pairing carries the two tokens of one pairing. The dashboard keeps
// DashboardToken and hands SensorToken to the phone, usually as a QR code.
type Pairing struct {
	DeviceID       string    `json:"device_id"`
	DashboardToken string    `json:"dashboard_token"`
	SensorToken    string    `json:"sensor_token"`
	ExpiresAt      time.Time `json:"expires_at"`
}

// VerifyRequest is the body of POST /pairing/verify.
type VerifyRequest struct {
	Token string `json:"token"`
	Role  Role   `json:"role" example:"sensor"`
}

// VerifyResponse describes a valid token.
type VerifyResponse struct {
	DeviceID  string    `json:"device_id"`
	Role      Role      `json:"role"`
	ExpiresAt time.Time `json:"expires_at"`
}

// handleIssue creates a dashboard and a sensor token for one device.
//
//	@Summary		Pair a device
//	@Description	Issues a dashboard token and a sensor token for one device.
//	@Tags			pairing
//	@Accept			json
//	@Produce		json
//	@Param			request	body		PairRequest	false	"Device to pair"
//	@Success		201		{object}	Pairing
//	@Failure		400		{object}	map[string]any
//	@Router			/pairing/tokens [post]
func (h *Handler) handleIssue(w http.ResponseWriter, r *http.Request) {
	var req PairRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 4<<10)).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.DeviceID == "" {
		req.DeviceID = uuid.NewString()
	}
	if !ValidDeviceID(req.DeviceID) {
		writeError(w, http.StatusBadRequest, ErrInvalidDeviceID.Error())
		return
	}

	dash, expires, err := h.tokens.Issue(req.DeviceID, RoleDashboard)
	if err != nil {
		h.logger.Error("issue dashboard token", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to issue pairing tokens")
		return
	}
	sensor, _, err := h.tokens.Issue(req.DeviceID, RoleSensor)
	if err != nil {
		h.logger.Error("issue sensor token", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to issue pairing tokens")
		return
	}

	h.logger.Info("device paired",
		zap.String("device_id", req.DeviceID),
		zap.Time("expires_at", expires),
	)
	writeJSON(w, http.StatusCreated, Pairing{
		DeviceID:       req.DeviceID,
		DashboardToken: dash,
		SensorToken:    sensor,
		ExpiresAt:      expires,
	})
}

// handleVerify reports whether a token is valid for a role.
//
//	@Summary		Verify a pairing token
//	@Tags			pairing
//	@Accept			json
//	@Produce		json
//	@Param			request	body		VerifyRequest	true	"Token and role"
//	@Success		200		{object}	VerifyResponse
//	@Failure		400		{object}	map[string]any
//	@Failure		401		{object}	map[string]any
//	@Router			/pairing/verify [post]
func (h *Handler) handleVerify(w http.ResponseWriter, r *http.Request) {
	var req VerifyRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 8<<10)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Token == "" {
		writeError(w, http.StatusBadRequest, "token is required")
		return
	}
	if req.Role == "" {
		req.Role = RoleSensor
	}

	claims, err := h.tokens.Validate(req.Token, req.Role)
	if err != nil {
		h.logger.Debug("pairing token rejected", zap.String("role", string(req.Role)), zap.Error(err))
		writeError(w, http.StatusUnauthorized, "invalid or expired pairing token")
		return
	}
	writeJSON(w, http.StatusOK, VerifyResponse{
		DeviceID:  claims.DeviceID,
		Role:      claims.Role,
		ExpiresAt: claims.ExpiresAt.Time,
	})
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
