// Package ws serves the WebSocket endpoints: a per-device anomaly stream for
// dashboards and the sensor ingestion stream of the paired phone.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/HerbHall/twinhub/internal/detect"
	"github.com/HerbHall/twinhub/internal/pairing"
	"github.com/HerbHall/twinhub/pkg/plugin"
	"github.com/HerbHall/twinhub/pkg/telemetry"
	"github.com/coder/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	roleDashboard = string(pairing.RoleDashboard)
	roleSensor    = string(pairing.RoleSensor)

	// maxFrameBytes bounds one inbound frame; readings are ~150 bytes.
	maxFrameBytes = 16 << 10
)

// Config holds the sensor stream limits.
type Config struct {
	SensorRate  float64 `mapstructure:"sensor_rate"`  // frames per second per connection
	SensorBurst int     `mapstructure:"sensor_burst"` // token bucket size
}

// DefaultConfig allows a 60 Hz stream of three sensors with headroom.
func DefaultConfig() Config {
	return Config{SensorRate: 240, SensorBurst: 480}
}

// Handler provides the WebSocket endpoints.
type Handler struct {
	hub    *Hub
	tokens *pairing.TokenService
	bus    plugin.EventBus
	cfg    Config
	logger *zap.Logger
	unsubs []func()
	now    func() time.Time
}

// Compile-time check that Handler implements the server interface.
var _ interface {
	RegisterRoutes(mux *http.ServeMux)
} = (*Handler)(nil)

// NewHandler creates a WebSocket handler and subscribes to detection events.
func NewHandler(tokens *pairing.TokenService, bus plugin.EventBus, cfg Config, logger *zap.Logger) *Handler {
	def := DefaultConfig()
	if cfg.SensorRate <= 0 {
		cfg.SensorRate = def.SensorRate
	}
	if cfg.SensorBurst <= 0 {
		cfg.SensorBurst = def.SensorBurst
	}
	h := &Handler{
		hub:    NewHub(logger),
		tokens: tokens,
		bus:    bus,
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
	}
	h.subscribeToEvents()
	return h
}

// RegisterRoutes registers WebSocket routes on the server mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/ws/dashboard", h.handleDashboard)
	mux.HandleFunc("GET /api/v1/ws/sensor", h.handleSensor)
}

// Hub exposes the connection hub.
func (h *Handler) Hub() *Hub {
	return h.hub
}

// Close drops the bus subscriptions and closes every connection.
func (h *Handler) Close() {
	for _, unsub := range h.unsubs {
		unsub()
	}
	h.unsubs = nil
	h.hub.CloseAll()
}

// authorize validates the ?token= query parameter for role. Browsers cannot
// set headers on WebSocket requests.
func (h *Handler) authorize(w http.ResponseWriter, r *http.Request, role pairing.Role) (*pairing.Claims, bool) {
	token := r.URL.Query().Get("token")
	if token == "" {
		http.Error(w, "missing token parameter", http.StatusUnauthorized)
		return nil, false
	}
	claims, err := h.tokens.Validate(token, role)
	if err != nil {
		h.logger.Debug("websocket token rejected", zap.String("role", string(role)), zap.Error(err))
		http.Error(w, "invalid or expired token", http.StatusUnauthorized)
		return nil, false
	}
	return claims, true
}

// accept upgrades the connection. Server read/write timeouts are cleared
// first since the hijacked connection outlives them.
func (h *Handler) accept(w http.ResponseWriter, r *http.Request) (*websocket.Conn, bool) {
	rc := http.NewResponseController(w)
	_ = rc.SetReadDeadline(time.Time{})
	_ = rc.SetWriteDeadline(time.Time{})

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		// Any origin: access is granted by the pairing token.
		InsecureSkipVerify: true,
	})
	if err != nil {
		h.logger.Error("websocket accept failed", zap.Error(err))
		return nil, false
	}
	conn.SetReadLimit(maxFrameBytes)
	return conn, true
}

// handleDashboard streams detection events for the token's device.
func (h *Handler) handleDashboard(w http.ResponseWriter, r *http.Request) {
	claims, ok := h.authorize(w, r, pairing.RoleDashboard)
	if !ok {
		return
	}
	conn, ok := h.accept(w, r)
	if !ok {
		return
	}

	client := newClient(conn, claims.DeviceID, roleDashboard, h.logger)
	h.hub.Register(client)
	h.reply(client, h.message(MessageConnected, claims.DeviceID, ConnectedData{
		Role:         roleDashboard,
		SensorOnline: h.hub.Online(claims.DeviceID, roleSensor),
	}))

	h.serve(r.Context(), client, h.readDashboard)
}

// handleSensor accepts reading and performance frames from the paired phone.
func (h *Handler) handleSensor(w http.ResponseWriter, r *http.Request) {
	claims, ok := h.authorize(w, r, pairing.RoleSensor)
	if !ok {
		return
	}
	conn, ok := h.accept(w, r)
	if !ok {
		return
	}

	client := newClient(conn, claims.DeviceID, roleSensor, h.logger)
	h.hub.Register(client)
	h.reply(client, h.message(MessageConnected, claims.DeviceID, ConnectedData{Role: roleSensor, SensorOnline: true}))
	h.hub.Send(claims.DeviceID, roleDashboard, h.message(MessageDeviceConnected, claims.DeviceID, nil))
	h.logger.Info("sensor stream connected", zap.String("device_id", claims.DeviceID))

	h.serve(r.Context(), client, h.readSensor)

	if !h.hub.Online(claims.DeviceID, roleSensor) {
		h.hub.Send(claims.DeviceID, roleDashboard, h.message(MessageDeviceDisconnected, claims.DeviceID, nil))
	}
	h.logger.Info("sensor stream disconnected", zap.String("device_id", claims.DeviceID))
}

// serve runs the pumps until either side ends, then cleans up.
func (h *Handler) serve(ctx context.Context, client *Client, read func(context.Context, *Client)) {
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		client.writePump(ctx)
		cancel()
		close(done)
	}()

	// read blocks until the client disconnects or the write pump fails.
	read(ctx, client)

	cancel()
	h.hub.Unregister(client)
	_ = client.conn.Close(websocket.StatusNormalClosure, "")
	<-done
}

// readDashboard answers heartbeats and ignores anything else.
func (h *Handler) readDashboard(ctx context.Context, c *Client) {
	for {
		f, err := readFrame(ctx, c.conn)
		if errors.Is(err, errInvalidFrame) {
			continue
		}
		if err != nil {
			return
		}
		if f.Type == FrameHeartbeat {
			h.reply(c, h.message(MessageHeartbeatAck, c.deviceID, nil))
		}
	}
}

// readSensor decodes frames and publishes samples on the bus. Frames over
// the per-connection rate are dropped, matching the detector's lossy
// latest-sample model.
func (h *Handler) readSensor(ctx context.Context, c *Client) {
	limiter := rate.NewLimiter(rate.Limit(h.cfg.SensorRate), h.cfg.SensorBurst)
	for {
		f, err := readFrame(ctx, c.conn)
		if errors.Is(err, errInvalidFrame) {
			framesDropped.WithLabelValues("invalid").Inc()
			h.reply(c, h.errorMessage(c.deviceID, "invalid_frame", err.Error()))
			continue
		}
		if err != nil {
			return
		}

		if f.Type == FrameHeartbeat {
			h.reply(c, h.message(MessageHeartbeatAck, c.deviceID, nil))
			continue
		}
		if !limiter.Allow() {
			framesDropped.WithLabelValues("rate_limited").Inc()
			continue
		}
		if err := h.ingest(ctx, c.deviceID, f); err != nil {
			framesDropped.WithLabelValues("invalid").Inc()
			h.reply(c, h.errorMessage(c.deviceID, "invalid_frame", err.Error()))
		}
	}
}

var errInvalidFrame = errors.New("frame is not a JSON text message")

// readFrame reads one message. A malformed frame yields errInvalidFrame and
// leaves the connection open, unlike wsjson.Read which closes it.
func readFrame(ctx context.Context, conn *websocket.Conn) (Frame, error) {
	typ, data, err := conn.Read(ctx)
	if err != nil {
		return Frame{}, err
	}
	var f Frame
	if typ != websocket.MessageText || json.Unmarshal(data, &f) != nil {
		return Frame{}, errInvalidFrame
	}
	return f, nil
}

// ingest decodes one frame and publishes it. The device ID always comes from
// the pairing token, never from the frame.
func (h *Handler) ingest(ctx context.Context, deviceID string, f Frame) error {
	nowMs := h.now().UnixMilli()
	switch f.Type {
	case FrameSensorReading:
		var r telemetry.Reading
		if err := json.Unmarshal(f.Data, &r); err != nil {
			return errors.New("malformed sensor.reading data")
		}
		if !r.Sensor.Valid() {
			return errors.New("unknown sensor type " + string(r.Sensor))
		}
		r.DeviceID = deviceID
		if r.Timestamp == 0 {
			r.Timestamp = nowMs
		}
		framesReceived.WithLabelValues(string(f.Type)).Inc()
		return h.publish(ctx, detect.TopicSensorReading, r)

	case FramePerformanceSample:
		var p telemetry.PerformanceSample
		if err := json.Unmarshal(f.Data, &p); err != nil {
			return errors.New("malformed performance.sample data")
		}
		p.DeviceID = deviceID
		if p.Timestamp == 0 {
			p.Timestamp = nowMs
		}
		framesReceived.WithLabelValues(string(f.Type)).Inc()
		return h.publish(ctx, detect.TopicPerformanceSample, p)

	default:
		return errors.New("unknown frame type " + string(f.Type))
	}
}

func (h *Handler) publish(ctx context.Context, topic string, payload any) error {
	if h.bus == nil {
		return nil
	}
	return h.bus.Publish(ctx, plugin.Event{Topic: topic, Source: "ws", Payload: payload})
}

// reply queues msg for one client without blocking the read loop.
func (h *Handler) reply(c *Client, msg Message) {
	h.hub.mu.RLock()
	defer h.hub.mu.RUnlock()
	if _, ok := h.hub.clients[c.deviceID][c]; ok {
		h.hub.deliver(c, msg)
	}
}

func (h *Handler) message(t MessageType, deviceID string, data any) Message {
	return Message{Type: t, DeviceID: deviceID, Timestamp: h.now().UTC(), Data: data}
}

func (h *Handler) errorMessage(deviceID, code, msg string) Message {
	return h.message(MessageError, deviceID, ErrorData{Code: code, Message: msg})
}
