// Package mqtt bridges the hub to an MQTT broker. Phones (or gateways) may
// publish samples to the broker instead of the WebSocket, and detection
// results are published back for Home Assistant and other integrations.
package mqtt

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/HerbHall/twinhub/internal/detect"
	"github.com/HerbHall/twinhub/internal/pairing"
	"github.com/HerbHall/twinhub/pkg/plugin"
	"github.com/HerbHall/twinhub/pkg/telemetry"
	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

// Compile-time interface guards.
var (
	_ plugin.Plugin          = (*Module)(nil)
	_ plugin.EventSubscriber = (*Module)(nil)
	_ plugin.HealthChecker   = (*Module)(nil)
)

// brokerClient is the part of pahomqtt.Client the bridge publishes through.
type brokerClient interface {
	IsConnected() bool
	Publish(topic string, qos byte, retained bool, payload interface{}) pahomqtt.Token
	Disconnect(quiesce uint)
}

// Inbound topic kinds below {prefix}/{device}/.
const (
	kindSensor      = "sensors"
	kindPerformance = "performance"
)

// Module implements the MQTT bridge plugin.
type Module struct {
	logger *zap.Logger
	cfg    Config
	bus    plugin.EventBus
	client brokerClient
	mu     sync.RWMutex
	now    func() time.Time

	ctx    context.Context
	cancel context.CancelFunc

	announcedMu sync.Mutex
	announced   map[string]bool // devices with HA discovery published
}

// New creates a new MQTT bridge plugin instance.
func New() *Module {
	return &Module{
		now:       time.Now,
		ctx:       context.Background(),
		announced: make(map[string]bool),
	}
}

func (m *Module) Info() plugin.PluginInfo {
	return plugin.PluginInfo{
		Name:         "mqtt",
		Version:      "0.1.0",
		Description:  "Bridges sensor samples and anomaly events to an MQTT broker",
		Dependencies: []string{"detect"},
		APIVersion:   plugin.APIVersionCurrent,
	}
}

func (m *Module) Init(_ context.Context, deps plugin.Dependencies) error {
	m.logger = deps.Logger
	m.bus = deps.Bus
	m.cfg = DefaultConfig()

	if c := deps.Config; c != nil {
		if u := c.GetString("broker_url"); u != "" {
			m.cfg.BrokerURL = u
		}
		if u := c.GetString("username"); u != "" {
			m.cfg.Username = u
		}
		if p := c.GetString("password"); p != "" {
			m.cfg.Password = p
		}
		if id := c.GetString("client_id"); id != "" {
			m.cfg.ClientID = id
		}
		if t := c.GetString("topic_prefix"); t != "" {
			m.cfg.TopicPrefix = strings.TrimSuffix(t, "/")
		}
		if c.IsSet("qos") {
			qos := c.GetInt("qos")
			if qos < 0 || qos > 2 {
				return fmt.Errorf("mqtt qos must be 0, 1 or 2, got %d", qos)
			}
			m.cfg.QoS = byte(qos)
		}
		if c.IsSet("retain") {
			m.cfg.Retain = c.GetBool("retain")
		}
		if c.IsSet("use_tls") {
			m.cfg.UseTLS = c.GetBool("use_tls")
		}
		if d := c.GetDuration("timeout"); d > 0 {
			m.cfg.Timeout = d
		}
		if c.IsSet("ingest") {
			m.cfg.Ingest = c.GetBool("ingest")
		}
		if c.IsSet("ha_discovery") {
			m.cfg.HADiscovery = c.GetBool("ha_discovery")
		}
		if p := c.GetString("ha_discovery_prefix"); p != "" {
			m.cfg.HADiscoveryPrefix = p
		}
	}

	if m.cfg.BrokerURL == "" {
		m.logger.Info("MQTT broker URL not configured; bridge is a no-op")
	}

	m.logger.Info("mqtt module initialized",
		zap.String("broker_url", m.cfg.BrokerURL),
		zap.String("client_id", m.cfg.ClientID),
		zap.String("topic_prefix", m.cfg.TopicPrefix),
		zap.Uint8("qos", m.cfg.QoS),
		zap.Bool("ingest", m.cfg.Ingest),
		zap.Bool("ha_discovery", m.cfg.HADiscovery),
	)
	return nil
}

func (m *Module) Start(_ context.Context) error {
	if m.cfg.BrokerURL == "" {
		m.logger.Info("mqtt module started (no-op: no broker configured)")
		return nil
	}
	m.ctx, m.cancel = context.WithCancel(context.Background())

	opts := pahomqtt.NewClientOptions().
		AddBroker(m.cfg.BrokerURL).
		SetClientID(m.cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectTimeout(m.cfg.Timeout).
		SetOnConnectHandler(m.onConnect).
		SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
			m.logger.Warn("mqtt connection lost", zap.Error(err))
		})

	if m.cfg.Username != "" {
		opts.SetUsername(m.cfg.Username)
		opts.SetPassword(m.cfg.Password) //nolint:gosec // G101: config field
	}
	if m.cfg.UseTLS {
		opts.SetTLSConfig(&tls.Config{MinVersion: tls.VersionTLS12})
	}

	client := pahomqtt.NewClient(opts)
	m.mu.Lock()
	m.client = client
	m.mu.Unlock()

	token := client.Connect()
	switch {
	case !token.WaitTimeout(m.cfg.Timeout):
		m.logger.Warn("mqtt connection timed out; will reconnect in background")
	case token.Error() != nil:
		m.logger.Warn("mqtt connection failed; will reconnect in background",
			zap.Error(token.Error()),
		)
	default:
		m.logger.Info("mqtt connected to broker",
			zap.String("broker_url", m.cfg.BrokerURL),
		)
	}
	return nil
}

func (m *Module) Stop(_ context.Context) error {
	if m.cancel != nil {
		m.cancel()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.client != nil && m.client.IsConnected() {
		m.client.Disconnect(250)
		m.logger.Info("mqtt disconnected")
	}
	return nil
}

// Subscriptions implements plugin.EventSubscriber.
func (m *Module) Subscriptions() []plugin.Subscription {
	return []plugin.Subscription{
		{Topic: detect.TopicAnomalyDetected, Handler: m.publishEvent},
		{Topic: detect.TopicAnomalyAcknowledged, Handler: m.publishEvent},
		{Topic: detect.TopicAnomaliesCleared, Handler: m.publishEvent},
		{Topic: detect.TopicBaselineUpdated, Handler: m.publishEvent},
	}
}

// Health implements plugin.HealthChecker.
func (m *Module) Health(_ context.Context) plugin.HealthStatus {
	if m.cfg.BrokerURL == "" {
		return plugin.HealthStatus{
			Status:  "healthy",
			Message: "no broker configured (no-op mode)",
		}
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.client == nil || !m.client.IsConnected() {
		return plugin.HealthStatus{
			Status:  "degraded",
			Message: "not connected to MQTT broker",
		}
	}
	return plugin.HealthStatus{
		Status:  "healthy",
		Message: "connected to " + m.cfg.BrokerURL,
	}
}

// inboundFilters returns the broker subscriptions used for ingest.
func (m *Module) inboundFilters() map[string]byte {
	prefix := m.cfg.TopicPrefix
	return map[string]byte{
		prefix + "/+/" + kindSensor + "/+": m.cfg.QoS,
		prefix + "/+/" + kindPerformance:   m.cfg.QoS,
	}
}

// onConnect (re)subscribes after every successful connect, since the
// broker drops subscriptions of a clean session.
func (m *Module) onConnect(c pahomqtt.Client) {
	if !m.cfg.Ingest {
		return
	}
	filters := m.inboundFilters()
	token := c.SubscribeMultiple(filters, m.handleMessage)
	if !token.WaitTimeout(m.cfg.Timeout) {
		m.logger.Warn("mqtt subscribe timed out")
		return
	}
	if err := token.Error(); err != nil {
		m.logger.Warn("mqtt subscribe failed", zap.Error(err))
		return
	}
	topics := make([]string, 0, len(filters))
	for f := range filters {
		topics = append(topics, f)
	}
	sort.Strings(topics)
	m.logger.Info("mqtt ingest subscribed", zap.Strings("filters", topics))
}

func (m *Module) handleMessage(_ pahomqtt.Client, msg pahomqtt.Message) {
	if err := m.ingest(m.ctx, msg.Topic(), msg.Payload()); err != nil {
		messagesTotal.WithLabelValues("in", "rejected").Inc()
		m.logger.Debug("mqtt message rejected",
			zap.String("mqtt_topic", msg.Topic()),
			zap.Error(err),
		)
		return
	}
	messagesTotal.WithLabelValues("in", "ok").Inc()
}

// inboundTopic is a parsed ingest topic.
type inboundTopic struct {
	deviceID string
	kind     string
	sensor   telemetry.SensorType
}

var errForeignTopic = errors.New("topic outside the ingest namespace")

// parseInboundTopic splits {prefix}/{device}/sensors/{sensor} and
// {prefix}/{device}/performance.
func parseInboundTopic(prefix, topic string) (inboundTopic, error) {
	rest, ok := strings.CutPrefix(topic, prefix+"/")
	if !ok {
		return inboundTopic{}, errForeignTopic
	}
	parts := strings.Split(rest, "/")
	if !pairing.ValidDeviceID(parts[0]) {
		return inboundTopic{}, fmt.Errorf("invalid device id %q", parts[0])
	}
	switch {
	case len(parts) == 3 && parts[1] == kindSensor:
		sensor := telemetry.SensorType(parts[2])
		if !sensor.Valid() {
			return inboundTopic{}, fmt.Errorf("unknown sensor type %q", parts[2])
		}
		return inboundTopic{deviceID: parts[0], kind: kindSensor, sensor: sensor}, nil
	case len(parts) == 2 && parts[1] == kindPerformance:
		return inboundTopic{deviceID: parts[0], kind: kindPerformance}, nil
	}
	return inboundTopic{}, errForeignTopic
}

// ingest decodes one broker message and publishes it on the event bus.
// The device and sensor come from the topic, never from the payload.
func (m *Module) ingest(ctx context.Context, topic string, payload []byte) error {
	in, err := parseInboundTopic(m.cfg.TopicPrefix, topic)
	if err != nil {
		return err
	}
	nowMs := m.now().UnixMilli()

	switch in.kind {
	case kindSensor:
		var r telemetry.Reading
		if err := json.Unmarshal(payload, &r); err != nil {
			return fmt.Errorf("decode reading: %w", err)
		}
		r.DeviceID = in.deviceID
		r.Sensor = in.sensor
		if !r.Vector().Finite() {
			return errors.New("reading axes must be finite")
		}
		if r.Timestamp == 0 {
			r.Timestamp = nowMs
		}
		return m.publishBus(ctx, detect.TopicSensorReading, r)

	default:
		var p telemetry.PerformanceSample
		if err := json.Unmarshal(payload, &p); err != nil {
			return fmt.Errorf("decode performance sample: %w", err)
		}
		p.DeviceID = in.deviceID
		if !p.Finite() {
			return errors.New("performance values must be finite")
		}
		if p.Timestamp == 0 {
			p.Timestamp = nowMs
		}
		return m.publishBus(ctx, detect.TopicPerformanceSample, p)
	}
}

func (m *Module) publishBus(ctx context.Context, topic string, payload any) error {
	if m.bus == nil {
		return errors.New("no event bus")
	}
	return m.bus.Publish(ctx, plugin.Event{Topic: topic, Source: "mqtt", Payload: payload})
}

// outbound is one broker message derived from a bus event.
type outbound struct {
	topic    string
	payload  []byte
	retained bool
}

// outboundFromEvent maps a bus event to the broker messages it produces.
func (m *Module) outboundFromEvent(event plugin.Event) ([]outbound, error) {
	prefix := m.cfg.TopicPrefix
	switch event.Topic {
	case detect.TopicAnomalyDetected, detect.TopicAnomalyAcknowledged:
		a, ok := anomalyPayload(event.Payload)
		if !ok {
			return nil, fmt.Errorf("unexpected payload %T", event.Payload)
		}
		device := deviceOrDefault(a.DeviceID)
		body, err := json.Marshal(a)
		if err != nil {
			return nil, err
		}
		suffix := "/anomalies"
		if event.Topic == detect.TopicAnomalyAcknowledged {
			suffix = "/anomalies/acknowledged"
		}
		msgs := []outbound{{topic: prefix + "/" + device + suffix, payload: body, retained: m.cfg.Retain}}
		if m.cfg.HADiscovery {
			msgs = append(msgs, m.discoveryFor(device)...)
			msgs = append(msgs, haState(prefix, device, a, event.Topic == detect.TopicAnomalyDetected)...)
		}
		return msgs, nil

	case detect.TopicAnomaliesCleared:
		msgs := []outbound{{topic: prefix + "/anomalies/cleared", payload: []byte(`{}`)}}
		if m.cfg.HADiscovery {
			for _, device := range m.announcedDevices() {
				msgs = append(msgs, outbound{
					topic:    deviceStateTopics(prefix, device).anomaly,
					payload:  []byte("OFF"),
					retained: true,
				})
			}
		}
		return msgs, nil

	case detect.TopicBaselineUpdated:
		b, ok := baselinePayload(event.Payload)
		if !ok {
			return nil, fmt.Errorf("unexpected payload %T", event.Payload)
		}
		body, err := json.Marshal(b.Baseline)
		if err != nil {
			return nil, err
		}
		topic := prefix + "/" + deviceOrDefault(b.DeviceID) + "/baselines/" + string(b.Baseline.SensorType)
		return []outbound{{topic: topic, payload: body, retained: true}}, nil
	}
	return nil, fmt.Errorf("no mapping for event topic %q", event.Topic)
}

// discoveryFor returns the HA discovery configs of a device the first time
// it is seen.
func (m *Module) discoveryFor(device string) []outbound {
	m.announcedMu.Lock()
	defer m.announcedMu.Unlock()
	if m.announced[device] {
		return nil
	}
	m.announced[device] = true
	configs := BuildDeviceDiscoveryConfigs(device, m.cfg.TopicPrefix, m.cfg.HADiscoveryPrefix)
	out := make([]outbound, 0, len(configs))
	for _, c := range configs {
		// Discovery configs are always retained so HA picks them up on restart.
		out = append(out, outbound{topic: c.Topic, payload: c.Payload, retained: true})
	}
	return out
}

func (m *Module) announcedDevices() []string {
	m.announcedMu.Lock()
	defer m.announcedMu.Unlock()
	devices := make([]string, 0, len(m.announced))
	for d := range m.announced {
		devices = append(devices, d)
	}
	sort.Strings(devices)
	return devices
}

// haState returns the retained entity states for an anomaly.
func haState(prefix, device string, a telemetry.AnomalyEvent, open bool) []outbound {
	topics := deviceStateTopics(prefix, device)
	state := "OFF"
	if open {
		state = "ON"
	}
	details, err := json.Marshal(map[string]any{
		"id":          a.ID,
		"icon":        AnomalyTypeIcon(a.Type),
		"confidence":  a.Confidence,
		"description": a.Description,
		"timestamp":   a.Timestamp,
	})
	if err != nil {
		details = []byte(`{}`)
	}
	return []outbound{
		{topic: topics.anomaly, payload: []byte(state), retained: true},
		{topic: topics.kind, payload: []byte(a.Type), retained: true},
		{topic: topics.severity, payload: []byte(a.Severity), retained: true},
		{topic: topics.details, payload: details, retained: true},
	}
}

func (m *Module) publishEvent(_ context.Context, event plugin.Event) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.client == nil || !m.client.IsConnected() {
		return
	}

	msgs, err := m.outboundFromEvent(event)
	if err != nil {
		m.logger.Warn("failed to build MQTT payload",
			zap.String("topic", event.Topic),
			zap.Error(err),
		)
		return
	}
	for _, msg := range msgs {
		m.publish(msg)
	}
	m.logger.Debug("mqtt event published",
		zap.String("event_topic", event.Topic),
		zap.Int("messages", len(msgs)),
	)
}

func (m *Module) publish(msg outbound) {
	token := m.client.Publish(msg.topic, m.cfg.QoS, msg.retained, msg.payload)
	if !token.WaitTimeout(m.cfg.Timeout) {
		messagesTotal.WithLabelValues("out", "timeout").Inc()
		m.logger.Warn("mqtt publish timed out", zap.String("mqtt_topic", msg.topic))
		return
	}
	if err := token.Error(); err != nil {
		messagesTotal.WithLabelValues("out", "error").Inc()
		m.logger.Warn("mqtt publish failed",
			zap.String("mqtt_topic", msg.topic),
			zap.Error(err),
		)
		return
	}
	messagesTotal.WithLabelValues("out", "ok").Inc()
}

func deviceOrDefault(id string) string {
	if id == "" {
		return "default"
	}
	return id
}

func anomalyPayload(p any) (telemetry.AnomalyEvent, bool) {
	switch a := p.(type) {
	case telemetry.AnomalyEvent:
		return a, true
	case *telemetry.AnomalyEvent:
		if a != nil {
			return *a, true
		}
	}
	return telemetry.AnomalyEvent{}, false
}

func baselinePayload(p any) (detect.DeviceBaseline, bool) {
	switch b := p.(type) {
	case detect.DeviceBaseline:
		return b, true
	case *detect.DeviceBaseline:
		if b != nil {
			return *b, true
		}
	}
	return detect.DeviceBaseline{}, false
}
