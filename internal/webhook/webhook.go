// Package webhook posts anomaly events to an HTTP endpoint.
package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/HerbHall/twinhub/internal/detect"
	"github.com/HerbHall/twinhub/internal/version"
	"github.com/HerbHall/twinhub/pkg/plugin"
	"github.com/HerbHall/twinhub/pkg/telemetry"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// Compile-time interface guards.
var (
	_ plugin.Plugin          = (*Module)(nil)
	_ plugin.EventSubscriber = (*Module)(nil)
	_ plugin.HealthChecker   = (*Module)(nil)
)

// SignatureHeader carries the hex HMAC-SHA256 of the body when a secret is
// configured.
const SignatureHeader = "X-Twinhub-Signature"

var deliveries = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "twinhub",
		Subsystem: "webhook",
		Name:      "deliveries_total",
		Help:      "Webhook deliveries by result (ok, error, rejected).",
	},
	[]string{"result"},
)

func init() {
	prometheus.MustRegister(deliveries)
}

// Config holds the webhook plugin configuration.
type Config struct {
	URL         string             `mapstructure:"url"`
	Secret      string             `mapstructure:"secret"` //nolint:gosec // G101: config field name
	Timeout     time.Duration      `mapstructure:"timeout"`
	Enabled     bool               `mapstructure:"enabled"`
	MinSeverity telemetry.Severity `mapstructure:"min_severity"`
}

// Module implements the webhook notifier plugin.
type Module struct {
	logger *zap.Logger
	cfg    Config
	client *http.Client

	mu      sync.Mutex
	lastErr error // result of the latest delivery
}

// New creates a new webhook plugin instance.
func New() *Module {
	return &Module{}
}

func (m *Module) Info() plugin.PluginInfo {
	return plugin.PluginInfo{
		Name:         "webhook",
		Version:      "0.1.0",
		Description:  "POSTs anomaly events to a configurable webhook URL",
		Dependencies: []string{"detect"},
		APIVersion:   plugin.APIVersionCurrent,
	}
}

func (m *Module) Init(_ context.Context, deps plugin.Dependencies) error {
	m.logger = deps.Logger
	m.cfg = Config{
		Timeout:     10 * time.Second,
		Enabled:     true,
		MinSeverity: telemetry.SeverityHigh,
	}

	if c := deps.Config; c != nil {
		if u := c.GetString("url"); u != "" {
			m.cfg.URL = u
		}
		if s := c.GetString("secret"); s != "" {
			m.cfg.Secret = s
		}
		if d := c.GetDuration("timeout"); d > 0 {
			m.cfg.Timeout = d
		}
		if c.IsSet("enabled") {
			m.cfg.Enabled = c.GetBool("enabled")
		}
		if s := c.GetString("min_severity"); s != "" {
			sev := telemetry.Severity(s)
			if sev.Rank() < 0 {
				return fmt.Errorf("webhook min_severity %q is not a severity", s)
			}
			m.cfg.MinSeverity = sev
		}
	}

	m.client = &http.Client{Timeout: m.cfg.Timeout}

	m.logger.Info("webhook module initialized",
		zap.Bool("configured", m.cfg.URL != ""),
		zap.Duration("timeout", m.cfg.Timeout),
		zap.Bool("enabled", m.cfg.Enabled),
		zap.String("min_severity", string(m.cfg.MinSeverity)),
		zap.Bool("signed", m.cfg.Secret != ""),
	)
	return nil
}

func (m *Module) Start(_ context.Context) error {
	return nil
}

func (m *Module) Stop(_ context.Context) error {
	return nil
}

// Subscriptions implements plugin.EventSubscriber.
func (m *Module) Subscriptions() []plugin.Subscription {
	return []plugin.Subscription{
		{Topic: detect.TopicAnomalyDetected, Handler: m.handleEvent},
		{Topic: detect.TopicAnomalyAcknowledged, Handler: m.handleEvent},
	}
}

// Health implements plugin.HealthChecker. A failing endpoint degrades the
// plugin until the next successful delivery.
func (m *Module) Health(_ context.Context) plugin.HealthStatus {
	m.mu.Lock()
	lastErr := m.lastErr
	m.mu.Unlock()
	switch {
	case !m.cfg.Enabled || m.cfg.URL == "":
		return plugin.HealthStatus{Status: "healthy", Message: "no webhook configured"}
	case lastErr != nil:
		return plugin.HealthStatus{Status: "degraded", Message: lastErr.Error()}
	}
	return plugin.HealthStatus{Status: "healthy"}
}

// Payload is the JSON body sent to the webhook URL.
type Payload struct {
	Event     string                 `json:"event"`
	Source    string                 `json:"source"`
	Timestamp string                 `json:"timestamp"`
	Anomaly   telemetry.AnomalyEvent `json:"anomaly"`
}

func (m *Module) handleEvent(ctx context.Context, event plugin.Event) {
	if !m.cfg.Enabled || m.cfg.URL == "" {
		return
	}

	var a telemetry.AnomalyEvent
	switch p := event.Payload.(type) {
	case telemetry.AnomalyEvent:
		a = p
	case *telemetry.AnomalyEvent:
		a = *p
	default:
		return
	}
	if !a.Severity.AtLeast(m.cfg.MinSeverity) {
		return
	}

	body, err := json.Marshal(Payload{
		Event:     event.Topic,
		Source:    event.Source,
		Timestamp: event.Timestamp.UTC().Format(time.RFC3339),
		Anomaly:   a,
	})
	if err != nil {
		m.logger.Error("failed to marshal webhook payload",
			zap.String("topic", event.Topic),
			zap.Error(err),
		)
		return
	}

	err = m.send(ctx, body)
	m.mu.Lock()
	m.lastErr = err
	m.mu.Unlock()
	if err != nil {
		m.logger.Warn("webhook delivery failed",
			zap.String("topic", event.Topic),
			zap.String("anomaly_id", a.ID),
			zap.Error(err),
		)
		return
	}
	m.logger.Debug("webhook delivered",
		zap.String("topic", event.Topic),
		zap.String("anomaly_id", a.ID),
	)
}

// Sign returns the hex HMAC-SHA256 of body under secret.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func (m *Module) send(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.cfg.URL, bytes.NewReader(body))
	if err != nil {
		deliveries.WithLabelValues("error").Inc()
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "twinhub-webhook/"+version.Short())
	if m.cfg.Secret != "" {
		req.Header.Set(SignatureHeader, Sign(m.cfg.Secret, body))
	}

	resp, err := m.client.Do(req)
	if err != nil {
		deliveries.WithLabelValues("error").Inc()
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		deliveries.WithLabelValues("rejected").Inc()
		return fmt.Errorf("endpoint returned %d", resp.StatusCode)
	}
	deliveries.WithLabelValues("ok").Inc()
	return nil
}
