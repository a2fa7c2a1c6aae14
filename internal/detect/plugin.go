// Package detect implements the detection plugin: it buffers sensor and
// performance samples, runs the anomaly scorers on a fixed interval and
// publishes, persists and serves the resulting anomaly events.
package detect

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/HerbHall/twinhub/pkg/plugin"
	"github.com/HerbHall/twinhub/pkg/telemetry"
	"go.uber.org/zap"
)

// Compile-time interface guards.
var (
	_ plugin.Plugin          = (*Module)(nil)
	_ plugin.HTTPProvider    = (*Module)(nil)
	_ plugin.HealthChecker   = (*Module)(nil)
	_ plugin.EventSubscriber = (*Module)(nil)
)

// Module implements the detect plugin.
type Module struct {
	logger   *zap.Logger
	cfg      DetectConfig
	store    *DetectStore
	bus      plugin.EventBus
	detector *Detector
	tracker  *tracker
	authz    IngestAuthorizer

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// IngestAuthorizer resolves the device an HTTP ingest request may write to.
// It returns an empty ID when the request carries no credentials and an
// error when it carries bad ones.
type IngestAuthorizer func(r *http.Request) (deviceID string, err error)

// New creates a new detect plugin instance.
func New() *Module {
	return &Module{
		tracker: newTracker(),
		ctx:     context.Background(),
	}
}

func (m *Module) Info() plugin.PluginInfo {
	return plugin.PluginInfo{
		Name:        "detect",
		Version:     "0.1.0",
		Description: "Sliding-window sensor anomaly detection",
		Required:    true,
		APIVersion:  plugin.APIVersionCurrent,
	}
}

func (m *Module) Init(ctx context.Context, deps plugin.Dependencies) error {
	m.logger = deps.Logger

	m.cfg = DefaultConfig()
	if deps.Config != nil {
		if err := deps.Config.Unmarshal(&m.cfg); err != nil {
			return fmt.Errorf("unmarshal detect config: %w", err)
		}
	}

	d, err := NewDetector(m.cfg, m.logger)
	if err != nil {
		return err
	}
	m.detector = d

	if deps.Store != nil {
		if err := deps.Store.Migrate(ctx, "detect", Migrations()); err != nil {
			return fmt.Errorf("detect migrations: %w", err)
		}
		m.store = NewDetectStore(deps.Store.DB())
	}
	m.bus = deps.Bus

	m.logger.Info("detect module initialized",
		zap.Duration("update_interval", m.cfg.Interval()),
		zap.String("severity_threshold", string(m.cfg.SeverityThreshold)),
		zap.Bool("statistical", m.cfg.Algorithms.Statistical),
		zap.Bool("isolation_forest", m.cfg.Algorithms.IsolationForest),
		zap.Bool("local_outlier_factor", m.cfg.Algorithms.LocalOutlierFactor),
		zap.Bool("persistence", m.store != nil),
	)
	return nil
}

func (m *Module) Start(_ context.Context) error {
	m.ctx, m.cancel = context.WithCancel(context.Background())
	m.restoreBaselines()
	m.startDetection()
	m.startMaintenance()
	if m.cfg.BaselineRefreshInterval > 0 {
		m.startBaselineRefresh()
	}
	m.logger.Info("detect module started")
	return nil
}

func (m *Module) Stop(_ context.Context) error {
	if m.cancel != nil {
		m.cancel()
	}
	m.wg.Wait()
	m.logger.Info("detect module stopped")
	return nil
}

// SetIngestAuthorizer installs the credential check for the HTTP ingest
// routes. Call it before the server starts.
func (m *Module) SetIngestAuthorizer(fn IngestAuthorizer) {
	m.authz = fn
}

// -- plugin.HealthChecker --

// Health implements plugin.HealthChecker.
func (m *Module) Health(_ context.Context) plugin.HealthStatus {
	devices, baselines := 0, 0
	if m.detector != nil {
		devices = len(m.detector.Devices())
		baselines = len(m.detector.Baselines())
	}
	stats := m.tracker.statistics()
	return plugin.HealthStatus{
		Status: "healthy",
		Details: map[string]string{
			"devices":        strconv.Itoa(devices),
			"baselines":      strconv.Itoa(baselines),
			"anomalies":      strconv.Itoa(stats.TotalAnomalies),
			"persistence":    strconv.FormatBool(m.store != nil),
			"anomaly_rate_h": strconv.FormatFloat(stats.AnomalyRate, 'f', 0, 64),
		},
	}
}

// -- plugin.EventSubscriber --

// Subscriptions implements plugin.EventSubscriber.
func (m *Module) Subscriptions() []plugin.Subscription {
	return []plugin.Subscription{
		{Topic: TopicSensorReading, Handler: m.handleSensorReading},
		{Topic: TopicPerformanceSample, Handler: m.handlePerformanceSample},
		{Topic: TopicConfigChanged, Handler: m.handleConfigChanged},
	}
}

// -- Event Handlers --

func (m *Module) handleSensorReading(_ context.Context, event plugin.Event) {
	var r telemetry.Reading
	switch p := event.Payload.(type) {
	case telemetry.Reading:
		r = p
	case *telemetry.Reading:
		r = *p
	default:
		m.logger.Debug("ignored reading event: unexpected payload type",
			zap.String("source", event.Source))
		return
	}
	if err := m.IngestReading(r); err != nil {
		m.logger.Debug("reading rejected", zap.String("source", event.Source), zap.Error(err))
	}
}

func (m *Module) handlePerformanceSample(_ context.Context, event plugin.Event) {
	var p telemetry.PerformanceSample
	switch v := event.Payload.(type) {
	case telemetry.PerformanceSample:
		p = v
	case *telemetry.PerformanceSample:
		p = *v
	default:
		m.logger.Debug("ignored performance event: unexpected payload type",
			zap.String("source", event.Source))
		return
	}
	if err := m.detector.IngestPerformance(p); err != nil {
		m.logger.Debug("performance sample rejected", zap.String("source", event.Source), zap.Error(err))
	}
}

func (m *Module) handleConfigChanged(_ context.Context, event plugin.Event) {
	cfg, ok := event.Payload.(telemetry.AnomalyDetectionConfig)
	if !ok {
		m.logger.Debug("ignored config event: unexpected payload type",
			zap.String("source", event.Source))
		return
	}
	if err := m.detector.SetConfig(cfg); err != nil {
		m.logger.Warn("rejected detection config update", zap.Error(err))
		return
	}
	m.logger.Info("detection config updated", zap.String("source", event.Source))
}

// -- Operations --

// IngestReading feeds one sensor reading to the detector. A baseline built
// as a result is persisted and announced.
func (m *Module) IngestReading(r telemetry.Reading) error {
	update, err := m.detector.Ingest(r)
	if err != nil {
		return err
	}
	if update != nil {
		m.announceBaseline(*update)
	}
	return nil
}

// IngestPerformance feeds one performance sample to the detector.
func (m *Module) IngestPerformance(p telemetry.PerformanceSample) error {
	return m.detector.IngestPerformance(p)
}

// RunPass runs one detection pass and records every emitted event.
func (m *Module) RunPass() []telemetry.AnomalyEvent {
	events := m.detector.RunPass()
	for i := range events {
		m.recordAnomaly(&events[i])
	}
	return events
}

// recordAnomaly tracks, stores and publishes an anomaly.
func (m *Module) recordAnomaly(a *telemetry.AnomalyEvent) {
	m.logger.Info("anomaly detected",
		zap.String("id", a.ID),
		zap.String("device_id", a.DeviceID),
		zap.String("type", string(a.Type)),
		zap.String("severity", string(a.Severity)),
		zap.Float64("confidence", a.Confidence),
	)

	m.tracker.record(*a)

	if m.store != nil {
		ctx, cancel := context.WithTimeout(m.ctx, 5*time.Second)
		defer cancel()
		if err := m.store.InsertAnomaly(ctx, a); err != nil {
			m.logger.Warn("failed to store anomaly", zap.Error(err))
		}
	}

	m.publish(TopicAnomalyDetected, *a)
}

// Acknowledge marks an anomaly as acknowledged in the store and in memory.
// A failed store write leaves the in-memory anomaly untouched. It returns
// ErrAnomalyNotFound when neither knows the ID.
func (m *Module) Acknowledge(ctx context.Context, id, notes string) (telemetry.AnomalyEvent, error) {
	at := time.Now()

	stored := false
	if m.store != nil {
		err := m.store.AcknowledgeAnomaly(ctx, id, notes, at)
		if err != nil && !errors.Is(err, ErrAnomalyNotFound) {
			return telemetry.AnomalyEvent{}, err
		}
		stored = err == nil
	}

	acked, found := m.tracker.acknowledge(id, notes, at)
	if !found && stored {
		a, err := m.store.GetAnomaly(ctx, id)
		if err != nil {
			return telemetry.AnomalyEvent{}, err
		}
		acked, found = *a, true
	}
	if !found {
		return telemetry.AnomalyEvent{}, ErrAnomalyNotFound
	}

	m.publish(TopicAnomalyAcknowledged, acked)
	return acked, nil
}

// ClearAnomalies drops the in-memory anomaly lists, patterns and statistics.
// Persisted anomalies are kept.
func (m *Module) ClearAnomalies() {
	m.tracker.clear()
	m.publish(TopicAnomaliesCleared, nil)
}

// RefreshBaselines recomputes every baseline with enough history and
// persists and announces the results.
func (m *Module) RefreshBaselines() []DeviceBaseline {
	updated := m.detector.RefreshBaselines()
	for _, u := range updated {
		m.announceBaseline(u)
	}
	return updated
}

// Statistics returns the anomaly statistics since the last clear.
func (m *Module) Statistics() telemetry.AnomalyStatistics {
	return m.tracker.statistics()
}

// Detector exposes the orchestrator for read access.
func (m *Module) Detector() *Detector {
	return m.detector
}

func (m *Module) announceBaseline(u DeviceBaseline) {
	if m.store != nil {
		ctx, cancel := context.WithTimeout(m.ctx, 5*time.Second)
		defer cancel()
		if err := m.store.UpsertBaseline(ctx, u.DeviceID, &u.Baseline); err != nil {
			m.logger.Warn("failed to persist baseline",
				zap.String("device_id", u.DeviceID),
				zap.String("sensor", string(u.Baseline.SensorType)),
				zap.Error(err),
			)
		}
	}
	m.publish(TopicBaselineUpdated, u)
}

// restoreBaselines loads persisted baselines into the detector.
func (m *Module) restoreBaselines() {
	if m.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(m.ctx, 10*time.Second)
	defer cancel()

	stored, err := m.store.ListBaselines(ctx)
	if err != nil {
		m.logger.Warn("failed to load baselines", zap.Error(err))
		return
	}
	restored := 0
	for _, b := range stored {
		if err := m.detector.PutBaseline(b.DeviceID, b.Baseline); err != nil {
			m.logger.Warn("skipped persisted baseline",
				zap.String("device_id", b.DeviceID),
				zap.Error(err),
			)
			continue
		}
		restored++
	}
	if restored > 0 {
		m.logger.Info("restored baselines", zap.Int("count", restored))
	}
}

func (m *Module) publish(topic string, payload any) {
	if m.bus == nil {
		return
	}
	m.bus.PublishAsync(m.ctx, plugin.Event{
		Topic:   topic,
		Source:  "detect",
		Payload: payload,
	})
}
