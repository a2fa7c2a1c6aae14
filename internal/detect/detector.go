package detect

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/HerbHall/twinhub/internal/detect/anomaly"
	"github.com/HerbHall/twinhub/internal/detect/baseline"
	"github.com/HerbHall/twinhub/internal/detect/window"
	"github.com/HerbHall/twinhub/pkg/telemetry"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrInvalidReading is returned when an ingested sample names an unknown
// sensor, an unusable device ID or a non-finite value.
var ErrInvalidReading = errors.New("invalid reading")

// ErrDeviceLimit is returned when a sample names a new device while the
// detector already tracks max_devices devices, none of them idle.
var ErrDeviceLimit = errors.New("device limit reached")

// Score gates that turn a density or statistical score into a candidate.
const (
	statisticalGate = 0.5 // -> pattern_deviation
	isolationGate   = 0.6 // -> unexpected_acceleration
	lofGate         = 0.5 // -> drift_detected
)

// sampleKind selects the description format and sensor value snapshot.
type sampleKind int

const (
	kindMotion sampleKind = iota
	kindPerformance
	kindStatistical
)

type scored struct {
	anomaly.Candidate
	kind sampleKind
}

// Baselines is a keyed container of per-sensor baselines. Put replaces any
// previous baseline for the same sensor type. The zero value is ready to use.
type Baselines struct {
	m map[telemetry.SensorType]telemetry.SensorBaseline
}

// Get returns the baseline for sensor, if one has been computed.
func (b *Baselines) Get(sensor telemetry.SensorType) (telemetry.SensorBaseline, bool) {
	v, ok := b.m[sensor]
	return v, ok
}

// Put stores v under its sensor type.
func (b *Baselines) Put(v telemetry.SensorBaseline) {
	if b.m == nil {
		b.m = make(map[telemetry.SensorType]telemetry.SensorBaseline)
	}
	b.m[v.SensorType] = v
}

// Len returns the number of stored baselines.
func (b *Baselines) Len() int { return len(b.m) }

// All returns the stored baselines in sensor type order.
func (b *Baselines) All() []telemetry.SensorBaseline {
	out := make([]telemetry.SensorBaseline, 0, len(b.m))
	for _, s := range telemetry.SensorTypes() {
		if v, ok := b.m[s]; ok {
			out = append(out, v)
		}
	}
	return out
}

// deviceState is everything the detector knows about one paired device.
type deviceState struct {
	latest      map[telemetry.SensorType]telemetry.Reading
	performance *telemetry.PerformanceSample
	recent      *window.Ring[[]float64] // accelerometer vectors
	history     map[telemetry.SensorType]*window.Ring[[]float64]
	baselines   Baselines
	lastSeen    time.Time
}

// Detector is the detection orchestrator. It buffers ingested samples per
// device and, on each RunPass, scores the latest samples and turns
// qualifying candidates into anomaly events.
//
// All state is guarded by one mutex, so ingestion never interleaves with a
// pass. Only the latest reading per sensor is scored in a pass; readings
// that arrive between passes only feed the buffers.
type Detector struct {
	logger *zap.Logger

	mu            sync.Mutex
	cfg           telemetry.AnomalyDetectionConfig
	devices       map[string]*deviceState
	recentCap     int
	historyCap    int
	defaultDevice string
	maxDevices    int
	idleTimeout   time.Duration

	now   func() time.Time
	newID func() string
}

// NewDetector creates a detector from cfg. It fails when the detection
// settings are invalid or the history buffer could never hold enough
// samples to build a baseline.
func NewDetector(cfg DetectConfig, logger *zap.Logger) (*Detector, error) {
	if err := cfg.AnomalyDetectionConfig.Validate(); err != nil {
		return nil, fmt.Errorf("detection config: %w", err)
	}
	if cfg.HistoryCapacity <= baseline.MinSamples {
		return nil, fmt.Errorf("history_capacity must exceed %d, got %d", baseline.MinSamples, cfg.HistoryCapacity)
	}
	if cfg.RecentCapacity < anomaly.MinNeighbors+1 {
		return nil, fmt.Errorf("recent_capacity must be at least %d, got %d", anomaly.MinNeighbors+1, cfg.RecentCapacity)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	device := cfg.DefaultDeviceID
	if device == "" {
		device = "default"
	}
	if !telemetry.ValidDeviceID(device) {
		return nil, fmt.Errorf("default_device_id %q is not a valid device ID", device)
	}
	if cfg.MaxDevices < 0 {
		return nil, fmt.Errorf("max_devices must not be negative, got %d", cfg.MaxDevices)
	}
	return &Detector{
		logger:        logger,
		cfg:           cfg.AnomalyDetectionConfig.Clone(),
		devices:       make(map[string]*deviceState),
		recentCap:     cfg.RecentCapacity,
		historyCap:    cfg.HistoryCapacity,
		defaultDevice: device,
		maxDevices:    cfg.MaxDevices,
		idleTimeout:   cfg.DeviceIdleTimeout,
		now:           time.Now,
		newID:         uuid.NewString,
	}, nil
}

// Config returns a copy of the active detection settings.
func (d *Detector) Config() telemetry.AnomalyDetectionConfig {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cfg.Clone()
}

// SetConfig replaces the detection settings. Settings that fail validation,
// including ones missing a threshold entry, are rejected and the active
// settings are kept. The next pass uses the new settings.
func (d *Detector) SetConfig(cfg telemetry.AnomalyDetectionConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	d.mu.Lock()
	d.cfg = cfg.Clone()
	d.mu.Unlock()
	return nil
}

// Ingest records a sensor reading. When the reading's sensor has no baseline
// yet and its history now exceeds baseline.MinSamples, a baseline is built
// from the history buffer and returned.
func (d *Detector) Ingest(r telemetry.Reading) (*DeviceBaseline, error) {
	if !r.Sensor.Valid() {
		readingsRejected.Inc()
		return nil, fmt.Errorf("%w: unknown sensor type %q", ErrInvalidReading, r.Sensor)
	}
	v := r.Vector()
	if !v.Finite() {
		readingsRejected.Inc()
		return nil, fmt.Errorf("%w: non-finite %s value", ErrInvalidReading, r.Sensor)
	}

	id, err := d.checkDeviceID(r.DeviceID)
	if err != nil {
		return nil, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	r.DeviceID = id
	st, err := d.device(id)
	if err != nil {
		return nil, err
	}
	st.lastSeen = d.now()
	st.latest[r.Sensor] = r
	hist := st.history[r.Sensor]
	hist.Push(v.Slice())
	if r.Sensor == telemetry.SensorAccelerometer {
		st.recent.Push(v.Slice())
	}
	readingsIngested.WithLabelValues(string(r.Sensor)).Inc()

	if _, ok := st.baselines.Get(r.Sensor); ok || hist.Len() <= baseline.MinSamples {
		return nil, nil
	}
	b := d.computeBaseline(st, r.Sensor)
	d.logger.Info("baseline established",
		zap.String("device_id", id),
		zap.String("sensor", string(r.Sensor)),
		zap.Int("samples", b.SamplesCount),
	)
	return &DeviceBaseline{DeviceID: id, Baseline: b}, nil
}

// IngestPerformance records the latest device performance sample.
func (d *Detector) IngestPerformance(p telemetry.PerformanceSample) error {
	if !p.Finite() {
		readingsRejected.Inc()
		return fmt.Errorf("%w: non-finite performance sample", ErrInvalidReading)
	}

	id, err := d.checkDeviceID(p.DeviceID)
	if err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	st, err := d.device(id)
	if err != nil {
		return err
	}
	p.DeviceID = id
	st.lastSeen = d.now()
	st.performance = &p
	readingsIngested.WithLabelValues("performance").Inc()
	return nil
}

// Baseline returns the baseline of one device's sensor.
func (d *Detector) Baseline(deviceID string, sensor telemetry.SensorType) (telemetry.SensorBaseline, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	st, ok := d.devices[d.deviceID(deviceID)]
	if !ok {
		return telemetry.SensorBaseline{}, false
	}
	return st.baselines.Get(sensor)
}

// PutBaseline installs a baseline for a device, replacing any previous
// baseline for the same sensor type. Used to restore persisted baselines.
func (d *Detector) PutBaseline(deviceID string, b telemetry.SensorBaseline) error {
	if !b.SensorType.Valid() {
		return fmt.Errorf("%w: unknown sensor type %q", ErrInvalidReading, b.SensorType)
	}
	if b.Axes() != baseline.Axes {
		return fmt.Errorf("%w: baseline for %s", anomaly.ErrMalformedBaseline, b.SensorType)
	}
	id, err := d.checkDeviceID(deviceID)
	if err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	st, err := d.device(id)
	if err != nil {
		return err
	}
	if st.lastSeen.IsZero() {
		st.lastSeen = d.now()
	}
	st.baselines.Put(b)
	return nil
}

// Baselines returns every stored baseline, ordered by device then sensor.
func (d *Detector) Baselines() []DeviceBaseline {
	d.mu.Lock()
	defer d.mu.Unlock()

	var out []DeviceBaseline
	for _, id := range d.deviceIDs() {
		for _, b := range d.devices[id].baselines.All() {
			out = append(out, DeviceBaseline{DeviceID: id, Baseline: b})
		}
	}
	return out
}

// RefreshBaselines recomputes, wholesale, the baseline of every sensor whose
// history exceeds baseline.MinSamples and returns the new baselines.
func (d *Detector) RefreshBaselines() []DeviceBaseline {
	d.mu.Lock()
	defer d.mu.Unlock()

	var out []DeviceBaseline
	for _, id := range d.deviceIDs() {
		st := d.devices[id]
		for _, s := range telemetry.SensorTypes() {
			if st.history[s].Len() <= baseline.MinSamples {
				continue
			}
			out = append(out, DeviceBaseline{DeviceID: id, Baseline: d.computeBaseline(st, s)})
		}
	}
	return out
}

// EvictIdle drops every device whose last sample is older than before,
// together with its buffers and in-memory baselines, and returns the
// dropped IDs in sorted order.
func (d *Detector) EvictIdle(before time.Time) []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.evictIdle(before)
}

// Devices returns the IDs of every device that has sent a sample.
func (d *Detector) Devices() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.deviceIDs()
}

// RunPass runs one detection pass over every device and returns the emitted
// events in pass order: motion rules, performance rules, statistical,
// isolation, then LOF, device by device.
func (d *Detector) RunPass() []telemetry.AnomalyEvent {
	start := time.Now()
	d.mu.Lock()
	defer d.mu.Unlock()
	defer func() { passDuration.Observe(time.Since(start).Seconds()) }()

	cfg := d.cfg
	now := d.now()
	var events []telemetry.AnomalyEvent
	for _, id := range d.deviceIDs() {
		events = append(events, d.passDevice(id, d.devices[id], &cfg, now)...)
	}
	return events
}

func (d *Detector) passDevice(id string, st *deviceState, cfg *telemetry.AnomalyDetectionConfig, now time.Time) []telemetry.AnomalyEvent {
	accel, haveAccel := st.latest[telemetry.SensorAccelerometer]
	gyro, haveGyro := st.latest[telemetry.SensorGyroscope]

	var candidates []scored
	if haveAccel && haveGyro {
		candidates = append(candidates, d.score("motion", kindMotion, func() ([]anomaly.Candidate, error) {
			return anomaly.MotionCandidates(accel.Vector(), gyro.Vector()), nil
		})...)
	}
	if st.performance != nil {
		perf := *st.performance
		candidates = append(candidates, d.score("performance", kindPerformance, func() ([]anomaly.Candidate, error) {
			return anomaly.PerformanceCandidates(perf), nil
		})...)
	}

	if haveAccel {
		sample := accel.Vector().Slice()

		if b, ok := st.baselines.Get(telemetry.SensorAccelerometer); ok && cfg.Algorithms.Statistical {
			candidates = append(candidates, d.score("statistical", kindStatistical, func() ([]anomaly.Candidate, error) {
				s, err := anomaly.StatisticalScore(sample, &b)
				if err != nil || s <= statisticalGate {
					return nil, err
				}
				return []anomaly.Candidate{{Type: telemetry.AnomalyPatternDeviation, Score: s}}, nil
			})...)
		}

		// The latest sample is the newest entry of the recent buffer; it is
		// not its own neighbour.
		neighbors := st.recent.Snapshot()
		if len(neighbors) > 0 {
			neighbors = neighbors[:len(neighbors)-1]
		}

		if cfg.Algorithms.IsolationForest && len(neighbors) >= anomaly.MinNeighbors {
			candidates = append(candidates, d.score("isolation", kindStatistical, func() ([]anomaly.Candidate, error) {
				if s := anomaly.IsolationScore(sample, neighbors); s > isolationGate {
					return []anomaly.Candidate{{Type: telemetry.AnomalyUnexpectedAcceleration, Score: s}}, nil
				}
				return nil, nil
			})...)
		}
		if cfg.Algorithms.LocalOutlierFactor && len(neighbors) >= anomaly.LOFNeighbors {
			candidates = append(candidates, d.score("lof", kindStatistical, func() ([]anomaly.Candidate, error) {
				if s := anomaly.LOFScore(sample, neighbors); s > lofGate {
					return []anomaly.Candidate{{Type: telemetry.AnomalyDrift, Score: s}}, nil
				}
				return nil, nil
			})...)
		}
	}

	var events []telemetry.AnomalyEvent
	for _, c := range candidates {
		candidatesTotal.WithLabelValues(string(c.Type)).Inc()

		th, ok := cfg.AnomalyThresholds[c.Type]
		if !ok {
			d.logger.Debug("no threshold configured, alerting disabled",
				zap.String("type", string(c.Type)))
			continue
		}
		if !th.EnableAlert || c.Score < th.Threshold {
			continue
		}
		severity := anomaly.SeverityFor(c.Score)
		if !severity.AtLeast(cfg.SeverityThreshold) {
			continue
		}

		ev := telemetry.AnomalyEvent{
			ID:                d.newID(),
			DeviceID:          id,
			Timestamp:         now,
			Type:              c.Type,
			Severity:          severity,
			Confidence:        c.Score,
			WindowSize:        th.WindowSize,
			BaselineDeviation: c.Score * 100,
		}
		ev.Description, ev.SensorValues = describe(c, accel, gyro, st.performance)
		anomaliesTotal.WithLabelValues(string(ev.Type), string(ev.Severity)).Inc()
		events = append(events, ev)
	}
	return events
}

// score runs one scorer and tags its candidates. A scorer that fails or
// panics contributes nothing to the pass.
func (d *Detector) score(name string, kind sampleKind, fn func() ([]anomaly.Candidate, error)) (out []scored) {
	defer func() {
		if r := recover(); r != nil {
			scorerFailures.WithLabelValues(name).Inc()
			d.logger.Error("scorer panicked",
				zap.String("scorer", name),
				zap.Any("panic", r),
			)
			out = nil
		}
	}()

	cs, err := fn()
	if err != nil {
		scorerFailures.WithLabelValues(name).Inc()
		d.logger.Debug("scorer skipped", zap.String("scorer", name), zap.Error(err))
		return nil
	}
	out = make([]scored, 0, len(cs))
	for _, c := range cs {
		out = append(out, scored{Candidate: c, kind: kind})
	}
	return out
}

func describe(c scored, accel, gyro telemetry.Reading, perf *telemetry.PerformanceSample) (string, map[string]float64) {
	label := strings.ReplaceAll(string(c.Type), "_", " ")
	switch c.kind {
	case kindMotion:
		return fmt.Sprintf("%s: Accel X=%.2f Y=%.2f Z=%.2f", label, accel.X, accel.Y, accel.Z),
			map[string]float64{
				"accelX": accel.X, "accelY": accel.Y, "accelZ": accel.Z,
				"gyroX": gyro.X, "gyroY": gyro.Y, "gyroZ": gyro.Z,
			}
	case kindPerformance:
		return fmt.Sprintf("%s: CPU=%.1f%% Memory=%.1f%% Temp=%.1f°C", label, perf.CPU, perf.Memory, perf.Temperature),
			map[string]float64{
				"cpu": perf.CPU, "memory": perf.Memory, "temperature": perf.Temperature,
			}
	default:
		return label + ": Statistical deviation detected",
			map[string]float64{"x": accel.X, "y": accel.Y, "z": accel.Z}
	}
}

// computeBaseline builds and stores a baseline from the sensor's history.
// Callers hold d.mu.
func (d *Detector) computeBaseline(st *deviceState, sensor telemetry.SensorType) telemetry.SensorBaseline {
	b := baseline.ComputeAt(sensor, st.history[sensor].Snapshot(), d.now())
	st.baselines.Put(b)
	baselineComputations.WithLabelValues(string(sensor)).Inc()
	return b
}

func (d *Detector) deviceID(id string) string {
	if id == "" {
		return d.defaultDevice
	}
	return id
}

// checkDeviceID resolves an empty ID to the default device and rejects IDs
// that could not name a device.
func (d *Detector) checkDeviceID(id string) (string, error) {
	id = d.deviceID(id)
	if !telemetry.ValidDeviceID(id) {
		readingsRejected.Inc()
		return "", fmt.Errorf("%w: device_id must be 1-64 characters of [A-Za-z0-9_-]", ErrInvalidReading)
	}
	return id, nil
}

// device returns the state for id, creating it on first use. A new device
// over the limit first triggers an idle sweep and fails with ErrDeviceLimit
// if nothing could be dropped. Callers hold d.mu.
func (d *Detector) device(id string) (*deviceState, error) {
	if st, ok := d.devices[id]; ok {
		return st, nil
	}
	if d.maxDevices > 0 && len(d.devices) >= d.maxDevices {
		if d.idleTimeout > 0 {
			d.evictIdle(d.now().Add(-d.idleTimeout))
		}
		if len(d.devices) >= d.maxDevices {
			return nil, fmt.Errorf("%w: %d devices", ErrDeviceLimit, d.maxDevices)
		}
	}
	st := &deviceState{
		latest:  make(map[telemetry.SensorType]telemetry.Reading),
		recent:  window.New[[]float64](d.recentCap),
		history: make(map[telemetry.SensorType]*window.Ring[[]float64]),
	}
	for _, s := range telemetry.SensorTypes() {
		st.history[s] = window.New[[]float64](d.historyCap)
	}
	d.devices[id] = st
	return st, nil
}

// evictIdle drops devices last seen before the cutoff. Callers hold d.mu.
func (d *Detector) evictIdle(before time.Time) []string {
	var evicted []string
	for _, id := range d.deviceIDs() {
		if d.devices[id].lastSeen.Before(before) {
			delete(d.devices, id)
			evicted = append(evicted, id)
		}
	}
	if len(evicted) > 0 {
		devicesEvicted.Add(float64(len(evicted)))
		d.logger.Info("evicted idle devices", zap.Strings("device_ids", evicted))
	}
	return evicted
}

// deviceIDs returns the known device IDs in sorted order. Callers hold d.mu.
func (d *Detector) deviceIDs() []string {
	ids := make([]string, 0, len(d.devices))
	for id := range d.devices {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
