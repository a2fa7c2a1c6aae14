package detect

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/HerbHall/twinhub/pkg/telemetry"
)

// ErrAnomalyNotFound is returned when no anomaly has the requested ID.
var ErrAnomalyNotFound = errors.New("anomaly not found")

// DetectStore provides database access for the detect plugin.
type DetectStore struct {
	db *sql.DB
}

// NewDetectStore creates a new DetectStore backed by the given database.
func NewDetectStore(db *sql.DB) *DetectStore {
	return &DetectStore{db: db}
}

// -- Anomalies --

const anomalyColumns = `id, device_id, type, severity, confidence, description,
	sensor_values, window_size_ms, baseline_deviation, detected_at,
	acknowledged, acknowledged_at, notes`

// InsertAnomaly inserts a new anomaly record.
func (s *DetectStore) InsertAnomaly(ctx context.Context, a *telemetry.AnomalyEvent) error {
	values, err := json.Marshal(a.SensorValues)
	if err != nil {
		return fmt.Errorf("marshal sensor values: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO detect_anomalies (`+anomalyColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.DeviceID, string(a.Type), string(a.Severity), a.Confidence, a.Description,
		string(values), a.WindowSize, a.BaselineDeviation, a.Timestamp,
		boolToInt(a.Acknowledged), a.AcknowledgedAt, a.Notes,
	)
	if err != nil {
		return fmt.Errorf("insert anomaly: %w", err)
	}
	return nil
}

// GetAnomaly returns the anomaly with the given ID.
func (s *DetectStore) GetAnomaly(ctx context.Context, id string) (*telemetry.AnomalyEvent, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+anomalyColumns+` FROM detect_anomalies WHERE id = ?`, id)
	a, err := scanAnomaly(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrAnomalyNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get anomaly: %w", err)
	}
	return a, nil
}

// ListAnomalies returns anomalies, optionally filtered by device.
// Pass empty deviceID to list all. Results are ordered newest first.
func (s *DetectStore) ListAnomalies(ctx context.Context, deviceID string, limit int) ([]telemetry.AnomalyEvent, error) {
	if limit <= 0 {
		limit = 50
	}

	var rows *sql.Rows
	var err error
	if deviceID == "" {
		rows, err = s.db.QueryContext(ctx, `
			SELECT `+anomalyColumns+`
			FROM detect_anomalies ORDER BY detected_at DESC LIMIT ?`,
			limit,
		)
	} else {
		rows, err = s.db.QueryContext(ctx, `
			SELECT `+anomalyColumns+`
			FROM detect_anomalies WHERE device_id = ? ORDER BY detected_at DESC LIMIT ?`,
			deviceID, limit,
		)
	}
	if err != nil {
		return nil, fmt.Errorf("list anomalies: %w", err)
	}
	defer rows.Close()

	var anomalies []telemetry.AnomalyEvent
	for rows.Next() {
		a, err := scanAnomaly(rows)
		if err != nil {
			return nil, fmt.Errorf("scan anomaly row: %w", err)
		}
		anomalies = append(anomalies, *a)
	}
	return anomalies, rows.Err()
}

// AcknowledgeAnomaly marks an anomaly as acknowledged. Only the
// acknowledgment fields change.
func (s *DetectStore) AcknowledgeAnomaly(ctx context.Context, id, notes string, at time.Time) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE detect_anomalies SET acknowledged = 1, acknowledged_at = ?, notes = ?
		WHERE id = ?`,
		at, notes, id,
	)
	if err != nil {
		return fmt.Errorf("acknowledge anomaly: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("acknowledge anomaly: %w", err)
	}
	if n == 0 {
		return ErrAnomalyNotFound
	}
	return nil
}

// DeleteOldAnomalies deletes anomalies detected before the given time.
// Returns the number of rows deleted.
func (s *DetectStore) DeleteOldAnomalies(ctx context.Context, before time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM detect_anomalies WHERE detected_at < ?`, before)
	if err != nil {
		return 0, fmt.Errorf("delete old anomalies: %w", err)
	}
	return result.RowsAffected()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAnomaly(row rowScanner) (*telemetry.AnomalyEvent, error) {
	var (
		a       telemetry.AnomalyEvent
		typ     string
		sev     string
		values  string
		acked   int
		ackedAt sql.NullTime
	)
	if err := row.Scan(
		&a.ID, &a.DeviceID, &typ, &sev, &a.Confidence, &a.Description,
		&values, &a.WindowSize, &a.BaselineDeviation, &a.Timestamp,
		&acked, &ackedAt, &a.Notes,
	); err != nil {
		return nil, err
	}
	a.Type = telemetry.AnomalyType(typ)
	a.Severity = telemetry.Severity(sev)
	a.Acknowledged = acked != 0
	if ackedAt.Valid {
		a.AcknowledgedAt = &ackedAt.Time
	}
	if values != "" && values != "null" {
		if err := json.Unmarshal([]byte(values), &a.SensorValues); err != nil {
			return nil, fmt.Errorf("unmarshal sensor values: %w", err)
		}
	}
	return &a, nil
}

// -- Baselines --

// baselineStats is the JSON form of the per-axis arrays.
type baselineStats struct {
	Mean         []float64 `json:"mean"`
	Std          []float64 `json:"std"`
	Min          []float64 `json:"min"`
	Max          []float64 `json:"max"`
	Median       []float64 `json:"median"`
	Percentile25 []float64 `json:"p25"`
	Percentile75 []float64 `json:"p75"`
	IQR          []float64 `json:"iqr"`
}

// UpsertBaseline inserts or replaces the baseline of one device sensor.
func (s *DetectStore) UpsertBaseline(ctx context.Context, deviceID string, b *telemetry.SensorBaseline) error {
	stats, err := json.Marshal(baselineStats{
		Mean: b.Mean, Std: b.Std, Min: b.Min, Max: b.Max,
		Median: b.Median, Percentile25: b.Percentile25, Percentile75: b.Percentile75, IQR: b.IQR,
	})
	if err != nil {
		return fmt.Errorf("marshal baseline: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO detect_baselines (
			device_id, sensor_type, stats, samples_count, time_window_minutes, updated_at
		) VALUES (?, ?, ?, ?, ?, ?)`,
		deviceID, string(b.SensorType), string(stats), b.SamplesCount, b.TimeWindowMinutes, b.LastUpdated,
	)
	if err != nil {
		return fmt.Errorf("upsert baseline: %w", err)
	}
	return nil
}

// ListBaselines returns every persisted baseline ordered by device and sensor.
func (s *DetectStore) ListBaselines(ctx context.Context) ([]DeviceBaseline, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT device_id, sensor_type, stats, samples_count, time_window_minutes, updated_at
		FROM detect_baselines ORDER BY device_id, sensor_type`)
	if err != nil {
		return nil, fmt.Errorf("list baselines: %w", err)
	}
	defer rows.Close()

	var out []DeviceBaseline
	for rows.Next() {
		var (
			rec    DeviceBaseline
			sensor string
			raw    string
			stats  baselineStats
		)
		if err := rows.Scan(
			&rec.DeviceID, &sensor, &raw,
			&rec.Baseline.SamplesCount, &rec.Baseline.TimeWindowMinutes, &rec.Baseline.LastUpdated,
		); err != nil {
			return nil, fmt.Errorf("scan baseline row: %w", err)
		}
		if err := json.Unmarshal([]byte(raw), &stats); err != nil {
			return nil, fmt.Errorf("unmarshal baseline %s/%s: %w", rec.DeviceID, sensor, err)
		}
		rec.Baseline.SensorType = telemetry.SensorType(sensor)
		rec.Baseline.Mean = stats.Mean
		rec.Baseline.Std = stats.Std
		rec.Baseline.Min = stats.Min
		rec.Baseline.Max = stats.Max
		rec.Baseline.Median = stats.Median
		rec.Baseline.Percentile25 = stats.Percentile25
		rec.Baseline.Percentile75 = stats.Percentile75
		rec.Baseline.IQR = stats.IQR
		out = append(out, rec)
	}
	return out, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
