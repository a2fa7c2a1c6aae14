package detect

import (
	"database/sql"

	"github.com/HerbHall/twinhub/pkg/plugin"
)

// Migrations returns the detect module's database migrations.
func Migrations() []plugin.Migration {
	return []plugin.Migration{
		{
			Version:     1,
			Description: "create anomaly and baseline tables",
			Up: func(tx *sql.Tx) error {
				stmts := []string{
					`CREATE TABLE IF NOT EXISTS detect_anomalies (
						id                 TEXT PRIMARY KEY,
						device_id          TEXT NOT NULL DEFAULT '',
						type               TEXT NOT NULL,
						severity           TEXT NOT NULL,
						confidence         REAL NOT NULL,
						description        TEXT NOT NULL DEFAULT '',
						sensor_values      TEXT NOT NULL DEFAULT '{}',
						window_size_ms     INTEGER NOT NULL DEFAULT 0,
						baseline_deviation REAL NOT NULL DEFAULT 0,
						detected_at        DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
						acknowledged       INTEGER NOT NULL DEFAULT 0,
						acknowledged_at    DATETIME,
						notes              TEXT NOT NULL DEFAULT ''
					)`,
					`CREATE INDEX IF NOT EXISTS idx_detect_anomalies_device ON detect_anomalies(device_id)`,
					`CREATE INDEX IF NOT EXISTS idx_detect_anomalies_detected ON detect_anomalies(detected_at)`,

					`CREATE TABLE IF NOT EXISTS detect_baselines (
						device_id           TEXT NOT NULL,
						sensor_type         TEXT NOT NULL,
						stats               TEXT NOT NULL,
						samples_count       INTEGER NOT NULL DEFAULT 0,
						time_window_minutes INTEGER NOT NULL DEFAULT 0,
						updated_at          DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
						PRIMARY KEY (device_id, sensor_type)
					)`,
				}
				for _, stmt := range stmts {
					if _, err := tx.Exec(stmt); err != nil {
						return err
					}
				}
				return nil
			},
		},
	}
}
