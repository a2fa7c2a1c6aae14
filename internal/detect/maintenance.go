package detect

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// startDetection launches the detection loop. The ticker follows the
// update interval of the active config, so interval changes take effect
// after the next pass.
func (m *Module) startDetection() {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		interval := m.detector.Config().Interval()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-m.ctx.Done():
				return
			case <-ticker.C:
				m.RunPass()
				if next := m.detector.Config().Interval(); next != interval {
					interval = next
					ticker.Reset(interval)
					m.logger.Debug("detection interval changed", zap.Duration("interval", interval))
				}
			}
		}
	}()
}

// startMaintenance launches a background goroutine that periodically runs
// runMaintenance.
func (m *Module) startMaintenance() {
	if m.cfg.MaintenanceInterval <= 0 {
		return
	}
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(m.cfg.MaintenanceInterval)
		defer ticker.Stop()

		for {
			select {
			case <-m.ctx.Done():
				return
			case <-ticker.C:
				m.runMaintenance()
			}
		}
	}()
}

// startBaselineRefresh periodically recomputes baselines from history.
func (m *Module) startBaselineRefresh() {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(m.cfg.BaselineRefreshInterval)
		defer ticker.Stop()

		for {
			select {
			case <-m.ctx.Done():
				return
			case <-ticker.C:
				if n := len(m.RefreshBaselines()); n > 0 {
					m.logger.Debug("refreshed baselines", zap.Int("count", n))
				}
			}
		}
	}()
}

// runMaintenance executes a single maintenance cycle: idle devices are
// dropped from memory and persisted anomalies past retention are purged.
func (m *Module) runMaintenance() {
	if m.cfg.DeviceIdleTimeout > 0 {
		m.detector.EvictIdle(time.Now().Add(-m.cfg.DeviceIdleTimeout))
	}

	if m.store == nil || m.cfg.AnomalyRetention <= 0 {
		return
	}
	ctx, cancel := context.WithTimeout(m.ctx, 30*time.Second)
	defer cancel()

	cutoff := time.Now().Add(-m.cfg.AnomalyRetention)
	deleted, err := m.store.DeleteOldAnomalies(ctx, cutoff)
	if err != nil {
		m.logger.Warn("failed to delete old anomalies", zap.Error(err))
	} else if deleted > 0 {
		m.logger.Info("purged old anomalies", zap.Int64("count", deleted))
	}
}
