package detect

import (
	"sync"
	"time"

	"github.com/HerbHall/twinhub/pkg/telemetry"
	"github.com/google/uuid"
)

// In-memory list bounds.
const (
	currentLimit = 50
	recentLimit  = 100
	recentWindow = time.Hour
)

// tracker keeps the in-memory view of emitted anomalies: the newest events,
// the events of the last hour, per-type patterns and running statistics.
// Counters cover everything recorded since the last clear.
type tracker struct {
	mu       sync.RWMutex
	current  []telemetry.AnomalyEvent // newest first
	recent   []telemetry.AnomalyEvent // newest first, within recentWindow
	patterns map[telemetry.AnomalyType]*telemetry.AnomalyPattern

	total         int
	byType        map[telemetry.AnomalyType]int
	bySeverity    map[telemetry.Severity]int
	confidenceSum float64
	lastAt        time.Time

	now   func() time.Time
	newID func() string
}

func newTracker() *tracker {
	return &tracker{
		patterns:   make(map[telemetry.AnomalyType]*telemetry.AnomalyPattern),
		byType:     make(map[telemetry.AnomalyType]int),
		bySeverity: make(map[telemetry.Severity]int),
		now:        time.Now,
		newID:      uuid.NewString,
	}
}

// record adds an event to the lists and statistics.
func (t *tracker) record(ev telemetry.AnomalyEvent) {
	t.mu.Lock()
	defer t.mu.Unlock()

	cutoff := t.now().Add(-recentWindow)
	recent := make([]telemetry.AnomalyEvent, 0, recentLimit)
	recent = append(recent, ev)
	for _, e := range t.recent {
		if len(recent) == recentLimit {
			break
		}
		if e.Timestamp.After(cutoff) {
			recent = append(recent, e)
		}
	}
	t.recent = recent

	t.current = append([]telemetry.AnomalyEvent{ev}, t.current...)
	if len(t.current) > currentLimit {
		t.current = t.current[:currentLimit]
	}

	if p, ok := t.patterns[ev.Type]; ok {
		p.Occurrences++
		p.LastSeen = ev.Timestamp
		p.LastSeverity = ev.Severity
	} else {
		t.patterns[ev.Type] = &telemetry.AnomalyPattern{
			ID:           t.newID(),
			Type:         ev.Type,
			Occurrences:  1,
			LastSeverity: ev.Severity,
			FirstSeen:    ev.Timestamp,
			LastSeen:     ev.Timestamp,
		}
	}

	t.total++
	t.byType[ev.Type]++
	t.bySeverity[ev.Severity]++
	t.confidenceSum += ev.Confidence
	t.lastAt = ev.Timestamp
}

// acknowledge marks the event with id as acknowledged in both lists. It
// reports the acknowledged event and whether it was found.
func (t *tracker) acknowledge(id, notes string, at time.Time) (telemetry.AnomalyEvent, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	var (
		acked telemetry.AnomalyEvent
		found bool
	)
	for _, list := range [][]telemetry.AnomalyEvent{t.current, t.recent} {
		for i := range list {
			if list[i].ID == id {
				list[i] = list[i].Acknowledge(at, notes)
				acked, found = list[i], true
			}
		}
	}
	return acked, found
}

// currentEvents returns a copy of the newest events, newest first.
func (t *tracker) currentEvents() []telemetry.AnomalyEvent {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]telemetry.AnomalyEvent, len(t.current))
	copy(out, t.current)
	return out
}

// clear drops every event, pattern and counter.
func (t *tracker) clear() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.current = nil
	t.recent = nil
	t.patterns = make(map[telemetry.AnomalyType]*telemetry.AnomalyPattern)
	t.total = 0
	t.byType = make(map[telemetry.AnomalyType]int)
	t.bySeverity = make(map[telemetry.Severity]int)
	t.confidenceSum = 0
	t.lastAt = time.Time{}
}

// statistics summarises the recorded events. The rate is the number of
// events seen in the last hour.
func (t *tracker) statistics() telemetry.AnomalyStatistics {
	t.mu.RLock()
	defer t.mu.RUnlock()

	stats := telemetry.AnomalyStatistics{
		TotalAnomalies: t.total,
		ByType:         make(map[telemetry.AnomalyType]int, len(t.byType)),
		BySeverity:     make(map[telemetry.Severity]int, len(t.bySeverity)),
		Patterns:       make([]telemetry.AnomalyPattern, 0, len(t.patterns)),
	}
	for k, v := range t.byType {
		stats.ByType[k] = v
	}
	for k, v := range t.bySeverity {
		stats.BySeverity[k] = v
	}
	if t.total > 0 {
		stats.AverageConfidence = t.confidenceSum / float64(t.total)
		last := t.lastAt
		stats.LastAnomalyTime = &last
	}

	cutoff := t.now().Add(-recentWindow)
	for _, e := range t.recent {
		if e.Timestamp.After(cutoff) {
			stats.AnomalyRate++
		}
	}

	best := 0
	for _, typ := range telemetry.AnomalyTypes() {
		if n := t.byType[typ]; n > best {
			best = n
			stats.MostCommonType = typ
		}
		if p, ok := t.patterns[typ]; ok {
			stats.Patterns = append(stats.Patterns, *p)
		}
	}
	return stats
}
