package event

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/HerbHall/twinhub/pkg/plugin"
	"go.uber.org/zap"
)

func TestPublish_TopicAndCatchAll(t *testing.T) {
	b := NewBus(zap.NewNop())

	var topicHits, allHits []string
	b.Subscribe("detect.anomaly.detected", func(_ context.Context, e plugin.Event) {
		topicHits = append(topicHits, e.Topic)
	})
	b.SubscribeAll(func(_ context.Context, e plugin.Event) {
		allHits = append(allHits, e.Topic)
	})

	_ = b.Publish(context.Background(), plugin.Event{Topic: "detect.anomaly.detected"})
	_ = b.Publish(context.Background(), plugin.Event{Topic: "ingest.sensor.reading"})

	if len(topicHits) != 1 {
		t.Errorf("topic handler calls = %d, want 1", len(topicHits))
	}
	if len(allHits) != 2 {
		t.Errorf("catch-all handler calls = %d, want 2", len(allHits))
	}
}

func TestPublish_StampsTimestamp(t *testing.T) {
	b := NewBus(zap.NewNop())
	fixed := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	b.now = func() time.Time { return fixed }

	var got []time.Time
	b.SubscribeAll(func(_ context.Context, e plugin.Event) { got = append(got, e.Timestamp) })

	explicit := fixed.Add(-time.Hour)
	_ = b.Publish(context.Background(), plugin.Event{Topic: "a"})
	_ = b.Publish(context.Background(), plugin.Event{Topic: "a", Timestamp: explicit})

	if len(got) != 2 {
		t.Fatalf("calls = %d, want 2", len(got))
	}
	if !got[0].Equal(fixed) {
		t.Errorf("zero Timestamp stamped as %v, want %v", got[0], fixed)
	}
	if !got[1].Equal(explicit) {
		t.Errorf("explicit Timestamp = %v, want %v", got[1], explicit)
	}
}

func TestUnsubscribe(t *testing.T) {
	b := NewBus(zap.NewNop())

	var calls int
	unsub := b.Subscribe("a", func(context.Context, plugin.Event) { calls++ })
	unsubAll := b.SubscribeAll(func(context.Context, plugin.Event) { calls++ })

	_ = b.Publish(context.Background(), plugin.Event{Topic: "a"})
	unsub()
	unsubAll()
	_ = b.Publish(context.Background(), plugin.Event{Topic: "a"})

	if calls != 2 {
		t.Errorf("calls = %d, want 2", calls)
	}
}

func TestPublish_RecoversFromPanic(t *testing.T) {
	b := NewBus(zap.NewNop())

	var reached bool
	b.Subscribe("a", func(context.Context, plugin.Event) { panic("boom") })
	b.Subscribe("a", func(context.Context, plugin.Event) { reached = true })

	if err := b.Publish(context.Background(), plugin.Event{Topic: "a"}); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	if !reached {
		t.Error("handler after a panicking handler was not called")
	}
}

func TestPublishAsync_Drain(t *testing.T) {
	b := NewBus(zap.NewNop())

	var calls atomic.Int32
	var mu sync.Mutex
	seen := make(map[string]bool)
	for i := 0; i < 3; i++ {
		b.Subscribe("a", func(_ context.Context, e plugin.Event) {
			time.Sleep(10 * time.Millisecond)
			calls.Add(1)
			mu.Lock()
			seen[e.Source] = true
			mu.Unlock()
		})
	}

	b.PublishAsync(context.Background(), plugin.Event{Topic: "a", Source: "test"})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := b.Drain(ctx); err != nil {
		t.Fatalf("Drain() error = %v", err)
	}
	if got := calls.Load(); got != 3 {
		t.Errorf("calls = %d, want 3", got)
	}
	if !seen["test"] {
		t.Error("handler did not receive event source")
	}
}

func TestDrain_ContextDone(t *testing.T) {
	b := NewBus(zap.NewNop())
	release := make(chan struct{})
	b.Subscribe("a", func(context.Context, plugin.Event) { <-release })
	b.PublishAsync(context.Background(), plugin.Event{Topic: "a"})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := b.Drain(ctx); err == nil {
		t.Error("Drain() error = nil, want context error")
	}
	close(release)
}
