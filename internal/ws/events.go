package ws

import (
	"context"

	"github.com/HerbHall/twinhub/internal/detect"
	"github.com/HerbHall/twinhub/pkg/plugin"
	"github.com/HerbHall/twinhub/pkg/telemetry"
	"go.uber.org/zap"
)

// subscribeToEvents forwards detection events to the dashboards of the
// device they concern.
func (h *Handler) subscribeToEvents() {
	if h.bus == nil {
		return
	}

	anomaly := func(t MessageType) plugin.EventHandler {
		return func(_ context.Context, event plugin.Event) {
			a, ok := anomalyPayload(event.Payload)
			if !ok {
				return
			}
			msg := h.message(t, a.DeviceID, a)
			msg.Timestamp = event.Timestamp
			h.hub.Send(a.DeviceID, roleDashboard, msg)
		}
	}

	h.unsubs = append(h.unsubs,
		h.bus.Subscribe(detect.TopicAnomalyDetected, anomaly(MessageAnomalyDetected)),
		h.bus.Subscribe(detect.TopicAnomalyAcknowledged, anomaly(MessageAnomalyAcknowledged)),
		h.bus.Subscribe(detect.TopicBaselineUpdated, func(_ context.Context, event plugin.Event) {
			u, ok := event.Payload.(detect.DeviceBaseline)
			if !ok {
				return
			}
			msg := h.message(MessageBaselineUpdated, u.DeviceID, u.Baseline)
			msg.Timestamp = event.Timestamp
			h.hub.Send(u.DeviceID, roleDashboard, msg)
		}),
		h.bus.Subscribe(detect.TopicAnomaliesCleared, func(_ context.Context, event plugin.Event) {
			msg := h.message(MessageAnomaliesCleared, "", nil)
			msg.Timestamp = event.Timestamp
			h.hub.Broadcast(roleDashboard, msg)
		}),
	)

	h.logger.Info("subscribed to detection events for WebSocket streaming",
		zap.Int("topics", len(h.unsubs)),
	)
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
