package ws

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
)

func testLogger() *zap.Logger {
	return zap.NewNop()
}

func newTestClient(deviceID, role string) *Client {
	return newClient(nil, deviceID, role, testLogger()) // conn not needed for hub tests
}

func TestNewHub(t *testing.T) {
	hub := NewHub(testLogger())
	if hub.clients == nil {
		t.Error("hub.clients map is nil")
	}
	if hub.ClientCount() != 0 {
		t.Errorf("ClientCount() = %d, want 0", hub.ClientCount())
	}
}

func TestRegisterUnregister(t *testing.T) {
	hub := NewHub(testLogger())
	dash := newTestClient("dev-1", roleDashboard)
	sensor := newTestClient("dev-1", roleSensor)
	other := newTestClient("dev-2", roleDashboard)

	for _, c := range []*Client{dash, sensor, other} {
		hub.Register(c)
	}
	if hub.ClientCount() != 3 {
		t.Fatalf("ClientCount() = %d, want 3", hub.ClientCount())
	}
	if !hub.Online("dev-1", roleSensor) {
		t.Error("Online(dev-1, sensor) = false, want true")
	}
	if hub.Online("dev-2", roleSensor) {
		t.Error("Online(dev-2, sensor) = true, want false")
	}

	hub.Unregister(sensor)
	if hub.Online("dev-1", roleSensor) {
		t.Error("sensor still online after Unregister")
	}
	if _, ok := <-sensor.send; ok {
		t.Error("send channel should be closed after Unregister")
	}

	hub.Unregister(dash)
	hub.mu.RLock()
	_, exists := hub.clients["dev-1"]
	hub.mu.RUnlock()
	if exists {
		t.Error("empty device set should be removed")
	}
}

func TestUnregisterTwice(t *testing.T) {
	hub := NewHub(testLogger())
	c := newTestClient("dev-1", roleDashboard)
	hub.Register(c)

	hub.Unregister(c)
	hub.Unregister(c) // must not panic on double close

	if hub.ClientCount() != 0 {
		t.Errorf("ClientCount() = %d, want 0", hub.ClientCount())
	}
}

func TestSend_RoutesByDeviceAndRole(t *testing.T) {
	hub := NewHub(testLogger())
	dash1 := newTestClient("dev-1", roleDashboard)
	dash1b := newTestClient("dev-1", roleDashboard)
	sensor1 := newTestClient("dev-1", roleSensor)
	dash2 := newTestClient("dev-2", roleDashboard)
	for _, c := range []*Client{dash1, dash1b, sensor1, dash2} {
		hub.Register(c)
	}

	hub.Send("dev-1", roleDashboard, Message{Type: MessageAnomalyDetected, DeviceID: "dev-1"})

	tests := []struct {
		name   string
		client *Client
		want   int
	}{
		{name: "dashboard of device", client: dash1, want: 1},
		{name: "second dashboard of device", client: dash1b, want: 1},
		{name: "sensor of device", client: sensor1, want: 0},
		{name: "dashboard of other device", client: dash2, want: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := len(tt.client.send); got != tt.want {
				t.Errorf("queued = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestBroadcast_AllDashboards(t *testing.T) {
	hub := NewHub(testLogger())
	dash1 := newTestClient("dev-1", roleDashboard)
	dash2 := newTestClient("dev-2", roleDashboard)
	sensor := newTestClient("dev-1", roleSensor)
	for _, c := range []*Client{dash1, dash2, sensor} {
		hub.Register(c)
	}

	hub.Broadcast(roleDashboard, Message{Type: MessageAnomaliesCleared})

	if len(dash1.send) != 1 || len(dash2.send) != 1 {
		t.Errorf("dashboards queued %d and %d, want 1 each", len(dash1.send), len(dash2.send))
	}
	if len(sensor.send) != 0 {
		t.Errorf("sensor queued %d, want 0", len(sensor.send))
	}
}

func TestSend_EmptyHub(t *testing.T) {
	hub := NewHub(testLogger())
	hub.Send("nobody", roleDashboard, Message{Type: MessageAnomalyDetected})
	hub.Broadcast(roleDashboard, Message{Type: MessageAnomaliesCleared})
}

func TestSend_DropsWhenBufferFull(t *testing.T) {
	hub := NewHub(testLogger())
	c := newTestClient("dev-1", roleDashboard)
	hub.Register(c)

	for i := 0; i < sendBuffer; i++ {
		c.send <- Message{Type: MessageBaselineUpdated, Timestamp: time.Now()}
	}

	hub.Send("dev-1", roleDashboard, Message{Type: MessageAnomalyDetected, DeviceID: "dropped"})

	if len(c.send) != sendBuffer {
		t.Fatalf("len(send) = %d, want %d", len(c.send), sendBuffer)
	}
	for i := 0; i < sendBuffer; i++ {
		if msg := <-c.send; msg.DeviceID == "dropped" {
			t.Fatal("dropped message was unexpectedly queued")
		}
	}
}

func TestConcurrentRegisterUnregisterSend(t *testing.T) {
	hub := NewHub(testLogger())

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			c := newTestClient(fmt.Sprintf("dev-%d", id%5), roleDashboard)
			hub.Register(c)
			go func() {
				for range c.send {
				}
			}()
			time.Sleep(5 * time.Millisecond)
			hub.Unregister(c)
		}(i)
	}
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			hub.Send(fmt.Sprintf("dev-%d", id%5), roleDashboard, Message{Type: MessageAnomalyDetected})
			_ = hub.ClientCount()
		}(i)
	}
	wg.Wait()

	if n := hub.ClientCount(); n != 0 {
		t.Errorf("ClientCount() = %d, want 0", n)
	}
}
