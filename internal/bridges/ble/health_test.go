package ble

import (
	"context"
	"encoding/json"
	"testing"
	"time"
)

type staticHealthSource struct {
	pool  PoolStatus
	stats Statistics
}

func (s staticHealthSource) PoolStatus() PoolStatus { return s.pool }
func (s staticHealthSource) Statistics() Statistics { return s.stats }

func TestHealthReporter_PublishNow(t *testing.T) {
	mqtt := NewMockMQTTClient()
	h := NewHealthReporter(HealthReporterConfig{
		BridgeID:  "ble",
		Version:   "1.2.3",
		Publisher: mqtt,
		Source: staticHealthSource{
			pool:  PoolStatus{Capacity: 4, Connected: 1, Scanner: "scanning"},
			stats: Statistics{NotificationsRelayed: 7},
		},
	})

	if err := h.PublishNow(); err != nil {
		t.Fatalf("PublishNow() error = %v", err)
	}

	pubs := mqtt.GetPublished()
	if len(pubs) != 1 {
		t.Fatalf("published %d, want 1", len(pubs))
	}
	if pubs[0].Topic != "bridge/_bridge/health" || !pubs[0].Retained || pubs[0].QoS != 1 {
		t.Errorf("publish = %s retained=%v qos=%d", pubs[0].Topic, pubs[0].Retained, pubs[0].QoS)
	}

	var msg HealthMessage
	if err := json.Unmarshal(pubs[0].Payload, &msg); err != nil {
		t.Fatalf("payload is not JSON: %v", err)
	}
	if msg.Status != HealthHealthy || msg.Bridge != "ble" || msg.Version != "1.2.3" {
		t.Errorf("message = %+v", msg)
	}
	if msg.Pool == nil || msg.Pool.Connected != 1 || msg.Statistics.NotificationsRelayed != 7 {
		t.Errorf("pool = %+v stats = %+v", msg.Pool, msg.Statistics)
	}
}

func TestHealthReporter_DegradedWithoutPeers(t *testing.T) {
	h := NewHealthReporter(HealthReporterConfig{
		Source: staticHealthSource{pool: PoolStatus{Capacity: 4}},
	})
	status, reason := h.determineStatus()
	if status != HealthDegraded || reason == "" {
		t.Errorf("determineStatus() = %v %q", status, reason)
	}
}

func TestHealthReporter_SkipsWhileDisconnected(t *testing.T) {
	mqtt := NewMockMQTTClient()
	mqtt.connected = false
	h := NewHealthReporter(HealthReporterConfig{Publisher: mqtt})

	if err := h.PublishNow(); err != nil {
		t.Fatalf("PublishNow() error = %v", err)
	}
	if len(mqtt.GetPublished()) != 0 {
		t.Error("published while disconnected")
	}
}

func TestHealthReporter_StartStop(t *testing.T) {
	mqtt := NewMockMQTTClient()
	h := NewHealthReporter(HealthReporterConfig{
		BridgeID:  "ble",
		Interval:  10 * time.Millisecond,
		Publisher: mqtt,
		Source:    staticHealthSource{pool: PoolStatus{Connected: 1}},
	})

	h.Start(context.Background())
	if !waitFor(time.Second, func() bool { return len(mqtt.GetPublished()) >= 3 }) {
		t.Fatal("periodic health not published")
	}
	h.Stop()
	h.Stop()

	pubs := mqtt.GetPublished()
	var last HealthMessage
	if err := json.Unmarshal(pubs[len(pubs)-1].Payload, &last); err != nil {
		t.Fatalf("payload is not JSON: %v", err)
	}
	if last.Status != HealthStopping {
		t.Errorf("final status = %v, want stopping", last.Status)
	}
}

func TestHealthReporter_LWT(t *testing.T) {
	h := NewHealthReporter(HealthReporterConfig{BridgeID: "ble", Topics: Topics{Prefix: "home"}})

	if h.LWTTopic() != "home/_bridge/health" {
		t.Errorf("LWTTopic() = %q", h.LWTTopic())
	}
	payload, err := h.LWTPayload()
	if err != nil {
		t.Fatalf("LWTPayload() error = %v", err)
	}
	var msg HealthMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		t.Fatalf("payload is not JSON: %v", err)
	}
	if msg.Status != HealthOffline {
		t.Errorf("LWT status = %v, want offline", msg.Status)
	}
}
