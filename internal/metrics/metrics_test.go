package metrics

import (
	"encoding/json"
	"sync"
	"testing"
)

func TestCollector_Connections(t *testing.T) {
	c := New()

	c.ConnectionOpened()
	c.ConnectionOpened()
	if c.ActiveConnections() != 2 {
		t.Errorf("active = %d, want 2", c.ActiveConnections())
	}
	if c.TotalConnections() != 2 {
		t.Errorf("total = %d, want 2", c.TotalConnections())
	}

	c.ConnectionClosed()
	if c.ActiveConnections() != 1 {
		t.Errorf("active = %d, want 1", c.ActiveConnections())
	}
	if c.TotalConnections() != 2 {
		t.Errorf("total should remain 2, got %d", c.TotalConnections())
	}
}

func TestCollector_Sessions(t *testing.T) {
	c := New()
	c.SessionRegistered()
	c.SessionRegistered()
	c.HandshakeFailed()

	if c.SessionsRegistered() != 2 {
		t.Errorf("registered = %d, want 2", c.SessionsRegistered())
	}
	if c.HandshakesFailed() != 1 {
		t.Errorf("failed = %d, want 1", c.HandshakesFailed())
	}
}

func TestCollector_Messages(t *testing.T) {
	c := New()

	c.MessageReceived()
	c.MessageSent()
	c.MessageSent()

	if c.MessagesIn() != 1 {
		t.Errorf("in = %d, want 1", c.MessagesIn())
	}
	if c.MessagesOut() != 2 {
		t.Errorf("out = %d, want 2", c.MessagesOut())
	}
}

func TestCollector_Routing(t *testing.T) {
	c := New()
	c.Broadcast()
	c.Directed()
	c.Directed()
	c.RoutingMiss()
	c.Dropped()

	tests := []struct {
		name string
		got  int64
		want int64
	}{
		{"broadcasts", c.Broadcasts(), 1},
		{"directed", c.DirectedDeliveries(), 2},
		{"misses", c.RoutingMisses(), 1},
		{"dropped", c.DroppedDeliveries(), 1},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("%s = %d, want %d", tt.name, tt.got, tt.want)
		}
	}
}

func TestCollector_Errors(t *testing.T) {
	c := New()

	c.RecordError("first error")
	c.RecordError("second error")

	if c.ErrorCount() != 2 {
		t.Errorf("errors = %d, want 2", c.ErrorCount())
	}
	if c.Snapshot().LastErrorMessage != "second error" {
		t.Errorf("last error = %q", c.Snapshot().LastErrorMessage)
	}
}

func TestCollector_Concurrent(t *testing.T) {
	c := New()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.MessageReceived()
			c.Broadcast()
		}()
	}
	wg.Wait()

	if c.MessagesIn() != 50 || c.Broadcasts() != 50 {
		t.Errorf("in=%d broadcasts=%d, want 50", c.MessagesIn(), c.Broadcasts())
	}
}

func TestCollector_JSON(t *testing.T) {
	c := New()
	c.ConnectionOpened()
	c.MessageSent()
	c.RecordError("test")

	raw := c.JSON()
	var snap Snapshot
	if err := json.Unmarshal([]byte(raw), &snap); err != nil {
		t.Fatalf("JSON parse error: %v", err)
	}
	if snap.ConnectionsActive != 1 {
		t.Errorf("JSON active = %d", snap.ConnectionsActive)
	}
	if snap.MessagesOut != 1 {
		t.Errorf("JSON messages out = %d", snap.MessagesOut)
	}
	if snap.LastErrorMessage != "test" || snap.LastError == "" {
		t.Errorf("JSON last error = %q at %q", snap.LastErrorMessage, snap.LastError)
	}
}

func TestNilCollector_NoOps(t *testing.T) {
	var c *Collector

	// None of these should panic.
	c.ConnectionOpened()
	c.ConnectionClosed()
	c.SessionRegistered()
	c.HandshakeFailed()
	c.MessageReceived()
	c.MessageSent()
	c.Broadcast()
	c.Directed()
	c.RoutingMiss()
	c.Dropped()
	c.RecordError("test")

	if c.ActiveConnections() != 0 || c.MessagesIn() != 0 || c.ErrorCount() != 0 {
		t.Error("nil collector should return 0")
	}

	snap := c.Snapshot()
	if snap.ConnectionsActive != 0 {
		t.Error("nil snapshot should be zero")
	}

	if j := c.JSON(); j == "" {
		t.Error("nil JSON should return valid JSON")
	}
}
