// Package metrics provides lightweight, lock-free counters and gauges
// for tracking relay activity.
//
// All methods are safe for concurrent use.  A nil *Collector is a
// valid no-op receiver, so callers never need to nil-check.
package metrics

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"
)

// Collector tracks runtime metrics for a relay process.
type Collector struct {
	connectionsActive  atomic.Int64
	connectionsTotal   atomic.Int64
	sessionsRegistered atomic.Int64
	handshakesFailed   atomic.Int64
	messagesIn         atomic.Int64
	messagesOut        atomic.Int64
	broadcasts         atomic.Int64
	directed           atomic.Int64
	routingMisses      atomic.Int64
	dropped            atomic.Int64
	errorsTotal        atomic.Int64

	mu           sync.RWMutex
	startTime    time.Time
	lastError    time.Time
	lastErrorMsg string
}

// New creates a metrics collector with the start time set to now.
func New() *Collector {
	return &Collector{startTime: time.Now()}
}

// ── Connections ──────────────────────────────────────────────────────

// ConnectionOpened increments both the active and total counters.
func (c *Collector) ConnectionOpened() {
	if c == nil {
		return
	}
	c.connectionsActive.Add(1)
	c.connectionsTotal.Add(1)
}

// ConnectionClosed decrements the active connection counter.
func (c *Collector) ConnectionClosed() {
	if c == nil {
		return
	}
	c.connectionsActive.Add(-1)
}

// ActiveConnections returns the current number of open connections.
func (c *Collector) ActiveConnections() int64 {
	if c == nil {
		return 0
	}
	return c.connectionsActive.Load()
}

// TotalConnections returns the lifetime connection count.
func (c *Collector) TotalConnections() int64 {
	if c == nil {
		return 0
	}
	return c.connectionsTotal.Load()
}

// ── Sessions ─────────────────────────────────────────────────────────

// SessionRegistered records a completed handshake.
func (c *Collector) SessionRegistered() {
	if c == nil {
		return
	}
	c.sessionsRegistered.Add(1)
}

// SessionsRegistered returns the number of completed handshakes.
func (c *Collector) SessionsRegistered() int64 {
	if c == nil {
		return 0
	}
	return c.sessionsRegistered.Load()
}

// HandshakeFailed records a handshake that ended without a name.
func (c *Collector) HandshakeFailed() {
	if c == nil {
		return
	}
	c.handshakesFailed.Add(1)
}

// HandshakesFailed returns the number of aborted handshakes.
func (c *Collector) HandshakesFailed() int64 {
	if c == nil {
		return 0
	}
	return c.handshakesFailed.Load()
}

// ── Messages ─────────────────────────────────────────────────────────

// MessageReceived records a message read from a client.
func (c *Collector) MessageReceived() {
	if c == nil {
		return
	}
	c.messagesIn.Add(1)
}

// MessageSent records a message written to a client.
func (c *Collector) MessageSent() {
	if c == nil {
		return
	}
	c.messagesOut.Add(1)
}

// MessagesIn returns total messages received.
func (c *Collector) MessagesIn() int64 {
	if c == nil {
		return 0
	}
	return c.messagesIn.Load()
}

// MessagesOut returns total messages sent.
func (c *Collector) MessagesOut() int64 {
	if c == nil {
		return 0
	}
	return c.messagesOut.Load()
}

// ── Routing ──────────────────────────────────────────────────────────

// Broadcast records one fan-out.
func (c *Collector) Broadcast() {
	if c == nil {
		return
	}
	c.broadcasts.Add(1)
}

// Directed records one directed delivery.
func (c *Collector) Directed() {
	if c == nil {
		return
	}
	c.directed.Add(1)
}

// RoutingMiss records a directed message whose recipient was absent.
func (c *Collector) RoutingMiss() {
	if c == nil {
		return
	}
	c.routingMisses.Add(1)
}

// Dropped records a delivery refused by a full or closed peer.
func (c *Collector) Dropped() {
	if c == nil {
		return
	}
	c.dropped.Add(1)
}

// Broadcasts returns the fan-out count.
func (c *Collector) Broadcasts() int64 {
	if c == nil {
		return 0
	}
	return c.broadcasts.Load()
}

// DirectedDeliveries returns the directed delivery count.
func (c *Collector) DirectedDeliveries() int64 {
	if c == nil {
		return 0
	}
	return c.directed.Load()
}

// RoutingMisses returns the number of unknown recipients.
func (c *Collector) RoutingMisses() int64 {
	if c == nil {
		return 0
	}
	return c.routingMisses.Load()
}

// DroppedDeliveries returns the number of refused deliveries.
func (c *Collector) DroppedDeliveries() int64 {
	if c == nil {
		return 0
	}
	return c.dropped.Load()
}

// ── Errors ───────────────────────────────────────────────────────────

// RecordError increments the error counter and stores the message.
func (c *Collector) RecordError(msg string) {
	if c == nil {
		return
	}
	c.errorsTotal.Add(1)
	c.mu.Lock()
	c.lastError = time.Now()
	c.lastErrorMsg = msg
	c.mu.Unlock()
}

// ErrorCount returns the total number of errors recorded.
func (c *Collector) ErrorCount() int64 {
	if c == nil {
		return 0
	}
	return c.errorsTotal.Load()
}

// ── Snapshot ─────────────────────────────────────────────────────────

// Snapshot is a point-in-time view of all metrics.
type Snapshot struct {
	Uptime             string `json:"uptime"`
	ConnectionsActive  int64  `json:"connections_active"`
	ConnectionsTotal   int64  `json:"connections_total"`
	SessionsRegistered int64  `json:"sessions_registered"`
	HandshakesFailed   int64  `json:"handshakes_failed"`
	MessagesIn         int64  `json:"messages_in"`
	MessagesOut        int64  `json:"messages_out"`
	Broadcasts         int64  `json:"broadcasts"`
	Directed           int64  `json:"directed"`
	RoutingMisses      int64  `json:"routing_misses"`
	Dropped            int64  `json:"dropped"`
	ErrorsTotal        int64  `json:"errors_total"`
	LastError          string `json:"last_error,omitempty"`
	LastErrorMessage   string `json:"last_error_message,omitempty"`
}

// Snapshot returns a copy of all current metrics.
func (c *Collector) Snapshot() Snapshot {
	if c == nil {
		return Snapshot{}
	}
	c.mu.RLock()
	defer c.mu.RUnlock()

	s := Snapshot{
		Uptime:             time.Since(c.startTime).Truncate(time.Second).String(),
		ConnectionsActive:  c.connectionsActive.Load(),
		ConnectionsTotal:   c.connectionsTotal.Load(),
		SessionsRegistered: c.sessionsRegistered.Load(),
		HandshakesFailed:   c.handshakesFailed.Load(),
		MessagesIn:         c.messagesIn.Load(),
		MessagesOut:        c.messagesOut.Load(),
		Broadcasts:         c.broadcasts.Load(),
		Directed:           c.directed.Load(),
		RoutingMisses:      c.routingMisses.Load(),
		Dropped:            c.dropped.Load(),
		ErrorsTotal:        c.errorsTotal.Load(),
	}
	if !c.lastError.IsZero() {
		s.LastError = c.lastError.Format(time.RFC3339)
		s.LastErrorMessage = c.lastErrorMsg
	}
	return s
}

// JSON returns the snapshot as an indented JSON string.
func (c *Collector) JSON() string {
	s := c.Snapshot()
	data, _ := json.MarshalIndent(s, "", "  ")
	return string(data)
}
