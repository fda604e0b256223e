// Package metrics provides lightweight, lock-free counters and gauges
// for tracking runtime statistics of a chatd server.
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

// Collector tracks runtime metrics for a chatd server.
// A nil Collector is safe to use: all methods become no-ops.
type Collector struct {
	sessionsActive   atomic.Int64
	sessionsTotal    atomic.Int64
	registrations    atomic.Int64
	namesRejected    atomic.Int64
	invalidLogins    atomic.Int64
	messagesRelayed  atomic.Int64
	membersDropped   atomic.Int64
	gatewayReconnect atomic.Int64
	errorsTotal      atomic.Int64

	mu              sync.RWMutex
	startTime       time.Time
	lastHealthCheck time.Time
	lastError       time.Time
	lastErrorMsg    string
}

// New creates a metrics collector with the start time set to now.
func New() *Collector {
	return &Collector{startTime: time.Now()}
}

// ── Session metrics ──────────────────────────────────────────────────

// SessionOpened increments both the active and total counters.
func (c *Collector) SessionOpened() {
	if c == nil {
		return
	}
	c.sessionsActive.Add(1)
	c.sessionsTotal.Add(1)
}

// SessionClosed decrements the active session counter.
func (c *Collector) SessionClosed() {
	if c == nil {
		return
	}
	c.sessionsActive.Add(-1)
}

// ActiveSessions returns the current number of open sessions.
func (c *Collector) ActiveSessions() int64 {
	if c == nil {
		return 0
	}
	return c.sessionsActive.Load()
}

// TotalSessions returns the lifetime session count.
func (c *Collector) TotalSessions() int64 {
	if c == nil {
		return 0
	}
	return c.sessionsTotal.Load()
}

// ── Login metrics ────────────────────────────────────────────────────

// Registered records a completed login handshake.
func (c *Collector) Registered() {
	if c == nil {
		return
	}
	c.registrations.Add(1)
}

// NameRejected records a login refused because the name was taken.
func (c *Collector) NameRejected() {
	if c == nil {
		return
	}
	c.namesRejected.Add(1)
}

// InvalidLogin records a non-login line from an unregistered client.
func (c *Collector) InvalidLogin() {
	if c == nil {
		return
	}
	c.invalidLogins.Add(1)
}

// Registrations returns the number of successful logins.
func (c *Collector) Registrations() int64 {
	if c == nil {
		return 0
	}
	return c.registrations.Load()
}

// NamesRejected returns the number of duplicate-name rejections.
func (c *Collector) NamesRejected() int64 {
	if c == nil {
		return 0
	}
	return c.namesRejected.Load()
}

// InvalidLogins returns the number of malformed login attempts.
func (c *Collector) InvalidLogins() int64 {
	if c == nil {
		return 0
	}
	return c.invalidLogins.Load()
}

// ── Relay metrics ────────────────────────────────────────────────────

// MessageRelayed records one chat line appended to history and broadcast.
func (c *Collector) MessageRelayed() {
	if c == nil {
		return
	}
	c.messagesRelayed.Add(1)
}

// MemberDropped records a member removed because it could not keep up.
func (c *Collector) MemberDropped() {
	if c == nil {
		return
	}
	c.membersDropped.Add(1)
}

// MessagesRelayed returns the number of chat lines relayed.
func (c *Collector) MessagesRelayed() int64 {
	if c == nil {
		return 0
	}
	return c.messagesRelayed.Load()
}

// MembersDropped returns the number of slow members evicted.
func (c *Collector) MembersDropped() int64 {
	if c == nil {
		return 0
	}
	return c.membersDropped.Load()
}

// ── Gateway metrics ──────────────────────────────────────────────────

// GatewayReconnect records a gateway reconnection event.
func (c *Collector) GatewayReconnect() {
	if c == nil {
		return
	}
	c.gatewayReconnect.Add(1)
}

// GatewayReconnects returns the total gateway reconnection count.
func (c *Collector) GatewayReconnects() int64 {
	if c == nil {
		return 0
	}
	return c.gatewayReconnect.Load()
}

// ── Error metrics ────────────────────────────────────────────────────

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

// ── Health ───────────────────────────────────────────────────────────

// RecordHealthCheck updates the last health check timestamp.
func (c *Collector) RecordHealthCheck() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.lastHealthCheck = time.Now()
	c.mu.Unlock()
}

// ── Snapshot ─────────────────────────────────────────────────────────

// Snapshot is a point-in-time view of all metrics.
type Snapshot struct {
	Uptime            string `json:"uptime"`
	SessionsActive    int64  `json:"sessions_active"`
	SessionsTotal     int64  `json:"sessions_total"`
	Registrations     int64  `json:"registrations"`
	NamesRejected     int64  `json:"names_rejected"`
	InvalidLogins     int64  `json:"invalid_logins"`
	MessagesRelayed   int64  `json:"messages_relayed"`
	MembersDropped    int64  `json:"members_dropped"`
	GatewayReconnects int64  `json:"gateway_reconnects"`
	ErrorsTotal       int64  `json:"errors_total"`
	LastHealthCheck   string `json:"last_health_check,omitempty"`
	LastError         string `json:"last_error,omitempty"`
	LastErrorMessage  string `json:"last_error_message,omitempty"`
}

// Snapshot returns a copy of all current metrics.
func (c *Collector) Snapshot() Snapshot {
	if c == nil {
		return Snapshot{}
	}
	c.mu.RLock()
	defer c.mu.RUnlock()

	s := Snapshot{
		Uptime:            time.Since(c.startTime).Truncate(time.Second).String(),
		SessionsActive:    c.sessionsActive.Load(),
		SessionsTotal:     c.sessionsTotal.Load(),
		Registrations:     c.registrations.Load(),
		NamesRejected:     c.namesRejected.Load(),
		InvalidLogins:     c.invalidLogins.Load(),
		MessagesRelayed:   c.messagesRelayed.Load(),
		MembersDropped:    c.membersDropped.Load(),
		GatewayReconnects: c.gatewayReconnect.Load(),
		ErrorsTotal:       c.errorsTotal.Load(),
	}
	if !c.lastHealthCheck.IsZero() {
		s.LastHealthCheck = c.lastHealthCheck.Format(time.RFC3339)
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
