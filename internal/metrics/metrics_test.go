package metrics

import (
	"encoding/json"
	"testing"
)

func TestCollector_Sessions(t *testing.T) {
	c := New()

	c.SessionOpened()
	c.SessionOpened()
	if c.ActiveSessions() != 2 {
		t.Errorf("active = %d, want 2", c.ActiveSessions())
	}
	if c.TotalSessions() != 2 {
		t.Errorf("total = %d, want 2", c.TotalSessions())
	}

	c.SessionClosed()
	if c.ActiveSessions() != 1 {
		t.Errorf("active = %d, want 1", c.ActiveSessions())
	}
	if c.TotalSessions() != 2 {
		t.Errorf("total should remain 2, got %d", c.TotalSessions())
	}
}

func TestCollector_Logins(t *testing.T) {
	c := New()

	c.Registered()
	c.Registered()
	c.NameRejected()
	c.InvalidLogin()
	c.InvalidLogin()
	c.InvalidLogin()

	if c.Registrations() != 2 {
		t.Errorf("registrations = %d, want 2", c.Registrations())
	}
	if c.NamesRejected() != 1 {
		t.Errorf("rejected = %d, want 1", c.NamesRejected())
	}
	if c.InvalidLogins() != 3 {
		t.Errorf("invalid = %d, want 3", c.InvalidLogins())
	}
}

func TestCollector_Relay(t *testing.T) {
	c := New()

	c.MessageRelayed()
	c.MessageRelayed()
	c.MemberDropped()

	if c.MessagesRelayed() != 2 {
		t.Errorf("relayed = %d, want 2", c.MessagesRelayed())
	}
	if c.MembersDropped() != 1 {
		t.Errorf("dropped = %d, want 1", c.MembersDropped())
	}
}

func TestCollector_GatewayReconnects(t *testing.T) {
	c := New()

	c.GatewayReconnect()
	c.GatewayReconnect()
	c.GatewayReconnect()

	if c.GatewayReconnects() != 3 {
		t.Errorf("reconnects = %d, want 3", c.GatewayReconnects())
	}
}

func TestCollector_Errors(t *testing.T) {
	c := New()

	c.RecordError("first error")
	c.RecordError("second error")

	if c.ErrorCount() != 2 {
		t.Errorf("errors = %d, want 2", c.ErrorCount())
	}
}

func TestCollector_HealthCheck(t *testing.T) {
	c := New()
	c.RecordHealthCheck()

	snap := c.Snapshot()
	if snap.LastHealthCheck == "" {
		t.Error("expected non-empty health check timestamp")
	}
}

func TestCollector_Snapshot(t *testing.T) {
	c := New()
	c.SessionOpened()
	c.Registered()
	c.MessageRelayed()
	c.RecordError("test")

	snap := c.Snapshot()
	if snap.SessionsActive != 1 {
		t.Errorf("snap active = %d", snap.SessionsActive)
	}
	if snap.Registrations != 1 {
		t.Errorf("snap registrations = %d", snap.Registrations)
	}
	if snap.MessagesRelayed != 1 {
		t.Errorf("snap relayed = %d", snap.MessagesRelayed)
	}
	if snap.ErrorsTotal != 1 {
		t.Errorf("snap errors = %d", snap.ErrorsTotal)
	}
	if snap.LastErrorMessage != "test" {
		t.Errorf("snap error msg = %q", snap.LastErrorMessage)
	}
}

func TestCollector_JSON(t *testing.T) {
	c := New()
	c.SessionOpened()
	c.MemberDropped()

	raw := c.JSON()
	var snap Snapshot
	if err := json.Unmarshal([]byte(raw), &snap); err != nil {
		t.Fatalf("JSON parse error: %v", err)
	}
	if snap.SessionsActive != 1 {
		t.Errorf("JSON active = %d", snap.SessionsActive)
	}
	if snap.MembersDropped != 1 {
		t.Errorf("JSON dropped = %d", snap.MembersDropped)
	}
}

func TestNilCollector_NoOps(t *testing.T) {
	var c *Collector

	// None of these should panic.
	c.SessionOpened()
	c.SessionClosed()
	c.Registered()
	c.NameRejected()
	c.InvalidLogin()
	c.MessageRelayed()
	c.MemberDropped()
	c.GatewayReconnect()
	c.RecordError("test")
	c.RecordHealthCheck()

	if c.ActiveSessions() != 0 {
		t.Error("nil collector should return 0")
	}
	if c.MessagesRelayed() != 0 {
		t.Error("nil collector should return 0")
	}
	if c.ErrorCount() != 0 {
		t.Error("nil collector should return 0")
	}

	snap := c.Snapshot()
	if snap.SessionsActive != 0 {
		t.Error("nil snapshot should be zero")
	}

	j := c.JSON()
	if j == "" {
		t.Error("nil JSON should return valid JSON")
	}
}
