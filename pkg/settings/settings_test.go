package settings

import (
	"context"
	"testing"
	"time"
)

func TestString_ReturnsStoredValue(t *testing.T) {
	s := New(NewMemStore(map[string]string{KeyAuditLogPath: "/tmp/audit.log"}))

	got := s.String(context.Background(), KeyAuditLogPath, "/var/log/odoo/mcp_audit.log")
	if got != "/tmp/audit.log" {
		t.Errorf("expected stored value, got %q", got)
	}
}

func TestString_FallsBackToDefault(t *testing.T) {
	s := New(NewMemStore(nil))

	got := s.String(context.Background(), KeyAuditLogPath, "/var/log/odoo/mcp_audit.log")
	if got != "/var/log/odoo/mcp_audit.log" {
		t.Errorf("expected default, got %q", got)
	}
}

func TestInt_ParsesValue(t *testing.T) {
	s := New(NewMemStore(map[string]string{KeyMaxResultRows: " 500 "}))

	if got := s.Int(context.Background(), KeyMaxResultRows, 1000); got != 500 {
		t.Errorf("expected 500, got %d", got)
	}
}

func TestInt_MalformedUsesDefault(t *testing.T) {
	s := New(NewMemStore(map[string]string{KeyMaxResultRows: "lots"}))

	if got := s.Int(context.Background(), KeyMaxResultRows, 1000); got != 1000 {
		t.Errorf("expected default 1000, got %d", got)
	}
}

func TestBool_Spellings(t *testing.T) {
	tests := []struct {
		raw  string
		def  bool
		want bool
	}{
		{"true", false, true},
		{"True", false, true},
		{"1", false, true},
		{"yes", false, true},
		{"on", false, true},
		{"false", true, false},
		{"0", true, false},
		{"no", true, false},
		{"off", true, false},
		{"maybe", true, true},
		{"maybe", false, false},
	}

	for _, tt := range tests {
		s := New(NewMemStore(map[string]string{KeyAuditEnabled: tt.raw}))
		if got := s.Bool(context.Background(), KeyAuditEnabled, tt.def); got != tt.want {
			t.Errorf("Bool(%q, def=%t) = %t, want %t", tt.raw, tt.def, got, tt.want)
		}
	}
}

func TestSeconds_ParsesWholeSeconds(t *testing.T) {
	s := New(NewMemStore(map[string]string{KeyQueryTimeout: "45"}))

	got := s.Seconds(context.Background(), KeyQueryTimeout, 30*time.Second)
	if got != 45*time.Second {
		t.Errorf("expected 45s, got %v", got)
	}
}

func TestSeconds_NegativeUsesDefault(t *testing.T) {
	s := New(NewMemStore(map[string]string{KeyQueryTimeout: "-5"}))

	got := s.Seconds(context.Background(), KeyQueryTimeout, 30*time.Second)
	if got != 30*time.Second {
		t.Errorf("expected default 30s, got %v", got)
	}
}

func TestSet_WritesThrough(t *testing.T) {
	store := NewMemStore(nil)
	s := New(store)

	if err := s.Set(context.Background(), KeyLastHostname, "odoo-prod-1"); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	value, found, err := store.Get(context.Background(), KeyLastHostname)
	if err != nil || !found {
		t.Fatalf("expected stored value, found=%t err=%v", found, err)
	}
	if value != "odoo-prod-1" {
		t.Errorf("expected odoo-prod-1, got %q", value)
	}
}

func TestAll_FiltersByNamespace(t *testing.T) {
	store := NewMemStore(map[string]string{
		KeyServerPort:        "8768",
		KeyHeartbeatInterval: "60",
		"web.base.url":       "http://localhost:8069",
	})
	s := New(store)

	all, err := s.All(context.Background())
	if err != nil {
		t.Fatalf("All failed: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected 2 mcp.* entries, got %d: %v", len(all), all)
	}
	if _, ok := all["web.base.url"]; ok {
		t.Error("expected non-mcp key to be filtered out")
	}
}

func TestRateLimitKey(t *testing.T) {
	if got := RateLimitKey("shell"); got != "mcp.rate_limit.shell" {
		t.Errorf("expected mcp.rate_limit.shell, got %q", got)
	}
}
