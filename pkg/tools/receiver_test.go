package tools

import (
	"context"
	"errors"
	"testing"

	"github.com/woodwosj/OdooDevMCP/pkg/settings"
)

type stubRegistrar struct {
	serverID string
	err      error
	calls    int
}

func (s *stubRegistrar) Register(ctx context.Context) error {
	s.calls++
	return s.err
}

func (s *stubRegistrar) ServerID() string {
	return s.serverID
}

func TestNormalizeReceiverURL(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"https://receiver.example.com", "https://receiver.example.com"},
		{"https://receiver.example.com/", "https://receiver.example.com"},
		{"https://receiver.example.com/register", "https://receiver.example.com"},
		{"https://receiver.example.com/register/", "https://receiver.example.com/register"},
		{"http://10.0.0.5:9000/register", "http://10.0.0.5:9000"},
		{"  https://pad.example.com  ", "https://pad.example.com"},
	}
	for _, tc := range cases {
		got, err := normalizeReceiverURL(tc.in)
		if err != nil {
			t.Errorf("tools:receiver_test - %q: unexpected error: %v", tc.in, err)
			continue
		}
		if got != tc.want {
			t.Errorf("tools:receiver_test - %q: expected %q, got %q", tc.in, tc.want, got)
		}
	}
}

func TestNormalizeReceiverURL_Invalid(t *testing.T) {
	for _, in := range []string{"", "   ", "ftp://example.com", "receiver.example.com", "http://", "https:///"} {
		if _, err := normalizeReceiverURL(in); err == nil {
			t.Errorf("tools:receiver_test - expected error for %q", in)
		}
	}
}

func TestRegisterReceiver_StoresURLAndRegisters(t *testing.T) {
	store := settings.NewMemStore(nil)
	reg := &stubRegistrar{serverID: "odoo_test_host1"}
	svc := NewService(Options{
		Settings:  settings.New(store),
		Registrar: reg,
		Database:  "odoo_test",
	})

	res, err := svc.RegisterReceiver(context.Background(), mustArgs(t, map[string]interface{}{
		"receiver_url": "https://receiver.example.com/register",
	}))
	if err != nil {
		t.Fatalf("tools:receiver_test - unexpected error: %v", err)
	}

	var out RegisterReceiverOutput
	decodeResult(t, res, &out)
	if !out.Success {
		t.Error("tools:receiver_test - expected success true")
	}
	if out.URLStored != "https://receiver.example.com" {
		t.Errorf("tools:receiver_test - expected normalized URL stored, got %q", out.URLStored)
	}
	if !out.RegistrationSent {
		t.Error("tools:receiver_test - expected registration_sent true")
	}
	if out.ServerID != "odoo_test_host1" {
		t.Errorf("tools:receiver_test - expected server id from registrar, got %q", out.ServerID)
	}
	if out.HeartbeatSchedule != "every 60 seconds" {
		t.Errorf("tools:receiver_test - expected default schedule, got %q", out.HeartbeatSchedule)
	}
	if reg.calls != 1 {
		t.Errorf("tools:receiver_test - expected 1 register call, got %d", reg.calls)
	}

	value, found, err := store.Get(context.Background(), settings.KeyPhoneHomeURL)
	if err != nil || !found {
		t.Fatalf("tools:receiver_test - URL not persisted (found=%t err=%v)", found, err)
	}
	if value != "https://receiver.example.com" {
		t.Errorf("tools:receiver_test - persisted %q", value)
	}
}

func TestRegisterReceiver_RegistrationFailureStillSucceeds(t *testing.T) {
	// The URL is stored and the call succeeds even when the immediate
	// registration attempt fails; the heartbeat loop will retry.
	reg := &stubRegistrar{serverID: "odoo_test_host1", err: errors.New("connection refused")}
	svc := NewService(Options{
		Settings:  settings.New(settings.NewMemStore(nil)),
		Registrar: reg,
		Database:  "odoo_test",
	})

	res, err := svc.RegisterReceiver(context.Background(), mustArgs(t, map[string]interface{}{
		"receiver_url": "http://receiver.example.com",
	}))
	if err != nil {
		t.Fatalf("tools:receiver_test - unexpected error: %v", err)
	}

	var out RegisterReceiverOutput
	decodeResult(t, res, &out)
	if !out.Success {
		t.Error("tools:receiver_test - expected success true despite failed registration")
	}
	if out.RegistrationSent {
		t.Error("tools:receiver_test - expected registration_sent false")
	}
}

func TestRegisterReceiver_CustomHeartbeatInterval(t *testing.T) {
	svc := NewService(Options{
		Settings: settings.New(settings.NewMemStore(map[string]string{
			settings.KeyHeartbeatInterval: "30",
		})),
		Database: "odoo_test",
	})

	res, err := svc.RegisterReceiver(context.Background(), mustArgs(t, map[string]interface{}{
		"receiver_url": "https://receiver.example.com",
	}))
	if err != nil {
		t.Fatalf("tools:receiver_test - unexpected error: %v", err)
	}

	var out RegisterReceiverOutput
	decodeResult(t, res, &out)
	if out.HeartbeatSchedule != "every 30 seconds" {
		t.Errorf("tools:receiver_test - expected every 30 seconds, got %q", out.HeartbeatSchedule)
	}
}

func TestRegisterReceiver_InvalidURL(t *testing.T) {
	svc, _ := newTestService(t, nil)

	_, err := svc.RegisterReceiver(context.Background(), mustArgs(t, map[string]interface{}{
		"receiver_url": "ftp://example.com",
	}))
	wantToolError(t, err, KindValidation)
}
