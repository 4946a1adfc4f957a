package tools

import (
	"encoding/json"
	"testing"

	"github.com/woodwosj/OdooDevMCP/pkg/settings"
)

// newTestService builds a Service over an in-memory settings store,
// with filesystem access rooted in a fresh temp directory. Returns the
// service and the root so tests can create files under it.
func newTestService(t *testing.T, values map[string]string) (*Service, string) {
	t.Helper()
	dir := t.TempDir()
	if values == nil {
		values = map[string]string{}
	}
	if _, ok := values[settings.KeyAllowedRoots]; !ok {
		values[settings.KeyAllowedRoots] = dir
	}
	svc := NewService(Options{
		Settings:       settings.New(settings.NewMemStore(values)),
		Database:       "odoo_test",
		Version:        "1.0.0",
		OdooVersion:    "17.0",
		DefaultWorkdir: dir,
	})
	return svc, dir
}

func mustArgs(t *testing.T, v interface{}) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("tools:helpers_test - marshal args: %v", err)
	}
	return raw
}

// decodeResult unmarshals a Result's data through JSON into a typed
// output, the same round trip the wire layer performs.
func decodeResult(t *testing.T, res *Result, into interface{}) {
	t.Helper()
	raw, err := json.Marshal(res.Data)
	if err != nil {
		t.Fatalf("tools:helpers_test - marshal result: %v", err)
	}
	if err := json.Unmarshal(raw, into); err != nil {
		t.Fatalf("tools:helpers_test - unmarshal result: %v", err)
	}
}

// wantToolError asserts err is a ToolError of the given kind.
func wantToolError(t *testing.T, err error, kind string) *ToolError {
	t.Helper()
	if err == nil {
		t.Fatalf("tools:helpers_test - expected %s error, got nil", kind)
	}
	te, ok := err.(*ToolError)
	if !ok {
		t.Fatalf("tools:helpers_test - expected *ToolError, got %T: %v", err, err)
	}
	if te.Kind != kind {
		t.Fatalf("tools:helpers_test - expected kind %s, got %s (%s)", kind, te.Kind, te.Message)
	}
	return te
}
