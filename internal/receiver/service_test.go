package receiver

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/woodwosj/OdooDevMCP/pkg/events"
	"github.com/woodwosj/OdooDevMCP/pkg/version"
)

const serviceTestPrefix = "receiver:service_test"

func newTestService(opts StoreOptions) (*Service, *[]*events.FleetChangedEvent) {
	captured := []*events.FleetChangedEvent{}
	pub := events.NewCallbackPublisher(func(ctx context.Context, ev *events.FleetChangedEvent) error {
		captured = append(captured, ev)
		return nil
	})
	svc := NewService(NewStore(opts), pub)
	return svc, &captured
}

func doRequest(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	if err := json.Unmarshal(rr.Body.Bytes(), &out); err != nil {
		t.Fatalf("%s - invalid JSON body %q: %v", serviceTestPrefix, rr.Body.String(), err)
	}
	return out
}

func TestRegisterEndpoint(t *testing.T) {
	svc, _ := newTestService(StoreOptions{})
	h := svc.Handler()

	rr := doRequest(t, h, http.MethodPost, "/register",
		`{"server_id": "proddb_web01", "hostname": "web01", "database": "proddb"}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("%s - register status = %d, want 201", serviceTestPrefix, rr.Code)
	}
	body := decodeBody(t, rr)
	if body["status"] != "registered" {
		t.Errorf("%s - status = %v, want registered", serviceTestPrefix, body["status"])
	}
	if body["server_id"] != "proddb_web01" {
		t.Errorf("%s - server_id = %v, want proddb_web01", serviceTestPrefix, body["server_id"])
	}

	rr = doRequest(t, h, http.MethodGet, "/servers/proddb_web01", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("%s - detail status = %d, want 200", serviceTestPrefix, rr.Code)
	}
	rec := decodeBody(t, rr)
	if rec["hostname"] != "web01" {
		t.Errorf("%s - hostname = %v, want web01", serviceTestPrefix, rec["hostname"])
	}
	if rec["registered_at"] == nil {
		t.Errorf("%s - expected registered_at on stored record", serviceTestPrefix)
	}
	if rec["heartbeat_count"] != float64(0) {
		t.Errorf("%s - heartbeat_count = %v, want 0", serviceTestPrefix, rec["heartbeat_count"])
	}
}

func TestRegisterEndpoint_NoPayload(t *testing.T) {
	svc, _ := newTestService(StoreOptions{})
	h := svc.Handler()

	for _, body := range []string{"", "{oops", "[1, 2]"} {
		rr := doRequest(t, h, http.MethodPost, "/register", body)
		if rr.Code != http.StatusBadRequest {
			t.Errorf("%s - body %q: status = %d, want 400", serviceTestPrefix, body, rr.Code)
			continue
		}
		if got := decodeBody(t, rr)["error"]; got != "No JSON payload provided" {
			t.Errorf("%s - body %q: error = %v", serviceTestPrefix, body, got)
		}
	}
}

func TestRegisterEndpoint_MissingServerID(t *testing.T) {
	svc, _ := newTestService(StoreOptions{})
	h := svc.Handler()

	for _, body := range []string{`{"hostname": "web01"}`, `{"server_id": ""}`} {
		rr := doRequest(t, h, http.MethodPost, "/register", body)
		if rr.Code != http.StatusBadRequest {
			t.Errorf("%s - body %q: status = %d, want 400", serviceTestPrefix, body, rr.Code)
			continue
		}
		if got := decodeBody(t, rr)["error"]; got != "Missing required field: server_id" {
			t.Errorf("%s - body %q: error = %v", serviceTestPrefix, body, got)
		}
	}
}

func TestRegisterEndpoint_MethodNotAllowed(t *testing.T) {
	svc, _ := newTestService(StoreOptions{})
	rr := doRequest(t, svc.Handler(), http.MethodGet, "/register", "")
	if rr.Code != http.StatusMethodNotAllowed {
		t.Fatalf("%s - status = %d, want 405", serviceTestPrefix, rr.Code)
	}
	if allow := rr.Header().Get("Allow"); allow != http.MethodPost {
		t.Errorf("%s - Allow = %q, want POST", serviceTestPrefix, allow)
	}
}

func TestHeartbeatEndpoint(t *testing.T) {
	svc, _ := newTestService(StoreOptions{})
	h := svc.Handler()
	doRequest(t, h, http.MethodPost, "/register", `{"server_id": "proddb_web01"}`)

	rr := doRequest(t, h, http.MethodPost, "/heartbeat", `{"server_id": "proddb_web01", "status": "healthy"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("%s - heartbeat status = %d, want 200", serviceTestPrefix, rr.Code)
	}
	body := decodeBody(t, rr)
	if body["status"] != "ok" {
		t.Errorf("%s - status = %v, want ok", serviceTestPrefix, body["status"])
	}
	if body["heartbeat_count"] != float64(1) {
		t.Errorf("%s - heartbeat_count = %v, want 1", serviceTestPrefix, body["heartbeat_count"])
	}

	rr = doRequest(t, h, http.MethodPost, "/heartbeat", `{"server_id": "proddb_web01"}`)
	if got := decodeBody(t, rr)["heartbeat_count"]; got != float64(2) {
		t.Errorf("%s - heartbeat_count = %v, want 2", serviceTestPrefix, got)
	}
}

func TestHeartbeatEndpoint_UnknownServer(t *testing.T) {
	svc, _ := newTestService(StoreOptions{})

	rr := doRequest(t, svc.Handler(), http.MethodPost, "/heartbeat", `{"server_id": "ghost_db"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("%s - status = %d, want 200", serviceTestPrefix, rr.Code)
	}
	if got := decodeBody(t, rr)["heartbeat_count"]; got != float64(1) {
		t.Errorf("%s - heartbeat_count = %v, want 1", serviceTestPrefix, got)
	}
}

func TestHeartbeatEndpoint_PreservesRegistration(t *testing.T) {
	svc, _ := newTestService(StoreOptions{})
	h := svc.Handler()
	doRequest(t, h, http.MethodPost, "/register",
		`{"server_id": "proddb_web01", "version": "1.0.0", "port": 8768, "capabilities": ["execute_command", "query_database"]}`)

	doRequest(t, h, http.MethodPost, "/heartbeat", `{"server_id": "proddb_web01", "status": "healthy", "uptime_seconds": 42}`)

	rec := decodeBody(t, doRequest(t, h, http.MethodGet, "/servers/proddb_web01", ""))
	if rec["version"] != "1.0.0" {
		t.Errorf("%s - version = %v, want 1.0.0 preserved", serviceTestPrefix, rec["version"])
	}
	if rec["port"] != float64(8768) {
		t.Errorf("%s - port = %v, want 8768 preserved", serviceTestPrefix, rec["port"])
	}
	caps, ok := rec["capabilities"].([]interface{})
	if !ok || len(caps) != 2 {
		t.Errorf("%s - capabilities = %v, want 2 entries preserved", serviceTestPrefix, rec["capabilities"])
	}
	if rec["status"] != "healthy" {
		t.Errorf("%s - status = %v, want healthy", serviceTestPrefix, rec["status"])
	}
	if rec["uptime_seconds"] != float64(42) {
		t.Errorf("%s - uptime_seconds = %v, want 42", serviceTestPrefix, rec["uptime_seconds"])
	}
}

func TestServersEndpoint(t *testing.T) {
	svc, _ := newTestService(StoreOptions{})
	h := svc.Handler()
	doRequest(t, h, http.MethodPost, "/register", `{"server_id": "proddb_web02", "hostname": "web02", "database": "proddb"}`)
	doRequest(t, h, http.MethodPost, "/register", `{"server_id": "proddb_web01", "hostname": "web01", "database": "proddb"}`)

	rr := doRequest(t, h, http.MethodGet, "/servers", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("%s - status = %d, want 200", serviceTestPrefix, rr.Code)
	}
	body := decodeBody(t, rr)
	if body["count"] != float64(2) {
		t.Errorf("%s - count = %v, want 2", serviceTestPrefix, body["count"])
	}
	servers, ok := body["servers"].([]interface{})
	if !ok || len(servers) != 2 {
		t.Fatalf("%s - servers = %v, want 2 entries", serviceTestPrefix, body["servers"])
	}
	first, _ := servers[0].(map[string]interface{})
	if first["server_id"] != "proddb_web01" {
		t.Errorf("%s - first server_id = %v, want proddb_web01 (sorted)", serviceTestPrefix, first["server_id"])
	}
	if first["stale"] != false {
		t.Errorf("%s - stale = %v, want false", serviceTestPrefix, first["stale"])
	}
	if strings.Contains(rr.Body.String(), "outdated") {
		t.Errorf("%s - outdated key must be absent without a minimum version", serviceTestPrefix)
	}
}

func TestServersEndpoint_OutdatedFlag(t *testing.T) {
	checker, err := version.NewChecker(">= 1.2.0")
	if err != nil {
		t.Fatalf("%s - unexpected error: %v", serviceTestPrefix, err)
	}
	svc, _ := newTestService(StoreOptions{MinVersion: checker})
	h := svc.Handler()
	doRequest(t, h, http.MethodPost, "/register", `{"server_id": "proddb_web01", "version": "1.0.0"}`)

	body := decodeBody(t, doRequest(t, h, http.MethodGet, "/servers", ""))
	servers := body["servers"].([]interface{})
	first := servers[0].(map[string]interface{})
	if first["outdated"] != true {
		t.Errorf("%s - outdated = %v, want true for 1.0.0 against >= 1.2.0", serviceTestPrefix, first["outdated"])
	}
}

func TestServerDetail_NotFound(t *testing.T) {
	svc, _ := newTestService(StoreOptions{})

	rr := doRequest(t, svc.Handler(), http.MethodGet, "/servers/unknown_db", "")
	if rr.Code != http.StatusNotFound {
		t.Fatalf("%s - status = %d, want 404", serviceTestPrefix, rr.Code)
	}
	body := decodeBody(t, rr)
	if body["error"] != "Server not found" {
		t.Errorf("%s - error = %v, want Server not found", serviceTestPrefix, body["error"])
	}
	if body["server_id"] != "unknown_db" {
		t.Errorf("%s - server_id = %v, want unknown_db", serviceTestPrefix, body["server_id"])
	}
}

func TestDeleteServer(t *testing.T) {
	svc, _ := newTestService(StoreOptions{})
	h := svc.Handler()
	doRequest(t, h, http.MethodPost, "/register", `{"server_id": "proddb_web01"}`)

	rr := doRequest(t, h, http.MethodDelete, "/servers/proddb_web01", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("%s - delete status = %d, want 200", serviceTestPrefix, rr.Code)
	}
	body := decodeBody(t, rr)
	if body["status"] != "deleted" || body["server_id"] != "proddb_web01" {
		t.Errorf("%s - delete body = %v", serviceTestPrefix, body)
	}

	if rr := doRequest(t, h, http.MethodGet, "/servers/proddb_web01", ""); rr.Code != http.StatusNotFound {
		t.Errorf("%s - get after delete status = %d, want 404", serviceTestPrefix, rr.Code)
	}
	if rr := doRequest(t, h, http.MethodDelete, "/servers/proddb_web01", ""); rr.Code != http.StatusNotFound {
		t.Errorf("%s - second delete status = %d, want 404", serviceTestPrefix, rr.Code)
	}
}

func TestServerDetail_MethodNotAllowed(t *testing.T) {
	svc, _ := newTestService(StoreOptions{})
	rr := doRequest(t, svc.Handler(), http.MethodPost, "/servers/proddb_web01", `{}`)
	if rr.Code != http.StatusMethodNotAllowed {
		t.Fatalf("%s - status = %d, want 405", serviceTestPrefix, rr.Code)
	}
	if allow := rr.Header().Get("Allow"); allow != "GET, DELETE" {
		t.Errorf("%s - Allow = %q, want GET, DELETE", serviceTestPrefix, allow)
	}
}

func TestHealthEndpoint(t *testing.T) {
	svc, _ := newTestService(StoreOptions{})
	h := svc.Handler()

	body := decodeBody(t, doRequest(t, h, http.MethodGet, "/health", ""))
	if body["status"] != "healthy" {
		t.Errorf("%s - status = %v, want healthy", serviceTestPrefix, body["status"])
	}
	if body["server_count"] != float64(0) {
		t.Errorf("%s - server_count = %v, want 0", serviceTestPrefix, body["server_count"])
	}
	if _, ok := body["uptime_seconds"].(float64); !ok {
		t.Errorf("%s - uptime_seconds = %v, want a number", serviceTestPrefix, body["uptime_seconds"])
	}

	doRequest(t, h, http.MethodPost, "/register", `{"server_id": "proddb_web01"}`)
	body = decodeBody(t, doRequest(t, h, http.MethodGet, "/health", ""))
	if body["server_count"] != float64(1) {
		t.Errorf("%s - server_count = %v, want 1", serviceTestPrefix, body["server_count"])
	}
}

func TestChangeEvents(t *testing.T) {
	svc, captured := newTestService(StoreOptions{})
	h := svc.Handler()

	doRequest(t, h, http.MethodPost, "/register", `{"server_id": "proddb_web01", "hostname": "web01", "database": "proddb"}`)
	doRequest(t, h, http.MethodPost, "/heartbeat", `{"server_id": "proddb_web01"}`)
	doRequest(t, h, http.MethodDelete, "/servers/proddb_web01", "")

	got := *captured
	if len(got) != 3 {
		t.Fatalf("%s - captured %d events, want 3", serviceTestPrefix, len(got))
	}
	wantActions := []string{events.ActionRegistered, events.ActionHeartbeat, events.ActionRemoved}
	for i, ev := range got {
		if ev.Action != wantActions[i] {
			t.Errorf("%s - event %d action = %s, want %s", serviceTestPrefix, i, ev.Action, wantActions[i])
		}
		if ev.ServerID != "proddb_web01" {
			t.Errorf("%s - event %d server = %s", serviceTestPrefix, i, ev.ServerID)
		}
		if ev.Timestamp == "" {
			t.Errorf("%s - event %d missing timestamp", serviceTestPrefix, i)
		}
	}
	if got[0].Hostname != "web01" || got[0].Database != "proddb" {
		t.Errorf("%s - register event identity = %s/%s", serviceTestPrefix, got[0].Hostname, got[0].Database)
	}
	if got[1].HeartbeatCount != 1 {
		t.Errorf("%s - heartbeat event count = %d, want 1", serviceTestPrefix, got[1].HeartbeatCount)
	}
}
