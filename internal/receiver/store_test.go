package receiver

import (
	"testing"
	"time"

	"github.com/woodwosj/OdooDevMCP/pkg/version"
)

func TestRegister_SetsReceiverMetadata(t *testing.T) {
	store := NewStore(StoreOptions{})

	rec := store.Register(map[string]interface{}{
		"server_id": "proddb_web01",
		"hostname":  "web01",
		"version":   "1.0.0",
	})

	if rec["server_id"] != "proddb_web01" {
		t.Errorf("server_id = %v, want proddb_web01", rec["server_id"])
	}
	registeredAt, _ := rec["registered_at"].(string)
	if registeredAt == "" {
		t.Error("expected registered_at to be set")
	}
	lastSeen, _ := rec["last_seen"].(string)
	if lastSeen == "" {
		t.Error("expected last_seen to be set")
	}
	if rec["heartbeat_count"] != 0 {
		t.Errorf("heartbeat_count = %v, want 0", rec["heartbeat_count"])
	}
}

func TestRegister_FullReplace(t *testing.T) {
	store := NewStore(StoreOptions{})
	store.Register(map[string]interface{}{
		"server_id":  "proddb_web01",
		"hostname":   "old-host",
		"odoo_stage": "production",
	})
	store.Heartbeat(map[string]interface{}{"server_id": "proddb_web01"})
	store.Heartbeat(map[string]interface{}{"server_id": "proddb_web01"})

	rec := store.Register(map[string]interface{}{
		"server_id": "proddb_web01",
		"hostname":  "new-host",
	})

	if rec["hostname"] != "new-host" {
		t.Errorf("hostname = %v, want new-host", rec["hostname"])
	}
	if _, ok := rec["odoo_stage"]; ok {
		t.Error("expected odoo_stage to be dropped by re-registration")
	}
	if rec["heartbeat_count"] != 0 {
		t.Errorf("heartbeat_count = %v, want reset to 0", rec["heartbeat_count"])
	}
}

func TestHeartbeat_MergePreservesAbsentFields(t *testing.T) {
	store := NewStore(StoreOptions{})
	store.Register(map[string]interface{}{
		"server_id":    "proddb_web01",
		"hostname":     "web01",
		"version":      "1.0.0",
		"port":         float64(8768),
		"capabilities": []interface{}{"execute_command", "query_database"},
	})

	// A slim heartbeat must not erase what registration stored.
	rec, created := store.Heartbeat(map[string]interface{}{
		"server_id": "proddb_web01",
		"status":    "healthy",
	})
	if created {
		t.Error("expected existing record, got created")
	}
	if rec["status"] != "healthy" {
		t.Errorf("status = %v, want healthy", rec["status"])
	}
	if rec["hostname"] != "web01" {
		t.Errorf("hostname = %v, want web01 preserved", rec["hostname"])
	}
	if rec["version"] != "1.0.0" {
		t.Errorf("version = %v, want 1.0.0 preserved", rec["version"])
	}
	if rec["port"] != float64(8768) {
		t.Errorf("port = %v, want 8768 preserved", rec["port"])
	}
	caps, ok := rec["capabilities"].([]interface{})
	if !ok || len(caps) != 2 {
		t.Errorf("capabilities = %v, want 2 entries preserved", rec["capabilities"])
	}
	if rec["heartbeat_count"] != 1 {
		t.Errorf("heartbeat_count = %v, want 1", rec["heartbeat_count"])
	}

	// Fields the next push does carry overwrite.
	rec, _ = store.Heartbeat(map[string]interface{}{
		"server_id": "proddb_web01",
		"hostname":  "web01-renamed",
	})
	if rec["hostname"] != "web01-renamed" {
		t.Errorf("hostname = %v, want web01-renamed", rec["hostname"])
	}
	if rec["status"] != "healthy" {
		t.Errorf("status = %v, want healthy preserved", rec["status"])
	}
	if rec["heartbeat_count"] != 2 {
		t.Errorf("heartbeat_count = %v, want 2", rec["heartbeat_count"])
	}
}

func TestHeartbeat_UnknownServerCreatesRecord(t *testing.T) {
	store := NewStore(StoreOptions{})

	rec, created := store.Heartbeat(map[string]interface{}{
		"server_id": "ghost_db",
		"status":    "healthy",
	})

	if !created {
		t.Error("expected created=true for unknown server")
	}
	if rec["heartbeat_count"] != 1 {
		t.Errorf("heartbeat_count = %v, want 1", rec["heartbeat_count"])
	}
	if rec["status"] != "healthy" {
		t.Errorf("status = %v, want healthy", rec["status"])
	}
	if store.Count() != 1 {
		t.Errorf("Count() = %d, want 1", store.Count())
	}
}

func TestStaleness(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	now := base
	store := NewStoreWithNow(StoreOptions{HeartbeatInterval: 60 * time.Second}, func() time.Time { return now })

	store.Register(map[string]interface{}{"server_id": "proddb_web01"})

	now = base.Add(30 * time.Second)
	if store.List()[0].Stale {
		t.Error("30s of silence must not be stale")
	}

	now = base.Add(3 * time.Minute)
	if !store.List()[0].Stale {
		t.Error("3min of silence must be stale")
	}

	// A heartbeat resets the window.
	store.Heartbeat(map[string]interface{}{"server_id": "proddb_web01"})
	now = now.Add(time.Minute)
	if store.List()[0].Stale {
		t.Error("1min after a heartbeat must not be stale")
	}
}

func TestStaleness_UnparseableLastSeen(t *testing.T) {
	store := NewStore(StoreOptions{})
	if !store.isStale("") {
		t.Error("missing last_seen must count as stale")
	}
	if !store.isStale("not-a-timestamp") {
		t.Error("unparseable last_seen must count as stale")
	}
}

func TestList_OutdatedAnnotation(t *testing.T) {
	checker, err := version.NewChecker("1.2.0")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	store := NewStore(StoreOptions{MinVersion: checker})
	store.Register(map[string]interface{}{"server_id": "a_old", "version": "1.0.0"})
	store.Register(map[string]interface{}{"server_id": "b_new", "version": "1.3.0"})
	store.Register(map[string]interface{}{"server_id": "c_unknown"})

	list := store.List()
	if len(list) != 3 {
		t.Fatalf("expected 3 summaries, got %d", len(list))
	}
	if list[0].Outdated == nil || !*list[0].Outdated {
		t.Error("1.0.0 should be flagged outdated against 1.2.0")
	}
	if list[1].Outdated == nil || *list[1].Outdated {
		t.Error("1.3.0 should not be flagged outdated")
	}
	if list[2].Outdated == nil || !*list[2].Outdated {
		t.Error("a server without a version should be flagged outdated")
	}
}

func TestList_NoCheckerOmitsOutdated(t *testing.T) {
	store := NewStore(StoreOptions{})
	store.Register(map[string]interface{}{"server_id": "proddb_web01", "version": "0.0.1"})

	if store.List()[0].Outdated != nil {
		t.Error("Outdated must be absent when no minimum version is configured")
	}
}

func TestList_SortedByServerID(t *testing.T) {
	store := NewStore(StoreOptions{})
	store.Register(map[string]interface{}{"server_id": "c_db"})
	store.Register(map[string]interface{}{"server_id": "a_db"})
	store.Register(map[string]interface{}{"server_id": "b_db"})

	list := store.List()
	want := []string{"a_db", "b_db", "c_db"}
	for i, sum := range list {
		if sum.ServerID != want[i] {
			t.Errorf("list[%d] = %s, want %s", i, sum.ServerID, want[i])
		}
	}
}

func TestGet_ReturnsCopy(t *testing.T) {
	store := NewStore(StoreOptions{})
	store.Register(map[string]interface{}{"server_id": "proddb_web01", "hostname": "web01"})

	rec, ok := store.Get("proddb_web01")
	if !ok {
		t.Fatal("expected record")
	}
	rec["hostname"] = "mutated"

	again, _ := store.Get("proddb_web01")
	if again["hostname"] != "web01" {
		t.Errorf("stored record mutated through a returned copy: %v", again["hostname"])
	}
}

func TestDelete(t *testing.T) {
	store := NewStore(StoreOptions{})
	store.Register(map[string]interface{}{"server_id": "proddb_web01"})

	rec, ok := store.Delete("proddb_web01")
	if !ok {
		t.Fatal("expected delete to succeed")
	}
	if rec["server_id"] != "proddb_web01" {
		t.Errorf("deleted record server_id = %v", rec["server_id"])
	}
	if _, ok := store.Delete("proddb_web01"); ok {
		t.Error("second delete should report not found")
	}
	if store.Count() != 0 {
		t.Errorf("Count() = %d, want 0", store.Count())
	}
}
