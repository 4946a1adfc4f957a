package commsutil

import "testing"

func TestBuildDispatchSubject(t *testing.T) {
	tests := []struct {
		name     string
		database string
		want     string
	}{
		{"basic", "production", "mcp.dispatch.production.v1"},
		{"dotted database", "odoo.prod", "mcp.dispatch.odoo_prod.v1"},
		{"test db", "odoo_test", "mcp.dispatch.odoo_test.v1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := BuildDispatchSubject(tt.database)
			if got != tt.want {
				t.Errorf("BuildDispatchSubject(%q) = %q, want %q", tt.database, got, tt.want)
			}
		})
	}
}

func TestBuildFleetChangeSubject(t *testing.T) {
	tests := []struct {
		name     string
		serverID string
		want     string
	}{
		{"simple", "proddb_web01", "fleet.changed.proddb_web01"},
		{"dotted hostname", "proddb_web01.example.com", "fleet.changed.proddb_web01_example_com"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := BuildFleetChangeSubject(tt.serverID)
			if got != tt.want {
				t.Errorf("BuildFleetChangeSubject(%q) = %q, want %q", tt.serverID, got, tt.want)
			}
		})
	}
}
