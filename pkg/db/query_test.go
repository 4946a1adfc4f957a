package db

import (
	"testing"
)

func TestHasLimitClause(t *testing.T) {
	tests := []struct {
		query string
		want  bool
	}{
		{"SELECT * FROM res_users", false},
		{"SELECT * FROM res_users LIMIT 10", true},
		{"select * from res_users limit 10", true},
		{"SELECT * FROM res_users OFFSET 5 LIMIT 10", true},
		{"", false},
		// Coarse check: a column named limit_date also matches
		{"SELECT limit_date FROM account_move", true},
	}

	for _, tt := range tests {
		if got := hasLimitClause(tt.query); got != tt.want {
			t.Errorf("hasLimitClause(%q) = %v, want %v", tt.query, got, tt.want)
		}
	}
}

func TestNormalizeValue_UUIDBytes(t *testing.T) {
	raw := [16]byte{0x12, 0x34, 0x56, 0x78, 0x9a, 0xbc, 0xde, 0xf0, 0x12, 0x34, 0x56, 0x78, 0x9a, 0xbc, 0xde, 0xf0}
	got := normalizeValue(raw)
	want := "12345678-9abc-def0-1234-56789abcdef0"
	if got != want {
		t.Errorf("normalizeValue(uuid) = %v, want %s", got, want)
	}
}

func TestNormalizeValue_PassThrough(t *testing.T) {
	for _, v := range []interface{}{int64(42), "text", true, nil, 3.14} {
		if got := normalizeValue(v); got != v {
			t.Errorf("normalizeValue(%v) = %v, want unchanged", v, got)
		}
	}
}
