package tools

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
)

func TestQueryDatabase_RequiresQuery(t *testing.T) {
	svc, _ := newTestService(t, nil)

	_, err := svc.QueryDatabase(context.Background(), mustArgs(t, map[string]interface{}{}))
	te := wantToolError(t, err, KindValidation)
	if te.Message != "query is required" {
		t.Errorf("tools:database_test - message = %q", te.Message)
	}
}

func TestQueryDatabase_InvalidArgs(t *testing.T) {
	svc, _ := newTestService(t, nil)

	_, err := svc.QueryDatabase(context.Background(), json.RawMessage(`"not-an-object"`))
	wantToolError(t, err, KindValidation)
}

func TestExecuteSQL_RequiresStatement(t *testing.T) {
	svc, _ := newTestService(t, nil)

	_, err := svc.ExecuteSQL(context.Background(), mustArgs(t, map[string]interface{}{}))
	te := wantToolError(t, err, KindValidation)
	if te.Message != "statement is required" {
		t.Errorf("tools:database_test - message = %q", te.Message)
	}
}

// Without a pool attached, every database tool answers with a structured
// execution error instead of panicking.
func TestDatabaseTools_WithoutPool(t *testing.T) {
	svc, _ := newTestService(t, nil)
	ctx := context.Background()

	calls := []struct {
		name string
		run  func() (*Result, error)
	}{
		{"query_database", func() (*Result, error) {
			return svc.QueryDatabase(ctx, mustArgs(t, map[string]interface{}{"query": "SELECT 1"}))
		}},
		{"execute_sql", func() (*Result, error) {
			return svc.ExecuteSQL(ctx, mustArgs(t, map[string]interface{}{"statement": "DELETE FROM x"}))
		}},
		{"get_db_schema", func() (*Result, error) {
			return svc.GetDBSchema(ctx, mustArgs(t, map[string]interface{}{"action": "list_tables"}))
		}},
	}

	for _, call := range calls {
		t.Run(call.name, func(t *testing.T) {
			_, err := call.run()
			te := wantToolError(t, err, KindExecution)
			if !strings.Contains(te.Message, "database access is not configured") {
				t.Errorf("tools:database_test - message = %q", te.Message)
			}
		})
	}
}
