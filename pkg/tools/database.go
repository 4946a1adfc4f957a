package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/woodwosj/OdooDevMCP/pkg/audit"
	"github.com/woodwosj/OdooDevMCP/pkg/db"
	"github.com/woodwosj/OdooDevMCP/pkg/settings"
)

const databaseLogPrefix = "tools:database"

// QueryDatabaseInput holds query_database arguments.
type QueryDatabaseInput struct {
	Query  string        `json:"query"`
	Params []interface{} `json:"params"`
	Limit  int           `json:"limit"`
}

// QueryDatabaseOutput is the query_database result payload.
type QueryDatabaseOutput struct {
	Columns    []string                 `json:"columns"`
	Rows       []map[string]interface{} `json:"rows"`
	RowCount   int                      `json:"row_count"`
	Truncated  bool                     `json:"truncated"`
	DurationMs int                      `json:"duration_ms"`
}

// ExecuteSQLInput holds execute_sql arguments.
type ExecuteSQLInput struct {
	Statement string        `json:"statement"`
	Params    []interface{} `json:"params"`
}

// ExecuteSQLOutput is the execute_sql result payload.
type ExecuteSQLOutput struct {
	AffectedRows  int64  `json:"affected_rows"`
	StatusMessage string `json:"status_message"`
	DurationMs    int    `json:"duration_ms"`
}

// GetDBSchemaInput holds get_db_schema arguments.
type GetDBSchemaInput struct {
	Action     string `json:"action"`
	TableName  string `json:"table_name"`
	SchemaName string `json:"schema_name"`
}

// SchemaTablesOutput is the list_tables result payload.
type SchemaTablesOutput struct {
	Tables     []db.TableInfo `json:"tables"`
	TableCount int            `json:"table_count"`
}

// SchemaColumnsOutput is the describe_table result payload.
type SchemaColumnsOutput struct {
	TableName   string          `json:"table_name"`
	Columns     []db.ColumnInfo `json:"columns"`
	ColumnCount int             `json:"column_count"`
}

// SchemaIndexesOutput is the list_indexes result payload.
type SchemaIndexesOutput struct {
	TableName string         `json:"table_name"`
	Indexes   []db.IndexInfo `json:"indexes"`
}

// SchemaConstraintsOutput is the list_constraints result payload.
type SchemaConstraintsOutput struct {
	TableName   string              `json:"table_name"`
	Constraints []db.ConstraintInfo `json:"constraints"`
}

func (s *Service) requirePool() error {
	if s.pool == nil {
		return Executionf("database access is not configured")
	}
	return nil
}

// queryCtx bounds a statement by the configured query timeout.
func (s *Service) queryCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	timeout := s.settings.Seconds(ctx, settings.KeyQueryTimeout, 30*time.Second)
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return context.WithTimeout(ctx, timeout)
}

// sqlError classifies a failed statement: deadline hits become timeout
// errors, everything else an execution error carrying the driver text.
func sqlError(ctx context.Context, what string, err error) *ToolError {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return &ToolError{Kind: KindTimeout, Message: fmt.Sprintf("%s timed out", what)}
	}
	return Executionf("%s failed: %v", what, err)
}

// QueryDatabase runs a read-only SQL query with positional parameters.
func (s *Service) QueryDatabase(ctx context.Context, args json.RawMessage) (*Result, error) {
	var in QueryDatabaseInput
	if err := decodeArgs(args, &in); err != nil {
		return nil, err
	}
	if in.Query == "" {
		return nil, Validationf("query is required")
	}
	if err := s.requirePool(); err != nil {
		return nil, err
	}

	maxRows := s.settings.Int(ctx, settings.KeyMaxResultRows, 1000)
	limit := in.Limit
	if limit <= 0 || limit > maxRows {
		limit = maxRows
	}

	start := time.Now()
	queryCtx, cancel := s.queryCtx(ctx)
	defer cancel()

	result, err := db.Query(queryCtx, s.pool, in.Query, in.Params, limit)
	if err != nil {
		slog.Error(fmt.Sprintf("%s - Query failed: %v", databaseLogPrefix, err))
		return nil, sqlError(queryCtx, "Query", err)
	}

	return &Result{
		Data: QueryDatabaseOutput{
			Columns:    result.Columns,
			Rows:       result.Rows,
			RowCount:   result.RowCount,
			Truncated:  result.Truncated,
			DurationMs: durationMillis(time.Since(start)),
		},
		Audit: []audit.Field{
			audit.F("query", in.Query),
			audit.F("rows", strconv.Itoa(result.RowCount)),
		},
	}, nil
}

// ExecuteSQL runs a write SQL statement (INSERT, UPDATE, DELETE, DDL).
func (s *Service) ExecuteSQL(ctx context.Context, args json.RawMessage) (*Result, error) {
	var in ExecuteSQLInput
	if err := decodeArgs(args, &in); err != nil {
		return nil, err
	}
	if in.Statement == "" {
		return nil, Validationf("statement is required")
	}
	if err := s.requirePool(); err != nil {
		return nil, err
	}

	start := time.Now()
	queryCtx, cancel := s.queryCtx(ctx)
	defer cancel()

	result, err := db.Execute(queryCtx, s.pool, in.Statement, in.Params)
	if err != nil {
		slog.Error(fmt.Sprintf("%s - Statement execution failed: %v", databaseLogPrefix, err))
		return nil, sqlError(queryCtx, "Statement", err)
	}

	return &Result{
		Data: ExecuteSQLOutput{
			AffectedRows:  result.AffectedRows,
			StatusMessage: result.StatusMessage,
			DurationMs:    durationMillis(time.Since(start)),
		},
		Audit: []audit.Field{
			audit.F("statement", in.Statement),
			audit.F("affected_rows", strconv.FormatInt(result.AffectedRows, 10)),
		},
	}, nil
}

// GetDBSchema retrieves schema information: table listings, column
// detail, indexes, or constraints.
func (s *Service) GetDBSchema(ctx context.Context, args json.RawMessage) (*Result, error) {
	var in GetDBSchemaInput
	if err := decodeArgs(args, &in); err != nil {
		return nil, err
	}
	if err := s.requirePool(); err != nil {
		return nil, err
	}

	schemaName := in.SchemaName
	if schemaName == "" {
		schemaName = "public"
	}

	needsTable := in.Action == "describe_table" || in.Action == "list_indexes" || in.Action == "list_constraints"
	if needsTable && in.TableName == "" {
		return nil, Validationf("table_name required for %s action", in.Action)
	}

	queryCtx, cancel := s.queryCtx(ctx)
	defer cancel()

	var data interface{}
	var err error
	switch in.Action {
	case "list_tables":
		var tables []db.TableInfo
		tables, err = db.ListTables(queryCtx, s.pool, schemaName)
		data = SchemaTablesOutput{Tables: tables, TableCount: len(tables)}
	case "describe_table":
		var columns []db.ColumnInfo
		columns, err = db.DescribeTable(queryCtx, s.pool, in.TableName, schemaName)
		data = SchemaColumnsOutput{TableName: in.TableName, Columns: columns, ColumnCount: len(columns)}
	case "list_indexes":
		var indexes []db.IndexInfo
		indexes, err = db.ListIndexes(queryCtx, s.pool, in.TableName, schemaName)
		data = SchemaIndexesOutput{TableName: in.TableName, Indexes: indexes}
	case "list_constraints":
		var constraints []db.ConstraintInfo
		constraints, err = db.ListConstraints(queryCtx, s.pool, in.TableName, schemaName)
		data = SchemaConstraintsOutput{TableName: in.TableName, Constraints: constraints}
	default:
		return nil, Validationf("Unknown action: %s", in.Action)
	}
	if err != nil {
		slog.Error(fmt.Sprintf("%s - Schema retrieval failed: %v", databaseLogPrefix, err))
		return nil, sqlError(queryCtx, "Schema retrieval", err)
	}

	table := in.TableName
	if table == "" {
		table = "all"
	}
	return &Result{
		Data: data,
		Audit: []audit.Field{
			audit.F("action", in.Action),
			audit.F("table", table),
		},
	}, nil
}
