package db

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
)

const queryLogPrefix = "db:query"

// QueryResult holds the rows returned by an ad-hoc query.
type QueryResult struct {
	Columns   []string                 `json:"columns"`
	Rows      []map[string]interface{} `json:"rows"`
	RowCount  int                      `json:"row_count"`
	Truncated bool                     `json:"truncated"`
}

// ExecResult holds the outcome of an ad-hoc write statement.
type ExecResult struct {
	AffectedRows  int64  `json:"affected_rows"`
	StatusMessage string `json:"status_message"`
}

// Query runs an ad-hoc read query and returns rows as column-keyed maps.
// When limit > 0 and the query has no LIMIT clause of its own, one is
// appended as an extra bind parameter. Truncated is set when the result
// filled the limit, meaning more rows may exist.
func Query(ctx context.Context, pool *pgxpool.Pool, query string, params []interface{}, limit int) (*QueryResult, error) {
	finalQuery := query
	finalParams := params
	if limit > 0 && !hasLimitClause(query) {
		finalQuery = fmt.Sprintf("%s LIMIT $%d", query, len(params)+1)
		finalParams = make([]interface{}, 0, len(params)+1)
		finalParams = append(finalParams, params...)
		finalParams = append(finalParams, limit)
	}

	rows, err := pool.Query(ctx, finalQuery, finalParams...)
	if err != nil {
		return nil, fmt.Errorf("%s - query failed: %w", queryLogPrefix, err)
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	columns := make([]string, len(fields))
	for i, f := range fields {
		columns[i] = f.Name
	}

	var out []map[string]interface{}
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, fmt.Errorf("%s - read row: %w", queryLogPrefix, err)
		}
		rec := make(map[string]interface{}, len(columns))
		for i, col := range columns {
			rec[col] = normalizeValue(values[i])
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s - query failed: %w", queryLogPrefix, err)
	}

	truncated := limit > 0 && len(out) >= limit
	return &QueryResult{
		Columns:   columns,
		Rows:      out,
		RowCount:  len(out),
		Truncated: truncated,
	}, nil
}

// Execute runs an ad-hoc write statement (INSERT, UPDATE, DELETE, DDL).
func Execute(ctx context.Context, pool *pgxpool.Pool, statement string, params []interface{}) (*ExecResult, error) {
	slog.Debug(fmt.Sprintf("%s - Execute statement", queryLogPrefix))

	tag, err := pool.Exec(ctx, statement, params...)
	if err != nil {
		return nil, fmt.Errorf("%s - statement failed: %w", queryLogPrefix, err)
	}

	return &ExecResult{
		AffectedRows:  tag.RowsAffected(),
		StatusMessage: tag.String(),
	}, nil
}

// hasLimitClause does a case-insensitive substring check, deliberately
// coarse: a false positive only means the caller-supplied limit is not
// appended, never that rows are lost.
func hasLimitClause(query string) bool {
	return strings.Contains(strings.ToUpper(query), "LIMIT")
}

// normalizeValue fixes up pgx native values that would marshal badly:
// raw UUID bytes become their canonical text form.
func normalizeValue(v interface{}) interface{} {
	if b, ok := v.([16]byte); ok {
		return fmt.Sprintf("%x-%x-%x-%x-%x", b[0:4], b[4:6], b[6:8], b[8:10], b[10:16])
	}
	return v
}
