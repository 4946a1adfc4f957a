package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const schemaLogPrefix = "db:schema"

// TableInfo describes one table in a schema listing.
type TableInfo struct {
	TableName   string `json:"table_name"`
	RowEstimate int64  `json:"row_estimate"`
	SizeBytes   int64  `json:"size_bytes"`
}

// ColumnInfo describes one column of a table.
type ColumnInfo struct {
	Name         string  `json:"name"`
	Type         string  `json:"type"`
	Nullable     bool    `json:"nullable"`
	Default      *string `json:"default"`
	IsPrimaryKey bool    `json:"is_primary_key"`
}

// IndexInfo describes one index on a table.
type IndexInfo struct {
	Name    string   `json:"name"`
	Columns []string `json:"columns"`
	Unique  bool     `json:"unique"`
	Type    string   `json:"type"`
}

// ConstraintInfo describes one constraint on a table.
type ConstraintInfo struct {
	Name       string   `json:"name"`
	Type       string   `json:"type"`
	Columns    []string `json:"columns"`
	Definition *string  `json:"definition"`
}

// ListTables lists tables in the schema with row estimates and on-disk size.
func ListTables(ctx context.Context, pool *pgxpool.Pool, schemaName string) ([]TableInfo, error) {
	rows, err := pool.Query(ctx,
		`SELECT
		   t.tablename AS table_name,
		   pg_class.reltuples::bigint AS row_estimate,
		   pg_total_relation_size(quote_ident(t.tablename)::regclass) AS size_bytes
		 FROM pg_tables t
		 JOIN pg_class ON pg_class.relname = t.tablename
		 WHERE t.schemaname = $1
		 ORDER BY t.tablename`, schemaName)
	if err != nil {
		return nil, fmt.Errorf("%s - list tables: %w", schemaLogPrefix, err)
	}
	defer rows.Close()

	var out []TableInfo
	for rows.Next() {
		var t TableInfo
		if err := rows.Scan(&t.TableName, &t.RowEstimate, &t.SizeBytes); err != nil {
			return nil, fmt.Errorf("%s - scan table: %w", schemaLogPrefix, err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s - list tables: %w", schemaLogPrefix, err)
	}
	return out, nil
}

// DescribeTable returns the columns of a table in ordinal order, with
// primary key membership resolved per column.
func DescribeTable(ctx context.Context, pool *pgxpool.Pool, tableName, schemaName string) ([]ColumnInfo, error) {
	rows, err := pool.Query(ctx,
		`SELECT
		   column_name AS name,
		   data_type AS type,
		   is_nullable = 'YES' AS nullable,
		   column_default AS default,
		   EXISTS(
		     SELECT 1 FROM information_schema.table_constraints tc
		     JOIN information_schema.key_column_usage kcu
		       ON tc.constraint_name = kcu.constraint_name
		     WHERE tc.table_schema = $1
		       AND tc.table_name = $2
		       AND kcu.column_name = c.column_name
		       AND tc.constraint_type = 'PRIMARY KEY'
		   ) AS is_primary_key
		 FROM information_schema.columns c
		 WHERE table_schema = $1 AND table_name = $2
		 ORDER BY ordinal_position`, schemaName, tableName)
	if err != nil {
		return nil, fmt.Errorf("%s - describe %s: %w", schemaLogPrefix, tableName, err)
	}
	defer rows.Close()

	var out []ColumnInfo
	for rows.Next() {
		var c ColumnInfo
		if err := rows.Scan(&c.Name, &c.Type, &c.Nullable, &c.Default, &c.IsPrimaryKey); err != nil {
			return nil, fmt.Errorf("%s - scan column: %w", schemaLogPrefix, err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s - describe %s: %w", schemaLogPrefix, tableName, err)
	}
	return out, nil
}

// ListIndexes lists the indexes on a table.
func ListIndexes(ctx context.Context, pool *pgxpool.Pool, tableName, schemaName string) ([]IndexInfo, error) {
	rows, err := pool.Query(ctx,
		`SELECT
		   i.relname AS name,
		   array_agg(a.attname ORDER BY a.attnum) AS columns,
		   ix.indisunique AS unique,
		   am.amname AS type
		 FROM pg_class t
		 JOIN pg_index ix ON t.oid = ix.indrelid
		 JOIN pg_class i ON i.oid = ix.indexrelid
		 JOIN pg_am am ON i.relam = am.oid
		 JOIN pg_attribute a ON a.attrelid = t.oid AND a.attnum = ANY(ix.indkey)
		 JOIN pg_namespace n ON n.oid = t.relnamespace
		 WHERE n.nspname = $1 AND t.relname = $2
		 GROUP BY i.relname, ix.indisunique, am.amname
		 ORDER BY i.relname`, schemaName, tableName)
	if err != nil {
		return nil, fmt.Errorf("%s - list indexes for %s: %w", schemaLogPrefix, tableName, err)
	}
	defer rows.Close()

	var out []IndexInfo
	for rows.Next() {
		var i IndexInfo
		if err := rows.Scan(&i.Name, &i.Columns, &i.Unique, &i.Type); err != nil {
			return nil, fmt.Errorf("%s - scan index: %w", schemaLogPrefix, err)
		}
		out = append(out, i)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s - list indexes for %s: %w", schemaLogPrefix, tableName, err)
	}
	return out, nil
}

// ListConstraints lists the constraints on a table. Constraints without
// key columns (CHECK) report an empty column list.
func ListConstraints(ctx context.Context, pool *pgxpool.Pool, tableName, schemaName string) ([]ConstraintInfo, error) {
	rows, err := pool.Query(ctx,
		`SELECT
		   tc.constraint_name AS name,
		   tc.constraint_type AS type,
		   array_remove(array_agg(kcu.column_name ORDER BY kcu.ordinal_position), NULL) AS columns,
		   pg_get_constraintdef(c.oid) AS definition
		 FROM information_schema.table_constraints tc
		 LEFT JOIN information_schema.key_column_usage kcu
		   ON tc.constraint_name = kcu.constraint_name
		   AND tc.table_schema = kcu.table_schema
		 LEFT JOIN pg_constraint c ON c.conname = tc.constraint_name
		 WHERE tc.table_schema = $1 AND tc.table_name = $2
		 GROUP BY tc.constraint_name, tc.constraint_type, c.oid
		 ORDER BY tc.constraint_type, tc.constraint_name`, schemaName, tableName)
	if err != nil {
		return nil, fmt.Errorf("%s - list constraints for %s: %w", schemaLogPrefix, tableName, err)
	}
	defer rows.Close()

	var out []ConstraintInfo
	for rows.Next() {
		var ci ConstraintInfo
		if err := rows.Scan(&ci.Name, &ci.Type, &ci.Columns, &ci.Definition); err != nil {
			return nil, fmt.Errorf("%s - scan constraint: %w", schemaLogPrefix, err)
		}
		out = append(out, ci)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s - list constraints for %s: %w", schemaLogPrefix, tableName, err)
	}
	return out, nil
}
