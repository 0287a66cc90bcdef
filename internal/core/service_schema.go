package core

// service_schema.go fetches column metadata from information_schema.
// The column list it produces is the catalog an edit session is built
// against and the reference the drift detector diffs on every refetch.

import (
	"context"
	"fmt"
)

// ErrTableNotFound is returned when a table has no columns in the
// catalog, which for information_schema means it does not exist or is
// not visible to the connection.
type ErrTableNotFound struct {
	Schema string
	Table  string
}

func (e *ErrTableNotFound) Error() string {
	return fmt.Sprintf("table %s.%s not found", e.Schema, e.Table)
}

// FetchColumns returns the ordered column metadata for a table:
// name, declared and underlying type, nullability, default, length
// and precision limits, primary key membership, and foreign key
// targets.
func (s *Service) FetchColumns(ctx context.Context, schema, table string) ([]Column, error) {
	ctx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()

	rows, err := s.pool.Query(ctx, `
		SELECT
			c.column_name,
			c.data_type,
			c.udt_name,
			c.is_nullable = 'YES',
			c.column_default,
			c.character_maximum_length,
			c.numeric_precision,
			EXISTS (
				SELECT 1
				FROM information_schema.table_constraints tc
				JOIN information_schema.key_column_usage kcu
					ON kcu.constraint_name = tc.constraint_name
					AND kcu.table_schema = tc.table_schema
				WHERE tc.constraint_type = 'PRIMARY KEY'
				  AND tc.table_schema = c.table_schema
				  AND tc.table_name = c.table_name
				  AND kcu.column_name = c.column_name
			)
		FROM information_schema.columns c
		WHERE c.table_schema = $1 AND c.table_name = $2
		ORDER BY c.ordinal_position`,
		schema, table)
	if err != nil {
		return nil, fmt.Errorf("fetch columns: %w", err)
	}
	defer rows.Close()

	var columns []Column
	for rows.Next() {
		var col Column
		if err := rows.Scan(
			&col.Name,
			&col.Type,
			&col.UdtName,
			&col.Nullable,
			&col.Default,
			&col.MaxLength,
			&col.Precision,
			&col.IsPrimaryKey,
		); err != nil {
			return nil, fmt.Errorf("fetch columns: %w", err)
		}
		columns = append(columns, col)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("fetch columns: %w", err)
	}
	if len(columns) == 0 {
		return nil, &ErrTableNotFound{Schema: schema, Table: table}
	}

	if err := s.attachForeignKeys(ctx, schema, table, columns); err != nil {
		return nil, err
	}
	return columns, nil
}

// attachForeignKeys fills in ForeignKey refs for columns that carry
// one. Best-effort metadata for display; the save path never consults
// it.
func (s *Service) attachForeignKeys(ctx context.Context, schema, table string, columns []Column) error {
	rows, err := s.pool.Query(ctx, `
		SELECT kcu.column_name, ccu.table_schema, ccu.table_name, ccu.column_name
		FROM information_schema.table_constraints tc
		JOIN information_schema.key_column_usage kcu
			ON kcu.constraint_name = tc.constraint_name
			AND kcu.table_schema = tc.table_schema
		JOIN information_schema.constraint_column_usage ccu
			ON ccu.constraint_name = tc.constraint_name
			AND ccu.table_schema = tc.table_schema
		WHERE tc.constraint_type = 'FOREIGN KEY'
		  AND tc.table_schema = $1 AND tc.table_name = $2`,
		schema, table)
	if err != nil {
		return fmt.Errorf("fetch foreign keys: %w", err)
	}
	defer rows.Close()

	refs := make(map[string]ForeignKeyRef)
	for rows.Next() {
		var col string
		var ref ForeignKeyRef
		if err := rows.Scan(&col, &ref.Schema, &ref.Table, &ref.Column); err != nil {
			return fmt.Errorf("fetch foreign keys: %w", err)
		}
		refs[col] = ref
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("fetch foreign keys: %w", err)
	}

	for i := range columns {
		if ref, ok := refs[columns[i].Name]; ok {
			r := ref
			columns[i].ForeignKey = &r
		}
	}
	return nil
}

// primaryKeyColumns returns the names of the primary key columns in
// catalog order.
func primaryKeyColumns(columns []Column) []string {
	var pk []string
	for _, c := range columns {
		if c.IsPrimaryKey {
			pk = append(pk, c.Name)
		}
	}
	return pk
}

// columnNameSet indexes columns by name for membership checks.
func columnNameSet(columns []Column) map[string]struct{} {
	set := make(map[string]struct{}, len(columns))
	for _, c := range columns {
		set[c.Name] = struct{}{}
	}
	return set
}
