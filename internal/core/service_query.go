package core

// service_query.go fetches the row pages a table view displays. Rows
// come back keyed by column name with primary key ordering so
// pagination is stable between refetches.

import (
	"context"
	"fmt"
	"strings"
)

// RowsPage is one page of table data.
type RowsPage struct {
	Rows       []RowData `json:"rows"`
	TotalRows  int64     `json:"totalRows"`
	Page       int       `json:"page"`
	PageSize   int       `json:"pageSize"`
	TotalPages int       `json:"totalPages"`
}

// FetchRows returns one page of rows ordered by primary key (or by
// every column, for tables without one, so the order is still
// deterministic). page is 1-based.
func (s *Service) FetchRows(ctx context.Context, schema, table string, page, pageSize int) (*RowsPage, error) {
	ctx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()

	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 50
	}
	if pageSize > s.maxPageSize {
		pageSize = s.maxPageSize
	}

	columns, err := s.FetchColumns(ctx, schema, table)
	if err != nil {
		return nil, err
	}

	orderCols := primaryKeyColumns(columns)
	if len(orderCols) == 0 {
		for _, c := range columns {
			orderCols = append(orderCols, c.Name)
		}
	}
	quoted := make([]string, len(orderCols))
	for i, c := range orderCols {
		quoted[i] = quoteIdentifier(c)
	}

	var total int64
	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM %s", qualifiedTable(schema, table))
	if err := s.pool.QueryRow(ctx, countQuery).Scan(&total); err != nil {
		return nil, fmt.Errorf("count rows: %w", err)
	}

	query := fmt.Sprintf("SELECT * FROM %s ORDER BY %s LIMIT $1 OFFSET $2",
		qualifiedTable(schema, table), strings.Join(quoted, ", "))

	rows, err := s.pool.Query(ctx, query, pageSize, (page-1)*pageSize)
	if err != nil {
		return nil, fmt.Errorf("fetch rows: %w", err)
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	result := &RowsPage{
		Rows:     []RowData{},
		Page:     page,
		PageSize: pageSize,
	}
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, fmt.Errorf("fetch rows: %w", err)
		}
		row := make(RowData, len(fields))
		for i, fd := range fields {
			row[fd.Name] = values[i]
		}
		result.Rows = append(result.Rows, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("fetch rows: %w", err)
	}

	result.TotalRows = total
	result.TotalPages = int((total + int64(pageSize) - 1) / int64(pageSize))
	return result, nil
}
