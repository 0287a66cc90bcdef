package core

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// ServiceOptions tune the database-facing service. Zero values fall
// back to the defaults below.
type ServiceOptions struct {
	SaveTimeout  time.Duration // cap on one transactional batch save
	QueryTimeout time.Duration // cap on catalog and row queries
	MaxPageSize  int           // upper bound for row page sizes
	HistoryLimit int           // retained committed-operation entries
}

const (
	defaultSaveTimeout  = 30 * time.Second
	defaultQueryTimeout = 15 * time.Second
	defaultMaxPageSize  = 500
	defaultHistoryLimit = 200
)

// Service implements the save-side collaborators over a pgx pool: the
// transactional batch save, single-row update and delete, and catalog
// and row fetches. It satisfies the Saver interface consumed by
// EditSession.
type Service struct {
	pool *pgxpool.Pool

	saveTimeout  time.Duration
	queryTimeout time.Duration
	maxPageSize  int
	history      *HistoryLog
}

// NewService creates a Service backed by the given pool.
func NewService(pool *pgxpool.Pool, opts ServiceOptions) *Service {
	if opts.SaveTimeout <= 0 {
		opts.SaveTimeout = defaultSaveTimeout
	}
	if opts.QueryTimeout <= 0 {
		opts.QueryTimeout = defaultQueryTimeout
	}
	if opts.MaxPageSize <= 0 {
		opts.MaxPageSize = defaultMaxPageSize
	}
	if opts.HistoryLimit <= 0 {
		opts.HistoryLimit = defaultHistoryLimit
	}
	return &Service{
		pool:         pool,
		saveTimeout:  opts.SaveTimeout,
		queryTimeout: opts.QueryTimeout,
		maxPageSize:  opts.MaxPageSize,
		history:      NewHistoryLog(opts.HistoryLimit),
	}
}

// History returns the log of committed operations.
func (s *Service) History() *HistoryLog {
	return s.history
}

// TableRef names one user table.
type TableRef struct {
	Schema string `json:"schema"`
	Name   string `json:"name"`
}

// ListTables returns the user tables visible to the connection,
// excluding system schemas.
func (s *Service) ListTables(ctx context.Context) ([]TableRef, error) {
	ctx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()

	rows, err := s.pool.Query(ctx, `
		SELECT table_schema, table_name
		FROM information_schema.tables
		WHERE table_type = 'BASE TABLE'
		  AND table_schema NOT IN ('pg_catalog', 'information_schema')
		ORDER BY table_schema, table_name`)
	if err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}
	defer rows.Close()

	var tables []TableRef
	for rows.Next() {
		var t TableRef
		if err := rows.Scan(&t.Schema, &t.Name); err != nil {
			return nil, fmt.Errorf("list tables: %w", err)
		}
		tables = append(tables, t)
	}
	return tables, rows.Err()
}

// quoteIdentifier makes a schema, table, or column name safe for
// interpolation into SQL text. Values never go through this path; they
// always travel as query parameters.
func quoteIdentifier(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// qualifiedTable renders schema.table with both parts quoted.
func qualifiedTable(schema, table string) string {
	return quoteIdentifier(schema) + "." + quoteIdentifier(table)
}
