package core

// service_batch.go executes saves against the database. The batch
// path runs inside a single transaction: either every create and
// every update commits, or none do. That guarantee is what the edit
// session relies on when it clears its whole buffer after a success.
//
// A failed batch identifies exactly one offending operation by index,
// kind, and (when attributable) column, so the session can annotate
// one cell and leave every other pending edit alone.

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
)

// ErrRowVanished is returned when an update or delete matches zero
// rows: the row was deleted or its primary key changed since the data
// was fetched.
var ErrRowVanished = errors.New("row not found; it may have been deleted or its key changed")

// SaveBatch commits all creates and updates in one transaction and
// reports the first failing operation, if any. Constraint failures
// come back as a structured result with a nil error; the returned
// error is reserved for transport-level failures where nothing can be
// said about any individual operation.
func (s *Service) SaveBatch(ctx context.Context, schema, table string, batch BatchChanges) (BatchSaveResult, error) {
	ctx, cancel := context.WithTimeout(ctx, s.saveTimeout)
	defer cancel()

	columns, err := s.FetchColumns(ctx, schema, table)
	if err != nil {
		var notFound *ErrTableNotFound
		if errors.As(err, &notFound) {
			return BatchSaveResult{ErrorCode: "42P01", Error: notFound.Error()}, nil
		}
		return BatchSaveResult{}, err
	}
	known := columnNameSet(columns)

	// Reject unknown column names before touching the database; a
	// stale catalog surfaces as a schema-category failure the session
	// routes into drift recovery.
	for i, c := range batch.Creates {
		if col, ok := unknownColumn(c.Data, known); ok {
			return columnMissingResult(i, FailedCreate, col, table), nil
		}
	}
	for i, u := range batch.Updates {
		if col, ok := unknownColumn(u.Data, known); ok {
			return columnMissingResult(i, FailedUpdate, col, table), nil
		}
		if col, ok := unknownColumn(u.PrimaryKey, known); ok {
			return columnMissingResult(i, FailedUpdate, col, table), nil
		}
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return BatchSaveResult{}, fmt.Errorf("begin batch save: %w", err)
	}
	defer tx.Rollback(ctx)

	for i, c := range batch.Creates {
		if err := insertRow(ctx, tx, schema, table, c.Data); err != nil {
			return batchFailure(i, FailedCreate, err)
		}
	}
	for i, u := range batch.Updates {
		affected, err := updateRow(ctx, tx, schema, table, u.PrimaryKey, u.Data)
		if err != nil {
			return batchFailure(i, FailedUpdate, err)
		}
		if affected == 0 {
			idx := i
			return BatchSaveResult{
				FailedIndex: &idx,
				FailedType:  FailedUpdate,
				ErrorCode:   SchemaDriftCode,
				Error:       ErrRowVanished.Error(),
			}, nil
		}
	}

	if err := tx.Commit(ctx); err != nil {
		// Deferred constraints fire at commit; no single operation can
		// be blamed, but the error itself still maps.
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			return BatchSaveResult{
				ErrorCode:   pgErr.Code,
				Error:       pgErr.Message,
				ErrorDetail: pgErr.Detail,
			}, nil
		}
		return BatchSaveResult{}, fmt.Errorf("commit batch save: %w", err)
	}

	s.history.Record(HistoryEntry{
		Kind:   HistoryBatchSave,
		Schema: schema,
		Table:  table,
		Rows:   len(batch.Creates) + len(batch.Updates),
		Cells:  countBatchCells(batch),
	})
	return BatchSaveResult{Success: true}, nil
}

// UpdateRow applies one row's column values outside the batch path,
// for the save-this-cell-only action. Database errors are returned
// as-is so the caller can map them.
func (s *Service) UpdateRow(ctx context.Context, schema, table string, upd RowUpdate) error {
	ctx, cancel := context.WithTimeout(ctx, s.saveTimeout)
	defer cancel()

	affected, err := updateRow(ctx, s.pool, schema, table, upd.PrimaryKey, upd.Data)
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrRowVanished
	}

	s.history.Record(HistoryEntry{
		Kind:   HistoryCellUpdate,
		Schema: schema,
		Table:  table,
		Rows:   1,
		Cells:  len(upd.Data),
	})
	return nil
}

// DeleteRow removes one row by primary key.
func (s *Service) DeleteRow(ctx context.Context, schema, table string, primaryKey RowData) error {
	ctx, cancel := context.WithTimeout(ctx, s.saveTimeout)
	defer cancel()

	where, args := whereClause(primaryKey, 1)
	query := fmt.Sprintf("DELETE FROM %s WHERE %s", qualifiedTable(schema, table), where)

	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrRowVanished
	}

	s.history.Record(HistoryEntry{
		Kind:   HistoryRowDelete,
		Schema: schema,
		Table:  table,
		Rows:   1,
	})
	return nil
}

// insertRow stages one create. Rows staged with no fields fall back to
// DEFAULT VALUES.
func insertRow(ctx context.Context, db DBTX, schema, table string, data RowData) error {
	if len(data) == 0 {
		_, err := db.Exec(ctx, fmt.Sprintf("INSERT INTO %s DEFAULT VALUES", qualifiedTable(schema, table)))
		return err
	}

	cols := sortedColumns(data)
	quoted := make([]string, len(cols))
	placeholders := make([]string, len(cols))
	args := make([]interface{}, len(cols))
	for i, col := range cols {
		quoted[i] = quoteIdentifier(col)
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		args[i] = data[col]
	}

	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		qualifiedTable(schema, table),
		strings.Join(quoted, ", "), strings.Join(placeholders, ", "))
	_, err := db.Exec(ctx, query, args...)
	return err
}

// updateRow applies one row's new values keyed by primary key and
// returns the number of rows matched.
func updateRow(ctx context.Context, db DBTX, schema, table string, primaryKey, data RowData) (int64, error) {
	if len(data) == 0 || len(primaryKey) == 0 {
		return 0, fmt.Errorf("update requires a primary key and at least one column")
	}

	cols := sortedColumns(data)
	sets := make([]string, len(cols))
	args := make([]interface{}, 0, len(cols)+len(primaryKey))
	for i, col := range cols {
		sets[i] = fmt.Sprintf("%s = $%d", quoteIdentifier(col), i+1)
		args = append(args, data[col])
	}

	where, whereArgs := whereClause(primaryKey, len(cols)+1)
	args = append(args, whereArgs...)

	query := fmt.Sprintf("UPDATE %s SET %s WHERE %s",
		qualifiedTable(schema, table), strings.Join(sets, ", "), where)

	tag, err := db.Exec(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// whereClause builds an AND-joined primary key match starting at the
// given placeholder index.
func whereClause(primaryKey RowData, firstArg int) (string, []interface{}) {
	cols := sortedColumns(primaryKey)
	conds := make([]string, len(cols))
	args := make([]interface{}, len(cols))
	for i, col := range cols {
		conds[i] = fmt.Sprintf("%s = $%d", quoteIdentifier(col), firstArg+i)
		args[i] = primaryKey[col]
	}
	return strings.Join(conds, " AND "), args
}

// batchFailure shapes one failing operation into a result. Anything
// that is not a PostgreSQL error is a transport failure and propagates
// as a plain error instead.
func batchFailure(i int, kind string, err error) (BatchSaveResult, error) {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return BatchSaveResult{}, err
	}
	idx := i
	return BatchSaveResult{
		FailedIndex:  &idx,
		FailedType:   kind,
		FailedColumn: AttributeColumn(pgErr.Message, pgErr.Detail, pgErr.ConstraintName, pgErr.ColumnName),
		ErrorCode:    pgErr.Code,
		Error:        pgErr.Message,
		ErrorDetail:  pgErr.Detail,
	}, nil
}

// columnMissingResult reports a referenced column the catalog no
// longer has, using the undefined-column SQLSTATE so the session
// routes it into drift recovery.
func columnMissingResult(i int, kind, column, table string) BatchSaveResult {
	idx := i
	return BatchSaveResult{
		FailedIndex:  &idx,
		FailedType:   kind,
		FailedColumn: column,
		ErrorCode:    "42703",
		Error:        fmt.Sprintf("column %q of relation %q does not exist", column, table),
	}
}

// unknownColumn returns the first key of data that is not a known
// column.
func unknownColumn(data RowData, known map[string]struct{}) (string, bool) {
	for _, col := range sortedColumns(data) {
		if _, ok := known[col]; !ok {
			return col, true
		}
	}
	return "", false
}

// sortedColumns returns the map's keys in sorted order so generated
// SQL is deterministic.
func sortedColumns(data RowData) []string {
	cols := make([]string, 0, len(data))
	for col := range data {
		cols = append(cols, col)
	}
	sort.Strings(cols)
	return cols
}

func countBatchCells(batch BatchChanges) int {
	n := 0
	for _, c := range batch.Creates {
		n += len(c.Data)
	}
	for _, u := range batch.Updates {
		n += len(u.Data)
	}
	return n
}
