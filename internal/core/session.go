package core

// session.go is the orchestrator that ties the edit buffer, the cell
// validator, the PG error mapper, and the drift recovery flow to the
// transactional save collaborator.
//
// One EditSession is owned by one table view. Like the buffer it is
// driven from a single event loop and is not safe for concurrent use;
// the isSaving flag only guards against a second save being started
// while one is outstanding, not against parallel mutation.

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
)

// Saver is the save-side collaborator of an edit session. The real
// implementation runs the batch inside one database transaction:
// either every create and update commits, or none do. That atomicity
// is what lets the session clear the whole buffer on success.
type Saver interface {
	SaveBatch(ctx context.Context, schema, table string, batch BatchChanges) (BatchSaveResult, error)
	UpdateRow(ctx context.Context, schema, table string, upd RowUpdate) error
	FetchColumns(ctx context.Context, schema, table string) ([]Column, error)
}

// ErrSaveInFlight is returned when a save is requested while another
// one is still outstanding.
var ErrSaveInFlight = errors.New("a save is already in progress")

// ValidationBlockedError aborts a save before any network call when
// cells still carry unresolved validation errors.
type ValidationBlockedError struct {
	Count int
}

func (e *ValidationBlockedError) Error() string {
	if e.Count == 1 {
		return "1 validation error must be fixed before saving"
	}
	return fmt.Sprintf("%d validation errors must be fixed before saving", e.Count)
}

// EditSession owns the pending edits for one table view: the buffer,
// the column catalog the buffer was built against, and the recovery
// flow for schema drift.
type EditSession struct {
	schema string
	table  string

	saver       Saver
	buffer      *EditBuffer
	columns     []Column
	colByName   map[string]Column
	refreshRows func(ctx context.Context) error

	isSaving bool
	retryOp  func(ctx context.Context) error
	recovery *Recovery
}

// NewEditSession creates a session for one table view. columns is the
// catalog the displayed data was fetched against; refreshRows is the
// collaborator that invalidates and refetches the view's row cache
// (may be nil).
func NewEditSession(schema, table string, columns []Column, saver Saver, refreshRows func(ctx context.Context) error) *EditSession {
	if refreshRows == nil {
		refreshRows = func(context.Context) error { return nil }
	}
	s := &EditSession{
		schema:      schema,
		table:       table,
		saver:       saver,
		buffer:      NewEditBuffer(),
		refreshRows: refreshRows,
	}
	s.setColumns(columns)
	s.recovery = NewRecovery(
		s.buffer,
		RecoveryHooks{
			FetchColumns: func(ctx context.Context) ([]Column, error) {
				return saver.FetchColumns(ctx, schema, table)
			},
			RefreshRows: s.refreshRows,
			Retry: func(ctx context.Context) error {
				if s.retryOp == nil {
					return nil
				}
				return s.retryOp(ctx)
			},
		},
		func() []Column { return s.columns },
		s.setColumns,
	)
	return s
}

func (s *EditSession) setColumns(columns []Column) {
	s.columns = columns
	s.colByName = make(map[string]Column, len(columns))
	for _, c := range columns {
		s.colByName[c.Name] = c
	}
}

// Buffer exposes the underlying edit buffer for per-cell queries.
func (s *EditSession) Buffer() *EditBuffer {
	return s.buffer
}

// Columns returns the catalog the buffer is currently built against.
func (s *EditSession) Columns() []Column {
	return s.columns
}

// Recovery exposes the drift recovery flow for the recovery modal.
func (s *EditSession) Recovery() *Recovery {
	return s.recovery
}

// State returns the derived pending-changes snapshot.
func (s *EditSession) State() PendingChangesState {
	return s.buffer.State()
}

// SetCell records a cell edit on an existing row, validated against
// the column's metadata. Invalid values still enter the buffer with a
// validation error attached so the cell can show the problem inline;
// the error blocks the next save until resolved. The returned error
// is the immediate feedback for the cell editor, nil when valid.
func (s *EditSession) SetCell(rowKey RowKey, primaryKey RowData, column string, originalValue, newValue any) *ValidationError {
	var verr *ValidationError
	if col, known := s.colByName[column]; known {
		verr = ValidateCellValue(col, newValue)
	}

	s.buffer.SetCellValue(rowKey, primaryKey, column, originalValue, newValue)

	// A revert to the original value removed the change; nothing is
	// pending, so nothing can be in error.
	if verr != nil && s.buffer.HasCellChange(rowKey, column) {
		s.buffer.SetCellError(rowKey, column, *verr)
		return verr
	}
	return nil
}

// StageNewRow stages a new row and returns its temp ID. Field values
// are validated the same way SetCell validates edits.
func (s *EditSession) StageNewRow(data RowData) string {
	tempID := uuid.NewString()
	s.buffer.AddNewRow(tempID, data)
	key := NewRowKey(tempID)
	for column, value := range data {
		if col, known := s.colByName[column]; known {
			if verr := ValidateCellValue(col, value); verr != nil {
				s.buffer.SetCellError(key, column, *verr)
			}
		}
	}
	return tempID
}

// SetNewRowField sets one field of a staged new row, with validation.
func (s *EditSession) SetNewRowField(tempID, column string, value any) *ValidationError {
	s.buffer.UpdateNewRow(tempID, column, value)

	var verr *ValidationError
	if col, known := s.colByName[column]; known {
		verr = ValidateCellValue(col, value)
	}
	if verr != nil && s.buffer.HasCellChange(NewRowKey(tempID), column) {
		s.buffer.SetCellError(NewRowKey(tempID), column, *verr)
		return verr
	}
	return nil
}

// RemoveNewRow unstages a new row.
func (s *EditSession) RemoveNewRow(tempID string) {
	s.buffer.RemoveNewRow(tempID)
}

// DiscardAll drops every pending change.
func (s *EditSession) DiscardAll() {
	s.buffer.DiscardAll()
}

// Save commits every pending change as one transactional batch.
//
// The sequence: outstanding validation errors abort before any network
// call; a transport error leaves the buffer untouched for a safe
// retry; success clears the buffer and refetches rows; a
// schema-category failure hands off to drift recovery without
// annotating any cell; any other failure maps onto exactly one cell,
// leaving every unrelated pending edit byte-for-byte intact.
func (s *EditSession) Save(ctx context.Context) (BatchSaveResult, error) {
	if s.isSaving {
		return BatchSaveResult{}, ErrSaveInFlight
	}

	state := s.buffer.State()
	if state.ErrorCount > 0 {
		return BatchSaveResult{}, &ValidationBlockedError{Count: state.ErrorCount}
	}
	if !state.IsDirty {
		return BatchSaveResult{Success: true}, nil
	}

	batch := s.buffer.ChangesForSave()

	s.isSaving = true
	result, err := s.saver.SaveBatch(ctx, s.schema, s.table, batch)
	s.isSaving = false

	if err != nil {
		// Transport failure: nothing was committed, buffer stays as it
		// was, retrying is always safe.
		return BatchSaveResult{}, fmt.Errorf("batch save: %w", err)
	}

	if result.Success {
		s.retryOp = nil
		s.buffer.MarkSaved()
		if rerr := s.refreshRows(ctx); rerr != nil {
			return result, fmt.Errorf("refetch after save: %w", rerr)
		}
		return result, nil
	}

	if IsSchemaError(result.ErrorCode) {
		// The retry reports persisting drift as a failure so recovery
		// reopens; a value-level failure is already annotated on its
		// cell and closes the flow.
		s.retryOp = func(ctx context.Context) error {
			res, err := s.Save(ctx)
			if err != nil {
				return err
			}
			if !res.Success && IsSchemaError(res.ErrorCode) {
				return errors.New(res.Error)
			}
			return nil
		}
		s.recovery.TriggerReactive(result.ErrorCode)
		return result, nil
	}

	s.retryOp = nil
	if rowKey, ok := s.failedRowKey(batch, result); ok && result.FailedColumn != "" {
		verr := MapPgError(result.ErrorCode, result.Error, result.ErrorDetail, "")
		s.buffer.SetCellError(rowKey, result.FailedColumn, verr)
	}
	return result, nil
}

// failedRowKey reconstructs the buffer key of the failing operation
// from the batch that was sent.
func (s *EditSession) failedRowKey(batch BatchChanges, result BatchSaveResult) (RowKey, bool) {
	if result.FailedIndex == nil {
		return "", false
	}
	i := *result.FailedIndex
	switch result.FailedType {
	case FailedCreate:
		if i < 0 || i >= len(batch.Creates) {
			return "", false
		}
		return NewRowKey(batch.Creates[i].TempID), true
	case FailedUpdate:
		if i < 0 || i >= len(batch.Updates) {
			return "", false
		}
		return KeyForPrimaryKey(batch.Updates[i].PrimaryKey), true
	}
	return "", false
}

// SaveCell commits a single cell's pending change through the
// row-update endpoint, leaving the rest of the buffer alone. Follows
// the same validate, call, clear-on-success pattern as Save but only
// ever touches one cell.
func (s *EditSession) SaveCell(ctx context.Context, rowKey RowKey, column string) error {
	if s.isSaving {
		return ErrSaveInFlight
	}
	if verr, bad := s.buffer.CellError(rowKey, column); bad {
		return &verr
	}
	upd, ok := s.buffer.CellChangeForSave(rowKey, column)
	if !ok {
		return nil
	}

	s.isSaving = true
	err := s.saver.UpdateRow(ctx, s.schema, s.table, upd)
	s.isSaving = false

	if err != nil {
		// The row is gone or its key changed; same drift class as a
		// zero-affected update in a batch.
		if errors.Is(err, ErrRowVanished) {
			s.retryOp = func(ctx context.Context) error {
				return s.SaveCell(ctx, rowKey, column)
			}
			s.recovery.TriggerReactive(SchemaDriftCode)
			return nil
		}
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			if IsSchemaError(pgErr.Code) {
				s.retryOp = func(ctx context.Context) error {
					return s.SaveCell(ctx, rowKey, column)
				}
				s.recovery.TriggerReactive(pgErr.Code)
				return nil
			}
			s.retryOp = nil
			s.buffer.SetCellError(rowKey, column, MapPgConnError(pgErr))
			return nil
		}
		return fmt.Errorf("cell save: %w", err)
	}

	s.retryOp = nil
	s.buffer.MarkCellSaved(rowKey, column)
	if rerr := s.refreshRows(ctx); rerr != nil {
		return fmt.Errorf("refetch after save: %w", rerr)
	}
	return nil
}

// RefreshColumns refetches column metadata and proactively raises
// drift when a column referenced by a pending edit was removed or
// retyped, before the next save would fail opaquely. Without pending
// edits the new catalog is applied silently.
func (s *EditSession) RefreshColumns(ctx context.Context) error {
	newColumns, err := s.saver.FetchColumns(ctx, s.schema, s.table)
	if err != nil {
		return fmt.Errorf("fetch columns: %w", err)
	}
	if HasDrift(s.buffer, s.columns, newColumns) {
		s.recovery.TriggerProactive(newColumns)
		return nil
	}
	s.setColumns(newColumns)
	return nil
}
