// Package core implements the edit-session core for the table editor:
// the pending-change buffer, cell validation, PostgreSQL error mapping,
// batch-save orchestration, and schema-drift recovery.
// This package has no UI dependencies and can be used by any frontend.
package core

import (
	"context"
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DBTX is the interface for database operations.
// Satisfied by both *pgxpool.Pool and pgx.Tx.
type DBTX interface {
	Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error)
	Query(context.Context, string, ...interface{}) (pgx.Rows, error)
	QueryRow(context.Context, string, ...interface{}) pgx.Row
}

// Column describes one column of a browsed table, as fetched from
// information_schema. UdtName is the underlying type name ("int4",
// "varchar", "jsonb") used for validation dispatch; Type is the
// declared SQL type shown to users.
type Column struct {
	Name         string         `json:"name"`
	Type         string         `json:"type"`
	UdtName      string         `json:"udtName"`
	Nullable     bool           `json:"nullable"`
	Default      *string        `json:"default,omitempty"`
	MaxLength    *int           `json:"maxLength,omitempty"`
	Precision    *int           `json:"precision,omitempty"`
	IsPrimaryKey bool           `json:"isPrimaryKey"`
	ForeignKey   *ForeignKeyRef `json:"foreignKey,omitempty"`
}

// ForeignKeyRef identifies the column a foreign key points at.
type ForeignKeyRef struct {
	Schema string `json:"schema"`
	Table  string `json:"table"`
	Column string `json:"column"`
}

// RowData maps column names to values as they travel over JSON:
// nil, string, float64, bool, map[string]any, []any.
type RowData map[string]any

// RowKey identifies a logical row in the edit buffer. Staged new rows
// use "new:<tempId>"; existing rows use a composite derived from their
// primary key values, stable across refetches as long as the key
// values themselves do not change.
type RowKey string

const newRowKeyPrefix = "new:"

// NewRowKey builds the key for a staged new row.
func NewRowKey(tempID string) RowKey {
	return RowKey(newRowKeyPrefix + tempID)
}

// KeyForPrimaryKey builds a deterministic RowKey from a primary key
// snapshot. Columns are ordered by name so the same key values always
// produce the same RowKey regardless of map iteration order.
func KeyForPrimaryKey(pk RowData) RowKey {
	cols := make([]string, 0, len(pk))
	for c := range pk {
		cols = append(cols, c)
	}
	sort.Strings(cols)

	parts := make([]string, len(cols))
	for i, c := range cols {
		parts[i] = keyEscaper.Replace(c) + "=" + formatKeyValue(pk[c])
	}
	return RowKey("pk:" + strings.Join(parts, "|"))
}

// IsNew reports whether the key names a staged new row.
func (k RowKey) IsNew() bool {
	return strings.HasPrefix(string(k), newRowKeyPrefix)
}

// TempID returns the temp ID of a staged new row, or "" for existing rows.
func (k RowKey) TempID() string {
	if !k.IsNew() {
		return ""
	}
	return strings.TrimPrefix(string(k), newRowKeyPrefix)
}

// keyEscaper escapes the RowKey separator characters so values
// containing them cannot make two distinct primary keys collide.
var keyEscaper = strings.NewReplacer(`\`, `\\`, "|", `\|`, "=", `\=`)

// formatKeyValue renders a primary key value for use inside a RowKey.
// NULL gets a marker no escaped value can produce: a literal `\0`
// string comes out of the escaper as `\\0`.
func formatKeyValue(v any) string {
	if v == nil {
		return `\0`
	}
	return keyEscaper.Replace(fmt.Sprintf("%v", v))
}

// CellChange records one pending cell edit. It exists only while
// NewValue differs from OriginalValue; an edit back to the original
// value removes it.
type CellChange struct {
	Column        string `json:"column"`
	OriginalValue any    `json:"originalValue"`
	NewValue      any    `json:"newValue"`
}

// RowChange is the pending state of one buffered row: either a staged
// new row (CreateRow) or a set of cell edits on an existing row
// (UpdateRow).
type RowChange interface {
	isRowChange()
}

// CreateRow is a staged new row that does not exist in the database yet.
type CreateRow struct {
	TempID string
	Data   RowData
}

func (CreateRow) isRowChange() {}

// UpdateRow holds the pending cell edits for an existing row. The
// primary key snapshot is captured at the first edit and never updated
// afterwards, even if unrelated columns change.
type UpdateRow struct {
	PrimaryKey RowData
	Changes    []CellChange
}

func (UpdateRow) isRowChange() {}

// ValidationError describes why a cell value was rejected, either by
// local validation or by a mapped database error.
type ValidationError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e ValidationError) Error() string {
	return e.Message
}

// Client-side validation codes. These never leave the process; they
// block a save until the user fixes the cell.
const (
	CodeNullNotAllowed = "NULL_NOT_ALLOWED"
	CodeInvalidInteger = "INVALID_INTEGER"
	CodeInvalidNumber  = "INVALID_NUMBER"
	CodeInvalidJSON    = "INVALID_JSON"
	CodeInvalidBoolean = "INVALID_BOOLEAN"
)

// Codes produced by the PG error mapper from database failures.
const (
	CodeNotNullViolation    = "NOT_NULL_VIOLATION"
	CodeUniqueViolation     = "UNIQUE_VIOLATION"
	CodeForeignKeyViolation = "FOREIGN_KEY_VIOLATION"
	CodeCheckViolation      = "CHECK_VIOLATION"
	CodeInvalidFormat       = "INVALID_FORMAT"
	CodeOutOfRange          = "OUT_OF_RANGE"
	CodeStringTooLong       = "STRING_TOO_LONG"
	CodeInvalidDate         = "INVALID_DATE"
	CodeExclusionViolation  = "EXCLUSION_VIOLATION"
	CodeDatabaseError       = "DATABASE_ERROR"
)

// PendingChangesState is a derived snapshot of the edit buffer. It is
// recomputed from the buffer on demand, never stored.
type PendingChangesState struct {
	Version     uint64 `json:"version"`
	IsDirty     bool   `json:"isDirty"`
	RowCount    int    `json:"rowCount"`
	NewRowCount int    `json:"newRowCount"`
	ChangeCount int    `json:"changeCount"`
	ErrorCount  int    `json:"errorCount"`
}

// RowCreate is one staged new row as sent to the batch save endpoint.
type RowCreate struct {
	TempID string  `json:"tempId"`
	Data   RowData `json:"data"`
}

// RowUpdate is one edited row as sent to the batch save endpoint.
// Data contains only the edited columns.
type RowUpdate struct {
	PrimaryKey RowData `json:"primaryKey"`
	Data       RowData `json:"data"`
}

// BatchChanges is the exact request shape of the transactional save
// endpoint.
type BatchChanges struct {
	Creates []RowCreate `json:"creates"`
	Updates []RowUpdate `json:"updates"`
}

// Failed operation kinds in a BatchSaveResult.
const (
	FailedCreate = "create"
	FailedUpdate = "update"
)

// BatchSaveResult reports the outcome of a transactional batch save.
// At most one failing operation is identified per attempt; FailedIndex
// is nil on success.
type BatchSaveResult struct {
	Success      bool   `json:"success"`
	FailedIndex  *int   `json:"failedIndex,omitempty"`
	FailedType   string `json:"failedType,omitempty"`
	FailedColumn string `json:"failedColumn,omitempty"`
	ErrorCode    string `json:"errorCode,omitempty"`
	Error        string `json:"error,omitempty"`
	ErrorDetail  string `json:"errorDetail,omitempty"`
}

// PendingEditSummary classifies pending edits after a schema change:
// edits whose column survived with an unchanged type are preservable,
// edits on removed or retyped columns are lost.
type PendingEditSummary struct {
	Total       int      `json:"total"`
	Preservable int      `json:"preservable"`
	Lost        int      `json:"lost"`
	LostColumns []string `json:"lostColumns"`
}

// valuesEqual compares two cell values in the JSON value domain.
// Numeric values compare by magnitude so int64(1) from pgx equals
// float64(1) from JSON; everything else compares structurally.
func valuesEqual(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if af, aok := toFloat(a); aok {
		if bf, bok := toFloat(b); bok {
			return af == bf
		}
		return false
	}
	return reflect.DeepEqual(a, b)
}

// toFloat converts any Go numeric type to float64.
func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	}
	return 0, false
}

// cloneRowData returns a shallow copy of a row value map.
func cloneRowData(d RowData) RowData {
	if d == nil {
		return nil
	}
	out := make(RowData, len(d))
	for k, v := range d {
		out[k] = v
	}
	return out
}
