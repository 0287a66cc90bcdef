package core

// pgerror.go maps PostgreSQL errors onto per-cell validation errors.
//
// The mapping is a deterministic table keyed by SQLSTATE. Column
// attribution is best-effort, tried in priority order:
//  1. detail text:  Key (col)=(...)
//  2. message text: column "col"
//  3. constraint name decomposition (second-to-last underscore segment,
//     matching the usual table_column_key / table_column_check naming)
//  4. the raw column field, if the server supplied one
//
// Unknown codes never produce a failure of their own; they degrade to
// a displayable DATABASE_ERROR carrying the raw detail or message.

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
)

// SQLSTATE codes handled by the mapper.
const (
	sqlstateNotNullViolation    = "23502"
	sqlstateForeignKeyViolation = "23503"
	sqlstateUniqueViolation     = "23505"
	sqlstateCheckViolation      = "23514"
	sqlstateExclusionViolation  = "23P01"
	sqlstateStringTruncation    = "22001"
	sqlstateNumericOutOfRange   = "22003"
	sqlstateInvalidDatetime     = "22007"
	sqlstateDatetimeOverflow    = "22008"
	sqlstateInvalidTextRepr     = "22P02"
)

var (
	keyDetailPattern  = regexp.MustCompile(`Key \(([^)]+)\)=`)
	columnMsgPattern  = regexp.MustCompile(`column "([^"]+)"`)
	tableDetailPattern = regexp.MustCompile(`table "([^"]+)"`)
)

// MapPgError converts a PostgreSQL error into a ValidationError for
// display on the offending cell. It never fails: anything it does not
// recognize becomes a DATABASE_ERROR with the raw text.
func MapPgError(code, message, detail, constraint string) ValidationError {
	return mapPgError(code, message, detail, constraint, "")
}

func mapPgError(code, message, detail, constraint, rawColumn string) ValidationError {
	column := AttributeColumn(message, detail, constraint, rawColumn)

	switch code {
	case sqlstateNotNullViolation:
		return ValidationError{
			Code:    CodeNotNullViolation,
			Message: describeColumn(column, "cannot be null"),
		}
	case sqlstateUniqueViolation:
		return ValidationError{
			Code:    CodeUniqueViolation,
			Message: describeColumn(column, "already exists"),
		}
	case sqlstateForeignKeyViolation:
		msg := "referenced record does not exist"
		if m := tableDetailPattern.FindStringSubmatch(detail); m != nil {
			msg = fmt.Sprintf("referenced record does not exist in %q", m[1])
		}
		return ValidationError{Code: CodeForeignKeyViolation, Message: msg}
	case sqlstateCheckViolation:
		return ValidationError{
			Code:    CodeCheckViolation,
			Message: describeColumn(column, "violates a check constraint"),
		}
	case sqlstateInvalidTextRepr:
		return ValidationError{
			Code:    CodeInvalidFormat,
			Message: describeColumn(column, "has an invalid format for its type"),
		}
	case sqlstateNumericOutOfRange:
		return ValidationError{
			Code:    CodeOutOfRange,
			Message: "value is out of range for this column",
		}
	case sqlstateStringTruncation:
		return ValidationError{
			Code:    CodeStringTooLong,
			Message: "value is too long for this column",
		}
	case sqlstateInvalidDatetime, sqlstateDatetimeOverflow:
		return ValidationError{
			Code:    CodeInvalidDate,
			Message: "invalid date or time value",
		}
	case sqlstateExclusionViolation:
		return ValidationError{
			Code:    CodeExclusionViolation,
			Message: "value conflicts with an existing record",
		}
	}

	raw := detail
	if raw == "" {
		raw = message
	}
	if raw == "" {
		raw = "database error"
	}
	return ValidationError{Code: CodeDatabaseError, Message: raw}
}

// MapPgConnError maps a *pgconn.PgError directly, feeding its column
// field into attribution as the last resort.
func MapPgConnError(e *pgconn.PgError) ValidationError {
	return mapPgError(e.Code, e.Message, e.Detail, e.ConstraintName, e.ColumnName)
}

// AttributeColumn extracts the offending column name from the parts of
// a PostgreSQL error, in priority order. Returns "" when nothing
// matches.
func AttributeColumn(message, detail, constraint, column string) string {
	if m := keyDetailPattern.FindStringSubmatch(detail); m != nil {
		cols := m[1]
		// Composite keys list "a, b"; the first column is the anchor.
		if idx := strings.Index(cols, ","); idx >= 0 {
			cols = cols[:idx]
		}
		return strings.TrimSpace(cols)
	}
	if m := columnMsgPattern.FindStringSubmatch(message); m != nil {
		return m[1]
	}
	if col := columnFromConstraint(constraint); col != "" {
		return col
	}
	return column
}

// columnFromConstraint guesses the column from a constraint name of
// the conventional <table>_<column>_<kind> shape.
func columnFromConstraint(constraint string) string {
	parts := strings.Split(constraint, "_")
	if len(parts) < 2 {
		return ""
	}
	return parts[len(parts)-2]
}

// describeColumn builds a cell message, quoting the column when it
// could be attributed.
func describeColumn(column, what string) string {
	if column == "" {
		return "value " + what
	}
	return fmt.Sprintf("%q %s", column, what)
}
