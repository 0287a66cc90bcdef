package core

// validate.go gates what enters the edit buffer. It gives immediate
// per-cell feedback and blocks obviously-invalid values from reaching
// the save endpoint, but the database's own constraints stay
// authoritative: a value accepted here can still be rejected by a
// check constraint, foreign key, or uniqueness conflict.

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"unicode/utf8"
)

// ValidateCellValue checks a candidate value against a column's
// metadata. It returns nil when the value may enter the buffer, or a
// ValidationError with a stable code and a column-scoped message.
//
// Check order: NULL gate first, then an empty-input short-circuit
// (whitespace-only strings skip type checks), then type dispatch by
// the column's underlying type name. The first failing check wins.
func ValidateCellValue(col Column, value any) *ValidationError {
	if value == nil {
		if col.Nullable || col.Default != nil {
			return nil
		}
		return &ValidationError{
			Code:    CodeNullNotAllowed,
			Message: col.Name + " cannot be null",
		}
	}

	// Whitespace-only input means "no opinion yet"; the null gate above
	// already decided whether that is acceptable. Note an empty string
	// is still a valid payload for string-typed columns.
	if s, ok := value.(string); ok && strings.TrimSpace(s) == "" {
		return nil
	}

	switch normalizeTypeName(col) {
	case typeInteger:
		return validateInteger(col, value)
	case typeFloat:
		return validateFloat(col, value)
	case typeJSON:
		return validateJSON(col, value)
	case typeBoolean:
		return validateBoolean(col, value)
	case typeCharacter:
		return validateCharacter(col, value)
	}
	return nil
}

// Normalized type families for validation dispatch.
type typeFamily int

const (
	typeOther typeFamily = iota
	typeInteger
	typeFloat
	typeJSON
	typeBoolean
	typeCharacter
)

// normalizeTypeName maps a column's udt/declared type name onto a
// validation family. Unknown types get no client-side type checking.
func normalizeTypeName(col Column) typeFamily {
	name := strings.ToLower(col.UdtName)
	if name == "" {
		name = strings.ToLower(col.Type)
	}

	switch name {
	case "int2", "int4", "int8", "smallint", "integer", "bigint",
		"smallserial", "serial", "bigserial":
		return typeInteger
	case "float4", "float8", "real", "double precision", "numeric", "decimal", "money":
		return typeFloat
	case "json", "jsonb":
		return typeJSON
	case "bool", "boolean":
		return typeBoolean
	case "varchar", "bpchar", "char", "text", "character", "character varying":
		return typeCharacter
	}
	return typeOther
}

func validateInteger(col Column, value any) *ValidationError {
	invalid := &ValidationError{
		Code:    CodeInvalidInteger,
		Message: col.Name + " must be a whole number",
	}

	if f, ok := toFloat(value); ok {
		if math.IsNaN(f) || f != math.Trunc(f) {
			return invalid
		}
		return nil
	}
	if s, ok := value.(string); ok {
		f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil || math.IsInf(f, 0) || f != math.Trunc(f) {
			return invalid
		}
		return nil
	}
	return invalid
}

func validateFloat(col Column, value any) *ValidationError {
	invalid := &ValidationError{
		Code:    CodeInvalidNumber,
		Message: col.Name + " must be a number",
	}

	if f, ok := toFloat(value); ok {
		if math.IsNaN(f) {
			return invalid
		}
		return nil
	}
	if s, ok := value.(string); ok {
		if _, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err != nil {
			return invalid
		}
		return nil
	}
	return invalid
}

func validateJSON(col Column, value any) *ValidationError {
	// Non-string values are already structured (decoded maps, slices,
	// numbers); only raw strings need to parse.
	s, ok := value.(string)
	if !ok {
		return nil
	}
	if !json.Valid([]byte(s)) {
		return &ValidationError{
			Code:    CodeInvalidJSON,
			Message: col.Name + " must be valid JSON",
		}
	}
	return nil
}

// booleanWords are the accepted string spellings, case-insensitive.
var booleanWords = map[string]struct{}{
	"true": {}, "false": {}, "t": {}, "f": {},
	"1": {}, "0": {}, "yes": {}, "no": {},
}

func validateBoolean(col Column, value any) *ValidationError {
	invalid := &ValidationError{
		Code:    CodeInvalidBoolean,
		Message: col.Name + " must be true/false, yes/no, or 1/0",
	}

	switch v := value.(type) {
	case bool:
		return nil
	case string:
		if _, ok := booleanWords[strings.ToLower(strings.TrimSpace(v))]; !ok {
			return invalid
		}
		return nil
	default:
		if f, ok := toFloat(value); ok {
			if f != 0 && f != 1 {
				return invalid
			}
			return nil
		}
	}
	return invalid
}

func validateCharacter(col Column, value any) *ValidationError {
	if col.MaxLength == nil {
		return nil
	}
	s, ok := value.(string)
	if !ok {
		s = stringify(value)
	}
	if utf8.RuneCountInString(s) > *col.MaxLength {
		return &ValidationError{
			Code:    CodeStringTooLong,
			Message: col.Name + " exceeds maximum length of " + strconv.Itoa(*col.MaxLength),
		}
	}
	return nil
}

// stringify renders a non-string value the way it would be sent to the
// database, for length checking.
func stringify(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return strings.Trim(string(b), `"`)
}
