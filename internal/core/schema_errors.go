package core

// schema_errors.go classifies save failures that are not attributable
// to a value but to the table's catalog having changed under the edit
// session. These divert into the drift recovery flow instead of cell
// annotation.

// SchemaDriftCode is the synthetic code raised by proactive drift
// detection, alongside the real SQLSTATE codes below.
const SchemaDriftCode = "SCHEMA_DRIFT"

// schemaErrorDescriptions is the fixed table of schema-category codes.
var schemaErrorDescriptions = map[string]string{
	"42703":         "a column referenced by your edits no longer exists",
	"42P01":         "the table no longer exists",
	"42704":         "a database object referenced by your edits no longer exists",
	"42804":         "a column's data type changed since the data was loaded",
	"22P02":         "a value no longer matches its column's data type",
	SchemaDriftCode: "the table's columns changed since the data was loaded",
}

// IsSchemaError reports whether an error code indicates schema drift
// rather than a bad value.
func IsSchemaError(code string) bool {
	_, ok := schemaErrorDescriptions[code]
	return ok
}

// SchemaErrorDescription returns a user-facing description for a
// schema-category code, or "" for other codes.
func SchemaErrorDescription(code string) string {
	return schemaErrorDescriptions[code]
}
