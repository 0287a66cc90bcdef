package core

import "testing"

func intp(n int) *int       { return &n }
func strp(s string) *string { return &s }

func TestValidateCellValueNullGate(t *testing.T) {
	tests := []struct {
		name     string
		col      Column
		value    any
		wantCode string
	}{
		{"null on nullable", Column{Name: "a", Nullable: true}, nil, ""},
		{"null with default", Column{Name: "a", Default: strp("0")}, nil, ""},
		{"null on required", Column{Name: "a"}, nil, CodeNullNotAllowed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateCellValue(tt.col, tt.value)
			if code := errCode(err); code != tt.wantCode {
				t.Fatalf("code = %q, want %q", code, tt.wantCode)
			}
		})
	}
}

func TestValidateCellValueEmptyInputSkipsTypeChecks(t *testing.T) {
	col := Column{Name: "age", UdtName: "int4"}
	for _, v := range []string{"", "   ", "\t"} {
		if err := ValidateCellValue(col, v); err != nil {
			t.Fatalf("whitespace input %q rejected: %v", v, err)
		}
	}
}

func TestValidateCellValueInteger(t *testing.T) {
	col := Column{Name: "age", UdtName: "int4"}
	tests := []struct {
		value    any
		wantCode string
	}{
		{"42", ""},
		{" 42 ", ""},
		{"-7", ""},
		{float64(42), ""},
		{"42.5", CodeInvalidInteger},
		{float64(42.5), CodeInvalidInteger},
		{"abc", CodeInvalidInteger},
		{true, CodeInvalidInteger},
	}
	for _, tt := range tests {
		if code := errCode(ValidateCellValue(col, tt.value)); code != tt.wantCode {
			t.Errorf("ValidateCellValue(int4, %v) = %q, want %q", tt.value, code, tt.wantCode)
		}
	}
}

func TestValidateCellValueFloat(t *testing.T) {
	col := Column{Name: "price", UdtName: "numeric"}
	tests := []struct {
		value    any
		wantCode string
	}{
		{"42.5", ""},
		{"1e3", ""},
		{float64(3.14), ""},
		{"abc", CodeInvalidNumber},
		{map[string]any{}, CodeInvalidNumber},
	}
	for _, tt := range tests {
		if code := errCode(ValidateCellValue(col, tt.value)); code != tt.wantCode {
			t.Errorf("ValidateCellValue(numeric, %v) = %q, want %q", tt.value, code, tt.wantCode)
		}
	}
}

func TestValidateCellValueJSON(t *testing.T) {
	col := Column{Name: "meta", UdtName: "jsonb"}
	tests := []struct {
		value    any
		wantCode string
	}{
		{`{"a": 1}`, ""},
		{`[1, 2]`, ""},
		{`"quoted"`, ""},
		{map[string]any{"a": float64(1)}, ""},
		{`{broken`, CodeInvalidJSON},
	}
	for _, tt := range tests {
		if code := errCode(ValidateCellValue(col, tt.value)); code != tt.wantCode {
			t.Errorf("ValidateCellValue(jsonb, %v) = %q, want %q", tt.value, code, tt.wantCode)
		}
	}
}

func TestValidateCellValueBoolean(t *testing.T) {
	col := Column{Name: "active", UdtName: "bool"}
	valid := []any{true, false, "true", "FALSE", "t", "f", "1", "0", "Yes", "no", float64(0), float64(1)}
	for _, v := range valid {
		if err := ValidateCellValue(col, v); err != nil {
			t.Errorf("ValidateCellValue(bool, %v) rejected: %v", v, err)
		}
	}
	invalid := []any{"maybe", "2", float64(2)}
	for _, v := range invalid {
		if code := errCode(ValidateCellValue(col, v)); code != CodeInvalidBoolean {
			t.Errorf("ValidateCellValue(bool, %v) = %q, want %q", v, code, CodeInvalidBoolean)
		}
	}
}

func TestValidateCellValueCharacterLength(t *testing.T) {
	col := Column{Name: "code", UdtName: "varchar", MaxLength: intp(3)}
	if err := ValidateCellValue(col, "abc"); err != nil {
		t.Fatalf("at-limit string rejected: %v", err)
	}
	if code := errCode(ValidateCellValue(col, "abcd")); code != CodeStringTooLong {
		t.Fatalf("over-limit string code = %q", code)
	}
	// Length is in runes, not bytes.
	if err := ValidateCellValue(col, "日本語"); err != nil {
		t.Fatalf("3-rune string rejected: %v", err)
	}
	// Without a declared limit anything passes.
	if err := ValidateCellValue(Column{Name: "note", UdtName: "text"}, "anything at all"); err != nil {
		t.Fatalf("unlimited text rejected: %v", err)
	}
}

func TestValidateCellValueUnknownTypePasses(t *testing.T) {
	col := Column{Name: "loc", UdtName: "point"}
	if err := ValidateCellValue(col, "(1,2)"); err != nil {
		t.Fatalf("unknown type rejected: %v", err)
	}
}

func errCode(err *ValidationError) string {
	if err == nil {
		return ""
	}
	return err.Code
}
