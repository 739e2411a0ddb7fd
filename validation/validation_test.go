package validation

import (
	"strings"
	"testing"

	"github.com/kbukum/e2ekit/errors"
)

type request struct {
	SuiteID string `json:"suiteId" validate:"required,ident"`
	Name    string `json:"name" validate:"omitempty,ident"`
	AppURL  string `json:"appUrl" validate:"omitempty,url"`
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		req     request
		wantErr string
	}{
		{"valid", request{SuiteID: "dashboard", Name: "initial"}, ""},
		{"valid with url", request{SuiteID: "s-1", AppURL: "http://127.0.0.1:4100"}, ""},
		{"missing suite", request{}, "suiteId: is required"},
		{"path traversal", request{SuiteID: "../etc"}, "suiteId: must start with"},
		{"slash in name", request{SuiteID: "s", Name: "a/b"}, "name: must start with"},
		{"bad url", request{SuiteID: "s", AppURL: "not a url"}, "appUrl: must be a valid URL"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.req)
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("expected error containing %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("expected %q in %q", tt.wantErr, err.Error())
			}
			if !errors.HasCode(err, errors.ErrCodeInvalidInput) {
				t.Errorf("expected INVALID_INPUT, got %v", err)
			}
		})
	}
}

func TestIsIdent(t *testing.T) {
	for _, ok := range []string{"initial", "after-seed", "v1.2", "Suite_A"} {
		if !IsIdent(ok) {
			t.Errorf("expected %q to be valid", ok)
		}
	}
	for _, bad := range []string{"", ".hidden", "a/b", "a..b", "-x", strings.Repeat("a", 64)} {
		if IsIdent(bad) {
			t.Errorf("expected %q to be invalid", bad)
		}
	}
}

func TestToSnakeCase(t *testing.T) {
	if got := toSnakeCase("DatabaseURL"); got != "database_u_r_l" {
		t.Errorf("unexpected snake case: %q", got)
	}
	if got := toSnakeCase("suiteID"); got != "suite_i_d" {
		t.Errorf("unexpected snake case: %q", got)
	}
}
