package instance

import (
	"strings"
	"testing"
)

func TestValidateName(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"valid simple", "main", false},
		{"valid with numbers", "edge2", false},
		{"valid with hyphen", "eu-west", false},
		{"valid with underscore", "eu_west", false},
		{"valid max length", "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa", false},
		{"empty", "", true},
		{"uppercase", "Main", true},
		{"dot", "eu.west", true},
		{"too long", "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa", true},
		{"leading hyphen", "-main", true},
		{"leading underscore", "_main", true},
		{"slash", "eu/west", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateName(tt.input)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateName(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
		})
	}
}

func TestValidateSocketPath(t *testing.T) {
	if err := ValidateSocketPath("/tmp/petchat/instances/main/admin.sock"); err != nil {
		t.Errorf("ValidateSocketPath() error = %v", err)
	}
	long := "/" + strings.Repeat("d", 120) + "/admin.sock"
	if err := ValidateSocketPath(long); err == nil {
		t.Error("ValidateSocketPath() expected error for a long path")
	}
}

func TestResolveFlagWins(t *testing.T) {
	t.Setenv("PETCHAT_HOME", t.TempDir())
	if got := Resolve("edge"); got != "edge" {
		t.Errorf("Resolve(edge) = %q, want edge", got)
	}
	if got := Resolve(""); got != DefaultName {
		t.Errorf("Resolve(\"\") = %q, want %q", got, DefaultName)
	}
}
