package vectorstore

import (
	"strings"
	"testing"
)

func TestIsValidTableName(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected bool
	}{
		{"Valid standard", "research_analyses", true},
		{"Valid leading underscore", "_archive", true},
		{"Valid with numbers", "analyses2025", true},
		{"Valid short", "a", true},
		{"Valid max length", "a" + strings.Repeat("b", 62), true},
		{"Invalid start with number", "1analyses", false},
		{"Invalid start with uppercase", "Analyses", false},
		{"Invalid special chars", "research-analyses", false},
		{"Invalid space", "research analyses", false},
		{"Invalid SQL injection", "runs; DROP TABLE research_runs", false},
		{"Invalid empty", "", false},
		{"Invalid too long", "a" + strings.Repeat("b", 63), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isValidTableName(tt.input); got != tt.expected {
				t.Errorf("isValidTableName(%q) = %v, want %v", tt.input, got, tt.expected)
			}
		})
	}
}

func TestNewPGVectorStore_RejectsBadName(t *testing.T) {
	if _, err := NewPGVectorStore(nil, "bad-name"); err == nil {
		t.Fatal("expected error for invalid table name")
	}
	vs, err := NewPGVectorStore(nil, "research_analyses")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if vs.tableName != "research_analyses" {
		t.Errorf("unexpected table name %q", vs.tableName)
	}
}
