package sql

import (
	"testing"
)

func TestCheckLiteralForInjection(t *testing.T) {
	tests := []struct {
		name            string
		value           string
		expectInjection bool
	}{
		// Clean values - should pass
		{name: "numeric string", value: "12345"},
		{name: "email address", value: "user@example.com"},
		{name: "date string", value: "2024-01-15"},
		{name: "UUID", value: "550e8400-e29b-41d4-a716-446655440000"},
		{name: "multi-word value", value: "This is a normal description with spaces"},

		// Injection attempts - should be detected
		{name: "classic tautology", value: "1' OR '1'='1", expectInjection: true},
		{name: "union based", value: "1 UNION SELECT password FROM users--", expectInjection: true},
		{name: "stacked query", value: "1; DROP TABLE users--", expectInjection: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := CheckLiteralForInjection(tt.value)

			if tt.expectInjection {
				if result == nil {
					t.Errorf("expected injection to be detected for %q", tt.value)
					return
				}
				if !result.IsSQLi {
					t.Errorf("expected IsSQLi=true")
				}
				if result.Fingerprint == "" {
					t.Errorf("expected non-empty fingerprint")
				}
				if result.Value != tt.value {
					t.Errorf("expected Value=%q, got %q", tt.value, result.Value)
				}
			} else if result != nil {
				t.Errorf("expected no injection for %q, got fingerprint %q", tt.value, result.Fingerprint)
			}
		})
	}
}

func TestCheckLiterals(t *testing.T) {
	results := CheckLiterals([]string{"alice", "1' OR '1'='1", "2024-01-15"})
	if len(results) != 1 {
		t.Fatalf("expected 1 flagged literal, got %d", len(results))
	}
	if results[0].Value != "1' OR '1'='1" {
		t.Errorf("unexpected flagged literal %q", results[0].Value)
	}
}
