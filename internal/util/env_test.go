package util

import "testing"

func TestParseBoolEnv(t *testing.T) {
	tests := []struct {
		name     string
		value    string
		def      bool
		expected bool
	}{
		{"unset uses default", "", true, true},
		{"true", "true", false, true},
		{"one", "1", false, true},
		{"yes", "YES", false, true},
		{"on", "on", false, true},
		{"false", "false", true, false},
		{"zero", "0", true, false},
		{"off with whitespace", " off ", true, false},
		{"invalid uses default", "maybe", true, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.value != "" {
				t.Setenv("TEST_BOOL_ENV", tt.value)
			}
			if got := ParseBoolEnv("TEST_BOOL_ENV", tt.def); got != tt.expected {
				t.Errorf("ParseBoolEnv(%q, %v) = %v, want %v", tt.value, tt.def, got, tt.expected)
			}
		})
	}
}

func TestParseFloatEnv(t *testing.T) {
	tests := []struct {
		name     string
		value    string
		def      float64
		expected float64
	}{
		{"unset uses default", "", 0.95, 0.95},
		{"valid", "0.8", 0.95, 0.8},
		{"whitespace trimmed", " 0.5 ", 0.95, 0.5},
		{"invalid uses default", "abc", 0.95, 0.95},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.value != "" {
				t.Setenv("TEST_FLOAT_ENV", tt.value)
			}
			if got := ParseFloatEnv("TEST_FLOAT_ENV", tt.def); got != tt.expected {
				t.Errorf("ParseFloatEnv(%q, %v) = %v, want %v", tt.value, tt.def, got, tt.expected)
			}
		})
	}
}
