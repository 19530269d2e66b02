package utils

import (
	"testing"
)

func TestGenerateOTP(t *testing.T) {
	code, err := GenerateOTP()
	if err != nil {
		t.Fatalf("GenerateOTP() failed: %v", err)
	}

	if len(code) != 6 {
		t.Errorf("Expected code length 6, got %d", len(code))
	}

	for i, char := range code {
		if char < '0' || char > '9' {
			t.Errorf("Code character at position %d is not a digit: %c", i, char)
		}
	}

	if code < "100000" || code > "999999" {
		t.Errorf("Code %s is not within valid range (100000-999999)", code)
	}
}

func TestValidateOTP(t *testing.T) {
	tests := []struct {
		code     string
		expected bool
	}{
		{"123456", true},
		{"000000", true},
		{"999999", true},
		{"12345", false},   // too short
		{"1234567", false}, // too long
		{"12345a", false},  // contains non-digit
		{"", false},        // empty
		{"abc123", false},  // contains letters
	}

	for _, test := range tests {
		if got := ValidateOTP(test.code); got != test.expected {
			t.Errorf("ValidateOTP(%q) = %t, expected %t", test.code, got, test.expected)
		}
	}
}
