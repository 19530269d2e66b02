package utils

import (
	"crypto/rand"
	"fmt"
	"math/big"
)

// GenerateOTP returns a cryptographically secure 6-digit one-time code.
func GenerateOTP() (string, error) {
	// Random number between 100000 and 999999 (6 digits)
	max := big.NewInt(900000)
	n, err := rand.Int(rand.Reader, max)
	if err != nil {
		return "", fmt.Errorf("generate otp: %w", err)
	}

	code := n.Int64() + 100000
	return fmt.Sprintf("%06d", code), nil
}

// ValidateOTP checks if a string is a valid 6-digit code.
func ValidateOTP(code string) bool {
	if len(code) != 6 {
		return false
	}

	for _, char := range code {
		if char < '0' || char > '9' {
			return false
		}
	}

	return true
}
