// Package cli validates operator input given on the command line
package cli

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

var (
	accountPattern = regexp.MustCompile(`^[A-Z0-9]{2,16}$`)
	tokenPattern   = regexp.MustCompile(`^[A-Za-z0-9]{8,128}$`)
	sqlPattern     = regexp.MustCompile(`['"]\s*;\s*|\b(DROP|DELETE|UPDATE|INSERT)\b`)
)

// ErrMaliciousInput is returned for input carrying shell, path or SQL metacharacters
var ErrMaliciousInput = errors.New("potentially malicious input detected")

// ValidateInput checks for potentially malicious input patterns
func ValidateInput(input string) error {
	if strings.Contains(input, ";") || strings.Contains(input, "&&") || strings.Contains(input, "||") {
		return ErrMaliciousInput
	}
	if strings.Contains(input, "../") || strings.Contains(input, "..\\") {
		return ErrMaliciousInput
	}
	if sqlPattern.MatchString(strings.ToUpper(input)) {
		return ErrMaliciousInput
	}
	return nil
}

// ValidateAccountID accepts broker client ids such as AB1234
func ValidateAccountID(id string) error {
	if err := ValidateInput(id); err != nil {
		return err
	}
	if !accountPattern.MatchString(id) {
		return fmt.Errorf("invalid account id %q: expected 2-16 upper-case letters or digits", id)
	}
	return nil
}

// ValidateAccessToken accepts the alphanumeric tokens the broker login flow issues
func ValidateAccessToken(token string) error {
	if !tokenPattern.MatchString(token) {
		return errors.New("invalid access token: expected 8-128 letters or digits")
	}
	return nil
}
