package cli

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateInput(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"valid input", "normal_command --flag value", false},
		{"malicious command injection", "ls; rm -rf /", true},
		{"path traversal attempt", "../../../etc/passwd", true},
		{"sql injection attempt", "'; DROP TABLE users; --", true},
		{"empty input", "", false},
		{"input with spaces", "command with spaces", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateInput(tt.input)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrMaliciousInput)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateAccountID(t *testing.T) {
	assert.NoError(t, ValidateAccountID("AB1234"))
	assert.Error(t, ValidateAccountID(""))
	assert.Error(t, ValidateAccountID("ab1234"))
	assert.Error(t, ValidateAccountID("AB1234;"))
	assert.Error(t, ValidateAccountID("A"))
}

func TestValidateAccessToken(t *testing.T) {
	assert.NoError(t, ValidateAccessToken("a1B2c3D4e5F6"))
	assert.Error(t, ValidateAccessToken("short"))
	assert.Error(t, ValidateAccessToken("has space in it"))
}
