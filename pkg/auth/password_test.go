package auth

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidatePassword(t *testing.T) {
	tests := []struct {
		name          string
		password      string
		shouldFail    bool
		errorContains string
	}{
		{name: "valid", password: "correct7horse", shouldFail: false},
		{name: "valid with symbols", password: "MyP@ssw0rd!", shouldFail: false},
		{name: "too short", password: "abc12", shouldFail: true, errorContains: "at least 8"},
		{name: "no digit", password: "onlyletters", shouldFail: true, errorContains: "digit"},
		{name: "no letter", password: "1234567890", shouldFail: true, errorContains: "letter"},
		{name: "common", password: "Password123", shouldFail: true, errorContains: "too common"},
		{name: "too long", password: strings.Repeat("a1", 40), shouldFail: true, errorContains: "at most 72"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidatePassword(tt.password)

			if !tt.shouldFail {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			var pve *PasswordValidationError
			require.ErrorAs(t, err, &pve)
			assert.Contains(t, err.Error(), tt.errorContains)
		})
	}
}

func TestHashAndComparePassword(t *testing.T) {
	password := "correct7horse"

	hash, err := HashPassword(password)
	require.NoError(t, err)
	assert.NotEqual(t, password, hash)

	assert.NoError(t, ComparePassword(hash, password))
	assert.Error(t, ComparePassword(hash, "wrong7horse"))
}

func TestHashPassword_Empty(t *testing.T) {
	_, err := HashPassword("")
	assert.Error(t, err)
}

func TestDummyHash(t *testing.T) {
	first := DummyHash()
	assert.Equal(t, first, DummyHash(), "dummy hash is computed once")
	assert.True(t, strings.HasPrefix(first, "$2a$12$"))
	assert.Error(t, ComparePassword(first, "anything"))
}
