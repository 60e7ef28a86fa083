package keymap_test

import (
	"strings"
	"testing"

	"github.com/fwojciec/keymap"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validRegistration() keymap.Registration {
	return keymap.Registration{
		Credentials:          keymap.Credentials{Email: "alice@example.com", Password: "correct-horse"},
		FirstName:            "Alice",
		LastName:             "Liddell",
		PasswordConfirmation: "correct-horse",
	}
}

func TestRegistration_Validate(t *testing.T) {
	t.Parallel()

	t.Run("valid", func(t *testing.T) {
		t.Parallel()
		assert.NoError(t, validRegistration().Validate())
	})

	tests := []struct {
		name   string
		mutate func(r *keymap.Registration)
		msg    string
	}{
		{"malformed email", func(r *keymap.Registration) { r.Email = "alice" }, "invalid email"},
		{"display-name email", func(r *keymap.Registration) { r.Email = "Alice <alice@example.com>" }, "invalid email"},
		{"empty email", func(r *keymap.Registration) { r.Email = " " }, "email is required"},
		{"empty first name", func(r *keymap.Registration) { r.FirstName = "" }, "first name is required"},
		{"long last name", func(r *keymap.Registration) { r.LastName = strings.Repeat("x", 51) }, "last name must be at most 50"},
		{"weak password", func(r *keymap.Registration) { r.Password = "short"; r.PasswordConfirmation = "short" }, "at least 8"},
		{"mismatched confirmation", func(r *keymap.Registration) { r.PasswordConfirmation = "other-horse" }, "do not match"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			r := validRegistration()
			tt.mutate(&r)
			err := r.Validate()
			require.ErrorIs(t, err, keymap.ErrValidation)
			assert.Contains(t, err.Error(), tt.msg)
		})
	}
}

func TestCredentials_Validate(t *testing.T) {
	t.Parallel()

	assert.NoError(t, keymap.Credentials{Email: "bob@example.com", Password: "x"}.Validate())
	assert.ErrorIs(t, keymap.Credentials{Email: "bob@example.com"}.Validate(), keymap.ErrValidation)
	assert.ErrorIs(t, keymap.Credentials{Password: "x"}.Validate(), keymap.ErrValidation)
}
