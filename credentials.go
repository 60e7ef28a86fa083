package keymap

import (
	"fmt"
	"net/mail"
	"strings"
	"unicode/utf8"
)

// MinPasswordLength is the shortest password the collaborator accepts.
const MinPasswordLength = 8

// MaxNameLength bounds first and last names.
const MaxNameLength = 50

// Credentials identify an existing account. They are never persisted.
type Credentials struct {
	Email    string
	Password string
}

// Registration carries everything needed to create an account.
type Registration struct {
	Credentials
	FirstName            string
	LastName             string
	PasswordConfirmation string
}

// Validate checks that credentials are complete and well formed.
func (c Credentials) Validate() error {
	if err := validateEmail(c.Email); err != nil {
		return err
	}
	if c.Password == "" {
		return fmt.Errorf("password is required: %w", ErrValidation)
	}
	return nil
}

// Validate checks registration input locally before anything is sent.
func (r Registration) Validate() error {
	if err := validateEmail(r.Email); err != nil {
		return err
	}
	if err := validateName("first name", r.FirstName); err != nil {
		return err
	}
	if err := validateName("last name", r.LastName); err != nil {
		return err
	}
	if utf8.RuneCountInString(r.Password) < MinPasswordLength {
		return fmt.Errorf("password must be at least %d characters: %w", MinPasswordLength, ErrValidation)
	}
	if r.Password != r.PasswordConfirmation {
		return fmt.Errorf("passwords do not match: %w", ErrValidation)
	}
	return nil
}

func validateEmail(email string) error {
	if strings.TrimSpace(email) == "" {
		return fmt.Errorf("email is required: %w", ErrValidation)
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return fmt.Errorf("invalid email %q: %w", email, ErrValidation)
	}
	return nil
}

func validateName(label, name string) error {
	n := utf8.RuneCountInString(strings.TrimSpace(name))
	if n == 0 {
		return fmt.Errorf("%s is required: %w", label, ErrValidation)
	}
	if n > MaxNameLength {
		return fmt.Errorf("%s must be at most %d characters: %w", label, MaxNameLength, ErrValidation)
	}
	return nil
}
