package utils

import (
	"errors"
	"net/mail"
	"regexp"
)

var emailRegex = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

var (
	ErrEmailEmpty   = errors.New("`email` is empty")
	ErrEmailInvalid = errors.New("`email` is not valid")
)

// ValidateEmail checks that the address parses per RFC 5322 and looks like a
// routable mailbox. RFC 5322 alone admits values like example@value, hence the
// extra regexp pass.
func ValidateEmail(email string) error {
	if email == "" {
		return ErrEmailEmpty
	}

	if _, err := mail.ParseAddress(email); err != nil {
		return ErrEmailInvalid
	}

	if !emailRegex.MatchString(email) {
		return ErrEmailInvalid
	}

	return nil
}
