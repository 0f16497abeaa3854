// Package auth holds the credential handling shared by the account-creating
// backends.
package auth

import (
	"errors"
	"fmt"
	"net/mail"

	"golang.org/x/crypto/bcrypt"
)

// MinPasswordLength mirrors the minimum accepted by common auth providers.
const MinPasswordLength = 6

// MinCost is the cheapest accepted bcrypt cost.
const MinCost = bcrypt.MinCost

var (
	// ErrInvalidEmail is returned for addresses that do not parse.
	ErrInvalidEmail = errors.New("auth: invalid email")

	// ErrWeakPassword is returned for passwords below MinPasswordLength.
	ErrWeakPassword = errors.New("auth: password too short")
)

// Hasher hashes passwords with bcrypt at a fixed cost.
type Hasher struct {
	cost int
}

// NewHasher returns a Hasher. A cost of 0 selects bcrypt.DefaultCost; other
// values are clamped to bcrypt's accepted range. Load runs against
// emulators usually want bcrypt.MinCost so hashing does not dominate.
func NewHasher(cost int) Hasher {
	switch {
	case cost == 0:
		cost = bcrypt.DefaultCost
	case cost < bcrypt.MinCost:
		cost = bcrypt.MinCost
	case cost > bcrypt.MaxCost:
		cost = bcrypt.MaxCost
	}
	return Hasher{cost: cost}
}

// Cost returns the bcrypt cost in use.
func (h Hasher) Cost() int { return h.cost }

// Hash validates the password and returns its bcrypt hash.
func (h Hasher) Hash(password string) (string, error) {
	if len(password) < MinPasswordLength {
		return "", ErrWeakPassword
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), h.cost)
	if err != nil {
		return "", fmt.Errorf("auth: hash password: %w", err)
	}
	return string(hash), nil
}

// Compare checks password against a hash produced by Hash.
func (h Hasher) Compare(hash, password string) error {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
}

// ValidateEmail checks that email is a bare, parseable address.
func ValidateEmail(email string) error {
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return fmt.Errorf("%w: %q", ErrInvalidEmail, email)
	}
	return nil
}
