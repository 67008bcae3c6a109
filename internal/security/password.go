package security

import (
	"fmt"
	"unicode"
	"unicode/utf8"

	"golang.org/x/crypto/bcrypt"
)

const DefaultBcryptCost = 12

// Hasher hashes passwords with bcrypt at a fixed cost. Every hash carries its own
// random salt.
type Hasher struct {
	cost  int
	dummy []byte
}

func NewHasher(cost int) *Hasher {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = DefaultBcryptCost
	}
	// Only the cost of this hash matters.
	dummy, _ := bcrypt.GenerateFromPassword([]byte("\x00unused-account"), cost)
	return &Hasher{cost: cost, dummy: dummy}
}

func (h *Hasher) Hash(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), h.cost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

// Verify compares in constant time. A malformed hash is a mismatch, not an error.
func (h *Hasher) Verify(password string, hash string) bool {
	if hash == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// VerifyNone spends the same bcrypt work as Verify against an account that does
// not exist, so a missing email is not faster than a wrong password.
func (h *Hasher) VerifyNone(password string) {
	_ = bcrypt.CompareHashAndPassword(h.dummy, []byte(password))
}

// ValidatePassword enforces the minimum strength for new passwords: at least 8
// characters with an upper case letter, a lower case letter and a digit.
func ValidatePassword(password string) bool {
	if utf8.RuneCountInString(password) < 8 {
		return false
	}

	var hasUpper, hasLower, hasDigit bool
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			hasUpper = true
		case unicode.IsLower(r):
			hasLower = true
		case unicode.IsDigit(r):
			hasDigit = true
		}
	}
	return hasUpper && hasLower && hasDigit
}
