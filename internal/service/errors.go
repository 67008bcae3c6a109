package service

import (
	"errors"
	"fmt"
	"math"
	"net/http"
	"time"
)

// Expected failures. The service returns only these, *LockedError or ErrTemporary.
var (
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrAccountSuspended   = errors.New("account suspended, please contact support")
	ErrAccountInactive    = errors.New("account inactive, please contact support")
	ErrEmailTaken         = errors.New("an account with this email already exists")
	ErrUsernameTaken      = errors.New("this username is already taken")
	ErrInvalidEmail       = errors.New("a valid email address is required")
	ErrWeakPassword       = errors.New("password must be at least 8 characters and contain upper case, lower case and a digit")
	ErrInvalidUsername    = errors.New("username must be 3 to 32 letters, digits, dots, dashes or underscores")
	ErrUnauthenticated    = errors.New("authentication required")
	ErrNotFound           = errors.New("not found")
	ErrInvalidStatus      = errors.New("unknown account status")
	ErrTemporary          = errors.New("something went wrong, please try again later")
)

// LockedError rejects an attempt while its identity and origin are locked out.
type LockedError struct {
	RetryAfter time.Duration
}

func (e *LockedError) Error() string {
	minutes := int(math.Ceil(e.RetryAfter.Minutes()))
	if minutes < 1 {
		minutes = 1
	}
	unit := "minutes"
	if minutes == 1 {
		unit = "minute"
	}
	return fmt.Sprintf("too many failed login attempts, try again in %d %s", minutes, unit)
}

// FieldOf names the input field an error refers to, or "".
func FieldOf(err error) string {
	switch {
	case errors.Is(err, ErrEmailTaken), errors.Is(err, ErrInvalidEmail):
		return "email"
	case errors.Is(err, ErrUsernameTaken), errors.Is(err, ErrInvalidUsername):
		return "username"
	case errors.Is(err, ErrWeakPassword):
		return "password"
	}
	return ""
}

// AccessError is the outcome of a failed RequireAuth or RequirePermission: 401 for
// a missing or invalid identity, 403 for a known identity without the permission.
type AccessError struct {
	Status  int
	Message string
}

func (e *AccessError) Error() string { return e.Message }

func unauthorized() *AccessError {
	return &AccessError{Status: http.StatusUnauthorized, Message: "authentication required"}
}

func forbidden() *AccessError {
	return &AccessError{Status: http.StatusForbidden, Message: "insufficient permissions"}
}

func isExpected(err error) bool {
	var locked *LockedError
	switch {
	case errors.As(err, &locked),
		errors.Is(err, ErrInvalidCredentials),
		errors.Is(err, ErrAccountSuspended),
		errors.Is(err, ErrAccountInactive),
		errors.Is(err, ErrEmailTaken),
		errors.Is(err, ErrUsernameTaken),
		errors.Is(err, ErrInvalidEmail),
		errors.Is(err, ErrWeakPassword),
		errors.Is(err, ErrInvalidUsername),
		errors.Is(err, ErrUnauthenticated),
		errors.Is(err, ErrNotFound),
		errors.Is(err, ErrInvalidStatus),
		errors.Is(err, ErrTemporary):
		return true
	}
	return false
}
