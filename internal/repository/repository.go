package repository

import (
	"context"
	"errors"
	"time"

	"portalauth/internal/models"
)

var (
	ErrUserNotFound    = errors.New("user not found")
	ErrSessionNotFound = errors.New("session not found")
	ErrEmailTaken      = errors.New("email already registered")
	ErrUsernameTaken   = errors.New("username already taken")
)

type UserStore interface {
	// Create fails with ErrEmailTaken or ErrUsernameTaken when the user collides with
	// an existing one. The check and the insert are atomic.
	Create(ctx context.Context, user models.User) error
	FindByEmail(ctx context.Context, email string) (models.User, error)
	FindByUsername(ctx context.Context, username string) (models.User, error)
	GetByID(ctx context.Context, id string) (models.User, error)
	UpdateStatus(ctx context.Context, id string, status models.UserStatus) error
	TouchLogin(ctx context.Context, id string, at time.Time) error
}

// SessionStore lookups never return a session whose expiry has passed. Deleting a
// session that does not exist is not an error.
type SessionStore interface {
	Create(ctx context.Context, session models.Session) error
	GetByID(ctx context.Context, id string) (models.Session, error)
	ListByUser(ctx context.Context, userID string) ([]models.Session, error)
	DeleteByID(ctx context.Context, id string) error
	DeleteByToken(ctx context.Context, token string) error
	DeleteByUser(ctx context.Context, userID string) (int64, error)
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// Backend is one complete credential store.
type Backend interface {
	Name() string
	Users() UserStore
	Sessions() SessionStore
	Ping(ctx context.Context) error
}
