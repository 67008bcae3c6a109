package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"portalauth/internal/ids"
	"portalauth/internal/models"
	"portalauth/internal/repository"
	"portalauth/internal/security"
)

// SessionManager owns session rows. It works against whichever backend the caller
// selected for the current operation.
type SessionManager struct {
	ttl         time.Duration
	rememberTTL time.Duration
	now         func() time.Time
	log         zerolog.Logger
}

func NewSessionManager(ttl, rememberTTL time.Duration, log zerolog.Logger) *SessionManager {
	return &SessionManager{
		ttl:         ttl,
		rememberTTL: rememberTTL,
		now:         time.Now,
		log:         log,
	}
}

func (m *SessionManager) WithClock(now func() time.Time) *SessionManager {
	m.now = now
	return m
}

func (m *SessionManager) CreateSession(
	ctx context.Context,
	backend repository.Backend,
	userID string,
	rememberMe bool,
	meta models.SessionMeta,
) (models.Session, error) {
	token, err := security.NewSessionToken()
	if err != nil {
		return models.Session{}, err
	}

	ttl := m.ttl
	if rememberMe {
		ttl = m.rememberTTL
	}

	now := m.now()
	session := models.Session{
		ID:           ids.New(),
		UserID:       userID,
		SessionToken: token,
		IPAddress:    meta.IPAddress,
		UserAgent:    meta.UserAgent,
		CreatedAt:    now,
		ExpiresAt:    now.Add(ttl),
	}

	if err := backend.Sessions().Create(ctx, session); err != nil {
		return models.Session{}, fmt.Errorf("create session: %w", err)
	}
	return session, nil
}

// Lookup returns repository.ErrSessionNotFound for absent and expired sessions alike.
func (m *SessionManager) Lookup(ctx context.Context, backend repository.Backend, id string) (models.Session, error) {
	if id == "" {
		return models.Session{}, repository.ErrSessionNotFound
	}

	session, err := backend.Sessions().GetByID(ctx, id)
	if err != nil {
		return models.Session{}, err
	}
	if session.Expired(m.now()) {
		return models.Session{}, repository.ErrSessionNotFound
	}
	return session, nil
}

// InvalidateSession deletes the session whose id or session token matches
// idOrToken. Deleting a session that is already gone succeeds.
func (m *SessionManager) InvalidateSession(ctx context.Context, backend repository.Backend, idOrToken string) error {
	if idOrToken == "" {
		return nil
	}

	sessions := backend.Sessions()
	if err := sessions.DeleteByID(ctx, idOrToken); err != nil {
		return fmt.Errorf("delete session by id: %w", err)
	}
	if err := sessions.DeleteByToken(ctx, idOrToken); err != nil {
		return fmt.Errorf("delete session by token: %w", err)
	}
	return nil
}

// CleanupExpiredSessions removes rows that lookups already ignore, so it can run
// alongside live traffic.
func (m *SessionManager) CleanupExpiredSessions(ctx context.Context, backend repository.Backend) (int64, error) {
	removed, err := backend.Sessions().DeleteExpired(ctx, m.now())
	if err != nil {
		return 0, fmt.Errorf("cleanup expired sessions: %w", err)
	}
	m.log.Info().
		Int64("removed", removed).
		Str("backend", backend.Name()).
		Msg("expired sessions cleaned up")
	return removed, nil
}

func (m *SessionManager) ListSessions(ctx context.Context, backend repository.Backend, userID string) ([]models.Session, error) {
	sessions, err := backend.Sessions().ListByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}

	now := m.now()
	live := sessions[:0]
	for _, s := range sessions {
		if !s.Expired(now) {
			live = append(live, s)
		}
	}
	return live, nil
}

func (m *SessionManager) RevokeAll(ctx context.Context, backend repository.Backend, userID string) (int64, error) {
	removed, err := backend.Sessions().DeleteByUser(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("revoke sessions: %w", err)
	}
	return removed, nil
}

func isNotFound(err error) bool {
	return errors.Is(err, repository.ErrSessionNotFound) || errors.Is(err, repository.ErrUserNotFound)
}

// Sweeper binds the manager to one backend for scheduled cleanup.
type Sweeper struct {
	manager *SessionManager
	backend repository.Backend
}

func (m *SessionManager) Sweeper(backend repository.Backend) Sweeper {
	return Sweeper{manager: m, backend: backend}
}

func (s Sweeper) CleanupExpiredSessions(ctx context.Context) (int64, error) {
	return s.manager.CleanupExpiredSessions(ctx, s.backend)
}
