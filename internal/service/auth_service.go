package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/mail"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"portalauth/internal/audit"
	"portalauth/internal/ids"
	"portalauth/internal/lockout"
	"portalauth/internal/metrics"
	"portalauth/internal/models"
	"portalauth/internal/permissions"
	"portalauth/internal/repository"
	"portalauth/internal/security"
)

var usernamePattern = regexp.MustCompile(`^[a-zA-Z0-9._-]{3,32}$`)

type Options struct {
	// DemoMode enables the demo password shortcuts. They still only apply while the
	// in-memory store serves the call.
	DemoMode     bool
	AccessCookie string
}

type AuthService struct {
	selector *repository.Selector
	sessions *SessionManager
	tokens   *security.TokenService
	hasher   *security.Hasher
	lockout  lockout.Tracker
	audit    audit.Publisher
	metrics  *metrics.Metrics
	opts     Options
	now      func() time.Time
	log      zerolog.Logger
}

func NewAuthService(
	selector *repository.Selector,
	sessions *SessionManager,
	tokens *security.TokenService,
	hasher *security.Hasher,
	tracker lockout.Tracker,
	publisher audit.Publisher,
	m *metrics.Metrics,
	opts Options,
	log zerolog.Logger,
) *AuthService {
	if publisher == nil {
		publisher = audit.NopPublisher{}
	}
	if opts.AccessCookie == "" {
		opts.AccessCookie = "access_token"
	}
	return &AuthService{
		selector: selector,
		sessions: sessions,
		tokens:   tokens,
		hasher:   hasher,
		lockout:  tracker,
		audit:    publisher,
		metrics:  m,
		opts:     opts,
		now:      time.Now,
		log:      log,
	}
}

type AuthResult struct {
	User      models.PublicUser
	Tokens    security.TokenPair
	SessionID string
}

type LoginInput struct {
	Email      string
	Password   string
	RememberMe bool
	IPAddress  string
	UserAgent  string
}

// Login verifies credentials and opens a session. Expected failures come back as
// the package's sentinel errors or *LockedError; anything else is logged and
// reported as ErrTemporary.
func (s *AuthService) Login(ctx context.Context, input LoginInput) (AuthResult, error) {
	email := models.NormalizeEmail(input.Email)
	if email == "" || input.Password == "" {
		s.metrics.LoginAttempts.WithLabelValues("invalid_credentials").Inc()
		return AuthResult{}, ErrInvalidCredentials
	}

	if locked := s.checkLockout(ctx, email, input.IPAddress); locked != nil {
		s.metrics.LoginAttempts.WithLabelValues("locked").Inc()
		s.publish(ctx, audit.Event{
			Type:      audit.EventLoginLocked,
			Email:     email,
			Origin:    input.IPAddress,
			UserAgent: input.UserAgent,
		})
		return AuthResult{}, locked
	}

	sel := s.selectBackend(ctx)
	result, err := s.login(ctx, sel, email, input)
	if err != nil {
		outcome := loginOutcome(err)
		s.metrics.LoginAttempts.WithLabelValues(outcome).Inc()
		if errors.Is(err, ErrInvalidCredentials) {
			s.recordFailure(ctx, email, input.IPAddress)
		}
		s.publish(ctx, audit.Event{
			Type:      audit.EventLoginFailed,
			Email:     email,
			Origin:    input.IPAddress,
			UserAgent: input.UserAgent,
			Backend:   sel.Backend.Name(),
			Reason:    outcome,
		})
		return AuthResult{}, s.boundary(err, "login", email)
	}

	s.metrics.LoginAttempts.WithLabelValues("success").Inc()
	if err := s.lockout.Reset(ctx, email, input.IPAddress); err != nil {
		s.log.Warn().Err(err).Str("email", email).Str("origin", input.IPAddress).Msg("lockout reset failed")
	}
	s.publish(ctx, audit.Event{
		Type:      audit.EventLoginSucceeded,
		UserID:    result.User.ID,
		Email:     email,
		SessionID: result.SessionID,
		Origin:    input.IPAddress,
		UserAgent: input.UserAgent,
		Backend:   sel.Backend.Name(),
	})
	return result, nil
}

func (s *AuthService) login(ctx context.Context, sel repository.Selection, email string, input LoginInput) (AuthResult, error) {
	user, err := sel.Backend.Users().FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			s.hasher.VerifyNone(input.Password)
			return AuthResult{}, ErrInvalidCredentials
		}
		return AuthResult{}, fmt.Errorf("find user: %w", err)
	}

	if !s.passwordMatches(sel, user, input.Password) {
		return AuthResult{}, ErrInvalidCredentials
	}

	// PENDING_VERIFICATION is allowed through on purpose; blocking it is a product
	// decision that has not been made.
	switch user.Status {
	case models.UserStatusSuspended:
		return AuthResult{}, ErrAccountSuspended
	case models.UserStatusInactive:
		return AuthResult{}, ErrAccountInactive
	}

	result, err := s.issue(ctx, sel.Backend, user, input.RememberMe, models.SessionMeta{
		IPAddress: input.IPAddress,
		UserAgent: input.UserAgent,
	})
	if err != nil {
		return AuthResult{}, err
	}

	loginAt := s.now()
	if err := sel.Backend.Users().TouchLogin(ctx, user.ID, loginAt); err != nil {
		s.log.Warn().Err(err).Str("user_id", user.ID).Msg("record last login failed")
	} else {
		result.User.LastLogin = &loginAt
	}
	return result, nil
}

func (s *AuthService) passwordMatches(sel repository.Selection, user models.User, password string) bool {
	if s.hasher.Verify(password, user.PasswordHash) {
		return true
	}
	if s.opts.DemoMode && sel.Fallback && isDemoAccount(user.Email) && isDemoShortcut(password) {
		s.log.Warn().Str("email", user.Email).Msg("demo password shortcut accepted")
		return true
	}
	return false
}

type RegisterInput struct {
	Email     string
	Password  string
	FirstName string
	LastName  string
	Username  string
	IPAddress string
	UserAgent string
}

// Register creates a MEMBER account pending verification and signs it in.
func (s *AuthService) Register(ctx context.Context, input RegisterInput) (AuthResult, error) {
	email := models.NormalizeEmail(input.Email)
	if err := validateRegistration(email, input); err != nil {
		s.metrics.Registrations.WithLabelValues("invalid").Inc()
		return AuthResult{}, err
	}

	sel := s.selectBackend(ctx)
	result, err := s.register(ctx, sel, email, input)
	if err != nil {
		s.metrics.Registrations.WithLabelValues(registerOutcome(err)).Inc()
		return AuthResult{}, s.boundary(err, "register", email)
	}

	s.metrics.Registrations.WithLabelValues("success").Inc()
	s.publish(ctx, audit.Event{
		Type:      audit.EventRegistered,
		UserID:    result.User.ID,
		Email:     email,
		SessionID: result.SessionID,
		Origin:    input.IPAddress,
		UserAgent: input.UserAgent,
		Backend:   sel.Backend.Name(),
	})
	return result, nil
}

func (s *AuthService) register(ctx context.Context, sel repository.Selection, email string, input RegisterInput) (AuthResult, error) {
	users := sel.Backend.Users()

	if _, err := users.FindByEmail(ctx, email); err == nil {
		return AuthResult{}, ErrEmailTaken
	} else if !errors.Is(err, repository.ErrUserNotFound) {
		return AuthResult{}, fmt.Errorf("check email: %w", err)
	}

	var username *string
	if u := models.NormalizeUsername(input.Username); u != "" {
		if _, err := users.FindByUsername(ctx, u); err == nil {
			return AuthResult{}, ErrUsernameTaken
		} else if !errors.Is(err, repository.ErrUserNotFound) {
			return AuthResult{}, fmt.Errorf("check username: %w", err)
		}
		username = &u
	}

	hash, err := s.hasher.Hash(input.Password)
	if err != nil {
		return AuthResult{}, err
	}

	now := s.now()
	user := models.User{
		ID:           ids.New(),
		Email:        email,
		Username:     username,
		FirstName:    strings.TrimSpace(input.FirstName),
		LastName:     strings.TrimSpace(input.LastName),
		PasswordHash: hash,
		Role:         models.UserRoleMember,
		Status:       models.UserStatusPendingVerification,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	// The lookups above are advisory; Create is what enforces uniqueness when two
	// registrations race.
	if err := users.Create(ctx, user); err != nil {
		switch {
		case errors.Is(err, repository.ErrEmailTaken):
			return AuthResult{}, ErrEmailTaken
		case errors.Is(err, repository.ErrUsernameTaken):
			return AuthResult{}, ErrUsernameTaken
		}
		return AuthResult{}, fmt.Errorf("create user: %w", err)
	}

	return s.issue(ctx, sel.Backend, user, false, models.SessionMeta{
		IPAddress: input.IPAddress,
		UserAgent: input.UserAgent,
	})
}

func validateRegistration(email string, input RegisterInput) error {
	addr, err := mail.ParseAddress(email)
	if email == "" || err != nil || addr.Address != email {
		return ErrInvalidEmail
	}
	if !security.ValidatePassword(input.Password) {
		return ErrWeakPassword
	}
	if u := strings.TrimSpace(input.Username); u != "" && !usernamePattern.MatchString(u) {
		return ErrInvalidUsername
	}
	return nil
}

// issue opens a session for user and signs the token pair bound to it.
func (s *AuthService) issue(ctx context.Context, backend repository.Backend, user models.User, rememberMe bool, meta models.SessionMeta) (AuthResult, error) {
	session, err := s.sessions.CreateSession(ctx, backend, user.ID, rememberMe, meta)
	if err != nil {
		return AuthResult{}, err
	}

	tokens, err := s.tokens.GenerateTokens(security.TokenPayload{
		UserID:    user.ID,
		Email:     user.Email,
		Role:      string(user.Role),
		SessionID: session.ID,
	}, rememberMe)
	if err != nil {
		if delErr := s.sessions.InvalidateSession(ctx, backend, session.ID); delErr != nil {
			s.log.Warn().Err(delErr).Str("session_id", session.ID).Msg("discard session after token failure")
		}
		return AuthResult{}, err
	}

	return AuthResult{
		User:      user.Public(),
		Tokens:    tokens,
		SessionID: session.ID,
	}, nil
}

// GetCurrentUser resolves an access token to its user. The session the token names
// must still exist and be unexpired; a valid signature alone is not enough.
func (s *AuthService) GetCurrentUser(ctx context.Context, token string) (models.PublicUser, bool) {
	claims, ok := s.tokens.VerifyToken(token)
	if !ok {
		return models.PublicUser{}, false
	}

	sel := s.selectBackend(ctx)
	user, err := s.resolve(ctx, sel.Backend, claims)
	if err != nil {
		if !isNotFound(err) {
			s.log.Warn().Err(err).Str("session_id", claims.SessionID).Msg("current user lookup failed")
		}
		return models.PublicUser{}, false
	}
	return user.Public(), true
}

func (s *AuthService) resolve(ctx context.Context, backend repository.Backend, claims *security.Claims) (models.User, error) {
	session, err := s.sessions.Lookup(ctx, backend, claims.SessionID)
	if err != nil {
		return models.User{}, err
	}
	if session.UserID != claims.UserID {
		return models.User{}, repository.ErrSessionNotFound
	}
	return backend.Users().GetByID(ctx, claims.UserID)
}

// Logout deletes the session behind token. It never fails from the caller's point
// of view; problems are logged.
func (s *AuthService) Logout(ctx context.Context, token string) {
	if token == "" {
		return
	}

	claims, ok := s.tokens.VerifyToken(token)
	if !ok {
		claims, ok = s.tokens.VerifyRefreshToken(token)
	}
	if !ok {
		s.log.Warn().Msg("logout with invalid or expired token")
		return
	}

	sel := s.selectBackend(ctx)
	if err := s.sessions.InvalidateSession(ctx, sel.Backend, claims.SessionID); err != nil {
		s.log.Warn().
			Err(err).
			Str("session_id", claims.SessionID).
			Str("user_id", claims.UserID).
			Msg("logout session delete failed")
		return
	}

	s.publish(ctx, audit.Event{
		Type:      audit.EventLogout,
		UserID:    claims.UserID,
		Email:     claims.Email,
		SessionID: claims.SessionID,
		Backend:   sel.Backend.Name(),
	})
}

// Refresh exchanges a refresh token for a new access token while its session lives.
// The refresh token itself is returned unchanged.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string) (AuthResult, error) {
	claims, ok := s.tokens.VerifyRefreshToken(refreshToken)
	if !ok {
		return AuthResult{}, ErrUnauthenticated
	}

	sel := s.selectBackend(ctx)
	user, err := s.resolve(ctx, sel.Backend, claims)
	if err != nil {
		if isNotFound(err) {
			return AuthResult{}, ErrUnauthenticated
		}
		return AuthResult{}, s.boundary(err, "refresh", claims.Email)
	}

	switch user.Status {
	case models.UserStatusSuspended:
		return AuthResult{}, ErrAccountSuspended
	case models.UserStatusInactive:
		return AuthResult{}, ErrAccountInactive
	}

	access, accessExp, err := s.tokens.GenerateAccessToken(security.TokenPayload{
		UserID:    user.ID,
		Email:     user.Email,
		Role:      string(user.Role),
		SessionID: claims.SessionID,
	})
	if err != nil {
		return AuthResult{}, s.boundary(err, "refresh", user.Email)
	}

	var refreshExp time.Time
	if claims.ExpiresAt != nil {
		refreshExp = claims.ExpiresAt.Time
	}
	return AuthResult{
		User: user.Public(),
		Tokens: security.TokenPair{
			AccessToken:      access,
			RefreshToken:     refreshToken,
			AccessExpiresAt:  accessExp,
			RefreshExpiresAt: refreshExp,
		},
		SessionID: claims.SessionID,
	}, nil
}

// Identity is an authenticated caller.
type Identity struct {
	User      models.PublicUser
	SessionID string
}

// RequireAuth authenticates r from its bearer token or access cookie.
func (s *AuthService) RequireAuth(ctx context.Context, r *http.Request) (Identity, *AccessError) {
	token := security.ExtractTokenFromRequest(r, s.opts.AccessCookie)
	if token == "" {
		return Identity{}, unauthorized()
	}

	claims, ok := s.tokens.VerifyToken(token)
	if !ok {
		return Identity{}, unauthorized()
	}

	sel := s.selectBackend(ctx)
	user, err := s.resolve(ctx, sel.Backend, claims)
	if err != nil {
		if !isNotFound(err) {
			s.log.Warn().Err(err).Str("session_id", claims.SessionID).Msg("auth lookup failed")
		}
		return Identity{}, unauthorized()
	}
	return Identity{User: user.Public(), SessionID: claims.SessionID}, nil
}

// RequirePermission is RequireAuth followed by a permission check.
func (s *AuthService) RequirePermission(ctx context.Context, r *http.Request, perm permissions.Permission) (Identity, *AccessError) {
	identity, accessErr := s.RequireAuth(ctx, r)
	if accessErr != nil {
		return Identity{}, accessErr
	}
	if !permissions.Has(identity.User.Role, perm) {
		return Identity{}, forbidden()
	}
	return identity, nil
}

// ListSessions returns the caller's live sessions.
func (s *AuthService) ListSessions(ctx context.Context, userID string) ([]models.Session, error) {
	sel := s.selectBackend(ctx)
	sessions, err := s.sessions.ListSessions(ctx, sel.Backend, userID)
	if err != nil {
		return nil, s.boundary(err, "list sessions", "")
	}
	return sessions, nil
}

// RevokeSession ends one of userID's sessions.
func (s *AuthService) RevokeSession(ctx context.Context, userID, sessionID string) error {
	sel := s.selectBackend(ctx)
	session, err := s.sessions.Lookup(ctx, sel.Backend, sessionID)
	if err != nil || session.UserID != userID {
		if err != nil && !isNotFound(err) {
			return s.boundary(err, "revoke session", "")
		}
		return ErrNotFound
	}

	if err := s.sessions.InvalidateSession(ctx, sel.Backend, session.ID); err != nil {
		return s.boundary(err, "revoke session", "")
	}
	s.publish(ctx, audit.Event{
		Type:      audit.EventSessionRevoked,
		UserID:    userID,
		SessionID: sessionID,
		Backend:   sel.Backend.Name(),
	})
	return nil
}

// UpdateUserStatus changes an account's status. Suspending or deactivating an
// account also ends all of its sessions.
func (s *AuthService) UpdateUserStatus(ctx context.Context, actorID, userID string, status models.UserStatus) error {
	if !status.Valid() {
		return ErrInvalidStatus
	}

	sel := s.selectBackend(ctx)
	if err := sel.Backend.Users().UpdateStatus(ctx, userID, status); err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return ErrNotFound
		}
		return s.boundary(err, "update status", "")
	}

	if status == models.UserStatusSuspended || status == models.UserStatusInactive {
		removed, err := s.sessions.RevokeAll(ctx, sel.Backend, userID)
		if err != nil {
			return s.boundary(err, "update status", "")
		}
		s.log.Info().Str("user_id", userID).Int64("sessions", removed).Msg("sessions revoked after status change")
	}

	s.publish(ctx, audit.Event{
		Type:    audit.EventStatusChanged,
		UserID:  userID,
		Reason:  fmt.Sprintf("%s by %s", status, actorID),
		Backend: sel.Backend.Name(),
	})
	return nil
}

// CleanupExpiredSessions sweeps the persistent store and the in-process fallback.
func (s *AuthService) CleanupExpiredSessions(ctx context.Context) (int64, error) {
	removed, err := s.sweep(ctx, s.selector.Fallback())
	if err != nil {
		return 0, err
	}
	if primary := s.selector.Primary(); primary != s.selector.Fallback() {
		n, err := s.sweep(ctx, primary)
		if err != nil {
			return removed, err
		}
		removed += n
	}
	return removed, nil
}

// FallbackCleaner sweeps only the in-process fallback store. The worker cannot
// reach it, so the API process runs it on every scheduled tick.
func (s *AuthService) FallbackCleaner() FallbackCleaner {
	return FallbackCleaner{svc: s}
}

type FallbackCleaner struct {
	svc *AuthService
}

func (c FallbackCleaner) CleanupExpiredSessions(ctx context.Context) (int64, error) {
	return c.svc.sweep(ctx, c.svc.selector.Fallback())
}

func (s *AuthService) sweep(ctx context.Context, backend repository.Backend) (int64, error) {
	removed, err := s.sessions.CleanupExpiredSessions(ctx, backend)
	if err != nil {
		return 0, s.boundary(err, "cleanup sessions", "")
	}
	if removed > 0 {
		s.log.Debug().Str("backend", backend.Name()).Int64("removed", removed).Msg("expired sessions removed")
	}
	s.metrics.SessionsCleaned.Add(float64(removed))
	return removed, nil
}

func (s *AuthService) selectBackend(ctx context.Context) repository.Selection {
	return s.selector.Select(ctx)
}

func (s *AuthService) checkLockout(ctx context.Context, email, origin string) *LockedError {
	st, err := s.lockout.Check(ctx, email, origin)
	if err != nil {
		// Fail open: an unreachable lockout store must not block every login.
		s.log.Error().Err(err).Str("email", email).Str("origin", origin).Msg("lockout check failed")
		return nil
	}
	if st.Locked {
		return &LockedError{RetryAfter: st.RetryAfter}
	}
	return nil
}

func (s *AuthService) recordFailure(ctx context.Context, email, origin string) {
	st, err := s.lockout.RecordFailure(ctx, email, origin)
	if err != nil {
		s.log.Error().Err(err).Str("email", email).Str("origin", origin).Msg("lockout record failed")
		return
	}
	if st.Tripped {
		s.metrics.Lockouts.Inc()
		s.log.Warn().
			Str("email", email).
			Str("origin", origin).
			Int("failures", st.Failures).
			Dur("retry_after", st.RetryAfter).
			Msg("login locked out")
	}
}

func (s *AuthService) publish(ctx context.Context, event audit.Event) {
	if event.ID == "" {
		event.ID = ids.New()
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = s.now().UTC()
	}
	if err := s.audit.Publish(ctx, event); err != nil {
		s.log.Warn().Err(err).Str("event", string(event.Type)).Msg("audit publish failed")
	}
}

// boundary passes expected errors through and replaces everything else with
// ErrTemporary after logging it.
func (s *AuthService) boundary(err error, op string, email string) error {
	if isExpected(err) {
		return err
	}
	s.log.Error().Err(err).Str("op", op).Str("email", email).Msg("auth operation failed")
	return ErrTemporary
}

func loginOutcome(err error) string {
	switch {
	case errors.Is(err, ErrInvalidCredentials):
		return "invalid_credentials"
	case errors.Is(err, ErrAccountSuspended):
		return "suspended"
	case errors.Is(err, ErrAccountInactive):
		return "inactive"
	}
	return "error"
}

func registerOutcome(err error) string {
	switch {
	case errors.Is(err, ErrEmailTaken), errors.Is(err, ErrUsernameTaken):
		return "conflict"
	}
	return "error"
}
