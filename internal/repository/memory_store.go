package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"portalauth/internal/models"
)

// MemoryBackend keeps users and sessions in process memory. All mutations run under
// one write lock so uniqueness checks cannot race with inserts.
type MemoryBackend struct {
	mu         sync.RWMutex
	users      map[string]models.User
	byEmail    map[string]string
	byUsername map[string]string
	sessions   map[string]models.Session
	now        func() time.Time
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		users:      make(map[string]models.User),
		byEmail:    make(map[string]string),
		byUsername: make(map[string]string),
		sessions:   make(map[string]models.Session),
		now:        time.Now,
	}
}

// WithClock replaces the clock used for lazy session expiry.
func (b *MemoryBackend) WithClock(now func() time.Time) *MemoryBackend {
	b.now = now
	return b
}

func (b *MemoryBackend) Name() string                   { return "memory" }
func (b *MemoryBackend) Users() UserStore               { return memoryUsers{b} }
func (b *MemoryBackend) Sessions() SessionStore         { return memorySessions{b} }
func (b *MemoryBackend) Ping(ctx context.Context) error { return ctx.Err() }

type memoryUsers struct{ b *MemoryBackend }

func (m memoryUsers) Create(ctx context.Context, user models.User) error {
	b := m.b
	b.mu.Lock()
	defer b.mu.Unlock()

	user.Email = models.NormalizeEmail(user.Email)
	user.Username = normalizeUsernamePtr(user.Username)

	if _, ok := b.byEmail[user.Email]; ok {
		return ErrEmailTaken
	}
	if user.Username != nil {
		if _, ok := b.byUsername[*user.Username]; ok {
			return ErrUsernameTaken
		}
	}

	now := b.now()
	if user.CreatedAt.IsZero() {
		user.CreatedAt = now
	}
	user.UpdatedAt = now

	b.users[user.ID] = user
	b.byEmail[user.Email] = user.ID
	if user.Username != nil {
		b.byUsername[*user.Username] = user.ID
	}
	return nil
}

func (m memoryUsers) FindByEmail(ctx context.Context, email string) (models.User, error) {
	return m.lookup(m.b.byEmail, models.NormalizeEmail(email))
}

func (m memoryUsers) FindByUsername(ctx context.Context, username string) (models.User, error) {
	return m.lookup(m.b.byUsername, models.NormalizeUsername(username))
}

func (m memoryUsers) lookup(index map[string]string, key string) (models.User, error) {
	m.b.mu.RLock()
	defer m.b.mu.RUnlock()

	id, ok := index[key]
	if !ok {
		return models.User{}, ErrUserNotFound
	}
	return cloneUser(m.b.users[id]), nil
}

func (m memoryUsers) GetByID(ctx context.Context, id string) (models.User, error) {
	m.b.mu.RLock()
	defer m.b.mu.RUnlock()

	user, ok := m.b.users[id]
	if !ok {
		return models.User{}, ErrUserNotFound
	}
	return cloneUser(user), nil
}

func (m memoryUsers) UpdateStatus(ctx context.Context, id string, status models.UserStatus) error {
	m.b.mu.Lock()
	defer m.b.mu.Unlock()

	user, ok := m.b.users[id]
	if !ok {
		return ErrUserNotFound
	}
	user.Status = status
	user.UpdatedAt = m.b.now()
	m.b.users[id] = user
	return nil
}

func (m memoryUsers) TouchLogin(ctx context.Context, id string, at time.Time) error {
	m.b.mu.Lock()
	defer m.b.mu.Unlock()

	user, ok := m.b.users[id]
	if !ok {
		return ErrUserNotFound
	}
	user.LastLogin = &at
	m.b.users[id] = user
	return nil
}

func cloneUser(u models.User) models.User {
	if u.Username != nil {
		username := *u.Username
		u.Username = &username
	}
	if u.LastLogin != nil {
		lastLogin := *u.LastLogin
		u.LastLogin = &lastLogin
	}
	return u
}

type memorySessions struct{ b *MemoryBackend }

func (m memorySessions) Create(ctx context.Context, session models.Session) error {
	m.b.mu.Lock()
	defer m.b.mu.Unlock()

	if session.CreatedAt.IsZero() {
		session.CreatedAt = m.b.now()
	}
	m.b.sessions[session.ID] = session
	return nil
}

func (m memorySessions) GetByID(ctx context.Context, id string) (models.Session, error) {
	m.b.mu.RLock()
	defer m.b.mu.RUnlock()

	session, ok := m.b.sessions[id]
	if !ok || session.Expired(m.b.now()) {
		return models.Session{}, ErrSessionNotFound
	}
	return session, nil
}

func (m memorySessions) ListByUser(ctx context.Context, userID string) ([]models.Session, error) {
	m.b.mu.RLock()
	defer m.b.mu.RUnlock()

	now := m.b.now()
	var sessions []models.Session
	for _, session := range m.b.sessions {
		if session.UserID == userID && !session.Expired(now) {
			sessions = append(sessions, session)
		}
	}
	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].CreatedAt.After(sessions[j].CreatedAt)
	})
	return sessions, nil
}

func (m memorySessions) DeleteByID(ctx context.Context, id string) error {
	m.b.mu.Lock()
	defer m.b.mu.Unlock()

	delete(m.b.sessions, id)
	return nil
}

func (m memorySessions) DeleteByToken(ctx context.Context, token string) error {
	m.b.mu.Lock()
	defer m.b.mu.Unlock()

	for id, session := range m.b.sessions {
		if session.SessionToken == token {
			delete(m.b.sessions, id)
		}
	}
	return nil
}

func (m memorySessions) DeleteByUser(ctx context.Context, userID string) (int64, error) {
	return m.deleteWhere(func(s models.Session) bool { return s.UserID == userID }), nil
}

func (m memorySessions) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	return m.deleteWhere(func(s models.Session) bool { return s.Expired(now) }), nil
}

func (m memorySessions) deleteWhere(match func(models.Session) bool) int64 {
	m.b.mu.Lock()
	defer m.b.mu.Unlock()

	var removed int64
	for id, session := range m.b.sessions {
		if match(session) {
			delete(m.b.sessions, id)
			removed++
		}
	}
	return removed
}
