package repository

import (
	"context"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// readinessQuery fails with undefined_table until both credential tables exist.
const readinessQuery = `SELECT 1 FROM users CROSS JOIN user_sessions LIMIT 0`

type execer interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
}

type PostgresBackend struct {
	conn     execer
	users    *UserRepository
	sessions *SessionRepository

	schemaMu    sync.Mutex
	schemaReady bool
	ensure      func(ctx context.Context) error
}

func NewPostgresBackend(pool *pgxpool.Pool) *PostgresBackend {
	return &PostgresBackend{
		conn:     pool,
		users:    NewUserRepository(pool),
		sessions: NewSessionRepository(pool),
	}
}

// WithSchema makes Ping create the schema until one attempt succeeds, so a
// database that comes up after the process started is usable without a restart.
func (b *PostgresBackend) WithSchema(ensure func(ctx context.Context) error) *PostgresBackend {
	b.ensure = ensure
	return b
}

func (b *PostgresBackend) Name() string           { return "postgres" }
func (b *PostgresBackend) Users() UserStore       { return b.users }
func (b *PostgresBackend) Sessions() SessionStore { return b.sessions }

// Ping reports whether the store can serve auth calls: reachable with the
// credential tables in place.
func (b *PostgresBackend) Ping(ctx context.Context) error {
	if err := b.ensureSchema(ctx); err != nil {
		return err
	}
	if _, err := b.conn.Exec(ctx, readinessQuery); err != nil {
		return fmt.Errorf("postgres not ready: %w", err)
	}
	return nil
}

func (b *PostgresBackend) ensureSchema(ctx context.Context) error {
	if b.ensure == nil {
		return nil
	}

	b.schemaMu.Lock()
	defer b.schemaMu.Unlock()

	if b.schemaReady {
		return nil
	}
	if err := b.ensure(ctx); err != nil {
		return err
	}
	b.schemaReady = true
	return nil
}
