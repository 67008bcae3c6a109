package tasks

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"portalauth/internal/audit"
	"portalauth/internal/jobs"
)

// Archiver stores one serialized audit event.
type Archiver interface {
	PutAuditEvent(ctx context.Context, key string, body []byte) error
}

// Processor dispatches task stream entries by their type field. A nil cleaner or
// archiver turns the matching task into a logged no-op.
type Processor struct {
	cleaner  jobs.SessionCleaner
	archiver Archiver
	logger   zerolog.Logger
}

func NewProcessor(cleaner jobs.SessionCleaner, archiver Archiver, logger zerolog.Logger) *Processor {
	return &Processor{
		cleaner:  cleaner,
		archiver: archiver,
		logger:   logger,
	}
}

func (p *Processor) Handle(ctx context.Context, msg redis.XMessage) error {
	taskType := stringValue(msg.Values, "type")

	switch taskType {
	case jobs.TaskSessionsCleanup:
		return p.handleCleanup(ctx)
	case audit.TaskType:
		return p.handleAudit(ctx, msg)
	default:
		// Unknown entries are acked so they do not cycle through reclaim forever.
		p.logger.Warn().Str("type", taskType).Str("message_id", msg.ID).Msg("unknown task type")
		return nil
	}
}

func (p *Processor) handleCleanup(ctx context.Context) error {
	if p.cleaner == nil {
		p.logger.Warn().Msg("session cleanup requested but no persistent store is configured")
		return nil
	}
	removed, err := p.cleaner.CleanupExpiredSessions(ctx)
	if err != nil {
		return fmt.Errorf("cleanup sessions: %w", err)
	}
	p.logger.Info().Int64("removed", removed).Msg("session cleanup task done")
	return nil
}

func (p *Processor) handleAudit(ctx context.Context, msg redis.XMessage) error {
	raw := stringValue(msg.Values, "event")
	event, err := audit.Decode(raw)
	if err != nil {
		// A malformed entry will never decode; drop it instead of retrying.
		p.logger.Error().Err(err).Str("message_id", msg.ID).Msg("discarding malformed audit entry")
		return nil
	}

	if p.archiver == nil {
		p.logger.Info().
			Str("event", string(event.Type)).
			Str("user_id", event.UserID).
			Str("email", event.Email).
			Msg("audit event")
		return nil
	}

	if err := p.archiver.PutAuditEvent(ctx, audit.ObjectKey(event), []byte(raw)); err != nil {
		return fmt.Errorf("archive audit event %s: %w", event.ID, err)
	}
	return nil
}

func stringValue(values map[string]interface{}, key string) string {
	switch v := values[key].(type) {
	case string:
		return v
	case []byte:
		return string(v)
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}
