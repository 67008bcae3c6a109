package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

const TaskSessionsCleanup = "sessions.cleanup"

// SessionCleaner removes expired sessions in process.
type SessionCleaner interface {
	CleanupExpiredSessions(ctx context.Context) (int64, error)
}

// Scheduler triggers the periodic session sweep. The local cleaner runs on every
// tick for state only this process can reach; with a queue a task is also
// enqueued so the worker sweeps the persistent store.
type Scheduler struct {
	cron   *cron.Cron
	queue  redis.UniversalClient
	stream string
	spec   string
	local  SessionCleaner
	log    zerolog.Logger
}

func NewScheduler(queue redis.UniversalClient, stream, spec string, local SessionCleaner, log zerolog.Logger) *Scheduler {
	c := cron.New(cron.WithSeconds())
	return &Scheduler{
		cron:   c,
		queue:  queue,
		stream: stream,
		spec:   spec,
		local:  local,
		log:    log,
	}
}

func (s *Scheduler) Start() error {
	if s.queue == nil && s.local == nil {
		return nil
	}

	if _, err := s.cron.AddFunc(s.spec, s.runCleanup); err != nil {
		return fmt.Errorf("schedule cleanup %q: %w", s.spec, err)
	}

	s.cron.Start()
	return nil
}

func (s *Scheduler) Stop() context.CancelFunc {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	go func() {
		<-s.cron.Stop().Done()
		cancel()
	}()
	<-ctx.Done()
	return cancel
}

func (s *Scheduler) runCleanup() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	if s.local != nil {
		if _, err := s.local.CleanupExpiredSessions(ctx); err != nil {
			s.log.Error().Err(err).Msg("session cleanup failed")
		}
	}

	if s.queue == nil {
		return
	}
	if err := s.EnqueueCleanup(ctx); err != nil {
		s.log.Error().Err(err).Msg("enqueue cleanup failed")
	}
}

// EnqueueCleanup adds a sessions.cleanup task to the stream.
func (s *Scheduler) EnqueueCleanup(ctx context.Context) error {
	return s.enqueueTask(ctx, map[string]any{
		"type": TaskSessionsCleanup,
	})
}

func (s *Scheduler) enqueueTask(ctx context.Context, payload map[string]any) error {
	if s.queue == nil {
		return nil
	}
	_, err := s.queue.XAdd(ctx, &redis.XAddArgs{
		Stream: s.stream,
		Values: payload,
	}).Result()
	return err
}
