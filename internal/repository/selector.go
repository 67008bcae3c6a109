package repository

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"portalauth/internal/config"
)

// Selection is the backend chosen for one auth call.
type Selection struct {
	Backend Backend
	// Fallback is true when Backend is the in-memory store. Demo shortcuts are
	// gated on it.
	Fallback bool
}

// Selector picks the credential store for each call. In auto mode the primary is
// probed on every call and any probe failure or timeout selects the fallback; the
// decision is never cached.
type Selector struct {
	mode         config.StoreMode
	primary      Backend
	fallback     Backend
	probeTimeout time.Duration
	log          zerolog.Logger
	onFallback   func()
}

func NewSelector(mode config.StoreMode, primary Backend, fallback Backend, probeTimeout time.Duration, log zerolog.Logger) *Selector {
	if probeTimeout <= 0 {
		probeTimeout = 500 * time.Millisecond
	}
	return &Selector{
		mode:         mode,
		primary:      primary,
		fallback:     fallback,
		probeTimeout: probeTimeout,
		log:          log,
	}
}

// OnFallback registers a hook run each time auto mode falls back.
func (s *Selector) OnFallback(fn func()) {
	s.onFallback = fn
}

func (s *Selector) Select(ctx context.Context) Selection {
	switch s.mode {
	case config.StoreModeMemory:
		return Selection{Backend: s.fallback, Fallback: true}
	case config.StoreModeAuto:
		return s.probe(ctx)
	default:
		return Selection{Backend: s.primary}
	}
}

// Primary returns the persistent backend, or the fallback when none is configured.
func (s *Selector) Primary() Backend {
	if s.primary == nil {
		return s.fallback
	}
	return s.primary
}

// Fallback returns the in-memory backend.
func (s *Selector) Fallback() Backend {
	return s.fallback
}

func (s *Selector) probe(ctx context.Context) Selection {
	if s.primary == nil {
		return Selection{Backend: s.fallback, Fallback: true}
	}

	probeCtx, cancel := context.WithTimeout(ctx, s.probeTimeout)
	defer cancel()

	if err := s.primary.Ping(probeCtx); err != nil {
		s.log.Warn().
			Err(err).
			Str("backend", s.primary.Name()).
			Msg("credential store unreachable, using in-memory fallback")
		if s.onFallback != nil {
			s.onFallback()
		}
		return Selection{Backend: s.fallback, Fallback: true}
	}
	return Selection{Backend: s.primary}
}
