package harness

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Session is one running instance of the target application.
//
// The Session is the only owner of its App: nothing else may terminate the
// process except Session.Close. Close is idempotent so it can sit in a defer
// on every exit path.
type Session struct {
	id  string
	app App

	mu       sync.Mutex
	state    State
	surfaces []Surface
}

func newSession(id string, app App) *Session {
	return &Session{id: id, app: app, state: StateLaunching}
}

// ID returns the session id.
func (s *Session) ID() string {
	return s.id
}

// PID returns the process id of the owned application.
func (s *Session) PID() int {
	return s.app.PID()
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateClosed {
		return
	}
	s.state = st
}

// acquire polls the application until it exposes at least one surface and
// returns the first one. Returns ctx.Err() when ctx ends first.
func (s *Session) acquire(ctx context.Context, poll time.Duration) (Surface, error) {
	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	for {
		surfaces, err := s.app.Surfaces(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, err
		}
		if len(surfaces) > 0 {
			s.mu.Lock()
			s.surfaces = surfaces
			s.mu.Unlock()
			return surfaces[0], nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// Close tears the application down. Errors are logged, not returned.
func (s *Session) Close(logger *slog.Logger) {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return
	}
	s.state = StateClosed
	s.surfaces = nil
	s.mu.Unlock()

	if err := s.app.Close(); err != nil {
		logger.Warn("app close failed", "error", err)
	}
}
