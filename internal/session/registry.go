package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pavelanni/examprep/internal/model"
)

// Registry holds independent sessions keyed by id. Sessions share no mutable
// state; the registry lock only guards the map.
type Registry struct {
	deps     Deps
	defaults model.ExamConfig
	now      func() time.Time

	mu       sync.RWMutex
	sessions map[uuid.UUID]*entry
}

type entry struct {
	c        *Controller
	lastSeen time.Time
}

// NewRegistry returns an empty registry whose sessions start with defaults.
func NewRegistry(deps Deps, defaults model.ExamConfig) *Registry {
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	return &Registry{
		deps:     deps,
		defaults: defaults,
		now:      now,
		sessions: make(map[uuid.UUID]*entry),
	}
}

// Create registers a new session for an existing resource.
func (r *Registry) Create(ctx context.Context, resourceID string) (uuid.UUID, *Controller, error) {
	if _, err := r.deps.Store.GetResource(ctx, resourceID); err != nil {
		return uuid.Nil, nil, fmt.Errorf("create session: %w", err)
	}

	id := uuid.New()
	c := New(resourceID, r.defaults, r.deps)
	c.log = c.log.With("session_id", id)

	r.mu.Lock()
	r.sessions[id] = &entry{c: c, lastSeen: r.now()}
	r.mu.Unlock()

	slog.Info("session created", "session_id", id, "resource_id", resourceID)
	return id, c, nil
}

// Get returns the session with the given id and marks it as recently used.
func (r *Registry) Get(id uuid.UUID) (*Controller, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.sessions[id]
	if !ok {
		return nil, model.ErrSessionNotFound
	}
	e.lastSeen = r.now()
	return e.c, nil
}

// Delete abandons and removes a session.
func (r *Registry) Delete(id uuid.UUID) error {
	r.mu.Lock()
	e, ok := r.sessions[id]
	delete(r.sessions, id)
	r.mu.Unlock()

	if !ok {
		return model.ErrSessionNotFound
	}
	e.c.Close()
	slog.Info("session deleted", "session_id", id)
	return nil
}

// Len returns the number of registered sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Sweep removes sessions that have not been looked up for longer than ttl
// and returns how many it dropped. Only sessions in Setup or Results with no
// generation in flight are eligible; an Active session ends on its own clock
// first and is swept once its results have gone unread for ttl.
func (r *Registry) Sweep(ttl time.Duration) int {
	cutoff := r.now().Add(-ttl)

	var stale []*Controller
	r.mu.Lock()
	for id, e := range r.sessions {
		if !e.lastSeen.Before(cutoff) {
			continue
		}
		st := e.c.State()
		if st.Generating || st.Phase == model.PhaseActive {
			continue
		}
		delete(r.sessions, id)
		stale = append(stale, e.c)
		slog.Info("session expired", "session_id", id, "phase", st.Phase, "idle", r.now().Sub(e.lastSeen))
	}
	r.mu.Unlock()

	for _, c := range stale {
		c.Close()
	}
	return len(stale)
}

// SweepEvery runs Sweep on every interval until ctx is done.
func (r *Registry) SweepEvery(ctx context.Context, interval, ttl time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if n := r.Sweep(ttl); n > 0 {
				slog.Debug("idle sessions swept", "count", n, "remaining", r.Len())
			}
		}
	}
}

// CloseAll abandons every session, stopping their clocks.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	sessions := r.sessions
	r.sessions = make(map[uuid.UUID]*entry)
	r.mu.Unlock()

	for _, e := range sessions {
		e.c.Close()
	}
}
