package agent

import (
	"context"
	"errors"
	"sync"
	"time"
)

// DefaultIdleTimeout is how long a session may sit unused before the
// registry forgets it.
const DefaultIdleTimeout = 30 * time.Minute

type registryEntry struct {
	// session is the live session.
	session *Session
	// lastSeen is refreshed on every lookup and drives idle eviction.
	lastSeen time.Time
}

// Registry keeps live sessions in memory for the HTTP server. Sessions idle
// longer than the configured timeout are evicted; a later request for an
// evicted id resumes it from the conversation store when one is configured.
type Registry struct {
	// agent opens and resumes sessions.
	agent *Agent
	// idle is how long an unused session stays in memory.
	idle time.Duration

	// mu guards sessions.
	mu sync.Mutex
	// sessions maps a session ID to its entry.
	sessions map[string]*registryEntry
}

// NewRegistry returns a Registry and a stop function that halts the eviction
// goroutine. idle <= 0 selects DefaultIdleTimeout.
func NewRegistry(a *Agent, idle time.Duration) (*Registry, func()) {
	if idle <= 0 {
		idle = DefaultIdleTimeout
	}
	r := &Registry{
		agent:    a,
		idle:     idle,
		sessions: make(map[string]*registryEntry),
	}
	done := make(chan struct{})
	go r.evictLoop(done)
	var once sync.Once
	return r, func() { once.Do(func() { close(done) }) }
}

// Create opens a new session, greets the visitor and tracks the session.
func (r *Registry) Create(ctx context.Context) (*Session, string, error) {
	s, err := r.agent.Open(ctx, "")
	if err != nil {
		return nil, "", err
	}
	greeting := s.Greet(ctx)

	r.mu.Lock()
	r.sessions[s.ID] = &registryEntry{session: s, lastSeen: time.Now()}
	r.mu.Unlock()
	return s, greeting, nil
}

// Get returns the live session for id, resuming it from storage if it was
// evicted. It returns ErrSessionNotFound when neither is possible.
func (r *Registry) Get(ctx context.Context, id string) (*Session, error) {
	r.mu.Lock()
	if e, ok := r.sessions[id]; ok {
		e.lastSeen = time.Now()
		r.mu.Unlock()
		return e.session, nil
	}
	r.mu.Unlock()

	s, err := r.agent.Resume(ctx, id)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	// A concurrent Get may have resumed the same id first.
	if e, ok := r.sessions[id]; ok {
		e.lastSeen = time.Now()
		return e.session, nil
	}
	r.sessions[id] = &registryEntry{session: s, lastSeen: time.Now()}
	return s, nil
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// IsNotFound reports whether err means the session does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrSessionNotFound)
}

func (r *Registry) evictLoop(done <-chan struct{}) {
	interval := r.idle / 2
	if interval > time.Minute {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			r.evictIdle(time.Now())
		}
	}
}

func (r *Registry) evictIdle(now time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for id, e := range r.sessions {
		if now.Sub(e.lastSeen) > r.idle {
			delete(r.sessions, id)
			n++
		}
	}
	return n
}
