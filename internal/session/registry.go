package session

import (
	"log/slog"
	"sync"
	"time"
)

// Registry owns the sessionId -> Session map. It is constructed once per
// process and injected into every handler; there are no package-level
// singletons. The registry lock guards only the map itself; per-session
// mutation takes the session's own lock so sessions do not contend.
type Registry struct {
	logger *slog.Logger
	now    func() time.Time

	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewRegistry creates an empty registry. now may be nil, in which case
// time.Now is used; tests inject a fake clock.
func NewRegistry(logger *slog.Logger, now func() time.Time) *Registry {
	if now == nil {
		now = time.Now
	}
	return &Registry{
		logger:   logger,
		now:      now,
		sessions: make(map[string]*Session),
	}
}

// CreateOrGet returns the session for id, creating it in waiting status if
// absent. Idempotent; never fails. Session ids are client-chosen meeting
// codes, so two parties that picked the same id deliberately end up in the
// same session. That merging is the pairing mechanism, not a collision bug.
func (r *Registry) CreateOrGet(id, doctorName, patientName string) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.sessions[id]; ok {
		return s
	}
	now := r.now()
	s := &Session{
		ID:           id,
		Doctor:       Participant{Name: doctorName},
		Patient:      Participant{Name: patientName},
		Status:       StatusWaiting,
		CreatedAt:    now,
		LastActivity: now,
	}
	r.sessions[id] = s
	r.logger.Info("session created", "session_id", id)
	return s
}

// Get returns the session for id.
func (r *Registry) Get(id string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	return s, ok
}

// ListAll returns every known session. Operational visibility only.
func (r *Registry) ListAll() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	return out
}

// AttachParticipant binds connID to the slot for role. Unrecognized role
// strings are coerced to patient at this boundary; the coercion is logged so
// malformed callers are visible.
func (r *Registry) AttachParticipant(id, role, name, connID string) (*Session, bool) {
	s, ok := r.Get(id)
	if !ok {
		return nil, false
	}
	normalized := NormalizeRole(role)
	if string(normalized) != role {
		r.logger.Warn("unrecognized role coerced to patient", "session_id", id, "role", role)
	}
	s.AttachConn(normalized, name, connID, r.now())
	return s, true
}

// DetachByConnection clears whichever slot references connID, in whatever
// session holds it. The session is not deleted; it stays re-joinable.
func (r *Registry) DetachByConnection(connID string) (string, *Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for id, s := range r.sessions {
		if _, ok := s.DetachConn(connID, r.now()); ok {
			return id, s, true
		}
	}
	return "", nil, false
}

// EndSession forcibly clears both connection references and marks the session
// ended. The session remains queryable until swept.
func (r *Registry) EndSession(id string) (*Session, bool) {
	s, ok := r.Get(id)
	if !ok {
		return nil, false
	}
	s.end(r.now())
	r.logger.Info("session ended", "session_id", id)
	return s, true
}

// SweepInactive removes sessions whose lastActivity age exceeds maxAge.
// Only ended sessions are eligible unless evictIdle is set, which also
// collects connectionless sessions that never ended (see config knob).
// Sessions with a live participant are never swept. Returns removed count.
func (r *Registry) SweepInactive(maxAge time.Duration, evictIdle bool) int {
	cutoff := r.now().Add(-maxAge)

	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for id, s := range r.sessions {
		if s.sweepable(cutoff, evictIdle) {
			delete(r.sessions, id)
			removed++
			r.logger.Info("session swept", "session_id", id)
		}
	}
	return removed
}
