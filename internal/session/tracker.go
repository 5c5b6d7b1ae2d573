package session

import "sync"

// Attachment records which session and role a live connection is bound to.
type Attachment struct {
	SessionID string
	Role      Role
}

// ConnTracker is the single source of truth for "which session is this
// connection in". Inbound messages carry the session id redundantly, but
// routing decisions use the tracker so a connection cannot spoof its way
// into another session's slot.
type ConnTracker struct {
	mu    sync.RWMutex
	conns map[string]Attachment
}

// NewConnTracker creates an empty tracker.
func NewConnTracker() *ConnTracker {
	return &ConnTracker{conns: make(map[string]Attachment)}
}

// Attach binds connID to (sessionID, role). Re-attaching an already-tracked
// connection overwrites the previous binding; last writer wins.
func (t *ConnTracker) Attach(connID, sessionID string, role Role) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.conns[connID] = Attachment{SessionID: sessionID, Role: role}
}

// Detach removes the binding for connID and returns it.
func (t *ConnTracker) Detach(connID string) (Attachment, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	a, ok := t.conns[connID]
	if ok {
		delete(t.conns, connID)
	}
	return a, ok
}

// SessionOf returns the binding for connID without removing it.
func (t *ConnTracker) SessionOf(connID string) (Attachment, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	a, ok := t.conns[connID]
	return a, ok
}
