// Package session tracks the mapping from a conversation key to its backend
// session. The registry is process-memory only; nothing survives a restart.
package session

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	// DefaultTTL is how long an idle conversation keeps its session.
	DefaultTTL = time.Hour

	// DefaultSweepInterval is how often expired entries are swept.
	DefaultSweepInterval = 5 * time.Minute
)

// Session is one live conversation's backend state.
type Session struct {
	// ID is the backend session identifier, stable for the
	// conversation's lifetime.
	ID string

	// TurnCount increments once per completed exchange.
	TurnCount int

	// MessageCount is the total number of inbound messages observed.
	MessageCount int

	// LastActivity drives TTL expiry.
	LastActivity time.Time
}

// Tracker is the concurrent session registry. One lock guards the whole
// map; every operation is O(1) map access, so contention stays cheap.
type Tracker struct {
	mu       sync.Mutex
	sessions map[string]*Session
	ttl      time.Duration

	done     chan struct{}
	stopOnce sync.Once

	// now is swappable in tests.
	now func() time.Time
}

// NewTracker starts a tracker with its periodic sweep. Shutdown must be
// called to stop the sweep.
func NewTracker(ttl, sweepInterval time.Duration) *Tracker {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if sweepInterval <= 0 {
		sweepInterval = DefaultSweepInterval
	}

	t := &Tracker{
		sessions: make(map[string]*Session),
		ttl:      ttl,
		done:     make(chan struct{}),
		now:      time.Now,
	}
	go t.sweepLoop(sweepInterval)
	return t
}

// Lookup returns the session for key if it exists and has not expired.
// Expiry is enforced here, on read: the sweep is an optimization, never the
// correctness mechanism, so a stale entry is evicted the moment it is seen.
func (t *Tracker) Lookup(key string) (Session, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	sess, ok := t.sessions[key]
	if !ok {
		return Session{}, false
	}
	if t.now().Sub(sess.LastActivity) > t.ttl {
		delete(t.sessions, key)
		return Session{}, false
	}
	return *sess, true
}

// Create inserts a zeroed session under key with a fresh identifier. Two
// racing first turns for the same brand-new key resolve to last writer
// wins; callers are expected to Lookup first.
func (t *Tracker) Create(key string) Session {
	t.mu.Lock()
	defer t.mu.Unlock()

	sess := &Session{
		ID:           uuid.NewString(),
		LastActivity: t.now(),
	}
	t.sessions[key] = sess
	return *sess
}

// Touch records a completed exchange: bumps the turn counter, adds messages
// to the message counter, and refreshes the activity timestamp. Absent keys
// are a no-op.
func (t *Tracker) Touch(key string, messages int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	sess, ok := t.sessions[key]
	if !ok {
		return
	}
	sess.TurnCount++
	sess.MessageCount += messages
	sess.LastActivity = t.now()
}

// Delete removes key unconditionally. Used when the backend reports the
// remembered session gone on its side, so the next request starts clean.
func (t *Tracker) Delete(key string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.sessions, key)
}

// Len returns the current entry count. Expired-but-unswept entries are
// included, so between sweeps this is an upper bound on live sessions.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.sessions)
}

// All returns a snapshot of every tracked session keyed by conversation.
func (t *Tracker) All() map[string]Session {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make(map[string]Session, len(t.sessions))
	for key, sess := range t.sessions {
		out[key] = *sess
	}
	return out
}

// Shutdown stops the periodic sweep. Safe to call more than once.
func (t *Tracker) Shutdown() {
	t.stopOnce.Do(func() {
		close(t.done)
	})
}

func (t *Tracker) sweepLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-t.done:
			return
		case <-ticker.C:
			if removed := t.sweep(); removed > 0 {
				slog.Debug("swept expired sessions", "removed", removed)
			}
		}
	}
}

func (t *Tracker) sweep() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	removed := 0
	for key, sess := range t.sessions {
		if now.Sub(sess.LastActivity) > t.ttl {
			delete(t.sessions, key)
			removed++
		}
	}
	return removed
}
