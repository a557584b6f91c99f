package collect

import (
	"sync"
	"time"
)

const (
	DefaultSessionTTL  = 30 * time.Minute
	DefaultMaxSessions = 10000
)

// SessionStore keeps one Session per chat with a TTL. An abandoned
// conversation simply expires.
type SessionStore struct {
	mu sync.Mutex

	max int
	ttl time.Duration

	// expired entries are dropped lazily on read and by a periodic O(n)
	// sweep instead of on every call
	cleanupInterval time.Duration
	nextCleanup     time.Time

	now func() time.Time
	m   map[int64]sessionEntry
}

type sessionEntry struct {
	s   Session
	exp time.Time
}

func NewSessionStore(ttl time.Duration, max int) *SessionStore {
	s := &SessionStore{
		cleanupInterval: time.Minute,
		now:             time.Now,
		m:               map[int64]sessionEntry{},
	}
	s.Configure(ttl, max)
	return s
}

// Configure changes limits for sessions written from now on.
func (s *SessionStore) Configure(ttl time.Duration, max int) {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	if max <= 0 {
		max = DefaultMaxSessions
	}
	s.mu.Lock()
	s.ttl = ttl
	s.max = max
	if ttl < s.cleanupInterval {
		s.cleanupInterval = ttl
	}
	s.enforceMaxLocked()
	s.mu.Unlock()
}

func (s *SessionStore) Get(chatID int64) (Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	s.maybeCleanupLocked(now)

	e, ok := s.m[chatID]
	if !ok {
		return Session{}, false
	}
	if now.After(e.exp) {
		delete(s.m, chatID)
		return Session{}, false
	}
	return e.s, true
}

// Put stores sess and refreshes its TTL. An idle session is deleted.
func (s *SessionStore) Put(chatID int64, sess Session) {
	if sess.Stage == StageIdle {
		s.Delete(chatID)
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	s.maybeCleanupLocked(now)
	s.m[chatID] = sessionEntry{s: sess, exp: now.Add(s.ttl)}
	s.enforceMaxLocked()
}

func (s *SessionStore) Delete(chatID int64) {
	s.mu.Lock()
	delete(s.m, chatID)
	s.mu.Unlock()
}

// Len counts stored sessions, including expired ones not yet swept.
func (s *SessionStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.m)
}

func (s *SessionStore) maybeCleanupLocked(now time.Time) {
	if s.nextCleanup.IsZero() {
		s.nextCleanup = now.Add(s.cleanupInterval)
		return
	}
	if now.Before(s.nextCleanup) {
		return
	}
	for k, e := range s.m {
		if now.After(e.exp) {
			delete(s.m, k)
		}
	}
	s.nextCleanup = now.Add(s.cleanupInterval)
}

// enforceMaxLocked evicts the sessions closest to expiry.
func (s *SessionStore) enforceMaxLocked() {
	for s.max > 0 && len(s.m) > s.max {
		var victim int64
		var oldest time.Time
		first := true
		for k, e := range s.m {
			if first || e.exp.Before(oldest) {
				victim, oldest, first = k, e.exp, false
			}
		}
		delete(s.m, victim)
	}
}
