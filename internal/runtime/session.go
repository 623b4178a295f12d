package runtime

import (
	"sync"
	"time"
)

// Session is the process-wide negotiation state shared by the poll loop
// and the control surface: letters already dispatched, the cooldown
// deadline and the time of the last broadcast cycle. Nothing is persisted.
type Session struct {
	mu              sync.Mutex
	seen            map[string]struct{}
	cooldownUntil   time.Time
	lastBroadcastAt time.Time
	now             func() time.Time
}

type SessionSnapshot struct {
	Seen            int       `json:"seen"`
	CooldownUntil   time.Time `json:"cooldown_until"`
	LastBroadcastAt time.Time `json:"last_broadcast_at"`
	InCooldown      bool      `json:"in_cooldown"`
}

func NewSession() *Session {
	return &Session{seen: map[string]struct{}{}, now: time.Now}
}

// Seed marks pre-existing letters as seen so history is never replayed.
func (s *Session) Seed(ids []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		s.seen[id] = struct{}{}
	}
}

// MarkSeen marks id seen and reports whether it was new. Exactly one
// caller gets true for a given id.
func (s *Session) MarkSeen(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.seen[id]; ok {
		return false
	}
	s.seen[id] = struct{}{}
	return true
}

func (s *Session) hasSeen(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.seen[id]
	return ok
}

func (s *Session) StartCooldown(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cooldownUntil = s.now().Add(d)
}

func (s *Session) InCooldown() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.now().Before(s.cooldownUntil)
}

func (s *Session) MarkBroadcast() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastBroadcastAt = s.now()
}

// BroadcastDue reports whether every has elapsed since the last cycle.
// It is true when no cycle has run yet.
func (s *Session) BroadcastDue(every time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastBroadcastAt.IsZero() {
		return true
	}
	return !s.now().Before(s.lastBroadcastAt.Add(every))
}

func (s *Session) Snapshot() SessionSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return SessionSnapshot{
		Seen:            len(s.seen),
		CooldownUntil:   s.cooldownUntil,
		LastBroadcastAt: s.lastBroadcastAt,
		InCooldown:      s.now().Before(s.cooldownUntil),
	}
}
