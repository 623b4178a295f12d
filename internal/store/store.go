package store

import (
	"sync"
	"time"
)

// DefaultLimit bounds the journal when New is given no limit.
const DefaultLimit = 200

// Outcome records what happened to one dispatched letter or manual accept.
type Outcome struct {
	LetterID string         `json:"letter_id,omitempty"`
	Sender   string         `json:"sender,omitempty"`
	Subject  string         `json:"subject,omitempty"`
	Kind     string         `json:"kind,omitempty"`
	Action   string         `json:"action"`
	Status   string         `json:"status"`
	Package  map[string]int `json:"package,omitempty"`
	Error    string         `json:"error,omitempty"`
	At       time.Time      `json:"at"`
}

// Store is an in-memory journal of recent outcomes. Appends fan out to
// subscribers without blocking: a subscriber whose buffer is full misses
// the outcome.
type Store struct {
	mu       sync.Mutex
	limit    int
	outcomes []Outcome
	subs     map[int]chan Outcome
	nextSub  int
	now      func() time.Time
}

func New(limit int) *Store {
	if limit <= 0 {
		limit = DefaultLimit
	}
	return &Store{
		limit:    limit,
		outcomes: []Outcome{},
		subs:     map[int]chan Outcome{},
		now:      time.Now,
	}
}

func (s *Store) Add(o Outcome) Outcome {
	s.mu.Lock()
	defer s.mu.Unlock()
	if o.At.IsZero() {
		o.At = s.now().UTC()
	}
	s.outcomes = append(s.outcomes, o)
	if len(s.outcomes) > s.limit {
		s.outcomes = s.outcomes[len(s.outcomes)-s.limit:]
	}
	for _, ch := range s.subs {
		select {
		case ch <- o:
		default:
		}
	}
	return o
}

// Recent returns up to n outcomes, oldest first. n <= 0 returns all.
func (s *Store) Recent(n int) []Outcome {
	s.mu.Lock()
	defer s.mu.Unlock()
	start := 0
	if n > 0 && len(s.outcomes) > n {
		start = len(s.outcomes) - n
	}
	out := make([]Outcome, len(s.outcomes)-start)
	copy(out, s.outcomes[start:])
	return out
}

func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.outcomes)
}

// Subscribe registers a listener for new outcomes. The returned cancel
// func closes the channel and must be called once.
func (s *Store) Subscribe(buffer int) (<-chan Outcome, func()) {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan Outcome, buffer)
	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = ch
	s.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs, id)
			s.mu.Unlock()
			close(ch)
		})
	}
}
