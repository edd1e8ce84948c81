package paper

import (
	"context"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// Slot holds the single current operation for one client. Starting a new
// operation cancels the previous one, so only the latest result is applied.
type Slot struct {
	mu     sync.Mutex
	seq    uint64
	cancel context.CancelFunc
}

// Begin cancels any operation still running in the slot and starts a new one.
// It returns the operation context, a token for Current and a release func
// that must be called when the operation ends.
func (s *Slot) Begin(ctx context.Context) (context.Context, uint64, func()) {
	opCtx, cancel := context.WithCancel(ctx)

	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	s.seq++
	token := s.seq
	s.cancel = cancel
	s.mu.Unlock()

	release := func() {
		s.mu.Lock()
		if s.seq == token {
			s.cancel = nil
		}
		s.mu.Unlock()
		cancel()
	}
	return opCtx, token, release
}

// Current reports whether token belongs to the latest operation.
func (s *Slot) Current(token uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.seq == token
}

// Sessions maps session ids to slots. Idle sessions expire.
type Sessions struct {
	mu    sync.Mutex
	slots *expirable.LRU[string, *Slot]
}

// NewSessions keeps up to size sessions, each for ttl after its last use.
func NewSessions(size int, ttl time.Duration) *Sessions {
	return &Sessions{slots: expirable.NewLRU[string, *Slot](size, nil, ttl)}
}

// Slot returns the slot for id, creating it on first use.
func (s *Sessions) Slot(id string) *Slot {
	s.mu.Lock()
	defer s.mu.Unlock()
	if slot, ok := s.slots.Get(id); ok {
		s.slots.Add(id, slot)
		return slot
	}
	slot := &Slot{}
	s.slots.Add(id, slot)
	return slot
}
