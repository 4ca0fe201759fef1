package service

import (
	"sync"

	"garage-bridge/internal/domain/model"
)

// Slot holds one observable characteristic value. Listeners run only when
// the value actually changed, in write order: a write and its notifications
// complete before the next write is applied. Listeners may read the slot but
// must not write to it.
type Slot[T comparable] struct {
	dispatch  sync.Mutex // held across a write and its listener calls
	mu        sync.RWMutex
	value     T
	listeners []func(old, new T, origin model.Origin)
}

func NewSlot[T comparable](initial T) *Slot[T] {
	return &Slot[T]{value: initial}
}

func (s *Slot[T]) Value() T {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.value
}

// Set stores v and reports whether it differed from the previous value.
func (s *Slot[T]) Set(v T, origin model.Origin) bool {
	s.dispatch.Lock()
	defer s.dispatch.Unlock()

	s.mu.Lock()
	old := s.value
	if old == v {
		s.mu.Unlock()
		return false
	}
	s.value = v
	listeners := make([]func(old, new T, origin model.Origin), len(s.listeners))
	copy(listeners, s.listeners)
	s.mu.Unlock()

	for _, fn := range listeners {
		fn(old, v, origin)
	}
	return true
}

func (s *Slot[T]) OnChange(fn func(old, new T, origin model.Origin)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}
