package itemstack

import (
	"errors"
	"sync"
)

// ErrEmpty reports a pop on an empty stack: a finish call without a
// matching start.
var ErrEmpty = errors.New("itemstack: no open item")

// Stack is a lock-protected LIFO of open item handles.
type Stack[T any] struct {
	mu    sync.Mutex
	items []T
}

// Push adds handle on top of the stack.
func (s *Stack[T]) Push(handle T) {
	s.mu.Lock()
	s.items = append(s.items, handle)
	s.mu.Unlock()
}

// Pop removes and returns the top handle. Returns ErrEmpty when no item is
// open.
func (s *Stack[T]) Pop() (T, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.items) == 0 {
		var zero T
		return zero, ErrEmpty
	}
	top := s.items[len(s.items)-1]
	s.items = s.items[:len(s.items)-1]
	return top, nil
}

// Peek returns the top handle without removing it. ok is false when the
// stack is empty.
func (s *Stack[T]) Peek() (T, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.items) == 0 {
		var zero T
		return zero, false
	}
	return s.items[len(s.items)-1], true
}

// Len returns the number of open items.
func (s *Stack[T]) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

// Registry holds one stack per execution-context key. Unrelated item
// hierarchies running concurrently never interleave because each key gets
// its own stack.
type Registry[T any] struct {
	mu     sync.Mutex
	stacks map[string]*Stack[T]
}

// NewRegistry returns an empty Registry.
func NewRegistry[T any]() *Registry[T] {
	return &Registry[T]{stacks: make(map[string]*Stack[T])}
}

// ForContext returns the stack for key, creating it on first use.
func (r *Registry[T]) ForContext(key string) *Stack[T] {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.stacks[key]
	if !ok {
		st = &Stack[T]{}
		r.stacks[key] = st
	}
	return st
}

// Drop removes the stack for key, typically once its context finishes.
func (r *Registry[T]) Drop(key string) {
	r.mu.Lock()
	delete(r.stacks, key)
	r.mu.Unlock()
}
