package domain

import (
	"sync"
)

// Owner holds one document and serializes changes to it.
//
// Observers are called after every change, in change order, with the lock
// on the document released so they may read it. Observers must not mutate
// the owner they observe.
type Owner[T any] struct {
	mu  sync.Mutex
	doc T

	// writeMu serializes Mutate calls, notifications included, so
	// observers see changes in order.
	writeMu   sync.Mutex
	observers map[int]func(T)
	nextID    int
}

// NewOwner creates an owner holding initial.
func NewOwner[T any](initial T) *Owner[T] {
	return &Owner[T]{
		doc:       initial,
		observers: make(map[int]func(T)),
	}
}

// Snapshot returns the current document. Slices in it are shared with the
// owner and must be treated as read-only.
func (o *Owner[T]) Snapshot() T {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.doc
}

// Replace swaps in doc and notifies observers.
func (o *Owner[T]) Replace(doc T) {
	o.Mutate(func(T) (T, bool) { return doc, true })
}

// Mutate applies fn to the current document. fn returns the new document
// and whether anything changed; observers are only notified on change.
func (o *Owner[T]) Mutate(fn func(T) (T, bool)) bool {
	o.writeMu.Lock()
	defer o.writeMu.Unlock()

	o.mu.Lock()
	next, changed := fn(o.doc)
	if !changed {
		o.mu.Unlock()
		return false
	}
	o.doc = next
	observers := make([]func(T), 0, len(o.observers))
	for _, obs := range o.observers {
		observers = append(observers, obs)
	}
	o.mu.Unlock()

	for _, obs := range observers {
		obs(next)
	}
	return true
}

// Observe registers fn for change notifications. The returned function
// removes it.
func (o *Owner[T]) Observe(fn func(T)) (cancel func()) {
	o.mu.Lock()
	defer o.mu.Unlock()
	id := o.nextID
	o.nextID++
	o.observers[id] = fn
	return func() {
		o.mu.Lock()
		defer o.mu.Unlock()
		delete(o.observers, id)
	}
}
