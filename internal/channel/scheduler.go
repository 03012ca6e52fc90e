package channel

import (
	"sync"
	"time"
)

// scheduler holds at most one pending task. Scheduling a new task replaces
// the pending one; a replaced or cancelled task never runs, even if its
// timer already fired.
type scheduler struct {
	mu    sync.Mutex
	gen   uint64
	timer *time.Timer
}

// schedule runs fn after d unless it is replaced or cancelled first.
func (s *scheduler) schedule(d time.Duration, fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked()
	s.gen++
	gen := s.gen
	s.timer = time.AfterFunc(d, func() {
		if s.claim(gen) {
			fn()
		}
	})
}

// cancel drops the pending task, if any.
func (s *scheduler) cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked()
	s.gen++
}

// pending reports whether a task is waiting to run.
func (s *scheduler) pending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.timer != nil
}

func (s *scheduler) claim(gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.gen {
		return false
	}
	s.timer = nil
	return true
}

func (s *scheduler) stopLocked() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}
