// Package notify delivers user-facing sync notifications, at most one per
// window for each source.
package notify

import (
	"log"
	"os"
	"sync"
	"time"
)

// DefaultWindow is the minimum spacing of notifications from one source.
const DefaultWindow = 5 * time.Second

// Level is the severity of a notification.
type Level string

const (
	LevelInfo  Level = "info"
	LevelError Level = "error"
)

// Notifier shows a message to the user.
type Notifier interface {
	Notify(level Level, message string)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(level Level, message string)

// Notify implements Notifier.
func (f NotifierFunc) Notify(level Level, message string) { f(level, message) }

// LogNotifier writes notifications to a logger.
type LogNotifier struct {
	Logger *log.Logger
}

// Notify implements Notifier.
func (n LogNotifier) Notify(level Level, message string) {
	logger := n.Logger
	if logger == nil {
		logger = log.New(os.Stderr, "[notify] ", log.LstdFlags)
	}
	logger.Printf("%s: %s", level, message)
}

// Limiter allows one event per window for each key.
type Limiter struct {
	window time.Duration
	now    func() time.Time

	mu   sync.Mutex
	last map[string]time.Time
}

// NewLimiter creates a limiter. A non-positive window uses DefaultWindow; a
// nil now uses time.Now.
func NewLimiter(window time.Duration, now func() time.Time) *Limiter {
	if window <= 0 {
		window = DefaultWindow
	}
	if now == nil {
		now = time.Now
	}
	return &Limiter{window: window, now: now, last: make(map[string]time.Time)}
}

// Allow reports whether an event for key may go out now, and if so records
// it.
func (l *Limiter) Allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	t := l.now()
	if prev, ok := l.last[key]; ok && t.Sub(prev) <= l.window {
		return false
	}
	l.last[key] = t
	return true
}

// RateLimited forwards to a Notifier through a Limiter.
type RateLimited struct {
	next    Notifier
	limiter *Limiter
}

// NewRateLimited wraps next so each key notifies at most once per window.
func NewRateLimited(next Notifier, limiter *Limiter) *RateLimited {
	return &RateLimited{next: next, limiter: limiter}
}

// NotifyKey sends message unless key already notified within the window.
// It reports whether the message was sent.
func (r *RateLimited) NotifyKey(key string, level Level, message string) bool {
	if !r.limiter.Allow(key) {
		return false
	}
	r.next.Notify(level, message)
	return true
}
