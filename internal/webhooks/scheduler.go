package webhooks

import (
	"sync"
	"time"
)

// Scheduler runs f once after d and reports whether f was armed.
// Implementations need not survive restarts.
type Scheduler interface {
	AfterFunc(d time.Duration, f func()) bool
}

// TimerScheduler arms in-process timers. Anything still pending when the
// process exits is lost.
type TimerScheduler struct {
	mu      sync.Mutex
	timers  map[*time.Timer]struct{}
	stopped bool
}

func NewTimerScheduler() *TimerScheduler {
	return &TimerScheduler{timers: map[*time.Timer]struct{}{}}
}

// AfterFunc arms f. It returns false once Stop has been called.
func (s *TimerScheduler) AfterFunc(d time.Duration, f func()) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return false
	}
	var t *time.Timer
	t = time.AfterFunc(d, func() {
		s.mu.Lock()
		delete(s.timers, t)
		s.mu.Unlock()
		f()
	})
	s.timers[t] = struct{}{}
	return true
}

// Pending returns the number of armed timers.
func (s *TimerScheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

// Stop cancels every pending timer and refuses new ones. It returns how many
// scheduled callbacks were dropped.
func (s *TimerScheduler) Stop() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	dropped := 0
	for t := range s.timers {
		if t.Stop() {
			dropped++
		}
		delete(s.timers, t)
	}
	return dropped
}
