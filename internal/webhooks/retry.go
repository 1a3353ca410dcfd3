package webhooks

import "time"

// State is the lifecycle position of one delivery pipeline.
type State int

const (
	StatePending State = iota
	StateAttempting
	StateScheduled
	StateSucceeded
	StateExhausted
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateAttempting:
		return "attempting"
	case StateScheduled:
		return "scheduled"
	case StateSucceeded:
		return "succeeded"
	case StateExhausted:
		return "exhausted"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further attempt follows.
func (s State) Terminal() bool { return s == StateSucceeded || s == StateExhausted }

// RetryPolicy decides what follows an attempt. Attempts are 0-indexed, so
// MaxRetries=3 allows four attempts in total.
type RetryPolicy struct {
	MaxRetries int
	BaseDelay  time.Duration
}

// DefaultRetryPolicy retries after 1s, 2s and 4s.
var DefaultRetryPolicy = RetryPolicy{MaxRetries: 3, BaseDelay: time.Second}

// Next returns the state after attempt finished, and the delay before the
// next attempt when that state is StateScheduled.
func (p RetryPolicy) Next(attempt int, success bool) (State, time.Duration) {
	if success {
		return StateSucceeded, 0
	}
	if attempt < p.MaxRetries {
		return StateScheduled, p.Delay(attempt)
	}
	return StateExhausted, 0
}

// Delay is 2^attempt * BaseDelay.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	return p.BaseDelay << uint(attempt)
}
