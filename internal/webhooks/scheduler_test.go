package webhooks

import (
	"testing"
	"time"
)

func TestTimerSchedulerFires(t *testing.T) {
	s := NewTimerScheduler()
	fired := make(chan struct{})
	s.AfterFunc(10*time.Millisecond, func() { close(fired) })
	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("timer did not fire")
	}
	deadline := time.Now().Add(time.Second)
	for s.Pending() != 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if s.Pending() != 0 {
		t.Fatalf("fired timer still tracked: %d", s.Pending())
	}
}

func TestTimerSchedulerStopDropsPending(t *testing.T) {
	s := NewTimerScheduler()
	fired := make(chan struct{}, 2)
	s.AfterFunc(time.Hour, func() { fired <- struct{}{} })
	s.AfterFunc(time.Hour, func() { fired <- struct{}{} })
	if s.Pending() != 2 {
		t.Fatalf("want 2 pending, got %d", s.Pending())
	}
	if dropped := s.Stop(); dropped != 2 {
		t.Fatalf("want 2 dropped, got %d", dropped)
	}
	if s.AfterFunc(time.Millisecond, func() { fired <- struct{}{} }) {
		t.Fatal("AfterFunc after Stop should report refusal")
	}
	select {
	case <-fired:
		t.Fatal("no callback should run after Stop")
	case <-time.After(50 * time.Millisecond):
	}
}
