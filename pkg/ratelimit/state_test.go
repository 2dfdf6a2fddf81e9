package ratelimit

import (
	"sync"
	"testing"
	"time"
)

func TestState_TooManyRequests(t *testing.T) {
	s := NewState()
	if s.TooManyRequests() {
		t.Fatal("new state should not be rate limited")
	}

	s.SetTooManyRequests(true)
	if !s.TooManyRequests() {
		t.Error("TooManyRequests() = false after SetTooManyRequests(true)")
	}

	s.SetTooManyRequests(false)
	if s.TooManyRequests() {
		t.Error("TooManyRequests() = true after SetTooManyRequests(false)")
	}
}

func TestState_LastFailure(t *testing.T) {
	s := NewState()
	if _, ok := s.LastFailure(); ok {
		t.Fatal("new state should have no last failure")
	}

	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	s.MarkFailure(at)

	got, ok := s.LastFailure()
	if !ok {
		t.Fatal("LastFailure() not recorded")
	}
	if !got.Equal(at) {
		t.Errorf("LastFailure() = %v, want %v", got, at)
	}

	status := s.Status()
	if status.LastFailure == nil || !status.LastFailure.Equal(at) {
		t.Errorf("Status().LastFailure = %v, want %v", status.LastFailure, at)
	}
}

func TestState_ConcurrentAccess(t *testing.T) {
	s := NewState()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s.SetTooManyRequests(i%2 == 0)
			s.MarkFailure(time.Now())
			_ = s.Status()
		}(i)
	}
	wg.Wait()

	if _, ok := s.LastFailure(); !ok {
		t.Error("expected a recorded failure")
	}
}
