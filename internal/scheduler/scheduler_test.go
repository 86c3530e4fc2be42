package scheduler

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestJobsRunOneAtATime(t *testing.T) {
	s := New(zerolog.Nop())

	var running, maxSeen int32
	task := func() {
		n := atomic.AddInt32(&running, 1)
		for {
			seen := atomic.LoadInt32(&maxSeen)
			if n <= seen || atomic.CompareAndSwapInt32(&maxSeen, seen, n) {
				break
			}
		}
		time.Sleep(30 * time.Millisecond)
		atomic.AddInt32(&running, -1)
	}

	if _, err := s.Register("first", 10*time.Millisecond, task); err != nil {
		t.Fatalf("register first: %v", err)
	}
	if _, err := s.Register("second", 10*time.Millisecond, task); err != nil {
		t.Fatalf("register second: %v", err)
	}

	s.Start()
	time.Sleep(300 * time.Millisecond)
	s.Stop()

	if got := atomic.LoadInt32(&maxSeen); got > 1 {
		t.Fatalf("observed %d jobs running concurrently, want at most 1", got)
	}
}

func TestPanickingJobKeepsTimerAlive(t *testing.T) {
	s := New(zerolog.Nop())

	var runs int32
	if _, err := s.Register("flaky", 10*time.Millisecond, func() {
		atomic.AddInt32(&runs, 1)
		panic("boom")
	}); err != nil {
		t.Fatalf("register: %v", err)
	}

	s.Start()
	time.Sleep(150 * time.Millisecond)
	s.Stop()

	if got := atomic.LoadInt32(&runs); got < 2 {
		t.Fatalf("job ran %d times, want it rescheduled after panicking", got)
	}
}
