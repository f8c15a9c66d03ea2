package throttle

import (
	"sync"
	"testing"
	"time"
)

type batchSink struct {
	mu      sync.Mutex
	batches [][]string
}

func (s *batchSink) emit(lines []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches = append(s.batches, append([]string(nil), lines...))
}

func (s *batchSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.batches)
}

func (s *batchSink) all() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, b := range s.batches {
		out = append(out, b...)
	}
	return out
}

func TestLineThrottleBatchesNoise(t *testing.T) {
	sink := &batchSink{}
	lt := NewLineThrottle(50*time.Millisecond, sink.emit)
	defer lt.Close()

	lt.Add("downloading 1%")
	lt.Add("downloading 2%")
	lt.Add("downloading 3%")

	if sink.count() != 0 {
		t.Fatal("noise lines emitted before window elapsed")
	}

	time.Sleep(120 * time.Millisecond)
	if sink.count() != 1 {
		t.Fatalf("batches = %d, want 1", sink.count())
	}
	if got := sink.all(); len(got) != 3 || got[0] != "downloading 1%" {
		t.Errorf("lines = %v", got)
	}
}

func TestLineThrottleMilestonePassesThrough(t *testing.T) {
	sink := &batchSink{}
	lt := NewLineThrottle(time.Hour, sink.emit)
	defer lt.Close()

	lt.Add("downloading 1%")
	lt.Add("Installing jq ...")

	if sink.count() != 1 {
		t.Fatalf("batches = %d, want immediate flush on milestone", sink.count())
	}
	got := sink.all()
	if len(got) != 2 || got[1] != "Installing jq ..." {
		t.Errorf("lines = %v, want held line then milestone in order", got)
	}
}

func TestLineThrottleCloseFlushes(t *testing.T) {
	sink := &batchSink{}
	lt := NewLineThrottle(time.Hour, sink.emit)

	lt.Add("held line")
	lt.Close()

	if got := sink.all(); len(got) != 1 || got[0] != "held line" {
		t.Errorf("lines = %v", got)
	}

	lt.Add("after close")
	if len(sink.all()) != 1 {
		t.Error("Add after Close delivered a line")
	}
}

func TestCoalescerFoldsBursts(t *testing.T) {
	var mu sync.Mutex
	fired := 0
	c := NewCoalescer(30*time.Millisecond, func() {
		mu.Lock()
		fired++
		mu.Unlock()
	})
	defer c.Stop()

	for i := 0; i < 10; i++ {
		c.Trigger()
	}
	time.Sleep(100 * time.Millisecond)

	mu.Lock()
	got := fired
	mu.Unlock()
	if got != 1 {
		t.Fatalf("fired = %d, want 1", got)
	}
}

func TestCoalescerStopPreventsFiring(t *testing.T) {
	var mu sync.Mutex
	fired := 0
	c := NewCoalescer(20*time.Millisecond, func() {
		mu.Lock()
		fired++
		mu.Unlock()
	})

	c.Trigger()
	c.Stop()
	time.Sleep(60 * time.Millisecond)

	mu.Lock()
	got := fired
	mu.Unlock()
	if got != 0 {
		t.Fatalf("fired = %d after Stop", got)
	}

	// Stop is idempotent and blocks later triggers.
	c.Stop()
	c.Trigger()
	time.Sleep(60 * time.Millisecond)
	mu.Lock()
	got = fired
	mu.Unlock()
	if got != 0 {
		t.Fatalf("fired = %d after Stop+Trigger", got)
	}
}
