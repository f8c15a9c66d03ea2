// Package throttle provides the two small timing utilities the skill
// lifecycle and watcher share: a line throttle that batches noisy
// subprocess output while letting milestone lines through immediately,
// and a coalescer that folds bursts of triggers into a single callback.
package throttle

import (
	"strings"
	"sync"
	"time"
)

// DefaultLineWindow is how long non-milestone lines are held before the
// batch is flushed.
const DefaultLineWindow = 3 * time.Second

// milestonePrefixes pass through the throttle immediately so install
// progress stays responsive even while the batch window is open.
var milestonePrefixes = []string{"Installing", "Found", "Verifying"}

// LineThrottle batches lines over a window. Milestone lines flush the
// pending batch and themselves right away; everything else is held until
// the window elapses. Flush order is always arrival order.
type LineThrottle struct {
	mu      sync.Mutex
	window  time.Duration
	emit    func(lines []string)
	pending []string
	timer   *time.Timer
	closed  bool
}

// NewLineThrottle returns a throttle delivering batches to emit. A
// non-positive window falls back to DefaultLineWindow.
func NewLineThrottle(window time.Duration, emit func(lines []string)) *LineThrottle {
	if window <= 0 {
		window = DefaultLineWindow
	}
	return &LineThrottle{window: window, emit: emit}
}

func isMilestone(line string) bool {
	trimmed := strings.TrimSpace(line)
	for _, prefix := range milestonePrefixes {
		if strings.HasPrefix(trimmed, prefix) {
			return true
		}
	}
	return false
}

// Add queues a line. Milestone lines force an immediate flush.
func (l *LineThrottle) Add(line string) {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	l.pending = append(l.pending, line)
	if isMilestone(line) {
		l.flushLocked()
		l.mu.Unlock()
		return
	}
	if l.timer == nil {
		l.timer = time.AfterFunc(l.window, l.timerFired)
	}
	l.mu.Unlock()
}

func (l *LineThrottle) timerFired() {
	l.mu.Lock()
	l.flushLocked()
	l.mu.Unlock()
}

// flushLocked delivers the pending batch and clears the timer. Caller
// holds l.mu; emit runs outside the lock via a snapshot to keep callers
// free to Add reentrantly.
func (l *LineThrottle) flushLocked() {
	if l.timer != nil {
		l.timer.Stop()
		l.timer = nil
	}
	if len(l.pending) == 0 {
		return
	}
	batch := l.pending
	l.pending = nil
	emit := l.emit
	l.mu.Unlock()
	emit(batch)
	l.mu.Lock()
}

// Flush delivers any held lines immediately.
func (l *LineThrottle) Flush() {
	l.mu.Lock()
	l.flushLocked()
	l.mu.Unlock()
}

// Close flushes and stops the throttle. Further Adds are dropped.
func (l *LineThrottle) Close() {
	l.mu.Lock()
	l.flushLocked()
	l.closed = true
	l.mu.Unlock()
}

// Coalescer folds bursts of Trigger calls into one callback: the first
// trigger arms a timer, subsequent triggers within the delay are
// absorbed, and the callback fires once when the delay elapses.
type Coalescer struct {
	mu     sync.Mutex
	delay  time.Duration
	fn     func()
	timer  *time.Timer
	closed bool
}

// NewCoalescer returns a coalescer invoking fn after delay.
func NewCoalescer(delay time.Duration, fn func()) *Coalescer {
	return &Coalescer{delay: delay, fn: fn}
}

// Trigger requests a callback. Triggers while a timer is armed are
// coalesced into the pending firing.
func (c *Coalescer) Trigger() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.timer != nil {
		return
	}
	c.timer = time.AfterFunc(c.delay, func() {
		c.mu.Lock()
		c.timer = nil
		closed := c.closed
		c.mu.Unlock()
		if !closed {
			c.fn()
		}
	})
}

// Stop cancels any pending firing and prevents future ones. Idempotent.
func (c *Coalescer) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}
