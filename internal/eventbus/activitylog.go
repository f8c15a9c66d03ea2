package eventbus

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/agenshield/agenshield/internal/atomicfile"
)

// rotationCheckInterval is how often (in writes) ActivityLog checks
// whether rotation is due.
const rotationCheckInterval = 1000

// maxLogSizeBytes is the rotation threshold.
const maxLogSizeBytes = 100 * 1024 * 1024

// maxEntryAge is the retention window applied on every rotation check.
const maxEntryAge = 24 * time.Hour

// logLine is the JSONL shape persisted for every non-heartbeat event.
type logLine struct {
	Kind      Kind            `json:"kind"`
	Timestamp time.Time       `json:"timestamp"`
	ProfileID string          `json:"profileId,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// ActivityLog subscribes to a Bus and appends every non-heartbeat event
// to a JSONL file, with size- and age-based rotation.
type ActivityLog struct {
	path string
	mu   sync.Mutex
	file *os.File
	w    *bufio.Writer
	n    int
	now  func() time.Time
}

// NewActivityLog opens (creating if needed) the JSONL file at path.
func NewActivityLog(path string) (*ActivityLog, error) {
	if err := ensureParentDir(path); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
	if err != nil {
		return nil, fmt.Errorf("opening activity log %s: %w", path, err)
	}
	return &ActivityLog{path: path, file: f, w: bufio.NewWriter(f), now: time.Now}, nil
}

func ensureParentDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "" || dir == "." {
		return nil
	}
	return os.MkdirAll(dir, 0o750)
}

// AttachTo registers the ActivityLog as a Bus subscriber and returns the
// unsubscribe handle.
func (a *ActivityLog) AttachTo(bus *Bus) Unsubscribe {
	return bus.Subscribe(a.handle)
}

func (a *ActivityLog) handle(ev Event) {
	if ev.Kind == Heartbeat {
		return
	}
	if err := a.Append(ev); err != nil {
		slog.Error("activity log: append failed", "error", err)
	}
}

// Append writes a single event and runs the periodic rotation check.
func (a *ActivityLog) Append(ev Event) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	data, err := json.Marshal(ev.Data)
	if err != nil {
		return fmt.Errorf("marshaling event data: %w", err)
	}
	line := logLine{Kind: ev.Kind, Timestamp: ev.Timestamp, ProfileID: ev.ProfileID, Data: data}
	encoded, err := json.Marshal(line)
	if err != nil {
		return fmt.Errorf("marshaling log line: %w", err)
	}
	if _, err := a.w.Write(encoded); err != nil {
		return err
	}
	if err := a.w.WriteByte('\n'); err != nil {
		return err
	}
	if err := a.w.Flush(); err != nil {
		return err
	}

	a.n++
	if a.n%rotationCheckInterval == 0 {
		if err := a.rotateIfNeeded(); err != nil {
			slog.Error("activity log: rotation failed", "error", err)
		}
	}
	return nil
}

// rotateIfNeeded truncates the log to its newest half of lines if it
// exceeds maxLogSizeBytes, and separately prunes any line older than
// maxEntryAge. Caller must hold a.mu.
func (a *ActivityLog) rotateIfNeeded() error {
	info, err := a.file.Stat()
	if err != nil {
		return err
	}

	cutoff := a.now().Add(-maxEntryAge)
	needsSizeRotation := info.Size() > maxLogSizeBytes

	lines, err := readLines(a.path)
	if err != nil {
		return err
	}

	pruned := make([][]byte, 0, len(lines))
	for _, l := range lines {
		var parsed logLine
		if err := json.Unmarshal(l, &parsed); err == nil && parsed.Timestamp.Before(cutoff) {
			continue
		}
		pruned = append(pruned, l)
	}

	if needsSizeRotation {
		half := len(pruned) / 2
		pruned = pruned[half:]
	} else if len(pruned) == len(lines) {
		// Nothing pruned and no size rotation due: nothing to rewrite.
		return nil
	}

	return a.rewrite(pruned)
}

func (a *ActivityLog) rewrite(lines [][]byte) error {
	var buf []byte
	for _, l := range lines {
		buf = append(buf, l...)
		buf = append(buf, '\n')
	}
	if err := a.w.Flush(); err != nil {
		return err
	}
	if err := a.file.Close(); err != nil {
		return err
	}
	if err := atomicfile.Write(a.path, buf, 0o640); err != nil {
		return err
	}
	f, err := os.OpenFile(a.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
	if err != nil {
		return err
	}
	a.file = f
	a.w = bufio.NewWriter(f)
	return nil
}

// Close flushes and closes the underlying file.
func (a *ActivityLog) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.w.Flush(); err != nil {
		return err
	}
	return a.file.Close()
}

// Filter narrows a Search to a subset of logged events.
type Filter struct {
	Kind  Kind
	Since time.Time
	Until time.Time
}

// Search reads the activity log and returns every entry matching filter,
// in file order.
func Search(path string, filter Filter) ([]Event, error) {
	lines, err := readLines(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var out []Event
	for _, l := range lines {
		var parsed logLine
		if err := json.Unmarshal(l, &parsed); err != nil {
			continue
		}
		if !matchesFilter(parsed, filter) {
			continue
		}
		var data any
		if len(parsed.Data) > 0 {
			json.Unmarshal(parsed.Data, &data)
		}
		out = append(out, Event{Kind: parsed.Kind, Timestamp: parsed.Timestamp, ProfileID: parsed.ProfileID, Data: data})
	}
	return out, nil
}

func matchesFilter(l logLine, f Filter) bool {
	if f.Kind != "" && l.Kind != f.Kind {
		return false
	}
	if !f.Since.IsZero() && l.Timestamp.Before(f.Since) {
		return false
	}
	if !f.Until.IsZero() && l.Timestamp.After(f.Until) {
		return false
	}
	return true
}

func readLines(path string) ([][]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var lines [][]byte
	start := 0
	for i, b := range data {
		if b == '\n' {
			if i > start {
				line := make([]byte, i-start)
				copy(line, data[start:i])
				lines = append(lines, line)
			}
			start = i + 1
		}
	}
	if start < len(data) {
		line := make([]byte, len(data)-start)
		copy(line, data[start:])
		lines = append(lines, line)
	}
	return lines, nil
}
