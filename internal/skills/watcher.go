package skills

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/agenshield/agenshield/internal/eventbus"
	"github.com/agenshield/agenshield/internal/installtag"
	"github.com/agenshield/agenshield/internal/marketplace"
	"github.com/agenshield/agenshield/internal/metrics"
	"github.com/agenshield/agenshield/internal/throttle"
)

// TamperReason is the reason attached to a demotion triggered by a hash
// mismatch on an approved skill.
const TamperReason = "Skill files modified externally"

// Watcher polls the skills directory and reacts to filesystem events:
// bundles carrying a valid installation tag are auto-approved, everything
// else is quarantined into the marketplace cache, and approved trees are
// re-hashed on mtime change to catch external modification.
type Watcher struct {
	SkillsDir string
	Poll      time.Duration
	Debounce  time.Duration

	Approved *ApprovedList
	Cache    *marketplace.Cache
	Keyer    installtag.Keyer
	Policies PolicyWriter
	Bus      *eventbus.Bus
	Metrics  *metrics.Collector

	// Analyze fires a background analysis against a freshly quarantined
	// bundle; optional.
	Analyze func(slug string)

	mu         sync.Mutex
	suppressed map[string]bool
	mtimes     map[string]time.Time

	coalescer *throttle.Coalescer
	fsWatch   *fsnotify.Watcher
	stopCh    chan struct{}
	doneCh    chan struct{}
	running   bool
}

// Suppress mutes watcher interest in slug while the lifecycle manager is
// writing its directory.
func (w *Watcher) Suppress(slug string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.suppressed == nil {
		w.suppressed = make(map[string]bool)
	}
	w.suppressed[slug] = true
}

// Unsuppress restores watcher interest in slug.
func (w *Watcher) Unsuppress(slug string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.suppressed, slug)
}

func (w *Watcher) isSuppressed(slug string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.suppressed[slug]
}

func (w *Watcher) lastMtime(slug string) (time.Time, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	t, ok := w.mtimes[slug]
	return t, ok
}

func (w *Watcher) setMtime(slug string, t time.Time) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.mtimes == nil {
		w.mtimes = make(map[string]time.Time)
	}
	w.mtimes[slug] = t
}

func (w *Watcher) emit(kind eventbus.Kind, slug string, data map[string]any) {
	if w.Bus == nil {
		return
	}
	if data == nil {
		data = map[string]any{}
	}
	data["slug"] = slug
	w.Bus.Emit(kind, "", data)
}

// Scan examines every subdirectory of the skills dir once. Errors on
// individual slugs are logged and never halt the sweep.
func (w *Watcher) Scan(ctx context.Context) {
	start := time.Now()
	entries, err := os.ReadDir(w.SkillsDir)
	if err != nil {
		if !os.IsNotExist(err) {
			slog.Warn("reading skills dir failed", "dir", w.SkillsDir, "error", err)
		}
		return
	}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		slug := entry.Name()
		if w.isSuppressed(slug) {
			continue
		}
		if err := w.scanOne(ctx, slug); err != nil {
			slog.Warn("scanning skill failed", "slug", slug, "error", err)
		}
	}
	if w.Metrics != nil {
		w.Metrics.ObserveWatcherScan(time.Since(start))
	}
}

func (w *Watcher) scanOne(ctx context.Context, slug string) error {
	dir := filepath.Join(w.SkillsDir, slug)

	entry, approved, err := w.Approved.Get(slug)
	if err != nil {
		return err
	}
	if !approved {
		return w.handleUntracked(ctx, slug, dir)
	}
	if entry.Hash == "" {
		// Legacy entry with no baseline; nothing to verify against.
		return nil
	}
	return w.verifyApproved(ctx, slug, dir, entry)
}

// handleUntracked decides the fate of a directory that is not in the
// approved list: auto-approve when its manifest carries a valid
// installation tag, quarantine otherwise.
func (w *Watcher) handleUntracked(ctx context.Context, slug, dir string) error {
	if w.validlyTagged(dir) {
		hash, err := HashTree(dir)
		if err != nil {
			return err
		}
		if err := w.Approved.Add(ApprovedEntry{Name: slug, ApprovedAt: time.Now(), Hash: hash}); err != nil {
			return err
		}
		if mtime, err := MaxMtime(dir); err == nil {
			w.setMtime(slug, mtime)
		}
		if w.Policies != nil {
			if err := w.Policies.AddSkillPolicy(slug); err != nil {
				slog.Warn("adding policy for auto-approved skill failed", "slug", slug, "error", err)
			}
		}
		w.emit(eventbus.SkillApproved, slug, map[string]any{"hash": hash})
		return nil
	}
	return w.quarantine(ctx, slug, dir, "No valid installation tag")
}

// validlyTagged reports whether the directory's primary manifest carries
// the current installation tag.
func (w *Watcher) validlyTagged(dir string) bool {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return false
	}
	for _, e := range entries {
		if e.IsDir() || !IsManifestPath(e.Name()) {
			continue
		}
		doc, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return false
		}
		return installtag.Verify(string(doc), w.Keyer)
	}
	return false
}

// verifyApproved re-hashes an approved tree when its mtime advanced and
// demotes it on mismatch.
func (w *Watcher) verifyApproved(ctx context.Context, slug, dir string, entry ApprovedEntry) error {
	mtime, err := MaxMtime(dir)
	if err != nil {
		return err
	}
	if last, ok := w.lastMtime(slug); ok && !mtime.After(last) {
		return nil
	}
	w.setMtime(slug, mtime)

	hash, err := HashTree(dir)
	if err != nil {
		return err
	}
	if hash == entry.Hash {
		return nil
	}

	if err := w.Approved.Remove(slug); err != nil {
		return err
	}
	return w.quarantine(ctx, slug, dir, TamperReason)
}

// quarantine moves the directory into the marketplace cache tagged
// source=watcher, deletes the original, and emits untrusted_detected.
func (w *Watcher) quarantine(ctx context.Context, slug, dir, reason string) error {
	files, err := ReadTree(dir)
	if err != nil {
		return err
	}
	bundle := marketplace.Bundle{
		Meta: marketplace.Metadata{
			Name:   slug,
			Slug:   slug,
			Source: marketplace.SourceWatcher,
		},
		Files: files,
	}
	if err := w.Cache.Store(bundle); err != nil {
		return err
	}
	if err := os.RemoveAll(dir); err != nil {
		return err
	}

	w.mu.Lock()
	delete(w.mtimes, slug)
	w.mu.Unlock()

	if w.Metrics != nil {
		w.Metrics.IncWatcherQuarantine()
	}
	w.emit(eventbus.SkillUntrustedFound, slug, map[string]any{"reason": reason})
	if w.Analyze != nil {
		go w.Analyze(slug)
	}
	return nil
}

// Start runs the watcher until Stop or context cancellation: fsnotify
// events are the primary signal, debounced into a single scan; the
// periodic poll is the fallback. Start is idempotent per instance.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.stopCh = make(chan struct{})
	w.doneCh = make(chan struct{})
	w.mu.Unlock()

	poll := w.Poll
	if poll <= 0 {
		poll = 30 * time.Second
	}
	debounce := w.Debounce
	if debounce <= 0 {
		debounce = 500 * time.Millisecond
	}

	scanCh := make(chan struct{}, 1)
	w.coalescer = throttle.NewCoalescer(debounce, func() {
		select {
		case scanCh <- struct{}{}:
		default:
		}
	})

	fsWatch, err := fsnotify.NewWatcher()
	if err != nil {
		slog.Warn("fsnotify unavailable, polling only", "error", err)
	} else {
		w.fsWatch = fsWatch
		if err := fsWatch.Add(w.SkillsDir); err != nil {
			slog.Warn("watching skills dir failed, polling only", "dir", w.SkillsDir, "error", err)
		}
	}

	go w.loop(ctx, poll, scanCh, w.fsWatch)
	return nil
}

func (w *Watcher) loop(ctx context.Context, poll time.Duration, scanCh chan struct{}, fsWatch *fsnotify.Watcher) {
	defer close(w.doneCh)

	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	var events chan fsnotify.Event
	var errs chan error
	if fsWatch != nil {
		events = fsWatch.Events
		errs = fsWatch.Errors
	}

	w.Scan(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case <-ticker.C:
			w.Scan(ctx)
		case <-scanCh:
			w.Scan(ctx)
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if slug := filepath.Base(filepath.Dir(ev.Name)); w.isSuppressed(slug) || w.isSuppressed(filepath.Base(ev.Name)) {
				continue
			}
			w.coalescer.Trigger()
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			slog.Warn("fsnotify error", "error", err)
		}
	}
}

// Stop terminates the watch loop, clears the debouncer, and closes the
// fs watch. Safe to call more than once.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	close(w.stopCh)
	w.mu.Unlock()

	if w.coalescer != nil {
		w.coalescer.Stop()
	}
	if w.fsWatch != nil {
		w.fsWatch.Close()
	}
	<-w.doneCh
}
