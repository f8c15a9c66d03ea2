package skills

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/agenshield/agenshield/internal/analyzer"
	"github.com/agenshield/agenshield/internal/broker"
	"github.com/agenshield/agenshield/internal/eventbus"
	"github.com/agenshield/agenshield/internal/installtag"
	"github.com/agenshield/agenshield/internal/marketplace"
	"github.com/agenshield/agenshield/internal/metrics"
	"github.com/agenshield/agenshield/internal/throttle"
)

// ErrInstallConflict is returned when an install is already running for
// the same slug.
var ErrInstallConflict = errors.New("skills: install already in progress for this slug")

// DownloadSource is the source recorded on analyses of marketplace
// installs.
const DownloadSource = "clawhub"

// PolicyWriter inserts and removes the per-skill allow policy. The
// implementation decides whether a slug is a preset master whose bundle
// policies must be unioned in alongside.
type PolicyWriter interface {
	AddSkillPolicy(slug string) error
	RemoveSkillPolicy(slug string) error
}

// DependencyInstaller runs one native-dependency installation step,
// streaming output lines to onLine.
type DependencyInstaller interface {
	Install(ctx context.Context, step analyzer.DependencyStep, onLine func(string)) error
}

// BrewRegistrar interposes brew-installed binaries after a dependency
// step succeeds, and releases a slug's claims on uninstall.
type BrewRegistrar interface {
	RegisterFormula(ctx context.Context, slug, formula string, declaredBins []string) error
	ReleaseSlug(ctx context.Context, slug string) error
}

// Suppressor mutes watcher interest in a slug while the lifecycle
// manager is writing its directory.
type Suppressor interface {
	Suppress(slug string)
	Unsuppress(slug string)
}

// SkillWrapperInstaller writes and removes the per-skill command shim.
type SkillWrapperInstaller interface {
	EnsureSkillWrapper(slug string) error
	RemoveCommand(name string) error
}

// Manager drives the skill lifecycle: install, uninstall, toggle, and
// integrity checking. Operations on different slugs may run concurrently;
// a second install for the same slug fails fast with ErrInstallConflict.
type Manager struct {
	SkillsDir    string
	DownloadBase string

	Cache         *marketplace.Cache
	Analyzer      *analyzer.Client
	AnalysisCache *analyzer.Cache
	Fetcher       marketplace.Fetcher
	Repo          *Repository
	Approved      *ApprovedList
	FS            broker.PrivilegedFS
	Bus           *eventbus.Bus
	Keyer         installtag.Keyer
	Policies      PolicyWriter
	Wrappers      SkillWrapperInstaller
	Deps          DependencyInstaller
	Brew          BrewRegistrar
	Watch         Suppressor
	Metrics       *metrics.Collector

	// StripEnv removes environment-variable declarations from a manifest
	// before deployment; identity when nil.
	StripEnv func(string) string

	mu         sync.Mutex
	inProgress map[string]bool
}

// InProgress reports whether an install is currently running for slug.
func (m *Manager) InProgress(slug string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.inProgress[slug]
}

func (m *Manager) begin(slug string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.inProgress == nil {
		m.inProgress = make(map[string]bool)
	}
	if m.inProgress[slug] {
		return false
	}
	m.inProgress[slug] = true
	return true
}

func (m *Manager) end(slug string) {
	m.mu.Lock()
	delete(m.inProgress, slug)
	m.mu.Unlock()
}

func (m *Manager) emit(kind eventbus.Kind, slug string, data map[string]any) {
	if m.Bus == nil {
		return
	}
	if data == nil {
		data = map[string]any{}
	}
	data["slug"] = slug
	m.Bus.Emit(kind, "", data)
}

func (m *Manager) progress(slug, step, message string) {
	m.emit(eventbus.SkillInstallProgress, slug, map[string]any{"step": step, "message": message})
}

// SkillDir is the deployed directory for slug.
func (m *Manager) SkillDir(slug string) string {
	return filepath.Join(m.SkillsDir, slug)
}

// zipURL derives the marketplace download URL for slug.
func (m *Manager) zipURL(slug string) string {
	return strings.TrimRight(m.DownloadBase, "/") + "/" + slug + ".zip"
}

// persistAnalysis writes the analysis into both the marketplace cache
// metadata and the per-slug analysis cache, so a later rejection is still
// explainable to the operator.
func (m *Manager) persistAnalysis(slug string, a *analyzer.Analysis) {
	if m.AnalysisCache != nil {
		if err := m.AnalysisCache.Store(a); err != nil {
			slog.Warn("persisting analysis cache failed", "slug", slug, "error", err)
		}
	}
	if m.Cache != nil {
		encoded, err := json.Marshal(a)
		if err != nil {
			slog.Warn("encoding analysis failed", "slug", slug, "error", err)
			return
		}
		meta, loadErr := m.Cache.Load(slug)
		if loadErr != nil {
			meta = marketplace.Metadata{Name: slug, Slug: slug, Source: marketplace.SourceMarketplace}
		}
		meta.Analysis = encoded
		if err := m.Cache.Store(marketplace.Bundle{Meta: meta}); err != nil {
			slog.Warn("persisting analysis metadata failed", "slug", slug, "error", err)
		}
	}
}

func (m *Manager) stripEnv(doc string) string {
	if m.StripEnv != nil {
		return m.StripEnv(doc)
	}
	return doc
}

// prepareFiles returns a copy of files with every primary manifest
// stripped of env declarations and stamped with the installation tag.
func (m *Manager) prepareFiles(files map[string][]byte) map[string][]byte {
	prepared := make(map[string][]byte, len(files))
	for path, content := range files {
		if IsManifestPath(path) {
			doc := m.stripEnv(string(content))
			doc = installtag.Inject(doc, m.Keyer)
			prepared[path] = []byte(doc)
			continue
		}
		prepared[path] = content
	}
	return prepared
}

// Install downloads, analyzes, deploys, and approves slug. Each step
// emits a progress event; any failure past analysis triggers best-effort
// cleanup and a terminal install_failed event.
func (m *Manager) Install(ctx context.Context, slug string) error {
	if !m.begin(slug) {
		return ErrInstallConflict
	}
	m.emit(eventbus.SkillInstallStarted, slug, nil)

	err := m.install(ctx, slug)
	if err != nil {
		if revokeErr := m.Repo.Revoke(slug); revokeErr != nil {
			slog.Warn("revoking failed install", "slug", slug, "error", revokeErr)
		}
		m.end(slug)
		m.emit(eventbus.SkillInstallFailed, slug, map[string]any{"error": err.Error()})
		if m.Metrics != nil {
			m.Metrics.ObserveSkillInstall("failed")
		}
		return err
	}

	// Clear the in-progress flag before the terminal event so a list
	// read racing the broadcast never observes a stale installing state.
	m.end(slug)
	m.emit(eventbus.SkillInstalled, slug, nil)
	if m.Metrics != nil {
		m.Metrics.ObserveSkillInstall("installed")
	}
	return nil
}

func (m *Manager) install(ctx context.Context, slug string) error {
	m.progress(slug, "analyze", "Analyzing skill")
	a, err := m.Analyzer.Analyze(ctx, slug, DownloadSource, func(line string) {
		m.progress(slug, "analyze", line)
	})
	if err != nil {
		m.emit(eventbus.SkillAnalysisFailed, slug, map[string]any{"error": err.Error()})
		return fmt.Errorf("analyzing %s: %w", slug, err)
	}
	m.persistAnalysis(slug, a)
	m.emit(eventbus.SkillAnalyzed, slug, map[string]any{"level": vulnerabilityLevel(a)})

	if a.Vulnerability.Critical() {
		return errors.New("Critical vulnerability detected")
	}

	m.progress(slug, "download", "Downloading skill bundle")
	bundle, err := marketplace.FetchAndClassify(ctx, m.fetcher(), m.zipURL(slug), marketplace.Metadata{
		Name:   slug,
		Slug:   slug,
		Source: marketplace.SourceMarketplace,
	})
	if err != nil {
		return fmt.Errorf("downloading %s: %w", slug, err)
	}
	if len(bundle.Files) == 0 {
		return fmt.Errorf("downloading %s: bundle contained no files", slug)
	}
	if err := m.Cache.Store(bundle); err != nil {
		return fmt.Errorf("caching %s: %w", slug, err)
	}

	m.progress(slug, "prepare", "Preparing files")
	prepared := m.prepareFiles(bundle.Files)

	m.progress(slug, "register", "Registering skill version")
	if _, err := m.Repo.Register(slug, prepared); err != nil {
		return fmt.Errorf("registering %s: %w", slug, err)
	}

	if err := m.deploy(ctx, slug, prepared); err != nil {
		return err
	}

	m.progress(slug, "policy", "Adding skill policy")
	if err := m.Policies.AddSkillPolicy(slug); err != nil {
		return fmt.Errorf("adding policy for %s: %w", slug, err)
	}

	if err := m.installDependencies(ctx, slug, a); err != nil {
		return err
	}

	m.progress(slug, "approve", "Recording content hash")
	if err := m.Approved.Add(ApprovedEntry{
		Name:            slug,
		ApprovedAt:      time.Now(),
		Hash:            HashFiles(prepared),
		MarketplaceSlug: slug,
	}); err != nil {
		return fmt.Errorf("approving %s: %w", slug, err)
	}

	if err := m.markInstalled(slug, true); err != nil {
		slog.Warn("marking cache installed failed", "slug", slug, "error", err)
	}
	return nil
}

func vulnerabilityLevel(a *analyzer.Analysis) string {
	if a.Vulnerability == nil {
		return "none"
	}
	return a.Vulnerability.Level
}

func (m *Manager) fetcher() marketplace.Fetcher {
	if m.Fetcher != nil {
		return m.Fetcher
	}
	return marketplace.HTTPFetcher{}
}

// deploy materializes prepared files under the skills dir with watcher
// interest suppressed, then installs the skill's command shim.
func (m *Manager) deploy(ctx context.Context, slug string, prepared map[string][]byte) error {
	m.progress(slug, "deploy", "Deploying skill files")
	if m.Watch != nil {
		m.Watch.Suppress(slug)
		defer m.Watch.Unsuppress(slug)
	}

	files := make([]broker.SkillFile, 0, len(prepared))
	for path, content := range prepared {
		files = append(files, broker.SkillFile{RelPath: path, Content: content, Mode: 0o644})
	}
	if err := m.FS.InstallSkill(ctx, slug, files, broker.InstallOpts{CreateWrapper: true}); err != nil {
		return fmt.Errorf("deploying %s: %w", slug, err)
	}
	if m.Wrappers != nil {
		if err := m.Wrappers.EnsureSkillWrapper(slug); err != nil {
			// Enforcement may be incomplete; the skill itself is usable.
			slog.Warn("installing skill wrapper failed", "slug", slug, "error", err)
			m.emit(eventbus.SecurityWarning, slug, map[string]any{
				"message": "skill wrapper installation failed: " + err.Error(),
			})
		}
	}
	return nil
}

// installDependencies runs each analyzer-declared dependency step,
// batching noisy output through a line throttle and registering brew
// binaries afterwards.
func (m *Manager) installDependencies(ctx context.Context, slug string, a *analyzer.Analysis) error {
	if len(a.Dependencies) == 0 || m.Deps == nil {
		return nil
	}
	for _, step := range a.Dependencies {
		m.progress(slug, "dependencies", fmt.Sprintf("Installing %s via %s", step.Formula, step.Manager))

		lt := throttle.NewLineThrottle(0, func(lines []string) {
			m.progress(slug, "dependencies", strings.Join(lines, "\n"))
		})
		err := m.Deps.Install(ctx, step, lt.Add)
		lt.Close()
		if err != nil {
			return fmt.Errorf("installing dependency %s for %s: %w", step.Formula, slug, err)
		}

		if m.Brew != nil && step.Manager == "brew" {
			if err := m.Brew.RegisterFormula(ctx, slug, step.Formula, step.Binaries); err != nil {
				slog.Warn("registering brew binaries failed", "slug", slug, "formula", step.Formula, "error", err)
				m.emit(eventbus.SecurityWarning, slug, map[string]any{
					"message": fmt.Sprintf("brew wrapper setup failed for %s: %v", step.Formula, err),
				})
			}
		}
	}
	return nil
}

// markInstalled flips the cache's wasInstalled marker.
func (m *Manager) markInstalled(slug string, installed bool) error {
	meta, err := m.Cache.Load(slug)
	if err != nil {
		return err
	}
	meta.WasInstalled = &installed
	return m.Cache.Store(marketplace.Bundle{Meta: meta})
}

// Uninstall removes slug from the host. Destruction order is policy,
// on-disk directory, approved entry; the marketplace cache is preserved
// with wasInstalled=true so the slug can be re-enabled without a fresh
// download.
func (m *Manager) Uninstall(ctx context.Context, slug string) error {
	if err := m.Policies.RemoveSkillPolicy(slug); err != nil {
		return fmt.Errorf("removing policy for %s: %w", slug, err)
	}

	if m.Watch != nil {
		m.Watch.Suppress(slug)
		defer m.Watch.Unsuppress(slug)
	}
	if err := m.FS.UninstallSkill(ctx, slug, broker.UninstallOpts{}); err != nil {
		return fmt.Errorf("removing %s from disk: %w", slug, err)
	}
	if m.Wrappers != nil {
		if err := m.Wrappers.RemoveCommand(slug); err != nil {
			slog.Warn("removing skill wrapper failed", "slug", slug, "error", err)
		}
	}
	if m.Brew != nil {
		if err := m.Brew.ReleaseSlug(ctx, slug); err != nil {
			slog.Warn("releasing brew binaries failed", "slug", slug, "error", err)
		}
	}

	if err := m.Approved.Remove(slug); err != nil {
		return fmt.Errorf("removing %s from approved list: %w", slug, err)
	}
	if err := m.markInstalled(slug, true); err != nil {
		slog.Warn("preserving cache marker failed", "slug", slug, "error", err)
	}

	m.emit(eventbus.SkillUninstalled, slug, nil)
	return nil
}

// errNotReEnableable distinguishes a toggle of a slug with nothing to
// re-enable.
var errNotReEnableable = errors.New("skills: slug has no cached bundle to re-enable")

// Toggle disables a deployed skill, or re-enables a cached-only one from
// its marketplace cache copy without re-downloading or re-analyzing.
func (m *Manager) Toggle(ctx context.Context, slug string) error {
	if m.deployed(slug) {
		return m.Uninstall(ctx, slug)
	}
	return m.reEnable(ctx, slug)
}

func (m *Manager) deployed(slug string) bool {
	_, err := MaxMtime(m.SkillDir(slug))
	return err == nil
}

func (m *Manager) reEnable(ctx context.Context, slug string) error {
	meta, err := m.Cache.Load(slug)
	if err != nil || meta.WasInstalled == nil || !*meta.WasInstalled {
		return errNotReEnableable
	}

	if !m.begin(slug) {
		return ErrInstallConflict
	}
	m.emit(eventbus.SkillInstallStarted, slug, nil)

	err = m.reEnableSteps(ctx, slug)
	if err != nil {
		m.end(slug)
		m.emit(eventbus.SkillInstallFailed, slug, map[string]any{"error": err.Error()})
		return err
	}
	m.end(slug)
	m.emit(eventbus.SkillInstalled, slug, nil)
	return nil
}

func (m *Manager) reEnableSteps(ctx context.Context, slug string) error {
	cached, err := ReadTree(filepath.Join(m.Cache.CacheDir, slug, "files"))
	if err != nil {
		return fmt.Errorf("reading cached bundle for %s: %w", slug, err)
	}
	if len(cached) == 0 {
		return fmt.Errorf("cached bundle for %s is empty", slug)
	}

	prepared := m.prepareFiles(cached)
	if _, err := m.Repo.Register(slug, prepared); err != nil {
		return fmt.Errorf("registering %s: %w", slug, err)
	}
	if err := m.deploy(ctx, slug, prepared); err != nil {
		return err
	}
	if err := m.Policies.AddSkillPolicy(slug); err != nil {
		return fmt.Errorf("adding policy for %s: %w", slug, err)
	}
	if err := m.Approved.Add(ApprovedEntry{
		Name:            slug,
		ApprovedAt:      time.Now(),
		Hash:            HashFiles(prepared),
		MarketplaceSlug: slug,
	}); err != nil {
		return fmt.Errorf("approving %s: %w", slug, err)
	}
	return nil
}

// Integrity recomputes the deployed tree's per-file hashes against the
// registered version.
func (m *Manager) Integrity(slug string) (IntegrityReport, error) {
	v, ok, err := m.Repo.Active(slug)
	if err != nil {
		return IntegrityReport{}, err
	}
	if !ok {
		return IntegrityReport{}, fmt.Errorf("skills: no active version registered for %s", slug)
	}
	return CheckIntegrity(m.SkillDir(slug), v)
}
