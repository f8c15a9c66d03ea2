package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/agenshield/agenshield/internal/acl"
	"github.com/agenshield/agenshield/internal/analyzer"
	"github.com/agenshield/agenshield/internal/brew"
	"github.com/agenshield/agenshield/internal/broker"
	"github.com/agenshield/agenshield/internal/commandsync"
	"github.com/agenshield/agenshield/internal/config"
	"github.com/agenshield/agenshield/internal/eventbus"
	"github.com/agenshield/agenshield/internal/installtag"
	"github.com/agenshield/agenshield/internal/marketplace"
	"github.com/agenshield/agenshield/internal/metrics"
	"github.com/agenshield/agenshield/internal/openclaw"
	"github.com/agenshield/agenshield/internal/policy"
	"github.com/agenshield/agenshield/internal/reconcile"
	"github.com/agenshield/agenshield/internal/secrets"
	"github.com/agenshield/agenshield/internal/skills"
	"github.com/agenshield/agenshield/internal/wrapper"
)

// App wires the daemon's component graph from configuration. Every
// dependency is passed explicitly; nothing here is process-global.
type App struct {
	Cfg *config.Config

	Bus        *eventbus.Bus
	Metrics    *metrics.Collector
	Store      *policy.Store
	Reconciler *reconcile.Reconciler
	Approved   *skills.ApprovedList
	Cache      *marketplace.Cache
	Repo       *skills.Repository
	Manager    *skills.Manager
	Watcher    *skills.Watcher
	Brew       *brew.Manager
	Activity   *eventbus.ActivityLog
}

// newApp constructs the full graph. It returns a nil App and an error
// when creating the configuration directory, opening the activity
// log, loading the policy set, opening the secret store, or loading the
// installation key fails.
func newApp(cfg *config.Config) (*App, error) {
	if err := os.MkdirAll(cfg.Dirs.Config, 0o755); err != nil {
		return nil, fmt.Errorf("creating config dir: %w", err)
	}

	bus := eventbus.New()
	collector := metrics.NewCollector(prometheus.NewRegistry())

	activity, err := eventbus.NewActivityLog(cfg.ActivityLogPath())
	if err != nil {
		return nil, fmt.Errorf("opening activity log: %w", err)
	}
	activity.AttachTo(bus)

	store, err := policy.NewStore(cfg.PoliciesPath())
	if err != nil {
		return nil, fmt.Errorf("loading policies: %w", err)
	}

	cascade := broker.NewCascade(
		broker.NewDirectFS(),
		broker.NewClient(broker.DefaultSocketPath(cfg.Dirs.BrokerHome)),
		broker.NewSudoFS(cfg.Agent.User),
	)

	secretStore, err := secrets.NewFileStore(filepath.Join(cfg.Dirs.Config, "secrets.enc"))
	if err != nil {
		return nil, fmt.Errorf("opening secret store: %w", err)
	}

	approved := skills.NewApprovedList(cfg.ApprovedSkillsPath())
	cache := marketplace.New(cfg.Dirs.Cache)

	rec := &reconcile.Reconciler{
		AgentHome:           cfg.Agent.Home,
		Store:               store,
		Applier:             acl.NewApplier(cfg.Agent.User),
		Resolver:            commandsync.NewResolver(cfg.BinDirs()),
		Wrappers:            wrapper.NewManager(cfg.BinDirs(), cfg.Agent.ShieldExec),
		Secrets:             secretStore,
		Pusher:              cascade,
		Metrics:             collector,
		CommandManifestPath: cfg.AllowedCommandsPath(),
		InstructionsPath:    cfg.InstructionsPath(),
		KnownSkills: func() []string {
			entries, err := approved.List()
			if err != nil {
				return nil
			}
			slugs := make([]string, 0, len(entries))
			for _, e := range entries {
				slugs = append(slugs, e.Name)
			}
			return slugs
		},
	}
	rec.Bind()

	// The agent runtime's own config follows every policy change.
	clawWriter := &openclaw.Writer{
		Path:        filepath.Join(cfg.Agent.Home, ".openclaw", "openclaw.json"),
		AgentHome:   cfg.Agent.Home,
		SocketGroup: cfg.Agent.SocketGroup,
	}
	store.Subscribe(func(_, next *policy.Set) {
		var skillSlugs []string
		if entries, err := approved.List(); err == nil {
			for _, e := range entries {
				skillSlugs = append(skillSlugs, e.Name)
			}
		}
		_ = clawWriter.Update(openclaw.Settings{
			AllowBundled:        false,
			LoadWatch:           true,
			NativeCommands:      commandsync.ExtractCommandNames(next),
			NativeSkillCommands: skillSlugs,
		})
	})

	keyer, err := installtag.LoadOrCreateKeyer(filepath.Join(cfg.Dirs.Config, "installation-key"))
	if err != nil {
		return nil, fmt.Errorf("loading installation key: %w", err)
	}

	repo := skills.NewRepository(filepath.Join(cfg.Dirs.Config, "skill-repository.json"))
	brewMgr := brew.NewManager(cfg.BrewManifestPath(), cfg.Agent.Home, cfg.Dirs.Homebrew,
		cfg.Agent.SocketGroup, cfg.Agent.User, cascade)

	analyzerClient := analyzer.New(cfg.Analyzer.URL)
	analyzerClient.Timeout = time.Duration(cfg.Analyzer.TimeoutSeconds) * time.Second

	watcher := &skills.Watcher{
		SkillsDir: cfg.Dirs.Skills,
		Poll:      time.Duration(cfg.Watcher.PollSeconds) * time.Second,
		Debounce:  time.Duration(cfg.Watcher.DebounceMs) * time.Millisecond,
		Approved:  approved,
		Cache:     cache,
		Keyer:     keyer,
		Policies:  rec,
		Bus:       bus,
		Metrics:   collector,
	}

	// Deps stays nil: the dependency installer is an external
	// collaborator, so dependency steps — and with them the brew wrapper
	// interposition — only run once one is provided.
	manager := &skills.Manager{
		SkillsDir:     cfg.Dirs.Skills,
		DownloadBase:  cfg.Marketplace.DownloadBase,
		Cache:         cache,
		Analyzer:      analyzerClient,
		AnalysisCache: analyzer.NewCache(filepath.Join(cfg.Dirs.Config, "analyses")),
		Repo:          repo,
		Approved:      approved,
		FS:            cascade,
		Bus:           bus,
		Keyer:         keyer,
		Policies:      rec,
		Wrappers:      wrapper.NewManager(cfg.BinDirs(), cfg.Agent.ShieldExec),
		Brew:          brewMgr,
		Watch:         watcher,
		Metrics:       collector,
	}

	return &App{
		Cfg:        cfg,
		Bus:        bus,
		Metrics:    collector,
		Store:      store,
		Reconciler: rec,
		Approved:   approved,
		Cache:      cache,
		Repo:       repo,
		Manager:    manager,
		Watcher:    watcher,
		Brew:       brewMgr,
		Activity:   activity,
	}, nil
}

// Close releases the app's resources.
func (a *App) Close() {
	a.Watcher.Stop()
	if a.Activity != nil {
		a.Activity.Close()
	}
}
