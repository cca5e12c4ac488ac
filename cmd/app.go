package cmd

import (
	"context"
	"fmt"

	"github.com/sw33tLie/pbxsched/internal/config"
	"github.com/sw33tLie/pbxsched/internal/utils"
	"github.com/sw33tLie/pbxsched/pkg/browser"
	"github.com/sw33tLie/pbxsched/pkg/instance"
	"github.com/sw33tLie/pbxsched/pkg/login"
	"github.com/sw33tLie/pbxsched/pkg/orchestrator"
	"github.com/sw33tLie/pbxsched/pkg/scraper"
	"github.com/sw33tLie/pbxsched/pkg/selectors"
	"github.com/sw33tLie/pbxsched/pkg/session"
	"github.com/sw33tLie/pbxsched/pkg/storage"
)

// app holds everything a command needs. Only the pieces a command asks for
// are opened.
type app struct {
	cfg      *config.Config
	db       *storage.DB
	sessions *session.Store
	registry *instance.Registry
	engine   browser.Engine
	orch     *orchestrator.Orchestrator
	lock     *utils.DataLock
}

type appOptions struct {
	browser bool // launch Chromium
	lock    bool // hold the data directory lock until Close
}

func newApp(ctx context.Context, opts appOptions) (a *app, err error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	a = &app{cfg: cfg}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	if opts.lock {
		if a.lock, err = utils.NewDataLock(cfg.DataDir); err != nil {
			return nil, err
		}
		if err = a.lock.Lock(ctx); err != nil {
			a.lock = nil
			return nil, err
		}
	}

	if a.sessions, err = session.NewStore(cfg.SessionDir()); err != nil {
		return nil, fmt.Errorf("could not create session directory: %w", err)
	}
	if a.db, err = storage.Open(cfg.DBPath); err != nil {
		return nil, fmt.Errorf("could not open database %s: %w", cfg.DBPath, err)
	}

	a.registry = instance.NewRegistry(cfg.HostingDomain, a.sessions)
	for _, ic := range cfg.Instances {
		rec, err := a.registry.Register(ic.Registration())
		if err != nil {
			return nil, fmt.Errorf("instance %q in config: %w", ic.URL, err)
		}
		utils.Log.Debugf("Registered %s as %s", rec.BaseURL, rec.ID)
	}

	if opts.browser {
		engine, err := browser.NewPlaywright(browser.Options{
			Headless:          cfg.Browser.Headless,
			NavigationTimeout: cfg.Browser.NavTimeout,
			ActionTimeout:     cfg.Browser.URLWaitTimeout,
			InstallDriver:     cfg.Browser.InstallDriver,
		})
		if err != nil {
			return nil, err
		}
		a.engine = engine
	}

	contract := selectors.Default()
	a.orch = orchestrator.New(orchestrator.Config{
		Registry: a.registry,
		Engine:   a.engine,
		Acquirer: login.NewAcquirer(login.Config{
			Contract:    contract,
			Artifacts:   a.sessions,
			WaitTimeout: cfg.Browser.URLWaitTimeout,
			Log:         utils.Log,
		}),
		Scraper: scraper.New(scraper.Config{
			Contract: contract,
			Limiter:  scraper.NewLimiter(cfg.Scrape.RequestsPerSecond),
			Log:      utils.Log,
		}),
		Store:    a.db,
		Timeout:  cfg.Sync.Timeout,
		Cooldown: cfg.Sync.Cooldown,
		Log:      utils.Log,
	})
	return a, nil
}

// instance resolves an instance id, URL or tenant name against the
// configured instances.
func (a *app) instance(ref string) (instance.Record, error) {
	return a.registry.Lookup(ref)
}

func (a *app) instanceIDs() []string {
	recs := a.registry.List()
	ids := make([]string, 0, len(recs))
	for _, r := range recs {
		ids = append(ids, r.ID)
	}
	return ids
}

func (a *app) Close() {
	if a.orch != nil {
		a.orch.Wait()
	}
	if a.engine != nil {
		if err := a.engine.Close(); err != nil {
			utils.Log.Debugf("Closing browser: %v", err)
		}
	}
	if a.db != nil {
		a.db.Close()
	}
	if a.lock != nil {
		a.lock.Unlock()
	}
}
