// Package orchestrator runs login, scrape and normalization for registered
// instances. It enforces one sync per instance at a time, a cooldown between
// sync starts and a wall-clock timeout over the whole pipeline, and it is the
// only writer of instance health and stored payloads.
package orchestrator

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/sw33tLie/pbxsched/internal/utils"
	"github.com/sw33tLie/pbxsched/pkg/browser"
	apperrors "github.com/sw33tLie/pbxsched/pkg/errors"
	"github.com/sw33tLie/pbxsched/pkg/instance"
	"github.com/sw33tLie/pbxsched/pkg/login"
	"github.com/sw33tLie/pbxsched/pkg/normalize"
	"github.com/sw33tLie/pbxsched/pkg/scraper"
	"github.com/sw33tLie/pbxsched/pkg/storage"
)

const (
	DefaultTimeout  = 3 * time.Minute
	DefaultCooldown = 60 * time.Second
)

type Acquirer interface {
	Acquire(ctx context.Context, engine browser.Engine, rec instance.Record) (*login.Result, error)
	SelectorVersion() string
}

type Scraper interface {
	Scrape(ctx context.Context, page browser.Page, baseURL string) (*scraper.Result, error)
}

// Store persists payloads and sync history. *storage.DB implements it.
type Store interface {
	SavePayload(ctx context.Context, p *normalize.Payload) error
	LoadPayload(ctx context.Context, instanceID string) (*normalize.Payload, error)
	StartRun(ctx context.Context, instanceID string, startedAt time.Time) (string, error)
	FinishRun(ctx context.Context, runID string, out storage.RunOutcome) error
	ListRuns(ctx context.Context, instanceID string, limit int) ([]storage.SyncRun, error)
}

type Config struct {
	Registry *instance.Registry
	Engine   browser.Engine
	Acquirer Acquirer
	Scraper  Scraper
	Store    Store

	Timeout  time.Duration // defaults to DefaultTimeout if <= 0
	Cooldown time.Duration // 0 disables the cooldown
	Log      utils.Logger  // optional; nil = no logging
	Now      func() time.Time
}

type Orchestrator struct {
	cfg Config
	log utils.Logger
	now func() time.Time

	mu        sync.Mutex
	inFlight  map[string]bool
	lastStart map[string]time.Time

	// cleanup tracks pipelines that outlived a timeout and still hold a
	// browser session.
	cleanup sync.WaitGroup
}

func New(cfg Config) *Orchestrator {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Orchestrator{
		cfg:       cfg,
		log:       utils.OrNop(cfg.Log),
		now:       now,
		inFlight:  make(map[string]bool),
		lastStart: make(map[string]time.Time),
	}
}

// Registry exposes the instance registry the orchestrator writes health to.
func (o *Orchestrator) Registry() *instance.Registry {
	return o.cfg.Registry
}

// VerifyLogin runs the session acquirer only. It takes the same in-flight
// marker as a sync so the stored session artifact has a single writer, but
// it is not subject to the cooldown.
func (o *Orchestrator) VerifyLogin(ctx context.Context, instanceID string) error {
	rec, err := o.cfg.Registry.Get(instanceID)
	if err != nil {
		return err
	}
	o.mu.Lock()
	if o.inFlight[rec.ID] {
		o.mu.Unlock()
		return inProgress(rec.ID)
	}
	o.inFlight[rec.ID] = true
	o.mu.Unlock()
	defer o.release(rec.ID)

	res, err := o.cfg.Acquirer.Acquire(ctx, o.cfg.Engine, rec)
	if err != nil {
		o.log.Warnf("Login check for %s failed: %v", rec.BaseURL, err)
		o.cfg.Registry.UpdateHealth(rec.ID, func(h *instance.Health) {
			h.LoginOK = false
			h.LastError = err.Error()
			h.LastErrorCode = string(apperrors.CodeOf(err))
		})
		return err
	}
	o.closeSession(rec.ID, res.Session)

	version := o.cfg.Acquirer.SelectorVersion()
	o.cfg.Registry.UpdateHealth(rec.ID, func(h *instance.Health) {
		h.LoginOK = true
		h.SelectorVersion = version
	})
	o.log.Infof("Login check for %s succeeded (reused=%v)", rec.BaseURL, res.Reused)
	return nil
}

// SyncInstance runs one full sync. Concurrent calls for the same instance
// fail with SYNC_IN_PROGRESS and calls within the cooldown of the previous
// start fail with SYNC_COOLDOWN; neither is queued.
func (o *Orchestrator) SyncInstance(ctx context.Context, instanceID string) (*normalize.SyncSummary, error) {
	rec, err := o.cfg.Registry.Get(instanceID)
	if err != nil {
		return nil, err
	}
	started, err := o.acquire(rec.ID)
	if err != nil {
		return nil, err
	}
	defer o.release(rec.ID)

	runID := o.startRun(ctx, rec.ID, started)
	o.log.Infof("Syncing %s", rec.BaseURL)

	payload, err := o.race(ctx, rec)
	if err == nil {
		err = o.cfg.Store.SavePayload(ctx, payload)
	}
	if err != nil {
		err = classify(err)
		o.markFailure(rec.ID, err)
		o.finishRun(ctx, runID, storage.RunOutcome{
			FinishedAt:   o.now(),
			ErrorCode:    string(apperrors.CodeOf(err)),
			ErrorMessage: err.Error(),
		})
		o.log.Errorf("Sync of %s failed: %v", rec.BaseURL, err)
		return nil, err
	}

	fetched := payload.FetchedAt
	o.cfg.Registry.UpdateHealth(rec.ID, func(h *instance.Health) {
		h.LoginOK = true
		h.LastSuccessfulSyncAt = &fetched
		h.LastError = ""
		h.LastErrorCode = ""
		h.SelectorVersion = payload.SelectorVersion
	})
	summary := payload.Summary()
	o.finishRun(ctx, runID, storage.RunOutcome{
		FinishedAt:  o.now(),
		OK:          true,
		ModuleCount: summary.ModuleCount,
		RuleCount:   summary.RuleCount,
	})
	o.log.Infof("Synced %s: %d modules, %d rules, %d warnings", rec.BaseURL, summary.ModuleCount, summary.RuleCount, len(summary.Warnings))
	return &summary, nil
}

// Payload returns the last stored payload of an instance.
func (o *Orchestrator) Payload(ctx context.Context, instanceID string) (*normalize.Payload, error) {
	if _, err := o.cfg.Registry.Get(instanceID); err != nil {
		return nil, err
	}
	return o.cfg.Store.LoadPayload(ctx, instanceID)
}

func (o *Orchestrator) ListSyncRuns(ctx context.Context, instanceID string, limit int) ([]storage.SyncRun, error) {
	if _, err := o.cfg.Registry.Get(instanceID); err != nil {
		return nil, err
	}
	return o.cfg.Store.ListRuns(ctx, instanceID, limit)
}

// Wait blocks until every abandoned pipeline has released its browser
// session.
func (o *Orchestrator) Wait() {
	o.cleanup.Wait()
}

func (o *Orchestrator) acquire(id string) (time.Time, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.inFlight[id] {
		return time.Time{}, inProgress(id)
	}
	now := o.now()
	if last, ok := o.lastStart[id]; ok && o.cfg.Cooldown > 0 {
		if remaining := o.cfg.Cooldown - now.Sub(last); remaining > 0 {
			return time.Time{}, apperrors.Newf(apperrors.ErrCodeSyncCooldown,
				"instance %s was synced recently, retry in %ds", id, apperrors.RetryAfterSeconds(remaining)).
				WithRetryAfter(remaining)
		}
	}
	o.inFlight[id] = true
	o.lastStart[id] = now
	return now, nil
}

func (o *Orchestrator) release(id string) {
	o.mu.Lock()
	delete(o.inFlight, id)
	o.mu.Unlock()
}

func inProgress(id string) error {
	return apperrors.Newf(apperrors.ErrCodeSyncInProgress, "a sync for instance %s is already running", id)
}

type outcome struct {
	payload *normalize.Payload
	err     error
}

// race runs the pipeline in its own goroutine and waits for it, the timeout
// or ctx, whichever comes first. A pipeline that loses keeps running until
// its browser calls return and then closes its session; Wait observes that.
func (o *Orchestrator) race(ctx context.Context, rec instance.Record) (*normalize.Payload, error) {
	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan outcome, 1)

	o.cleanup.Add(1)
	go func() {
		defer o.cleanup.Done()
		p, err := o.pipeline(runCtx, rec)
		done <- outcome{payload: p, err: err}
	}()

	timer := time.NewTimer(o.cfg.Timeout)
	defer timer.Stop()

	select {
	case out := <-done:
		cancel()
		return out.payload, out.err
	case <-timer.C:
		cancel()
		return nil, apperrors.Newf(apperrors.ErrCodeSyncTimeout, "sync of %s did not finish within %s", rec.BaseURL, o.cfg.Timeout).
			WithMetadata("instanceId", rec.ID)
	case <-ctx.Done():
		cancel()
		return nil, apperrors.WrapError(ctx.Err(), apperrors.ErrCodeInternal, "sync was cancelled")
	}
}

func (o *Orchestrator) pipeline(ctx context.Context, rec instance.Record) (*normalize.Payload, error) {
	res, err := o.cfg.Acquirer.Acquire(ctx, o.cfg.Engine, rec)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := res.Session.Close(); err != nil {
			o.log.Debugf("Closing session for %s: %v", rec.ID, err)
		}
	}()

	scraped, err := o.cfg.Scraper.Scrape(ctx, res.Session.Page(), rec.BaseURL)
	if err != nil {
		return nil, err
	}
	for _, w := range scraped.Warnings {
		o.log.Warnf("%s: %s", rec.BaseURL, w)
	}
	return normalize.Normalize(rec.ID, scraped, o.now()), nil
}

// closeSession releases a session without making the caller wait for the
// browser.
func (o *Orchestrator) closeSession(id string, s browser.Session) {
	o.cleanup.Add(1)
	go func() {
		defer o.cleanup.Done()
		if err := s.Close(); err != nil {
			o.log.Debugf("Closing session for %s: %v", id, err)
		}
	}()
}

func (o *Orchestrator) markFailure(id string, err error) {
	code := apperrors.CodeOf(err)
	o.cfg.Registry.UpdateHealth(id, func(h *instance.Health) {
		if strings.HasPrefix(string(code), "LOGIN_") {
			h.LoginOK = false
		}
		h.LastError = err.Error()
		h.LastErrorCode = string(code)
	})
}

// classify keeps typed errors as they are and wraps anything else as an
// internal error.
func classify(err error) error {
	if apperrors.IsAppError(err) {
		return err
	}
	return apperrors.WrapError(err, apperrors.ErrCodeInternal, "sync failed")
}

func (o *Orchestrator) startRun(ctx context.Context, id string, started time.Time) string {
	runID, err := o.cfg.Store.StartRun(ctx, id, started)
	if err != nil {
		o.log.Warnf("Could not record sync run for %s: %v", id, err)
		return ""
	}
	return runID
}

func (o *Orchestrator) finishRun(ctx context.Context, runID string, out storage.RunOutcome) {
	if runID == "" {
		return
	}
	if err := o.cfg.Store.FinishRun(context.WithoutCancel(ctx), runID, out); err != nil {
		o.log.Warnf("Could not finish sync run %s: %v", runID, err)
	}
}
