package orchestrator

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sw33tLie/pbxsched/pkg/browser"
	apperrors "github.com/sw33tLie/pbxsched/pkg/errors"
	"github.com/sw33tLie/pbxsched/pkg/instance"
	"github.com/sw33tLie/pbxsched/pkg/login"
	"github.com/sw33tLie/pbxsched/pkg/scraper"
	"github.com/sw33tLie/pbxsched/pkg/storage"
)

type fakeSession struct {
	closed int32
}

func (s *fakeSession) Page() browser.Page                 { return nil }
func (s *fakeSession) SaveStorageState(path string) error { return nil }
func (s *fakeSession) Close() error {
	atomic.AddInt32(&s.closed, 1)
	return nil
}

type fakeAcquirer struct {
	err     error
	entered chan struct{} // optional; signalled when Acquire starts
	block   chan struct{} // optional; Acquire waits on it, ignoring ctx

	mu       sync.Mutex
	sessions []*fakeSession
}

func (a *fakeAcquirer) Acquire(ctx context.Context, engine browser.Engine, rec instance.Record) (*login.Result, error) {
	if a.entered != nil {
		a.entered <- struct{}{}
	}
	if a.block != nil {
		<-a.block
	}
	if a.err != nil {
		return nil, a.err
	}
	s := &fakeSession{}
	a.mu.Lock()
	a.sessions = append(a.sessions, s)
	a.mu.Unlock()
	return &login.Result{Session: s}, nil
}

func (a *fakeAcquirer) SelectorVersion() string { return "test-1" }

func (a *fakeAcquirer) closedSessions() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	n := 0
	for _, s := range a.sessions {
		n += int(atomic.LoadInt32(&s.closed))
	}
	return n
}

type fakeScraper struct {
	err error
}

func (s fakeScraper) Scrape(ctx context.Context, page browser.Page, baseURL string) (*scraper.Result, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &scraper.Result{
		SelectorVersion: "test-1",
		Modules: []scraper.RawModule{{
			ID: "m-1", Name: "Zentrale", Phone: "+49 30 1234560",
			Rules: []scraper.RawRule{{Text: "Montag bis Freitag 08:00-17:00", Target: "Mailbox", Position: 1}},
		}},
	}, nil
}

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type fixture struct {
	orch     *Orchestrator
	registry *instance.Registry
	acquirer *fakeAcquirer
	clock    *clock
	id       string
}

func newFixture(t *testing.T, acq *fakeAcquirer, scr Scraper, mutate func(*Config)) *fixture {
	t.Helper()
	db, err := storage.Open(filepath.Join(t.TempDir(), "pbx.sqlite"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	reg := instance.NewRegistry(instance.DefaultHostingDomain, nil)
	rec, err := reg.Register(instance.Registration{BaseURL: "acme", Username: "admin", Password: "secret"})
	require.NoError(t, err)

	clk := &clock{t: time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)}
	cfg := Config{
		Registry: reg,
		Acquirer: acq,
		Scraper:  scr,
		Store:    db,
		Timeout:  5 * time.Second,
		Cooldown: time.Minute,
		Now:      clk.Now,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	return &fixture{orch: New(cfg), registry: reg, acquirer: acq, clock: clk, id: rec.ID}
}

func TestSyncInstanceSuccess(t *testing.T) {
	f := newFixture(t, &fakeAcquirer{}, fakeScraper{}, nil)
	ctx := context.Background()

	summary, err := f.orch.SyncInstance(ctx, f.id)
	require.NoError(t, err)
	assert.Equal(t, f.id, summary.InstanceID)
	assert.Equal(t, 1, summary.ModuleCount)
	assert.Equal(t, 1, summary.RuleCount)

	h, err := f.registry.Health(f.id)
	require.NoError(t, err)
	assert.True(t, h.LoginOK)
	require.NotNil(t, h.LastSuccessfulSyncAt)
	assert.True(t, h.LastSuccessfulSyncAt.Equal(summary.FetchedAt))
	assert.Equal(t, "test-1", h.SelectorVersion)
	assert.Empty(t, h.LastErrorCode)

	p, err := f.orch.Payload(ctx, f.id)
	require.NoError(t, err)
	require.Len(t, p.Modules, 1)
	assert.Equal(t, "Zentrale", p.Modules[0].ModuleName)

	runs, err := f.orch.ListSyncRuns(ctx, f.id, 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.True(t, runs[0].OK)
	assert.Equal(t, 1, runs[0].RuleCount)

	f.orch.Wait()
	assert.Equal(t, 1, f.acquirer.closedSessions())
}

func TestSyncInstanceRejectsConcurrentRun(t *testing.T) {
	acq := &fakeAcquirer{entered: make(chan struct{}, 1), block: make(chan struct{})}
	f := newFixture(t, acq, fakeScraper{}, nil)
	ctx := context.Background()

	firstErr := make(chan error, 1)
	go func() {
		_, err := f.orch.SyncInstance(ctx, f.id)
		firstErr <- err
	}()
	<-acq.entered

	_, err := f.orch.SyncInstance(ctx, f.id)
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeSyncInProgress, apperrors.CodeOf(err))
	assert.Equal(t, 409, apperrors.GetAppError(err).HTTPStatus)

	err = f.orch.VerifyLogin(ctx, f.id)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeSyncInProgress))

	close(acq.block)
	require.NoError(t, <-firstErr)
}

func TestSyncInstanceCooldown(t *testing.T) {
	f := newFixture(t, &fakeAcquirer{}, fakeScraper{}, nil)
	ctx := context.Background()

	_, err := f.orch.SyncInstance(ctx, f.id)
	require.NoError(t, err)

	f.clock.Advance(20 * time.Second)
	_, err = f.orch.SyncInstance(ctx, f.id)
	require.Error(t, err)
	appErr := apperrors.GetAppError(err)
	require.NotNil(t, appErr)
	assert.Equal(t, apperrors.ErrCodeSyncCooldown, appErr.Code)
	assert.Equal(t, 40*time.Second, appErr.RetryAfter)
	assert.Equal(t, 40, appErr.Metadata["retryAfterSeconds"])

	f.clock.Advance(41 * time.Second)
	_, err = f.orch.SyncInstance(ctx, f.id)
	assert.NoError(t, err)
}

func TestSyncInstanceCooldownAppliesAfterFailure(t *testing.T) {
	rejected := apperrors.NewAppError(apperrors.ErrCodeLoginCredentialsRejected, "bad password")
	f := newFixture(t, &fakeAcquirer{err: rejected}, fakeScraper{}, nil)

	_, err := f.orch.SyncInstance(context.Background(), f.id)
	require.Error(t, err)

	_, err = f.orch.SyncInstance(context.Background(), f.id)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeSyncCooldown))
}

func TestSyncInstanceTimeout(t *testing.T) {
	acq := &fakeAcquirer{block: make(chan struct{})}
	f := newFixture(t, acq, fakeScraper{}, func(c *Config) {
		c.Timeout = 50 * time.Millisecond
		c.Cooldown = 0
	})

	_, err := f.orch.SyncInstance(context.Background(), f.id)
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeSyncTimeout, apperrors.CodeOf(err))

	f.orch.mu.Lock()
	assert.Empty(t, f.orch.inFlight)
	f.orch.mu.Unlock()

	h, err := f.registry.Health(f.id)
	require.NoError(t, err)
	assert.Equal(t, "SYNC_TIMEOUT", h.LastErrorCode)

	// The abandoned pipeline still releases its session.
	close(acq.block)
	f.orch.Wait()
	assert.Equal(t, 1, acq.closedSessions())

	_, err = f.orch.Payload(context.Background(), f.id)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeNotFound))
}

func TestSyncInstanceFailureKeepsCode(t *testing.T) {
	tests := []struct {
		name     string
		acquirer *fakeAcquirer
		scraper  fakeScraper
		wantCode apperrors.ErrorCode
	}{
		{
			name:     "credentials rejected",
			acquirer: &fakeAcquirer{err: apperrors.NewAppError(apperrors.ErrCodeLoginCredentialsRejected, "bad password")},
			wantCode: apperrors.ErrCodeLoginCredentialsRejected,
		},
		{
			name:     "markup mismatch",
			acquirer: &fakeAcquirer{},
			scraper:  fakeScraper{err: apperrors.NewAppError(apperrors.ErrCodeScrapeMarkupMismatch, "no module rows")},
			wantCode: apperrors.ErrCodeScrapeMarkupMismatch,
		},
		{
			name:     "foreign error",
			acquirer: &fakeAcquirer{},
			scraper:  fakeScraper{err: errors.New("boom")},
			wantCode: apperrors.ErrCodeInternal,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, tt.acquirer, tt.scraper, nil)
			ctx := context.Background()

			_, err := f.orch.SyncInstance(ctx, f.id)
			require.Error(t, err)
			assert.Equal(t, tt.wantCode, apperrors.CodeOf(err))

			h, err := f.registry.Health(f.id)
			require.NoError(t, err)
			assert.Equal(t, string(tt.wantCode), h.LastErrorCode)
			assert.NotEmpty(t, h.LastError)
			assert.Nil(t, h.LastSuccessfulSyncAt)

			runs, err := f.orch.ListSyncRuns(ctx, f.id, 0)
			require.NoError(t, err)
			require.Len(t, runs, 1)
			assert.False(t, runs[0].OK)
			assert.Equal(t, string(tt.wantCode), runs[0].ErrorCode)

			f.orch.mu.Lock()
			assert.Empty(t, f.orch.inFlight)
			f.orch.mu.Unlock()
		})
	}
}

func TestUnknownInstance(t *testing.T) {
	f := newFixture(t, &fakeAcquirer{}, fakeScraper{}, nil)
	_, err := f.orch.SyncInstance(context.Background(), "inst_missing")
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeNotFound))
	err = f.orch.VerifyLogin(context.Background(), "inst_missing")
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeNotFound))
}

func TestVerifyLogin(t *testing.T) {
	f := newFixture(t, &fakeAcquirer{}, fakeScraper{}, nil)

	require.NoError(t, f.orch.VerifyLogin(context.Background(), f.id))
	f.orch.Wait()
	assert.Equal(t, 1, f.acquirer.closedSessions())

	h, err := f.registry.Health(f.id)
	require.NoError(t, err)
	assert.True(t, h.LoginOK)
	assert.Nil(t, h.LastSuccessfulSyncAt)

	// Verification does not start the sync cooldown.
	_, err = f.orch.SyncInstance(context.Background(), f.id)
	assert.NoError(t, err)
}

func TestVerifyLoginPropagatesError(t *testing.T) {
	mismatch := apperrors.NewAppError(apperrors.ErrCodeLoginSelectorMismatch, "form changed")
	f := newFixture(t, &fakeAcquirer{err: mismatch}, fakeScraper{}, nil)

	err := f.orch.VerifyLogin(context.Background(), f.id)
	assert.Same(t, mismatch, err)

	h, _ := f.registry.Health(f.id)
	assert.False(t, h.LoginOK)
	assert.Equal(t, "LOGIN_SELECTOR_MISMATCH", h.LastErrorCode)
}

func TestSyncAll(t *testing.T) {
	f := newFixture(t, &fakeAcquirer{}, fakeScraper{}, nil)
	other, err := f.registry.Register(instance.Registration{BaseURL: "beta", Username: "admin", Password: "pw"})
	require.NoError(t, err)

	var mu sync.Mutex
	seen := map[string]bool{}
	results := f.orch.SyncAll(context.Background(), []string{f.id, other.ID, "inst_missing"}, 2, func(r SyncResult) {
		mu.Lock()
		seen[r.InstanceID] = true
		mu.Unlock()
	})

	require.Len(t, results, 3)
	assert.Equal(t, f.id, results[0].InstanceID)
	assert.NoError(t, results[0].Err)
	assert.NoError(t, results[1].Err)
	assert.True(t, apperrors.HasCode(results[2].Err, apperrors.ErrCodeNotFound))
	assert.Len(t, seen, 3)
}
