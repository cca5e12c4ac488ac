package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sw33tLie/pbxsched/internal/utils"
	"github.com/sw33tLie/pbxsched/pkg/browser"
	"github.com/sw33tLie/pbxsched/pkg/instance"
	"github.com/sw33tLie/pbxsched/pkg/login"
	"github.com/sw33tLie/pbxsched/pkg/orchestrator"
	"github.com/sw33tLie/pbxsched/pkg/scraper"
	"github.com/sw33tLie/pbxsched/pkg/storage"
)

type nopSession struct{}

func (nopSession) Page() browser.Page                 { return nil }
func (nopSession) SaveStorageState(path string) error { return nil }
func (nopSession) Close() error                       { return nil }

type okAcquirer struct{}

func (okAcquirer) Acquire(ctx context.Context, engine browser.Engine, rec instance.Record) (*login.Result, error) {
	return &login.Result{Session: nopSession{}}, nil
}

func (okAcquirer) SelectorVersion() string { return "test-1" }

// twoModules routes the same number from two modules with overlapping
// Monday windows.
type twoModules struct{}

func (twoModules) Scrape(ctx context.Context, page browser.Page, baseURL string) (*scraper.Result, error) {
	return &scraper.Result{
		SelectorVersion: "test-1",
		Modules: []scraper.RawModule{
			{ID: "m-1", Name: "Zentrale", Phone: "+49301234", Rules: []scraper.RawRule{
				{Text: "Montag bis Freitag 08:00-12:00", Target: "Mailbox", Position: 1},
			}},
			{ID: "m-2", Name: "Vertretung", Phone: "+49301234", Rules: []scraper.RawRule{
				{Text: "Montag 11:00-13:00", Target: "Nummer 030987654", Position: 1},
			}},
		},
	}, nil
}

func newTestServer(t *testing.T, user, pass string) (*Server, *instance.Registry) {
	t.Helper()
	db, err := storage.Open(filepath.Join(t.TempDir(), "pbx.sqlite"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	reg := instance.NewRegistry(instance.DefaultHostingDomain, nil)
	orch := orchestrator.New(orchestrator.Config{
		Registry: reg,
		Acquirer: okAcquirer{},
		Scraper:  twoModules{},
		Store:    db,
		Timeout:  5 * time.Second,
		Cooldown: time.Minute,
	})
	srv := New(orch, user, pass)
	srv.Log = utils.NopLogger{}
	return srv, reg
}

func do(t *testing.T, h http.Handler, method, target, token, body string) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	if token != "" {
		req.Header.Set(csrfHeader, token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var out map[string]interface{}
	_ = json.Unmarshal(rec.Body.Bytes(), &out)
	return rec, out
}

func csrfToken(t *testing.T, h http.Handler) string {
	t.Helper()
	rec, out := do(t, h, http.MethodGet, "/api/csrf", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	tok, _ := out["csrfToken"].(string)
	require.NotEmpty(t, tok)

	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, tok, cookies[0].Value)
	return tok
}

func TestRegisterRequiresCSRF(t *testing.T) {
	srv, _ := newTestServer(t, "", "")
	h := srv.Handler()
	body := `{"url":"Acme","username":"admin","password":"s3cret-pw"}`

	rec, out := do(t, h, http.MethodPost, "/api/instances", "", body)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "VALIDATION_ERROR", out["code"])

	rec, _ = do(t, h, http.MethodPost, "/api/instances", "forged", body)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	tok := csrfToken(t, h)
	rec, out = do(t, h, http.MethodPost, "/api/instances", tok, body)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "https://acme.cloudpbx.de", out["baseUrl"])
	assert.Equal(t, instance.ID("https://acme.cloudpbx.de"), out["instanceId"])
	assert.NotContains(t, rec.Body.String(), "s3cret-pw")

	rec, _ = do(t, h, http.MethodGet, "/api/instances", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), "s3cret-pw")
}

func TestRegisterValidation(t *testing.T) {
	srv, _ := newTestServer(t, "", "")
	h := srv.Handler()
	tok := csrfToken(t, h)

	rec, out := do(t, h, http.MethodPost, "/api/instances", tok, `{"url":"ftp://example.org"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "VALIDATION_ERROR", out["code"])
	meta, _ := out["metadata"].(map[string]interface{})
	require.NotNil(t, meta)
	fields, _ := meta["fields"].([]interface{})
	assert.Len(t, fields, 3)

	rec, _ = do(t, h, http.MethodPost, "/api/instances", tok, `{not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSyncScheduleAndCooldown(t *testing.T) {
	srv, reg := newTestServer(t, "", "")
	h := srv.Handler()
	rec, err := reg.Register(instance.Registration{BaseURL: "acme", Username: "admin", Password: "pw"})
	require.NoError(t, err)
	tok := csrfToken(t, h)
	base := "/api/instances/" + rec.ID

	resp, out := do(t, h, http.MethodPost, base+"/sync", tok, "")
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	assert.EqualValues(t, 2, out["moduleCount"])
	assert.EqualValues(t, 2, out["ruleCount"])

	resp, out = do(t, h, http.MethodPost, base+"/sync", tok, "")
	assert.Equal(t, http.StatusTooManyRequests, resp.Code)
	assert.Equal(t, "SYNC_COOLDOWN", out["code"])
	assert.Equal(t, "60", resp.Header().Get("Retry-After"))

	// 2026-03-02 is a Monday.
	resp, out = do(t, h, http.MethodGet, base+"/schedule?date=2026-03-02", "", "")
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, "2026-03-02", out["date"])
	assert.Len(t, out["blocks"], 2)
	conflicts, _ := out["conflicts"].([]interface{})
	require.Len(t, conflicts, 1)
	higher := conflicts[0].(map[string]interface{})["higher"].(map[string]interface{})
	assert.Equal(t, "m-1", higher["moduleId"])

	resp, out = do(t, h, http.MethodGet, base+"/schedule?date=2026-03-07", "", "")
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Len(t, out["blocks"], 0)

	resp, _ = do(t, h, http.MethodGet, base+"/schedule?date=02.03.2026", "", "")
	assert.Equal(t, http.StatusBadRequest, resp.Code)

	resp, out = do(t, h, http.MethodGet, base+"/health", "", "")
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, true, out["loginOk"])
	assert.NotEmpty(t, out["lastSuccessfulSyncAt"])

	resp, _ = do(t, h, http.MethodGet, base+"/modules", "", "")
	assert.Equal(t, http.StatusOK, resp.Code)

	resp, _ = do(t, h, http.MethodGet, base+"/runs?limit=5", "", "")
	require.Equal(t, http.StatusOK, resp.Code)
	var runs []storage.SyncRun
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &runs))
	require.Len(t, runs, 1)
	assert.True(t, runs[0].OK)
}

func TestVerifyRoute(t *testing.T) {
	srv, reg := newTestServer(t, "", "")
	h := srv.Handler()
	rec, err := reg.Register(instance.Registration{BaseURL: "acme", Username: "admin", Password: "pw"})
	require.NoError(t, err)

	resp, out := do(t, h, http.MethodPost, "/api/instances/"+rec.ID+"/verify", csrfToken(t, h), "")
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, true, out["loginOk"])
	srv.Orch.Wait()
}

func TestUnknownInstance(t *testing.T) {
	srv, _ := newTestServer(t, "", "")
	h := srv.Handler()

	for _, path := range []string{"/health", "/modules", "/schedule", "/runs"} {
		resp, out := do(t, h, http.MethodGet, "/api/instances/inst_missing"+path, "", "")
		assert.Equal(t, http.StatusNotFound, resp.Code, path)
		assert.Equal(t, "NOT_FOUND", out["code"], path)
	}
}

func TestModulesBeforeFirstSync(t *testing.T) {
	srv, reg := newTestServer(t, "", "")
	rec, err := reg.Register(instance.Registration{BaseURL: "acme", Username: "admin", Password: "pw"})
	require.NoError(t, err)

	resp, out := do(t, srv.Handler(), http.MethodGet, "/api/instances/"+rec.ID+"/modules", "", "")
	assert.Equal(t, http.StatusNotFound, resp.Code)
	assert.Equal(t, "NOT_FOUND", out["code"])
}

func TestBasicAuth(t *testing.T) {
	srv, _ := newTestServer(t, "ops", "hunter2")
	h := srv.Handler()

	resp, _ := do(t, h, http.MethodGet, "/api/instances", "", "")
	assert.Equal(t, http.StatusUnauthorized, resp.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/instances", nil)
	req.SetBasicAuth("ops", "hunter2")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestScheduleSyncsRejectsBadSpec(t *testing.T) {
	srv, _ := newTestServer(t, "", "")
	err := srv.ScheduleSyncs("every now and then", func() []string { return nil }, 1)
	assert.Error(t, err)

	require.NoError(t, srv.ScheduleSyncs("@hourly", func() []string { return nil }, 1))
	require.NoError(t, srv.Shutdown(context.Background()))
}
