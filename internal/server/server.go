package server

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/sw33tLie/pbxsched/internal/utils"
	"github.com/sw33tLie/pbxsched/pkg/orchestrator"
)

type Server struct {
	Orch     *orchestrator.Orchestrator
	Username string
	Password string
	Log      utils.Logger

	csrf *csrfStore
	now  func() time.Time

	mu   sync.Mutex
	cron *cron.Cron
	http *http.Server
}

func New(orch *orchestrator.Orchestrator, user, pass string) *Server {
	return &Server{
		Orch:     orch,
		Username: user,
		Password: pass,
		Log:      utils.Log,
		csrf:     newCSRFStore(csrfTTL),
		now:      time.Now,
	}
}

// Handler returns the API routes. Mutating routes need a token from
// GET /api/csrf in the X-CSRF-Token header.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/csrf", s.basicAuth(s.handleCSRF))
	mux.HandleFunc("GET /api/instances", s.basicAuth(s.handleListInstances))
	mux.HandleFunc("POST /api/instances", s.basicAuth(s.requireCSRF(s.handleRegister)))
	mux.HandleFunc("GET /api/instances/{id}/health", s.basicAuth(s.handleHealth))
	mux.HandleFunc("POST /api/instances/{id}/verify", s.basicAuth(s.requireCSRF(s.handleVerify)))
	mux.HandleFunc("POST /api/instances/{id}/sync", s.basicAuth(s.requireCSRF(s.handleSync)))
	mux.HandleFunc("GET /api/instances/{id}/modules", s.basicAuth(s.handleModules))
	mux.HandleFunc("GET /api/instances/{id}/schedule", s.basicAuth(s.handleSchedule))
	mux.HandleFunc("GET /api/instances/{id}/runs", s.basicAuth(s.handleRuns))

	return mux
}

func (s *Server) Start(addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.mu.Lock()
	s.http = srv
	s.mu.Unlock()

	utils.OrNop(s.Log).Infof("Starting server on %s", addr)
	err := srv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// ScheduleSyncs runs SyncAll for ids() on the given cron spec. Standard five
// field specs and descriptors such as "@hourly" are accepted.
func (s *Server) ScheduleSyncs(spec string, ids func() []string, concurrency int) error {
	log := utils.OrNop(s.Log)
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron == nil {
		s.cron = cron.New(cron.WithParser(parser))
	}
	_, err := s.cron.AddFunc(spec, func() {
		results := s.Orch.SyncAll(context.Background(), ids(), concurrency, nil)
		for _, r := range results {
			if r.Err != nil {
				log.Warnf("Scheduled sync of %s failed: %v", r.InstanceID, r.Err)
			}
		}
	})
	if err != nil {
		return err
	}
	s.cron.Start()
	log.Infof("Scheduled syncs with spec %q", spec)
	return nil
}

// Shutdown stops the scheduler, waits for running jobs and closes the
// listener.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	c, srv := s.cron, s.http
	s.cron = nil
	s.mu.Unlock()

	if c != nil {
		select {
		case <-c.Stop().Done():
		case <-ctx.Done():
		}
	}
	if srv != nil {
		return srv.Shutdown(ctx)
	}
	return nil
}

func (s *Server) basicAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.Username == "" && s.Password == "" {
			next(w, r)
			return
		}
		user, pass, ok := r.BasicAuth()
		if !ok || user != s.Username || pass != s.Password {
			w.Header().Set("WWW-Authenticate", `Basic realm="Restricted"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}
