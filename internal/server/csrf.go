package server

import (
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/sw33tLie/pbxsched/pkg/errors"
)

const (
	csrfHeader = "X-CSRF-Token"
	csrfCookie = "pbxsched_csrf"
	csrfTTL    = 12 * time.Hour
)

// csrfStore remembers issued tokens until they expire.
type csrfStore struct {
	ttl time.Duration

	mu     sync.Mutex
	tokens map[string]time.Time
}

func newCSRFStore(ttl time.Duration) *csrfStore {
	return &csrfStore{ttl: ttl, tokens: make(map[string]time.Time)}
}

func (c *csrfStore) issue(now time.Time) string {
	tok := uuid.NewString()
	c.mu.Lock()
	defer c.mu.Unlock()
	for t, exp := range c.tokens {
		if now.After(exp) {
			delete(c.tokens, t)
		}
	}
	c.tokens[tok] = now.Add(c.ttl)
	return tok
}

func (c *csrfStore) valid(tok string, now time.Time) bool {
	if tok == "" {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	exp, ok := c.tokens[tok]
	return ok && !now.After(exp)
}

func (s *Server) handleCSRF(w http.ResponseWriter, r *http.Request) {
	tok := s.csrf.issue(s.now())
	http.SetCookie(w, &http.Cookie{
		Name:     csrfCookie,
		Value:    tok,
		Path:     "/",
		HttpOnly: false,
		SameSite: http.SameSiteStrictMode,
		MaxAge:   int(csrfTTL / time.Second),
	})
	writeJSON(w, http.StatusOK, map[string]string{"csrfToken": tok})
}

func (s *Server) requireCSRF(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.csrf.valid(r.Header.Get(csrfHeader), s.now()) {
			e := apperrors.NewAppError(apperrors.ErrCodeValidation, "missing or unknown CSRF token")
			e.HTTPStatus = http.StatusForbidden
			writeError(w, e)
			return
		}
		next(w, r)
	}
}
