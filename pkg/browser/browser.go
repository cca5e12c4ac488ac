// Package browser wraps the headless browser behind small interfaces so the
// login and scrape code can run against Playwright or an in-memory fake.
package browser

import (
	"context"
	"errors"
	"regexp"
	"time"
)

// ErrWaitTimeout is returned by WaitUntil when the condition never held.
var ErrWaitTimeout = errors.New("browser: wait timed out")

// Page is one browser tab.
type Page interface {
	// Goto navigates and returns the HTTP status of the main document, or
	// zero when the browser reported none.
	Goto(ctx context.Context, url string) (int, error)
	URL() string
	Title() string
	Content() (string, error)

	// Probe reports whether selector matches at least one visible element.
	Probe(selector string) (bool, error)
	Fill(selector, value string) error
	Click(selector string) error
	// ClickByText clicks the first visible match of selector whose text
	// matches label. It reports false when no such element exists.
	ClickByText(selector string, label *regexp.Regexp) (bool, error)
	Press(selector, key string) error
}

// Session is an isolated browser context with one page.
type Session interface {
	Page() Page
	// SaveStorageState writes cookies and local storage to path, replacing
	// any previous file atomically.
	SaveStorageState(path string) error
	Close() error
}

// Engine launches sessions. storageStatePath may be empty or point at a
// missing file, in which case the session starts clean.
type Engine interface {
	NewSession(ctx context.Context, storageStatePath string) (Session, error)
	Close() error
}

// WaitUntil polls cond every interval until it reports true, the timeout
// elapses or ctx is done. Errors from cond count as "not yet".
func WaitUntil(ctx context.Context, timeout, interval time.Duration, cond func() (bool, error)) error {
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	deadline := time.Now().Add(timeout)
	for {
		if ok, err := cond(); err == nil && ok {
			return nil
		}
		if !time.Now().Before(deadline) {
			return ErrWaitTimeout
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
		}
	}
}
