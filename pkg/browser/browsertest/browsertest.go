// Package browsertest provides an in-memory browser.Engine for tests.
//
// A Site is a map of URL to HTML. Clicking an element with an href or a
// data-goto attribute navigates; clicking a submit control (or pressing
// Enter in a form field) hands the filled values to Site.Submit.
package browsertest

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/PuerkitoBio/goquery"
	"github.com/sw33tLie/pbxsched/pkg/browser"
	"github.com/sw33tLie/pbxsched/pkg/selectors"
)

// Site holds the scripted pages.
type Site struct {
	mu    sync.Mutex
	pages map[string]string

	// Route may rewrite a navigation target, e.g. to redirect to a login
	// page when the session was not restored.
	Route func(p *Page, target string) string
	// Submit receives form values keyed by input name and returns the URL
	// to land on, or "" to stay on the current page.
	Submit func(p *Page, values map[string]string) string
}

func NewSite() *Site {
	return &Site{pages: make(map[string]string)}
}

// Handle registers html under rawURL.
func (s *Site) Handle(rawURL, html string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pages[rawURL] = html
}

func (s *Site) lookup(rawURL string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if html, ok := s.pages[rawURL]; ok {
		return html, true
	}
	if u, err := url.Parse(rawURL); err == nil && (u.RawQuery != "" || u.Fragment != "") {
		u.RawQuery, u.Fragment = "", ""
		html, ok := s.pages[u.String()]
		return html, ok
	}
	return "", false
}

// Engine hands out sessions on a Site.
type Engine struct {
	Site *Site

	mu       sync.Mutex
	sessions []*Session
	closed   atomic.Bool
}

func NewEngine(site *Site) *Engine {
	return &Engine{Site: site}
}

func (e *Engine) NewSession(ctx context.Context, storageStatePath string) (browser.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	restored := false
	if storageStatePath != "" {
		if _, err := os.Stat(storageStatePath); err == nil {
			restored = true
		}
	}
	s := &Session{page: &Page{site: e.Site, Restored: restored, values: make(map[string]string)}}
	e.mu.Lock()
	e.sessions = append(e.sessions, s)
	e.mu.Unlock()
	return s, nil
}

func (e *Engine) Close() error {
	e.closed.Store(true)
	return nil
}

// Sessions returns every session opened so far.
func (e *Engine) Sessions() []*Session {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]*Session(nil), e.sessions...)
}

type Session struct {
	page   *Page
	saves  atomic.Int32
	closed atomic.Bool
}

func (s *Session) Page() browser.Page { return s.page }

// FakePage exposes the concrete page for assertions.
func (s *Session) FakePage() *Page { return s.page }

func (s *Session) SaveStorageState(path string) error {
	s.saves.Add(1)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(`{"cookies":[],"origins":[]}`), 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func (s *Session) Saves() int { return int(s.saves.Load()) }

func (s *Session) Close() error {
	s.closed.Store(true)
	return nil
}

func (s *Session) Closed() bool { return s.closed.Load() }

// Page is a goquery-backed browser.Page.
type Page struct {
	site *Site

	// Restored is true when the session started from a storage state file.
	Restored bool

	mu      sync.Mutex
	url     string
	doc     *goquery.Document
	values  map[string]string
	history []string
}

func (p *Page) Goto(ctx context.Context, target string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	return p.navigate(target), nil
}

func (p *Page) navigate(target string) int {
	if p.site.Route != nil {
		target = p.site.Route(p, target)
	}
	html, ok := p.site.lookup(target)
	status := 200
	if !ok {
		status = 404
		html = "<html><head><title>Not Found</title></head><body></body></html>"
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return 500
	}
	p.mu.Lock()
	p.url = target
	p.doc = doc
	p.values = make(map[string]string)
	p.history = append(p.history, target)
	p.mu.Unlock()
	return status
}

func (p *Page) URL() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.url
}

// History lists every URL the page landed on.
func (p *Page) History() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.history...)
}

// Values returns a copy of the filled form values.
func (p *Page) Values() map[string]string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[string]string, len(p.values))
	for k, v := range p.values {
		out[k] = v
	}
	return out
}

func (p *Page) document() *goquery.Document {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.doc == nil {
		p.doc, _ = goquery.NewDocumentFromReader(strings.NewReader("<html></html>"))
	}
	return p.doc
}

func (p *Page) Title() string {
	return strings.TrimSpace(p.document().Find("title").First().Text())
}

func (p *Page) Content() (string, error) {
	return p.document().Html()
}

func (p *Page) find(selector string) *goquery.Selection {
	return selectors.Visible(p.document().Find(selector))
}

func (p *Page) Probe(selector string) (bool, error) {
	return p.find(selector).Length() > 0, nil
}

func (p *Page) Fill(selector, value string) error {
	el := p.find(selector).First()
	if el.Length() == 0 {
		return fmt.Errorf("fill: no element for %q", selector)
	}
	key := selector
	if name, ok := el.Attr("name"); ok {
		key = name
	}
	p.mu.Lock()
	p.values[key] = value
	p.mu.Unlock()
	return nil
}

func (p *Page) Click(selector string) error {
	el := p.find(selector).First()
	if el.Length() == 0 {
		return fmt.Errorf("click: no element for %q", selector)
	}
	p.activate(el)
	return nil
}

func (p *Page) ClickByText(selector string, label *regexp.Regexp) (bool, error) {
	var hit *goquery.Selection
	p.find(selector).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if label.MatchString(strings.TrimSpace(s.Text())) {
			hit = s
			return false
		}
		return true
	})
	if hit == nil {
		return false, nil
	}
	p.activate(hit)
	return true, nil
}

func (p *Page) Press(selector, key string) error {
	if p.find(selector).Length() == 0 {
		return fmt.Errorf("press: no element for %q", selector)
	}
	if key == "Enter" {
		p.submit()
	}
	return nil
}

func (p *Page) activate(el *goquery.Selection) {
	if target, ok := el.Attr("data-goto"); ok {
		p.navigate(p.resolve(target))
		return
	}
	if href, ok := el.Attr("href"); ok {
		p.navigate(p.resolve(href))
		return
	}
	t, _ := el.Attr("type")
	if t == "submit" || (goquery.NodeName(el) == "button" && t == "") {
		p.submit()
	}
}

func (p *Page) submit() {
	if p.site.Submit == nil {
		return
	}
	if next := p.site.Submit(p, p.Values()); next != "" {
		p.navigate(p.resolve(next))
	}
}

func (p *Page) resolve(ref string) string {
	base, err := url.Parse(p.URL())
	if err != nil {
		return ref
	}
	u, err := base.Parse(ref)
	if err != nil {
		return ref
	}
	return u.String()
}
