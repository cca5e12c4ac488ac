package browser

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	pw "github.com/playwright-community/playwright-go"
)

// Options configure the Playwright engine.
type Options struct {
	Headless          bool
	NavigationTimeout time.Duration
	ActionTimeout     time.Duration
	// InstallDriver downloads the driver and Chromium on first use.
	InstallDriver bool
}

// PlaywrightEngine drives a single Chromium process.
type PlaywrightEngine struct {
	pw      *pw.Playwright
	browser pw.Browser
	opts    Options
}

func NewPlaywright(opts Options) (*PlaywrightEngine, error) {
	if opts.NavigationTimeout <= 0 {
		opts.NavigationTimeout = 30 * time.Second
	}
	if opts.ActionTimeout <= 0 {
		opts.ActionTimeout = 10 * time.Second
	}
	if opts.InstallDriver {
		if err := pw.Install(&pw.RunOptions{Browsers: []string{"chromium"}}); err != nil {
			return nil, fmt.Errorf("could not install playwright driver: %w", err)
		}
	}
	p, err := pw.Run()
	if err != nil {
		return nil, fmt.Errorf("could not start playwright: %w", err)
	}
	b, err := p.Chromium.Launch(pw.BrowserTypeLaunchOptions{
		Headless: pw.Bool(opts.Headless),
	})
	if err != nil {
		_ = p.Stop()
		return nil, fmt.Errorf("could not launch chromium: %w", err)
	}
	return &PlaywrightEngine{pw: p, browser: b, opts: opts}, nil
}

func (e *PlaywrightEngine) NewSession(ctx context.Context, storageStatePath string) (Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var ctxOpts pw.BrowserNewContextOptions
	if storageStatePath != "" {
		if _, err := os.Stat(storageStatePath); err == nil {
			ctxOpts.StorageStatePath = pw.String(storageStatePath)
		}
	}
	bc, err := e.browser.NewContext(ctxOpts)
	if err != nil {
		return nil, fmt.Errorf("could not create browser context: %w", err)
	}
	bc.SetDefaultTimeout(ms(e.opts.ActionTimeout))
	bc.SetDefaultNavigationTimeout(ms(e.opts.NavigationTimeout))

	page, err := bc.NewPage()
	if err != nil {
		_ = bc.Close()
		return nil, fmt.Errorf("could not open page: %w", err)
	}
	return &playwrightSession{bc: bc, page: &playwrightPage{page: page}}, nil
}

func (e *PlaywrightEngine) Close() error {
	if err := e.browser.Close(); err != nil {
		_ = e.pw.Stop()
		return err
	}
	return e.pw.Stop()
}

type playwrightSession struct {
	bc   pw.BrowserContext
	page *playwrightPage
}

func (s *playwrightSession) Page() Page { return s.page }

func (s *playwrightSession) SaveStorageState(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if _, err := s.bc.StorageState(tmp); err != nil {
		return fmt.Errorf("could not export storage state: %w", err)
	}
	if err := os.Chmod(tmp, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func (s *playwrightSession) Close() error {
	return s.bc.Close()
}

type playwrightPage struct {
	page pw.Page
}

func (p *playwrightPage) Goto(ctx context.Context, url string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	resp, err := p.page.Goto(url, pw.PageGotoOptions{
		WaitUntil: pw.WaitUntilStateDomcontentloaded,
	})
	if err != nil {
		return 0, err
	}
	if resp == nil {
		return 0, nil
	}
	return resp.Status(), nil
}

func (p *playwrightPage) URL() string { return p.page.URL() }

func (p *playwrightPage) Title() string {
	t, _ := p.page.Title()
	return t
}

func (p *playwrightPage) Content() (string, error) {
	return p.page.Content()
}

func (p *playwrightPage) visible(selector string) pw.Locator {
	return p.page.Locator(selector + " >> visible=true")
}

func (p *playwrightPage) Probe(selector string) (bool, error) {
	n, err := p.visible(selector).Count()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (p *playwrightPage) Fill(selector, value string) error {
	return p.visible(selector).First().Fill(value)
}

func (p *playwrightPage) Click(selector string) error {
	return p.visible(selector).First().Click()
}

func (p *playwrightPage) ClickByText(selector string, label *regexp.Regexp) (bool, error) {
	loc := p.visible(selector).Filter(pw.LocatorFilterOptions{HasText: label})
	n, err := loc.Count()
	if err != nil || n == 0 {
		return false, err
	}
	return true, loc.First().Click()
}

func (p *playwrightPage) Press(selector, key string) error {
	return p.visible(selector).First().Press(key)
}

func ms(d time.Duration) float64 {
	return float64(d / time.Millisecond)
}
