// Package scraper extracts raw module and rule rows from the console's
// administration pages. Output is purely structural; rule text is parsed
// elsewhere.
package scraper

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/time/rate"

	"github.com/sw33tLie/pbxsched/internal/utils"
	"github.com/sw33tLie/pbxsched/pkg/browser"
	apperrors "github.com/sw33tLie/pbxsched/pkg/errors"
	"github.com/sw33tLie/pbxsched/pkg/selectors"
)

type RawRule struct {
	Label    string
	Text     string
	Target   string
	Active   *bool
	Position int
}

type RawModule struct {
	ID        string
	Name      string
	Phone     string
	Active    *bool
	DetailURL string
	Rules     []RawRule
}

type Result struct {
	OverviewURL     string
	SelectorVersion string
	Modules         []RawModule
	Warnings        []string
}

type Config struct {
	Contract *selectors.Contract
	// Limiter paces navigations. Nil means unlimited.
	Limiter *rate.Limiter
	Log     utils.Logger
}

type Scraper struct {
	contract *selectors.Contract
	limiter  *rate.Limiter
	log      utils.Logger
}

func New(cfg Config) *Scraper {
	if cfg.Contract == nil {
		cfg.Contract = selectors.Default()
	}
	return &Scraper{contract: cfg.Contract, limiter: cfg.Limiter, log: utils.OrNop(cfg.Log)}
}

// NewLimiter returns a limiter allowing rps navigations per second, or nil
// when rps is not positive.
func NewLimiter(rps float64) *rate.Limiter {
	if rps <= 0 {
		return nil
	}
	return rate.NewLimiter(rate.Limit(rps), 1)
}

func (s *Scraper) SelectorVersion() string {
	return s.contract.Version
}

// Scrape reads every module row from the first reachable overview page.
// Structural failures are errors; detail-page problems become warnings.
func (s *Scraper) Scrape(ctx context.Context, page browser.Page, baseURL string) (*Result, error) {
	res := &Result{SelectorVersion: s.contract.Version}

	overviewURL, doc, err := s.openOverview(ctx, page, baseURL)
	if err != nil {
		return nil, err
	}
	res.OverviewURL = overviewURL

	rows := s.contract.First(selectors.ModuleRow, doc.Selection)
	if rows.Length() == 0 {
		return nil, apperrors.NewAppError(apperrors.ErrCodeScrapeMarkupMismatch, "no module rows matched on overview page").
			WithMetadata("url", overviewURL).
			WithMetadata("selectorVersion", s.contract.Version)
	}

	rows.Each(func(i int, row *goquery.Selection) {
		res.Modules = append(res.Modules, s.readModule(i, row, overviewURL, res))
	})

	for i := range res.Modules {
		m := &res.Modules[i]
		if len(m.Rules) > 0 || m.DetailURL == "" {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		s.readDetail(ctx, page, m, overviewURL, res)
	}

	s.log.Debugf("scraped %d modules from %s", len(res.Modules), overviewURL)
	return res, nil
}

func (s *Scraper) openOverview(ctx context.Context, page browser.Page, baseURL string) (string, *goquery.Document, error) {
	base := strings.TrimRight(baseURL, "/")
	var tried []string
	for _, p := range s.contract.OverviewPaths {
		target := base + p
		tried = append(tried, target)
		status, err := s.navigate(ctx, page, target)
		if err != nil {
			if ctx.Err() != nil {
				return "", nil, ctx.Err()
			}
			s.log.Debugf("overview candidate %s failed: %v", target, err)
			continue
		}
		if status >= 400 {
			s.log.Debugf("overview candidate %s returned %d", target, status)
			continue
		}
		doc, err := document(page)
		if err != nil {
			return "", nil, apperrors.WrapError(err, apperrors.ErrCodeInternal, "could not read overview page")
		}
		return target, doc, nil
	}
	return "", nil, apperrors.NewAppError(apperrors.ErrCodeScrapeMarkupMismatch, "no overview page reachable").
		WithDetails(strings.Join(tried, ", ")).
		WithMetadata("url", page.URL())
}

func (s *Scraper) readModule(i int, row *goquery.Selection, overviewURL string, res *Result) RawModule {
	c := s.contract
	m := RawModule{
		Name:   text(c.First(selectors.ModuleName, row)),
		Phone:  text(c.First(selectors.ModulePhone, row)),
		Active: activeFlag(row, c.First(selectors.ModuleActive, row)),
	}
	for _, attr := range []string{"data-module-id", "data-id", "id"} {
		if v, ok := row.Attr(attr); ok && strings.TrimSpace(v) != "" {
			m.ID = strings.TrimSpace(v)
			break
		}
	}
	if m.Name == "" {
		m.Name = fmt.Sprintf("Modul %d", i+1)
		res.Warnings = append(res.Warnings, fmt.Sprintf("module row %d: no name found, using %q", i+1, m.Name))
	}
	if href, ok := c.First(selectors.ModuleLink, row).First().Attr("href"); ok {
		m.DetailURL = resolve(overviewURL, href)
	}
	m.Rules = s.readRules(c.First(selectors.RuleRow, row))
	return m
}

func (s *Scraper) readRules(rows *goquery.Selection) []RawRule {
	c := s.contract
	var rules []RawRule
	rows.Each(func(j int, row *goquery.Selection) {
		r := RawRule{
			Label:    text(c.First(selectors.RuleLabel, row)),
			Text:     text(c.First(selectors.RuleText, row)),
			Target:   text(c.First(selectors.RuleTarget, row)),
			Active:   activeFlag(row, c.First(selectors.RuleActive, row)),
			Position: j + 1,
		}
		if r.Text == "" {
			r.Text = text(row)
		}
		if n, ok := leadingInt(text(c.First(selectors.RuleOrder, row))); ok {
			r.Position = n
		}
		rules = append(rules, r)
	})
	return rules
}

// readDetail loads rules from a module's detail page and goes back to the
// overview. Nothing here fails the scrape.
func (s *Scraper) readDetail(ctx context.Context, page browser.Page, m *RawModule, overviewURL string, res *Result) {
	warn := func(format string, args ...interface{}) {
		msg := fmt.Sprintf("module %q: ", m.Name) + fmt.Sprintf(format, args...)
		res.Warnings = append(res.Warnings, msg)
		s.log.Warnf("%s", msg)
	}

	status, err := s.navigate(ctx, page, m.DetailURL)
	switch {
	case err != nil:
		warn("detail page %s could not be opened: %v", m.DetailURL, err)
	case status >= 400:
		warn("detail page %s returned status %d", m.DetailURL, status)
	default:
		doc, err := document(page)
		if err != nil {
			warn("detail page %s could not be read: %v", m.DetailURL, err)
			break
		}
		m.Rules = s.readRules(s.contract.First(selectors.RuleRow, doc.Selection))
		if len(m.Rules) == 0 {
			warn("no rules found on detail page %s", m.DetailURL)
		}
	}

	if _, err := s.navigate(ctx, page, overviewURL); err != nil {
		warn("could not return to overview: %v", err)
	}
}

func (s *Scraper) navigate(ctx context.Context, page browser.Page, target string) (int, error) {
	if s.limiter != nil {
		if err := s.limiter.Wait(ctx); err != nil {
			return 0, err
		}
	}
	return page.Goto(ctx, target)
}

func document(page browser.Page) (*goquery.Document, error) {
	html, err := page.Content()
	if err != nil {
		return nil, err
	}
	return goquery.NewDocumentFromReader(strings.NewReader(html))
}

func text(sel *goquery.Selection) string {
	if sel.Length() == 0 {
		return ""
	}
	return strings.Join(strings.Fields(sel.First().Text()), " ")
}

func resolve(baseURL, ref string) string {
	b, err := url.Parse(baseURL)
	if err != nil {
		return ref
	}
	u, err := b.Parse(strings.TrimSpace(ref))
	if err != nil {
		return ref
	}
	u.Fragment = ""
	return u.String()
}

var leadingDigits = regexp.MustCompile(`\d+`)

func leadingInt(s string) (int, bool) {
	m := leadingDigits.FindString(s)
	if m == "" {
		return 0, false
	}
	n, err := strconv.Atoi(m)
	return n, err == nil
}

var (
	inactiveWords = regexp.MustCompile(`(?i)\b(inaktiv|deaktiviert|inactive|disabled|aus)\b`)
	activeWords   = regexp.MustCompile(`(?i)\b(aktiv|aktiviert|active|enabled|an|ein)\b`)
)

// activeFlag reads an on/off state from the row's data-active attribute or
// from the matched status element. Nil means unknown.
func activeFlag(row, status *goquery.Selection) *bool {
	if v, ok := row.Attr("data-active"); ok {
		return boolPtr(v == "true" || v == "1")
	}
	if status.Length() == 0 {
		return nil
	}
	el := status.First()
	if goquery.NodeName(el) == "input" {
		_, checked := el.Attr("checked")
		return boolPtr(checked)
	}
	if v, ok := el.Attr("data-active"); ok {
		return boolPtr(v == "true" || v == "1")
	}
	class, _ := el.Attr("class")
	probe := el.Text() + " " + strings.ReplaceAll(class, "-", " ")
	switch {
	case inactiveWords.MatchString(probe):
		return boolPtr(false)
	case activeWords.MatchString(probe):
		return boolPtr(true)
	}
	return nil
}

func boolPtr(b bool) *bool { return &b }
