package selectors

import (
	"errors"
	"fmt"
	"regexp"
)

// Field names a semantic element of the console markup.
type Field string

const (
	LoginUsername   Field = "login.username"
	LoginPassword   Field = "login.password"
	LoginSubmit     Field = "login.submit"
	LoginError      Field = "login.error"
	LoginOTP        Field = "login.otp"
	AdminChoice     Field = "login.adminChoice"
	AuthenticatedUI Field = "app.authenticated"
	AdminEntry      Field = "app.adminEntry"

	ModuleRow    Field = "module.row"
	ModuleName   Field = "module.name"
	ModulePhone  Field = "module.phone"
	ModuleActive Field = "module.active"
	ModuleLink   Field = "module.link"

	RuleRow    Field = "rule.row"
	RuleLabel  Field = "rule.label"
	RuleText   Field = "rule.text"
	RuleTarget Field = "rule.target"
	RuleActive Field = "rule.active"
	RuleOrder  Field = "rule.order"
)

// ErrNotFound is returned by Resolve when no candidate matched.
var ErrNotFound = errors.New("no selector candidate matched")

// Prober reports whether a selector currently matches at least one visible
// element.
type Prober interface {
	Probe(selector string) (bool, error)
}

// Contract is one versioned description of the console markup.
type Contract struct {
	Version string
	Fields  map[Field][]string

	// Label patterns for controls that are located by their text.
	AdminChoiceLabel *regexp.Regexp
	AdminEntryLabel  *regexp.Regexp

	// URL patterns.
	AuthProvider     []*regexp.Regexp
	AdminDestination []*regexp.Regexp

	AdminPath     string
	OverviewPaths []string
}

// Candidates returns the ordered candidate list for f.
func (c *Contract) Candidates(f Field) []string {
	return c.Fields[f]
}

// Resolve returns the first candidate for f that p reports as matching.
// Probe errors on one candidate do not stop the walk; the last one is
// reported if nothing matched.
func (c *Contract) Resolve(f Field, p Prober) (string, error) {
	var lastErr error
	for _, sel := range c.Fields[f] {
		ok, err := p.Probe(sel)
		if err != nil {
			lastErr = err
			continue
		}
		if ok {
			return sel, nil
		}
	}
	if lastErr != nil {
		return "", fmt.Errorf("%s: %w (last probe error: %v)", f, ErrNotFound, lastErr)
	}
	return "", fmt.Errorf("%s: %w", f, ErrNotFound)
}

// Present reports whether any candidate for f matches.
func (c *Contract) Present(f Field, p Prober) bool {
	_, err := c.Resolve(f, p)
	return err == nil
}

// MatchesAny reports whether u matches one of patterns.
func MatchesAny(u string, patterns []*regexp.Regexp) bool {
	for _, re := range patterns {
		if re.MatchString(u) {
			return true
		}
	}
	return false
}
