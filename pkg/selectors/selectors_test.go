package selectors

import (
	"errors"
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"
)

type fakeProber map[string]bool

func (f fakeProber) Probe(sel string) (bool, error) {
	if sel == "broken" {
		return false, errors.New("invalid selector")
	}
	return f[sel], nil
}

func TestResolveFirstMatchWins(t *testing.T) {
	c := &Contract{Fields: map[Field][]string{
		LoginUsername: {"broken", "#a", "#b", "#c"},
	}}

	got, err := c.Resolve(LoginUsername, fakeProber{"#b": true, "#c": true})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "#b" {
		t.Fatalf("expected #b, got %s", got)
	}

	_, err = c.Resolve(LoginUsername, fakeProber{})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if c.Present(LoginPassword, fakeProber{"#a": true}) {
		t.Fatalf("field without candidates must not be present")
	}
}

func TestSelectionProberSkipsHidden(t *testing.T) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(`<html><body>
		<div hidden><input name="username"></div>
		<input id="username" style="display: none">
		<input type="email">
	</body></html>`))
	if err != nil {
		t.Fatal(err)
	}
	c := Default()
	got, err := c.Resolve(LoginUsername, SelectionProber{Sel: doc.Selection})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != `input[type="email"]` {
		t.Fatalf("expected email input to win, got %s", got)
	}
}

func TestFirstWithinSubtree(t *testing.T) {
	doc, _ := goquery.NewDocumentFromReader(strings.NewReader(`<table class="modules"><tbody>
		<tr data-module-id="m1"><td class="name">Zentrale</td><td class="number">+49 30 123456</td></tr>
	</tbody></table>`))
	c := Default()
	rows := c.First(ModuleRow, doc.Selection)
	if rows.Length() != 1 {
		t.Fatalf("expected one row, got %d", rows.Length())
	}
	if name := strings.TrimSpace(c.First(ModuleName, rows).Text()); name != "Zentrale" {
		t.Fatalf("unexpected name %q", name)
	}
	if c.First(RuleRow, rows).Length() != 0 {
		t.Fatalf("expected no rule rows")
	}
}

func TestDefaultURLPatterns(t *testing.T) {
	c := Default()
	if !MatchesAny("https://acme.example/administration/modules", c.AdminDestination) {
		t.Fatalf("admin URL should match")
	}
	if MatchesAny("https://acme.example/dashboard", c.AdminDestination) {
		t.Fatalf("dashboard should not match")
	}
	if !c.AdminEntryLabel.MatchString(" Administration ") || c.AdminEntryLabel.MatchString("Administration verlassen") {
		t.Fatalf("admin entry label must match exactly")
	}
}
