package normalize

import (
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/sw33tLie/pbxsched/pkg/ruleparse"
	"github.com/sw33tLie/pbxsched/pkg/scraper"
)

func sampleScrape() *scraper.Result {
	off := false
	return &scraper.Result{
		SelectorVersion: "test-1",
		Warnings:        []string{`module "Vertrieb": detail page returned status 404`},
		Modules: []scraper.RawModule{
			{
				ID: "m-1", Name: "Zentrale", Phone: "+49 30 1234560",
				Rules: []scraper.RawRule{
					{Label: "Geschäftszeiten", Text: "Montag bis Freitag 08:00-17:00", Target: "Nummer 0301234567", Position: 1},
					{Text: "Weiterleitung", Position: 2},
					{Text: "   ", Position: 3},
				},
			},
			{Name: "Nacht", Active: &off, Rules: []scraper.RawRule{{Text: "Samstag bis Sonntag Mailbox", Position: 1}}},
		},
	}
}

func TestNormalizePayload(t *testing.T) {
	fetched := time.Date(2026, 3, 2, 9, 30, 0, 0, time.FixedZone("CET", 3600))
	p := Normalize("inst_1", sampleScrape(), fetched)

	if p.InstanceID != "inst_1" || p.SelectorVersion != "test-1" {
		t.Fatalf("unexpected header %+v", p)
	}
	if !p.FetchedAt.Equal(fetched) || p.FetchedAt.Location() != time.UTC {
		t.Fatalf("fetchedAt should be the same instant in UTC, got %v", p.FetchedAt)
	}
	if len(p.Modules) != 2 {
		t.Fatalf("expected 2 modules, got %d", len(p.Modules))
	}

	zentrale := p.Modules[0]
	if zentrale.Order != 1 || zentrale.ModuleID != "m-1" || len(zentrale.Rules) != 2 {
		t.Fatalf("unexpected module %+v", zentrale)
	}
	first := zentrale.Rules[0]
	if !reflect.DeepEqual(first.DaysOfWeek, []int{1, 2, 3, 4, 5}) {
		t.Fatalf("days: %v", first.DaysOfWeek)
	}
	if !reflect.DeepEqual(first.TimeWindows, []ruleparse.TimeWindow{{Start: "08:00", End: "17:00"}}) {
		t.Fatalf("windows: %v", first.TimeWindows)
	}
	if first.Target == nil || first.Target.Type != ruleparse.TargetNumber || first.Target.Value != "0301234567" {
		t.Fatalf("target: %+v", first.Target)
	}
	if first.RawText != "Montag bis Freitag 08:00-17:00" || first.Label != "Geschäftszeiten" {
		t.Fatalf("raw text and label must be preserved: %+v", first)
	}

	second := zentrale.Rules[1]
	if second.DaysOfWeek == nil || len(second.DaysOfWeek) != 0 || second.TimeWindows == nil {
		t.Fatalf("empty lists must be non-nil: %+v", second)
	}

	nacht := p.Modules[1]
	if !strings.HasPrefix(nacht.ModuleID, "m_") || nacht.IsActive() {
		t.Fatalf("unexpected module %+v", nacht)
	}

	wantWarnings := []string{
		`module "Vertrieb": detail page returned status 404`,
		`module "Zentrale" rule 2: ` + ruleparse.WarnNoWeekday,
		`module "Zentrale" rule 2: ` + ruleparse.WarnNoTimeWindow,
		`module "Zentrale" rule 3: rule text is empty, rule skipped`,
		`module "Nacht" rule 1: ` + ruleparse.WarnNoTimeWindow,
	}
	if !reflect.DeepEqual(p.Warnings, wantWarnings) {
		t.Fatalf("warnings:\n got %q\nwant %q", p.Warnings, wantWarnings)
	}

	s := p.Summary()
	if s.ModuleCount != 2 || s.RuleCount != 3 {
		t.Fatalf("unexpected summary %+v", s)
	}
}

func TestRuleIDsStableAcrossRuns(t *testing.T) {
	a := Normalize("inst_1", sampleScrape(), time.Now())
	b := Normalize("inst_1", sampleScrape(), time.Now().Add(time.Hour))
	for i := range a.Modules {
		for j := range a.Modules[i].Rules {
			if a.Modules[i].Rules[j].RuleID != b.Modules[i].Rules[j].RuleID {
				t.Fatalf("rule id changed between runs")
			}
		}
	}
	if a.Modules[1].ModuleID != b.Modules[1].ModuleID {
		t.Fatalf("derived module id changed between runs")
	}
}

func TestRuleIDDependsOnTextAndOrder(t *testing.T) {
	base := RuleID("Montag", 1)
	if base != RuleID(" Montag ", 1) {
		t.Fatalf("surrounding whitespace should not change the id")
	}
	if base == RuleID("Montag", 2) || base == RuleID("Dienstag", 1) {
		t.Fatalf("id must depend on text and order")
	}
}
