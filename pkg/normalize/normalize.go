package normalize

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/sw33tLie/pbxsched/internal/utils"
	apperrors "github.com/sw33tLie/pbxsched/pkg/errors"
	"github.com/sw33tLie/pbxsched/pkg/ruleparse"
	"github.com/sw33tLie/pbxsched/pkg/scraper"
)

// RuleID is stable for identical rule text at the same position.
func RuleID(rawText string, order int) string {
	return "r_" + utils.HashWithDomain("pbxsched/rule", strings.TrimSpace(rawText), strconv.Itoa(order))[:16]
}

// moduleID falls back to a content hash when the console exposes no id.
func moduleID(m scraper.RawModule, position int) string {
	if m.ID != "" {
		return m.ID
	}
	return "m_" + utils.HashWithDomain("pbxsched/module", m.Name, strconv.Itoa(position))[:12]
}

// Normalize turns one scrape into a payload. Rules whose text is empty are
// dropped with a warning; every other parser complaint is kept as a warning
// prefixed with the module and rule it belongs to.
func Normalize(instanceID string, scraped *scraper.Result, fetchedAt time.Time) *Payload {
	p := &Payload{
		InstanceID:      instanceID,
		FetchedAt:       fetchedAt.UTC(),
		SelectorVersion: scraped.SelectorVersion,
		Warnings:        append([]string{}, scraped.Warnings...),
		Modules:         make([]Module, 0, len(scraped.Modules)),
	}

	for i, raw := range scraped.Modules {
		mod := Module{
			ModuleID:    moduleID(raw, i+1),
			ModuleName:  raw.Name,
			PhoneNumber: raw.Phone,
			Active:      raw.Active,
			Order:       i + 1,
			Rules:       make([]Rule, 0, len(raw.Rules)),
		}
		for j, rr := range raw.Rules {
			scope := fmt.Sprintf("module %q rule %d", raw.Name, j+1)
			rule, warnings, err := normalizeRule(rr)
			for _, w := range warnings {
				p.Warnings = append(p.Warnings, scope+": "+w)
			}
			if err != nil {
				p.Warnings = append(p.Warnings, scope+": "+ruleErrorText(err))
				continue
			}
			mod.Rules = append(mod.Rules, rule)
		}
		p.Modules = append(p.Modules, mod)
	}
	return p
}

func normalizeRule(rr scraper.RawRule) (Rule, []string, error) {
	parsed, err := ruleparse.Parse(rr.Text, rr.Target)
	if err != nil {
		return Rule{}, nil, err
	}
	r := Rule{
		RuleID:       RuleID(rr.Text, rr.Position),
		Label:        rr.Label,
		DaysOfWeek:   parsed.DaysOfWeek,
		TimeWindows:  parsed.TimeWindows,
		DateRange:    parsed.DateRange,
		SpecificDate: parsed.SpecificDate,
		Target:       parsed.Target,
		Order:        rr.Position,
		RawText:      rr.Text,
		Active:       rr.Active,
	}
	if r.DaysOfWeek == nil {
		r.DaysOfWeek = []int{}
	}
	if r.TimeWindows == nil {
		r.TimeWindows = []ruleparse.TimeWindow{}
	}
	return r, parsed.Warnings, nil
}

func ruleErrorText(err error) string {
	if appErr := apperrors.GetAppError(err); appErr != nil {
		return appErr.Message + ", rule skipped"
	}
	return err.Error()
}
