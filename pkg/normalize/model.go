package normalize

import (
	"time"

	"github.com/sw33tLie/pbxsched/pkg/ruleparse"
)

type Rule struct {
	RuleID       string                 `json:"ruleId"`
	Label        string                 `json:"label,omitempty"`
	DaysOfWeek   []int                  `json:"daysOfWeek"`
	TimeWindows  []ruleparse.TimeWindow `json:"timeWindows"`
	DateRange    *ruleparse.DateRange   `json:"dateRange,omitempty"`
	SpecificDate string                 `json:"specificDate,omitempty"`
	Target       *ruleparse.Target      `json:"target,omitempty"`
	Order        int                    `json:"order"`
	RawText      string                 `json:"rawText"`
	Active       *bool                  `json:"active,omitempty"`
}

type Module struct {
	ModuleID    string `json:"moduleId"`
	ModuleName  string `json:"moduleName"`
	PhoneNumber string `json:"phoneNumber,omitempty"`
	Active      *bool  `json:"active,omitempty"`
	// Order is the module's position on the overview page, starting at 1.
	// Lower values take precedence.
	Order int    `json:"order"`
	Rules []Rule `json:"rules"`
}

// IsActive treats an unknown flag as active.
func (m Module) IsActive() bool {
	return m.Active == nil || *m.Active
}

// Payload is the result of one sync. It is never modified after Normalize
// returns; a newer sync replaces it.
type Payload struct {
	InstanceID      string    `json:"instanceId"`
	FetchedAt       time.Time `json:"fetchedAt"`
	SelectorVersion string    `json:"selectorVersion"`
	Warnings        []string  `json:"warnings"`
	Modules         []Module  `json:"modules"`
}

// RuleCount sums rules over all modules.
func (p *Payload) RuleCount() int {
	n := 0
	for _, m := range p.Modules {
		n += len(m.Rules)
	}
	return n
}

type SyncSummary struct {
	InstanceID  string    `json:"instanceId"`
	FetchedAt   time.Time `json:"fetchedAt"`
	ModuleCount int       `json:"moduleCount"`
	RuleCount   int       `json:"ruleCount"`
	Warnings    []string  `json:"warnings"`
}

func (p *Payload) Summary() SyncSummary {
	return SyncSummary{
		InstanceID:  p.InstanceID,
		FetchedAt:   p.FetchedAt,
		ModuleCount: len(p.Modules),
		RuleCount:   p.RuleCount(),
		Warnings:    p.Warnings,
	}
}
