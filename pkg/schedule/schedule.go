// Package schedule expands normalized rules into minute intervals for a
// calendar date and finds overlapping intervals between modules that share
// a phone number.
package schedule

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/sw33tLie/pbxsched/pkg/normalize"
)

const (
	MinutesPerDay = 1440
	// FullDayIntervalID marks the implicit interval of a rule without time
	// windows.
	FullDayIntervalID = "full-day"
)

// Block is one concrete interval [Start, End) in minutes since midnight.
type Block struct {
	ModuleID    string `json:"moduleId"`
	ModuleName  string `json:"moduleName"`
	PhoneNumber string `json:"phoneNumber,omitempty"`
	Start       int    `json:"startMinutes"`
	End         int    `json:"endMinutes"`
	Priority    int    `json:"priority"`
	RuleID      string `json:"ruleId"`
	IntervalID  string `json:"intervalId"`
	TargetType  string `json:"targetType,omitempty"`
	TargetValue string `json:"targetValue,omitempty"`
}

func (b Block) String() string {
	return fmt.Sprintf("%s %s-%s (%s)", b.ModuleName, FormatMinutes(b.Start), FormatMinutes(b.End), b.IntervalID)
}

// Overlaps uses half-open semantics: touching blocks do not overlap.
func (b Block) Overlaps(o Block) bool {
	return b.Start < o.End && o.Start < b.End
}

// ISOWeekday maps Monday to 1 and Sunday to 7.
func ISOWeekday(d time.Time) int {
	wd := int(d.Weekday())
	if wd == 0 {
		return 7
	}
	return wd
}

// Applies reports whether rule is in effect on date's calendar day.
func Applies(rule normalize.Rule, date time.Time) bool {
	if rule.Active != nil && !*rule.Active {
		return false
	}
	day := date.Format("2006-01-02")
	if rule.SpecificDate != "" && rule.SpecificDate != day {
		return false
	}
	if rule.DateRange != nil && (day < rule.DateRange.Start || day > rule.DateRange.End) {
		return false
	}
	if len(rule.DaysOfWeek) > 0 {
		wd := ISOWeekday(date)
		found := false
		for _, d := range rule.DaysOfWeek {
			if d == wd {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// Evaluate expands the applicable rules into blocks. A rule without time
// windows covers the whole day. Module fields are left empty.
func Evaluate(rules []normalize.Rule, date time.Time) []Block {
	var out []Block
	for _, r := range rules {
		if !Applies(r, date) {
			continue
		}
		base := Block{RuleID: r.RuleID}
		if r.Target != nil {
			base.TargetType = string(r.Target.Type)
			base.TargetValue = r.Target.Value
		}
		if len(r.TimeWindows) == 0 {
			b := base
			b.Start, b.End = 0, MinutesPerDay
			b.IntervalID = r.RuleID + "/" + FullDayIntervalID
			out = append(out, b)
			continue
		}
		for i, w := range r.TimeWindows {
			start, ok1 := ParseMinutes(w.Start)
			end, ok2 := ParseMinutes(w.End)
			if !ok1 || !ok2 {
				continue
			}
			if end <= start {
				end = MinutesPerDay
			}
			b := base
			b.Start, b.End = start, end
			b.IntervalID = r.RuleID + "/" + strconv.Itoa(i)
			out = append(out, b)
		}
	}
	return out
}

// EvaluateModule evaluates m's rules and stamps module identity and
// priority on every block.
func EvaluateModule(m normalize.Module, date time.Time) []Block {
	blocks := Evaluate(m.Rules, date)
	for i := range blocks {
		blocks[i].ModuleID = m.ModuleID
		blocks[i].ModuleName = m.ModuleName
		blocks[i].PhoneNumber = m.PhoneNumber
		blocks[i].Priority = m.Order
	}
	return blocks
}

// EvaluatePayload flattens the blocks of every active module in order.
func EvaluatePayload(p *normalize.Payload, date time.Time) []Block {
	var out []Block
	for _, m := range p.Modules {
		if !m.IsActive() {
			continue
		}
		out = append(out, EvaluateModule(m, date)...)
	}
	return out
}

// ParseMinutes reads "HH:MM" into minutes since midnight.
func ParseMinutes(s string) (int, bool) {
	h, m, ok := strings.Cut(s, ":")
	if !ok {
		return 0, false
	}
	hour, err := strconv.Atoi(h)
	if err != nil || hour < 0 || hour > 23 {
		return 0, false
	}
	minute, err := strconv.Atoi(m)
	if err != nil || minute < 0 || minute > 59 {
		return 0, false
	}
	return hour*60 + minute, true
}

func FormatMinutes(n int) string {
	return fmt.Sprintf("%02d:%02d", n/60, n%60)
}
