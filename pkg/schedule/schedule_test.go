package schedule

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/sw33tLie/pbxsched/pkg/normalize"
	"github.com/sw33tLie/pbxsched/pkg/ruleparse"
)

// 2026-03-02 is a Monday.
var monday = time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)

func rule(id string, days []int, windows ...ruleparse.TimeWindow) normalize.Rule {
	return normalize.Rule{RuleID: id, DaysOfWeek: days, TimeWindows: windows}
}

func TestApplies(t *testing.T) {
	off := false
	tests := []struct {
		name string
		rule normalize.Rule
		date time.Time
		want bool
	}{
		{"no constraints", normalize.Rule{}, monday, true},
		{"weekday member", rule("r", []int{1, 2}), monday, true},
		{"weekday not member", rule("r", []int{6, 7}), monday, false},
		{"sunday is 7", rule("r", []int{7}), monday.AddDate(0, 0, 6), true},
		{"range inclusive start", normalize.Rule{DateRange: &ruleparse.DateRange{Start: "2026-03-02", End: "2026-03-05"}}, monday, true},
		{"range inclusive end", normalize.Rule{DateRange: &ruleparse.DateRange{Start: "2026-02-01", End: "2026-03-02"}}, monday, true},
		{"outside range", normalize.Rule{DateRange: &ruleparse.DateRange{Start: "2026-03-03", End: "2026-03-05"}}, monday, false},
		{"specific date", normalize.Rule{SpecificDate: "2026-03-02"}, monday, true},
		{"other specific date", normalize.Rule{SpecificDate: "2026-12-24"}, monday, false},
		{"inactive rule", normalize.Rule{Active: &off}, monday, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Applies(tt.rule, tt.date))
		})
	}
}

func TestEvaluateWindows(t *testing.T) {
	rules := []normalize.Rule{
		rule("r1", []int{1}, ruleparse.TimeWindow{Start: "08:00", End: "13:00"}, ruleparse.TimeWindow{Start: "14:00", End: "18:30"}),
		rule("r2", nil),
		rule("r3", []int{2}, ruleparse.TimeWindow{Start: "00:00", End: "23:59"}),
		rule("r4", []int{1}, ruleparse.TimeWindow{Start: "22:00", End: "06:00"}),
	}
	rules[1].Target = &ruleparse.Target{Type: ruleparse.TargetMailbox, Value: "mailbox"}

	blocks := Evaluate(rules, monday)
	require.Len(t, blocks, 4)

	assert.Equal(t, Block{RuleID: "r1", IntervalID: "r1/0", Start: 480, End: 780}, blocks[0])
	assert.Equal(t, Block{RuleID: "r1", IntervalID: "r1/1", Start: 840, End: 1110}, blocks[1])
	assert.Equal(t, Block{
		RuleID: "r2", IntervalID: "r2/" + FullDayIntervalID, Start: 0, End: MinutesPerDay,
		TargetType: "mailbox", TargetValue: "mailbox",
	}, blocks[2])
	assert.Equal(t, 1320, blocks[3].Start)
	assert.Equal(t, MinutesPerDay, blocks[3].End)
}

func TestConflictsSamePhone(t *testing.T) {
	payload := &normalize.Payload{Modules: []normalize.Module{
		{ModuleID: "a", ModuleName: "Zentrale", PhoneNumber: "+49301", Order: 1,
			Rules: []normalize.Rule{rule("ra", []int{1}, ruleparse.TimeWindow{Start: "08:00", End: "12:00"})}},
		{ModuleID: "b", ModuleName: "Vertretung", PhoneNumber: "+49301", Order: 2,
			Rules: []normalize.Rule{rule("rb", []int{1}, ruleparse.TimeWindow{Start: "11:00", End: "13:00"})}},
		{ModuleID: "c", ModuleName: "Support", PhoneNumber: "+49302", Order: 3,
			Rules: []normalize.Rule{rule("rc", nil)}},
	}}

	conflicts := DetectConflicts(EvaluatePayload(payload, monday))
	require.Len(t, conflicts, 1)
	assert.Equal(t, "a", conflicts[0].Higher.ModuleID)
	assert.Equal(t, "b", conflicts[0].Lower.ModuleID)
}

func TestConflictHigherIsLowerOrderRegardlessOfListing(t *testing.T) {
	blocks := []Block{
		{ModuleID: "late", PhoneNumber: "1", Priority: 5, Start: 0, End: 60},
		{ModuleID: "early", PhoneNumber: "1", Priority: 2, Start: 30, End: 90},
	}
	conflicts := DetectConflicts(blocks)
	require.Len(t, conflicts, 1)
	assert.Equal(t, "early", conflicts[0].Higher.ModuleID)
}

func TestNoConflict(t *testing.T) {
	tests := []struct {
		name   string
		blocks []Block
	}{
		{"touching intervals", []Block{
			{ModuleID: "a", PhoneNumber: "1", Start: 0, End: 60},
			{ModuleID: "b", PhoneNumber: "1", Start: 60, End: 120},
		}},
		{"different phones", []Block{
			{ModuleID: "a", PhoneNumber: "1", Start: 0, End: 60},
			{ModuleID: "b", PhoneNumber: "2", Start: 0, End: 60},
		}},
		{"same module", []Block{
			{ModuleID: "a", PhoneNumber: "1", Start: 0, End: 60},
			{ModuleID: "a", PhoneNumber: "1", Start: 30, End: 90},
		}},
		{"no phone", []Block{
			{ModuleID: "a", Start: 0, End: 60},
			{ModuleID: "b", Start: 0, End: 60},
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Empty(t, DetectConflicts(tt.blocks))
		})
	}
}

func TestInactiveModulesIgnored(t *testing.T) {
	off := false
	payload := &normalize.Payload{Modules: []normalize.Module{
		{ModuleID: "a", PhoneNumber: "1", Order: 1, Rules: []normalize.Rule{rule("ra", nil)}},
		{ModuleID: "b", PhoneNumber: "1", Order: 2, Active: &off, Rules: []normalize.Rule{rule("rb", nil)}},
	}}
	blocks := EvaluatePayload(payload, monday)
	assert.Len(t, blocks, 1)
	assert.Empty(t, DetectConflicts(blocks))
}

func TestMinutesRoundTrip(t *testing.T) {
	n, ok := ParseMinutes("18:30")
	assert.True(t, ok)
	assert.Equal(t, "18:30", FormatMinutes(n))
	_, ok = ParseMinutes("24:00")
	assert.False(t, ok)
}
