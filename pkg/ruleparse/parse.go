package ruleparse

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	apperrors "github.com/sw33tLie/pbxsched/pkg/errors"
)

// TargetType classifies a forwarding target.
type TargetType string

const (
	TargetNumber       TargetType = "number"
	TargetUser         TargetType = "user"
	TargetAnnouncement TargetType = "announcement"
	TargetMailbox      TargetType = "mailbox"
	TargetUnknown      TargetType = "unknown"
)

// TimeWindow is a zero-padded HH:MM pair.
type TimeWindow struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

// DateRange is an inclusive pair of ISO dates.
type DateRange struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

type Target struct {
	Type  TargetType `json:"type"`
	Value string     `json:"value"`
}

// Result is the structured reading of one rule text.
type Result struct {
	DaysOfWeek   []int        `json:"daysOfWeek"`
	TimeWindows  []TimeWindow `json:"timeWindows"`
	DateRange    *DateRange   `json:"dateRange,omitempty"`
	SpecificDate string       `json:"specificDate,omitempty"`
	Target       *Target      `json:"target,omitempty"`
	Warnings     []string     `json:"warnings"`
}

const (
	WarnNoWeekday    = "no weekday found, rule applies on every day"
	WarnNoTimeWindow = "no time window found, rule applies all day"
)

var weekdayNumbers = map[string]int{
	"montag":     1,
	"dienstag":   2,
	"mittwoch":   3,
	"donnerstag": 4,
	"freitag":    5,
	"samstag":    6,
	"sonnabend":  6,
	"sonntag":    7,
}

const dayPattern = `(montag|dienstag|mittwoch|donnerstag|freitag|samstag|sonnabend|sonntag)(?:s|e|en)?`

var (
	dayRe      = regexp.MustCompile(`\b` + dayPattern + `\b`)
	dayRangeRe = regexp.MustCompile(`\b` + dayPattern + `\s*(?:bis|-|–)\s*` + dayPattern + `\b`)

	timeWindowRe = regexp.MustCompile(`\b(\d{1,2})[:.](\d{2})\s*(?:uhr\s*)?(?:bis|-|–|—|to)\s*(\d{1,2})[:.](\d{2})\b(?:\s*uhr)?`)

	isoRangeRe = regexp.MustCompile(`\b(\d{4})[-./ ](\d{1,2})[-./ ](\d{1,2})\s*(?:bis|-|–)\s*(\d{4})[-./ ](\d{1,2})[-./ ](\d{1,2})\b`)
	deRangeRe  = regexp.MustCompile(`\b(\d{1,2})\.(\d{1,2})\.(\d{4})\s*(?:bis|-|–)\s*(\d{1,2})\.(\d{1,2})\.(\d{4})\b`)

	deDateRe  = regexp.MustCompile(`\bam\s+(\d{1,2})\.(\d{1,2})\.(\d{4})\b`)
	isoDateRe = regexp.MustCompile(`\bam\s+(\d{4})-(\d{1,2})-(\d{1,2})\b`)

	numberRe       = regexp.MustCompile(`\b(?:rufnummer|telefonnummer|nummer|telefon|tel|ziel)\b\.?\s*:?\s*(\+?\d[\d ()/-]*\d)`)
	bareNumberRe   = regexp.MustCompile(`^\+?[\d ()/-]+$`)
	userRe         = regexp.MustCompile(`\b(?:benutzer(?:in)?|nutzer|user)\b\s*:?\s*([^,;()|]+)`)
	announcementRe = regexp.MustCompile(`\b(?:ansage|audio|announcement)\b\s*:?\s*([^,;()|]*)`)
	mailboxRe      = regexp.MustCompile(`\b(?:mailbox|voicemail|sprachbox|anrufbeantworter)\b\s*:?\s*([^,;()|]*)`)
)

// Parse reads weekdays, time windows, a date range and a forwarding target
// out of a rule's free text. Only empty text is an error; anything else
// yields a result, possibly with warnings.
func Parse(text, explicitTarget string) (*Result, error) {
	if strings.TrimSpace(text) == "" {
		return nil, apperrors.NewAppError(apperrors.ErrCodeParseFailed, "rule text is empty")
	}

	folded := fold(text)
	res := &Result{}

	res.DaysOfWeek = parseWeekdays(folded)
	if len(res.DaysOfWeek) == 0 {
		res.Warnings = append(res.Warnings, WarnNoWeekday)
	}

	res.TimeWindows = parseTimeWindows(folded)
	if len(res.TimeWindows) == 0 {
		res.Warnings = append(res.Warnings, WarnNoTimeWindow)
	}

	dr, warn := parseDateRange(folded)
	if warn != "" {
		res.Warnings = append(res.Warnings, warn)
	}
	res.DateRange = dr
	if dr == nil {
		res.SpecificDate = parseSpecificDate(folded)
	}

	res.Target = parseTarget(folded, explicitTarget)
	return res, nil
}

func parseWeekdays(folded string) []int {
	seen := make(map[int]bool)
	var days []int

	if ranges := dayRangeRe.FindAllStringSubmatch(folded, -1); len(ranges) > 0 {
		for _, m := range ranges {
			for _, d := range expandDays(weekdayNumbers[m[1]], weekdayNumbers[m[2]]) {
				if !seen[d] {
					seen[d] = true
					days = append(days, d)
				}
			}
		}
		return days
	}

	for _, m := range dayRe.FindAllStringSubmatch(folded, -1) {
		seen[weekdayNumbers[m[1]]] = true
	}
	for d := 1; d <= 7; d++ {
		if seen[d] {
			days = append(days, d)
		}
	}
	return days
}

// expandDays walks from start to end inclusive, wrapping past Sunday.
func expandDays(start, end int) []int {
	var out []int
	for d := start; ; d = d%7 + 1 {
		out = append(out, d)
		if d == end {
			return out
		}
	}
}

func parseTimeWindows(folded string) []TimeWindow {
	var out []TimeWindow
	for _, m := range timeWindowRe.FindAllStringSubmatch(folded, -1) {
		start, ok1 := clock(m[1], m[2])
		end, ok2 := clock(m[3], m[4])
		if !ok1 || !ok2 {
			continue
		}
		out = append(out, TimeWindow{Start: start, End: end})
	}
	return out
}

func clock(h, m string) (string, bool) {
	hour, err := strconv.Atoi(h)
	if err != nil || hour < 0 || hour > 23 {
		return "", false
	}
	minute, err := strconv.Atoi(m)
	if err != nil || minute < 0 || minute > 59 {
		return "", false
	}
	return fmt.Sprintf("%02d:%02d", hour, minute), true
}

// parseDateRange returns the first pattern that validates. A warning is
// only reported when a range was written but none of them did.
func parseDateRange(folded string) (*DateRange, string) {
	var warn string
	if m := isoRangeRe.FindStringSubmatch(folded); m != nil {
		dr, w := buildRange(m[1], m[2], m[3], m[4], m[5], m[6])
		if dr != nil {
			return dr, ""
		}
		warn = w
	}
	if m := deRangeRe.FindStringSubmatch(folded); m != nil {
		dr, w := buildRange(m[3], m[2], m[1], m[6], m[5], m[4])
		if dr != nil {
			return dr, ""
		}
		warn = w
	}
	return nil, warn
}

func buildRange(y1, m1, d1, y2, m2, d2 string) (*DateRange, string) {
	start, ok1 := isoDate(y1, m1, d1)
	end, ok2 := isoDate(y2, m2, d2)
	if !ok1 || !ok2 {
		return nil, "invalid date range ignored"
	}
	if end < start {
		return nil, fmt.Sprintf("date range %s to %s ends before it starts, ignored", start, end)
	}
	return &DateRange{Start: start, End: end}, ""
}

// isoDate formats a calendar date, rejecting values that do not survive a
// round trip through time.Date (e.g. the 31st of a 30-day month).
func isoDate(y, m, d string) (string, bool) {
	year, err1 := strconv.Atoi(y)
	month, err2 := strconv.Atoi(m)
	day, err3 := strconv.Atoi(d)
	if err1 != nil || err2 != nil || err3 != nil {
		return "", false
	}
	t := time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
	if t.Year() != year || int(t.Month()) != month || t.Day() != day {
		return "", false
	}
	return t.Format("2006-01-02"), true
}

func parseSpecificDate(folded string) string {
	if m := deDateRe.FindStringSubmatch(folded); m != nil {
		if d, ok := isoDate(m[3], m[2], m[1]); ok {
			return d
		}
	}
	if m := isoDateRe.FindStringSubmatch(folded); m != nil {
		if d, ok := isoDate(m[1], m[2], m[3]); ok {
			return d
		}
	}
	return ""
}

// parseTarget picks at most one target. Priority: number, user,
// announcement, mailbox.
func parseTarget(folded, explicitTarget string) *Target {
	explicit := strings.TrimSpace(explicitTarget)
	combined := folded
	if explicit != "" {
		combined = folded + " ; " + fold(explicit)
	}
	combined = withoutSchedule(combined)

	for _, m := range numberRe.FindAllStringSubmatch(combined, -1) {
		if n, ok := phoneNumber(m[1]); ok {
			return &Target{Type: TargetNumber, Value: n}
		}
	}
	if bareNumberRe.MatchString(explicit) {
		if n, ok := phoneNumber(explicit); ok {
			return &Target{Type: TargetNumber, Value: n}
		}
	}
	if m := userRe.FindStringSubmatch(combined); m != nil {
		if v := trimConnectives(m[1]); v != "" {
			return &Target{Type: TargetUser, Value: v}
		}
	}
	if m := announcementRe.FindStringSubmatch(combined); m != nil {
		return &Target{Type: TargetAnnouncement, Value: valueOr(m[1], "ansage")}
	}
	if m := mailboxRe.FindStringSubmatch(combined); m != nil {
		return &Target{Type: TargetMailbox, Value: valueOr(m[1], "mailbox")}
	}
	if explicit != "" {
		return &Target{Type: TargetUnknown, Value: explicit}
	}
	return nil
}

// phoneNumber keeps a leading plus and the digits of token. Tokens with
// fewer than five digits are not numbers.
func phoneNumber(token string) (string, bool) {
	token = strings.TrimSpace(token)
	var b strings.Builder
	if strings.HasPrefix(token, "+") {
		b.WriteByte('+')
	}
	digits := 0
	for _, r := range token {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
			digits++
		}
	}
	if digits < 5 {
		return "", false
	}
	return b.String(), true
}

// scheduleRes match the parts of a rule that say when, not where to.
var scheduleRes = []*regexp.Regexp{timeWindowRe, isoRangeRe, deRangeRe, deDateRe, isoDateRe, dayRangeRe, dayRe}

// withoutSchedule cuts time windows, dates and weekdays out of s so that
// target values end where the schedule part of the text begins.
func withoutSchedule(s string) string {
	for _, re := range scheduleRes {
		s = re.ReplaceAllString(s, " ; ")
	}
	return s
}

var connectives = map[string]bool{
	"ab": true, "am": true, "an": true, "bis": true, "jeweils": true,
	"nur": true, "sowie": true, "und": true, "von": true, "vom": true,
}

// trimConnectives drops filler words left dangling in front of a cut.
func trimConnectives(v string) string {
	words := strings.Fields(v)
	for len(words) > 0 && connectives[words[len(words)-1]] {
		words = words[:len(words)-1]
	}
	return strings.Join(words, " ")
}

func valueOr(v, fallback string) string {
	if v = trimConnectives(v); v != "" {
		return v
	}
	return fallback
}
