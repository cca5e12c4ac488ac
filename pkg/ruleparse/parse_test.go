package ruleparse

import (
	"reflect"
	"testing"

	apperrors "github.com/sw33tLie/pbxsched/pkg/errors"
)

func TestParseWeekdays(t *testing.T) {
	tests := []struct {
		name string
		text string
		want []int
	}{
		{"range wraps past sunday", "Freitag bis Montag", []int{5, 6, 7, 1}},
		{"plural range", "montags bis freitags", []int{1, 2, 3, 4, 5}},
		{"individual mentions sorted", "Freitag, Montag und Mittwoch", []int{1, 3, 5}},
		{"duplicates collapse", "montag und montags", []int{1}},
		{"hyphen range", "Dienstag-Donnerstag 09:00-12:00", []int{2, 3, 4}},
		{"sonnabend is saturday", "Sonnabend und Sonntag", []int{6, 7}},
		{"two ranges keep encounter order", "Samstag bis Sonntag und Montag bis Dienstag", []int{6, 7, 1, 2}},
		{"no weekday", "08:00-12:00", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := Parse(tt.text, "")
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !reflect.DeepEqual(res.DaysOfWeek, tt.want) {
				t.Fatalf("days: got %v, want %v", res.DaysOfWeek, tt.want)
			}
		})
	}
}

func TestParseTimeWindows(t *testing.T) {
	tests := []struct {
		name string
		text string
		want []TimeWindow
	}{
		{
			name: "two windows",
			text: "08:00 bis 13:00 sowie 14:00-18:30",
			want: []TimeWindow{{"08:00", "13:00"}, {"14:00", "18:30"}},
		},
		{
			name: "dots, uhr and padding",
			text: "Mo 8.00 Uhr bis 9.15 Uhr",
			want: []TimeWindow{{"08:00", "09:15"}},
		},
		{
			name: "dashes",
			text: "10:00–11:00 und 12:00 — 13:00",
			want: []TimeWindow{{"10:00", "11:00"}, {"12:00", "13:00"}},
		},
		{
			name: "malformed dropped",
			text: "25:00-26:00 und 07:60-08:00 und 09:00-10:00",
			want: []TimeWindow{{"09:00", "10:00"}},
		},
		{
			name: "dates are not times",
			text: "01.02.2026 bis 31.03.2026",
			want: nil,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := Parse(tt.text, "")
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !reflect.DeepEqual(res.TimeWindows, tt.want) {
				t.Fatalf("windows: got %v, want %v", res.TimeWindows, tt.want)
			}
		})
	}
}

func TestParseDateRange(t *testing.T) {
	tests := []struct {
		name string
		text string
		want *DateRange
	}{
		{"spaced iso", "Datum von 2026 02 01 bis 2026 03 31", &DateRange{"2026-02-01", "2026-03-31"}},
		{"dashed iso", "2026-12-24 - 2026-12-26", &DateRange{"2026-12-24", "2026-12-26"}},
		{"german", "vom 24.12.2026 bis 02.01.2027", &DateRange{"2026-12-24", "2027-01-02"}},
		{"day 31 in 30 day month", "2026-04-01 bis 2026-04-31", nil},
		{"reversed", "2026-05-01 bis 2026-04-01", nil},
		{"none", "montags", nil},
		{"invalid iso falls through to german", "2026-02-30 bis 2026-03-31 oder 01.04.2026 bis 30.04.2026", &DateRange{"2026-04-01", "2026-04-30"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := Parse(tt.text, "")
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !reflect.DeepEqual(res.DateRange, tt.want) {
				t.Fatalf("range: got %+v, want %+v", res.DateRange, tt.want)
			}
		})
	}
}

func TestParseSpecificDate(t *testing.T) {
	res, _ := Parse("Am 24.12.2026 ganztägig Ansage Weihnachten", "")
	if res.SpecificDate != "2026-12-24" {
		t.Fatalf("got %q", res.SpecificDate)
	}
	res, _ = Parse("am 2026-02-30", "")
	if res.SpecificDate != "" {
		t.Fatalf("invalid date should be dropped, got %q", res.SpecificDate)
	}
}

func TestParseTarget(t *testing.T) {
	tests := []struct {
		name     string
		text     string
		explicit string
		want     *Target
	}{
		{"number keyword", "Mo-Fr weiter an Rufnummer: +49 30 123456", "", &Target{TargetNumber, "+4930123456"}},
		{"short number is not a number", "Ziel 1234", "", nil},
		{"explicit bare number", "montags", "030 / 987654", &Target{TargetNumber, "030987654"}},
		{"number beats user", "Benutzer: anna", "Nummer 0301234567", &Target{TargetNumber, "0301234567"}},
		{"user", "werktags", "Benutzer: Max Mustermann", &Target{TargetUser, "max mustermann"}},
		{"announcement", "Ansage: Betriebsferien", "", &Target{TargetAnnouncement, "betriebsferien"}},
		{"announcement beats mailbox", "Ansage danach Mailbox", "", &Target{TargetAnnouncement, "danach mailbox"}},
		{"mailbox", "sonst Voicemail", "", &Target{TargetMailbox, "mailbox"}},
		{"unknown explicit", "montags", "Gruppe Vertrieb", &Target{TargetUnknown, "Gruppe Vertrieb"}},
		{"no target", "montags", "", nil},
		{"number stops before time window", "Rufnummer 07111234 08:00-17:00 Montag bis Freitag", "", &Target{TargetNumber, "07111234"}},
		{"spaced number stops before time window", "Montag Ziel 0711 555 8:00 bis 12:00", "", &Target{TargetNumber, "0711555"}},
		{"number stops before date", "Nummer 030 123456 vom 01.08.2026 bis 15.08.2026", "", &Target{TargetNumber, "030123456"}},
		{"user without colon stops at weekday", "Benutzer Max Mustermann montags 08:00-12:00", "", &Target{TargetUser, "max mustermann"}},
		{"user drops dangling connective", "Benutzer Anna von 08:00 bis 12:00", "", &Target{TargetUser, "anna"}},
		{"announcement stops at date", "Ansage Betriebsferien vom 01.08.2026 bis 15.08.2026", "", &Target{TargetAnnouncement, "betriebsferien"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := Parse(tt.text, tt.explicit)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !reflect.DeepEqual(res.Target, tt.want) {
				t.Fatalf("target: got %+v, want %+v", res.Target, tt.want)
			}
		})
	}
}

func TestParseEmptyText(t *testing.T) {
	for _, text := range []string{"", "   ", "\n\t"} {
		_, err := Parse(text, "Nummer 0301234567")
		if !apperrors.HasCode(err, apperrors.ErrCodeParseFailed) {
			t.Fatalf("expected parse failure for %q, got %v", text, err)
		}
	}
}

func TestParseWarnings(t *testing.T) {
	res, err := Parse("Weiterleitung an Zentrale", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []string{WarnNoWeekday, WarnNoTimeWindow}
	if !reflect.DeepEqual(res.Warnings, want) {
		t.Fatalf("warnings: got %v, want %v", res.Warnings, want)
	}

	res, _ = Parse("Montag 08:00-12:00", "")
	if len(res.Warnings) != 0 {
		t.Fatalf("expected no warnings, got %v", res.Warnings)
	}
}

func TestFold(t *testing.T) {
	if got := fold("  Großer   Übergang für  Öffnungszeiten "); got != "grosser ubergang fur offnungszeiten" {
		t.Fatalf("got %q", got)
	}
}
