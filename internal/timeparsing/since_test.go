package timeparsing

import (
	"testing"
	"time"
)

// Wednesday, mid-August.
var ref = time.Date(2026, 8, 19, 12, 0, 0, 0, time.UTC)

func TestParseSinceLookbacks(t *testing.T) {
	cases := []struct {
		in   string
		want time.Time
	}{
		{"36h", ref.Add(-36 * time.Hour)},
		{"1d", ref.AddDate(0, 0, -1)},
		{"-1d", ref.AddDate(0, 0, -1)},
		{"2w", ref.AddDate(0, 0, -14)},
		{"1m", ref.AddDate(0, -1, 0)},
	}
	for _, tc := range cases {
		got, err := ParseSince(tc.in, ref)
		if err != nil {
			t.Errorf("ParseSince(%q): %v", tc.in, err)
			continue
		}
		if !got.Equal(tc.want) {
			t.Errorf("ParseSince(%q) = %s, want %s", tc.in, got, tc.want)
		}
	}
}

func TestParseSinceAbsolute(t *testing.T) {
	got, err := ParseSince("2026-08-01", ref)
	if err != nil {
		t.Fatalf("date-only: %v", err)
	}
	if want := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC); !got.Equal(want) {
		t.Errorf("date-only = %s, want %s", got, want)
	}

	got, err = ParseSince("2026-08-01T06:30:00Z", ref)
	if err != nil {
		t.Fatalf("rfc3339: %v", err)
	}
	if want := time.Date(2026, 8, 1, 6, 30, 0, 0, time.UTC); !got.Equal(want) {
		t.Errorf("rfc3339 = %s, want %s", got, want)
	}
}

func TestParseSinceNaturalLanguage(t *testing.T) {
	got, err := ParseSince("yesterday", ref)
	if err != nil {
		t.Fatalf("yesterday: %v", err)
	}
	if got.Year() != 2026 || got.Month() != time.August || got.Day() != 18 {
		t.Errorf("yesterday = %s, want Aug 18", got)
	}

	got, err = ParseSince("last friday", ref)
	if err != nil {
		t.Fatalf("last friday: %v", err)
	}
	if got.Weekday() != time.Friday || !got.Before(ref) {
		t.Errorf("last friday = %s, want a Friday before %s", got, ref)
	}
}

func TestParseSinceRejectsNonsense(t *testing.T) {
	for _, in := range []string{"", "   ", "not a date at all", "gibberish"} {
		if _, err := ParseSince(in, ref); err == nil {
			t.Errorf("ParseSince(%q) accepted", in)
		}
	}
}
