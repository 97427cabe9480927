// Package timeparsing resolves the time expressions the CLI accepts for
// history filters: lookbacks (36h, 1d, 2w), absolute dates (2026-08-01,
// RFC3339), and English phrases ("yesterday", "last friday").
package timeparsing

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"
)

// lookbackRe matches "<n><unit>" with hours, days, weeks, or months.
// A leading "-" is tolerated; the value always means that far back.
var lookbackRe = regexp.MustCompile(`^-?(\d+)([hdwm])$`)

// ParseSince resolves a cutoff expression to an instant relative to now.
// Strategies, tried in order: lookback, date-only (midnight in now's
// location), RFC3339 timestamp, natural language.
func ParseSince(expr string, now time.Time) (time.Time, error) {
	s := strings.TrimSpace(expr)
	if s == "" {
		return time.Time{}, fmt.Errorf("empty time expression")
	}

	if m := lookbackRe.FindStringSubmatch(s); m != nil {
		n, err := strconv.Atoi(m[1])
		if err != nil {
			return time.Time{}, fmt.Errorf("lookback %q: %w", s, err)
		}
		switch m[2] {
		case "h":
			return now.Add(-time.Duration(n) * time.Hour), nil
		case "d":
			return now.AddDate(0, 0, -n), nil
		case "w":
			return now.AddDate(0, 0, -7*n), nil
		default:
			return now.AddDate(0, -n, 0), nil
		}
	}

	if t, err := time.ParseInLocation("2006-01-02", s, now.Location()); err == nil {
		return t, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	return parseNatural(s, now)
}

func parseNatural(s string, now time.Time) (time.Time, error) {
	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)

	r, err := w.Parse(s, now)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse %q: %w", s, err)
	}
	// A nil result or a fragment-only match means the input is not really
	// a time phrase; "not a date" must not parse because it contains "a".
	if r == nil || len(strings.TrimSpace(r.Text)) < len(s)/2 {
		return time.Time{}, fmt.Errorf("unrecognized time expression %q", s)
	}
	return r.Time, nil
}
