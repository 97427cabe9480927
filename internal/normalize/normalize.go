// Package normalize holds the field normalization rules applied to upstream
// roster data before comparison: grade-level parsing and the
// blank-insensitive string equality used for all string diffs.
package normalize

import (
	"strconv"
	"strings"
)

// gradeTokens maps non-numeric grade labels to grade numbers. Kindergarten
// is 0; the pre-kindergarten variants are -1.
var gradeTokens = map[string]int{
	"K":            0,
	"KINDERGARTEN": 0,
	"PK":           -1,
	"PRE-K":        -1,
	"PREK":         -1,
	"TK":           -1,
}

// ParseGrade interprets an upstream grade string as a grade number.
// Integer literals parse to themselves, kindergarten tokens to 0,
// pre-kindergarten tokens to -1. Blank or unrecognized input returns nil.
// Matching ignores case and surrounding whitespace.
func ParseGrade(s string) *int {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	if n, err := strconv.Atoi(s); err == nil {
		return &n
	}
	if n, ok := gradeTokens[strings.ToUpper(s)]; ok {
		return &n
	}
	return nil
}

// Blank reports whether s is empty or whitespace-only. Upstream APIs
// alternate between omitting a field and sending "" for "no value", so both
// must compare equal.
func Blank(s string) bool {
	return strings.TrimSpace(s) == ""
}

// StringsEqual is the string equality used for change detection: true when
// both sides are blank, or when the trimmed forms match case-insensitively.
func StringsEqual(a, b string) bool {
	a = strings.TrimSpace(a)
	b = strings.TrimSpace(b)
	if a == "" && b == "" {
		return true
	}
	return strings.EqualFold(a, b)
}
