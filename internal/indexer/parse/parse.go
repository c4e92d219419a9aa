// Package parse holds the lenient field parsers shared by response parsers:
// human-readable sizes, abbreviated counts and site-specific date strings.
package parse

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// ErrEmpty is returned when there is nothing to parse.
var ErrEmpty = errors.New("empty value")

var sizePattern = regexp.MustCompile(`(\d[\d.,]*)\s*([KMGTPE]?)(I?)B?`)

// normalizeNumber rewrites a number written with either decimal convention
// ("1,234.5" or "1.234,5") into the dotted form strconv accepts. When both
// separators appear the last one is the decimal point. A lone comma followed
// by one or two digits is a decimal comma. With dotThousands set, a lone dot
// followed by exactly three digits groups thousands.
func normalizeNumber(s string, dotThousands bool) string {
	lastComma := strings.LastIndex(s, ",")
	lastDot := strings.LastIndex(s, ".")

	switch {
	case lastComma >= 0 && lastDot >= 0:
		if lastComma > lastDot {
			return strings.Replace(strings.ReplaceAll(s, ".", ""), ",", ".", 1)
		}
		return strings.ReplaceAll(s, ",", "")
	case lastComma >= 0:
		if digits := len(s) - lastComma - 1; strings.Count(s, ",") == 1 && digits >= 1 && digits <= 2 {
			return strings.Replace(s, ",", ".", 1)
		}
		return strings.ReplaceAll(s, ",", "")
	case lastDot >= 0:
		if strings.Count(s, ".") > 1 || (dotThousands && len(s)-lastDot-1 == 3) {
			return strings.ReplaceAll(s, ".", "")
		}
	}
	return s
}

// Size converts a human-readable size such as "1.4 GB", "1,4 GB" or
// "700 MiB" to bytes. Plain integers are taken as bytes. Unparseable input
// yields 0.
func Size(s string) int64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0
	}

	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n
	}

	matches := sizePattern.FindStringSubmatch(strings.ToUpper(s))
	if len(matches) < 2 {
		return 0
	}

	num, err := strconv.ParseFloat(normalizeNumber(matches[1], false), 64)
	if err != nil {
		return 0
	}

	var multiplier float64 = 1
	switch matches[2] {
	case "K":
		multiplier = 1 << 10
	case "M":
		multiplier = 1 << 20
	case "G":
		multiplier = 1 << 30
	case "T":
		multiplier = 1 << 40
	case "P":
		multiplier = 1 << 50
	case "E":
		multiplier = 1 << 60
	}

	return int64(num * multiplier)
}

// Count parses an integer count that may use thousands separators or a
// k/m abbreviation: "345", "1,024", "1.024", "12k", "1.5k", "12,5k", "2M".
func Count(s string) (int, error) {
	s = strings.TrimSpace(s)
	s = strings.ReplaceAll(s, " ", "")
	if s == "" {
		return 0, ErrEmpty
	}

	multiplier := 1.0
	switch s[len(s)-1] {
	case 'k', 'K':
		multiplier = 1e3
		s = s[:len(s)-1]
	case 'm', 'M':
		multiplier = 1e6
		s = s[:len(s)-1]
	}

	s = normalizeNumber(s, multiplier == 1)

	if multiplier == 1 {
		n, err := strconv.Atoi(s)
		if err != nil {
			return 0, fmt.Errorf("invalid count %q: %w", s, err)
		}
		return n, nil
	}

	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid count %q: %w", s, err)
	}
	return int(f*multiplier + 0.5), nil
}

// Int parses a plain integer, ignoring thousands separators. Bad input yields 0.
func Int(s string) int {
	s = strings.TrimSpace(s)
	s = strings.ReplaceAll(s, ",", "")
	n, _ := strconv.Atoi(s)
	return n
}

// Float parses a float in either decimal convention. Bad input yields 0.
func Float(s string) float64 {
	s = normalizeNumber(strings.TrimSpace(s), false)
	f, _ := strconv.ParseFloat(s, 64)
	return f
}

var dateLayouts = []string{
	time.RFC3339,
	time.RFC1123Z,
	time.RFC1123,
	"2006-01-02 15:04:05",
	"2006-01-02",
	"02 Jan 06",
	"02 Jan 2006",
	"Jan 02 2006",
	"Jan 2 2006",
	"January 2, 2006",
	"Mon, 2 Jan 2006 15:04:05 -0700",
}

var agoPattern = regexp.MustCompile(`^(\d+)\s*(second|sec|minute|min|hour|hr|day|week|month|year)s?\s*ago$`)

// Date parses the date formats seen on tracker pages. Relative values
// ("today", "yesterday", "3 hours ago") resolve against now; absolute dates
// without a zone are taken as UTC.
func Date(s string, now time.Time) (time.Time, error) {
	value := strings.TrimSpace(strings.ReplaceAll(s, "'", ""))
	if value == "" {
		return time.Time{}, ErrEmpty
	}

	lower := strings.ToLower(value)
	switch lower {
	case "today", "now", "just now":
		return now, nil
	case "yesterday":
		return now.AddDate(0, 0, -1), nil
	}

	if m := agoPattern.FindStringSubmatch(lower); m != nil {
		n, _ := strconv.Atoi(m[1])
		return relative(now, n, m[2]), nil
	}

	// "2 Jul 15" -> "02 Jul 15"
	if fields := strings.Fields(value); len(fields) == 3 && len(fields[0]) == 1 {
		value = "0" + value
	}

	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t, nil
		}
	}

	return time.Time{}, fmt.Errorf("unrecognized date %q", s)
}

func relative(now time.Time, n int, unit string) time.Time {
	switch unit {
	case "second", "sec":
		return now.Add(-time.Duration(n) * time.Second)
	case "minute", "min":
		return now.Add(-time.Duration(n) * time.Minute)
	case "hour", "hr":
		return now.Add(-time.Duration(n) * time.Hour)
	case "day":
		return now.AddDate(0, 0, -n)
	case "week":
		return now.AddDate(0, 0, -7*n)
	case "month":
		return now.AddDate(0, -n, 0)
	default:
		return now.AddDate(-n, 0, 0)
	}
}
