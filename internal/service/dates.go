package service

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/raphaelgruber/atom-ai/internal/models"
)

var (
	dayMonthYear = regexp.MustCompile(`^(\d{1,2})\s+(\w+)\s+(\d{4})$`)
	monthYear    = regexp.MustCompile(`^(\w+)\s+(\d{4})$`)
	yearOnly     = regexp.MustCompile(`^(\d{4})$`)
	yearRange    = regexp.MustCompile(`^(\d{4})-(\d{4})$`)
)

const dateLayout = "2006-01-02"

// ParseDate turns a free-text date into a start/end range. It understands
// "5 March 1920", "March 1920", "1920" and "1920-1930"; anything else yields nil.
func ParseDate(s string) *models.DateRange {
	s = strings.TrimSpace(s)

	if m := dayMonthYear.FindStringSubmatch(s); m != nil {
		month, ok := parseMonth(m[2])
		if !ok {
			return nil
		}
		day, _ := strconv.Atoi(m[1])
		year, _ := strconv.Atoi(m[3])
		d := time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
		if d.Day() != day || d.Month() != month {
			return nil
		}
		return &models.DateRange{Start: d.Format(dateLayout), End: d.Format(dateLayout)}
	}

	if m := monthYear.FindStringSubmatch(s); m != nil {
		month, ok := parseMonth(m[1])
		if !ok {
			return nil
		}
		year, _ := strconv.Atoi(m[2])
		first := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
		last := first.AddDate(0, 1, -1)
		return &models.DateRange{Start: first.Format(dateLayout), End: last.Format(dateLayout)}
	}

	if m := yearOnly.FindStringSubmatch(s); m != nil {
		return &models.DateRange{Start: m[1] + "-01-01", End: m[1] + "-12-31"}
	}

	if m := yearRange.FindStringSubmatch(s); m != nil {
		return &models.DateRange{Start: m[1] + "-01-01", End: m[2] + "-12-31"}
	}

	return nil
}

func parseMonth(name string) (time.Month, bool) {
	for m := time.January; m <= time.December; m++ {
		if strings.EqualFold(m.String(), name) {
			return m, true
		}
	}
	return 0, false
}

// IsCompoundDate reports whether a date value lists several dates.
func IsCompoundDate(s string) bool {
	return strings.Contains(s, ";") || strings.Count(s, ",") > 1
}

// SplitDates splits a compound date on ; and , dropping empty parts.
func SplitDates(s string) []string {
	parts := strings.FieldsFunc(s, func(r rune) bool { return r == ';' || r == ',' })
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
