package parser

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/aluiziolira/go-scrape-shelf/models"
)

// lenientLayouts accept both padded and unpadded month/day numbers.
var lenientLayouts = []string{"2006-1-2", "2006-1", "2006"}

var (
	dateNormalizer = strings.NewReplacer("年", "-", "月", "-", "日", "", "/", "-", ".", "-")
	dateTokenRe    = regexp.MustCompile(`\d{4}-\d{1,2}(?:-\d{1,2})?`)
	yearTokenRe    = regexp.MustCompile(`\d{4}`)
)

// ParseLenientDate parses the loosely formatted dates found on listing pages:
// "2023-06-01", "2023/6/1", "2023年6月", "2023-06", "2023". When none of the
// layouts match, the first four-digit year is anchored to January 1.
// Sentinels and empty strings are unparsable.
func ParseLenientDate(raw string) (time.Time, bool) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return time.Time{}, false
	}
	s = strings.Trim(dateNormalizer.Replace(s), "- ")

	if t, ok := parseLayouts(s); ok {
		return t, true
	}
	if token := dateTokenRe.FindString(s); token != "" {
		if t, ok := parseLayouts(token); ok {
			return t, true
		}
	}
	if token := yearTokenRe.FindString(s); token != "" {
		year, err := strconv.Atoi(token)
		if err == nil && year > 0 {
			return time.Date(year, time.January, 1, 0, 0, 0, 0, time.UTC), true
		}
	}
	return time.Time{}, false
}

func parseLayouts(s string) (time.Time, bool) {
	for _, layout := range lenientLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// ParseRange builds an inclusive window from user-supplied bounds in
// YYYY-MM-DD, YYYY-MM or YYYY form. A year or year-month end bound is widened
// to the last day of that period.
func ParseRange(start, end string) (models.DateRange, error) {
	from, _, err := parseBound(start)
	if err != nil {
		return models.DateRange{}, fmt.Errorf("start date: %w", err)
	}
	to, layout, err := parseBound(end)
	if err != nil {
		return models.DateRange{}, fmt.Errorf("end date: %w", err)
	}

	switch layout {
	case "2006":
		to = time.Date(to.Year(), time.December, 31, 0, 0, 0, 0, time.UTC)
	case "2006-01":
		to = to.AddDate(0, 1, -1)
	}
	if to.Before(from) {
		return models.DateRange{}, fmt.Errorf("end date %s is before start date %s", end, start)
	}
	return models.DateRange{Start: from, End: to}, nil
}

func parseBound(raw string) (time.Time, string, error) {
	raw = strings.TrimSpace(raw)
	for _, layout := range []string{"2006-01-02", "2006-01", "2006"} {
		if t, err := time.Parse(layout, raw); err == nil {
			return t, layout, nil
		}
	}
	return time.Time{}, "", fmt.Errorf("unrecognised date %q (want YYYY-MM-DD, YYYY-MM or YYYY)", raw)
}
