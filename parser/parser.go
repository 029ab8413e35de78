// Package parser extracts shelf entries from listing markup. Every function
// here is pure: a selector miss degrades to a sentinel, never to an error.
package parser

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/aluiziolira/go-scrape-shelf/models"
)

// ValidateRecord ensures the extractor captured an identity for the entry.
func ValidateRecord(b *models.BookRecord) error {
	if b == nil {
		return fmt.Errorf("record is nil")
	}
	if strings.TrimSpace(b.CanonicalURL) == "" {
		return fmt.Errorf("record missing canonical url for %s", b.Title)
	}
	if strings.TrimSpace(b.Title) == "" {
		return fmt.Errorf("record missing title for %s", b.CanonicalURL)
	}
	return nil
}

// NormalizeText collapses runs of whitespace into single spaces.
func NormalizeText(text string) string {
	return strings.Join(strings.Fields(text), " ")
}

// RatingToNumeric converts a star label such as "4星" to its level.
// Score labels and the unrated sentinel map to 0.
func RatingToNumeric(rating string) int {
	rating = strings.TrimSpace(rating)
	if !strings.HasSuffix(rating, starSuffix) {
		return 0
	}
	level, err := strconv.Atoi(strings.TrimSuffix(rating, starSuffix))
	if err != nil || level < 0 || level > 5 {
		return 0
	}
	return level
}

func orDefault(value, fallback string) string {
	if value = NormalizeText(value); value == "" {
		return fallback
	}
	return value
}
