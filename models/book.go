// Package models defines data structures for the scraper.
package models

import (
	"strings"
	"time"
)

// Sentinel values substituted when a field cannot be extracted from markup.
const (
	UnknownTitle       = "未知"
	UnknownAuthor      = "未知作者"
	UnknownPublishDate = "未知"
	Unrated            = "未评分"
	UnknownReviewDate  = "未知日期"
)

// BookRecord is one collected item of an owner's shelf. Identity is the
// (OwnerID, CanonicalURL) pair; title and author text are not part of it.
type BookRecord struct {
	OwnerID      string    `db:"owner_id" json:"owner_id"`
	CanonicalURL string    `db:"canonical_url" json:"canonical_url"`
	Title        string    `db:"title" json:"title"`
	Author       string    `db:"author" json:"author"`
	PublishDate  string    `db:"publish_date" json:"publish_date"`
	Rating       string    `db:"rating" json:"rating"`
	ReviewText   string    `db:"review_text" json:"review_text"`
	ReviewDate   string    `db:"review_date" json:"review_date"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time `db:"updated_at" json:"updated_at"`
}

// HasReview reports whether the owner wrote review text for the item.
func (b *BookRecord) HasReview() bool {
	return b != nil && strings.TrimSpace(b.ReviewText) != ""
}

// OwnerProfile is display-only information about a collection owner.
type OwnerProfile struct {
	OwnerID     string     `db:"owner_id" json:"owner_id"`
	DisplayName string     `db:"display_name" json:"display_name"`
	LastCrawlAt *time.Time `db:"last_crawl_at" json:"last_crawl_at,omitempty"`
}

// Stats aggregates an owner's stored collection.
type Stats struct {
	Total      int            `json:"total"`
	WithReview int            `json:"with_review"`
	ByRating   map[string]int `json:"by_rating"`
	LastCrawl  *time.Time     `json:"last_crawl,omitempty"`
}

// Snapshot is the materialized collection handed to report renderers.
type Snapshot struct {
	OwnerID     string       `json:"owner_id"`
	Range       *DateRange   `json:"range,omitempty"`
	Rating      string       `json:"rating,omitempty"`
	Stats       Stats        `json:"stats"`
	Books       []BookRecord `json:"books"`
	GeneratedAt time.Time    `json:"generated_at"`
}

// DateRange is an inclusive [Start, End] window over review dates.
type DateRange struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Contains reports whether t falls inside the window, bounds included.
func (r DateRange) Contains(t time.Time) bool {
	return !t.Before(r.Start) && !t.After(r.End)
}

// String renders the window as YYYY-MM-DD~YYYY-MM-DD.
func (r DateRange) String() string {
	return r.Start.Format("2006-01-02") + "~" + r.End.Format("2006-01-02")
}
