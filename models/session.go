package models

import "time"

// SessionStatus is the terminal status of one crawl run.
type SessionStatus string

const (
	StatusSuccess     SessionStatus = "success"
	StatusStopped     SessionStatus = "stopped"
	StatusSoftBlocked SessionStatus = "soft_blocked"
	StatusError       SessionStatus = "error"
)

// CrawlSession is the append-only audit entry written once per run.
type CrawlSession struct {
	ID           string        `json:"id"`
	OwnerID      string        `json:"owner_id"`
	StartedAt    time.Time     `json:"started_at"`
	EndedAt      time.Time     `json:"ended_at"`
	PagesCrawled int           `json:"pages_crawled"`
	BooksFound   int           `json:"books_found"`
	ReviewsFound int           `json:"reviews_found"`
	NewBooks     int           `json:"new_books"`
	UpdatedBooks int           `json:"updated_books"`
	FailedPages  []int         `json:"failed_pages"`
	Status       SessionStatus `json:"status"`
	ErrorMessage string        `json:"error_message,omitempty"`
}

// RunResult holds the overall result of a crawl run.
type RunResult struct {
	Session      *CrawlSession
	RequestCount int
	RetryCount   int
	ErrorsByType map[string]int
}
