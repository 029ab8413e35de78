package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/aluiziolira/go-scrape-shelf/models"
)

// sessionRow is the storage shape of a crawl session; failed pages are kept
// as a JSON array.
type sessionRow struct {
	ID           string    `db:"id"`
	OwnerID      string    `db:"owner_id"`
	StartedAt    time.Time `db:"started_at"`
	EndedAt      time.Time `db:"ended_at"`
	PagesCrawled int       `db:"pages_crawled"`
	BooksFound   int       `db:"books_found"`
	ReviewsFound int       `db:"reviews_found"`
	NewBooks     int       `db:"new_books"`
	UpdatedBooks int       `db:"updated_books"`
	FailedPages  string    `db:"failed_pages"`
	Status       string    `db:"status"`
	ErrorMessage string    `db:"error_message"`
}

const insertSessionQuery = `
INSERT INTO crawl_sessions (id, owner_id, started_at, ended_at, pages_crawled,
	books_found, reviews_found, new_books, updated_books, failed_pages, status, error_message)
VALUES (:id, :owner_id, :started_at, :ended_at, :pages_crawled,
	:books_found, :reviews_found, :new_books, :updated_books, :failed_pages, :status, :error_message)`

// RecordSession appends a finished crawl session.
func (s *Store) RecordSession(ctx context.Context, session *models.CrawlSession) error {
	if session == nil {
		return errors.New("record session: nil session")
	}
	failed := session.FailedPages
	if failed == nil {
		failed = []int{}
	}
	encoded, err := json.Marshal(failed)
	if err != nil {
		return fmt.Errorf("encode failed pages: %w", err)
	}

	row := sessionRow{
		ID:           session.ID,
		OwnerID:      session.OwnerID,
		StartedAt:    session.StartedAt.UTC(),
		EndedAt:      session.EndedAt.UTC(),
		PagesCrawled: session.PagesCrawled,
		BooksFound:   session.BooksFound,
		ReviewsFound: session.ReviewsFound,
		NewBooks:     session.NewBooks,
		UpdatedBooks: session.UpdatedBooks,
		FailedPages:  string(encoded),
		Status:       string(session.Status),
		ErrorMessage: session.ErrorMessage,
	}
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.NamedExecContext(ctx, insertSessionQuery, row); err != nil {
			return fmt.Errorf("insert crawl session %s: %w", session.ID, err)
		}
		return nil
	})
}

// Sessions lists an owner's sessions, most recent first. A limit of zero or
// less returns all of them.
func (s *Store) Sessions(ctx context.Context, ownerID string, limit int) ([]models.CrawlSession, error) {
	query := `SELECT id, owner_id, started_at, ended_at, pages_crawled, books_found,
		reviews_found, new_books, updated_books, failed_pages, status, error_message
		FROM crawl_sessions WHERE owner_id = ? ORDER BY started_at DESC`
	args := []any{ownerID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	var rows []sessionRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("query sessions for %s: %w", ownerID, err)
	}

	sessions := make([]models.CrawlSession, 0, len(rows))
	for _, r := range rows {
		var failed []int
		if err := json.Unmarshal([]byte(r.FailedPages), &failed); err != nil {
			return nil, fmt.Errorf("decode failed pages of session %s: %w", r.ID, err)
		}
		sessions = append(sessions, models.CrawlSession{
			ID:           r.ID,
			OwnerID:      r.OwnerID,
			StartedAt:    r.StartedAt,
			EndedAt:      r.EndedAt,
			PagesCrawled: r.PagesCrawled,
			BooksFound:   r.BooksFound,
			ReviewsFound: r.ReviewsFound,
			NewBooks:     r.NewBooks,
			UpdatedBooks: r.UpdatedBooks,
			FailedPages:  failed,
			Status:       models.SessionStatus(r.Status),
			ErrorMessage: r.ErrorMessage,
		})
	}
	return sessions, nil
}

// UpsertOwnerProfile records a successful crawl time for the owner. An empty
// display name keeps the one already stored.
func (s *Store) UpsertOwnerProfile(ctx context.Context, ownerID, displayName string, crawledAt time.Time) error {
	const query = `
INSERT INTO owner_profiles (owner_id, display_name, last_crawl_at)
VALUES (?, ?, ?)
ON CONFLICT (owner_id) DO UPDATE SET
	display_name  = COALESCE(NULLIF(excluded.display_name, ''), owner_profiles.display_name),
	last_crawl_at = excluded.last_crawl_at`

	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, query, ownerID, displayName, crawledAt.UTC()); err != nil {
			return fmt.Errorf("upsert owner profile %s: %w", ownerID, err)
		}
		return nil
	})
}

// OwnerProfile returns the stored profile, or nil when the owner was never
// crawled successfully.
func (s *Store) OwnerProfile(ctx context.Context, ownerID string) (*models.OwnerProfile, error) {
	var p models.OwnerProfile
	err := s.db.GetContext(ctx, &p,
		`SELECT owner_id, display_name, last_crawl_at FROM owner_profiles WHERE owner_id = ?`, ownerID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query owner profile %s: %w", ownerID, err)
	}
	return &p, nil
}
