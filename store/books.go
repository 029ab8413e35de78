package store

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jmoiron/sqlx"

	"github.com/aluiziolira/go-scrape-shelf/models"
	"github.com/aluiziolira/go-scrape-shelf/parser"
)

// bookSelectColumns lists columns for SELECT queries on books.
const bookSelectColumns = `owner_id, canonical_url, title, author, publish_date,
	rating, review_text, review_date, created_at, updated_at`

const upsertBookQuery = `
INSERT INTO books (owner_id, canonical_url, title, author, publish_date,
	rating, review_text, review_date, created_at, updated_at)
VALUES (:owner_id, :canonical_url, :title, :author, :publish_date,
	:rating, :review_text, :review_date, :created_at, :updated_at)
ON CONFLICT (owner_id, canonical_url) DO UPDATE SET
	title        = excluded.title,
	author       = excluded.author,
	publish_date = excluded.publish_date,
	rating       = excluded.rating,
	review_text  = excluded.review_text,
	review_date  = excluded.review_date,
	updated_at   = excluded.updated_at`

// ReviewFilter narrows Query by whether a review was written.
type ReviewFilter int

const (
	AnyReview ReviewFilter = iota
	WithReview
	WithoutReview
)

// Upsert inserts rec or replaces the stored record with the same owner and
// canonical URL, keeping its created_at. Failures are logged and reported as
// false; the caller decides whether to count the entry.
func (s *Store) Upsert(ctx context.Context, rec *models.BookRecord) bool {
	if rec == nil || rec.OwnerID == "" || rec.CanonicalURL == "" {
		slog.Error("upsert rejected: record missing identity")
		return false
	}

	now := s.now().UTC()
	row := *rec
	row.CreatedAt = now
	row.UpdatedAt = now

	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		_, err := tx.NamedExecContext(ctx, upsertBookQuery, row)
		return err
	})
	if err != nil {
		slog.Error("upsert book failed",
			slog.String("owner_id", rec.OwnerID),
			slog.String("url", rec.CanonicalURL),
			slog.Any("error", err),
		)
		return false
	}

	rec.UpdatedAt = now
	return true
}

// Query returns an owner's records, newest first.
func (s *Store) Query(ctx context.Context, ownerID string, filter ReviewFilter) ([]models.BookRecord, error) {
	query := `SELECT ` + bookSelectColumns + ` FROM books WHERE owner_id = ?`
	switch filter {
	case WithReview:
		query += ` AND review_text != ''`
	case WithoutReview:
		query += ` AND review_text = ''`
	}
	query += ` ORDER BY created_at DESC, id DESC`

	books := []models.BookRecord{}
	if err := s.db.SelectContext(ctx, &books, query, ownerID); err != nil {
		return nil, fmt.Errorf("query books for %s: %w", ownerID, err)
	}
	return books, nil
}

// QueryByDateRange returns records whose review date falls inside rng.
// Review dates are free-form text, so the window is applied after lenient
// parsing; unparsable dates never match.
func (s *Store) QueryByDateRange(ctx context.Context, ownerID string, rng models.DateRange) ([]models.BookRecord, error) {
	all, err := s.Query(ctx, ownerID, AnyReview)
	if err != nil {
		return nil, err
	}
	return filterByRange(all, rng), nil
}

// QueryByRating returns records carrying exactly the given rating label.
func (s *Store) QueryByRating(ctx context.Context, ownerID, rating string) ([]models.BookRecord, error) {
	query := `SELECT ` + bookSelectColumns + ` FROM books
		WHERE owner_id = ? AND rating = ?
		ORDER BY created_at DESC, id DESC`

	books := []models.BookRecord{}
	if err := s.db.SelectContext(ctx, &books, query, ownerID, rating); err != nil {
		return nil, fmt.Errorf("query books by rating for %s: %w", ownerID, err)
	}
	return books, nil
}

// CanonicalURLs snapshots the URLs already stored for an owner.
func (s *Store) CanonicalURLs(ctx context.Context, ownerID string) (map[string]struct{}, error) {
	var urls []string
	if err := s.db.SelectContext(ctx, &urls, `SELECT canonical_url FROM books WHERE owner_id = ?`, ownerID); err != nil {
		return nil, fmt.Errorf("query canonical urls for %s: %w", ownerID, err)
	}
	seen := make(map[string]struct{}, len(urls))
	for _, u := range urls {
		seen[u] = struct{}{}
	}
	return seen, nil
}

// Clear deletes every record of an owner. Sessions and profile are kept.
func (s *Store) Clear(ctx context.Context, ownerID string) error {
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM books WHERE owner_id = ?`, ownerID); err != nil {
			return fmt.Errorf("clear books for %s: %w", ownerID, err)
		}
		return nil
	})
}

func filterByRange(books []models.BookRecord, rng models.DateRange) []models.BookRecord {
	out := make([]models.BookRecord, 0, len(books))
	for _, b := range books {
		when, ok := parser.ParseLenientDate(b.ReviewDate)
		if ok && rng.Contains(when) {
			out = append(out, b)
		}
	}
	return out
}
