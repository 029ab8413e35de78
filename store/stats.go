package store

import (
	"context"
	"fmt"

	"github.com/aluiziolira/go-scrape-shelf/models"
)

type ratingCount struct {
	Rating string `db:"rating"`
	Count  int    `db:"n"`
}

// Stats aggregates an owner's collection. When rng is non-nil only records
// whose review date parses into the window are counted.
func (s *Store) Stats(ctx context.Context, ownerID string, rng *models.DateRange) (models.Stats, error) {
	stats := models.Stats{ByRating: make(map[string]int)}

	if rng != nil {
		books, err := s.QueryByDateRange(ctx, ownerID, *rng)
		if err != nil {
			return stats, err
		}
		stats = aggregate(books)
	} else {
		err := s.db.GetContext(ctx, &stats.Total,
			`SELECT COUNT(*) FROM books WHERE owner_id = ?`, ownerID)
		if err != nil {
			return stats, fmt.Errorf("count books for %s: %w", ownerID, err)
		}
		err = s.db.GetContext(ctx, &stats.WithReview,
			`SELECT COUNT(*) FROM books WHERE owner_id = ? AND review_text != ''`, ownerID)
		if err != nil {
			return stats, fmt.Errorf("count reviews for %s: %w", ownerID, err)
		}

		var counts []ratingCount
		err = s.db.SelectContext(ctx, &counts,
			`SELECT rating, COUNT(*) AS n FROM books WHERE owner_id = ? GROUP BY rating`, ownerID)
		if err != nil {
			return stats, fmt.Errorf("count ratings for %s: %w", ownerID, err)
		}
		for _, c := range counts {
			stats.ByRating[c.Rating] = c.Count
		}
	}

	if err := s.attachLastCrawl(ctx, ownerID, &stats); err != nil {
		return stats, err
	}
	return stats, nil
}

func aggregate(books []models.BookRecord) models.Stats {
	stats := models.Stats{ByRating: make(map[string]int)}
	for i := range books {
		stats.Total++
		if books[i].HasReview() {
			stats.WithReview++
		}
		stats.ByRating[books[i].Rating]++
	}
	return stats
}

func (s *Store) attachLastCrawl(ctx context.Context, ownerID string, stats *models.Stats) error {
	profile, err := s.OwnerProfile(ctx, ownerID)
	if err != nil {
		return err
	}
	if profile != nil {
		stats.LastCrawl = profile.LastCrawlAt
	}
	return nil
}

// Export materializes the snapshot handed to report renderers.
func (s *Store) Export(ctx context.Context, ownerID string, rng *models.DateRange) (*models.Snapshot, error) {
	var (
		books []models.BookRecord
		err   error
	)
	if rng != nil {
		books, err = s.QueryByDateRange(ctx, ownerID, *rng)
	} else {
		books, err = s.Query(ctx, ownerID, AnyReview)
	}
	if err != nil {
		return nil, err
	}

	stats, err := s.Stats(ctx, ownerID, rng)
	if err != nil {
		return nil, err
	}

	return &models.Snapshot{
		OwnerID:     ownerID,
		Range:       rng,
		Stats:       stats,
		Books:       books,
		GeneratedAt: s.now().UTC(),
	}, nil
}

// ExportByRating materializes a snapshot of the records carrying one rating
// label, optionally narrowed to a review-date window. Stats describe only
// those records.
func (s *Store) ExportByRating(ctx context.Context, ownerID, rating string, rng *models.DateRange) (*models.Snapshot, error) {
	books, err := s.QueryByRating(ctx, ownerID, rating)
	if err != nil {
		return nil, err
	}
	if rng != nil {
		books = filterByRange(books, *rng)
	}

	stats := aggregate(books)
	if err := s.attachLastCrawl(ctx, ownerID, &stats); err != nil {
		return nil, err
	}

	return &models.Snapshot{
		OwnerID:     ownerID,
		Range:       rng,
		Rating:      rating,
		Stats:       stats,
		Books:       books,
		GeneratedAt: s.now().UTC(),
	}, nil
}
