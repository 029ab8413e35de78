package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aluiziolira/go-scrape-shelf/models"
)

const owner = "reader42"

func openTestStore(t *testing.T) *Store {
	t.Helper()

	s, err := Open(context.Background(), filepath.Join(t.TempDir(), "shelf.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

// fixedClock returns a clock that advances by one minute per call.
func fixedClock(start time.Time) func() time.Time {
	current := start
	return func() time.Time {
		now := current
		current = current.Add(time.Minute)
		return now
	}
}

func sampleRecord(url, rating, review, reviewDate string) *models.BookRecord {
	return &models.BookRecord{
		OwnerID:      owner,
		CanonicalURL: url,
		Title:        "Book " + url,
		Author:       "Author",
		PublishDate:  "2020-1",
		Rating:       rating,
		ReviewText:   review,
		ReviewDate:   reviewDate,
	}
}

func TestUpsertIsIdempotent(t *testing.T) {
	s := openTestStore(t)
	start := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	s.now = fixedClock(start)
	ctx := context.Background()

	rec := sampleRecord("https://example.com/subject/1/", "4星", "good", "2023-06-01")
	require.True(t, s.Upsert(ctx, rec))

	updated := *rec
	updated.Title = "Renamed"
	updated.Rating = "5星"
	require.True(t, s.Upsert(ctx, &updated))

	books, err := s.Query(ctx, owner, AnyReview)
	require.NoError(t, err)
	require.Len(t, books, 1)

	got := books[0]
	assert.Equal(t, "Renamed", got.Title)
	assert.Equal(t, "5星", got.Rating)
	assert.True(t, got.CreatedAt.Equal(start), "created_at = %v, want %v", got.CreatedAt, start)
	assert.True(t, got.UpdatedAt.Equal(start.Add(time.Minute)), "updated_at = %v", got.UpdatedAt)
}

func TestUpsertRejectsMissingIdentity(t *testing.T) {
	s := openTestStore(t)

	assert.False(t, s.Upsert(context.Background(), nil))
	assert.False(t, s.Upsert(context.Background(), &models.BookRecord{OwnerID: owner}))
}

func TestUpsertKeepsOwnersApart(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	rec := sampleRecord("https://example.com/subject/1/", "4星", "", "2023-06-01")
	other := *rec
	other.OwnerID = "someone-else"
	require.True(t, s.Upsert(ctx, rec))
	require.True(t, s.Upsert(ctx, &other))

	books, err := s.Query(ctx, owner, AnyReview)
	require.NoError(t, err)
	assert.Len(t, books, 1)
}

func TestQueryFilters(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	for _, rec := range []*models.BookRecord{
		sampleRecord("u1", "4星", "liked it", "2022-05-01"),
		sampleRecord("u2", "3星", "", "2022"),
		sampleRecord("u3", "4星", "", "2023-06"),
		sampleRecord("u4", models.Unrated, "meh", models.UnknownReviewDate),
	} {
		require.True(t, s.Upsert(ctx, rec))
	}

	withReview, err := s.Query(ctx, owner, WithReview)
	require.NoError(t, err)
	assert.Len(t, withReview, 2)

	withoutReview, err := s.Query(ctx, owner, WithoutReview)
	require.NoError(t, err)
	assert.Len(t, withoutReview, 2)

	fourStars, err := s.QueryByRating(ctx, owner, "4星")
	require.NoError(t, err)
	assert.Len(t, fourStars, 2)

	rng := models.DateRange{
		Start: time.Date(2022, 1, 1, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2022, 12, 31, 0, 0, 0, 0, time.UTC),
	}
	inRange, err := s.QueryByDateRange(ctx, owner, rng)
	require.NoError(t, err)
	urls := make([]string, 0, len(inRange))
	for _, b := range inRange {
		urls = append(urls, b.CanonicalURL)
	}
	assert.ElementsMatch(t, []string{"u1", "u2"}, urls)
}

func TestCanonicalURLsAndClear(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.True(t, s.Upsert(ctx, sampleRecord("u1", "4星", "", "2022")))
	require.True(t, s.Upsert(ctx, sampleRecord("u2", "4星", "", "2022")))

	seen, err := s.CanonicalURLs(ctx, owner)
	require.NoError(t, err)
	assert.Contains(t, seen, "u1")
	assert.Contains(t, seen, "u2")

	require.NoError(t, s.Clear(ctx, owner))
	seen, err = s.CanonicalURLs(ctx, owner)
	require.NoError(t, err)
	assert.Empty(t, seen)
}

func TestStats(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.True(t, s.Upsert(ctx, sampleRecord("u1", "4星", "liked it", "2022-05-01")))
	require.True(t, s.Upsert(ctx, sampleRecord("u2", "4星", "", "2023-06")))
	require.True(t, s.Upsert(ctx, sampleRecord("u3", models.Unrated, "", "unknown")))

	crawled := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, s.UpsertOwnerProfile(ctx, owner, "Reader", crawled))

	stats, err := s.Stats(ctx, owner, nil)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Total)
	assert.Equal(t, 1, stats.WithReview)
	assert.Equal(t, map[string]int{"4星": 2, models.Unrated: 1}, stats.ByRating)
	require.NotNil(t, stats.LastCrawl)
	assert.True(t, stats.LastCrawl.Equal(crawled))

	rng := models.DateRange{
		Start: time.Date(2022, 1, 1, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2022, 12, 31, 0, 0, 0, 0, time.UTC),
	}
	ranged, err := s.Stats(ctx, owner, &rng)
	require.NoError(t, err)
	assert.Equal(t, 1, ranged.Total)
	assert.Equal(t, 1, ranged.WithReview)
	assert.Equal(t, map[string]int{"4星": 1}, ranged.ByRating)
}

func TestExportSnapshot(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.True(t, s.Upsert(ctx, sampleRecord("u1", "4星", "liked it", "2022-05-01")))
	require.True(t, s.Upsert(ctx, sampleRecord("u2", "2星", "", "2021-01-01")))

	snap, err := s.Export(ctx, owner, nil)
	require.NoError(t, err)
	assert.Equal(t, owner, snap.OwnerID)
	assert.Nil(t, snap.Range)
	assert.Len(t, snap.Books, 2)
	assert.Equal(t, 2, snap.Stats.Total)
	assert.Nil(t, snap.Stats.LastCrawl)
	assert.False(t, snap.GeneratedAt.IsZero())
}

func TestExportByRating(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.True(t, s.Upsert(ctx, sampleRecord("u1", "4星", "liked it", "2022-05-01")))
	require.True(t, s.Upsert(ctx, sampleRecord("u2", "4星", "", "2023-06")))
	require.True(t, s.Upsert(ctx, sampleRecord("u3", "2星", "meh", "2022-07-01")))

	snap, err := s.ExportByRating(ctx, owner, "4星", nil)
	require.NoError(t, err)
	assert.Equal(t, "4星", snap.Rating)
	assert.Len(t, snap.Books, 2)
	assert.Equal(t, 2, snap.Stats.Total)
	assert.Equal(t, 1, snap.Stats.WithReview)
	assert.Equal(t, map[string]int{"4星": 2}, snap.Stats.ByRating)

	rng := models.DateRange{
		Start: time.Date(2022, 1, 1, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2022, 12, 31, 0, 0, 0, 0, time.UTC),
	}
	ranged, err := s.ExportByRating(ctx, owner, "4星", &rng)
	require.NoError(t, err)
	require.Len(t, ranged.Books, 1)
	assert.Equal(t, "u1", ranged.Books[0].CanonicalURL)
	assert.Equal(t, 1, ranged.Stats.Total)

	empty, err := s.ExportByRating(ctx, owner, "5星", nil)
	require.NoError(t, err)
	assert.Empty(t, empty.Books)
	assert.Equal(t, 0, empty.Stats.Total)
}

func TestSessionsRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	started := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	first := &models.CrawlSession{
		ID:           "session-1",
		OwnerID:      owner,
		StartedAt:    started,
		EndedAt:      started.Add(time.Minute),
		PagesCrawled: 3,
		BooksFound:   18,
		ReviewsFound: 4,
		NewBooks:     18,
		Status:       models.StatusSuccess,
	}
	second := &models.CrawlSession{
		ID:           "session-2",
		OwnerID:      owner,
		StartedAt:    started.Add(time.Hour),
		EndedAt:      started.Add(time.Hour + time.Minute),
		FailedPages:  []int{2, 5},
		Status:       models.StatusSoftBlocked,
		ErrorMessage: "verification page",
	}
	require.NoError(t, s.RecordSession(ctx, first))
	require.NoError(t, s.RecordSession(ctx, second))

	sessions, err := s.Sessions(ctx, owner, 0)
	require.NoError(t, err)
	require.Len(t, sessions, 2)
	assert.Equal(t, "session-2", sessions[0].ID)
	assert.Equal(t, []int{2, 5}, sessions[0].FailedPages)
	assert.Equal(t, models.StatusSoftBlocked, sessions[0].Status)
	assert.Equal(t, []int{}, sessions[1].FailedPages)
	assert.Equal(t, 18, sessions[1].BooksFound)

	limited, err := s.Sessions(ctx, owner, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)

	assert.Error(t, s.RecordSession(ctx, first), "session ids are unique")
}

func TestOwnerProfileKeepsDisplayName(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	profile, err := s.OwnerProfile(ctx, owner)
	require.NoError(t, err)
	assert.Nil(t, profile)

	first := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	require.NoError(t, s.UpsertOwnerProfile(ctx, owner, "Reader", first))
	require.NoError(t, s.UpsertOwnerProfile(ctx, owner, "", first.Add(time.Hour)))

	profile, err = s.OwnerProfile(ctx, owner)
	require.NoError(t, err)
	require.NotNil(t, profile)
	assert.Equal(t, "Reader", profile.DisplayName)
	require.NotNil(t, profile.LastCrawlAt)
	assert.True(t, profile.LastCrawlAt.Equal(first.Add(time.Hour)))
}

func TestUpsertReportsPersistenceFailure(t *testing.T) {
	mockDB, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	defer mockDB.Close()

	s := New(sqlx.NewDb(mockDB, "sqlite3"))

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO books").WillReturnError(errors.New("disk I/O error"))
	mock.ExpectRollback()

	if s.Upsert(context.Background(), sampleRecord("u1", "4星", "", "2022")) {
		t.Fatal("Upsert() = true, want false on write failure")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestRecordSessionRollsBackOnFailure(t *testing.T) {
	mockDB, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	defer mockDB.Close()

	s := New(sqlx.NewDb(mockDB, "sqlite3"))

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO crawl_sessions").WillReturnError(errors.New("database is locked"))
	mock.ExpectRollback()

	err = s.RecordSession(context.Background(), &models.CrawlSession{ID: "s", OwnerID: owner, Status: models.StatusError})
	if err == nil {
		t.Fatal("RecordSession() error = nil, want failure")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}
