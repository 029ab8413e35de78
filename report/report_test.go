package report

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/aluiziolira/go-scrape-shelf/models"
)

func testSnapshot() *models.Snapshot {
	updated := time.Date(2025, 11, 4, 13, 9, 13, 0, time.UTC)
	crawled := updated.Add(-time.Hour)
	return &models.Snapshot{
		OwnerID: "reader42",
		Stats: models.Stats{
			Total:      2,
			WithReview: 1,
			ByRating:   map[string]int{"4星": 1, models.Unrated: 1},
			LastCrawl:  &crawled,
		},
		Books: []models.BookRecord{
			{
				OwnerID:      "reader42",
				CanonicalURL: "https://book.example/subject/1/",
				Title:        "活着",
				Author:       "余华",
				PublishDate:  "2012-8-1",
				Rating:       "4星",
				ReviewText:   "<b>写得真好</b>",
				ReviewDate:   "2023-06-01",
				UpdatedAt:    updated,
			},
			{
				OwnerID:      "reader42",
				CanonicalURL: "https://book.example/subject/2/",
				Title:        "Test Book",
				Author:       models.UnknownAuthor,
				PublishDate:  models.UnknownPublishDate,
				Rating:       models.Unrated,
				ReviewDate:   models.UnknownReviewDate,
				UpdatedAt:    updated,
			},
		},
		GeneratedAt: updated,
	}
}

func TestNewRendererFormats(t *testing.T) {
	tests := []struct {
		format  string
		want    interface{}
		wantErr bool
	}{
		{format: "html", want: &HTMLRenderer{}},
		{format: "CSV", want: &CSVRenderer{}},
		{format: "json", want: &JSONRenderer{}},
		{format: "xlsx", want: &XLSXRenderer{}},
		{format: "all", want: &MultiRenderer{}},
		{format: "pdf", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.format, func(t *testing.T) {
			r, err := NewRenderer(tt.format, "out/collection.html")
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.IsType(t, tt.want, r)
		})
	}
}

func TestAllFormatsDeriveFileNames(t *testing.T) {
	r, err := NewRenderer(FormatAll, "out/collection.html")
	require.NoError(t, err)
	assert.Equal(t, "out/collection.html, out/collection.csv, out/collection.jsonl, out/collection.xlsx", r.Path())
}

func TestCSVRendererRender(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "books.csv")

	require.NoError(t, NewCSVRenderer(path).Render(testSnapshot()))

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	records, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, csvHeader, records[0])
	assert.Equal(t, "活着", records[1][0])
	assert.Equal(t, "4", records[1][4])
	assert.Equal(t, "0", records[2][4])
	assert.Equal(t, "2025-11-04T13:09:13Z", records[1][8])
}

func TestJSONRendererRender(t *testing.T) {
	path := filepath.Join(t.TempDir(), "books.jsonl")

	require.NoError(t, NewJSONRenderer(path).Render(testSnapshot()))

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	scanner := bufio.NewScanner(f)
	var lines int
	for scanner.Scan() {
		var rec models.BookRecord
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &rec))
		assert.NotEmpty(t, rec.CanonicalURL)
		lines++
	}
	require.NoError(t, scanner.Err())
	assert.Equal(t, 2, lines)
}

func TestHTMLRendererRender(t *testing.T) {
	path := filepath.Join(t.TempDir(), "collection.html")

	require.NoError(t, NewHTMLRenderer(path).Render(testSnapshot()))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	page := string(raw)

	assert.Contains(t, page, "reader42 的读书记录")
	assert.Contains(t, page, `data-rating="4星"`)
	assert.Contains(t, page, `data-review="1"`)
	assert.Contains(t, page, `id="search"`)
	assert.Contains(t, page, `id="review-only"`)
	assert.Contains(t, page, "&lt;b&gt;写得真好&lt;/b&gt;", "review text must be escaped")
	assert.NotContains(t, page, "<b>写得真好</b>")
	assert.Less(t, strings.Index(page, ">4星</button>"), strings.Index(page, ">"+models.Unrated+"</button>"),
		"star ratings are listed before unrated")
}

func TestRenderersShowRatingFilter(t *testing.T) {
	dir := t.TempDir()
	snap := testSnapshot()
	snap.Rating = "4星"
	snap.Books = snap.Books[:1]

	htmlPath := filepath.Join(dir, "rated.html")
	require.NoError(t, NewHTMLRenderer(htmlPath).Render(snap))
	raw, err := os.ReadFile(htmlPath)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "<p>评分 4星</p>")
	assert.NotContains(t, string(raw), "Test Book")

	xlsxPath := filepath.Join(dir, "rated.xlsx")
	require.NoError(t, NewXLSXRenderer(xlsxPath).Render(snap))
	f, err := excelize.OpenFile(xlsxPath)
	require.NoError(t, err)
	defer f.Close()
	stats, err := f.GetRows(statsSheet)
	require.NoError(t, err)
	assert.Contains(t, stats, []string{"rating_filter", "4星"})
}

func TestXLSXRendererRender(t *testing.T) {
	path := filepath.Join(t.TempDir(), "collection.xlsx")

	require.NoError(t, NewXLSXRenderer(path).Render(testSnapshot()))

	f, err := excelize.OpenFile(path)
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows(booksSheet)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "title", rows[0][0])
	assert.Equal(t, "活着", rows[1][0])

	stats, err := f.GetRows(statsSheet)
	require.NoError(t, err)
	require.NotEmpty(t, stats)
	assert.Equal(t, []string{"owner", "reader42"}, stats[0])
	assert.Equal(t, []string{"total", "2"}, stats[1])
}

func TestMultiRendererRendersAll(t *testing.T) {
	base := filepath.Join(t.TempDir(), "collection.html")
	r, err := NewRenderer(FormatAll, base)
	require.NoError(t, err)
	require.NoError(t, r.Render(testSnapshot()))

	for _, ext := range []string{".html", ".csv", ".jsonl", ".xlsx"} {
		info, err := os.Stat(strings.TrimSuffix(base, ".html") + ext)
		require.NoError(t, err, ext)
		assert.Positive(t, info.Size(), ext)
	}
}

func TestRenderRejectsNilSnapshot(t *testing.T) {
	dir := t.TempDir()
	for _, r := range []Renderer{
		NewHTMLRenderer(filepath.Join(dir, "a.html")),
		NewCSVRenderer(filepath.Join(dir, "a.csv")),
		NewJSONRenderer(filepath.Join(dir, "a.jsonl")),
		NewXLSXRenderer(filepath.Join(dir, "a.xlsx")),
	} {
		assert.Error(t, r.Render(nil), r.Path())
	}
}
