package report

import (
	"fmt"
	"sort"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/aluiziolira/go-scrape-shelf/models"
	"github.com/aluiziolira/go-scrape-shelf/parser"
)

const (
	booksSheet = "Books"
	statsSheet = "Stats"
)

// XLSXRenderer writes a workbook with a Books sheet and a Stats sheet.
type XLSXRenderer struct {
	path string
}

// NewXLSXRenderer creates a workbook renderer writing to path.
func NewXLSXRenderer(path string) *XLSXRenderer {
	return &XLSXRenderer{path: path}
}

// Path returns the output file.
func (xr *XLSXRenderer) Path() string { return xr.path }

// Render builds the workbook and saves it.
func (xr *XLSXRenderer) Render(snap *models.Snapshot) error {
	if err := checkSnapshot(snap); err != nil {
		return err
	}
	if err := ensureDir(xr.path); err != nil {
		return err
	}

	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", booksSheet); err != nil {
		return fmt.Errorf("rename sheet: %w", err)
	}
	if err := writeBooksSheet(f, snap.Books); err != nil {
		return err
	}
	if _, err := f.NewSheet(statsSheet); err != nil {
		return fmt.Errorf("create stats sheet: %w", err)
	}
	if err := writeStatsSheet(f, snap); err != nil {
		return err
	}

	if err := f.SaveAs(xr.path); err != nil {
		return fmt.Errorf("save workbook: %w", err)
	}
	return nil
}

func writeBooksSheet(f *excelize.File, books []models.BookRecord) error {
	header := make([]interface{}, len(csvHeader))
	for i, h := range csvHeader {
		header[i] = h
	}
	if err := setRow(f, booksSheet, 1, header); err != nil {
		return err
	}

	for i, book := range books {
		row := []interface{}{
			book.Title,
			book.Author,
			book.PublishDate,
			book.Rating,
			parser.RatingToNumeric(book.Rating),
			book.ReviewText,
			book.ReviewDate,
			book.CanonicalURL,
			book.UpdatedAt.Format(time.RFC3339),
		}
		if err := setRow(f, booksSheet, i+2, row); err != nil {
			return err
		}
	}
	return nil
}

func writeStatsSheet(f *excelize.File, snap *models.Snapshot) error {
	rows := [][]interface{}{
		{"owner", snap.OwnerID},
		{"total", snap.Stats.Total},
		{"with_review", snap.Stats.WithReview},
	}
	if snap.Range != nil {
		rows = append(rows, []interface{}{"range", snap.Range.String()})
	}
	if snap.Rating != "" {
		rows = append(rows, []interface{}{"rating_filter", snap.Rating})
	}
	if snap.Stats.LastCrawl != nil {
		rows = append(rows, []interface{}{"last_crawl", snap.Stats.LastCrawl.Format(time.RFC3339)})
	}
	rows = append(rows, []interface{}{"generated_at", snap.GeneratedAt.Format(time.RFC3339)})

	ratings := make([]string, 0, len(snap.Stats.ByRating))
	for rating := range snap.Stats.ByRating {
		ratings = append(ratings, rating)
	}
	sort.Strings(ratings)
	for _, rating := range ratings {
		rows = append(rows, []interface{}{"rating " + rating, snap.Stats.ByRating[rating]})
	}

	for i, row := range rows {
		if err := setRow(f, statsSheet, i+1, row); err != nil {
			return err
		}
	}
	return nil
}

func setRow(f *excelize.File, sheet string, row int, values []interface{}) error {
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return fmt.Errorf("cell name for row %d: %w", row, err)
	}
	if err := f.SetSheetRow(sheet, cell, &values); err != nil {
		return fmt.Errorf("write %s row %d: %w", sheet, row, err)
	}
	return nil
}
