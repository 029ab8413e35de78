package report

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/aluiziolira/go-scrape-shelf/models"
	"github.com/aluiziolira/go-scrape-shelf/parser"
)

var csvHeader = []string{
	"title", "author", "publish_date", "rating", "rating_numeric",
	"review_text", "review_date", "url", "updated_at",
}

// CSVRenderer writes one row per record with a header row.
type CSVRenderer struct {
	path string
}

// NewCSVRenderer creates a CSV renderer writing to path.
func NewCSVRenderer(path string) *CSVRenderer {
	return &CSVRenderer{path: path}
}

// Path returns the output file.
func (cr *CSVRenderer) Path() string { return cr.path }

// Render writes the snapshot's records.
func (cr *CSVRenderer) Render(snap *models.Snapshot) (err error) {
	if err := checkSnapshot(snap); err != nil {
		return err
	}
	if err := ensureDir(cr.path); err != nil {
		return err
	}

	f, err := os.Create(cr.path)
	if err != nil {
		return fmt.Errorf("create csv file: %w", err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close csv file: %w", cerr)
		}
	}()

	writer := csv.NewWriter(f)
	if err := writer.Write(csvHeader); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	for _, book := range snap.Books {
		record := []string{
			book.Title,
			book.Author,
			book.PublishDate,
			book.Rating,
			strconv.Itoa(parser.RatingToNumeric(book.Rating)),
			book.ReviewText,
			book.ReviewDate,
			book.CanonicalURL,
			book.UpdatedAt.Format(time.RFC3339),
		}
		if err := writer.Write(record); err != nil {
			return fmt.Errorf("write csv record: %w", err)
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return fmt.Errorf("flush csv records: %w", err)
	}
	return nil
}

// JSONRenderer writes newline-delimited JSON records.
type JSONRenderer struct {
	path string
}

// NewJSONRenderer creates a JSON Lines renderer writing to path.
func NewJSONRenderer(path string) *JSONRenderer {
	return &JSONRenderer{path: path}
}

// Path returns the output file.
func (jr *JSONRenderer) Path() string { return jr.path }

// Render writes the snapshot's records in JSONL format.
func (jr *JSONRenderer) Render(snap *models.Snapshot) (err error) {
	if err := checkSnapshot(snap); err != nil {
		return err
	}
	if err := ensureDir(jr.path); err != nil {
		return err
	}

	f, err := os.Create(jr.path)
	if err != nil {
		return fmt.Errorf("create json file: %w", err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close json file: %w", cerr)
		}
	}()

	buffer := bufio.NewWriter(f)
	encoder := json.NewEncoder(buffer)
	encoder.SetEscapeHTML(false)
	for i := range snap.Books {
		if err := encoder.Encode(&snap.Books[i]); err != nil {
			return fmt.Errorf("encode json record: %w", err)
		}
	}
	if err := buffer.Flush(); err != nil {
		return fmt.Errorf("flush json writer: %w", err)
	}
	return nil
}
