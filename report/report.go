// Package report renders a stored collection snapshot into files.
package report

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/aluiziolira/go-scrape-shelf/models"
)

// Format names accepted by NewRenderer.
const (
	FormatHTML = "html"
	FormatCSV  = "csv"
	FormatJSON = "json"
	FormatXLSX = "xlsx"
	FormatAll  = "all"
)

// Renderer writes a snapshot to its destination.
type Renderer interface {
	Render(snap *models.Snapshot) error
	// Path reports where output goes, for logging.
	Path() string
}

// NewRenderer picks the renderer for format. For "all", path is treated as
// a base name and each format gets its own extension.
func NewRenderer(format, path string) (Renderer, error) {
	switch strings.ToLower(format) {
	case FormatHTML:
		return NewHTMLRenderer(path), nil
	case FormatCSV:
		return NewCSVRenderer(path), nil
	case FormatJSON:
		return NewJSONRenderer(path), nil
	case FormatXLSX:
		return NewXLSXRenderer(path), nil
	case FormatAll:
		base := strings.TrimSuffix(path, filepath.Ext(path))
		return NewMultiRenderer(
			NewHTMLRenderer(base+".html"),
			NewCSVRenderer(base+".csv"),
			NewJSONRenderer(base+".jsonl"),
			NewXLSXRenderer(base+".xlsx"),
		), nil
	default:
		return nil, fmt.Errorf("unsupported output format %q", format)
	}
}

func ensureDir(filename string) error {
	dir := filepath.Dir(filename)
	if dir == "" || dir == "." {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create directory %q: %w", dir, err)
	}
	return nil
}

func checkSnapshot(snap *models.Snapshot) error {
	if snap == nil {
		return fmt.Errorf("render: nil snapshot")
	}
	return nil
}
