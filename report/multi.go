package report

import (
	"errors"
	"fmt"
	"strings"

	"github.com/aluiziolira/go-scrape-shelf/models"
)

// MultiRenderer fans one snapshot out to several renderers.
type MultiRenderer struct {
	renderers []Renderer
}

// NewMultiRenderer combines renderers; nil entries are ignored.
func NewMultiRenderer(renderers ...Renderer) *MultiRenderer {
	mr := &MultiRenderer{}
	for _, r := range renderers {
		if r != nil {
			mr.renderers = append(mr.renderers, r)
		}
	}
	return mr
}

// Path lists every output file.
func (mr *MultiRenderer) Path() string {
	paths := make([]string, 0, len(mr.renderers))
	for _, r := range mr.renderers {
		paths = append(paths, r.Path())
	}
	return strings.Join(paths, ", ")
}

// Render runs every renderer, continuing past failures, and joins the errors.
func (mr *MultiRenderer) Render(snap *models.Snapshot) error {
	var errs []error
	for _, r := range mr.renderers {
		if err := r.Render(snap); err != nil {
			errs = append(errs, fmt.Errorf("render %s: %w", r.Path(), err))
		}
	}
	return errors.Join(errs...)
}
