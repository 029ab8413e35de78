package scraper

import (
	"context"
	"fmt"
	"time"

	"github.com/aluiziolira/go-scrape-shelf/models"
	"github.com/aluiziolira/go-scrape-shelf/parser"
)

// DetailEnricher fills missing author and publish date from an entry's
// detail page. Fields already extracted from the listing are kept.
type DetailEnricher struct {
	fetcher  URLFetcher
	cred     Credential
	pacer    *Pacer
	delayMin time.Duration
	delayMax time.Duration
}

// NewDetailEnricher builds an enricher that sleeps a random delay in
// [delayMin, delayMax] before every detail request.
func NewDetailEnricher(fetcher URLFetcher, cred Credential, pacer *Pacer, delayMin, delayMax time.Duration) *DetailEnricher {
	return &DetailEnricher{
		fetcher:  fetcher,
		cred:     cred,
		pacer:    pacer,
		delayMin: delayMin,
		delayMax: delayMax,
	}
}

// Enrich fetches the detail page of rec and fills sentinel fields.
func (e *DetailEnricher) Enrich(ctx context.Context, rec *models.BookRecord) error {
	if rec == nil || rec.CanonicalURL == "" {
		return nil
	}
	if e.pacer != nil {
		if err := e.pacer.Between(ctx, e.delayMin, e.delayMax); err != nil {
			return err
		}
	}

	page, err := e.fetcher.FetchURL(ctx, rec.CanonicalURL, e.cred)
	if err != nil {
		return fmt.Errorf("fetch detail %s: %w", rec.CanonicalURL, err)
	}
	doc, err := page.Document()
	if err != nil {
		return err
	}

	author, published := parser.ExtractDetail(doc)
	if rec.Author == models.UnknownAuthor {
		rec.Author = author
	}
	if rec.PublishDate == models.UnknownPublishDate {
		rec.PublishDate = published
	}
	return nil
}
