package scraper

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/gocolly/colly/v2"

	"github.com/aluiziolira/go-scrape-shelf/config"
)

const responseKey = "response"

// maxRedirects mirrors net/http's default redirect ceiling.
const maxRedirects = 10

// PageRequest identifies one attempt at one listing page.
type PageRequest struct {
	OwnerID    string
	Index      int
	Attempt    int
	Credential Credential
}

// Page is a successfully fetched document.
type Page struct {
	Index    int
	URL      string
	FinalURL string
	Status   int
	Body     []byte
}

// Document parses the page body.
func (p *Page) Document() (*goquery.Document, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(p.Body))
	if err != nil {
		return nil, fmt.Errorf("parse page %s: %w", p.URL, err)
	}
	return doc, nil
}

// PageFetcher performs a single attempt at a listing page.
type PageFetcher interface {
	Fetch(ctx context.Context, req PageRequest) (*Page, error)
}

// URLFetcher performs a single attempt at an arbitrary URL on the origin.
type URLFetcher interface {
	FetchURL(ctx context.Context, url string, cred Credential) (*Page, error)
}

// Fetcher issues paced, identity-rotated GET requests through a synchronous
// colly collector and classifies each outcome as success, soft block or
// transient failure.
type Fetcher struct {
	cfg        *config.Config
	collector  *colly.Collector
	identities IdentityProvider
	pacer      *Pacer
	metrics    *Metrics
}

// FetcherOption customizes a Fetcher.
type FetcherOption func(*Fetcher)

// WithTransport swaps the HTTP transport, typically for tests.
func WithTransport(rt http.RoundTripper) FetcherOption {
	return func(f *Fetcher) { f.collector.WithTransport(rt) }
}

// WithIdentities replaces the default header profile pool.
func WithIdentities(p IdentityProvider) FetcherOption {
	return func(f *Fetcher) { f.identities = p }
}

// WithPacer replaces the pacer built from the configuration.
func WithPacer(p *Pacer) FetcherOption {
	return func(f *Fetcher) { f.pacer = p }
}

// NewFetcher builds a fetcher configured from cfg.
func NewFetcher(cfg *config.Config, metrics *Metrics, opts ...FetcherOption) *Fetcher {
	collector := colly.NewCollector(
		colly.UserAgent(cfg.UserAgent),
		colly.AllowURLRevisit(),
	)
	collector.ParseHTTPErrorResponse = true
	collector.SetRequestTimeout(cfg.Timeout)
	collector.WithTransport(&http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   cfg.Timeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:        10,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	})

	verificationHost := strings.ToLower(cfg.VerificationHost)
	collector.SetRedirectHandler(func(req *http.Request, via []*http.Request) error {
		if verificationHost != "" && strings.EqualFold(req.URL.Hostname(), verificationHost) {
			return &SoftBlockedError{URL: req.URL.String(), Reason: "redirected to verification page"}
		}
		if len(via) >= maxRedirects {
			return fmt.Errorf("stopped after %d redirects", maxRedirects)
		}
		return nil
	})

	collector.OnResponse(func(r *colly.Response) {
		r.Ctx.Put(responseKey, r)
	})

	f := &Fetcher{
		cfg:        cfg,
		collector:  collector,
		identities: NewProfilePool(),
		pacer:      NewPacer(cfg),
		metrics:    metrics,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Fetch waits for its pacing slot and requests one listing page.
func (f *Fetcher) Fetch(ctx context.Context, req PageRequest) (*Page, error) {
	target := f.cfg.PageURL(req.OwnerID, req.Index)
	if err := f.pacer.Wait(ctx, req.Attempt); err != nil {
		return nil, err
	}
	f.metrics.IncRequest("listing")
	page, err := f.get(ctx, target, req.Credential)
	if err != nil {
		return nil, err
	}
	page.Index = req.Index
	return page, nil
}

// FetchURL requests a detail page, honouring only the crawl-delay floor.
func (f *Fetcher) FetchURL(ctx context.Context, target string, cred Credential) (*Page, error) {
	if err := f.pacer.Floor(ctx); err != nil {
		return nil, err
	}
	f.metrics.IncRequest("detail")
	return f.get(ctx, target, cred)
}

type fetchResult struct {
	resp *colly.Response
	err  error
}

func (f *Fetcher) get(ctx context.Context, target string, cred Credential) (*Page, error) {
	headers := requestHeaders(f.identities.Next(), cred, f.cfg.UserAgent, f.cfg.Referer)
	cctx := colly.NewContext()

	// The collector has no per-request cancellation; the request is bounded
	// by the collector timeout and abandoned when ctx ends first.
	done := make(chan fetchResult, 1)
	start := time.Now()
	go func() {
		err := f.collector.Request(http.MethodGet, target, nil, cctx, headers)
		resp, _ := cctx.GetAny(responseKey).(*colly.Response)
		done <- fetchResult{resp: resp, err: err}
	}()

	var res fetchResult
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res = <-done:
	}
	f.metrics.ObserveDuration(time.Since(start))

	return f.classify(target, res)
}

func (f *Fetcher) classify(target string, res fetchResult) (*Page, error) {
	if res.err != nil {
		var soft *SoftBlockedError
		if errors.As(res.err, &soft) {
			f.metrics.IncSoftBlock()
			return nil, soft
		}
		return nil, &TransientError{URL: target, Err: classifyError(res.err, 0)}
	}
	if res.resp == nil {
		return nil, &TransientError{URL: target, Err: errors.New("no response received")}
	}

	resp := res.resp
	finalURL := target
	if resp.Request != nil && resp.Request.URL != nil {
		finalURL = resp.Request.URL.String()
		if host := f.cfg.VerificationHost; host != "" && strings.EqualFold(resp.Request.URL.Hostname(), host) {
			f.metrics.IncSoftBlock()
			return nil, &SoftBlockedError{URL: finalURL, Reason: "verification page"}
		}
	}

	if resp.StatusCode == http.StatusForbidden {
		f.metrics.IncSoftBlock()
		return nil, &SoftBlockedError{URL: finalURL, Reason: "access forbidden (403)"}
	}
	for _, marker := range f.cfg.BlockMarkers {
		if marker != "" && bytes.Contains(resp.Body, []byte(marker)) {
			f.metrics.IncSoftBlock()
			return nil, &SoftBlockedError{URL: finalURL, Reason: fmt.Sprintf("block marker %q in body", marker)}
		}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &TransientError{
			URL:    target,
			Status: resp.StatusCode,
			Err:    classifyError(nil, resp.StatusCode),
		}
	}

	return &Page{
		URL:      target,
		FinalURL: finalURL,
		Status:   resp.StatusCode,
		Body:     resp.Body,
	}, nil
}
