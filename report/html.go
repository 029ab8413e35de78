package report

import (
	"bufio"
	_ "embed"
	"fmt"
	"html/template"
	"os"
	"sort"
	"strings"

	"github.com/aluiziolira/go-scrape-shelf/models"
	"github.com/aluiziolira/go-scrape-shelf/parser"
)

//go:embed templates/collection.html.tmpl
var collectionTemplate string

var collectionTmpl = template.Must(template.New("collection").Funcs(template.FuncMap{
	"lower": strings.ToLower,
}).Parse(collectionTemplate))

// HTMLRenderer writes a self-contained page with stats, a rating filter, a
// has-review filter and a search box.
type HTMLRenderer struct {
	path string
}

// NewHTMLRenderer creates an HTML renderer writing to path.
func NewHTMLRenderer(path string) *HTMLRenderer {
	return &HTMLRenderer{path: path}
}

// Path returns the output file.
func (hr *HTMLRenderer) Path() string { return hr.path }

type ratingBucket struct {
	Label string
	Count int
}

type bookView struct {
	models.BookRecord
	Stars     int
	HasReview bool
}

type pageView struct {
	Title       string
	OwnerID     string
	Range       string
	Rating      string
	GeneratedAt string
	LastCrawl   string
	Total       int
	WithReview  int
	Ratings     []ratingBucket
	Books       []bookView
}

// Render writes the page.
func (hr *HTMLRenderer) Render(snap *models.Snapshot) (err error) {
	if err := checkSnapshot(snap); err != nil {
		return err
	}
	if err := ensureDir(hr.path); err != nil {
		return err
	}

	f, err := os.Create(hr.path)
	if err != nil {
		return fmt.Errorf("create html file: %w", err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close html file: %w", cerr)
		}
	}()

	buffer := bufio.NewWriter(f)
	if err := collectionTmpl.Execute(buffer, newPageView(snap)); err != nil {
		return fmt.Errorf("execute html template: %w", err)
	}
	if err := buffer.Flush(); err != nil {
		return fmt.Errorf("flush html writer: %w", err)
	}
	return nil
}

func newPageView(snap *models.Snapshot) pageView {
	view := pageView{
		Title:       snap.OwnerID + " 的读书记录",
		OwnerID:     snap.OwnerID,
		Rating:      snap.Rating,
		GeneratedAt: snap.GeneratedAt.Local().Format("2006-01-02 15:04"),
		Total:       snap.Stats.Total,
		WithReview:  snap.Stats.WithReview,
		Books:       make([]bookView, 0, len(snap.Books)),
	}
	if snap.Range != nil {
		view.Range = snap.Range.String()
	}
	if snap.Stats.LastCrawl != nil {
		view.LastCrawl = snap.Stats.LastCrawl.Local().Format("2006-01-02 15:04")
	}

	for rating, count := range snap.Stats.ByRating {
		view.Ratings = append(view.Ratings, ratingBucket{Label: rating, Count: count})
	}
	// Star levels descending, then score and unrated labels alphabetically.
	sort.Slice(view.Ratings, func(i, j int) bool {
		si, sj := parser.RatingToNumeric(view.Ratings[i].Label), parser.RatingToNumeric(view.Ratings[j].Label)
		if si != sj {
			return si > sj
		}
		return view.Ratings[i].Label < view.Ratings[j].Label
	})

	for _, book := range snap.Books {
		view.Books = append(view.Books, bookView{
			BookRecord: book,
			Stars:      parser.RatingToNumeric(book.Rating),
			HasReview:  book.HasReview(),
		})
	}
	return view
}
