package parser

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/aluiziolira/go-scrape-shelf/models"
)

var detailPublishedRe = regexp.MustCompile(`出版年:?\s*(\d{4}[-年]\d{1,2}月?)`)

// ExtractDetail reads author and publish date from an item's detail page
// (#info block). Missing values come back as sentinels.
func ExtractDetail(doc *goquery.Document) (author, published string) {
	author, published = models.UnknownAuthor, models.UnknownPublishDate
	if doc == nil {
		return author, published
	}
	info := doc.Find("#info").First()
	if info.Length() == 0 {
		return author, published
	}

	if link := info.Find(`a[href*="/author/"]`).First(); link.Length() > 0 {
		author = orDefault(link.Text(), models.UnknownAuthor)
	} else {
		author = authorFromLabel(info.Text())
	}

	if m := detailPublishedRe.FindStringSubmatch(info.Text()); m != nil {
		published = strings.TrimSpace(m[1])
	}
	return author, published
}
