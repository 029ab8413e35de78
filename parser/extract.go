package parser

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"github.com/aluiziolira/go-scrape-shelf/models"
)

const (
	starSuffix  = "星"
	scoreSuffix = "分"
	metaSep     = " / "
	maxYearOnly = 10
)

// entrySelectors are tried in order; the first one that matches wins.
// List view, grid view and older template versions each use a different one.
var entrySelectors = []string{
	"li.subject-item",
	"div.subject-item",
	"div.item",
	"div.book-item",
	"ul.subject-list li",
	"ol.subject-list li",
}

var (
	ratingClassRe = regexp.MustCompile(`rating(\d+)`)
	fullDateRe    = regexp.MustCompile(`\b(19|20)\d{2}[-/]\d{1,2}[-/]\d{1,2}`)
	monthDateRe   = regexp.MustCompile(`\b(19|20)\d{2}[-年/]\d{1,2}月?`)
	bareYearRe    = regexp.MustCompile(`\b(19|20)\d{2}\b`)
	authorLabelRe = []*regexp.Regexp{
		regexp.MustCompile(`作者[:：]?\s*([^/\n]+)`),
		regexp.MustCompile(`(?i)author\s*[:：]\s*([^/\n]+)`),
	}
	reviewDateRe = regexp.MustCompile(`\d{4}[-/年]\d{1,2}(?:[-/月]\d{1,2}日?)?`)
)

// FindEntries returns the listing-entry containers of a page.
func FindEntries(doc *goquery.Document) []*goquery.Selection {
	if doc == nil {
		return nil
	}
	for _, selector := range entrySelectors {
		found := doc.Find(selector)
		if found.Length() == 0 {
			continue
		}
		entries := make([]*goquery.Selection, 0, found.Length())
		found.Each(func(_ int, s *goquery.Selection) {
			entries = append(entries, s)
		})
		return entries
	}
	return nil
}

// DetectLoginPrompt reports whether the page asks the visitor to sign in,
// which usually means the cookie has expired.
func DetectLoginPrompt(doc *goquery.Document) bool {
	if doc == nil {
		return false
	}
	if doc.Find(".login").Length() > 0 {
		return true
	}
	return strings.Contains(doc.Text(), "请登录")
}

// ExtractEntry pulls one record out of an entry fragment. Owner and
// timestamps are left for the caller.
func ExtractEntry(item *goquery.Selection) *models.BookRecord {
	rec := &models.BookRecord{
		Title:       models.UnknownTitle,
		Author:      models.UnknownAuthor,
		PublishDate: models.UnknownPublishDate,
		Rating:      models.Unrated,
		ReviewDate:  models.UnknownReviewDate,
	}
	if item == nil {
		return rec
	}

	rec.Title, rec.CanonicalURL = extractTitle(item)
	rec.Author, rec.PublishDate = extractMeta(item)
	rec.Rating = extractRating(item)
	rec.ReviewText = extractReview(item)
	rec.ReviewDate = extractReviewDate(item)
	return rec
}

func extractTitle(item *goquery.Selection) (string, string) {
	link := item.Find("h2 a").First()
	if link.Length() == 0 {
		link = item.Find(".title a, .info a").First()
	}
	if link.Length() == 0 {
		return models.UnknownTitle, ""
	}

	href, _ := link.Attr("href")
	title, _ := link.Attr("title")
	if title = NormalizeText(title); title == "" {
		title = link.Text()
	}
	return orDefault(title, models.UnknownTitle), strings.TrimSpace(href)
}

// extractMeta reads "author / publisher / date / price" from the pub line,
// falling back to an author label anywhere in the fragment.
func extractMeta(item *goquery.Selection) (string, string) {
	author, published := models.UnknownAuthor, models.UnknownPublishDate

	pub := item.Find(".pub").First()
	if pub.Length() == 0 {
		return authorFromLabel(item.Text()), published
	}

	parts := strings.Split(strings.TrimSpace(pub.Text()), metaSep)
	author = orDefault(parts[0], models.UnknownAuthor)
	if date := findPublishDate(parts); date != "" {
		published = date
	}
	return author, published
}

func findPublishDate(parts []string) string {
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if fullDateRe.MatchString(part) || monthDateRe.MatchString(part) {
			return part
		}
		if utf8.RuneCountInString(part) <= maxYearOnly && bareYearRe.MatchString(part) {
			return part
		}
	}
	return ""
}

func authorFromLabel(text string) string {
	for _, re := range authorLabelRe {
		if m := re.FindStringSubmatch(text); m != nil {
			if author := NormalizeText(m[1]); author != "" {
				return author
			}
		}
	}
	return models.UnknownAuthor
}

// extractRating prefers the class-encoded star level over the numeric score.
func extractRating(item *goquery.Selection) string {
	rating := ""
	item.Find(`span[class*="rating"]`).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		class, _ := s.Attr("class")
		for _, token := range strings.Fields(class) {
			if m := ratingClassRe.FindStringSubmatch(token); m != nil {
				rating = m[1] + starSuffix
				return false
			}
		}
		return true
	})
	if rating != "" {
		return rating
	}

	if score := NormalizeText(item.Find(".rating_nums").First().Text()); score != "" {
		return score + scoreSuffix
	}
	return models.Unrated
}

func extractReview(item *goquery.Selection) string {
	for _, selector := range []string{"p.comment.comment-item", "p.comment", "span.comment"} {
		if found := item.Find(selector).First(); found.Length() > 0 {
			return strings.TrimSpace(found.Text())
		}
	}
	return ""
}

func extractReviewDate(item *goquery.Selection) string {
	found := item.Find(".date").First()
	if found.Length() == 0 {
		return models.UnknownReviewDate
	}
	text := NormalizeText(found.Text())
	if m := reviewDateRe.FindString(text); m != "" {
		return m
	}
	return orDefault(text, models.UnknownReviewDate)
}
