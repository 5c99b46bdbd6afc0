package extract

import (
	"errors"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// ErrMissingTitle means the page has no recognizable collection title.
var ErrMissingTitle = errors.New("collection title not found")

// Normalized collection statuses.
const (
	StatusOngoing   = "on-going"
	StatusCompleted = "completed"
	StatusCanceled  = "canceled"
	StatusOnHold    = "on-hold"
)

// CollectionDetail is the metadata scraped from a collection page.
type CollectionDetail struct {
	Title       string   `json:"title"`
	CoverURL    string   `json:"cover_url"`
	Description string   `json:"description"`
	Status      string   `json:"status"`
	Genres      []string `json:"genres"`
	Authors     []string `json:"authors"`
	Artists     []string `json:"artists"`
}

var titleSelectors = []string{"div.post-title h1", "div.post-title h3", "h1"}

var descriptionSelectors = []string{"div.description-summary div.summary__content", "div.summary__content"}

// ParseDetail reads a collection page. A missing title is the only hard failure.
func ParseDetail(body []byte) (CollectionDetail, error) {
	doc, err := parse(body)
	if err != nil {
		return CollectionDetail{}, err
	}
	var d CollectionDetail
	for _, sel := range titleSelectors {
		title := doc.Find(sel).First()
		// Madara prints badges such as "HOT" inside the heading.
		title.Find("span.manga-title-badges").Remove()
		if d.Title = text(title); d.Title != "" {
			break
		}
	}
	if d.Title == "" {
		return CollectionDetail{}, ErrMissingTitle
	}

	d.CoverURL = imageSource(doc.Find("div.summary_image img").First())

	for _, sel := range descriptionSelectors {
		node := doc.Find(sel).First()
		if node.Length() == 0 {
			continue
		}
		if d.Description = cleanText(node); d.Description != "" {
			break
		}
	}

	d.Status = parseStatus(doc)
	d.Genres = texts(doc.Find("div.genres-content a"))
	d.Authors = texts(doc.Find("div.author-content a"))
	d.Artists = texts(doc.Find("div.artist-content a"))
	return d, nil
}

func parseStatus(doc *goquery.Document) string {
	var status string
	doc.Find("div.post-status div.post-content_item").EachWithBreak(func(_ int, item *goquery.Selection) bool {
		if !strings.Contains(strings.ToLower(item.Find(".summary-heading").Text()), "status") {
			return true
		}
		status = text(item.Find(".summary-content").First())
		return false
	})
	if status != "" {
		return status
	}
	doc.Find(".summary-heading").EachWithBreak(func(_ int, heading *goquery.Selection) bool {
		if !strings.Contains(strings.ToLower(heading.Text()), "status") {
			return true
		}
		status = text(heading.NextAllFiltered(".summary-content").First())
		return false
	})
	return status
}

// MapStatus normalizes free-form status text; unknown values count as on-going.
func MapStatus(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "completed", "complete", "finished":
		return StatusCompleted
	case "dropped", "canceled", "cancelled":
		return StatusCanceled
	case "hiatus", "on-hold", "on hold":
		return StatusOnHold
	default:
		return StatusOngoing
	}
}

func texts(sel *goquery.Selection) []string {
	out := make([]string, 0, sel.Length())
	sel.Each(func(_ int, s *goquery.Selection) {
		if t := text(s); t != "" {
			out = append(out, t)
		}
	})
	return out
}

// imageSource prefers src, then data-src, then data-lazy-src, ignoring data: placeholders.
func imageSource(img *goquery.Selection) string {
	for _, attr := range []string{"src", "data-src", "data-lazy-src"} {
		v, _ := img.Attr(attr)
		v = strings.TrimSpace(v)
		if v != "" && !strings.HasPrefix(v, "data:") {
			return v
		}
	}
	return ""
}
