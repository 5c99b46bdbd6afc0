package extract

import (
	"github.com/PuerkitoBio/goquery"
)

// ListingEntry is one collection card on a directory page.
type ListingEntry struct {
	Title    string `json:"title"`
	URL      string `json:"url"`
	NativeID string `json:"native_id"`
}

type listingStrategy struct {
	cards string
	link  string
}

// listingStrategies run in order; the first that yields an entry wins.
var listingStrategies = []listingStrategy{
	{cards: "div.page-item-detail", link: "h3 a, .post-title a"},
	{cards: "div.c-tabs-item__content", link: "h3.h4 a, .post-title a, h3 a"},
	{cards: ".manga-item, .row.c-tabs-item", link: `a[href*="/manga/"]`},
}

// ParseListing extracts collection references from a directory page.
// Relative links are resolved against baseURL and duplicates are dropped.
func ParseListing(body []byte, baseURL string) []ListingEntry {
	doc, err := parse(body)
	if err != nil {
		return nil
	}
	base := parseBase(baseURL)
	for _, strategy := range listingStrategies {
		entries := make([]ListingEntry, 0)
		seen := map[string]bool{}
		doc.Find(strategy.cards).Each(func(_ int, card *goquery.Selection) {
			link := card.Find(strategy.link).First()
			href, ok := link.Attr("href")
			if !ok {
				return
			}
			abs := resolve(base, href)
			if abs == "" || seen[abs] {
				return
			}
			seen[abs] = true
			title := text(link)
			if title == "" {
				title, _ = link.Attr("title")
			}
			entries = append(entries, ListingEntry{
				Title:    title,
				URL:      abs,
				NativeID: CollectionIDFromURL(abs),
			})
		})
		if len(entries) > 0 {
			return entries
		}
	}
	return nil
}
