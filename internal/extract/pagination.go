package extract

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// nextPageSignals are independent; any hit means another listing page exists.
var nextPageSignals = []func(*goquery.Document) bool{
	selectorSignal("div.nav-previous a"),
	selectorSignal("div.wp-pagenavi a.nextpostslink"),
	selectorSignal(`a.next, a[class*="next"]`),
	selectorSignal("div.pagination a.next"),
	func(doc *goquery.Document) bool {
		found := false
		doc.Find("a").EachWithBreak(func(_ int, a *goquery.Selection) bool {
			found = strings.Contains(a.Text(), "Next")
			return !found
		})
		return found
	},
	selectorSignal("a i.fa-angle-right, a i.fa-chevron-right"),
}

func selectorSignal(sel string) func(*goquery.Document) bool {
	return func(doc *goquery.Document) bool {
		return doc.Find(sel).Length() > 0
	}
}

// HasNextPage reports whether a listing page advertises a following page.
func HasNextPage(body []byte) bool {
	doc, err := parse(body)
	if err != nil {
		return false
	}
	for _, signal := range nextPageSignals {
		if signal(doc) {
			return true
		}
	}
	return false
}
