package extract

import (
	"github.com/PuerkitoBio/goquery"
)

// ParseAssets returns the ordered page-image URLs of a unit reader page.
func ParseAssets(body []byte, baseURL string) []string {
	doc, err := parse(body)
	if err != nil {
		return nil
	}
	base := parseBase(baseURL)
	assets := make([]string, 0)
	doc.Find("div.reading-content img").Each(func(_ int, img *goquery.Selection) {
		if src := imageSource(img); src != "" {
			assets = append(assets, resolve(base, src))
		}
	})
	return assets
}
