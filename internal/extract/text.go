// Package extract turns Madara theme markup into typed records.
//
// Every function here is pure: it takes raw bytes and returns values, never
// touches the network and never panics on malformed input. Where site
// variants disagree on markup, several strategies are tried in a fixed order
// and the first one that yields data wins.
package extract

import (
	"bytes"
	"fmt"
	"net/url"
	"path"
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// DefaultUnitType is the AJAX "type" value used when a page does not declare one.
const DefaultUnitType = "manga"

// SnippetBytes bounds the markup excerpt attached to extraction failures.
const SnippetBytes = 300

var (
	fingerprints = [][]byte{[]byte("madara"), []byte("wp-manga"), []byte("c-blog__heading"), []byte("manga-section")}

	collectionIDPattern = regexp.MustCompile(`/manga/([^/?#]+)/?`)
	unitIDPattern       = regexp.MustCompile(`/manga/[^/?#]+/([^/?#]+)/?`)

	spaces        = regexp.MustCompile(`\s+`)
	slugDisallow  = regexp.MustCompile(`[^a-z0-9]+`)
	extensionOnly = regexp.MustCompile(`^[a-z0-9]{1,5}$`)
)

// reservedSegments are path words that sit where a collection id would but never name one.
var reservedSegments = map[string]bool{"page": true, "feed": true}

// IsMadara reports whether body carries any of the theme's fingerprints.
func IsMadara(body []byte) bool {
	lower := bytes.ToLower(body)
	for _, f := range fingerprints {
		if bytes.Contains(lower, f) {
			return true
		}
	}
	return false
}

// CollectionIDFromURL returns the native collection id from a /manga/{id}/ URL.
func CollectionIDFromURL(raw string) string {
	m := collectionIDPattern.FindStringSubmatch(raw)
	if m == nil || reservedSegments[m[1]] {
		return ""
	}
	return m[1]
}

// UnitIDFromURL returns the native unit id from a /manga/{collection}/{unit}/ URL.
func UnitIDFromURL(raw string) string {
	m := unitIDPattern.FindStringSubmatch(raw)
	if m == nil || m[1] == "ajax" {
		return ""
	}
	return m[1]
}

// TrailingSlash ensures u ends in exactly one slash.
func TrailingSlash(u string) string {
	return strings.TrimRight(strings.TrimSpace(u), "/") + "/"
}

// ListingPageURL is the paged collection directory.
func ListingPageURL(base string, page int) string {
	return TrailingSlash(base) + "manga/page/" + strconv.Itoa(page) + "/"
}

// CollectionURL is the detail page of one collection.
func CollectionURL(base, collectionID string) string {
	return TrailingSlash(base) + "manga/" + collectionID + "/"
}

// UnitURL is the reader page of one unit.
func UnitURL(base, collectionID, unitID string) string {
	return TrailingSlash(base) + "manga/" + collectionID + "/" + unitID + "/"
}

// AjaxURL is the WordPress admin-ajax endpoint.
func AjaxURL(base string) string {
	return TrailingSlash(base) + "wp-admin/admin-ajax.php"
}

// CollectionAjaxURL is the per-collection unit endpoint used by newer theme versions.
func CollectionAjaxURL(base, collectionID string) string {
	return CollectionURL(base, collectionID) + "ajax/chapters/"
}

// CleanHTML returns the readable text of an HTML fragment, without script
// and style content and with whitespace collapsed.
func CleanHTML(s string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(s))
	if err != nil {
		return ""
	}
	return cleanText(doc.Selection)
}

// cleanText works on a copy of sel, so the parsed page is left intact.
// Paragraph and line breaks become spaces.
func cleanText(sel *goquery.Selection) string {
	sel = sel.Clone()
	sel.Find("script,style,noscript").Remove()
	sel.Find("br").ReplaceWithHtml(" ")
	sel.Find("p,div,li").AppendHtml(" ")
	return text(sel)
}

// Slugify folds accents, lowercases and joins alphanumeric runs with dashes.
func Slugify(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, s)
	if err != nil {
		folded = s
	}
	folded = slugDisallow.ReplaceAllString(strings.ToLower(folded), "-")
	return strings.Trim(folded, "-")
}

// UnitSlug builds "chapter-{n}[-{title}]".
func UnitSlug(number, title string) string {
	slug := "chapter-" + Slugify(number)
	if t := Slugify(title); t != "" {
		slug += "-" + t
	}
	return slug
}

// UnitLabel builds "Chapter {n}[: {title}]".
func UnitLabel(number, title string) string {
	label := fmt.Sprintf("Chapter %s", number)
	if strings.TrimSpace(title) != "" {
		label += ": " + strings.TrimSpace(title)
	}
	return label
}

// FileExtension returns the lowercased extension of the URL path, or "jpg".
func FileExtension(raw string) string {
	p := raw
	if u, err := url.Parse(raw); err == nil {
		p = u.Path
	}
	ext := strings.ToLower(strings.TrimPrefix(path.Ext(p), "."))
	if !extensionOnly.MatchString(ext) {
		return "jpg"
	}
	return ext
}

// Snippet returns the first SnippetBytes of body as valid UTF-8.
func Snippet(body []byte) string {
	if len(body) > SnippetBytes {
		body = body[:SnippetBytes]
	}
	return strings.ToValidUTF8(string(body), "")
}

func parse(body []byte) (*goquery.Document, error) {
	return goquery.NewDocumentFromReader(bytes.NewReader(body))
}

func text(s *goquery.Selection) string {
	return strings.TrimSpace(spaces.ReplaceAllString(s.Text(), " "))
}

// resolve makes href absolute against base; unparsable input is returned trimmed.
func resolve(base *url.URL, href string) string {
	href = strings.TrimSpace(href)
	if href == "" || base == nil {
		return href
	}
	ref, err := url.Parse(href)
	if err != nil {
		return href
	}
	return base.ResolveReference(ref).String()
}

func parseBase(raw string) *url.URL {
	if raw == "" {
		return nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil
	}
	return u
}
