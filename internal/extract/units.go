package extract

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/araddon/dateparse"
)

// UnitRef is one unit link discovered on a collection page or AJAX response.
type UnitRef struct {
	NativeID    string     `json:"native_id"`
	URL         string     `json:"url"`
	Number      string     `json:"number"`
	Title       string     `json:"title"`
	PublishedAt *time.Time `json:"published_at,omitempty"`
}

// unitListSelectors run in order; the first that yields a record wins.
var unitListSelectors = []string{
	"li.wp-manga-chapter a",
	".listing-chapters_wrap a",
	".version-chap a",
	".chapter-link a",
}

var (
	chapterNumber  = regexp.MustCompile(`(?i)chapter\s*(\d+(?:\.\d+)?)`)
	leadingNumber  = regexp.MustCompile(`^\s*(\d+(?:\.\d+)?)`)
	trailingNumber = regexp.MustCompile(`(\d+)(?:[-.](\d+))?/?$`)
)

// ParseUnitList reads the unit links printed directly in a collection page.
// Links whose URL carries no unit id are skipped.
func ParseUnitList(body []byte, baseURL string) []UnitRef {
	doc, err := parse(body)
	if err != nil {
		return nil
	}
	return unitsFromDocument(doc.Selection, baseURL)
}

func unitsFromDocument(root *goquery.Selection, baseURL string) []UnitRef {
	base := parseBase(baseURL)
	for _, sel := range unitListSelectors {
		refs := make([]UnitRef, 0)
		seen := map[string]bool{}
		root.Find(sel).Each(func(_ int, link *goquery.Selection) {
			href, _ := link.Attr("href")
			abs := resolve(base, href)
			id := UnitIDFromURL(abs)
			if id == "" || seen[id] {
				return
			}
			seen[id] = true
			label := text(link)
			refs = append(refs, UnitRef{
				NativeID:    id,
				URL:         abs,
				Number:      UnitNumber(label, abs),
				Title:       titleAfterColon(label),
				PublishedAt: releaseDate(link),
			})
		})
		if len(refs) > 0 {
			return refs
		}
	}
	return nil
}

// UnitNumber derives the ordinal from link text ("Chapter 12", "12 - ...") or the URL tail.
func UnitNumber(label, rawURL string) string {
	if m := chapterNumber.FindStringSubmatch(label); m != nil {
		return m[1]
	}
	if m := leadingNumber.FindStringSubmatch(label); m != nil {
		return m[1]
	}
	if m := trailingNumber.FindStringSubmatch(strings.TrimSpace(rawURL)); m != nil {
		if m[2] != "" {
			return m[1] + "." + m[2]
		}
		return m[1]
	}
	return ""
}

func titleAfterColon(label string) string {
	_, after, found := strings.Cut(label, ":")
	if !found {
		return ""
	}
	return strings.TrimSpace(after)
}

func releaseDate(link *goquery.Selection) *time.Time {
	holder := link.Closest("li")
	if holder.Length() == 0 {
		holder = link.Parent()
	}
	raw := text(holder.Find(".chapter-release-date").First())
	if raw == "" {
		// Fresh units show an image badge instead of a date; its title carries the text.
		raw, _ = holder.Find(".chapter-release-date a").Attr("title")
	}
	return ParseDate(raw)
}

// ParseDate parses an absolute release date; relative or unknown text yields nil.
func ParseDate(raw string) *time.Time {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	t, err := dateparse.ParseIn(raw, time.UTC)
	if err != nil {
		return nil
	}
	t = t.UTC()
	return &t
}

type ajaxUnit struct {
	URL     string          `json:"url"`
	Chapter json.RawMessage `json:"chapter"`
	Title   string          `json:"title"`
	Date    string          `json:"date"`
}

type ajaxEnvelope struct {
	Data json.RawMessage `json:"data"`
}

// ParseUnitsAJAX reads a unit-list response. JSON bodies carry either a
// {data:[...]} array or {data:"<html>"}; anything else is treated as an HTML fragment.
func ParseUnitsAJAX(body []byte, baseURL string) ([]UnitRef, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil, nil
	}
	if trimmed[0] != '{' {
		return ParseUnitList(trimmed, baseURL), nil
	}

	var env ajaxEnvelope
	if err := json.Unmarshal(trimmed, &env); err != nil {
		return nil, fmt.Errorf("decode unit response: %w", err)
	}
	data := bytes.TrimSpace(env.Data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil, nil
	}
	if data[0] == '"' {
		var fragment string
		if err := json.Unmarshal(data, &fragment); err != nil {
			return nil, fmt.Errorf("decode unit fragment: %w", err)
		}
		return ParseUnitList([]byte(fragment), baseURL), nil
	}

	var items []ajaxUnit
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, fmt.Errorf("decode unit list: %w", err)
	}
	base := parseBase(baseURL)
	refs := make([]UnitRef, 0, len(items))
	seen := map[string]bool{}
	for _, item := range items {
		abs := resolve(base, item.URL)
		id := UnitIDFromURL(abs)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		number := rawNumber(item.Chapter)
		if number == "" {
			number = UnitNumber(item.Title, abs)
		}
		refs = append(refs, UnitRef{
			NativeID:    id,
			URL:         abs,
			Number:      number,
			Title:       strings.TrimSpace(item.Title),
			PublishedAt: ParseDate(item.Date),
		})
	}
	return refs, nil
}

// rawNumber accepts the chapter field as either a JSON number or string.
func rawNumber(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s)
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return strconv.FormatFloat(f, 'f', -1, 64)
	}
	return ""
}
