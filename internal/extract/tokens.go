package extract

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Tokens are the parameters of the unit-list AJAX request.
type Tokens struct {
	ID    string `json:"id"`
	Type  string `json:"type"`
	Nonce string `json:"nonce"`
}

func (t Tokens) complete() bool {
	return t.ID != "" && t.Type != "" && t.Nonce != ""
}

// Form renders the admin-ajax POST body.
func (t Tokens) Form() url.Values {
	return url.Values{
		"action":   {"manga_get_chapters"},
		"manga":    {t.ID},
		"type":     {t.Type},
		"_wpnonce": {t.Nonce},
	}
}

var (
	idPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)manga_id\s*[:=]\s*['"]?(\d+)`),
		regexp.MustCompile(`(?i)['"]manga_id['"]\s*:\s*['"]?(\d+)`),
		regexp.MustCompile(`(?i)\bmangaId\s*[:=]\s*['"]?(\d+)`),
	}
	typePatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)chapter_type\s*[:=]\s*['"]([^'"]+)['"]`),
		regexp.MustCompile(`(?i)['"]chapter_type['"]\s*:\s*['"]([^'"]+)['"]`),
	}
	noncePatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)_wpnonce\s*[:=]\s*['"]([^'"]+)['"]`),
		regexp.MustCompile(`(?i)['"]_wpnonce['"]\s*:\s*['"]([^'"]+)['"]`),
		regexp.MustCompile(`(?i)name=['"]_wpnonce['"][^>]*value=['"]([^'"]+)['"]`),
	}

	objectLiteral = regexp.MustCompile(`\{[^{}]*\}`)
	objectPair    = regexp.MustCompile(`['"]?([A-Za-z_$][\w$-]*)['"]?\s*:\s*(?:'([^']*)'|"([^"]*)"|([\w.-]+))`)
	digits        = regexp.MustCompile(`^\d+$`)
)

var (
	domIDAttrs    = []string{"data-id", "data-manga-id", "data-post-id"}
	domNonceAttrs = []string{"data-nonce", "data-wpnonce", "data-security"}
	domTypeAttrs  = []string{"data-type", "data-chapter-type"}

	jsonIDKeys    = []string{"manga_id", "mangaid", "manga", "post_id", "postid"}
	jsonTypeKeys  = []string{"chapter_type", "chaptertype"}
	jsonNonceKeys = []string{"_wpnonce", "wpnonce", "nonce", "security"}
)

// ExtractTokens recovers the AJAX parameters from a collection page.
//
// Raw-markup patterns run first, then data attributes, then object literals in
// inline scripts. Each field resolves independently and keeps the first value
// found. The type falls back to DefaultUnitType; id and nonce are mandatory.
func ExtractTokens(body []byte) (Tokens, bool) {
	raw := string(body)
	t := Tokens{
		ID:    firstSubmatch(idPatterns, raw),
		Type:  firstSubmatch(typePatterns, raw),
		Nonce: firstSubmatch(noncePatterns, raw),
	}
	if t.complete() {
		return t, true
	}

	doc, err := parse(body)
	if err == nil {
		tokensFromDOM(doc, &t)
		if !t.complete() {
			tokensFromScripts(doc, &t)
		}
	}
	if t.Type == "" {
		t.Type = DefaultUnitType
	}
	return t, t.complete()
}

func firstSubmatch(patterns []*regexp.Regexp, s string) string {
	for _, p := range patterns {
		if m := p.FindStringSubmatch(s); m != nil && strings.TrimSpace(m[1]) != "" {
			return strings.TrimSpace(m[1])
		}
	}
	return ""
}

func tokensFromDOM(doc *goquery.Document, t *Tokens) {
	selector := "[" + strings.Join(domIDAttrs, "], [") + "]"
	doc.Find(selector).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		id := firstAttr(s, domIDAttrs)
		if !digits.MatchString(id) {
			return true
		}
		if t.ID == "" {
			t.ID = id
		}
		if t.Nonce == "" {
			t.Nonce = firstAttr(s, domNonceAttrs)
		}
		if t.Type == "" {
			t.Type = firstAttr(s, domTypeAttrs)
		}
		return false
	})
	if t.Nonce == "" {
		doc.Find("[" + strings.Join(domNonceAttrs, "], [") + "]").EachWithBreak(func(_ int, s *goquery.Selection) bool {
			t.Nonce = firstAttr(s, domNonceAttrs)
			return t.Nonce == ""
		})
	}
}

func firstAttr(s *goquery.Selection, names []string) string {
	for _, name := range names {
		if v, ok := s.Attr(name); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

func tokensFromScripts(doc *goquery.Document, t *Tokens) {
	doc.Find("script").EachWithBreak(func(_ int, script *goquery.Selection) bool {
		for _, literal := range objectLiteral.FindAllString(script.Text(), -1) {
			pairs := map[string]string{}
			for _, m := range objectPair.FindAllStringSubmatch(literal, -1) {
				key := strings.ToLower(m[1])
				if _, dup := pairs[key]; !dup {
					pairs[key] = m[2] + m[3] + m[4]
				}
			}
			if t.ID == "" {
				if id := lookup(pairs, jsonIDKeys); digits.MatchString(id) {
					t.ID = id
				}
			}
			if t.Type == "" {
				t.Type = lookup(pairs, jsonTypeKeys)
			}
			if t.Nonce == "" {
				t.Nonce = lookup(pairs, jsonNonceKeys)
			}
			if t.complete() {
				return false
			}
		}
		return true
	})
}

func lookup(pairs map[string]string, keys []string) string {
	for _, k := range keys {
		if v := strings.TrimSpace(pairs[k]); v != "" {
			return v
		}
	}
	return ""
}
