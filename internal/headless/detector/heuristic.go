// Package detector decides when a plain fetch should be retried in headless Chrome.
package detector

import (
	"bytes"
	"strings"

	"github.com/JakeFAU/madara-crawler/internal/crawler"
	"github.com/JakeFAU/madara-crawler/internal/extract"
)

// DefaultScriptCoverage is the share of a page, in percent, that inline and
// external script tags must cover before it is reported as script heavy.
const DefaultScriptCoverage = 25

// Reasons reported by Heuristic.Reason.
const (
	ReasonEmpty       = "empty"
	ReasonChallenge   = "challenge"
	ReasonAppShell    = "app-shell"
	ReasonScriptHeavy = "script-heavy"
	ReasonUnthemed    = "unthemed"
)

var (
	challengeMarkers = [][]byte{
		[]byte("cf-browser-verification"),
		[]byte("challenge-platform"),
		[]byte("cf_chl_opt"),
		[]byte("ddos-guard"),
	}
	shellMarkers = [][]byte{
		[]byte(`id="__next"`),
		[]byte(`id="root"`),
		[]byte(`id="app"`),
		[]byte("data-reactroot"),
		[]byte("ng-version"),
	}
)

// Heuristic promotes successful HTML pages that carry no Madara fingerprint.
// Pages that do are never re-rendered.
type Heuristic struct {
	ScriptCoverage int
}

var _ crawler.Promoter = (*Heuristic)(nil)

// NewHeuristic returns a detector; coverage outside 1..100 selects the default.
func NewHeuristic(coverage int) *Heuristic {
	if coverage <= 0 || coverage > 100 {
		coverage = DefaultScriptCoverage
	}
	return &Heuristic{ScriptCoverage: coverage}
}

// ShouldPromote reports whether resp must be fetched again headless.
func (h *Heuristic) ShouldPromote(resp crawler.FetchResponse) bool {
	return h.Reason(resp) != ""
}

// Reason names why resp needs rendering, or returns "" when it does not.
func (h *Heuristic) Reason(resp crawler.FetchResponse) string {
	if resp.StatusCode != 200 || resp.Headless || !isHTML(resp) {
		return ""
	}
	body := bytes.TrimSpace(resp.Body)
	switch {
	case len(body) == 0:
		return ReasonEmpty
	case extract.IsMadara(body):
		return ""
	case containsAny(body, challengeMarkers):
		return ReasonChallenge
	case containsAny(body, shellMarkers):
		return ReasonAppShell
	case scriptCoverage(body) >= h.ScriptCoverage:
		return ReasonScriptHeavy
	default:
		return ReasonUnthemed
	}
}

func isHTML(resp crawler.FetchResponse) bool {
	if ct := strings.ToLower(resp.ContentType()); ct != "" {
		return strings.Contains(ct, "html")
	}
	trimmed := bytes.TrimSpace(resp.Body)
	return len(trimmed) == 0 || trimmed[0] == '<'
}

func containsAny(body []byte, markers [][]byte) bool {
	for _, m := range markers {
		if bytes.Contains(body, m) {
			return true
		}
	}
	return false
}

// scriptCoverage returns the percentage of body inside <script> elements. An
// unterminated element runs to the end of the document.
func scriptCoverage(body []byte) int {
	doc := bytes.ToLower(body)
	covered := 0
	for rest := doc; ; {
		start := bytes.Index(rest, []byte("<script"))
		if start < 0 {
			break
		}
		rest = rest[start:]
		end := bytes.Index(rest, []byte("</script>"))
		if end < 0 {
			covered += len(rest)
			break
		}
		end += len("</script>")
		covered += end
		rest = rest[end:]
	}
	return covered * 100 / len(doc)
}
