package detector

import (
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/JakeFAU/madara-crawler/internal/crawler"
)

func page(status int, contentType, body string) crawler.FetchResponse {
	resp := crawler.FetchResponse{StatusCode: status, Body: []byte(body)}
	if contentType != "" {
		resp.Headers = http.Header{"Content-Type": {contentType}}
	}
	return resp
}

func TestHeuristicReason(t *testing.T) {
	t.Parallel()

	const html = "text/html; charset=UTF-8"
	tests := []struct {
		name string
		resp crawler.FetchResponse
		want string
	}{
		{"empty body", page(200, html, "  \n"), ReasonEmpty},
		{"themed listing", page(200, html, `<body class="wp-manga-template"><div class="c-blog__heading">x</div></body>`), ""},
		{"cloudflare challenge", page(200, html, `<html><body><div id="challenge-platform"></div></body></html>`), ReasonChallenge},
		{"react shell", page(200, html, `<html><body><div id="__next"></div></body></html>`), ReasonAppShell},
		{"script heavy", page(200, html, `<html><script>` + strings.Repeat("x", 200) + `</script><p>t</p></html>`), ReasonScriptHeavy},
		{"unterminated script", page(200, html, `<p>hi</p><script>var a = 1;`), ReasonScriptHeavy},
		{"plain unthemed page", page(200, html, "<html><body><p>loading the site for you</p></body></html>"), ReasonUnthemed},
		{"sniffed html", page(200, "", "<html><body>plain</body></html>"), ReasonUnthemed},
		{"json endpoint", page(200, "application/json", `{"data":[]}`), ""},
		{"image", page(200, "image/webp", "RIFF"), ""},
		{"sniffed json", page(200, "", `{"data":"<li>"}`), ""},
		{"not found", page(404, html, "not found"), ""},
	}
	h := NewHeuristic(0)
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.want, h.Reason(tc.resp))
			assert.Equal(t, tc.want != "", h.ShouldPromote(tc.resp))
		})
	}
}

func TestHeuristicSkipsRenderedPages(t *testing.T) {
	t.Parallel()

	resp := page(200, "text/html", "")
	resp.Headless = true
	assert.False(t, NewHeuristic(0).ShouldPromote(resp))
}

func TestNewHeuristicClampsCoverage(t *testing.T) {
	t.Parallel()

	assert.Equal(t, DefaultScriptCoverage, NewHeuristic(-5).ScriptCoverage)
	assert.Equal(t, DefaultScriptCoverage, NewHeuristic(101).ScriptCoverage)
	assert.Equal(t, 60, NewHeuristic(60).ScriptCoverage)
}

func TestScriptCoverage(t *testing.T) {
	t.Parallel()

	assert.Zero(t, scriptCoverage([]byte("<p>no scripts here</p>")))
	assert.Equal(t, 100, scriptCoverage([]byte("<script>a</script>")))
	assert.Equal(t, 50, scriptCoverage([]byte("<SCRIPT>a</SCRIPT>"+strings.Repeat("x", 18))))
}
