package crawler

import (
	"fmt"
	"net/url"
	"strings"
)

// NormalizeSourceURL standardizes a site root so the same site cannot be
// registered twice. It requires http(s) and a host, lowercases the scheme and
// host, drops default ports, the query and the fragment, and ends the path in
// exactly one slash.
func NormalizeSourceURL(rawURL string) (string, error) {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return "", Invalid("url", "must not be empty")
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", Invalid("url", fmt.Sprintf("parse url: %v", err))
	}

	u.Scheme = strings.ToLower(u.Scheme)
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", Invalid("url", "scheme must be http or https")
	}
	u.Host = strings.ToLower(u.Host)
	if u.Hostname() == "" {
		return "", Invalid("url", "host is required")
	}

	if u.Scheme == "http" && strings.HasSuffix(u.Host, ":80") {
		u.Host = strings.TrimSuffix(u.Host, ":80")
	}
	if u.Scheme == "https" && strings.HasSuffix(u.Host, ":443") {
		u.Host = strings.TrimSuffix(u.Host, ":443")
	}

	u.Fragment = ""
	u.RawQuery = ""
	u.User = nil
	u.Path = strings.TrimRight(u.Path, "/") + "/"
	u.RawPath = ""

	return u.String(), nil
}
