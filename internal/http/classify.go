package httpx

import (
	"net"
	"net/http"
	"strings"
)

type Kind int

const (
	Passthrough Kind = iota
	Navigation
	Asset
)

type RequestInfo struct {
	Kind   Kind
	Reason string
}

// ClassifyRequest decides how a request is served. Only same-origin GETs are
// intercepted; siteHost empty means every host is the site.
func ClassifyRequest(r *http.Request, siteHost string) RequestInfo {
	if r.Method != http.MethodGet {
		return RequestInfo{Kind: Passthrough, Reason: "method-not-get"}
	}
	if !sameOrigin(r, siteHost) {
		return RequestInfo{Kind: Passthrough, Reason: "cross-origin"}
	}
	if isNavigation(r.Header) {
		return RequestInfo{Kind: Navigation}
	}
	return RequestInfo{Kind: Asset}
}

func isNavigation(h http.Header) bool {
	mode := strings.ToLower(h.Get("Sec-Fetch-Mode"))
	dest := strings.ToLower(h.Get("Sec-Fetch-Dest"))
	if mode == "navigate" || dest == "document" {
		return true
	}
	if mode != "" || dest != "" {
		return false
	}
	// clients without fetch metadata
	for _, part := range strings.Split(h.Get("Accept"), ",") {
		mediaType, _, _ := strings.Cut(part, ";")
		if strings.EqualFold(strings.TrimSpace(mediaType), "text/html") {
			return true
		}
	}
	return false
}

func sameOrigin(r *http.Request, siteHost string) bool {
	siteHost = strings.TrimSpace(siteHost)
	if siteHost == "" {
		return true
	}
	host := r.Host
	if r.URL != nil && r.URL.Host != "" {
		host = r.URL.Host
	}
	if strings.EqualFold(host, siteHost) {
		return true
	}
	if _, _, err := net.SplitHostPort(siteHost); err == nil {
		return false
	}
	return strings.EqualFold(hostname(host), siteHost)
}

func hostname(hostport string) string {
	if h, _, err := net.SplitHostPort(hostport); err == nil {
		return h
	}
	return hostport
}

// NormalizePath maps the "file" and "pretty" forms of a page onto one key:
// "/index.html" and "" become "/", trailing ".html" suffixes are dropped.
// NormalizePath(NormalizePath(p)) == NormalizePath(p).
func NormalizePath(p string) string {
	for {
		if p == "" || p == "/index.html" {
			return "/"
		}
		stripped, ok := strings.CutSuffix(p, ".html")
		if !ok {
			return p
		}
		p = stripped
	}
}

func requestKey(path, rawQuery string) string {
	if rawQuery == "" {
		return path
	}
	return path + "?" + rawQuery
}
