// Package manifest holds the static asset manifest: the paths a cache
// version must hold before it may serve.
package manifest

import (
	"fmt"
	"strings"
)

// Default is the site's offline set.
var Default = []string{
	"/",
	"/index.html",
	"/privacy",
	"/terms",
	"/support",
	"/privacy.html",
	"/terms.html",
	"/support.html",
	"/styles.css",
	"/script.js",
	"/favicon.png",
	"/site.webmanifest",
	"/robots.txt",
	"/sitemap.xml",
	"/assets/logo-icon.png",
	"/assets/logo-full.png",
}

// Parse trims entries, drops blanks and duplicates (first one wins) and
// rejects anything that is not an absolute path.
func Parse(entries []string) ([]string, error) {
	seen := make(map[string]struct{}, len(entries))
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		e = strings.TrimSpace(e)
		if e == "" {
			continue
		}
		if !strings.HasPrefix(e, "/") || strings.HasPrefix(e, "//") {
			return nil, fmt.Errorf("manifest entry %q is not an absolute path", e)
		}
		if _, ok := seen[e]; ok {
			continue
		}
		seen[e] = struct{}{}
		out = append(out, e)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("manifest is empty")
	}
	return out, nil
}
