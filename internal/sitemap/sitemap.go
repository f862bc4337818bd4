// Package sitemap implements the Sitemap Resolver (C2): recursive sitemap
// discovery from robots.txt and well-known paths, three-stage decompression
// fallback, namespace-stripped XML parsing, and bounded BFS.
package sitemap

import (
	"context"
	"net/url"
	"sort"
	"strings"

	"github.com/sheeki03/duediligence/internal/fetch"
	"github.com/sheeki03/duediligence/internal/robots"
	"github.com/sheeki03/duediligence/internal/source"
)

const (
	defaultMaxDepth = 5
	defaultMaxTotal = 50
)

// wellKnownPrimary and wellKnownSecondary are the 11+11 probe locations from §4.2.
var wellKnownPrimary = []string{
	"/sitemap.xml",
	"/sitemap_index.xml",
	"/sitemaps.xml",
	"/wp-sitemap.xml",
	"/sitemap/sitemap.xml",
	"/sitemap1.xml",
	"/sitemap-index.xml",
	"/sitemap_news.xml",
	"/page-sitemap.xml",
	"/post-sitemap.xml",
	"/product-sitemap.xml",
}

var wellKnownSecondary = []string{
	"/docs/sitemap.xml",
	"/blog/sitemap.xml",
	"/en/sitemap.xml",
	"/news/sitemap.xml",
	"/shop/sitemap.xml",
	"/static/sitemap.xml",
	"/assets/sitemap.xml",
	"/sitemaps/sitemap.xml",
	"/content/sitemap.xml",
	"/media/sitemap.xml",
	"/help/sitemap.xml",
}

// Resolver implements discover(site) -> ordered set of page URLs.
type Resolver struct {
	Fetcher  *fetch.Client
	Robots   *robots.Manager
	MaxDepth int
	MaxTotal int
}

func (r *Resolver) maxDepth() int {
	if r.MaxDepth > 0 {
		return r.MaxDepth
	}
	return defaultMaxDepth
}

func (r *Resolver) maxTotal() int {
	if r.MaxTotal > 0 {
		return r.MaxTotal
	}
	return defaultMaxTotal
}

type queueItem struct {
	url   string
	depth int
}

// Discover runs the full §4.2 algorithm against site (e.g. "https://example.com").
func (r *Resolver) Discover(ctx context.Context, site string) ([]string, error) {
	base, err := url.Parse(site)
	if err != nil || base.Host == "" {
		return nil, source.NewError(source.ErrInvalidURL, "", "invalid site: "+site)
	}
	targetAuthority := strings.ToLower(base.Host)

	seeds := r.collectSeeds(ctx, base)

	visited := map[string]struct{}{}
	var pages []string
	queue := make([]queueItem, 0, len(seeds))
	for _, s := range seeds {
		queue = append(queue, queueItem{url: s, depth: 0})
	}

	processed := 0
	for len(queue) > 0 && processed < r.maxTotal() {
		item := queue[0]
		queue = queue[1:]
		if _, ok := visited[item.url]; ok {
			continue
		}
		visited[item.url] = struct{}{}
		if item.depth > r.maxDepth() {
			continue
		}
		processed++

		body, err := r.fetchSitemapBody(ctx, item.url)
		if err != nil {
			continue
		}
		kind, locs, err := parseSitemap(body, item.url)
		if err != nil {
			continue
		}
		for _, loc := range locs {
			resolved := resolveAgainst(item.url, loc)
			if resolved == "" {
				continue
			}
			u, err := url.Parse(resolved)
			if err != nil || !strings.EqualFold(u.Host, targetAuthority) {
				continue
			}
			switch kind {
			case sitemapIndex:
				if item.depth+1 <= r.maxDepth() {
					queue = append(queue, queueItem{url: resolved, depth: item.depth + 1})
				}
			case urlset:
				pages = append(pages, resolved)
			}
		}
	}

	pages = dedupeSorted(pages)
	return pages, nil
}

// collectSeeds implements step 1-2 of §4.2: robots.txt sitemap: lines, then
// well-known probes if none were found.
func (r *Resolver) collectSeeds(ctx context.Context, base *url.URL) []string {
	var seeds []string
	for _, scheme := range []string{"https", "http"} {
		robotsURL := scheme + "://" + base.Host + "/robots.txt"
		resp, err := r.Fetcher.Fetch(ctx, robotsURL, fetch.Policy{})
		if err != nil || resp.Status != 200 {
			continue
		}
		for _, line := range strings.Split(string(resp.Body), "\n") {
			trimmed := strings.TrimSpace(line)
			low := strings.ToLower(trimmed)
			if strings.HasPrefix(low, "sitemap:") {
				val := strings.TrimSpace(trimmed[len("sitemap:"):])
				if val != "" {
					seeds = append(seeds, val)
				}
			}
		}
		if len(seeds) > 0 {
			break
		}
	}
	if len(seeds) > 0 {
		return seeds
	}

	origin := base.Scheme + "://" + base.Host
	if origin == "://"  {
		origin = "https://" + base.Host
	}
	candidates := append([]string{"/sitemap.xml"}, wellKnownPrimary...)
	candidates = append(candidates, wellKnownSecondary...)
	for _, path := range candidates {
		probeURL := origin + path
		resp, err := r.Fetcher.Fetch(ctx, probeURL, fetch.Policy{})
		if err != nil || resp.Status != 200 {
			continue
		}
		if looksLikeXML(resp.Body) {
			seeds = append(seeds, probeURL)
		}
	}
	return dedupeSorted(seeds)
}

func looksLikeXML(body []byte) bool {
	s := strings.TrimSpace(string(body))
	return strings.HasPrefix(s, "<?xml") || strings.HasPrefix(s, "<sitemapindex") || strings.HasPrefix(s, "<urlset")
}

func resolveAgainst(base string, ref string) string {
	b, err := url.Parse(base)
	if err != nil {
		return ""
	}
	u, err := url.Parse(ref)
	if err != nil {
		return ""
	}
	return b.ResolveReference(u).String()
}

func dedupeSorted(in []string) []string {
	seen := map[string]struct{}{}
	out := make([]string, 0, len(in))
	for _, s := range in {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}
