package fetch

import (
	"math/rand"
	"net/http"
)

// userAgents is the fixed pool of 8 desktop-browser strings from §4.1.
var userAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:125.0) Gecko/20100101 Firefox/125.0",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.4 Safari/605.1.15",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Edg/124.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/123.0.0.0 Safari/537.36",
	"Mozilla/5.0 (X11; Ubuntu; Linux x86_64; rv:124.0) Gecko/20100101 Firefox/124.0",
}

// enhancedBundles are randomly selected sec-ch-ua / sec-fetch-* bundles that
// mimic a real browser navigation when Policy.Enhanced is set.
var enhancedBundles = []map[string]string{
	{
		"sec-ch-ua":          `"Chromium";v="124", "Google Chrome";v="124", "Not-A.Brand";v="99"`,
		"sec-ch-ua-mobile":   "?0",
		"sec-ch-ua-platform": `"Windows"`,
		"sec-fetch-dest":     "document",
		"sec-fetch-mode":     "navigate",
		"sec-fetch-site":     "none",
		"sec-fetch-user":     "?1",
		"accept-language":    "en-US,en;q=0.9",
		"accept-encoding":    "gzip, deflate, br",
	},
	{
		"sec-ch-ua":          `"Not.A/Brand";v="8", "Chromium";v="123"`,
		"sec-ch-ua-mobile":   "?0",
		"sec-ch-ua-platform": `"macOS"`,
		"sec-fetch-dest":     "document",
		"sec-fetch-mode":     "navigate",
		"sec-fetch-site":     "cross-site",
		"accept-language":    "en-GB,en;q=0.8",
		"accept-encoding":    "gzip, deflate, br",
	},
}

func randomUserAgent() string {
	return userAgents[rand.Intn(len(userAgents))]
}

// buildHeaders implements header synthesis steps 1-3 of §4.1.
func buildHeaders(h http.Header, enhanced bool, origin string) {
	h.Set("User-Agent", randomUserAgent())
	if enhanced {
		bundle := enhancedBundles[rand.Intn(len(enhancedBundles))]
		for k, v := range bundle {
			h.Set(k, v)
		}
		h.Set("Referer", randomReferer(origin))
		return
	}
	h.Set("Accept-Language", "en-US,en;q=0.9")
	h.Set("Accept-Encoding", "gzip, deflate")
	h.Set("Referer", origin)
}

// randomReferer implements "either the request origin (classic) or one of
// {origin, a public search engine, the origin plus /sitemap}".
func randomReferer(origin string) string {
	choices := []string{origin, "https://www.google.com/", origin + "/sitemap"}
	return choices[rand.Intn(len(choices))]
}
