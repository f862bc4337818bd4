package sitemap

import (
	"context"
	"time"

	"github.com/sheeki03/duediligence/internal/fetch"
)

// fetchSitemapBody retrieves a sitemap body unconstrained by content type
// (sitemaps are served as XML, gzip, or brotli octet streams) within the 25s
// per-attempt budget from §5.
func (r *Resolver) fetchSitemapBody(ctx context.Context, u string) ([]byte, error) {
	fetchCtx, cancel := context.WithTimeout(ctx, 25*time.Second)
	defer cancel()
	resp, err := r.Fetcher.Fetch(fetchCtx, u, fetch.Policy{
		DelayMin:   50 * time.Millisecond,
		DelayMax:   150 * time.Millisecond,
		RetryCount: 1,
	})
	if err != nil {
		return nil, err
	}
	return decodeBody(resp.Body)
}
