// Package scrape implements the Scrape Client (C3): URL -> normalized
// {markdown, html, metadata} via a remote render service with sync/async job
// semantics, falling back to the Fetcher, with cache integration.
package scrape

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sheeki03/duediligence/internal/cache"
	"github.com/sheeki03/duediligence/internal/extract"
	"github.com/sheeki03/duediligence/internal/fetch"
	"github.com/sheeki03/duediligence/internal/source"
)

// Result is the normalized scrape output.
type Result struct {
	Content  string         `json:"content"`
	HTML     string         `json:"html"`
	Metadata map[string]any `json:"metadata"`
}

// Client implements scrape(url, force_refresh).
type Client struct {
	HTTPClient *http.Client
	BaseURL    string
	APIKey     string
	Cache      *cache.Store
	Fetcher    *fetch.Client // fallback when no render service is configured
	Now        func() time.Time
}

func (c *Client) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now().UTC()
}

func (c *Client) httpClient() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return &http.Client{Timeout: 30 * time.Second}
}

const cacheNamespace = "scrape"

func resultValidator(shape map[string]any) bool {
	data, ok := shape["data"].(map[string]any)
	if !ok {
		return false
	}
	_, hasContent := data["content"]
	_, hasMeta := shape["metadata"]
	return hasContent && hasMeta
}

// Scrape implements the full §4.3 control flow.
func (c *Client) Scrape(ctx context.Context, rawURL string, forceRefresh bool) (Result, error) {
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return Result{}, source.NewError(source.ErrInvalidURL, "", "invalid scrape url: "+rawURL)
	}

	if !forceRefresh && c.Cache != nil {
		if raw, ok, _ := c.Cache.Get(ctx, cacheNamespace, rawURL, resultValidator); ok {
			if res, ok := decodeCached(raw); ok {
				return res, nil
			}
		}
	}

	var res Result
	var scrapeErr error
	if c.BaseURL != "" {
		res, scrapeErr = c.scrapeViaRenderService(ctx, rawURL)
	} else if c.Fetcher != nil {
		res, scrapeErr = c.scrapeViaFetcher(ctx, rawURL)
	} else {
		return Result{}, source.NewError(source.ErrTransport, "", "no render service or fetcher configured")
	}

	res.Metadata = mergeMeta(res.Metadata, rawURL, c.now())

	if c.Cache != nil {
		envelope := map[string]any{
			"data":     map[string]any{"content": res.Content, "html": res.HTML},
			"metadata": res.Metadata,
		}
		if scrapeErr != nil {
			if e, ok := scrapeErr.(*source.Error); ok {
				envelope["error"] = string(e.Kind)
			} else {
				envelope["error"] = "transport"
			}
		}
		_ = c.Cache.Set(ctx, cacheNamespace, rawURL, envelope, 0)
	}

	return res, scrapeErr
}

func mergeMeta(meta map[string]any, rawURL string, now time.Time) map[string]any {
	if meta == nil {
		meta = map[string]any{}
	}
	meta["scraped_at"] = now.Format(time.RFC3339)
	meta["url"] = rawURL
	return meta
}

func decodeCached(raw json.RawMessage) (Result, bool) {
	var envelope struct {
		Data struct {
			Content string `json:"content"`
			HTML    string `json:"html"`
		} `json:"data"`
		Metadata map[string]any `json:"metadata"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return Result{}, false
	}
	return Result{Content: envelope.Data.Content, HTML: envelope.Data.HTML, Metadata: envelope.Metadata}, true
}

// --- render service path ---

type renderRequest struct {
	URL     string   `json:"url"`
	Formats []string `json:"formats"`
}

type renderResponse struct {
	Success bool           `json:"success"`
	ID      string         `json:"id"`
	URL     string         `json:"url"`
	Status  string         `json:"status"`
	Data    *renderData    `json:"data"`
	Metadata map[string]any `json:"metadata"`
}

type renderData struct {
	Markdown string         `json:"markdown"`
	HTML     string         `json:"html"`
	Metadata map[string]any `json:"metadata"`
}

func (c *Client) scrapeViaRenderService(ctx context.Context, rawURL string) (Result, error) {
	postCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	resp, err := c.postRender(postCtx, renderRequest{URL: rawURL, Formats: []string{"markdown", "html"}})
	if err != nil {
		return Result{}, source.WrapError(source.ErrRenderHTTPError, "", "render POST failed", err)
	}

	if resp.Data != nil && resp.Data.Markdown != "" {
		return Result{Content: resp.Data.Markdown, HTML: resp.Data.HTML, Metadata: firstNonNil(resp.Metadata, resp.Data.Metadata)}, nil
	}

	if resp.Success && resp.ID != "" && resp.URL != "" {
		return c.poll(ctx, resp.URL, resp.Metadata)
	}

	return Result{}, source.NewError(source.ErrInvalidResponseShape, "", "render response matched neither sync nor async shape")
}

func firstNonNil(a, b map[string]any) map[string]any {
	if a != nil {
		return a
	}
	return b
}

func (c *Client) postRender(ctx context.Context, body renderRequest) (renderResponse, error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return renderResponse{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(c.BaseURL, "/")+"/v1/scrape", bytes.NewReader(raw))
	if err != nil {
		return renderResponse{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.APIKey)
	}
	resp, err := c.httpClient().Do(req)
	if err != nil {
		return renderResponse{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return renderResponse{}, fmt.Errorf("render status %d", resp.StatusCode)
	}
	var out renderResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return renderResponse{}, err
	}
	return out, nil
}

// poll implements step 5 of §4.3: exponential backoff 1.0s*1.5^n capped at
// 10s, up to 10 attempts, 60s total deadline.
func (c *Client) poll(ctx context.Context, pollURL string, meta map[string]any) (Result, error) {
	pollCtx, cancel := context.WithTimeout(ctx, 60*time.Second)
	defer cancel()

	delay := time.Second
	for attempt := 0; attempt < 10; attempt++ {
		select {
		case <-pollCtx.Done():
			return Result{}, source.NewError(source.ErrPollTimeout, "", "polling deadline exceeded")
		case <-time.After(delay):
		}

		resp, err := c.getPoll(pollCtx, pollURL)
		if err != nil {
			return Result{}, source.WrapError(source.ErrRenderHTTPError, "", "poll request failed", err)
		}
		if resp.Data != nil && resp.Data.Markdown != "" {
			return Result{Content: resp.Data.Markdown, HTML: resp.Data.HTML, Metadata: firstNonNil(resp.Metadata, meta)}, nil
		}
		switch strings.ToLower(resp.Status) {
		case "completed":
			return Result{}, source.NewError(source.ErrPollFailed, "", "poll completed with no markdown")
		case "failed":
			return Result{}, source.NewError(source.ErrPollFailed, "", "render job failed")
		default:
			// pending, active, running, empty, or unknown: keep polling.
		}

		delay = time.Duration(float64(delay) * 1.5)
		if delay > 10*time.Second {
			delay = 10 * time.Second
		}
	}
	return Result{}, source.NewError(source.ErrPollTimeout, "", "exceeded 10 poll attempts")
}

func (c *Client) getPoll(ctx context.Context, pollURL string) (renderResponse, error) {
	target := pollURL
	if strings.HasPrefix(pollURL, "/") {
		target = strings.TrimRight(c.BaseURL, "/") + pollURL
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return renderResponse{}, err
	}
	if c.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.APIKey)
	}
	resp, err := c.httpClient().Do(req)
	if err != nil {
		return renderResponse{}, err
	}
	defer resp.Body.Close()
	var out renderResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return renderResponse{}, err
	}
	return out, nil
}

// --- fetcher fallback path, used when no render service is configured ---

func (c *Client) scrapeViaFetcher(ctx context.Context, rawURL string) (Result, error) {
	resp, err := c.Fetcher.Fetch(ctx, rawURL, fetch.DefaultPolicy())
	if err != nil {
		return Result{}, err
	}
	html := string(resp.Body)
	doc := extract.FromHTML(resp.Body)
	content := doc.Text
	if strings.TrimSpace(content) == "" {
		content = htmlToMarkdownish(html)
	}
	return Result{Content: content, HTML: html}, nil
}

// htmlToMarkdownish is a last-resort, dependency-free tag-stripping fallback
// used only when extract.FromHTML finds no <main>/<article>/<body> text
// (e.g. malformed markup).
func htmlToMarkdownish(html string) string {
	var sb strings.Builder
	inTag := false
	for _, r := range html {
		switch {
		case r == '<':
			inTag = true
		case r == '>':
			inTag = false
		case !inTag:
			sb.WriteRune(r)
		}
	}
	return strings.Join(strings.Fields(sb.String()), " ")
}
