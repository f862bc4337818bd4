package llm

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/sheeki03/duediligence/internal/cache"
	"github.com/sheeki03/duediligence/internal/source"
)

// ProviderConfig carries the base URL, API key, and header conventions for
// one backend endpoint.
type ProviderConfig struct {
	BaseURL       string
	APIKey        string
	RefererHeader string // e.g. "HTTP-Referer"
	RefererValue  string
	TitleHeader   string // e.g. "X-Title"
	TitleValue    string
}

// Router implements the LLM Router (C7): routes by model-identifier prefix,
// applies per-provider headers/timeouts, retries 503s, and falls back
// between a primary and fallback model. Router is stateless aside from its
// immutable configuration and therefore safe for concurrent use.
type Router struct {
	Primary      ProviderConfig // OpenRouter-style endpoint
	NanoGPT      ProviderConfig // nanogpt/ and dmind/ endpoint
	FallbackModel string

	// Cache, when set, short-circuits call with a prior response keyed on
	// model+prompt and persists fresh ones. Nil disables caching.
	Cache *cache.LLMCache

	// clientFor is overridable in tests to avoid real network I/O.
	clientFor func(cfg ProviderConfig, timeout time.Duration) (Client, error)
}

func (r *Router) makeClientFor(cfg ProviderConfig, timeout time.Duration) (Client, error) {
	if r.clientFor != nil {
		return r.clientFor(cfg, timeout)
	}
	pool, err := x509.SystemCertPool()
	if err != nil || pool == nil {
		return nil, source.NewError(source.ErrTLS, "", "no system certificate pool available")
	}
	httpClient := &http.Client{
		Timeout: timeout,
		Transport: &headerTransport{cfg: cfg, base: &http.Transport{
			TLSClientConfig: &tls.Config{RootCAs: pool}, // never InsecureSkipVerify
		}},
	}
	oc := openai.DefaultConfig(cfg.APIKey)
	oc.BaseURL = cfg.BaseURL
	oc.HTTPClient = httpClient
	return &headeredClient{inner: openai.NewClientWithConfig(oc), cfg: cfg}, nil
}

// headeredClient attaches provider-specific referer/title headers by relying
// on go-openai's ability to accept a custom http.Client whose Transport
// injects them; kept as a thin wrapper since go-openai itself has no per-call
// header hook.
type headeredClient struct {
	inner *openai.Client
	cfg   ProviderConfig
}

func (h *headeredClient) CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	return h.inner.CreateChatCompletion(ctx, req)
}

// headerTransport sets the configured referer/title headers on every request.
type headerTransport struct {
	cfg  ProviderConfig
	base http.RoundTripper
}

func (t *headerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	for name, val := range map[string]string{t.cfg.RefererHeader: t.cfg.RefererValue, t.cfg.TitleHeader: t.cfg.TitleValue} {
		if name != "" && val != "" {
			req.Header.Set(name, val)
		}
	}
	return t.base.RoundTrip(req)
}

// resolveProvider implements the §4.7 routing rule: the model identifier's
// first path segment selects nanogpt vs primary. For dmind/*, the full name
// including prefix is sent as the model.
func resolveProvider(model string) (cfg func(r *Router) ProviderConfig, wireModel string, timeout time.Duration) {
	lower := strings.ToLower(model)
	first, _, _ := strings.Cut(model, "/")
	firstLower := strings.ToLower(first)

	isDmind := strings.Contains(lower, "dmind")
	timeout = 300 * time.Second
	if isDmind {
		timeout = 600 * time.Second
	}

	if firstLower == "nanogpt" {
		return func(r *Router) ProviderConfig { return r.NanoGPT }, strings.TrimPrefix(model, "nanogpt/"), timeout
	}
	if firstLower == "dmind" {
		return func(r *Router) ProviderConfig { return r.NanoGPT }, model, timeout
	}
	return func(r *Router) ProviderConfig { return r.Primary }, model, timeout
}

// Generate implements generate(prompt, system_prompt, model_override?). When
// modelOverride is empty, primaryModel is tried first; in both cases the
// fallback model is tried once more on failure, but only when it differs
// from whichever model was just attempted, per §4.7.
func (r *Router) Generate(ctx context.Context, systemPrompt, prompt, primaryModel, modelOverride string) (string, error) {
	attempted := primaryModel
	if modelOverride != "" {
		attempted = modelOverride
	}
	text, err := r.call(ctx, attempted, systemPrompt, prompt)
	if err == nil {
		return text, nil
	}
	if attempted != r.FallbackModel && r.FallbackModel != "" {
		return r.call(ctx, r.FallbackModel, systemPrompt, prompt)
	}
	return "", err
}

// ChatResult is the uniform return shape of ChatWithTools.
type ChatResult struct {
	Content   string
	ToolCalls []openai.ToolCall
}

// ChatWithTools implements chat_with_tools; it does not fall back.
func (r *Router) ChatWithTools(ctx context.Context, messages []openai.ChatCompletionMessage, tools []openai.Tool, model string, toolChoice any, temperature float32) (ChatResult, error) {
	cfgFn, wireModel, timeout := resolveProvider(model)
	client, err := r.makeClientFor(cfgFn(r), timeout)
	if err != nil {
		return ChatResult{}, err
	}
	req := openai.ChatCompletionRequest{
		Model:       wireModel,
		Messages:    messages,
		Tools:       tools,
		Temperature: temperature,
	}
	resp, err := r.doWithRetry(ctx, client, req, timeout)
	if err != nil {
		return ChatResult{}, err
	}
	if len(resp.Choices) == 0 {
		return ChatResult{}, source.NewError(source.ErrLLMEmptyResponse, "", "no choices returned")
	}
	msg := resp.Choices[0].Message
	if msg.Content == "" && len(msg.ToolCalls) == 0 {
		return ChatResult{}, source.NewError(source.ErrLLMEmptyResponse, "", "empty content and no tool calls")
	}
	return ChatResult{Content: msg.Content, ToolCalls: msg.ToolCalls}, nil
}

// call is the shared single-model invocation used by Generate. When r.Cache
// is set, a hit for the same model+prompt pair short-circuits the network
// round trip entirely; a miss is saved after a successful response.
func (r *Router) call(ctx context.Context, model, systemPrompt, prompt string) (string, error) {
	var cacheKey string
	if r.Cache != nil {
		cacheKey = cache.KeyFrom(model, systemPrompt+"\n\n"+prompt)
		if cached, ok, err := r.Cache.Get(ctx, cacheKey); err == nil && ok {
			return string(cached), nil
		}
	}

	cfgFn, wireModel, timeout := resolveProvider(model)
	client, err := r.makeClientFor(cfgFn(r), timeout)
	if err != nil {
		return "", err
	}
	req := openai.ChatCompletionRequest{
		Model: wireModel,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	}
	resp, err := r.doWithRetry(ctx, client, req, timeout)
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
		return "", source.NewError(source.ErrLLMEmptyResponse, "", "empty choices[0].message.content")
	}
	content := resp.Choices[0].Message.Content
	if r.Cache != nil {
		_ = r.Cache.Save(ctx, cacheKey, []byte(content))
	}
	return content, nil
}

// doWithRetry implements the §4.7 retry policy: on HTTP 503, retry up to 3
// times with linear backoff 2s, 4s, 6s; other transport errors fail fast.
func (r *Router) doWithRetry(ctx context.Context, client Client, req openai.ChatCompletionRequest, timeout time.Duration) (openai.ChatCompletionResponse, error) {
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	backoffs := []time.Duration{2 * time.Second, 4 * time.Second, 6 * time.Second}
	var lastErr error
	for attempt := 0; attempt <= len(backoffs); attempt++ {
		resp, err := client.CreateChatCompletion(callCtx, req)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if !is503(err) || attempt == len(backoffs) {
			return openai.ChatCompletionResponse{}, source.WrapError(source.ErrLLMHTTPError, "", "chat completion failed", err)
		}
		t := time.NewTimer(backoffs[attempt])
		select {
		case <-callCtx.Done():
			t.Stop()
			return openai.ChatCompletionResponse{}, source.WrapError(source.ErrLLMTimeout, "", "deadline exceeded during retry backoff", callCtx.Err())
		case <-t.C:
		}
	}
	return openai.ChatCompletionResponse{}, source.WrapError(source.ErrLLMHTTPError, "", "chat completion failed", lastErr)
}

func is503(err error) bool {
	if err == nil {
		return false
	}
	var apiErr *openai.APIError
	if ok := asAPIError(err, &apiErr); ok {
		return apiErr.HTTPStatusCode == http.StatusServiceUnavailable
	}
	return strings.Contains(err.Error(), "503")
}

func asAPIError(err error, target **openai.APIError) bool {
	for err != nil {
		if e, ok := err.(*openai.APIError); ok {
			*target = e
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
