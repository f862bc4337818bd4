package llm

import (
	"context"
	"testing"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

type fakeClient struct {
	responses []fakeResponse
	calls     int
	seenModel []string
}

type fakeResponse struct {
	content string
	err     error
}

func (f *fakeClient) CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	f.seenModel = append(f.seenModel, req.Model)
	i := f.calls
	f.calls++
	if i >= len(f.responses) {
		i = len(f.responses) - 1
	}
	r := f.responses[i]
	if r.err != nil {
		return openai.ChatCompletionResponse{}, r.err
	}
	return openai.ChatCompletionResponse{Choices: []openai.ChatCompletionChoice{{Message: openai.ChatCompletionMessage{Content: r.content}}}}, nil
}

func routerWithFake(fc *fakeClient) *Router {
	r := &Router{FallbackModel: "fallback/model"}
	r.clientFor = func(cfg ProviderConfig, timeout time.Duration) (Client, error) {
		return fc, nil
	}
	return r
}

func TestRouter_SelectsNanoGPTForPrefix(t *testing.T) {
	cfgFn, wireModel, timeout := resolveProvider("nanogpt/foo")
	r := &Router{NanoGPT: ProviderConfig{BaseURL: "https://nano.example"}, Primary: ProviderConfig{BaseURL: "https://primary.example"}}
	if cfgFn(r).BaseURL != "https://nano.example" {
		t.Fatalf("expected nanogpt base url")
	}
	if wireModel != "foo" {
		t.Fatalf("expected nanogpt/ prefix stripped, got %q", wireModel)
	}
	if timeout != 300*time.Second {
		t.Fatalf("expected default timeout, got %v", timeout)
	}
}

func TestRouter_DmindKeepsPrefixAndLongTimeout(t *testing.T) {
	cfgFn, wireModel, timeout := resolveProvider("dmind/bar")
	r := &Router{NanoGPT: ProviderConfig{BaseURL: "https://nano.example"}}
	if cfgFn(r).BaseURL != "https://nano.example" {
		t.Fatalf("expected nanogpt routing for dmind/*")
	}
	if wireModel != "dmind/bar" {
		t.Fatalf("expected prefix retained, got %q", wireModel)
	}
	if timeout != 600*time.Second {
		t.Fatalf("expected 600s timeout for dmind, got %v", timeout)
	}
}

func TestRouter_PrimaryForOtherModels(t *testing.T) {
	cfgFn, _, _ := resolveProvider("openai/gpt-5.2")
	r := &Router{Primary: ProviderConfig{BaseURL: "https://primary.example"}}
	if cfgFn(r).BaseURL != "https://primary.example" {
		t.Fatalf("expected primary routing")
	}
}

func TestRouter_FallbackOnlyWhenDifferentFromPrimary(t *testing.T) {
	fc := &fakeClient{responses: []fakeResponse{{err: &openai.APIError{HTTPStatusCode: 500}}, {content: "ok"}}}
	r := routerWithFake(fc)
	text, err := r.Generate(context.Background(), "sys", "prompt", "primary/model", "")
	if err != nil {
		t.Fatalf("expected fallback success, got %v", err)
	}
	if text != "ok" {
		t.Fatalf("unexpected content: %q", text)
	}
	if fc.calls != 2 {
		t.Fatalf("expected exactly one fallback call, got %d total calls", fc.calls)
	}
}

func TestRouter_NoFallbackWhenPrimaryEqualsFallback(t *testing.T) {
	fc := &fakeClient{responses: []fakeResponse{{err: &openai.APIError{HTTPStatusCode: 500}}}}
	r := routerWithFake(fc)
	r.FallbackModel = "same/model"
	_, err := r.Generate(context.Background(), "sys", "prompt", "same/model", "")
	if err == nil {
		t.Fatalf("expected failure with no fallback")
	}
	if fc.calls != 1 {
		t.Fatalf("expected exactly one call, got %d", fc.calls)
	}
}

func TestRouter_Retries503ThenSucceeds(t *testing.T) {
	fc := &fakeClient{responses: []fakeResponse{
		{err: &openai.APIError{HTTPStatusCode: 503}},
		{err: &openai.APIError{HTTPStatusCode: 503}},
		{content: "recovered"},
	}}
	r := routerWithFake(fc)
	start := time.Now()
	text, err := r.Generate(context.Background(), "sys", "prompt", "primary/model", "")
	elapsed := time.Since(start)
	if err != nil {
		t.Fatalf("expected eventual success: %v", err)
	}
	if text != "recovered" {
		t.Fatalf("unexpected content: %q", text)
	}
	if elapsed < 4*time.Second {
		t.Fatalf("expected backoff of at least 2s+4s, elapsed=%v", elapsed)
	}
}
