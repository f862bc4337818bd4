package continuation

import (
	"context"
	"strings"
	"testing"

	"github.com/sheeki03/duediligence/internal/rag"
)

type fakeGenerator struct {
	lastPrompt string
	response   string
}

func (f *fakeGenerator) Generate(ctx context.Context, systemPrompt, prompt, primaryModel, modelOverride string) (string, error) {
	f.lastPrompt = prompt
	return f.response, nil
}

type fakeStore struct {
	idx      *rag.Index
	sections rag.Sections
}

func (s *fakeStore) Index(reportID string) (*rag.Index, bool) {
	if s.idx == nil {
		return nil, false
	}
	return s.idx, true
}

func (s *fakeStore) Sections(reportID string) (rag.Sections, bool) {
	if s.sections == nil {
		return nil, false
	}
	return s.sections, true
}

func fakeEmbed(ctx context.Context, text string) ([]float32, error) {
	var sum float32
	for _, c := range text {
		sum += float32(c)
	}
	return []float32{float32(len(text)), sum, 1}, nil
}

func TestAnswer_UsesRAGWhenIndexPresent(t *testing.T) {
	idx, err := rag.Build(context.Background(), "r1", "model-a", []string{"alpha beta gamma"}, fakeEmbed)
	if err != nil {
		t.Fatalf("build index: %v", err)
	}
	gen := &fakeGenerator{response: "rag answer"}
	c := &Continuer{Store: &fakeStore{idx: idx}, Router: gen, Model: "model-a"}

	ans, err := c.Answer(context.Background(), "r1", "what is alpha?")
	if err != nil {
		t.Fatalf("answer: %v", err)
	}
	if ans.Method != MethodRAG {
		t.Fatalf("expected rag method, got %s", ans.Method)
	}
	if !strings.Contains(gen.lastPrompt, "Question: what is alpha?") {
		t.Fatalf("expected prompt to include the question, got %q", gen.lastPrompt)
	}
}

func TestAnswer_DegradesToDirectWhenNoIndex(t *testing.T) {
	gen := &fakeGenerator{response: "direct answer"}
	sections := rag.Sections{"Report": "the prior report text"}
	c := &Continuer{Store: &fakeStore{sections: sections}, Router: gen, Model: "model-a"}

	ans, err := c.Answer(context.Background(), "r2", "summarize it")
	if err != nil {
		t.Fatalf("answer: %v", err)
	}
	if ans.Method != MethodDirect {
		t.Fatalf("expected direct method, got %s", ans.Method)
	}
	if !strings.Contains(gen.lastPrompt, "the prior report text") {
		t.Fatalf("expected prompt to include the corpus text")
	}
}

func TestAnswer_FallsBackToGeneralWhenNothingStored(t *testing.T) {
	gen := &fakeGenerator{response: "general answer"}
	c := &Continuer{Store: &fakeStore{}, Router: gen, Model: "model-a"}

	ans, err := c.Answer(context.Background(), "unknown", "anything?")
	if err != nil {
		t.Fatalf("answer: %v", err)
	}
	if ans.Method != MethodGeneral {
		t.Fatalf("expected general method, got %s", ans.Method)
	}
}

func TestAnswer_DegradesWhenModelMismatched(t *testing.T) {
	idx, err := rag.Build(context.Background(), "r3", "model-a", []string{"alpha"}, fakeEmbed)
	if err != nil {
		t.Fatalf("build index: %v", err)
	}
	gen := &fakeGenerator{response: "general answer"}
	c := &Continuer{Store: &fakeStore{idx: idx}, Router: gen, Model: "model-b"}

	ans, err := c.Answer(context.Background(), "r3", "anything?")
	if err != nil {
		t.Fatalf("answer: %v", err)
	}
	if ans.Method != MethodGeneral {
		t.Fatalf("expected degradation to general on model mismatch, got %s", ans.Method)
	}
}
