package rag

import (
	"context"
	"strings"
	"testing"
)

func fakeEmbed(ctx context.Context, text string) ([]float32, error) {
	// Deterministic, cheap stand-in: a 3-dim vector derived from text length
	// and character sum, sufficient to exercise chromem-go's cosine ranking
	// without a real embedding model.
	var sum float32
	for _, c := range text {
		sum += float32(c)
	}
	return []float32{float32(len(text)), sum, 1.0}, nil
}

func TestBuildCorpus_DeterministicOrder(t *testing.T) {
	out := BuildCorpus(Sections{
		"Deck":      "deck text",
		"Report":    "report text",
		"Documents": "doc text",
	})
	reportIdx := strings.Index(out, "Report")
	docIdx := strings.Index(out, "Documents")
	deckIdx := strings.Index(out, "Deck")
	if !(reportIdx < docIdx && docIdx < deckIdx) {
		t.Fatalf("expected Report < Documents < Deck ordering, got report=%d doc=%d deck=%d", reportIdx, docIdx, deckIdx)
	}
}

func TestChunkCorpus_RespectsTargetSize(t *testing.T) {
	corpus := strings.Repeat("word ", 1000)
	chunks := ChunkCorpus(corpus)
	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks for long corpus")
	}
}

func TestIndex_ChunksMatchVectorRows(t *testing.T) {
	idx, err := Build(context.Background(), "report-1", "model-a", []string{"alpha beta", "gamma delta", "epsilon"}, fakeEmbed)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if idx.Len() != 3 {
		t.Fatalf("expected 3 chunks, got %d", idx.Len())
	}
}

func TestIndex_CheckModel_RefusesMismatch(t *testing.T) {
	idx, err := Build(context.Background(), "report-1", "model-a", []string{"alpha"}, fakeEmbed)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if err := idx.CheckModel("model-b"); err == nil {
		t.Fatalf("expected refusal on model mismatch")
	}
	if err := idx.CheckModel("model-a"); err != nil {
		t.Fatalf("expected success on matching model: %v", err)
	}
}

func TestIndex_Search_ReturnsTopK(t *testing.T) {
	idx, err := Build(context.Background(), "report-1", "model-a", []string{"alpha beta", "gamma delta", "epsilon zeta"}, fakeEmbed)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	results, err := idx.Search(context.Background(), "alpha", 2)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(results) > 2 {
		t.Fatalf("expected at most 2 results, got %d", len(results))
	}
}
