package entity

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/sheeki03/duediligence/internal/source"
)

func TestSplit_OverlapAndOffsets(t *testing.T) {
	text := strings.Repeat("abcdefghij", 50) // 500 chars
	chunks := Split(text, 200)
	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(chunks))
	}
	for i := 1; i < len(chunks); i++ {
		if chunks[i].Start >= chunks[i-1].End {
			t.Fatalf("expected overlap between chunk %d and %d", i-1, i)
		}
	}
	if chunks[0].Start != 0 {
		t.Fatalf("expected first chunk to start at 0")
	}
}

func TestSplit_EmptyText(t *testing.T) {
	if chunks := Split("", 100); chunks != nil {
		t.Fatalf("expected nil chunks for empty text, got %v", chunks)
	}
}

func TestDedup_DistinctOffsetsYieldDistinctEntities(t *testing.T) {
	entities := []source.Entity{
		{Class: "organization", Text: "Acme Corp", SourceStart: 0, SourceEnd: 9, SourceID: "doc1"},
		{Class: "organization", Text: "Acme Corp", SourceStart: 50, SourceEnd: 59, SourceID: "doc1"},
		{Class: "organization", Text: "Acme Corp", SourceStart: 50, SourceEnd: 59, SourceID: "doc1"}, // duplicate of above
		{Class: "organization", Text: "Acme Corp", SourceStart: 100, SourceEnd: 109, SourceID: "doc1"},
	}
	out := dedup(entities)
	if len(out) != 3 {
		t.Fatalf("expected 3 distinct entities, got %d", len(out))
	}
}

func TestParseModelOutput_ToleratesThreeShapes(t *testing.T) {
	flat := `[{"class":"person","text":"Jane","start":0,"end":4}]`
	if out, err := parseModelOutput(flat); err != nil || len(out) != 1 {
		t.Fatalf("flat shape: out=%v err=%v", out, err)
	}

	wrapped := `{"extractions":[{"class":"person","text":"Jane","start":0,"end":4}]}`
	if out, err := parseModelOutput(wrapped); err != nil || len(out) != 1 {
		t.Fatalf("extractions shape: out=%v err=%v", out, err)
	}

	entitiesShape := `{"entities":[{"class":"person","text":"Jane","start":0,"end":4}]}`
	if out, err := parseModelOutput(entitiesShape); err != nil || len(out) != 1 {
		t.Fatalf("entities shape: out=%v err=%v", out, err)
	}
}

func TestRenderSummary_BoundsAndTruncation(t *testing.T) {
	var entities []source.Entity
	for i := 0; i < 20; i++ {
		entities = append(entities, source.Entity{Class: "technology", Text: strings.Repeat("x", 50), SourceID: "doc1"})
	}
	out := RenderSummary(entities, SummaryOptions{})
	if len(out) > maxSummaryChars {
		t.Fatalf("expected bounded summary, got %d chars", len(out))
	}
}

func TestEntityToolSpec_SchemaRequiresEntitiesArray(t *testing.T) {
	var schema map[string]any
	if err := json.Unmarshal(entityToolSpec.JSONSchema, &schema); err != nil {
		t.Fatalf("expected valid json schema: %v", err)
	}
	props, ok := schema["properties"].(map[string]any)
	if !ok {
		t.Fatalf("expected properties object in schema")
	}
	if _, ok := props["entities"]; !ok {
		t.Fatalf("expected an entities property in the tool schema")
	}
}
