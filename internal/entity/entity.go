package entity

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"sync"

	"github.com/sheeki03/duediligence/internal/llm"
	"github.com/sheeki03/duediligence/internal/source"
)

// Classes is the fixed set of entity classes recognized by the extractor.
var Classes = []string{
	"person", "organization", "funding_round", "funding_amount", "metric",
	"date", "technology", "risk_factor", "partnership",
}

// ExtractionResult is the §4.6 output.
type ExtractionResult struct {
	Entities []source.Entity
	Success  bool
	Error    string
}

// Extractor runs chunked, LLM-backed entity extraction with a shared
// cross-source concurrency limit.
type Extractor struct {
	Router         *llm.Router
	Model          string
	MaxChunkSize   int
	UseToolCalling bool // prefer ChatWithTools over free-text JSON parsing
	sem            chan struct{}
	semOnce        sync.Once
	MaxConcurrent  int
}

func (e *Extractor) semaphore() chan struct{} {
	e.semOnce.Do(func() {
		n := e.MaxConcurrent
		if n <= 0 {
			n = 3
		}
		e.sem = make(chan struct{}, n)
	})
	return e.sem
}

// ExtractEntities implements extract_entities(text, source_id, source_kind).
// Failure is not fatal to the pipeline: a failed extraction returns a
// ExtractionResult{Success:false} rather than an error.
func (e *Extractor) ExtractEntities(ctx context.Context, text string, sourceID string, sourceKind string) ExtractionResult {
	sem := e.semaphore()
	select {
	case sem <- struct{}{}:
		defer func() { <-sem }()
	case <-ctx.Done():
		return ExtractionResult{Success: false, Error: "cancelled"}
	}

	chunks := Split(text, e.MaxChunkSize)
	var entities []source.Entity
	for _, chunk := range chunks {
		select {
		case <-ctx.Done():
			return ExtractionResult{Entities: dedup(entities), Success: false, Error: "cancelled"}
		default:
		}
		extracted, err := e.extractChunk(ctx, chunk, sourceID)
		if err != nil {
			continue // a failed chunk does not fail the whole source; see §4.6
		}
		entities = append(entities, extracted...)
	}
	return ExtractionResult{Entities: dedup(entities), Success: len(entities) > 0}
}

func (e *Extractor) extractChunk(ctx context.Context, chunk Chunk, sourceID string) ([]source.Entity, error) {
	var rawExtractions []rawExtraction
	if e.UseToolCalling {
		extracted, err := e.extractChunkWithTools(ctx, chunk, sourceID)
		if err != nil {
			return nil, err
		}
		rawExtractions = extracted
	} else {
		sys := buildSystemPrompt()
		user := chunk.Text
		raw, err := e.Router.Generate(ctx, sys, user, e.Model, "")
		if err != nil {
			return nil, err
		}
		parsed, err := parseModelOutput(raw)
		if err != nil {
			return nil, err
		}
		rawExtractions = parsed
	}
	out := make([]source.Entity, 0, len(rawExtractions))
	for _, re := range rawExtractions {
		out = append(out, source.Entity{
			Class:       re.Class,
			Text:        re.Text,
			Attributes:  re.Attributes,
			SourceStart: chunk.Start + re.Start,
			SourceEnd:   chunk.Start + re.End,
			SourceID:    sourceID,
		})
	}
	return out, nil
}

type rawExtraction struct {
	Class      string         `json:"class"`
	Text       string         `json:"text"`
	Attributes map[string]any `json:"attributes"`
	Start      int            `json:"start"`
	End        int            `json:"end"`
}

// parseModelOutput tolerates the three response shapes named in §4.6:
// object-with-"extractions", dict with "extractions"/"entities", or a flat list.
func parseModelOutput(raw string) ([]rawExtraction, error) {
	raw = strings.TrimSpace(raw)

	var flat []rawExtraction
	if err := json.Unmarshal([]byte(raw), &flat); err == nil {
		return flat, nil
	}

	var obj struct {
		Extractions []rawExtraction `json:"extractions"`
		Entities    []rawExtraction `json:"entities"`
	}
	if err := json.Unmarshal([]byte(raw), &obj); err == nil {
		if len(obj.Extractions) > 0 {
			return obj.Extractions, nil
		}
		return obj.Entities, nil
	}

	return nil, source.NewError(source.ErrInvalidResponseShape, "", "entity model output matched no known shape")
}

func buildSystemPrompt() string {
	var sb strings.Builder
	sb.WriteString("Extract structured entities from the given text chunk. Allowed classes: ")
	sb.WriteString(strings.Join(Classes, ", "))
	sb.WriteString(". Return strict JSON: {\"extractions\":[{\"class\":string,\"text\":string,\"attributes\":object,\"start\":int,\"end\":int}]}. ")
	sb.WriteString("start/end are character offsets relative to the chunk. Example: ")
	sb.WriteString(`{"extractions":[{"class":"organization","text":"Acme Corp","attributes":{},"start":0,"end":9}]}`)
	return sb.String()
}

func dedup(entities []source.Entity) []source.Entity {
	seen := map[[5]string]struct{}{}
	out := make([]source.Entity, 0, len(entities))
	for _, e := range entities {
		k := e.Key()
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].SourceID != out[j].SourceID {
			return out[i].SourceID < out[j].SourceID
		}
		return out[i].SourceStart < out[j].SourceStart
	})
	return out
}
