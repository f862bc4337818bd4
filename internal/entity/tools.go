package entity

import (
	"context"
	"encoding/json"

	openai "github.com/sashabaranov/go-openai"

	"github.com/sheeki03/duediligence/internal/llmtools"
)

// entityToolSpec describes the structured extraction function passed to
// providers that support tool/function calling, as an alternative to the
// free-text JSON parsing in parseModelOutput.
var entityToolSpec = llmtools.ToolSpec{
	Name:        "record_entities",
	Description: "Record the entities found in the given chunk of text.",
	JSONSchema: json.RawMessage(`{
		"type": "object",
		"properties": {
			"entities": {
				"type": "array",
				"items": {
					"type": "object",
					"properties": {
						"class": {"type": "string"},
						"text": {"type": "string"},
						"start": {"type": "integer"},
						"end": {"type": "integer"}
					},
					"required": ["class", "text", "start", "end"]
				}
			}
		},
		"required": ["entities"]
	}`),
}

// extractChunkWithTools runs the same chunk extraction as extractChunk but
// via the LLM's native tool-calling interface rather than free-text JSON,
// for providers/models where that yields more reliable structured output.
func (e *Extractor) extractChunkWithTools(ctx context.Context, chunk Chunk, sourceID string) ([]rawExtraction, error) {
	messages := []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleSystem, Content: buildSystemPrompt()},
		{Role: openai.ChatMessageRoleUser, Content: chunk.Text},
	}
	tools := llmtools.EncodeTools([]llmtools.ToolSpec{entityToolSpec})

	result, err := e.Router.ChatWithTools(ctx, messages, tools, e.Model, "record_entities", 0)
	if err != nil {
		return nil, err
	}

	calls := llmtools.ParseToolCalls(openai.ChatCompletionResponse{
		Choices: []openai.ChatCompletionChoice{{
			Message: openai.ChatCompletionMessage{Content: result.Content, ToolCalls: result.ToolCalls},
		}},
	})
	for _, call := range calls {
		if call.Name != "record_entities" {
			continue
		}
		var payload struct {
			Entities []rawExtraction `json:"entities"`
		}
		if err := json.Unmarshal(call.Arguments, &payload); err != nil {
			continue
		}
		return payload.Entities, nil
	}
	return nil, nil
}
