// Package continuation implements Report Continuation (C11): grounded Q&A
// over a prior pipeline's RAGIndex and LLM Router, degrading to direct
// analysis over the raw extracted texts when no index is available.
package continuation

import (
	"context"
	"strings"

	"github.com/sheeki03/duediligence/internal/rag"
	"github.com/sheeki03/duediligence/internal/source"
)

// Generator is the subset of llm.Router's surface Continuer depends on,
// accepted as an interface so tests can supply a fake without touching the
// real provider wiring.
type Generator interface {
	Generate(ctx context.Context, systemPrompt, prompt, primaryModel, modelOverride string) (string, error)
}

// Method labels the answering strategy actually used, attached to every
// answer for downstream logging per §4.11 step 3.
type Method string

const (
	MethodRAG     Method = "rag"
	MethodDirect  Method = "direct"
	MethodGeneral Method = "general"
)

const topK = 4

// directAnalysisByteBudget bounds the total context passed when no index is
// available, preventing an unbounded prompt from a large prior corpus.
const directAnalysisByteBudget = 60_000

// Answer is the continuation Q&A result.
type Answer struct {
	Text   string
	Method Method
}

// Store looks up a prior report's index and its raw section texts by ID.
type Store interface {
	Index(reportID string) (*rag.Index, bool)
	Sections(reportID string) (rag.Sections, bool)
}

// Continuer answers follow-up questions against a prior report.
type Continuer struct {
	Store  Store
	Router Generator
	Model  string
	Embed  rag.EmbedFunc
}

// Answer implements §4.11: RAG-backed retrieval when an index exists for
// report_id, direct analysis over the fixed-order concatenated corpus
// otherwise, and a bare general answer if neither is available.
func (c *Continuer) Answer(ctx context.Context, reportID, question string) (Answer, error) {
	if idx, ok := c.Store.Index(reportID); ok {
		return c.answerWithIndex(ctx, idx, question)
	}
	if sections, ok := c.Store.Sections(reportID); ok {
		return c.answerDirect(ctx, sections, question)
	}
	return c.answerGeneral(ctx, question)
}

func (c *Continuer) answerWithIndex(ctx context.Context, idx *rag.Index, question string) (Answer, error) {
	if err := idx.CheckModel(c.Model); err != nil {
		// The binding invariant was violated: degrade rather than answer
		// against a mismatched embedding space.
		return c.answerGeneral(ctx, question)
	}

	results, err := idx.Search(ctx, question, topK)
	if err != nil {
		return Answer{}, source.WrapError(source.ErrAllSourcesFailed, "", "rag search failed", err)
	}

	var sb strings.Builder
	for _, r := range results {
		sb.WriteString(r.Chunk.Text)
		sb.WriteString("\n\n")
	}
	prompt := sb.String() + "\n\nQuestion: " + question

	text, err := c.Router.Generate(ctx, continuationSystemPrompt, prompt, c.Model, "")
	if err != nil {
		return Answer{}, err
	}
	return Answer{Text: text, Method: MethodRAG}, nil
}

func (c *Continuer) answerDirect(ctx context.Context, sections rag.Sections, question string) (Answer, error) {
	corpus := rag.BuildCorpus(sections)
	if len(corpus) > directAnalysisByteBudget {
		corpus = corpus[:directAnalysisByteBudget]
	}
	prompt := corpus + "\n\nQuestion: " + question

	text, err := c.Router.Generate(ctx, continuationSystemPrompt, prompt, c.Model, "")
	if err != nil {
		return Answer{}, err
	}
	return Answer{Text: text, Method: MethodDirect}, nil
}

func (c *Continuer) answerGeneral(ctx context.Context, question string) (Answer, error) {
	text, err := c.Router.Generate(ctx, continuationSystemPrompt, "Question: "+question, c.Model, "")
	if err != nil {
		return Answer{}, err
	}
	return Answer{Text: text, Method: MethodGeneral}, nil
}

const continuationSystemPrompt = "Answer the question using only the provided context. If the context does not contain the answer, say so plainly."
