// Package rag implements the RAG Index (C8): deterministic section-ordered
// chunking of the aggregate corpus, embeddings, and a dense vector index
// supporting k-nearest-neighbor search, bound to exactly one report.
package rag

import (
	"context"
	"sort"
	"strconv"
	"strings"

	chromem "github.com/philippgille/chromem-go"

	"github.com/sheeki03/duediligence/internal/source"
)

const chunkTargetSize = 1500

// sectionOrder is the deterministic concatenation order from §4.8.
var sectionOrder = []string{"Report", "Documents", "Scraped Web", "Crawled Web", "Deck", "Deep Research Content"}

// Sections maps a section heading to its body text.
type Sections map[string]string

// BuildCorpus concatenates section-headed blocks in the fixed order,
// skipping empty sections.
func BuildCorpus(s Sections) string {
	var sb strings.Builder
	for _, name := range sectionOrder {
		body := strings.TrimSpace(s[name])
		if body == "" {
			continue
		}
		sb.WriteString("## ")
		sb.WriteString(name)
		sb.WriteString("\n\n")
		sb.WriteString(body)
		sb.WriteString("\n\n")
	}
	return sb.String()
}

// ChunkCorpus splits the aggregate corpus into ~1500-char chunks preserving
// paragraph boundaries where possible.
func ChunkCorpus(corpus string) []string {
	if strings.TrimSpace(corpus) == "" {
		return nil
	}
	paras := strings.Split(corpus, "\n\n")
	var chunks []string
	var cur strings.Builder
	for _, p := range paras {
		if cur.Len() > 0 && cur.Len()+len(p) > chunkTargetSize {
			chunks = append(chunks, strings.TrimSpace(cur.String()))
			cur.Reset()
		}
		cur.WriteString(p)
		cur.WriteString("\n\n")
		for cur.Len() > chunkTargetSize {
			s := cur.String()
			chunks = append(chunks, strings.TrimSpace(s[:chunkTargetSize]))
			cur.Reset()
			cur.WriteString(s[chunkTargetSize:])
		}
	}
	if strings.TrimSpace(cur.String()) != "" {
		chunks = append(chunks, strings.TrimSpace(cur.String()))
	}
	return chunks
}

// EmbedFunc computes an embedding vector for a chunk of text.
type EmbedFunc func(ctx context.Context, text string) ([]float32, error)

// Index is a per-request, in-process vector index over one report's corpus.
// It owns a chromem-go in-memory collection; the invariant
// len(chunks) == rows(vectors) is enforced by construction, and ModelID must
// match at query time.
type Index struct {
	ReportID string
	ModelID  string

	db         *chromem.DB
	collection *chromem.Collection
	chunks     []source.CorpusChunk
}

// Build embeds every chunk and constructs the index, per §4.8's "built once
// per request" invariant.
func Build(ctx context.Context, reportID, modelID string, chunks []string, embed EmbedFunc) (*Index, error) {
	db := chromem.NewDB()
	col, err := db.CreateCollection(reportID, nil, chromemEmbedFunc(embed))
	if err != nil {
		return nil, err
	}

	idx := &Index{ReportID: reportID, ModelID: modelID, db: db, collection: col}
	for i, text := range chunks {
		id := strconv.Itoa(i)
		if err := col.AddDocument(ctx, chromem.Document{ID: id, Content: text}); err != nil {
			return nil, err
		}
		idx.chunks = append(idx.chunks, source.CorpusChunk{Offset: i, Text: text})
	}
	return idx, nil
}

func chromemEmbedFunc(embed EmbedFunc) chromem.EmbeddingFunc {
	return func(ctx context.Context, text string) ([]float32, error) {
		return embed(ctx, text)
	}
}

// SearchResult is one ranked hit.
type SearchResult struct {
	Chunk      source.CorpusChunk
	Similarity float32
}

// Search implements search(query, k): embeds the query with the index's own
// embedder (the EmbedFunc given to Build), then returns the top-k chunks
// ranked by cosine similarity.
func (idx *Index) Search(ctx context.Context, queryText string, k int) ([]SearchResult, error) {
	if k <= 0 {
		k = 4
	}
	if k > len(idx.chunks) {
		k = len(idx.chunks)
	}
	if k == 0 {
		return nil, nil
	}
	res, err := idx.collection.Query(ctx, queryText, k, nil, nil)
	if err != nil {
		return nil, err
	}
	out := make([]SearchResult, 0, len(res))
	for _, r := range res {
		n, err := strconv.Atoi(r.ID)
		if err != nil || n < 0 || n >= len(idx.chunks) {
			continue
		}
		out = append(out, SearchResult{Chunk: idx.chunks[n], Similarity: r.Similarity})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Similarity > out[j].Similarity })
	return out, nil
}

// Len returns the number of chunks/vectors, used to check the
// len(chunks)==rows(vectors) invariant in tests.
func (idx *Index) Len() int { return len(idx.chunks) }

// CheckModel refuses a query whose embedder differs from the one used to
// build the index, per §4.8's binding invariant.
func (idx *Index) CheckModel(queryModelID string) error {
	if idx.ModelID != queryModelID {
		return source.NewError(source.ErrInvalidResponseShape, "", "query embedding model does not match index model_id")
	}
	return nil
}

