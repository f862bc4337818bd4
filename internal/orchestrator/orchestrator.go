// Package orchestrator implements the top-level research pipeline (C10): it
// fans sub-jobs out to the Document Extractor, Scrape Client, Sitemap
// Resolver and Deck Extractor concurrently, extracts entities, assembles a
// single prompt, invokes the LLM Router, builds the RAG Index, and returns a
// Report.
package orchestrator

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/sheeki03/duediligence/internal/budget"
	"github.com/sheeki03/duediligence/internal/deck"
	"github.com/sheeki03/duediligence/internal/docextract"
	"github.com/sheeki03/duediligence/internal/entity"
	"github.com/sheeki03/duediligence/internal/llm"
	"github.com/sheeki03/duediligence/internal/rag"
	"github.com/sheeki03/duediligence/internal/scrape"
	"github.com/sheeki03/duediligence/internal/sitemap"
	"github.com/sheeki03/duediligence/internal/source"
)

// Per-source byte budgets from §4.10 step 5's design targets.
const (
	documentByteBudget = 3000
	webByteBudget      = 2000
	deckByteBudget     = 3000
)

const defaultGlobalDeadline = 10 * time.Minute

// Dependencies bundles the sub-component clients the Orchestrator fans work
// out to. DeckExtractor and SitemapResolver are only exercised when the
// request carries deck/crawl inputs; EntityExtractor, Embed, DeepEngine and
// Pending may be nil, which skips entity extraction, the RAG index build,
// Deep-mode delegation and clarification persistence respectively.
type Dependencies struct {
	DocExtractor    func(name string, data []byte) (docextract.Result, error)
	Scraper         *scrape.Client
	SitemapResolver *sitemap.Resolver
	DeckExtractor   *deck.Extractor
	EntityExtractor *entity.Extractor
	Router          *llm.Router
	Embed           rag.EmbedFunc
	DeepEngine      *DeepEngineClient
	Pending         *PendingStore
	Log             zerolog.Logger
}

// Orchestrator runs Classic and Deep mode research pipelines.
type Orchestrator struct {
	deps  Dependencies
	store *ReportStore
}

func New(deps Dependencies) *Orchestrator {
	return &Orchestrator{deps: deps, store: newReportStore()}
}

// Deps exposes the Orchestrator's dependencies, for callers that need to
// reuse a wired component (e.g. the LLM Router) outside of Run, such as
// Report Continuation.
func (o *Orchestrator) Deps() Dependencies {
	return o.deps
}

// Reports exposes the in-process record of built RAG indexes and section
// texts, keyed by report ID, for Report Continuation (C11). A RAGIndex is
// owned by its request and destroyed with it (§3 "Ownership"); this store
// is the same-process equivalent of that lifetime, scoped to as long as
// this Orchestrator (and the process running it) lives.
func (o *Orchestrator) Reports() *ReportStore {
	return o.store
}

// ReportStore implements continuation.Store over the Orchestrator's own
// in-memory record of each report it has produced.
type ReportStore struct {
	mu       sync.Mutex
	indexes  map[string]*rag.Index
	sections map[string]rag.Sections
}

func newReportStore() *ReportStore {
	return &ReportStore{indexes: map[string]*rag.Index{}, sections: map[string]rag.Sections{}}
}

func (s *ReportStore) put(reportID string, idx *rag.Index, sections rag.Sections) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if idx != nil {
		s.indexes[reportID] = idx
	}
	s.sections[reportID] = sections
}

func (s *ReportStore) Index(reportID string) (*rag.Index, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx, ok := s.indexes[reportID]
	return idx, ok
}

func (s *ReportStore) Sections(reportID string) (rag.Sections, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sections, ok := s.sections[reportID]
	return sections, ok
}

// subResult is one sub-job's extracted text plus its submission index, used
// to preserve submission order in the final prompt irrespective of
// completion order (§5 "Ordering guarantees").
type subResult struct {
	index    int
	kind     source.Kind
	name     string
	origin   string
	text     string
	err      error
}

// Run executes Classic or Deep mode per req.Mode.
func (o *Orchestrator) Run(ctx context.Context, req source.ResearchRequest) (source.Report, error) {
	if err := source.ValidateConfig(req.Config); err != nil {
		return source.Report{}, err
	}
	if req.Mode == source.ModeDeep {
		return o.runDeep(ctx, req)
	}
	return o.runClassic(ctx, req)
}

func (o *Orchestrator) runClassic(ctx context.Context, req source.ResearchRequest) (source.Report, error) {
	if req.Query == "" && len(req.Documents) == 0 && len(req.URLs) == 0 && req.Crawl == nil && req.Deck == nil {
		return source.Report{}, source.NewError(source.ErrEmptyRequest, "", "classic mode requires at least one input")
	}

	deadline := req.Config.GlobalDeadline
	if deadline <= 0 {
		deadline = defaultGlobalDeadline
	}
	runCtx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	results, err := o.fanOut(runCtx, req)
	if err != nil && len(results) == 0 {
		return source.Report{}, err
	}

	sortByIndex(results)

	var entities []source.Entity
	if req.Config.ExtractEntities && o.deps.EntityExtractor != nil {
		entities = o.extractEntities(runCtx, results)
	}

	sections := buildSections(results)
	prompt := assemblePrompt(req.Query, sections, entities)

	promptTokens := budget.EstimatePromptTokens(classicSystemPrompt, prompt, nil)
	if !budget.FitsInContext(req.Config.Model, 2000, promptTokens) {
		o.deps.Log.Warn().Int("estimated_tokens", promptTokens).Str("model", req.Config.Model).
			Msg("assembled prompt may exceed model context window")
	}

	answer, genErr := o.deps.Router.Generate(runCtx, classicSystemPrompt, prompt, req.Config.Model, "")
	if genErr != nil {
		return source.Report{}, source.WrapError(source.ErrAllSourcesFailed, "", "llm generation failed", genErr)
	}

	reportID := uuid.NewString()
	ragSections := rag.Sections{
		"Report":      answer,
		"Documents":   sections[source.KindDocument],
		"Scraped Web": sections[source.KindWeb],
		"Deck":        sections[source.KindDeck],
	}
	corpus := rag.BuildCorpus(ragSections)
	chunks := rag.ChunkCorpus(corpus)

	var index *rag.Index
	if o.deps.Embed != nil && len(chunks) > 0 {
		idx, buildErr := rag.Build(runCtx, reportID, req.Config.Model, chunks, o.deps.Embed)
		if buildErr == nil {
			index = idx
		} else {
			o.deps.Log.Warn().Err(buildErr).Msg("rag index build failed; continuing without it")
		}
	}
	o.store.put(reportID, index, ragSections)

	return source.Report{
		ID:           reportID,
		Success:      true,
		Text:         answer,
		Citations:    buildCitations(results),
		Entities:     entities,
		RAGAvailable: index != nil,
	}, nil
}

// fanOut spawns one sub-job per input under a bounded semaphore and collects
// results in completion order; callers re-sort by index for presentation.
func (o *Orchestrator) fanOut(ctx context.Context, req source.ResearchRequest) ([]subResult, error) {
	maxConcurrent := req.Config.MaxConcurrentSources
	if maxConcurrent <= 0 {
		maxConcurrent = 8
	}
	sem := semaphore.NewWeighted(int64(maxConcurrent))
	g, gctx := errgroup.WithContext(ctx)

	var mu sync.Mutex
	var results []subResult
	idx := 0

	submit := func(kind source.Kind, name string, job func(ctx context.Context) (string, string, error)) {
		i := idx
		idx++
		g.Go(func() error {
			if err := sem.Acquire(gctx, 1); err != nil {
				mu.Lock()
				results = append(results, subResult{index: i, kind: kind, name: name, err: err})
				mu.Unlock()
				return nil
			}
			defer sem.Release(1)

			text, origin, err := job(gctx)
			mu.Lock()
			results = append(results, subResult{index: i, kind: kind, name: name, origin: origin, text: text, err: err})
			mu.Unlock()
			return nil // per-source failure isolation: never abort the group
		})
	}

	for _, d := range req.Documents {
		d := d
		submit(source.KindDocument, d.Name, func(ctx context.Context) (string, string, error) {
			res, err := o.deps.DocExtractor(d.Name, d.Bytes)
			return res.Text, d.Name, err
		})
	}

	urls := append([]string{}, req.URLs...)
	if req.Crawl != nil && o.deps.SitemapResolver != nil {
		discovered, err := o.deps.SitemapResolver.Discover(ctx, req.Crawl.StartURL)
		if err == nil {
			urls = append(urls, discovered...)
		} else {
			o.deps.Log.Warn().Err(err).Str("root", req.Crawl.StartURL).Msg("sitemap discovery failed")
		}
	}
	for _, u := range urls {
		u := u
		submit(source.KindWeb, u, func(ctx context.Context) (string, string, error) {
			res, err := o.deps.Scraper.Scrape(ctx, u, false)
			return res.Content, u, err
		})
	}

	if req.Deck != nil && o.deps.DeckExtractor != nil {
		dk := req.Deck
		submit(source.KindDeck, dk.URL, func(ctx context.Context) (string, string, error) {
			res, err := o.deps.DeckExtractor.Extract(ctx, dk.URL, dk.Email, dk.Password)
			return res.Text, dk.URL, err
		})
	}

	_ = g.Wait() // sub-job errors are carried inside subResult, not returned here
	return results, nil
}

func (o *Orchestrator) extractEntities(ctx context.Context, results []subResult) []source.Entity {
	var all []source.Entity
	for _, r := range results {
		if r.err != nil || strings.TrimSpace(r.text) == "" {
			continue
		}
		res := o.deps.EntityExtractor.ExtractEntities(ctx, r.text, r.name, string(r.kind))
		if res.Success {
			all = append(all, res.Entities...)
		}
	}
	return all
}

func buildSections(results []subResult) map[source.Kind]string {
	budgets := map[source.Kind]int{
		source.KindDocument: documentByteBudget,
		source.KindWeb:      webByteBudget,
		source.KindDeck:     deckByteBudget,
	}
	out := map[source.Kind]string{}
	for _, r := range results {
		if r.err != nil {
			continue
		}
		budget := budgets[r.kind]
		text := r.text
		if budget > 0 && len(text) > budget {
			text = text[:budget]
		}
		if out[r.kind] != "" {
			out[r.kind] += "\n\n"
		}
		out[r.kind] += fmt.Sprintf("### %s\n%s", r.origin, text)
	}
	return out
}

const classicSystemPrompt = "You are a due diligence research assistant. Synthesize the provided documents, web pages and deck content into a well-cited report answering the research query. Cite sources by their heading names."

func assemblePrompt(query string, sections map[source.Kind]string, entities []source.Entity) string {
	var sb strings.Builder
	sb.WriteString("Research query: ")
	sb.WriteString(query)
	sb.WriteString("\n\n")
	for _, kind := range []source.Kind{source.KindDocument, source.KindWeb, source.KindDeck} {
		body := sections[kind]
		if body == "" {
			continue
		}
		sb.WriteString("## ")
		sb.WriteString(capitalize(string(kind)))
		sb.WriteString("\n")
		sb.WriteString(body)
		sb.WriteString("\n\n")
	}
	if len(entities) > 0 {
		sb.WriteString("## Entities\n")
		sb.WriteString(entity.RenderSummary(entities, entity.SummaryOptions{}))
	}
	return sb.String()
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

func sortByIndex(results []subResult) {
	sort.Slice(results, func(i, j int) bool { return results[i].index < results[j].index })
}

func toRAGSections(sections map[source.Kind]string) rag.Sections {
	names := map[source.Kind]string{source.KindDocument: "Documents", source.KindWeb: "Scraped Web", source.KindDeck: "Deck"}
	out := make(rag.Sections, len(sections))
	for kind, text := range sections {
		out[names[kind]] = text
	}
	return out
}

func buildCitations(results []subResult) []source.Citation {
	var out []source.Citation
	for _, r := range results {
		if r.err != nil {
			continue
		}
		preview := r.text
		if len(preview) > 280 {
			preview = preview[:280]
		}
		out = append(out, source.Citation{ID: r.origin, Type: r.kind, Title: r.name, URL: r.origin, Preview: preview})
	}
	return out
}
