// Package source defines the shared entities that flow through the research
// pipeline: Source, ResearchRequest, Config, Entity, CorpusChunk, Citation
// and Report.
package source

import (
	"strconv"
	"sync"
	"time"
)

// Kind tags the variant a Source represents.
type Kind string

const (
	KindDocument Kind = "document"
	KindWeb      Kind = "web"
	KindDeck     Kind = "deck"
)

// Status is the lifecycle state of a Source. Transitions are monotone:
// pending -> in_progress -> (extracted | failed).
type Status string

const (
	StatusPending     Status = "pending"
	StatusInProgress  Status = "in_progress"
	StatusExtracted   Status = "extracted"
	StatusFailed      Status = "failed"
)

// Source is a single ingested input, owned exclusively by its ResearchRequest.
// It is mutated exactly once by its owning extractor, so all mutation happens
// through SetExtracted/SetFailed/MarkInProgress rather than direct field
// assignment from outside the owning goroutine.
type Source struct {
	mu sync.Mutex

	ID     string
	Kind   Kind
	Origin string // filename, URL, or deck URL
	status Status
	text   string
	err    error
	Meta   map[string]any
}

// NewSource creates a pending Source.
func NewSource(id string, kind Kind, origin string) *Source {
	return &Source{ID: id, Kind: kind, Origin: origin, status: StatusPending, Meta: map[string]any{}}
}

func (s *Source) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

func (s *Source) Text() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.text
}

func (s *Source) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// MarkInProgress transitions pending -> in_progress. No-op if already past pending.
func (s *Source) MarkInProgress() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status == StatusPending {
		s.status = StatusInProgress
	}
}

// SetExtracted transitions to the terminal extracted state, recording text and metadata.
func (s *Source) SetExtracted(text string, meta map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = StatusExtracted
	s.text = text
	for k, v := range meta {
		s.Meta[k] = v
	}
}

// SetFailed transitions to the terminal failed state, recording the cause.
func (s *Source) SetFailed(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = StatusFailed
	s.err = err
}

// Mode selects the Orchestrator's top-level strategy.
type Mode string

const (
	ModeClassic Mode = "classic"
	ModeDeep    Mode = "deep"
)

// Config carries the enumerated options a ResearchRequest accepts. All other
// options are rejected by ValidateConfig.
type Config struct {
	Model                string
	Breadth              int  // [1,15]
	Depth                int  // [1,8]
	MaxToolCalls         int  // [1,15]
	ExtractEntities      bool
	CrawlLimit           int // [1,50]
	MaxConcurrentSources int
	GlobalDeadline       time.Duration // default 10 minutes; see orchestrator
}

// ValidateConfig enforces the ranges from §3 of the specification.
func ValidateConfig(c Config) error {
	if c.Breadth < 1 || c.Breadth > 15 {
		return NewError(ErrConfigOutOfRange, "", "breadth out of [1,15]")
	}
	if c.Depth < 1 || c.Depth > 8 {
		return NewError(ErrConfigOutOfRange, "", "depth out of [1,8]")
	}
	if c.MaxToolCalls < 1 || c.MaxToolCalls > 15 {
		return NewError(ErrConfigOutOfRange, "", "max_tool_calls out of [1,15]")
	}
	if c.CrawlLimit < 1 || c.CrawlLimit > 50 {
		return NewError(ErrConfigOutOfRange, "", "crawl_limit out of [1,50]")
	}
	return nil
}

// DocumentInput is a raw uploaded document byte-stream.
type DocumentInput struct {
	Name  string
	Bytes []byte
}

// CrawlSpec requests a bounded crawl starting from a URL.
type CrawlSpec struct {
	StartURL string
	MaxPages int
	MaxDepth int
}

// DeckSpec requests extraction of an access-gated slide deck.
type DeckSpec struct {
	URL      string
	Email    string
	Password string
}

// ResearchRequest is the immutable record of inputs to the Orchestrator.
type ResearchRequest struct {
	ID          string
	Query       string
	Mode        Mode
	Documents   []DocumentInput
	URLs        []string
	SitemapRoot string
	Crawl       *CrawlSpec
	Deck        *DeckSpec
	Config      Config
}

// Entity is a normalized extraction produced by the Entity Extractor.
type Entity struct {
	Class       string
	Text        string
	Attributes  map[string]any
	SourceStart int
	SourceEnd   int
	SourceID    string
	Confidence  *float64
}

// Key returns the dedup identity tuple for this entity.
func (e Entity) Key() [5]string {
	return [5]string{e.Class, e.Text, strconv.Itoa(e.SourceStart), strconv.Itoa(e.SourceEnd), e.SourceID}
}

// CorpusChunk is an immutable slice of the aggregate corpus, optionally embedded.
type CorpusChunk struct {
	SourceID   string
	Offset     int
	Text       string
	Embedding  []float32
	TopicHints map[string]struct{}
}

// Citation references a contributing source in the final Report.
type Citation struct {
	ID      string
	Type    Kind
	Title   string
	URL     string
	Preview string
}

// Report is the Orchestrator's terminal output.
type Report struct {
	ID                    string
	Text                  string
	Success               bool
	NeedsClarification    bool
	ClarificationQuestion string
	Citations             []Citation
	SourcesUsed           []*Source
	Entities              []Entity
	RAGAvailable          bool
	Engine                Mode
	LatencyMS             int64
	Error                 string
	FallbackUsed          bool
}
