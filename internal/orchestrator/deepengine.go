package orchestrator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/sheeki03/duediligence/internal/entity"
	"github.com/sheeki03/duediligence/internal/source"
)

func newRequestID() string { return uuid.NewString() }

// DeepEngineClient talks to an external deep-research collaborator: a
// service that accepts a research configuration and either returns a
// finished report, a clarification prompt, or an error. Adapted from the
// generic JSON-over-HTTP search-provider shape, pointed at a different
// endpoint contract.
type DeepEngineClient struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
}

type deepEngineRequest struct {
	Query        string `json:"query"`
	Breadth      int    `json:"breadth"`
	Depth        int    `json:"depth"`
	MaxToolCalls int    `json:"max_tool_calls"`
	Model        string `json:"model"`
}

type deepEngineResponse struct {
	Report                string `json:"report"`
	NeedsClarification    bool   `json:"needs_clarification"`
	ClarificationQuestion string `json:"clarification_question"`
	Error                 string `json:"error"`
}

func (c *DeepEngineClient) Run(ctx context.Context, req deepEngineRequest) (deepEngineResponse, error) {
	if c.BaseURL == "" {
		return deepEngineResponse{}, fmt.Errorf("deep engine base url not configured")
	}
	body, err := json.Marshal(req)
	if err != nil {
		return deepEngineResponse{}, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(c.BaseURL, "/")+"/research", bytes.NewReader(body))
	if err != nil {
		return deepEngineResponse{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.APIKey)
	}

	hc := c.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: 10 * time.Minute}
	}
	resp, err := hc.Do(httpReq)
	if err != nil {
		return deepEngineResponse{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return deepEngineResponse{}, fmt.Errorf("deep engine status: %d", resp.StatusCode)
	}
	var out deepEngineResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return deepEngineResponse{}, err
	}
	return out, nil
}

// pendingDeepRequest persists a request awaiting a clarification response,
// per §4.10 Deep mode step 5.
type pendingDeepRequest struct {
	req            source.ResearchRequest
	entitySummary  string
	referenceText  string
}

// PendingStore is a minimal persistence seam for deep-mode clarification
// round-trips, keyed by report/request ID.
type PendingStore struct {
	byID map[string]pendingDeepRequest
}

func NewPendingStore() *PendingStore {
	return &PendingStore{byID: map[string]pendingDeepRequest{}}
}

func (p *PendingStore) put(id string, pr pendingDeepRequest) { p.byID[id] = pr }
func (p *PendingStore) get(id string) (pendingDeepRequest, bool) {
	pr, ok := p.byID[id]
	return pr, ok
}

func (o *Orchestrator) runDeep(ctx context.Context, req source.ResearchRequest) (source.Report, error) {
	if strings.TrimSpace(req.Query) == "" {
		return source.Report{}, source.NewError(source.ErrDeepRequiresQuery, "", "deep mode requires a non-empty query")
	}
	if o.deps.DeepEngine == nil {
		return o.fallbackToClassic(ctx, req, "")
	}

	deadline := req.Config.GlobalDeadline
	if deadline <= 0 {
		deadline = defaultGlobalDeadline
	}
	runCtx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	results, _ := o.fanOut(runCtx, req)
	sortByIndex(results)

	var entitySummary string
	if req.Config.ExtractEntities && o.deps.EntityExtractor != nil {
		entities := o.extractEntities(runCtx, results)
		entitySummary = entitySummaryOrEmpty(entities)
	}

	sections := buildSections(results)
	reference := assemblePrompt("", sections, nil)

	resp, err := o.deps.DeepEngine.Run(runCtx, deepEngineRequest{
		Query:        buildDeepInputText(req.Query, reference, entitySummary),
		Breadth:      req.Config.Breadth,
		Depth:        req.Config.Depth,
		MaxToolCalls: req.Config.MaxToolCalls,
		Model:        req.Config.Model,
	})
	if err != nil {
		return o.fallbackToClassic(ctx, req, err.Error())
	}

	if resp.NeedsClarification {
		reportID := req.ID
		if reportID == "" {
			reportID = newRequestID()
		}
		if o.deps.Pending != nil {
			o.deps.Pending.put(reportID, pendingDeepRequest{req: req, entitySummary: entitySummary, referenceText: reference})
		}
		return source.Report{
			ID:                    reportID,
			Success:               false,
			NeedsClarification:    true,
			ClarificationQuestion: resp.ClarificationQuestion,
			Engine:                source.ModeDeep,
		}, nil
	}

	if resp.Error != "" {
		return o.fallbackToClassic(ctx, req, resp.Error)
	}

	reportID := req.ID
	if reportID == "" {
		reportID = newRequestID()
	}
	ragSections := toRAGSections(sections)
	ragSections["Report"] = resp.Report
	o.store.put(reportID, nil, ragSections)

	return source.Report{
		ID:        reportID,
		Success:   true,
		Text:      resp.Report,
		Citations: buildCitations(results),
		Engine:    source.ModeDeep,
	}, nil
}

// Continue implements §4.10 Deep mode step 5: concatenate the clarification
// response into an enhanced query, re-attach the already-extracted entity
// summary so the engine does not re-extract, and re-invoke the engine.
func (o *Orchestrator) Continue(ctx context.Context, reportID, clarificationResponse string) (source.Report, error) {
	if o.deps.Pending == nil {
		return source.Report{}, source.NewError(source.ErrOrchestrationNoPending, "", "no pending deep-mode request store configured")
	}
	pr, ok := o.deps.Pending.get(reportID)
	if !ok {
		return source.Report{}, source.NewError(source.ErrOrchestrationNoPending, "", "no pending request for id "+reportID)
	}

	enhancedQuery := pr.req.Query + "\n\nAdditional guidance: " + clarificationResponse
	resp, err := o.deps.DeepEngine.Run(ctx, deepEngineRequest{
		Query:        buildDeepInputText(enhancedQuery, pr.referenceText, pr.entitySummary),
		Breadth:      pr.req.Config.Breadth,
		Depth:        pr.req.Config.Depth,
		MaxToolCalls: pr.req.Config.MaxToolCalls,
		Model:        pr.req.Config.Model,
	})
	if err != nil {
		return o.fallbackToClassic(ctx, pr.req, err.Error())
	}
	if resp.NeedsClarification {
		return source.Report{
			ID:                    reportID,
			Success:               false,
			NeedsClarification:    true,
			ClarificationQuestion: resp.ClarificationQuestion,
			Engine:                source.ModeDeep,
		}, nil
	}
	return source.Report{ID: reportID, Success: true, Text: resp.Report, Engine: source.ModeDeep}, nil
}

func (o *Orchestrator) fallbackToClassic(ctx context.Context, req source.ResearchRequest, reason string) (source.Report, error) {
	classicReq := req
	classicReq.Mode = source.ModeClassic
	rep, err := o.runClassic(ctx, classicReq)
	if err != nil {
		return rep, err
	}
	rep.FallbackUsed = true
	if reason != "" {
		rep.Error = reason
	}
	return rep, nil
}

func buildDeepInputText(query, reference, entitySummary string) string {
	var sb strings.Builder
	sb.WriteString(query)
	sb.WriteString("\n\nResearch requirements: provide comprehensive coverage with inline citations and a length appropriate to the topic's depth.\n\n")
	if reference != "" {
		sb.WriteString(reference)
		sb.WriteString("\n\n")
	}
	if entitySummary != "" {
		sb.WriteString("## Known Entities\n")
		sb.WriteString(entitySummary)
	}
	return sb.String()
}

func entitySummaryOrEmpty(entities []source.Entity) string {
	if len(entities) == 0 {
		return ""
	}
	return entity.RenderSummary(entities, entity.SummaryOptions{})
}
