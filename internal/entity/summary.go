package entity

import (
	"fmt"
	"sort"
	"strings"

	"github.com/sheeki03/duediligence/internal/source"
)

const (
	maxEntitiesPerClass = 5
	maxSourceNames      = 10
	maxSummaryChars     = 2000
	truncationMarker    = "[truncated]"
)

// SummaryOptions bounds the rendering in RenderSummary.
type SummaryOptions struct {
	MinConfidence *float64
	SourceNames   map[string]string // source_id -> display name
}

// RenderSummary groups entities by class, limits 5 per class and 10 source
// names (top-N by count), applies an optional confidence floor, and caps the
// total output at 2000 characters with an explicit truncation marker, per
// §4.6's "Summary rendering".
func RenderSummary(entities []source.Entity, opts SummaryOptions) string {
	filtered := entities
	if opts.MinConfidence != nil {
		filtered = make([]source.Entity, 0, len(entities))
		for _, e := range entities {
			if e.Confidence == nil || *e.Confidence >= *opts.MinConfidence {
				filtered = append(filtered, e)
			}
		}
	}

	byClass := map[string][]source.Entity{}
	for _, e := range filtered {
		byClass[e.Class] = append(byClass[e.Class], e)
	}

	classes := make([]string, 0, len(byClass))
	for c := range byClass {
		classes = append(classes, c)
	}
	sort.Strings(classes)

	sourceCounts := map[string]int{}
	for _, e := range filtered {
		sourceCounts[e.SourceID]++
	}
	topSources := topNSources(sourceCounts, maxSourceNames)

	var sb strings.Builder
	for _, class := range classes {
		items := byClass[class]
		sort.Slice(items, func(i, j int) bool { return items[i].Text < items[j].Text })
		if len(items) > maxEntitiesPerClass {
			items = items[:maxEntitiesPerClass]
		}
		sb.WriteString(class)
		sb.WriteString(": ")
		parts := make([]string, 0, len(items))
		for _, e := range items {
			parts = append(parts, e.Text)
		}
		sb.WriteString(strings.Join(parts, ", "))
		sb.WriteString("\n")
	}

	if len(topSources) > 0 {
		names := make([]string, 0, len(topSources))
		for _, id := range topSources {
			if opts.SourceNames != nil {
				if n, ok := opts.SourceNames[id]; ok {
					names = append(names, n)
					continue
				}
			}
			names = append(names, id)
		}
		sb.WriteString(fmt.Sprintf("sources: %s\n", strings.Join(names, ", ")))
	}

	out := sb.String()
	if len(out) > maxSummaryChars {
		cut := maxSummaryChars - len(truncationMarker)
		if cut < 0 {
			cut = 0
		}
		out = out[:cut] + truncationMarker
	}
	return out
}

func topNSources(counts map[string]int, n int) []string {
	type kv struct {
		id    string
		count int
	}
	kvs := make([]kv, 0, len(counts))
	for id, c := range counts {
		kvs = append(kvs, kv{id, c})
	}
	sort.Slice(kvs, func(i, j int) bool {
		if kvs[i].count != kvs[j].count {
			return kvs[i].count > kvs[j].count
		}
		return kvs[i].id < kvs[j].id
	})
	if len(kvs) > n {
		kvs = kvs[:n]
	}
	out := make([]string, 0, len(kvs))
	for _, k := range kvs {
		out = append(out, k.id)
	}
	return out
}
