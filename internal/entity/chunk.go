// Package entity implements the Entity Extractor (C6): chunking with
// overlap, LLM-based extraction, normalization/dedup, and bounded summary
// rendering.
package entity

import "strings"

// Chunk is one slice of source text carrying its absolute offsets.
type Chunk struct {
	Text  string
	Start int
	End   int
}

// Split slices text into chunks of target size maxChunkSize with 200-char
// overlap (clamped to min(200, chunkSize-1)), preferring to cut at the last
// paragraph break within the final 10% of a window, per §4.6.
func Split(text string, maxChunkSize int) []Chunk {
	if maxChunkSize <= 0 {
		maxChunkSize = 4000
	}
	overlap := 200
	if overlap > maxChunkSize-1 {
		overlap = maxChunkSize - 1
	}
	if overlap < 0 {
		overlap = 0
	}

	n := len(text)
	if n == 0 {
		return nil
	}

	var chunks []Chunk
	start := 0
	for start < n {
		end := start + maxChunkSize
		if end >= n {
			end = n
		} else {
			end = preferParagraphBreak(text, start, end)
		}
		chunks = append(chunks, Chunk{Text: text[start:end], Start: start, End: end})
		if end >= n {
			break
		}
		next := end - overlap
		if next <= start {
			next = end
		}
		start = next
	}
	return chunks
}

// preferParagraphBreak looks for the last "\n\n" within the final 10% of the
// [start,end) window and cuts there instead, if found.
func preferParagraphBreak(text string, start, end int) int {
	windowStart := end - (end-start)/10
	if windowStart < start {
		windowStart = start
	}
	segment := text[windowStart:end]
	if idx := strings.LastIndex(segment, "\n\n"); idx >= 0 {
		cut := windowStart + idx + 2
		if cut > start {
			return cut
		}
	}
	return end
}
