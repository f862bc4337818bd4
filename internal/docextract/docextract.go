// Package docextract implements the Document Extractor (C5): byte-stream to
// UTF-8 text for PDF, DOCX, TXT, and MD inputs.
package docextract

import (
	"bytes"
	"fmt"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/ledongthuc/pdf"
	"github.com/nguyenthenguyen/docx"

	"github.com/sheeki03/duediligence/internal/source"
)

// Result is the §4.5 output shape.
type Result struct {
	Text           string
	ByteCount      int
	ExtractedLength int
}

// Extract dispatches on the filename suffix, per §4.5.
func Extract(name string, data []byte) (Result, error) {
	suffix := strings.ToLower(strings.TrimPrefix(filepath.Ext(name), "."))
	var text string
	var err error
	switch suffix {
	case "pdf":
		text, err = extractPDF(data)
	case "docx":
		text, err = extractDOCX(data)
	case "txt", "md":
		text, err = extractPlainText(data)
	default:
		return Result{}, source.NewError(source.ErrUnsupportedFile, "", "unsupported file suffix: "+suffix)
	}
	if err != nil {
		return Result{}, err
	}
	return Result{Text: text, ByteCount: len(data), ExtractedLength: utf8.RuneCountInString(text)}, nil
}

func extractPDF(data []byte) (string, error) {
	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("pdf: %w", err)
	}
	var sb strings.Builder
	for i := 1; i <= r.NumPage(); i++ {
		page := r.Page(i)
		if page.V.IsNull() {
			continue
		}
		content, err := page.GetPlainText(nil)
		if err != nil {
			continue
		}
		sb.WriteString(content)
		sb.WriteString("\n")
	}
	return sb.String(), nil
}

func extractDOCX(data []byte) (string, error) {
	r := bytes.NewReader(data)
	rc, err := docx.ReadDocxFromMemory(r, int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("docx: %w", err)
	}
	defer rc.Close()
	content := rc.Editable().GetContent()
	return joinParagraphs(content), nil
}

// joinParagraphs normalizes the WordprocessingML-to-text output into
// newline-separated paragraphs, per §4.5 ("concatenate paragraph text
// separated by newlines").
func joinParagraphs(raw string) string {
	raw = strings.ReplaceAll(raw, "</w:p>", "\n")
	var sb strings.Builder
	inTag := false
	for _, r := range raw {
		switch {
		case r == '<':
			inTag = true
		case r == '>':
			inTag = false
		case !inTag:
			sb.WriteRune(r)
		}
	}
	lines := strings.Split(sb.String(), "\n")
	out := make([]string, 0, len(lines))
	for _, l := range lines {
		l = strings.TrimSpace(l)
		if l != "" {
			out = append(out, l)
		}
	}
	return strings.Join(out, "\n")
}

func extractPlainText(data []byte) (string, error) {
	if utf8.Valid(data) {
		return string(data), nil
	}
	return latin1ToUTF8(data), nil
}

func latin1ToUTF8(data []byte) string {
	runes := make([]rune, len(data))
	for i, b := range data {
		runes[i] = rune(b)
	}
	return string(runes)
}
