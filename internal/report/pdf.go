// Package report renders a source.Report as a PDF, for callers that want a
// shareable artifact alongside the JSON result.
package report

import (
	"bufio"
	"fmt"
	"regexp"
	"strings"

	"github.com/jung-kurt/gofpdf"

	"github.com/sheeki03/duediligence/internal/source"
)

var linkRe = regexp.MustCompile(`\[([^\]]+)\]\(([^)]+)\)`) // [text](url)

// WritePDF renders a Report's narrative text, citations and entities to a
// simple single-column PDF at outPath. Layout is intentionally minimal: it
// preserves paragraphs and headings and turns Markdown links into clickable
// PDF links, without attempting full Markdown layout.
func WritePDF(r source.Report, outPath string) error {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetFont("Helvetica", "", 11)
	pdf.AddPage()

	pdf.SetFont("Helvetica", "B", 16)
	pdf.CellFormat(0, 10, "Due Diligence Report", "", 1, "L", false, 0, "")
	pdf.SetFont("Helvetica", "", 11)
	pdf.Ln(4)

	writeMarkdownBody(pdf, r.Text)

	if len(r.Citations) > 0 {
		pdf.Ln(4)
		pdf.SetFont("Helvetica", "B", 13)
		pdf.CellFormat(0, 8, "Sources", "", 1, "L", false, 0, "")
		pdf.SetFont("Helvetica", "", 10)
		for _, c := range r.Citations {
			label := fmt.Sprintf("[%s] %s", c.Type, c.Title)
			if c.URL != "" {
				pdf.WriteLinkString(5, label, c.URL)
			} else {
				pdf.Write(5, label)
			}
			pdf.Ln(6)
		}
	}

	if len(r.Entities) > 0 {
		pdf.Ln(4)
		pdf.SetFont("Helvetica", "B", 13)
		pdf.CellFormat(0, 8, "Entities", "", 1, "L", false, 0, "")
		pdf.SetFont("Helvetica", "", 10)
		for _, e := range r.Entities {
			pdf.MultiCell(0, 5, fmt.Sprintf("%s: %s", e.Class, e.Text), "", "L", false)
		}
	}

	return pdf.OutputFileAndClose(outPath)
}

func writeMarkdownBody(pdf *gofpdf.Fpdf, markdown string) {
	scanner := bufio.NewScanner(strings.NewReader(markdown))
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		s := strings.TrimSpace(line)
		if s == "" {
			pdf.Ln(5)
			continue
		}
		if strings.HasPrefix(s, "#") {
			i := 0
			for i < len(s) && s[i] == '#' {
				i++
			}
			text := strings.TrimSpace(s[i:])
			if text == "" {
				continue
			}
			size := 14.0
			if i >= 2 {
				size = 12.0
			}
			pdf.SetFont("Helvetica", "B", size)
			pdf.CellFormat(0, 8, text, "", 1, "L", false, 0, "")
			pdf.SetFont("Helvetica", "", 11)
			continue
		}

		parts := linkRe.FindAllStringSubmatchIndex(s, -1)
		if len(parts) == 0 {
			pdf.MultiCell(0, 5, s, "", "L", false)
			continue
		}
		pos := 0
		for _, m := range parts {
			if m[0] > pos {
				pdf.Write(5, s[pos:m[0]])
			}
			text := s[m[2]:m[3]]
			url := s[m[4]:m[5]]
			if strings.HasPrefix(url, "#") {
				pdf.Write(5, text)
			} else {
				pdf.WriteLinkString(5, text, url)
			}
			pos = m[1]
		}
		if pos < len(s) {
			pdf.Write(5, s[pos:])
		}
		pdf.Ln(6)
	}
}
