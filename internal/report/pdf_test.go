package report

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/sheeki03/duediligence/internal/source"
)

func TestWritePDF_WritesNonEmptyFile(t *testing.T) {
	r := source.Report{
		Text: "# Summary\n\nAcme Corp raised a [Series B](https://example.com/news) round.\n",
		Citations: []source.Citation{
			{ID: "https://example.com", Type: source.KindWeb, Title: "Example", URL: "https://example.com"},
		},
		Entities: []source.Entity{
			{Class: "organization", Text: "Acme Corp"},
		},
	}

	outPath := filepath.Join(t.TempDir(), "report.pdf")
	if err := WritePDF(r, outPath); err != nil {
		t.Fatalf("WritePDF failed: %v", err)
	}

	info, err := os.Stat(outPath)
	if err != nil {
		t.Fatalf("expected output file: %v", err)
	}
	if info.Size() == 0 {
		t.Fatalf("expected non-empty PDF")
	}
}

func TestWritePDF_HandlesEmptyReport(t *testing.T) {
	outPath := filepath.Join(t.TempDir(), "empty.pdf")
	if err := WritePDF(source.Report{}, outPath); err != nil {
		t.Fatalf("WritePDF failed on empty report: %v", err)
	}
}
