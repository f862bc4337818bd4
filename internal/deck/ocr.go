package deck

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"strings"

	"github.com/sheeki03/duediligence/internal/source"
)

// ExternalOCR shells out to a tesseract-compatible binary to OCR a slide
// screenshot. No Go OCR engine is carried by the dependency corpus this
// module was built from, so this mirrors the original pipeline's approach of
// wrapping a system OCR binary rather than vendoring a Go OCR library.
type ExternalOCR struct {
	// Binary is the executable name or path, e.g. "tesseract". If empty,
	// NewExternalOCR falls back to the OCR_BINARY environment variable,
	// then to "tesseract".
	Binary string
	Args   []string
}

// NewExternalOCR builds an ExternalOCR using OCR_BINARY if set.
func NewExternalOCR() *ExternalOCR {
	bin := os.Getenv("OCR_BINARY")
	if bin == "" {
		bin = "tesseract"
	}
	return &ExternalOCR{Binary: bin, Args: []string{"stdin", "stdout"}}
}

// Run executes the OCR binary against raw PNG bytes on stdin and returns its
// stdout as extracted text.
func (o *ExternalOCR) Run(ctx context.Context, png []byte) (string, error) {
	cmd := exec.CommandContext(ctx, o.Binary, o.Args...)
	cmd.Stdin = bytes.NewReader(png)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return "", source.WrapError(source.ErrOCRFailedSlide, "", "ocr binary failed: "+strings.TrimSpace(stderr.String()), err)
	}
	return strings.TrimSpace(stdout.String()), nil
}

// AsOCRFunc adapts Run to the OCRFunc signature Extract expects.
func (o *ExternalOCR) AsOCRFunc(ctx context.Context) OCRFunc {
	return func(png []byte) (string, error) {
		return o.Run(ctx, png)
	}
}
