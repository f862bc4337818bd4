package sitemap

import (
	"bytes"
	"compress/flate"
	"compress/gzip"
	"io"
	"unicode/utf8"

	"github.com/andybalholm/brotli"

	"github.com/sheeki03/duediligence/internal/source"
)

// decodeBody implements step 4 of §4.2: if the body does not already look
// like XML, try gzip, then brotli, then raw deflate, then deflate with a raw
// (negative) window, in that order. The first decoding that yields valid
// UTF-8 starting with an XML marker is accepted.
func decodeBody(body []byte) ([]byte, error) {
	if looksLikeXML(body) {
		return body, nil
	}
	if !hasBinaryBytes(body) {
		return nil, source.NewError(source.ErrInvalidResponseShape, "", "sitemap body is not XML and not binary")
	}

	if out, ok := tryGzip(body); ok {
		return out, nil
	}
	if out, ok := tryBrotli(body); ok {
		return out, nil
	}
	if out, ok := tryDeflate(body, false); ok {
		return out, nil
	}
	if out, ok := tryDeflate(body, true); ok {
		return out, nil
	}
	return nil, source.NewError(source.ErrInvalidResponseShape, "", "sitemap body could not be decompressed by any known scheme")
}

func hasBinaryBytes(b []byte) bool {
	for _, c := range b {
		if c == 0 || (c < 0x09 && c != 0x0A && c != 0x0D) {
			return true
		}
	}
	// gzip and brotli streams commonly start with non-ASCII control bytes too.
	if len(b) >= 2 && b[0] == 0x1f && b[1] == 0x8b {
		return true
	}
	return len(b) > 0 && !utf8.Valid(b[:min(len(b), 256)])
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func acceptIfValidXML(out []byte) ([]byte, bool) {
	if utf8.Valid(out) && looksLikeXML(out) {
		return out, true
	}
	return nil, false
}

func tryGzip(body []byte) ([]byte, bool) {
	r, err := gzip.NewReader(bytes.NewReader(body))
	if err != nil {
		return nil, false
	}
	defer r.Close()
	out, err := io.ReadAll(io.LimitReader(r, 64<<20))
	if err != nil {
		return nil, false
	}
	return acceptIfValidXML(out)
}

func tryBrotli(body []byte) ([]byte, bool) {
	r := brotli.NewReader(bytes.NewReader(body))
	out, err := io.ReadAll(io.LimitReader(r, 64<<20))
	if err != nil {
		return nil, false
	}
	return acceptIfValidXML(out)
}

// tryDeflate decodes raw DEFLATE (rawWindow=false, the common "raw deflate"
// case already has no zlib header in Go's flate package) versus a
// zlib-wrapped stream reinterpreted with a negative/raw window, matching the
// two deflate variants named in §4.2 ("raw deflate -> deflate with raw-window").
func tryDeflate(body []byte, rawWindow bool) ([]byte, bool) {
	input := body
	if rawWindow && len(input) > 2 {
		// Skip a would-be zlib 2-byte header to force raw-window interpretation.
		input = input[2:]
	}
	r := flate.NewReader(bytes.NewReader(input))
	defer r.Close()
	out, err := io.ReadAll(io.LimitReader(r, 64<<20))
	if err != nil {
		return nil, false
	}
	return acceptIfValidXML(out)
}
