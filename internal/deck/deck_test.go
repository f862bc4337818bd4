package deck

import (
	"context"
	"testing"

	"github.com/sheeki03/duediligence/internal/source"
)

func TestProgress_SnapshotReflectsLastSet(t *testing.T) {
	var p Progress
	p.set(10, "load")
	p.set(42, "iterate")
	pct, status := p.Snapshot()
	if pct != 42 || status != "iterate" {
		t.Fatalf("expected (42, iterate), got (%d, %s)", pct, status)
	}
}

func TestClassifyAccessDenied_RecognizesKnownTokens(t *testing.T) {
	cases := map[string]string{
		"<p>Your request is pending approval</p>":      source.SubApproval,
		"<p>Please verify your email</p>":               source.SubVerification,
		"<p>That password is incorrect password</p>":    source.SubWrongPass,
		"<p>invalid email address supplied</p>":         source.SubInvalidEmail,
		"<p>This document is restricted</p>":             source.SubRestricted,
		"<p>This link is private</p>":                    source.SubPrivate,
	}
	for html, want := range cases {
		sub, ok := classifyAccessDenied(html)
		if !ok {
			t.Fatalf("expected a match for %q", html)
		}
		if sub != want {
			t.Fatalf("html=%q: expected sub=%s got %s", html, want, sub)
		}
	}
}

func TestClassifyAccessDenied_NoMatch(t *testing.T) {
	if _, ok := classifyAccessDenied("<p>Welcome to the deck</p>"); ok {
		t.Fatalf("expected no classification for benign html")
	}
}

func TestTotalSlidesRegexp_MatchesOfAndSlashForms(t *testing.T) {
	if m := totalSlidesRe.FindStringSubmatch("Slide 3 of 12"); m == nil || m[2] != "12" {
		t.Fatalf("expected total=12, got %v", m)
	}
	if m := totalSlidesRe.FindStringSubmatch("2 / 7"); m == nil || m[2] != "7" {
		t.Fatalf("expected total=7, got %v", m)
	}
}

func TestLocateBrowser_NoPanicOnMissingCandidates(t *testing.T) {
	// On a bare CI box none of the well-known paths exist; locateBrowser
	// must degrade to (\"\", false) rather than panicking, deferring to the
	// launcher's own auto-detection.
	if _, ok := locateBrowser(); ok {
		return // a real browser happens to be installed; that's fine too.
	}
}

func TestExtract_RejectsNonDeckURL(t *testing.T) {
	e := &Extractor{OCR: func(png []byte) (string, error) { return "", nil }}
	_, err := e.Extract(context.Background(), "https://example.com/about", "a@b.com", "")
	if err == nil {
		t.Fatalf("expected rejection of a non-deck URL")
	}
	kind, ok := source.KindOf(err)
	if !ok || kind != source.ErrInvalidDeckURL {
		t.Fatalf("expected ErrInvalidDeckURL, got %v", err)
	}
}
