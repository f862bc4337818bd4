// Package deck implements the Deck Extractor (C4): a headless-browser state
// machine that authenticates against an access-gated slide deck, navigates
// slide-by-slide, screenshots each slide, and OCRs it.
package deck

import (
	"context"
	"math/rand"
	"os"
	"regexp"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/input"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"

	"github.com/sheeki03/duediligence/internal/source"
)

// Progress is the thread-safe producer/consumer protocol from §4.4/§9: the
// worker writes (percentage, status) under a mutex; a coordinating goroutine
// polls Snapshot() to render, and MUST NOT be called from the worker itself.
type Progress struct {
	mu         sync.Mutex
	percentage int
	status     string
}

func (p *Progress) set(pct int, status string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.percentage = pct
	p.status = status
}

// Snapshot returns the current (percentage, status) pair.
func (p *Progress) Snapshot() (int, string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.percentage, p.status
}

// SlideRecord is one emitted slide's OCR result.
type SlideRecord struct {
	SlideNumber int
	Text        string
	Length      int
}

// Result is the §4.4 output shape.
type Result struct {
	Text            string
	SlideTexts      []SlideRecord
	TotalSlides     int
	ProcessedSlides int
	SlidesWithText  int
	TotalCharacters int
	ProcessingTime  time.Duration
	URL             string
}

// OCRFunc performs OCR on a PNG screenshot and returns extracted text.
type OCRFunc func(png []byte) (string, error)

// Extractor drives the state machine.
type Extractor struct {
	OCR              OCRFunc
	AlternateBrowser string // "firefox" or "edge"; empty means chromium-only
	Progress         *Progress
}

var emailSelectors = []string{
	`input[name='link_auth_form[email]']`,
	`#link_auth_form_email`,
	`input[type='email']`,
	`input[name*='email']`,
}

var passwordSelectors = []string{
	`input[name='link_auth_form[passcode]']`,
	`#link_auth_form_passcode`,
	`input[type='password']`,
}

var submitSelectors = []string{
	`input[value='Continue']`,
	`button[value='Submit']`,
	`input[value='commit']`,
}

var nextSelectors = []string{
	`[aria-label*='next' i]`,
	`[class*='next' i]`,
	`[class*='forward' i]`,
	`[data-action*='next' i]`,
}

var totalSlidesRe = regexp.MustCompile(`(\d+)\s*(?:of|/)\s*(\d+)`)

// Extract implements extract(deck_url, email, password?) per the full §4.4
// state machine: LOAD -> FORM -> WAIT_AFTER_FORM -> PASSWORD -> CONTENT ->
// ITERATE -> DONE.
func (e *Extractor) Extract(ctx context.Context, deckURL, email, password string) (Result, error) {
	if !strings.Contains(deckURL, "docsend.com") && !strings.Contains(strings.ToLower(deckURL), "deck") {
		return Result{}, source.NewError(source.ErrInvalidDeckURL, "", "deck url does not look like a gated deck: "+deckURL)
	}

	start := time.Now()
	browser, page, err := e.acquireBrowser(ctx, deckURL)
	if err != nil {
		return Result{}, source.WrapError(source.ErrBrowserInitFailed, "", "failed to initialize headless browser", err)
	}
	// Scoped acquisition: the browser MUST be torn down on every exit path.
	defer browser.Close()

	e.progress(10, "load")
	sleepHuman(ctx, 2500*time.Millisecond, 4000*time.Millisecond)

	combined, err := e.doForm(ctx, page, email, password)
	if err != nil {
		return Result{}, err
	}

	sleepHuman(ctx, 3*time.Second, 5*time.Second)
	e.progress(18, "password")

	if !combined {
		if err := e.doPasswordState(ctx, page, password); err != nil {
			return Result{}, err
		}
	}

	e.progress(30, "content")
	mainImgSel, err := e.waitForContent(ctx, page)
	if err != nil {
		return Result{}, err
	}

	total := e.detectTotalSlides(page)
	res := Result{URL: deckURL, TotalSlides: total}

	var texts []string
	for i := 0; i < total; i++ {
		select {
		case <-ctx.Done():
			res.ProcessingTime = time.Since(start)
			return res, source.NewError(source.ErrCancelled, "", "deck extraction cancelled")
		default:
		}

		if i > 0 {
			if !e.navigateNext(page) {
				break
			}
			sleepHuman(ctx, time.Second, 2*time.Second)
		}

		png, err := e.screenshotMain(page, mainImgSel)
		if err != nil {
			res.ProcessedSlides = i
			continue
		}
		text, err := e.OCR(png)
		if err != nil {
			res.ProcessedSlides = i + 1
			continue
		}
		texts = append(texts, text)
		res.SlideTexts = append(res.SlideTexts, SlideRecord{SlideNumber: i + 1, Text: text, Length: len(text)})
		res.ProcessedSlides = i + 1
		if strings.TrimSpace(text) != "" {
			res.SlidesWithText++
		}
		e.progress(40+int(float64(i+1)/float64(total)*50), "iterate")
		sleepHuman(ctx, 500*time.Millisecond, time.Second)
	}

	if res.ProcessedSlides == 0 {
		return res, source.NewError(source.ErrNoSlidesFound, "", "no slides were processed")
	}

	res.Text = strings.Join(texts, " ")
	res.TotalCharacters = len(res.Text)
	res.ProcessingTime = time.Since(start)
	e.progress(95, "finalizing")
	e.progress(100, "done")
	return res, nil
}

func (e *Extractor) progress(pct int, status string) {
	if e.Progress != nil {
		e.Progress.set(pct, status)
	}
}

func sleepHuman(ctx context.Context, min, max time.Duration) {
	d := min
	if max > min {
		d = min + time.Duration(rand.Int63n(int64(max-min)))
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// chromiumCandidates are common installation paths probed per-OS before
// falling back to the launcher's own bundled/auto-detected binary, mirroring
// the original implementation's multi-path browser discovery.
var chromiumCandidates = map[string][]string{
	"linux": {
		"/usr/bin/google-chrome", "/usr/bin/chromium-browser", "/usr/bin/chromium",
		"/snap/bin/chromium",
	},
	"darwin": {
		"/Applications/Google Chrome.app/Contents/MacOS/Google Chrome",
		"/Applications/Chromium.app/Contents/MacOS/Chromium",
	},
	"windows": {
		`C:\Program Files\Google\Chrome\Application\chrome.exe`,
		`C:\Program Files (x86)\Google\Chrome\Application\chrome.exe`,
	},
}

func locateBrowser() (string, bool) {
	for _, path := range chromiumCandidates[runtime.GOOS] {
		if _, err := os.Stat(path); err == nil {
			return path, true
		}
	}
	return "", false
}

// acquireBrowser launches a stealth headless Chromium, locating the
// executable via locateBrowser and otherwise deferring to the launcher's
// own auto-detection/download.
func (e *Extractor) acquireBrowser(ctx context.Context, deckURL string) (*rod.Browser, *rod.Page, error) {
	l := launcher.New().Headless(true).Set("disable-blink-features", "AutomationControlled")
	if path, ok := locateBrowser(); ok {
		l = l.Bin(path)
	}
	u, err := l.Launch()
	if err != nil {
		return nil, nil, err
	}
	browser := rod.New().ControlURL(u).Context(ctx)
	if err := browser.Connect(); err != nil {
		return nil, nil, err
	}
	page, err := browser.Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		browser.Close()
		return nil, nil, err
	}
	if _, err := page.EvalOnNewDocument(stealthJS); err != nil {
		browser.Close()
		return nil, nil, err
	}
	if err := page.Navigate(deckURL); err != nil {
		browser.Close()
		return nil, nil, err
	}
	_ = page.WaitLoad()
	return browser, page, nil
}

// stealthJS overrides automation-detectable navigator/screen properties on
// every page load, matching the original Selenium stealth profile.
const stealthJS = `
Object.defineProperty(navigator, 'webdriver', {get: () => undefined});
Object.defineProperty(navigator, 'languages', {get: () => ['en-US', 'en']});
Object.defineProperty(navigator, 'plugins', {get: () => [1, 2, 3]});
const originalQuery = window.navigator.permissions.query;
window.navigator.permissions.query = (parameters) => (
  parameters.name === 'notifications' ?
    Promise.resolve({ state: Notification.permission }) :
    originalQuery(parameters)
);
Object.defineProperty(screen, 'availWidth', {get: () => 1920});
Object.defineProperty(screen, 'availHeight', {get: () => 1080});
`

func firstVisible(page *rod.Page, selectors []string) (*rod.Element, bool) {
	for _, sel := range selectors {
		el, err := page.Timeout(500 * time.Millisecond).Element(sel)
		if err != nil || el == nil {
			continue
		}
		visible, _ := el.Visible()
		if visible {
			return el, true
		}
	}
	return nil, false
}

func typeJittered(ctx context.Context, el *rod.Element, text string) {
	for _, ch := range text {
		_ = el.Input(string(ch))
		d := 50*time.Millisecond + time.Duration(rand.Int63n(int64(100*time.Millisecond)))
		t := time.NewTimer(d)
		select {
		case <-ctx.Done():
			t.Stop()
			return
		case <-t.C:
		}
	}
}

// doForm implements the FORM state: locate email/password fields, type with
// jitter, submit. Returns combined=true if a password field was handled here.
func (e *Extractor) doForm(ctx context.Context, page *rod.Page, email, password string) (bool, error) {
	emailEl, ok := firstVisible(page, emailSelectors)
	if !ok {
		// No form present; nothing to submit (some decks are ungated).
		return false, nil
	}
	typeJittered(ctx, emailEl, email)

	combined := false
	if passEl, ok := firstVisible(page, passwordSelectors); ok && password != "" {
		typeJittered(ctx, passEl, password)
		combined = true
	}

	if submitEl, ok := firstVisible(page, submitSelectors); ok {
		_ = submitEl.Click(proto.InputMouseButtonLeft, 1)
	} else if btn, ok := firstClickableWithText(page, []string{"continue", "submit", "access", "view"}); ok {
		_ = btn.Click(proto.InputMouseButtonLeft, 1)
	}
	return combined, nil
}

func firstClickableWithText(page *rod.Page, keywords []string) (*rod.Element, bool) {
	els, err := page.Elements("button, input[type=submit], a")
	if err != nil {
		return nil, false
	}
	for _, el := range els {
		text, _ := el.Text()
		low := strings.ToLower(text)
		for _, kw := range keywords {
			if strings.Contains(low, kw) {
				visible, _ := el.Visible()
				if visible {
					return el, true
				}
			}
		}
	}
	return nil, false
}

// doPasswordState implements the PASSWORD state for the non-combined flow.
func (e *Extractor) doPasswordState(ctx context.Context, page *rod.Page, password string) error {
	passEl, err := page.Timeout(8 * time.Second).Element(`input[type=password]`)
	if err != nil || passEl == nil {
		return nil // absent; proceed to CONTENT per §4.4
	}
	if password == "" {
		return source.NewError(source.ErrPasswordRequired, "", "password required but not supplied")
	}
	typeJittered(ctx, passEl, password)
	if submitEl, ok := firstVisible(page, submitSelectors); ok {
		_ = submitEl.Click(proto.InputMouseButtonLeft, 1)
	}
	sleepHuman(ctx, 3*time.Second, 5*time.Second)
	return nil
}

var accessDeniedTokens = map[string]string{
	"approval":          source.SubApproval,
	"pending":           source.SubApproval,
	"verify":            source.SubVerification,
	"verification":      source.SubVerification,
	"incorrect password": source.SubWrongPass,
	"invalid email":      source.SubInvalidEmail,
	"restricted":         source.SubRestricted,
	"private":            source.SubPrivate,
}

// waitForContent implements the CONTENT state's image-detection heuristics.
func (e *Extractor) waitForContent(ctx context.Context, page *rod.Page) (string, error) {
	_, err := page.Timeout(15 * time.Second).Element("img")
	if err != nil {
		html, _ := page.HTML()
		if sub, ok := classifyAccessDenied(html); ok {
			return "", source.NewError(source.ErrAccessDenied, sub, "access denied while waiting for deck content")
		}
		return "", source.NewError(source.ErrAccessDenied, source.SubUnknown, "no slide image found and no diagnostic token matched")
	}
	return "img", nil
}

func classifyAccessDenied(html string) (string, bool) {
	low := strings.ToLower(html)
	for token, sub := range accessDeniedTokens {
		if strings.Contains(low, token) {
			return sub, true
		}
	}
	return "", false
}

func (e *Extractor) detectTotalSlides(page *rod.Page) int {
	html, err := page.HTML()
	if err != nil {
		return 1
	}
	m := totalSlidesRe.FindStringSubmatch(html)
	if m == nil {
		return 1
	}
	n, err := strconv.Atoi(m[2])
	if err != nil || n <= 0 {
		return 1
	}
	return n
}

func (e *Extractor) navigateNext(page *rod.Page) bool {
	if el, ok := firstVisible(page, nextSelectors); ok {
		_ = el.Click(proto.InputMouseButtonLeft, 1)
		return true
	}
	return sendArrowRight(page)
}

func (e *Extractor) screenshotMain(page *rod.Page, selector string) ([]byte, error) {
	el, err := page.Element(selector)
	if err != nil {
		return nil, err
	}
	return el.Screenshot(proto.PageCaptureScreenshotFormatPng, 90)
}

// sendArrowRight is the fallback slide-advance mechanism when no clickable
// "next" control is found: send the same key most deck viewers bind to
// advance.
func sendArrowRight(page *rod.Page) bool {
	if err := page.Keyboard.Press(input.ArrowRight); err != nil {
		return false
	}
	return true
}
