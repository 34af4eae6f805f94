// Package browserctl implements the narrow browser-capability surface of
// spec §4.2, consumed by the web agent. Grounded on haasonsaas-nexus's
// internal/tools/browser/browser.go + pool.go (Playwright session
// lifecycle, action dispatch by id) but reshaped from a pooled
// multi-session tool into a single-session controller, since a web agent
// owns exactly one browser context for its whole task.
package browserctl

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/playwright-community/playwright-go"

	"github.com/nexuscrew/orchestrator/internal/setofmark"
)

// pageScriptSentinel is the global window property injected to make
// page-script injection idempotent, per spec §4.2.
const pageScriptSentinel = "__nexusPageScriptInjected"

// pageScript mirrors the original's page_script.js role: it walks the DOM,
// assigning a stable data-nexus-id attribute to every interactive element and
// exposing a helper that reads back its bounding rects.
const pageScript = `
(() => {
  if (window.%s) { return; }
  window.%s = true;
  window.__nexusInteractiveSelector =
    'a,button,input,select,textarea,[role="button"],[onclick],[tabindex]';
  let counter = 0;
  window.__nexusAssignIDs = function() {
    const nodes = document.querySelectorAll(window.__nexusInteractiveSelector);
    const out = {};
    nodes.forEach((el) => {
      if (!el.getAttribute('data-nexus-id')) {
        el.setAttribute('data-nexus-id', 'nexus-' + (counter++));
      }
      const id = el.getAttribute('data-nexus-id');
      const rect = el.getBoundingClientRect();
      out[id] = {
        tag: el.tagName.toLowerCase(),
        type: el.getAttribute('type') || '',
        left: rect.left, top: rect.top, right: rect.right, bottom: rect.bottom,
      };
    });
    return out;
  };
})();
`

// Config configures how Controller launches its browser session.
type Config struct {
	Headless       bool
	Executable     string
	ViewportWidth  int
	ViewportHeight int
	Timeout        time.Duration
}

func (c Config) withDefaults() Config {
	if c.ViewportWidth == 0 {
		c.ViewportWidth = 1280
	}
	if c.ViewportHeight == 0 {
		c.ViewportHeight = 960
	}
	if c.Timeout == 0 {
		c.Timeout = 30 * time.Second
	}
	return c
}

// TabInfo mirrors get_tabs_information's element shape.
type TabInfo struct {
	Index        int    `json:"index"`
	Title        string `json:"title"`
	URL          string `json:"url"`
	IsActive     bool   `json:"is_active"`
	IsControlled bool   `json:"is_controlled"`
}

// VisualViewport mirrors get_visual_viewport's shape.
type VisualViewport struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
	PageX  float64 `json:"page_x"`
	PageY  float64 `json:"page_y"`
}

// PageMetadata is the hashable descriptor returned by get_page_metadata and
// embedded in describe_page's metadata_hash.
type PageMetadata struct {
	URL   string `json:"url"`
	Title string `json:"title"`
}

// Controller is the single-session browser capability consumed by the web
// agent. It is not safe for concurrent use across goroutines beyond the one
// perceive-decide-act loop that owns it, matching the teacher's
// one-instance-per-task session model.
type Controller struct {
	mu      sync.Mutex
	cfg     Config
	pw      *playwright.Playwright
	browser playwright.Browser
	bctx    playwright.BrowserContext
	pages   []playwright.Page
	active  int
}

// Launch starts a Chromium session and opens its first tab at about:blank.
func Launch(cfg Config) (*Controller, error) {
	cfg = cfg.withDefaults()

	if err := playwright.Install(&playwright.RunOptions{Verbose: false, Browsers: []string{"chromium"}}); err != nil {
		return nil, fmt.Errorf("installing playwright: %w", err)
	}
	pw, err := playwright.Run()
	if err != nil {
		return nil, fmt.Errorf("starting playwright: %w", err)
	}

	launchOpts := playwright.BrowserTypeLaunchOptions{Headless: playwright.Bool(cfg.Headless)}
	if cfg.Executable != "" {
		launchOpts.ExecutablePath = playwright.String(cfg.Executable)
	}
	browser, err := pw.Chromium.Launch(launchOpts)
	if err != nil {
		pw.Stop()
		return nil, fmt.Errorf("launching chromium: %w", err)
	}

	bctx, err := browser.NewContext(playwright.BrowserNewContextOptions{
		Viewport: &playwright.Size{Width: cfg.ViewportWidth, Height: cfg.ViewportHeight},
	})
	if err != nil {
		browser.Close()
		pw.Stop()
		return nil, fmt.Errorf("creating browser context: %w", err)
	}

	page, err := bctx.NewPage()
	if err != nil {
		bctx.Close()
		browser.Close()
		pw.Stop()
		return nil, fmt.Errorf("opening initial page: %w", err)
	}

	return &Controller{cfg: cfg, pw: pw, browser: browser, bctx: bctx, pages: []playwright.Page{page}, active: 0}, nil
}

// Close tears down the browser session.
func (c *Controller) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.bctx != nil {
		c.bctx.Close()
	}
	if c.browser != nil {
		c.browser.Close()
	}
	if c.pw != nil {
		return c.pw.Stop()
	}
	return nil
}

func (c *Controller) page() playwright.Page {
	return c.pages[c.active]
}

func (c *Controller) ensurePageScript() error {
	script := fmt.Sprintf(pageScript, pageScriptSentinel, pageScriptSentinel)
	_, err := c.page().Evaluate(script)
	return err
}

// --- Navigation ---

// Visit navigates the active tab to url and reports whether navigation
// actually occurred (playwright-go's Goto always navigates unless the URL
// is identical to the current one, mirrored here for the bool contract).
func (c *Controller) Visit(url string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	before := c.page().URL()
	if _, err := c.page().Goto(url, playwright.PageGotoOptions{
		WaitUntil: playwright.WaitUntilStateDomcontentloaded,
		Timeout:   playwright.Float(float64(c.cfg.Timeout.Milliseconds())),
	}); err != nil {
		return false, fmt.Errorf("visiting %s: %w", url, err)
	}
	return before != url, c.ensurePageScript()
}

func (c *Controller) GoBack() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, err := c.page().GoBack()
	return err
}

func (c *Controller) Refresh() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, err := c.page().Reload()
	return err
}

// WaitForPageReady resolves when the document ready-state is complete.
func (c *Controller) WaitForPageReady() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.page().WaitForLoadState(playwright.PageWaitForLoadStateOptions{
		State: playwright.LoadStateLoad,
	})
}

// --- Tabs ---

func (c *Controller) CreateTab(url string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	page, err := c.bctx.NewPage()
	if err != nil {
		return fmt.Errorf("opening new tab: %w", err)
	}
	c.pages = append(c.pages, page)
	c.active = len(c.pages) - 1
	if url != "" {
		if _, err := page.Goto(url); err != nil {
			return fmt.Errorf("navigating new tab: %w", err)
		}
	}
	return c.ensurePageScript()
}

func (c *Controller) SwitchTab(index int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if index < 0 || index >= len(c.pages) {
		return fmt.Errorf("tab index %d out of range [0,%d)", index, len(c.pages))
	}
	c.active = index
	return nil
}

// CloseTab closes the tab at index. Closing switches the active tab to the
// first remaining one; closing the last open tab is an error, per spec §4.2.
func (c *Controller) CloseTab(index int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.pages) <= 1 {
		return fmt.Errorf("cannot close the last remaining tab")
	}
	if index < 0 || index >= len(c.pages) {
		return fmt.Errorf("tab index %d out of range [0,%d)", index, len(c.pages))
	}
	if err := c.pages[index].Close(); err != nil {
		return fmt.Errorf("closing tab %d: %w", index, err)
	}
	c.pages = append(c.pages[:index], c.pages[index+1:]...)
	c.active = 0
	return nil
}

func (c *Controller) TabCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pages)
}

// --- Introspection ---

func (c *Controller) GetURL() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.page().URL()
}

func (c *Controller) GetTitle() (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.page().Title()
}

func (c *Controller) GetTabsInformation() ([]TabInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	infos := make([]TabInfo, 0, len(c.pages))
	for i, p := range c.pages {
		title, err := p.Title()
		if err != nil {
			return nil, fmt.Errorf("reading tab %d title: %w", i, err)
		}
		infos = append(infos, TabInfo{
			Index:        i,
			Title:        title,
			URL:          p.URL(),
			IsActive:     i == c.active,
			IsControlled: true,
		})
	}
	return infos, nil
}

// --- DOM / scroll ---

// GetInteractiveRects returns every interactive element's bounding rects,
// keyed by the stable id the injected page script assigned it.
func (c *Controller) GetInteractiveRects() (map[string]setofmark.InteractiveRegion, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.ensurePageScript(); err != nil {
		return nil, err
	}
	raw, err := c.page().Evaluate("window.__nexusAssignIDs()")
	if err != nil {
		return nil, fmt.Errorf("reading interactive rects: %w", err)
	}
	encoded, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("encoding interactive rects: %w", err)
	}
	var decoded map[string]struct {
		Tag    string  `json:"tag"`
		Type   string  `json:"type"`
		Left   float64 `json:"left"`
		Top    float64 `json:"top"`
		Right  float64 `json:"right"`
		Bottom float64 `json:"bottom"`
	}
	if err := json.Unmarshal(encoded, &decoded); err != nil {
		return nil, fmt.Errorf("decoding interactive rects: %w", err)
	}
	out := make(map[string]setofmark.InteractiveRegion, len(decoded))
	for id, r := range decoded {
		tag := r.Tag
		if tag == "input" && r.Type == "file" {
			tag = "input-type-file"
		}
		out[id] = setofmark.InteractiveRegion{
			TagName: tag,
			Rects:   []setofmark.DOMRect{{Left: r.Left, Top: r.Top, Right: r.Right, Bottom: r.Bottom}},
		}
	}
	return out, nil
}

func (c *Controller) GetVisualViewport() (VisualViewport, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	raw, err := c.page().Evaluate(`({width: window.innerWidth, height: window.innerHeight, page_x: window.scrollX, page_y: window.scrollY})`)
	if err != nil {
		return VisualViewport{}, err
	}
	encoded, err := json.Marshal(raw)
	if err != nil {
		return VisualViewport{}, err
	}
	var v VisualViewport
	if err := json.Unmarshal(encoded, &v); err != nil {
		return VisualViewport{}, err
	}
	return v, nil
}

func (c *Controller) GetVisibleText() (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	text, err := c.page().InnerText("body")
	if err != nil {
		return "", fmt.Errorf("reading visible text: %w", err)
	}
	return strings.TrimSpace(text), nil
}

func (c *Controller) GetFocusedRectID() (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	raw, err := c.page().Evaluate(`document.activeElement && document.activeElement.getAttribute('data-nexus-id')`)
	if err != nil {
		return "", err
	}
	id, _ := raw.(string)
	return id, nil
}

func (c *Controller) GetPageMetadata() (PageMetadata, string, error) {
	c.mu.Lock()
	title, err := c.page().Title()
	url := c.page().URL()
	c.mu.Unlock()
	if err != nil {
		return PageMetadata{}, "", err
	}
	meta := PageMetadata{URL: url, Title: title}
	hash := sha256.Sum256([]byte(meta.URL + "\x00" + meta.Title))
	return meta, hex.EncodeToString(hash[:]), nil
}

func (c *Controller) ScrollMousewheel(dir string, px int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	dy := px
	if dir == "up" {
		dy = -px
	}
	return c.page().Mouse().Wheel(0, float64(dy))
}

func (c *Controller) PageUp() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	height, err := c.innerHeight()
	if err != nil {
		return err
	}
	return c.page().Mouse().Wheel(0, -height)
}

func (c *Controller) PageDown() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	height, err := c.innerHeight()
	if err != nil {
		return err
	}
	return c.page().Mouse().Wheel(0, height)
}

func (c *Controller) innerHeight() (float64, error) {
	raw, err := c.page().Evaluate("window.innerHeight")
	if err != nil {
		return 0, err
	}
	h, _ := raw.(float64)
	return h, nil
}

// ScrollElement scrolls the element with id by px in dir ("up"/"down").
func (c *Controller) ScrollElement(id, dir string, px int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	dy := px
	if dir == "up" {
		dy = -px
	}
	script := fmt.Sprintf(`(() => {
		const el = document.querySelector('[data-nexus-id="%s"]');
		if (el) { el.scrollTop += %d; }
	})()`, id, dy)
	_, err := c.page().Evaluate(script)
	return err
}

// --- Interaction by id ---

func (c *Controller) locator(id string) playwright.Locator {
	return c.page().Locator(fmt.Sprintf(`[data-nexus-id="%s"]`, id))
}

// reannotateIfMissing re-runs the interactive rect scan once if id is not
// currently present, per spec §4.2's "verify the element exists,
// re-annotating the page once if not".
func (c *Controller) reannotateIfMissing(id string) error {
	count, err := c.locator(id).Count()
	if err != nil {
		return err
	}
	if count > 0 {
		return nil
	}
	if _, err := c.page().Evaluate("window.__nexusAssignIDs()"); err != nil {
		return err
	}
	count, err = c.locator(id).Count()
	if err != nil {
		return err
	}
	if count == 0 {
		return fmt.Errorf("element %q not found after re-annotation", id)
	}
	return nil
}

// ClickID clicks the element and reports whether a new tab/window opened.
func (c *Controller) ClickID(id string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.reannotateIfMissing(id); err != nil {
		return false, err
	}
	before := len(c.pages)
	if err := c.locator(id).ScrollIntoViewIfNeeded(); err != nil {
		return false, err
	}
	if err := c.locator(id).Click(); err != nil {
		return false, fmt.Errorf("clicking %q: %w", id, err)
	}
	return len(c.pages) > before, nil
}

// ClickFullPage clicks and then waits for the resulting load to settle.
func (c *Controller) ClickFullPage(id string) error {
	if _, err := c.ClickID(id); err != nil {
		return err
	}
	return c.WaitForPageReady()
}

func (c *Controller) FillID(id, text string, pressEnter, deleteExisting bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.reannotateIfMissing(id); err != nil {
		return err
	}
	loc := c.locator(id)
	if err := loc.ScrollIntoViewIfNeeded(); err != nil {
		return err
	}
	if deleteExisting {
		if err := loc.Fill(""); err != nil {
			return err
		}
	}
	if err := loc.Type(text); err != nil {
		return fmt.Errorf("typing into %q: %w", id, err)
	}
	if pressEnter {
		return loc.Press("Enter")
	}
	return nil
}

// InputText is the toolkit-facing alias matching spec §4.4's tool names.
func (c *Controller) InputText(id, text string) error {
	return c.FillID(id, text, false, true)
}

func (c *Controller) HoverID(id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.reannotateIfMissing(id); err != nil {
		return err
	}
	if err := c.locator(id).ScrollIntoViewIfNeeded(); err != nil {
		return err
	}
	return c.locator(id).Hover()
}

func (c *Controller) SelectOption(id, value string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.reannotateIfMissing(id); err != nil {
		return err
	}
	_, err := c.locator(id).SelectOption(playwright.SelectOptionValues{Values: &[]string{value}})
	return err
}

func (c *Controller) ScrollUp(id string) error { return c.ScrollElement(id, "up", 300) }

func (c *Controller) ScrollDown(id string) error { return c.ScrollElement(id, "down", 300) }

// --- Media ---

func (c *Controller) GetScreenshot(ctx context.Context) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.page().Screenshot(playwright.PageScreenshotOptions{Type: playwright.ScreenshotTypePng})
}

// DescribePage returns a textual description of the current page, an
// optional screenshot, and a metadata hash, per spec §4.2.
func (c *Controller) DescribePage(ctx context.Context, withScreenshot bool) (string, []byte, string, error) {
	title, err := c.GetTitle()
	if err != nil {
		return "", nil, "", err
	}
	url := c.GetURL()
	_, hash, err := c.GetPageMetadata()
	if err != nil {
		return "", nil, "", err
	}
	message := fmt.Sprintf("Currently at %q (%s)", title, url)

	if !withScreenshot {
		return message, nil, hash, nil
	}
	shot, err := c.GetScreenshot(ctx)
	if err != nil {
		return "", nil, "", err
	}
	return message, shot, hash, nil
}
