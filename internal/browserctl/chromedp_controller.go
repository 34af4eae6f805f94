package browserctl

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/dom"
	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/chromedp"

	"github.com/nexuscrew/orchestrator/internal/setofmark"
)

// ChromeDPController is the chromedp-backed alternate to Controller,
// selected when BrowserConfig.Driver is "chromedp". It exposes the same
// method surface as Controller so webagent's driver adapter can wrap
// either one behind BrowserDriver; the element-id annotation convention
// (data-nexus-id, __nexusAssignIDs) is shared with Controller via the
// package-level pageScript.
type ChromeDPController struct {
	mu          sync.Mutex
	cfg         Config
	allocCtx    context.Context
	allocCancel context.CancelFunc
	browserCtx  context.Context
	tabs        []chromeTab
	active      int
}

type chromeTab struct {
	ctx    context.Context
	cancel context.CancelFunc
}

// LaunchChromeDP starts a headless (or headful) Chrome session via chromedp
// and opens its first tab.
func LaunchChromeDP(cfg Config) (*ChromeDPController, error) {
	cfg = cfg.withDefaults()

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", cfg.Headless),
		chromedp.WindowSize(cfg.ViewportWidth, cfg.ViewportHeight),
	)
	if cfg.Executable != "" {
		opts = append(opts, chromedp.ExecPath(cfg.Executable))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)
	if err := chromedp.Run(browserCtx); err != nil {
		browserCancel()
		allocCancel()
		return nil, fmt.Errorf("starting chromedp: %w", err)
	}

	c := &ChromeDPController{
		cfg:         cfg,
		allocCtx:    allocCtx,
		allocCancel: allocCancel,
		browserCtx:  browserCtx,
		tabs:        []chromeTab{{ctx: browserCtx, cancel: browserCancel}},
	}
	if err := c.ensurePageScript(); err != nil {
		c.Close()
		return nil, err
	}
	return c, nil
}

// Close tears down every tab and the browser process.
func (c *ChromeDPController) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, t := range c.tabs {
		t.cancel()
	}
	c.allocCancel()
	return nil
}

func (c *ChromeDPController) tab() context.Context {
	return c.tabs[c.active].ctx
}

func (c *ChromeDPController) ensurePageScript() error {
	script := fmt.Sprintf(pageScript, pageScriptSentinel, pageScriptSentinel)
	return chromedp.Run(c.tab(), chromedp.Evaluate(script, nil))
}

// --- Navigation ---

func (c *ChromeDPController) Visit(url string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ctx, cancel := context.WithTimeout(c.tab(), c.cfg.Timeout)
	defer cancel()

	var before string
	if err := chromedp.Run(ctx, chromedp.Location(&before)); err != nil {
		return false, err
	}
	if err := chromedp.Run(ctx, chromedp.Navigate(url)); err != nil {
		return false, fmt.Errorf("visiting %s: %w", url, err)
	}
	return before != url, c.ensurePageScript()
}

func (c *ChromeDPController) GoBack() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return chromedp.Run(c.tab(), chromedp.NavigateBack())
}

func (c *ChromeDPController) Refresh() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return chromedp.Run(c.tab(), chromedp.Reload())
}

// WaitForPageReady resolves when the document ready-state is complete.
func (c *ChromeDPController) WaitForPageReady() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	var state string
	for {
		if err := chromedp.Run(c.tab(), chromedp.Evaluate(`document.readyState`, &state)); err != nil {
			return err
		}
		if state == "complete" {
			return nil
		}
	}
}

// --- Tabs ---

func (c *ChromeDPController) CreateTab(url string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	ctx, cancel := chromedp.NewContext(c.browserCtx)
	if err := chromedp.Run(ctx); err != nil {
		cancel()
		return fmt.Errorf("opening new tab: %w", err)
	}
	c.tabs = append(c.tabs, chromeTab{ctx: ctx, cancel: cancel})
	c.active = len(c.tabs) - 1
	if url != "" {
		if err := chromedp.Run(ctx, chromedp.Navigate(url)); err != nil {
			return fmt.Errorf("navigating new tab: %w", err)
		}
	}
	return c.ensurePageScript()
}

func (c *ChromeDPController) SwitchTab(index int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if index < 0 || index >= len(c.tabs) {
		return fmt.Errorf("tab index %d out of range [0,%d)", index, len(c.tabs))
	}
	c.active = index
	return nil
}

// CloseTab closes the tab at index. Closing the last open tab is an error,
// matching Controller.
func (c *ChromeDPController) CloseTab(index int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.tabs) <= 1 {
		return fmt.Errorf("cannot close the last remaining tab")
	}
	if index < 0 || index >= len(c.tabs) {
		return fmt.Errorf("tab index %d out of range [0,%d)", index, len(c.tabs))
	}
	c.tabs[index].cancel()
	c.tabs = append(c.tabs[:index], c.tabs[index+1:]...)
	c.active = 0
	return nil
}

func (c *ChromeDPController) TabCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.tabs)
}

// --- Introspection ---

func (c *ChromeDPController) GetURL() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var url string
	_ = chromedp.Run(c.tab(), chromedp.Location(&url))
	return url
}

func (c *ChromeDPController) GetTitle() (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var title string
	if err := chromedp.Run(c.tab(), chromedp.Title(&title)); err != nil {
		return "", err
	}
	return title, nil
}

func (c *ChromeDPController) GetTabsInformation() ([]TabInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	infos := make([]TabInfo, 0, len(c.tabs))
	for i, t := range c.tabs {
		var title, url string
		if err := chromedp.Run(t.ctx, chromedp.Title(&title)); err != nil {
			return nil, fmt.Errorf("reading tab %d title: %w", i, err)
		}
		_ = chromedp.Run(t.ctx, chromedp.Location(&url))
		infos = append(infos, TabInfo{
			Index:        i,
			Title:        title,
			URL:          url,
			IsActive:     i == c.active,
			IsControlled: true,
		})
	}
	return infos, nil
}

// --- DOM / scroll ---

func (c *ChromeDPController) GetInteractiveRects() (map[string]setofmark.InteractiveRegion, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.ensurePageScript(); err != nil {
		return nil, err
	}
	var raw map[string]struct {
		Tag    string  `json:"tag"`
		Type   string  `json:"type"`
		Left   float64 `json:"left"`
		Top    float64 `json:"top"`
		Right  float64 `json:"right"`
		Bottom float64 `json:"bottom"`
	}
	if err := chromedp.Run(c.tab(), chromedp.Evaluate("window.__nexusAssignIDs()", &raw)); err != nil {
		return nil, fmt.Errorf("reading interactive rects: %w", err)
	}
	out := make(map[string]setofmark.InteractiveRegion, len(raw))
	for id, r := range raw {
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

func (c *ChromeDPController) GetVisualViewport() (VisualViewport, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var v VisualViewport
	err := chromedp.Run(c.tab(), chromedp.Evaluate(
		`({width: window.innerWidth, height: window.innerHeight, page_x: window.scrollX, page_y: window.scrollY})`, &v))
	return v, err
}

func (c *ChromeDPController) GetVisibleText() (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var text string
	if err := chromedp.Run(c.tab(), chromedp.Text("body", &text, chromedp.ByQuery)); err != nil {
		return "", fmt.Errorf("reading visible text: %w", err)
	}
	return strings.TrimSpace(text), nil
}

func (c *ChromeDPController) GetFocusedRectID() (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var id string
	err := chromedp.Run(c.tab(), chromedp.Evaluate(
		`(document.activeElement && document.activeElement.getAttribute('data-nexus-id')) || ""`, &id))
	return id, err
}

func (c *ChromeDPController) GetPageMetadata() (PageMetadata, string, error) {
	c.mu.Lock()
	var title, url string
	err := chromedp.Run(c.tab(), chromedp.Title(&title), chromedp.Location(&url))
	c.mu.Unlock()
	if err != nil {
		return PageMetadata{}, "", err
	}
	meta := PageMetadata{URL: url, Title: title}
	hash := sha256.Sum256([]byte(meta.URL + "\x00" + meta.Title))
	return meta, hex.EncodeToString(hash[:]), nil
}

func (c *ChromeDPController) ScrollMousewheel(dir string, px int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	dy := px
	if dir == "up" {
		dy = -px
	}
	return chromedp.Run(c.tab(), chromedp.Evaluate(fmt.Sprintf(`window.scrollBy(0, %d)`, dy), nil))
}

func (c *ChromeDPController) PageUp() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	height, err := c.innerHeight()
	if err != nil {
		return err
	}
	return chromedp.Run(c.tab(), chromedp.Evaluate(fmt.Sprintf(`window.scrollBy(0, %d)`, -int(height)), nil))
}

func (c *ChromeDPController) PageDown() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	height, err := c.innerHeight()
	if err != nil {
		return err
	}
	return chromedp.Run(c.tab(), chromedp.Evaluate(fmt.Sprintf(`window.scrollBy(0, %d)`, int(height)), nil))
}

func (c *ChromeDPController) innerHeight() (float64, error) {
	var h float64
	err := chromedp.Run(c.tab(), chromedp.Evaluate(`window.innerHeight`, &h))
	return h, err
}

// ScrollElement scrolls the element with id by px in dir ("up"/"down").
func (c *ChromeDPController) ScrollElement(id, dir string, px int) error {
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
	return chromedp.Run(c.tab(), chromedp.Evaluate(script, nil))
}

// --- Interaction by id ---

func (c *ChromeDPController) selector(id string) string {
	return fmt.Sprintf(`[data-nexus-id="%s"]`, id)
}

// reannotateIfMissing mirrors Controller's re-annotate-once-if-absent rule.
func (c *ChromeDPController) reannotateIfMissing(id string) error {
	var count int
	countScript := fmt.Sprintf(`document.querySelectorAll('%s').length`, c.selector(id))
	if err := chromedp.Run(c.tab(), chromedp.Evaluate(countScript, &count)); err != nil {
		return err
	}
	if count > 0 {
		return nil
	}
	if err := chromedp.Run(c.tab(), chromedp.Evaluate("window.__nexusAssignIDs()", nil)); err != nil {
		return err
	}
	if err := chromedp.Run(c.tab(), chromedp.Evaluate(countScript, &count)); err != nil {
		return err
	}
	if count == 0 {
		return fmt.Errorf("element %q not found after re-annotation", id)
	}
	return nil
}

// ClickID clicks the element and reports whether a new tab opened.
func (c *ChromeDPController) ClickID(id string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.reannotateIfMissing(id); err != nil {
		return false, err
	}
	before := len(c.tabs)
	if err := chromedp.Run(c.tab(),
		chromedp.ScrollIntoView(c.selector(id), chromedp.ByQuery),
		chromedp.Click(c.selector(id), chromedp.ByQuery),
	); err != nil {
		return false, fmt.Errorf("clicking %q: %w", id, err)
	}
	return len(c.tabs) > before, nil
}

func (c *ChromeDPController) ClickFullPage(id string) error {
	if _, err := c.ClickID(id); err != nil {
		return err
	}
	return c.WaitForPageReady()
}

func (c *ChromeDPController) FillID(id, text string, pressEnter, deleteExisting bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.reannotateIfMissing(id); err != nil {
		return err
	}
	actions := []chromedp.Action{chromedp.ScrollIntoView(c.selector(id), chromedp.ByQuery)}
	if deleteExisting {
		actions = append(actions, chromedp.SetValue(c.selector(id), "", chromedp.ByQuery))
	}
	actions = append(actions, chromedp.SendKeys(c.selector(id), text, chromedp.ByQuery))
	if pressEnter {
		actions = append(actions, chromedp.SendKeys(c.selector(id), "\r", chromedp.ByQuery))
	}
	if err := chromedp.Run(c.tab(), actions...); err != nil {
		return fmt.Errorf("typing into %q: %w", id, err)
	}
	return nil
}

// InputText is the toolkit-facing alias matching spec §4.4's tool names.
func (c *ChromeDPController) InputText(id, text string) error {
	return c.FillID(id, text, false, true)
}

// HoverID dispatches a real mouseMoved CDP event at the element's box-model
// center, rather than a synthetic DOM event, since a hover-triggered CSS
// transition or tooltip may depend on the browser's own hover state.
func (c *ChromeDPController) HoverID(id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.reannotateIfMissing(id); err != nil {
		return err
	}
	return chromedp.Run(c.tab(),
		chromedp.ScrollIntoView(c.selector(id), chromedp.ByQuery),
		chromedp.ActionFunc(func(ctx context.Context) error {
			var nodes []*cdp.Node
			if err := chromedp.Nodes(c.selector(id), &nodes, chromedp.ByQuery).Do(ctx); err != nil {
				return err
			}
			if len(nodes) == 0 {
				return fmt.Errorf("element %q not found", id)
			}
			box, err := dom.GetBoxModel().WithNodeID(nodes[0].NodeID).Do(ctx)
			if err != nil {
				return err
			}
			cx := (box.Content[0] + box.Content[4]) / 2
			cy := (box.Content[1] + box.Content[5]) / 2
			return input.DispatchMouseEvent(input.MouseMoved, cx, cy).Do(ctx)
		}),
	)
}

func (c *ChromeDPController) SelectOption(id, value string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.reannotateIfMissing(id); err != nil {
		return err
	}
	return chromedp.Run(c.tab(), chromedp.SetValue(c.selector(id), value, chromedp.ByQuery))
}

func (c *ChromeDPController) ScrollUp(id string) error { return c.ScrollElement(id, "up", 300) }

func (c *ChromeDPController) ScrollDown(id string) error { return c.ScrollElement(id, "down", 300) }

// --- Media ---

func (c *ChromeDPController) GetScreenshot(ctx context.Context) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var buf []byte
	if err := chromedp.Run(c.tab(), chromedp.FullScreenshot(&buf, 100)); err != nil {
		return nil, err
	}
	return buf, nil
}

// DescribePage returns a textual description of the current page, an
// optional screenshot, and a metadata hash, matching Controller.DescribePage.
func (c *ChromeDPController) DescribePage(ctx context.Context, withScreenshot bool) (string, []byte, string, error) {
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
