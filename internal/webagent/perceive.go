package webagent

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/nexuscrew/orchestrator/internal/chatmsg"
	"github.com/nexuscrew/orchestrator/internal/setofmark"
)

const outOfViewportSummaryCap = 30

// perceptionState is the snapshot built by perceive() and consumed by
// decide()/act() for the rest of this loop iteration (spec §4.9.2.a).
type perceptionState struct {
	page     setofmark.PageState
	tabCount int
}

// perceive implements spec §4.9.2.a: wait for page readiness, gather
// URL/title/tabs, screenshot, DOM-annotate, and append the constructed
// prompt as a multimodal user turn carrying the raw and annotated
// screenshots.
func (a *Agent) perceive(ctx context.Context) (perceptionState, error) {
	if err := a.browser.WaitForPageReady(); err != nil {
		return perceptionState{}, err
	}

	url := a.browser.GetURL()
	title, err := a.browser.GetTitle()
	if err != nil {
		return perceptionState{}, err
	}
	tabs, err := a.browser.GetTabsInformation()
	if err != nil {
		return perceptionState{}, err
	}
	rects, err := a.browser.GetInteractiveRects()
	if err != nil {
		return perceptionState{}, err
	}
	visibleText, err := a.browser.GetVisibleText()
	if err != nil {
		return perceptionState{}, err
	}
	focusedID, _ := a.browser.GetFocusedRectID()
	screenshot, err := a.browser.GetScreenshot(ctx)
	if err != nil {
		return perceptionState{}, err
	}

	page, err := setofmark.Annotate(screenshot, rects, true)
	if err != nil {
		return perceptionState{}, err
	}

	prompt := buildPerceivePrompt(url, title, tabs, visibleText, page, rects, focusedID)

	a.history = append(a.history, chatmsg.NewMultiModal(chatmsg.RoleUser, "environment", []chatmsg.ContentPart{
		{Text: prompt},
		{Image: screenshot},
		{Image: page.SomScreenshot},
	}))

	return perceptionState{page: page, tabCount: len(tabs)}, nil
}

// elementSummary is the JSON shape of one visible element entry in the
// perceive prompt (spec §4.9.2.a: "{id, name, role, tools}").
type elementSummary struct {
	ID    string   `json:"id"`
	Name  string   `json:"name"`
	Role  string   `json:"role"`
	Tools []string `json:"tools"`
}

func buildPerceivePrompt(url, title string, tabs []TabInfo, visibleText string, page setofmark.PageState, rects map[string]setofmark.InteractiveRegion, focusedID string) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Current URL: %s\nTitle: %s\n\n", url, title)

	b.WriteString("Open tabs:\n")
	for _, t := range tabs {
		marker := " "
		if t.IsActive {
			marker = "*"
		}
		fmt.Fprintf(&b, "%s [%d] %s (%s)\n", marker, t.Index, t.Title, t.URL)
	}
	b.WriteString("\n")

	b.WriteString("Visible page text:\n")
	b.WriteString(visibleText)
	b.WriteString("\n\n")

	visible := make([]elementSummary, 0, len(page.VisibleRects))
	for _, id := range page.VisibleRects {
		origID := page.ElementIDMapping[id]
		region := rects[origID]
		visible = append(visible, elementSummary{
			ID:    id,
			Name:  region.AriaName,
			Role:  elementRole(region),
			Tools: toolsForTag(region.TagName),
		})
	}
	elementsJSON, _ := json.Marshal(visible)
	fmt.Fprintf(&b, "Visible interactive elements:\n%s\n\n", elementsJSON)

	outOfViewport := append(append([]string{}, page.RectsAbove...), page.RectsBelow...)
	sort.Strings(outOfViewport)
	if len(outOfViewport) > outOfViewportSummaryCap {
		fmt.Fprintf(&b, "Out-of-viewport elements (showing %d of %d): %v\n\n", outOfViewportSummaryCap, len(outOfViewport), outOfViewport[:outOfViewportSummaryCap])
	} else if len(outOfViewport) > 0 {
		fmt.Fprintf(&b, "Out-of-viewport elements: %v\n\n", outOfViewport)
	}

	if focusedID != "" {
		fmt.Fprintf(&b, "Focused element id: %s\n\n", focusedID)
	}

	return b.String()
}

func elementRole(region setofmark.InteractiveRegion) string {
	if region.Role != "" {
		return region.Role
	}
	return region.TagName
}

// toolsForTag returns the tool names applicable to a tag, a coarse
// heuristic standing in for the page script's own role inference.
func toolsForTag(tag string) []string {
	switch tag {
	case "select":
		return []string{"select_option", "hover"}
	case "input", "textarea":
		return []string{"input_text", "click", "hover"}
	default:
		return []string{"click", "hover"}
	}
}
