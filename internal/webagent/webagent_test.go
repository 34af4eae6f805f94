package webagent

import (
	"bytes"
	"context"
	"image"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexuscrew/orchestrator/internal/bus"
	"github.com/nexuscrew/orchestrator/internal/chatmsg"
	"github.com/nexuscrew/orchestrator/internal/llmclient"
	"github.com/nexuscrew/orchestrator/internal/setofmark"
	"github.com/nexuscrew/orchestrator/internal/toolkit"
	"github.com/nexuscrew/orchestrator/internal/urlpolicy"
)

// fakeBrowser is a minimal in-memory BrowserDriver double: a single tab at
// a fixed URL with one visible element, enough to drive perceive/act
// without a real playwright session.
type fakeBrowser struct {
	tabs       []TabInfo
	lastVisit  string
	lastClick  string
}

func newFakeBrowser() *fakeBrowser {
	return &fakeBrowser{tabs: []TabInfo{{Index: 0, Title: "Example", URL: "https://example.com", IsActive: true}}}
}

func (b *fakeBrowser) Visit(url string) error       { b.lastVisit = url; return nil }
func (b *fakeBrowser) GoBack() error                { return nil }
func (b *fakeBrowser) Refresh() error               { return nil }
func (b *fakeBrowser) PageUp() error                { return nil }
func (b *fakeBrowser) PageDown() error              { return nil }
func (b *fakeBrowser) ScrollUp(string) error         { return nil }
func (b *fakeBrowser) ScrollDown(string) error       { return nil }
func (b *fakeBrowser) ClickID(id string) error      { b.lastClick = id; return nil }
func (b *fakeBrowser) ClickFullPage(string) error   { return nil }
func (b *fakeBrowser) HoverID(string) error         { return nil }
func (b *fakeBrowser) SelectOption(string, string) error { return nil }
func (b *fakeBrowser) InputText(string, string) error    { return nil }
func (b *fakeBrowser) CreateTab(url string) error {
	b.tabs = append(b.tabs, TabInfo{Index: len(b.tabs), Title: "New Tab", URL: url})
	return nil
}
func (b *fakeBrowser) SwitchTab(int) error { return nil }
func (b *fakeBrowser) CloseTab(int) error  { return nil }
func (b *fakeBrowser) TabCount() int       { return len(b.tabs) }

func (b *fakeBrowser) WaitForPageReady() error { return nil }
func (b *fakeBrowser) GetURL() string          { return b.tabs[0].URL }
func (b *fakeBrowser) GetTitle() (string, error) { return b.tabs[0].Title, nil }
func (b *fakeBrowser) GetTabsInformation() ([]TabInfo, error) { return b.tabs, nil }
func (b *fakeBrowser) GetInteractiveRects() (map[string]setofmark.InteractiveRegion, error) {
	return map[string]setofmark.InteractiveRegion{
		"search-box": {TagName: "input", Role: "textbox", AriaName: "Search", Rects: []setofmark.DOMRect{{Left: 10, Top: 10, Right: 110, Bottom: 30}}},
	}, nil
}
func (b *fakeBrowser) GetVisibleText() (string, error)     { return "Welcome to Example", nil }
func (b *fakeBrowser) GetFocusedRectID() (string, error)   { return "", nil }
func (b *fakeBrowser) GetScreenshot(context.Context) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 200, 100))); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
func (b *fakeBrowser) DescribePage(context.Context, bool) (string, []byte, string, error) {
	return "Example page, welcome banner visible.", []byte("screenshot"), "hash-1", nil
}

// scriptedLLM returns a fixed sequence of Results, clamped to the last once
// exhausted, mirroring internal/orchestrator's scriptedPlannerClient.
type scriptedLLM struct {
	results []llmclient.Result
	calls   int
}

func (c *scriptedLLM) Create(ctx context.Context, messages []chatmsg.LLMMessage, tools []toolkit.Schema, jsonOutput bool) (llmclient.Result, error) {
	idx := c.calls
	if idx >= len(c.results) {
		idx = len(c.results) - 1
	}
	c.calls++
	return c.results[idx], nil
}

func newTestAgent(t *testing.T, client llmclient.Client) (*Agent, *fakeBrowser) {
	t.Helper()
	reg := toolkit.NewRegistry()
	for _, tool := range toolkit.NewDefaultTools(nil) {
		require.NoError(t, reg.Register(tool))
	}
	reg.Seal()

	browser := newFakeBrowser()
	agent := New(Config{MaxSteps: 3, Name: "web_surfer"}, browser, client, reg, urlpolicy.New())
	return agent, browser
}

func TestOnMessageTerminatesOnPlainTextResponse(t *testing.T) {
	client := &scriptedLLM{results: []llmclient.Result{
		{Content: "The page says Welcome to Example."},
	}}
	agent, _ := newTestAgent(t, client)

	reply, err := agent.OnMessage(bus.MessageContext{Context: context.Background()}, bus.GroupChatEvent{
		Message: bus.ChatPayload{Role: "user", Source: "orchestrator", Body: "what does the page say?"},
	})
	require.NoError(t, err)
	assert.Equal(t, "The page says Welcome to Example.", reply.Body)
}

func TestOnMessageTerminatesOnStopAction(t *testing.T) {
	client := &scriptedLLM{results: []llmclient.Result{
		{FinishReason: llmclient.FinishToolCalls, ToolCalls: []chatmsg.FunctionCall{
			{ID: "1", Name: string(toolkit.ToolStopAction), Arguments: `{"answer":"42"}`},
		}},
	}}
	agent, _ := newTestAgent(t, client)

	reply, err := agent.OnMessage(bus.MessageContext{Context: context.Background()}, bus.GroupChatEvent{
		Message: bus.ChatPayload{Role: "user", Source: "orchestrator", Body: "what is the answer?"},
	})
	require.NoError(t, err)
	assert.Equal(t, "42", reply.Body)
}

func TestActTranslatesElementIDThroughMapping(t *testing.T) {
	client := &scriptedLLM{}
	agent, browser := newTestAgent(t, client)

	state := perceptionState{
		page: setofmark.PageState{ElementIDMapping: map[string]string{"1": "search-box"}},
	}
	call := chatmsg.FunctionCall{Name: string(toolkit.ToolClick), Arguments: `{"element_id":"1"}`}

	obs := agent.act(context.Background(), state, call)

	assert.Contains(t, obs, "search-box")
	assert.Equal(t, "search-box", browser.lastClick)
}

func TestActGatesUnknownURLOnVisit(t *testing.T) {
	client := &scriptedLLM{}
	agent, browser := newTestAgent(t, client)
	agent.urls.SetStatus("https://allowed.example", urlpolicy.Allowed)

	blocked := agent.act(context.Background(), perceptionState{}, chatmsg.FunctionCall{
		Name: string(toolkit.ToolVisitURL), Arguments: `{"url":"https://unknown.example"}`,
	})
	assert.Contains(t, blocked, "not allowed to visit")
	assert.Empty(t, browser.lastVisit)

	obs := agent.act(context.Background(), perceptionState{}, chatmsg.FunctionCall{
		Name: string(toolkit.ToolVisitURL), Arguments: `{"url":"https://allowed.example"}`,
	})
	assert.Contains(t, obs, "navigated to")
	assert.Equal(t, "https://allowed.example", browser.lastVisit)
}

func TestRunRespectsMaxSteps(t *testing.T) {
	client := &scriptedLLM{results: []llmclient.Result{
		{FinishReason: llmclient.FinishToolCalls, ToolCalls: []chatmsg.FunctionCall{
			{ID: "1", Name: string(toolkit.ToolHover), Arguments: `{"element_id":"1"}`},
		}},
	}}
	agent, _ := newTestAgent(t, client)

	reply, err := agent.OnMessage(bus.MessageContext{Context: context.Background()}, bus.GroupChatEvent{
		Message: bus.ChatPayload{Role: "user", Source: "orchestrator", Body: "hover forever"},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, reply.Body)
	assert.Equal(t, "hash-1", agent.priorMetadataHash)
}

func TestIngestHistoryKeepsOnlyLastTextTurn(t *testing.T) {
	client := &scriptedLLM{}
	agent, _ := newTestAgent(t, client)

	agent.history = append(agent.history,
		chatmsg.NewText(chatmsg.RoleUser, "orchestrator", "first instruction"),
		chatmsg.NewMultiModal(chatmsg.RoleUser, "environment", []chatmsg.ContentPart{{Text: "observed page"}}),
	)

	agent.ingestHistory("second instruction")

	var texts int
	var sawMultiModal bool
	for _, m := range agent.history {
		if m.IsMultiModal() {
			sawMultiModal = true
		} else {
			texts++
		}
	}
	assert.Equal(t, 1, texts)
	assert.True(t, sawMultiModal)
	assert.Equal(t, "second instruction", agent.history[len(agent.history)-1].Text)
}
