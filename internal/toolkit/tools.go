package toolkit

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/invopop/jsonschema"
)

// BrowserExecutor is the subset of internal/browserctl.Controller that
// DefaultTools dispatch against. Defined here (rather than imported) so
// toolkit has no dependency on browserctl or webagent; webagent wires the
// concrete *browserctl.Controller in at construction time, matching the
// teacher's tool_registry.go pattern of taking a narrow capability
// interface rather than a concrete client.
type BrowserExecutor interface {
	Visit(url string) error
	GoBack() error
	Refresh() error
	PageUp() error
	PageDown() error
	ScrollUp(elementID string) error
	ScrollDown(elementID string) error
	ClickID(elementID string) error
	ClickFullPage(elementID string) error
	HoverID(elementID string) error
	SelectOption(elementID, value string) error
	InputText(elementID, text string) error
	CreateTab(url string) error
	SwitchTab(index int) error
	CloseTab(index int) error
	TabCount() int
}

// WebSearcher performs the web_search tool's external lookup.
type WebSearcher interface {
	Search(query string) (string, error)
}

// paramsReflector generates each tool's Parameters schema from its Go
// arguments struct rather than hand-written JSON, grounded on
// kadirpekel-hector's functiontool.generateSchema.
var paramsReflector = &jsonschema.Reflector{
	RequiredFromJSONSchemaTags: true,
	ExpandedStruct:             true,
	DoNotReference:             true,
}

// schemaOf reflects T's json/jsonschema struct tags into the JSON Schema
// object a tool's Parameters field holds. $schema/$id are stripped since an
// LLM tool-use schema has no use for them.
func schemaOf[T any]() json.RawMessage {
	schema := paramsReflector.Reflect(new(T))
	data, err := json.Marshal(schema)
	if err != nil {
		panic(fmt.Sprintf("toolkit: reflecting schema for %T: %v", *new(T), err))
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		panic(fmt.Sprintf("toolkit: normalizing schema for %T: %v", *new(T), err))
	}
	delete(raw, "$schema")
	delete(raw, "$id")
	out, err := json.Marshal(raw)
	if err != nil {
		panic(err)
	}
	return out
}

// urlArgs is shared by every tool whose only argument is a destination URL.
type urlArgs struct {
	URL string `json:"url" jsonschema:"required"`
}

type webSearchArgs struct {
	Query string `json:"query" jsonschema:"required"`
}

// elementIDArgs is shared by every tool that targets one set-of-mark element
// with no other argument.
type elementIDArgs struct {
	ElementID string `json:"element_id" jsonschema:"required"`
}

type selectOptionArgs struct {
	ElementID string `json:"element_id" jsonschema:"required"`
	Value     string `json:"value" jsonschema:"required"`
}

type inputTextArgs struct {
	ElementID string `json:"element_id" jsonschema:"required"`
	Text      string `json:"text" jsonschema:"required"`
}

type answerQuestionArgs struct {
	Question string `json:"question" jsonschema:"required"`
}

type sleepArgs struct {
	DurationSeconds float64 `json:"duration_seconds" jsonschema:"required"`
}

type stopActionArgs struct {
	Answer string `json:"answer" jsonschema:"required"`
}

type tabIndexArgs struct {
	TabIndex int `json:"tab_index" jsonschema:"required"`
}

// noArgs is shared by every tool that takes no arguments.
type noArgs struct{}

type simpleTool struct {
	schema Schema
	run    func(ctx ExecContext, args json.RawMessage) (string, error)
}

func (t simpleTool) Schema() Schema { return t.schema }
func (t simpleTool) Execute(ctx ExecContext, args json.RawMessage) (string, error) {
	return t.run(ctx, args)
}

func mustApproval(name DefaultToolName) Approval {
	level, err := ApprovalFor(name)
	if err != nil {
		panic(err)
	}
	return level
}

func browserFrom(ctx ExecContext) (BrowserExecutor, error) {
	b, ok := ctx.(BrowserExecutor)
	if !ok {
		return nil, fmt.Errorf("exec context does not provide a browser executor")
	}
	return b, nil
}

func decodeArgs(args json.RawMessage, v any) error {
	if len(args) == 0 {
		return nil
	}
	return json.Unmarshal(args, v)
}

// NewDefaultTools builds the DefaultTools table of spec §4.4. searcher may
// be nil, in which case web_search returns a structured "unavailable" error
// rather than panicking — web search is an optional capability per
// SPEC_FULL.md's Domain Stack (no bundled search SDK in the pack).
func NewDefaultTools(searcher WebSearcher) []Tool {
	return []Tool{
		simpleTool{
			schema: Schema{
				Name:             string(ToolVisitURL),
				Description:      "Navigate the active browser tab to the given URL.",
				Parameters:       schemaOf[urlArgs](),
				RequiresApproval: mustApproval(ToolVisitURL),
			},
			run: func(ctx ExecContext, args json.RawMessage) (string, error) {
				var in urlArgs
				if err := decodeArgs(args, &in); err != nil {
					return "", err
				}
				b, err := browserFrom(ctx)
				if err != nil {
					return "", err
				}
				if err := b.Visit(in.URL); err != nil {
					return "", err
				}
				return fmt.Sprintf("navigated to %s", in.URL), nil
			},
		},
		simpleTool{
			schema: Schema{
				Name:             string(ToolWebSearch),
				Description:      "Search the web for a query and return a text summary of results.",
				Parameters:       schemaOf[webSearchArgs](),
				RequiresApproval: mustApproval(ToolWebSearch),
			},
			run: func(_ ExecContext, args json.RawMessage) (string, error) {
				var in webSearchArgs
				if err := decodeArgs(args, &in); err != nil {
					return "", err
				}
				if searcher == nil {
					return "", fmt.Errorf("web_search is not configured")
				}
				return searcher.Search(in.Query)
			},
		},
		simpleTool{
			schema: Schema{
				Name:             string(ToolHistoryBack),
				Description:      "Go back one entry in the browser's history.",
				Parameters:       schemaOf[noArgs](),
				RequiresApproval: mustApproval(ToolHistoryBack),
			},
			run: func(ctx ExecContext, _ json.RawMessage) (string, error) {
				b, err := browserFrom(ctx)
				if err != nil {
					return "", err
				}
				return "went back", b.GoBack()
			},
		},
		simpleTool{
			schema: Schema{
				Name:             string(ToolRefreshPage),
				Description:      "Reload the active tab.",
				Parameters:       schemaOf[noArgs](),
				RequiresApproval: mustApproval(ToolRefreshPage),
			},
			run: func(ctx ExecContext, _ json.RawMessage) (string, error) {
				b, err := browserFrom(ctx)
				if err != nil {
					return "", err
				}
				return "refreshed", b.Refresh()
			},
		},
		simpleTool{
			schema: Schema{
				Name:             string(ToolPageUp),
				Description:      "Scroll the page up by one viewport height.",
				Parameters:       schemaOf[noArgs](),
				RequiresApproval: mustApproval(ToolPageUp),
			},
			run: func(ctx ExecContext, _ json.RawMessage) (string, error) {
				b, err := browserFrom(ctx)
				if err != nil {
					return "", err
				}
				return "scrolled up one page", b.PageUp()
			},
		},
		simpleTool{
			schema: Schema{
				Name:             string(ToolPageDown),
				Description:      "Scroll the page down by one viewport height.",
				Parameters:       schemaOf[noArgs](),
				RequiresApproval: mustApproval(ToolPageDown),
			},
			run: func(ctx ExecContext, _ json.RawMessage) (string, error) {
				b, err := browserFrom(ctx)
				if err != nil {
					return "", err
				}
				return "scrolled down one page", b.PageDown()
			},
		},
		simpleTool{
			schema: Schema{
				Name:             string(ToolScrollUp),
				Description:      "Scroll a specific element upward.",
				Parameters:       schemaOf[elementIDArgs](),
				RequiresApproval: mustApproval(ToolScrollUp),
			},
			run: func(ctx ExecContext, args json.RawMessage) (string, error) {
				var in elementIDArgs
				if err := decodeArgs(args, &in); err != nil {
					return "", err
				}
				b, err := browserFrom(ctx)
				if err != nil {
					return "", err
				}
				return "scrolled element up", b.ScrollUp(in.ElementID)
			},
		},
		simpleTool{
			schema: Schema{
				Name:             string(ToolScrollDown),
				Description:      "Scroll a specific element downward.",
				Parameters:       schemaOf[elementIDArgs](),
				RequiresApproval: mustApproval(ToolScrollDown),
			},
			run: func(ctx ExecContext, args json.RawMessage) (string, error) {
				var in elementIDArgs
				if err := decodeArgs(args, &in); err != nil {
					return "", err
				}
				b, err := browserFrom(ctx)
				if err != nil {
					return "", err
				}
				return "scrolled element down", b.ScrollDown(in.ElementID)
			},
		},
		simpleTool{
			schema: Schema{
				Name:             string(ToolClick),
				Description:      "Click the element identified by its set-of-mark id.",
				Parameters:       schemaOf[elementIDArgs](),
				RequiresApproval: mustApproval(ToolClick),
			},
			run: func(ctx ExecContext, args json.RawMessage) (string, error) {
				var in elementIDArgs
				if err := decodeArgs(args, &in); err != nil {
					return "", err
				}
				b, err := browserFrom(ctx)
				if err != nil {
					return "", err
				}
				return fmt.Sprintf("clicked element %s", in.ElementID), b.ClickID(in.ElementID)
			},
		},
		simpleTool{
			schema: Schema{
				Name:             string(ToolClickFull),
				Description:      "Click the element and wait for the resulting navigation or load to settle.",
				Parameters:       schemaOf[elementIDArgs](),
				RequiresApproval: mustApproval(ToolClickFull),
			},
			run: func(ctx ExecContext, args json.RawMessage) (string, error) {
				var in elementIDArgs
				if err := decodeArgs(args, &in); err != nil {
					return "", err
				}
				b, err := browserFrom(ctx)
				if err != nil {
					return "", err
				}
				return fmt.Sprintf("clicked element %s and waited for load", in.ElementID), b.ClickFullPage(in.ElementID)
			},
		},
		simpleTool{
			schema: Schema{
				Name:             string(ToolHover),
				Description:      "Hover the pointer over the element.",
				Parameters:       schemaOf[elementIDArgs](),
				RequiresApproval: mustApproval(ToolHover),
			},
			run: func(ctx ExecContext, args json.RawMessage) (string, error) {
				var in elementIDArgs
				if err := decodeArgs(args, &in); err != nil {
					return "", err
				}
				b, err := browserFrom(ctx)
				if err != nil {
					return "", err
				}
				return fmt.Sprintf("hovering element %s", in.ElementID), b.HoverID(in.ElementID)
			},
		},
		simpleTool{
			schema: Schema{
				Name:             string(ToolSelectOption),
				Description:      "Select an option by value within a <select> element.",
				Parameters:       schemaOf[selectOptionArgs](),
				RequiresApproval: mustApproval(ToolSelectOption),
			},
			run: func(ctx ExecContext, args json.RawMessage) (string, error) {
				var in selectOptionArgs
				if err := decodeArgs(args, &in); err != nil {
					return "", err
				}
				b, err := browserFrom(ctx)
				if err != nil {
					return "", err
				}
				return fmt.Sprintf("selected %q on element %s", in.Value, in.ElementID), b.SelectOption(in.ElementID, in.Value)
			},
		},
		simpleTool{
			schema: Schema{
				Name:             string(ToolInputText),
				Description:      "Type text into an input or textarea element.",
				Parameters:       schemaOf[inputTextArgs](),
				RequiresApproval: mustApproval(ToolInputText),
			},
			run: func(ctx ExecContext, args json.RawMessage) (string, error) {
				var in inputTextArgs
				if err := decodeArgs(args, &in); err != nil {
					return "", err
				}
				b, err := browserFrom(ctx)
				if err != nil {
					return "", err
				}
				return fmt.Sprintf("typed into element %s", in.ElementID), b.InputText(in.ElementID, in.Text)
			},
		},
		simpleTool{
			schema: Schema{
				Name:             string(ToolAnswerQuestion),
				Description:      "Answer a question about the current page using its visible text and screenshot.",
				Parameters:       schemaOf[answerQuestionArgs](),
				RequiresApproval: mustApproval(ToolAnswerQuestion),
			},
			run: func(_ ExecContext, args json.RawMessage) (string, error) {
				var in answerQuestionArgs
				if err := decodeArgs(args, &in); err != nil {
					return "", err
				}
				// The web agent does not offer this tool in its decide step
				// and has no inline handler for it; Execute always returns
				// this error.
				return "", fmt.Errorf("answer_question must be handled by the calling agent's decide step")
			},
		},
		simpleTool{
			schema: Schema{
				Name:             string(ToolSummarizePage),
				Description:      "Summarize the current page's content.",
				Parameters:       schemaOf[noArgs](),
				RequiresApproval: mustApproval(ToolSummarizePage),
			},
			run: func(_ ExecContext, _ json.RawMessage) (string, error) {
				return "", fmt.Errorf("summarize_page must be handled by the calling agent's decide step")
			},
		},
		simpleTool{
			schema: Schema{
				Name:             string(ToolSleep),
				Description:      "Pause before the next action, used by sentinel plan steps.",
				Parameters:       schemaOf[sleepArgs](),
				RequiresApproval: mustApproval(ToolSleep),
			},
			run: func(_ ExecContext, args json.RawMessage) (string, error) {
				var in sleepArgs
				if err := decodeArgs(args, &in); err != nil {
					return "", err
				}
				time.Sleep(time.Duration(in.DurationSeconds * float64(time.Second)))
				return fmt.Sprintf("slept %.1fs", in.DurationSeconds), nil
			},
		},
		simpleTool{
			schema: Schema{
				Name:             string(ToolStopAction),
				Description:      "Stop the current task and return a final answer.",
				Parameters:       schemaOf[stopActionArgs](),
				RequiresApproval: mustApproval(ToolStopAction),
			},
			run: func(_ ExecContext, args json.RawMessage) (string, error) {
				var in stopActionArgs
				if err := decodeArgs(args, &in); err != nil {
					return "", err
				}
				return in.Answer, nil
			},
		},
		simpleTool{
			schema: Schema{
				Name:             string(ToolCreateTab),
				Description:      "Open a new browser tab at the given URL.",
				Parameters:       schemaOf[urlArgs](),
				RequiresApproval: mustApproval(ToolCreateTab),
			},
			run: func(ctx ExecContext, args json.RawMessage) (string, error) {
				var in urlArgs
				if err := decodeArgs(args, &in); err != nil {
					return "", err
				}
				b, err := browserFrom(ctx)
				if err != nil {
					return "", err
				}
				return fmt.Sprintf("opened new tab at %s", in.URL), b.CreateTab(in.URL)
			},
		},
		simpleTool{
			schema: Schema{
				Name:             string(ToolSwitchTab),
				Description:      "Switch the active tab by index. Only offered when more than one tab is open.",
				Parameters:       schemaOf[tabIndexArgs](),
				RequiresApproval: mustApproval(ToolSwitchTab),
			},
			run: func(ctx ExecContext, args json.RawMessage) (string, error) {
				var in tabIndexArgs
				if err := decodeArgs(args, &in); err != nil {
					return "", err
				}
				b, err := browserFrom(ctx)
				if err != nil {
					return "", err
				}
				return fmt.Sprintf("switched to tab %d", in.TabIndex), b.SwitchTab(in.TabIndex)
			},
		},
		simpleTool{
			schema: Schema{
				Name:             string(ToolCloseTab),
				Description:      "Close the tab at the given index. Only offered when more than one tab is open.",
				Parameters:       schemaOf[tabIndexArgs](),
				RequiresApproval: mustApproval(ToolCloseTab),
			},
			run: func(ctx ExecContext, args json.RawMessage) (string, error) {
				var in tabIndexArgs
				if err := decodeArgs(args, &in); err != nil {
					return "", err
				}
				b, err := browserFrom(ctx)
				if err != nil {
					return "", err
				}
				return fmt.Sprintf("closed tab %d", in.TabIndex), b.CloseTab(in.TabIndex)
			},
		},
	}
}

// VisibleSchemas filters out switch_tab/close_tab unless more than one tab
// is open, per spec §4.4's "exposed only when tab count > 1" rule.
func VisibleSchemas(tools []Tool, tabCount int) []Schema {
	schemas := make([]Schema, 0, len(tools))
	for _, t := range tools {
		s := t.Schema()
		if (s.Name == string(ToolSwitchTab) || s.Name == string(ToolCloseTab)) && tabCount <= 1 {
			continue
		}
		schemas = append(schemas, s)
	}
	return schemas
}
