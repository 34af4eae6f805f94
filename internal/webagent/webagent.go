// Package webagent implements the perceive-decide-act loop of spec §4.9: a
// single browser session driven by an LLM through a fixed tool dispatch
// table, with set-of-mark DOM annotation and URL-policy gating on every
// navigation. Grounded on haasonsaas-nexus's internal/agent/loop.go (the
// AgenticLoop's stream -> execute-tools -> continue state machine,
// generalized here to perceive/annotate/decide/act/observe) and
// original_source/src/agents/web_agent/agent.rs for the exact prompt
// construction order and terminal-tool handling.
package webagent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"time"

	"github.com/nexuscrew/orchestrator/internal/bus"
	"github.com/nexuscrew/orchestrator/internal/chatmsg"
	"github.com/nexuscrew/orchestrator/internal/llmclient"
	"github.com/nexuscrew/orchestrator/internal/observability"
	"github.com/nexuscrew/orchestrator/internal/rterrors"
	"github.com/nexuscrew/orchestrator/internal/setofmark"
	"github.com/nexuscrew/orchestrator/internal/toolkit"
	"github.com/nexuscrew/orchestrator/internal/urlpolicy"
)

// terminalTools exit the loop immediately once dispatched (spec §4.9.2.f).
var terminalTools = map[string]bool{
	string(toolkit.ToolStopAction):      true,
	string(toolkit.ToolAnswerQuestion):  true,
}

// navigationTools require URL gating before they run (spec §4.9.2.d).
var navigationTools = map[string]bool{
	string(toolkit.ToolVisitURL):  true,
	string(toolkit.ToolWebSearch): true,
	string(toolkit.ToolCreateTab): true,
}

// alwaysOfferedTools is the base tool set offered every step, before the
// tab-count-conditional switch_tab/close_tab extension (spec §4.9.2.a).
var alwaysOfferedTools = map[string]bool{
	string(toolkit.ToolStopAction):  true,
	string(toolkit.ToolVisitURL):    true,
	string(toolkit.ToolWebSearch):   true,
	string(toolkit.ToolClick):       true,
	string(toolkit.ToolInputText):   true,
	string(toolkit.ToolSleep):       true,
	string(toolkit.ToolHover):       true,
	string(toolkit.ToolHistoryBack): true,
	string(toolkit.ToolRefreshPage): true,
	string(toolkit.ToolScrollDown):  true,
	string(toolkit.ToolScrollUp):    true,
	string(toolkit.ToolCreateTab):   true,
}

// BrowserDriver is the subset of *browserctl.Controller the loop drives
// directly (beyond what toolkit.BrowserExecutor already covers): page
// readiness, introspection, DOM annotation inputs, and media capture.
// Defined here rather than imported to keep webagent's dependency on
// browserctl narrow and explicit.
type BrowserDriver interface {
	toolkit.BrowserExecutor

	WaitForPageReady() error
	GetURL() string
	GetTitle() (string, error)
	GetTabsInformation() ([]TabInfo, error)
	GetInteractiveRects() (map[string]setofmark.InteractiveRegion, error)
	GetVisibleText() (string, error)
	GetFocusedRectID() (string, error)
	GetScreenshot(ctx context.Context) ([]byte, error)
	DescribePage(ctx context.Context, withScreenshot bool) (string, []byte, string, error)
}

// TabInfo mirrors browserctl.TabInfo, redeclared here so this package does
// not need to import browserctl's concrete type for its interface surface.
type TabInfo struct {
	Index        int
	Title        string
	URL          string
	IsActive     bool
	IsControlled bool
}

// Config configures an Agent.
type Config struct {
	MaxSteps int // default 10, spec §4.9
	Name     string
}

func (c Config) withDefaults() Config {
	if c.MaxSteps <= 0 {
		c.MaxSteps = 10
	}
	if c.Name == "" {
		c.Name = "web_surfer"
	}
	return c
}

// Agent drives one browser session through the perceive-decide-act loop. It
// implements bus.Agent so the orchestrator can dispatch plan steps to it by
// topic.
type Agent struct {
	cfg      Config
	browser  BrowserDriver
	client   llmclient.Client
	registry *toolkit.Registry
	urls     *urlpolicy.Manager

	history          []chatmsg.ChatMessage
	priorMetadataHash string

	log     *observability.Logger
	tracer  *observability.Tracer
	metrics *observability.Metrics
}

// New constructs a web Agent.
func New(cfg Config, browser BrowserDriver, client llmclient.Client, registry *toolkit.Registry, urls *urlpolicy.Manager) *Agent {
	return &Agent{cfg: cfg.withDefaults(), browser: browser, client: client, registry: registry, urls: urls}
}

// WithObservability attaches a Logger, Tracer, and Metrics; any of the
// three may be nil, in which case that concern is skipped.
func (a *Agent) WithObservability(log *observability.Logger, tracer *observability.Tracer, metrics *observability.Metrics) *Agent {
	a.log, a.tracer, a.metrics = log, tracer, metrics
	return a
}

// OnMessage implements bus.Agent: runs one full perceive-decide-act loop for
// the instruction carried in event, and returns the final composed message.
func (a *Agent) OnMessage(ctx bus.MessageContext, event bus.GroupChatEvent) (bus.ChatPayload, error) {
	instruction := fmt.Sprintf("%v", event.Message.Body)
	a.ingestHistory(instruction)

	finalText, err := a.run(ctx.Context)
	if err != nil {
		return bus.ChatPayload{}, err
	}
	return bus.ChatPayload{Role: "assistant", Source: a.cfg.Name, Body: finalText, MetadataHash: a.priorMetadataHash}, nil
}

// ingestHistory implements spec §4.9.1: multimodal turns are kept verbatim;
// only the last plain-text turn survives in context.
func (a *Agent) ingestHistory(text string) {
	for i := len(a.history) - 1; i >= 0; i-- {
		if !a.history[i].IsMultiModal() {
			a.history = append(a.history[:i], a.history[i+1:]...)
		}
	}
	a.history = append(a.history, chatmsg.NewText(chatmsg.RoleUser, "orchestrator", text))
}

type actionLog struct {
	action      string
	observation string
}

// run executes the bounded perceive-decide-act loop (spec §4.9.2/.3).
func (a *Agent) run(ctx context.Context) (string, error) {
	var log []actionLog
	var lastScreenshot []byte
	var lastPageDescription string

	for step := 0; step < a.cfg.MaxSteps; step++ {
		select {
		case <-ctx.Done():
			return "", rterrors.New(rterrors.KindCancelled, ctx.Err())
		default:
		}

		stepStart := time.Now()

		state, err := a.perceive(ctx)
		if err != nil {
			return "", rterrors.New(rterrors.KindBrowser, err)
		}

		res, err := a.decide(ctx, state)
		if err != nil {
			return "", rterrors.New(rterrors.KindLLM, err)
		}

		if a.metrics != nil {
			a.metrics.RecordWebAgentStep(time.Since(stepStart).Seconds())
		}

		if len(res.ToolCalls) == 0 {
			// A plain text response: thought/summary, terminate per spec
			// §4.9.2.b.
			if a.metrics != nil {
				a.metrics.RecordWebAgentLoopTermination("plain_text")
			}
			return res.Content, nil
		}

		for _, call := range res.ToolCalls {
			a.history = append(a.history, chatmsg.NewText(chatmsg.RoleAssistant, a.cfg.Name,
				fmt.Sprintf("calling %s(%s)", call.Name, call.Arguments)))

			if call.Name == string(toolkit.ToolStopAction) {
				answer := a.stopActionAnswer(call.Arguments)
				if a.metrics != nil {
					a.metrics.RecordWebAgentLoopTermination("tool_stop")
				}
				return answer, nil
			}

			observation := a.act(ctx, state, call)
			log = append(log, actionLog{action: call.Name, observation: observation})

			desc, shot, _, derr := a.browser.DescribePage(ctx, false)
			if derr == nil {
				lastPageDescription = desc
				lastScreenshot = shot
			}
			a.history = append(a.history, chatmsg.NewMultiModal(chatmsg.RoleUser, "environment", []chatmsg.ContentPart{
				{Text: fmt.Sprintf("Observation: %s\n\n%s", observation, lastPageDescription)},
				{Image: shot},
			}))

			if terminalTools[call.Name] {
				if a.metrics != nil {
					a.metrics.RecordWebAgentLoopTermination("tool_stop")
				}
				return observation, nil
			}
		}
	}

	if a.metrics != nil {
		a.metrics.RecordWebAgentLoopTermination("max_steps")
	}
	if a.log != nil {
		a.log.WithContext(ctx).Warn(ctx, "web agent loop hit max steps without a terminal tool", "max_steps", a.cfg.MaxSteps)
	}
	return a.composeFinalMessage(log, lastPageDescription, lastScreenshot), nil
}

// stopActionAnswer extracts the "answer" field from a stop_action call's
// arguments.
func (a *Agent) stopActionAnswer(rawArgs string) string {
	var in struct {
		Answer string `json:"answer"`
	}
	_ = json.Unmarshal([]byte(rawArgs), &in)
	return in.Answer
}

// composeFinalMessage implements spec §4.9.3: the joined action/observation
// log plus the final describe_page(true) text. The result is text only: the
// final screenshot is not included, and lastScreenshot is not used. Nothing
// is appended to a.history. The page's metadata hash is stored in
// priorMetadataHash, which OnMessage reports to the orchestrator in the
// reply's MetadataHash; this agent does not compare against it to suppress
// re-reporting on the next turn.
func (a *Agent) composeFinalMessage(log []actionLog, lastDescription string, lastScreenshot []byte) string {
	var b strings.Builder
	for _, entry := range log {
		fmt.Fprintf(&b, "- %s: %s\n", entry.action, entry.observation)
	}
	desc, _, hash, err := a.browser.DescribePage(context.Background(), true)
	if err == nil {
		lastDescription = desc
		a.priorMetadataHash = hash
	}
	b.WriteString("\n")
	b.WriteString(lastDescription)
	return b.String()
}
