package webagent

import (
	"context"

	"github.com/nexuscrew/orchestrator/internal/chatmsg"
	"github.com/nexuscrew/orchestrator/internal/llmclient"
	"github.com/nexuscrew/orchestrator/internal/toolkit"
)

// decide implements spec §4.9.2.b: invoke the LLM with the current history
// and the tool schemas visible for this step's tab count.
func (a *Agent) decide(ctx context.Context, state perceptionState) (llmclient.Result, error) {
	messages := make([]chatmsg.LLMMessage, 0, len(a.history))
	for _, m := range a.history {
		llm, err := chatmsg.ToLLMMessage(m)
		if err != nil {
			return llmclient.Result{}, err
		}
		messages = append(messages, llm)
	}

	schemas := toolkit.VisibleSchemas(a.offeredTools(), state.tabCount)
	return a.client.Create(ctx, messages, schemas, false)
}

// offeredTools returns the fixed "always offered" tool set of spec §4.9.2.a
// plus switch_tab/close_tab (whose further tab-count gating is applied by
// VisibleSchemas) — answer_question, summarize_page, click_full, and
// select_option are registered but not dispatched through the per-step
// decide prompt; the loop never offers them as live tool calls.
func (a *Agent) offeredTools() []toolkit.Tool {
	candidates := append([]string{}, namesOf(alwaysOfferedTools)...)
	candidates = append(candidates, string(toolkit.ToolSwitchTab), string(toolkit.ToolCloseTab))

	tools := make([]toolkit.Tool, 0, len(candidates))
	for _, name := range candidates {
		if t, ok := a.registry.Get(name); ok {
			tools = append(tools, t)
		}
	}
	return tools
}

func namesOf(set map[string]bool) []string {
	names := make([]string, 0, len(set))
	for name := range set {
		names = append(names, name)
	}
	return names
}
