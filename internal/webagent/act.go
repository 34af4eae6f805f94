package webagent

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nexuscrew/orchestrator/internal/chatmsg"
	"github.com/nexuscrew/orchestrator/internal/toolkit"
)

// act implements spec §4.9.2.c/.d: dispatch one function call to the tool
// registry, translating its target_id through element_id_mapping first, and
// gating any navigation tool's URL through the policy before it runs.
func (a *Agent) act(ctx context.Context, state perceptionState, call chatmsg.FunctionCall) string {
	args, err := translateTargetID(call.Arguments, state.page.ElementIDMapping)
	if err != nil {
		return fmt.Sprintf("error: %v", err)
	}

	if navigationTools[call.Name] {
		if refusal, ok := a.gateURL(call.Name, args); !ok {
			return refusal
		}
	}

	toolStart := time.Now()
	result, err := a.registry.Execute(a.browser, call.Name, args)
	if a.metrics != nil {
		status := "success"
		if err != nil {
			status = "error"
		}
		a.metrics.RecordToolExecution(call.Name, status, time.Since(toolStart).Seconds())
	}
	if a.tracer != nil {
		_, span := a.tracer.TraceToolExecution(ctx, call.Name)
		if err != nil {
			a.tracer.RecordError(span, err)
		}
		span.End()
	}
	if err != nil {
		return fmt.Sprintf("error: %v", err)
	}

	if call.Name == string(toolkit.ToolClick) || call.Name == string(toolkit.ToolClickFull) {
		if refusal, ok := a.gateClickNavigation(state.tabCount); !ok {
			return refusal
		}
	}

	return result
}

// translateTargetID rewrites an "element_id" field in rawArgs from its
// sequential set-of-mark id to the original DOM id the controller expects
// (spec §4.9.2.c: "the agent translates it through element_id_mapping
// before calling the controller").
func translateTargetID(rawArgs string, mapping map[string]string) (json.RawMessage, error) {
	if len(rawArgs) == 0 {
		return json.RawMessage(`{}`), nil
	}
	var generic map[string]json.RawMessage
	if err := json.Unmarshal([]byte(rawArgs), &generic); err != nil {
		return nil, fmt.Errorf("tool arguments are not a JSON object: %w", err)
	}
	if raw, ok := generic["element_id"]; ok {
		var seqID string
		if err := json.Unmarshal(raw, &seqID); err == nil {
			if origID, known := mapping[seqID]; known {
				encoded, _ := json.Marshal(origID)
				generic["element_id"] = encoded
			}
		}
	}
	return json.Marshal(generic)
}

// gateURL implements spec §4.9.2.d for explicit navigation tools: extract
// the candidate URL from the call's arguments and run it through
// check_url_and_generate_msg.
func (a *Agent) gateURL(toolName string, args json.RawMessage) (string, bool) {
	var in struct {
		URL   string `json:"url"`
		Query string `json:"query"`
	}
	_ = json.Unmarshal(args, &in)

	candidate := in.URL
	if toolName == string(toolkit.ToolWebSearch) {
		candidate = "https://www.bing.com/search?q=" + in.Query
	}
	if candidate == "" {
		return "", true
	}

	if msg, allowed := a.urls.CheckURLAndGenerateMsg(candidate); !allowed {
		a.recordURLDecision(candidate)
		return msg, false
	}
	if a.metrics != nil {
		a.metrics.RecordURLPolicyDecision("allowed")
	}
	return "", true
}

// recordURLDecision tags a refused candidate as blocked or rejected for the
// URLPolicyDecisions metric, mirroring CheckURLAndGenerateMsg's own
// block-then-unknown precedence.
func (a *Agent) recordURLDecision(candidate string) {
	if a.metrics == nil {
		return
	}
	if a.urls.IsBlocked(candidate) {
		a.metrics.RecordURLPolicyDecision("blocked")
		return
	}
	a.metrics.RecordURLPolicyDecision("rejected")
}

// gateClickNavigation implements the "implicit navigation via click that
// opens a new window" branch of spec §4.9.2.d: if the tab count grew after
// a click, the newly opened tab's URL must be gated too.
func (a *Agent) gateClickNavigation(tabCountBefore int) (string, bool) {
	tabs, err := a.browser.GetTabsInformation()
	if err != nil || len(tabs) <= tabCountBefore {
		return "", true
	}
	newTab := tabs[len(tabs)-1]
	if msg, allowed := a.urls.CheckURLAndGenerateMsg(newTab.URL); !allowed {
		a.recordURLDecision(newTab.URL)
		return msg, false
	}
	if a.metrics != nil {
		a.metrics.RecordURLPolicyDecision("allowed")
	}
	return "", true
}
