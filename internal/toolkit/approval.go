package toolkit

import "fmt"

// ApprovalDecision is the outcome of checking a tool call against policy.
type ApprovalDecision int

const (
	Allowed ApprovalDecision = iota
	Denied
	Pending
)

// ApprovalChecker decides whether a tool invocation may proceed
// unattended, grounded on haasonsaas-nexus's internal/agent/approval.go
// layered-policy pattern (denylist -> allowlist -> declared approval level
// -> default), simplified to this spec's three-level model (always/maybe/
// never) rather than the teacher's richer skill/safe-bin policy, since
// this spec has no skill or sandbox concept.
type ApprovalChecker struct {
	// Outside is called for any tool with RequiresApproval=always; "maybe"
	// and "never" tools are allowed without consulting it. nil means
	// auto-deny (never silently auto-allow an "always" tool).
	Outside func(toolName string) ApprovalDecision
}

// NewNoOpApprovalChecker returns a checker that allows "never" tools, denies
// "always" tools outright (no human in the loop wired), and allows "maybe"
// tools (URL policy is the actual gate for those, per spec §9's open
// question — approval is an external collaborator this core stubs safely).
func NewNoOpApprovalChecker() *ApprovalChecker {
	return &ApprovalChecker{Outside: func(string) ApprovalDecision { return Denied }}
}

// Check evaluates approval for a tool call.
func (c *ApprovalChecker) Check(schema Schema) ApprovalDecision {
	switch schema.RequiresApproval {
	case ApprovalNever:
		return Allowed
	case ApprovalMaybe:
		return Allowed
	case ApprovalAlways:
		if c.Outside != nil {
			return c.Outside(schema.Name)
		}
		return Denied
	default:
		return Denied
	}
}

// DefaultToolName enumerates the required DefaultTools table of spec §4.4.
type DefaultToolName string

const (
	ToolVisitURL       DefaultToolName = "visit_url"
	ToolWebSearch      DefaultToolName = "web_search"
	ToolHistoryBack    DefaultToolName = "history_back"
	ToolRefreshPage    DefaultToolName = "refresh_page"
	ToolPageUp         DefaultToolName = "page_up"
	ToolPageDown       DefaultToolName = "page_down"
	ToolScrollUp       DefaultToolName = "scroll_up"
	ToolScrollDown     DefaultToolName = "scroll_down"
	ToolClick          DefaultToolName = "click"
	ToolClickFull      DefaultToolName = "click_full"
	ToolHover          DefaultToolName = "hover"
	ToolSelectOption   DefaultToolName = "select_option"
	ToolInputText      DefaultToolName = "input_text"
	ToolAnswerQuestion DefaultToolName = "answer_question"
	ToolSummarizePage  DefaultToolName = "summarize_page"
	ToolSleep          DefaultToolName = "sleep"
	ToolStopAction     DefaultToolName = "stop_action"
	ToolCreateTab      DefaultToolName = "create_tab"
	ToolSwitchTab      DefaultToolName = "switch_tab"
	ToolCloseTab       DefaultToolName = "close_tab"
	ToolUploadFile     DefaultToolName = "upload_file"
)

// defaultApprovals is the approval column of the DefaultTools table.
var defaultApprovals = map[DefaultToolName]Approval{
	ToolVisitURL:       ApprovalMaybe,
	ToolWebSearch:      ApprovalNever,
	ToolHistoryBack:    ApprovalMaybe,
	ToolRefreshPage:    ApprovalNever,
	ToolPageUp:         ApprovalNever,
	ToolPageDown:       ApprovalNever,
	ToolScrollUp:       ApprovalNever,
	ToolScrollDown:     ApprovalNever,
	ToolClick:          ApprovalMaybe,
	ToolClickFull:      ApprovalNever,
	ToolHover:          ApprovalNever,
	ToolSelectOption:   ApprovalMaybe,
	ToolInputText:      ApprovalMaybe,
	ToolAnswerQuestion: ApprovalAlways,
	ToolSummarizePage:  ApprovalAlways,
	ToolSleep:          ApprovalAlways,
	ToolStopAction:     ApprovalAlways,
	ToolCreateTab:      ApprovalAlways,
	ToolSwitchTab:      ApprovalAlways,
	ToolCloseTab:       ApprovalAlways,
	ToolUploadFile:     ApprovalAlways,
}

// ApprovalFor returns the declared approval level for a DefaultTools entry.
func ApprovalFor(name DefaultToolName) (Approval, error) {
	level, ok := defaultApprovals[name]
	if !ok {
		return "", fmt.Errorf("unknown default tool %q", name)
	}
	return level, nil
}

// ApplyOverrides layers config-supplied approval overrides atop the
// defaults (internal/config.ToolsConfig.ApprovalOverrides), returning the
// effective table.
func ApplyOverrides(overrides map[string]string) map[DefaultToolName]Approval {
	effective := make(map[DefaultToolName]Approval, len(defaultApprovals))
	for name, level := range defaultApprovals {
		effective[name] = level
	}
	for name, level := range overrides {
		switch Approval(level) {
		case ApprovalAlways, ApprovalMaybe, ApprovalNever:
			effective[DefaultToolName(name)] = Approval(level)
		}
	}
	return effective
}
