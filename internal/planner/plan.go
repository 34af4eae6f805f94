// Package planner implements the LLM-backed planning component of spec
// §4.7. Prompt text and response schema are grounded on
// original_source/orchestrator/planning.rs's build_system_prompt /
// build_user_prompt, extended per spec §4.7 with sentinel-step rules and a
// current-date interpolation the Rust original did not have; retry-with-
// feedback loop grounded on haasonsaas-nexus's internal/retry conventions.
package planner

import "fmt"

// AgentDescriptor is one team member the planner may assign steps to.
type AgentDescriptor struct {
	Name        string
	Description string
}

// PlanStep is one unit of work in a Plan.
type PlanStep struct {
	Title     string
	Details   string
	AgentName string

	// Sentinel fields, populated only when StepType == SentinelStepType.
	StepType      string // "" for a normal step, "SentinelPlanStep" otherwise
	Condition     string // iteration count (as a string) or a textual predicate
	SleepDuration int    // seconds
}

// SentinelStepType is the step_type value for sentinel plan steps (spec
// §9's periodic/long-running monitoring encoding).
const SentinelStepType = "SentinelPlanStep"

// Plan is the validated output of plan generation.
type Plan struct {
	Task        string
	PlanSummary string
	Steps       []PlanStep
}

// DirectResponse is returned instead of a Plan when the LLM determines no
// plan is needed (needs_plan=false in spec §4.7's response contract).
type DirectResponse struct {
	Response string
}

func teamDescription(agents []AgentDescriptor) string {
	desc := ""
	for i, a := range agents {
		if i > 0 {
			desc += "\n"
		}
		desc += fmt.Sprintf("%s: %s", a.Name, a.Description)
	}
	return desc
}

func buildSystemPrompt(teamDesc string) string {
	return fmt.Sprintf(`You are a helpful AI assistant named Nexus. Your goal is to help the user with their request.
You are a planner, and your task is to devise a plan to address the user's request.

You have access to the following team members that can help you:
%s

Your plan should be a sequence of steps. You must output a JSON object, and nothing else.`, teamDesc)
}

// buildUserPrompt encodes the strict JSON schema, the sentinel-step rules
// when enabled, and the current date (spec §4.7).
func buildUserPrompt(teamDesc, userTask, currentDate string, sentinelEnabled bool) string {
	base := fmt.Sprintf(`Today's date is %s.

Please create a plan for the task: %q

Your response must be a single JSON object that adheres to the following schema. Do not add any text before or after the JSON object.

Team available:
%s

JSON Schema:
{
    "response": "a complete response to the user request if no plan is needed.",
    "task": "a complete description of the task requested by the user",
    "plan_summary": "a complete summary of the plan if a plan is needed, otherwise an empty string",
    "needs_plan": true,
    "steps": [
        {
            "title": "title of step 1",
            "details": "details of step 1",
            "agent_name": "the name of the agent that should complete the step"
        }
    ]
}`, currentDate, userTask, teamDesc)

	if !sentinelEnabled {
		return base
	}

	return base + `

Sentinel steps. If a step describes periodic or long-running monitoring
("check every hour", "keep watching until X happens"), encode it as a
single step rather than expanding it into repeated steps. That step must
additionally carry:
    "step_type": "SentinelPlanStep",
    "condition": <an integer iteration count, or a string predicate describing when to stop>,
    "sleep_duration": <seconds to wait between checks, extracted from phrases like "every hour" (3600) or "every 10 minutes" (600)>
Never expand a repeating or monitoring instruction into multiple steps.`
}

// llmPlanResponse is the exact JSON shape the LLM must return.
type llmPlanResponse struct {
	Response    string           `json:"response"`
	Task        string           `json:"task"`
	PlanSummary string           `json:"plan_summary"`
	NeedsPlan   bool             `json:"needs_plan"`
	Steps       []llmPlanStepRaw `json:"steps"`
}

type llmPlanStepRaw struct {
	Title         string      `json:"title"`
	Details       string      `json:"details"`
	AgentName     string      `json:"agent_name"`
	StepType      string      `json:"step_type,omitempty"`
	Condition     interface{} `json:"condition,omitempty"`
	SleepDuration int         `json:"sleep_duration,omitempty"`
}
