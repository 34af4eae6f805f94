package planner

import (
	"context"
	"encoding/json"
	"fmt"

	"go.opentelemetry.io/otel/trace"

	"github.com/nexuscrew/orchestrator/internal/chatmsg"
	"github.com/nexuscrew/orchestrator/internal/llmclient"
	"github.com/nexuscrew/orchestrator/internal/observability"
	"github.com/nexuscrew/orchestrator/internal/rterrors"
)

// Config configures a Planner.
type Config struct {
	Agents          []AgentDescriptor
	MaxJSONRetries  int // default 3, per spec §4.7
	SentinelEnabled bool
}

func (c Config) withDefaults() Config {
	if c.MaxJSONRetries <= 0 {
		c.MaxJSONRetries = 3
	}
	return c
}

// Planner generates a Plan or a DirectResponse from a user task, per spec
// §4.7.
type Planner struct {
	cfg    Config
	client llmclient.Client
	// now supplies the current date string interpolated into the user
	// prompt; overridable in tests, since the harness forbids Date.now-
	// style nondeterminism in generated artifacts.
	now func() string

	log     *observability.Logger
	tracer  *observability.Tracer
	metrics *observability.Metrics
}

// New constructs a Planner backed by client.
func New(cfg Config, client llmclient.Client, now func() string) *Planner {
	cfg = cfg.withDefaults()
	return &Planner{cfg: cfg, client: client, now: now}
}

// WithObservability attaches a Logger, Tracer, and Metrics; any of the
// three may be nil, in which case that concern is skipped.
func (p *Planner) WithObservability(log *observability.Logger, tracer *observability.Tracer, metrics *observability.Metrics) *Planner {
	p.log, p.tracer, p.metrics = log, tracer, metrics
	return p
}

// Result is either a validated Plan or a DirectResponse, mutually
// exclusive per spec §4.7's "needs_plan" branch.
type Result struct {
	Plan     *Plan
	Response *DirectResponse
}

// Generate runs the prompt-construct / LLM-call / validate / retry loop of
// spec §4.7.
func (p *Planner) Generate(ctx context.Context, userTask string) (Result, error) {
	teamDesc := teamDescription(p.cfg.Agents)
	systemPrompt := buildSystemPrompt(teamDesc)
	userPrompt := buildUserPrompt(teamDesc, userTask, p.now(), p.cfg.SentinelEnabled)

	messages := []chatmsg.LLMMessage{
		{Kind: chatmsg.RoleSystem, SystemContent: systemPrompt},
		{Kind: chatmsg.RoleUser, UserContent: userPrompt},
	}

	if p.tracer != nil {
		var span trace.Span
		ctx, span = p.tracer.TraceLLMRequest(ctx, "planner", "")
		defer span.End()
	}

	var lastErr error
	for attempt := 0; attempt <= p.cfg.MaxJSONRetries; attempt++ {
		res, err := p.client.Create(ctx, messages, nil, true)
		if err != nil {
			if p.metrics != nil {
				p.metrics.RecordPlanGenerationAttempt("failed")
			}
			return Result{}, rterrors.New(rterrors.KindPlanGeneration, err)
		}

		parsed, verr := parseAndValidate(res.Content, p.cfg.Agents)
		if verr == nil {
			if p.metrics != nil {
				status := "success"
				if attempt > 0 {
					status = "success_after_retry"
				}
				p.metrics.RecordPlanGenerationAttempt(status)
			}
			return toResult(parsed), nil
		}

		if p.log != nil {
			p.log.WithContext(ctx).Warn(ctx, "plan response failed validation, retrying", "attempt", attempt, "error", verr.Error())
		}
		if p.metrics != nil {
			p.metrics.RecordPlanGenerationAttempt("json_retry")
		}

		lastErr = verr
		messages = append(messages,
			chatmsg.LLMMessage{Kind: chatmsg.RoleAssistant, AssistantContent: res.Content},
			chatmsg.LLMMessage{Kind: chatmsg.RoleUser, UserContent: fmt.Sprintf("Your last response was invalid: %v. Please reissue a corrected JSON object matching the schema exactly.", verr)},
		)
	}

	if p.metrics != nil {
		p.metrics.RecordPlanGenerationAttempt("failed")
	}
	return Result{}, rterrors.New(rterrors.KindPlanGeneration, fmt.Errorf("exhausted %d retries: %w", p.cfg.MaxJSONRetries, lastErr))
}

func parseAndValidate(content string, agents []AgentDescriptor) (llmPlanResponse, error) {
	var parsed llmPlanResponse
	if err := json.Unmarshal([]byte(content), &parsed); err != nil {
		return llmPlanResponse{}, fmt.Errorf("response is not valid JSON: %w", err)
	}
	if err := validate(parsed, agents); err != nil {
		return llmPlanResponse{}, err
	}
	return parsed, nil
}

func validate(r llmPlanResponse, agents []AgentDescriptor) error {
	if !r.NeedsPlan {
		if r.Response == "" {
			return fmt.Errorf(`"response" must be non-empty when needs_plan is false`)
		}
		return nil
	}
	if len(r.Steps) == 0 {
		return fmt.Errorf(`"steps" must be non-empty when needs_plan is true`)
	}

	known := make(map[string]bool, len(agents))
	for _, a := range agents {
		known[a.Name] = true
	}

	for i, s := range r.Steps {
		if s.Title == "" {
			return fmt.Errorf("step %d missing required field %q", i, "title")
		}
		if s.Details == "" {
			return fmt.Errorf("step %d missing required field %q", i, "details")
		}
		if s.AgentName == "" {
			return fmt.Errorf("step %d missing required field %q", i, "agent_name")
		}
		if !known[s.AgentName] {
			return fmt.Errorf("step %d names unknown agent %q", i, s.AgentName)
		}
		if s.StepType == SentinelStepType {
			if s.Condition == nil {
				return fmt.Errorf("sentinel step %d missing required field %q", i, "condition")
			}
			if s.SleepDuration <= 0 {
				return fmt.Errorf("sentinel step %d missing required field %q", i, "sleep_duration")
			}
		}
	}
	return nil
}

func toResult(r llmPlanResponse) Result {
	if !r.NeedsPlan {
		return Result{Response: &DirectResponse{Response: r.Response}}
	}
	steps := make([]PlanStep, 0, len(r.Steps))
	for _, s := range r.Steps {
		step := PlanStep{Title: s.Title, Details: s.Details, AgentName: s.AgentName, StepType: s.StepType}
		if s.StepType == SentinelStepType {
			step.SleepDuration = s.SleepDuration
			switch v := s.Condition.(type) {
			case string:
				step.Condition = v
			case float64:
				step.Condition = fmt.Sprintf("%d", int(v))
			}
		}
		steps = append(steps, step)
	}
	return Result{Plan: &Plan{Task: r.Task, PlanSummary: r.PlanSummary, Steps: steps}}
}
