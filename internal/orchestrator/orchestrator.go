// Package orchestrator implements the planning/execution state machine of
// spec §4.8. Event-emission, mutex-guarded metadata, and the
// "emitEvent/eventCallback" observation hook are grounded on
// haasonsaas-nexus's internal/multiagent/orchestrator.go; state/field
// shape is cross-checked against original_source/orchestrator/orchestrator.rs
// (OrchestratorConfig, set_internal_variables, handle_start), whose own step
// bodies were left unimplemented in the Rust original — the step-dispatch
// and transition logic below is this package's own synthesis of spec
// §4.8's prose, not a port of Rust code.
package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/nexuscrew/orchestrator/internal/bus"
	"github.com/nexuscrew/orchestrator/internal/chatmsg"
	"github.com/nexuscrew/orchestrator/internal/observability"
	"github.com/nexuscrew/orchestrator/internal/planner"
)

// State is one of the five orchestrator states of spec §4.8.
type State int

const (
	StatePlanning State = iota
	StateExecuting
	StateReplan
	StatePaused
	StateTerminal
)

func (s State) String() string {
	switch s {
	case StatePlanning:
		return "planning"
	case StateExecuting:
		return "executing"
	case StateReplan:
		return "replan"
	case StatePaused:
		return "paused"
	case StateTerminal:
		return "terminal"
	default:
		return "unknown"
	}
}

// Config configures an Orchestrator.
type Config struct {
	AllowForReplans bool
	MaxReplans      int
	MaxTurns        int // default 20
	UserAgentTopic  bus.TopicID
}

func (c Config) withDefaults() Config {
	if c.MaxTurns <= 0 {
		c.MaxTurns = 20
	}
	if c.MaxReplans <= 0 {
		c.MaxReplans = 3
	}
	return c
}

// Event is emitted for each orchestrator transition, grounded on the
// teacher's OrchestratorEvent/emitEvent observation hook.
type Event struct {
	Type    string // "step_dispatched" | "step_completed" | "replanning" | "paused" | "resumed" | "terminated"
	State   State
	StepIdx int
	Detail  string
}

// Orchestrator drives the Planning -> Executing -> Replan -> Terminal state
// machine of spec §4.8.
type Orchestrator struct {
	mu sync.Mutex

	cfg     Config
	rt      *bus.AgentRuntime
	planner *planner.Planner

	state   State
	prePause State
	stepIdx int

	task                 string
	plan                 *planner.Plan
	nRounds              int
	nReplans             int
	messageHistory       []chatmsg.ChatMessage
	informationCollected []string
	lastMetadataHash     string
	isPaused             bool

	eventCallback func(Event)

	log     *observability.Logger
	tracer  *observability.Tracer
	metrics *observability.Metrics
	runID   string
}

// New constructs an Orchestrator bound to rt and p.
func New(cfg Config, rt *bus.AgentRuntime, p *planner.Planner) *Orchestrator {
	return &Orchestrator{cfg: cfg.withDefaults(), rt: rt, planner: p, state: StatePlanning}
}

// WithObservability attaches a Logger, Tracer, and Metrics; any of the three
// may be nil, in which case that concern is skipped. runID correlates every
// subsequent log line, span, and metric emitted by this Orchestrator.
func (o *Orchestrator) WithObservability(log *observability.Logger, tracer *observability.Tracer, metrics *observability.Metrics, runID string) *Orchestrator {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.log, o.tracer, o.metrics, o.runID = log, tracer, metrics, runID
	return o
}

// SetEventCallback registers a callback invoked on every transition.
func (o *Orchestrator) SetEventCallback(cb func(Event)) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.eventCallback = cb
}

func (o *Orchestrator) emit(ev Event) {
	if o.eventCallback != nil {
		o.eventCallback(ev)
	}
}

// State returns the orchestrator's current state.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Start implements handle_start: generate a plan for task and either
// terminate immediately (needs_plan=false) or dispatch step 0.
func (o *Orchestrator) Start(ctx context.Context, task string) error {
	o.mu.Lock()
	o.task = task
	o.messageHistory = append(o.messageHistory, chatmsg.NewText(chatmsg.RoleUser, "user", task))
	o.mu.Unlock()

	if o.runID != "" {
		ctx = observability.AddRunID(ctx, o.runID)
	}
	if o.metrics != nil {
		o.metrics.RunStarted()
	}
	if o.log != nil {
		o.log.WithContext(ctx).Info(ctx, "orchestrator run started", "task", task)
	}

	return o.plan_(ctx)
}

// plan_ runs the Planning state: generate a plan, transition to Executing(0)
// or Terminal depending on needs_plan.
func (o *Orchestrator) plan_(ctx context.Context) error {
	o.mu.Lock()
	task := o.task
	tracer, metrics := o.tracer, o.metrics
	o.mu.Unlock()

	if tracer != nil {
		var span trace.Span
		ctx, span = tracer.TraceReplan(ctx, o.runID, o.nReplans, "plan")
		defer span.End()
	}

	result, err := o.planner.Generate(ctx, task)
	if err != nil {
		return fmt.Errorf("orchestrator: plan generation failed: %w", err)
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	if result.Response != nil {
		o.informationCollected = append(o.informationCollected, result.Response.Response)
		o.state = StateTerminal
		o.emit(Event{Type: "terminated", State: o.state, Detail: result.Response.Response})
		if o.log != nil {
			o.log.WithContext(ctx).Info(ctx, "orchestrator run terminated without a plan", "answer", result.Response.Response)
		}
		if metrics != nil {
			metrics.RunEnded()
		}
		return nil
	}

	o.plan = result.Plan
	o.stepIdx = 0
	o.state = StateExecuting
	return o.dispatchStepLocked(ctx)
}

// dispatchStepLocked publishes the instruction for the current step to its
// agent's topic. Caller must hold o.mu on entry; dispatchStepLocked releases
// it for the duration of the blocking bus RPC below and re-acquires it
// before returning, so it always returns with o.mu held — per spec §5, the
// orchestrator never holds the lock across an await on the bus.
func (o *Orchestrator) dispatchStepLocked(ctx context.Context) error {
	if o.isPaused {
		o.prePause = o.state
		o.state = StatePaused
		o.emit(Event{Type: "paused", State: o.state, StepIdx: o.stepIdx})
		return nil
	}

	step := o.plan.Steps[o.stepIdx]
	instruction := fmt.Sprintf("Step %d: %s\n\n%s", o.stepIdx, step.Title, step.Details)
	o.messageHistory = append(o.messageHistory, chatmsg.NewText(chatmsg.RoleAssistant, "orchestrator", instruction))
	o.nRounds++

	o.emit(Event{Type: "step_dispatched", State: o.state, StepIdx: o.stepIdx, Detail: step.AgentName})

	runID, tracer, logger, metrics := o.runID, o.tracer, o.log, o.metrics
	stepIdx := o.stepIdx

	stepCtx := ctx
	if runID != "" {
		stepCtx = observability.AddStepID(stepCtx, fmt.Sprintf("%d", stepIdx))
	}
	var span trace.Span
	if tracer != nil {
		stepCtx, span = tracer.TraceOrchestratorStep(stepCtx, runID, fmt.Sprintf("%d", stepIdx), step.AgentName)
	}
	if logger != nil {
		logger.WithContext(stepCtx).Info(stepCtx, "dispatching step", "agent", step.AgentName)
	}
	start := time.Now()

	event := bus.GroupChatEvent{
		Kind:    bus.EventMessage,
		Message: bus.ChatPayload{Role: "assistant", Source: "orchestrator", Body: instruction},
	}

	o.mu.Unlock()
	reply, err := o.rt.SendMessage(stepCtx, event, bus.TopicID(step.AgentName))
	o.mu.Lock()

	if metrics != nil {
		status := "success"
		if err != nil {
			status = "error"
		}
		metrics.RecordOrchestratorStep(step.AgentName, status, time.Since(start).Seconds())
	}
	if span != nil {
		if err != nil {
			tracer.RecordError(span, err)
		}
		span.End()
	}
	if err != nil {
		return fmt.Errorf("orchestrator: dispatching step %d to %s: %w", stepIdx, step.AgentName, err)
	}

	return o.handleStepResponseLocked(ctx, reply)
}

// HandleStepResponse is the externally-driven entry point (for a bus
// consumer that receives the agent's reply asynchronously rather than via
// the blocking SendMessage path above). It is equivalent to what
// dispatchStepLocked does inline when SendMessage is used synchronously.
func (o *Orchestrator) HandleStepResponse(ctx context.Context, reply bus.ChatPayload) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.handleStepResponseLocked(ctx, reply)
}

func (o *Orchestrator) handleStepResponseLocked(ctx context.Context, reply bus.ChatPayload) error {
	text := fmt.Sprintf("%v", reply.Body)
	o.messageHistory = append(o.messageHistory, chatmsg.NewText(chatmsg.RoleAssistant, reply.Source, text))
	o.informationCollected = append(o.informationCollected, text)

	o.emit(Event{Type: "step_completed", State: o.state, StepIdx: o.stepIdx, Detail: text})

	stuckOnSamePage := o.notePageMetadataHashLocked(reply.MetadataHash)
	if (shouldReplan(text) || stuckOnSamePage) && o.cfg.AllowForReplans && o.nReplans < o.cfg.MaxReplans {
		o.nReplans++
		o.state = StateReplan
		o.emit(Event{Type: "replanning", State: o.state, StepIdx: o.stepIdx})
		if o.metrics != nil {
			reason := "step_unhelpful_response"
			if stuckOnSamePage {
				reason = "page_metadata_unchanged"
			}
			o.metrics.RecordReplan(reason)
		}
		o.mu.Unlock()
		err := o.plan_(ctx)
		o.mu.Lock()
		return err
	}

	o.stepIdx++
	if o.stepIdx >= len(o.plan.Steps) || o.nRounds >= o.cfg.MaxTurns {
		o.state = StateTerminal
		final := o.composeFinalAnswerLocked()
		o.emit(Event{Type: "terminated", State: o.state, Detail: final})
		if o.log != nil {
			o.log.WithContext(ctx).Info(ctx, "orchestrator run terminated", "answer", final, "rounds", o.nRounds)
		}
		if o.metrics != nil {
			o.metrics.RunEnded()
		}
		return nil
	}

	return o.dispatchStepLocked(ctx)
}

// shouldReplan implements the text half of the Open Question decision
// recorded in DESIGN.md: replan when the response reads as an unhelpfully
// short non-answer. The other half (the page made no progress) is checked
// by handleStepResponseLocked, which compares the reply's MetadataHash via
// notePageMetadataHashLocked.
func shouldReplan(response string) bool {
	trimmed := response
	for len(trimmed) > 0 && (trimmed[len(trimmed)-1] == '\n' || trimmed[len(trimmed)-1] == ' ') {
		trimmed = trimmed[:len(trimmed)-1]
	}
	return len(trimmed) < 8
}

// Pause sets is_paused=true; the next step dispatch is withheld and the
// orchestrator enters StatePaused until Resume. Nothing is sent while
// paused: the step is not routed to Config.UserAgentTopic or to any other
// topic.
func (o *Orchestrator) Pause() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.isPaused = true
}

// Resume restores normal routing.
func (o *Orchestrator) Resume(ctx context.Context) error {
	o.mu.Lock()
	o.isPaused = false
	o.state = o.prePause
	o.emit(Event{Type: "resumed", State: o.state, StepIdx: o.stepIdx})
	resumeState := o.state
	o.mu.Unlock()

	if resumeState == StateExecuting {
		o.mu.Lock()
		defer o.mu.Unlock()
		return o.dispatchStepLocked(ctx)
	}
	return nil
}

// composeFinalAnswerLocked builds the final answer from
// information_collected and the last observation, per spec §4.8. Caller
// must hold o.mu.
func (o *Orchestrator) composeFinalAnswerLocked() string {
	if len(o.informationCollected) == 0 {
		return ""
	}
	return strings.Join(o.informationCollected, "\n\n")
}

// FinalAnswer returns the composed final answer once Terminal is reached.
func (o *Orchestrator) FinalAnswer() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.composeFinalAnswerLocked()
}

// NotePageMetadataHash feeds a page-metadata hash into the replan heuristic:
// two identical consecutive hashes indicate no progress. Exported for direct
// use by callers that don't already hold o.mu (tests, external drivers);
// handleStepResponseLocked calls notePageMetadataHashLocked instead, since it
// runs with the lock already held.
func (o *Orchestrator) NotePageMetadataHash(hash string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.notePageMetadataHashLocked(hash)
}

// notePageMetadataHashLocked is NotePageMetadataHash's body. Caller must
// hold o.mu.
func (o *Orchestrator) notePageMetadataHashLocked(hash string) bool {
	stuck := hash != "" && hash == o.lastMetadataHash
	o.lastMetadataHash = hash
	return stuck
}
