// Package bus implements the typed topic pub/sub agent runtime of spec §4.6:
// a subscription manager, broadcast (publish_message) and RPC
// (send_message) dispatch, and agent containers with FIFO buffering.
//
// The shape follows the Rust original's team/runtime.rs and team/routed.rs
// (async_channel + tokio::spawn + oneshot) translated into Go channels,
// goroutines, and a result channel standing in for oneshot. Lock discipline
// (release the directory mutex before awaiting an agent) follows the
// teacher's GetRuntime/lockSession patterns.
package bus

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nexuscrew/orchestrator/internal/observability"
	"github.com/nexuscrew/orchestrator/internal/rterrors"
)

// GroupChatEvent is the tagged union carried in a message envelope.
// Only Start, AgentResponse, Message, and Termination carry a payload
// message; RequestPublish and Error are control-only (spec §4.6).
type GroupChatEvent struct {
	Kind EventKind

	Messages     []ChatPayload // Start
	Response     ChatPayload   // AgentResponse
	Message      ChatPayload   // Message
	StopMessage  ChatPayload   // Termination
	RequestAgent string        // RequestPublish: target agent type
	ErrorDetail  string        // Error
}

// ChatPayload is the opaque message body the bus moves around; components
// above the bus (orchestrator, web agent) interpret its Body by convention.
type ChatPayload struct {
	Role   string
	Source string
	Body   any

	// MetadataHash, when set by a replying agent, carries a fingerprint of
	// whatever state it perceived while producing Body (e.g. the web
	// agent's page DOM/URL hash). The orchestrator compares consecutive
	// values via NotePageMetadataHash to detect a step that made no
	// progress. Empty means the replying agent has no such notion.
	MetadataHash string
}

// EventKind enumerates GroupChatEvent variants.
type EventKind int

const (
	EventStart EventKind = iota
	EventAgentResponse
	EventMessage
	EventTermination
	EventRequestPublish
	EventError
)

func (k EventKind) carriesPayload() bool {
	return k == EventStart || k == EventAgentResponse || k == EventMessage || k == EventTermination
}

// TopicID identifies a pub/sub topic. Distinct agent types may each carry
// their own topic (e.g. one per worker agent) as well as a shared group
// topic.
type TopicID string

// MessageContext is threaded into every agent dispatch: a fresh message id,
// the originating topic, whether this dispatch is RPC, and the cancellation
// context.
type MessageContext struct {
	MessageID string
	TopicID   TopicID
	IsRPC     bool
	Context   context.Context
}

// Agent is the interface every bus participant implements. OnMessage must
// not block the dispatch loop for long — suspension points (LLM calls,
// browser calls) should check ctx.Context for cancellation throughout.
type Agent interface {
	// OnMessage handles one envelope and optionally returns a reply (used
	// for RPC dispatch; ignored for broadcast, which instead forwards the
	// reply to the runtime's output channel).
	OnMessage(ctx MessageContext, event GroupChatEvent) (ChatPayload, error)
}

// Subscription records "an agent of this type is subscribed to this topic"
// (spec §4.6).
type Subscription struct {
	TopicID   TopicID
	AgentType string
}

// SubscriptionManager holds an ordered subscription list and a cached
// topic -> recipients resolver.
type SubscriptionManager struct {
	mu            sync.RWMutex
	subscriptions []Subscription
	cache         map[TopicID][]string
}

// NewSubscriptionManager returns an empty manager.
func NewSubscriptionManager() *SubscriptionManager {
	return &SubscriptionManager{cache: map[TopicID][]string{}}
}

// Subscribe registers a subscription and invalidates the cache for its topic.
func (sm *SubscriptionManager) Subscribe(sub Subscription) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.subscriptions = append(sm.subscriptions, sub)
	delete(sm.cache, sub.TopicID)
}

// Recipients resolves the ordered list of agent types subscribed to topic,
// building and caching it on first use.
func (sm *SubscriptionManager) Recipients(topic TopicID) []string {
	sm.mu.RLock()
	if cached, ok := sm.cache[topic]; ok {
		sm.mu.RUnlock()
		return cached
	}
	sm.mu.RUnlock()

	sm.mu.Lock()
	defer sm.mu.Unlock()
	if cached, ok := sm.cache[topic]; ok {
		return cached
	}
	var recipients []string
	for _, sub := range sm.subscriptions {
		if sub.TopicID == topic {
			recipients = append(recipients, sub.AgentType)
		}
	}
	sm.cache[topic] = recipients
	return recipients
}

// envelope is the internal dispatch unit: payload + topic + cancellation +
// an optional reply channel selecting RPC semantics.
type envelope struct {
	event     GroupChatEvent
	topic     TopicID
	ctx       context.Context
	replyTo   chan rpcResult // non-nil => RPC
}

type rpcResult struct {
	payload ChatPayload
	err     error
}

// AgentRuntime owns the agent directory, subscription manager, dispatch
// queue, and broadcast output channel (spec §4.6).
type AgentRuntime struct {
	mu      sync.RWMutex
	agents  map[string]Agent
	subs    *SubscriptionManager
	queue   chan envelope
	output  chan ChatPayload
	wg      sync.WaitGroup
	closed  chan struct{}
	logger  Logger
	metrics *observability.Metrics
}

// SetMetrics attaches Metrics so every dispatch records latency and outcome
// per topic. Passing nil disables metrics recording.
func (rt *AgentRuntime) SetMetrics(metrics *observability.Metrics) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	rt.metrics = metrics
}

// Logger is the minimal structured-logging surface the bus needs; satisfied
// by *slog.Logger.
type Logger interface {
	Info(msg string, args ...any)
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
}

// noopLogger discards everything; used when NewRuntime is given a nil logger.
type noopLogger struct{}

func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Warn(string, ...any)  {}

// NewRuntime constructs a runtime and starts its dispatch loop. Callers
// receive the output channel to drain broadcast responses from; Stop must
// be called to terminate the dispatch loop cleanly.
func NewRuntime(logger Logger) *AgentRuntime {
	if logger == nil {
		logger = noopLogger{}
	}
	rt := &AgentRuntime{
		agents: map[string]Agent{},
		subs:   NewSubscriptionManager(),
		queue:  make(chan envelope, 256),
		output: make(chan ChatPayload, 256),
		closed: make(chan struct{}),
		logger: logger,
	}
	go rt.dispatchLoop()
	return rt
}

// Output returns the channel broadcast replies are forwarded to.
func (rt *AgentRuntime) Output() <-chan ChatPayload { return rt.output }

// RegisterAgent adds agentType to the directory (duplicate registration is
// allowed — it replaces the earlier agent).
func (rt *AgentRuntime) RegisterAgent(agentType string, agent Agent) {
	rt.mu.Lock()
	rt.agents[agentType] = agent
	rt.mu.Unlock()
}

// Subscribe registers a Subscription with the runtime's subscription manager.
func (rt *AgentRuntime) Subscribe(topic TopicID, agentType string) {
	rt.subs.Subscribe(Subscription{TopicID: topic, AgentType: agentType})
}

// lookup resolves an agent by type, releasing the directory lock before
// returning (never held across an await, per spec §5).
func (rt *AgentRuntime) lookup(agentType string) (Agent, bool) {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	a, ok := rt.agents[agentType]
	return a, ok
}

// PublishMessage is the broadcast entry point: every recipient of topic
// receives the envelope; processing is concurrent; no reply is awaited by
// the caller (replies are forwarded to Output()).
func (rt *AgentRuntime) PublishMessage(ctx context.Context, event GroupChatEvent, topic TopicID) error {
	select {
	case rt.queue <- envelope{event: event, topic: topic, ctx: ctx}:
		return nil
	case <-rt.closed:
		return fmt.Errorf("runtime closed")
	}
}

// SendMessage is the RPC entry point: delivered to the first recipient of
// topic only; that agent's return value is sent back via a result channel.
// If no recipient exists, it fails with ErrNoResponse.
func (rt *AgentRuntime) SendMessage(ctx context.Context, event GroupChatEvent, topic TopicID) (ChatPayload, error) {
	reply := make(chan rpcResult, 1)
	select {
	case rt.queue <- envelope{event: event, topic: topic, ctx: ctx, replyTo: reply}:
	case <-rt.closed:
		return ChatPayload{}, fmt.Errorf("runtime closed")
	}

	select {
	case res := <-reply:
		return res.payload, res.err
	case <-ctx.Done():
		return ChatPayload{}, rterrors.New(rterrors.KindCancelled, ctx.Err())
	}
}

// Stop terminates the dispatch loop and waits for in-flight dispatches to
// finish.
func (rt *AgentRuntime) Stop() {
	close(rt.closed)
	rt.wg.Wait()
}

// dispatchLoop drains the queue; for each envelope it resolves recipients
// and spawns dispatch tasks, per spec §4.6's dispatch-loop description.
func (rt *AgentRuntime) dispatchLoop() {
	for {
		select {
		case env := <-rt.queue:
			rt.dispatch(env)
		case <-rt.closed:
			return
		}
	}
}

func (rt *AgentRuntime) dispatch(env envelope) {
	if !env.event.Kind.carriesPayload() && env.event.Kind != EventRequestPublish {
		// Error events are control-only and are skipped; every other kind
		// is dispatched, even with an empty payload.
		return
	}

	recipients := rt.subs.Recipients(env.topic)

	if env.replyTo != nil {
		// RPC: first recipient only.
		if len(recipients) == 0 {
			env.replyTo <- rpcResult{err: rterrors.New(rterrors.KindUnhandled, rterrors.ErrNoResponse)}
			return
		}
		agent, ok := rt.lookup(recipients[0])
		if !ok {
			env.replyTo <- rpcResult{err: rterrors.New(rterrors.KindUnhandled, rterrors.ErrNoResponse)}
			return
		}
		rt.wg.Add(1)
		go func() {
			defer rt.wg.Done()
			mc := MessageContext{MessageID: uuid.NewString(), TopicID: env.topic, IsRPC: true, Context: env.ctx}
			start := time.Now()
			payload, err := agent.OnMessage(mc, env.event)
			rt.recordDispatch(env.topic, err, start)
			env.replyTo <- rpcResult{payload: payload, err: err}
		}()
		return
	}

	// Broadcast: one task per (message, recipient) pair.
	for _, agentType := range recipients {
		agent, ok := rt.lookup(agentType)
		if !ok {
			continue
		}
		rt.wg.Add(1)
		go func(a Agent) {
			defer rt.wg.Done()
			mc := MessageContext{MessageID: uuid.NewString(), TopicID: env.topic, IsRPC: false, Context: env.ctx}
			start := time.Now()
			payload, err := a.OnMessage(mc, env.event)
			rt.recordDispatch(env.topic, err, start)
			if err != nil {
				rt.logger.Warn("agent dispatch failed", "error", err)
				return
			}
			select {
			case rt.output <- payload:
			case <-rt.closed:
			}
		}(agent)
	}
}

func (rt *AgentRuntime) recordDispatch(topic TopicID, err error, start time.Time) {
	rt.mu.RLock()
	metrics := rt.metrics
	rt.mu.RUnlock()
	if metrics == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	metrics.RecordBusDispatch(string(topic), status, time.Since(start).Seconds())
}
