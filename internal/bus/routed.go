package bus

import "sync"

// HandlerFunc processes one GroupChatEvent for a RoutedAgent's wrapped
// worker and optionally returns a reply payload.
type HandlerFunc func(ctx MessageContext, event GroupChatEvent) (ChatPayload, error)

// RoutedAgent wraps a worker and dispatches incoming events to registered
// per-kind handlers, buffering Start/AgentResponse events FIFO until a
// RequestPublish event flushes the buffer into the worker's streamed
// handler and publishes the result on the parent topic (spec §4.6 "Agent
// container"). Grounded on original_source/src/team/routed.rs's handler
// registration pattern, adapted from Rust's type-id dispatch to a Go
// EventKind-keyed map since Go has no downcasting.
type RoutedAgent struct {
	mu          sync.Mutex
	description string
	handlers    map[EventKind]HandlerFunc
	buffer      []GroupChatEvent
	parentTopic TopicID
	runtime     *AgentRuntime

	// stream is invoked once the buffer is flushed on RequestPublish; it
	// receives the buffered events and returns the worker's response.
	stream func(ctx MessageContext, buffered []GroupChatEvent) (ChatPayload, error)
}

// NewRoutedAgent constructs a container publishing flushed responses on
// parentTopic via runtime.
func NewRoutedAgent(description string, parentTopic TopicID, runtime *AgentRuntime, stream func(MessageContext, []GroupChatEvent) (ChatPayload, error)) *RoutedAgent {
	return &RoutedAgent{
		description: description,
		handlers:    map[EventKind]HandlerFunc{},
		parentTopic: parentTopic,
		runtime:     runtime,
		stream:      stream,
	}
}

// Description returns the container's human-readable role.
func (r *RoutedAgent) Description() string { return r.description }

// RegisterHandler registers a non-buffering, immediate handler for the given
// event kind (used for control events that don't participate in the
// streamed buffer, e.g. EventError).
func (r *RoutedAgent) RegisterHandler(kind EventKind, fn HandlerFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[kind] = fn
}

// OnMessage implements Agent. Start and AgentResponse events are appended to
// the FIFO buffer; RequestPublish flushes the buffer through stream and
// publishes the result on parentTopic, then clears the buffer; any other
// registered handler is invoked directly; unhandled kinds are logged and
// dropped (spec §4.6, §7 ErrUnhandled).
func (r *RoutedAgent) OnMessage(ctx MessageContext, event GroupChatEvent) (ChatPayload, error) {
	switch event.Kind {
	case EventStart, EventAgentResponse:
		r.mu.Lock()
		r.buffer = append(r.buffer, event)
		r.mu.Unlock()
		return ChatPayload{}, nil

	case EventRequestPublish:
		r.mu.Lock()
		buffered := r.buffer
		r.buffer = nil
		r.mu.Unlock()

		reply, err := r.stream(ctx, buffered)
		if err != nil {
			return ChatPayload{}, err
		}
		if r.runtime != nil {
			_ = r.runtime.PublishMessage(ctx.Context, GroupChatEvent{Kind: EventAgentResponse, Response: reply}, r.parentTopic)
		}
		return reply, nil

	default:
		r.mu.Lock()
		handler, ok := r.handlers[event.Kind]
		r.mu.Unlock()
		if !ok {
			if r.runtime != nil {
				r.runtime.logger.Warn("unhandled event", "agent", r.description, "kind", event.Kind)
			}
			return ChatPayload{}, nil // unhandled: logged, then dropped
		}
		return handler(ctx, event)
	}
}
