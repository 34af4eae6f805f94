// Package chatmsg implements the chat-message algebra consumed by the
// planner and web agent: a tagged-union ChatMessage type, its deterministic
// mapping onto the LLM-facing LLMMessage form, and a token-limited
// completion context.
package chatmsg

import (
	"github.com/nexuscrew/orchestrator/internal/rterrors"
)

// Role is the speaker role of a ChatMessage or LLMMessage.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ContentPart is one element of a MultiModal message's content list.
type ContentPart struct {
	Text  string // set when Image is nil
	Image []byte // PNG bytes; set when this part is an image
}

// IsImage reports whether this part carries image bytes rather than text.
func (p ContentPart) IsImage() bool { return p.Image != nil }

// ChatMessage is the tagged union described in spec §3: either plain Text or
// MultiModal content. Only RoleUser may carry MultiModal content — enforced
// by ToLLMMessage, not by the constructors (a message can be built and later
// rejected at the conversion boundary, matching the "fatal at call site"
// semantics of ErrInvalidRole).
type ChatMessage struct {
	Role     Role
	Source   string
	Text     string // populated for Text messages
	Parts    []ContentPart // populated for MultiModal messages (nil => Text)
	Metadata map[string]string
}

// IsMultiModal reports whether this message carries a Parts list.
func (m ChatMessage) IsMultiModal() bool { return m.Parts != nil }

// NewText constructs a plain-text ChatMessage.
func NewText(role Role, source, text string) ChatMessage {
	return ChatMessage{Role: role, Source: source, Text: text}
}

// NewMultiModal constructs a multimodal ChatMessage. Callers must only use
// RoleUser; ToLLMMessage enforces this at conversion time.
func NewMultiModal(role Role, source string, parts []ContentPart) ChatMessage {
	return ChatMessage{Role: role, Source: source, Parts: parts}
}

// LLMMessage is the LLM-facing normalized form (spec §3/§4.5).
type LLMMessage struct {
	Kind Role // System | User | Assistant | Tool

	// System
	SystemContent string

	// User
	UserContent      string        // set when the user turn is plain text
	UserMultiModal   []ContentPart // set when the user turn carries multimodal parts
	UserSource       string

	// Assistant
	AssistantContent string
	AssistantCalls   []FunctionCall // set when the assistant emitted tool calls instead of text
	AssistantSource  string

	// Tool
	ToolContent string
	ToolName    string
	ToolCallID  string
}

// FunctionCall is one LLM-issued tool invocation.
type FunctionCall struct {
	ID        string
	Name      string
	Arguments string // raw JSON
}

// ToLLMMessage implements chat_to_llm from spec §4.5.
func ToLLMMessage(m ChatMessage) (LLMMessage, error) {
	if m.IsMultiModal() && m.Role != RoleUser {
		return LLMMessage{}, rterrors.New(rterrors.KindInvalidRole, rterrors.ErrInvalidRole)
	}

	switch m.Role {
	case RoleSystem:
		return LLMMessage{Kind: RoleSystem, SystemContent: m.Text}, nil
	case RoleUser:
		if m.IsMultiModal() {
			return LLMMessage{Kind: RoleUser, UserMultiModal: m.Parts, UserSource: m.Source}, nil
		}
		return LLMMessage{Kind: RoleUser, UserContent: m.Text, UserSource: m.Source}, nil
	case RoleAssistant:
		return LLMMessage{Kind: RoleAssistant, AssistantContent: m.Text, AssistantSource: m.Source}, nil
	case RoleTool:
		name := m.Metadata["tool_name"]
		if name == "" {
			name = "unknown"
		}
		callID := m.Metadata["tool_call_id"]
		if callID == "" {
			callID = "unknown"
		}
		return LLMMessage{Kind: RoleTool, ToolContent: m.Text, ToolName: name, ToolCallID: callID}, nil
	default:
		return LLMMessage{}, rterrors.Newf(rterrors.KindInvalidRole, "unknown role %q", m.Role)
	}
}
