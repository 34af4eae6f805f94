package chatmsg

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexuscrew/orchestrator/internal/rterrors"
)

func TestToLLMMessage_RejectsMultiModalOutsideUser(t *testing.T) {
	msg := NewMultiModal(RoleAssistant, "agent", []ContentPart{{Text: "hi"}})
	_, err := ToLLMMessage(msg)
	require.Error(t, err)
	assert.True(t, rterrors.Is(err, rterrors.KindInvalidRole))
}

func TestToLLMMessage_ToolDefaults(t *testing.T) {
	msg := NewText(RoleTool, "tool", "result")
	out, err := ToLLMMessage(msg)
	require.NoError(t, err)
	assert.Equal(t, "unknown", out.ToolName)
	assert.Equal(t, "unknown", out.ToolCallID)
}

func TestToLLMMessage_ToolMetadata(t *testing.T) {
	msg := NewText(RoleTool, "tool", "result")
	msg.Metadata = map[string]string{"tool_name": "click", "tool_call_id": "abc"}
	out, err := ToLLMMessage(msg)
	require.NoError(t, err)
	assert.Equal(t, "click", out.ToolName)
	assert.Equal(t, "abc", out.ToolCallID)
}

func TestContext_GetMessagesNeverStartsWithTool(t *testing.T) {
	ctx := NewContext(FixedLimitCounter{Limit: 1 << 20}, nil)
	ctx.AddMessage(LLMMessage{Kind: RoleTool, ToolContent: "dangling"})
	ctx.AddMessage(LLMMessage{Kind: RoleUser, UserContent: "hello"})

	got := ctx.GetMessages()
	require.NotEmpty(t, got)
	assert.NotEqual(t, RoleTool, got[0].Kind)
}

func TestContext_ReductionPreservesPrefixAndSuffix(t *testing.T) {
	ctx := NewContext(FixedLimitCounter{Limit: 1}, nil)
	ctx.AddMessage(LLMMessage{Kind: RoleSystem, SystemContent: "sys"})
	for i := 0; i < 20; i++ {
		ctx.AddMessage(LLMMessage{Kind: RoleUser, UserContent: "filler filler filler"})
	}
	ctx.AddMessage(LLMMessage{Kind: RoleAssistant, AssistantContent: "last"})

	got := ctx.GetMessages()
	require.NotEmpty(t, got)
	assert.Equal(t, RoleSystem, got[0].Kind)
	assert.Equal(t, "last", got[len(got)-1].AssistantContent)
}

func TestContext_SaveLoadRoundTrip(t *testing.T) {
	ctx := NewContext(FixedLimitCounter{Limit: 1 << 20}, nil)
	ctx.AddMessage(LLMMessage{Kind: RoleUser, UserContent: "a"})
	ctx.AddMessage(LLMMessage{Kind: RoleAssistant, AssistantContent: "b"})

	saved := ctx.SaveState()

	other := NewContext(FixedLimitCounter{Limit: 1 << 20}, nil)
	other.LoadState(saved)

	assert.Equal(t, ctx.GetMessages(), other.GetMessages())
}
