package bus

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexuscrew/orchestrator/internal/rterrors"
)

type echoAgent struct{ reply string }

func (e echoAgent) OnMessage(ctx MessageContext, event GroupChatEvent) (ChatPayload, error) {
	return ChatPayload{Role: "assistant", Source: "echo", Body: e.reply}, nil
}

func TestSendMessageRPCReturnsFirstRecipientReply(t *testing.T) {
	rt := NewRuntime(nil)
	defer rt.Stop()

	rt.RegisterAgent("B", echoAgent{reply: "hello from B"})
	rt.Subscribe("T", "B")

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	reply, err := rt.SendMessage(ctx, GroupChatEvent{Kind: EventMessage, Message: ChatPayload{Body: "hi"}}, "T")
	require.NoError(t, err)
	assert.Equal(t, "hello from B", reply.Body)
}

func TestSendMessageNoSubscriberReturnsNoResponseError(t *testing.T) {
	rt := NewRuntime(nil)
	defer rt.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	_, err := rt.SendMessage(ctx, GroupChatEvent{Kind: EventMessage, Message: ChatPayload{Body: "hi"}}, "empty-topic")
	require.Error(t, err)
	assert.ErrorIs(t, err, rterrors.ErrNoResponse)
}

func TestPublishMessageBroadcastsToAllRecipientsViaOutput(t *testing.T) {
	rt := NewRuntime(nil)
	defer rt.Stop()

	rt.RegisterAgent("B", echoAgent{reply: "from B"})
	rt.RegisterAgent("C", echoAgent{reply: "from C"})
	rt.Subscribe("T", "B")
	rt.Subscribe("T", "C")

	ctx := context.Background()
	require.NoError(t, rt.PublishMessage(ctx, GroupChatEvent{Kind: EventMessage, Message: ChatPayload{Body: "hi"}}, "T"))

	seen := map[string]bool{}
	for i := 0; i < 2; i++ {
		select {
		case payload := <-rt.Output():
			seen[payload.Body.(string)] = true
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for broadcast output")
		}
	}
	assert.True(t, seen["from B"])
	assert.True(t, seen["from C"])
}

func TestSubscriptionManagerCachesRecipients(t *testing.T) {
	sm := NewSubscriptionManager()
	sm.Subscribe(Subscription{TopicID: "T", AgentType: "A"})
	first := sm.Recipients("T")
	sm.Subscribe(Subscription{TopicID: "T", AgentType: "B"})
	second := sm.Recipients("T")

	assert.Equal(t, []string{"A"}, first)
	assert.Equal(t, []string{"A", "B"}, second)
}

func TestRoutedAgentBuffersUntilRequestPublish(t *testing.T) {
	rt := NewRuntime(nil)
	defer rt.Stop()

	var flushedCount int
	routed := NewRoutedAgent("worker", "group", rt, func(ctx MessageContext, buffered []GroupChatEvent) (ChatPayload, error) {
		flushedCount = len(buffered)
		return ChatPayload{Role: "assistant", Body: "done"}, nil
	})

	mc := MessageContext{Context: context.Background()}
	_, _ = routed.OnMessage(mc, GroupChatEvent{Kind: EventStart})
	_, _ = routed.OnMessage(mc, GroupChatEvent{Kind: EventAgentResponse})
	reply, err := routed.OnMessage(mc, GroupChatEvent{Kind: EventRequestPublish})

	require.NoError(t, err)
	assert.Equal(t, 2, flushedCount)
	assert.Equal(t, "done", reply.Body)
}
