package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexuscrew/orchestrator/internal/bus"
	"github.com/nexuscrew/orchestrator/internal/chatmsg"
	"github.com/nexuscrew/orchestrator/internal/llmclient"
	"github.com/nexuscrew/orchestrator/internal/planner"
	"github.com/nexuscrew/orchestrator/internal/toolkit"
)

type scriptedPlannerClient struct {
	responses []string
	calls     int
}

func (c *scriptedPlannerClient) Create(ctx context.Context, messages []chatmsg.LLMMessage, tools []toolkit.Schema, jsonOutput bool) (llmclient.Result, error) {
	idx := c.calls
	if idx >= len(c.responses) {
		idx = len(c.responses) - 1
	}
	c.calls++
	return llmclient.Result{Content: c.responses[idx]}, nil
}

type stubWorker struct{ reply string }

func (w stubWorker) OnMessage(ctx bus.MessageContext, event bus.GroupChatEvent) (bus.ChatPayload, error) {
	return bus.ChatPayload{Role: "assistant", Source: "worker", Body: w.reply}, nil
}

// sequencedWorker returns successive replies on each call, clamping to the
// last once exhausted — used to make a single step first stall (triggering
// a replan) then succeed.
type sequencedWorker struct {
	replies []string
	calls   int
}

func (w *sequencedWorker) OnMessage(ctx bus.MessageContext, event bus.GroupChatEvent) (bus.ChatPayload, error) {
	idx := w.calls
	if idx >= len(w.replies) {
		idx = len(w.replies) - 1
	}
	w.calls++
	return bus.ChatPayload{Role: "assistant", Source: "worker", Body: w.replies[idx]}, nil
}

func testAgents() []planner.AgentDescriptor {
	return []planner.AgentDescriptor{{Name: "web_surfer", Description: "browses the web"}}
}

func TestStartTerminatesImmediatelyWhenNoPlanNeeded(t *testing.T) {
	client := &scriptedPlannerClient{responses: []string{
		`{"response":"2+2 is 4","task":"arithmetic","plan_summary":"","needs_plan":false,"steps":[]}`,
	}}
	p := planner.New(planner.Config{Agents: testAgents()}, client, func() string { return "2026-07-31" })
	rt := bus.NewRuntime(nil)
	defer rt.Stop()

	o := New(Config{}, rt, p)
	require.NoError(t, o.Start(context.Background(), "what is 2+2"))

	assert.Equal(t, StateTerminal, o.State())
	assert.Equal(t, "2+2 is 4", o.FinalAnswer())
}

func TestStartDispatchesStepAndAdvancesToTerminalOnLastStep(t *testing.T) {
	client := &scriptedPlannerClient{responses: []string{
		`{"response":"","task":"t","plan_summary":"s","needs_plan":true,"steps":[{"title":"search","details":"find the weather in a sunny city with a long detailed answer","agent_name":"web_surfer"}]}`,
	}}
	p := planner.New(planner.Config{Agents: testAgents()}, client, func() string { return "2026-07-31" })
	rt := bus.NewRuntime(nil)
	defer rt.Stop()
	rt.RegisterAgent("web_surfer", stubWorker{reply: "it is sunny and 75 degrees today"})
	rt.Subscribe("web_surfer", "web_surfer")

	var events []Event
	o := New(Config{}, rt, p)
	o.SetEventCallback(func(ev Event) { events = append(events, ev) })

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, o.Start(ctx, "what is the weather"))

	assert.Equal(t, StateTerminal, o.State())
	assert.Equal(t, "it is sunny and 75 degrees today", o.FinalAnswer())

	var sawDispatch, sawTerminate bool
	for _, ev := range events {
		if ev.Type == "step_dispatched" {
			sawDispatch = true
		}
		if ev.Type == "terminated" {
			sawTerminate = true
		}
	}
	assert.True(t, sawDispatch)
	assert.True(t, sawTerminate)
}

func TestShortAnswerTriggersReplanWhenAllowed(t *testing.T) {
	client := &scriptedPlannerClient{responses: []string{
		`{"response":"","task":"t","plan_summary":"s","needs_plan":true,"steps":[{"title":"search","details":"look up something specific","agent_name":"web_surfer"}]}`,
		`{"response":"done, the full detailed answer is forty two","task":"t","plan_summary":"s2","needs_plan":true,"steps":[{"title":"confirm","details":"confirm the result clearly","agent_name":"web_surfer"}]}`,
	}}
	p := planner.New(planner.Config{Agents: testAgents()}, client, func() string { return "2026-07-31" })
	rt := bus.NewRuntime(nil)
	defer rt.Stop()
	rt.RegisterAgent("web_surfer", &sequencedWorker{replies: []string{"no", "the full detailed answer is forty two exactly"}})
	rt.Subscribe("web_surfer", "web_surfer")

	o := New(Config{AllowForReplans: true, MaxReplans: 2}, rt, p)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, o.Start(ctx, "find the answer"))

	assert.Equal(t, 1, o.nReplans)
}

func TestPauseStopsDispatchAndResumeContinues(t *testing.T) {
	client := &scriptedPlannerClient{responses: []string{
		`{"response":"","task":"t","plan_summary":"s","needs_plan":true,"steps":[{"title":"a","details":"a detailed first step","agent_name":"web_surfer"},{"title":"b","details":"a detailed second step","agent_name":"web_surfer"}]}`,
	}}
	p := planner.New(planner.Config{Agents: testAgents()}, client, func() string { return "2026-07-31" })
	rt := bus.NewRuntime(nil)
	defer rt.Stop()
	rt.RegisterAgent("web_surfer", stubWorker{reply: "a sufficiently long and detailed answer here"})
	rt.Subscribe("web_surfer", "web_surfer")

	o := New(Config{}, rt, p)
	o.Pause()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, o.Start(ctx, "do things"))
	assert.Equal(t, StatePaused, o.State())

	require.NoError(t, o.Resume(ctx))
	assert.Equal(t, StateTerminal, o.State())
}

func TestNotePageMetadataHashDetectsNoProgress(t *testing.T) {
	o := &Orchestrator{}
	assert.False(t, o.NotePageMetadataHash("hash-a"))
	assert.True(t, o.NotePageMetadataHash("hash-a"))
	assert.False(t, o.NotePageMetadataHash("hash-b"))
}
