package planner

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexuscrew/orchestrator/internal/chatmsg"
	"github.com/nexuscrew/orchestrator/internal/llmclient"
	"github.com/nexuscrew/orchestrator/internal/toolkit"
)

type scriptedClient struct {
	responses []string
	calls     int
}

func (c *scriptedClient) Create(ctx context.Context, messages []chatmsg.LLMMessage, tools []toolkit.Schema, jsonOutput bool) (llmclient.Result, error) {
	idx := c.calls
	if idx >= len(c.responses) {
		idx = len(c.responses) - 1
	}
	c.calls++
	return llmclient.Result{Content: c.responses[idx]}, nil
}

func testAgents() []AgentDescriptor {
	return []AgentDescriptor{
		{Name: "web_surfer", Description: "browses the web"},
		{Name: "coder_agent", Description: "writes code"},
	}
}

func TestGenerateReturnsPlanOnValidResponse(t *testing.T) {
	client := &scriptedClient{responses: []string{
		`{"response":"","task":"find the weather","plan_summary":"look it up","needs_plan":true,"steps":[{"title":"search","details":"search for weather","agent_name":"web_surfer"}]}`,
	}}
	p := New(Config{Agents: testAgents()}, client, func() string { return "2026-07-31" })

	result, err := p.Generate(context.Background(), "find the weather")
	require.NoError(t, err)
	require.NotNil(t, result.Plan)
	assert.Nil(t, result.Response)
	assert.Len(t, result.Plan.Steps, 1)
	assert.Equal(t, "web_surfer", result.Plan.Steps[0].AgentName)
}

func TestGenerateReturnsDirectResponseWhenNoPlanNeeded(t *testing.T) {
	client := &scriptedClient{responses: []string{
		`{"response":"2+2 is 4","task":"arithmetic","plan_summary":"","needs_plan":false,"steps":[]}`,
	}}
	p := New(Config{Agents: testAgents()}, client, func() string { return "2026-07-31" })

	result, err := p.Generate(context.Background(), "what is 2+2")
	require.NoError(t, err)
	require.NotNil(t, result.Response)
	assert.Equal(t, "2+2 is 4", result.Response.Response)
}

func TestGenerateRetriesOnInvalidJSONThenSucceeds(t *testing.T) {
	client := &scriptedClient{responses: []string{
		`not json`,
		`{"response":"","task":"t","plan_summary":"s","needs_plan":true,"steps":[{"title":"a","details":"b","agent_name":"web_surfer"}]}`,
	}}
	p := New(Config{Agents: testAgents(), MaxJSONRetries: 3}, client, func() string { return "2026-07-31" })

	result, err := p.Generate(context.Background(), "task")
	require.NoError(t, err)
	require.NotNil(t, result.Plan)
	assert.Equal(t, 2, client.calls)
}

func TestGenerateFailsOnUnknownAgentAfterExhaustingRetries(t *testing.T) {
	client := &scriptedClient{responses: []string{
		`{"response":"","task":"t","plan_summary":"s","needs_plan":true,"steps":[{"title":"a","details":"b","agent_name":"ghost_agent"}]}`,
	}}
	p := New(Config{Agents: testAgents(), MaxJSONRetries: 1}, client, func() string { return "2026-07-31" })

	_, err := p.Generate(context.Background(), "task")
	require.Error(t, err)
}

func TestGenerateValidatesSentinelStepFields(t *testing.T) {
	client := &scriptedClient{responses: []string{
		`{"response":"","task":"t","plan_summary":"s","needs_plan":true,"steps":[{"title":"a","details":"b","agent_name":"web_surfer","step_type":"SentinelPlanStep"}]}`,
	}}
	p := New(Config{Agents: testAgents(), MaxJSONRetries: 0, SentinelEnabled: true}, client, func() string { return "2026-07-31" })

	_, err := p.Generate(context.Background(), "watch for changes")
	require.Error(t, err)
}
