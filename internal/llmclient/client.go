// Package llmclient implements the LLM capability of spec §6: a single
// blocking create() call returning text or tool calls. Grounded on
// haasonsaas-nexus's internal/agent/providers/anthropic.go (client
// construction, retry/backoff, error classification) and
// internal/agent/providers/openai.go, collapsed from their streaming
// CompletionChunk channel into one blocking Result, since the orchestrator
// and web agent never consume partial tokens (spec §6 names only a
// whole-response contract).
package llmclient

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/nexuscrew/orchestrator/internal/chatmsg"
	"github.com/nexuscrew/orchestrator/internal/retry"
	"github.com/nexuscrew/orchestrator/internal/toolkit"
)

// FinishReason mirrors the Result.finish_reason field of spec §6.
type FinishReason string

const (
	FinishStop      FinishReason = "stop"
	FinishToolCalls FinishReason = "tool_calls"
	FinishLength    FinishReason = "length"
)

// Usage reports token accounting for a single create() call.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
}

// Result is the blocking response of spec §6's create() contract.
type Result struct {
	FinishReason FinishReason
	Content      string
	ToolCalls    []chatmsg.FunctionCall
	Usage        Usage
	Cached       bool
	Thought      string
}

// Client is the narrow LLM capability consumed by the planner and the web
// agent's decide step.
type Client interface {
	Create(ctx context.Context, messages []chatmsg.LLMMessage, tools []toolkit.Schema, jsonOutput bool) (Result, error)
}

// AnthropicClient wraps anthropic-sdk-go with the teacher's retry/backoff
// discipline, reshaped to a blocking, non-streaming call.
type AnthropicClient struct {
	client       anthropic.Client
	model        string
	maxTokens    int64
	maxRetries   int
	retryDelay   time.Duration
	requestTimeout time.Duration
}

// Config configures an AnthropicClient.
type Config struct {
	APIKey     string
	BaseURL    string
	Model      string
	MaxTokens  int64
	MaxRetries int
	RetryDelay time.Duration
	Timeout    time.Duration
}

// NewAnthropicClient constructs a Client backed by Claude, applying the same
// defaults the teacher's AnthropicProvider does.
func NewAnthropicClient(cfg Config) (*AnthropicClient, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("llmclient: API key is required")
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}
	if cfg.Model == "" {
		cfg.Model = "claude-sonnet-4-20250514"
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 4096
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if strings.TrimSpace(cfg.BaseURL) != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	return &AnthropicClient{
		client:         anthropic.NewClient(opts...),
		model:          cfg.Model,
		maxTokens:      cfg.MaxTokens,
		maxRetries:     cfg.MaxRetries,
		retryDelay:     cfg.RetryDelay,
		requestTimeout: cfg.Timeout,
	}, nil
}

// Create issues a single blocking completion request, retrying transient
// failures through internal/retry's exponential-backoff policy, per the
// teacher's Complete() loop.
func (c *AnthropicClient) Create(ctx context.Context, messages []chatmsg.LLMMessage, tools []toolkit.Schema, jsonOutput bool) (Result, error) {
	ctx, cancel := context.WithTimeout(ctx, c.requestTimeout)
	defer cancel()

	params, err := c.buildParams(messages, tools, jsonOutput)
	if err != nil {
		return Result{}, err
	}

	cfg := retry.Exponential(c.maxRetries+1, c.retryDelay, c.retryDelay*time.Duration(1<<uint(c.maxRetries)))
	msg, result := retry.DoWithValue(ctx, cfg, func() (*anthropic.Message, error) {
		m, err := c.client.Messages.New(ctx, params)
		if err != nil && !isRetryable(err) {
			return nil, retry.Permanent(err)
		}
		return m, err
	})
	if result.Err != nil {
		switch {
		case retry.IsPermanent(result.Err):
			return Result{}, fmt.Errorf("llmclient: request failed: %w", errors.Unwrap(result.Err))
		case ctx.Err() != nil:
			return Result{}, ctx.Err()
		default:
			return Result{}, fmt.Errorf("llmclient: max retries exceeded: %w", result.Err)
		}
	}

	return resultFromMessage(msg), nil
}

func (c *AnthropicClient) buildParams(messages []chatmsg.LLMMessage, tools []toolkit.Schema, jsonOutput bool) (anthropic.MessageNewParams, error) {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		MaxTokens: c.maxTokens,
	}

	var converted []anthropic.MessageParam
	for _, m := range messages {
		switch m.Kind {
		case chatmsg.RoleSystem:
			params.System = append(params.System, anthropic.TextBlockParam{Text: m.SystemContent})
		case chatmsg.RoleUser:
			blocks, err := userBlocks(m)
			if err != nil {
				return params, err
			}
			converted = append(converted, anthropic.NewUserMessage(blocks...))
		case chatmsg.RoleAssistant:
			blocks := []anthropic.ContentBlockParamUnion{anthropic.NewTextBlock(m.AssistantContent)}
			for _, call := range m.AssistantCalls {
				var input map[string]any
				if call.Arguments != "" {
					if err := json.Unmarshal([]byte(call.Arguments), &input); err != nil {
						return params, fmt.Errorf("llmclient: invalid tool call arguments for %s: %w", call.Name, err)
					}
				}
				blocks = append(blocks, anthropic.NewToolUseBlock(call.ID, input, call.Name))
			}
			converted = append(converted, anthropic.NewAssistantMessage(blocks...))
		case chatmsg.RoleTool:
			converted = append(converted, anthropic.NewUserMessage(
				anthropic.NewToolResultBlock(m.ToolCallID, m.ToolContent, false),
			))
		}
	}
	params.Messages = converted

	if len(tools) > 0 {
		var toolParams []anthropic.ToolUnionParam
		for _, t := range tools {
			var schema anthropic.ToolInputSchemaParam
			if err := json.Unmarshal(t.Parameters, &schema); err != nil {
				return params, fmt.Errorf("llmclient: invalid tool schema for %s: %w", t.Name, err)
			}
			toolParam := anthropic.ToolUnionParamOfTool(schema, t.Name)
			if toolParam.OfTool != nil {
				toolParam.OfTool.Description = anthropic.String(t.Description)
			}
			toolParams = append(toolParams, toolParam)
		}
		params.Tools = toolParams
	}

	return params, nil
}

func userBlocks(m chatmsg.LLMMessage) ([]anthropic.ContentBlockParamUnion, error) {
	if len(m.UserMultiModal) == 0 {
		return []anthropic.ContentBlockParamUnion{anthropic.NewTextBlock(m.UserContent)}, nil
	}
	var blocks []anthropic.ContentBlockParamUnion
	for _, p := range m.UserMultiModal {
		if p.IsImage() {
			blocks = append(blocks, anthropic.NewImageBlockBase64("image/png", base64.StdEncoding.EncodeToString(p.Image)))
		} else {
			blocks = append(blocks, anthropic.NewTextBlock(p.Text))
		}
	}
	return blocks, nil
}

func resultFromMessage(msg *anthropic.Message) Result {
	res := Result{
		FinishReason: FinishStop,
		Usage: Usage{
			PromptTokens:     int(msg.Usage.InputTokens),
			CompletionTokens: int(msg.Usage.OutputTokens),
		},
	}

	var text strings.Builder
	for _, block := range msg.Content {
		switch variant := block.AsAny().(type) {
		case anthropic.TextBlock:
			text.WriteString(variant.Text)
		case anthropic.ToolUseBlock:
			raw, _ := json.Marshal(variant.Input)
			res.ToolCalls = append(res.ToolCalls, chatmsg.FunctionCall{
				ID:        variant.ID,
				Name:      variant.Name,
				Arguments: string(raw),
			})
		}
	}
	res.Content = text.String()
	if len(res.ToolCalls) > 0 {
		res.FinishReason = FinishToolCalls
	}
	if msg.StopReason == anthropic.StopReasonMaxTokens {
		res.FinishReason = FinishLength
	}
	return res
}

func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{"rate_limit", "429", "too many requests", "500", "502", "503", "504", "timeout", "deadline exceeded", "connection reset", "connection refused"} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
