package llmclient

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/nexuscrew/orchestrator/internal/chatmsg"
	"github.com/nexuscrew/orchestrator/internal/retry"
	"github.com/nexuscrew/orchestrator/internal/toolkit"
)

func base64Encode(b []byte) string { return base64.StdEncoding.EncodeToString(b) }

// OpenAIClient is the alternate Client implementation, grounded on the
// teacher's internal/agent/providers/openai.go client construction and
// retry loop, collapsed to a single blocking (non-streaming) call.
type OpenAIClient struct {
	client     *openai.Client
	model      string
	maxRetries int
	retryDelay time.Duration
}

// NewOpenAIClient constructs a Client backed by the OpenAI chat completions
// API.
func NewOpenAIClient(apiKey, model string) (*OpenAIClient, error) {
	if apiKey == "" {
		return nil, errors.New("llmclient: OpenAI API key is required")
	}
	if model == "" {
		model = openai.GPT4o
	}
	return &OpenAIClient{
		client:     openai.NewClient(apiKey),
		model:      model,
		maxRetries: 3,
		retryDelay: time.Second,
	}, nil
}

func (c *OpenAIClient) Create(ctx context.Context, messages []chatmsg.LLMMessage, tools []toolkit.Schema, jsonOutput bool) (Result, error) {
	req := openai.ChatCompletionRequest{
		Model:    c.model,
		Messages: convertMessages(messages),
	}
	if jsonOutput {
		req.ResponseFormat = &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject}
	}
	if len(tools) > 0 {
		req.Tools = convertTools(tools)
	}

	cfg := retry.Linear(c.maxRetries+1, c.retryDelay)
	resp, result := retry.DoWithValue(ctx, cfg, func() (openai.ChatCompletionResponse, error) {
		return c.client.CreateChatCompletion(ctx, req)
	})
	if result.Err != nil {
		if ctx.Err() != nil {
			return Result{}, ctx.Err()
		}
		return Result{}, fmt.Errorf("llmclient: openai request failed: %w", result.Err)
	}

	if len(resp.Choices) == 0 {
		return Result{}, fmt.Errorf("llmclient: openai returned no choices")
	}
	choice := resp.Choices[0]

	res := Result{
		Content:      choice.Message.Content,
		FinishReason: FinishStop,
		Usage: Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
		},
	}
	for _, call := range choice.Message.ToolCalls {
		res.ToolCalls = append(res.ToolCalls, chatmsg.FunctionCall{
			ID:        call.ID,
			Name:      call.Function.Name,
			Arguments: call.Function.Arguments,
		})
	}
	if len(res.ToolCalls) > 0 {
		res.FinishReason = FinishToolCalls
	}
	if choice.FinishReason == openai.FinishReasonLength {
		res.FinishReason = FinishLength
	}
	return res, nil
}

func convertMessages(messages []chatmsg.LLMMessage) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, m := range messages {
		switch m.Kind {
		case chatmsg.RoleSystem:
			out = append(out, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: m.SystemContent})
		case chatmsg.RoleUser:
			if len(m.UserMultiModal) == 0 {
				out = append(out, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: m.UserContent})
				continue
			}
			parts := make([]openai.ChatMessagePart, 0, len(m.UserMultiModal))
			for _, p := range m.UserMultiModal {
				if p.IsImage() {
					parts = append(parts, openai.ChatMessagePart{
						Type:     openai.ChatMessagePartTypeImageURL,
						ImageURL: &openai.ChatMessageImageURL{URL: "data:image/png;base64," + base64Encode(p.Image)},
					})
				} else {
					parts = append(parts, openai.ChatMessagePart{Type: openai.ChatMessagePartTypeText, Text: p.Text})
				}
			}
			out = append(out, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, MultiContent: parts})
		case chatmsg.RoleAssistant:
			msg := openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: m.AssistantContent}
			for _, call := range m.AssistantCalls {
				msg.ToolCalls = append(msg.ToolCalls, openai.ToolCall{
					ID:   call.ID,
					Type: openai.ToolTypeFunction,
					Function: openai.FunctionCall{
						Name:      call.Name,
						Arguments: call.Arguments,
					},
				})
			}
			out = append(out, msg)
		case chatmsg.RoleTool:
			out = append(out, openai.ChatCompletionMessage{
				Role:       openai.ChatMessageRoleTool,
				Content:    m.ToolContent,
				Name:       m.ToolName,
				ToolCallID: m.ToolCallID,
			})
		}
	}
	return out
}

func convertTools(tools []toolkit.Schema) []openai.Tool {
	out := make([]openai.Tool, 0, len(tools))
	for _, t := range tools {
		var params map[string]any
		_ = json.Unmarshal(t.Parameters, &params)
		out = append(out, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  params,
			},
		})
	}
	return out
}
