// Package openai provides a model.Client implementation backed by the
// OpenAI Chat Completions API via github.com/openai/openai-go, grounded on
// features/model/openai's adapter shape (adapted to a different underlying
// SDK and this kernel's trimmed model types).
package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"

	"github.com/agentkernel/kernel/model"
	"github.com/agentkernel/kernel/tools"
)

// ChatClient captures the subset of the openai-go client used by the
// adapter, so tests can substitute a stub.
type ChatClient interface {
	New(ctx context.Context, body oai.ChatCompletionNewParams, opts ...option.RequestOption) (*oai.ChatCompletion, error)
}

// Options configures the OpenAI adapter.
type Options struct {
	DefaultModel string
}

// Client implements model.Client via the OpenAI Chat Completions API.
type Client struct {
	chat  ChatClient
	model string
}

// New builds an OpenAI-backed model client from an injected chat client.
func New(chat ChatClient, opts Options) (*Client, error) {
	if chat == nil {
		return nil, errors.New("openai: chat client is required")
	}
	modelID := strings.TrimSpace(opts.DefaultModel)
	if modelID == "" {
		return nil, errors.New("openai: default model is required")
	}
	return &Client{chat: chat, model: modelID}, nil
}

// NewFromAPIKey constructs a client using the default openai-go HTTP client.
func NewFromAPIKey(apiKey, defaultModel string) (*Client, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, errors.New("openai: api key is required")
	}
	c := oai.NewClient(option.WithAPIKey(apiKey))
	return New(&c.Chat.Completions, Options{DefaultModel: defaultModel})
}

// Complete renders a chat completion using the configured OpenAI client.
func (c *Client) Complete(ctx context.Context, req *model.Request) (*model.Response, error) {
	if len(req.Messages) == 0 {
		return nil, errors.New("openai: messages are required")
	}
	modelID := req.Model
	if modelID == "" {
		modelID = c.model
	}
	var messages []oai.ChatCompletionMessageParamUnion
	for _, m := range req.Messages {
		messages = append(messages, encodeMessage(m))
	}
	params := oai.ChatCompletionNewParams{
		Model:    shared.ChatModel(modelID),
		Messages: messages,
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = oai.Int(int64(req.MaxTokens))
	}
	resp, err := c.chat.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("openai chat completions: %w", err)
	}
	return translateResponse(resp), nil
}

// Stream is not implemented by this trimmed adapter.
func (c *Client) Stream(ctx context.Context, req *model.Request) (model.Streamer, error) {
	return nil, model.ErrStreamingUnsupported
}

func encodeMessage(m *model.Message) oai.ChatCompletionMessageParamUnion {
	var text string
	for _, p := range m.Parts {
		if tp, ok := p.(model.TextPart); ok {
			text += tp.Text
		}
	}
	switch m.Role {
	case model.ConversationRoleAssistant:
		return oai.AssistantMessage(text)
	case model.ConversationRoleSystem:
		return oai.SystemMessage(text)
	default:
		return oai.UserMessage(text)
	}
}

func translateResponse(resp *oai.ChatCompletion) *model.Response {
	out := &model.Response{
		Usage: model.TokenUsage{
			InputTokens:  int(resp.Usage.PromptTokens),
			OutputTokens: int(resp.Usage.CompletionTokens),
			TotalTokens:  int(resp.Usage.TotalTokens),
		},
	}
	if len(resp.Choices) == 0 {
		return out
	}
	choice := resp.Choices[0]
	out.StopReason = string(choice.FinishReason)
	parts := []model.Part{model.TextPart{Text: choice.Message.Content}}
	for _, tc := range choice.Message.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, model.ToolCall{
			ID:      tc.ID,
			Name:    nameAsID(tc.Function.Name),
			Payload: json.RawMessage(tc.Function.Arguments),
		})
	}
	out.Content = []model.Message{{Role: model.ConversationRoleAssistant, Parts: parts}}
	return out
}

func nameAsID(name string) tools.ID { return tools.ID(name) }
