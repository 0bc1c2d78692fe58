// Package anthropic provides a model.Client implementation backed by the
// Anthropic Claude Messages API, adapted from features/model/anthropic's
// adapter onto this kernel's trimmed model types.
package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/agentkernel/kernel/model"
	"github.com/agentkernel/kernel/tools"
)

// MessagesClient captures the subset of the Anthropic SDK client used by the
// adapter, so tests can substitute a stub for *sdk.MessageService.
type MessagesClient interface {
	New(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) (*sdk.Message, error)
}

// Options configures optional Anthropic adapter behavior.
type Options struct {
	DefaultModel string
	HighModel    string
	SmallModel   string
	MaxTokens    int64
	Temperature  float64
}

// Client implements model.Client on top of Anthropic Claude Messages.
type Client struct {
	msg  MessagesClient
	opts Options
}

// New builds an Anthropic-backed model client.
func New(msg MessagesClient, opts Options) (*Client, error) {
	if msg == nil {
		return nil, errors.New("anthropic: messages client is required")
	}
	if opts.DefaultModel == "" {
		return nil, errors.New("anthropic: default model identifier is required")
	}
	return &Client{msg: msg, opts: opts}, nil
}

// NewFromAPIKey constructs a client using the default Anthropic HTTP client,
// reading ANTHROPIC_API_KEY via sdk.DefaultClientOptions when apiKey is
// empty.
func NewFromAPIKey(apiKey, defaultModel string) (*Client, error) {
	var clientOpts []option.RequestOption
	if apiKey != "" {
		clientOpts = append(clientOpts, option.WithAPIKey(apiKey))
	}
	ac := sdk.NewClient(clientOpts...)
	return New(&ac.Messages, Options{DefaultModel: defaultModel})
}

func (c *Client) modelFor(req *model.Request) string {
	if req.Model != "" {
		return req.Model
	}
	switch req.ModelClass {
	case model.ModelClassHighReasoning:
		if c.opts.HighModel != "" {
			return c.opts.HighModel
		}
	case model.ModelClassSmall:
		if c.opts.SmallModel != "" {
			return c.opts.SmallModel
		}
	}
	return c.opts.DefaultModel
}

// Complete issues a non-streaming Messages.New request and translates the
// response into kernel-friendly structures (assistant text + tool calls).
func (c *Client) Complete(ctx context.Context, req *model.Request) (*model.Response, error) {
	params, err := c.buildParams(req)
	if err != nil {
		return nil, fmt.Errorf("anthropic: building request: %w", err)
	}
	msg, err := c.msg.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("anthropic messages.new: %w", err)
	}
	return translateResponse(msg), nil
}

// Stream is not implemented by this trimmed adapter and returns
// model.ErrStreamingUnsupported; the Nucleus only calls Complete.
func (c *Client) Stream(ctx context.Context, req *model.Request) (model.Streamer, error) {
	return nil, model.ErrStreamingUnsupported
}

func (c *Client) buildParams(req *model.Request) (sdk.MessageNewParams, error) {
	maxTokens := c.opts.MaxTokens
	if req.MaxTokens > 0 {
		maxTokens = int64(req.MaxTokens)
	}
	var messages []sdk.MessageParam
	for _, m := range req.Messages {
		messages = append(messages, encodeMessage(m))
	}
	params := sdk.MessageNewParams{
		Model:     sdk.Model(c.modelFor(req)),
		MaxTokens: maxTokens,
		Messages:  messages,
	}
	toolList, err := encodeTools(req.Tools)
	if err != nil {
		return sdk.MessageNewParams{}, err
	}
	if len(toolList) > 0 {
		params.Tools = toolList
	}
	tc, err := encodeToolChoice(req.ToolChoice, req.Tools)
	if err != nil {
		return sdk.MessageNewParams{}, err
	}
	if tc != nil {
		params.ToolChoice = *tc
	}
	return params, nil
}

// encodeTools translates model.ToolDefinition into the SDK's tagged tool
// union, carrying the raw input schema through as extra fields (§1: transport
// adapters are out of core scope, but the Nucleus's tool-calling loop needs a
// real transport to exercise against).
func encodeTools(defs []*model.ToolDefinition) ([]sdk.ToolUnionParam, error) {
	if len(defs) == 0 {
		return nil, nil
	}
	toolList := make([]sdk.ToolUnionParam, 0, len(defs))
	for _, def := range defs {
		if def == nil || def.Name == "" {
			continue
		}
		schema, err := toolInputSchema(def.InputSchema)
		if err != nil {
			return nil, fmt.Errorf("anthropic: tool %q schema: %w", def.Name, err)
		}
		u := sdk.ToolUnionParamOfTool(schema, def.Name)
		if u.OfTool != nil {
			u.OfTool.Description = sdk.String(def.Description)
		}
		toolList = append(toolList, u)
	}
	return toolList, nil
}

func toolInputSchema(schema any) (sdk.ToolInputSchemaParam, error) {
	if schema == nil {
		return sdk.ToolInputSchemaParam{}, nil
	}
	var raw json.RawMessage
	switch v := schema.(type) {
	case json.RawMessage:
		raw = v
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return sdk.ToolInputSchemaParam{}, err
		}
		raw = data
	}
	if len(raw) == 0 {
		return sdk.ToolInputSchemaParam{}, nil
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return sdk.ToolInputSchemaParam{}, err
	}
	return sdk.ToolInputSchemaParam{ExtraFields: m}, nil
}

// encodeToolChoice translates model.ToolChoice into the SDK's tagged
// tool-choice union. A nil return means "leave unset" (Anthropic's default,
// auto).
func encodeToolChoice(choice *model.ToolChoice, defs []*model.ToolDefinition) (*sdk.ToolChoiceUnionParam, error) {
	if choice == nil {
		return nil, nil
	}
	switch choice.Mode {
	case "", model.ToolChoiceModeAuto:
		return nil, nil
	case model.ToolChoiceModeNone:
		none := sdk.NewToolChoiceNoneParam()
		return &sdk.ToolChoiceUnionParam{OfNone: &none}, nil
	case model.ToolChoiceModeAny:
		return &sdk.ToolChoiceUnionParam{OfAny: &sdk.ToolChoiceAnyParam{}}, nil
	case model.ToolChoiceModeTool:
		if choice.Name == "" {
			return nil, fmt.Errorf("anthropic: tool choice mode %q requires a tool name", choice.Mode)
		}
		if !hasToolDefinition(defs, choice.Name) {
			return nil, fmt.Errorf("anthropic: tool choice name %q does not match any tool", choice.Name)
		}
		tool := sdk.ToolChoiceParamOfTool(choice.Name)
		return &tool, nil
	default:
		return nil, fmt.Errorf("anthropic: unsupported tool choice mode %q", choice.Mode)
	}
}

func hasToolDefinition(defs []*model.ToolDefinition, name string) bool {
	for _, def := range defs {
		if def != nil && def.Name == name {
			return true
		}
	}
	return false
}

func encodeMessage(m *model.Message) sdk.MessageParam {
	var text string
	for _, p := range m.Parts {
		if tp, ok := p.(model.TextPart); ok {
			text += tp.Text
		}
	}
	switch m.Role {
	case model.ConversationRoleAssistant:
		return sdk.NewAssistantMessage(sdk.NewTextBlock(text))
	default:
		return sdk.NewUserMessage(sdk.NewTextBlock(text))
	}
}

func translateResponse(msg *sdk.Message) *model.Response {
	resp := &model.Response{
		StopReason: string(msg.StopReason),
		Usage: model.TokenUsage{
			InputTokens:  int(msg.Usage.InputTokens),
			OutputTokens: int(msg.Usage.OutputTokens),
			TotalTokens:  int(msg.Usage.InputTokens + msg.Usage.OutputTokens),
		},
	}
	var parts []model.Part
	for _, block := range msg.Content {
		switch variant := block.AsAny().(type) {
		case sdk.TextBlock:
			parts = append(parts, model.TextPart{Text: variant.Text})
		case sdk.ToolUseBlock:
			raw, _ := json.Marshal(variant.Input)
			resp.ToolCalls = append(resp.ToolCalls, model.ToolCall{
				ID:      variant.ID,
				Name:    tools.ID(variant.Name),
				Payload: raw,
			})
		}
	}
	resp.Content = []model.Message{{Role: model.ConversationRoleAssistant, Parts: parts}}
	return resp
}
