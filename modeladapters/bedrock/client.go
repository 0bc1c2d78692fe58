// Package bedrock provides a model.Client implementation backed by the AWS
// Bedrock Converse API, grounded on features/model/bedrock's adapter shape
// (trimmed to Complete only; streaming left unimplemented).
package bedrock

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	smithy "github.com/aws/smithy-go"

	"github.com/agentkernel/kernel/model"
	"github.com/agentkernel/kernel/tools"
)

// ConverseClient captures the subset of the Bedrock runtime client used by
// the adapter.
type ConverseClient interface {
	Converse(ctx context.Context, params *bedrockruntime.ConverseInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error)
}

// Options configures the Bedrock adapter.
type Options struct {
	DefaultModelID string
}

// Client implements model.Client via the Bedrock Converse API.
type Client struct {
	rt      ConverseClient
	modelID string
}

// New builds a Bedrock-backed model client.
func New(rt ConverseClient, opts Options) (*Client, error) {
	if rt == nil {
		return nil, errors.New("bedrock: runtime client is required")
	}
	if opts.DefaultModelID == "" {
		return nil, errors.New("bedrock: default model id is required")
	}
	return &Client{rt: rt, modelID: opts.DefaultModelID}, nil
}

// Complete issues a Converse request and translates the result.
func (c *Client) Complete(ctx context.Context, req *model.Request) (*model.Response, error) {
	modelID := req.Model
	if modelID == "" {
		modelID = c.modelID
	}
	var messages []types.Message
	for _, m := range req.Messages {
		messages = append(messages, encodeMessage(m))
	}
	out, err := c.rt.Converse(ctx, &bedrockruntime.ConverseInput{
		ModelId:  &modelID,
		Messages: messages,
	})
	if err != nil {
		var apiErr smithy.APIError
		if errors.As(err, &apiErr) && apiErr.ErrorCode() == "ThrottlingException" {
			return nil, fmt.Errorf("%w: %w", model.ErrRateLimited, err)
		}
		return nil, fmt.Errorf("bedrock converse: %w", err)
	}
	return translateResponse(out), nil
}

// Stream is not implemented by this trimmed adapter.
func (c *Client) Stream(ctx context.Context, req *model.Request) (model.Streamer, error) {
	return nil, model.ErrStreamingUnsupported
}

func encodeMessage(m *model.Message) types.Message {
	var text string
	for _, p := range m.Parts {
		if tp, ok := p.(model.TextPart); ok {
			text += tp.Text
		}
	}
	role := types.ConversationRoleUser
	if m.Role == model.ConversationRoleAssistant {
		role = types.ConversationRoleAssistant
	}
	return types.Message{
		Role:    role,
		Content: []types.ContentBlock{&types.ContentBlockMemberText{Value: text}},
	}
}

func translateResponse(out *bedrockruntime.ConverseOutput) *model.Response {
	resp := &model.Response{}
	if out.Usage != nil {
		resp.Usage = model.TokenUsage{
			InputTokens:  int(deref(out.Usage.InputTokens)),
			OutputTokens: int(deref(out.Usage.OutputTokens)),
			TotalTokens:  int(deref(out.Usage.TotalTokens)),
		}
	}
	msgOutput, ok := out.Output.(*types.ConverseOutputMemberMessage)
	if !ok {
		return resp
	}
	var parts []model.Part
	for _, block := range msgOutput.Value.Content {
		switch b := block.(type) {
		case *types.ContentBlockMemberText:
			parts = append(parts, model.TextPart{Text: b.Value})
		case *types.ContentBlockMemberToolUse:
			raw, _ := json.Marshal(b.Value.Input)
			resp.ToolCalls = append(resp.ToolCalls, model.ToolCall{
				ID:      deref(b.Value.ToolUseId),
				Name:    tools.ID(deref(b.Value.Name)),
				Payload: raw,
			})
		}
	}
	resp.Content = []model.Message{{Role: model.ConversationRoleAssistant, Parts: parts}}
	return resp
}

func deref[T any](p *T) T {
	if p == nil {
		var zero T
		return zero
	}
	return *p
}
