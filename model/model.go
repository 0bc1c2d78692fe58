// Package model defines the provider-agnostic message and streaming types
// used by the Nucleus and Planner, and the Client gateway interface
// (SPEC_FULL.md §4.4 "LLM gateway"). Messages are modeled as typed parts
// (text, thinking, tool use/results) rather than flattened strings so
// provider adapters can round-trip structure faithfully.
package model

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/agentkernel/kernel/tools"
)

// ConversationRole is the role for a message in a conversation.
type ConversationRole string

type (
	// Part is a marker interface implemented by all message parts.
	Part interface {
		isPart()
	}

	// TextPart is a plain text content block in a message.
	TextPart struct {
		Text string
	}

	// ThinkingPart represents provider-issued reasoning content.
	ThinkingPart struct {
		Text      string
		Signature string
		Index     int
		Final     bool
	}

	// ToolUsePart declares a tool invocation by the assistant.
	ToolUsePart struct {
		ID    string
		Name  string
		Input any
	}

	// ToolResultPart carries a tool result provided by the user side.
	ToolResultPart struct {
		ToolUseID string
		Content   any
		IsError   bool
	}

	// Message is a single chat message.
	Message struct {
		Role  ConversationRole
		Parts []Part
		Meta  map[string]any
	}

	// ToolDefinition describes a tool exposed to the model.
	ToolDefinition struct {
		Name        string
		Description string
		InputSchema any
	}

	// ToolCall is a requested tool invocation from the model.
	ToolCall struct {
		Name    tools.ID
		Payload json.RawMessage
		ID      string
	}

	// ToolChoiceMode controls how the model uses tools for a request.
	ToolChoiceMode string

	// ToolChoice configures optional tool-use behavior for a Request.
	ToolChoice struct {
		Mode ToolChoiceMode
		Name string
	}

	// TokenUsage tracks token counts for a model call.
	TokenUsage struct {
		InputTokens      int
		OutputTokens     int
		TotalTokens      int
		CacheReadTokens  int
		CacheWriteTokens int
	}

	// Request captures inputs for a model invocation.
	Request struct {
		RunID       string
		Model       string
		ModelClass  ModelClass
		Messages    []*Message
		Temperature float32
		Tools       []*ToolDefinition
		ToolChoice  *ToolChoice
		MaxTokens   int
		Stream      bool
		Thinking    *ThinkingOptions
	}

	// Response is the result of a non-streaming invocation.
	Response struct {
		Content    []Message
		ToolCalls  []ToolCall
		Usage      TokenUsage
		StopReason string
	}

	// Chunk is a streaming event from the model.
	Chunk struct {
		Type       string
		Message    *Message
		Thinking   string
		ToolCall   *ToolCall
		UsageDelta *TokenUsage
		StopReason string
	}

	// ThinkingOptions configures provider thinking behavior.
	ThinkingOptions struct {
		Enable       bool
		Interleaved  bool
		BudgetTokens int
	}

	// ModelClass identifies the model family.
	ModelClass string

	// Client is the provider-agnostic model gateway. Concrete HTTP
	// transports live in modeladapters/* and are out of the core's scope
	// per SPEC_FULL.md §1, but the interface itself, and its use by the
	// Nucleus, is in scope.
	Client interface {
		Complete(ctx context.Context, req *Request) (*Response, error)
		Stream(ctx context.Context, req *Request) (Streamer, error)
	}

	// Streamer delivers incremental model output.
	Streamer interface {
		Recv() (Chunk, error)
		Close() error
	}
)

const (
	ConversationRoleSystem    ConversationRole = "system"
	ConversationRoleUser      ConversationRole = "user"
	ConversationRoleAssistant ConversationRole = "assistant"
)

const (
	ToolChoiceModeAuto ToolChoiceMode = "auto"
	ToolChoiceModeNone ToolChoiceMode = "none"
	ToolChoiceModeAny  ToolChoiceMode = "any"
	ToolChoiceModeTool ToolChoiceMode = "tool"
)

const (
	ChunkTypeText     = "text"
	ChunkTypeToolCall = "tool_call"
	ChunkTypeThinking = "thinking"
	ChunkTypeUsage    = "usage"
	ChunkTypeStop     = "stop"
)

const (
	ModelClassHighReasoning ModelClass = "high-reasoning"
	ModelClassDefault       ModelClass = "default"
	ModelClassSmall         ModelClass = "small"
)

// ErrStreamingUnsupported indicates the provider does not support streaming.
var ErrStreamingUnsupported = errors.New("model: streaming not supported")

// ErrRateLimited indicates the provider rejected the request due to rate
// limiting after exhausting any configured retries.
var ErrRateLimited = errors.New("model: rate limited")

func (TextPart) isPart()       {}
func (ThinkingPart) isPart()   {}
func (ToolUsePart) isPart()    {}
func (ToolResultPart) isPart() {}
