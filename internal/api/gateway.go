// Package api provides the model gateway used by planners, workers, and the
// synthesizer, with an Anthropic-backed implementation.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Gateway sends one request to a language model and returns its reply.
// Conversation state is passed in full on every call; implementations keep
// no per-conversation state between calls.
type Gateway interface {
	Generate(ctx context.Context, req Request) (*Response, error)
}

// ErrStructuredWithTools is returned when a request asks for a structured
// output schema and offers tools in the same call.
var ErrStructuredWithTools = errors.New("structured output and tools are mutually exclusive")

// GatewayError wraps a model call failure.
type GatewayError struct {
	// Op names the caller-side operation, such as "plan" or "worker turn".
	Op  string
	Err error
}

func (e *GatewayError) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("gateway: %v", e.Err)
	}
	return fmt.Sprintf("gateway %s: %v", e.Op, e.Err)
}

func (e *GatewayError) Unwrap() error { return e.Err }

// Role is the speaker of a conversation message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one turn of a conversation.
type Message struct {
	Role  Role
	Parts []Part
}

// Part is one content block of a message.
type Part interface {
	isPart()
}

// TextPart is plain text.
type TextPart struct {
	Text string
}

// ThinkingPart is model reasoning that must be replayed verbatim.
type ThinkingPart struct {
	Text      string
	Signature string
}

// ToolCallPart is a tool invocation issued by the model.
type ToolCallPart struct {
	ID   string
	Name string
	Args json.RawMessage
}

// ToolResultPart answers a ToolCallPart.
type ToolResultPart struct {
	CallID  string
	Name    string
	Content string
	IsError bool
}

func (TextPart) isPart()       {}
func (ThinkingPart) isPart()   {}
func (ToolCallPart) isPart()   {}
func (ToolResultPart) isPart() {}

// UserText builds a user message holding a single text part.
func UserText(text string) Message {
	return Message{Role: RoleUser, Parts: []Part{TextPart{Text: text}}}
}

// ToolSchema describes a tool offered to the model.
type ToolSchema struct {
	Name        string
	Description string
	// Properties maps argument names to JSON-schema fragments.
	Properties map[string]any
	Required   []string
}

// OutputSchema constrains a response to a JSON object.
type OutputSchema struct {
	Name        string
	Description string
	Properties  map[string]any
	Required    []string
}

// Request is everything a gateway needs for one model call.
type Request struct {
	// Model overrides the gateway's default model when set.
	Model    string
	System   string
	Messages []Message
	Tools    []ToolSchema
	// OutputSchema requests a structured payload. It cannot be combined with Tools.
	OutputSchema *OutputSchema
	// ThinkingBudget enables extended reasoning when positive.
	ThinkingBudget int
	// MaxTokens caps the reply length. Zero uses the gateway default.
	MaxTokens int
}

// Validate checks request-level invariants.
func (r Request) Validate() error {
	if r.OutputSchema != nil && len(r.Tools) > 0 {
		return ErrStructuredWithTools
	}
	if len(r.Messages) == 0 {
		return errors.New("request has no messages")
	}
	return nil
}

// TurnOutput is one output of a model turn: Text, ToolRequest or Structured.
type TurnOutput interface {
	isTurnOutput()
}

// Text is free-form model output.
type Text struct {
	Text string
}

// ToolRequest asks the caller to run a tool and report back.
type ToolRequest struct {
	ID   string
	Name string
	Args json.RawMessage
}

// Structured is a payload conforming to the requested OutputSchema.
type Structured struct {
	Payload json.RawMessage
}

func (Text) isTurnOutput()        {}
func (ToolRequest) isTurnOutput() {}
func (Structured) isTurnOutput()  {}

// Usage counts tokens consumed by one call.
type Usage struct {
	InputTokens    int64
	OutputTokens   int64
	ThinkingTokens int64
}

// Add returns the element-wise sum of u and o.
func (u Usage) Add(o Usage) Usage {
	return Usage{
		InputTokens:    u.InputTokens + o.InputTokens,
		OutputTokens:   u.OutputTokens + o.OutputTokens,
		ThinkingTokens: u.ThinkingTokens + o.ThinkingTokens,
	}
}

// Response is the reply to one Request.
type Response struct {
	Outputs    []TurnOutput
	Thinking   []ThinkingPart
	Usage      Usage
	StopReason string
}

// Text returns all text outputs joined with newlines.
func (r *Response) Text() string {
	var parts []string
	for _, out := range r.Outputs {
		if t, ok := out.(Text); ok && t.Text != "" {
			parts = append(parts, t.Text)
		}
	}
	return strings.Join(parts, "\n")
}

// ToolRequests returns the tool invocations in the order the model issued them.
func (r *Response) ToolRequests() []ToolRequest {
	var reqs []ToolRequest
	for _, out := range r.Outputs {
		if tr, ok := out.(ToolRequest); ok {
			reqs = append(reqs, tr)
		}
	}
	return reqs
}

// Structured returns the structured payload, if any.
func (r *Response) Structured() (json.RawMessage, bool) {
	for _, out := range r.Outputs {
		if s, ok := out.(Structured); ok {
			return s.Payload, true
		}
	}
	return nil, false
}

// AssistantMessage rebuilds the assistant turn so it can be sent back on
// the next request. Thinking parts come first.
func (r *Response) AssistantMessage() Message {
	msg := Message{Role: RoleAssistant}
	for _, th := range r.Thinking {
		msg.Parts = append(msg.Parts, th)
	}
	for _, out := range r.Outputs {
		switch o := out.(type) {
		case Text:
			if o.Text != "" {
				msg.Parts = append(msg.Parts, TextPart{Text: o.Text})
			}
		case ToolRequest:
			msg.Parts = append(msg.Parts, ToolCallPart{ID: o.ID, Name: o.Name, Args: o.Args})
		case Structured:
			msg.Parts = append(msg.Parts, TextPart{Text: string(o.Payload)})
		}
	}
	return msg
}
