// Package apitest provides scripted gateways for tests.
package apitest

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/ShayCichocki/rfd/internal/api"
)

// ErrScriptExhausted is returned when a scripted gateway runs out of replies.
var ErrScriptExhausted = errors.New("apitest: script exhausted")

// Step is one scripted reply. Exactly one of Response or Err is used.
type Step struct {
	Response *api.Response
	Err      error
}

// ScriptedGateway returns replies in order and records every request.
type ScriptedGateway struct {
	mu       sync.Mutex
	steps    []Step
	requests []api.Request
}

// NewScripted creates a gateway that replays steps in order.
func NewScripted(steps ...Step) *ScriptedGateway {
	return &ScriptedGateway{steps: steps}
}

// Generate implements api.Gateway.
func (g *ScriptedGateway) Generate(ctx context.Context, req api.Request) (*api.Response, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.requests = append(g.requests, req)
	if len(g.steps) == 0 {
		return nil, ErrScriptExhausted
	}
	step := g.steps[0]
	g.steps = g.steps[1:]
	if step.Err != nil {
		return nil, step.Err
	}
	return step.Response, nil
}

// Requests returns a copy of every request received so far.
func (g *ScriptedGateway) Requests() []api.Request {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]api.Request, len(g.requests))
	copy(out, g.requests)
	return out
}

// Calls returns the number of requests received.
func (g *ScriptedGateway) Calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.requests)
}

// FuncGateway adapts a function to api.Gateway.
type FuncGateway func(ctx context.Context, req api.Request) (*api.Response, error)

// Generate implements api.Gateway.
func (f FuncGateway) Generate(ctx context.Context, req api.Request) (*api.Response, error) {
	return f(ctx, req)
}

// TextReply builds a response holding only text.
func TextReply(text string, in, out int64) *api.Response {
	return &api.Response{
		Outputs:    []api.TurnOutput{api.Text{Text: text}},
		Usage:      api.Usage{InputTokens: in, OutputTokens: out},
		StopReason: "end_turn",
	}
}

// ToolReply builds a response requesting a single tool call.
func ToolReply(id, name string, args any) *api.Response {
	raw, _ := json.Marshal(args)
	return &api.Response{
		Outputs:    []api.TurnOutput{api.ToolRequest{ID: id, Name: name, Args: raw}},
		Usage:      api.Usage{InputTokens: 10, OutputTokens: 5},
		StopReason: "tool_use",
	}
}

// StructuredReply builds a response carrying a structured payload.
func StructuredReply(payload any) *api.Response {
	raw, _ := json.Marshal(payload)
	return &api.Response{
		Outputs:    []api.TurnOutput{api.Structured{Payload: raw}},
		Usage:      api.Usage{InputTokens: 20, OutputTokens: 10},
		StopReason: "tool_use",
	}
}
