package api

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func TestRequestValidate(t *testing.T) {
	tests := []struct {
		name    string
		req     Request
		wantErr error
	}{
		{"plain text", Request{Messages: []Message{UserText("hi")}}, nil},
		{"tools only", Request{Messages: []Message{UserText("hi")}, Tools: []ToolSchema{{Name: "bash"}}}, nil},
		{"schema only", Request{Messages: []Message{UserText("hi")}, OutputSchema: &OutputSchema{Name: "x"}}, nil},
		{"schema and tools", Request{Messages: []Message{UserText("hi")}, Tools: []ToolSchema{{Name: "bash"}}, OutputSchema: &OutputSchema{Name: "x"}}, ErrStructuredWithTools},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.req.Validate()
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}

	if err := (Request{}).Validate(); err == nil {
		t.Error("expected an error for a request without messages")
	}
}

func TestResponseHelpers(t *testing.T) {
	resp := &Response{
		Thinking: []ThinkingPart{{Text: "hmm", Signature: "sig"}},
		Outputs: []TurnOutput{
			Text{Text: "first"},
			ToolRequest{ID: "1", Name: "read_file", Args: json.RawMessage(`{"path":"a"}`)},
			Text{Text: "second"},
			ToolRequest{ID: "2", Name: "bash", Args: json.RawMessage(`{"command":"ls"}`)},
		},
	}

	if resp.Text() != "first\nsecond" {
		t.Errorf("expected joined text, got %q", resp.Text())
	}

	reqs := resp.ToolRequests()
	if len(reqs) != 2 || reqs[0].ID != "1" || reqs[1].ID != "2" {
		t.Errorf("expected tool requests in issue order, got %+v", reqs)
	}

	if _, ok := resp.Structured(); ok {
		t.Error("expected no structured payload")
	}

	msg := resp.AssistantMessage()
	if msg.Role != RoleAssistant {
		t.Errorf("expected assistant role, got %s", msg.Role)
	}
	if len(msg.Parts) != 5 {
		t.Fatalf("expected 5 parts, got %d", len(msg.Parts))
	}
	if _, ok := msg.Parts[0].(ThinkingPart); !ok {
		t.Errorf("expected thinking to lead the assistant message, got %T", msg.Parts[0])
	}
}

func TestResponseStructured(t *testing.T) {
	resp := &Response{Outputs: []TurnOutput{Structured{Payload: json.RawMessage(`{"a":1}`)}}}
	payload, ok := resp.Structured()
	if !ok || string(payload) != `{"a":1}` {
		t.Errorf("expected structured payload, got %q", payload)
	}
}

func TestUsageAdd(t *testing.T) {
	u := Usage{InputTokens: 1, OutputTokens: 2, ThinkingTokens: 3}.Add(Usage{InputTokens: 10, OutputTokens: 20, ThinkingTokens: 30})
	if u != (Usage{InputTokens: 11, OutputTokens: 22, ThinkingTokens: 33}) {
		t.Errorf("unexpected sum %+v", u)
	}
}

type countingGateway struct {
	calls int
}

func (g *countingGateway) Generate(ctx context.Context, req Request) (*Response, error) {
	g.calls++
	return &Response{Outputs: []TurnOutput{Text{Text: "ok"}}}, nil
}

func TestWithRateLimit(t *testing.T) {
	base := &countingGateway{}

	if WithRateLimit(base, 0, 1) != Gateway(base) {
		t.Error("expected zero rate to return the base gateway")
	}

	gw := WithRateLimit(base, 1000, 0)
	for i := 0; i < 3; i++ {
		if _, err := gw.Generate(context.Background(), Request{Messages: []Message{UserText("x")}}); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if base.calls != 3 {
		t.Errorf("expected 3 calls, got %d", base.calls)
	}
}

func TestWithRateLimit_ContextCanceled(t *testing.T) {
	base := &countingGateway{}
	gw := WithRateLimit(base, 0.001, 1)

	// Drain the single burst token.
	if _, err := gw.Generate(context.Background(), Request{Messages: []Message{UserText("x")}}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := gw.Generate(ctx, Request{Messages: []Message{UserText("x")}})
	var gwErr *GatewayError
	if !errors.As(err, &gwErr) {
		t.Fatalf("expected GatewayError, got %v", err)
	}
	if base.calls != 1 {
		t.Errorf("expected the limited call to be skipped, got %d calls", base.calls)
	}
}
