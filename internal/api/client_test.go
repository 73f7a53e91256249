package api

import (
	"encoding/json"
	"errors"
	"os"
	"testing"

	"github.com/anthropics/anthropic-sdk-go"
)

func TestNewClient_WithAPIKey(t *testing.T) {
	client, err := NewClient(ClientConfig{
		APIKey: "test-key-123",
		Model:  anthropic.ModelClaudeSonnet4_20250514,
	})
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}

	if client.Model() != anthropic.ModelClaudeSonnet4_20250514 {
		t.Errorf("Model = %q, want %q", client.Model(), anthropic.ModelClaudeSonnet4_20250514)
	}
	if client.Tracker() == nil {
		t.Error("Tracker should not be nil")
	}
}

func TestNewClient_NoAPIKey(t *testing.T) {
	original := os.Getenv("ANTHROPIC_API_KEY")
	defer os.Setenv("ANTHROPIC_API_KEY", original)
	os.Unsetenv("ANTHROPIC_API_KEY")

	_, err := NewClient(ClientConfig{})
	if err == nil {
		t.Fatal("NewClient should fail without API key")
	}

	expected := "ANTHROPIC_API_KEY environment variable is not set"
	if err.Error() != expected {
		t.Errorf("Error = %q, want %q", err.Error(), expected)
	}
}

func TestNewClient_DefaultModel(t *testing.T) {
	client, err := NewClient(ClientConfig{APIKey: "test-key"})
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	if client.Model() != anthropic.ModelClaudeSonnet4_20250514 {
		t.Errorf("Default model = %q, want %q", client.Model(), anthropic.ModelClaudeSonnet4_20250514)
	}
}

func TestTranslateModelForBedrock(t *testing.T) {
	got := translateModelForBedrock(anthropic.ModelClaudeSonnet4_20250514)
	if got != "us.anthropic.claude-sonnet-4-20250514-v1:0" {
		t.Errorf("unexpected bedrock model %q", got)
	}

	custom := anthropic.Model("my-custom-model")
	if translateModelForBedrock(custom) != custom {
		t.Error("expected unknown models to pass through unchanged")
	}
}

func TestBuildParams_StructuredForcesSingleTool(t *testing.T) {
	client, err := NewClient(ClientConfig{APIKey: "test-key"})
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}

	params := client.buildParams(Request{
		System:         "plan it",
		Messages:       []Message{UserText("goal")},
		OutputSchema:   &OutputSchema{Name: "task_plan", Properties: map[string]any{"analysis": map[string]any{"type": "string"}}},
		ThinkingBudget: 4096,
	})

	if len(params.Tools) != 1 {
		t.Fatalf("expected exactly one tool for structured output, got %d", len(params.Tools))
	}
	if params.Tools[0].OfTool == nil || params.Tools[0].OfTool.Name != "task_plan" {
		t.Error("expected the structured output tool to be named task_plan")
	}
	if params.ToolChoice.OfTool == nil || params.ToolChoice.OfTool.Name != "task_plan" {
		t.Error("expected tool choice to force task_plan")
	}
	if params.MaxTokens != defaultMaxTokens {
		t.Errorf("expected max tokens %d when thinking is disabled, got %d", defaultMaxTokens, params.MaxTokens)
	}
	if len(params.System) != 1 || params.System[0].Text != "plan it" {
		t.Error("expected system prompt to be set")
	}
}

func TestBuildParams_ThinkingRaisesMaxTokens(t *testing.T) {
	client, err := NewClient(ClientConfig{APIKey: "test-key"})
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}

	params := client.buildParams(Request{
		Messages:       []Message{UserText("hi")},
		ThinkingBudget: 8192,
		MaxTokens:      4000,
	})
	if params.MaxTokens <= 8192 {
		t.Errorf("expected max tokens above the thinking budget, got %d", params.MaxTokens)
	}

	params = client.buildParams(Request{
		Messages:       []Message{UserText("hi")},
		ThinkingBudget: 10,
	})
	if params.MaxTokens <= minThinkingBudget {
		t.Errorf("expected small budgets to be raised to the minimum, got max tokens %d", params.MaxTokens)
	}
}

func TestBuildParams_Tools(t *testing.T) {
	client, err := NewClient(ClientConfig{APIKey: "test-key"})
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}

	params := client.buildParams(Request{
		Model:    "claude-3-5-haiku-20241022",
		Messages: []Message{UserText("hi")},
		Tools: []ToolSchema{
			{Name: "read_file", Description: "Read a file", Properties: map[string]any{}, Required: []string{"path"}},
			{Name: "bash", Description: "Run a command", Properties: map[string]any{}},
		},
	})

	if len(params.Tools) != 2 {
		t.Fatalf("expected 2 tools, got %d", len(params.Tools))
	}
	if params.Model != "claude-3-5-haiku-20241022" {
		t.Errorf("expected request model override, got %q", params.Model)
	}
}

func TestToMessageParams(t *testing.T) {
	msgs := []Message{
		UserText("do the thing"),
		{Role: RoleAssistant, Parts: []Part{
			TextPart{Text: "calling a tool"},
			ToolCallPart{ID: "call_1", Name: "read_file", Args: json.RawMessage(`{"path":"a.txt"}`)},
		}},
		{Role: RoleUser, Parts: []Part{
			ToolResultPart{CallID: "call_1", Name: "read_file", Content: `{"success":true}`},
		}},
	}

	params := toMessageParams(msgs)
	if len(params) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(params))
	}
	if params[1].Role != anthropic.MessageParamRoleAssistant {
		t.Errorf("expected assistant role, got %q", params[1].Role)
	}
	if len(params[1].Content) != 2 {
		t.Errorf("expected 2 assistant blocks, got %d", len(params[1].Content))
	}
}

func TestGenerate_RejectsStructuredWithTools(t *testing.T) {
	client, err := NewClient(ClientConfig{APIKey: "test-key"})
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}

	_, err = client.Generate(t.Context(), Request{
		Messages:     []Message{UserText("x")},
		Tools:        []ToolSchema{{Name: "bash"}},
		OutputSchema: &OutputSchema{Name: "out"},
	})
	if err == nil {
		t.Fatal("expected an error")
	}
	var gwErr *GatewayError
	if !errors.As(err, &gwErr) {
		t.Fatalf("expected GatewayError, got %T", err)
	}
	if client.Tracker().Calls() != 0 {
		t.Error("expected no call to be tracked")
	}
}

func TestTokenTracker(t *testing.T) {
	tracker := NewTokenTracker()

	tracker.Add(Usage{InputTokens: 100, OutputTokens: 50})
	tracker.Add(Usage{InputTokens: 200, OutputTokens: 100, ThinkingTokens: 10})

	total := tracker.Total()
	if total.InputTokens != 300 {
		t.Errorf("Input tokens = %d, want 300", total.InputTokens)
	}
	if total.OutputTokens != 150 {
		t.Errorf("Output tokens = %d, want 150", total.OutputTokens)
	}
	if total.ThinkingTokens != 10 {
		t.Errorf("Thinking tokens = %d, want 10", total.ThinkingTokens)
	}
	if tracker.Calls() != 2 {
		t.Errorf("Calls = %d, want 2", tracker.Calls())
	}

	tracker.Reset()
	if tracker.Total() != (Usage{}) || tracker.Calls() != 0 {
		t.Error("expected tracker to be empty after reset")
	}
}
