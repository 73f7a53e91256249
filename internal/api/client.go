package api

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/bedrock"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/aws/aws-sdk-go-v2/config"
)

const (
	defaultMaxTokens = 8192
	// minThinkingBudget is the smallest reasoning budget the API accepts.
	minThinkingBudget = 1024
)

// Client is a Gateway backed by the Anthropic Messages API, either directly
// or through AWS Bedrock.
type Client struct {
	inner   anthropic.Client
	model   anthropic.Model
	bedrock bool
	tracker *TokenTracker
}

// ClientConfig contains configuration for creating a new Client.
type ClientConfig struct {
	// Model is the default model (e.g., anthropic.ModelClaudeSonnet4_20250514).
	Model anthropic.Model
	// APIKey is the Anthropic API key. If empty, uses ANTHROPIC_API_KEY env var.
	APIKey string
	// UseAWSBedrock indicates whether to use AWS Bedrock instead of direct API.
	UseAWSBedrock bool
	// AWSRegion is the AWS region for Bedrock (e.g., "us-west-2").
	AWSRegion string
	// AWSProfile is the optional AWS profile name to use.
	AWSProfile string
}

// NewClient creates a new Anthropic API client.
func NewClient(cfg ClientConfig) (*Client, error) {
	var opts []option.RequestOption

	if cfg.UseAWSBedrock {
		ctx := context.Background()

		var loadOpts []func(*config.LoadOptions) error
		if cfg.AWSRegion != "" {
			loadOpts = append(loadOpts, config.WithRegion(cfg.AWSRegion))
		}
		if cfg.AWSProfile != "" {
			loadOpts = append(loadOpts, config.WithSharedConfigProfile(cfg.AWSProfile))
		}

		opts = append(opts, bedrock.WithLoadDefaultConfig(ctx, loadOpts...))
	} else {
		apiKey := cfg.APIKey
		if apiKey == "" {
			apiKey = os.Getenv("ANTHROPIC_API_KEY")
		}
		if apiKey == "" {
			return nil, fmt.Errorf("ANTHROPIC_API_KEY environment variable is not set")
		}
		opts = append(opts, option.WithAPIKey(apiKey))
	}

	model := cfg.Model
	if model == "" {
		model = anthropic.ModelClaudeSonnet4_20250514
	}
	if cfg.UseAWSBedrock {
		model = translateModelForBedrock(model)
	}

	return &Client{
		inner:   anthropic.NewClient(opts...),
		model:   model,
		bedrock: cfg.UseAWSBedrock,
		tracker: NewTokenTracker(),
	}, nil
}

// translateModelForBedrock converts standard Anthropic model names to Bedrock
// cross-region inference profiles: us.anthropic.{model}-v1:0
func translateModelForBedrock(model anthropic.Model) anthropic.Model {
	bedrockModels := map[anthropic.Model]string{
		anthropic.ModelClaudeSonnet4_20250514:   "us.anthropic.claude-sonnet-4-20250514-v1:0",
		anthropic.ModelClaudeSonnet4_5_20250929: "us.anthropic.claude-sonnet-4-5-20250929-v1:0",
		anthropic.ModelClaudeHaiku4_5_20251001:  "us.anthropic.claude-haiku-4-5-20251001-v1:0",
		anthropic.ModelClaudeOpus4_1_20250805:   "us.anthropic.claude-opus-4-1-20250805-v1:0",
		anthropic.ModelClaude3_7Sonnet20250219:  "us.anthropic.claude-3-7-sonnet-20250219-v1:0",
		anthropic.ModelClaude3_5Haiku20241022:   "us.anthropic.claude-3-5-haiku-20241022-v1:0",
	}

	if bedrockModel, ok := bedrockModels[model]; ok {
		return anthropic.Model(bedrockModel)
	}
	return model
}

// Model returns the configured default model name.
func (c *Client) Model() anthropic.Model {
	return c.model
}

// Tracker returns the token tracker for this client.
func (c *Client) Tracker() *TokenTracker {
	return c.tracker
}

// resolveModel picks the request model, translating it for Bedrock if needed.
func (c *Client) resolveModel(name string) anthropic.Model {
	if name == "" {
		return c.model
	}
	model := anthropic.Model(name)
	if c.bedrock && !strings.HasPrefix(name, "us.anthropic") {
		model = translateModelForBedrock(model)
	}
	return model
}

// Generate implements Gateway.
func (c *Client) Generate(ctx context.Context, req Request) (*Response, error) {
	if err := req.Validate(); err != nil {
		return nil, &GatewayError{Op: "validate", Err: err}
	}

	params := c.buildParams(req)
	msg, err := c.inner.Messages.New(ctx, params)
	if err != nil {
		return nil, &GatewayError{Op: "messages", Err: err}
	}

	resp := convertMessage(msg, req.OutputSchema)
	c.tracker.Add(resp.Usage)
	return resp, nil
}

func (c *Client) buildParams(req Request) anthropic.MessageNewParams {
	maxTokens := int64(req.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	params := anthropic.MessageNewParams{
		Model:     c.resolveModel(req.Model),
		MaxTokens: maxTokens,
		Messages:  toMessageParams(req.Messages),
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}

	switch {
	case req.OutputSchema != nil:
		// A forced tool call carries the structured payload. Forced tool
		// choice cannot be combined with extended thinking.
		params.Tools = []anthropic.ToolUnionParam{outputSchemaTool(req.OutputSchema)}
		params.ToolChoice = anthropic.ToolChoiceUnionParam{
			OfTool: &anthropic.ToolChoiceToolParam{Name: structuredToolName(req.OutputSchema)},
		}
	default:
		if len(req.Tools) > 0 {
			params.Tools = ToolParams(req.Tools)
		}
		if req.ThinkingBudget > 0 {
			budget := int64(max(req.ThinkingBudget, minThinkingBudget))
			params.Thinking = anthropic.ThinkingConfigParamOfEnabled(budget)
			if params.MaxTokens <= budget {
				params.MaxTokens = budget + defaultMaxTokens
			}
		}
	}
	return params
}

// ToolParams converts gateway tool schemas into SDK tool definitions.
func ToolParams(schemas []ToolSchema) []anthropic.ToolUnionParam {
	tools := make([]anthropic.ToolUnionParam, 0, len(schemas))
	for _, s := range schemas {
		tools = append(tools, anthropic.ToolUnionParam{
			OfTool: &anthropic.ToolParam{
				Name:        s.Name,
				Description: anthropic.String(s.Description),
				InputSchema: anthropic.ToolInputSchemaParam{
					Properties: s.Properties,
					Required:   s.Required,
				},
			},
		})
	}
	return tools
}

func structuredToolName(s *OutputSchema) string {
	if s.Name != "" {
		return s.Name
	}
	return "structured_output"
}

func outputSchemaTool(s *OutputSchema) anthropic.ToolUnionParam {
	desc := s.Description
	if desc == "" {
		desc = "Return the final answer in this exact structure."
	}
	return anthropic.ToolUnionParam{
		OfTool: &anthropic.ToolParam{
			Name:        structuredToolName(s),
			Description: anthropic.String(desc),
			InputSchema: anthropic.ToolInputSchemaParam{
				Properties: s.Properties,
				Required:   s.Required,
			},
		},
	}
}

func toMessageParams(msgs []Message) []anthropic.MessageParam {
	out := make([]anthropic.MessageParam, 0, len(msgs))
	for _, m := range msgs {
		blocks := make([]anthropic.ContentBlockParamUnion, 0, len(m.Parts))
		for _, p := range m.Parts {
			switch part := p.(type) {
			case TextPart:
				blocks = append(blocks, anthropic.NewTextBlock(part.Text))
			case ThinkingPart:
				blocks = append(blocks, anthropic.NewThinkingBlock(part.Signature, part.Text))
			case ToolCallPart:
				blocks = append(blocks, anthropic.NewToolUseBlock(part.ID, rawArgs(part.Args), part.Name))
			case ToolResultPart:
				blocks = append(blocks, anthropic.NewToolResultBlock(part.CallID, part.Content, part.IsError))
			}
		}
		if m.Role == RoleAssistant {
			out = append(out, anthropic.NewAssistantMessage(blocks...))
		} else {
			out = append(out, anthropic.NewUserMessage(blocks...))
		}
	}
	return out
}

func rawArgs(args json.RawMessage) json.RawMessage {
	if len(args) == 0 {
		return json.RawMessage(`{}`)
	}
	return args
}

func convertMessage(msg *anthropic.Message, schema *OutputSchema) *Response {
	resp := &Response{
		StopReason: string(msg.StopReason),
		// Output tokens already include reasoning; the API does not split them.
		Usage: Usage{
			InputTokens:  msg.Usage.InputTokens,
			OutputTokens: msg.Usage.OutputTokens,
		},
	}

	for _, block := range msg.Content {
		switch variant := block.AsAny().(type) {
		case anthropic.TextBlock:
			resp.Outputs = append(resp.Outputs, Text{Text: variant.Text})
		case anthropic.ThinkingBlock:
			resp.Thinking = append(resp.Thinking, ThinkingPart{Text: variant.Thinking, Signature: variant.Signature})
		case anthropic.ToolUseBlock:
			if schema != nil && variant.Name == structuredToolName(schema) {
				resp.Outputs = append(resp.Outputs, Structured{Payload: variant.Input})
				continue
			}
			resp.Outputs = append(resp.Outputs, ToolRequest{ID: variant.ID, Name: variant.Name, Args: variant.Input})
		}
	}
	return resp
}

// TokenTracker tracks token usage across API calls.
type TokenTracker struct {
	mu          sync.Mutex
	inputTok    int64
	outputTok   int64
	thinkingTok int64
	calls       int
}

// NewTokenTracker creates a new token tracker.
func NewTokenTracker() *TokenTracker {
	return &TokenTracker{}
}

// Add records token usage from an API call.
func (t *TokenTracker) Add(u Usage) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.inputTok += u.InputTokens
	t.outputTok += u.OutputTokens
	t.thinkingTok += u.ThinkingTokens
	t.calls++
}

// Total returns the usage tracked so far.
func (t *TokenTracker) Total() Usage {
	t.mu.Lock()
	defer t.mu.Unlock()
	return Usage{InputTokens: t.inputTok, OutputTokens: t.outputTok, ThinkingTokens: t.thinkingTok}
}

// Calls returns the number of API calls made.
func (t *TokenTracker) Calls() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.calls
}

// Reset clears all tracked token usage.
func (t *TokenTracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.inputTok = 0
	t.outputTok = 0
	t.thinkingTok = 0
	t.calls = 0
}
