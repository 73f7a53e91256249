package handoff

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ShayCichocki/rfd/internal/api"
)

// Style selects how a summary is written.
type Style string

const (
	StyleConcise     Style = "concise"
	StyleDetailed    Style = "detailed"
	StyleStructured  Style = "structured"
	StyleTaskFocused Style = "task_focused"
)

// Styles returns every style in a stable order.
func Styles() []Style {
	return []Style{StyleConcise, StyleDetailed, StyleStructured, StyleTaskFocused}
}

// Valid reports whether s is a known style.
func (s Style) Valid() bool {
	_, ok := stylePrompts[s]
	return ok
}

// DefaultMaxTokens bounds summary length when Config.MaxTokens is unset.
const DefaultMaxTokens = 2000

// ErrEmptyConversation is returned for conversations with no turns.
var ErrEmptyConversation = errors.New("conversation has no turns")

var stylePrompts = map[Style]string{
	StyleConcise: `Summarize this conversation in 2-3 paragraphs:
what was discussed, what was decided, and what work remains.`,

	StyleDetailed: `Write a thorough summary of this conversation with these parts:
overview of the goal, key discussions, decisions made, artifacts created or discussed,
where the conversation ended, and open items.`,

	StyleStructured: `Write the summary as YAML with the keys topic, goal, context, decisions,
artifacts (name, type, status), current_state, next_steps and open_questions.`,

	StyleTaskFocused: `Summarize the state of the task being worked on:
task, progress so far, current step, blockers, and the next action.`,
}

// Summary is a conversation condensed for a handoff.
type Summary struct {
	Summary       string   `json:"summary"`
	KeyDecisions  []string `json:"key_decisions,omitempty"`
	CurrentTask   string   `json:"current_task,omitempty"`
	OpenQuestions []string `json:"open_questions,omitempty"`
	Artifacts     []string `json:"artifacts_mentioned,omitempty"`
	Style         Style    `json:"style"`
	// TokenCount estimates the summary's size.
	TokenCount int `json:"token_count"`
	// CompressionRatio is the estimated transcript size over TokenCount.
	CompressionRatio float64   `json:"compression_ratio"`
	CreatedAt        time.Time `json:"created_at"`
}

// Config tunes a Summarizer.
type Config struct {
	Model          string
	ThinkingBudget int
	MaxTokens      int
}

// Summarizer condenses conversations with one model call each.
type Summarizer struct {
	gateway api.Gateway
	cfg     Config
	logger  *zap.Logger
	now     func() time.Time
}

// NewSummarizer creates a summarizer.
func NewSummarizer(gateway api.Gateway, cfg Config, logger *zap.Logger) *Summarizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = DefaultMaxTokens
	}
	return &Summarizer{gateway: gateway, cfg: cfg, logger: logger, now: time.Now}
}

type summaryPayload struct {
	Summary       string   `json:"summary"`
	KeyDecisions  []string `json:"key_decisions"`
	CurrentTask   string   `json:"current_task"`
	OpenQuestions []string `json:"open_questions"`
	Artifacts     []string `json:"artifacts_mentioned"`
}

// Summarize condenses conv in the given style. An unstructured reply is
// kept as the summary text with nothing extracted.
func (s *Summarizer) Summarize(ctx context.Context, conv Conversation, style Style) (*Summary, error) {
	if len(conv.Turns) == 0 {
		return nil, ErrEmptyConversation
	}
	if style == "" {
		style = StyleConcise
	}
	if !style.Valid() {
		return nil, fmt.Errorf("unknown summary style %q", style)
	}

	transcript := conv.Transcript()
	original := EstimateTokens(transcript)
	s.logger.Info("summarizing conversation",
		zap.Int("turns", len(conv.Turns)),
		zap.String("style", string(style)),
		zap.Int("estimated_tokens", original))

	resp, err := s.gateway.Generate(ctx, api.Request{
		Model:          s.cfg.Model,
		System:         "You condense conversations so another agent can continue the work without reading them.",
		Messages:       []api.Message{api.UserText(s.prompt(transcript, style))},
		OutputSchema:   summarySchema(),
		ThinkingBudget: s.cfg.ThinkingBudget,
		MaxTokens:      s.cfg.MaxTokens * 2,
	})
	if err != nil {
		var gwErr *api.GatewayError
		if errors.As(err, &gwErr) {
			return nil, err
		}
		return nil, &api.GatewayError{Op: "summarize", Err: err}
	}

	raw := resp.Text()
	if payload, ok := resp.Structured(); ok {
		raw = string(payload)
	}

	out := &Summary{Style: style, CreatedAt: s.now()}
	var p summaryPayload
	if err := api.ParseStructured(raw, &p); err != nil || strings.TrimSpace(p.Summary) == "" {
		s.logger.Warn("summary reply was not structured; using raw text", zap.Error(err))
		out.Summary = strings.TrimSpace(raw)
	} else {
		out.Summary = strings.TrimSpace(p.Summary)
		out.KeyDecisions = p.KeyDecisions
		out.CurrentTask = strings.TrimSpace(p.CurrentTask)
		out.OpenQuestions = p.OpenQuestions
		out.Artifacts = p.Artifacts
	}
	if out.Summary == "" {
		return nil, errors.New("model returned an empty summary")
	}

	out.TokenCount = EstimateTokens(out.Summary)
	if out.TokenCount > 0 {
		out.CompressionRatio = float64(original) / float64(out.TokenCount)
	}
	s.logger.Info("summary ready",
		zap.Int("tokens", out.TokenCount),
		zap.Float64("compression", out.CompressionRatio))
	return out, nil
}

func (s *Summarizer) prompt(transcript string, style Style) string {
	return fmt.Sprintf(`%s

## Conversation to Summarize

%s

## Instructions
- Keep the summary under %d tokens
- Focus on information needed to continue the work
- Preserve important technical details
- Note any commitments or agreements made
- Also list the key decisions, the current task, open questions and any files or documents mentioned`,
		stylePrompts[style], transcript, s.cfg.MaxTokens)
}

// ForkPrompt embeds a summary ahead of the next request, ready to be the
// opening prompt of a new worker.
func ForkPrompt(sum *Summary, next string) string {
	var sb strings.Builder
	sb.WriteString("## Previous Context\n\n")
	sb.WriteString(sum.Summary)
	sb.WriteString("\n\n### Key Decisions Made\n")
	sb.WriteString(bulletList(sum.KeyDecisions, "None recorded"))
	sb.WriteString("\n### Current State\n")
	if sum.CurrentTask != "" {
		sb.WriteString(sum.CurrentTask)
	} else {
		sb.WriteString("No specific task identified")
	}
	sb.WriteString("\n\n### Open Questions\n")
	sb.WriteString(bulletList(sum.OpenQuestions, "None"))
	sb.WriteString("\n---\n\n## Your Task\n\n")
	sb.WriteString(strings.TrimSpace(next))
	sb.WriteString("\n\nUse the context above to inform your response. Build on previous decisions and stay consistent with the work already done.")
	return sb.String()
}

func bulletList(items []string, empty string) string {
	if len(items) == 0 {
		return "- " + empty + "\n"
	}
	var sb strings.Builder
	for _, it := range items {
		sb.WriteString("- ")
		sb.WriteString(it)
		sb.WriteString("\n")
	}
	return sb.String()
}

func summarySchema() *api.OutputSchema {
	str := map[string]any{"type": "string"}
	list := map[string]any{"type": "array", "items": str}
	return &api.OutputSchema{
		Name:        "context_summary",
		Description: "A conversation condensed for handoff to another agent.",
		Properties: map[string]any{
			"summary":             str,
			"key_decisions":       list,
			"current_task":        str,
			"open_questions":      list,
			"artifacts_mentioned": list,
		},
		Required: []string{"summary", "key_decisions", "current_task", "open_questions", "artifacts_mentioned"},
	}
}
