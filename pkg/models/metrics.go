package models

import "time"

// Pricing holds per-million-token rates in USD.
type Pricing struct {
	InputPerMillion    float64 `json:"input_per_million"`
	OutputPerMillion   float64 `json:"output_per_million"`
	ThinkingPerMillion float64 `json:"thinking_per_million"`
}

// DefaultPricing returns the flash-tier rates.
func DefaultPricing() Pricing {
	return Pricing{
		InputPerMillion:    0.075,
		OutputPerMillion:   0.30,
		ThinkingPerMillion: 0.30,
	}
}

// AgentMetrics records usage for one worker invocation.
type AgentMetrics struct {
	AgentID        string      `json:"agent_id"`
	AgentType      AgentType   `json:"agent_type"`
	TaskID         string      `json:"task_id,omitempty"`
	StartedAt      time.Time   `json:"started_at"`
	EndedAt        time.Time   `json:"ended_at"`
	InputTokens    int64       `json:"input_tokens"`
	OutputTokens   int64       `json:"output_tokens"`
	ThinkingTokens int64       `json:"thinking_tokens"`
	ToolCalls      int         `json:"tool_calls"`
	Turns          int         `json:"turns"`
	Status         AgentStatus `json:"status"`
	Error          string      `json:"error,omitempty"`
}

// Duration returns the wall-clock time between start and end.
// It is zero until the metrics have been finalized.
func (m AgentMetrics) Duration() time.Duration {
	if m.EndedAt.IsZero() || m.StartedAt.IsZero() {
		return 0
	}
	return m.EndedAt.Sub(m.StartedAt)
}

// TotalTokens returns input + output + thinking tokens.
func (m AgentMetrics) TotalTokens() int64 {
	return m.InputTokens + m.OutputTokens + m.ThinkingTokens
}

// Cost returns the estimated cost in USD at the given rates.
func (m AgentMetrics) Cost(p Pricing) float64 {
	return float64(m.InputTokens)*p.InputPerMillion/1_000_000 +
		float64(m.OutputTokens)*p.OutputPerMillion/1_000_000 +
		float64(m.ThinkingTokens)*p.ThinkingPerMillion/1_000_000
}
