package agent

import (
	"sync"
	"time"

	"github.com/ShayCichocki/rfd/pkg/models"
)

// TaskCounts summarizes worker outcomes for a run.
type TaskCounts struct {
	Total     int `json:"total"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
}

// RunSummary is the reporting view of OrchestratorMetrics.
type RunSummary struct {
	RunID            string     `json:"run_id"`
	DurationMS       int64      `json:"duration_ms"`
	InputTokens      int64      `json:"input_tokens"`
	OutputTokens     int64      `json:"output_tokens"`
	ThinkingTokens   int64      `json:"thinking_tokens"`
	TotalTokens      int64      `json:"total_tokens"`
	EstimatedCostUSD float64    `json:"estimated_cost_usd"`
	Tasks            TaskCounts `json:"tasks"`
	AgentsSpawned    int        `json:"agents_spawned"`
	ToolCalls        int        `json:"tool_calls"`
}

// OrchestratorMetrics aggregates AgentMetrics across one run. Agent records
// are append-only; concurrent workers may append at the same time.
type OrchestratorMetrics struct {
	mu        sync.Mutex
	runID     string
	startedAt time.Time
	endedAt   time.Time
	pricing   models.Pricing
	agents    []models.AgentMetrics
	// overhead is usage from planning and synthesis calls.
	overhead models.AgentMetrics
	tasks    TaskCounts
}

// NewOrchestratorMetrics starts the clock for a run.
func NewOrchestratorMetrics(runID string, pricing models.Pricing) *OrchestratorMetrics {
	return &OrchestratorMetrics{
		runID:     runID,
		startedAt: time.Now(),
		pricing:   pricing,
	}
}

// RunID returns the run identifier.
func (m *OrchestratorMetrics) RunID() string {
	return m.runID
}

// SetTotalTasks records how many sub-tasks the plan holds.
func (m *OrchestratorMetrics) SetTotalTasks(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tasks.Total = n
}

// Append records one finished agent.
func (m *OrchestratorMetrics) Append(am models.AgentMetrics) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.agents = append(m.agents, am)
	if am.Status == models.AgentStatusFailed {
		m.tasks.Failed++
	} else {
		m.tasks.Completed++
	}
}

// AddOverhead records token usage from calls made outside any worker.
func (m *OrchestratorMetrics) AddOverhead(input, output, thinking int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.overhead.InputTokens += input
	m.overhead.OutputTokens += output
	m.overhead.ThinkingTokens += thinking
}

// Finish stops the clock. Calling it again has no effect.
func (m *OrchestratorMetrics) Finish() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.endedAt.IsZero() {
		m.endedAt = time.Now()
	}
}

// Agents returns a copy of the agent records in append order.
func (m *OrchestratorMetrics) Agents() []models.AgentMetrics {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.AgentMetrics, len(m.agents))
	copy(out, m.agents)
	return out
}

// Summary totals the run. An unfinished run reports elapsed time so far.
func (m *OrchestratorMetrics) Summary() RunSummary {
	m.mu.Lock()
	defer m.mu.Unlock()

	end := m.endedAt
	if end.IsZero() {
		end = time.Now()
	}

	total := m.overhead
	toolCalls := 0
	for _, a := range m.agents {
		total.InputTokens += a.InputTokens
		total.OutputTokens += a.OutputTokens
		total.ThinkingTokens += a.ThinkingTokens
		toolCalls += a.ToolCalls
	}

	return RunSummary{
		RunID:            m.runID,
		DurationMS:       end.Sub(m.startedAt).Milliseconds(),
		InputTokens:      total.InputTokens,
		OutputTokens:     total.OutputTokens,
		ThinkingTokens:   total.ThinkingTokens,
		TotalTokens:      total.TotalTokens(),
		EstimatedCostUSD: total.Cost(m.pricing),
		Tasks:            m.tasks,
		AgentsSpawned:    len(m.agents),
		ToolCalls:        toolCalls,
	}
}
