package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/ShayCichocki/rfd/internal/api"
	"github.com/ShayCichocki/rfd/pkg/models"
)

// NoSuccessSummary is the summary of a run in which no worker succeeded.
const NoSuccessSummary = "No steps completed successfully."

const synthesizerSystemPrompt = `You combine the outputs of several worker agents into one answer to the user's goal.
Use only what the workers reported. Say plainly where a worker failed or was unsure.`

// SynthesisConfig tunes the synthesizer.
type SynthesisConfig struct {
	ThinkingBudget int
	Model          string
}

// Synthesizer merges worker results into a single response.
type Synthesizer struct {
	gateway api.Gateway
	cfg     SynthesisConfig
	logger  *zap.Logger
}

// NewSynthesizer creates a synthesizer.
func NewSynthesizer(gateway api.Gateway, cfg SynthesisConfig, logger *zap.Logger) *Synthesizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Synthesizer{gateway: gateway, cfg: cfg, logger: logger}
}

type synthesisPayload struct {
	Summary       string            `json:"summary"`
	Detailed      string            `json:"detailed"`
	KeyFindings   []string          `json:"key_findings"`
	Confidence    *float64          `json:"confidence"`
	Contributions map[string]string `json:"contributions"`
}

// Synthesize makes one model call over every result. When no result
// succeeded it makes no call and reports the run as failed. The overall
// status and per-step statuses are always derived from the results, never
// from the model.
func (s *Synthesizer) Synthesize(ctx context.Context, goal string, plan *models.TaskPlan, results []models.WorkerResult) (*models.SynthesizedResponse, error) {
	resp := &models.SynthesizedResponse{
		Status: overallStatus(plan, results),
		Steps:  stepStatuses(plan, results),
	}

	if countStatus(results, models.WorkerSuccess) == 0 {
		resp.Summary = NoSuccessSummary
		resp.Detailed = failureDetail(plan, results)
		return resp, nil
	}

	out, err := s.gateway.Generate(ctx, api.Request{
		Model:          s.cfg.Model,
		System:         synthesizerSystemPrompt,
		Messages:       []api.Message{api.UserText(synthesisPrompt(goal, plan, results))},
		OutputSchema:   synthesisSchema(),
		ThinkingBudget: s.cfg.ThinkingBudget,
	})
	if err != nil {
		var gwErr *api.GatewayError
		if errors.As(err, &gwErr) {
			return nil, err
		}
		return nil, &api.GatewayError{Op: "synthesize", Err: err}
	}

	raw := out.Text()
	if payload, ok := out.Structured(); ok {
		raw = string(payload)
	}

	var p synthesisPayload
	if err := api.ParseStructured(raw, &p); err != nil || strings.TrimSpace(p.Summary) == "" {
		s.logger.Warn("synthesis reply was not structured; using raw text", zap.Error(err))
		resp.Summary = strings.TrimSpace(raw)
		resp.Confidence = meanConfidence(results)
		return resp, nil
	}

	resp.Summary = p.Summary
	resp.Detailed = p.Detailed
	resp.KeyFindings = p.KeyFindings
	resp.Contributions = p.Contributions
	if p.Confidence != nil {
		resp.Confidence = models.ClampConfidence(*p.Confidence)
	} else {
		resp.Confidence = meanConfidence(results)
	}
	return resp, nil
}

// Unsynthesized builds a failed response without calling the model, for
// runs cut short by a deadlock or cancellation.
func (s *Synthesizer) Unsynthesized(plan *models.TaskPlan, results []models.WorkerResult, cause error) *models.SynthesizedResponse {
	summary := NoSuccessSummary
	if cause != nil {
		summary = "Run stopped: " + cause.Error()
	}
	return &models.SynthesizedResponse{
		Status:   models.RunFailed,
		Summary:  summary,
		Detailed: failureDetail(plan, results),
		Steps:    stepStatuses(plan, results),
	}
}

func synthesisPrompt(goal string, plan *models.TaskPlan, results []models.WorkerResult) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "GOAL:\n%s\n", goal)
	if plan != nil && plan.SynthesisApproach != "" {
		fmt.Fprintf(&sb, "\nSYNTHESIS APPROACH:\n%s\n", plan.SynthesisApproach)
	}

	sb.WriteString("\nWORKER RESULTS:\n")
	for _, r := range results {
		st, _ := planTask(plan, r.TaskID)
		fmt.Fprintf(&sb, "\n### [%s] %s\nid: %s | status: %s | confidence: %.2f\n",
			st.AgentType.Normalize(), st.Objective, r.TaskID, r.Status, r.Confidence)
		if r.Output != "" {
			sb.WriteString(r.Output)
			sb.WriteString("\n")
		}
		if r.Error != "" {
			fmt.Fprintf(&sb, "Error: %s\n", r.Error)
		}
		if r.Notes != "" {
			fmt.Fprintf(&sb, "Notes: %s\n", r.Notes)
		}
	}

	sb.WriteString("\nReturn a summary, a detailed answer, the key findings, your confidence between 0 and 1, and what each worker id contributed.")
	return sb.String()
}

func synthesisSchema() *api.OutputSchema {
	str := map[string]any{"type": "string"}
	return &api.OutputSchema{
		Name:        "synthesized_response",
		Description: "The consolidated answer built from all worker results.",
		Properties: map[string]any{
			"summary":      str,
			"detailed":     str,
			"key_findings": map[string]any{"type": "array", "items": str},
			"confidence":   map[string]any{"type": "number", "minimum": 0, "maximum": 1},
			"contributions": map[string]any{
				"type":                 "object",
				"additionalProperties": str,
			},
		},
		Required: []string{"summary", "detailed", "key_findings", "confidence", "contributions"},
	}
}

// overallStatus compares successes against the whole plan, so sub-tasks that
// never ran keep a run from counting as a full success.
func overallStatus(plan *models.TaskPlan, results []models.WorkerResult) models.RunStatus {
	total := len(results)
	if plan != nil && len(plan.SubTasks) > total {
		total = len(plan.SubTasks)
	}
	ok := countStatus(results, models.WorkerSuccess)
	switch {
	case total == 0 || ok == 0:
		return models.RunFailed
	case ok == total:
		return models.RunSuccess
	default:
		return models.RunPartial
	}
}

func stepStatuses(plan *models.TaskPlan, results []models.WorkerResult) []models.StepStatus {
	byID := make(map[string]models.WorkerResult, len(results))
	for _, r := range results {
		byID[r.TaskID] = r
	}

	var steps []models.StepStatus
	if plan != nil {
		for _, st := range plan.SubTasks {
			status := models.StepNotRun
			if r, ok := byID[st.ID]; ok {
				status = r.Status
			}
			steps = append(steps, models.StepStatus{
				TaskID:    st.ID,
				AgentType: st.AgentType.Normalize(),
				Objective: st.Objective,
				Status:    status,
			})
		}
	}
	return steps
}

func failureDetail(plan *models.TaskPlan, results []models.WorkerResult) string {
	var sb strings.Builder
	for _, r := range results {
		if r.Status == models.WorkerSuccess {
			continue
		}
		reason := r.Error
		if reason == "" {
			reason = r.Notes
		}
		fmt.Fprintf(&sb, "- %s: %s", r.TaskID, r.Status)
		if reason != "" {
			fmt.Fprintf(&sb, " (%s)", reason)
		}
		sb.WriteString("\n")
	}
	for _, step := range stepStatuses(plan, results) {
		if step.Status == models.StepNotRun {
			fmt.Fprintf(&sb, "- %s: not run\n", step.TaskID)
		}
	}
	return strings.TrimSpace(sb.String())
}

func planTask(plan *models.TaskPlan, id string) (models.SubTask, bool) {
	if plan == nil {
		return models.SubTask{ID: id}, false
	}
	st, ok := plan.Task(id)
	if !ok {
		st.ID = id
	}
	return st, ok
}

func countStatus(results []models.WorkerResult, status models.WorkerStatus) int {
	n := 0
	for _, r := range results {
		if r.Status == status {
			n++
		}
	}
	return n
}

func meanConfidence(results []models.WorkerResult) float64 {
	if len(results) == 0 {
		return 0
	}
	var sum float64
	for _, r := range results {
		sum += r.Confidence
	}
	return models.ClampConfidence(sum / float64(len(results)))
}
