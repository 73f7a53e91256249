package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/ShayCichocki/rfd/internal/agent"
	"github.com/ShayCichocki/rfd/internal/api"
	"github.com/ShayCichocki/rfd/pkg/models"
)

// ApproachHints seed the candidates of a best-of-N run. Candidate i gets
// hint i, so N is bounded by len(ApproachHints).
var ApproachHints = []string{
	"Optimize for simplicity and readability",
	"Optimize for performance and efficiency",
	"Optimize for extensibility and maintainability",
	"Optimize for robustness and error handling",
	"Optimize for the fewest moving parts and dependencies",
}

// MinCandidates is the smallest useful best-of-N.
const MinCandidates = 2

// ErrNoCandidates is returned when every candidate worker failed.
var ErrNoCandidates = errors.New("no candidate solution succeeded")

const judgeSystemPrompt = `You compare candidate solutions to one problem and recommend the best.
Judge correctness first, then fit to the problem as stated. Do not merge solutions.`

// BestOfNConfig tunes a best-of-N run.
type BestOfNConfig struct {
	// N is the number of candidates, between MinCandidates and len(ApproachHints).
	N int
	// MaxTurns is the turn budget of each candidate worker.
	MaxTurns int
	// Limit caps candidate workers running at once. Zero runs all of them.
	Limit int
	// JudgeModel and JudgeThinkingBudget configure the judging call.
	JudgeModel          string
	JudgeThinkingBudget int
	AgentType           models.AgentType
}

// Candidate is one proposed solution.
type Candidate struct {
	Hint       string              `json:"hint"`
	Approach   string              `json:"approach"`
	Solution   string              `json:"solution"`
	Confidence float64             `json:"confidence"`
	TradeOffs  []string            `json:"trade_offs,omitempty"`
	Result     models.WorkerResult `json:"result"`
}

// Succeeded reports whether the candidate's worker produced a solution.
func (c Candidate) Succeeded() bool {
	return c.Result.Status != models.WorkerFailed && strings.TrimSpace(c.Solution) != ""
}

// BestOfNResult holds every candidate and the judge's pick.
type BestOfNResult struct {
	Problem    string      `json:"problem"`
	Candidates []Candidate `json:"candidates"`
	// Recommended indexes Candidates.
	Recommended int    `json:"recommended_index"`
	Reason      string `json:"recommendation_reason"`
	// Judged is false when the pick fell back to candidate confidence.
	Judged bool `json:"judged"`
}

// Best returns the recommended candidate.
func (r *BestOfNResult) Best() Candidate {
	return r.Candidates[r.Recommended]
}

type solutionPayload struct {
	Approach   string   `json:"approach"`
	Solution   string   `json:"solution"`
	Confidence float64  `json:"confidence"`
	TradeOffs  []string `json:"trade_offs"`
}

type judgePayload struct {
	Recommended *int   `json:"recommended_index"`
	Reason      string `json:"recommendation_reason"`
}

// BestOfN forks N workers on the same problem, each steered by a different
// approach hint and asked for a structured solution, then makes one judging
// call that picks a candidate. Failed candidates are kept in the result but
// never recommended. When the judge fails or answers out of range, the
// successful candidate with the highest confidence is recommended instead.
func BestOfN(ctx context.Context, worker *agent.Worker, judge api.Gateway, problem string, cfg BestOfNConfig, logger *zap.Logger) (*BestOfNResult, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.N < MinCandidates || cfg.N > len(ApproachHints) {
		return nil, fmt.Errorf("best-of-N needs between %d and %d candidates, got %d", MinCandidates, len(ApproachHints), cfg.N)
	}
	if strings.TrimSpace(problem) == "" {
		return nil, errors.New("best-of-N needs a problem statement")
	}

	assignments := make([]agent.Assignment, cfg.N)
	for i := range assignments {
		assignments[i] = agent.Assignment{
			Prompt:       fmt.Sprintf("%s\n\nApproach hint: %s", problem, ApproachHints[i]),
			AgentType:    cfg.AgentType,
			OutputSchema: solutionSchema(),
		}
	}
	results := worker.RunAll(ctx, assignments, cfg.MaxTurns, cfg.Limit)

	out := &BestOfNResult{Problem: problem, Candidates: make([]Candidate, len(results))}
	var ok []int
	for i, res := range results {
		c := Candidate{Hint: ApproachHints[i], Result: res, Confidence: res.Confidence}
		if res.Status != models.WorkerFailed {
			var p solutionPayload
			if err := api.ParseStructured(res.Output, &p); err != nil {
				logger.Warn("candidate reply was not structured; using raw text", zap.Int("candidate", i), zap.Error(err))
				c.Solution = strings.TrimSpace(res.Output)
			} else {
				c.Approach = p.Approach
				c.Solution = p.Solution
				c.Confidence = models.ClampConfidence(p.Confidence)
				c.TradeOffs = p.TradeOffs
			}
		}
		out.Candidates[i] = c
		if c.Succeeded() {
			ok = append(ok, i)
		}
	}
	if err := ctx.Err(); err != nil {
		return out, fmt.Errorf("best-of-N interrupted: %w", err)
	}
	if len(ok) == 0 {
		return out, ErrNoCandidates
	}
	if len(ok) == 1 {
		out.Recommended = ok[0]
		out.Reason = "Only one candidate produced a solution."
		return out, nil
	}

	pick, reason, err := judgeCandidates(ctx, judge, cfg, problem, out.Candidates, ok)
	if err != nil {
		logger.Warn("judge failed; recommending the most confident candidate", zap.Error(err))
		out.Recommended = mostConfident(out.Candidates, ok)
		out.Reason = "Highest self-reported confidence."
		return out, nil
	}
	out.Recommended = pick
	out.Reason = reason
	out.Judged = true
	return out, nil
}

func judgeCandidates(ctx context.Context, gw api.Gateway, cfg BestOfNConfig, problem string, cands []Candidate, ok []int) (int, string, error) {
	if gw == nil {
		return 0, "", errors.New("no judge gateway")
	}
	resp, err := gw.Generate(ctx, api.Request{
		Model:          cfg.JudgeModel,
		System:         judgeSystemPrompt,
		Messages:       []api.Message{api.UserText(judgePrompt(problem, cands, ok))},
		OutputSchema:   judgeSchema(),
		ThinkingBudget: cfg.JudgeThinkingBudget,
	})
	if err != nil {
		return 0, "", &api.GatewayError{Op: "judge", Err: err}
	}

	raw := resp.Text()
	if payload, isStructured := resp.Structured(); isStructured {
		raw = string(payload)
	}
	var p judgePayload
	if err := api.ParseStructured(raw, &p); err != nil {
		return 0, "", err
	}
	if p.Recommended == nil {
		return 0, "", errors.New("judge reply has no recommended_index")
	}
	idx := *p.Recommended
	if idx < 0 || idx >= len(cands) || !cands[idx].Succeeded() {
		return 0, "", fmt.Errorf("judge recommended candidate %d, which has no solution", idx)
	}
	return idx, p.Reason, nil
}

func judgePrompt(problem string, cands []Candidate, ok []int) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "PROBLEM:\n%s\n\nCANDIDATES:\n", problem)
	for _, i := range ok {
		c := cands[i]
		fmt.Fprintf(&sb, "\n### Candidate %d (%s)\nconfidence: %.2f\n", i, c.Hint, c.Confidence)
		if c.Approach != "" {
			fmt.Fprintf(&sb, "Approach: %s\n", c.Approach)
		}
		sb.WriteString(c.Solution)
		sb.WriteString("\n")
		if len(c.TradeOffs) > 0 {
			fmt.Fprintf(&sb, "Trade-offs: %s\n", strings.Join(c.TradeOffs, "; "))
		}
	}
	sb.WriteString("\nAnalyze each candidate and return the index of the best one with your reason.")
	return sb.String()
}

// mostConfident returns the index in ok with the highest confidence, the
// earliest on ties.
func mostConfident(cands []Candidate, ok []int) int {
	best := ok[0]
	for _, i := range ok[1:] {
		if cands[i].Confidence > cands[best].Confidence {
			best = i
		}
	}
	return best
}

func solutionSchema() *api.OutputSchema {
	str := map[string]any{"type": "string"}
	return &api.OutputSchema{
		Name:        "solution",
		Description: "One complete solution to the problem.",
		Properties: map[string]any{
			"approach":   str,
			"solution":   str,
			"confidence": map[string]any{"type": "number", "minimum": 0, "maximum": 1},
			"trade_offs": map[string]any{"type": "array", "items": str},
		},
		Required: []string{"approach", "solution", "confidence", "trade_offs"},
	}
}

func judgeSchema() *api.OutputSchema {
	return &api.OutputSchema{
		Name:        "recommendation",
		Description: "The index of the best candidate and why.",
		Properties: map[string]any{
			"recommended_index":     map[string]any{"type": "integer", "minimum": 0},
			"recommendation_reason": map[string]any{"type": "string"},
		},
		Required: []string{"recommended_index", "recommendation_reason"},
	}
}
