package orchestrator

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/ShayCichocki/rfd/internal/agent"
	"github.com/ShayCichocki/rfd/internal/api"
	"github.com/ShayCichocki/rfd/internal/api/apitest"
	"github.com/ShayCichocki/rfd/pkg/models"
)

// candidateGateway answers each candidate worker according to the approach
// hint in its prompt. Hints mapped to an empty confidence fail.
type candidateGateway struct {
	mu         sync.Mutex
	confidence map[string]float64
	requests   []api.Request
}

func (g *candidateGateway) Generate(ctx context.Context, req api.Request) (*api.Response, error) {
	g.mu.Lock()
	g.requests = append(g.requests, req)
	g.mu.Unlock()

	prompt := objectiveOf(req)
	for hint, conf := range g.confidence {
		if !strings.Contains(prompt, hint) {
			continue
		}
		if conf < 0 {
			return nil, errors.New("model unavailable")
		}
		return apitest.StructuredReply(map[string]any{
			"approach":   "approach for " + hint,
			"solution":   "solution for " + hint,
			"confidence": conf,
			"trade_offs": []string{"slower to write"},
		}), nil
	}
	return nil, errors.New("unexpected prompt")
}

func newCandidateWorker(confidence map[string]float64) (*agent.Worker, *candidateGateway) {
	gw := &candidateGateway{confidence: confidence}
	return agent.NewWorker(agent.WorkerConfig{Gateway: gw}), gw
}

func TestBestOfN_JudgePicksCandidate(t *testing.T) {
	w, gw := newCandidateWorker(map[string]float64{
		ApproachHints[0]: 0.9,
		ApproachHints[1]: 0.6,
		ApproachHints[2]: 0.7,
	})
	judge := apitest.NewScripted(apitest.Step{Response: apitest.StructuredReply(map[string]any{
		"recommended_index":     1,
		"recommendation_reason": "fastest",
	})})

	res, err := BestOfN(context.Background(), w, judge, "sort a large file", BestOfNConfig{N: 3, MaxTurns: 2, JudgeThinkingBudget: 2048}, nil)
	if err != nil {
		t.Fatalf("BestOfN failed: %v", err)
	}
	if !res.Judged || res.Recommended != 1 || res.Reason != "fastest" {
		t.Errorf("expected judged pick 1 (fastest), got %+v", res)
	}
	if res.Best().Solution != "solution for "+ApproachHints[1] {
		t.Errorf("unexpected best solution %q", res.Best().Solution)
	}
	if len(res.Candidates) != 3 || res.Candidates[0].Confidence != 0.9 {
		t.Errorf("unexpected candidates %+v", res.Candidates)
	}

	if len(gw.requests) != 3 {
		t.Fatalf("expected 3 candidate calls, got %d", len(gw.requests))
	}
	for _, req := range gw.requests {
		if req.OutputSchema == nil || req.OutputSchema.Name != "solution" {
			t.Errorf("expected candidates to ask for a structured solution, got %+v", req.OutputSchema)
		}
		if len(req.Tools) != 0 {
			t.Errorf("expected no tools offered to structured candidates, got %d", len(req.Tools))
		}
	}

	reqs := judge.Requests()
	if len(reqs) != 1 {
		t.Fatalf("expected one judge call, got %d", len(reqs))
	}
	if reqs[0].ThinkingBudget != 2048 {
		t.Errorf("expected judge thinking budget 2048, got %d", reqs[0].ThinkingBudget)
	}
	prompt := objectiveOf(reqs[0])
	for _, want := range []string{"sort a large file", "Candidate 0", "Candidate 2", "slower to write"} {
		if !strings.Contains(prompt, want) {
			t.Errorf("expected judge prompt to contain %q:\n%s", want, prompt)
		}
	}
}

func TestBestOfN_FallsBackWhenJudgePicksFailedCandidate(t *testing.T) {
	w, _ := newCandidateWorker(map[string]float64{
		ApproachHints[0]: 0.4,
		ApproachHints[1]: -1,
		ApproachHints[2]: 0.8,
	})
	judge := apitest.NewScripted(apitest.Step{Response: apitest.StructuredReply(map[string]any{
		"recommended_index":     1,
		"recommendation_reason": "the failed one",
	})})

	res, err := BestOfN(context.Background(), w, judge, "problem", BestOfNConfig{N: 3, MaxTurns: 2}, nil)
	if err != nil {
		t.Fatalf("BestOfN failed: %v", err)
	}
	if res.Judged {
		t.Error("expected an out-of-range pick to be discarded")
	}
	if res.Recommended != 2 {
		t.Errorf("expected most confident candidate 2, got %d", res.Recommended)
	}
	if res.Candidates[1].Succeeded() || res.Candidates[1].Result.Status != models.WorkerFailed {
		t.Errorf("expected candidate 1 to be kept as failed, got %+v", res.Candidates[1])
	}
	if prompt := objectiveOf(judge.Requests()[0]); strings.Contains(prompt, "Candidate 1") {
		t.Errorf("expected failed candidate to be left out of the judge prompt:\n%s", prompt)
	}
}

func TestBestOfN_JudgeErrorFallsBack(t *testing.T) {
	w, _ := newCandidateWorker(map[string]float64{
		ApproachHints[0]: 0.5,
		ApproachHints[1]: 0.5,
	})
	judge := apitest.NewScripted(apitest.Step{Err: errors.New("overloaded")})

	res, err := BestOfN(context.Background(), w, judge, "problem", BestOfNConfig{N: 2, MaxTurns: 2}, nil)
	if err != nil {
		t.Fatalf("BestOfN failed: %v", err)
	}
	if res.Judged || res.Recommended != 0 {
		t.Errorf("expected unjudged fallback to the first of equal candidates, got %+v", res)
	}
}

func TestBestOfN_SingleSuccessSkipsJudge(t *testing.T) {
	w, _ := newCandidateWorker(map[string]float64{
		ApproachHints[0]: -1,
		ApproachHints[1]: 0.3,
	})
	judge := apitest.NewScripted()

	res, err := BestOfN(context.Background(), w, judge, "problem", BestOfNConfig{N: 2, MaxTurns: 2}, nil)
	if err != nil {
		t.Fatalf("BestOfN failed: %v", err)
	}
	if res.Recommended != 1 {
		t.Errorf("expected the only successful candidate, got %d", res.Recommended)
	}
	if judge.Calls() != 0 {
		t.Errorf("expected no judge call, got %d", judge.Calls())
	}
}

func TestBestOfN_Errors(t *testing.T) {
	w, _ := newCandidateWorker(map[string]float64{
		ApproachHints[0]: -1,
		ApproachHints[1]: -1,
	})

	for _, n := range []int{1, len(ApproachHints) + 1} {
		if _, err := BestOfN(context.Background(), w, nil, "problem", BestOfNConfig{N: n, MaxTurns: 2}, nil); err == nil {
			t.Errorf("expected error for N=%d", n)
		}
	}
	if _, err := BestOfN(context.Background(), w, nil, "  ", BestOfNConfig{N: 2, MaxTurns: 2}, nil); err == nil {
		t.Error("expected error for an empty problem")
	}

	res, err := BestOfN(context.Background(), w, nil, "problem", BestOfNConfig{N: 2, MaxTurns: 2}, nil)
	if !errors.Is(err, ErrNoCandidates) {
		t.Fatalf("expected ErrNoCandidates, got %v", err)
	}
	if res == nil || len(res.Candidates) != 2 {
		t.Errorf("expected failed candidates to be returned, got %+v", res)
	}
}
