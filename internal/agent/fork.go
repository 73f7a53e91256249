package agent

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/ShayCichocki/rfd/pkg/models"
)

// Fork runs a single ephemeral worker on a free-form prompt, outside any plan.
func (w *Worker) Fork(ctx context.Context, prompt string, agentType models.AgentType, maxTurns int) models.WorkerResult {
	return w.Run(ctx, Assignment{Prompt: prompt, AgentType: agentType}, maxTurns)
}

// Swarm forks one worker per prompt with at most limit running at once.
// Results are returned in prompt order.
func (w *Worker) Swarm(ctx context.Context, prompts []string, agentType models.AgentType, maxTurns, limit int) []models.WorkerResult {
	assignments := make([]Assignment, len(prompts))
	for i, p := range prompts {
		assignments[i] = Assignment{Prompt: p, AgentType: agentType}
	}
	return w.RunAll(ctx, assignments, maxTurns, limit)
}

// RunAll runs every assignment in its own worker with at most limit running
// at once. A limit of zero or less runs them all together. Results are
// returned in assignment order.
func (w *Worker) RunAll(ctx context.Context, assignments []Assignment, maxTurns, limit int) []models.WorkerResult {
	results := make([]models.WorkerResult, len(assignments))
	g, gctx := errgroup.WithContext(ctx)
	if limit > 0 {
		g.SetLimit(limit)
	}
	for i, a := range assignments {
		g.Go(func() error {
			results[i] = w.Run(gctx, a, maxTurns)
			return nil
		})
	}
	_ = g.Wait()
	return results
}
