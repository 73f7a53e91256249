package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"golang.org/x/sync/errgroup"
)

const defaultBatchWorkers = 4

// BatchOperation is one entry of an execute_batch call.
type BatchOperation struct {
	Operation string          `json:"operation"`
	Args      json.RawMessage `json:"args"`
}

// batchHandler returns the execute_batch handler bound to a registry.
// Operations run concurrently; results keep input order.
func batchHandler(reg *Registry) Handler {
	return func(ctx context.Context, args json.RawMessage) Result {
		var params struct {
			Tasks        json.RawMessage `json:"tasks"`
			AllowedTools []string        `json:"allowed_tools"`
			MaxWorkers   int             `json:"max_workers"`
		}
		if err := decode(args, &params); err != nil {
			return Fail("%v", err)
		}

		ops, err := parseBatch(params.Tasks)
		if err != nil {
			return Fail("%v", err)
		}
		workers := params.MaxWorkers
		if workers <= 0 {
			workers = defaultBatchWorkers
		}
		allowed := nameSet(params.AllowedTools)

		results := make([]map[string]any, len(ops))
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(workers)
		for i, op := range ops {
			g.Go(func() error {
				var res Result
				switch {
				case op.Operation == string(KindExecuteBatch):
					res = Fail("Nested execute_batch is not allowed")
				case allowed != nil && !allowed[op.Operation]:
					res = Fail("Unknown or disallowed operation: %s", op.Operation)
				default:
					res = reg.Execute(gctx, op.Operation, op.Args)
				}
				entry := res.Map()
				entry["operation"] = op.Operation
				results[i] = entry
				return nil
			})
		}
		_ = g.Wait()

		successes := 0
		for _, r := range results {
			if ok, _ := r["success"].(bool); ok {
				successes++
			}
		}
		failures := len(results) - successes

		fields := map[string]any{
			"results":     results,
			"total_tasks": len(ops),
			"successes":   successes,
			"failures":    failures,
		}
		if failures > 0 {
			return FailWith(fields, "%d of %d operations failed", failures, len(ops))
		}
		return OK(fields)
	}
}

// parseBatch accepts either a JSON array or a string holding one.
func parseBatch(raw json.RawMessage) ([]BatchOperation, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("tasks is required")
	}
	var asString string
	if err := json.Unmarshal(raw, &asString); err == nil {
		raw = json.RawMessage(asString)
	}
	var ops []BatchOperation
	if err := json.Unmarshal(raw, &ops); err != nil {
		return nil, fmt.Errorf("Invalid JSON in tasks parameter: %v", err)
	}
	return ops, nil
}
