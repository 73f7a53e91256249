// Package orchestrator runs a goal through the Retain-Focus-Delete cycle.
//
// A run has three phases:
//   - Planning: one model call turns the goal into a TaskPlan
//   - Scheduling: each sub-task gets its own ephemeral worker, grouped into
//     rounds by the plan's execution strategy
//   - Synthesis: one model call merges the worker results into a single answer
//
// Workers never share state with each other. Dependency outputs are passed
// forward as text, and every agent is deleted when its sub-task ends.
//
// Example usage:
//
//	o, err := orchestrator.New(orchestrator.Deps{Gateway: gw, Tools: reg})
//	report, err := o.Run(ctx, "Compare three caching libraries", orchestrator.RunOptions{})
package orchestrator
