package agent

import (
	"fmt"
	"strings"
)

// DependencyExcerptLimit bounds how much of each dependency's output is
// shown to a dependent worker.
const DependencyExcerptLimit = 500

// Excerpt truncates s to at most n runes, marking the cut.
func Excerpt(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "..."
}

// BuildSystemPrompt assembles the focused instruction for one worker: its
// role, the objective, only the context it needs and the tool index.
func BuildSystemPrompt(p Profile, a Assignment, toolIndex string) string {
	var sb strings.Builder
	sb.WriteString(p.Role)
	sb.WriteString("\n\n## Objective\n")
	sb.WriteString(a.objective())
	sb.WriteString("\n")

	if a.Task != nil {
		if a.Task.ExpectedOutput != "" {
			sb.WriteString("\n## Expected Output\n")
			sb.WriteString(a.Task.ExpectedOutput)
			sb.WriteString("\n")
		}
		if len(a.Task.ContextRequired) > 0 {
			sb.WriteString("\n## Required Context\n")
			for _, c := range a.Task.ContextRequired {
				fmt.Fprintf(&sb, "- %s\n", c)
			}
		}
	}

	if strings.TrimSpace(a.Context) != "" {
		sb.WriteString("\n## Background\n")
		sb.WriteString(a.Context)
		sb.WriteString("\n")
	}

	if len(a.Dependencies) > 0 {
		sb.WriteString("\n## Results From Earlier Steps\n")
		for _, d := range a.Dependencies {
			fmt.Fprintf(&sb, "### %s (%s)\n%s\n", d.TaskID, d.Status, Excerpt(d.Output, DependencyExcerptLimit))
		}
	}

	if toolIndex != "" {
		sb.WriteString("\n## Available Tools\n")
		sb.WriteString(toolIndex)
	}

	sb.WriteString("\nWork only on this objective. When you are done, reply with the final result and make no further tool calls.\n")
	return sb.String()
}
