package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/fatih/color"

	"github.com/ShayCichocki/rfd/internal/agent"
	"github.com/ShayCichocki/rfd/internal/decompose"
	"github.com/ShayCichocki/rfd/internal/orchestrator"
	"github.com/ShayCichocki/rfd/pkg/models"
)

var (
	headerStyle = lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("212"))

	boxStyle = lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("63")).
		Padding(0, 1)

	labelStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("245")).
		Width(12)

	valueStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("252")).
		Bold(true)

	dimStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
)

// printStatus prints a status line with color
func printStatus(symbol, message string, colorAttr color.Attribute) {
	c := color.New(colorAttr)
	fmt.Printf("%s %s\n", c.Sprint(symbol), message)
}

// statusColor maps run and worker outcomes to terminal colors.
func statusColor(status string) color.Attribute {
	switch status {
	case string(models.RunSuccess):
		return color.FgGreen
	case string(models.RunPartial):
		return color.FgYellow
	case string(models.RunFailed):
		return color.FgRed
	default:
		return color.FgHiBlack
	}
}

func statusSymbol(status string) string {
	switch status {
	case string(models.RunSuccess):
		return "✓"
	case string(models.RunPartial):
		return "◐"
	case string(models.RunFailed):
		return "✗"
	default:
		return "·"
	}
}

func colorStatus(status string) string {
	return color.New(statusColor(status)).Sprint(status)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func kv(label, value string) string {
	return labelStyle.Render(label) + valueStyle.Render(value)
}

// renderPlan formats a plan with its quality score.
func renderPlan(plan *models.TaskPlan) string {
	q := decompose.ScorePlan(plan)
	var sb strings.Builder

	sb.WriteString(headerStyle.Render("Plan"))
	sb.WriteString("\n")
	if plan.Analysis != "" {
		sb.WriteString(dimStyle.Render(plan.Analysis))
		sb.WriteString("\n")
	}
	sb.WriteString("\n")
	for i, st := range planInOrder(plan) {
		fmt.Fprintf(&sb, "%2d. [%s] %s  %s\n", i+1, st.AgentType, st.ID, st.Objective)
		if len(st.Dependencies) > 0 {
			sb.WriteString(dimStyle.Render("      after " + strings.Join(st.Dependencies, ", ")))
			sb.WriteString("\n")
		}
	}
	sb.WriteString("\n")
	sb.WriteString(kv("Strategy", string(plan.Strategy)))
	sb.WriteString("\n")
	sb.WriteString(kv("Shape", fmt.Sprintf("width %d, depth %d", q.Parallelism, q.Depth)))
	sb.WriteString("\n")
	sb.WriteString(kv("Quality", fmt.Sprintf("%.0f%%", q.Confidence*100)))
	sb.WriteString("\n")
	for _, issue := range q.Issues {
		line := fmt.Sprintf("  %s: %s", issue.Severity, issue.Message)
		if issue.TaskID != "" {
			line = fmt.Sprintf("  %s [%s]: %s", issue.Severity, issue.TaskID, issue.Message)
		}
		sb.WriteString(dimStyle.Render(line))
		sb.WriteString("\n")
	}
	return sb.String()
}

// planInOrder lists sub-tasks so that each appears after its dependencies.
// Cyclic plans keep the planner's order.
func planInOrder(plan *models.TaskPlan) []models.SubTask {
	order, err := decompose.ExecutionOrder(plan)
	if err != nil {
		return plan.SubTasks
	}
	byID := make(map[string]models.SubTask, len(plan.SubTasks))
	for _, st := range plan.SubTasks {
		byID[st.ID] = st
	}
	out := make([]models.SubTask, 0, len(order))
	for _, id := range order {
		out = append(out, byID[id])
	}
	return out
}

// renderReport formats a finished run.
func renderReport(r *orchestrator.RunReport) string {
	var sb strings.Builder

	resp := r.Response
	status := string(models.RunFailed)
	if resp != nil {
		status = string(resp.Status)
	}

	var body strings.Builder
	body.WriteString(kv("Run", r.RunID))
	body.WriteString("\n")
	body.WriteString(kv("Status", colorStatus(status)))
	body.WriteString("\n")
	if r.Skill != "" {
		body.WriteString(kv("Skill", r.Skill))
		body.WriteString("\n")
	}
	if resp != nil {
		body.WriteString(kv("Confidence", fmt.Sprintf("%.0f%%", resp.Confidence*100)))
		body.WriteString("\n")
	}
	body.WriteString(renderRunSummary(r.Metrics))
	sb.WriteString(boxStyle.Render(body.String()))
	sb.WriteString("\n\n")

	if resp != nil {
		sb.WriteString(headerStyle.Render("Summary"))
		sb.WriteString("\n")
		sb.WriteString(resp.Summary)
		sb.WriteString("\n")
		if len(resp.KeyFindings) > 0 {
			sb.WriteString("\n")
			sb.WriteString(headerStyle.Render("Key findings"))
			sb.WriteString("\n")
			for _, f := range resp.KeyFindings {
				sb.WriteString("  • " + f + "\n")
			}
		}
		if resp.Detailed != "" {
			sb.WriteString("\n")
			sb.WriteString(headerStyle.Render("Details"))
			sb.WriteString("\n")
			sb.WriteString(resp.Detailed)
			sb.WriteString("\n")
		}
		sb.WriteString("\n")
		sb.WriteString(headerStyle.Render("Steps"))
		sb.WriteString("\n")
		for _, step := range resp.Steps {
			st := string(step.Status)
			fmt.Fprintf(&sb, "  %s %-12s %s\n",
				color.New(statusColor(workerRunStatus(st))).Sprint(statusSymbol(workerRunStatus(st))),
				step.TaskID, step.Objective)
		}
	}

	if len(r.Rounds) > 0 {
		sb.WriteString("\n")
		sb.WriteString(dimStyle.Render("Rounds: " + formatRounds(r.Rounds)))
		sb.WriteString("\n")
	}
	return sb.String()
}

func renderRunSummary(m agent.RunSummary) string {
	var sb strings.Builder
	sb.WriteString(kv("Tasks", fmt.Sprintf("%d/%d ok, %d failed", m.Tasks.Completed, m.Tasks.Total, m.Tasks.Failed)))
	sb.WriteString("\n")
	sb.WriteString(kv("Agents", fmt.Sprintf("%d spawned, %d tool calls", m.AgentsSpawned, m.ToolCalls)))
	sb.WriteString("\n")
	sb.WriteString(kv("Tokens", fmt.Sprintf("%s in / %s out / %s thinking",
		formatNumber(m.InputTokens), formatNumber(m.OutputTokens), formatNumber(m.ThinkingTokens))))
	sb.WriteString("\n")
	sb.WriteString(kv("Cost", fmt.Sprintf("$%.4f", m.EstimatedCostUSD)))
	sb.WriteString("\n")
	sb.WriteString(kv("Duration", formatDuration(time.Duration(m.DurationMS)*time.Millisecond)))
	return sb.String()
}

// workerRunStatus maps a worker status onto the run status palette.
func workerRunStatus(s string) string {
	switch models.WorkerStatus(s) {
	case models.WorkerSuccess:
		return string(models.RunSuccess)
	case models.WorkerPartial:
		return string(models.RunPartial)
	case models.WorkerFailed:
		return string(models.RunFailed)
	default:
		return s
	}
}

func formatRounds(rounds [][]string) string {
	parts := make([]string, len(rounds))
	for i, r := range rounds {
		parts[i] = "[" + strings.Join(r, " ") + "]"
	}
	return strings.Join(parts, " → ")
}

// formatDuration formats a duration in a human-readable way.
func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	if d < time.Hour {
		m := int(d.Minutes())
		s := int(d.Seconds()) % 60
		if s > 0 {
			return fmt.Sprintf("%dm%ds", m, s)
		}
		return fmt.Sprintf("%dm", m)
	}
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	if m > 0 {
		return fmt.Sprintf("%dh%dm", h, m)
	}
	return fmt.Sprintf("%dh", h)
}

// formatNumber formats a number with commas.
func formatNumber(n int64) string {
	s := fmt.Sprintf("%d", n)
	neg := strings.HasPrefix(s, "-")
	if neg {
		s = s[1:]
	}
	if len(s) <= 3 {
		if neg {
			return "-" + s
		}
		return s
	}

	var result strings.Builder
	if neg {
		result.WriteString("-")
	}
	offset := len(s) % 3
	if offset > 0 {
		result.WriteString(s[:offset])
	}
	for i := offset; i < len(s); i += 3 {
		if result.Len() > 0 && !(neg && result.Len() == 1) {
			result.WriteString(",")
		}
		result.WriteString(s[i : i+3])
	}
	return result.String()
}
