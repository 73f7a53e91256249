package decompose

import (
	"fmt"
	"strings"

	"github.com/ShayCichocki/rfd/pkg/models"
)

// Severity indicates how serious a plan issue is.
type Severity int

const (
	SeverityInfo Severity = iota
	SeverityWarning
	SeverityCritical
)

func (s Severity) String() string {
	switch s {
	case SeverityInfo:
		return "info"
	case SeverityWarning:
		return "warning"
	case SeverityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// QualityIssue is one concern about a sub-task.
type QualityIssue struct {
	TaskID   string
	Severity Severity
	Message  string
}

// PlanQuality summarizes how well a plan is shaped for ephemeral workers.
type PlanQuality struct {
	// Confidence is in [0,1]; 1 means no issues were found.
	Confidence float64
	Issues     []QualityIssue
	// Parallelism is the widest ready set a hybrid run would see.
	Parallelism int
	// Depth is the longest dependency chain.
	Depth int
}

// minObjectiveWords is the shortest objective that is not flagged as vague.
const minObjectiveWords = 3

// ScorePlan inspects a plan for vague or badly connected sub-tasks. It never
// rejects a plan; the result is advisory.
func ScorePlan(plan *models.TaskPlan) PlanQuality {
	q := PlanQuality{Confidence: 1.0}
	if plan == nil || len(plan.SubTasks) == 0 {
		q.Confidence = 0
		return q
	}

	for _, st := range plan.SubTasks {
		words := len(strings.Fields(st.Objective))
		switch {
		case words == 0:
			q.add(st.ID, SeverityCritical, "objective is empty")
		case words < minObjectiveWords:
			q.add(st.ID, SeverityWarning, fmt.Sprintf("objective %q is vague", st.Objective))
		}
		if strings.TrimSpace(st.ExpectedOutput) == "" {
			q.add(st.ID, SeverityWarning, "no expected output")
		}
		for _, dep := range st.Dependencies {
			if dep == st.ID {
				q.add(st.ID, SeverityCritical, "depends on itself")
			}
		}
	}

	if cycle := DetectCycle(plan); len(cycle) > 0 {
		q.add(cycle[0], SeverityCritical, "dependency cycle: "+strings.Join(cycle, " -> "))
	}

	q.Parallelism, q.Depth = shape(plan.SubTasks)
	if q.Depth == len(plan.SubTasks) && len(plan.SubTasks) > 3 {
		q.add("", SeverityInfo, "plan is a single chain; nothing can run in parallel")
	}

	for _, issue := range q.Issues {
		switch issue.Severity {
		case SeverityCritical:
			q.Confidence -= 0.3
		case SeverityWarning:
			q.Confidence -= 0.1
		}
	}
	if q.Confidence < 0 {
		q.Confidence = 0
	}
	return q
}

// Critical reports whether any issue is critical.
func (q PlanQuality) Critical() bool {
	for _, issue := range q.Issues {
		if issue.Severity == SeverityCritical {
			return true
		}
	}
	return false
}

func (q *PlanQuality) add(taskID string, sev Severity, msg string) {
	q.Issues = append(q.Issues, QualityIssue{TaskID: taskID, Severity: sev, Message: msg})
}

// shape computes the widest level and the number of levels of the dependency
// DAG. Tasks caught in a cycle are left out.
func shape(tasks []models.SubTask) (width, depth int) {
	level := make(map[string]int, len(tasks))
	for changed := true; changed; {
		changed = false
		for _, st := range tasks {
			if _, done := level[st.ID]; done {
				continue
			}
			lvl, ready := 0, true
			for _, dep := range st.Dependencies {
				l, ok := level[dep]
				if !ok {
					ready = false
					break
				}
				if l+1 > lvl {
					lvl = l + 1
				}
			}
			if ready {
				level[st.ID] = lvl
				changed = true
			}
		}
	}

	counts := make(map[int]int)
	for _, l := range level {
		counts[l]++
		if l+1 > depth {
			depth = l + 1
		}
		if counts[l] > width {
			width = counts[l]
		}
	}
	return width, depth
}
