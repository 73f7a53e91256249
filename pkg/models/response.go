package models

// RunStatus is the overall outcome of an orchestration run.
type RunStatus string

const (
	RunSuccess RunStatus = "success"
	RunPartial RunStatus = "partial"
	RunFailed  RunStatus = "failed"
)

// StepNotRun marks a sub-task that never produced a result, for example
// because the run deadlocked or was cancelled first.
const StepNotRun WorkerStatus = "not_run"

// StepStatus is the per-sub-task line of a synthesized response.
type StepStatus struct {
	TaskID    string       `json:"task_id"`
	AgentType AgentType    `json:"agent_type"`
	Objective string       `json:"objective"`
	Status    WorkerStatus `json:"status"`
}

// SynthesizedResponse is the final consolidated answer for a goal.
type SynthesizedResponse struct {
	// Status is success when every step succeeded, partial when some did,
	// failed when none did.
	Status RunStatus `json:"status"`
	// Summary is a short answer to the goal.
	Summary string `json:"summary"`
	// Detailed is the full consolidated answer.
	Detailed string `json:"detailed,omitempty"`
	// KeyFindings are the most important points across all workers.
	KeyFindings []string `json:"key_findings,omitempty"`
	// Confidence is the synthesizer's confidence in [0,1].
	Confidence float64 `json:"confidence"`
	// Contributions maps task ID to what that worker contributed.
	Contributions map[string]string `json:"contributions,omitempty"`
	// Steps always lists every sub-task with its outcome.
	Steps []StepStatus `json:"steps"`
}

// StatusFromResults derives the overall status from worker results.
func StatusFromResults(results []WorkerResult) RunStatus {
	if len(results) == 0 {
		return RunFailed
	}
	succeeded := 0
	for _, r := range results {
		if r.Status == WorkerSuccess {
			succeeded++
		}
	}
	switch {
	case succeeded == len(results):
		return RunSuccess
	case succeeded == 0:
		return RunFailed
	default:
		return RunPartial
	}
}
