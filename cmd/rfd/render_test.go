package main

import (
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/fatih/color"

	"github.com/ShayCichocki/rfd/internal/config"
	"github.com/ShayCichocki/rfd/internal/handoff"
	"github.com/ShayCichocki/rfd/internal/orchestrator"
	"github.com/ShayCichocki/rfd/internal/state"
	"github.com/ShayCichocki/rfd/pkg/models"
)

func TestFormatNumber(t *testing.T) {
	tests := []struct {
		in   int64
		want string
	}{
		{0, "0"},
		{999, "999"},
		{1000, "1,000"},
		{1234567, "1,234,567"},
		{-1234, "-1,234"},
		{-123456, "-123,456"},
		{-42, "-42"},
	}
	for _, tt := range tests {
		if got := formatNumber(tt.in); got != tt.want {
			t.Errorf("formatNumber(%d): expected %q, got %q", tt.in, tt.want, got)
		}
	}
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		in   time.Duration
		want string
	}{
		{500 * time.Millisecond, "500ms"},
		{1500 * time.Millisecond, "1.5s"},
		{90 * time.Second, "1m30s"},
		{2 * time.Minute, "2m"},
		{3*time.Hour + 15*time.Minute, "3h15m"},
		{2 * time.Hour, "2h"},
	}
	for _, tt := range tests {
		if got := formatDuration(tt.in); got != tt.want {
			t.Errorf("formatDuration(%v): expected %q, got %q", tt.in, tt.want, got)
		}
	}
}

func TestStatusColor(t *testing.T) {
	tests := map[string]color.Attribute{
		string(models.RunSuccess): color.FgGreen,
		string(models.RunPartial): color.FgYellow,
		string(models.RunFailed):  color.FgRed,
		"unknown":                 color.FgHiBlack,
	}
	for status, want := range tests {
		if got := statusColor(status); got != want {
			t.Errorf("statusColor(%q): expected %v, got %v", status, want, got)
		}
	}
}

func TestWorkerRunStatus(t *testing.T) {
	if got := workerRunStatus(string(models.WorkerSuccess)); got != string(models.RunSuccess) {
		t.Errorf("expected success mapping, got %q", got)
	}
	if got := workerRunStatus(string(models.WorkerFailed)); got != string(models.RunFailed) {
		t.Errorf("expected failed mapping, got %q", got)
	}
	if got := workerRunStatus("other"); got != "other" {
		t.Errorf("expected unknown status to pass through, got %q", got)
	}
}

func TestFormatRounds(t *testing.T) {
	got := formatRounds([][]string{{"a", "b"}, {"c"}})
	if got != "[a b] → [c]" {
		t.Errorf("unexpected rounds %q", got)
	}
	if formatRounds(nil) != "" {
		t.Error("expected empty string for no rounds")
	}
}

func TestSplitList(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{"", nil},
		{"  ", nil},
		{"read_file", []string{"read_file"}},
		{"read_file, grep_files,,bash ", []string{"read_file", "grep_files", "bash"}},
	}
	for _, tt := range tests {
		if got := splitList(tt.in); !reflect.DeepEqual(got, tt.want) {
			t.Errorf("splitList(%q): expected %v, got %v", tt.in, tt.want, got)
		}
	}
}

func TestRenderPlan(t *testing.T) {
	plan := &models.TaskPlan{
		Analysis: "two steps",
		Strategy: models.StrategyHybrid,
		SubTasks: []models.SubTask{
			{ID: "read", Objective: "read the code", AgentType: models.AgentTypeResearch},
			{ID: "write", Objective: "write the summary", AgentType: models.AgentTypeCreative, Dependencies: []string{"read"}},
		},
	}
	out := renderPlan(plan)
	for _, want := range []string{"read the code", "write the summary", "after read", "hybrid"} {
		if !strings.Contains(out, want) {
			t.Errorf("expected plan output to contain %q:\n%s", want, out)
		}
	}
}

func TestRenderPlan_DependenciesFirst(t *testing.T) {
	plan := &models.TaskPlan{
		Strategy: models.StrategyHybrid,
		SubTasks: []models.SubTask{
			{ID: "write", Objective: "write the summary", Dependencies: []string{"read"}},
			{ID: "read", Objective: "read the code"},
		},
	}
	out := renderPlan(plan)
	if strings.Index(out, "read the code") > strings.Index(out, "write the summary") {
		t.Errorf("expected read before write:\n%s", out)
	}

	cyclic := &models.TaskPlan{SubTasks: []models.SubTask{
		{ID: "b", Dependencies: []string{"a"}},
		{ID: "a", Dependencies: []string{"b"}},
	}}
	if got := planInOrder(cyclic); got[0].ID != "b" || got[1].ID != "a" {
		t.Errorf("expected planner order for a cyclic plan, got %v", got)
	}
}

func TestConfigEntries_MasksKey(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "sk-ant-REDACTED")
	cfg := config.Default()

	for _, e := range configEntries(cfg) {
		if strings.Contains(e.value, "abcdefghijklmnop") {
			t.Fatalf("expected %s to be masked, got %q", e.key, e.value)
		}
		if e.key == "anthropic.key_source" && e.value != "environment" {
			t.Errorf("expected key source environment, got %q", e.value)
		}
	}
}

func TestRenderBestOf(t *testing.T) {
	res := &orchestrator.BestOfNResult{
		Candidates: []orchestrator.Candidate{
			{Hint: "simple", Approach: "loop", Solution: "for ...", Confidence: 0.6, Result: models.WorkerResult{Status: models.WorkerSuccess}},
			{Hint: "fast", Result: models.WorkerResult{Status: models.WorkerFailed, Error: "model unavailable"}},
			{Hint: "robust", Approach: "two pointers", Solution: "i, j := 0, 1", Confidence: 0.9, TradeOffs: []string{"harder to read"}, Result: models.WorkerResult{Status: models.WorkerSuccess}},
		},
		Recommended: 2,
		Reason:      "handles empty input",
		Judged:      true,
	}

	out := renderBestOf(res, true)
	for _, want := range []string{"★", "candidate 2: robust", "model unavailable", "Recommended: candidate 2", "handles empty input", "trade-off: harder to read", "i, j := 0, 1"} {
		if !strings.Contains(out, want) {
			t.Errorf("expected output to contain %q:\n%s", want, out)
		}
	}

	unpicked := renderBestOf(res, false)
	if strings.Contains(unpicked, "★") || strings.Contains(unpicked, "Recommended") {
		t.Errorf("expected no recommendation without a pick:\n%s", unpicked)
	}
}

func TestConversationFromRun(t *testing.T) {
	r := &state.RunRecord{
		ID:        "run_1",
		Goal:      "audit auth",
		Status:    "partial",
		Summary:   "two issues found",
		StartedAt: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
		Workers: []state.WorkerRecord{
			{TaskID: "scan", AgentType: "code", Status: "success", Confidence: 0.8},
			{TaskID: "report", AgentType: "creative", Status: "failed", Error: "timeout"},
		},
	}

	conv := conversationFromRun(r)
	if len(conv.Turns) != 4 {
		t.Fatalf("expected goal, two workers and the answer, got %+v", conv.Turns)
	}
	if conv.Turns[0].Role != handoff.RoleUser || conv.Turns[0].Content != "audit auth" || conv.Turns[0].Timestamp != "2026-03-01T09:00:00Z" {
		t.Errorf("unexpected first turn %+v", conv.Turns[0])
	}
	if !strings.Contains(conv.Turns[2].Content, "report finished failed") || !strings.Contains(conv.Turns[2].Content, "timeout") {
		t.Errorf("unexpected worker turn %q", conv.Turns[2].Content)
	}
	if conv.Turns[3].Content != "two issues found" || conv.Metadata["run_id"] != "run_1" {
		t.Errorf("unexpected final turn or metadata: %+v %v", conv.Turns[3], conv.Metadata)
	}

	failed := conversationFromRun(&state.RunRecord{Goal: "x", Error: "deadlock"})
	if last := failed.Turns[len(failed.Turns)-1]; last.Content != "Run failed: deadlock" {
		t.Errorf("expected the run error as the last turn, got %+v", last)
	}
}

func TestRenderSummary(t *testing.T) {
	out := renderSummary(&handoff.Summary{
		Summary:          "Backoff agreed.",
		KeyDecisions:     []string{"30s cap"},
		CurrentTask:      "409 handling",
		Style:            handoff.StyleDetailed,
		TokenCount:       4,
		CompressionRatio: 12.5,
	})
	for _, want := range []string{"Summary (detailed)", "Backoff agreed.", "30s cap", "409 handling", "12.5x", "~4"} {
		if !strings.Contains(out, want) {
			t.Errorf("expected output to contain %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "Open questions") {
		t.Errorf("expected empty sections to be omitted:\n%s", out)
	}
}
