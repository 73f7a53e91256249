package agent

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/ShayCichocki/rfd/internal/api"
	"github.com/ShayCichocki/rfd/internal/api/apitest"
	"github.com/ShayCichocki/rfd/internal/tools"
	"github.com/ShayCichocki/rfd/pkg/models"
)

func newWorker(t *testing.T, gw api.Gateway, tb Toolbox) (*Worker, *Registry) {
	t.Helper()
	reg := NewRegistry(nil)
	w := NewWorker(WorkerConfig{
		Gateway:  gw,
		Tools:    tb,
		Registry: reg,
		Models:   Models{Pro: "pro-model", Flash: "flash-model"},
	})
	return w, reg
}

func countingTools(t *testing.T, calls *int32) *tools.Registry {
	t.Helper()
	reg := tools.NewRegistry(nil)
	err := reg.Register(tools.Tool{
		Kind: tools.KindCustom,
		Name: "ping",
		Doc:  "Count invocations.",
		Handler: func(context.Context, json.RawMessage) tools.Result {
			atomic.AddInt32(calls, 1)
			return tools.OK(map[string]any{"ok": true})
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	return reg
}

func assertAllDeleted(t *testing.T, reg *Registry) {
	t.Helper()
	for _, inst := range reg.List() {
		if inst.Status != models.AgentStatusDeleted {
			t.Errorf("agent %s left in status %s", inst.ID, inst.Status)
		}
	}
	stats := reg.Stats()
	if stats.TotalCreated != stats.TotalDeleted {
		t.Errorf("created %d agents but deleted %d", stats.TotalCreated, stats.TotalDeleted)
	}
}

func TestWorker_TextReplySucceeds(t *testing.T) {
	gw := apitest.NewScripted(apitest.Step{Response: apitest.TextReply("all done", 100, 20)})
	w, reg := newWorker(t, gw, nil)

	task := &models.SubTask{ID: "t1", AgentType: models.AgentTypeResearch, Objective: "find facts", ExpectedOutput: "a list"}
	res := w.Run(context.Background(), Assignment{Task: task}, 5)

	if res.Status != models.WorkerSuccess {
		t.Fatalf("expected success, got %s (%s)", res.Status, res.Error)
	}
	if res.Output != "all done" || res.TaskID != "t1" {
		t.Errorf("unexpected result %+v", res)
	}
	if res.Confidence != SuccessConfidence {
		t.Errorf("expected confidence %v, got %v", SuccessConfidence, res.Confidence)
	}

	req := gw.Requests()[0]
	if req.Model != "flash-model" {
		t.Errorf("expected research to use the flash model, got %q", req.Model)
	}
	if req.ThinkingBudget != 2048 {
		t.Errorf("expected research thinking budget 2048, got %d", req.ThinkingBudget)
	}
	if !strings.Contains(req.System, "find facts") || !strings.Contains(req.System, "a list") {
		t.Errorf("system prompt missing objective or expected output:\n%s", req.System)
	}

	assertAllDeleted(t, reg)
	got := reg.List()[0]
	if got.Result == nil || got.Result.Output != "all done" {
		t.Error("expected result stored on the agent record")
	}
	if got.Metrics == nil || got.Metrics.InputTokens != 100 || got.Metrics.Turns != 1 {
		t.Errorf("unexpected metrics %+v", got.Metrics)
	}
}

func TestWorker_ToolLoop(t *testing.T) {
	dir := t.TempDir()
	tb, err := tools.NewBuiltinRegistry(dir, nil)
	if err != nil {
		t.Fatal(err)
	}
	gw := apitest.NewScripted(
		apitest.Step{Response: apitest.ToolReply("call_1", "create_file", map[string]any{"path": "out.txt", "content": "hi"})},
		apitest.Step{Response: apitest.TextReply("wrote out.txt", 10, 5)},
	)
	w, reg := newWorker(t, gw, tb)

	res := w.Run(context.Background(), Assignment{Prompt: "write a file", AgentType: models.AgentTypeCode}, 5)

	if res.Status != models.WorkerSuccess {
		t.Fatalf("expected success, got %s (%s)", res.Status, res.Error)
	}
	if len(res.ToolsExecuted) != 1 || res.ToolsExecuted[0] != "create_file" {
		t.Errorf("unexpected tools executed %v", res.ToolsExecuted)
	}
	if len(res.FilesCreated) != 1 || res.FilesCreated[0] != "out.txt" {
		t.Errorf("unexpected files created %v", res.FilesCreated)
	}
	if _, err := os.Stat(filepath.Join(dir, "out.txt")); err != nil {
		t.Errorf("file not written: %v", err)
	}

	reqs := gw.Requests()
	if len(reqs) != 2 {
		t.Fatalf("expected 2 model calls, got %d", len(reqs))
	}
	if len(reqs[0].Tools) != tb.Len() {
		t.Errorf("expected full catalogue offered, got %d tools", len(reqs[0].Tools))
	}
	if reqs[0].Model != "pro-model" || reqs[0].ThinkingBudget != 8192 {
		t.Errorf("expected code profile, got model %q budget %d", reqs[0].Model, reqs[0].ThinkingBudget)
	}
	second := reqs[1].Messages
	if len(second) != 3 {
		t.Fatalf("expected user, assistant, tool-result messages, got %d", len(second))
	}
	result, ok := second[2].Parts[0].(api.ToolResultPart)
	if !ok || result.CallID != "call_1" || result.IsError {
		t.Errorf("unexpected tool result part %+v", second[2].Parts[0])
	}
	assertAllDeleted(t, reg)
}

func TestWorker_SandboxFailureIsReturnedToModel(t *testing.T) {
	tb, err := tools.NewBuiltinRegistry(t.TempDir(), nil)
	if err != nil {
		t.Fatal(err)
	}
	gw := apitest.NewScripted(
		apitest.Step{Response: apitest.ToolReply("c1", "create_file", map[string]any{"path": "../escape.txt", "content": "x"})},
		apitest.Step{Response: apitest.TextReply("could not write outside the workspace", 1, 1)},
	)
	w, reg := newWorker(t, gw, tb)

	res := w.Run(context.Background(), Assignment{Prompt: "escape"}, 5)

	if res.Status != models.WorkerSuccess {
		t.Errorf("tool failure must not fail the worker, got %s", res.Status)
	}
	if len(res.FilesCreated) != 0 {
		t.Errorf("expected no files created, got %v", res.FilesCreated)
	}
	part := gw.Requests()[1].Messages[2].Parts[0].(api.ToolResultPart)
	if !part.IsError || !strings.Contains(part.Content, "path escapes workspace") {
		t.Errorf("expected sandbox failure sent to the model, got %+v", part)
	}
	assertAllDeleted(t, reg)
}

func TestWorker_TurnBudgetExhausted(t *testing.T) {
	var turns int32
	gw := apitest.FuncGateway(func(ctx context.Context, req api.Request) (*api.Response, error) {
		atomic.AddInt32(&turns, 1)
		resp := apitest.ToolReply("call", "ping", map[string]any{})
		resp.Outputs = append([]api.TurnOutput{api.Text{Text: "still working"}}, resp.Outputs...)
		return resp, nil
	})
	var toolCalls int32
	w, reg := newWorker(t, gw, countingTools(t, &toolCalls))

	res := w.Run(context.Background(), Assignment{Prompt: "loop forever"}, 3)

	if turns != 3 {
		t.Errorf("expected 3 model turns, got %d", turns)
	}
	if toolCalls != 3 {
		t.Errorf("expected 3 tool executions, got %d", toolCalls)
	}
	if res.Status != models.WorkerPartial {
		t.Errorf("expected partial, got %s", res.Status)
	}
	if res.Confidence != PartialConfidence {
		t.Errorf("expected confidence %v, got %v", PartialConfidence, res.Confidence)
	}
	if !strings.Contains(res.Output, "still working") {
		t.Errorf("expected accumulated text in output, got %q", res.Output)
	}
	assertAllDeleted(t, reg)
}

func TestWorker_AllCallsOfATurnReturnTogether(t *testing.T) {
	var toolCalls int32
	two := &api.Response{Outputs: []api.TurnOutput{
		api.ToolRequest{ID: "a", Name: "ping", Args: json.RawMessage(`{}`)},
		api.ToolRequest{ID: "b", Name: "ping", Args: json.RawMessage(`{}`)},
	}}
	gw := apitest.NewScripted(
		apitest.Step{Response: two},
		apitest.Step{Response: apitest.TextReply("done", 1, 1)},
	)
	w, _ := newWorker(t, gw, countingTools(t, &toolCalls))

	res := w.Run(context.Background(), Assignment{Prompt: "fan out"}, 4)

	if res.Status != models.WorkerSuccess || toolCalls != 2 {
		t.Fatalf("expected success with 2 tool calls, got %s/%d", res.Status, toolCalls)
	}
	results := gw.Requests()[1].Messages[2]
	if results.Role != api.RoleUser || len(results.Parts) != 2 {
		t.Fatalf("expected both results in one user message, got %+v", results)
	}
	ids := []string{results.Parts[0].(api.ToolResultPart).CallID, results.Parts[1].(api.ToolResultPart).CallID}
	if ids[0] != "a" || ids[1] != "b" {
		t.Errorf("expected results keyed a,b, got %v", ids)
	}
}

func TestWorker_GatewayErrorFails(t *testing.T) {
	gw := apitest.NewScripted(apitest.Step{Err: errors.New("quota exceeded")})
	w, reg := newWorker(t, gw, nil)

	res := w.Run(context.Background(), Assignment{Prompt: "anything"}, 3)

	if res.Status != models.WorkerFailed {
		t.Fatalf("expected failed, got %s", res.Status)
	}
	if !strings.Contains(res.Error, "quota exceeded") {
		t.Errorf("expected gateway error text, got %q", res.Error)
	}
	if res.Confidence != 0 {
		t.Errorf("expected zero confidence, got %v", res.Confidence)
	}
	assertAllDeleted(t, reg)
	if got := reg.List()[0].Metrics; got == nil || got.Status != models.AgentStatusFailed {
		t.Errorf("expected failed metrics, got %+v", got)
	}
}

func TestWorker_PanicIsRecovered(t *testing.T) {
	gw := apitest.FuncGateway(func(context.Context, api.Request) (*api.Response, error) {
		panic("model exploded")
	})
	w, reg := newWorker(t, gw, nil)

	res := w.Run(context.Background(), Assignment{Prompt: "boom"}, 3)

	if res.Status != models.WorkerFailed || !strings.Contains(res.Error, "model exploded") {
		t.Errorf("expected recovered failure, got %+v", res)
	}
	assertAllDeleted(t, reg)
}

func TestWorker_RequiresTurnBudget(t *testing.T) {
	gw := apitest.NewScripted()
	w, reg := newWorker(t, gw, nil)

	res := w.Run(context.Background(), Assignment{Prompt: "x"}, 0)

	if res.Status != models.WorkerFailed || !strings.Contains(res.Error, ErrInvalidTurnBudget.Error()) {
		t.Errorf("expected invalid budget failure, got %+v", res)
	}
	if gw.Calls() != 0 || reg.Stats().TotalCreated != 0 {
		t.Error("expected no model call and no agent for an invalid budget")
	}
}

func TestWorker_StructuredOutputSendsNoTools(t *testing.T) {
	var toolCalls int32
	gw := apitest.NewScripted(apitest.Step{Response: apitest.StructuredReply(map[string]any{"answer": 42, "confidence": 0.95})})
	w, _ := newWorker(t, gw, countingTools(t, &toolCalls))

	res := w.Run(context.Background(), Assignment{
		Prompt:       "answer",
		OutputSchema: &api.OutputSchema{Name: "answer", Properties: map[string]any{"answer": map[string]any{"type": "integer"}}},
	}, 2)

	if res.Status != models.WorkerSuccess {
		t.Fatalf("expected success, got %s", res.Status)
	}
	if res.Confidence != 0.95 {
		t.Errorf("expected payload confidence 0.95, got %v", res.Confidence)
	}
	req := gw.Requests()[0]
	if len(req.Tools) != 0 || req.OutputSchema == nil {
		t.Errorf("structured request must carry a schema and no tools, got %d tools", len(req.Tools))
	}
}

func TestWorker_DependencyExcerpts(t *testing.T) {
	gw := apitest.NewScripted(apitest.Step{Response: apitest.TextReply("ok", 1, 1)})
	w, _ := newWorker(t, gw, nil)

	long := strings.Repeat("x", 2000)
	w.Run(context.Background(), Assignment{
		Task:         &models.SubTask{ID: "api", Objective: "build api", Dependencies: []string{"db"}},
		Dependencies: []DependencyOutput{{TaskID: "db", Status: models.WorkerFailed, Output: long}},
	}, 1)

	system := gw.Requests()[0].System
	if !strings.Contains(system, "### db (failed)") {
		t.Errorf("expected dependency header, got:\n%s", system)
	}
	if strings.Contains(system, strings.Repeat("x", DependencyExcerptLimit+1)) {
		t.Error("dependency output was not truncated")
	}
}

func TestWorker_ThinkingOverrides(t *testing.T) {
	gw := apitest.FuncGateway(func(context.Context, api.Request) (*api.Response, error) {
		return apitest.TextReply("ok", 1, 1), nil
	})
	var mu sync.Mutex
	var budgets []int
	record := apitest.FuncGateway(func(ctx context.Context, req api.Request) (*api.Response, error) {
		mu.Lock()
		budgets = append(budgets, req.ThinkingBudget)
		mu.Unlock()
		return gw.Generate(ctx, req)
	})

	w := NewWorker(WorkerConfig{Gateway: record, ThinkingBudget: -1})
	w.Run(context.Background(), Assignment{Prompt: "a", AgentType: models.AgentTypeCode}, 1)
	w.Run(context.Background(), Assignment{Prompt: "b", AgentType: models.AgentTypeCode, ThinkingBudget: 2000}, 1)

	if budgets[0] != 0 || budgets[1] != 2000 {
		t.Errorf("expected budgets [0 2000], got %v", budgets)
	}
}

func TestWorker_AppendsOrchestratorMetrics(t *testing.T) {
	gw := apitest.NewScripted(apitest.Step{Response: apitest.TextReply("ok", 7, 3)})
	w, _ := newWorker(t, gw, nil)
	m := NewOrchestratorMetrics("run", models.DefaultPricing())

	w.WithMetrics(m).Run(context.Background(), Assignment{Prompt: "x"}, 1)

	agents := m.Agents()
	if len(agents) != 1 || agents[0].InputTokens != 7 || agents[0].OutputTokens != 3 {
		t.Errorf("unexpected metrics %+v", agents)
	}
}

func TestWorker_Swarm(t *testing.T) {
	gw := apitest.FuncGateway(func(_ context.Context, req api.Request) (*api.Response, error) {
		prompt := req.Messages[0].Parts[0].(api.TextPart).Text
		return apitest.TextReply("echo "+prompt, 1, 1), nil
	})
	w, reg := newWorker(t, gw, nil)

	results := w.Swarm(context.Background(), []string{"one", "two", "three"}, models.AgentTypeGeneral, 2, 2)

	for i, want := range []string{"echo one", "echo two", "echo three"} {
		if results[i].Output != want {
			t.Errorf("result %d: expected %q, got %q", i, want, results[i].Output)
		}
	}
	assertAllDeleted(t, reg)
}

func guardedTools(t *testing.T, safe, dangerous *int32) *tools.Registry {
	t.Helper()
	reg := tools.NewRegistry(nil)
	for name, counter := range map[string]*int32{"read_only": safe, "dangerous": dangerous} {
		if err := reg.Register(tools.Tool{
			Kind: tools.KindCustom,
			Name: name,
			Doc:  "Count invocations.",
			Handler: func(context.Context, json.RawMessage) tools.Result {
				atomic.AddInt32(counter, 1)
				return tools.OK(nil)
			},
		}); err != nil {
			t.Fatal(err)
		}
	}
	return reg
}

func TestWorker_RejectsToolsOutsideAssignment(t *testing.T) {
	var safe, dangerous int32
	gw := apitest.NewScripted(
		apitest.Step{Response: &api.Response{Outputs: []api.TurnOutput{
			api.ToolRequest{ID: "a", Name: "dangerous", Args: json.RawMessage(`{}`)},
			api.ToolRequest{ID: "b", Name: "read_only", Args: json.RawMessage(`{}`)},
		}}},
		apitest.Step{Response: apitest.TextReply("done", 1, 1)},
	)
	w, reg := newWorker(t, gw, guardedTools(t, &safe, &dangerous))

	res := w.Run(context.Background(), Assignment{Prompt: "read", Tools: []string{"read_only"}}, 3)

	if res.Status != models.WorkerSuccess {
		t.Fatalf("expected success, got %s (%s)", res.Status, res.Error)
	}
	if dangerous != 0 {
		t.Errorf("expected dangerous never to run, ran %d times", dangerous)
	}
	if safe != 1 {
		t.Errorf("expected read_only to run once, ran %d times", safe)
	}
	if len(res.ToolsExecuted) != 1 || res.ToolsExecuted[0] != "read_only" {
		t.Errorf("expected only read_only executed, got %v", res.ToolsExecuted)
	}
	if offered := gw.Requests()[0].Tools; len(offered) != 1 || offered[0].Name != "read_only" {
		t.Errorf("expected only read_only offered, got %+v", offered)
	}
	rejected := gw.Requests()[1].Messages[2].Parts[0].(api.ToolResultPart)
	if !rejected.IsError || !strings.Contains(rejected.Content, "not available") {
		t.Errorf("expected rejection sent to the model, got %+v", rejected)
	}
	assertAllDeleted(t, reg)
}

func TestWorker_NoToolsRejectsEveryCall(t *testing.T) {
	var safe, dangerous int32
	gw := apitest.NewScripted(
		apitest.Step{Response: apitest.ToolReply("a", "read_only", map[string]any{})},
		apitest.Step{Response: apitest.TextReply("done", 1, 1)},
	)
	w, _ := newWorker(t, gw, guardedTools(t, &safe, &dangerous))

	res := w.Run(context.Background(), Assignment{Prompt: "think only", NoTools: true}, 3)

	if res.Status != models.WorkerSuccess {
		t.Fatalf("expected success, got %s", res.Status)
	}
	if safe != 0 || dangerous != 0 {
		t.Errorf("expected no tool to run, got read_only=%d dangerous=%d", safe, dangerous)
	}
	if len(gw.Requests()[0].Tools) != 0 {
		t.Error("expected no tools offered")
	}
}
