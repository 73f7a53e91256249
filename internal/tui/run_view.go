// Package tui renders a live view of an orchestrated run.
//
// RunView is a bubbletea model fed by the orchestrator's event channel. It
// shows one row per sub-task with its status and latest tool call, and a
// scrollable log of every event below the table.
package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/ShayCichocki/rfd/internal/orchestrator"
	"github.com/ShayCichocki/rfd/pkg/models"
)

// Task row states beyond the worker statuses.
const (
	statePending = "pending"
	stateRunning = "running"
)

// maxLogLines bounds the event log kept in memory.
const maxLogLines = 500

// EventMsg carries one orchestrator event into the model.
type EventMsg orchestrator.OrchestratorEvent

// eventsClosedMsg is sent once the event channel is closed.
type eventsClosedMsg struct{}

// WaitForEvent returns a command that delivers the next event from ch, or
// eventsClosedMsg once ch is closed.
func WaitForEvent(ch <-chan orchestrator.OrchestratorEvent) tea.Cmd {
	return func() tea.Msg {
		e, ok := <-ch
		if !ok {
			return eventsClosedMsg{}
		}
		return EventMsg(e)
	}
}

type taskRow struct {
	id        string
	agentType models.AgentType
	objective string
	state     string
	tool      string
	err       string
	round     int
}

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	dimStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	okStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	partialStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	failStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	borderStyle  = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("240"))
)

// RunView is the bubbletea model for `rfd run --tui`.
type RunView struct {
	goal   string
	events <-chan orchestrator.OrchestratorEvent
	onQuit func()

	tasks    []*taskRow
	byID     map[string]*taskRow
	strategy string
	round    int
	skill    string

	logs    []string
	log     viewport.Model
	spinner spinner.Model

	width, height int
	done          bool
	status        string
	summary       string
	quitting      bool
}

// NewRunView creates a view over events. onQuit is called when the user
// quits before the run finishes, so the caller can cancel it.
func NewRunView(goal string, events <-chan orchestrator.OrchestratorEvent, onQuit func()) *RunView {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	vp := viewport.New(80, 10)
	return &RunView{
		goal:    goal,
		events:  events,
		onQuit:  onQuit,
		byID:    make(map[string]*taskRow),
		log:     vp,
		spinner: sp,
	}
}

// Init implements tea.Model.
func (v *RunView) Init() tea.Cmd {
	return tea.Batch(v.spinner.Tick, WaitForEvent(v.events))
}

// Update implements tea.Model.
func (v *RunView) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			if !v.done && v.onQuit != nil {
				v.onQuit()
			}
			v.quitting = true
			return v, tea.Quit
		}
		var cmd tea.Cmd
		v.log, cmd = v.log.Update(msg)
		return v, cmd

	case tea.WindowSizeMsg:
		v.width, v.height = msg.Width, msg.Height
		v.resize()
		return v, nil

	case spinner.TickMsg:
		if v.done {
			return v, nil
		}
		var cmd tea.Cmd
		v.spinner, cmd = v.spinner.Update(msg)
		return v, cmd

	case EventMsg:
		v.apply(orchestrator.OrchestratorEvent(msg))
		return v, WaitForEvent(v.events)

	case eventsClosedMsg:
		v.done = true
		return v, tea.Quit
	}
	return v, nil
}

// apply folds one event into the view state.
func (v *RunView) apply(e orchestrator.OrchestratorEvent) {
	switch e.Type {
	case orchestrator.EventSkillMatched:
		v.skill = e.Message
		v.addLog(e, "skill "+e.Message+" matched")
	case orchestrator.EventPlanReady:
		v.strategy = e.Message
		for _, id := range e.TaskIDs {
			v.row(id)
		}
		if v.height > 0 {
			v.resize()
		}
		v.addLog(e, fmt.Sprintf("plan ready: %d sub-tasks, %s", len(e.TaskIDs), e.Message))
	case orchestrator.EventRoundStarted:
		v.round = e.Round
		for _, id := range e.TaskIDs {
			v.row(id).round = e.Round
		}
		v.addLog(e, fmt.Sprintf("round %d: %s", e.Round, strings.Join(e.TaskIDs, ", ")))
	case orchestrator.EventTaskStarted:
		r := v.row(e.TaskID)
		r.state = stateRunning
		r.agentType = e.AgentType
		r.objective = e.Message
		v.addLog(e, fmt.Sprintf("%s started [%s]", e.TaskID, e.AgentType))
	case orchestrator.EventAgentProgress:
		v.row(e.TaskID).tool = e.Message
		v.addLog(e, fmt.Sprintf("%s calls %s", e.TaskID, e.Message))
	case orchestrator.EventTaskCompleted:
		r := v.row(e.TaskID)
		r.state = e.Status
		r.tool = ""
		v.addLog(e, fmt.Sprintf("%s %s", e.TaskID, e.Status))
	case orchestrator.EventTaskFailed:
		r := v.row(e.TaskID)
		r.state = string(models.WorkerFailed)
		r.tool = ""
		r.err = e.Message
		if e.Error != nil {
			r.err = e.Error.Error()
		}
		v.addLog(e, fmt.Sprintf("%s failed: %s", e.TaskID, r.err))
	case orchestrator.EventDeadlock:
		msg := "deadlock: " + strings.Join(e.TaskIDs, ", ")
		if e.Error != nil {
			msg = e.Error.Error()
		}
		v.addLog(e, msg)
	case orchestrator.EventRunDone:
		v.done = true
		v.status = e.Status
		v.summary = fmt.Sprintf("%d tokens, $%.4f, %s", e.TokensUsed, e.Cost, e.Duration.Round(time.Millisecond))
		msg := fmt.Sprintf("run %s: %s", e.Status, v.summary)
		if e.Error != nil {
			msg += " (" + e.Error.Error() + ")"
		}
		v.addLog(e, msg)
	}
}

// row returns the row for id, adding a pending row for unseen ids.
func (v *RunView) row(id string) *taskRow {
	if r, ok := v.byID[id]; ok {
		return r
	}
	r := &taskRow{id: id, state: statePending}
	v.byID[id] = r
	v.tasks = append(v.tasks, r)
	return r
}

func (v *RunView) addLog(e orchestrator.OrchestratorEvent, line string) {
	ts := e.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	v.logs = append(v.logs, dimStyle.Render(ts.Format("15:04:05"))+" "+line)
	if len(v.logs) > maxLogLines {
		v.logs = v.logs[len(v.logs)-maxLogLines:]
	}
	v.log.SetContent(strings.Join(v.logs, "\n"))
	v.log.GotoBottom()
}

func (v *RunView) resize() {
	w := v.width - 2
	if w < 20 {
		w = 20
	}
	// Header, table and footer take what the tasks need; the log gets the rest.
	h := v.height - len(v.tasks) - 8
	if h < 3 {
		h = 3
	}
	v.log.Width = w
	v.log.Height = h
}

// View implements tea.Model.
func (v *RunView) View() string {
	if v.quitting && !v.done {
		return "Run cancelled.\n"
	}

	var sb strings.Builder
	sb.WriteString(titleStyle.Render("rfd") + " " + v.goal)
	sb.WriteString("\n")
	var meta []string
	if v.skill != "" {
		meta = append(meta, "skill "+v.skill)
	}
	if v.strategy != "" {
		meta = append(meta, v.strategy)
	}
	if v.round > 0 {
		meta = append(meta, fmt.Sprintf("round %d", v.round))
	}
	sb.WriteString(dimStyle.Render(strings.Join(meta, " · ")))
	sb.WriteString("\n\n")

	if len(v.tasks) == 0 {
		sb.WriteString(v.spinner.View() + " planning...\n")
	}
	for _, r := range v.tasks {
		sb.WriteString(v.renderRow(r))
		sb.WriteString("\n")
	}

	sb.WriteString(borderStyle.Render(v.log.View()))
	sb.WriteString("\n")

	switch {
	case v.done && v.status != "":
		sb.WriteString(statusStyle(v.status).Render("run "+v.status) + " " + dimStyle.Render(v.summary))
	case v.done:
		sb.WriteString(dimStyle.Render("run finished"))
	default:
		sb.WriteString(dimStyle.Render(fmt.Sprintf("%d/%d finished · ↑/↓ scroll · q quit", v.finished(), len(v.tasks))))
	}
	sb.WriteString("\n")
	return sb.String()
}

func (v *RunView) renderRow(r *taskRow) string {
	var symbol string
	switch r.state {
	case statePending:
		symbol = dimStyle.Render("·")
	case stateRunning:
		symbol = v.spinner.View()
	default:
		symbol = statusStyle(r.state).Render(rowSymbol(r.state))
	}

	line := fmt.Sprintf("%s %-12s", symbol, r.id)
	if r.round > 0 {
		line += dimStyle.Render(fmt.Sprintf(" r%d", r.round))
	}
	if r.agentType != "" {
		line += dimStyle.Render(fmt.Sprintf(" [%s]", r.agentType))
	}
	if r.objective != "" {
		line += " " + truncate(r.objective, 60)
	}
	switch {
	case r.err != "":
		line += " " + failStyle.Render(truncate(r.err, 60))
	case r.tool != "":
		line += " " + dimStyle.Render("→ "+r.tool)
	}
	return line
}

func (v *RunView) finished() int {
	n := 0
	for _, r := range v.tasks {
		if r.state != statePending && r.state != stateRunning {
			n++
		}
	}
	return n
}

// Done reports whether the run reached its end.
func (v *RunView) Done() bool {
	return v.done
}

func rowSymbol(state string) string {
	switch state {
	case string(models.WorkerSuccess):
		return "✓"
	case string(models.WorkerPartial):
		return "◐"
	default:
		return "✗"
	}
}

func statusStyle(status string) lipgloss.Style {
	// Worker and run statuses share the success and partial spellings.
	switch status {
	case string(models.RunSuccess):
		return okStyle
	case string(models.RunPartial):
		return partialStyle
	default:
		return failStyle
	}
}

func truncate(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

// NewRunProgram creates the bubbletea program for a run view.
func NewRunProgram(view *RunView) *tea.Program {
	return tea.NewProgram(view, tea.WithAltScreen())
}
