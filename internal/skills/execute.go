package skills

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/ShayCichocki/rfd/internal/agent"
	"github.com/ShayCichocki/rfd/pkg/models"
)

// DefaultMaxTurns bounds a skill execution when the caller passes zero.
const DefaultMaxTurns = 10

// Runner executes one worker assignment. *agent.Worker satisfies it.
type Runner interface {
	Run(ctx context.Context, a agent.Assignment, maxTurns int) models.WorkerResult
}

// ErrNoRunner is returned by Execute on a manager built without WithRunner.
var ErrNoRunner = errors.New("skills: no runner configured")

// Execute runs input through a worker instructed by the named skill. The
// worker sees the skill's allowed tools, or the whole catalogue when the
// skill lists none.
func (m *Manager) Execute(ctx context.Context, name, input string, maxTurns int) (models.WorkerResult, error) {
	if m.runner == nil {
		return models.WorkerResult{}, ErrNoRunner
	}
	skill, err := m.LoadFull(name)
	if err != nil {
		return models.WorkerResult{}, err
	}
	if maxTurns <= 0 {
		maxTurns = DefaultMaxTurns
	}

	m.logger.Info("executing skill",
		zap.String("skill", skill.Name),
		zap.Strings("allowed_tools", skill.AllowedTools),
		zap.Int("max_turns", maxTurns))

	res := m.runner.Run(ctx, agent.Assignment{
		Prompt:    input,
		AgentType: models.AgentTypeGeneral,
		System:    SystemInstruction(skill),
		Tools:     skill.AllowedTools,
	}, maxTurns)
	return res, nil
}

// SystemInstruction renders a loaded skill as a worker system instruction,
// with {{name}} placeholders replaced by the skill's variables.
func SystemInstruction(skill *models.Skill) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "You are executing the %q skill.\n", skill.Name)
	if skill.Description != "" {
		sb.WriteString(skill.Description)
		sb.WriteString("\n")
	}
	if skill.Instructions != "" {
		sb.WriteString("\n")
		sb.WriteString(skill.Instructions)
		sb.WriteString("\n")
	}
	writeResources(&sb, "Cookbook", skill.Cookbook)
	writeResources(&sb, "Prompt", skill.Prompts)
	if len(skill.Tools) > 0 {
		sb.WriteString("\nSkill tool scripts: ")
		sb.WriteString(strings.Join(sortedKeys(skill.Tools), ", "))
		sb.WriteString("\n")
	}
	return substitute(sb.String(), skill.Variables)
}

func writeResources(sb *strings.Builder, label string, files map[string]string) {
	for _, name := range sortedKeys(files) {
		fmt.Fprintf(sb, "\n## %s: %s\n%s\n", label, name, strings.TrimSpace(files[name]))
	}
}

func substitute(text string, vars map[string]string) string {
	if len(vars) == 0 {
		return text
	}
	pairs := make([]string, 0, len(vars)*4)
	for _, k := range sortedKeys(vars) {
		pairs = append(pairs, "{{"+k+"}}", vars[k], "{{ "+k+" }}", vars[k])
	}
	return strings.NewReplacer(pairs...).Replace(text)
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
