package skills

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/ShayCichocki/rfd/pkg/models"
)

// Resource directories read by LoadFull.
const (
	CookbookDir = "cookbook"
	ToolsDir    = "tools"
	PromptsDir  = "prompts"
)

var (
	workflowHeading = regexp.MustCompile(`(?i)^#{2,3}\s+workflow\s*$`)
	anyHeading      = regexp.MustCompile(`^#{1,3}\s+`)
	stepLine        = regexp.MustCompile(`^(?:\d+[.)]|[-*])\s+(.+)$`)
)

// LoadFull parses the whole skill bundle. Results are cached by name until
// ClearCache drops them. Concurrent callers for the same name share one parse.
func (m *Manager) LoadFull(name string) (*models.Skill, error) {
	m.mu.RLock()
	s, ok := m.cache[name]
	m.mu.RUnlock()
	if ok {
		return s, nil
	}

	v, err, _ := m.loads.Do(name, func() (any, error) {
		m.mu.RLock()
		cached, hit := m.cache[name]
		md, known := m.meta[name]
		m.mu.RUnlock()
		// A flight that finished before this one started may have filled it.
		if hit {
			return cached, nil
		}
		if !known {
			return nil, fmt.Errorf("%w: %s", ErrSkillNotFound, name)
		}

		skill, err := parseSkill(md)
		if err != nil {
			return nil, fmt.Errorf("load skill %s: %w", name, err)
		}
		m.parses.Add(1)

		m.mu.Lock()
		m.cache[name] = skill
		m.mu.Unlock()
		return skill, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*models.Skill), nil
}

// ParseCount reports how many times a skill body has been parsed.
func (m *Manager) ParseCount() int64 {
	return m.parses.Load()
}

// ClearCache drops the named skills from the cache, or every skill when no
// name is given.
func (m *Manager) ClearCache(names ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(names) == 0 {
		m.cache = make(map[string]*models.Skill)
		return
	}
	for _, n := range names {
		delete(m.cache, n)
	}
}

func parseSkill(md models.SkillMetadata) (*models.Skill, error) {
	data, err := os.ReadFile(filepath.Join(md.Path, SkillFile))
	if err != nil {
		return nil, err
	}
	content := strings.ReplaceAll(string(data), "\r\n", "\n")

	header, body, ok := splitFrontMatter(content)
	if !ok {
		return nil, fmt.Errorf("%s has no front matter", SkillFile)
	}
	var fm frontMatter
	if err := yaml.Unmarshal([]byte(header), &fm); err != nil {
		return nil, fmt.Errorf("parse front matter: %w", err)
	}

	skill := &models.Skill{
		SkillMetadata: metadataFrom(fm, md.Path),
		Variables:     fm.Variables,
		Instructions:  strings.TrimSpace(body),
		Workflow:      parseWorkflow(body),
		AllowedTools:  fm.AllowedTools,
	}
	// The index key wins over a front matter edit not yet rescanned.
	skill.Name = md.Name

	if skill.Cookbook, err = readResources(md.Path, CookbookDir); err != nil {
		return nil, err
	}
	if skill.Tools, err = readResources(md.Path, ToolsDir); err != nil {
		return nil, err
	}
	if skill.Prompts, err = readResources(md.Path, PromptsDir); err != nil {
		return nil, err
	}
	return skill, nil
}

func splitFrontMatter(content string) (string, string, bool) {
	lines := strings.Split(content, "\n")
	if len(lines) < 2 || strings.TrimSpace(lines[0]) != "---" {
		return "", content, false
	}
	for i := 1; i < len(lines); i++ {
		if strings.TrimSpace(lines[i]) == "---" {
			return strings.Join(lines[1:i], "\n"), strings.Join(lines[i+1:], "\n"), true
		}
	}
	return "", content, false
}

// parseWorkflow returns the numbered or bulleted lines under the Workflow
// heading, in order.
func parseWorkflow(body string) []string {
	var steps []string
	inSection := false
	for _, line := range strings.Split(body, "\n") {
		trimmed := strings.TrimSpace(line)
		if workflowHeading.MatchString(trimmed) {
			inSection = true
			continue
		}
		if !inSection {
			continue
		}
		if anyHeading.MatchString(trimmed) {
			break
		}
		if m := stepLine.FindStringSubmatch(trimmed); m != nil {
			steps = append(steps, strings.TrimSpace(m[1]))
		}
	}
	return steps
}

// readResources maps file names to contents for the regular files in one
// resource directory. A missing directory yields nil.
func readResources(skillDir, sub string) (map[string]string, error) {
	dir := filepath.Join(skillDir, sub)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read %s: %w", sub, err)
	}
	out := make(map[string]string)
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, fmt.Errorf("read %s/%s: %w", sub, e.Name(), err)
		}
		out[e.Name()] = string(data)
	}
	return out, nil
}
