// Package skills discovers skill bundles on disk and loads them on demand.
//
// A skill lives in its own directory:
//
//	skills/
//	  deploy/
//	    SKILL.md      front matter (name, description, triggers) plus body
//	    cookbook/     optional recipes
//	    tools/        optional tool scripts
//	    prompts/      optional prompt templates
//
// Only the front matter is read at startup. The body and the resource
// directories are parsed the first time a skill is needed.
package skills

import (
	"bufio"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
	"gopkg.in/yaml.v3"

	"github.com/ShayCichocki/rfd/pkg/models"
)

// SkillFile is the document every skill directory must contain.
const SkillFile = "SKILL.md"

// ErrSkillNotFound is returned for names that match no installed skill.
var ErrSkillNotFound = errors.New("skill not found")

// Option customizes a Manager.
type Option func(*Manager)

// WithLogger sets the logger for scan and watch diagnostics.
func WithLogger(logger *zap.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithRunner sets the worker used by Execute.
func WithRunner(r Runner) Option {
	return func(m *Manager) {
		m.runner = r
	}
}

// Manager indexes the skills under one directory.
type Manager struct {
	dir    string
	logger *zap.Logger
	runner Runner

	mu    sync.RWMutex
	meta  map[string]models.SkillMetadata
	cache map[string]*models.Skill

	loads  singleflight.Group
	parses atomic.Int64
}

// NewManager scans dir for skills. A missing directory yields an empty
// manager. Skills whose front matter cannot be read are skipped.
func NewManager(dir string, opts ...Option) (*Manager, error) {
	m := &Manager{
		dir:    strings.TrimSpace(dir),
		logger: zap.NewNop(),
		meta:   make(map[string]models.SkillMetadata),
		cache:  make(map[string]*models.Skill),
	}
	for _, opt := range opts {
		opt(m)
	}
	if err := m.rescan(); err != nil {
		return nil, err
	}
	return m, nil
}

// Dir returns the directory the manager scans.
func (m *Manager) Dir() string {
	return m.dir
}

// rescan replaces the metadata index with what is on disk now.
func (m *Manager) rescan() error {
	meta, err := scanDir(m.dir, m.logger)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.meta = meta
	m.mu.Unlock()
	return nil
}

func scanDir(dir string, logger *zap.Logger) (map[string]models.SkillMetadata, error) {
	out := make(map[string]models.SkillMetadata)
	if dir == "" {
		return out, nil
	}

	info, err := os.Stat(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return out, nil
		}
		return nil, fmt.Errorf("stat skills dir: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("skills dir %s is not a directory", dir)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read skills dir: %w", err)
	}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		skillDir := filepath.Join(dir, entry.Name())
		md, err := readMetadata(skillDir)
		if err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				logger.Warn("skipping skill", zap.String("dir", skillDir), zap.Error(err))
			}
			continue
		}
		if prev, dup := out[md.Name]; dup {
			logger.Warn("duplicate skill name",
				zap.String("name", md.Name),
				zap.String("kept", prev.Path),
				zap.String("skipped", skillDir))
			continue
		}
		out[md.Name] = md
	}
	return out, nil
}

// frontMatter is the YAML header of SKILL.md.
type frontMatter struct {
	Name         string            `yaml:"name"`
	Description  string            `yaml:"description"`
	Triggers     []string          `yaml:"triggers"`
	Variables    map[string]string `yaml:"variables"`
	AllowedTools []string          `yaml:"allowed_tools"`
}

// readMetadata reads only the front matter block of a skill document.
func readMetadata(skillDir string) (models.SkillMetadata, error) {
	f, err := os.Open(filepath.Join(skillDir, SkillFile))
	if err != nil {
		return models.SkillMetadata{}, err
	}
	defer f.Close()

	var header []string
	scanner := bufio.NewScanner(f)
	inHeader := false
	closed := false
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		if !inHeader {
			if strings.TrimSpace(line) != "---" {
				break
			}
			inHeader = true
			continue
		}
		if strings.TrimSpace(line) == "---" {
			closed = true
			break
		}
		header = append(header, line)
	}
	if err := scanner.Err(); err != nil {
		return models.SkillMetadata{}, fmt.Errorf("read %s: %w", SkillFile, err)
	}
	if !closed {
		return models.SkillMetadata{}, fmt.Errorf("%s has no front matter", SkillFile)
	}

	var fm frontMatter
	if err := yaml.Unmarshal([]byte(strings.Join(header, "\n")), &fm); err != nil {
		return models.SkillMetadata{}, fmt.Errorf("parse front matter: %w", err)
	}
	return metadataFrom(fm, skillDir), nil
}

func metadataFrom(fm frontMatter, skillDir string) models.SkillMetadata {
	name := strings.TrimSpace(fm.Name)
	if name == "" {
		name = filepath.Base(skillDir)
	}
	var triggers []string
	for _, t := range fm.Triggers {
		if t = strings.TrimSpace(t); t != "" {
			triggers = append(triggers, t)
		}
	}
	return models.SkillMetadata{
		Name:        name,
		Description: strings.TrimSpace(fm.Description),
		Triggers:    triggers,
		Path:        skillDir,
	}
}

// List returns the metadata of every installed skill sorted by name.
func (m *Manager) List() []models.SkillMetadata {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.SkillMetadata, 0, len(m.meta))
	for _, md := range m.meta {
		out = append(out, md)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Metadata returns one skill's metadata.
func (m *Manager) Metadata(name string) (models.SkillMetadata, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	md, ok := m.meta[name]
	return md, ok
}

// IndexText renders one "- name: description" line per skill.
func (m *Manager) IndexText() string {
	var sb strings.Builder
	for _, md := range m.List() {
		fmt.Fprintf(&sb, "- %s: %s\n", md.Name, md.Description)
	}
	return sb.String()
}

// Detect returns the first skill, in name order, with a trigger contained in
// input. Matching ignores case. No match returns nil and no error.
func (m *Manager) Detect(input string) (*models.Skill, error) {
	lowered := strings.ToLower(input)
	for _, md := range m.List() {
		for _, trigger := range md.Triggers {
			if strings.Contains(lowered, strings.ToLower(trigger)) {
				m.logger.Debug("skill trigger matched",
					zap.String("skill", md.Name),
					zap.String("trigger", trigger))
				return m.LoadFull(md.Name)
			}
		}
	}
	return nil, nil
}
