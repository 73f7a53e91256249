package skills

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Watch starts watching the skill directory and returns once the watcher is
// registered. Any change under a skill directory rescans the metadata index
// and drops that skill's cache entry. Watching stops when ctx is done.
func (m *Manager) Watch(ctx context.Context) error {
	if m.dir == "" {
		return fmt.Errorf("skills: no directory to watch")
	}
	if err := os.MkdirAll(m.dir, 0755); err != nil {
		return fmt.Errorf("create skills dir: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	if err := watcher.Add(m.dir); err != nil {
		watcher.Close()
		return fmt.Errorf("watch %s: %w", m.dir, err)
	}

	// fsnotify is not recursive; each skill directory and its resource
	// directories are added individually.
	entries, _ := os.ReadDir(m.dir)
	for _, e := range entries {
		if e.IsDir() {
			m.watchSkillDir(watcher, filepath.Join(m.dir, e.Name()))
		}
	}

	go m.watchLoop(ctx, watcher)
	return nil
}

func (m *Manager) watchSkillDir(w *fsnotify.Watcher, dir string) {
	if err := w.Add(dir); err != nil {
		m.logger.Warn("cannot watch skill dir", zap.String("dir", dir), zap.Error(err))
		return
	}
	for _, sub := range []string{CookbookDir, ToolsDir, PromptsDir} {
		path := filepath.Join(dir, sub)
		if info, err := os.Stat(path); err == nil && info.IsDir() {
			_ = w.Add(path)
		}
	}
}

func (m *Manager) watchLoop(ctx context.Context, w *fsnotify.Watcher) {
	defer w.Close()
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.Events:
			if !ok {
				return
			}
			m.handleEvent(w, event)
		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			m.logger.Warn("skill watcher error", zap.Error(err))
		}
	}
}

func (m *Manager) handleEvent(w *fsnotify.Watcher, event fsnotify.Event) {
	rel, err := filepath.Rel(m.dir, event.Name)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return
	}
	top := strings.Split(rel, string(filepath.Separator))[0]
	skillDir := filepath.Join(m.dir, top)

	if event.Op&fsnotify.Create != 0 {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if event.Name == skillDir {
				m.watchSkillDir(w, skillDir)
			} else {
				_ = w.Add(event.Name)
			}
		}
	}

	// Names are cleared both before and after the rescan so a renamed
	// skill loses its stale entry too.
	stale := m.namesAt(skillDir)
	if err := m.rescan(); err != nil {
		m.logger.Warn("skill rescan failed", zap.Error(err))
	}
	names := append(stale, m.namesAt(skillDir)...)
	if len(names) > 0 {
		m.ClearCache(names...)
	}
	m.logger.Debug("skills changed",
		zap.String("path", event.Name),
		zap.String("op", event.Op.String()),
		zap.Strings("cleared", names))
}

// namesAt returns the indexed skill names stored in dir.
func (m *Manager) namesAt(dir string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var names []string
	for name, md := range m.meta {
		if md.Path == dir {
			names = append(names, name)
		}
	}
	return names
}
