package tools

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

const defaultMaxResults = 100

var binaryExtensions = map[string]bool{
	".pyc": true, ".so": true, ".dll": true, ".exe": true, ".bin": true,
	".png": true, ".jpg": true, ".gif": true, ".zip": true, ".gz": true, ".pdf": true,
}

type grepMatch struct {
	File    string `json:"file"`
	Line    int    `json:"line"`
	Content string `json:"content"`
}

func (e *Executor) grepFiles(ctx context.Context, args json.RawMessage) Result {
	params := struct {
		Pattern    string `json:"pattern"`
		Path       string `json:"path"`
		Recursive  *bool  `json:"recursive"`
		IgnoreCase bool   `json:"ignore_case"`
		MaxResults int    `json:"max_results"`
	}{}
	if err := decode(args, &params); err != nil {
		return Fail("%v", err)
	}
	if params.MaxResults <= 0 {
		params.MaxResults = defaultMaxResults
	}
	recursive := params.Recursive == nil || *params.Recursive

	expr := params.Pattern
	if params.IgnoreCase {
		expr = "(?i)" + expr
	}
	re, err := regexp.Compile(expr)
	if err != nil {
		return Fail("Invalid pattern: %v", err)
	}

	root, err := e.resolvePath(params.Path)
	if err != nil {
		return Fail("%v", err)
	}

	var matches []grepMatch
	full := false
	walkErr := filepath.WalkDir(root, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() {
			if p == root {
				return nil
			}
			if strings.HasPrefix(d.Name(), ".") || !recursive {
				return filepath.SkipDir
			}
			return nil
		}
		if binaryExtensions[strings.ToLower(filepath.Ext(p))] {
			return nil
		}
		if scanFile(p, re, func(line int, text string) bool {
			matches = append(matches, grepMatch{File: e.rel(p), Line: line, Content: strings.TrimSpace(text)})
			return len(matches) < params.MaxResults
		}) {
			full = true
			return filepath.SkipAll
		}
		return nil
	})
	if walkErr != nil {
		return Fail("Search failed: %v", walkErr)
	}

	return OK(map[string]any{
		"pattern":   params.Pattern,
		"matches":   matches,
		"count":     len(matches),
		"truncated": full,
	})
}

// scanFile calls fn for every matching line until fn returns false.
// It reports whether scanning was stopped early.
func scanFile(path string, re *regexp.Regexp, fn func(line int, text string) bool) bool {
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		text := scanner.Text()
		if strings.IndexByte(text, 0) >= 0 {
			return false
		}
		if re.MatchString(text) && !fn(line, text) {
			return true
		}
	}
	return false
}

func (e *Executor) globSearch(ctx context.Context, args json.RawMessage) Result {
	params := struct {
		Pattern   string `json:"pattern"`
		Path      string `json:"path"`
		Recursive *bool  `json:"recursive"`
	}{}
	if err := decode(args, &params); err != nil {
		return Fail("%v", err)
	}
	recursive := params.Recursive == nil || *params.Recursive

	pattern := filepath.ToSlash(params.Pattern)
	if recursive && !strings.HasPrefix(pattern, "**/") {
		pattern = "**/" + pattern
	}
	patternParts := strings.Split(pattern, "/")
	for _, part := range patternParts {
		if _, err := filepath.Match(part, ""); err != nil {
			return Fail("Invalid pattern: %v", err)
		}
	}

	root, err := e.resolvePath(params.Path)
	if err != nil {
		return Fail("%v", err)
	}

	var matches []dirItem
	walkErr := filepath.WalkDir(root, func(p string, d os.DirEntry, err error) error {
		if err != nil || p == root {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() && strings.HasPrefix(d.Name(), ".") {
			return filepath.SkipDir
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return nil
		}
		if matchGlob(patternParts, strings.Split(filepath.ToSlash(rel), "/")) {
			matches = append(matches, e.item(p, d))
		}
		return nil
	})
	if walkErr != nil {
		return Fail("Glob failed: %v", walkErr)
	}

	return OK(map[string]any{"pattern": pattern, "matches": matches, "count": len(matches)})
}

// matchGlob matches path segments against pattern segments where "**"
// matches zero or more whole segments.
func matchGlob(pattern, path []string) bool {
	for len(pattern) > 0 {
		if pattern[0] == "**" {
			rest := pattern[1:]
			for i := 0; i <= len(path); i++ {
				if matchGlob(rest, path[i:]) {
					return true
				}
			}
			return false
		}
		if len(path) == 0 {
			return false
		}
		if ok, _ := filepath.Match(pattern[0], path[0]); !ok {
			return false
		}
		pattern, path = pattern[1:], path[1:]
	}
	return len(path) == 0
}
