package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Timeout classes for shell commands.
const (
	InstallTimeout = 600 * time.Second
	BuildTimeout   = 300 * time.Second
	QuickTimeout   = 30 * time.Second
	DefaultTimeout = 120 * time.Second
	GitTimeout     = 30 * time.Second
)

const maxOutputBytes = 50000

var (
	installCommands = []string{
		"npm install", "npm ci", "yarn install", "pnpm install", "bun install",
		"pip install", "pip3 install", "composer install", "bundle install",
		"go mod download", "go get", "cargo install", "apt-get install", "apt install",
	}
	buildCommands = []string{
		"npm run build", "yarn build", "make", "cmake", "cargo build", "go build",
		"mvn ", "gradle", "next build", "vite build",
		"npm test", "npm run test", "yarn test", "pytest", "jest", "cargo test", "go test",
	}
	quickCommands = map[string]bool{
		"ls": true, "cat": true, "echo": true, "pwd": true, "head": true, "tail": true,
		"wc": true, "which": true, "mkdir": true, "touch": true, "cp": true, "mv": true,
	}

	dangerousPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\brm\s+-rf\s+/(\s|$)`),
		regexp.MustCompile(`(?i)\bmkfs\b`),
		regexp.MustCompile(`(?i)\bdd\b.*if=/dev/`),
		regexp.MustCompile(`:\(\)\s*\{\s*:\|:&\s*\};:`),
	}
)

// SmartTimeout picks a timeout from the command text: package installs get
// the longest, builds and tests next, trivial commands the shortest.
func SmartTimeout(command string) time.Duration {
	lower := strings.ToLower(command)
	for _, c := range installCommands {
		if strings.Contains(lower, c) {
			return InstallTimeout
		}
	}
	for _, c := range buildCommands {
		if strings.Contains(lower, c) {
			return BuildTimeout
		}
	}
	if fields := strings.Fields(lower); len(fields) > 0 && quickCommands[fields[0]] {
		return QuickTimeout
	}
	return DefaultTimeout
}

func blocked(command string) bool {
	for _, re := range dangerousPatterns {
		if re.MatchString(command) {
			return true
		}
	}
	return false
}

func truncateOutput(s string) (string, bool) {
	if len(s) <= maxOutputBytes {
		return s, false
	}
	half := maxOutputBytes / 2
	return s[:half] + "\n\n... [OUTPUT TRUNCATED] ...\n\n" + s[len(s)-half:], true
}

type commandOutput struct {
	stdout   string
	stderr   string
	exitCode int
	timedOut bool
	err      error
}

func runCommand(ctx context.Context, timeout time.Duration, dir, name string, args ...string) commandOutput {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	var stdout, stderr strings.Builder
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	// Do not wait on pipes held open by orphaned grandchildren.
	cmd.WaitDelay = time.Second

	err := cmd.Run()
	out := commandOutput{stdout: stdout.String(), stderr: stderr.String()}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		out.timedOut = true
		out.exitCode = -1
		return out
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			out.exitCode = exitErr.ExitCode()
		} else {
			out.exitCode = -1
			out.err = err
		}
	}
	return out
}

func (e *Executor) bash(ctx context.Context, args json.RawMessage) Result {
	var params struct {
		Command string `json:"command"`
		Path    string `json:"path"`
		Timeout int    `json:"timeout"`
	}
	if err := decode(args, &params); err != nil {
		return Fail("%v", err)
	}
	if strings.TrimSpace(params.Command) == "" {
		return Fail("command is empty")
	}
	if blocked(params.Command) {
		return Fail("Dangerous command blocked: %s", params.Command)
	}

	dir, err := e.resolvePath(params.Path)
	if err != nil {
		return Fail("%v", err)
	}

	timeout := SmartTimeout(params.Command)
	if params.Timeout > 0 {
		timeout = time.Duration(params.Timeout) * time.Second
	}

	out := runCommand(ctx, timeout, dir, "bash", "-c", params.Command)
	e.logger.Debug("bash",
		zap.String("command", params.Command),
		zap.Int("exit_code", out.exitCode),
		zap.Duration("timeout", timeout),
		zap.Bool("timed_out", out.timedOut))

	if out.timedOut {
		partialOut, _ := truncateOutput(out.stdout)
		partialErr, _ := truncateOutput(out.stderr)
		return FailWith(map[string]any{
			"command":        params.Command,
			"timeout":        int(timeout.Seconds()),
			"timed_out":      true,
			"partial_stdout": partialOut,
			"partial_stderr": partialErr,
		}, "Command timed out after %ds", int(timeout.Seconds()))
	}
	if out.err != nil {
		return Fail("Failed to run command: %v", out.err)
	}

	stdout, truncOut := truncateOutput(out.stdout)
	stderr, truncErr := truncateOutput(out.stderr)
	fields := map[string]any{
		"command":     params.Command,
		"stdout":      stdout,
		"stderr":      stderr,
		"return_code": out.exitCode,
		"truncated":   truncOut || truncErr,
	}
	if out.exitCode != 0 {
		return FailWith(fields, "Command exited with code %d", out.exitCode)
	}
	return OK(fields)
}

// GitOperations are the git subcommands workers may run.
var GitOperations = []string{
	"status", "diff", "log", "add", "commit", "branch", "checkout", "init", "show", "rev-parse",
}

func (e *Executor) git(ctx context.Context, args json.RawMessage) Result {
	var params struct {
		Operation string `json:"operation"`
		Args      string `json:"args"`
		Path      string `json:"path"`
	}
	if err := decode(args, &params); err != nil {
		return Fail("%v", err)
	}
	if !contains(GitOperations, params.Operation) {
		return Fail("Unsupported git operation: %s", params.Operation)
	}

	dir, err := e.resolvePath(params.Path)
	if err != nil {
		return Fail("%v", err)
	}

	split, err := splitArgs(params.Args)
	if err != nil {
		return Fail("Invalid git args: %v", err)
	}

	out := runCommand(ctx, GitTimeout, dir, "git", append([]string{params.Operation}, split...)...)
	if out.timedOut {
		return FailWith(map[string]any{"operation": params.Operation, "timed_out": true},
			"Git operation timed out after %ds", int(GitTimeout.Seconds()))
	}
	if out.err != nil {
		if errors.Is(out.err, exec.ErrNotFound) {
			return Fail("Git not found. Is it installed?")
		}
		return Fail("Failed to run git: %v", out.err)
	}

	fields := map[string]any{
		"operation":   params.Operation,
		"stdout":      out.stdout,
		"stderr":      out.stderr,
		"return_code": out.exitCode,
	}
	if out.exitCode != 0 {
		return FailWith(fields, "git %s exited with code %d", params.Operation, out.exitCode)
	}
	return OK(fields)
}

// splitArgs splits a command line on whitespace, honoring single and
// double quotes.
func splitArgs(s string) ([]string, error) {
	var (
		args    []string
		cur     strings.Builder
		quote   rune
		inToken bool
	)
	for _, r := range s {
		switch {
		case quote != 0:
			if r == quote {
				quote = 0
			} else {
				cur.WriteRune(r)
			}
		case r == '"' || r == '\'':
			quote = r
			inToken = true
		case r == ' ' || r == '\t' || r == '\n':
			if inToken {
				args = append(args, cur.String())
				cur.Reset()
				inToken = false
			}
		default:
			cur.WriteRune(r)
			inToken = true
		}
	}
	if quote != 0 {
		return nil, fmt.Errorf("unterminated quote")
	}
	if inToken {
		args = append(args, cur.String())
	}
	return args, nil
}
