package main

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/ShayCichocki/rfd/internal/handoff"
	"github.com/ShayCichocki/rfd/internal/state"
)

var (
	summarizeInput     string
	summarizeRun       string
	summarizeStyle     string
	summarizeMaxTokens int
	summarizeNext      string
)

var summarizeCmd = &cobra.Command{
	Use:   "summarize [role: content ...]",
	Short: "Condense a conversation for handoff to a new worker",
	Long: `Summarize condenses a conversation into a summary another worker can continue
from. The conversation comes from --input (JSON or YAML with a "turns" list),
from a recorded run with --run, or from inline "role: content" arguments.

With --next the summary is embedded ahead of that request and printed as a
ready-to-use fork prompt.`,
	Example: `  rfd summarize --input chat.json --style detailed
  rfd summarize --run run_1a2b3c4d --next "write the missing tests"
  rfd summarize "user: add retries" "assistant: added backoff in retry.go"`,
	RunE: runSummarize,
}

func init() {
	var styles []string
	for _, s := range handoff.Styles() {
		styles = append(styles, string(s))
	}
	summarizeCmd.Flags().StringVarP(&summarizeInput, "input", "i", "", "Conversation file (JSON or YAML)")
	summarizeCmd.Flags().StringVar(&summarizeRun, "run", "", "Summarize a recorded run by id")
	summarizeCmd.Flags().StringVarP(&summarizeStyle, "style", "s", string(handoff.StyleConcise), "Summary style ("+strings.Join(styles, ", ")+")")
	summarizeCmd.Flags().IntVar(&summarizeMaxTokens, "max-tokens", handoff.DefaultMaxTokens, "Approximate summary length limit")
	summarizeCmd.Flags().StringVarP(&summarizeNext, "next", "n", "", "Print a fork prompt with this request after the summary")
	summarizeCmd.MarkFlagsMutuallyExclusive("input", "run")
}

func runSummarize(cmd *cobra.Command, args []string) error {
	style := handoff.Style(summarizeStyle)
	if !style.Valid() {
		return fmt.Errorf("invalid --style %q", summarizeStyle)
	}

	a, err := newApp(appOptions{gateway: true, store: summarizeRun != ""})
	if err != nil {
		return err
	}
	defer a.Close()

	conv, err := loadConversation(cmd, a, args)
	if err != nil {
		return err
	}

	s := a.summarizer(summarizeMaxTokens)
	sum, err := s.Summarize(cmd.Context(), *conv, style)
	if err != nil {
		return err
	}

	if summarizeNext != "" {
		prompt := handoff.ForkPrompt(sum, summarizeNext)
		if jsonFlag {
			return printJSON(os.Stdout, map[string]string{"fork_prompt": prompt})
		}
		fmt.Println(boxStyle.Render(prompt))
		return nil
	}
	if jsonFlag {
		return printJSON(os.Stdout, sum)
	}
	fmt.Print(renderSummary(sum))
	return nil
}

// loadConversation picks the conversation source from the flags.
func loadConversation(cmd *cobra.Command, a *app, args []string) (*handoff.Conversation, error) {
	switch {
	case summarizeInput != "":
		return handoff.LoadConversation(summarizeInput)
	case summarizeRun != "":
		r, err := a.db.GetRun(cmd.Context(), summarizeRun)
		if err != nil {
			return nil, err
		}
		conv := conversationFromRun(r)
		return &conv, nil
	case len(args) > 0:
		conv := handoff.ParseInline(args)
		return &conv, nil
	}
	return nil, errors.New("provide --input, --run or inline turns")
}

// conversationFromRun replays a recorded run as a conversation: the goal,
// one line per worker, then the synthesized answer.
func conversationFromRun(r *state.RunRecord) handoff.Conversation {
	conv := handoff.Conversation{
		Turns:    []handoff.Turn{{Role: handoff.RoleUser, Content: r.Goal, Timestamp: r.StartedAt.Format(time.RFC3339)}},
		Metadata: map[string]any{"run_id": r.ID, "status": r.Status},
	}
	for _, w := range r.Workers {
		content := fmt.Sprintf("%s worker for %s finished %s (confidence %.2f)", w.AgentType, w.TaskID, w.Status, w.Confidence)
		if w.Error != "" {
			content += ": " + w.Error
		}
		conv.Turns = append(conv.Turns, handoff.Turn{Role: handoff.RoleAssistant, Content: content})
	}
	final := r.Summary
	if final == "" && r.Error != "" {
		final = "Run failed: " + r.Error
	}
	if final != "" {
		conv.Turns = append(conv.Turns, handoff.Turn{Role: handoff.RoleAssistant, Content: final})
	}
	return conv
}

func renderSummary(sum *handoff.Summary) string {
	var sb strings.Builder
	sb.WriteString(headerStyle.Render(fmt.Sprintf("Summary (%s)", sum.Style)))
	sb.WriteString("\n")
	sb.WriteString(boxStyle.Render(sum.Summary))
	sb.WriteString("\n")
	section := func(title string, items []string) {
		if len(items) == 0 {
			return
		}
		sb.WriteString(labelStyle.Render(title))
		sb.WriteString("\n")
		for _, it := range items {
			sb.WriteString("  • " + it + "\n")
		}
	}
	section("Key decisions", sum.KeyDecisions)
	if sum.CurrentTask != "" {
		sb.WriteString(kv("Current task", sum.CurrentTask))
		sb.WriteString("\n")
	}
	section("Open questions", sum.OpenQuestions)
	section("Artifacts", sum.Artifacts)
	sb.WriteString(dimStyle.Render(fmt.Sprintf("Compression: %.1fx | Tokens: ~%d", sum.CompressionRatio, sum.TokenCount)))
	sb.WriteString("\n")
	return sb.String()
}
