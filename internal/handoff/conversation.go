// Package handoff condenses a conversation into a summary that a fresh
// worker can pick up from.
//
// A Summarizer makes one structured model call per conversation. The result
// carries the summary text plus the decisions, open questions and artifacts
// it found, and ForkPrompt turns it into the opening prompt of a new worker.
package handoff

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Role is the speaker of a conversation turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleSystem:
		return true
	}
	return false
}

// Turn is one message of a conversation.
type Turn struct {
	Role      Role   `json:"role" yaml:"role"`
	Content   string `json:"content" yaml:"content"`
	Timestamp string `json:"timestamp,omitempty" yaml:"timestamp,omitempty"`
}

// Conversation is the history to hand off.
type Conversation struct {
	Turns    []Turn         `json:"turns" yaml:"turns"`
	Metadata map[string]any `json:"metadata,omitempty" yaml:"metadata,omitempty"`
}

// Transcript renders the turns as "[ROLE]: content" blocks.
func (c Conversation) Transcript() string {
	parts := make([]string, 0, len(c.Turns))
	for _, t := range c.Turns {
		parts = append(parts, fmt.Sprintf("[%s]: %s", strings.ToUpper(string(t.Role)), t.Content))
	}
	return strings.Join(parts, "\n\n")
}

// LoadConversation reads a conversation from a JSON or YAML file, chosen by
// extension. Unknown roles are rejected.
func LoadConversation(path string) (*Conversation, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read conversation: %w", err)
	}

	var conv Conversation
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &conv)
	default:
		err = json.Unmarshal(data, &conv)
	}
	if err != nil {
		return nil, fmt.Errorf("parse conversation %s: %w", path, err)
	}

	for i := range conv.Turns {
		conv.Turns[i].Role = Role(strings.ToLower(strings.TrimSpace(string(conv.Turns[i].Role))))
		if !conv.Turns[i].Role.Valid() {
			return nil, fmt.Errorf("parse conversation %s: turn %d has unknown role %q", path, i, conv.Turns[i].Role)
		}
	}
	return &conv, nil
}

// ParseInline builds a conversation from "role: content" strings. Items
// without a known role prefix alternate user and assistant by position.
func ParseInline(items []string) Conversation {
	var conv Conversation
	for i, item := range items {
		role := RoleUser
		if i%2 == 1 {
			role = RoleAssistant
		}
		content := item
		if prefix, rest, ok := strings.Cut(item, ":"); ok {
			if r := Role(strings.ToLower(strings.TrimSpace(prefix))); r.Valid() {
				role = r
				content = rest
			}
		}
		conv.Turns = append(conv.Turns, Turn{Role: role, Content: strings.TrimSpace(content)})
	}
	return conv
}

// EstimateTokens approximates a token count at four characters per token.
func EstimateTokens(text string) int {
	return len(text) / 4
}
