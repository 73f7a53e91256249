package api

import (
	"encoding/json"
	"errors"
	"strings"

	"github.com/kaptinlin/jsonrepair"
)

// ErrNoStructuredPayload is returned when no JSON object can be recovered.
var ErrNoStructuredPayload = errors.New("no structured payload found")

// ParseStructured decodes raw model output into v. It tries the raw text
// and the substring between the first '{' and the last '}', first as-is and
// then after repair.
func ParseStructured(raw string, v any) error {
	raw = strings.TrimSpace(stripCodeFence(raw))
	if raw == "" {
		return ErrNoStructuredPayload
	}

	candidates := []string{raw}
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start >= 0 && end > start && raw[start:end+1] != raw {
		candidates = append(candidates, raw[start:end+1])
	}

	for _, c := range candidates {
		if err := json.Unmarshal([]byte(c), v); err == nil {
			return nil
		}
	}

	var lastErr error
	for i := len(candidates) - 1; i >= 0; i-- {
		repaired, err := jsonrepair.JSONRepair(candidates[i])
		if err != nil {
			lastErr = err
			continue
		}
		if err := json.Unmarshal([]byte(repaired), v); err != nil {
			lastErr = err
			continue
		}
		return nil
	}
	return errors.Join(ErrNoStructuredPayload, lastErr)
}

// stripCodeFence removes a surrounding ```json fence if present.
func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.Index(s, "\n"); nl >= 0 {
		s = s[nl+1:]
	}
	return strings.TrimSuffix(strings.TrimSpace(s), "```")
}
