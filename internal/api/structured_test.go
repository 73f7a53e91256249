package api

import (
	"errors"
	"testing"
)

type samplePayload struct {
	Summary    string  `json:"summary"`
	Confidence float64 `json:"confidence"`
}

func TestParseStructured(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want samplePayload
	}{
		{
			name: "clean json",
			raw:  `{"summary":"done","confidence":0.9}`,
			want: samplePayload{Summary: "done", Confidence: 0.9},
		},
		{
			name: "fenced json",
			raw:  "```json\n{\"summary\":\"fenced\",\"confidence\":0.5}\n```",
			want: samplePayload{Summary: "fenced", Confidence: 0.5},
		},
		{
			name: "trailing comma",
			raw:  `{"summary":"repaired","confidence":0.4,}`,
			want: samplePayload{Summary: "repaired", Confidence: 0.4},
		},
		{
			name: "prose around json",
			raw:  "Here is the result:\n{\"summary\":\"embedded\",\"confidence\":1}\nThanks!",
			want: samplePayload{Summary: "embedded", Confidence: 1},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got samplePayload
			if err := ParseStructured(tt.raw, &got); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("expected %+v, got %+v", tt.want, got)
			}
		})
	}
}

func TestParseStructured_Empty(t *testing.T) {
	var got samplePayload
	if err := ParseStructured("   ", &got); !errors.Is(err, ErrNoStructuredPayload) {
		t.Errorf("expected ErrNoStructuredPayload, got %v", err)
	}
}
