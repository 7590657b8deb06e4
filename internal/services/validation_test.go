package services

import (
	"context"
	"strings"
	"testing"

	"github.com/morallab/moralsim-backend/internal/llm"
)

func TestValidateResponseVerdicts(t *testing.T) {
	cases := []struct {
		name     string
		result   map[string]any
		want     bool
		feedback string
	}{
		{
			name:     "accepted",
			result:   map[string]any{"is_valid": true, "feedback": "clear decision"},
			want:     true,
			feedback: "clear decision",
		},
		{
			name:     "rejected",
			result:   map[string]any{"is_valid": false, "feedback": "no commitment"},
			want:     false,
			feedback: "no commitment",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			client := &fakeLLMClient{results: []map[string]any{tc.result}}
			svc := NewValidationService(newTestLogger(t), client)

			got, err := svc.ValidateResponse(context.Background(), "some vignette", "some answer")
			if err != nil {
				t.Fatalf("ValidateResponse: %v", err)
			}
			if got.IsValid != tc.want || got.Feedback != tc.feedback {
				t.Fatalf("got %+v", got)
			}
			call := client.calls[0]
			if call.temperature != 0.1 {
				t.Fatalf("temperature = %v, want 0.1", call.temperature)
			}
			if call.schemaName != "validation_response" {
				t.Fatalf("schema = %q", call.schemaName)
			}
			if !strings.Contains(call.prompt, "some vignette") || !strings.Contains(call.prompt, "some answer") {
				t.Fatal("prompt missing vignette or answer")
			}
		})
	}
}

func TestValidateResponseMissingVerdictIsMalformed(t *testing.T) {
	client := &fakeLLMClient{results: []map[string]any{{"feedback": "only feedback"}}}
	svc := NewValidationService(newTestLogger(t), client)

	_, err := svc.ValidateResponse(context.Background(), "vignette", "answer")
	if !llm.IsMalformedOutput(err) {
		t.Fatalf("got %v, want malformed output", err)
	}
}
