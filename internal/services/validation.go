package services

import (
	"context"
	"fmt"

	"github.com/morallab/moralsim-backend/internal/llm"
	"github.com/morallab/moralsim-backend/internal/logger"
)

// Judge temperature is fixed low so verdicts stay consistent across
// participants.
const validationTemperature = 0.1

type ValidationResult struct {
	IsValid  bool
	Feedback string
}

// ValidationService is the LLM judge for phase-1 answers. The word-count
// gate [50,100] belongs to the caller; by the time a text reaches the
// judge it has already passed the cheap check.
type ValidationService interface {
	ValidateResponse(ctx context.Context, vignette string, response string) (*ValidationResult, error)
}

type validationService struct {
	log    *logger.Logger
	client llm.Client
}

func NewValidationService(log *logger.Logger, client llm.Client) ValidationService {
	return &validationService{
		log:    log.With("service", "ValidationService"),
		client: client,
	}
}

func (s *validationService) ValidateResponse(ctx context.Context, vignette string, response string) (*ValidationResult, error) {
	prompt := buildValidationPrompt(vignette, response)
	schema := validationSchema()

	result, err := s.client.Call(ctx, prompt, validationTemperature, "validation_response", schema)
	if err != nil {
		return nil, err
	}

	isValid, ok := result["is_valid"].(bool)
	if !ok {
		return nil, &llm.MalformedOutputError{Excerpt: fmt.Sprintf("%v", result), Err: fmt.Errorf("is_valid missing or not a boolean")}
	}
	feedback, _ := result["feedback"].(string)

	return &ValidationResult{IsValid: isValid, Feedback: feedback}, nil
}

func validationSchema() map[string]any {
	return llm.StrictObjectSchema(map[string]any{
		"is_valid": llm.BooleanProperty("Whether the response meets all validation criteria"),
		"feedback": llm.StringProperty("Encouraging feedback if valid, or specific improvement suggestions if not"),
	})
}

func buildValidationPrompt(vignette string, response string) string {
	return fmt.Sprintf(`You are an LLM judge evaluating whether a participant's response to a moral vignette is a genuine attempt at answering.

**Vignette:**
%s

**Participant's Response:**
%s

**Task:**
Evaluate whether this response represents a GENUINE ATTEMPT at moral reasoning with a clear decision.

**Accept responses that:**
- Make a clear decision or commitment about what they would do
- Provide ANY specific reason or justification for their decision (even if self-interested, controversial, or morally questionable)
- Explain their thinking, values, or priorities that led to the decision
- Show they understood the scenario and committed to a course of action

**REJECT responses that:**
- Don't commit to a clear decision (e.g., just listing options without choosing, excessive hedging like multiple "I don't know" statements)
- Are vague non-answers like "I don't know", "I don't care", "because it is what it is", "maybe", "it depends" without further reasoning
- Are complete nonsense or random text
- Just restate the question without any reasoning or decision
- Are obvious attempts to bypass the task (e.g., "this is a test response")
- Are in another language other than English

IMPORTANT: Accept ALL types of moral reasoning including self-interested, pragmatic, emotional, or unconventional perspectives. However, the participant MUST make a clear decision and justify it. Indecisiveness without commitment (e.g., "I would do X but also maybe Y, I don't know") should be rejected.

If the response is a genuine attempt with a clear decision, set is_valid to true with brief encouraging feedback.
If it lacks a clear decision or reasoning, set is_valid to false with specific guidance asking them to commit to a decision and explain their reasoning.`, vignette, response)
}
