package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/morallab/moralsim-backend/internal/llm"
	"github.com/morallab/moralsim-backend/internal/logger"
	"github.com/morallab/moralsim-backend/internal/types"
)

// Generation temperature is fixed at 0.3: enough variance for natural
// language diversity, low enough to stay close to the inferred pattern.
const generationTemperature = 0.3

type GenerationResult struct {
	SimulatedResponse string
	Reasoning         string
	Temperature       float64
	ModelVersion      string
	// ExampleOrder holds opaque fingerprints of the examples in the
	// shuffled order actually presented to the model. Audit only; the
	// original responses cannot be reconstructed without the store.
	ExampleOrder []string
}

// GenerationService simulates a participant's moral reasoning on a new
// scenario, conditioned on their own validated phase-1 answers.
type GenerationService interface {
	Generate(ctx context.Context, targetVignette string, examples []types.GenerationExample, isZeroShot bool) (*GenerationResult, error)
}

type generationService struct {
	log    *logger.Logger
	client llm.Client
	newRNG func() *rand.Rand
}

func NewGenerationService(log *logger.Logger, client llm.Client) GenerationService {
	return &generationService{
		log:    log.With("service", "GenerationService"),
		client: client,
		newRNG: func() *rand.Rand { return rand.New(rand.NewSource(time.Now().UnixNano())) },
	}
}

// NewGenerationServiceWithRNG injects the random source; tests use it for
// deterministic shuffles.
func NewGenerationServiceWithRNG(log *logger.Logger, client llm.Client, newRNG func() *rand.Rand) GenerationService {
	return &generationService{
		log:    log.With("service", "GenerationService"),
		client: client,
		newRNG: newRNG,
	}
}

func (s *generationService) Generate(ctx context.Context, targetVignette string, examples []types.GenerationExample, isZeroShot bool) (*GenerationResult, error) {
	// Each job reshuffles independently, so presentation order differs
	// across the few-shot jobs even though the example set is identical.
	shuffled := make([]types.GenerationExample, len(examples))
	copy(shuffled, examples)
	if !isZeroShot && len(shuffled) > 1 {
		rng := s.newRNG()
		rng.Shuffle(len(shuffled), func(i, j int) {
			shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
		})
	}

	prompt := buildGenerationPrompt(targetVignette, shuffled, isZeroShot)
	schema := generationSchema()

	result, err := s.client.Call(ctx, prompt, generationTemperature, "generation_response", schema)
	if err != nil {
		return nil, err
	}

	simulated, ok := result["simulated_response"].(string)
	if !ok || strings.TrimSpace(simulated) == "" {
		return nil, &llm.MalformedOutputError{Excerpt: fmt.Sprintf("%v", result), Err: fmt.Errorf("simulated_response missing or empty")}
	}
	reasoning, _ := result["reasoning"].(string)

	out := &GenerationResult{
		SimulatedResponse: simulated,
		Reasoning:         reasoning,
		Temperature:       generationTemperature,
		ModelVersion:      s.client.ModelVersion(),
	}
	if !isZeroShot {
		out.ExampleOrder = fingerprintExamples(shuffled)
	}
	return out, nil
}

// fingerprintExamples hashes each example's scenario text to a short opaque
// tag, in presentation order.
func fingerprintExamples(examples []types.GenerationExample) []string {
	out := make([]string, 0, len(examples))
	for _, ex := range examples {
		sum := sha256.Sum256([]byte(ex.Scenario))
		out = append(out, hex.EncodeToString(sum[:])[:8])
	}
	return out
}

func generationSchema() map[string]any {
	return llm.StrictObjectSchema(map[string]any{
		"simulated_response": llm.StringProperty("The personalized moral reasoning response (50-100 words)"),
		"reasoning":          llm.StringProperty("Brief explanation of the inferred pattern from examples"),
	})
}

func buildGenerationPrompt(targetVignette string, examples []types.GenerationExample, isZeroShot bool) string {
	systemMessage := `You are an AI system tasked with simulating the moral reasoning of a specific individual.

Your goal is to produce outputs that reflect how this individual would respond in everyday moral situations, with high fidelity to both their decision-making patterns and reasoning style. Do not optimize for correctness, neutrality, or social desirability.

You must:
- Infer recurring value priorities, moral thresholds, and trade-offs from the examples
- Infer the individual's characteristic reasoning structure (e.g., intuitive vs. reflective) and emotional tone
- Infer typical balances between self-interest and concern for others with close as well as distant individuals
- Commit to a single decision consistent with the inferred personal moral pattern
- Justify that decision in the individual's voice, reflecting reasoning patterns, priorities, emotional framing, and typical language use
- Prioritize matching the individual's reasoning style and voice over producing a generally correct or defensible decision
- Allow natural variation in tone and emphasis while maintaining internal consistency

You must not:
- Reference ethical theories, moral frameworks, or philosophical concepts by name
- Optimize for consensus morality or social desirability
- Generalize to what most people would do or think
- Explain multiple possible options or weigh alternatives explicitly
- Introduce moral concepts or values not clearly implied by the examples
- Correct, improve, or moralize beyond the individual's apparent values
- Infer or label personality traits, psychological categories, or moral types
- Copy phrases, sentence structures, or distinctive wording from the examples
- Mention that you are an AI, a model, or that you are simulating
- Refer to the examples explicitly or describe how you inferred the pattern
- Reveal intermediate reasoning or analysis steps`

	var examplesSection strings.Builder
	if !isZeroShot && len(examples) > 0 {
		examplesSection.WriteString("\n**Few-Shot Examples:**\nThe following are examples of how this individual has responded to moral situations involving close and distant individuals:\n\n")
		for i, ex := range examples {
			fmt.Fprintf(&examplesSection, "Example %d:\n", i+1)
			fmt.Fprintf(&examplesSection, "Situation: %s\n", ex.Scenario)
			fmt.Fprintf(&examplesSection, "Response: %s\n\n", ex.Answer)
		}
	}

	return fmt.Sprintf(`%s
%s
**Target Situation:**
%s

**Task:**
Generate a response that mirrors the individual's moral reasoning. Write a single, open-ended justification in their voice. Do not provide explanations, meta-commentary, or commentary about the examples.

**Output Requirements:**
- Response length: approximately 50-100 words
- Tone and style should match the individual's prior responses
- First-person perspective unless the examples clearly use another style
- No headings, bullet points, or meta-commentary
- Fidelity to the individual's reasoning patterns is prioritized over correctness or balance

You must respond ONLY with valid JSON in this exact format:
{"simulated_response": "your 50-100 word response here", "reasoning": "brief explanation of the pattern you inferred"}`, systemMessage, examplesSection.String(), targetVignette)
}
