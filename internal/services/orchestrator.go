package services

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/morallab/moralsim-backend/internal/apierr"
	"github.com/morallab/moralsim-backend/internal/clients/redis"
	"github.com/morallab/moralsim-backend/internal/llm"
	"github.com/morallab/moralsim-backend/internal/logger"
	"github.com/morallab/moralsim-backend/internal/repos"
	"github.com/morallab/moralsim-backend/internal/types"
	"github.com/morallab/moralsim-backend/internal/utils"
)

const (
	phase1ResponseTarget = 10
	minResponseWords     = 50
	maxResponseWords     = 100
	minScore             = 1
	maxScore             = 7
)

type DemographicsInput struct {
	Nationality string `json:"nationality"`
	Age         int    `json:"age"`
	Gender      string `json:"gender"`
}

// Phase1View is what the client needs to render the current phase-1 step.
type Phase1View struct {
	Vignette *types.Vignette      `json:"vignette"`
	Current  int                  `json:"current"`
	Total    int                  `json:"total"`
	Draft    *redis.RejectedDraft `json:"draft,omitempty"`
	Done     bool                 `json:"done"`
}

// SubmitOutcome reports whether a phase-1 answer was accepted. Rejected
// text is returned with feedback but never persisted as study data.
type SubmitOutcome struct {
	Accepted      bool   `json:"accepted"`
	WordCount     int    `json:"word_count"`
	Feedback      string `json:"feedback,omitempty"`
	ResponseOrder int    `json:"response_order,omitempty"`
	PhaseComplete bool   `json:"phase_complete"`
}

type Phase3View struct {
	Status     string               `json:"status"` // waiting | evaluating | all_evaluated
	Generated  int                  `json:"generated"`
	Expected   int                  `json:"expected"`
	Generation *types.LLMGeneration `json:"generation,omitempty"`
	Vignette   *types.Vignette      `json:"vignette,omitempty"`
	Current    int                  `json:"current,omitempty"`
	Total      int                  `json:"total,omitempty"`
}

// Orchestrator owns the study state machine. Every operation re-derives
// the participant's position from stored counts and flags; nothing
// client-supplied moves the phase pointer.
type Orchestrator interface {
	Register(ctx context.Context, anonymousID string, input DemographicsInput) (*types.Participant, error)
	Phase1(ctx context.Context, participant *types.Participant) (*Phase1View, error)
	SubmitResponse(ctx context.Context, participant *types.Participant, vignetteID uuid.UUID, text string) (*SubmitOutcome, error)
	CompletePhase1(ctx context.Context, participant *types.Participant) error
	Phase3(ctx context.Context, participant *types.Participant) (*Phase3View, error)
	SubmitEvaluation(ctx context.Context, participant *types.Participant, generationID uuid.UUID, agreement, authenticity int) (*Phase3View, error)
	Complete(ctx context.Context, participant *types.Participant) (*types.Participant, error)
}

type orchestrator struct {
	log             *logger.Logger
	survey          SurveyService
	validation      ValidationService
	stash           redis.DraftStash
	participantRepo repos.ParticipantRepo
	vignetteRepo    repos.VignetteRepo
	responseRepo    repos.ResponseRepo
	generationRepo  repos.GenerationRepo
	evaluationRepo  repos.EvaluationRepo
	jobRepo         repos.GenerationJobRepo
}

func NewOrchestrator(
	log *logger.Logger,
	survey SurveyService,
	validation ValidationService,
	stash redis.DraftStash,
	participantRepo repos.ParticipantRepo,
	vignetteRepo repos.VignetteRepo,
	responseRepo repos.ResponseRepo,
	generationRepo repos.GenerationRepo,
	evaluationRepo repos.EvaluationRepo,
	jobRepo repos.GenerationJobRepo,
) Orchestrator {
	return &orchestrator{
		log:             log.With("service", "Orchestrator"),
		survey:          survey,
		validation:      validation,
		stash:           stash,
		participantRepo: participantRepo,
		vignetteRepo:    vignetteRepo,
		responseRepo:    responseRepo,
		generationRepo:  generationRepo,
		evaluationRepo:  evaluationRepo,
		jobRepo:         jobRepo,
	}
}

// Register creates the participant row once consent and demographics are
// in. Re-registration under an existing anonymous id returns the existing
// row unchanged so a replayed form cannot fork a session.
func (o *orchestrator) Register(ctx context.Context, anonymousID string, input DemographicsInput) (*types.Participant, error) {
	existing, err := o.participantRepo.GetByAnonymousID(ctx, nil, anonymousID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	now := time.Now()
	participant := &types.Participant{
		AnonymousID:  anonymousID,
		Nationality:  input.Nationality,
		Age:          input.Age,
		Gender:       input.Gender,
		ConsentGiven: true,
		ConsentDate:  &now,
		CurrentPhase: types.PhaseOne,
	}
	created, err := o.participantRepo.Create(ctx, nil, participant)
	if err != nil {
		return nil, err
	}
	o.log.Info("participant registered", "participant_id", created.ID.String())
	return created, nil
}

// Phase1 fixes (or replays) the participant's vignette order and returns
// the next unanswered one, along with any stashed rejected draft.
func (o *orchestrator) Phase1(ctx context.Context, participant *types.Participant) (*Phase1View, error) {
	ordered, err := o.survey.SelectForPhase1(ctx, nil, participant)
	if err != nil {
		return nil, err
	}
	count, err := o.responseRepo.CountByParticipant(ctx, nil, participant.ID)
	if err != nil {
		return nil, err
	}
	if int(count) >= len(ordered) {
		return &Phase1View{Current: len(ordered), Total: len(ordered), Done: true}, nil
	}

	next := ordered[count]
	draft, err := o.stash.Get(ctx, participant.ID, next.ID)
	if err != nil {
		// A lost draft is recoverable by retyping; don't fail the view.
		o.log.Warn("draft stash read failed", "error", err.Error())
		draft = nil
	}
	return &Phase1View{
		Vignette: next,
		Current:  int(count) + 1,
		Total:    len(ordered),
		Draft:    draft,
	}, nil
}

// SubmitResponse runs the acceptance pipeline for one phase-1 answer:
// position check, word-count gate, then the quality judge. The judge is
// never called for answers outside the word budget.
func (o *orchestrator) SubmitResponse(ctx context.Context, participant *types.Participant, vignetteID uuid.UUID, text string) (*SubmitOutcome, error) {
	ordered, err := o.survey.SelectForPhase1(ctx, nil, participant)
	if err != nil {
		return nil, err
	}
	count, err := o.responseRepo.CountByParticipant(ctx, nil, participant.ID)
	if err != nil {
		return nil, err
	}
	if int(count) >= len(ordered) {
		return nil, apierr.New(http.StatusConflict, apierr.CodePhaseConflict, fmt.Errorf("all phase 1 responses already recorded"))
	}
	expected := ordered[count]
	if expected.ID != vignetteID {
		return nil, apierr.New(http.StatusConflict, apierr.CodePhaseConflict, fmt.Errorf("response submitted out of order"))
	}

	wc := utils.WordCount(text)
	if wc < minResponseWords || wc > maxResponseWords {
		return nil, apierr.New(http.StatusUnprocessableEntity, apierr.CodeWordCount,
			fmt.Errorf("your response must be between %d and %d words (currently %d words)", minResponseWords, maxResponseWords, wc))
	}

	result, err := o.validation.ValidateResponse(ctx, expected.Content, text)
	if err != nil {
		return nil, mapLLMError(err)
	}

	if !result.IsValid {
		draft := redis.RejectedDraft{
			VignetteID: vignetteID,
			Text:       text,
			Feedback:   result.Feedback,
			RejectedAt: time.Now(),
		}
		if sErr := o.stash.Put(ctx, participant.ID, draft); sErr != nil {
			o.log.Warn("draft stash write failed", "error", sErr.Error())
		}
		return &SubmitOutcome{
			Accepted:  false,
			WordCount: wc,
			Feedback:  result.Feedback,
		}, nil
	}

	response := &types.ParticipantResponse{
		ParticipantID:      participant.ID,
		VignetteID:         vignetteID,
		ResponseText:       text,
		WordCount:          wc,
		Validated:          true,
		ValidationFeedback: result.Feedback,
		ResponseOrder:      int(count) + 1,
		SubmittedAt:        time.Now(),
	}
	if _, err := o.responseRepo.Create(ctx, nil, response); err != nil {
		return nil, err
	}
	if dErr := o.stash.Delete(ctx, participant.ID, vignetteID); dErr != nil {
		o.log.Warn("draft stash delete failed", "error", dErr.Error())
	}

	return &SubmitOutcome{
		Accepted:      true,
		WordCount:     wc,
		ResponseOrder: response.ResponseOrder,
		PhaseComplete: response.ResponseOrder >= phase1ResponseTarget,
	}, nil
}

// CompletePhase1 flips the participant into generation, enqueues the
// simulation jobs, then moves them on to evaluation. The flip happens
// before dispatch so a crash mid-dispatch leaves a resumable state; a
// dispatch error rolls the phase back so the participant can retry.
func (o *orchestrator) CompletePhase1(ctx context.Context, participant *types.Participant) error {
	switch participant.CurrentPhase {
	case types.PhaseThree, types.PhaseCompleted:
		return nil
	case types.PhaseOne, types.PhaseTwoGenerating:
	default:
		return apierr.New(http.StatusConflict, apierr.CodePhaseConflict, fmt.Errorf("phase 1 is not active"))
	}

	count, err := o.responseRepo.CountByParticipant(ctx, nil, participant.ID)
	if err != nil {
		return err
	}
	if count < phase1ResponseTarget {
		return apierr.New(http.StatusConflict, apierr.CodePhaseConflict,
			fmt.Errorf("phase 1 incomplete: %d of %d responses", count, phase1ResponseTarget))
	}

	if err := o.setPhase(ctx, participant, types.PhaseTwoGenerating); err != nil {
		return err
	}

	if err := o.dispatchGenerationJobs(ctx, participant); err != nil {
		o.log.Error("generation dispatch failed", "participant_id", participant.ID.String(), "error", err.Error())
		if rbErr := o.setPhase(ctx, participant, types.PhaseOne); rbErr != nil {
			o.log.Error("phase rollback failed", "participant_id", participant.ID.String(), "error", rbErr.Error())
		}
		return apierr.DispatchFailure(fmt.Errorf("could not start response generation: %w", err))
	}

	return o.setPhase(ctx, participant, types.PhaseThree)
}

func (o *orchestrator) dispatchGenerationJobs(ctx context.Context, participant *types.Participant) error {
	alloc, err := o.survey.SelectForPhase2(ctx, nil, participant)
	if err != nil {
		return err
	}
	examples, err := o.fewShotExamples(ctx, participant)
	if err != nil {
		return err
	}

	var jobs []*types.GenerationJob
	appendJobs := func(vignettes []*types.Vignette, zeroShot bool) error {
		for _, v := range vignettes {
			payload := types.GenerationPayload{
				ParticipantID: participant.ID,
				VignetteID:    v.ID,
				IsZeroShot:    zeroShot,
			}
			if !zeroShot {
				payload.FewShotExamples = examples
			}
			raw, mErr := json.Marshal(payload)
			if mErr != nil {
				return fmt.Errorf("marshal job payload: %w", mErr)
			}
			jobs = append(jobs, &types.GenerationJob{
				ParticipantID: participant.ID,
				VignetteID:    v.ID,
				IsZeroShot:    zeroShot,
				Payload:       raw,
				Status:        types.JobStatusQueued,
			})
		}
		return nil
	}
	if err := appendJobs(alloc.FewShot, false); err != nil {
		return err
	}
	if err := appendJobs(alloc.ZeroShot, true); err != nil {
		return err
	}
	if len(jobs) == 0 {
		return fmt.Errorf("no unused vignettes left to simulate")
	}

	if err := o.jobRepo.Enqueue(ctx, nil, jobs); err != nil {
		return err
	}
	o.log.Info("generation jobs dispatched",
		"participant_id", participant.ID.String(),
		"few_shot", len(alloc.FewShot),
		"zero_shot", len(alloc.ZeroShot))
	return nil
}

// fewShotExamples pairs each validated phase-1 answer with its scenario
// text, in response order.
func (o *orchestrator) fewShotExamples(ctx context.Context, participant *types.Participant) ([]types.GenerationExample, error) {
	responses, err := o.responseRepo.GetValidatedByParticipant(ctx, nil, participant.ID)
	if err != nil {
		return nil, err
	}
	ids := make([]uuid.UUID, 0, len(responses))
	for _, r := range responses {
		ids = append(ids, r.VignetteID)
	}
	vignettes, err := o.vignetteRepo.GetByIDs(ctx, nil, ids)
	if err != nil {
		return nil, err
	}
	contentByID := make(map[uuid.UUID]string, len(vignettes))
	for _, v := range vignettes {
		contentByID[v.ID] = v.Content
	}

	examples := make([]types.GenerationExample, 0, len(responses))
	for _, r := range responses {
		content, ok := contentByID[r.VignetteID]
		if !ok {
			return nil, fmt.Errorf("vignette %s missing for validated response", r.VignetteID)
		}
		examples = append(examples, types.GenerationExample{
			Scenario: content,
			Answer:   r.ResponseText,
		})
	}
	return examples, nil
}

// Phase3 resolves the evaluation view: waiting while generations trickle
// in, the next unrated generation once all jobs have landed, and the
// terminal view when every generation has a rating.
func (o *orchestrator) Phase3(ctx context.Context, participant *types.Participant) (*Phase3View, error) {
	expected, err := o.jobRepo.CountByParticipant(ctx, nil, participant.ID)
	if err != nil {
		return nil, err
	}
	generations, err := o.generationRepo.GetByParticipant(ctx, nil, participant.ID)
	if err != nil {
		return nil, err
	}
	if expected == 0 {
		return nil, apierr.New(http.StatusConflict, apierr.CodePhaseConflict, fmt.Errorf("generation has not been dispatched"))
	}
	if int64(len(generations)) < expected {
		return &Phase3View{
			Status:    "waiting",
			Generated: len(generations),
			Expected:  int(expected),
		}, nil
	}

	evaluatedIDs, err := o.evaluationRepo.EvaluatedGenerationIDs(ctx, nil, participant.ID)
	if err != nil {
		return nil, err
	}
	evaluated := make(map[uuid.UUID]struct{}, len(evaluatedIDs))
	for _, id := range evaluatedIDs {
		evaluated[id] = struct{}{}
	}

	ordered := o.survey.EvaluationOrder(participant, generations)
	for _, gen := range ordered {
		if _, done := evaluated[gen.ID]; done {
			continue
		}
		vignettes, vErr := o.vignetteRepo.GetByIDs(ctx, nil, []uuid.UUID{gen.VignetteID})
		if vErr != nil {
			return nil, vErr
		}
		if len(vignettes) == 0 {
			return nil, fmt.Errorf("vignette %s missing for generation %s", gen.VignetteID, gen.ID)
		}
		return &Phase3View{
			Status:     "evaluating",
			Generated:  len(generations),
			Expected:   int(expected),
			Generation: gen,
			Vignette:   vignettes[0],
			Current:    len(evaluated) + 1,
			Total:      len(ordered),
		}, nil
	}

	return &Phase3View{
		Status:    "all_evaluated",
		Generated: len(generations),
		Expected:  int(expected),
		Total:     len(ordered),
	}, nil
}

// SubmitEvaluation records one rating and returns the refreshed view. A
// repeat submission for the same generation is absorbed by the unique
// index and does not advance the presentation counter twice.
func (o *orchestrator) SubmitEvaluation(ctx context.Context, participant *types.Participant, generationID uuid.UUID, agreement, authenticity int) (*Phase3View, error) {
	if agreement < minScore || agreement > maxScore || authenticity < minScore || authenticity > maxScore {
		return nil, apierr.New(http.StatusUnprocessableEntity, apierr.CodeValidationRejected,
			fmt.Errorf("scores must be between %d and %d", minScore, maxScore))
	}

	gen, err := o.generationRepo.GetByID(ctx, nil, generationID)
	if err != nil {
		return nil, err
	}
	if gen == nil || gen.ParticipantID != participant.ID {
		return nil, apierr.NotFound(fmt.Errorf("generation %s not found for participant", generationID))
	}

	count, err := o.evaluationRepo.CountByParticipant(ctx, nil, participant.ID)
	if err != nil {
		return nil, err
	}
	evaluation := &types.Evaluation{
		ParticipantID:     participant.ID,
		GenerationID:      generationID,
		AgreementScore:    agreement,
		AuthenticityScore: authenticity,
		PresentationOrder: int(count) + 1,
		EvaluatedAt:       time.Now(),
	}
	if _, err := o.evaluationRepo.CreateIfAbsent(ctx, nil, evaluation); err != nil {
		return nil, err
	}

	return o.Phase3(ctx, participant)
}

// Complete is terminal: it stamps completed_at exactly once and marks the
// phase completed. Later calls return the stored record untouched. The
// stamp requires every generated response to have a rating, so a
// participant cannot jump to the exit from an earlier phase.
func (o *orchestrator) Complete(ctx context.Context, participant *types.Participant) (*types.Participant, error) {
	if participant.CurrentPhase != types.PhaseCompleted {
		generated, err := o.generationRepo.CountByParticipant(ctx, nil, participant.ID)
		if err != nil {
			return nil, err
		}
		evaluated, err := o.evaluationRepo.CountByParticipant(ctx, nil, participant.ID)
		if err != nil {
			return nil, err
		}
		if generated == 0 || evaluated < generated {
			return nil, apierr.New(http.StatusConflict, apierr.CodePhaseConflict,
				fmt.Errorf("evaluations incomplete: %d of %d rated", evaluated, generated))
		}
	}

	updates := map[string]interface{}{"current_phase": types.PhaseCompleted}
	if participant.CompletedAt == nil {
		now := time.Now()
		updates["completed_at"] = now
		participant.CompletedAt = &now
	}
	if err := o.participantRepo.UpdateFields(ctx, nil, participant.ID, updates); err != nil {
		return nil, err
	}
	participant.CurrentPhase = types.PhaseCompleted
	o.log.Info("participant completed study", "participant_id", participant.ID.String())
	return participant, nil
}

func (o *orchestrator) setPhase(ctx context.Context, participant *types.Participant, phase string) error {
	if err := o.participantRepo.UpdateFields(ctx, nil, participant.ID, map[string]interface{}{"current_phase": phase}); err != nil {
		return err
	}
	participant.CurrentPhase = phase
	return nil
}

// mapLLMError folds the client's typed failures into API errors the
// handlers can surface directly.
func mapLLMError(err error) error {
	switch {
	case llm.IsRateLimited(err):
		return apierr.RateLimited(err)
	case llm.IsMalformedOutput(err):
		return apierr.New(http.StatusBadGateway, apierr.CodeMalformedOutput, err)
	case llm.IsInvalidUpstreamResponse(err):
		return apierr.New(http.StatusBadGateway, apierr.CodeInvalidUpstreamResponse, err)
	default:
		return err
	}
}
