package jobs

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/morallab/moralsim-backend/internal/logger"
	"github.com/morallab/moralsim-backend/internal/repos"
	"github.com/morallab/moralsim-backend/internal/services"
	"github.com/morallab/moralsim-backend/internal/types"
)

// GenerationHandler turns one queued job into one stored LLMGeneration.
// Delivery is at least once; the unique index on (participant, vignette)
// plus CreateIfAbsent make the write idempotent, so a redelivered job
// burns an API call at worst and never a duplicate row.
type GenerationHandler struct {
	db             *gorm.DB
	log            *logger.Logger
	generation     services.GenerationService
	vignetteRepo   repos.VignetteRepo
	generationRepo repos.GenerationRepo
}

func NewGenerationHandler(db *gorm.DB, baseLog *logger.Logger, generation services.GenerationService, vignetteRepo repos.VignetteRepo, generationRepo repos.GenerationRepo) *GenerationHandler {
	return &GenerationHandler{
		db:             db,
		log:            baseLog.With("component", "GenerationHandler"),
		generation:     generation,
		vignetteRepo:   vignetteRepo,
		generationRepo: generationRepo,
	}
}

func (h *GenerationHandler) Run(ctx context.Context, job *types.GenerationJob) error {
	var payload types.GenerationPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}

	existing, err := h.generationRepo.GetByParticipantAndVignette(ctx, h.db, payload.ParticipantID, payload.VignetteID)
	if err != nil {
		return err
	}
	if existing != nil {
		h.log.Info("generation already exists, skipping",
			"participant_id", payload.ParticipantID.String(),
			"vignette_id", payload.VignetteID.String())
		return nil
	}

	vignettes, err := h.vignetteRepo.GetByIDs(ctx, h.db, []uuid.UUID{payload.VignetteID})
	if err != nil {
		return err
	}
	if len(vignettes) == 0 {
		return fmt.Errorf("vignette %s not found", payload.VignetteID)
	}
	target := vignettes[0]

	result, err := h.generation.Generate(ctx, target.Content, payload.FewShotExamples, payload.IsZeroShot)
	if err != nil {
		return fmt.Errorf("generate response: %w", err)
	}

	generation := &types.LLMGeneration{
		ParticipantID:     payload.ParticipantID,
		VignetteID:        payload.VignetteID,
		SimulatedResponse: result.SimulatedResponse,
		Reasoning:         result.Reasoning,
		IsZeroShot:        payload.IsZeroShot,
		Temperature:       result.Temperature,
		ExampleOrder:      datatypes.NewJSONSlice(result.ExampleOrder),
		ModelVersion:      result.ModelVersion,
	}
	created, err := h.generationRepo.CreateIfAbsent(ctx, h.db, generation)
	if err != nil {
		return err
	}
	if !created {
		h.log.Info("generation raced with a duplicate, kept first write",
			"participant_id", payload.ParticipantID.String(),
			"vignette_id", payload.VignetteID.String())
	}
	return nil
}
