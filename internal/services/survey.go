package services

import (
	"context"
	"encoding/binary"
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/morallab/moralsim-backend/internal/logger"
	"github.com/morallab/moralsim-backend/internal/repos"
	"github.com/morallab/moralsim-backend/internal/types"
)

const (
	phase1PerProximity  = 5
	phase2PerProximity  = 6
	fewShotPerProximity = 3
)

// Phase2Allocation splits the unused vignettes into those that receive
// pattern-conditioned generations and those generated cold.
type Phase2Allocation struct {
	FewShot  []*types.Vignette
	ZeroShot []*types.Vignette
}

// SurveyService owns vignette allocation: which scenarios a participant
// answers in phase 1, which get simulated in phase 2, and the order
// generations are presented for rating in phase 3.
type SurveyService interface {
	SelectForPhase1(ctx context.Context, tx *gorm.DB, participant *types.Participant) ([]*types.Vignette, error)
	SelectForPhase2(ctx context.Context, tx *gorm.DB, participant *types.Participant) (*Phase2Allocation, error)
	EvaluationOrder(participant *types.Participant, generations []*types.LLMGeneration) []*types.LLMGeneration
}

type surveyService struct {
	log             *logger.Logger
	participantRepo repos.ParticipantRepo
	vignetteRepo    repos.VignetteRepo
	responseRepo    repos.ResponseRepo
	newRNG          func() *rand.Rand
}

func NewSurveyService(log *logger.Logger, participantRepo repos.ParticipantRepo, vignetteRepo repos.VignetteRepo, responseRepo repos.ResponseRepo) SurveyService {
	return &surveyService{
		log:             log.With("service", "SurveyService"),
		participantRepo: participantRepo,
		vignetteRepo:    vignetteRepo,
		responseRepo:    responseRepo,
		newRNG:          func() *rand.Rand { return rand.New(rand.NewSource(time.Now().UnixNano())) },
	}
}

func NewSurveyServiceWithRNG(log *logger.Logger, participantRepo repos.ParticipantRepo, vignetteRepo repos.VignetteRepo, responseRepo repos.ResponseRepo, newRNG func() *rand.Rand) SurveyService {
	return &surveyService{
		log:             log.With("service", "SurveyService"),
		participantRepo: participantRepo,
		vignetteRepo:    vignetteRepo,
		responseRepo:    responseRepo,
		newRNG:          newRNG,
	}
}

// SelectForPhase1 returns the participant's ten phase-1 vignettes. The
// first call draws five close and five distant, shuffles them once, and
// persists the order on the participant; every later call replays the
// stored order exactly, so a resumed session sees the identical sequence.
func (s *surveyService) SelectForPhase1(ctx context.Context, tx *gorm.DB, participant *types.Participant) ([]*types.Vignette, error) {
	if len(participant.Phase1VignetteIDs) > 0 {
		return s.restoreOrder(ctx, tx, participant.Phase1VignetteIDs)
	}

	close, err := s.vignetteRepo.GetByProximity(ctx, tx, types.ProximityClose, nil, phase1PerProximity)
	if err != nil {
		return nil, err
	}
	distant, err := s.vignetteRepo.GetByProximity(ctx, tx, types.ProximityDistant, nil, phase1PerProximity)
	if err != nil {
		return nil, err
	}
	if len(close) < phase1PerProximity || len(distant) < phase1PerProximity {
		return nil, fmt.Errorf("insufficient vignettes for phase 1: %d close, %d distant", len(close), len(distant))
	}

	selected := append(close, distant...)
	rng := s.newRNG()
	rng.Shuffle(len(selected), func(i, j int) {
		selected[i], selected[j] = selected[j], selected[i]
	})

	ids := make(datatypes.JSONSlice[uuid.UUID], 0, len(selected))
	for _, v := range selected {
		ids = append(ids, v.ID)
	}
	if err := s.participantRepo.UpdateFields(ctx, tx, participant.ID, map[string]any{"phase1_vignette_ids": ids}); err != nil {
		return nil, err
	}
	participant.Phase1VignetteIDs = ids

	return selected, nil
}

func (s *surveyService) restoreOrder(ctx context.Context, tx *gorm.DB, ids []uuid.UUID) ([]*types.Vignette, error) {
	vignettes, err := s.vignetteRepo.GetByIDs(ctx, tx, ids)
	if err != nil {
		return nil, err
	}
	byID := make(map[uuid.UUID]*types.Vignette, len(vignettes))
	for _, v := range vignettes {
		byID[v.ID] = v
	}
	ordered := make([]*types.Vignette, 0, len(ids))
	for _, id := range ids {
		v, ok := byID[id]
		if !ok {
			return nil, fmt.Errorf("allocated vignette %s no longer exists", id)
		}
		ordered = append(ordered, v)
	}
	return ordered, nil
}

// SelectForPhase2 picks up to six unused vignettes per proximity category
// and splits each category positionally: the first three receive few-shot
// generations, the remainder zero-shot. A depleted category yields a
// shorter subset, down to nothing, and never backfills from the other
// category. The candidate query orders by id, so the split is stable for
// a given participant.
func (s *surveyService) SelectForPhase2(ctx context.Context, tx *gorm.DB, participant *types.Participant) (*Phase2Allocation, error) {
	used, err := s.responseRepo.UsedVignetteIDs(ctx, tx, participant.ID)
	if err != nil {
		return nil, err
	}
	for _, id := range participant.Phase1VignetteIDs {
		used = append(used, id)
	}

	alloc := &Phase2Allocation{}
	for _, proximity := range []string{types.ProximityClose, types.ProximityDistant} {
		candidates, err := s.vignetteRepo.GetByProximity(ctx, tx, proximity, used, phase2PerProximity)
		if err != nil {
			return nil, err
		}
		few := len(candidates)
		if few > fewShotPerProximity {
			few = fewShotPerProximity
		}
		alloc.FewShot = append(alloc.FewShot, candidates[:few]...)
		alloc.ZeroShot = append(alloc.ZeroShot, candidates[few:]...)
	}
	return alloc, nil
}

// EvaluationOrder shuffles the generations into the phase-3 presentation
// sequence. The shuffle is seeded from the participant id, so a resumed
// session walks the same sequence and the evaluated-set prefix stays valid.
func (s *surveyService) EvaluationOrder(participant *types.Participant, generations []*types.LLMGeneration) []*types.LLMGeneration {
	ordered := make([]*types.LLMGeneration, len(generations))
	copy(ordered, generations)
	seed := int64(binary.BigEndian.Uint64(participant.ID[:8]))
	rng := rand.New(rand.NewSource(seed))
	rng.Shuffle(len(ordered), func(i, j int) {
		ordered[i], ordered[j] = ordered[j], ordered[i]
	})
	return ordered
}
