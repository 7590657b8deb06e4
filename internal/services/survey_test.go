package services

import (
	"context"
	"testing"

	"github.com/google/uuid"

	"github.com/morallab/moralsim-backend/internal/repos"
	"github.com/morallab/moralsim-backend/internal/types"
)

func newSurveyFixture(t *testing.T) (SurveyService, repos.ParticipantRepo, *types.Participant) {
	t.Helper()
	db := newTestDB(t)
	log := newTestLogger(t)
	seedVignettes(t, db, 12, 12)
	participantRepo := repos.NewParticipantRepo(db, log)
	responseRepo := repos.NewResponseRepo(db, log)
	vignetteRepo := repos.NewVignetteRepo(db, log)
	svc := NewSurveyServiceWithRNG(log, participantRepo, vignetteRepo, responseRepo, fixedRNG(7))
	participant := createParticipant(t, db, log, types.PhaseOne)
	return svc, participantRepo, participant
}

func TestSelectForPhase1CountsAndMix(t *testing.T) {
	svc, _, participant := newSurveyFixture(t)

	selected, err := svc.SelectForPhase1(context.Background(), nil, participant)
	if err != nil {
		t.Fatalf("SelectForPhase1: %v", err)
	}
	if len(selected) != 10 {
		t.Fatalf("got %d vignettes, want 10", len(selected))
	}
	var close, distant int
	for _, v := range selected {
		switch v.SocialProximity {
		case types.ProximityClose:
			close++
		case types.ProximityDistant:
			distant++
		}
	}
	if close != 5 || distant != 5 {
		t.Fatalf("got %d close / %d distant, want 5/5", close, distant)
	}
	if len(participant.Phase1VignetteIDs) != 10 {
		t.Fatalf("allocation not persisted on participant: %d ids", len(participant.Phase1VignetteIDs))
	}
}

func TestSelectForPhase1OrderIsFixed(t *testing.T) {
	svc, participantRepo, participant := newSurveyFixture(t)
	ctx := context.Background()

	first, err := svc.SelectForPhase1(ctx, nil, participant)
	if err != nil {
		t.Fatalf("first call: %v", err)
	}

	// Reload from the store to prove the order survives outside memory.
	reloaded, err := participantRepo.GetByID(ctx, nil, participant.ID)
	if err != nil {
		t.Fatalf("reload participant: %v", err)
	}
	second, err := svc.SelectForPhase1(ctx, nil, reloaded)
	if err != nil {
		t.Fatalf("second call: %v", err)
	}

	if len(first) != len(second) {
		t.Fatalf("lengths differ: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if first[i].ID != second[i].ID {
			t.Fatalf("order changed at position %d: %s vs %s", i, first[i].ID, second[i].ID)
		}
	}
}

func TestSelectForPhase2DisjointFromPhase1(t *testing.T) {
	svc, _, participant := newSurveyFixture(t)
	ctx := context.Background()

	phase1, err := svc.SelectForPhase1(ctx, nil, participant)
	if err != nil {
		t.Fatalf("SelectForPhase1: %v", err)
	}
	alloc, err := svc.SelectForPhase2(ctx, nil, participant)
	if err != nil {
		t.Fatalf("SelectForPhase2: %v", err)
	}

	used := make(map[uuid.UUID]struct{}, len(phase1))
	for _, v := range phase1 {
		used[v.ID] = struct{}{}
	}
	for _, v := range append(alloc.FewShot, alloc.ZeroShot...) {
		if _, clash := used[v.ID]; clash {
			t.Fatalf("vignette %s appears in both phases", v.ID)
		}
	}
}

func TestSelectForPhase2SplitShape(t *testing.T) {
	svc, _, participant := newSurveyFixture(t)
	ctx := context.Background()

	if _, err := svc.SelectForPhase1(ctx, nil, participant); err != nil {
		t.Fatalf("SelectForPhase1: %v", err)
	}
	alloc, err := svc.SelectForPhase2(ctx, nil, participant)
	if err != nil {
		t.Fatalf("SelectForPhase2: %v", err)
	}

	// 12 seeded per category, 5 used in phase 1, so 6 of the remaining 7
	// get picked and each category splits 3/3.
	if len(alloc.FewShot) != 6 || len(alloc.ZeroShot) != 6 {
		t.Fatalf("got %d few-shot / %d zero-shot, want 6/6", len(alloc.FewShot), len(alloc.ZeroShot))
	}
	counts := map[string]map[string]int{
		"few":  {types.ProximityClose: 0, types.ProximityDistant: 0},
		"zero": {types.ProximityClose: 0, types.ProximityDistant: 0},
	}
	for _, v := range alloc.FewShot {
		counts["few"][v.SocialProximity]++
	}
	for _, v := range alloc.ZeroShot {
		counts["zero"][v.SocialProximity]++
	}
	for kind, byProx := range counts {
		for prox, n := range byProx {
			if n != 3 {
				t.Fatalf("%s-shot %s count = %d, want 3", kind, prox, n)
			}
		}
	}
}

func TestSelectForPhase2ShorterSubset(t *testing.T) {
	db := newTestDB(t)
	log := newTestLogger(t)
	// Only 9 close vignettes: 5 go to phase 1, 4 remain for phase 2.
	seedVignettes(t, db, 9, 12)
	svc := NewSurveyServiceWithRNG(log,
		repos.NewParticipantRepo(db, log),
		repos.NewVignetteRepo(db, log),
		repos.NewResponseRepo(db, log),
		fixedRNG(3))
	participant := createParticipant(t, db, log, types.PhaseOne)
	ctx := context.Background()

	if _, err := svc.SelectForPhase1(ctx, nil, participant); err != nil {
		t.Fatalf("SelectForPhase1: %v", err)
	}
	alloc, err := svc.SelectForPhase2(ctx, nil, participant)
	if err != nil {
		t.Fatalf("SelectForPhase2: %v", err)
	}

	var closeTotal int
	for _, v := range append(alloc.FewShot, alloc.ZeroShot...) {
		if v.SocialProximity == types.ProximityClose {
			closeTotal++
		}
	}
	if closeTotal != 4 {
		t.Fatalf("close total = %d, want the 4 remaining", closeTotal)
	}
	// The first three candidates go few-shot, the remaining one zero-shot.
	var closeFew, closeZero int
	for _, v := range alloc.FewShot {
		if v.SocialProximity == types.ProximityClose {
			closeFew++
		}
	}
	for _, v := range alloc.ZeroShot {
		if v.SocialProximity == types.ProximityClose {
			closeZero++
		}
	}
	if closeFew != 3 || closeZero != 1 {
		t.Fatalf("close split = %d/%d, want 3/1", closeFew, closeZero)
	}
}

func TestSelectForPhase2DepletedCategoryYieldsNothing(t *testing.T) {
	db := newTestDB(t)
	log := newTestLogger(t)
	// Exactly 5 distant vignettes: phase 1 consumes them all, leaving the
	// distant side of phase 2 empty while close still has 7 unused.
	seedVignettes(t, db, 12, 5)
	svc := NewSurveyServiceWithRNG(log,
		repos.NewParticipantRepo(db, log),
		repos.NewVignetteRepo(db, log),
		repos.NewResponseRepo(db, log),
		fixedRNG(5))
	participant := createParticipant(t, db, log, types.PhaseOne)
	ctx := context.Background()

	if _, err := svc.SelectForPhase1(ctx, nil, participant); err != nil {
		t.Fatalf("SelectForPhase1: %v", err)
	}
	alloc, err := svc.SelectForPhase2(ctx, nil, participant)
	if err != nil {
		t.Fatalf("SelectForPhase2: %v", err)
	}

	for _, v := range append(alloc.FewShot, alloc.ZeroShot...) {
		if v.SocialProximity == types.ProximityDistant {
			t.Fatalf("got a distant vignette %s from an exhausted category", v.ID)
		}
	}
	if len(alloc.FewShot) != 3 || len(alloc.ZeroShot) != 3 {
		t.Fatalf("close-only allocation = %d/%d, want 3/3", len(alloc.FewShot), len(alloc.ZeroShot))
	}
}

func TestEvaluationOrderStableForParticipant(t *testing.T) {
	svc, _, participant := newSurveyFixture(t)

	generations := make([]*types.LLMGeneration, 0, 12)
	for i := 0; i < 12; i++ {
		generations = append(generations, &types.LLMGeneration{ID: uuid.New()})
	}

	first := svc.EvaluationOrder(participant, generations)
	second := svc.EvaluationOrder(participant, generations)
	if len(first) != 12 || len(second) != 12 {
		t.Fatalf("lengths: %d, %d", len(first), len(second))
	}
	for i := range first {
		if first[i].ID != second[i].ID {
			t.Fatalf("order differs at %d", i)
		}
	}
}
