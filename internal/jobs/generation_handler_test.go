package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/google/uuid"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/morallab/moralsim-backend/internal/logger"
	"github.com/morallab/moralsim-backend/internal/repos"
	"github.com/morallab/moralsim-backend/internal/services"
	"github.com/morallab/moralsim-backend/internal/types"
)

var testDBSeq int64

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:jobstest%d?mode=memory&cache=shared", atomic.AddInt64(&testDBSeq, 1))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	err = db.AutoMigrate(
		&types.Vignette{},
		&types.LLMGeneration{},
		&types.GenerationJob{},
	)
	if err != nil {
		t.Fatalf("migrate test db: %v", err)
	}
	return db
}

func newTestLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New("development")
	if err != nil {
		t.Fatalf("init logger: %v", err)
	}
	return log
}

type fakeGeneration struct {
	calls int
	err   error
}

func (f *fakeGeneration) Generate(_ context.Context, _ string, examples []types.GenerationExample, isZeroShot bool) (*services.GenerationResult, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	result := &services.GenerationResult{
		SimulatedResponse: "I would help because that is who I am.",
		Reasoning:         "inferred pattern",
		Temperature:       0.3,
		ModelVersion:      "test-model",
	}
	if !isZeroShot {
		for range examples {
			result.ExampleOrder = append(result.ExampleOrder, "deadbeef")
		}
	}
	return result, nil
}

func makeJob(t *testing.T, db *gorm.DB, zeroShot bool) (*types.GenerationJob, *types.Vignette) {
	t.Helper()
	vignette := &types.Vignette{Content: "a stranger drops their wallet", SocialProximity: types.ProximityDistant}
	if err := db.Create(vignette).Error; err != nil {
		t.Fatalf("create vignette: %v", err)
	}
	participant := uuid.New()
	payload := types.GenerationPayload{
		ParticipantID: participant,
		VignetteID:    vignette.ID,
		IsZeroShot:    zeroShot,
	}
	if !zeroShot {
		payload.FewShotExamples = []types.GenerationExample{{Scenario: "s", Answer: "a"}}
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	job := &types.GenerationJob{
		ParticipantID: participant,
		VignetteID:    vignette.ID,
		IsZeroShot:    zeroShot,
		Payload:       raw,
		Status:        types.JobStatusQueued,
	}
	if err := db.Create(job).Error; err != nil {
		t.Fatalf("create job: %v", err)
	}
	return job, vignette
}

func TestGenerationHandlerWritesOneRow(t *testing.T) {
	db := newTestDB(t)
	log := newTestLogger(t)
	gen := &fakeGeneration{}
	handler := NewGenerationHandler(db, log, gen, repos.NewVignetteRepo(db, log), repos.NewGenerationRepo(db, log))
	job, vignette := makeJob(t, db, false)

	if err := handler.Run(context.Background(), job); err != nil {
		t.Fatalf("Run: %v", err)
	}

	var stored []types.LLMGeneration
	if err := db.Find(&stored).Error; err != nil {
		t.Fatalf("load generations: %v", err)
	}
	if len(stored) != 1 {
		t.Fatalf("generations = %d, want 1", len(stored))
	}
	g := stored[0]
	if g.VignetteID != vignette.ID || g.IsZeroShot || g.Temperature != 0.3 || g.ModelVersion != "test-model" {
		t.Fatalf("stored = %+v", g)
	}
	if len(g.ExampleOrder) != 1 {
		t.Fatalf("example order = %v", g.ExampleOrder)
	}
}

func TestGenerationHandlerRedeliverySkipsAPICall(t *testing.T) {
	db := newTestDB(t)
	log := newTestLogger(t)
	gen := &fakeGeneration{}
	handler := NewGenerationHandler(db, log, gen, repos.NewVignetteRepo(db, log), repos.NewGenerationRepo(db, log))
	job, _ := makeJob(t, db, true)

	if err := handler.Run(context.Background(), job); err != nil {
		t.Fatalf("first run: %v", err)
	}
	if err := handler.Run(context.Background(), job); err != nil {
		t.Fatalf("second run: %v", err)
	}

	if gen.calls != 1 {
		t.Fatalf("generate calls = %d, want 1", gen.calls)
	}
	var count int64
	if err := db.Model(&types.LLMGeneration{}).Count(&count).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 1 {
		t.Fatalf("generations = %d, want 1", count)
	}
}

func TestGenerationHandlerPropagatesFailure(t *testing.T) {
	db := newTestDB(t)
	log := newTestLogger(t)
	gen := &fakeGeneration{err: errors.New("upstream down")}
	handler := NewGenerationHandler(db, log, gen, repos.NewVignetteRepo(db, log), repos.NewGenerationRepo(db, log))
	job, _ := makeJob(t, db, true)

	if err := handler.Run(context.Background(), job); err == nil {
		t.Fatal("expected error")
	}
	var count int64
	if err := db.Model(&types.LLMGeneration{}).Count(&count).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 0 {
		t.Fatalf("generations = %d, want 0", count)
	}
}
