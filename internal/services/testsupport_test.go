package services

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"sync/atomic"
	"testing"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/morallab/moralsim-backend/internal/llm"
	"github.com/morallab/moralsim-backend/internal/logger"
	"github.com/morallab/moralsim-backend/internal/repos"
	"github.com/morallab/moralsim-backend/internal/types"
)

var testDBSeq int64

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:servicestest%d?mode=memory&cache=shared", atomic.AddInt64(&testDBSeq, 1))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	err = db.AutoMigrate(
		&types.Participant{},
		&types.Vignette{},
		&types.ParticipantResponse{},
		&types.LLMGeneration{},
		&types.Evaluation{},
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

func fixedRNG(seed int64) func() *rand.Rand {
	return func() *rand.Rand { return rand.New(rand.NewSource(seed)) }
}

// seedVignettes inserts n close and n distant vignettes with predictable
// content.
func seedVignettes(t *testing.T, db *gorm.DB, nClose, nDistant int) {
	t.Helper()
	for i := 0; i < nClose; i++ {
		v := &types.Vignette{
			Content:         fmt.Sprintf("close scenario %d", i+1),
			SocialProximity: types.ProximityClose,
		}
		if err := db.Create(v).Error; err != nil {
			t.Fatalf("seed close vignette: %v", err)
		}
	}
	for i := 0; i < nDistant; i++ {
		v := &types.Vignette{
			Content:         fmt.Sprintf("distant scenario %d", i+1),
			SocialProximity: types.ProximityDistant,
		}
		if err := db.Create(v).Error; err != nil {
			t.Fatalf("seed distant vignette: %v", err)
		}
	}
}

func createParticipant(t *testing.T, db *gorm.DB, log *logger.Logger, phase string) *types.Participant {
	t.Helper()
	p := &types.Participant{
		AnonymousID:  fmt.Sprintf("anon-%d", rand.Int63()),
		ConsentGiven: true,
		CurrentPhase: phase,
	}
	created, err := repos.NewParticipantRepo(db, log).Create(context.Background(), nil, p)
	if err != nil {
		t.Fatalf("create participant: %v", err)
	}
	return created
}

// fakeLLMClient returns canned payloads and records every call.
type fakeLLMClient struct {
	calls   []fakeCall
	results []map[string]any
	err     error
}

type fakeCall struct {
	prompt      string
	temperature float64
	schemaName  string
}

func (f *fakeLLMClient) Call(_ context.Context, prompt string, temperature float64, schemaName string, _ map[string]any) (map[string]any, error) {
	f.calls = append(f.calls, fakeCall{prompt: prompt, temperature: temperature, schemaName: schemaName})
	if f.err != nil {
		return nil, f.err
	}
	if len(f.results) == 0 {
		return map[string]any{}, nil
	}
	result := f.results[0]
	if len(f.results) > 1 {
		f.results = f.results[1:]
	}
	return result, nil
}

func (f *fakeLLMClient) ModelVersion() string { return "test-model" }

var _ llm.Client = (*fakeLLMClient)(nil)

// fakeValidation is a judge with a scripted verdict that counts calls.
type fakeValidation struct {
	calls    int
	verdicts []ValidationResult
	err      error
}

func (f *fakeValidation) ValidateResponse(_ context.Context, _ string, _ string) (*ValidationResult, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	v := ValidationResult{IsValid: true, Feedback: "good"}
	if len(f.verdicts) > 0 {
		v = f.verdicts[0]
		if len(f.verdicts) > 1 {
			f.verdicts = f.verdicts[1:]
		}
	}
	return &v, nil
}

var _ ValidationService = (*fakeValidation)(nil)

// words builds a response of exactly n words.
func words(n int) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = fmt.Sprintf("word%d", i)
	}
	return strings.Join(parts, " ")
}
