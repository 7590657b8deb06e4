package jobs

import (
	"context"
	"testing"
	"time"

	"github.com/morallab/moralsim-backend/internal/repos"
	"github.com/morallab/moralsim-backend/internal/types"
)

type slowHandler struct {
	d time.Duration
}

func (h slowHandler) Run(_ context.Context, _ *types.GenerationJob) error {
	time.Sleep(h.d)
	return nil
}

func TestRunOneHeartbeatsWhileHandlerBlocks(t *testing.T) {
	db := newTestDB(t)
	log := newTestLogger(t)
	repo := repos.NewGenerationJobRepo(db, log)
	makeJob(t, db, true)
	ctx := context.Background()

	claimed, err := repo.ClaimNextRunnable(ctx, db, 5, 0, time.Minute)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if claimed == nil || claimed.HeartbeatAt == nil {
		t.Fatalf("claimed = %+v", claimed)
	}
	claimStamp := *claimed.HeartbeatAt

	w := &Worker{
		db:             db,
		log:            log,
		repo:           repo,
		handler:        slowHandler{d: 80 * time.Millisecond},
		heartbeatEvery: 10 * time.Millisecond,
	}
	w.runOne(ctx, claimed)

	var stored types.GenerationJob
	if err := db.First(&stored, "id = ?", claimed.ID).Error; err != nil {
		t.Fatalf("reload job: %v", err)
	}
	if stored.Status != types.JobStatusSucceeded {
		t.Fatalf("status = %s, want %s", stored.Status, types.JobStatusSucceeded)
	}
	if stored.HeartbeatAt == nil || !stored.HeartbeatAt.After(claimStamp) {
		t.Fatalf("heartbeat_at = %v, never advanced past claim stamp %v", stored.HeartbeatAt, claimStamp)
	}
}

func TestHeartbeatLoopStopsWithHandler(t *testing.T) {
	db := newTestDB(t)
	log := newTestLogger(t)
	repo := repos.NewGenerationJobRepo(db, log)
	makeJob(t, db, true)
	ctx := context.Background()

	claimed, err := repo.ClaimNextRunnable(ctx, db, 5, 0, time.Minute)
	if err != nil || claimed == nil {
		t.Fatalf("claim: %v %v", claimed, err)
	}

	w := &Worker{
		db:             db,
		log:            log,
		repo:           repo,
		handler:        slowHandler{},
		heartbeatEvery: 5 * time.Millisecond,
	}
	w.runOne(ctx, claimed)

	var stored types.GenerationJob
	if err := db.First(&stored, "id = ?", claimed.ID).Error; err != nil {
		t.Fatalf("reload job: %v", err)
	}
	settled := stored.HeartbeatAt

	// The succeeded row must not keep collecting heartbeats: the repo only
	// touches running jobs and runOne cancels the loop on return.
	time.Sleep(25 * time.Millisecond)
	if err := db.First(&stored, "id = ?", claimed.ID).Error; err != nil {
		t.Fatalf("second reload: %v", err)
	}
	if settled != nil && stored.HeartbeatAt != nil && !stored.HeartbeatAt.Equal(*settled) {
		t.Fatalf("heartbeat_at moved after completion: %v vs %v", stored.HeartbeatAt, settled)
	}
}
