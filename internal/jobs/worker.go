package jobs

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/morallab/moralsim-backend/internal/logger"
	"github.com/morallab/moralsim-backend/internal/repos"
	"github.com/morallab/moralsim-backend/internal/types"
	"github.com/morallab/moralsim-backend/internal/utils"
)

// Handler runs one claimed job to completion. A nil return marks the job
// succeeded; an error (or a panic) marks it failed and eligible for retry.
type Handler interface {
	Run(ctx context.Context, job *types.GenerationJob) error
}

type Worker struct {
	db          *gorm.DB
	log         *logger.Logger
	repo        repos.GenerationJobRepo
	handler     Handler
	concurrency int

	maxAttempts    int
	retryDelay     time.Duration
	staleRunning   time.Duration
	pollInterval   time.Duration
	heartbeatEvery time.Duration
}

func NewWorker(db *gorm.DB, baseLog *logger.Logger, repo repos.GenerationJobRepo, handler Handler) *Worker {
	log := baseLog.With("component", "JobWorker")
	return &Worker{
		db:             db,
		log:            log,
		repo:           repo,
		handler:        handler,
		concurrency:    utils.GetEnvAsInt("JOB_WORKER_CONCURRENCY", 3, log),
		maxAttempts:    utils.GetEnvAsInt("JOB_MAX_ATTEMPTS", 5, log),
		retryDelay:     30 * time.Second,
		staleRunning:   2 * time.Minute,
		pollInterval:   1 * time.Second,
		heartbeatEvery: 30 * time.Second,
	}
}

// Start launches the claim loops and returns immediately. Each loop polls
// the queue on a ticker; claims go through SKIP LOCKED so loops never
// double-run a job. Stops when ctx is cancelled.
func (w *Worker) Start(ctx context.Context) {
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < w.concurrency; i++ {
		g.Go(func() error {
			w.claimLoop(gctx)
			return nil
		})
	}
	go func() {
		_ = g.Wait()
		w.log.Info("job worker stopped")
	}()
}

func (w *Worker) claimLoop(ctx context.Context) {
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			job, err := w.repo.ClaimNextRunnable(ctx, w.db, w.maxAttempts, w.retryDelay, w.staleRunning)
			if err != nil {
				w.log.Warn("ClaimNextRunnable failed", "error", err.Error())
				continue
			}
			if job == nil {
				continue
			}
			w.runOne(ctx, job)
		}
	}
}

func (w *Worker) runOne(ctx context.Context, job *types.GenerationJob) {
	defer func() {
		if r := recover(); r != nil {
			w.log.Error("job handler panic", "job_id", job.ID.String(), "panic", fmt.Sprintf("%v", r))
			w.markFailed(ctx, job, fmt.Errorf("panic: %v", r))
		}
	}()

	// A slow upstream call can outlast the stale-running window, so the
	// heartbeat keeps the claim fresh while the handler works.
	hbCtx, stopHeartbeat := context.WithCancel(ctx)
	defer stopHeartbeat()
	go w.heartbeatLoop(hbCtx, job)

	if err := w.handler.Run(ctx, job); err != nil {
		w.log.Warn("job failed",
			"job_id", job.ID.String(),
			"participant_id", job.ParticipantID.String(),
			"attempts", job.Attempts,
			"error", err.Error())
		w.markFailed(ctx, job, err)
		return
	}
	w.markSucceeded(ctx, job)
}

func (w *Worker) heartbeatLoop(ctx context.Context, job *types.GenerationJob) {
	ticker := time.NewTicker(w.heartbeatEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.repo.Heartbeat(ctx, w.db, job.ID); err != nil {
				w.log.Warn("job heartbeat failed", "job_id", job.ID.String(), "error", err.Error())
			}
		}
	}
}

func (w *Worker) markSucceeded(ctx context.Context, job *types.GenerationJob) {
	err := w.repo.UpdateFields(ctx, w.db, job.ID, map[string]interface{}{
		"status":    types.JobStatusSucceeded,
		"locked_at": nil,
	})
	if err != nil {
		w.log.Error("failed to mark job succeeded", "job_id", job.ID.String(), "error", err.Error())
	}
}

func (w *Worker) markFailed(ctx context.Context, job *types.GenerationJob, cause error) {
	now := time.Now()
	err := w.repo.UpdateFields(ctx, w.db, job.ID, map[string]interface{}{
		"status":        types.JobStatusFailed,
		"last_error":    cause.Error(),
		"last_error_at": now,
		"locked_at":     nil,
	})
	if err != nil {
		w.log.Error("failed to mark job failed", "job_id", job.ID.String(), "error", err.Error())
	}
}
