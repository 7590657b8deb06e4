package repos

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/morallab/moralsim-backend/internal/logger"
	"github.com/morallab/moralsim-backend/internal/types"
)

type EvaluationRepo interface {
	// CreateIfAbsent enforces at most one evaluation per
	// (participant, generation). Returns true when a row was written.
	CreateIfAbsent(ctx context.Context, tx *gorm.DB, evaluation *types.Evaluation) (bool, error)
	CountByParticipant(ctx context.Context, tx *gorm.DB, participantID uuid.UUID) (int64, error)
	EvaluatedGenerationIDs(ctx context.Context, tx *gorm.DB, participantID uuid.UUID) ([]uuid.UUID, error)
}

type evaluationRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewEvaluationRepo(db *gorm.DB, baseLog *logger.Logger) EvaluationRepo {
	return &evaluationRepo{db: db, log: baseLog.With("repo", "EvaluationRepo")}
}

func (r *evaluationRepo) CreateIfAbsent(ctx context.Context, tx *gorm.DB, evaluation *types.Evaluation) (bool, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	result := transaction.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "participant_id"}, {Name: "generation_id"}},
			DoNothing: true,
		}).
		Create(evaluation)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *evaluationRepo) CountByParticipant(ctx context.Context, tx *gorm.DB, participantID uuid.UUID) (int64, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var count int64
	if err := transaction.WithContext(ctx).
		Model(&types.Evaluation{}).
		Where("participant_id = ?", participantID).
		Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

func (r *evaluationRepo) EvaluatedGenerationIDs(ctx context.Context, tx *gorm.DB, participantID uuid.UUID) ([]uuid.UUID, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var ids []uuid.UUID
	if participantID == uuid.Nil {
		return ids, nil
	}
	if err := transaction.WithContext(ctx).
		Model(&types.Evaluation{}).
		Where("participant_id = ?", participantID).
		Pluck("generation_id", &ids).Error; err != nil {
		return nil, err
	}
	return ids, nil
}
