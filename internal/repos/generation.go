package repos

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/morallab/moralsim-backend/internal/logger"
	"github.com/morallab/moralsim-backend/internal/types"
)

type GenerationRepo interface {
	// CreateIfAbsent writes the generation unless one already exists for
	// the same (participant, vignette). Returns true when a row was written.
	CreateIfAbsent(ctx context.Context, tx *gorm.DB, generation *types.LLMGeneration) (bool, error)
	GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.LLMGeneration, error)
	GetByParticipantAndVignette(ctx context.Context, tx *gorm.DB, participantID, vignetteID uuid.UUID) (*types.LLMGeneration, error)
	GetByParticipant(ctx context.Context, tx *gorm.DB, participantID uuid.UUID) ([]*types.LLMGeneration, error)
	CountByParticipant(ctx context.Context, tx *gorm.DB, participantID uuid.UUID) (int64, error)
}

type generationRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewGenerationRepo(db *gorm.DB, baseLog *logger.Logger) GenerationRepo {
	return &generationRepo{db: db, log: baseLog.With("repo", "GenerationRepo")}
}

func (r *generationRepo) CreateIfAbsent(ctx context.Context, tx *gorm.DB, generation *types.LLMGeneration) (bool, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	result := transaction.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "participant_id"}, {Name: "vignette_id"}},
			DoNothing: true,
		}).
		Create(generation)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *generationRepo) GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.LLMGeneration, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return nil, nil
	}
	var generation types.LLMGeneration
	err := transaction.WithContext(ctx).
		Where("id = ?", id).
		Limit(1).
		Find(&generation).Error
	if err != nil {
		return nil, err
	}
	if generation.ID == uuid.Nil {
		return nil, nil
	}
	return &generation, nil
}

func (r *generationRepo) GetByParticipantAndVignette(ctx context.Context, tx *gorm.DB, participantID, vignetteID uuid.UUID) (*types.LLMGeneration, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var generation types.LLMGeneration
	err := transaction.WithContext(ctx).
		Where("participant_id = ? AND vignette_id = ?", participantID, vignetteID).
		Limit(1).
		Find(&generation).Error
	if err != nil {
		return nil, err
	}
	if generation.ID == uuid.Nil {
		return nil, nil
	}
	return &generation, nil
}

func (r *generationRepo) GetByParticipant(ctx context.Context, tx *gorm.DB, participantID uuid.UUID) ([]*types.LLMGeneration, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var results []*types.LLMGeneration
	if participantID == uuid.Nil {
		return results, nil
	}
	if err := transaction.WithContext(ctx).
		Where("participant_id = ?", participantID).
		Order("generated_at ASC").
		Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

func (r *generationRepo) CountByParticipant(ctx context.Context, tx *gorm.DB, participantID uuid.UUID) (int64, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var count int64
	if err := transaction.WithContext(ctx).
		Model(&types.LLMGeneration{}).
		Where("participant_id = ?", participantID).
		Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}
