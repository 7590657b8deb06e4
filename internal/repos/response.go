package repos

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/morallab/moralsim-backend/internal/logger"
	"github.com/morallab/moralsim-backend/internal/types"
)

type ResponseRepo interface {
	Create(ctx context.Context, tx *gorm.DB, response *types.ParticipantResponse) (*types.ParticipantResponse, error)
	GetByParticipant(ctx context.Context, tx *gorm.DB, participantID uuid.UUID) ([]*types.ParticipantResponse, error)
	GetValidatedByParticipant(ctx context.Context, tx *gorm.DB, participantID uuid.UUID) ([]*types.ParticipantResponse, error)
	CountByParticipant(ctx context.Context, tx *gorm.DB, participantID uuid.UUID) (int64, error)
	UsedVignetteIDs(ctx context.Context, tx *gorm.DB, participantID uuid.UUID) ([]uuid.UUID, error)
}

type responseRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewResponseRepo(db *gorm.DB, baseLog *logger.Logger) ResponseRepo {
	return &responseRepo{db: db, log: baseLog.With("repo", "ResponseRepo")}
}

func (r *responseRepo) Create(ctx context.Context, tx *gorm.DB, response *types.ParticipantResponse) (*types.ParticipantResponse, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if err := transaction.WithContext(ctx).Create(response).Error; err != nil {
		return nil, err
	}
	return response, nil
}

func (r *responseRepo) GetByParticipant(ctx context.Context, tx *gorm.DB, participantID uuid.UUID) ([]*types.ParticipantResponse, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var results []*types.ParticipantResponse
	if participantID == uuid.Nil {
		return results, nil
	}
	if err := transaction.WithContext(ctx).
		Where("participant_id = ?", participantID).
		Order("response_order ASC").
		Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

func (r *responseRepo) GetValidatedByParticipant(ctx context.Context, tx *gorm.DB, participantID uuid.UUID) ([]*types.ParticipantResponse, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var results []*types.ParticipantResponse
	if participantID == uuid.Nil {
		return results, nil
	}
	if err := transaction.WithContext(ctx).
		Where("participant_id = ? AND validated = ?", participantID, true).
		Order("response_order ASC").
		Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

func (r *responseRepo) CountByParticipant(ctx context.Context, tx *gorm.DB, participantID uuid.UUID) (int64, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var count int64
	if err := transaction.WithContext(ctx).
		Model(&types.ParticipantResponse{}).
		Where("participant_id = ?", participantID).
		Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

func (r *responseRepo) UsedVignetteIDs(ctx context.Context, tx *gorm.DB, participantID uuid.UUID) ([]uuid.UUID, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var ids []uuid.UUID
	if participantID == uuid.Nil {
		return ids, nil
	}
	if err := transaction.WithContext(ctx).
		Model(&types.ParticipantResponse{}).
		Where("participant_id = ?", participantID).
		Pluck("vignette_id", &ids).Error; err != nil {
		return nil, err
	}
	return ids, nil
}
