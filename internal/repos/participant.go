package repos

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/morallab/moralsim-backend/internal/logger"
	"github.com/morallab/moralsim-backend/internal/types"
)

type ParticipantRepo interface {
	Create(ctx context.Context, tx *gorm.DB, participant *types.Participant) (*types.Participant, error)
	GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.Participant, error)
	GetByAnonymousID(ctx context.Context, tx *gorm.DB, anonymousID string) (*types.Participant, error)
	UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error
}

type participantRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewParticipantRepo(db *gorm.DB, baseLog *logger.Logger) ParticipantRepo {
	return &participantRepo{db: db, log: baseLog.With("repo", "ParticipantRepo")}
}

func (r *participantRepo) Create(ctx context.Context, tx *gorm.DB, participant *types.Participant) (*types.Participant, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if err := transaction.WithContext(ctx).Create(participant).Error; err != nil {
		return nil, err
	}
	return participant, nil
}

func (r *participantRepo) GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.Participant, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return nil, nil
	}
	var participant types.Participant
	err := transaction.WithContext(ctx).
		Where("id = ?", id).
		First(&participant).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &participant, nil
}

func (r *participantRepo) GetByAnonymousID(ctx context.Context, tx *gorm.DB, anonymousID string) (*types.Participant, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if anonymousID == "" {
		return nil, nil
	}
	var participant types.Participant
	err := transaction.WithContext(ctx).
		Where("anonymous_id = ?", anonymousID).
		First(&participant).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &participant, nil
}

func (r *participantRepo) UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil || len(updates) == 0 {
		return nil
	}
	return transaction.WithContext(ctx).
		Model(&types.Participant{}).
		Where("id = ?", id).
		Updates(updates).Error
}
