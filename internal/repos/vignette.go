package repos

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/morallab/moralsim-backend/internal/logger"
	"github.com/morallab/moralsim-backend/internal/types"
)

type VignetteRepo interface {
	GetByIDs(ctx context.Context, tx *gorm.DB, ids []uuid.UUID) ([]*types.Vignette, error)
	GetByProximity(ctx context.Context, tx *gorm.DB, proximity string, excludeIDs []uuid.UUID, limit int) ([]*types.Vignette, error)
}

type vignetteRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewVignetteRepo(db *gorm.DB, baseLog *logger.Logger) VignetteRepo {
	return &vignetteRepo{db: db, log: baseLog.With("repo", "VignetteRepo")}
}

func (r *vignetteRepo) GetByIDs(ctx context.Context, tx *gorm.DB, ids []uuid.UUID) ([]*types.Vignette, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var results []*types.Vignette
	if len(ids) == 0 {
		return results, nil
	}
	if err := transaction.WithContext(ctx).
		Where("id IN ?", ids).
		Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

// GetByProximity fetches up to limit vignettes in a proximity category,
// excluding any already-used IDs. Ordering is by primary key so repeated
// fetches see the same candidate sequence.
func (r *vignetteRepo) GetByProximity(ctx context.Context, tx *gorm.DB, proximity string, excludeIDs []uuid.UUID, limit int) ([]*types.Vignette, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var results []*types.Vignette
	q := transaction.WithContext(ctx).
		Where("social_proximity = ?", proximity)
	if len(excludeIDs) > 0 {
		q = q.Where("id NOT IN ?", excludeIDs)
	}
	if err := q.Order("id ASC").Limit(limit).Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}
