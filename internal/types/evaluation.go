package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Evaluation is one human rating of one generation. At most one per
// (participant, generation).
type Evaluation struct {
	ID                uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	ParticipantID     uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_evaluation_participant_generation;column:participant_id" json:"participant_id"`
	GenerationID      uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_evaluation_participant_generation;column:generation_id" json:"generation_id"`
	AgreementScore    int       `gorm:"not null;column:agreement_score" json:"agreement_score"`
	AuthenticityScore int       `gorm:"not null;column:authenticity_score" json:"authenticity_score"`
	PresentationOrder int       `gorm:"not null;column:presentation_order" json:"presentation_order"`
	EvaluatedAt       time.Time `gorm:"not null;column:evaluated_at" json:"evaluated_at"`
}

func (Evaluation) TableName() string {
	return "evaluation"
}

func (e *Evaluation) BeforeCreate(tx *gorm.DB) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.EvaluatedAt.IsZero() {
		e.EvaluatedAt = time.Now()
	}
	return nil
}
