package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ParticipantResponse is created only after passing validation, and is
// never updated or deleted afterwards.
type ParticipantResponse struct {
	ID                 uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	ParticipantID      uuid.UUID `gorm:"type:uuid;not null;index;column:participant_id" json:"participant_id"`
	VignetteID         uuid.UUID `gorm:"type:uuid;not null;column:vignette_id" json:"vignette_id"`
	ResponseText       string    `gorm:"type:text;not null;column:response_text" json:"response_text"`
	WordCount          int       `gorm:"not null;column:word_count" json:"word_count"`
	Validated          bool      `gorm:"not null;default:false;column:validated" json:"validated"`
	ValidationFeedback string    `gorm:"type:text;column:validation_feedback" json:"validation_feedback"`
	ResponseOrder      int       `gorm:"not null;column:response_order" json:"response_order"`
	SubmittedAt        time.Time `gorm:"not null;column:submitted_at" json:"submitted_at"`
}

func (ParticipantResponse) TableName() string {
	return "participant_response"
}

func (r *ParticipantResponse) BeforeCreate(tx *gorm.DB) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	if r.SubmittedAt.IsZero() {
		r.SubmittedAt = time.Now()
	}
	return nil
}
