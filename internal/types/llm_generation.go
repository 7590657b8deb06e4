package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// LLMGeneration is one simulated answer to one vignette for one
// participant. The unique index on (participant_id, vignette_id) is the
// idempotency backstop for at-least-once job delivery.
type LLMGeneration struct {
	ID                uuid.UUID                   `gorm:"type:uuid;primaryKey" json:"id"`
	ParticipantID     uuid.UUID                   `gorm:"type:uuid;not null;uniqueIndex:idx_generation_participant_vignette;column:participant_id" json:"participant_id"`
	VignetteID        uuid.UUID                   `gorm:"type:uuid;not null;uniqueIndex:idx_generation_participant_vignette;column:vignette_id" json:"vignette_id"`
	SimulatedResponse string                      `gorm:"type:text;not null;column:simulated_response" json:"simulated_response"`
	Reasoning         string                      `gorm:"type:text;not null;column:reasoning" json:"reasoning"`
	IsZeroShot        bool                        `gorm:"not null;default:false;column:is_zero_shot" json:"is_zero_shot"`
	Temperature       float64                     `gorm:"not null;column:temperature" json:"temperature"`
	ExampleOrder      datatypes.JSONSlice[string] `gorm:"column:example_order" json:"example_order"`
	ModelVersion      string                      `gorm:"not null;column:model_version" json:"model_version"`
	GeneratedAt       time.Time                   `gorm:"not null;column:generated_at" json:"generated_at"`
}

func (LLMGeneration) TableName() string {
	return "llm_generation"
}

func (g *LLMGeneration) BeforeCreate(tx *gorm.DB) error {
	if g.ID == uuid.Nil {
		g.ID = uuid.New()
	}
	if g.GeneratedAt.IsZero() {
		g.GeneratedAt = time.Now()
	}
	return nil
}
