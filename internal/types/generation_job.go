package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	JobStatusQueued    = "queued"
	JobStatusRunning   = "running"
	JobStatusSucceeded = "succeeded"
	JobStatusFailed    = "failed"
)

// GenerationJob is one queued persona-simulation unit of work. The unique
// index on (participant_id, vignette_id, is_zero_shot) is the enqueue-side
// idempotency key; re-dispatch of the same work is a no-op.
type GenerationJob struct {
	ID            uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	ParticipantID uuid.UUID      `gorm:"type:uuid;not null;uniqueIndex:idx_job_idempotency;column:participant_id" json:"participant_id"`
	VignetteID    uuid.UUID      `gorm:"type:uuid;not null;uniqueIndex:idx_job_idempotency;column:vignette_id" json:"vignette_id"`
	IsZeroShot    bool           `gorm:"not null;default:false;uniqueIndex:idx_job_idempotency;column:is_zero_shot" json:"is_zero_shot"`
	Payload       datatypes.JSON `gorm:"column:payload" json:"payload"`
	Status        string         `gorm:"not null;default:queued;index;column:status" json:"status"`
	Attempts      int            `gorm:"not null;default:0;column:attempts" json:"attempts"`
	LastError     string         `gorm:"type:text;column:last_error" json:"last_error"`
	LastErrorAt   *time.Time     `gorm:"column:last_error_at" json:"last_error_at"`
	LockedAt      *time.Time     `gorm:"column:locked_at" json:"locked_at"`
	HeartbeatAt   *time.Time     `gorm:"column:heartbeat_at" json:"heartbeat_at"`
	CreatedAt     time.Time      `gorm:"not null" json:"created_at"`
	UpdatedAt     time.Time      `gorm:"not null" json:"updated_at"`
}

func (GenerationJob) TableName() string {
	return "generation_job"
}

func (j *GenerationJob) BeforeCreate(tx *gorm.DB) error {
	if j.ID == uuid.Nil {
		j.ID = uuid.New()
	}
	return nil
}

// GenerationExample is one of the participant's own validated answers,
// carried in the job payload as conditioning material.
type GenerationExample struct {
	Scenario string `json:"scenario"`
	Answer   string `json:"answer"`
}

// GenerationPayload is the serialized work description for one job.
type GenerationPayload struct {
	ParticipantID   uuid.UUID           `json:"participant_id"`
	VignetteID      uuid.UUID           `json:"vignette_id"`
	FewShotExamples []GenerationExample `json:"few_shot_examples"`
	IsZeroShot      bool                `json:"is_zero_shot"`
}
