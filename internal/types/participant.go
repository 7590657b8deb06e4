package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Study phases in strict forward order. The phase field is owned by the
// orchestrator; nothing client-supplied ever writes it.
const (
	PhaseDemographic   = "demographic"
	PhaseOne           = "phase1"
	PhaseTwoGenerating = "phase2_generating"
	PhaseThree         = "phase3"
	PhaseCompleted     = "completed"
)

type Participant struct {
	ID                uuid.UUID                      `gorm:"type:uuid;primaryKey" json:"id"`
	AnonymousID       string                         `gorm:"uniqueIndex;not null;column:anonymous_id" json:"anonymous_id"`
	Nationality       string                         `gorm:"column:nationality" json:"nationality"`
	Age               int                            `gorm:"column:age" json:"age"`
	Gender            string                         `gorm:"column:gender" json:"gender"`
	ConsentGiven      bool                           `gorm:"not null;default:false;column:consent_given" json:"consent_given"`
	ConsentDate       *time.Time                     `gorm:"column:consent_date" json:"consent_date"`
	CurrentPhase      string                         `gorm:"not null;default:demographic;column:current_phase" json:"current_phase"`
	Phase1VignetteIDs datatypes.JSONSlice[uuid.UUID] `gorm:"column:phase1_vignette_ids" json:"phase1_vignette_ids"`
	CreatedAt         time.Time                      `gorm:"not null" json:"created_at"`
	UpdatedAt         time.Time                      `gorm:"not null" json:"updated_at"`
	CompletedAt       *time.Time                     `gorm:"column:completed_at" json:"completed_at"`
}

func (Participant) TableName() string {
	return "participant"
}

func (p *Participant) BeforeCreate(tx *gorm.DB) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	return nil
}
