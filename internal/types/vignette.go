package types

import (
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Social proximity of the vignette protagonist.
const (
	ProximityClose   = "close"
	ProximityDistant = "distant"
)

// Vignette is an immutable stimulus. Rows are written once by the seeder
// and never mutated.
type Vignette struct {
	ID                 uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	Content            string    `gorm:"type:text;not null;column:content" json:"content"`
	AltruisticResponse string    `gorm:"type:text;not null;column:altruistic_response" json:"altruistic_response"`
	EgoisticResponse   string    `gorm:"type:text;not null;column:egoistic_response" json:"egoistic_response"`
	ItemDifficulty     float64   `gorm:"not null;column:item_difficulty" json:"item_difficulty"`
	RealitySimilarity  float64   `gorm:"not null;column:reality_similarity" json:"reality_similarity"`
	SetLabel           string    `gorm:"not null;column:set_label" json:"set_label"`
	SocialProximity    string    `gorm:"not null;index;column:social_proximity" json:"social_proximity"`
}

func (Vignette) TableName() string {
	return "vignette"
}

func (v *Vignette) BeforeCreate(tx *gorm.DB) error {
	if v.ID == uuid.Nil {
		v.ID = uuid.New()
	}
	return nil
}
