package db

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
	"gorm.io/gorm"

	"github.com/morallab/moralsim-backend/internal/logger"
	"github.com/morallab/moralsim-backend/internal/types"
)

type VignetteSeed struct {
	Content            string  `yaml:"content"`
	AltruisticResponse string  `yaml:"altruistic_response"`
	EgoisticResponse   string  `yaml:"egoistic_response"`
	ItemDifficulty     float64 `yaml:"item_difficulty"`
	RealitySimilarity  float64 `yaml:"reality_similarity"`
	SetLabel           string  `yaml:"set"`
	SocialProximity    string  `yaml:"social_proximity"`
}

type vignetteSeedFile struct {
	Vignettes []VignetteSeed `yaml:"vignettes"`
}

func LoadVignetteSeedFile(path string) ([]VignetteSeed, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read seed file: %w", err)
	}
	var file vignetteSeedFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("parse seed file: %w", err)
	}
	if len(file.Vignettes) == 0 {
		return nil, fmt.Errorf("seed file %s contains no vignettes", path)
	}
	for i, v := range file.Vignettes {
		if v.Content == "" {
			return nil, fmt.Errorf("vignette %d: missing content", i+1)
		}
		if v.SocialProximity != types.ProximityClose && v.SocialProximity != types.ProximityDistant {
			return nil, fmt.Errorf("vignette %d: invalid social_proximity %q", i+1, v.SocialProximity)
		}
	}
	return file.Vignettes, nil
}

// SeedVignettes inserts the stimulus bank once. A non-empty vignette table
// means the bank is already seeded; the bank is immutable, so re-running is
// a no-op rather than an upsert.
func SeedVignettes(db *gorm.DB, log *logger.Logger, seeds []VignetteSeed) (int, error) {
	var count int64
	if err := db.Model(&types.Vignette{}).Count(&count).Error; err != nil {
		return 0, err
	}
	if count > 0 {
		log.Info("Vignette bank already seeded, skipping", "existing", count)
		return 0, nil
	}

	vignettes := make([]*types.Vignette, 0, len(seeds))
	for _, s := range seeds {
		vignettes = append(vignettes, &types.Vignette{
			Content:            s.Content,
			AltruisticResponse: s.AltruisticResponse,
			EgoisticResponse:   s.EgoisticResponse,
			ItemDifficulty:     s.ItemDifficulty,
			RealitySimilarity:  s.RealitySimilarity,
			SetLabel:           s.SetLabel,
			SocialProximity:    s.SocialProximity,
		})
	}
	if err := db.Create(&vignettes).Error; err != nil {
		return 0, err
	}
	log.Info("Vignette bank seeded", "count", len(vignettes))
	return len(vignettes), nil
}
