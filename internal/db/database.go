package db

import (
	"fmt"
	"strings"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/morallab/moralsim-backend/internal/logger"
	"github.com/morallab/moralsim-backend/internal/types"
	"github.com/morallab/moralsim-backend/internal/utils"
)

type Service struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewService(log *logger.Logger) (*Service, error) {
	serviceLog := log.With("service", "DBService")

	driver := strings.ToLower(utils.GetEnv("DB_DRIVER", "postgres", log))

	var (
		db  *gorm.DB
		err error
	)
	switch driver {
	case "sqlite":
		path := utils.GetEnv("SQLITE_PATH", "moralsim.db", log)
		log.Info("Connecting to SQLite...", "path", path)
		db, err = gorm.Open(sqlite.Open(path), &gorm.Config{})
	default:
		host := utils.GetEnv("POSTGRES_HOST", "localhost", log)
		port := utils.GetEnv("POSTGRES_PORT", "5432", log)
		user := utils.GetEnv("POSTGRES_USER", "postgres", log)
		password := utils.GetEnv("POSTGRES_PASSWORD", "", log)
		name := utils.GetEnv("POSTGRES_NAME", "moralsim", log)

		dsn := fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable", user, password, host, port, name)
		log.Info("Connecting to Postgres...")
		db, err = gorm.Open(postgres.Open(dsn), &gorm.Config{
			DisableForeignKeyConstraintWhenMigrating: true,
		})
	}
	if err != nil {
		log.Error("Failed to connect to database", "driver", driver, "error", err)
		return nil, fmt.Errorf("failed to connect to database (%s): %w", driver, err)
	}

	return &Service{db: db, log: serviceLog}, nil
}

func (s *Service) AutoMigrateAll() error {
	s.log.Info("Auto migrating tables...")
	err := s.db.AutoMigrate(
		&types.Participant{},
		&types.Vignette{},
		&types.ParticipantResponse{},
		&types.LLMGeneration{},
		&types.Evaluation{},
		&types.GenerationJob{},
	)
	if err != nil {
		s.log.Error("Auto migration failed", "error", err)
		return err
	}

	if s.db.Dialector.Name() != "postgres" {
		return nil
	}

	// Children cascade with their participant; the vignette side stays a
	// plain reference.
	s.log.Info("Configuring foreign key relationships...")
	constraints := []struct {
		name string
		stmt string
	}{
		{
			name: "fk_participant_response_participant_id",
			stmt: `ALTER TABLE "participant_response"
				ADD CONSTRAINT "fk_participant_response_participant_id"
				FOREIGN KEY ("participant_id") REFERENCES "participant"("id") ON DELETE CASCADE`,
		},
		{
			name: "fk_llm_generation_participant_id",
			stmt: `ALTER TABLE "llm_generation"
				ADD CONSTRAINT "fk_llm_generation_participant_id"
				FOREIGN KEY ("participant_id") REFERENCES "participant"("id") ON DELETE CASCADE`,
		},
		{
			name: "fk_evaluation_participant_id",
			stmt: `ALTER TABLE "evaluation"
				ADD CONSTRAINT "fk_evaluation_participant_id"
				FOREIGN KEY ("participant_id") REFERENCES "participant"("id") ON DELETE CASCADE`,
		},
		{
			name: "fk_evaluation_generation_id",
			stmt: `ALTER TABLE "evaluation"
				ADD CONSTRAINT "fk_evaluation_generation_id"
				FOREIGN KEY ("generation_id") REFERENCES "llm_generation"("id") ON DELETE CASCADE`,
		},
		{
			name: "fk_generation_job_participant_id",
			stmt: `ALTER TABLE "generation_job"
				ADD CONSTRAINT "fk_generation_job_participant_id"
				FOREIGN KEY ("participant_id") REFERENCES "participant"("id") ON DELETE CASCADE`,
		},
	}
	for _, c := range constraints {
		var count int64
		s.db.Raw(`SELECT COUNT(*) FROM pg_constraint WHERE conname = ?`, c.name).Scan(&count)
		if count > 0 {
			continue
		}
		if err := s.db.Exec(c.stmt).Error; err != nil {
			return fmt.Errorf("failed to add %s: %w", c.name, err)
		}
	}
	return nil
}

func (s *Service) DB() *gorm.DB {
	return s.db
}
