package main

import (
	"fmt"
	"os"

	"github.com/morallab/moralsim-backend/internal/db"
	"github.com/morallab/moralsim-backend/internal/logger"
	"github.com/morallab/moralsim-backend/internal/utils"
)

func main() {
	logMode := os.Getenv("LOG_MODE")
	if logMode == "" {
		logMode = "development"
	}
	log, err := logger.New(logMode)
	if err != nil {
		fmt.Printf("Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	seedPath := utils.GetEnv("VIGNETTE_SEED_FILE", "data/vignettes.yaml", log)
	seeds, err := db.LoadVignetteSeedFile(seedPath)
	if err != nil {
		log.Error("Could not load vignette seed file", "path", seedPath, "error", err)
		os.Exit(1)
	}

	dbService, err := db.NewService(log)
	if err != nil {
		log.Error("Database init failed", "error", err)
		os.Exit(1)
	}
	if err = dbService.AutoMigrateAll(); err != nil {
		log.Error("Auto migration failed", "error", err)
		os.Exit(1)
	}

	inserted, err := db.SeedVignettes(dbService.DB(), log, seeds)
	if err != nil {
		log.Error("Seeding failed", "error", err)
		os.Exit(1)
	}
	log.Info("Seed complete", "inserted", inserted)
}
