package main

import (
	"context"
	"fmt"
	"os"

	"github.com/morallab/moralsim-backend/internal/clients/redis"
	"github.com/morallab/moralsim-backend/internal/db"
	"github.com/morallab/moralsim-backend/internal/handlers"
	"github.com/morallab/moralsim-backend/internal/jobs"
	"github.com/morallab/moralsim-backend/internal/llm"
	"github.com/morallab/moralsim-backend/internal/logger"
	"github.com/morallab/moralsim-backend/internal/middleware"
	"github.com/morallab/moralsim-backend/internal/repos"
	"github.com/morallab/moralsim-backend/internal/server"
	"github.com/morallab/moralsim-backend/internal/services"
	"github.com/morallab/moralsim-backend/internal/utils"
)

func main() {
	// Logger
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

	// Database
	dbService, err := db.NewService(log)
	if err != nil {
		log.Error("Database init failed", "error", err)
		os.Exit(1)
	}
	if err = dbService.AutoMigrateAll(); err != nil {
		log.Error("Auto migration failed", "error", err)
		os.Exit(1)
	}
	theDB := dbService.DB()

	// Repos
	log.Info("Setting up Repos from main...")
	participantRepo := repos.NewParticipantRepo(theDB, log)
	vignetteRepo := repos.NewVignetteRepo(theDB, log)
	responseRepo := repos.NewResponseRepo(theDB, log)
	generationRepo := repos.NewGenerationRepo(theDB, log)
	evaluationRepo := repos.NewEvaluationRepo(theDB, log)
	jobRepo := repos.NewGenerationJobRepo(theDB, log)

	// Clients
	log.Info("Setting up clients from main...")
	llmClient, err := llm.NewClient(log)
	if err != nil {
		log.Error("Could not init LLM client", "error", err)
		os.Exit(1)
	}
	draftStash, err := redis.NewDraftStash(log)
	if err != nil {
		log.Error("Could not init draft stash", "error", err)
		os.Exit(1)
	}

	// Services
	log.Info("Setting up Services from main...")
	sessionService, err := services.NewSessionService(log)
	if err != nil {
		log.Error("Could not init SessionService", "error", err)
		os.Exit(1)
	}
	surveyService := services.NewSurveyService(log, participantRepo, vignetteRepo, responseRepo)
	validationService := services.NewValidationService(log, llmClient)
	generationService := services.NewGenerationService(log, llmClient)
	orchestrator := services.NewOrchestrator(
		log,
		surveyService,
		validationService,
		draftStash,
		participantRepo,
		vignetteRepo,
		responseRepo,
		generationRepo,
		evaluationRepo,
		jobRepo,
	)

	// Jobs
	log.Info("Setting up job worker from main...")
	generationHandler := jobs.NewGenerationHandler(theDB, log, generationService, vignetteRepo, generationRepo)
	worker := jobs.NewWorker(theDB, log, jobRepo, generationHandler)
	worker.Start(context.Background())

	// Handlers
	log.Info("Setting up handlers from main...")
	surveyHandler := handlers.NewSurveyHandler(log, sessionService, orchestrator, participantRepo)

	// Middleware
	log.Info("Setting up middleware from main...")
	sessionMiddleware := middleware.NewSessionMiddleware(log, sessionService, participantRepo)

	// Router
	log.Info("Setting up router from main...")
	router := server.NewRouter(server.RouterConfig{
		SurveyHandler:     surveyHandler,
		SessionMiddleware: sessionMiddleware,
	})

	port := utils.GetEnv("PORT", "8080", log)
	fmt.Printf("Server listening on :%s\n", port)
	if err := router.Run(":" + port); err != nil {
		log.Warn("Server failed", "error", err)
	}
}
