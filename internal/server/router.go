package server

import (
	"strings"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/morallab/moralsim-backend/internal/handlers"
	"github.com/morallab/moralsim-backend/internal/middleware"
	"github.com/morallab/moralsim-backend/internal/utils"
)

type RouterConfig struct {
	SurveyHandler     *handlers.SurveyHandler
	SessionMiddleware *middleware.SessionMiddleware
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	router := gin.Default()

	origins := strings.Split(utils.GetEnv("CORS_ALLOW_ORIGINS", "http://localhost:3000,http://localhost:5173", nil), ",")
	router.Use(cors.New(cors.Config{
		AllowOrigins:     origins,
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Authorization", "Content-Type", "X-Requested-With"},
		AllowCredentials: true,
	}))

	// ===============
	// || Public    ||
	// ===============
	router.GET("/healthcheck", handlers.HealthCheck)
	router.POST("/survey/start", cfg.SurveyHandler.Start)

	// ===================
	// || Pre-register  ||
	// ===================
	session := router.Group("/survey")
	session.Use(cfg.SessionMiddleware.RequireSession())
	session.POST("/consent", cfg.SurveyHandler.Consent)
	session.POST("/demographics", cfg.SurveyHandler.Demographics)

	// ===============
	// || Protected ||
	// ===============
	protected := router.Group("/survey")
	protected.Use(cfg.SessionMiddleware.RequireParticipant())
	protected.GET("/phase1", cfg.SurveyHandler.Phase1)
	protected.POST("/phase1/responses", cfg.SurveyHandler.SubmitResponse)
	protected.POST("/phase1/complete", cfg.SurveyHandler.CompletePhase1)
	protected.GET("/phase3", cfg.SurveyHandler.Phase3)
	protected.POST("/phase3/evaluations", cfg.SurveyHandler.SubmitEvaluation)
	protected.POST("/complete", cfg.SurveyHandler.Complete)

	return router
}
