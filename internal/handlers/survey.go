package handlers

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/morallab/moralsim-backend/internal/apierr"
	"github.com/morallab/moralsim-backend/internal/logger"
	"github.com/morallab/moralsim-backend/internal/middleware"
	"github.com/morallab/moralsim-backend/internal/repos"
	"github.com/morallab/moralsim-backend/internal/services"
	"github.com/morallab/moralsim-backend/internal/types"
)

type SurveyHandler struct {
	log             *logger.Logger
	sessions        services.SessionService
	orchestrator    services.Orchestrator
	participantRepo repos.ParticipantRepo
}

func NewSurveyHandler(log *logger.Logger, sessions services.SessionService, orchestrator services.Orchestrator, participantRepo repos.ParticipantRepo) *SurveyHandler {
	return &SurveyHandler{
		log:             log.With("handler", "SurveyHandler"),
		sessions:        sessions,
		orchestrator:    orchestrator,
		participantRepo: participantRepo,
	}
}

type startRequest struct {
	ResumeID string `json:"resume_id"`
}

// Start opens or resumes a session. With a known resume id the response
// carries the participant's current phase; otherwise a fresh pre-consent
// session begins at the consent step.
func (h *SurveyHandler) Start(c *gin.Context) {
	var req startRequest
	_ = c.ShouldBindJSON(&req)

	if req.ResumeID != "" {
		participant, err := h.participantRepo.GetByAnonymousID(c.Request.Context(), nil, req.ResumeID)
		if err != nil {
			RespondAPIError(c, err)
			return
		}
		if participant != nil && participant.ConsentGiven {
			token, tErr := h.sessions.Mint(participant.AnonymousID, true)
			if tErr != nil {
				RespondAPIError(c, tErr)
				return
			}
			RespondOK(c, gin.H{
				"token": token,
				"phase": participant.CurrentPhase,
			})
			return
		}
		// Unknown resume ids fall through to a fresh session rather than
		// leaking whether an id exists.
	}

	anonymousID, err := h.sessions.NewAnonymousID()
	if err != nil {
		RespondAPIError(c, err)
		return
	}
	token, err := h.sessions.Mint(anonymousID, false)
	if err != nil {
		RespondAPIError(c, err)
		return
	}
	RespondOK(c, gin.H{
		"token": token,
		"phase": "consent",
	})
}

type consentRequest struct {
	Consent string `json:"consent"`
}

// Consent records agreement by reminting the session token with the
// consent flag set. Declining keeps the session where it is.
func (h *SurveyHandler) Consent(c *gin.Context) {
	claims := h.claims(c)
	if claims == nil {
		return
	}
	var req consentRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Consent != "agree" {
		RespondError(c, http.StatusUnprocessableEntity, apierr.CodeValidationRejected,
			fmt.Errorf("consent must be explicitly given to participate"))
		return
	}
	token, err := h.sessions.Mint(claims.AnonymousID, true)
	if err != nil {
		RespondAPIError(c, err)
		return
	}
	RespondOK(c, gin.H{
		"token": token,
		"phase": "demographics",
	})
}

// Demographics registers the participant. A repeat submission under the
// same session returns the existing record's phase instead of forking.
func (h *SurveyHandler) Demographics(c *gin.Context) {
	claims := h.claims(c)
	if claims == nil {
		return
	}
	if !claims.ConsentGiven {
		RespondError(c, http.StatusForbidden, apierr.CodePhaseConflict, fmt.Errorf("consent required"))
		return
	}
	var input services.DemographicsInput
	if err := c.ShouldBindJSON(&input); err != nil {
		RespondError(c, http.StatusBadRequest, apierr.CodeValidationRejected, err)
		return
	}
	participant, err := h.orchestrator.Register(c.Request.Context(), claims.AnonymousID, input)
	if err != nil {
		RespondAPIError(c, err)
		return
	}
	RespondOK(c, gin.H{
		"phase":        participant.CurrentPhase,
		"anonymous_id": participant.AnonymousID,
	})
}

func (h *SurveyHandler) Phase1(c *gin.Context) {
	participant := h.participant(c)
	if participant == nil {
		return
	}
	view, err := h.orchestrator.Phase1(c.Request.Context(), participant)
	if err != nil {
		RespondAPIError(c, err)
		return
	}
	RespondOK(c, view)
}

type submitResponseRequest struct {
	VignetteID   uuid.UUID `json:"vignette_id"`
	ResponseText string    `json:"response_text"`
}

func (h *SurveyHandler) SubmitResponse(c *gin.Context) {
	participant := h.participant(c)
	if participant == nil {
		return
	}
	var req submitResponseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, apierr.CodeValidationRejected, err)
		return
	}
	outcome, err := h.orchestrator.SubmitResponse(c.Request.Context(), participant, req.VignetteID, req.ResponseText)
	if err != nil {
		RespondAPIError(c, err)
		return
	}
	RespondOK(c, outcome)
}

func (h *SurveyHandler) CompletePhase1(c *gin.Context) {
	participant := h.participant(c)
	if participant == nil {
		return
	}
	if err := h.orchestrator.CompletePhase1(c.Request.Context(), participant); err != nil {
		RespondAPIError(c, err)
		return
	}
	RespondOK(c, gin.H{"phase": participant.CurrentPhase})
}

func (h *SurveyHandler) Phase3(c *gin.Context) {
	participant := h.participant(c)
	if participant == nil {
		return
	}
	view, err := h.orchestrator.Phase3(c.Request.Context(), participant)
	if err != nil {
		RespondAPIError(c, err)
		return
	}
	RespondOK(c, view)
}

type submitEvaluationRequest struct {
	GenerationID      uuid.UUID `json:"generation_id"`
	AgreementScore    int       `json:"agreement_score"`
	AuthenticityScore int       `json:"authenticity_score"`
}

func (h *SurveyHandler) SubmitEvaluation(c *gin.Context) {
	participant := h.participant(c)
	if participant == nil {
		return
	}
	var req submitEvaluationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, apierr.CodeValidationRejected, err)
		return
	}
	view, err := h.orchestrator.SubmitEvaluation(c.Request.Context(), participant, req.GenerationID, req.AgreementScore, req.AuthenticityScore)
	if err != nil {
		RespondAPIError(c, err)
		return
	}
	RespondOK(c, view)
}

func (h *SurveyHandler) Complete(c *gin.Context) {
	participant := h.participant(c)
	if participant == nil {
		return
	}
	updated, err := h.orchestrator.Complete(c.Request.Context(), participant)
	if err != nil {
		RespondAPIError(c, err)
		return
	}
	RespondOK(c, gin.H{
		"phase":        updated.CurrentPhase,
		"anonymous_id": updated.AnonymousID,
		"completed_at": updated.CompletedAt,
	})
}

func (h *SurveyHandler) claims(c *gin.Context) *services.SessionClaims {
	v, ok := c.Get(middleware.ContextClaims)
	if !ok {
		RespondError(c, http.StatusUnauthorized, "unauthorized", fmt.Errorf("missing session"))
		return nil
	}
	claims, ok := v.(*services.SessionClaims)
	if !ok {
		RespondError(c, http.StatusUnauthorized, "unauthorized", fmt.Errorf("missing session"))
		return nil
	}
	return claims
}

func (h *SurveyHandler) participant(c *gin.Context) *types.Participant {
	v, ok := c.Get(middleware.ContextParticipant)
	if !ok {
		RespondError(c, http.StatusForbidden, apierr.CodePhaseConflict, fmt.Errorf("registration required"))
		return nil
	}
	participant, ok := v.(*types.Participant)
	if !ok {
		RespondError(c, http.StatusForbidden, apierr.CodePhaseConflict, fmt.Errorf("registration required"))
		return nil
	}
	return participant
}
