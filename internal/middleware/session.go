package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/morallab/moralsim-backend/internal/logger"
	"github.com/morallab/moralsim-backend/internal/repos"
	"github.com/morallab/moralsim-backend/internal/services"
)

const (
	ContextClaims      = "session_claims"
	ContextParticipant = "participant"
)

type SessionMiddleware struct {
	log             *logger.Logger
	sessions        services.SessionService
	participantRepo repos.ParticipantRepo
}

func NewSessionMiddleware(log *logger.Logger, sessions services.SessionService, participantRepo repos.ParticipantRepo) *SessionMiddleware {
	return &SessionMiddleware{
		log:             log.With("Middleware", "SessionMiddleware"),
		sessions:        sessions,
		participantRepo: participantRepo,
	}
}

// RequireSession accepts any signed session token, consented or not. The
// handlers behind it deal with pre-registration steps.
func (m *SessionMiddleware) RequireSession() gin.HandlerFunc {
	return func(c *gin.Context) {
		claims := m.parse(c)
		if claims == nil {
			return
		}
		c.Set(ContextClaims, claims)
		c.Next()
	}
}

// RequireParticipant additionally loads the registered participant row;
// endpoints past the demographics step sit behind this.
func (m *SessionMiddleware) RequireParticipant() gin.HandlerFunc {
	return func(c *gin.Context) {
		claims := m.parse(c)
		if claims == nil {
			return
		}
		if !claims.ConsentGiven {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "consent required"})
			return
		}
		participant, err := m.participantRepo.GetByAnonymousID(c.Request.Context(), nil, claims.AnonymousID)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "session lookup failed"})
			return
		}
		if participant == nil {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "registration required"})
			return
		}
		c.Set(ContextClaims, claims)
		c.Set(ContextParticipant, participant)
		c.Next()
	}
}

func (m *SessionMiddleware) parse(c *gin.Context) *services.SessionClaims {
	tokenString := extractToken(c)
	if tokenString == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing or invalid token"})
		return nil
	}
	claims, err := m.sessions.Parse(tokenString)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing or invalid token"})
		return nil
	}
	return claims
}

func extractToken(c *gin.Context) string {
	authHeader := c.GetHeader("Authorization")
	if len(authHeader) > 7 && strings.EqualFold(authHeader[:7], "Bearer ") {
		return authHeader[7:]
	}
	return c.Query("token")
}
