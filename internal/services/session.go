package services

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/morallab/moralsim-backend/internal/logger"
	"github.com/morallab/moralsim-backend/internal/utils"
)

// SessionClaims travel in a signed JWT. The consent flag lives server-side
// in the token, so a client cannot skip the consent step by editing state.
type SessionClaims struct {
	AnonymousID  string `json:"anonymous_id"`
	ConsentGiven bool   `json:"consent_given"`
	jwt.RegisteredClaims
}

type SessionService interface {
	NewAnonymousID() (string, error)
	Mint(anonymousID string, consentGiven bool) (string, error)
	Parse(tokenString string) (*SessionClaims, error)
}

type sessionService struct {
	log    *logger.Logger
	secret []byte
	ttl    time.Duration
}

func NewSessionService(log *logger.Logger) (SessionService, error) {
	secret := strings.TrimSpace(os.Getenv("SESSION_JWT_SECRET"))
	if secret == "" {
		return nil, fmt.Errorf("missing SESSION_JWT_SECRET")
	}
	ttlHours := utils.GetEnvAsInt("SESSION_TTL_HOURS", 72, log)
	return &sessionService{
		log:    log.With("service", "SessionService"),
		secret: []byte(secret),
		ttl:    time.Duration(ttlHours) * time.Hour,
	}, nil
}

// NewAnonymousID returns 32 hex chars of entropy. This is the only
// identifier a participant ever sees or stores.
func (s *sessionService) NewAnonymousID() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate anonymous id: %w", err)
	}
	return hex.EncodeToString(b), nil
}

func (s *sessionService) Mint(anonymousID string, consentGiven bool) (string, error) {
	now := time.Now()
	claims := SessionClaims{
		AnonymousID:  anonymousID,
		ConsentGiven: consentGiven,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign session token: %w", err)
	}
	return signed, nil
}

func (s *sessionService) Parse(tokenString string) (*SessionClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &SessionClaims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("parse session token: %w", err)
	}
	claims, ok := token.Claims.(*SessionClaims)
	if !ok || !token.Valid || claims.AnonymousID == "" {
		return nil, fmt.Errorf("invalid session token")
	}
	return claims, nil
}
