package services

import (
	"strings"
	"testing"
)

func newSessionService(t *testing.T) SessionService {
	t.Helper()
	t.Setenv("SESSION_JWT_SECRET", "test-secret")
	svc, err := NewSessionService(newTestLogger(t))
	if err != nil {
		t.Fatalf("NewSessionService: %v", err)
	}
	return svc
}

func TestSessionRoundTrip(t *testing.T) {
	svc := newSessionService(t)

	anonymousID, err := svc.NewAnonymousID()
	if err != nil {
		t.Fatalf("NewAnonymousID: %v", err)
	}
	if len(anonymousID) != 32 {
		t.Fatalf("anonymous id %q is not 32 hex chars", anonymousID)
	}

	for _, consent := range []bool{false, true} {
		token, err := svc.Mint(anonymousID, consent)
		if err != nil {
			t.Fatalf("Mint(consent=%v): %v", consent, err)
		}
		claims, err := svc.Parse(token)
		if err != nil {
			t.Fatalf("Parse(consent=%v): %v", consent, err)
		}
		if claims.AnonymousID != anonymousID || claims.ConsentGiven != consent {
			t.Fatalf("claims = %+v", claims)
		}
	}
}

func TestSessionRejectsTampering(t *testing.T) {
	svc := newSessionService(t)
	token, err := svc.Mint("abc123", false)
	if err != nil {
		t.Fatalf("Mint: %v", err)
	}

	// Flip a character in the signature segment.
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		t.Fatalf("token has %d segments", len(parts))
	}
	sig := []byte(parts[2])
	if sig[0] == 'A' {
		sig[0] = 'B'
	} else {
		sig[0] = 'A'
	}
	tampered := parts[0] + "." + parts[1] + "." + string(sig)
	if _, err := svc.Parse(tampered); err == nil {
		t.Fatal("tampered token accepted")
	}

	if _, err := svc.Parse("not-a-token"); err == nil {
		t.Fatal("garbage token accepted")
	}
}
