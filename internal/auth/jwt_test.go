package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"quiz-battle-service/internal/domain"
)

func TestTokenRoundTrip(t *testing.T) {
	svc := NewService("test-secret", time.Hour)

	token, err := svc.Generate("user-1")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	claims, err := svc.Validate(token)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if claims.UserID != "user-1" {
		t.Fatalf("expected user-1, got %q", claims.UserID)
	}
}

func TestValidateRejectsWrongSecret(t *testing.T) {
	token, err := NewService("secret-a", time.Hour).Generate("user-1")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if _, err := NewService("secret-b", time.Hour).Validate(token); !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
}

func TestValidateRejectsExpiredToken(t *testing.T) {
	svc := NewService("test-secret", time.Hour)
	claims := Claims{
		UserID: "user-1",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
			IssuedAt:  jwt.NewNumericDate(time.Now().Add(-2 * time.Hour)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := svc.Validate(token); !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
}

func TestValidateRejectsGarbage(t *testing.T) {
	svc := NewService("test-secret", time.Hour)
	for _, token := range []string{"", "not-a-token", "a.b.c"} {
		if _, err := svc.Validate(token); !errors.Is(err, domain.ErrUnauthorized) {
			t.Fatalf("token %q: expected unauthorized, got %v", token, err)
		}
	}
}

func TestValidateRequiresUserID(t *testing.T) {
	svc := NewService("test-secret", time.Hour)
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := svc.Validate(token); !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("expected unauthorized for empty user id, got %v", err)
	}
}
