package service_test

import (
	"errors"
	"testing"
	"time"

	"github.com/costwatch/costwatch-go/internal/domain"
	"github.com/costwatch/costwatch-go/internal/service"
)

func TestAuth_SignAndValidate(t *testing.T) {
	auth := service.NewAuthService("test-secret", time.Hour)

	token, err := auth.SignAccessToken("user-1", "org-1")
	if err != nil {
		t.Fatalf("sign failed: %v", err)
	}

	claims, err := auth.ValidateAccessToken(token)
	if err != nil {
		t.Fatalf("validate failed: %v", err)
	}
	if claims.OrgID != "org-1" {
		t.Errorf("expected org-1, got %s", claims.OrgID)
	}
	if claims.Sub != "user-1" {
		t.Errorf("expected user-1, got %s", claims.Sub)
	}
}

func TestAuth_WrongSecretRejected(t *testing.T) {
	token, err := service.NewAuthService("secret-a", time.Hour).SignAccessToken("user-1", "org-1")
	if err != nil {
		t.Fatalf("sign failed: %v", err)
	}

	_, err = service.NewAuthService("secret-b", time.Hour).ValidateAccessToken(token)
	var unauthorized *domain.ErrUnauthorized
	if !errors.As(err, &unauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
}

func TestAuth_ExpiredTokenRejected(t *testing.T) {
	auth := service.NewAuthService("test-secret", -time.Minute)
	token, err := auth.SignAccessToken("user-1", "org-1")
	if err != nil {
		t.Fatalf("sign failed: %v", err)
	}

	_, err = auth.ValidateAccessToken(token)
	var unauthorized *domain.ErrUnauthorized
	if !errors.As(err, &unauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
}

func TestAuth_GarbageTokenRejected(t *testing.T) {
	auth := service.NewAuthService("test-secret", time.Hour)

	_, err := auth.ValidateAccessToken("not.a.jwt")
	var unauthorized *domain.ErrUnauthorized
	if !errors.As(err, &unauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
}
