package service

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/costwatch/costwatch-go/internal/domain"
)

// AuthService validates the access tokens the API middleware checks. Token
// issuance lives in the dashboard backend; this side only needs the shared
// HMAC secret, plus a signer for local tooling and tests.
type AuthService struct {
	jwtSecret []byte
	accessTTL time.Duration
}

// NewAuthService creates the validator with the shared signing secret.
func NewAuthService(jwtSecret string, accessTTL time.Duration) *AuthService {
	return &AuthService{
		jwtSecret: []byte(jwtSecret),
		accessTTL: accessTTL,
	}
}

// JWTClaims represents the custom claims in access tokens.
type JWTClaims struct {
	Sub   string `json:"sub"`
	OrgID string `json:"org_id"`
	Type  string `json:"type"`
	jwt.RegisteredClaims
}

// ValidateAccessToken parses and verifies a bearer token and returns its
// claims. Any parse, signature or expiry failure maps to ErrUnauthorized.
func (s *AuthService) ValidateAccessToken(tokenString string) (*JWTClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &JWTClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.jwtSecret, nil
	})
	if err != nil {
		return nil, &domain.ErrUnauthorized{Message: "invalid or expired token"}
	}

	claims, ok := token.Claims.(*JWTClaims)
	if !ok || !token.Valid {
		return nil, &domain.ErrUnauthorized{Message: "invalid token"}
	}

	if claims.Type != "access" {
		return nil, &domain.ErrUnauthorized{Message: "invalid token type"}
	}
	if claims.OrgID == "" {
		return nil, &domain.ErrUnauthorized{Message: "token has no organization"}
	}

	return claims, nil
}

// SignAccessToken mints an access token scoped to one organization.
func (s *AuthService) SignAccessToken(subject, orgID string) (string, error) {
	now := time.Now()
	claims := JWTClaims{
		Sub:   subject,
		OrgID: orgID,
		Type:  "access",
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.accessTTL)),
			Issuer:    "costwatch-api",
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.jwtSecret)
}
