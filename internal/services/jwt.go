package services

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"pvp-casino-backend/internal/config"
	"pvp-casino-backend/internal/models"
)

var ErrInvalidToken = errors.New("invalid token")

// Claims carries the participant id in the standard subject claim.
type Claims struct {
	Role string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

func (c *Claims) User() models.User {
	return models.User{ID: c.Subject, Role: c.Role}
}

type JWTService struct {
	secret []byte
	issuer string
}

func NewJWTService(cfg *config.Config) *JWTService {
	return &JWTService{secret: []byte(cfg.JWTSecret), issuer: "pvp-casino"}
}

func (s *JWTService) ValidateToken(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		return s.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid || claims.Subject == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// GenerateToken mints a token for local runs and the fairctl CLI. Production
// tokens come from the identity provider.
func (s *JWTService) GenerateToken(userID, role string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := &Claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Issuer:    s.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}
