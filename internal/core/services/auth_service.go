package services

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token expired")
	ErrForbidden    = errors.New("insufficient scope")
)

// Scope is the level of access a control API token grants.
type Scope string

const (
	ScopeRead    Scope = "session:read"
	ScopeControl Scope = "session:control"
)

func (s Scope) Valid() bool {
	return s == ScopeRead || s == ScopeControl
}

// AuthService issues and checks the HS256 tokens guarding the control API.
type AuthService interface {
	GenerateToken(subject string, scope Scope) (string, error)
	ValidateToken(tokenString string) (*Claims, error)
	CheckScope(claims *Claims, required Scope) error
}

type Claims struct {
	Scope Scope `json:"scope"`
	jwt.RegisteredClaims
}

type authService struct {
	jwtSecret      []byte
	accessTokenTTL time.Duration
}

func NewAuthService(jwtSecret string, accessTokenTTL time.Duration) AuthService {
	return &authService{
		jwtSecret:      []byte(jwtSecret),
		accessTokenTTL: accessTokenTTL,
	}
}

func (s *authService) GenerateToken(subject string, scope Scope) (string, error) {
	if !scope.Valid() {
		return "", ErrForbidden
	}
	now := time.Now()
	claims := &Claims{
		Scope: scope,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(now.Add(s.accessTokenTTL)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.jwtSecret)
}

func (s *authService) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return s.jwtSecret, nil
	})

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}

	if claims, ok := token.Claims.(*Claims); ok && token.Valid && claims.Scope.Valid() {
		return claims, nil
	}

	return nil, ErrInvalidToken
}

// CheckScope reports whether claims grant at least the required scope.
// Control implies read.
func (s *authService) CheckScope(claims *Claims, required Scope) error {
	if claims == nil {
		return ErrInvalidToken
	}
	levels := map[Scope]int{
		ScopeRead:    1,
		ScopeControl: 2,
	}
	if levels[claims.Scope] >= levels[required] {
		return nil
	}
	return ErrForbidden
}
