package syncer

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidToken is returned for expired or tampered workspace tokens.
var ErrInvalidToken = errors.New("invalid or expired workspace token")

// TokenManager issues the signed workspace tokens the remote store requires.
// This is the only authentication the engine handles; user accounts are out
// of scope.
type TokenManager struct {
	secretKey     []byte
	tokenDuration time.Duration
}

// workspaceClaims binds a token to a single workspace.
type workspaceClaims struct {
	Workspace string `json:"workspace"`
	jwt.RegisteredClaims
}

// NewTokenManager creates a token manager. secretKey should be a strong
// random string shared with the remote store; tokenDuration bounds how long
// an issued token stays valid.
func NewTokenManager(secretKey string, tokenDuration time.Duration) *TokenManager {
	return &TokenManager{
		secretKey:     []byte(secretKey),
		tokenDuration: tokenDuration,
	}
}

// Generate creates a new token scoped to the given workspace.
func (m *TokenManager) Generate(workspaceID string) (string, error) {
	claims := &workspaceClaims{
		Workspace: workspaceID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(m.tokenDuration)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			NotBefore: jwt.NewNumericDate(time.Now()),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString(m.secretKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return tokenString, nil
}

// Validate parses a token and returns the workspace it is scoped to. The
// client side only ever generates; Validate is the server half of the pair,
// for relay implementations that share this package.
func (m *TokenManager) Validate(tokenString string) (string, error) {
	token, err := jwt.ParseWithClaims(
		tokenString,
		&workspaceClaims{},
		func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
			}
			return m.secretKey, nil
		},
	)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	claims, ok := token.Claims.(*workspaceClaims)
	if !ok || !token.Valid {
		return "", ErrInvalidToken
	}
	return claims.Workspace, nil
}
