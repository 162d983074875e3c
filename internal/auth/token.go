package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/mharlow/gatehouse/internal/models"
)

// TokenManager signs and verifies the stateless session credentials.
// Access and refresh tokens use independent secrets so that leaking one
// verification key cannot forge the other token type.
type TokenManager struct {
	accessSecret  []byte
	refreshSecret []byte
	accessExpiry  time.Duration
	refreshExpiry time.Duration
}

// NewTokenManager creates a TokenManager. Both secrets must be present and
// distinct; configuration errors here are startup-fatal.
func NewTokenManager(accessSecret, refreshSecret string, accessExpiry, refreshExpiry time.Duration) (*TokenManager, error) {
	if accessSecret == "" || refreshSecret == "" {
		return nil, fmt.Errorf("both token secrets are required")
	}
	if accessSecret == refreshSecret {
		return nil, fmt.Errorf("access and refresh token secrets must differ")
	}

	return &TokenManager{
		accessSecret:  []byte(accessSecret),
		refreshSecret: []byte(refreshSecret),
		accessExpiry:  accessExpiry,
		refreshExpiry: refreshExpiry,
	}, nil
}

// AccessTokenExpiry returns the configured access token lifetime
func (tm *TokenManager) AccessTokenExpiry() time.Duration {
	return tm.accessExpiry
}

// RefreshTokenExpiry returns the configured refresh token lifetime
func (tm *TokenManager) RefreshTokenExpiry() time.Duration {
	return tm.refreshExpiry
}

// GenerateAccessToken creates a short-lived access token for the user
func (tm *TokenManager) GenerateAccessToken(userID int64) (string, error) {
	return tm.generate(userID, models.TokenTypeAccess, tm.accessSecret, tm.accessExpiry)
}

// GenerateRefreshToken creates a long-lived refresh token for the user
func (tm *TokenManager) GenerateRefreshToken(userID int64) (string, error) {
	return tm.generate(userID, models.TokenTypeRefresh, tm.refreshSecret, tm.refreshExpiry)
}

func (tm *TokenManager) generate(userID int64, tokenType string, secret []byte, expiry time.Duration) (string, error) {
	now := time.Now()
	claims := &models.TokenClaims{
		Type:   tokenType,
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.New().String(),
			ExpiresAt: jwt.NewNumericDate(now.Add(expiry)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)

	tokenString, err := token.SignedString(secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign %s token: %w", tokenType, err)
	}

	return tokenString, nil
}

// ValidateAccessToken verifies a token against the access secret
func (tm *TokenManager) ValidateAccessToken(tokenString string) (*models.TokenClaims, error) {
	return tm.validate(tokenString, models.TokenTypeAccess, tm.accessSecret)
}

// ValidateRefreshToken verifies a token against the refresh secret
func (tm *TokenManager) ValidateRefreshToken(tokenString string) (*models.TokenClaims, error) {
	return tm.validate(tokenString, models.TokenTypeRefresh, tm.refreshSecret)
}

// validate rejects signature mismatches, unexpected algorithms, expiry, and
// type-claim mismatches. Every failure maps to ErrUnauthorized; clients get
// no detail about which check failed.
func (tm *TokenManager) validate(tokenString, wantType string, secret []byte) (*models.TokenClaims, error) {
	claims := &models.TokenClaims{}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return secret, nil
	})

	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrUnauthorized, err)
	}

	if !token.Valid {
		return nil, models.ErrUnauthorized
	}

	if claims.Type != wantType {
		return nil, fmt.Errorf("%w: token type mismatch", models.ErrUnauthorized)
	}

	if claims.UserID == 0 {
		return nil, fmt.Errorf("%w: missing subject", models.ErrUnauthorized)
	}

	return claims, nil
}
