package models

import (
	"github.com/golang-jwt/jwt/v5"
)

// Token type claim values. Access and refresh tokens are signed with
// different secrets; the type claim is a second line of defense.
const (
	TokenTypeAccess  = "access"
	TokenTypeRefresh = "refresh"
)

type TokenClaims struct {
	Type   string `json:"type"`
	UserID int64  `json:"user_id"`
	jwt.RegisteredClaims
}
