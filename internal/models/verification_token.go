package models

import (
	"time"
)

// TokenType identifies the privileged operation a verification token gates.
type TokenType string

const (
	TokenAccountVerification TokenType = "account_verification"
	TokenEmailChange         TokenType = "email_change"
	TokenPasswordReset       TokenType = "password_reset"
	TokenAccountDeletion     TokenType = "account_deletion"
)

// Valid reports whether t is one of the known token types.
func (t TokenType) Valid() bool {
	switch t {
	case TokenAccountVerification, TokenEmailChange, TokenPasswordReset, TokenAccountDeletion:
		return true
	}
	return false
}

// VerificationToken represents a single pending privileged operation.
// At most one row exists per (user, token type); re-issuing replaces the
// hash and resets expiry and used_at. The plain token value is never
// stored, only its SHA-256 hash.
type VerificationToken struct {
	ID        string
	UserID    int64
	TokenType TokenType
	TokenHash string `json:"-"` // Never expose token hash
	Payload   string // pending new email for email_change tokens
	ExpiresAt time.Time
	UsedAt    *time.Time
	CreatedAt time.Time
}

// IsExpired checks if the token has expired
func (t *VerificationToken) IsExpired() bool {
	return time.Now().After(t.ExpiresAt)
}

// IsUsed checks if the token has already been consumed
func (t *VerificationToken) IsUsed() bool {
	return t.UsedAt != nil
}

// IsActive checks if the token can still be consumed
func (t *VerificationToken) IsActive() bool {
	return !t.IsExpired() && !t.IsUsed()
}
