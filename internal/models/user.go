package models

import (
	"time"
)

// EncryptedSecret is the at-rest form of a TOTP secret: AES-256-GCM output
// with the auth tag split into its own field. All three fields are base64
// so the bundle survives text-based storage.
type EncryptedSecret struct {
	Ciphertext string
	IV         string
	Tag        string
}

type User struct {
	ID              int64
	Username        string // unique, case-insensitive
	Email           string // unique, case-insensitive; mutates only via the email-change protocol
	PasswordHash    string
	Role            string // "user" or "admin"
	AccountVerified bool
	TOTPAuthOn      bool
	TOTPSecret      *EncryptedSecret // set only while TOTPAuthOn
	CreatedAt       time.Time
	UpdatedAt       time.Time
}
