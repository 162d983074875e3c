package services

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/mharlow/gatehouse/internal/models"
	pkgauth "github.com/mharlow/gatehouse/pkg/auth"
	pkglogger "github.com/mharlow/gatehouse/pkg/logger"
)

// UserRepository defines the user data access operations the services need
type UserRepository interface {
	GetByID(ctx context.Context, id int64) (*models.User, error)
	GetByEmail(ctx context.Context, email string) (*models.User, error)
	GetByUsername(ctx context.Context, username string) (*models.User, error)
	Create(ctx context.Context, user *models.User) (*models.User, error)
	UpdatePassword(ctx context.Context, id int64, passwordHash string) error
	UpdateEmail(ctx context.Context, id int64, email string) error
	SetVerified(ctx context.Context, id int64) error
	SetTOTP(ctx context.Context, id int64, secret *models.EncryptedSecret) error
	ClearTOTP(ctx context.Context, id int64) error
	Delete(ctx context.Context, id int64) error
}

// VerificationTokenRepository defines the verification token data access operations
type VerificationTokenRepository interface {
	Upsert(ctx context.Context, userID int64, tokenType models.TokenType, tokenHash, payload string, expiresAt time.Time) (*models.VerificationToken, error)
	Consume(ctx context.Context, tokenHash string, tokenType models.TokenType) (*models.VerificationToken, error)
	GetActive(ctx context.Context, userID int64, tokenType models.TokenType) (*models.VerificationToken, error)
	DeleteByUserID(ctx context.Context, userID int64) error
}

// TxRunner executes fn with repositories bound to a single database
// transaction. Token consumption and the state change it guards must
// commit or roll back together.
type TxRunner func(ctx context.Context, fn func(users UserRepository, tokens VerificationTokenRepository) error) error

const (
	verificationTokenTTL = 1 * time.Hour
	resendCooldown       = 20 * time.Minute
)

// AccountService owns registration and the four token-gated account flows.
type AccountService struct {
	users       UserRepository
	tokens      VerificationTokenRepository
	email       EmailService
	runTx       TxRunner
	logger      *slog.Logger
	auditLogger *pkglogger.AuditLogger
}

// NewAccountService creates a new AccountService
func NewAccountService(users UserRepository, tokens VerificationTokenRepository, email EmailService, runTx TxRunner, logger *slog.Logger, auditLogger *pkglogger.AuditLogger) *AccountService {
	return &AccountService{
		users:       users,
		tokens:      tokens,
		email:       email,
		runTx:       runTx,
		logger:      logger,
		auditLogger: auditLogger,
	}
}

// newTokenValue generates an opaque verification token. The caller emails
// the plain value; only the hash is ever persisted.
func newTokenValue() (value, hash string, err error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", "", fmt.Errorf("failed to generate token value: %w", err)
	}

	value = base64.RawURLEncoding.EncodeToString(buf)
	return value, hashTokenValue(value), nil
}

// hashTokenValue derives the stored lookup hash for a plain token value
func hashTokenValue(value string) string {
	sum := sha256.Sum256([]byte(value))
	return hex.EncodeToString(sum[:])
}

// isTokenError reports whether err is one of the consumption failures that
// handlers collapse into a single generic message.
func isTokenError(err error) bool {
	return errors.Is(err, models.ErrTokenNotFound) ||
		errors.Is(err, models.ErrTokenExpired) ||
		errors.Is(err, models.ErrTokenAlreadyUsed)
}

// Register creates an unverified account and emails a verification token
func (s *AccountService) Register(ctx context.Context, username, email, password string) (*UserResponse, error) {
	username = strings.TrimSpace(username)
	email = strings.ToLower(strings.TrimSpace(email))

	if username == "" || email == "" {
		return nil, models.ErrBadRequest
	}

	if err := pkgauth.ValidatePassword(password); err != nil {
		return nil, err
	}

	if _, err := s.users.GetByEmail(ctx, email); err == nil {
		s.logger.Info("registration failed: email already in use")
		return nil, models.ErrConflict
	} else if !errors.Is(err, models.ErrNotFound) {
		s.logger.Error("failed to check email uniqueness", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	if _, err := s.users.GetByUsername(ctx, username); err == nil {
		s.logger.Info("registration failed: username already in use")
		return nil, models.ErrConflict
	} else if !errors.Is(err, models.ErrNotFound) {
		s.logger.Error("failed to check username uniqueness", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	hashedPassword, err := pkgauth.HashPassword(password)
	if err != nil {
		s.logger.Error("failed to hash password", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	user := &models.User{
		Username:        username,
		Email:           email,
		PasswordHash:    hashedPassword,
		Role:            "user",
		AccountVerified: false,
	}

	createdUser, err := s.users.Create(ctx, user)
	if err != nil {
		if errors.Is(err, models.ErrConflict) {
			return nil, models.ErrConflict
		}
		s.logger.Error("failed to create user", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	s.logger.Info("user registered", slog.Int64("user_id", createdUser.ID))
	s.auditLogger.LogAccountAction("user_registered", createdUser.ID, nil)

	// Best-effort: the account exists either way and a resend is available
	s.issueAndSendVerification(ctx, createdUser)

	return userModelToResponse(createdUser), nil
}

// issueAndSendVerification issues an account verification token and emails
// it. Failures are logged, never surfaced: registration already succeeded.
func (s *AccountService) issueAndSendVerification(ctx context.Context, user *models.User) {
	value, hash, err := newTokenValue()
	if err != nil {
		s.logger.Error("failed to generate verification token", slog.Int64("user_id", user.ID), slog.Any("error", err))
		return
	}

	token, err := s.tokens.Upsert(ctx, user.ID, models.TokenAccountVerification, hash, "", time.Now().Add(verificationTokenTTL))
	if err != nil {
		s.logger.Error("failed to store verification token", slog.Int64("user_id", user.ID), slog.Any("error", err))
		return
	}
	s.auditLogger.LogTokenAction("token_issued", user.ID, string(models.TokenAccountVerification), true)

	if err := s.email.SendAccountVerificationEmail(ctx, user.Email, value, token.ExpiresAt); err != nil {
		s.logger.Error("failed to send verification email", slog.Int64("user_id", user.ID), slog.Any("error", err))
	}
}

// VerifyAccount consumes an account verification token and flips the
// account to verified, atomically.
func (s *AccountService) VerifyAccount(ctx context.Context, tokenValue string) error {
	hash := hashTokenValue(tokenValue)

	var userID int64
	err := s.runTx(ctx, func(users UserRepository, tokens VerificationTokenRepository) error {
		token, err := tokens.Consume(ctx, hash, models.TokenAccountVerification)
		if err != nil {
			return err
		}
		userID = token.UserID

		return users.SetVerified(ctx, token.UserID)
	})
	if err != nil {
		if isTokenError(err) {
			s.logger.Info("account verification rejected", slog.Any("error", err))
			s.auditLogger.LogTokenAction("token_consume", userID, string(models.TokenAccountVerification), false)
			return err
		}
		s.logger.Error("account verification failed", slog.Any("error", err))
		return models.ErrInternalServer
	}

	s.logger.Info("account verified", slog.Int64("user_id", userID))
	s.auditLogger.LogTokenAction("token_consume", userID, string(models.TokenAccountVerification), true)
	return nil
}

// ResendVerification re-issues the verification token for an unverified
// account. Unknown addresses, verified accounts, and cooldown hits are all
// silent so responses cannot confirm that an email exists.
func (s *AccountService) ResendVerification(ctx context.Context, email string) error {
	email = strings.ToLower(strings.TrimSpace(email))

	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			s.logger.Info("verification resend for unknown email")
			return nil
		}
		s.logger.Error("failed to look up user for resend", slog.Any("error", err))
		return models.ErrInternalServer
	}

	if user.AccountVerified {
		s.logger.Info("verification resend for already verified account", slog.Int64("user_id", user.ID))
		return nil
	}

	if s.inCooldown(ctx, user.ID, models.TokenAccountVerification) {
		return nil
	}

	s.issueAndSendVerification(ctx, user)
	return nil
}

// inCooldown reports whether a token of the given type was issued for the
// user inside the resend cooldown window.
func (s *AccountService) inCooldown(ctx context.Context, userID int64, tokenType models.TokenType) bool {
	token, err := s.tokens.GetActive(ctx, userID, tokenType)
	if err != nil {
		return false
	}

	if time.Since(token.CreatedAt) < resendCooldown {
		s.logger.Info("token re-issue suppressed by cooldown",
			slog.Int64("user_id", userID),
			slog.String("token_type", string(tokenType)))
		return true
	}
	return false
}

// RequestEmailChange issues an email change token carrying the pending new
// address. The token goes to the new address; the current one gets a notice.
func (s *AccountService) RequestEmailChange(ctx context.Context, userID int64, newEmail string) error {
	newEmail = strings.ToLower(strings.TrimSpace(newEmail))
	if newEmail == "" {
		return models.ErrBadRequest
	}

	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return models.ErrNotFound
		}
		s.logger.Error("failed to load user for email change", slog.Any("error", err))
		return models.ErrInternalServer
	}

	if strings.EqualFold(user.Email, newEmail) {
		return models.ErrBadRequest
	}

	if _, err := s.users.GetByEmail(ctx, newEmail); err == nil {
		return models.ErrConflict
	} else if !errors.Is(err, models.ErrNotFound) {
		s.logger.Error("failed to check new email uniqueness", slog.Any("error", err))
		return models.ErrInternalServer
	}

	value, hash, err := newTokenValue()
	if err != nil {
		s.logger.Error("failed to generate email change token", slog.Any("error", err))
		return models.ErrInternalServer
	}

	token, err := s.tokens.Upsert(ctx, user.ID, models.TokenEmailChange, hash, newEmail, time.Now().Add(verificationTokenTTL))
	if err != nil {
		s.logger.Error("failed to store email change token", slog.Any("error", err))
		return models.ErrInternalServer
	}
	s.auditLogger.LogTokenAction("token_issued", user.ID, string(models.TokenEmailChange), true)

	if err := s.email.SendEmailChangeEmail(ctx, newEmail, value, token.ExpiresAt); err != nil {
		s.logger.Error("failed to send email change email", slog.Int64("user_id", user.ID), slog.Any("error", err))
		return fmt.Errorf("%w: email dispatch failed", models.ErrUpstream)
	}

	if err := s.email.SendEmailChangeNotice(ctx, user.Email, newEmail); err != nil {
		s.logger.Error("failed to send email change notice", slog.Int64("user_id", user.ID), slog.Any("error", err))
	}

	return nil
}

// ConfirmEmailChange consumes an email change token and swaps the address,
// atomically. The notice to the old address is best-effort.
func (s *AccountService) ConfirmEmailChange(ctx context.Context, tokenValue string) error {
	hash := hashTokenValue(tokenValue)

	var userID int64
	var oldEmail, newEmail string
	err := s.runTx(ctx, func(users UserRepository, tokens VerificationTokenRepository) error {
		token, err := tokens.Consume(ctx, hash, models.TokenEmailChange)
		if err != nil {
			return err
		}
		userID = token.UserID
		newEmail = token.Payload

		if newEmail == "" {
			return models.ErrTokenNotFound
		}

		user, err := users.GetByID(ctx, token.UserID)
		if err != nil {
			return err
		}
		oldEmail = user.Email

		return users.UpdateEmail(ctx, token.UserID, newEmail)
	})
	if err != nil {
		if isTokenError(err) {
			s.logger.Info("email change rejected", slog.Any("error", err))
			s.auditLogger.LogTokenAction("token_consume", userID, string(models.TokenEmailChange), false)
			return err
		}
		if errors.Is(err, models.ErrConflict) {
			// Address was claimed between request and confirmation
			s.logger.Info("email change rejected: address no longer available", slog.Int64("user_id", userID))
			return models.ErrTokenNotFound
		}
		s.logger.Error("email change failed", slog.Any("error", err))
		return models.ErrInternalServer
	}

	s.logger.Info("email changed", slog.Int64("user_id", userID))
	s.auditLogger.LogTokenAction("token_consume", userID, string(models.TokenEmailChange), true)
	s.auditLogger.LogAccountAction("email_changed", userID, map[string]string{
		"new_email": pkglogger.SanitizedEmail(newEmail),
	})

	if err := s.email.SendEmailChangeNotice(ctx, oldEmail, newEmail); err != nil {
		s.logger.Error("failed to send email change notice", slog.Int64("user_id", userID), slog.Any("error", err))
	}

	return nil
}

// RequestPasswordReset issues a reset token. Silent for unknown addresses.
func (s *AccountService) RequestPasswordReset(ctx context.Context, email string) error {
	email = strings.ToLower(strings.TrimSpace(email))

	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			s.logger.Info("password reset requested for unknown email")
			return nil
		}
		s.logger.Error("failed to look up user for password reset", slog.Any("error", err))
		return models.ErrInternalServer
	}

	if s.inCooldown(ctx, user.ID, models.TokenPasswordReset) {
		return nil
	}

	value, hash, err := newTokenValue()
	if err != nil {
		s.logger.Error("failed to generate reset token", slog.Any("error", err))
		return models.ErrInternalServer
	}

	token, err := s.tokens.Upsert(ctx, user.ID, models.TokenPasswordReset, hash, "", time.Now().Add(verificationTokenTTL))
	if err != nil {
		s.logger.Error("failed to store reset token", slog.Any("error", err))
		return models.ErrInternalServer
	}
	s.auditLogger.LogTokenAction("token_issued", user.ID, string(models.TokenPasswordReset), true)

	if err := s.email.SendPasswordResetEmail(ctx, user.Email, value, token.ExpiresAt); err != nil {
		s.logger.Error("failed to send reset email", slog.Int64("user_id", user.ID), slog.Any("error", err))
	}

	return nil
}

// ResetPassword consumes a reset token and updates the password,
// atomically. The supplied email must belong to the token's owner.
func (s *AccountService) ResetPassword(ctx context.Context, email, tokenValue, newPassword string) error {
	email = strings.ToLower(strings.TrimSpace(email))

	if err := pkgauth.ValidatePassword(newPassword); err != nil {
		return err
	}

	hashedPassword, err := pkgauth.HashPassword(newPassword)
	if err != nil {
		s.logger.Error("failed to hash password", slog.Any("error", err))
		return models.ErrInternalServer
	}

	hash := hashTokenValue(tokenValue)

	var userID int64
	err = s.runTx(ctx, func(users UserRepository, tokens VerificationTokenRepository) error {
		token, err := tokens.Consume(ctx, hash, models.TokenPasswordReset)
		if err != nil {
			return err
		}
		userID = token.UserID

		user, err := users.GetByID(ctx, token.UserID)
		if err != nil {
			return err
		}
		if !strings.EqualFold(user.Email, email) {
			return models.ErrTokenNotFound
		}

		return users.UpdatePassword(ctx, token.UserID, hashedPassword)
	})
	if err != nil {
		if isTokenError(err) {
			s.logger.Info("password reset rejected", slog.Any("error", err))
			s.auditLogger.LogTokenAction("token_consume", userID, string(models.TokenPasswordReset), false)
			return err
		}
		s.logger.Error("password reset failed", slog.Any("error", err))
		return models.ErrInternalServer
	}

	s.logger.Info("password reset", slog.Int64("user_id", userID))
	s.auditLogger.LogTokenAction("token_consume", userID, string(models.TokenPasswordReset), true)
	s.auditLogger.LogAccountAction("password_reset", userID, nil)
	return nil
}

// RequestAccountDeletion issues a deletion token to the account's address
func (s *AccountService) RequestAccountDeletion(ctx context.Context, userID int64) error {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return models.ErrNotFound
		}
		s.logger.Error("failed to load user for deletion request", slog.Any("error", err))
		return models.ErrInternalServer
	}

	if s.inCooldown(ctx, user.ID, models.TokenAccountDeletion) {
		return nil
	}

	value, hash, err := newTokenValue()
	if err != nil {
		s.logger.Error("failed to generate deletion token", slog.Any("error", err))
		return models.ErrInternalServer
	}

	token, err := s.tokens.Upsert(ctx, user.ID, models.TokenAccountDeletion, hash, "", time.Now().Add(verificationTokenTTL))
	if err != nil {
		s.logger.Error("failed to store deletion token", slog.Any("error", err))
		return models.ErrInternalServer
	}
	s.auditLogger.LogTokenAction("token_issued", user.ID, string(models.TokenAccountDeletion), true)

	if err := s.email.SendAccountDeletionEmail(ctx, user.Email, value, token.ExpiresAt); err != nil {
		s.logger.Error("failed to send deletion email", slog.Int64("user_id", user.ID), slog.Any("error", err))
	}

	return nil
}

// ConfirmAccountDeletion consumes a deletion token and removes the user
// row, atomically. Remaining tokens go with the row via cascade.
func (s *AccountService) ConfirmAccountDeletion(ctx context.Context, tokenValue string) error {
	hash := hashTokenValue(tokenValue)

	var userID int64
	err := s.runTx(ctx, func(users UserRepository, tokens VerificationTokenRepository) error {
		token, err := tokens.Consume(ctx, hash, models.TokenAccountDeletion)
		if err != nil {
			return err
		}
		userID = token.UserID

		return users.Delete(ctx, token.UserID)
	})
	if err != nil {
		if isTokenError(err) {
			s.logger.Info("account deletion rejected", slog.Any("error", err))
			s.auditLogger.LogTokenAction("token_consume", userID, string(models.TokenAccountDeletion), false)
			return err
		}
		s.logger.Error("account deletion failed", slog.Any("error", err))
		return models.ErrInternalServer
	}

	s.logger.Info("account deleted", slog.Int64("user_id", userID))
	s.auditLogger.LogTokenAction("token_consume", userID, string(models.TokenAccountDeletion), true)
	s.auditLogger.LogAccountAction("account_deleted", userID, nil)
	return nil
}
