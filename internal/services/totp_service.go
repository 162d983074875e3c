package services

import (
	"context"
	"errors"
	"log/slog"

	"github.com/mharlow/gatehouse/internal/auth"
	"github.com/mharlow/gatehouse/internal/models"
	pkglogger "github.com/mharlow/gatehouse/pkg/logger"
)

// TOTPService handles two-factor enrollment. The plaintext secret exists
// only in memory between enrollment generation and the confirming code
// check; it is stored encrypted.
type TOTPService struct {
	users       UserRepository
	totp        *auth.TOTPManager
	secrets     *auth.SecretBox
	logger      *slog.Logger
	auditLogger *pkglogger.AuditLogger
}

// NewTOTPService creates a new TOTPService
func NewTOTPService(users UserRepository, totp *auth.TOTPManager, secrets *auth.SecretBox, logger *slog.Logger, auditLogger *pkglogger.AuditLogger) *TOTPService {
	return &TOTPService{
		users:       users,
		totp:        totp,
		secrets:     secrets,
		logger:      logger,
		auditLogger: auditLogger,
	}
}

// GetEnrollment generates a fresh candidate secret, provisioning URI, and
// QR code for the user. Nothing is persisted until Enroll confirms a code.
func (s *TOTPService) GetEnrollment(ctx context.Context, userID int64) (*auth.Enrollment, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, models.ErrNotFound
		}
		s.logger.Error("failed to get user for TOTP enrollment", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	enrollment, err := s.totp.GenerateEnrollment(user.Email)
	if err != nil {
		s.logger.Error("failed to generate TOTP enrollment", slog.Int64("user_id", user.ID), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	return enrollment, nil
}

// Enroll turns two-factor auth on. The code must verify against the
// candidate secret before anything is stored; only then is the secret
// encrypted and persisted.
func (s *TOTPService) Enroll(ctx context.Context, userID int64, secret, code string) error {
	if secret == "" || code == "" {
		return models.ErrBadRequest
	}

	if !s.totp.VerifyCode(secret, code) {
		s.logger.Info("TOTP enrollment rejected: invalid code", slog.Int64("user_id", userID))
		s.auditLogger.LogAccountAction("totp_enroll_failed", userID, nil)
		return models.ErrInvalidTOTPCode
	}

	sealed, err := s.secrets.Encrypt(secret)
	if err != nil {
		s.logger.Error("failed to encrypt TOTP secret", slog.Int64("user_id", userID), slog.Any("error", err))
		return models.ErrInternalServer
	}

	if err := s.users.SetTOTP(ctx, userID, &sealed); err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return models.ErrNotFound
		}
		s.logger.Error("failed to store TOTP secret", slog.Int64("user_id", userID), slog.Any("error", err))
		return models.ErrInternalServer
	}

	s.logger.Info("TOTP enabled", slog.Int64("user_id", userID))
	s.auditLogger.LogAccountAction("totp_enabled", userID, nil)
	return nil
}

// Disable turns two-factor auth off and discards the stored secret
func (s *TOTPService) Disable(ctx context.Context, userID int64) error {
	if err := s.users.ClearTOTP(ctx, userID); err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return models.ErrNotFound
		}
		s.logger.Error("failed to clear TOTP secret", slog.Int64("user_id", userID), slog.Any("error", err))
		return models.ErrInternalServer
	}

	s.logger.Info("TOTP disabled", slog.Int64("user_id", userID))
	s.auditLogger.LogAccountAction("totp_disabled", userID, nil)
	return nil
}
