package services

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/mharlow/gatehouse/internal/auth"
	"github.com/mharlow/gatehouse/internal/models"
	pkgauth "github.com/mharlow/gatehouse/pkg/auth"
	pkglogger "github.com/mharlow/gatehouse/pkg/logger"
)

// CaptchaVerifier abstracts the hCaptcha siteverify call
type CaptchaVerifier interface {
	Verify(ctx context.Context, token string) error
}

// AuthService handles the session protocol: sign-in, the TOTP completion
// step, refresh, and current-user resolution.
type AuthService struct {
	users       UserRepository
	tm          *auth.TokenManager
	captcha     CaptchaVerifier
	secrets     *auth.SecretBox
	totp        *auth.TOTPManager
	timing      *auth.TimingDelay
	logger      *slog.Logger
	auditLogger *pkglogger.AuditLogger
}

// NewAuthService creates a new AuthService
func NewAuthService(users UserRepository, tm *auth.TokenManager, captcha CaptchaVerifier, secrets *auth.SecretBox, totp *auth.TOTPManager, timing *auth.TimingDelay, logger *slog.Logger, auditLogger *pkglogger.AuditLogger) *AuthService {
	return &AuthService{
		users:       users,
		tm:          tm,
		captcha:     captcha,
		secrets:     secrets,
		totp:        totp,
		timing:      timing,
		logger:      logger,
		auditLogger: auditLogger,
	}
}

// UserResponse is the sanitized user shape returned to clients. It never
// carries the password hash or any TOTP secret material.
type UserResponse struct {
	ID              int64  `json:"id"`
	Username        string `json:"username"`
	Email           string `json:"email"`
	Role            string `json:"role"`
	AccountVerified bool   `json:"accountVerified"`
	TOTPAuthOn      bool   `json:"totpAuthOn"`
	CreatedAt       string `json:"createdAt"`
	UpdatedAt       string `json:"updatedAt"`
}

// SignInResult carries the outcome of a sign-in or TOTP completion. When
// RequireTotp is set, no tokens are issued and the client must continue
// with the TOTP step.
type SignInResult struct {
	User         *UserResponse
	RequireTotp  bool
	UserID       int64
	AccessToken  string
	RefreshToken string
}

// SignIn runs the credential pipeline: captcha present, captcha valid,
// user exists, password matches, account verified, then the 2FA branch.
// Unknown email and wrong password are indistinguishable to the caller.
func (s *AuthService) SignIn(ctx context.Context, email, password, captchaToken, ipAddress string) (*SignInResult, error) {
	start := time.Now()

	if err := s.captcha.Verify(ctx, captchaToken); err != nil {
		return nil, err
	}

	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		s.timing.WaitFrom(start, false)
		return nil, models.ErrUnauthorized
	}

	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			s.logger.Info("sign-in failed: invalid credentials")
			s.auditLogger.LogAuthAttempt(pkglogger.AuditEvent{
				EventType:     "sign_in_failed",
				IPAddress:     ipAddress,
				FailureReason: "invalid_credentials",
				Success:       false,
			})
			s.timing.WaitFrom(start, false)
			return nil, models.ErrUnauthorized
		}
		s.logger.Error("failed to get user by email", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	if err := pkgauth.ComparePassword(user.PasswordHash, password); err != nil {
		s.logger.Info("sign-in failed: invalid credentials")
		s.auditLogger.LogAuthAttempt(pkglogger.AuditEvent{
			EventType:     "sign_in_failed",
			UserID:        user.ID,
			IPAddress:     ipAddress,
			FailureReason: "invalid_credentials",
			Success:       false,
		})
		s.timing.WaitFrom(start, false)
		return nil, models.ErrUnauthorized
	}

	if !user.AccountVerified {
		s.logger.Info("sign-in blocked: account not verified", slog.Int64("user_id", user.ID))
		s.auditLogger.LogAuthAttempt(pkglogger.AuditEvent{
			EventType:     "sign_in_failed",
			UserID:        user.ID,
			IPAddress:     ipAddress,
			FailureReason: "account_not_verified",
			Success:       false,
		})
		return nil, models.ErrAccountNotVerified
	}

	if user.TOTPAuthOn {
		s.logger.Info("sign-in pending TOTP", slog.Int64("user_id", user.ID))
		return &SignInResult{RequireTotp: true, UserID: user.ID}, nil
	}

	return s.issueSession(user, "sign_in_success", ipAddress)
}

// CompleteTOTP finishes a sign-in for an account with two-factor auth on.
// An unknown user id is a 404; a wrong code is a 401.
func (s *AuthService) CompleteTOTP(ctx context.Context, userID int64, code string) (*SignInResult, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, models.ErrNotFound
		}
		s.logger.Error("failed to get user for TOTP completion", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	if !user.TOTPAuthOn || user.TOTPSecret == nil {
		s.logger.Warn("TOTP completion for account without TOTP", slog.Int64("user_id", user.ID))
		return nil, models.ErrBadRequest
	}

	secret, err := s.secrets.Decrypt(*user.TOTPSecret)
	if err != nil {
		s.logger.Error("failed to decrypt TOTP secret", slog.Int64("user_id", user.ID), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	if !s.totp.VerifyCode(secret, code) {
		s.logger.Info("sign-in failed: invalid TOTP code", slog.Int64("user_id", user.ID))
		s.auditLogger.LogAuthAttempt(pkglogger.AuditEvent{
			EventType:     "totp_failed",
			UserID:        user.ID,
			FailureReason: "invalid_totp_code",
			Success:       false,
		})
		return nil, models.ErrInvalidTOTPCode
	}

	return s.issueSession(user, "totp_success", "")
}

// issueSession mints both session tokens for a fully authenticated user
func (s *AuthService) issueSession(user *models.User, eventType, ipAddress string) (*SignInResult, error) {
	accessToken, err := s.tm.GenerateAccessToken(user.ID)
	if err != nil {
		s.logger.Error("failed to generate access token", slog.Int64("user_id", user.ID), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	refreshToken, err := s.tm.GenerateRefreshToken(user.ID)
	if err != nil {
		s.logger.Error("failed to generate refresh token", slog.Int64("user_id", user.ID), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	s.logger.Info("user signed in", slog.Int64("user_id", user.ID))
	s.auditLogger.LogAuthAttempt(pkglogger.AuditEvent{
		EventType: eventType,
		UserID:    user.ID,
		IPAddress: ipAddress,
		Success:   true,
	})

	return &SignInResult{
		User:         userModelToResponse(user),
		UserID:       user.ID,
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
	}, nil
}

// Refresh validates a refresh token and mints a new access token. The
// refresh token itself is not rotated; it stays valid until its expiry.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string) (string, error) {
	if strings.TrimSpace(refreshToken) == "" {
		return "", models.ErrUnauthorized
	}

	claims, err := s.tm.ValidateRefreshToken(refreshToken)
	if err != nil {
		s.logger.Info("refresh token validation failed", slog.Any("error", err))
		return "", models.ErrUnauthorized
	}

	user, err := s.users.GetByID(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			s.logger.Info("refresh for deleted user", slog.Int64("user_id", claims.UserID))
			return "", models.ErrUnauthorized
		}
		s.logger.Error("failed to get user for refresh", slog.Any("error", err))
		return "", models.ErrInternalServer
	}

	accessToken, err := s.tm.GenerateAccessToken(user.ID)
	if err != nil {
		s.logger.Error("failed to generate access token", slog.Int64("user_id", user.ID), slog.Any("error", err))
		return "", models.ErrInternalServer
	}

	s.logger.Info("session refreshed", slog.Int64("user_id", user.ID))
	return accessToken, nil
}

// CurrentUser resolves the access token to a sanitized user. An absent,
// invalid, or stale token and a deleted user all yield (nil, nil); the
// caller renders a null user rather than an error.
func (s *AuthService) CurrentUser(ctx context.Context, accessToken string) (*UserResponse, error) {
	if strings.TrimSpace(accessToken) == "" {
		return nil, nil
	}

	claims, err := s.tm.ValidateAccessToken(accessToken)
	if err != nil {
		return nil, nil
	}

	user, err := s.users.GetByID(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, nil
		}
		s.logger.Error("failed to get current user", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	return userModelToResponse(user), nil
}

// userModelToResponse converts a user model to its response DTO
func userModelToResponse(user *models.User) *UserResponse {
	return &UserResponse{
		ID:              user.ID,
		Username:        user.Username,
		Email:           user.Email,
		Role:            user.Role,
		AccountVerified: user.AccountVerified,
		TOTPAuthOn:      user.TOTPAuthOn,
		CreatedAt:       user.CreatedAt.Format(time.RFC3339),
		UpdatedAt:       user.UpdatedAt.Format(time.RFC3339),
	}
}
