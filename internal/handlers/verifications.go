package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/mharlow/gatehouse/internal/auth"
	"github.com/mharlow/gatehouse/internal/models"
	pkgauth "github.com/mharlow/gatehouse/pkg/auth"
	pkghttp "github.com/mharlow/gatehouse/pkg/http"
)

// AccountServiceInterface defines the account lifecycle operations
type AccountServiceInterface interface {
	VerifyAccount(ctx context.Context, token string) error
	ResendVerification(ctx context.Context, email string) error
	RequestEmailChange(ctx context.Context, userID int64, newEmail string) error
	ConfirmEmailChange(ctx context.Context, token string) error
	RequestPasswordReset(ctx context.Context, email string) error
	ResetPassword(ctx context.Context, email, token, newPassword string) error
	RequestAccountDeletion(ctx context.Context, userID int64) error
	ConfirmAccountDeletion(ctx context.Context, token string) error
}

// TOTPServiceInterface defines the two-factor enrollment operations
type TOTPServiceInterface interface {
	GetEnrollment(ctx context.Context, userID int64) (*auth.Enrollment, error)
	Enroll(ctx context.Context, userID int64, secret, code string) error
	Disable(ctx context.Context, userID int64) error
}

// VerificationHandler handles the token-gated account flows and TOTP
// enrollment endpoints. Token failures all surface as one generic 400 so
// responses never reveal whether a token existed, expired, or was reused.
type VerificationHandler struct {
	account AccountServiceInterface
	totp    TOTPServiceInterface
}

// NewVerificationHandler creates a new VerificationHandler
func NewVerificationHandler(account AccountServiceInterface, totp TOTPServiceInterface) *VerificationHandler {
	return &VerificationHandler{
		account: account,
		totp:    totp,
	}
}

const (
	genericTokenMessage   = "Invalid or expired token"
	genericRequestMessage = "If an account exists with this email, an email has been sent."
)

// Request DTOs

// EmailRequest represents a request carrying only an email address
type EmailRequest struct {
	Email string `json:"email" validate:"required,email"`
}

// UserIDRequest represents a session-bound request targeting an account
type UserIDRequest struct {
	ID int64 `json:"id" validate:"required"`
}

// EmailChangeRequest represents the request body for an email change
type EmailChangeRequest struct {
	ID       int64  `json:"id" validate:"required"`
	NewEmail string `json:"newEmail" validate:"required,email"`
}

// SetTOTPAuthRequest represents the request body for toggling TOTP auth
type SetTOTPAuthRequest struct {
	ID         int64  `json:"id" validate:"required"`
	TOTPAuthOn *bool  `json:"totpAuthOn" validate:"required"`
	TOTPSecret string `json:"totpSecret"`
	TOTPCode   string `json:"totpCode"`
}

// ResetPasswordRequest represents the request body for a password reset
type ResetPasswordRequest struct {
	Email       string `json:"email" validate:"required,email"`
	NewPassword string `json:"newPassword" validate:"required"`
	Token       string `json:"token" validate:"required"`
}

// requireSessionFor enforces that the request's session belongs to the
// targeted account id. The session middleware has already run.
func requireSessionFor(r *http.Request, userID int64) error {
	claims := auth.GetUserFromContext(r)
	if claims == nil {
		return models.ErrUnauthorized
	}
	if claims.UserID != userID {
		return models.ErrForbidden
	}
	return nil
}

func writeSessionError(w http.ResponseWriter, err error) {
	if errors.Is(err, models.ErrForbidden) {
		pkghttp.WriteForbidden(w, "Session does not match the requested account")
		return
	}
	pkghttp.WriteUnauthorized(w, "Authentication required")
}

// writeTokenFlowError collapses every consumption failure into one message
func writeTokenFlowError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, models.ErrTokenNotFound),
		errors.Is(err, models.ErrTokenExpired),
		errors.Is(err, models.ErrTokenAlreadyUsed):
		pkghttp.WriteBadRequest(w, genericTokenMessage)
	default:
		pkghttp.WriteInternalError(w, "Internal server error")
	}
}

// VerifyAccount handles GET /verifications/verify-account-by-email?token=
func (h *VerificationHandler) VerifyAccount(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		pkghttp.WriteBadRequest(w, genericTokenMessage)
		return
	}

	if err := h.account.VerifyAccount(r.Context(), token); err != nil {
		writeTokenFlowError(w, err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, map[string]string{
		"message": "Account verified successfully.",
	})
}

// ConfirmEmailChange handles GET /verifications/confirm-email-change?token=
func (h *VerificationHandler) ConfirmEmailChange(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		pkghttp.WriteBadRequest(w, genericTokenMessage)
		return
	}

	if err := h.account.ConfirmEmailChange(r.Context(), token); err != nil {
		writeTokenFlowError(w, err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, map[string]string{
		"message": "Email address updated successfully.",
	})
}

// ConfirmAccountDeletion handles GET /verifications/confirm-account-deletion?token=
func (h *VerificationHandler) ConfirmAccountDeletion(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		pkghttp.WriteBadRequest(w, genericTokenMessage)
		return
	}

	if err := h.account.ConfirmAccountDeletion(r.Context(), token); err != nil {
		writeTokenFlowError(w, err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, map[string]string{
		"message": "Account deleted successfully.",
	})
}

// GetTOTPSecret handles POST /verifications/get-totp-secret
func (h *VerificationHandler) GetTOTPSecret(w http.ResponseWriter, r *http.Request) {
	var req UserIDRequest

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}

	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	if err := requireSessionFor(r, req.ID); err != nil {
		writeSessionError(w, err)
		return
	}

	enrollment, err := h.totp.GetEnrollment(r.Context(), req.ID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			pkghttp.WriteNotFound(w, "User not found")
			return
		}
		pkghttp.WriteInternalError(w, "Internal server error")
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, map[string]string{
		"totpSecret":  enrollment.Secret,
		"qrCodeImage": enrollment.QRCode,
	})
}

// SetTOTPAuth handles PATCH /verifications/set-totp-auth
func (h *VerificationHandler) SetTOTPAuth(w http.ResponseWriter, r *http.Request) {
	var req SetTOTPAuthRequest

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}

	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	if err := requireSessionFor(r, req.ID); err != nil {
		writeSessionError(w, err)
		return
	}

	var err error
	if *req.TOTPAuthOn {
		err = h.totp.Enroll(r.Context(), req.ID, req.TOTPSecret, req.TOTPCode)
	} else {
		err = h.totp.Disable(r.Context(), req.ID)
	}
	if err != nil {
		switch {
		case errors.Is(err, models.ErrInvalidTOTPCode):
			pkghttp.WriteBadRequest(w, "Invalid TOTP code")
		case errors.Is(err, models.ErrBadRequest):
			pkghttp.WriteBadRequest(w, "Missing TOTP secret or code")
		case errors.Is(err, models.ErrNotFound):
			pkghttp.WriteNotFound(w, "User not found")
		default:
			pkghttp.WriteInternalError(w, "Internal server error")
		}
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, map[string]string{
		"message": "TOTP settings updated successfully.",
	})
}

// RequestEmailChange handles POST /verifications/request-email-change
func (h *VerificationHandler) RequestEmailChange(w http.ResponseWriter, r *http.Request) {
	var req EmailChangeRequest

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}

	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	if err := requireSessionFor(r, req.ID); err != nil {
		writeSessionError(w, err)
		return
	}

	if err := h.account.RequestEmailChange(r.Context(), req.ID, req.NewEmail); err != nil {
		switch {
		case errors.Is(err, models.ErrConflict):
			pkghttp.WriteConflict(w, "Email address is not available")
		case errors.Is(err, models.ErrBadRequest):
			pkghttp.WriteBadRequest(w, "Invalid email address")
		case errors.Is(err, models.ErrNotFound):
			pkghttp.WriteNotFound(w, "User not found")
		default:
			pkghttp.WriteInternalError(w, "Internal server error")
		}
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, map[string]string{
		"message": "A confirmation email has been sent to the new address.",
	})
}

// SendPasswordResetEmail handles POST /verifications/send-password-reset-email.
// Always 200 with a generic message so responses cannot confirm an email.
func (h *VerificationHandler) SendPasswordResetEmail(w http.ResponseWriter, r *http.Request) {
	var req EmailRequest

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}

	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	_ = h.account.RequestPasswordReset(r.Context(), req.Email)

	pkghttp.WriteJSON(w, http.StatusOK, map[string]string{
		"message": genericRequestMessage,
	})
}

// ResendVerificationEmail handles POST /verifications/resend-verification-email.
// Always 200 with a generic message.
func (h *VerificationHandler) ResendVerificationEmail(w http.ResponseWriter, r *http.Request) {
	var req EmailRequest

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}

	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	_ = h.account.ResendVerification(r.Context(), req.Email)

	pkghttp.WriteJSON(w, http.StatusOK, map[string]string{
		"message": genericRequestMessage,
	})
}

// RequestAccountDeletion handles POST /verifications/request-account-deletion
func (h *VerificationHandler) RequestAccountDeletion(w http.ResponseWriter, r *http.Request) {
	var req UserIDRequest

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}

	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	if err := requireSessionFor(r, req.ID); err != nil {
		writeSessionError(w, err)
		return
	}

	_ = h.account.RequestAccountDeletion(r.Context(), req.ID)

	pkghttp.WriteJSON(w, http.StatusOK, map[string]string{
		"message": "A confirmation email has been sent.",
	})
}

// ResetPassword handles PATCH /verifications/reset-password
func (h *VerificationHandler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var req ResetPasswordRequest

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}

	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	if err := h.account.ResetPassword(r.Context(), req.Email, req.Token, req.NewPassword); err != nil {
		var pwErr *pkgauth.PasswordValidationError
		switch {
		case errors.As(err, &pwErr):
			pkghttp.WriteBadRequest(w, pwErr.Error())
		case errors.Is(err, models.ErrTokenNotFound),
			errors.Is(err, models.ErrTokenExpired),
			errors.Is(err, models.ErrTokenAlreadyUsed):
			pkghttp.WriteBadRequest(w, genericTokenMessage)
		default:
			pkghttp.WriteInternalError(w, "Internal server error")
		}
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, map[string]string{
		"message": "Password reset successfully.",
	})
}
