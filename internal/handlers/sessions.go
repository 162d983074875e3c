package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/mharlow/gatehouse/internal/auth"
	"github.com/mharlow/gatehouse/internal/models"
	"github.com/mharlow/gatehouse/internal/services"
	pkghttp "github.com/mharlow/gatehouse/pkg/http"
)

// SessionServiceInterface defines the session protocol operations
type SessionServiceInterface interface {
	SignIn(ctx context.Context, email, password, captchaToken, ipAddress string) (*services.SignInResult, error)
	CompleteTOTP(ctx context.Context, userID int64, code string) (*services.SignInResult, error)
	Refresh(ctx context.Context, refreshToken string) (string, error)
	CurrentUser(ctx context.Context, accessToken string) (*services.UserResponse, error)
}

// SessionHandler handles session-related HTTP requests. Tokens travel only
// in HttpOnly cookies; response bodies never carry them.
type SessionHandler struct {
	service  SessionServiceInterface
	tm       *auth.TokenManager
	cookies  auth.CookieConfig
	ipConfig *pkghttp.IPConfig
}

// NewSessionHandler creates a new SessionHandler
func NewSessionHandler(service SessionServiceInterface, tm *auth.TokenManager, cookies auth.CookieConfig, ipConfig *pkghttp.IPConfig) *SessionHandler {
	return &SessionHandler{
		service:  service,
		tm:       tm,
		cookies:  cookies,
		ipConfig: ipConfig,
	}
}

// Request DTOs

// SignInRequest represents the request body for sign-in
type SignInRequest struct {
	Email         string `json:"email" validate:"required,email"`
	Password      string `json:"password" validate:"required"`
	HCaptchaToken string `json:"hCaptchaToken"`
}

// VerifyTOTPRequest represents the request body for the TOTP completion step
type VerifyTOTPRequest struct {
	UserID   int64  `json:"userId" validate:"required"`
	TOTPCode string `json:"totpCode" validate:"required"`
}

func (h *SessionHandler) setSessionCookies(w http.ResponseWriter, accessToken, refreshToken string) {
	auth.SetAccessTokenCookie(w, accessToken, int(h.tm.AccessTokenExpiry().Seconds()), h.cookies)
	auth.SetRefreshTokenCookie(w, refreshToken, int(h.tm.RefreshTokenExpiry().Seconds()), h.cookies)
}

// Create handles POST /sessions
func (h *SessionHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req SignInRequest

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}

	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	ipAddress := pkghttp.ExtractClientIP(r, h.ipConfig)

	result, err := h.service.SignIn(r.Context(), req.Email, req.Password, req.HCaptchaToken, ipAddress)
	if err != nil {
		switch {
		case errors.Is(err, models.ErrCaptchaMissing):
			pkghttp.WriteBadRequest(w, "Missing captcha token")
		case errors.Is(err, models.ErrCaptchaRejected):
			pkghttp.WriteBadRequest(w, "Captcha verification failed")
		case errors.Is(err, models.ErrUnauthorized):
			pkghttp.WriteUnauthorized(w, "Invalid credentials")
		case errors.Is(err, models.ErrAccountNotVerified):
			pkghttp.WriteForbidden(w, "Please verify your account before signing in")
		default:
			pkghttp.WriteInternalError(w, "Internal server error")
		}
		return
	}

	if result.RequireTotp {
		// No cookies yet: the client must complete the TOTP step first
		pkghttp.WriteJSON(w, http.StatusOK, map[string]any{
			"message":     "TOTP code required",
			"requireTotp": true,
			"userId":      result.UserID,
		})
		return
	}

	h.setSessionCookies(w, result.AccessToken, result.RefreshToken)
	pkghttp.WriteJSON(w, http.StatusOK, map[string]any{
		"message": "Signed in successfully.",
		"user":    result.User,
	})
}

// VerifyTOTP handles POST /sessions/verify-totp
func (h *SessionHandler) VerifyTOTP(w http.ResponseWriter, r *http.Request) {
	var req VerifyTOTPRequest

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}

	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	result, err := h.service.CompleteTOTP(r.Context(), req.UserID, req.TOTPCode)
	if err != nil {
		switch {
		case errors.Is(err, models.ErrNotFound):
			pkghttp.WriteNotFound(w, "User not found")
		case errors.Is(err, models.ErrInvalidTOTPCode):
			pkghttp.WriteUnauthorized(w, "Invalid TOTP code")
		case errors.Is(err, models.ErrBadRequest):
			pkghttp.WriteBadRequest(w, "TOTP is not enabled for this account")
		default:
			pkghttp.WriteInternalError(w, "Internal server error")
		}
		return
	}

	h.setSessionCookies(w, result.AccessToken, result.RefreshToken)
	pkghttp.WriteJSON(w, http.StatusOK, map[string]any{
		"message": "Signed in successfully.",
		"user":    result.User,
	})
}

// Refresh handles POST /sessions/refresh-session
func (h *SessionHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	refreshToken, err := auth.GetRefreshTokenCookie(r)
	if err != nil {
		pkghttp.WriteUnauthorized(w, "Invalid or missing refresh token")
		return
	}

	accessToken, err := h.service.Refresh(r.Context(), refreshToken)
	if err != nil {
		if errors.Is(err, models.ErrUnauthorized) {
			pkghttp.WriteUnauthorized(w, "Invalid or missing refresh token")
			return
		}
		pkghttp.WriteInternalError(w, "Internal server error")
		return
	}

	auth.SetAccessTokenCookie(w, accessToken, int(h.tm.AccessTokenExpiry().Seconds()), h.cookies)
	pkghttp.WriteJSON(w, http.StatusOK, map[string]string{
		"message": "Session refreshed successfully.",
	})
}

// Delete handles DELETE /sessions. Signing out always succeeds: the
// cookies are cleared whether or not they held valid tokens.
func (h *SessionHandler) Delete(w http.ResponseWriter, r *http.Request) {
	auth.ClearSessionCookies(w, h.cookies)
	pkghttp.WriteJSON(w, http.StatusOK, map[string]string{
		"message": "Signed out successfully.",
	})
}

// Current handles GET /sessions, returning the signed-in user or null
func (h *SessionHandler) Current(w http.ResponseWriter, r *http.Request) {
	accessToken, err := auth.GetAccessTokenCookie(r)
	if err != nil {
		accessToken = ""
	}

	user, err := h.service.CurrentUser(r.Context(), accessToken)
	if err != nil {
		pkghttp.WriteInternalError(w, "Internal server error")
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, map[string]any{
		"user": user,
	})
}
