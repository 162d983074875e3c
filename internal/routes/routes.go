package routes

import (
	"github.com/go-chi/chi/v5"
	"github.com/mharlow/gatehouse/internal/auth"
	"github.com/mharlow/gatehouse/internal/handlers"
	"github.com/mharlow/gatehouse/internal/middleware"
)

// RegisterRoutes registers all application routes
func RegisterRoutes(
	router chi.Router,
	sessionHandler *handlers.SessionHandler,
	verificationHandler *handlers.VerificationHandler,
	userHandler *handlers.UserHandler,
	tokenManager *auth.TokenManager,
) {
	// Endpoints that accept credentials or trigger outbound email are
	// rate limited per IP.
	rateLimit := middleware.RateLimitByIP(middleware.DefaultCredentialRateLimit())

	// Session lifecycle
	router.With(rateLimit).Post("/sessions", sessionHandler.Create)
	router.With(rateLimit).Post("/sessions/verify-totp", sessionHandler.VerifyTOTP)
	router.Post("/sessions/refresh-session", sessionHandler.Refresh)
	router.Delete("/sessions", sessionHandler.Delete)
	router.Get("/sessions", sessionHandler.Current)

	// Registration
	router.With(rateLimit).Post("/users", userHandler.Create)

	// Token confirmation links are GETs so they work from an email client
	router.Get("/verifications/verify-account-by-email", verificationHandler.VerifyAccount)
	router.Get("/verifications/confirm-email-change", verificationHandler.ConfirmEmailChange)
	router.Get("/verifications/confirm-account-deletion", verificationHandler.ConfirmAccountDeletion)

	// Public request-initiation endpoints; responses never reveal whether
	// the address is registered.
	router.With(rateLimit).Post("/verifications/send-password-reset-email", verificationHandler.SendPasswordResetEmail)
	router.With(rateLimit).Post("/verifications/resend-verification-email", verificationHandler.ResendVerificationEmail)
	router.With(rateLimit).Patch("/verifications/reset-password", verificationHandler.ResetPassword)

	// Session-bound account management
	router.Group(func(r chi.Router) {
		r.Use(auth.RequireSession(tokenManager))

		r.Post("/verifications/get-totp-secret", verificationHandler.GetTOTPSecret)
		r.Patch("/verifications/set-totp-auth", verificationHandler.SetTOTPAuth)
		r.Post("/verifications/request-email-change", verificationHandler.RequestEmailChange)
		r.Post("/verifications/request-account-deletion", verificationHandler.RequestAccountDeletion)
	})
}
