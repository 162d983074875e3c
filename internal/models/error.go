package models

import "errors"

// Sentinel errors for common failure conditions
var (
	ErrNotFound       = errors.New("resource not found")
	ErrConflict       = errors.New("resource already exists")
	ErrUnauthorized   = errors.New("unauthorized")
	ErrForbidden      = errors.New("forbidden")
	ErrBadRequest     = errors.New("bad request")
	ErrInternalServer = errors.New("internal server error")

	// Account state errors
	ErrAccountNotVerified = errors.New("account not verified")
	ErrInvalidTOTPCode    = errors.New("invalid TOTP code")

	// Verification token errors. Handlers collapse all three into one
	// generic message so callers cannot tell which condition occurred.
	ErrTokenNotFound    = errors.New("verification token not found")
	ErrTokenExpired     = errors.New("verification token expired")
	ErrTokenAlreadyUsed = errors.New("verification token already used")

	// CAPTCHA errors
	ErrCaptchaMissing  = errors.New("captcha token missing")
	ErrCaptchaRejected = errors.New("captcha verification rejected")

	// Upstream provider failures (captcha service, email provider)
	ErrUpstream = errors.New("upstream service error")
)
