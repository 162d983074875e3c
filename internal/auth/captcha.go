package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/mharlow/gatehouse/internal/models"
)

// CaptchaVerifier checks hCaptcha response tokens against the siteverify
// API. Provider failures fail the sign-in attempt closed: a bot should not
// get through because the captcha service is down.
type CaptchaVerifier struct {
	secret    string
	verifyURL string
	client    *http.Client
	logger    *slog.Logger
}

type siteverifyResponse struct {
	Success    bool     `json:"success"`
	ErrorCodes []string `json:"error-codes"`
}

// NewCaptchaVerifier creates a verifier with a bounded request timeout
func NewCaptchaVerifier(secret, verifyURL string, logger *slog.Logger) *CaptchaVerifier {
	return &CaptchaVerifier{
		secret:    secret,
		verifyURL: verifyURL,
		client:    &http.Client{Timeout: 10 * time.Second},
		logger:    logger,
	}
}

// Verify checks a captcha response token. Returns ErrCaptchaMissing for an
// empty token, ErrCaptchaRejected when the provider rejects it, and
// ErrUpstream when the provider cannot be reached or answers abnormally.
func (cv *CaptchaVerifier) Verify(ctx context.Context, token string) error {
	if strings.TrimSpace(token) == "" {
		return models.ErrCaptchaMissing
	}

	form := url.Values{}
	form.Set("secret", cv.secret)
	form.Set("response", token)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cv.verifyURL, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("%w: %v", models.ErrUpstream, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := cv.client.Do(req)
	if err != nil {
		cv.logger.Error("captcha verification request failed", slog.Any("error", err))
		return fmt.Errorf("%w: captcha service unreachable", models.ErrUpstream)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		cv.logger.Error("captcha service returned unexpected status", slog.Int("status", resp.StatusCode))
		return fmt.Errorf("%w: captcha service status %d", models.ErrUpstream, resp.StatusCode)
	}

	var result siteverifyResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		cv.logger.Error("failed to decode captcha response", slog.Any("error", err))
		return fmt.Errorf("%w: malformed captcha response", models.ErrUpstream)
	}

	if !result.Success {
		cv.logger.Info("captcha rejected", slog.Any("error_codes", result.ErrorCodes))
		return models.ErrCaptchaRejected
	}

	return nil
}
