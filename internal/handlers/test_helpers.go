package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/mharlow/gatehouse/internal/auth"
	"github.com/mharlow/gatehouse/internal/models"
	"github.com/mharlow/gatehouse/internal/services"
)

// MockSessionService implements SessionServiceInterface for testing
type MockSessionService struct {
	SignInFunc       func(ctx context.Context, email, password, captchaToken, ipAddress string) (*services.SignInResult, error)
	CompleteTOTPFunc func(ctx context.Context, userID int64, code string) (*services.SignInResult, error)
	RefreshFunc      func(ctx context.Context, refreshToken string) (string, error)
	CurrentUserFunc  func(ctx context.Context, accessToken string) (*services.UserResponse, error)
}

func (m *MockSessionService) SignIn(ctx context.Context, email, password, captchaToken, ipAddress string) (*services.SignInResult, error) {
	if m.SignInFunc != nil {
		return m.SignInFunc(ctx, email, password, captchaToken, ipAddress)
	}
	return nil, models.ErrUnauthorized
}

func (m *MockSessionService) CompleteTOTP(ctx context.Context, userID int64, code string) (*services.SignInResult, error) {
	if m.CompleteTOTPFunc != nil {
		return m.CompleteTOTPFunc(ctx, userID, code)
	}
	return nil, models.ErrNotFound
}

func (m *MockSessionService) Refresh(ctx context.Context, refreshToken string) (string, error) {
	if m.RefreshFunc != nil {
		return m.RefreshFunc(ctx, refreshToken)
	}
	return "", models.ErrUnauthorized
}

func (m *MockSessionService) CurrentUser(ctx context.Context, accessToken string) (*services.UserResponse, error) {
	if m.CurrentUserFunc != nil {
		return m.CurrentUserFunc(ctx, accessToken)
	}
	return nil, nil
}

// MockAccountService implements AccountServiceInterface for testing
type MockAccountService struct {
	VerifyAccountFunc          func(ctx context.Context, token string) error
	ResendVerificationFunc     func(ctx context.Context, email string) error
	RequestEmailChangeFunc     func(ctx context.Context, userID int64, newEmail string) error
	ConfirmEmailChangeFunc     func(ctx context.Context, token string) error
	RequestPasswordResetFunc   func(ctx context.Context, email string) error
	ResetPasswordFunc          func(ctx context.Context, email, token, newPassword string) error
	RequestAccountDeletionFunc func(ctx context.Context, userID int64) error
	ConfirmAccountDeletionFunc func(ctx context.Context, token string) error
	RegisterFunc               func(ctx context.Context, username, email, password string) (*services.UserResponse, error)
}

func (m *MockAccountService) VerifyAccount(ctx context.Context, token string) error {
	if m.VerifyAccountFunc != nil {
		return m.VerifyAccountFunc(ctx, token)
	}
	return models.ErrTokenNotFound
}

func (m *MockAccountService) ResendVerification(ctx context.Context, email string) error {
	if m.ResendVerificationFunc != nil {
		return m.ResendVerificationFunc(ctx, email)
	}
	return nil
}

func (m *MockAccountService) RequestEmailChange(ctx context.Context, userID int64, newEmail string) error {
	if m.RequestEmailChangeFunc != nil {
		return m.RequestEmailChangeFunc(ctx, userID, newEmail)
	}
	return nil
}

func (m *MockAccountService) ConfirmEmailChange(ctx context.Context, token string) error {
	if m.ConfirmEmailChangeFunc != nil {
		return m.ConfirmEmailChangeFunc(ctx, token)
	}
	return models.ErrTokenNotFound
}

func (m *MockAccountService) RequestPasswordReset(ctx context.Context, email string) error {
	if m.RequestPasswordResetFunc != nil {
		return m.RequestPasswordResetFunc(ctx, email)
	}
	return nil
}

func (m *MockAccountService) ResetPassword(ctx context.Context, email, token, newPassword string) error {
	if m.ResetPasswordFunc != nil {
		return m.ResetPasswordFunc(ctx, email, token, newPassword)
	}
	return models.ErrTokenNotFound
}

func (m *MockAccountService) RequestAccountDeletion(ctx context.Context, userID int64) error {
	if m.RequestAccountDeletionFunc != nil {
		return m.RequestAccountDeletionFunc(ctx, userID)
	}
	return nil
}

func (m *MockAccountService) ConfirmAccountDeletion(ctx context.Context, token string) error {
	if m.ConfirmAccountDeletionFunc != nil {
		return m.ConfirmAccountDeletionFunc(ctx, token)
	}
	return models.ErrTokenNotFound
}

func (m *MockAccountService) Register(ctx context.Context, username, email, password string) (*services.UserResponse, error) {
	if m.RegisterFunc != nil {
		return m.RegisterFunc(ctx, username, email, password)
	}
	return nil, models.ErrInternalServer
}

// MockTOTPService implements TOTPServiceInterface for testing
type MockTOTPService struct {
	GetEnrollmentFunc func(ctx context.Context, userID int64) (*auth.Enrollment, error)
	EnrollFunc        func(ctx context.Context, userID int64, secret, code string) error
	DisableFunc       func(ctx context.Context, userID int64) error
}

func (m *MockTOTPService) GetEnrollment(ctx context.Context, userID int64) (*auth.Enrollment, error) {
	if m.GetEnrollmentFunc != nil {
		return m.GetEnrollmentFunc(ctx, userID)
	}
	return nil, models.ErrNotFound
}

func (m *MockTOTPService) Enroll(ctx context.Context, userID int64, secret, code string) error {
	if m.EnrollFunc != nil {
		return m.EnrollFunc(ctx, userID, secret, code)
	}
	return nil
}

func (m *MockTOTPService) Disable(ctx context.Context, userID int64) error {
	if m.DisableFunc != nil {
		return m.DisableFunc(ctx, userID)
	}
	return nil
}

// withSessionClaims attaches session claims to the request, standing in for
// the session middleware.
func withSessionClaims(r *http.Request, userID int64) *http.Request {
	claims := &models.TokenClaims{
		Type:   models.TokenTypeAccess,
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	ctx := context.WithValue(r.Context(), auth.UserContextKey, claims)
	return r.WithContext(ctx)
}

// testUserResponse returns a representative sanitized user
func testUserResponse() *services.UserResponse {
	return &services.UserResponse{
		ID:              42,
		Username:        "jharlow",
		Email:           "user@example.com",
		Role:            "user",
		AccountVerified: true,
		CreatedAt:       time.Now().Format(time.RFC3339),
		UpdatedAt:       time.Now().Format(time.RFC3339),
	}
}
