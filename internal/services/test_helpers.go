package services

import (
	"context"
	"io"
	"log/slog"
	"time"

	"github.com/mharlow/gatehouse/internal/models"
	pkglogger "github.com/mharlow/gatehouse/pkg/logger"
)

// MockUserRepository implements UserRepository for testing
type MockUserRepository struct {
	GetByIDFunc        func(ctx context.Context, id int64) (*models.User, error)
	GetByEmailFunc     func(ctx context.Context, email string) (*models.User, error)
	GetByUsernameFunc  func(ctx context.Context, username string) (*models.User, error)
	CreateFunc         func(ctx context.Context, user *models.User) (*models.User, error)
	UpdatePasswordFunc func(ctx context.Context, id int64, passwordHash string) error
	UpdateEmailFunc    func(ctx context.Context, id int64, email string) error
	SetVerifiedFunc    func(ctx context.Context, id int64) error
	SetTOTPFunc        func(ctx context.Context, id int64, secret *models.EncryptedSecret) error
	ClearTOTPFunc      func(ctx context.Context, id int64) error
	DeleteFunc         func(ctx context.Context, id int64) error
}

func (m *MockUserRepository) GetByID(ctx context.Context, id int64) (*models.User, error) {
	if m.GetByIDFunc != nil {
		return m.GetByIDFunc(ctx, id)
	}
	return nil, models.ErrNotFound
}

func (m *MockUserRepository) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	if m.GetByEmailFunc != nil {
		return m.GetByEmailFunc(ctx, email)
	}
	return nil, models.ErrNotFound
}

func (m *MockUserRepository) GetByUsername(ctx context.Context, username string) (*models.User, error) {
	if m.GetByUsernameFunc != nil {
		return m.GetByUsernameFunc(ctx, username)
	}
	return nil, models.ErrNotFound
}

func (m *MockUserRepository) Create(ctx context.Context, user *models.User) (*models.User, error) {
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, user)
	}
	return nil, models.ErrInternalServer
}

func (m *MockUserRepository) UpdatePassword(ctx context.Context, id int64, passwordHash string) error {
	if m.UpdatePasswordFunc != nil {
		return m.UpdatePasswordFunc(ctx, id, passwordHash)
	}
	return nil
}

func (m *MockUserRepository) UpdateEmail(ctx context.Context, id int64, email string) error {
	if m.UpdateEmailFunc != nil {
		return m.UpdateEmailFunc(ctx, id, email)
	}
	return nil
}

func (m *MockUserRepository) SetVerified(ctx context.Context, id int64) error {
	if m.SetVerifiedFunc != nil {
		return m.SetVerifiedFunc(ctx, id)
	}
	return nil
}

func (m *MockUserRepository) SetTOTP(ctx context.Context, id int64, secret *models.EncryptedSecret) error {
	if m.SetTOTPFunc != nil {
		return m.SetTOTPFunc(ctx, id, secret)
	}
	return nil
}

func (m *MockUserRepository) ClearTOTP(ctx context.Context, id int64) error {
	if m.ClearTOTPFunc != nil {
		return m.ClearTOTPFunc(ctx, id)
	}
	return nil
}

func (m *MockUserRepository) Delete(ctx context.Context, id int64) error {
	if m.DeleteFunc != nil {
		return m.DeleteFunc(ctx, id)
	}
	return nil
}

// MockVerificationTokenRepository implements VerificationTokenRepository for testing
type MockVerificationTokenRepository struct {
	UpsertFunc         func(ctx context.Context, userID int64, tokenType models.TokenType, tokenHash, payload string, expiresAt time.Time) (*models.VerificationToken, error)
	ConsumeFunc        func(ctx context.Context, tokenHash string, tokenType models.TokenType) (*models.VerificationToken, error)
	GetActiveFunc      func(ctx context.Context, userID int64, tokenType models.TokenType) (*models.VerificationToken, error)
	DeleteByUserIDFunc func(ctx context.Context, userID int64) error
}

func (m *MockVerificationTokenRepository) Upsert(ctx context.Context, userID int64, tokenType models.TokenType, tokenHash, payload string, expiresAt time.Time) (*models.VerificationToken, error) {
	if m.UpsertFunc != nil {
		return m.UpsertFunc(ctx, userID, tokenType, tokenHash, payload, expiresAt)
	}
	return &models.VerificationToken{
		ID:        "token_1",
		UserID:    userID,
		TokenType: tokenType,
		TokenHash: tokenHash,
		Payload:   payload,
		ExpiresAt: expiresAt,
		CreatedAt: time.Now(),
	}, nil
}

func (m *MockVerificationTokenRepository) Consume(ctx context.Context, tokenHash string, tokenType models.TokenType) (*models.VerificationToken, error) {
	if m.ConsumeFunc != nil {
		return m.ConsumeFunc(ctx, tokenHash, tokenType)
	}
	return nil, models.ErrTokenNotFound
}

func (m *MockVerificationTokenRepository) GetActive(ctx context.Context, userID int64, tokenType models.TokenType) (*models.VerificationToken, error) {
	if m.GetActiveFunc != nil {
		return m.GetActiveFunc(ctx, userID, tokenType)
	}
	return nil, models.ErrNotFound
}

func (m *MockVerificationTokenRepository) DeleteByUserID(ctx context.Context, userID int64) error {
	if m.DeleteByUserIDFunc != nil {
		return m.DeleteByUserIDFunc(ctx, userID)
	}
	return nil
}

// MockEmailService implements EmailService for testing
type MockEmailService struct {
	SendAccountVerificationEmailFunc func(ctx context.Context, email, token string, expiresAt time.Time) error
	SendEmailChangeEmailFunc         func(ctx context.Context, newEmail, token string, expiresAt time.Time) error
	SendEmailChangeNoticeFunc        func(ctx context.Context, oldEmail, newEmail string) error
	SendPasswordResetEmailFunc       func(ctx context.Context, email, token string, expiresAt time.Time) error
	SendAccountDeletionEmailFunc     func(ctx context.Context, email, token string, expiresAt time.Time) error
}

func (m *MockEmailService) SendAccountVerificationEmail(ctx context.Context, email, token string, expiresAt time.Time) error {
	if m.SendAccountVerificationEmailFunc != nil {
		return m.SendAccountVerificationEmailFunc(ctx, email, token, expiresAt)
	}
	return nil
}

func (m *MockEmailService) SendEmailChangeEmail(ctx context.Context, newEmail, token string, expiresAt time.Time) error {
	if m.SendEmailChangeEmailFunc != nil {
		return m.SendEmailChangeEmailFunc(ctx, newEmail, token, expiresAt)
	}
	return nil
}

func (m *MockEmailService) SendEmailChangeNotice(ctx context.Context, oldEmail, newEmail string) error {
	if m.SendEmailChangeNoticeFunc != nil {
		return m.SendEmailChangeNoticeFunc(ctx, oldEmail, newEmail)
	}
	return nil
}

func (m *MockEmailService) SendPasswordResetEmail(ctx context.Context, email, token string, expiresAt time.Time) error {
	if m.SendPasswordResetEmailFunc != nil {
		return m.SendPasswordResetEmailFunc(ctx, email, token, expiresAt)
	}
	return nil
}

func (m *MockEmailService) SendAccountDeletionEmail(ctx context.Context, email, token string, expiresAt time.Time) error {
	if m.SendAccountDeletionEmailFunc != nil {
		return m.SendAccountDeletionEmailFunc(ctx, email, token, expiresAt)
	}
	return nil
}

// MockCaptchaVerifier implements CaptchaVerifier for testing
type MockCaptchaVerifier struct {
	VerifyFunc func(ctx context.Context, token string) error
}

func (m *MockCaptchaVerifier) Verify(ctx context.Context, token string) error {
	if m.VerifyFunc != nil {
		return m.VerifyFunc(ctx, token)
	}
	if token == "" {
		return models.ErrCaptchaMissing
	}
	return nil
}

// passthroughTxRunner runs fn directly against the given mocks, standing in
// for a real transaction in unit tests.
func passthroughTxRunner(users UserRepository, tokens VerificationTokenRepository) TxRunner {
	return func(ctx context.Context, fn func(UserRepository, VerificationTokenRepository) error) error {
		return fn(users, tokens)
	}
}

// newTestLogger returns a logger that discards output
func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestAuditLogger returns an audit logger that discards output
func newTestAuditLogger() *pkglogger.AuditLogger {
	return pkglogger.NewAuditLogger(newTestLogger())
}
