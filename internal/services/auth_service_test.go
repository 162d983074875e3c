package services

import (
	"context"
	"encoding/base64"
	"sync"
	"testing"
	"time"

	"github.com/mharlow/gatehouse/internal/auth"
	"github.com/mharlow/gatehouse/internal/models"
	pkgauth "github.com/mharlow/gatehouse/pkg/auth"
	"github.com/pquerna/otp/totp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testPassword = "SecurePassword#456"

var (
	testPasswordHashOnce sync.Once
	testPasswordHash     string
)

// testHashedPassword hashes the shared test password once; bcrypt at the
// production cost is too slow to repeat per test.
func testHashedPassword(t *testing.T) string {
	t.Helper()
	testPasswordHashOnce.Do(func() {
		hash, err := pkgauth.HashPassword(testPassword)
		if err != nil {
			t.Fatalf("failed to hash test password: %v", err)
		}
		testPasswordHash = hash
	})
	return testPasswordHash
}

func newTestTokenManager(t *testing.T) *auth.TokenManager {
	t.Helper()
	tm, err := auth.NewTokenManager(
		"access-secret-for-tests-0123456789",
		"refresh-secret-for-tests-0123456789",
		time.Hour,
		7*24*time.Hour,
	)
	require.NoError(t, err)
	return tm
}

func newTestSecretBox(t *testing.T) *auth.SecretBox {
	t.Helper()
	key, err := base64.StdEncoding.DecodeString("MDEyMzQ1Njc4OWFiY2RlZjAxMjM0NTY3ODlhYmNkZWY=")
	require.NoError(t, err)
	sb, err := auth.NewSecretBox(key)
	require.NoError(t, err)
	return sb
}

func newTestAuthService(t *testing.T, users *MockUserRepository, captcha *MockCaptchaVerifier) *AuthService {
	t.Helper()
	if captcha == nil {
		captcha = &MockCaptchaVerifier{}
	}
	timing := auth.NewTimingDelay(auth.TimingConfig{})
	return NewAuthService(
		users,
		newTestTokenManager(t),
		captcha,
		newTestSecretBox(t),
		auth.NewTOTPManager("Gatehouse"),
		timing,
		newTestLogger(),
		newTestAuditLogger(),
	)
}

func verifiedTestUser(t *testing.T) *models.User {
	return &models.User{
		ID:              42,
		Username:        "jharlow",
		Email:           "user@example.com",
		PasswordHash:    testHashedPassword(t),
		Role:            "user",
		AccountVerified: true,
		CreatedAt:       time.Now(),
		UpdatedAt:       time.Now(),
	}
}

// ============================================================================
// SignIn Tests
// ============================================================================

func TestAuthService_SignIn_MissingCaptcha(t *testing.T) {
	svc := newTestAuthService(t, &MockUserRepository{}, nil)

	result, err := svc.SignIn(context.Background(), "user@example.com", testPassword, "", "")

	assert.ErrorIs(t, err, models.ErrCaptchaMissing)
	assert.Nil(t, result)
}

func TestAuthService_SignIn_CaptchaRejected(t *testing.T) {
	captcha := &MockCaptchaVerifier{
		VerifyFunc: func(ctx context.Context, token string) error {
			return models.ErrCaptchaRejected
		},
	}
	svc := newTestAuthService(t, &MockUserRepository{}, captcha)

	result, err := svc.SignIn(context.Background(), "user@example.com", testPassword, "captcha-token", "")

	assert.ErrorIs(t, err, models.ErrCaptchaRejected)
	assert.Nil(t, result)
}

func TestAuthService_SignIn_CaptchaUpstreamFailure(t *testing.T) {
	captcha := &MockCaptchaVerifier{
		VerifyFunc: func(ctx context.Context, token string) error {
			return models.ErrUpstream
		},
	}
	svc := newTestAuthService(t, &MockUserRepository{}, captcha)

	result, err := svc.SignIn(context.Background(), "user@example.com", testPassword, "captcha-token", "")

	assert.ErrorIs(t, err, models.ErrUpstream)
	assert.Nil(t, result)
}

func TestAuthService_SignIn_UnknownEmailAndWrongPasswordIndistinguishable(t *testing.T) {
	user := verifiedTestUser(t)
	users := &MockUserRepository{
		GetByEmailFunc: func(ctx context.Context, email string) (*models.User, error) {
			if email == user.Email {
				return user, nil
			}
			return nil, models.ErrNotFound
		},
	}
	svc := newTestAuthService(t, users, nil)

	_, unknownErr := svc.SignIn(context.Background(), "nobody@example.com", testPassword, "captcha-token", "")
	_, wrongPassErr := svc.SignIn(context.Background(), user.Email, "WrongPassword#456", "captcha-token", "")

	assert.ErrorIs(t, unknownErr, models.ErrUnauthorized)
	assert.ErrorIs(t, wrongPassErr, models.ErrUnauthorized)
	assert.Equal(t, unknownErr, wrongPassErr)
}

func TestAuthService_SignIn_UnverifiedAccount(t *testing.T) {
	user := verifiedTestUser(t)
	user.AccountVerified = false
	users := &MockUserRepository{
		GetByEmailFunc: func(ctx context.Context, email string) (*models.User, error) {
			return user, nil
		},
	}
	svc := newTestAuthService(t, users, nil)

	result, err := svc.SignIn(context.Background(), user.Email, testPassword, "captcha-token", "")

	assert.ErrorIs(t, err, models.ErrAccountNotVerified)
	assert.Nil(t, result)
}

func TestAuthService_SignIn_Success(t *testing.T) {
	user := verifiedTestUser(t)
	users := &MockUserRepository{
		GetByEmailFunc: func(ctx context.Context, email string) (*models.User, error) {
			return user, nil
		},
	}
	svc := newTestAuthService(t, users, nil)

	result, err := svc.SignIn(context.Background(), "  USER@example.com  ", testPassword, "captcha-token", "203.0.113.7")

	require.NoError(t, err)
	require.NotNil(t, result)
	assert.False(t, result.RequireTotp)
	assert.NotEmpty(t, result.AccessToken)
	assert.NotEmpty(t, result.RefreshToken)
	require.NotNil(t, result.User)
	assert.Equal(t, user.ID, result.User.ID)
	assert.Equal(t, user.Email, result.User.Email)
}

func TestAuthService_SignIn_TOTPBranchIssuesNoTokens(t *testing.T) {
	user := verifiedTestUser(t)
	user.TOTPAuthOn = true
	users := &MockUserRepository{
		GetByEmailFunc: func(ctx context.Context, email string) (*models.User, error) {
			return user, nil
		},
	}
	svc := newTestAuthService(t, users, nil)

	result, err := svc.SignIn(context.Background(), user.Email, testPassword, "captcha-token", "")

	require.NoError(t, err)
	require.NotNil(t, result)
	assert.True(t, result.RequireTotp)
	assert.Equal(t, user.ID, result.UserID)
	assert.Empty(t, result.AccessToken)
	assert.Empty(t, result.RefreshToken)
	assert.Nil(t, result.User)
}

// ============================================================================
// CompleteTOTP Tests
// ============================================================================

func TestAuthService_CompleteTOTP_UnknownUser(t *testing.T) {
	svc := newTestAuthService(t, &MockUserRepository{}, nil)

	result, err := svc.CompleteTOTP(context.Background(), 999, "123456")

	assert.ErrorIs(t, err, models.ErrNotFound)
	assert.Nil(t, result)
}

func TestAuthService_CompleteTOTP_TOTPNotEnabled(t *testing.T) {
	user := verifiedTestUser(t)
	users := &MockUserRepository{
		GetByIDFunc: func(ctx context.Context, id int64) (*models.User, error) {
			return user, nil
		},
	}
	svc := newTestAuthService(t, users, nil)

	result, err := svc.CompleteTOTP(context.Background(), user.ID, "123456")

	assert.ErrorIs(t, err, models.ErrBadRequest)
	assert.Nil(t, result)
}

func TestAuthService_CompleteTOTP_WrongCode(t *testing.T) {
	sb := newTestSecretBox(t)
	sealed, err := sb.Encrypt("JBSWY3DPEHPK3PXPJBSWY3DPEHPK3PXP")
	require.NoError(t, err)

	user := verifiedTestUser(t)
	user.TOTPAuthOn = true
	user.TOTPSecret = &sealed

	users := &MockUserRepository{
		GetByIDFunc: func(ctx context.Context, id int64) (*models.User, error) {
			return user, nil
		},
	}
	svc := newTestAuthService(t, users, nil)

	result, err := svc.CompleteTOTP(context.Background(), user.ID, "000000")

	assert.ErrorIs(t, err, models.ErrInvalidTOTPCode)
	assert.Nil(t, result)
}

func TestAuthService_CompleteTOTP_Success(t *testing.T) {
	secret := "JBSWY3DPEHPK3PXPJBSWY3DPEHPK3PXP"
	sb := newTestSecretBox(t)
	sealed, err := sb.Encrypt(secret)
	require.NoError(t, err)

	user := verifiedTestUser(t)
	user.TOTPAuthOn = true
	user.TOTPSecret = &sealed

	users := &MockUserRepository{
		GetByIDFunc: func(ctx context.Context, id int64) (*models.User, error) {
			return user, nil
		},
	}
	svc := newTestAuthService(t, users, nil)

	code, err := totp.GenerateCode(secret, time.Now())
	require.NoError(t, err)

	result, err := svc.CompleteTOTP(context.Background(), user.ID, code)

	require.NoError(t, err)
	require.NotNil(t, result)
	assert.NotEmpty(t, result.AccessToken)
	assert.NotEmpty(t, result.RefreshToken)
	require.NotNil(t, result.User)
	assert.Equal(t, user.ID, result.User.ID)
}

// ============================================================================
// Refresh Tests
// ============================================================================

func TestAuthService_Refresh_EmptyToken(t *testing.T) {
	svc := newTestAuthService(t, &MockUserRepository{}, nil)

	accessToken, err := svc.Refresh(context.Background(), "")

	assert.ErrorIs(t, err, models.ErrUnauthorized)
	assert.Empty(t, accessToken)
}

func TestAuthService_Refresh_AccessTokenRejected(t *testing.T) {
	user := verifiedTestUser(t)
	users := &MockUserRepository{
		GetByIDFunc: func(ctx context.Context, id int64) (*models.User, error) {
			return user, nil
		},
	}
	svc := newTestAuthService(t, users, nil)

	// An access token must not refresh a session
	accessToken, err := svc.tm.GenerateAccessToken(user.ID)
	require.NoError(t, err)

	result, err := svc.Refresh(context.Background(), accessToken)

	assert.ErrorIs(t, err, models.ErrUnauthorized)
	assert.Empty(t, result)
}

func TestAuthService_Refresh_DeletedUser(t *testing.T) {
	svc := newTestAuthService(t, &MockUserRepository{}, nil)

	refreshToken, err := svc.tm.GenerateRefreshToken(42)
	require.NoError(t, err)

	accessToken, err := svc.Refresh(context.Background(), refreshToken)

	assert.ErrorIs(t, err, models.ErrUnauthorized)
	assert.Empty(t, accessToken)
}

func TestAuthService_Refresh_Success(t *testing.T) {
	user := verifiedTestUser(t)
	users := &MockUserRepository{
		GetByIDFunc: func(ctx context.Context, id int64) (*models.User, error) {
			return user, nil
		},
	}
	svc := newTestAuthService(t, users, nil)

	refreshToken, err := svc.tm.GenerateRefreshToken(user.ID)
	require.NoError(t, err)

	accessToken, err := svc.Refresh(context.Background(), refreshToken)

	require.NoError(t, err)
	require.NotEmpty(t, accessToken)

	claims, err := svc.tm.ValidateAccessToken(accessToken)
	require.NoError(t, err)
	assert.Equal(t, user.ID, claims.UserID)
}

// ============================================================================
// CurrentUser Tests
// ============================================================================

func TestAuthService_CurrentUser_AbsentToken(t *testing.T) {
	svc := newTestAuthService(t, &MockUserRepository{}, nil)

	user, err := svc.CurrentUser(context.Background(), "")

	assert.NoError(t, err)
	assert.Nil(t, user)
}

func TestAuthService_CurrentUser_InvalidToken(t *testing.T) {
	svc := newTestAuthService(t, &MockUserRepository{}, nil)

	user, err := svc.CurrentUser(context.Background(), "not.a.token")

	assert.NoError(t, err)
	assert.Nil(t, user)
}

func TestAuthService_CurrentUser_DeletedUser(t *testing.T) {
	svc := newTestAuthService(t, &MockUserRepository{}, nil)

	accessToken, err := svc.tm.GenerateAccessToken(42)
	require.NoError(t, err)

	user, err := svc.CurrentUser(context.Background(), accessToken)

	assert.NoError(t, err)
	assert.Nil(t, user)
}

func TestAuthService_CurrentUser_Success(t *testing.T) {
	user := verifiedTestUser(t)
	users := &MockUserRepository{
		GetByIDFunc: func(ctx context.Context, id int64) (*models.User, error) {
			return user, nil
		},
	}
	svc := newTestAuthService(t, users, nil)

	accessToken, err := svc.tm.GenerateAccessToken(user.ID)
	require.NoError(t, err)

	resp, err := svc.CurrentUser(context.Background(), accessToken)

	require.NoError(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, user.ID, resp.ID)
	assert.Equal(t, user.Username, resp.Username)
}
