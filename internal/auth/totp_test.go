package auth

import (
	"strings"
	"testing"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTOTPManager_GenerateEnrollment(t *testing.T) {
	tm := NewTOTPManager("Gatehouse")

	enrollment, err := tm.GenerateEnrollment("user@example.com")
	require.NoError(t, err)

	assert.NotEmpty(t, enrollment.Secret)
	assert.Contains(t, enrollment.ProvisioningURI, "otpauth://totp/")
	assert.Contains(t, enrollment.ProvisioningURI, "Gatehouse")
	assert.True(t, strings.HasPrefix(enrollment.QRCode, "data:image/png;base64,"))
}

func TestTOTPManager_GenerateEnrollment_UniqueSecrets(t *testing.T) {
	tm := NewTOTPManager("Gatehouse")

	first, err := tm.GenerateEnrollment("user@example.com")
	require.NoError(t, err)
	second, err := tm.GenerateEnrollment("user@example.com")
	require.NoError(t, err)

	assert.NotEqual(t, first.Secret, second.Secret)
}

func TestTOTPManager_VerifyCode_CurrentCode(t *testing.T) {
	tm := NewTOTPManager("Gatehouse")

	enrollment, err := tm.GenerateEnrollment("user@example.com")
	require.NoError(t, err)

	code, err := totp.GenerateCode(enrollment.Secret, time.Now())
	require.NoError(t, err)

	assert.True(t, tm.VerifyCode(enrollment.Secret, code))
}

func TestTOTPManager_VerifyCode_AdjacentStepAccepted(t *testing.T) {
	tm := NewTOTPManager("Gatehouse")

	enrollment, err := tm.GenerateEnrollment("user@example.com")
	require.NoError(t, err)

	// Previous time step is within the ±1 skew window
	code, err := totp.GenerateCode(enrollment.Secret, time.Now().Add(-30*time.Second))
	require.NoError(t, err)

	assert.True(t, tm.VerifyCode(enrollment.Secret, code))
}

func TestTOTPManager_VerifyCode_StaleCodeRejected(t *testing.T) {
	tm := NewTOTPManager("Gatehouse")

	enrollment, err := tm.GenerateEnrollment("user@example.com")
	require.NoError(t, err)

	code, err := totp.GenerateCodeCustom(enrollment.Secret, time.Now().Add(-5*time.Minute), totp.ValidateOpts{
		Period:    30,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
	require.NoError(t, err)

	assert.False(t, tm.VerifyCode(enrollment.Secret, code))
}

func TestTOTPManager_VerifyCode_GarbageRejected(t *testing.T) {
	tm := NewTOTPManager("Gatehouse")

	enrollment, err := tm.GenerateEnrollment("user@example.com")
	require.NoError(t, err)

	assert.False(t, tm.VerifyCode(enrollment.Secret, "000000"))
	assert.False(t, tm.VerifyCode(enrollment.Secret, "abcdef"))
	assert.False(t, tm.VerifyCode(enrollment.Secret, ""))
	assert.False(t, tm.VerifyCode("not-a-secret", "123456"))
}
