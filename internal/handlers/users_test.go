package handlers

import (
	"context"
	"net/http"
	"testing"

	"github.com/mharlow/gatehouse/internal/models"
	"github.com/mharlow/gatehouse/internal/services"
	pkgauth "github.com/mharlow/gatehouse/pkg/auth"
	"github.com/stretchr/testify/assert"
)

func TestUserHandler_Create_Success(t *testing.T) {
	account := &MockAccountService{
		RegisterFunc: func(ctx context.Context, username, email, password string) (*services.UserResponse, error) {
			user := testUserResponse()
			user.AccountVerified = false
			return user, nil
		},
	}
	h := NewUserHandler(account)

	rec := postJSON(t, h.Create, "/users", map[string]string{
		"username": "jharlow",
		"email":    "user@example.com",
		"password": "SecurePassword#456",
	})

	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Contains(t, rec.Body.String(), "user")
	assert.NotContains(t, rec.Body.String(), "password")
}

func TestUserHandler_Create_Conflict(t *testing.T) {
	account := &MockAccountService{
		RegisterFunc: func(ctx context.Context, username, email, password string) (*services.UserResponse, error) {
			return nil, models.ErrConflict
		},
	}
	h := NewUserHandler(account)

	rec := postJSON(t, h.Create, "/users", map[string]string{
		"username": "jharlow",
		"email":    "taken@example.com",
		"password": "SecurePassword#456",
	})

	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestUserHandler_Create_WeakPassword(t *testing.T) {
	account := &MockAccountService{
		RegisterFunc: func(ctx context.Context, username, email, password string) (*services.UserResponse, error) {
			return nil, &pkgauth.PasswordValidationError{Errors: []string{"too short"}}
		},
	}
	h := NewUserHandler(account)

	rec := postJSON(t, h.Create, "/users", map[string]string{
		"username": "jharlow",
		"email":    "user@example.com",
		"password": "short",
	})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "invalid password")
}

func TestUserHandler_Create_MissingUsername(t *testing.T) {
	h := NewUserHandler(&MockAccountService{})

	rec := postJSON(t, h.Create, "/users", map[string]string{
		"email":    "user@example.com",
		"password": "SecurePassword#456",
	})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
