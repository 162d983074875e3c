package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/mharlow/gatehouse/internal/models"
	"github.com/mharlow/gatehouse/internal/services"
	pkgauth "github.com/mharlow/gatehouse/pkg/auth"
	pkghttp "github.com/mharlow/gatehouse/pkg/http"
)

// RegistrationServiceInterface defines the registration operation
type RegistrationServiceInterface interface {
	Register(ctx context.Context, username, email, password string) (*services.UserResponse, error)
}

// UserHandler handles account registration
type UserHandler struct {
	service RegistrationServiceInterface
}

// NewUserHandler creates a new UserHandler
func NewUserHandler(service RegistrationServiceInterface) *UserHandler {
	return &UserHandler{service: service}
}

// RegisterRequest represents the request body for registration
type RegisterRequest struct {
	Username string `json:"username" validate:"required,min=3,max=32"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// Create handles POST /users. The new account starts unverified; a
// verification email is sent as part of registration.
func (h *UserHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}

	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	user, err := h.service.Register(r.Context(), req.Username, req.Email, req.Password)
	if err != nil {
		var pwErr *pkgauth.PasswordValidationError
		switch {
		case errors.As(err, &pwErr):
			pkghttp.WriteBadRequest(w, pwErr.Error())
		case errors.Is(err, models.ErrConflict):
			pkghttp.WriteConflict(w, "Username or email is already in use")
		case errors.Is(err, models.ErrBadRequest):
			pkghttp.WriteBadRequest(w, "Invalid registration details")
		default:
			pkghttp.WriteInternalError(w, "Internal server error")
		}
		return
	}

	pkghttp.WriteJSON(w, http.StatusCreated, map[string]any{
		"message": "Account created. Please check your email to verify it.",
		"user":    user,
	})
}
