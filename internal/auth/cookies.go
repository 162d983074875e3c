package auth

import (
	"net/http"
)

// Cookie names match what the single-page client expects
const (
	AccessTokenCookie  = "accessToken"
	RefreshTokenCookie = "refreshToken"
)

// CookieConfig holds cookie transport settings
type CookieConfig struct {
	Secure   bool
	SameSite http.SameSite
}

// NewCookieConfig returns cookie settings for the environment. Production
// serves the SPA from a different origin, so cookies need Secure +
// SameSite=None; local development relaxes to Lax over plain HTTP.
func NewCookieConfig(env string) CookieConfig {
	if env == "production" {
		return CookieConfig{
			Secure:   true,
			SameSite: http.SameSiteNoneMode,
		}
	}
	return CookieConfig{
		Secure:   false,
		SameSite: http.SameSiteLaxMode,
	}
}

// SetAccessTokenCookie sets the access token in an httpOnly cookie
func SetAccessTokenCookie(w http.ResponseWriter, token string, maxAge int, config CookieConfig) {
	http.SetCookie(w, &http.Cookie{
		Name:     AccessTokenCookie,
		Value:    token,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true, // prevents JavaScript access (XSS protection)
		Secure:   config.Secure,
		SameSite: config.SameSite,
	})
}

// SetRefreshTokenCookie sets the refresh token in an httpOnly cookie
func SetRefreshTokenCookie(w http.ResponseWriter, token string, maxAge int, config CookieConfig) {
	http.SetCookie(w, &http.Cookie{
		Name:     RefreshTokenCookie,
		Value:    token,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   config.Secure,
		SameSite: config.SameSite,
	})
}

// ClearSessionCookies deletes both session cookies. Sign-out only removes
// the client-held cookies; issued tokens stay valid until expiry.
func ClearSessionCookies(w http.ResponseWriter, config CookieConfig) {
	for _, name := range []string{AccessTokenCookie, RefreshTokenCookie} {
		http.SetCookie(w, &http.Cookie{
			Name:     name,
			Value:    "",
			Path:     "/",
			MaxAge:   -1, // Negative MaxAge deletes the cookie
			HttpOnly: true,
			Secure:   config.Secure,
			SameSite: config.SameSite,
		})
	}
}

// GetAccessTokenCookie retrieves the access token from cookies
func GetAccessTokenCookie(r *http.Request) (string, error) {
	cookie, err := r.Cookie(AccessTokenCookie)
	if err != nil {
		return "", err
	}
	return cookie.Value, nil
}

// GetRefreshTokenCookie retrieves the refresh token from cookies
func GetRefreshTokenCookie(r *http.Request) (string, error) {
	cookie, err := r.Cookie(RefreshTokenCookie)
	if err != nil {
		return "", err
	}
	return cookie.Value, nil
}
