package auth

import (
	"net"
	"net/http"
	"strings"
	"time"
)

// SessionCookieName is the fixed name of the session cookie.
const SessionCookieName = "polly-session"

// SetSessionCookie writes the session cookie. The Secure attribute is
// dropped for localhost so local development over plain HTTP works.
func SetSessionCookie(w http.ResponseWriter, r *http.Request, token string, lifetime time.Duration) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   int(lifetime.Seconds()),
		HttpOnly: true,
		Secure:   !isLocalhost(r.Host),
		SameSite: http.SameSiteLaxMode,
	})
}

// ClearSessionCookie expires the session cookie immediately.
func ClearSessionCookie(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   !isLocalhost(r.Host),
		SameSite: http.SameSiteLaxMode,
	})
}

func isLocalhost(host string) bool {
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	host = strings.Trim(host, "[]")
	return host == "localhost" || host == "127.0.0.1" || host == "::1"
}
