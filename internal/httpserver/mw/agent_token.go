package mw

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/cyb3rgh05t/komandorr/internal/logger"
	"github.com/cyb3rgh05t/komandorr/internal/utils"
)

// AgentToken requires "Authorization: Bearer <token>" on push endpoints.
// If token is empty, it acts as a passthrough.
func AgentToken(token string, trustProxy bool, log logger.Logger) func(http.Handler) http.Handler {
	if token == "" {
		log.Debug("AgentToken: no token configured, passthrough mode")
		return func(next http.Handler) http.Handler { return next }
	}

	want := []byte(token)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got, ok := bearer(r)
			if !ok {
				w.Header().Set("WWW-Authenticate", "Bearer")
				http.Error(w, "authentication required", http.StatusUnauthorized)
				return
			}
			if subtle.ConstantTimeCompare([]byte(got), want) != 1 {
				log.Warn("AgentToken: rejected push with invalid token",
					logger.String("remote_ip", utils.ClientIP(r, trustProxy)),
					logger.String("path", r.URL.Path))
				http.Error(w, "invalid token", http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func bearer(r *http.Request) (string, bool) {
	auth := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(auth) <= len(prefix) || !strings.EqualFold(auth[:len(prefix)], prefix) {
		return "", false
	}
	return strings.TrimSpace(auth[len(prefix):]), true
}
