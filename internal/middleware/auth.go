package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// TokenCookie remembers a token given once in the query string so browser
// pages and EventSource connections keep working.
const TokenCookie = "lens_token"

// AccessToken requires token on every request except /health. The token is
// read from "Authorization: Bearer <token>", the access_token query
// parameter or the TokenCookie cookie. An empty token disables the check.
func AccessToken(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if token == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/health" {
				next.ServeHTTP(w, r)
				return
			}

			if auth := r.Header.Get("Authorization"); auth != "" {
				if matches(strings.TrimSpace(strings.TrimPrefix(auth, "Bearer ")), token) {
					next.ServeHTTP(w, r)
					return
				}
				http.Error(w, "invalid access token", http.StatusUnauthorized)
				return
			}
			if q := r.URL.Query().Get("access_token"); q != "" {
				if !matches(q, token) {
					http.Error(w, "invalid access token", http.StatusUnauthorized)
					return
				}
				http.SetCookie(w, &http.Cookie{
					Name:     TokenCookie,
					Value:    q,
					Path:     "/",
					HttpOnly: true,
					SameSite: http.SameSiteStrictMode,
				})
				next.ServeHTTP(w, r)
				return
			}
			if c, err := r.Cookie(TokenCookie); err == nil && matches(c.Value, token) {
				next.ServeHTTP(w, r)
				return
			}
			http.Error(w, "missing access token", http.StatusUnauthorized)
		})
	}
}

func matches(got, want string) bool {
	return subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}
