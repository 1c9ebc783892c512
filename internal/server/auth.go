package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/charterhq/charter/internal/common/httpx"
	"github.com/charterhq/charter/internal/orchestrator/config"
)

// BearerAuth validates the Authorization header against the configured HS256
// signing secret. Requests without a valid token are rejected before any
// command is parsed.
func BearerAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			httpx.ErrUnauthorized("missing bearer token").Send(w)
			return
		}
		tokenStr := strings.TrimPrefix(header, "Bearer ")

		token, err := jwt.Parse(tokenStr, func(t *jwt.Token) (any, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, jwt.ErrSignatureInvalid
			}
			return []byte(config.Config().Auth.SigningSecret), nil
		}, jwt.WithValidMethods([]string{"HS256"}))
		if err != nil || !token.Valid {
			httpx.ErrUnauthorized("invalid token").Send(w)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// IssueToken mints an HS256 token for API access, valid for the configured
// token expiry.
func IssueToken(subject string) (string, error) {
	expiry, err := config.Config().Auth.GetTokenExpiry()
	if err != nil {
		expiry = 24 * time.Hour
	}
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(expiry)),
		Issuer:    "charterd",
	})
	return token.SignedString([]byte(config.Config().Auth.SigningSecret))
}
