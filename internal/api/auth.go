package api

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

const ctxKeySubject contextKey = "subject"

// ErrTokenInvalid is returned for access tokens that fail validation.
var ErrTokenInvalid = errors.New("api: invalid access token")

// AccessClaims are the claims of an access token issued by the site
// controller. Only the subject and role are required here.
type AccessClaims struct {
	jwt.RegisteredClaims
	Role string `json:"role"`
}

// ParseAccessToken validates an HS256 access token against secret.
func ParseAccessToken(tokenString, secret string) (*AccessClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &AccessClaims{}, func(_ *jwt.Token) (any, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTokenInvalid, err)
	}

	claims, ok := token.Claims.(*AccessClaims)
	if !ok || !token.Valid {
		return nil, ErrTokenInvalid
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrTokenInvalid)
	}
	if claims.Role == "" {
		return nil, fmt.Errorf("%w: missing role", ErrTokenInvalid)
	}
	return claims, nil
}

// tokenMiddleware requires the configured static token or, when a JWT
// secret is set, a valid access token. Browsers cannot set headers on a
// WebSocket upgrade, so a token query parameter is also accepted. With
// neither configured every request passes.
func (s *Server) tokenMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.Token == "" && s.cfg.JWTSecret == "" {
			next.ServeHTTP(w, r)
			return
		}
		got, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok {
			got = r.URL.Query().Get("token")
		}
		if got == "" {
			writeError(w, http.StatusUnauthorized, ErrCodeUnauthorized, "missing token")
			return
		}

		if s.cfg.Token != "" && subtle.ConstantTimeCompare([]byte(got), []byte(s.cfg.Token)) == 1 {
			next.ServeHTTP(w, r)
			return
		}
		if s.cfg.JWTSecret != "" {
			claims, err := ParseAccessToken(got, s.cfg.JWTSecret)
			if err == nil {
				ctx := context.WithValue(r.Context(), ctxKeySubject, claims.Subject)
				next.ServeHTTP(w, r.WithContext(ctx))
				return
			}
			s.logger.Debug("access token rejected", "error", err)
		}
		writeError(w, http.StatusUnauthorized, ErrCodeUnauthorized, "invalid token")
	})
}
