package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	RoleBilling = "billing"
	RoleAdmin   = "admin"

	authContextKey = contextKey("auth")
)

type contextKey string

type AuthContext struct {
	Subject string
	Roles   []string
}

// IssueToken signs an HS256 token carrying subject and roles.
func IssueToken(key []byte, subject string, roles []string, ttl time.Duration) (string, time.Time, error) {
	if len(key) == 0 {
		return "", time.Time{}, errors.New("signing key not configured")
	}
	if strings.TrimSpace(subject) == "" {
		return "", time.Time{}, errors.New("subject is required")
	}
	now := time.Now()
	exp := now.Add(ttl)
	claims := jwt.MapClaims{
		"sub":   subject,
		"roles": roles,
		"iat":   now.Unix(),
		"exp":   exp.Unix(),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(key)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, exp, nil
}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.opts.RequireAuth {
			ctx := context.WithValue(r.Context(), authContextKey, &AuthContext{Subject: "anonymous"})
			next.ServeHTTP(w, r.WithContext(ctx))
			return
		}
		authz := r.Header.Get("Authorization")
		if !strings.HasPrefix(authz, "Bearer ") {
			writeStatus(w, http.StatusUnauthorized, statusError, "missing bearer token")
			return
		}
		tokenStr := strings.TrimPrefix(authz, "Bearer ")
		token, err := jwt.Parse(tokenStr, func(t *jwt.Token) (any, error) {
			if t.Method.Alg() != jwt.SigningMethodHS256.Alg() {
				return nil, fmt.Errorf("unexpected signing method %s", t.Method.Alg())
			}
			return s.opts.SigningKey, nil
		})
		if err != nil || !token.Valid {
			writeStatus(w, http.StatusUnauthorized, statusError, "invalid token")
			return
		}
		claims, ok := token.Claims.(jwt.MapClaims)
		if !ok {
			writeStatus(w, http.StatusUnauthorized, statusError, "invalid token claims")
			return
		}
		roles := []string{}
		if raw, ok := claims["roles"].([]any); ok {
			for _, r := range raw {
				if str, ok := r.(string); ok {
					roles = append(roles, str)
				}
			}
		}
		subject, _ := claims["sub"].(string)
		ctx := context.WithValue(r.Context(), authContextKey, &AuthContext{
			Subject: subject,
			Roles:   roles,
		})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func authFrom(ctx context.Context) *AuthContext {
	if ac, ok := ctx.Value(authContextKey).(*AuthContext); ok && ac != nil {
		return ac
	}
	return &AuthContext{Subject: "anonymous"}
}

func (s *Server) requireRole(allowed ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !s.opts.RequireAuth {
				next.ServeHTTP(w, r)
				return
			}
			for _, role := range authFrom(r.Context()).Roles {
				for _, allowedRole := range allowed {
					if role == allowedRole {
						next.ServeHTTP(w, r)
						return
					}
				}
			}
			writeStatus(w, http.StatusForbidden, statusError, "forbidden")
		})
	}
}
