package myMiddleware

import (
	"context"
	"net/http"
	"strings"
)

// Context keys, exported so handlers can read the identity.
type contextKey string

const (
	UserKey     contextKey = "user_id"
	UsernameKey contextKey = "username"
	RoleKey     contextKey = "role"
)

// TokenValidator decouples 'middleware' from 'user'.
type TokenValidator interface {
	ValidateToken(tokenString string) (userID, username, role string, err error)
}

type AuthMiddleware struct {
	validator TokenValidator
}

func NewAuthMiddleware(v TokenValidator) *AuthMiddleware {
	return &AuthMiddleware{validator: v}
}

func (am *AuthMiddleware) Handle(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenString := ""

		// Check Authorization Header
		authHeader := r.Header.Get("Authorization")
		if authHeader != "" {
			parts := strings.Split(authHeader, " ")
			if len(parts) == 2 {
				tokenString = parts[1]
			}
		}

		// Fallback: browsers cannot set headers on a WebSocket handshake
		if tokenString == "" {
			tokenString = r.URL.Query().Get("token")
		}

		if tokenString == "" {
			http.Error(w, "Missing authentication token", http.StatusUnauthorized)
			return
		}

		userID, username, role, err := am.validator.ValidateToken(tokenString)
		if err != nil {
			http.Error(w, "Invalid token", http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), UserKey, userID)
		ctx = context.WithValue(ctx, UsernameKey, username)
		ctx = context.WithValue(ctx, RoleKey, role)

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Identity reads what Handle stored in the request context.
func Identity(ctx context.Context) (userID, username, role string, ok bool) {
	userID, ok = ctx.Value(UserKey).(string)
	username, _ = ctx.Value(UsernameKey).(string)
	role, _ = ctx.Value(RoleKey).(string)
	return userID, username, role, ok && userID != ""
}
