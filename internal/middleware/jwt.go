package myMiddleware

import (
	"context"
	"net/http"
	"strings"
)

type contextKey string

const (
	UserKey     contextKey = "user_id"
	NicknameKey contextKey = "nickname"
	AvatarKey   contextKey = "profile_image"
)

// TokenValidator is what we need from the user service. The interface keeps
// this package decoupled from 'user'.
type TokenValidator interface {
	ValidateToken(tokenString string) (int, string, string, error)
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

		// Fallback: the SPA keeps the token in an httpOnly cookie
		if tokenString == "" {
			if c, err := r.Cookie("token"); err == nil {
				tokenString = c.Value
			}
		}

		// Fallback: Check Query Param (websocket clients)
		if tokenString == "" {
			tokenString = r.URL.Query().Get("token")
		}

		if tokenString == "" {
			http.Error(w, "Missing authentication token", http.StatusUnauthorized)
			return
		}

		userID, nickname, avatar, err := am.validator.ValidateToken(tokenString)
		if err != nil {
			http.Error(w, "Invalid token", http.StatusUnauthorized)
			return
		}

		// Inject into Context
		ctx := context.WithValue(r.Context(), UserKey, userID)
		ctx = context.WithValue(ctx, NicknameKey, nickname)
		ctx = context.WithValue(ctx, AvatarKey, avatar)

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
