package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

type contextKey string

const userIDContextKey contextKey = "userID"
const phoneNumberContextKey contextKey = "phoneNumber"
const sessionTokenContextKey contextKey = "sessionToken"

// AuthMiddlewareConfig controls how incoming requests are authenticated.
type AuthMiddlewareConfig struct {
	SessionJWTSecret string
	ExpectedIssuer   string
}

// SessionAuthMiddleware validates the identity provider's session JWT from
// the Authorization header and injects the verified identity id into the
// request context.
func SessionAuthMiddleware(cfg AuthMiddlewareConfig) func(http.Handler) http.Handler {
	secret := []byte(cfg.SessionJWTSecret)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := strings.TrimSpace(r.Header.Get("Authorization"))
			if authHeader == "" {
				http.Error(w, "Authorization required", http.StatusUnauthorized)
				return
			}

			tokenString, ok := bearerToken(authHeader)
			if !ok {
				http.Error(w, "Invalid Authorization header format", http.StatusUnauthorized)
				return
			}

			claims := jwt.MapClaims{}
			parserOptions := []jwt.ParserOption{
				jwt.WithValidMethods([]string{"HS256"}),
				jwt.WithExpirationRequired(),
			}
			if cfg.ExpectedIssuer != "" {
				parserOptions = append(parserOptions, jwt.WithIssuer(cfg.ExpectedIssuer))
			}

			token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
				return secret, nil
			}, parserOptions...)
			if err != nil || !token.Valid {
				http.Error(w, "Invalid token", http.StatusUnauthorized)
				return
			}

			uid, err := claims.GetSubject()
			if err != nil || uid == "" {
				http.Error(w, "Invalid token subject", http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), userIDContextKey, uid)
			ctx = context.WithValue(ctx, sessionTokenContextKey, tokenString)
			if phone, ok := claims["phone_number"].(string); ok && phone != "" {
				ctx = context.WithValue(ctx, phoneNumberContextKey, phone)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bearerToken(header string) (string, bool) {
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return "", false
	}
	token := strings.TrimSpace(parts[1])
	if token == "" {
		return "", false
	}
	return token, true
}

// UserIDFromContext retrieves the verified identity id placed by the auth
// middleware. It returns an empty string when the request is unauthenticated.
func UserIDFromContext(ctx context.Context) string {
	uid, _ := ctx.Value(userIDContextKey).(string)
	return uid
}

// PhoneNumberFromContext retrieves the verified phone number, if the session
// token carried one.
func PhoneNumberFromContext(ctx context.Context) string {
	phone, _ := ctx.Value(phoneNumberContextKey).(string)
	return phone
}

// SessionTokenFromContext retrieves the raw session token of the request.
func SessionTokenFromContext(ctx context.Context) string {
	token, _ := ctx.Value(sessionTokenContextKey).(string)
	return token
}

// WithUserID returns a context carrying a verified identity id. Exposed for
// handler tests.
func WithUserID(ctx context.Context, uid string) context.Context {
	if uid == "" {
		return ctx
	}
	return context.WithValue(ctx, userIDContextKey, uid)
}
