package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/example/gym-checkout/internal/auth"
)

// AccessTokenCookie carries the token for browser clients
const AccessTokenCookie = "access_token"

// TokenValidator is satisfied by *auth.JWTService
type TokenValidator interface {
	ValidateAccessToken(token string) (*auth.Claims, error)
}

type contextKey string

const (
	UserContextKey contextKey = "user"
	infoContextKey contextKey = "request_info"
)

// authError matches the API error envelope
type authError struct {
	Error  string `json:"error"`
	Reason string `json:"reason"`
}

func respondError(w http.ResponseWriter, status int, reason, message string) {
	if status == http.StatusUnauthorized {
		w.Header().Set("WWW-Authenticate", `Bearer realm="gym"`)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(authError{Error: message, Reason: reason})
}

// ExtractToken returns the access token from the cookie, or else from a
// Bearer Authorization header.
func ExtractToken(r *http.Request) string {
	if cookie, err := r.Cookie(AccessTokenCookie); err == nil && cookie.Value != "" {
		return cookie.Value
	}
	scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

// AuthMiddleware rejects requests without a valid access token and puts the
// claims in the request context.
func AuthMiddleware(validator TokenValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenString := ExtractToken(r)
			if tokenString == "" {
				respondError(w, http.StatusUnauthorized, "missing_token", "unauthorized")
				return
			}

			claims, err := validator.ValidateAccessToken(tokenString)
			switch {
			case errors.Is(err, auth.ErrExpiredToken):
				respondError(w, http.StatusUnauthorized, "token_expired", "token expired")
				return
			case errors.Is(err, auth.ErrMissingEmail), errors.Is(err, auth.ErrUnknownRole):
				respondError(w, http.StatusUnauthorized, "invalid_claims", err.Error())
				return
			case err != nil:
				respondError(w, http.StatusUnauthorized, "invalid_token", "invalid token")
				return
			}

			if info, ok := r.Context().Value(infoContextKey).(*requestInfo); ok {
				info.memberID = claims.MemberID()
			}
			next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), claims)))
		})
	}
}

// RequireRole lets through callers holding any of roles
func RequireRole(roles ...string) func(http.Handler) http.Handler {
	allowed := make(map[string]struct{}, len(roles))
	for _, role := range roles {
		allowed[role] = struct{}{}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, ok := GetUserFromContext(r.Context())
			if !ok {
				respondError(w, http.StatusUnauthorized, "missing_token", "unauthorized")
				return
			}
			if _, ok := allowed[claims.Role]; !ok {
				respondError(w, http.StatusForbidden, "forbidden", "forbidden")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func WithClaims(ctx context.Context, claims *auth.Claims) context.Context {
	return context.WithValue(ctx, UserContextKey, claims)
}

func GetUserFromContext(ctx context.Context) (*auth.Claims, bool) {
	claims, ok := ctx.Value(UserContextKey).(*auth.Claims)
	return claims, ok && claims != nil
}

// GetUserID returns the caller's member ID, or "" before authentication
func GetUserID(ctx context.Context) string {
	claims, ok := GetUserFromContext(ctx)
	if !ok {
		return ""
	}
	return claims.MemberID()
}
