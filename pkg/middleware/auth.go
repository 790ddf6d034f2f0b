package middleware

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"citizen-reporting-system/pkg/response"

	"github.com/golang-jwt/jwt/v5"
)

type contextKey string

const (
	UserContextKey contextKey = "user"
)

// UserClaims is the token body issued by the external identity provider.
// Only UserID is trusted by the report core; the rest drives authorization.
type UserClaims struct {
	UserID     string `json:"user_id"`
	Email      string `json:"email"`
	Role       string `json:"role"`
	AccessRole string `json:"access_role"`
	Department string `json:"department"`
	jwt.RegisteredClaims
}

const (
	RoleCitizen = "citizen"
	RoleAdmin   = "admin"
)

// IsStaff reports whether the caller works for the city rather than being a
// citizen.
func (c *UserClaims) IsStaff() bool {
	return c.Role == RoleAdmin || c.AccessRole == RoleAdmin
}

var errMissingToken = errors.New("missing bearer token")

// Authenticator verifies HS256 bearer tokens.
type Authenticator struct {
	secret []byte
}

func NewAuthenticator(secret string) *Authenticator {
	return &Authenticator{secret: []byte(secret)}
}

func (a *Authenticator) ParseToken(tokenString string) (*UserClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &UserClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return a.secret, nil
	})
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(*UserClaims)
	if !ok || !token.Valid || claims.UserID == "" {
		return nil, errors.New("invalid token claims")
	}
	return claims, nil
}

// Require rejects requests without a valid bearer token.
func (a *Authenticator) Require(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, err := a.fromRequest(r)
		if err != nil {
			if errors.Is(err, errMissingToken) {
				response.Error(w, http.StatusUnauthorized, "Missing Authorization header", "")
				return
			}
			response.Error(w, http.StatusUnauthorized, "Invalid or expired token", err.Error())
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), UserContextKey, claims)))
	})
}

// Optional attaches claims when a token is present. A present but invalid
// token is still rejected.
func (a *Authenticator) Optional(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, err := a.fromRequest(r)
		switch {
		case errors.Is(err, errMissingToken):
			next.ServeHTTP(w, r)
		case err != nil:
			response.Error(w, http.StatusUnauthorized, "Invalid or expired token", err.Error())
		default:
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), UserContextKey, claims)))
		}
	})
}

func (a *Authenticator) fromRequest(r *http.Request) (*UserClaims, error) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return nil, errMissingToken
	}

	tokenString := strings.TrimPrefix(authHeader, "Bearer ")
	if tokenString == authHeader {
		return nil, errors.New("format must be Bearer <token>")
	}
	return a.ParseToken(tokenString)
}

// ClaimsFromContext returns the authenticated caller, if any.
func ClaimsFromContext(ctx context.Context) (*UserClaims, bool) {
	claims, ok := ctx.Value(UserContextKey).(*UserClaims)
	return claims, ok && claims != nil
}
