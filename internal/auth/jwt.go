// Package auth provides JWT-based authentication middleware.
package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/fruitsalade/explorer/internal/logging"
	"github.com/fruitsalade/explorer/internal/metrics"
	"github.com/fruitsalade/explorer/internal/models"
)

type contextKey string

const claimsContextKey contextKey = "claims"

// Issuer is the "iss" claim of issued tokens.
const Issuer = "explorer"

// Claims holds JWT token claims.
type Claims struct {
	Client string `json:"client"`
	jwt.RegisteredClaims
}

// Auth issues and validates HS256 bearer tokens.
type Auth struct {
	secret []byte
}

// New creates an Auth with the shared signing secret.
func New(secret string) (*Auth, error) {
	if secret == "" {
		return nil, errors.New("jwt secret is empty")
	}
	return &Auth{secret: []byte(secret)}, nil
}

// IssueToken signs a token for client valid for ttl.
func (a *Auth) IssueToken(client string, ttl time.Duration) (string, time.Time, error) {
	now := time.Now()
	expires := now.Add(ttl)
	claims := &Claims{
		Client: client,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   client,
			ExpiresAt: jwt.NewNumericDate(expires),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    Issuer,
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(a.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, expires, nil
}

// Middleware returns HTTP middleware that validates JWT tokens.
func (a *Auth) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenStr := extractToken(r)
		if tokenStr == "" {
			metrics.RecordAuthAttempt(false)
			sendAuthError(w, http.StatusUnauthorized, "missing authentication token")
			return
		}

		claims, err := a.ValidateToken(tokenStr)
		if err != nil {
			metrics.RecordAuthAttempt(false)
			logging.FromContext(r.Context()).Debug("token rejected", zap.String("path", r.URL.Path), zap.Error(err))
			sendAuthError(w, http.StatusUnauthorized, "invalid token: "+err.Error())
			return
		}
		metrics.RecordAuthAttempt(true)

		ctx := context.WithValue(r.Context(), claimsContextKey, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetClaims extracts claims from the request context.
func GetClaims(ctx context.Context) *Claims {
	claims, _ := ctx.Value(claimsContextKey).(*Claims)
	return claims
}

// ValidateToken parses tokenStr and checks its signature, expiry and issuer.
func (a *Auth) ValidateToken(tokenStr string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return a.secret, nil
	}, jwt.WithIssuer(Issuer), jwt.WithExpirationRequired())
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, errors.New("invalid token")
	}
	return claims, nil
}

func extractToken(r *http.Request) string {
	// Bearer token from Authorization header
	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	// Query parameter fallback, for EventSource clients that cannot set headers
	return r.URL.Query().Get("token")
}

func sendAuthError(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(models.ErrorResponse{
		Error: message,
		Code:  code,
	})
}
