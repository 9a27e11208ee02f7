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

	"github.com/maazmalik2004/Dspace/internal/logging"
	"github.com/maazmalik2004/Dspace/internal/metrics"
	"github.com/maazmalik2004/Dspace/internal/store"
	"github.com/maazmalik2004/Dspace/pkg/protocol"
)

type contextKey string

const userContextKey contextKey = "user"

const issuer = "dspace"

// UserVerifier checks credentials and returns the canonical username. It
// returns store.ErrInvalidCredentials for a wrong password or unknown user.
type UserVerifier interface {
	VerifyPassword(ctx context.Context, identifier, password string) (string, error)
}

// Claims holds JWT token claims.
type Claims struct {
	Username string `json:"username"`
	jwt.RegisteredClaims
}

// Auth handles JWT authentication.
type Auth struct {
	users  UserVerifier
	secret []byte
	ttl    time.Duration
}

// New creates a new Auth handler. Tokens are valid for ttl.
func New(users UserVerifier, jwtSecret string, ttl time.Duration) *Auth {
	if ttl <= 0 {
		ttl = 30 * 24 * time.Hour
	}
	return &Auth{users: users, secret: []byte(jwtSecret), ttl: ttl}
}

// WithUser returns a context carrying the authenticated username.
func WithUser(ctx context.Context, username string) context.Context {
	return context.WithValue(ctx, userContextKey, username)
}

// UserFromContext returns the authenticated username, if any.
func UserFromContext(ctx context.Context) (string, bool) {
	u, ok := ctx.Value(userContextKey).(string)
	return u, ok && u != ""
}

// Middleware returns HTTP middleware that validates JWT tokens.
func (a *Auth) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenStr := extractToken(r)
		if tokenStr == "" {
			sendAuthError(w, http.StatusUnauthorized, "missing authentication token")
			return
		}

		claims, err := a.ValidateToken(tokenStr)
		if err != nil {
			sendAuthError(w, http.StatusUnauthorized, "invalid token: "+err.Error())
			return
		}

		ctx := WithUser(r.Context(), claims.Username)
		ctx = logging.WithFields(ctx, logging.User(claims.Username))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Static returns middleware that authenticates every request as username.
// It is used when token authentication is disabled.
func Static(username string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := WithUser(r.Context(), username)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// HandleLogin handles POST /auth/token.
func (a *Auth) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req protocol.LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		sendAuthError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Username == "" || req.Password == "" {
		sendAuthError(w, http.StatusBadRequest, "username and password required")
		return
	}

	username, err := a.users.VerifyPassword(r.Context(), req.Username, req.Password)
	if err != nil {
		metrics.RecordAuthAttempt(false)
		if errors.Is(err, store.ErrInvalidCredentials) {
			sendAuthError(w, http.StatusUnauthorized, "invalid credentials")
			return
		}
		logging.WithContext(r.Context()).Error("credential check failed", logging.Err(err))
		sendAuthError(w, http.StatusInternalServerError, "database error")
		return
	}
	metrics.RecordAuthAttempt(true)

	tokenStr, expires, err := a.IssueToken(username)
	if err != nil {
		sendAuthError(w, http.StatusInternalServerError, "failed to generate token")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(protocol.LoginResponse{
		Token:     tokenStr,
		ExpiresAt: expires,
		Username:  username,
	})
}

// IssueToken signs a token for username.
func (a *Auth) IssueToken(username string) (string, time.Time, error) {
	now := time.Now()
	expires := now.Add(a.ttl)
	claims := &Claims{
		Username: username,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   username,
			ExpiresAt: jwt.NewNumericDate(expires),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    issuer,
		},
	}

	tokenStr, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return tokenStr, expires, nil
}

// ValidateToken parses and verifies a token.
func (a *Auth) ValidateToken(tokenStr string) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(tokenStr, claims,
		func(*jwt.Token) (any, error) { return a.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, err
	}
	if claims.Username == "" {
		return nil, errors.New("token names no user")
	}
	return claims, nil
}

// extractToken reads a bearer token from the Authorization header, falling
// back to the token query parameter for plain download links.
func extractToken(r *http.Request) string {
	if token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); ok {
		return token
	}
	return r.URL.Query().Get("token")
}

func sendAuthError(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(protocol.ErrorResponse{
		Message: "authentication failed",
		Success: false,
		Error:   message,
	})
}
