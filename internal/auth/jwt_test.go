package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/maazmalik2004/Dspace/internal/logging"
	"github.com/maazmalik2004/Dspace/internal/store"
	"github.com/maazmalik2004/Dspace/pkg/protocol"
)

func init() {
	logging.InitNop()
}

type staticUsers map[string]string

func (u staticUsers) VerifyPassword(_ context.Context, identifier, password string) (string, error) {
	if pw, ok := u[identifier]; ok && pw == password {
		return identifier, nil
	}
	return "", store.ErrInvalidCredentials
}

func whoami(w http.ResponseWriter, r *http.Request) {
	user, _ := UserFromContext(r.Context())
	w.Write([]byte(user))
}

func TestLoginAndMiddleware(t *testing.T) {
	a := New(staticUsers{"alice": "pw"}, "secret", time.Hour)

	body, _ := json.Marshal(protocol.LoginRequest{Username: "alice", Password: "pw"})
	rec := httptest.NewRecorder()
	a.HandleLogin(rec, httptest.NewRequest(http.MethodPost, "/auth/token", bytes.NewReader(body)))
	if rec.Code != http.StatusOK {
		t.Fatalf("login status = %d: %s", rec.Code, rec.Body)
	}
	var resp protocol.LoginResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if resp.Username != "alice" || resp.Token == "" || time.Until(resp.ExpiresAt) <= 0 {
		t.Errorf("login response = %+v", resp)
	}

	h := a.Middleware(http.HandlerFunc(whoami))

	req := httptest.NewRequest(http.MethodGet, "/virtualDirectory", nil)
	req.Header.Set("Authorization", "Bearer "+resp.Token)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK || rec.Body.String() != "alice" {
		t.Errorf("bearer: %d %q", rec.Code, rec.Body)
	}

	req = httptest.NewRequest(http.MethodGet, "/virtualDirectory?token="+resp.Token, nil)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Body.String() != "alice" {
		t.Errorf("query token: %d %q", rec.Code, rec.Body)
	}
}

func TestLoginRejects(t *testing.T) {
	a := New(staticUsers{"alice": "pw"}, "secret", time.Hour)

	tests := []struct {
		name string
		body string
		code int
	}{
		{"malformed", "{", http.StatusBadRequest},
		{"missing password", `{"username":"alice"}`, http.StatusBadRequest},
		{"wrong password", `{"username":"alice","password":"nope"}`, http.StatusUnauthorized},
		{"unknown user", `{"username":"bob","password":"pw"}`, http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			a.HandleLogin(rec, httptest.NewRequest(http.MethodPost, "/auth/token", bytes.NewBufferString(tt.body)))
			if rec.Code != tt.code {
				t.Errorf("status = %d, want %d", rec.Code, tt.code)
			}
		})
	}
}

func TestMiddlewareRejects(t *testing.T) {
	a := New(staticUsers{}, "secret", time.Hour)
	h := a.Middleware(http.HandlerFunc(whoami))

	other := New(staticUsers{}, "other-secret", time.Hour)
	foreign, _, _ := other.IssueToken("mallory")

	expired := New(staticUsers{}, "secret", time.Hour)
	claims := &Claims{Username: "old", RegisteredClaims: jwt.RegisteredClaims{
		Issuer:    issuer,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
	}}
	stale, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(expired.secret)

	for name, header := range map[string]string{
		"missing":       "",
		"garbage":       "Bearer not-a-jwt",
		"wrong secret":  "Bearer " + foreign,
		"expired token": "Bearer " + stale,
	} {
		t.Run(name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if header != "" {
				req.Header.Set("Authorization", header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			if rec.Code != http.StatusUnauthorized {
				t.Errorf("status = %d", rec.Code)
			}
		})
	}
}

func TestStatic(t *testing.T) {
	h := Static("default")(http.HandlerFunc(whoami))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Body.String() != "default" {
		t.Errorf("user = %q", rec.Body)
	}
}
