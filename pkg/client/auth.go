package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/maazmalik2004/Dspace/pkg/protocol"
)

// SavedToken is a bearer token persisted between CLI invocations.
type SavedToken struct {
	Server    string    `json:"server"`
	Username  string    `json:"username"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// ValidFor reports whether the token was issued by server and stays valid
// for at least margin.
func (t *SavedToken) ValidFor(server string, margin time.Duration) bool {
	return t.Token != "" && t.Server == server && time.Now().Add(margin).Before(t.ExpiresAt)
}

// Login exchanges credentials for a token and uses it for later requests.
// Bad credentials are not retried.
func (c *Client) Login(ctx context.Context, username, password string) (*protocol.LoginResponse, error) {
	body, err := json.Marshal(protocol.LoginRequest{Username: username, Password: password})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/auth/token", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.send(req)
	if err != nil {
		return nil, fmt.Errorf("login as %s: %w", username, err)
	}
	defer resp.Body.Close()

	var result protocol.LoginResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("parse login response: %w", err)
	}
	c.SetAuthToken(result.Token)
	return &result, nil
}

// DefaultTokenPath is where the CLI keeps its token unless told otherwise.
func DefaultTokenPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		dir = os.TempDir()
	}
	return filepath.Join(dir, "dspace", "token.json")
}

// SaveToken writes t to path, readable by the owner only.
func SaveToken(path string, t *SavedToken) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	data, err := json.MarshalIndent(t, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// LoadToken reads a token saved by SaveToken.
func LoadToken(path string) (*SavedToken, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	t := new(SavedToken)
	if err := json.Unmarshal(data, t); err != nil {
		return nil, fmt.Errorf("token file %s: %w", path, err)
	}
	return t, nil
}
