// Package client provides an HTTP client for the Dspace server with retry and auth.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/klauspost/compress/gzip"

	"github.com/maazmalik2004/Dspace/pkg/models"
	"github.com/maazmalik2004/Dspace/pkg/protocol"
	"github.com/maazmalik2004/Dspace/pkg/retry"
)

// Client talks to a Dspace server.
type Client struct {
	baseURL     string
	httpClient  *http.Client
	retryConfig retry.Config

	mu        sync.RWMutex
	authToken string
}

// Config holds client configuration.
type Config struct {
	BaseURL     string
	Timeout     time.Duration
	RetryConfig retry.Config
	AuthToken   string
}

// APIError is a non-2xx answer from the server.
type APIError struct {
	StatusCode int
	Message    string
	Detail     string
}

func (e *APIError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s (%d): %s", e.Message, e.StatusCode, e.Detail)
	}
	return fmt.Sprintf("%s (%d)", e.Message, e.StatusCode)
}

// IsNotFound reports whether err is a 404 from the server.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

// New creates a new client.
func New(cfg Config) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Minute
	}
	if cfg.RetryConfig.MaxAttempts == 0 {
		cfg.RetryConfig = retry.DefaultConfig()
	}

	return &Client{
		baseURL: cfg.BaseURL,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
			Transport: &http.Transport{
				DialContext: (&net.Dialer{
					Timeout:   10 * time.Second,
					KeepAlive: 30 * time.Second,
				}).DialContext,
				MaxIdleConns:        100,
				IdleConnTimeout:     90 * time.Second,
				DisableCompression:  true,
				TLSHandshakeTimeout: 10 * time.Second,
			},
		},
		retryConfig: cfg.RetryConfig,
		authToken:   cfg.AuthToken,
	}
}

// SetAuthToken sets the JWT auth token for requests.
func (c *Client) SetAuthToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.authToken = token
}

func (c *Client) applyAuth(req *http.Request) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.authToken)
	}
}

// Ping checks that the server is reachable.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return readAPIError(resp)
	}
	return nil
}

// UploadFile is one file part of an upload. Name must match a file node
// name in the directory structure.
type UploadFile struct {
	Name string
	Data []byte
}

// Upload sends a directory structure and its file contents. It is not
// retried: a failed request may already have stored some chunks.
func (c *Client) Upload(ctx context.Context, skeleton *models.Node, files []UploadFile) (*protocol.UploadResponse, error) {
	structure, err := json.Marshal(skeleton)
	if err != nil {
		return nil, fmt.Errorf("encode directory structure: %w", err)
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if err := mw.WriteField(protocol.FieldDirectoryStructure, string(structure)); err != nil {
		return nil, err
	}
	for _, f := range files {
		fw, err := mw.CreateFormFile(protocol.FieldFiles, f.Name)
		if err != nil {
			return nil, err
		}
		if _, err := fw.Write(f.Data); err != nil {
			return nil, err
		}
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/upload", &body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	c.applyAuth(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("upload request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, readAPIError(resp)
	}
	var result protocol.UploadResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("parse upload response: %w", err)
	}
	return &result, nil
}

// Tree fetches the user's virtual directory.
func (c *Client) Tree(ctx context.Context) (*models.Node, error) {
	return retry.DoWithResult(ctx, c.retryConfig, func() (*models.Node, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/virtualDirectory", nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept-Encoding", "gzip")
		c.applyAuth(req)

		resp, err := c.send(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		var reader io.Reader = resp.Body
		if resp.Header.Get("Content-Encoding") == "gzip" {
			gr, err := gzip.NewReader(resp.Body)
			if err != nil {
				return nil, err
			}
			defer gr.Close()
			reader = gr
		}

		var result protocol.VirtualDirectoryResponse
		if err := json.NewDecoder(reader).Decode(&result); err != nil {
			return nil, fmt.Errorf("parse virtual directory: %w", err)
		}
		return result.VirtualDirectory, nil
	})
}

// Retrieved describes a downloaded file or folder archive.
type Retrieved struct {
	Filename      string
	ContentType   string
	RetrievalTime string // empty for folder archives
	Size          int64
}

// Retrieve downloads the node with the given id into w. Folders arrive as
// zip archives. Only the request is retried; once the body starts streaming
// a failure is returned as is.
func (c *Client) Retrieve(ctx context.Context, id string, w io.Writer) (*Retrieved, error) {
	resp, err := retry.DoWithResult(ctx, c.retryConfig, func() (*http.Response, error) {
		body, _ := json.Marshal(protocol.IdentifierRequest{Identifier: id})
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/retrieve", bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		c.applyAuth(req)
		return c.send(req)
	})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	info := &Retrieved{
		Filename:      id,
		ContentType:   resp.Header.Get("Content-Type"),
		RetrievalTime: resp.Header.Get(protocol.RetrievalTimeHeader),
	}
	if _, params, err := mime.ParseMediaType(resp.Header.Get("Content-Disposition")); err == nil && params["filename"] != "" {
		info.Filename = params["filename"]
	}

	n, err := io.Copy(w, resp.Body)
	info.Size = n
	if err != nil {
		return info, fmt.Errorf("download %s: %w", id, err)
	}
	return info, nil
}

// Delete removes a node and returns the updated tree.
func (c *Client) Delete(ctx context.Context, id string) (*models.Node, error) {
	return retry.DoWithResult(ctx, c.retryConfig, func() (*models.Node, error) {
		body, _ := json.Marshal(protocol.IdentifierRequest{Identifier: id})
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/delete", bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		c.applyAuth(req)

		resp, err := c.send(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		var result protocol.VirtualDirectoryResponse
		if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
			return nil, fmt.Errorf("parse delete response: %w", err)
		}
		return result.VirtualDirectory, nil
	})
}

// send performs req and returns the response when the status is 200. Network
// failures and 5xx answers are marked retryable; other statuses are not.
func (c *Client) send(req *http.Request) (*http.Response, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, retry.Retryable(err)
	}
	if resp.StatusCode == http.StatusOK {
		return resp, nil
	}
	defer resp.Body.Close()

	apiErr := readAPIError(resp)
	if resp.StatusCode >= 500 {
		return nil, retry.Retryable(apiErr)
	}
	return nil, apiErr
}

func readAPIError(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	apiErr := &APIError{StatusCode: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}

	var body protocol.ErrorResponse
	if json.Unmarshal(data, &body) == nil && body.Message != "" {
		apiErr.Message = body.Message
		apiErr.Detail = body.Error
	} else if len(data) > 0 {
		apiErr.Detail = string(bytes.TrimSpace(data))
	}
	return apiErr
}
