// Package protocol defines the API request/response types.
package protocol

import (
	"time"

	"github.com/maazmalik2004/Dspace/pkg/models"
)

// Multipart field names of POST /upload.
const (
	FieldDirectoryStructure = "directoryStructure"
	FieldFiles              = "files"
)

// RetrievalTimeHeader carries the elapsed retrieval time on GET/POST /retrieve.
const RetrievalTimeHeader = "X-Retrieval-Time"

// StatusResponse is returned by GET / and GET /health.
type StatusResponse struct {
	Message string `json:"message"`
	Success bool   `json:"success"`
}

// ErrorResponse is returned on API errors.
type ErrorResponse struct {
	Message string `json:"message"`
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

// UploadResponse is returned by POST /upload.
type UploadResponse struct {
	Message          string       `json:"message"`
	Success          bool         `json:"success"`
	UploadTime       string       `json:"uploadTime"`
	Skipped          []string     `json:"skipped,omitempty"`
	VirtualDirectory *models.Node `json:"virtualDirectory"`
}

// VirtualDirectoryResponse is returned by GET /virtualDirectory and POST /delete.
type VirtualDirectoryResponse struct {
	Message          string       `json:"message"`
	Success          bool         `json:"success"`
	VirtualDirectory *models.Node `json:"virtualDirectory"`
}

// IdentifierRequest is the body of POST /retrieve and POST /delete.
type IdentifierRequest struct {
	Identifier string `json:"identifier"`
}

// LoginRequest is the body of POST /auth/token.
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// LoginResponse is returned by POST /auth/token.
type LoginResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	Username  string    `json:"username"`
}
