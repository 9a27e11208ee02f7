// Package api provides the HTTP server and handlers.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"

	"github.com/maazmalik2004/Dspace/internal/auth"
	"github.com/maazmalik2004/Dspace/internal/logging"
	"github.com/maazmalik2004/Dspace/internal/metrics"
	"github.com/maazmalik2004/Dspace/internal/session"
	"github.com/maazmalik2004/Dspace/internal/vdir"
	"github.com/maazmalik2004/Dspace/pkg/models"
	"github.com/maazmalik2004/Dspace/pkg/protocol"
)

// multipartMemory is the part of a multipart body kept in memory; the rest
// spills to temporary files.
const multipartMemory = 32 << 20

// Options configures a Server.
type Options struct {
	MaxUploadSize int64
	DefaultUser   string // owner of every request when auth is disabled
}

// Server is the HTTP server.
type Server struct {
	session *session.Session
	auth    *auth.Auth
	opts    Options
}

// NewServer creates a new server. A nil authHandler disables token
// authentication and attributes every request to opts.DefaultUser.
func NewServer(sess *session.Session, authHandler *auth.Auth, opts Options) *Server {
	if opts.DefaultUser == "" {
		opts.DefaultUser = "default"
	}
	return &Server{session: sess, auth: authHandler, opts: opts}
}

// Handler returns the HTTP handler with auth, logging and metrics middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// Public endpoints
	mux.HandleFunc("GET /{$}", s.handleRoot)
	mux.HandleFunc("GET /health", s.handleRoot)

	protect := auth.Static(s.opts.DefaultUser)
	if s.auth != nil {
		mux.HandleFunc("POST /auth/token", s.auth.HandleLogin)
		protect = s.auth.Middleware
	}

	mux.Handle("POST /upload", protect(http.HandlerFunc(s.handleUpload)))
	mux.Handle("GET /retrieve/{identifier}", protect(http.HandlerFunc(s.handleRetrieve)))
	mux.Handle("POST /retrieve", protect(http.HandlerFunc(s.handleRetrieve)))
	mux.Handle("GET /virtualDirectory", protect(http.HandlerFunc(s.handleVirtualDirectory)))
	mux.Handle("POST /delete", protect(http.HandlerFunc(s.handleDelete)))

	// The mux records the matched pattern on the request it is handed, so the
	// metrics wrapper must sit directly on top of it.
	return logging.Middleware(metrics.Middleware(mux))
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, protocol.StatusResponse{
		Message: "Root endpoint hit, server is active",
		Success: true,
	})
}

// handleUpload handles POST /upload.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r)

	if s.opts.MaxUploadSize > 0 {
		if r.ContentLength > s.opts.MaxUploadSize {
			s.sendError(w, http.StatusRequestEntityTooLarge, "File upload failed",
				fmt.Sprintf("upload too large: max %d bytes", s.opts.MaxUploadSize))
			return
		}
		r.Body = http.MaxBytesReader(w, r.Body, s.opts.MaxUploadSize)
	}

	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.sendError(w, http.StatusRequestEntityTooLarge, "File upload failed",
				fmt.Sprintf("upload too large: max %d bytes", tooLarge.Limit))
			return
		}
		s.sendError(w, http.StatusBadRequest, "File upload failed", "invalid multipart body: "+err.Error())
		return
	}
	defer r.MultipartForm.RemoveAll()

	raw := r.FormValue(protocol.FieldDirectoryStructure)
	if raw == "" {
		s.sendError(w, http.StatusBadRequest, "File upload failed", "missing "+protocol.FieldDirectoryStructure)
		return
	}
	var skeleton models.Node
	if err := json.Unmarshal([]byte(raw), &skeleton); err != nil {
		s.sendError(w, http.StatusBadRequest, "File upload failed", "invalid "+protocol.FieldDirectoryStructure+": "+err.Error())
		return
	}

	files, err := readParts(r)
	if err != nil {
		s.sendError(w, http.StatusBadRequest, "File upload failed", err.Error())
		return
	}

	result, err := s.session.Upload(r.Context(), user, &skeleton, files)
	if err != nil {
		logging.WithContext(r.Context()).Error("upload failed", logging.Err(err))
		s.sendError(w, statusFor(err), "File upload failed", err.Error())
		return
	}

	writeJSON(w, http.StatusOK, protocol.UploadResponse{
		Message:          "Files uploaded successfully",
		Success:          true,
		UploadTime:       result.UploadTime,
		Skipped:          result.Skipped,
		VirtualDirectory: result.VirtualDirectory,
	})
}

// readParts reads every "files" part into memory, keeping the client's file names.
func readParts(r *http.Request) ([]session.FileUpload, error) {
	headers := r.MultipartForm.File[protocol.FieldFiles]
	files := make([]session.FileUpload, 0, len(headers))
	for _, fh := range headers {
		f, err := fh.Open()
		if err != nil {
			return nil, fmt.Errorf("open part %s: %w", fh.Filename, err)
		}
		data, err := io.ReadAll(f)
		f.Close()
		if err != nil {
			return nil, fmt.Errorf("read part %s: %w", fh.Filename, err)
		}
		files = append(files, session.FileUpload{Name: path.Base(fh.Filename), Data: data})
	}
	return files, nil
}

// handleRetrieve handles GET /retrieve/{identifier} and POST /retrieve.
func (s *Server) handleRetrieve(w http.ResponseWriter, r *http.Request) {
	id, ok := s.identifier(w, r, "Failed to retrieve record")
	if !ok {
		return
	}

	ctx := r.Context()
	node, err := s.session.Resolve(ctx, currentUser(r), id)
	if err != nil {
		s.sendError(w, statusFor(err), "Failed to retrieve record", err.Error())
		return
	}

	if node.IsDir() {
		s.streamDirectory(w, r, node)
		return
	}

	start := time.Now()
	file, err := s.session.RetrieveFile(ctx, node)
	if err != nil {
		logging.WithContext(ctx).Error("file retrieval failed", logging.Node(id), logging.Err(err))
		s.sendError(w, statusFor(err), "Failed to retrieve record", err.Error())
		return
	}

	name := file.Filename()
	contentType := mime.TypeByExtension(path.Ext(name))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", attachment(name))
	w.Header().Set(protocol.RetrievalTimeHeader, session.FormatElapsed(time.Since(start)))
	w.WriteHeader(http.StatusOK)
	w.Write(file.Data)
}

func (s *Server) streamDirectory(w http.ResponseWriter, r *http.Request, node *models.Node) {
	ctx := r.Context()
	cw := &countingWriter{w: w}

	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", attachment(node.Name+".zip"))
	if err := s.session.StreamDirectory(ctx, node, cw); err != nil {
		logging.WithContext(ctx).Error("folder retrieval failed", logging.Node(node.ID), logging.Err(err))
		if cw.n == 0 {
			w.Header().Del("Content-Disposition")
			s.sendError(w, statusFor(err), "Failed to retrieve record", err.Error())
		}
	}
}

// handleVirtualDirectory handles GET /virtualDirectory.
func (s *Server) handleVirtualDirectory(w http.ResponseWriter, r *http.Request) {
	root, err := s.session.Tree(r.Context(), currentUser(r))
	if err != nil {
		s.sendError(w, statusFor(err), "Failed to retrieve virtual directory structure", err.Error())
		return
	}

	resp := protocol.VirtualDirectoryResponse{
		Message:          "Virtual directory structure retrieved successfully",
		Success:          true,
		VirtualDirectory: root,
	}

	if acceptsGzip(r) {
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Content-Encoding", "gzip")
		gw := gzip.NewWriter(w)
		defer gw.Close()
		json.NewEncoder(gw).Encode(resp)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleDelete handles POST /delete.
func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	id, ok := s.identifier(w, r, "Could not delete the requested resource")
	if !ok {
		return
	}

	root, err := s.session.Delete(r.Context(), currentUser(r), id)
	if err != nil {
		s.sendError(w, statusFor(err), "Could not delete the requested resource", err.Error())
		return
	}

	writeJSON(w, http.StatusOK, protocol.VirtualDirectoryResponse{
		Message:          "Resource deleted successfully",
		Success:          true,
		VirtualDirectory: root,
	})
}

// identifier reads the node id from the path or from a JSON body.
func (s *Server) identifier(w http.ResponseWriter, r *http.Request, failure string) (string, bool) {
	if id := r.PathValue("identifier"); id != "" {
		return id, true
	}

	var req protocol.IdentifierRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, failure, "invalid request body")
		return "", false
	}
	if strings.TrimSpace(req.Identifier) == "" {
		s.sendError(w, http.StatusBadRequest, failure, "identifier required")
		return "", false
	}
	return req.Identifier, true
}

func currentUser(r *http.Request) string {
	user, _ := auth.UserFromContext(r.Context())
	return user
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, vdir.ErrRecordNotFound):
		return http.StatusNotFound
	case errors.Is(err, vdir.ErrInvalidRecordType), errors.Is(err, session.ErrNoFiles):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// attachment builds a Content-Disposition value with a quoted filename. Names
// outside printable ASCII get an ASCII fallback plus an RFC 5987 filename*.
func attachment(filename string) string {
	plain := true
	fallback := strings.Map(func(r rune) rune {
		if r < 0x20 || r > 0x7e || r == '"' || r == '\\' {
			plain = false
			return '_'
		}
		return r
	}, filename)
	if plain {
		return `attachment; filename="` + filename + `"`
	}

	var enc strings.Builder
	for i := 0; i < len(filename); i++ {
		c := filename[i]
		if c < 0x80 && (c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' || strings.IndexByte("!#$&+-.^_`|~", c) >= 0) {
			enc.WriteByte(c)
			continue
		}
		fmt.Fprintf(&enc, "%%%02X", c)
	}
	return `attachment; filename="` + fallback + `"; filename*=UTF-8''` + enc.String()
}

func acceptsGzip(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept-Encoding"), "gzip")
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func (s *Server) sendError(w http.ResponseWriter, code int, message, detail string) {
	writeJSON(w, code, protocol.ErrorResponse{
		Message: message,
		Success: false,
		Error:   detail,
	})
}
