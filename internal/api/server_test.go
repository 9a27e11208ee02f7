package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/klauspost/compress/zip"

	"github.com/maazmalik2004/Dspace/internal/auth"
	"github.com/maazmalik2004/Dspace/internal/channelpool"
	"github.com/maazmalik2004/Dspace/internal/chunk"
	"github.com/maazmalik2004/Dspace/internal/logging"
	"github.com/maazmalik2004/Dspace/internal/retrieval"
	"github.com/maazmalik2004/Dspace/internal/session"
	"github.com/maazmalik2004/Dspace/internal/store"
	"github.com/maazmalik2004/Dspace/internal/vdir"
	"github.com/maazmalik2004/Dspace/pkg/models"
	"github.com/maazmalik2004/Dspace/pkg/protocol"
)

func init() {
	logging.InitNop()
}

type memTransport struct {
	mu       sync.Mutex
	messages map[string]chunk.Attachment
}

func (m *memTransport) Send(_ context.Context, channelID, name string, data []byte) (chunk.Reference, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := strconv.Itoa(len(m.messages) + 1)
	m.messages[id] = chunk.Attachment{Name: name, Data: append([]byte(nil), data...)}
	return chunk.Reference{GuildID: "7", ChannelID: channelID, MessageID: id}, nil
}

func (m *memTransport) Fetch(_ context.Context, ref chunk.Reference) (*chunk.Attachment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.messages[ref.MessageID]
	if !ok {
		return nil, chunk.ErrMissingAttachment
	}
	return &a, nil
}

func newTestSession(t *testing.T) *session.Session {
	t.Helper()
	mt := &memTransport{messages: map[string]chunk.Attachment{}}
	pool, err := channelpool.New([]string{"11", "12"})
	if err != nil {
		t.Fatal(err)
	}
	tr, err := chunk.NewTransfer(mt, pool, chunk.Options{
		ChunkSize:   8,
		MaxAtomic:   12,
		Attempts:    2,
		Backoff:     time.Millisecond,
		Timeout:     5 * time.Second,
		Concurrency: 4,
	})
	if err != nil {
		t.Fatal(err)
	}
	return session.New(store.NewMemory(), tr, retrieval.New(tr, 4), session.Options{FileConcurrency: 2})
}

func newTestServer(t *testing.T, a *auth.Auth, opts Options) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(NewServer(newTestSession(t), a, opts).Handler())
	t.Cleanup(srv.Close)
	return srv
}

type part struct {
	name string
	data string
}

func uploadRequest(t *testing.T, url, skeleton string, parts ...part) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if err := mw.WriteField(protocol.FieldDirectoryStructure, skeleton); err != nil {
		t.Fatal(err)
	}
	for _, p := range parts {
		fw, err := mw.CreateFormFile(protocol.FieldFiles, p.name)
		if err != nil {
			t.Fatal(err)
		}
		fw.Write([]byte(p.data))
	}
	mw.Close()

	req, err := http.NewRequest(http.MethodPost, url+"/upload", &body)
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func do(t *testing.T, req *http.Request) *http.Response {
	t.Helper()
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return v
}

func postJSON(t *testing.T, url string, v any) *http.Response {
	t.Helper()
	b, _ := json.Marshal(v)
	req, _ := http.NewRequest(http.MethodPost, url, bytes.NewReader(b))
	req.Header.Set("Content-Type", "application/json")
	return do(t, req)
}

func TestHealth(t *testing.T) {
	srv := newTestServer(t, nil, Options{})
	for _, p := range []string{"/", "/health"} {
		resp := do(t, mustRequest(t, http.MethodGet, srv.URL+p))
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("%s: status = %d", p, resp.StatusCode)
		}
		if body := decode[protocol.StatusResponse](t, resp); !body.Success {
			t.Errorf("%s: %+v", p, body)
		}
	}
}

func mustRequest(t *testing.T, method, url string) *http.Request {
	t.Helper()
	req, err := http.NewRequest(method, url, nil)
	if err != nil {
		t.Fatal(err)
	}
	return req
}

const projectSkeleton = `{"name":"project","type":"directory","children":[
	{"name":"notes.txt","type":"file"},
	{"name":"src","type":"directory","children":[{"name":"main.go","type":"file"}]}
]}`

const mainGo = "package main\n\nfunc main() { println(\"hello\") }\n"

func TestUploadRetrieveDelete(t *testing.T) {
	srv := newTestServer(t, nil, Options{MaxUploadSize: 1 << 20})

	resp := do(t, uploadRequest(t, srv.URL, projectSkeleton,
		part{"notes.txt", "remember the milk"},
		part{"main.go", mainGo},
		part{"stray.bin", "nobody asked"},
	))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("upload status = %d", resp.StatusCode)
	}
	up := decode[protocol.UploadResponse](t, resp)
	if !up.Success || up.UploadTime == "" {
		t.Errorf("upload response = %+v", up)
	}
	if len(up.Skipped) != 1 || up.Skipped[0] != "stray.bin" {
		t.Errorf("skipped = %v", up.Skipped)
	}

	tree := decode[protocol.VirtualDirectoryResponse](t, do(t, mustRequest(t, http.MethodGet, srv.URL+"/virtualDirectory")))
	notes := vdir.FindByField(tree.VirtualDirectory, vdir.FieldPath, "root/project/notes.txt")
	project := vdir.FindByField(tree.VirtualDirectory, vdir.FieldPath, "root/project")
	if notes == nil || project == nil || len(notes.Links) != 3 {
		t.Fatalf("tree = %+v", tree.VirtualDirectory)
	}

	t.Run("file by id in path", func(t *testing.T) {
		resp := do(t, mustRequest(t, http.MethodGet, srv.URL+"/retrieve/"+notes.ID))
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("status = %d", resp.StatusCode)
		}
		body, _ := io.ReadAll(resp.Body)
		if string(body) != "remember the milk" {
			t.Errorf("body = %q", body)
		}
		if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
			t.Errorf("Content-Type = %q", ct)
		}
		if cd := resp.Header.Get("Content-Disposition"); cd != `attachment; filename="notes.txt"` {
			t.Errorf("Content-Disposition = %q", cd)
		}
		if resp.Header.Get(protocol.RetrievalTimeHeader) == "" {
			t.Error("missing retrieval time header")
		}
	})

	t.Run("folder by body", func(t *testing.T) {
		resp := postJSON(t, srv.URL+"/retrieve", protocol.IdentifierRequest{Identifier: project.ID})
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("status = %d", resp.StatusCode)
		}
		if ct := resp.Header.Get("Content-Type"); ct != "application/zip" {
			t.Errorf("Content-Type = %q", ct)
		}
		if cd := resp.Header.Get("Content-Disposition"); cd != `attachment; filename="project.zip"` {
			t.Errorf("Content-Disposition = %q", cd)
		}

		data, _ := io.ReadAll(resp.Body)
		zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
		if err != nil {
			t.Fatal(err)
		}
		got := map[string]string{}
		for _, zf := range zr.File {
			rc, _ := zf.Open()
			b, _ := io.ReadAll(rc)
			rc.Close()
			got[zf.Name] = string(b)
		}
		if got["notes.txt"] != "remember the milk" || got["src/main.go"] != mainGo {
			t.Errorf("archive = %v", got)
		}
	})

	t.Run("delete", func(t *testing.T) {
		resp := postJSON(t, srv.URL+"/delete", protocol.IdentifierRequest{Identifier: project.ID})
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("status = %d", resp.StatusCode)
		}
		body := decode[protocol.VirtualDirectoryResponse](t, resp)
		if vdir.FindByField(body.VirtualDirectory, vdir.FieldID, project.ID) != nil {
			t.Error("deleted node still in tree")
		}

		resp = do(t, mustRequest(t, http.MethodGet, srv.URL+"/retrieve/"+notes.ID))
		if resp.StatusCode != http.StatusNotFound {
			t.Errorf("retrieve after delete: status = %d", resp.StatusCode)
		}
	})
}

func TestErrorResponses(t *testing.T) {
	srv := newTestServer(t, nil, Options{MaxUploadSize: 1024})

	tests := []struct {
		name string
		req  func() *http.Request
		code int
	}{
		{"unknown id", func() *http.Request {
			return mustRequest(t, http.MethodGet, srv.URL+"/retrieve/nope")
		}, http.StatusNotFound},
		{"delete unknown id", func() *http.Request {
			b, _ := json.Marshal(protocol.IdentifierRequest{Identifier: "nope"})
			r, _ := http.NewRequest(http.MethodPost, srv.URL+"/delete", bytes.NewReader(b))
			return r
		}, http.StatusNotFound},
		{"missing identifier", func() *http.Request {
			r, _ := http.NewRequest(http.MethodPost, srv.URL+"/retrieve", strings.NewReader(`{}`))
			return r
		}, http.StatusBadRequest},
		{"bad skeleton json", func() *http.Request {
			return uploadRequest(t, srv.URL, "{", part{"a.txt", "x"})
		}, http.StatusBadRequest},
		{"invalid node type", func() *http.Request {
			return uploadRequest(t, srv.URL, `{"name":"a.txt","type":"link"}`, part{"a.txt", "x"})
		}, http.StatusBadRequest},
		{"dot-dot folder name", func() *http.Request {
			return uploadRequest(t, srv.URL,
				`{"name":"up","type":"directory","children":[{"name":"..","type":"directory","children":[{"name":"evil.txt","type":"file"}]}]}`,
				part{"evil.txt", "x"})
		}, http.StatusBadRequest},
		{"no matching files", func() *http.Request {
			return uploadRequest(t, srv.URL, `{"name":"a.txt","type":"file"}`, part{"b.txt", "x"})
		}, http.StatusBadRequest},
		{"too large", func() *http.Request {
			return uploadRequest(t, srv.URL, `{"name":"a.txt","type":"file"}`, part{"a.txt", strings.Repeat("x", 4096)})
		}, http.StatusRequestEntityTooLarge},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := do(t, tt.req())
			if resp.StatusCode != tt.code {
				t.Fatalf("status = %d, want %d", resp.StatusCode, tt.code)
			}
			body := decode[protocol.ErrorResponse](t, resp)
			if body.Success || body.Message == "" || body.Error == "" {
				t.Errorf("error body = %+v", body)
			}
		})
	}
}

func TestVirtualDirectoryGzip(t *testing.T) {
	srv := newTestServer(t, nil, Options{})

	req := mustRequest(t, http.MethodGet, srv.URL+"/virtualDirectory")
	req.Header.Set("Accept-Encoding", "gzip")
	resp, err := (&http.Client{Transport: &http.Transport{DisableCompression: true}}).Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.Header.Get("Content-Encoding") != "gzip" {
		t.Fatalf("Content-Encoding = %q", resp.Header.Get("Content-Encoding"))
	}

	// The default client negotiates gzip itself and decodes transparently.
	body := decode[protocol.VirtualDirectoryResponse](t, do(t, mustRequest(t, http.MethodGet, srv.URL+"/virtualDirectory")))
	if body.VirtualDirectory == nil || body.VirtualDirectory.Name != models.RootName {
		t.Errorf("tree = %+v", body.VirtualDirectory)
	}
}

type users map[string]string

func (u users) VerifyPassword(_ context.Context, identifier, password string) (string, error) {
	if u[identifier] == password && password != "" {
		return identifier, nil
	}
	return "", store.ErrInvalidCredentials
}

func TestAuthIsolatesUsers(t *testing.T) {
	a := auth.New(users{"alice": "a-pw", "bob": "b-pw"}, "test-secret", time.Hour)
	srv := newTestServer(t, a, Options{})

	if resp := do(t, mustRequest(t, http.MethodGet, srv.URL+"/virtualDirectory")); resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("unauthenticated status = %d", resp.StatusCode)
	}

	login := func(user, pw string) string {
		resp := postJSON(t, srv.URL+"/auth/token", protocol.LoginRequest{Username: user, Password: pw})
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("login %s: status = %d", user, resp.StatusCode)
		}
		return decode[protocol.LoginResponse](t, resp).Token
	}
	aliceToken, bobToken := login("alice", "a-pw"), login("bob", "b-pw")

	req := uploadRequest(t, srv.URL, `{"name":"secret.txt","type":"file"}`, part{"secret.txt", "alice only"})
	req.Header.Set("Authorization", "Bearer "+aliceToken)
	if resp := do(t, req); resp.StatusCode != http.StatusOK {
		t.Fatalf("upload status = %d", resp.StatusCode)
	}

	tree := func(token string) *models.Node {
		req := mustRequest(t, http.MethodGet, srv.URL+"/virtualDirectory")
		req.Header.Set("Authorization", "Bearer "+token)
		return decode[protocol.VirtualDirectoryResponse](t, do(t, req)).VirtualDirectory
	}
	if vdir.FindByField(tree(aliceToken), vdir.FieldName, "secret.txt") == nil {
		t.Error("alice does not see her file")
	}
	if vdir.FindByField(tree(bobToken), vdir.FieldName, "secret.txt") != nil {
		t.Error("bob sees alice's file")
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{vdir.ErrRecordNotFound, http.StatusNotFound},
		{vdir.ErrInvalidRecordType, http.StatusBadRequest},
		{session.ErrNoFiles, http.StatusBadRequest},
		{&chunk.ChunkUploadError{Name: "x", Attempts: 3, Err: errors.New("boom")}, http.StatusInternalServerError},
		{errors.New("disk on fire"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := statusFor(tt.err); got != tt.want {
			t.Errorf("statusFor(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}

func TestAttachment(t *testing.T) {
	tests := []struct {
		name     string
		header   string
		fallback string
	}{
		{"report.pdf", `attachment; filename="report.pdf"`, "report.pdf"},
		{"cat picture.png", `attachment; filename="cat picture.png"`, "cat picture.png"},
		{"résumé.pdf", `attachment; filename="r_sum_.pdf"; filename*=UTF-8''r%C3%A9sum%C3%A9.pdf`, "r_sum_.pdf"},
		{`say "hi".txt`, `attachment; filename="say _hi_.txt"; filename*=UTF-8''say%20%22hi%22.txt`, "say _hi_.txt"},
	}
	for _, tt := range tests {
		got := attachment(tt.name)
		if got != tt.header {
			t.Errorf("attachment(%q) = %s, want %s", tt.name, got, tt.header)
		}
		disposition, params, err := mime.ParseMediaType(got)
		if err != nil || disposition != "attachment" {
			t.Fatalf("parse %s: %v", got, err)
		}
		if params["filename"] != tt.name {
			t.Errorf("parsed filename = %q, want %q", params["filename"], tt.name)
		}
	}
}
