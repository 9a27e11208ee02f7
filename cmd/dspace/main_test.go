package main

import (
	"bytes"
	"context"
	"net/http/httptest"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/klauspost/compress/zip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maazmalik2004/Dspace/internal/api"
	"github.com/maazmalik2004/Dspace/internal/auth"
	"github.com/maazmalik2004/Dspace/internal/channelpool"
	"github.com/maazmalik2004/Dspace/internal/chunk"
	"github.com/maazmalik2004/Dspace/internal/logging"
	"github.com/maazmalik2004/Dspace/internal/retrieval"
	"github.com/maazmalik2004/Dspace/internal/session"
	"github.com/maazmalik2004/Dspace/internal/store"
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
	return chunk.Reference{GuildID: "1", ChannelID: channelID, MessageID: id}, nil
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

type passwords map[string]string

func (p passwords) VerifyPassword(_ context.Context, identifier, password string) (string, error) {
	if pw, ok := p[identifier]; ok && pw == password {
		return identifier, nil
	}
	return "", store.ErrInvalidCredentials
}

func newServer(t *testing.T, a *auth.Auth) *httptest.Server {
	t.Helper()
	pool, err := channelpool.New([]string{"100", "200"})
	require.NoError(t, err)
	tr, err := chunk.NewTransfer(&memTransport{messages: map[string]chunk.Attachment{}}, pool, chunk.Options{
		ChunkSize:   64,
		MaxAtomic:   128,
		Attempts:    2,
		Backoff:     time.Millisecond,
		Timeout:     5 * time.Second,
		Concurrency: 4,
	})
	require.NoError(t, err)

	sess := session.New(store.NewMemory(), tr, retrieval.New(tr, 4), session.Options{FileConcurrency: 2})
	ts := httptest.NewServer(api.NewServer(sess, a, api.Options{}).Handler())
	t.Cleanup(ts.Close)
	return ts
}

// run executes the CLI with args and returns its standard output.
func run(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

var idPattern = regexp.MustCompile(`(?m)^\s*(\S+?)/?\s+\[([0-9a-f-]+)\]`)

// ids maps node names in `dspace tree` output to their ids.
func ids(treeOutput string) map[string]string {
	out := map[string]string{}
	for _, m := range idPattern.FindAllStringSubmatch(treeOutput, -1) {
		out[m[1]] = m[2]
	}
	return out
}

func TestUploadTreeRetrieveDelete(t *testing.T) {
	ts := newServer(t, nil)
	global := []string{"--server", ts.URL, "--token-file", filepath.Join(t.TempDir(), "token.json")}

	src := filepath.Join(t.TempDir(), "album")
	require.NoError(t, os.MkdirAll(filepath.Join(src, "raw"), 0755))
	big := strings.Repeat("0123456789", 50)
	require.NoError(t, os.WriteFile(filepath.Join(src, "cover.jpg"), []byte(big), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(src, "raw", "take1.wav"), []byte("riff"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(src, "scratch.tmp"), []byte("x"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(src, ".dspaceignore"), []byte("*.tmp\n"), 0644))

	out, err := run(t, "", append(global, "upload", src)...)
	require.NoError(t, err)
	assert.Contains(t, out, "2 file(s)")

	out, err = run(t, "", append(global, "tree")...)
	require.NoError(t, err)
	assert.NotContains(t, out, "scratch.tmp")
	nodes := ids(out)
	require.Contains(t, nodes, "cover.jpg")
	require.Contains(t, nodes, "album")

	dest := t.TempDir()
	out, err = run(t, "", append(global, "retrieve", nodes["cover.jpg"], "-o", dest)...)
	require.NoError(t, err)
	assert.Contains(t, out, "cover.jpg")
	data, err := os.ReadFile(filepath.Join(dest, "cover.jpg"))
	require.NoError(t, err)
	assert.Equal(t, big, string(data))

	_, err = run(t, "", append(global, "retrieve", nodes["album"], "-o", dest)...)
	require.NoError(t, err)
	zr, err := zip.OpenReader(filepath.Join(dest, "album.zip"))
	require.NoError(t, err)
	var entries []string
	for _, f := range zr.File {
		entries = append(entries, f.Name)
	}
	zr.Close()
	assert.ElementsMatch(t, []string{"cover.jpg", "raw/take1.wav"}, entries)

	_, err = run(t, "", append(global, "delete", nodes["album"])...)
	require.NoError(t, err)
	out, err = run(t, "", append(global, "tree")...)
	require.NoError(t, err)
	assert.NotContains(t, out, "album")

	_, err = run(t, "", append(global, "retrieve", nodes["cover.jpg"], "-o", dest)...)
	assert.Error(t, err)
}

func TestLoginSavesToken(t *testing.T) {
	ts := newServer(t, auth.New(passwords{"alice": "s3cret"}, "cli-secret", time.Hour))
	tokenFile := filepath.Join(t.TempDir(), "token.json")
	global := []string{"--server", ts.URL, "--token-file", tokenFile}

	_, err := run(t, "", append(global, "tree")...)
	require.Error(t, err, "tree must fail before login")

	_, err = run(t, "wrong\n", append(global, "login", "alice")...)
	require.Error(t, err)

	out, err := run(t, "s3cret\n", append(global, "login", "alice")...)
	require.NoError(t, err)
	assert.Contains(t, out, "logged in as alice")

	out, err = run(t, "", append(global, "tree")...)
	require.NoError(t, err)
	assert.Contains(t, out, "root/")
}
