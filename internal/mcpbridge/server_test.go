package mcpbridge

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	acp "github.com/coder/acp-go-sdk"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kandev/acpbridge/internal/bridge"
	"github.com/kandev/acpbridge/internal/common/config"
	"github.com/kandev/acpbridge/internal/common/logger"
	"github.com/kandev/acpbridge/internal/credentials"
	"github.com/kandev/acpbridge/internal/settings"
)

type fakeFS struct {
	files  map[string]string
	writes map[string]string
}

func (f *fakeFS) ReadTextFile(_ context.Context, req acp.ReadTextFileRequest) (acp.ReadTextFileResponse, error) {
	content, ok := f.files[req.Path]
	if !ok {
		return acp.ReadTextFileResponse{}, fmt.Errorf("no such file: %s", req.Path)
	}
	return acp.ReadTextFileResponse{Content: content}, nil
}

func (f *fakeFS) WriteTextFile(_ context.Context, req acp.WriteTextFileRequest) (acp.WriteTextFileResponse, error) {
	if f.writes == nil {
		f.writes = make(map[string]string)
	}
	f.writes[req.Path] = req.Content
	return acp.WriteTextFileResponse{}, nil
}

type fakeResolver struct {
	sessions map[acp.SessionId]*bridge.Session
}

func (r *fakeResolver) Session(id acp.SessionId) (*bridge.Session, bool) {
	s, ok := r.sessions[id]
	return s, ok
}

func (r *fakeResolver) DefaultSession() (*bridge.Session, bool) {
	if len(r.sessions) != 1 {
		return nil, false
	}
	for _, s := range r.sessions {
		return s, true
	}
	return nil, false
}

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.NewLogger(logger.LoggingConfig{Level: "error", Format: "console", OutputPath: "stderr"})
	require.NoError(t, err)
	return log
}

type noopConn struct{}

func (noopConn) SessionUpdate(context.Context, acp.SessionNotification) error { return nil }
func (noopConn) RequestPermission(context.Context, acp.RequestPermissionRequest) (acp.RequestPermissionResponse, error) {
	return acp.RequestPermissionResponse{}, nil
}

func newTestServer(t *testing.T, fs *fakeFS) (*Server, *bridge.Session) {
	t.Helper()
	log := testLogger(t)
	t.Setenv(credentials.EnvKey, "")
	creds := credentials.NewStore(filepath.Join(t.TempDir(), "creds.json"), log)
	cfg := &config.Config{Engine: config.EngineConfig{Command: "claude"}}
	sess := bridge.NewSession("sess-1", t.TempDir(), noopConn{}, cfg, creds, settings.NewManager(settings.Settings{}, log), "", log)

	resolver := &fakeResolver{sessions: map[acp.SessionId]*bridge.Session{"sess-1": sess}}
	srv := New(config.MCPConfig{Host: "127.0.0.1"}, fs, resolver,
		acp.FileSystemCapability{ReadTextFile: true, WriteTextFile: true}, log)
	return srv, sess
}

func callReq(args map[string]any) mcp.CallToolRequest {
	req := mcp.CallToolRequest{}
	req.Params.Arguments = args
	return req
}

func resultText(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	require.NotEmpty(t, res.Content)
	text, ok := res.Content[0].(mcp.TextContent)
	require.True(t, ok)
	return text.Text
}

func TestReadTextFile(t *testing.T) {
	fs := &fakeFS{files: map[string]string{"/tmp/a.go": "package main"}}
	srv, sess := newTestServer(t, fs)

	res, err := readTextFileHandler(srv)(context.Background(), callReq(map[string]any{
		"path": "/tmp/a.go",
	}))
	require.NoError(t, err)
	require.False(t, res.IsError)
	assert.Equal(t, "package main", resultText(t, res))

	// Whole-file reads land in the session's file cache.
	cached, ok := sess.Files().Get("/tmp/a.go")
	assert.True(t, ok)
	assert.Equal(t, "package main", cached)
}

func TestReadTextFile_RangeNotCached(t *testing.T) {
	fs := &fakeFS{files: map[string]string{"/tmp/a.go": "partial"}}
	srv, sess := newTestServer(t, fs)

	res, err := readTextFileHandler(srv)(context.Background(), callReq(map[string]any{
		"path": "/tmp/a.go",
		"line": float64(10),
	}))
	require.NoError(t, err)
	require.False(t, res.IsError)

	_, ok := sess.Files().Get("/tmp/a.go")
	assert.False(t, ok, "partial reads must not overwrite the cached file")
}

func TestReadTextFile_MissingPath(t *testing.T) {
	srv, _ := newTestServer(t, &fakeFS{})

	res, err := readTextFileHandler(srv)(context.Background(), callReq(map[string]any{}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
}

func TestReadTextFile_ClientError(t *testing.T) {
	srv, _ := newTestServer(t, &fakeFS{})

	res, err := readTextFileHandler(srv)(context.Background(), callReq(map[string]any{
		"path": "/nope",
	}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
}

func TestWriteTextFile(t *testing.T) {
	fs := &fakeFS{}
	srv, sess := newTestServer(t, fs)

	res, err := writeTextFileHandler(srv)(context.Background(), callReq(map[string]any{
		"path":    "/tmp/b.go",
		"content": "package b",
	}))
	require.NoError(t, err)
	require.False(t, res.IsError)
	assert.Equal(t, "package b", fs.writes["/tmp/b.go"])

	cached, ok := sess.Files().Get("/tmp/b.go")
	assert.True(t, ok)
	assert.Equal(t, "package b", cached)
}

func TestSessionRouting_UnknownID(t *testing.T) {
	srv, _ := newTestServer(t, &fakeFS{files: map[string]string{"/tmp/a.go": "x"}})

	res, err := readTextFileHandler(srv)(context.Background(), callReq(map[string]any{
		"path":       "/tmp/a.go",
		"session_id": "other",
	}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
}

func TestWriteEngineConfig(t *testing.T) {
	srv, _ := newTestServer(t, &fakeFS{})

	// Not running: no config file.
	path, err := srv.WriteEngineConfig(t.TempDir())
	require.NoError(t, err)
	assert.Empty(t, path)
}
