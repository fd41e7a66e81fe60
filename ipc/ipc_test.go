package ipc

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mindraft/mindraft-core/gateway"
	"github.com/mindraft/mindraft-core/workspace"
)

// shortSocketPath keeps Unix socket paths under the platform length limit.
func shortSocketPath(t *testing.T) string {
	t.Helper()
	dir, err := os.MkdirTemp("", "mr")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })
	return filepath.Join(dir, "gw.sock")
}

func startServer(t *testing.T, gw gateway.Gateway) *Server {
	t.Helper()
	srv, err := NewServer(shortSocketPath(t), gw)
	require.NoError(t, err)
	srv.Start()
	srv.WaitReady()
	t.Cleanup(func() { srv.Close() })
	return srv
}

func dial(t *testing.T, srv *Server) *Client {
	t.Helper()
	c, err := Dial(context.Background(), srv.SocketPath())
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func newMock() *gateway.Mock {
	m := gateway.NewMock()
	m.AddWorkspace("/notes")
	m.SetFile("/notes/a.md", "hello")
	return m
}

func TestClient_RoundTrip(t *testing.T) {
	m := newMock()
	c := dial(t, startServer(t, m))
	ctx := context.Background()

	info, err := c.LoadWorkspace(ctx, "/notes")
	require.NoError(t, err)
	assert.Equal(t, "/notes", info.Path)
	assert.Equal(t, []string{"/notes/a.md"}, info.Files())

	content, err := c.OpenFile(ctx, "/notes/a.md")
	require.NoError(t, err)
	assert.Equal(t, "hello", content)

	require.NoError(t, c.SaveFile(ctx, "/notes/a.md", "hello\nworld"))
	stored, _ := m.File("/notes/a.md")
	assert.Equal(t, "hello\nworld", stored, "newlines in content must survive framing")
}

func TestClient_ErrorKindsSurvive(t *testing.T) {
	m := newMock()
	c := dial(t, startServer(t, m))
	ctx := context.Background()

	_, err := c.LoadWorkspace(ctx, "/missing")
	assert.Equal(t, gateway.NotFound, gateway.KindOf(err))
	assert.ErrorIs(t, err, gateway.ErrNotFound)

	_, err = c.OpenFile(ctx, "/notes/nope.md")
	assert.Equal(t, gateway.NotFound, gateway.KindOf(err))

	m.SetError(gateway.OpSaveFile, errors.New("disk full"))
	err = c.SaveFile(ctx, "/notes/a.md", "x")
	require.Error(t, err)
	assert.Equal(t, gateway.WriteError, gateway.KindOf(err))
	assert.Contains(t, err.Error(), "disk full")
	assert.Contains(t, err.Error(), "/notes/a.md")

	var ge *gateway.Error
	require.ErrorAs(t, err, &ge)
	assert.Equal(t, gateway.OpSaveFile, ge.Op)
}

func TestClient_ContextCanceled(t *testing.T) {
	c := dial(t, startServer(t, newMock()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.OpenFile(ctx, "/notes/a.md")
	assert.Equal(t, gateway.Unknown, gateway.KindOf(err))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestClient_TimeoutThenRecovers(t *testing.T) {
	m := newMock()
	release := make(chan struct{})
	m.BeforeCall = func(c gateway.Call) {
		if c.Path == "/notes/slow.md" {
			<-release
		}
	}
	c := dial(t, startServer(t, m))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := c.OpenFile(ctx, "/notes/slow.md")
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	close(release)

	// The late response for the abandoned request is skipped.
	content, err := c.OpenFile(context.Background(), "/notes/a.md")
	require.NoError(t, err)
	assert.Equal(t, "hello", content)
}

func TestServer_RawProtocol(t *testing.T) {
	srv := startServer(t, newMock())
	conn, err := net.Dial("unix", srv.SocketPath())
	require.NoError(t, err)
	defer conn.Close()
	reader := bufio.NewReader(conn)

	roundTrip := func(line string) Message {
		t.Helper()
		_, err := conn.Write([]byte(line + "\n"))
		require.NoError(t, err)
		conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		out, err := reader.ReadBytes('\n')
		require.NoError(t, err)
		var msg Message
		require.NoError(t, json.Unmarshal(out, &msg))
		return msg
	}

	t.Run("unknown type", func(t *testing.T) {
		resp := roundTrip(`{"type":"deleteFile","id":"1"}`)
		assert.Equal(t, "1", resp.ID)
		require.NotNil(t, resp.Error)
		assert.Equal(t, gateway.Unknown, resp.Error.Kind)
	})

	t.Run("missing body", func(t *testing.T) {
		resp := roundTrip(`{"type":"openFile","id":"2"}`)
		require.NotNil(t, resp.Error)
		assert.Equal(t, gateway.OpOpenFile, resp.Error.Op)
	})

	t.Run("malformed json keeps connection", func(t *testing.T) {
		resp := roundTrip(`{not json`)
		require.NotNil(t, resp.Error)

		resp = roundTrip(`{"type":"loadWorkspace","id":"3","loadReq":{"path":"/notes"}}`)
		require.Nil(t, resp.Error)
		require.NotNil(t, resp.LoadResp)
		assert.Equal(t, workspace.KindFile, resp.LoadResp.Workspace.Tree[0].Kind)
	})
}

func TestServer_MessageSplitAcrossReadTimeout(t *testing.T) {
	srv, err := NewServer(shortSocketPath(t), newMock())
	require.NoError(t, err)
	srv.readTimeout = 20 * time.Millisecond
	srv.Start()
	srv.WaitReady()
	t.Cleanup(func() { srv.Close() })

	conn, err := net.Dial("unix", srv.SocketPath())
	require.NoError(t, err)
	defer conn.Close()

	msg := `{"type":"openFile","id":"split","openReq":{"path":"/notes/a.md"}}`
	half := len(msg) / 2
	_, err = conn.Write([]byte(msg[:half]))
	require.NoError(t, err)
	// Several read deadlines expire before the rest arrives.
	time.Sleep(100 * time.Millisecond)
	_, err = conn.Write([]byte(msg[half:] + "\n"))
	require.NoError(t, err)

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	out, err := bufio.NewReader(conn).ReadBytes('\n')
	require.NoError(t, err)
	var resp Message
	require.NoError(t, json.Unmarshal(out, &resp))
	require.Nil(t, resp.Error, "split message should decode whole")
	assert.Equal(t, "split", resp.ID)
	require.NotNil(t, resp.OpenResp)
	assert.Equal(t, "hello", resp.OpenResp.Content)
}

func TestServer_CloseInterruptsClients(t *testing.T) {
	srv, err := NewServer(shortSocketPath(t), newMock())
	require.NoError(t, err)
	srv.Start()
	srv.WaitReady()

	c, err := Dial(context.Background(), srv.SocketPath())
	require.NoError(t, err)
	defer c.Close()
	_, err = c.OpenFile(context.Background(), "/notes/a.md")
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- srv.Close() }()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(SocketReadTimeout / 2):
		t.Fatal("Close did not interrupt the idle connection")
	}

	_, err = os.Stat(srv.SocketPath())
	assert.True(t, os.IsNotExist(err), "socket file should be removed")

	_, err = c.OpenFile(context.Background(), "/notes/a.md")
	assert.Error(t, err)
}

func TestErrorPayload_Err(t *testing.T) {
	p := errorPayload(gateway.OpOpenFile, "/x", errors.New("plain"))
	assert.Equal(t, gateway.Unknown, p.Kind)

	err := (&ErrorPayload{Op: gateway.OpOpenFile, Path: "/x"}).Err()
	assert.Equal(t, gateway.Unknown, gateway.KindOf(err), "empty kind decodes as Unknown")

	p = errorPayload(gateway.OpSaveFile, "/y", &gateway.Error{Op: gateway.OpSaveFile, Path: "/y", Kind: gateway.ReadError, Err: errors.New("io")})
	assert.Equal(t, &ErrorPayload{Kind: gateway.ReadError, Op: gateway.OpSaveFile, Path: "/y", Message: "io"}, p)
}
