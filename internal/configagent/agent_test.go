package configagent

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// startTestServer runs a one-shot WebSocket server that sends exactly one
// inboundMessage then, depending on closeBeforeReply, either waits for the
// reply or closes the connection first to exercise the dropped-reply path.
func startTestServer(t *testing.T, msg inboundMessage, closeBeforeReply bool) (*httptest.Server, chan outboundReply) {
	t.Helper()
	upgrader := websocket.Upgrader{}
	replies := make(chan outboundReply, 1)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close()

		require.NoError(t, conn.WriteJSON(msg))

		normalClose := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")

		if closeBeforeReply {
			_ = conn.WriteMessage(websocket.CloseMessage, normalClose)
			conn.Close()
			return
		}

		var reply outboundReply
		if err := conn.ReadJSON(&reply); err == nil {
			replies <- reply
		}
		_ = conn.WriteMessage(websocket.CloseMessage, normalClose)
	}))
	return srv, replies
}

func wsURL(httpURL string) string {
	return "ws" + strings.TrimPrefix(httpURL, "http")
}

func TestAgentAppliesConfigAndRestartsOnSuccess(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "topology.json")
	require.NoError(t, os.WriteFile(configPath, []byte(`{"old":true}`), 0o644))

	newConfig := json.RawMessage(`{"E1":{"code":"E1"}}`)
	msg := inboundMessage{IDPlant: "p1", IDDeploy: "d1", Config: newConfig}
	srv, replies := startTestServer(t, msg, false)
	defer srv.Close()

	restarted := make(chan struct{}, 1)
	a := New(Config{ServerURL: wsURL(srv.URL), ConfigPath: configPath}, nil)
	a.WithRestarter(func() error {
		restarted <- struct{}{}
		return nil
	})

	err := a.Run()
	require.NoError(t, err)

	select {
	case reply := <-replies:
		assert.Equal(t, statusOK, reply.Status)
		assert.Equal(t, "p1", reply.IDPlant)
		assert.Equal(t, "d1", reply.IDDeploy)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for reply")
	}

	select {
	case <-restarted:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for restart")
	}

	written, err := os.ReadFile(configPath)
	require.NoError(t, err)
	assert.JSONEq(t, string(newConfig), string(written))
}

func TestAgentDropsReplyWhenSocketAlreadyClosed(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "topology.json")

	msg := inboundMessage{IDPlant: "p1", Config: json.RawMessage(`{}`)}
	srv, replies := startTestServer(t, msg, true)
	defer srv.Close()

	restarted := make(chan struct{}, 1)
	a := New(Config{ServerURL: wsURL(srv.URL), ConfigPath: configPath}, nil)
	a.WithRestarter(func() error {
		restarted <- struct{}{}
		return nil
	})

	require.NoError(t, a.Run())

	select {
	case <-replies:
		t.Fatal("server should never have received a reply")
	case <-time.After(200 * time.Millisecond):
	}

	select {
	case <-restarted:
		t.Fatal("restart must not run when the reply could not be sent")
	case <-time.After(200 * time.Millisecond):
	}
}

func TestAgentDoesNotRestartOnApplyFailure(t *testing.T) {
	// Point ConfigPath at a directory that doesn't exist so the write fails.
	configPath := filepath.Join(t.TempDir(), "missing-dir", "topology.json")

	msg := inboundMessage{IDPlant: "p1", Config: json.RawMessage(`{}`)}
	srv, replies := startTestServer(t, msg, false)
	defer srv.Close()

	restarted := make(chan struct{}, 1)
	a := New(Config{ServerURL: wsURL(srv.URL), ConfigPath: configPath}, nil)
	a.WithRestarter(func() error {
		restarted <- struct{}{}
		return nil
	})

	require.NoError(t, a.Run())

	select {
	case reply := <-replies:
		assert.Equal(t, statusFailed, reply.Status)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for reply")
	}

	select {
	case <-restarted:
		t.Fatal("restart must not run after a failed apply")
	case <-time.After(200 * time.Millisecond):
	}
}
