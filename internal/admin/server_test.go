package admin_test

import (
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omochice/relay-chat/internal/admin"
	"github.com/omochice/relay-chat/internal/chat"
	"github.com/omochice/relay-chat/internal/transport/tcp"
	"github.com/omochice/relay-chat/pkg/protocol"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

// connect attaches an in-memory client to hub and returns its end.
func connect(t *testing.T, ctx context.Context, hub *chat.Hub) *tcp.Conn {
	t.Helper()
	serverSide, clientSide := net.Pipe()
	go hub.HandleClient(ctx, tcp.NewConn(serverSide))
	conn := tcp.NewConn(clientSide)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestHealth(t *testing.T) {
	srv := admin.New(chat.NewRegistry(), discardLogger())

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)

	var resp admin.HealthResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
}

func TestSessions_Empty(t *testing.T) {
	srv := admin.New(chat.NewRegistry(), discardLogger())

	req := httptest.NewRequest(http.MethodGet, "/sessions", nil)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"registered":0,"active":0,"sessions":[]}`, w.Body.String())
}

func TestSessions_Counts(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	registry := chat.NewRegistry()
	hub := chat.NewHub(registry, discardLogger())
	srv := admin.New(registry, discardLogger())

	alice := connect(t, ctx, hub)
	data, err := protocol.Encode(protocol.NewHello("alice"))
	require.NoError(t, err)
	require.NoError(t, alice.Write(ctx, data))
	_, err = alice.Read(ctx)
	require.NoError(t, err)

	connect(t, ctx, hub)

	require.Eventually(t, func() bool {
		return registry.Len() == 2 && registry.ActiveLen() == 1
	}, 2*time.Second, 10*time.Millisecond)

	req := httptest.NewRequest(http.MethodGet, "/sessions", nil)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	var resp admin.SessionsResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 2, resp.Registered)
	assert.Equal(t, 1, resp.Active)
	require.Len(t, resp.Sessions, 2)

	states := map[string]string{}
	for _, s := range resp.Sessions {
		assert.NotEmpty(t, s.ID)
		states[s.Name] = s.State
	}
	assert.Equal(t, map[string]string{"alice": "ACTIVE", "": "AWAITING_HELLO"}, states)
}

func TestServe_Shutdown(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	srv := admin.New(chat.NewRegistry(), discardLogger())

	errc := make(chan error, 1)
	go func() {
		errc <- srv.Serve(ctx, listener)
	}()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + listener.Addr().String() + "/healthz")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 10*time.Millisecond)

	cancel()

	select {
	case err := <-errc:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("admin server did not stop in time")
	}
}
