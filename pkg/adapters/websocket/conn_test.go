package websocket_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	gws "github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aretw0/diffuse/pkg/adapters/websocket"
	"github.com/aretw0/diffuse/pkg/domain"
)

// echoServer returns a test server that echoes each message back as {"echo": "<text>"}.
func echoServer(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Upgrade(w, r, websocket.Config{})
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			data, err := conn.ReadMessage(r.Context())
			if err != nil {
				return
			}
			if err := conn.WriteJSON(r.Context(), map[string]string{"echo": string(data)}); err != nil {
				return
			}
		}
	}))
}

func wsURL(server *httptest.Server) string {
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

func TestConn_RoundTrip(t *testing.T) {
	srv := echoServer(t)
	defer srv.Close()

	client, _, err := gws.DefaultDialer.Dial(wsURL(srv), nil)
	require.NoError(t, err)
	defer client.Close()

	require.NoError(t, client.WriteMessage(gws.TextMessage, []byte("hello")))
	var got map[string]string
	require.NoError(t, client.ReadJSON(&got))
	assert.Equal(t, "hello", got["echo"])
}

func TestConn_ReadCanceledByContext(t *testing.T) {
	result := make(chan error, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Upgrade(w, r, websocket.Config{})
		if err != nil {
			result <- err
			return
		}
		defer conn.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()
		_, err = conn.ReadMessage(ctx)
		result <- err
	}))
	defer srv.Close()

	client, _, err := gws.DefaultDialer.Dial(wsURL(srv), nil)
	require.NoError(t, err)
	defer client.Close()

	select {
	case err := <-result:
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	case <-time.After(2 * time.Second):
		t.Fatal("ReadMessage did not observe context cancellation")
	}
}

func TestConn_CloseUnblocksReadAndIsIdempotent(t *testing.T) {
	result := make(chan error, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Upgrade(w, r, websocket.Config{})
		if err != nil {
			result <- err
			return
		}
		go func() {
			time.Sleep(20 * time.Millisecond)
			_ = conn.Close()
			_ = conn.Close()
		}()
		_, err = conn.ReadMessage(context.Background())
		result <- err
	}))
	defer srv.Close()

	client, _, err := gws.DefaultDialer.Dial(wsURL(srv), nil)
	require.NoError(t, err)
	defer client.Close()

	select {
	case err := <-result:
		assert.ErrorIs(t, err, domain.ErrTransport)
	case <-time.After(2 * time.Second):
		t.Fatal("Close did not unblock ReadMessage")
	}

	_, _, err = client.ReadMessage()
	assert.True(t, gws.IsCloseError(err, gws.CloseNormalClosure), "expected normal close, got %v", err)
}

func TestConn_SilentPeerTimesOut(t *testing.T) {
	result := make(chan error, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Upgrade(w, r, websocket.Config{
			PongWait:   100 * time.Millisecond,
			PingPeriod: time.Hour,
		})
		if err != nil {
			result <- err
			return
		}
		defer conn.Close()
		_, err = conn.ReadMessage(context.Background())
		result <- err
	}))
	defer srv.Close()

	// The client never reads, so it never answers pings.
	client, _, err := gws.DefaultDialer.Dial(wsURL(srv), nil)
	require.NoError(t, err)
	defer client.Close()

	select {
	case err := <-result:
		assert.ErrorIs(t, err, domain.ErrTransport)
	case <-time.After(2 * time.Second):
		t.Fatal("idle read never timed out")
	}
}

func TestConn_PongsKeepConnectionAlive(t *testing.T) {
	result := make(chan error, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Upgrade(w, r, websocket.Config{
			PongWait:   150 * time.Millisecond,
			PingPeriod: 30 * time.Millisecond,
		})
		if err != nil {
			result <- err
			return
		}
		defer conn.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 600*time.Millisecond)
		defer cancel()
		_, err = conn.ReadMessage(ctx)
		result <- err
	}))
	defer srv.Close()

	client, _, err := gws.DefaultDialer.Dial(wsURL(srv), nil)
	require.NoError(t, err)
	defer client.Close()
	// Reading lets the default ping handler reply with pongs.
	go func() {
		for {
			if _, _, err := client.ReadMessage(); err != nil {
				return
			}
		}
	}()

	select {
	case err := <-result:
		assert.ErrorIs(t, err, context.DeadlineExceeded, "connection should outlive PongWait while pongs arrive")
	case <-time.After(3 * time.Second):
		t.Fatal("ReadMessage did not return")
	}
}
