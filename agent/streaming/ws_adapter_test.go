package streaming

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- Interface compliance ---

func TestWebSocketConn_ImplementsConn(t *testing.T) {
	var _ Conn = (*WebSocketConn)(nil)
}

// --- Helpers ---

// wsTestServer creates an httptest.Server that upgrades to WebSocket and
// echoes every message back to the client.
func wsTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "done")

		for {
			typ, data, err := conn.Read(r.Context())
			if err != nil {
				return
			}
			if err := conn.Write(r.Context(), typ, data); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dialConn(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, wsURL(srv), nil)
	require.NoError(t, err)
	return conn
}

// --- Tests ---

func TestWebSocketConn_FrameRoundTrip(t *testing.T) {
	ws := NewWebSocketConn(dialConn(t, wsTestServer(t)), nil)
	t.Cleanup(func() { _ = ws.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	require.NoError(t, ws.WriteFrame(ctx, OutboundFrame{MIMEType: MIMETextPlain, Data: "hello world"}))

	got, err := ws.ReadFrame(ctx)
	require.NoError(t, err)
	assert.Equal(t, InboundFrame{MIMEType: MIMETextPlain, Data: "hello world"}, got)
}

func TestWebSocketConn_ControlFrameEncoding(t *testing.T) {
	var (
		mu       sync.Mutex
		received []string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "done")
		for {
			_, data, err := conn.Read(r.Context())
			if err != nil {
				return
			}
			mu.Lock()
			received = append(received, string(data))
			mu.Unlock()
		}
	}))
	t.Cleanup(srv.Close)

	ws := NewWebSocketConn(dialConn(t, srv), nil)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	require.NoError(t, ws.WriteFrame(ctx, OutboundFrame{TurnComplete: true}))
	require.NoError(t, ws.WriteFrame(ctx, OutboundFrame{Interrupted: true}))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(received) == 2
	}, 2*time.Second, 10*time.Millisecond)
	_ = ws.Close()

	mu.Lock()
	defer mu.Unlock()
	assert.JSONEq(t, `{"turn_complete":true}`, received[0])
	assert.JSONEq(t, `{"interrupted":true}`, received[1])
}

func TestWebSocketConn_PeerCloseIsDisconnect(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		_ = conn.Close(websocket.StatusNormalClosure, "bye")
	}))
	t.Cleanup(srv.Close)

	ws := NewWebSocketConn(dialConn(t, srv), nil)
	t.Cleanup(func() { _ = ws.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := ws.ReadFrame(ctx)
	assert.ErrorIs(t, err, ErrDisconnected)
}

func TestWebSocketConn_CloseIdempotent(t *testing.T) {
	ws := NewWebSocketConn(dialConn(t, wsTestServer(t)), nil)

	require.NoError(t, ws.Close())
	assert.NoError(t, ws.Close())
}

func TestWebSocketConn_UseAfterClose(t *testing.T) {
	ws := NewWebSocketConn(dialConn(t, wsTestServer(t)), nil)
	_ = ws.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	assert.ErrorIs(t, ws.WriteFrame(ctx, OutboundFrame{MIMEType: MIMETextPlain}), ErrConnClosed)
	_, err := ws.ReadFrame(ctx)
	assert.ErrorIs(t, err, ErrConnClosed)
}

func TestWebSocketConn_ConcurrentWrites(t *testing.T) {
	ws := NewWebSocketConn(dialConn(t, wsTestServer(t)), nil)
	t.Cleanup(func() { _ = ws.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	const goroutines = 10
	var wg sync.WaitGroup
	wg.Add(goroutines)
	for i := 0; i < goroutines; i++ {
		go func(seq int) {
			defer wg.Done()
			_ = ws.WriteFrame(ctx, OutboundFrame{MIMEType: MIMETextPlain, Data: fmt.Sprintf("msg-%d", seq)})
		}(i)
	}
	wg.Wait()
}

func TestWebSocketConn_InvalidJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "done")
		_ = conn.Write(r.Context(), websocket.MessageText, []byte("not-json"))
		time.Sleep(100 * time.Millisecond)
	}))
	t.Cleanup(srv.Close)

	ws := NewWebSocketConn(dialConn(t, srv), nil)
	t.Cleanup(func() { _ = ws.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := ws.ReadFrame(ctx)
	assert.ErrorContains(t, err, "unmarshal frame")
}
