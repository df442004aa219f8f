package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/rehearsed/rehearsed/agent"
	"github.com/rehearsed/rehearsed/agent/streaming"
	"github.com/rehearsed/rehearsed/types"
)

// echoServer 把收到的第一帧原样回写，然后发送 turn_complete 并结束会话
type echoServer struct {
	requests chan streaming.Request
}

func (e *echoServer) Serve(ctx context.Context, conn streaming.Conn, req streaming.Request) error {
	e.requests <- req
	in, err := conn.ReadFrame(ctx)
	if err != nil {
		return err
	}
	if err := conn.WriteFrame(ctx, streaming.OutboundFrame{MIMEType: in.MIMEType, Data: in.Data}); err != nil {
		return err
	}
	return conn.WriteFrame(ctx, streaming.OutboundFrame{TurnComplete: true})
}

func newStreamMux(server StreamServer, defaultAgent string) *http.ServeMux {
	catalog := fakeCatalog{"teacher": agent.RegistryEntry{}}
	h := NewStreamHandler(server, catalog, defaultAgent, nil, zap.NewNop())
	mux := http.NewServeMux()
	mux.HandleFunc("GET /agent/ws/{userId}/{sessionId}", h.HandleStream)
	return mux
}

func TestStream_RelaysFrames(t *testing.T) {
	server := &echoServer{requests: make(chan streaming.Request, 1)}
	srv := httptest.NewServer(newStreamMux(server, "teacher"))
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/agent/ws/u1/s1?isAudio=true"
	conn, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	defer conn.CloseNow()

	require.NoError(t, wsjson.Write(ctx, conn, streaming.InboundFrame{MIMEType: "text/plain", Data: "hello"}))

	var got streaming.OutboundFrame
	require.NoError(t, wsjson.Read(ctx, conn, &got))
	assert.Equal(t, "hello", got.Data)
	assert.Equal(t, "text/plain", got.MIMEType)

	require.NoError(t, wsjson.Read(ctx, conn, &got))
	assert.True(t, got.TurnComplete)

	select {
	case req := <-server.requests:
		assert.Equal(t, streaming.Request{RootName: "teacher", UserID: "u1", SessionID: "s1", IsAudio: true}, req)
	case <-ctx.Done():
		t.Fatal("session never started")
	}
}

func TestStream_RejectsBeforeUpgrade(t *testing.T) {
	tests := []struct {
		name         string
		path         string
		defaultAgent string
		wantStatus   int
		wantCode     types.ErrorCode
	}{
		{"unknown agent", "/agent/ws/u1/s1?agent_name=ghost", "teacher", http.StatusNotFound, types.ErrAgentNotFound},
		{"bad isAudio", "/agent/ws/u1/s1?isAudio=maybe", "teacher", http.StatusBadRequest, types.ErrInvalidRequest},
		{"no agent configured", "/agent/ws/u1/s1", "", http.StatusBadRequest, types.ErrInvalidRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := &echoServer{requests: make(chan streaming.Request, 1)}
			w := httptest.NewRecorder()
			newStreamMux(server, tt.defaultAgent).ServeHTTP(w, httptest.NewRequest(http.MethodGet, tt.path, nil))

			assert.Equal(t, tt.wantStatus, w.Code)
			assert.Equal(t, string(tt.wantCode), decodeResponse(t, w).Error.Code)
			assert.Empty(t, server.requests)
		})
	}
}
