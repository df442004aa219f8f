package streaming

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/coder/websocket"
	"go.uber.org/zap"
)

// WebSocketConn 将 coder/websocket 连接适配为 Conn 接口。
// 写操作通过 mutex 保护，因为 WebSocket 不支持并发写。
type WebSocketConn struct {
	conn   *websocket.Conn
	logger *zap.Logger
	mu     sync.Mutex // 保护写操作和 closed
	closed bool
}

// NewWebSocketConn 从已建立的 WebSocket 连接创建适配器。
func NewWebSocketConn(conn *websocket.Conn, logger *zap.Logger) *WebSocketConn {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WebSocketConn{
		conn:   conn,
		logger: logger.With(zap.String("component", "ws_conn")),
	}
}

// ReadFrame 从 WebSocket 读取一个 JSON 编码的入站帧。
func (w *WebSocketConn) ReadFrame(ctx context.Context) (InboundFrame, error) {
	if w.isClosed() {
		return InboundFrame{}, ErrConnClosed
	}

	_, data, err := w.conn.Read(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return InboundFrame{}, ctx.Err()
		}
		if isDisconnect(err) {
			return InboundFrame{}, fmt.Errorf("%w: %v", ErrDisconnected, err)
		}
		return InboundFrame{}, fmt.Errorf("websocket read: %w", err)
	}

	var f InboundFrame
	if err := json.Unmarshal(data, &f); err != nil {
		return InboundFrame{}, fmt.Errorf("unmarshal frame: %w", err)
	}
	return f, nil
}

// WriteFrame 将出站帧序列化为 JSON 并通过 WebSocket 发送。
func (w *WebSocketConn) WriteFrame(ctx context.Context, f OutboundFrame) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return ErrConnClosed
	}

	data, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("marshal frame: %w", err)
	}

	if err := w.conn.Write(ctx, websocket.MessageText, data); err != nil {
		if isDisconnect(err) {
			return fmt.Errorf("%w: %v", ErrDisconnected, err)
		}
		return fmt.Errorf("websocket write: %w", err)
	}
	return nil
}

// Close 关闭 WebSocket 连接，重复调用无副作用。
func (w *WebSocketConn) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	w.closed = true

	err := w.conn.Close(websocket.StatusNormalClosure, "session closed")
	if err != nil && isDisconnect(err) {
		// 对端已先行断开
		return nil
	}
	return err
}

func (w *WebSocketConn) isClosed() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closed
}

// isDisconnect 判断错误是否代表对端关闭。
func isDisconnect(err error) bool {
	if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
		return true
	}
	return websocket.CloseStatus(err) != -1
}
