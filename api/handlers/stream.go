package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/coder/websocket"
	"go.uber.org/zap"

	"github.com/rehearsed/rehearsed/agent/streaming"
	"github.com/rehearsed/rehearsed/types"
)

// StreamServer 在已升级的连接上运行一次直播会话。streaming.Driver 实现了它。
type StreamServer interface {
	Serve(ctx context.Context, conn streaming.Conn, req streaming.Request) error
}

// StreamHandler 处理 /agent/ws 端点
type StreamHandler struct {
	server         StreamServer
	agents         AgentCatalog
	defaultAgent   string
	originPatterns []string
	logger         *zap.Logger
}

// NewStreamHandler 创建 StreamHandler。originPatterns 为空时只接受同源连接。
func NewStreamHandler(server StreamServer, agents AgentCatalog, defaultAgent string, originPatterns []string, logger *zap.Logger) *StreamHandler {
	return &StreamHandler{
		server:         server,
		agents:         agents,
		defaultAgent:   defaultAgent,
		originPatterns: originPatterns,
		logger:         logger.With(zap.String("component", "stream_handler")),
	}
}

// HandleStream 升级为 WebSocket 并驱动直播会话，直到任一方断开
// @Summary Live agent session
// @Tags agent
// @Param userId path string true "user"
// @Param sessionId path string true "session"
// @Param isAudio query bool false "audio modality"
// @Param agent_name query string false "root agent"
// @Success 101
// @Failure 404 {object} Response
// @Router /agent/ws/{userId}/{sessionId} [get]
func (h *StreamHandler) HandleStream(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("userId")
	sessionID := r.PathValue("sessionId")
	if userID == "" || sessionID == "" {
		WriteErrorMessage(w, http.StatusBadRequest, types.ErrInvalidRequest, "user id and session id are required", h.logger)
		return
	}

	isAudio := false
	if raw := r.URL.Query().Get("isAudio"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			WriteErrorMessage(w, http.StatusBadRequest, types.ErrInvalidRequest, "isAudio must be a boolean", h.logger)
			return
		}
		isAudio = v
	}

	name := r.URL.Query().Get("agent_name")
	if name == "" {
		name = h.defaultAgent
	}
	if name == "" {
		WriteErrorMessage(w, http.StatusBadRequest, types.ErrInvalidRequest, "agent_name is required", h.logger)
		return
	}
	// 升级前确认 Agent 存在，失败时仍能返回普通 HTTP 错误
	if _, err := h.agents.Lookup(name); err != nil {
		WriteDomainError(w, err, h.logger)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: h.originPatterns})
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	conn := streaming.NewWebSocketConn(ws, h.logger)
	defer conn.Close()

	err = h.server.Serve(r.Context(), conn, streaming.Request{
		RootName:  name,
		UserID:    userID,
		SessionID: sessionID,
		IsAudio:   isAudio,
	})
	switch {
	case err == nil, errors.Is(err, context.Canceled), errors.Is(err, streaming.ErrDisconnected):
		h.logger.Debug("live session ended", zap.String("agent", name), zap.String("session_id", sessionID))
	default:
		h.logger.Warn("live session failed",
			zap.String("agent", name),
			zap.String("session_id", sessionID),
			zap.Error(err),
		)
	}
}
