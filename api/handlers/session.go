package handlers

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rehearsed/rehearsed/api"
	"github.com/rehearsed/rehearsed/engine"
	"github.com/rehearsed/rehearsed/session"
	"github.com/rehearsed/rehearsed/types"
)

// SessionDirectory 会话的创建与列举。session.Store 实现了它。
type SessionDirectory interface {
	GetOrCreate(ctx context.Context, appName, userID, sessionID string) (*engine.Session, error)
	List(ctx context.Context, appName, userID string) ([]session.Row, error)
}

// SessionHandler 处理 /session 端点
type SessionHandler struct {
	sessions SessionDirectory
	appName  string
	logger   *zap.Logger
}

// NewSessionHandler 创建 SessionHandler
func NewSessionHandler(sessions SessionDirectory, appName string, logger *zap.Logger) *SessionHandler {
	return &SessionHandler{
		sessions: sessions,
		appName:  appName,
		logger:   logger.With(zap.String("component", "session_handler")),
	}
}

// HandleCreate 创建会话，未给 session_id 时生成一个 UUID
// @Summary Create session
// @Tags session
// @Accept json
// @Produce json
// @Param request body api.CreateSessionRequest true "user"
// @Success 201 {object} Response{data=api.SessionAck}
// @Router /session/create [post]
func (h *SessionHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	var req api.CreateSessionRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}
	if req.UserID == "" {
		WriteErrorMessage(w, http.StatusBadRequest, types.ErrInvalidRequest, "user_id is required", h.logger)
		return
	}
	if req.SessionID == "" {
		req.SessionID = uuid.NewString()
	}

	sess, err := h.sessions.GetOrCreate(r.Context(), h.appName, req.UserID, req.SessionID)
	if err != nil {
		WriteDomainError(w, err, h.logger)
		return
	}
	WriteCreated(w, api.SessionAck{
		UserID:    sess.UserID,
		SessionID: sess.ID,
		Events:    len(sess.Events()),
		UpdatedAt: sess.UpdatedAt,
	})
}

// HandleList 列出用户的会话，最近更新的在前
// @Summary List sessions
// @Tags session
// @Produce json
// @Param user_id query string true "user"
// @Success 200 {object} Response{data=[]api.SessionInfo}
// @Router /session/list [get]
func (h *SessionHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		WriteErrorMessage(w, http.StatusBadRequest, types.ErrInvalidRequest, "user_id is required", h.logger)
		return
	}

	rows, err := h.sessions.List(r.Context(), h.appName, userID)
	if err != nil {
		WriteDomainError(w, err, h.logger)
		return
	}
	out := make([]api.SessionInfo, 0, len(rows))
	for _, row := range rows {
		out = append(out, api.SessionInfo{
			ID:        row.ID,
			UserID:    row.UserID,
			CreatedAt: row.CreatedAt,
			UpdatedAt: row.UpdatedAt,
		})
	}
	WriteSuccess(w, out)
}
