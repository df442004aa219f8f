package handlers

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/rehearsed/rehearsed/agent"
	"github.com/rehearsed/rehearsed/api"
	"github.com/rehearsed/rehearsed/engine"
	"github.com/rehearsed/rehearsed/session"
	"github.com/rehearsed/rehearsed/speech"
	"github.com/rehearsed/rehearsed/types"
)

// defaultMaxUploadBytes multipart 请求（音频 + 图片）上限
const defaultMaxUploadBytes = 25 << 20

// =============================================================================
// 🎙️ Agent Handler
// =============================================================================

// TurnDispatcher 执行一轮对话。agent.Dispatcher 实现了它。
type TurnDispatcher interface {
	Dispatch(ctx context.Context, req agent.TurnRequest) (*agent.AgentResponse, error)
}

// AgentCatalog 当前注册表的只读视图。agent.Registry 实现了它。
type AgentCatalog interface {
	Lookup(name string) (agent.RegistryEntry, error)
	ListNames() []string
}

// SessionOpener 获取或创建会话
type SessionOpener interface {
	GetOrCreate(ctx context.Context, appName, userID, sessionID string) (*engine.Session, error)
}

// ConversationReader 回放会话内容
type ConversationReader interface {
	Content(ctx context.Context, userID, sessionID string, includeAudio bool) (*session.Conversation, error)
}

// AgentHandlerConfig AgentHandler 配置
type AgentHandlerConfig struct {
	AppName           string
	FeedbackAgentName string
	// DefaultVoice 在 Agent 记录未指定声音时使用
	DefaultVoice   string
	MaxUploadBytes int64
}

// AgentHandler 处理 /agent 下的请求-响应端点
type AgentHandler struct {
	dispatcher    TurnDispatcher
	agents        AgentCatalog
	sessions      SessionOpener
	conversations ConversationReader
	tts           speech.Synthesizer
	stt           speech.Transcriber
	cfg           AgentHandlerConfig
	logger        *zap.Logger
}

// NewAgentHandler 创建 AgentHandler。tts / stt 为 nil 时语音功能关闭。
func NewAgentHandler(
	dispatcher TurnDispatcher,
	agents AgentCatalog,
	sessions SessionOpener,
	conversations ConversationReader,
	tts speech.Synthesizer,
	stt speech.Transcriber,
	cfg AgentHandlerConfig,
	logger *zap.Logger,
) *AgentHandler {
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = defaultMaxUploadBytes
	}
	return &AgentHandler{
		dispatcher:    dispatcher,
		agents:        agents,
		sessions:      sessions,
		conversations: conversations,
		tts:           tts,
		stt:           stt,
		cfg:           cfg,
		logger:        logger.With(zap.String("component", "agent_handler")),
	}
}

// HandleStartSession 打开（或复用）会话
// @Summary Start session
// @Tags agent
// @Accept json
// @Produce json
// @Param request body api.StartSessionRequest true "user and session"
// @Success 200 {object} Response{data=api.SessionAck}
// @Router /agent/start-session [post]
func (h *AgentHandler) HandleStartSession(w http.ResponseWriter, r *http.Request) {
	var req api.StartSessionRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}
	if req.UserID == "" || req.SessionID == "" {
		WriteErrorMessage(w, http.StatusBadRequest, types.ErrInvalidRequest, "user_id and session_id are required", h.logger)
		return
	}

	sess, err := h.sessions.GetOrCreate(r.Context(), h.cfg.AppName, req.UserID, req.SessionID)
	if err != nil {
		WriteDomainError(w, err, h.logger)
		return
	}
	WriteSuccess(w, api.SessionAck{
		UserID:    sess.UserID,
		SessionID: sess.ID,
		Events:    len(sess.Events()),
		UpdatedAt: sess.UpdatedAt,
	})
}

// HandleRequest 执行一轮。支持 JSON 与 multipart（audio 文件走语音转写，
// image 文件作为内联图片）。上传了音频或 return_audio=true 时回复附带合成语音。
// @Summary Run a turn
// @Tags agent
// @Accept json,mpfd
// @Produce json
// @Success 200 {object} Response{data=api.AgentReply}
// @Failure 404 {object} Response "agent not found"
// @Router /agent/request [post]
func (h *AgentHandler) HandleRequest(w http.ResponseWriter, r *http.Request) {
	turn, err := h.parseTurn(w, r)
	if err != nil {
		WriteDomainError(w, err, h.logger)
		return
	}
	if turn.req.RootName == "" {
		WriteErrorMessage(w, http.StatusBadRequest, types.ErrInvalidRequest, "agent_name is required", h.logger)
		return
	}
	h.runTurn(w, r, turn)
}

// HandleFeedback 对当前会话请求反馈。未指定 agent_name 时使用反馈 Agent。
// @Summary Request feedback
// @Tags agent
// @Accept json
// @Produce json
// @Success 200 {object} Response{data=api.AgentReply}
// @Router /agent/feedback [post]
func (h *AgentHandler) HandleFeedback(w http.ResponseWriter, r *http.Request) {
	var req api.FeedbackRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}
	name := req.AgentName
	if name == "" {
		name = h.cfg.FeedbackAgentName
	}
	h.runTurn(w, r, parsedTurn{req: agent.TurnRequest{
		RootName:  name,
		UserID:    req.UserID,
		SessionID: req.SessionID,
		Message:   req.Message,
	}})
}

// HandleConversation 回放会话，?audio=true 时为模型轮次附带语音
// @Summary Conversation replay
// @Tags agent
// @Produce json
// @Param userId path string true "user"
// @Param sessionId path string true "session"
// @Success 200 {object} Response{data=session.Conversation}
// @Router /agent/conversation/{userId}/{sessionId} [get]
func (h *AgentHandler) HandleConversation(w http.ResponseWriter, r *http.Request) {
	userID, sessionID := r.PathValue("userId"), r.PathValue("sessionId")
	if userID == "" || sessionID == "" {
		WriteErrorMessage(w, http.StatusBadRequest, types.ErrInvalidRequest, "user and session are required", h.logger)
		return
	}
	includeAudio, _ := strconv.ParseBool(r.URL.Query().Get("audio"))

	conv, err := h.conversations.Content(r.Context(), userID, sessionID, includeAudio)
	if err != nil {
		WriteDomainError(w, err, h.logger)
		return
	}
	WriteSuccess(w, conv)
}

// HandleList 列出当前场景注册的 Agent 名称
func (h *AgentHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	WriteSuccess(w, h.agents.ListNames())
}

// =============================================================================
// 🔧 内部实现
// =============================================================================

type parsedTurn struct {
	req         agent.TurnRequest
	returnAudio bool
	transcript  string
}

func (h *AgentHandler) runTurn(w http.ResponseWriter, r *http.Request, turn parsedTurn) {
	req := turn.req
	if req.UserID == "" || req.SessionID == "" {
		WriteErrorMessage(w, http.StatusBadRequest, types.ErrInvalidRequest, "user_id and session_id are required", h.logger)
		return
	}
	if strings.TrimSpace(req.Message) == "" && req.Image == nil {
		WriteErrorMessage(w, http.StatusBadRequest, types.ErrInvalidRequest, "message is required", h.logger)
		return
	}

	resp, err := h.dispatcher.Dispatch(r.Context(), req)
	if err != nil {
		WriteDomainError(w, err, h.logger)
		return
	}

	reply := api.NewAgentReply(resp)
	reply.Transcript = turn.transcript
	if turn.returnAudio {
		reply.Audio = h.synthesize(r.Context(), req.RootName, resp)
	}
	WriteSuccess(w, reply)
}

// synthesize 失败时只丢弃音频，不影响文本回复
func (h *AgentHandler) synthesize(ctx context.Context, rootName string, resp *agent.AgentResponse) string {
	if h.tts == nil || resp.AgentResponseText == "" {
		return ""
	}
	audio, err := h.tts.Synthesize(ctx, resp.AgentResponseText, h.voiceFor(rootName, resp.Author))
	if err != nil {
		h.logger.Warn("synthesize reply failed", zap.String("agent", rootName), zap.Error(err))
		return ""
	}
	return base64.StdEncoding.EncodeToString(audio)
}

// voiceFor 优先使用作答 Agent 的声音，其次根 Agent，最后默认声音
func (h *AgentHandler) voiceFor(rootName string, author *string) string {
	candidates := []string{rootName}
	if author != nil {
		candidates = []string{*author, rootName}
	}
	for _, name := range candidates {
		if entry, err := h.agents.Lookup(name); err == nil && entry.Record.VoiceName != "" {
			return entry.Record.VoiceName
		}
	}
	return h.cfg.DefaultVoice
}

func (h *AgentHandler) parseTurn(w http.ResponseWriter, r *http.Request) (parsedTurn, error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType != "multipart/form-data" {
		var req api.AgentRequest
		if err := decodeStrict(w, r, &req); err != nil {
			return parsedTurn{}, err
		}
		return parsedTurn{
			req: agent.TurnRequest{
				RootName:  req.AgentName,
				UserID:    req.UserID,
				SessionID: req.SessionID,
				Message:   req.Message,
			},
			returnAudio: req.ReturnAudio,
		}, nil
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.cfg.MaxUploadBytes)
	if err := r.ParseMultipartForm(h.cfg.MaxUploadBytes); err != nil {
		return parsedTurn{}, invalid("invalid multipart body", err)
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	returnAudio, _ := strconv.ParseBool(r.FormValue("return_audio"))
	turn := parsedTurn{
		req: agent.TurnRequest{
			RootName:  r.FormValue("agent_name"),
			UserID:    r.FormValue("user_id"),
			SessionID: r.FormValue("session_id"),
			Message:   r.FormValue("message"),
		},
		returnAudio: returnAudio,
	}

	if data, mimeType, ok, err := formFile(r, "image"); err != nil {
		return parsedTurn{}, err
	} else if ok {
		turn.req.Image = &agent.InlineImage{MIMEType: mimeType, Data: data}
	}

	data, mimeType, ok, err := formFile(r, "audio")
	if err != nil || !ok {
		return turn, err
	}
	if h.stt == nil {
		return parsedTurn{}, types.NewError(types.ErrServiceUnavailable, "speech input is disabled")
	}
	text, err := h.stt.Transcribe(r.Context(), data, mimeType)
	if err != nil {
		if mapped := mapError(err); mapped.Code != types.ErrInternalError {
			return parsedTurn{}, err
		}
		return parsedTurn{}, types.NewError(types.ErrUpstreamError, "transcription failed").WithCause(err)
	}
	turn.transcript = text
	turn.returnAudio = true
	if turn.req.Message == "" {
		turn.req.Message = text
	} else {
		turn.req.Message = turn.req.Message + "\n" + text
	}
	return turn, nil
}

// decodeStrict 与 DecodeJSONBody 相同但不写响应，由调用方统一处理错误
func decodeStrict(w http.ResponseWriter, r *http.Request, dst any) error {
	if r.Body == nil || r.Body == http.NoBody {
		return types.NewError(types.ErrInvalidRequest, "request body is empty")
	}
	dec := jsonDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		return invalid("invalid JSON body", err)
	}
	return nil
}

// formFile 读取一个可选的上传文件，返回内容与 MIME 类型
func formFile(r *http.Request, field string) ([]byte, string, bool, error) {
	file, header, err := r.FormFile(field)
	if errors.Is(err, http.ErrMissingFile) {
		return nil, "", false, nil
	}
	if err != nil {
		return nil, "", false, invalid(fmt.Sprintf("invalid %s upload", field), err)
	}
	defer func(f multipart.File) { _ = f.Close() }(file)

	data, err := io.ReadAll(file)
	if err != nil {
		return nil, "", false, invalid(fmt.Sprintf("read %s upload", field), err)
	}
	if len(data) == 0 {
		return nil, "", false, nil
	}
	mimeType := header.Header.Get("Content-Type")
	if mimeType == "" || mimeType == "application/octet-stream" {
		mimeType = http.DetectContentType(data)
	}
	return data, mimeType, true, nil
}

func invalid(message string, cause error) *types.Error {
	return types.NewError(types.ErrInvalidRequest, message).WithCause(cause).WithHTTPStatus(http.StatusBadRequest)
}
