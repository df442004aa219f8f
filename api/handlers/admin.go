package handlers

import (
	"context"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/rehearsed/rehearsed/agent"
	"github.com/rehearsed/rehearsed/api"
	"github.com/rehearsed/rehearsed/types"
)

// RecordAdmin 管理端对记录存储的读写。store.RecordStore 实现了它。
type RecordAdmin interface {
	ListAllAgentRecords(ctx context.Context) ([]agent.AgentRecord, error)
	GetAgentRecordByID(ctx context.Context, id uint) (*agent.AgentRecord, error)
	CreateAgentRecord(ctx context.Context, rec *agent.AgentRecord) error
	UpdateAgentRecord(ctx context.Context, id uint, update *agent.AgentRecord) (*agent.AgentRecord, error)
	DeleteAgentRecord(ctx context.Context, id uint) error

	ListScenarios(ctx context.Context) ([]agent.Scenario, error)
	GetScenario(ctx context.Context, id uint) (*agent.Scenario, error)
	CreateScenario(ctx context.Context, sc *agent.Scenario) error
	UpdateScenario(ctx context.Context, id uint, update *agent.Scenario) (*agent.Scenario, error)
	DeleteScenario(ctx context.Context, id uint) error

	ListAllLinks(ctx context.Context) ([]agent.SubAgentLink, error)
	ListChildLinks(ctx context.Context, rootID uint) ([]agent.SubAgentLink, error)
	ListLinksBySub(ctx context.Context, subID uint) ([]agent.SubAgentLink, error)
	CreateLink(ctx context.Context, link *agent.SubAgentLink) error
	DeleteLink(ctx context.Context, rootID, subID uint) error
}

// ActiveRebuilder 在写入后重建当前场景。agent.ScenarioService 实现了它。
type ActiveRebuilder interface {
	RebuildActive(ctx context.Context) error
}

// =============================================================================
// 🛠️ Admin Handler
// =============================================================================

// AdminHandler 处理 /admin 下的 CRUD。对 Agent、链接以及场景删除的写入
// 会重建当前场景的注册表；重建失败时写入已落库，错误原样返回给调用方。
type AdminHandler struct {
	records  RecordAdmin
	rebuilds ActiveRebuilder
	logger   *zap.Logger
}

// NewAdminHandler 创建 AdminHandler
func NewAdminHandler(records RecordAdmin, rebuilds ActiveRebuilder, logger *zap.Logger) *AdminHandler {
	return &AdminHandler{
		records:  records,
		rebuilds: rebuilds,
		logger:   logger.With(zap.String("component", "admin_handler")),
	}
}

// Register 把全部管理端路由挂到 mux 上，wrap 用于套上鉴权中间件
func (h *AdminHandler) Register(mux *http.ServeMux, wrap func(http.HandlerFunc) http.HandlerFunc) {
	routes := map[string]http.HandlerFunc{
		"GET /admin/agents":         h.HandleListAgents,
		"POST /admin/agents":        h.HandleCreateAgent,
		"GET /admin/agents/{id}":    h.HandleGetAgent,
		"PUT /admin/agents/{id}":    h.HandleUpdateAgent,
		"DELETE /admin/agents/{id}": h.HandleDeleteAgent,

		"GET /admin/scenarios":         h.HandleListScenarios,
		"POST /admin/scenarios":        h.HandleCreateScenario,
		"GET /admin/scenarios/{id}":    h.HandleGetScenario,
		"PUT /admin/scenarios/{id}":    h.HandleUpdateScenario,
		"DELETE /admin/scenarios/{id}": h.HandleDeleteScenario,

		"GET /admin/subagent-links":                 h.HandleListLinks,
		"POST /admin/subagent-links":                h.HandleCreateLink,
		"GET /admin/subagent-links/root/{id}":       h.HandleListLinksByRoot,
		"GET /admin/subagent-links/sub/{id}":        h.HandleListLinksBySub,
		"DELETE /admin/subagent-links/{root}/{sub}": h.HandleDeleteLink,
	}
	for pattern, fn := range routes {
		mux.HandleFunc(pattern, wrap(fn))
	}
}

// =============================================================================
// 🤖 Agents
// =============================================================================

// HandleListAgents GET /admin/agents
func (h *AdminHandler) HandleListAgents(w http.ResponseWriter, r *http.Request) {
	records, err := h.records.ListAllAgentRecords(r.Context())
	if err != nil {
		WriteDomainError(w, err, h.logger)
		return
	}
	WriteSuccess(w, nonNil(records))
}

// HandleGetAgent GET /admin/agents/{id}
func (h *AdminHandler) HandleGetAgent(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	rec, err := h.records.GetAgentRecordByID(r.Context(), id)
	if err != nil {
		WriteDomainError(w, err, h.logger)
		return
	}
	WriteSuccess(w, rec)
}

// HandleCreateAgent POST /admin/agents
func (h *AdminHandler) HandleCreateAgent(w http.ResponseWriter, r *http.Request) {
	var in api.AgentRecordInput
	if err := DecodeJSONBody(w, r, &in, h.logger); err != nil {
		return
	}
	rec := in.Record()
	if err := h.records.CreateAgentRecord(r.Context(), rec); err != nil {
		WriteDomainError(w, err, h.logger)
		return
	}
	if !h.rebuild(w, r, "agent created") {
		return
	}
	WriteCreated(w, rec)
}

// HandleUpdateAgent PUT /admin/agents/{id}
func (h *AdminHandler) HandleUpdateAgent(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	var in api.AgentRecordInput
	if err := DecodeJSONBody(w, r, &in, h.logger); err != nil {
		return
	}
	rec, err := h.records.UpdateAgentRecord(r.Context(), id, in.Record())
	if err != nil {
		WriteDomainError(w, err, h.logger)
		return
	}
	if !h.rebuild(w, r, "agent updated") {
		return
	}
	WriteSuccess(w, rec)
}

// HandleDeleteAgent DELETE /admin/agents/{id}
func (h *AdminHandler) HandleDeleteAgent(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	if err := h.records.DeleteAgentRecord(r.Context(), id); err != nil {
		WriteDomainError(w, err, h.logger)
		return
	}
	if !h.rebuild(w, r, "agent deleted") {
		return
	}
	WriteSuccess(w, map[string]uint{"deleted": id})
}

// =============================================================================
// 🎬 Scenarios
// =============================================================================

// HandleListScenarios GET /admin/scenarios
func (h *AdminHandler) HandleListScenarios(w http.ResponseWriter, r *http.Request) {
	list, err := h.records.ListScenarios(r.Context())
	if err != nil {
		WriteDomainError(w, err, h.logger)
		return
	}
	WriteSuccess(w, nonNil(list))
}

// HandleGetScenario GET /admin/scenarios/{id}
func (h *AdminHandler) HandleGetScenario(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	sc, err := h.records.GetScenario(r.Context(), id)
	if err != nil {
		WriteDomainError(w, err, h.logger)
		return
	}
	WriteSuccess(w, sc)
}

// HandleCreateScenario POST /admin/scenarios
func (h *AdminHandler) HandleCreateScenario(w http.ResponseWriter, r *http.Request) {
	var in api.ScenarioInput
	if err := DecodeJSONBody(w, r, &in, h.logger); err != nil {
		return
	}
	sc := in.Scenario()
	if err := h.records.CreateScenario(r.Context(), sc); err != nil {
		WriteDomainError(w, err, h.logger)
		return
	}
	WriteCreated(w, sc)
}

// HandleUpdateScenario PUT /admin/scenarios/{id}
func (h *AdminHandler) HandleUpdateScenario(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	var in api.ScenarioInput
	if err := DecodeJSONBody(w, r, &in, h.logger); err != nil {
		return
	}
	sc, err := h.records.UpdateScenario(r.Context(), id, in.Scenario())
	if err != nil {
		WriteDomainError(w, err, h.logger)
		return
	}
	if !h.rebuild(w, r, "scenario updated") {
		return
	}
	WriteSuccess(w, sc)
}

// HandleDeleteScenario DELETE /admin/scenarios/{id}，级联删除其 Agent 与链接
func (h *AdminHandler) HandleDeleteScenario(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	if err := h.records.DeleteScenario(r.Context(), id); err != nil {
		WriteDomainError(w, err, h.logger)
		return
	}
	if !h.rebuild(w, r, "scenario deleted") {
		return
	}
	WriteSuccess(w, map[string]uint{"deleted": id})
}

// =============================================================================
// 🔗 SubAgent links
// =============================================================================

// HandleListLinks GET /admin/subagent-links
func (h *AdminHandler) HandleListLinks(w http.ResponseWriter, r *http.Request) {
	links, err := h.records.ListAllLinks(r.Context())
	if err != nil {
		WriteDomainError(w, err, h.logger)
		return
	}
	WriteSuccess(w, nonNil(links))
}

// HandleListLinksByRoot GET /admin/subagent-links/root/{id}
func (h *AdminHandler) HandleListLinksByRoot(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	links, err := h.records.ListChildLinks(r.Context(), id)
	if err != nil {
		WriteDomainError(w, err, h.logger)
		return
	}
	WriteSuccess(w, nonNil(links))
}

// HandleListLinksBySub GET /admin/subagent-links/sub/{id}
func (h *AdminHandler) HandleListLinksBySub(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	links, err := h.records.ListLinksBySub(r.Context(), id)
	if err != nil {
		WriteDomainError(w, err, h.logger)
		return
	}
	WriteSuccess(w, nonNil(links))
}

// HandleCreateLink POST /admin/subagent-links
func (h *AdminHandler) HandleCreateLink(w http.ResponseWriter, r *http.Request) {
	var in api.LinkInput
	if err := DecodeJSONBody(w, r, &in, h.logger); err != nil {
		return
	}
	if in.RootAgentID == 0 || in.SubAgentID == 0 {
		WriteErrorMessage(w, http.StatusBadRequest, types.ErrInvalidRequest, "root_agent_id and sub_agent_id are required", h.logger)
		return
	}
	link := &agent.SubAgentLink{RootAgentID: in.RootAgentID, SubAgentID: in.SubAgentID}
	if err := h.records.CreateLink(r.Context(), link); err != nil {
		WriteDomainError(w, err, h.logger)
		return
	}
	if !h.rebuild(w, r, "link created") {
		return
	}
	WriteCreated(w, link)
}

// HandleDeleteLink DELETE /admin/subagent-links/{root}/{sub}
func (h *AdminHandler) HandleDeleteLink(w http.ResponseWriter, r *http.Request) {
	rootID, ok := h.pathID(w, r, "root")
	if !ok {
		return
	}
	subID, ok := h.pathID(w, r, "sub")
	if !ok {
		return
	}
	if err := h.records.DeleteLink(r.Context(), rootID, subID); err != nil {
		WriteDomainError(w, err, h.logger)
		return
	}
	if !h.rebuild(w, r, "link deleted") {
		return
	}
	WriteSuccess(w, agent.SubAgentLink{RootAgentID: rootID, SubAgentID: subID})
}

// =============================================================================
// 🧰 helpers
// =============================================================================

// rebuild 写入后重建当前场景；失败时写出错误并返回 false
func (h *AdminHandler) rebuild(w http.ResponseWriter, r *http.Request, what string) bool {
	if h.rebuilds == nil {
		return true
	}
	if err := h.rebuilds.RebuildActive(r.Context()); err != nil {
		h.logger.Error("rebuild after admin write failed", zap.String("write", what), zap.Error(err))
		WriteDomainError(w, err, h.logger)
		return false
	}
	return true
}

func (h *AdminHandler) pathID(w http.ResponseWriter, r *http.Request, name string) (uint, bool) {
	id, err := strconv.ParseUint(r.PathValue(name), 10, 64)
	if err != nil || id == 0 {
		WriteErrorMessage(w, http.StatusBadRequest, types.ErrInvalidRequest, "invalid "+name, h.logger)
		return 0, false
	}
	return uint(id), true
}

// nonNil 让空列表编码为 [] 而不是 null
func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
