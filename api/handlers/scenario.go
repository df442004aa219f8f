package handlers

import (
	"context"
	"net/http"

	"go.uber.org/zap"

	"github.com/rehearsed/rehearsed/agent"
	"github.com/rehearsed/rehearsed/api"
	"github.com/rehearsed/rehearsed/types"
)

// ScenarioController 场景选择。agent.ScenarioService 实现了它。
type ScenarioController interface {
	List(ctx context.Context) ([]agent.Scenario, error)
	Current() (*agent.Scenario, error)
	Set(ctx context.Context, scenarioID uint) (*agent.Scenario, error)
}

// =============================================================================
// 🎬 Scenario Handler
// =============================================================================

// ScenarioHandler 处理 /scenario 端点
type ScenarioHandler struct {
	scenarios ScenarioController
	logger    *zap.Logger
}

// NewScenarioHandler 创建 ScenarioHandler
func NewScenarioHandler(scenarios ScenarioController, logger *zap.Logger) *ScenarioHandler {
	return &ScenarioHandler{
		scenarios: scenarios,
		logger:    logger.With(zap.String("component", "scenario_handler")),
	}
}

// HandleGetAll 列出全部场景
// @Summary List scenarios
// @Tags scenario
// @Produce json
// @Success 200 {object} Response{data=[]agent.Scenario}
// @Router /scenario/get-all [get]
func (h *ScenarioHandler) HandleGetAll(w http.ResponseWriter, r *http.Request) {
	list, err := h.scenarios.List(r.Context())
	if err != nil {
		WriteDomainError(w, err, h.logger)
		return
	}
	WriteSuccess(w, nonNil(list))
}

// HandleGetCurrent 返回当前场景，未选择时 404
// @Summary Current scenario
// @Tags scenario
// @Produce json
// @Success 200 {object} Response{data=agent.Scenario}
// @Failure 404 {object} Response
// @Router /scenario/get-current-scenario [get]
func (h *ScenarioHandler) HandleGetCurrent(w http.ResponseWriter, r *http.Request) {
	sc, err := h.scenarios.Current()
	if err != nil {
		WriteDomainError(w, err, h.logger)
		return
	}
	WriteSuccess(w, sc)
}

// HandleSet 切换场景。图构建失败时拒绝切换，原场景保持生效。
// @Summary Switch scenario
// @Tags scenario
// @Accept json
// @Produce json
// @Param request body api.SetScenarioRequest true "scenario"
// @Success 200 {object} Response{data=agent.Scenario}
// @Failure 404 {object} Response "scenario not found"
// @Failure 422 {object} Response "agent graph invalid"
// @Router /scenario/set-scenario [post]
func (h *ScenarioHandler) HandleSet(w http.ResponseWriter, r *http.Request) {
	var req api.SetScenarioRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}
	if req.ScenarioID == 0 {
		WriteErrorMessage(w, http.StatusBadRequest, types.ErrInvalidRequest, "scenario_id is required", h.logger)
		return
	}

	sc, err := h.scenarios.Set(r.Context(), req.ScenarioID)
	if err != nil {
		WriteDomainError(w, err, h.logger)
		return
	}
	WriteSuccess(w, sc)
}
