package store

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/rehearsed/rehearsed/agent"
)

var (
	// ErrNotFound 记录不存在
	ErrNotFound = errors.New("record not found")

	// ErrConflict 唯一约束冲突（同场景重名 Agent、重复链接）
	ErrConflict = errors.New("record conflicts with an existing one")

	// ErrInvalidRecord 写入前校验失败
	ErrInvalidRecord = errors.New("invalid record")
)

// =============================================================================
// 🗄️ RecordStore
// =============================================================================

// RecordStore 基于 GORM 的 Agent / 场景 / 子 Agent 链接存储。
// 所有读写都带 context，按场景批量读取，不做逐节点查询。
type RecordStore struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewRecordStore 创建 RecordStore
func NewRecordStore(db *gorm.DB, logger *zap.Logger) *RecordStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RecordStore{
		db:     db,
		logger: logger.With(zap.String("component", "record_store")),
	}
}

// AutoMigrate 创建三张表（仅建表，不做版本化迁移）
func (s *RecordStore) AutoMigrate(ctx context.Context) error {
	if err := s.db.WithContext(ctx).AutoMigrate(&agent.Scenario{}, &agent.AgentRecord{}, &agent.SubAgentLink{}); err != nil {
		return fmt.Errorf("auto migrate records: %w", err)
	}
	return nil
}

// =============================================================================
// 🤖 AgentRecord
// =============================================================================

// ListAgentRecords 一次读取场景内全部 Agent，按 id 升序
func (s *RecordStore) ListAgentRecords(ctx context.Context, scenarioID uint) ([]agent.AgentRecord, error) {
	var records []agent.AgentRecord
	err := s.db.WithContext(ctx).
		Where("scenario_id = ?", scenarioID).
		Order("id ASC").
		Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("list agent records: %w", err)
	}
	return records, nil
}

// ListAllAgentRecords 返回所有场景的 Agent
func (s *RecordStore) ListAllAgentRecords(ctx context.Context) ([]agent.AgentRecord, error) {
	var records []agent.AgentRecord
	if err := s.db.WithContext(ctx).Order("id ASC").Find(&records).Error; err != nil {
		return nil, fmt.Errorf("list all agent records: %w", err)
	}
	return records, nil
}

// GetAgentRecord 按场景与名称查找
func (s *RecordStore) GetAgentRecord(ctx context.Context, scenarioID uint, name string) (*agent.AgentRecord, error) {
	var rec agent.AgentRecord
	err := s.db.WithContext(ctx).
		Where("scenario_id = ? AND name = ?", scenarioID, name).
		First(&rec).Error
	if err != nil {
		return nil, notFound(err, "agent %q in scenario %d", name, scenarioID)
	}
	return &rec, nil
}

// GetAgentRecordByID 按主键查找
func (s *RecordStore) GetAgentRecordByID(ctx context.Context, id uint) (*agent.AgentRecord, error) {
	var rec agent.AgentRecord
	if err := s.db.WithContext(ctx).First(&rec, id).Error; err != nil {
		return nil, notFound(err, "agent %d", id)
	}
	return &rec, nil
}

// CreateAgentRecord 创建 Agent。能力类型与子 id 在写入前校验。
func (s *RecordStore) CreateAgentRecord(ctx context.Context, rec *agent.AgentRecord) error {
	if err := validateRecord(rec); err != nil {
		return err
	}
	rec.ID = 0
	if err := s.db.WithContext(ctx).Create(rec).Error; err != nil {
		return conflict(err, "create agent %q", rec.Name)
	}
	s.logger.Info("agent record created", zap.Uint("id", rec.ID), zap.String("name", rec.Name))
	return nil
}

// UpdateAgentRecord 以 update 整体替换 id 对应的 Agent
func (s *RecordStore) UpdateAgentRecord(ctx context.Context, id uint, update *agent.AgentRecord) (*agent.AgentRecord, error) {
	if err := validateRecord(update); err != nil {
		return nil, err
	}
	existing, err := s.GetAgentRecordByID(ctx, id)
	if err != nil {
		return nil, err
	}
	update.ID = existing.ID
	update.CreatedAt = existing.CreatedAt
	if err := s.db.WithContext(ctx).Save(update).Error; err != nil {
		return nil, conflict(err, "update agent %d", id)
	}
	return update, nil
}

// DeleteAgentRecord 删除 Agent 及引用它的链接
func (s *RecordStore) DeleteAgentRecord(ctx context.Context, id uint) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Delete(&agent.AgentRecord{}, id)
		if res.Error != nil {
			return fmt.Errorf("delete agent %d: %w", id, res.Error)
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("%w: agent %d", ErrNotFound, id)
		}
		if err := tx.Where("root_agent_id = ? OR sub_agent_id = ?", id, id).Delete(&agent.SubAgentLink{}).Error; err != nil {
			return fmt.Errorf("delete links of agent %d: %w", id, err)
		}
		return nil
	})
}

// =============================================================================
// 🎬 Scenario
// =============================================================================

// ListScenarios 返回全部场景，按 id 升序
func (s *RecordStore) ListScenarios(ctx context.Context) ([]agent.Scenario, error) {
	var scenarios []agent.Scenario
	if err := s.db.WithContext(ctx).Order("id ASC").Find(&scenarios).Error; err != nil {
		return nil, fmt.Errorf("list scenarios: %w", err)
	}
	return scenarios, nil
}

// GetScenario 按主键查找场景
func (s *RecordStore) GetScenario(ctx context.Context, id uint) (*agent.Scenario, error) {
	var sc agent.Scenario
	if err := s.db.WithContext(ctx).First(&sc, id).Error; err != nil {
		return nil, notFound(err, "scenario %d", id)
	}
	return &sc, nil
}

// CreateScenario 创建场景
func (s *RecordStore) CreateScenario(ctx context.Context, sc *agent.Scenario) error {
	if sc.Name == "" {
		return fmt.Errorf("%w: scenario name is required", ErrInvalidRecord)
	}
	sc.ID = 0
	if err := s.db.WithContext(ctx).Create(sc).Error; err != nil {
		return conflict(err, "create scenario %q", sc.Name)
	}
	return nil
}

// UpdateScenario 整体替换场景
func (s *RecordStore) UpdateScenario(ctx context.Context, id uint, update *agent.Scenario) (*agent.Scenario, error) {
	existing, err := s.GetScenario(ctx, id)
	if err != nil {
		return nil, err
	}
	update.ID = existing.ID
	update.CreatedAt = existing.CreatedAt
	if err := s.db.WithContext(ctx).Save(update).Error; err != nil {
		return nil, fmt.Errorf("update scenario %d: %w", id, err)
	}
	return update, nil
}

// DeleteScenario 删除场景、其 Agent 以及相关链接
func (s *RecordStore) DeleteScenario(ctx context.Context, id uint) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Delete(&agent.Scenario{}, id)
		if res.Error != nil {
			return fmt.Errorf("delete scenario %d: %w", id, res.Error)
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("%w: scenario %d", ErrNotFound, id)
		}
		var agentIDs []uint
		if err := tx.Model(&agent.AgentRecord{}).Where("scenario_id = ?", id).Pluck("id", &agentIDs).Error; err != nil {
			return fmt.Errorf("list agents of scenario %d: %w", id, err)
		}
		if len(agentIDs) > 0 {
			if err := tx.Where("root_agent_id IN ? OR sub_agent_id IN ?", agentIDs, agentIDs).Delete(&agent.SubAgentLink{}).Error; err != nil {
				return fmt.Errorf("delete links of scenario %d: %w", id, err)
			}
		}
		if err := tx.Where("scenario_id = ?", id).Delete(&agent.AgentRecord{}).Error; err != nil {
			return fmt.Errorf("delete agents of scenario %d: %w", id, err)
		}
		return nil
	})
}

// =============================================================================
// 🔗 SubAgentLink
// =============================================================================

// ListChildLinks 返回 rootID 的全部子链接
func (s *RecordStore) ListChildLinks(ctx context.Context, rootID uint) ([]agent.SubAgentLink, error) {
	var links []agent.SubAgentLink
	err := s.db.WithContext(ctx).
		Where("root_agent_id = ?", rootID).
		Order("sub_agent_id ASC").
		Find(&links).Error
	if err != nil {
		return nil, fmt.Errorf("list child links of %d: %w", rootID, err)
	}
	return links, nil
}

// ListLinksBySub 返回指向 subID 的全部链接
func (s *RecordStore) ListLinksBySub(ctx context.Context, subID uint) ([]agent.SubAgentLink, error) {
	var links []agent.SubAgentLink
	err := s.db.WithContext(ctx).
		Where("sub_agent_id = ?", subID).
		Order("root_agent_id ASC").
		Find(&links).Error
	if err != nil {
		return nil, fmt.Errorf("list links to %d: %w", subID, err)
	}
	return links, nil
}

// ListAllLinks 返回全部链接
func (s *RecordStore) ListAllLinks(ctx context.Context) ([]agent.SubAgentLink, error) {
	var links []agent.SubAgentLink
	if err := s.db.WithContext(ctx).Order("root_agent_id ASC, sub_agent_id ASC").Find(&links).Error; err != nil {
		return nil, fmt.Errorf("list links: %w", err)
	}
	return links, nil
}

// CreateLink 创建链接，两端 Agent 必须存在
func (s *RecordStore) CreateLink(ctx context.Context, link *agent.SubAgentLink) error {
	if link.RootAgentID == link.SubAgentID {
		return fmt.Errorf("%w: agent %d links to itself", agent.ErrAgentCycle, link.RootAgentID)
	}
	for _, id := range []uint{link.RootAgentID, link.SubAgentID} {
		if _, err := s.GetAgentRecordByID(ctx, id); err != nil {
			return err
		}
	}
	if err := s.db.WithContext(ctx).Create(link).Error; err != nil {
		return conflict(err, "create link %d -> %d", link.RootAgentID, link.SubAgentID)
	}
	return nil
}

// DeleteLink 删除一条链接
func (s *RecordStore) DeleteLink(ctx context.Context, rootID, subID uint) error {
	res := s.db.WithContext(ctx).
		Where("root_agent_id = ? AND sub_agent_id = ?", rootID, subID).
		Delete(&agent.SubAgentLink{})
	if res.Error != nil {
		return fmt.Errorf("delete link %d -> %d: %w", rootID, subID, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: link %d -> %d", ErrNotFound, rootID, subID)
	}
	return nil
}

// =============================================================================
// 🧰 helpers
// =============================================================================

func validateRecord(rec *agent.AgentRecord) error {
	if rec.Name == "" {
		return fmt.Errorf("%w: agent name is required", ErrInvalidRecord)
	}
	if rec.ScenarioID == 0 {
		return fmt.Errorf("%w: agent %q: scenario_id is required", ErrInvalidRecord, rec.Name)
	}
	if rec.CapabilityKind == "" {
		rec.CapabilityKind = agent.CapabilityLLM
	}
	if rec.MediaKind == "" {
		rec.MediaKind = agent.MediaNone
	}
	if _, err := rec.Kind(); err != nil {
		return err
	}
	if _, err := rec.ChildIDs(); err != nil {
		return err
	}
	return nil
}

func notFound(err error, format string, args ...any) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%w: %s", ErrNotFound, fmt.Sprintf(format, args...))
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

func conflict(err error, format string, args ...any) error {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return fmt.Errorf("%w: %s", ErrConflict, fmt.Sprintf(format, args...))
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}
