package store

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
	"gorm.io/gorm"

	"github.com/rehearsed/rehearsed/agent"
	"github.com/rehearsed/rehearsed/internal/database"
)

// Seed 是 YAML 种子文件的结构。子 Agent 按名称引用，仅在同一场景内解析。
type Seed struct {
	Scenarios []ScenarioSeed `yaml:"scenarios"`
}

// ScenarioSeed 一个场景及其 Agent
type ScenarioSeed struct {
	Name               string      `yaml:"name"`
	Description        string      `yaml:"description"`
	Overview           string      `yaml:"overview"`
	SystemInstructions string      `yaml:"system_instructions"`
	InitialPrompt      string      `yaml:"initial_prompt"`
	Agents             []AgentSeed `yaml:"agents"`
}

// AgentSeed 一个 Agent 定义
type AgentSeed struct {
	Name           string   `yaml:"name"`
	CapabilityKind string   `yaml:"capability_kind"`
	MediaKind      string   `yaml:"media_kind"`
	Instruction    string   `yaml:"instruction"`
	Description    string   `yaml:"description"`
	Model          string   `yaml:"model"`
	Tools          []string `yaml:"tools"`
	Modules        []string `yaml:"modules"`
	Children       []string `yaml:"children"`
	VoiceName      string   `yaml:"voice_name"`
}

// SeedResult 种子加载统计
type SeedResult struct {
	Scenarios int      `json:"scenarios"`
	Agents    int      `json:"agents"`
	Links     int      `json:"links"`
	Skipped   []string `json:"skipped,omitempty"`
}

// Transactor 在可重试事务中执行函数。internal/database.PoolManager 实现了它。
type Transactor interface {
	WithTransactionRetry(ctx context.Context, maxRetries int, fn database.TransactionFunc) error
}

const seedMaxRetries = 3

// ParseSeed 解析 YAML 种子，未知字段视为错误
func ParseSeed(r io.Reader) (*Seed, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var seed Seed
	if err := dec.Decode(&seed); err != nil {
		if errors.Is(err, io.EOF) {
			return &Seed{}, nil
		}
		return nil, fmt.Errorf("parse seed: %w", err)
	}
	return &seed, nil
}

// LoadSeed 在一个事务中写入种子。已存在同名场景的条目会被跳过，
// 因此重复执行是安全的。
func LoadSeed(ctx context.Context, tx Transactor, seed *Seed, logger *zap.Logger) (*SeedResult, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	var result *SeedResult
	err := tx.WithTransactionRetry(ctx, seedMaxRetries, func(db *gorm.DB) error {
		// 重试时从零开始统计
		result = &SeedResult{}
		for _, sc := range seed.Scenarios {
			var existing int64
			if err := db.Model(&agent.Scenario{}).Where("name = ?", sc.Name).Count(&existing).Error; err != nil {
				return fmt.Errorf("check scenario %q: %w", sc.Name, err)
			}
			if existing > 0 {
				result.Skipped = append(result.Skipped, sc.Name)
				continue
			}
			agents, links, err := seedScenario(db, sc)
			if err != nil {
				return err
			}
			result.Scenarios++
			result.Agents += agents
			result.Links += links
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	logger.Info("seed loaded",
		zap.Int("scenarios", result.Scenarios),
		zap.Int("agents", result.Agents),
		zap.Int("links", result.Links),
		zap.Strings("skipped", result.Skipped),
	)
	return result, nil
}

func seedScenario(db *gorm.DB, sc ScenarioSeed) (agents, links int, err error) {
	if sc.Name == "" {
		return 0, 0, fmt.Errorf("seed scenario: name is required")
	}
	scenario := agent.Scenario{
		Name:               sc.Name,
		Description:        sc.Description,
		Overview:           sc.Overview,
		SystemInstructions: sc.SystemInstructions,
		InitialPrompt:      sc.InitialPrompt,
	}
	if err := db.Create(&scenario).Error; err != nil {
		return 0, 0, fmt.Errorf("create scenario %q: %w", sc.Name, err)
	}

	// 第一遍：创建 Agent 并记录 name → id
	ids := make(map[string]uint, len(sc.Agents))
	records := make([]*agent.AgentRecord, 0, len(sc.Agents))
	for _, a := range sc.Agents {
		if _, dup := ids[a.Name]; dup {
			return 0, 0, fmt.Errorf("%w: %q in scenario %q", agent.ErrDuplicateAgentName, a.Name, sc.Name)
		}
		rec := &agent.AgentRecord{
			ScenarioID:     scenario.ID,
			Name:           a.Name,
			CapabilityKind: a.CapabilityKind,
			MediaKind:      a.MediaKind,
			Instruction:    a.Instruction,
			Description:    a.Description,
			Model:          a.Model,
			Tools:          strings.Join(a.Tools, ","),
			Modules:        strings.Join(a.Modules, ","),
			VoiceName:      a.VoiceName,
		}
		if err := validateRecord(rec); err != nil {
			return 0, 0, fmt.Errorf("seed scenario %q: %w", sc.Name, err)
		}
		if err := db.Create(rec).Error; err != nil {
			return 0, 0, fmt.Errorf("create agent %q: %w", a.Name, err)
		}
		ids[a.Name] = rec.ID
		records = append(records, rec)
	}

	// 第二遍：按名称解析子 Agent，写入 sub_agent_ids 与链接表
	for i, a := range sc.Agents {
		if len(a.Children) == 0 {
			continue
		}
		rec := records[i]
		childIDs := make([]string, 0, len(a.Children))
		linked := make(map[uint]bool, len(a.Children))
		for _, child := range a.Children {
			cid, ok := ids[child]
			if !ok {
				return 0, 0, fmt.Errorf("%w: %q references unknown agent %q in scenario %q",
					agent.ErrInvalidChildReference, a.Name, child, sc.Name)
			}
			childIDs = append(childIDs, strconv.FormatUint(uint64(cid), 10))
			if linked[cid] {
				continue
			}
			linked[cid] = true
			if err := db.Create(&agent.SubAgentLink{RootAgentID: rec.ID, SubAgentID: cid}).Error; err != nil {
				return 0, 0, fmt.Errorf("link %q -> %q: %w", a.Name, child, err)
			}
			links++
		}
		if err := db.Model(rec).Update("sub_agent_ids", strings.Join(childIDs, ",")).Error; err != nil {
			return 0, 0, fmt.Errorf("set children of %q: %w", a.Name, err)
		}
	}
	return len(records), links, nil
}
