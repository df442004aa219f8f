package agent

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rehearsed/rehearsed/agent/capability"
	"github.com/rehearsed/rehearsed/engine"
)

// CapabilityKind values stored on AgentRecord.
const (
	CapabilityLLM        = "llm"
	CapabilitySequential = "sequential"
	CapabilityParallel   = "parallel"
)

// MediaKind values stored on AgentRecord.
const (
	MediaNone = "none"
	MediaText = "text"
)

// =============================================================================
// 🗄️ Persisted records
// =============================================================================

// AgentRecord is one agent definition, scoped by scenario. Names are unique
// per scenario.
type AgentRecord struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	ScenarioID     uint      `gorm:"not null;uniqueIndex:idx_agent_scenario_name" json:"scenario_id"`
	Name           string    `gorm:"size:100;not null;uniqueIndex:idx_agent_scenario_name" json:"name"`
	CapabilityKind string    `gorm:"size:20;not null;default:llm" json:"capability_kind"`
	MediaKind      string    `gorm:"size:20;not null;default:none" json:"media_kind"`
	Instruction    string    `gorm:"type:text" json:"instruction"`
	Description    string    `gorm:"type:text" json:"description"`
	Model          string    `gorm:"size:100" json:"model"`
	Tools          string    `gorm:"type:text" json:"tools"`         // 逗号分隔的工具名
	Modules        string    `gorm:"type:text" json:"modules"`       // 逗号分隔的模块名，与 Tools 按位置配对
	SubAgentIDs    string    `gorm:"type:text" json:"sub_agent_ids"` // 逗号分隔的子 Agent ID
	VoiceName      string    `gorm:"size:50" json:"voice_name"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

func (AgentRecord) TableName() string {
	return "agent_records"
}

// ToolNames returns the declared tools, trimmed, empties dropped.
func (r AgentRecord) ToolNames() []string {
	return capability.SplitList(r.Tools)
}

// ModuleNames returns the declared modules, trimmed, empties dropped.
func (r AgentRecord) ModuleNames() []string {
	return capability.SplitList(r.Modules)
}

// ChildIDs parses SubAgentIDs in declared order.
func (r AgentRecord) ChildIDs() ([]uint, error) {
	parts := capability.SplitList(r.SubAgentIDs)
	ids := make([]uint, 0, len(parts))
	for _, p := range parts {
		id, err := strconv.ParseUint(p, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: agent %q child id %q", ErrInvalidChildReference, r.Name, p)
		}
		ids = append(ids, uint(id))
	}
	return ids, nil
}

// Kind maps the stored capability kind onto an engine node kind.
func (r AgentRecord) Kind() (engine.Kind, error) {
	switch strings.ToLower(strings.TrimSpace(r.CapabilityKind)) {
	case CapabilityLLM:
		return engine.KindLLM, nil
	case CapabilitySequential:
		return engine.KindSequential, nil
	case CapabilityParallel:
		return engine.KindParallel, nil
	default:
		return "", fmt.Errorf("%w: %q on agent %q", ErrInvalidCapabilityKind, r.CapabilityKind, r.Name)
	}
}

// SubAgentLink is the flat parent/child table used for reverse lookups.
type SubAgentLink struct {
	RootAgentID uint `gorm:"primaryKey;autoIncrement:false" json:"root_agent_id"`
	SubAgentID  uint `gorm:"primaryKey;autoIncrement:false;index" json:"sub_agent_id"`
}

func (SubAgentLink) TableName() string {
	return "sub_agent_links"
}

// Scenario is a named bundle of agents for one teaching context.
type Scenario struct {
	ID                 uint      `gorm:"primaryKey" json:"id"`
	Name               string    `gorm:"size:200;not null" json:"name"`
	Description        string    `gorm:"type:text" json:"description"`
	Overview           string    `gorm:"type:text" json:"overview"`
	SystemInstructions string    `gorm:"type:text" json:"system_instructions"`
	InitialPrompt      string    `gorm:"type:text" json:"initial_prompt"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

func (Scenario) TableName() string {
	return "scenarios"
}

// =============================================================================
// 📦 In-memory projections
// =============================================================================

// RegistryEntry pairs a record with the graph built from it. Entries are
// read-only once published.
type RegistryEntry struct {
	Record AgentRecord
	Node   *engine.Node
}

// AgentResponse is the reduced result of one dispatched turn.
type AgentResponse struct {
	AgentResponseText string  `json:"agentResponseText"`
	MarkdownText      *string `json:"markdownText,omitempty"`
	Author            *string `json:"author,omitempty"`
}
