package agent

import (
	"errors"

	"github.com/rehearsed/rehearsed/agent/capability"
)

var (
	// ErrAgentNotFound 注册表中不存在该名称的 Agent
	ErrAgentNotFound = errors.New("agent not found")

	// ErrInvalidCapabilityKind capability_kind 不是 llm/sequential/parallel
	ErrInvalidCapabilityKind = errors.New("invalid capability kind")

	// ErrInvalidChildReference child_ids 无法解析或引用了场景外的记录
	ErrInvalidChildReference = errors.New("invalid child reference")

	// ErrAgentCycle child_ids 直接或间接引用了自身
	ErrAgentCycle = errors.New("agent graph contains a cycle")

	// ErrDuplicateAgentName 同一场景内出现重名 Agent
	ErrDuplicateAgentName = errors.New("duplicate agent name")

	// ErrNoActiveScenario 尚未选择场景
	ErrNoActiveScenario = errors.New("no active scenario")

	// ErrCapabilityNotFound 工具或模块未注册
	ErrCapabilityNotFound = capability.ErrCapabilityNotFound

	// ErrCapabilityPairing tools 与 modules 数量不一致
	ErrCapabilityPairing = capability.ErrCapabilityPairing
)
