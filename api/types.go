package api

import (
	"time"

	"github.com/rehearsed/rehearsed/agent"
)

// =============================================================================
// 🎙️ Agent 请求类型
// =============================================================================

// StartSessionRequest 打开（或复用）一个会话
type StartSessionRequest struct {
	UserID    string `json:"user_id" example:"u-1"`
	SessionID string `json:"session_id" example:"s-1"`
}

// SessionAck start-session 与 session/create 的确认
type SessionAck struct {
	UserID    string    `json:"user_id"`
	SessionID string    `json:"session_id"`
	Events    int       `json:"events"`
	UpdatedAt time.Time `json:"updated_at"`
}

// AgentRequest 一次文本轮次。multipart 形式使用相同字段名，并可附带
// audio / image 文件。
type AgentRequest struct {
	AgentName   string `json:"agent_name,omitempty" example:"teacher"`
	Message     string `json:"message" example:"Good morning class"`
	UserID      string `json:"user_id"`
	SessionID   string `json:"session_id"`
	ReturnAudio bool   `json:"return_audio,omitempty"`
}

// FeedbackRequest 请求对当前会话的反馈
type FeedbackRequest struct {
	AgentName string `json:"agent_name,omitempty"`
	Message   string `json:"message"`
	UserID    string `json:"user_id"`
	SessionID string `json:"session_id"`
}

// AgentReply 一轮的 HTTP 响应
type AgentReply struct {
	Text         string  `json:"text"`
	Audio        string  `json:"audio,omitempty"` // base64
	Transcript   string  `json:"transcript,omitempty"`
	MarkdownText *string `json:"markdownText,omitempty"`
	Author       *string `json:"author,omitempty"`
}

// NewAgentReply 从调度结果构造响应
func NewAgentReply(resp *agent.AgentResponse) AgentReply {
	return AgentReply{
		Text:         resp.AgentResponseText,
		MarkdownText: resp.MarkdownText,
		Author:       resp.Author,
	}
}

// =============================================================================
// 🎬 场景与会话
// =============================================================================

// SetScenarioRequest 切换当前场景
type SetScenarioRequest struct {
	ScenarioID uint `json:"scenario_id" example:"1"`
}

// CreateSessionRequest 新建会话。SessionID 为空时由服务端生成。
type CreateSessionRequest struct {
	UserID    string `json:"user_id"`
	SessionID string `json:"session_id,omitempty"`
}

// SessionInfo 会话列表项
type SessionInfo struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// =============================================================================
// 🛠️ 管理端类型
// =============================================================================

// AgentRecordInput 创建或更新 Agent 记录的请求体
type AgentRecordInput struct {
	ScenarioID     uint   `json:"scenario_id"`
	Name           string `json:"name"`
	CapabilityKind string `json:"capability_kind"`
	MediaKind      string `json:"media_kind"`
	Instruction    string `json:"instruction"`
	Description    string `json:"description"`
	Model          string `json:"model"`
	Tools          string `json:"tools"`
	Modules        string `json:"modules"`
	SubAgentIDs    string `json:"sub_agent_ids"`
	VoiceName      string `json:"voice_name"`
}

// Record 转换为存储模型
func (in AgentRecordInput) Record() *agent.AgentRecord {
	return &agent.AgentRecord{
		ScenarioID:     in.ScenarioID,
		Name:           in.Name,
		CapabilityKind: in.CapabilityKind,
		MediaKind:      in.MediaKind,
		Instruction:    in.Instruction,
		Description:    in.Description,
		Model:          in.Model,
		Tools:          in.Tools,
		Modules:        in.Modules,
		SubAgentIDs:    in.SubAgentIDs,
		VoiceName:      in.VoiceName,
	}
}

// ScenarioInput 创建或更新场景的请求体
type ScenarioInput struct {
	Name               string `json:"name"`
	Description        string `json:"description"`
	Overview           string `json:"overview"`
	SystemInstructions string `json:"system_instructions"`
	InitialPrompt      string `json:"initial_prompt"`
}

// Scenario 转换为存储模型
func (in ScenarioInput) Scenario() *agent.Scenario {
	return &agent.Scenario{
		Name:               in.Name,
		Description:        in.Description,
		Overview:           in.Overview,
		SystemInstructions: in.SystemInstructions,
		InitialPrompt:      in.InitialPrompt,
	}
}

// LinkInput 创建子 Agent 链接的请求体
type LinkInput struct {
	RootAgentID uint `json:"root_agent_id"`
	SubAgentID  uint `json:"sub_agent_id"`
}
