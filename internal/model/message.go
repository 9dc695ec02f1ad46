package model

import "time"

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

type Message struct {
	ID               string    `json:"id"`
	Role             string    `json:"role"`
	Content          string    `json:"content"`                      // 权威的完整内容（可能包含不用于展示的前缀）
	DisplayContent   string    `json:"display_content,omitempty"`    // 展示内容，与Content不同时才设置
	IsStreaming      bool      `json:"is_streaming"`                 // 仍在接收片段时为true
	AttachedLink     string    `json:"attached_link,omitempty"`      // 关联的外部记录（如回复目标）
	AttachedLinkKind string    `json:"attached_link_kind,omitempty"` // 关联记录类型
	Timestamp        time.Time `json:"timestamp"`
}

// DisplayText 返回用于渲染的文本：优先DisplayContent，否则返回Content
func (m *Message) DisplayText() string {
	if m.DisplayContent != "" {
		return m.DisplayContent
	}
	return m.Content
}
