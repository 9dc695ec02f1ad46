package model

import "time"

// StreamEvent 是网关转发给前端UI的单个SSE事件
type StreamEvent struct {
	Type      string `json:"type"` // message, status, buffer, complete
	MessageID string `json:"message_id,omitempty"`
	Content   string `json:"content,omitempty"`
	Role      string `json:"role,omitempty"`
	BufferKey string `json:"buffer_key,omitempty"` // 片段被路由到外部缓冲区时设置
	Timestamp int64  `json:"timestamp"`
}

// MessageResponse 是消息读取接口返回的渲染视图
// Content已是展示文本，不携带权威内容与展示内容的区分
type MessageResponse struct {
	ID               string    `json:"id"`
	Role             string    `json:"role"`
	Content          string    `json:"content"`
	IsStreaming      bool      `json:"is_streaming"`
	AttachedLink     string    `json:"attached_link,omitempty"`
	AttachedLinkKind string    `json:"attached_link_kind,omitempty"`
	Timestamp        time.Time `json:"timestamp"`
}

// NewMessageResponse 从存储中的消息构造渲染视图
func NewMessageResponse(m Message) MessageResponse {
	return MessageResponse{
		ID:               m.ID,
		Role:             m.Role,
		Content:          m.DisplayText(),
		IsStreaming:      m.IsStreaming,
		AttachedLink:     m.AttachedLink,
		AttachedLinkKind: m.AttachedLinkKind,
		Timestamp:        m.Timestamp,
	}
}

type TaskResponse struct {
	TaskID     string                 `json:"task_id"`
	TaskType   string                 `json:"task_type"`
	Status     string                 `json:"status"`
	Current    int                    `json:"current"`
	Total      int                    `json:"total"`
	Percentage int                    `json:"percentage"`
	CustomData map[string]interface{} `json:"custom_data,omitempty"`
	UpdatedAt  time.Time              `json:"updated_at"`
}

// NewTaskResponse 从内部任务状态构造响应
func NewTaskResponse(t *Task) TaskResponse {
	return TaskResponse{
		TaskID:     t.TaskID,
		TaskType:   t.TaskType,
		Status:     t.Status,
		Current:    t.Progress.Current,
		Total:      t.Progress.Total,
		Percentage: t.Progress.Percentage(),
		CustomData: t.CustomData,
		UpdatedAt:  t.UpdatedAt,
	}
}

type PushStatusResponse struct {
	Connected bool   `json:"connected"`
	LastError string `json:"last_error,omitempty"`
}
