package model

import "time"

// 后台任务类型（固定枚举）
const (
	TaskLeadDiscovery     = "lead_discovery"
	TaskContentGeneration = "content_generation"
	TaskEmailCampaign     = "email_campaign"
	TaskSocialPost        = "social_post"
	TaskAudienceSync      = "audience_sync"
)

// 任务状态
const (
	TaskStatusPending    = "pending"
	TaskStatusInProgress = "in_progress"
	TaskStatusCompleted  = "completed"
	TaskStatusFailed     = "failed"
)

// 推送事件类型
const (
	TaskEventStarted   = "started"
	TaskEventProgress  = "progress"
	TaskEventCompleted = "completed"
	TaskEventFailed    = "failed"
)

type TaskProgress struct {
	Current int `json:"current"`
	Total   int `json:"total"`
}

// Percentage 计算进度百分比，total为0时返回0
func (p TaskProgress) Percentage() int {
	if p.Total <= 0 {
		return 0
	}
	return p.Current * 100 / p.Total
}

// Task 表示某一任务类型最新已知的后台任务状态
// 同一任务类型同时只跟踪一个活跃任务，新任务覆盖旧任务
type Task struct {
	TaskID     string                 `json:"task_id"`
	TaskType   string                 `json:"task_type"`
	Status     string                 `json:"status"`
	Progress   TaskProgress           `json:"progress"`
	CustomData map[string]interface{} `json:"custom_data,omitempty"`
	UpdatedAt  time.Time              `json:"updated_at"`
}

// TaskEvent 是从推送信号解析出的单个任务事件
type TaskEvent struct {
	TaskType   string
	TaskID     string
	EventType  string
	Current    int
	Total      int
	CustomData map[string]interface{}
}

// ValidTaskEventType 校验推送事件类型是否合法
func ValidTaskEventType(eventType string) bool {
	switch eventType {
	case TaskEventStarted, TaskEventProgress, TaskEventCompleted, TaskEventFailed:
		return true
	}
	return false
}
