package model

type ChatRequest struct {
	Message          string `json:"message" binding:"required"`
	AttachedLink     string `json:"attached_link"`
	AttachedLinkKind string `json:"attached_link_kind"`
}

// TriggerRequest 对应外部触发的生成请求（如回复生成按钮）
// 通过事件总线转发给聊天服务，避免直接耦合
type TriggerRequest struct {
	Content          string `json:"content" binding:"required"`
	AttachedLink     string `json:"attached_link"`
	AttachedLinkKind string `json:"attached_link_kind"`
	IsGeneratedReply bool   `json:"is_generated_reply"`
	AIGeneratedReply string `json:"ai_generated_reply"`
}
