package stream

import (
	"strings"
	"sync"

	"adflow-gateway/pkg/logger"
)

// Sink 接收路由器产生的内容写入和标记副作用
// 由聊天服务实现，路由器本身不感知会话存储和缓冲区的具体形态
type Sink interface {
	AppendConversation(text string)
	AppendBuffer(key, text string)
	ResetBuffer(key string)
	CacheExternalRecord(id, key, title string)
	ScheduleEditorRedirect(key string)
	MarkStreamStarted()
	MarkStreamEnded(bufferKey string) // bufferKey为空表示结束时目的地是会话
}

// RoutingDecision 描述一个内容片段应写入的唯一目的地
type RoutingDecision struct {
	ToConversation bool
	BufferKey      string
	Text           string
}

// Router 跟踪当前目的地（会话 或 命名外部缓冲区）的状态机
// 状态只会被识别到的控制标记改变，未识别的标记不影响状态
type Router struct {
	mu        sync.RWMutex
	bufferKey string // 为空表示目的地是会话
	streaming bool
	sink      Sink
}

func NewRouter(sink Sink) *Router {
	return &Router{sink: sink}
}

// Destination 返回当前目的地的缓冲区key，空串表示会话
func (r *Router) Destination() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.bufferKey
}

func (r *Router) IsStreaming() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.streaming
}

// Route 根据当前状态决定片段的唯一去向，不产生副作用
func (r *Router) Route(fragment string) RoutingDecision {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.bufferKey != "" {
		return RoutingDecision{BufferKey: r.bufferKey, Text: fragment}
	}
	return RoutingDecision{ToConversation: true, Text: fragment}
}

// HandleControlMarker 处理一个已解析的控制标记，可能改变状态并触发副作用
// 返回false表示标记未被识别（状态保持不变）
func (r *Router) HandleControlMarker(name, payload string) bool {
	switch name {
	case MarkerCacheExternalRecord:
		// 载荷格式 id:key:title，title中允许出现冒号
		parts := strings.SplitN(payload, ":", 3)
		if len(parts) < 3 {
			logger.Warnf("CACHE_EXTERNAL_RECORD 载荷不完整: %q", payload)
			return true
		}
		r.sink.CacheExternalRecord(parts[0], parts[1], parts[2])
		return true

	case MarkerRedirectToEditor:
		r.sink.ScheduleEditorRedirect(payload)
		return true

	case MarkerTargetBuffer:
		// 先清空同key的陈旧内容，再切换目的地
		r.sink.ResetBuffer(payload)
		r.mu.Lock()
		r.bufferKey = payload
		r.mu.Unlock()
		return true

	case MarkerStreamStart:
		r.mu.Lock()
		r.streaming = true
		r.mu.Unlock()
		r.sink.MarkStreamStarted()
		return true

	case MarkerStreamEnd:
		r.mu.Lock()
		key := r.bufferKey
		r.streaming = false
		r.mu.Unlock()
		r.sink.MarkStreamEnded(key)
		return true

	case MarkerReturnToConversation:
		r.mu.Lock()
		r.bufferKey = ""
		r.mu.Unlock()
		return true
	}

	return false
}

// Consume 处理一个内容片段：标记片段走控制路径，其余按当前目的地写入
func (r *Router) Consume(fragment string) {
	if name, payload, ok := ParseMarker(fragment); ok {
		if r.HandleControlMarker(name, payload) {
			return
		}
		// 未识别的标记按普通文本处理，状态不变
	}

	decision := r.Route(fragment)
	if decision.ToConversation {
		r.sink.AppendConversation(decision.Text)
	} else {
		r.sink.AppendBuffer(decision.BufferKey, decision.Text)
	}
}

// Reset 把目的地重置为会话，在流完成、出错或会话清空时调用
func (r *Router) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bufferKey = ""
	r.streaming = false
}
