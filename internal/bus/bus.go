package bus

import (
	"sync"

	"adflow-gateway/internal/model"
)

// Bus 是进程内的发布订阅总线，作为组件间信号的唯一正式通道
// 外部触发器（回复生成入口）通过它发起新的会话轮次而不直接依赖聊天服务
type Bus struct {
	mu             sync.RWMutex
	chatSubs       []func(model.TriggerRequest)
	navSubs        []func(key string)
	finalizeSubs   []func(key string)
	sessionExpSubs []func()
}

func New() *Bus {
	return &Bus{}
}

// SubscribeChatTrigger 订阅外部发起的会话轮次请求
func (b *Bus) SubscribeChatTrigger(fn func(model.TriggerRequest)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.chatSubs = append(b.chatSubs, fn)
}

func (b *Bus) PublishChatTrigger(req model.TriggerRequest) {
	b.mu.RLock()
	subs := make([]func(model.TriggerRequest), len(b.chatSubs))
	copy(subs, b.chatSubs)
	b.mu.RUnlock()

	for _, fn := range subs {
		fn(req)
	}
}

// SubscribeNavigation 订阅编辑器跳转信号（REDIRECT_TO_EDITOR标记产生）
func (b *Bus) SubscribeNavigation(fn func(key string)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.navSubs = append(b.navSubs, fn)
}

func (b *Bus) PublishNavigation(key string) {
	b.mu.RLock()
	subs := make([]func(string), len(b.navSubs))
	copy(subs, b.navSubs)
	b.mu.RUnlock()

	for _, fn := range subs {
		fn(key)
	}
}

// SubscribeBufferFinalized 订阅缓冲区定稿通知
func (b *Bus) SubscribeBufferFinalized(fn func(key string)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.finalizeSubs = append(b.finalizeSubs, fn)
}

func (b *Bus) PublishBufferFinalized(key string) {
	b.mu.RLock()
	subs := make([]func(string), len(b.finalizeSubs))
	copy(subs, b.finalizeSubs)
	b.mu.RUnlock()

	for _, fn := range subs {
		fn(key)
	}
}

// SubscribeSessionExpired 订阅会话失效信号（认证失败触发，全局只发一次）
func (b *Bus) SubscribeSessionExpired(fn func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sessionExpSubs = append(b.sessionExpSubs, fn)
}

func (b *Bus) PublishSessionExpired() {
	b.mu.RLock()
	subs := make([]func(), len(b.sessionExpSubs))
	copy(subs, b.sessionExpSubs)
	b.mu.RUnlock()

	for _, fn := range subs {
		fn()
	}
}
