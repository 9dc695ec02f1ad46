package bufferbridge

import (
	"errors"
	"sync"

	"adflow-gateway/internal/storage"
	"adflow-gateway/pkg/logger"
)

// Bridge 是流式写入方与外部消费者（编辑器视图）之间共享的追加式缓冲区
// 写入只做追加；读取方可能在任意时刻看到部分内容，这是约定的一致性级别
// 新的路由会话指向同一key时先清空旧内容，避免上一次会话的残留被混入
type Bridge struct {
	store      storage.BufferStore
	mu         sync.RWMutex
	onFinalize []func(key string)
	watchers   map[int]chan string
	nextWatch  int
}

func New(store storage.BufferStore) *Bridge {
	return &Bridge{
		store:    store,
		watchers: make(map[int]chan string),
	}
}

// BeginSession 清空key下的陈旧内容，开始一次新的路由会话
func (b *Bridge) BeginSession(key string) {
	if err := b.store.Clear(key); err != nil && !errors.Is(err, storage.ErrBufferNotFound) {
		logger.Warnf("Failed to reset buffer %s: %v", key, err)
	}
}

// Append 向缓冲区追加一个内容片段
func (b *Bridge) Append(key, text string) {
	if err := b.store.Append(key, text); err != nil {
		logger.Errorf("Failed to append to buffer %s: %v", key, err)
		return
	}
	b.notifyChange(key)
}

// Read 返回缓冲区当前已累积的内容
func (b *Bridge) Read(key string) (string, error) {
	return b.store.Read(key)
}

// Keys 返回当前存在的缓冲区key列表
func (b *Bridge) Keys() ([]string, error) {
	return b.store.Keys()
}

// OnFinalize 注册缓冲区定稿通知（STREAM_END且目的地是缓冲区时触发）
func (b *Bridge) OnFinalize(fn func(key string)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onFinalize = append(b.onFinalize, fn)
}

// Finalize 宣告一个缓冲区的本轮写入已经结束
func (b *Bridge) Finalize(key string) {
	b.mu.RLock()
	callbacks := make([]func(string), len(b.onFinalize))
	copy(callbacks, b.onFinalize)
	b.mu.RUnlock()

	for _, fn := range callbacks {
		fn(key)
	}
}

// SubscribeChanges 订阅缓冲区变更通知，返回通知通道和取消函数
// 消费方落后时通知被丢弃，重新读取总能拿到最新内容
func (b *Bridge) SubscribeChanges() (<-chan string, func()) {
	b.mu.Lock()
	b.nextWatch++
	id := b.nextWatch
	ch := make(chan string, 16)
	b.watchers[id] = ch
	b.mu.Unlock()

	return ch, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if ch, exists := b.watchers[id]; exists {
			delete(b.watchers, id)
			close(ch)
		}
	}
}

// StartWatch 把底层存储的文件变更接入变更通知
// 同机的外部进程直接改写缓冲区文件时订阅方同样能收到；
// 存储不支持监听时只有经Bridge的写入会产生通知
func (b *Bridge) StartWatch() error {
	watchable, ok := b.store.(storage.Watchable)
	if !ok {
		return nil
	}

	events, err := watchable.Watch()
	if err != nil {
		return err
	}

	go func() {
		for key := range events {
			b.notifyChange(key)
		}
	}()
	return nil
}

// 同一次写入经Append和文件监听可能各产生一次通知，
// 订阅方按key重新读取，重复通知无害
func (b *Bridge) notifyChange(key string) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.watchers {
		select {
		case ch <- key:
		default:
		}
	}
}
