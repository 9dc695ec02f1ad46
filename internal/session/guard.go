package session

import "sync/atomic"

// Guard 防止会话失效的副作用被重复执行（多个并发请求同时收到401时
// 只有第一个能执行登出和跳转）
type Guard struct {
	claimed atomic.Bool
}

func NewGuard() *Guard {
	return &Guard{}
}

// Claim 原子地占用一次性执行权，只有第一次调用返回true
func (g *Guard) Claim() bool {
	return g.claimed.CompareAndSwap(false, true)
}

// Claimed 返回是否已被占用
func (g *Guard) Claimed() bool {
	return g.claimed.Load()
}

// Reset 释放占用（重新登录后恢复）
func (g *Guard) Reset() {
	g.claimed.Store(false)
}
