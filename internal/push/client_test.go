package push

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// captureTimers 记录计划的重连延迟，不实际触发
type captureTimers struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (c *captureTimers) afterFunc(d time.Duration, fn func()) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.delays = append(c.delays, d)
	return func() {}
}

func newTestClient(t *testing.T) (*Client, *captureTimers) {
	t.Helper()
	timers := &captureTimers{}
	c := NewClient("http://backend.local/api/tasks/events", "token-1", nil)
	c.afterFunc = timers.afterFunc
	return c, timers
}

// 重连退避单调性：1s, 2s, 4s, ... 封顶30s；一次成功后回到1s
func TestClientBackoffMonotonicity(t *testing.T) {
	c, timers := newTestClient(t)

	for i := 0; i < 8; i++ {
		c.onDisconnect(errors.New("connection refused"))
	}

	expected := []time.Duration{
		1 * time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second,
		16 * time.Second, 30 * time.Second, 30 * time.Second, 30 * time.Second,
	}
	assert.Equal(t, expected, timers.delays)

	// 成功连接把尝试计数归零，下一次失败重新从1s开始
	c.handleMessage(Message{Type: MessageConnected})
	require.True(t, c.IsConnected())

	c.onDisconnect(errors.New("dropped"))
	assert.Equal(t, 1*time.Second, timers.delays[len(timers.delays)-1])
}

func TestClientConnectedMessageClearsError(t *testing.T) {
	c, _ := newTestClient(t)

	c.onDisconnect(errors.New("boom"))
	assert.False(t, c.IsConnected())
	assert.Error(t, c.LastError())

	c.handleMessage(Message{Type: MessageConnected})
	assert.True(t, c.IsConnected())
	assert.NoError(t, c.LastError())
}

func TestClientProgressMessageForwarded(t *testing.T) {
	var got []string
	c := NewClient("http://backend.local/events", "tok", func(msg Message) {
		got = append(got, msg.Signal)
	})

	c.handleMessage(Message{Type: MessageProgress, Signal: "sig-1"})
	c.handleMessage(Message{Type: "unknown"})
	c.handleMessage(Message{Type: MessageProgress, Signal: "sig-2"})

	assert.Equal(t, []string{"sig-1", "sig-2"}, got)
}

// 没有凭证时Connect是no-op，不是错误状态
func TestClientNoCredentialNoConnect(t *testing.T) {
	c := NewClient("http://backend.local/events", "", nil)
	c.Connect()

	assert.False(t, c.IsConnected())
	assert.NoError(t, c.LastError())
}

// 关闭后不再安排重连
func TestClientCloseStopsReconnect(t *testing.T) {
	c, timers := newTestClient(t)

	c.Close()
	c.onDisconnect(errors.New("late error"))

	assert.Empty(t, timers.delays)
	assert.False(t, c.IsConnected())
}

func TestClientBuildURLAppendsToken(t *testing.T) {
	c := NewClient("http://backend.local/api/tasks/events?v=2", "secret", nil)

	u, err := c.buildURL()
	require.NoError(t, err)
	assert.Contains(t, u, "token=secret")
	assert.Contains(t, u, "v=2")
}
