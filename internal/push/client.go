package push

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"adflow-gateway/internal/utils"
	"adflow-gateway/pkg/logger"
)

// 推送消息类型
const (
	MessageConnected = "connected"
	MessageProgress  = "progress"
	MessageError     = "error"
)

// Message 是推送通道下发的单条JSON消息
type Message struct {
	Type    string `json:"type"`
	Signal  string `json:"signal,omitempty"`
	Message string `json:"message,omitempty"`
}

// 重连退避参数：1s起步，每次翻倍，30s封顶，连接成功后归零
const (
	InitialBackoff = 1 * time.Second
	MaxBackoff     = 30 * time.Second
)

// Client 管理到后端推送通道的持久连接
// 状态机: Disconnected -> Connecting -> Connected -> (出错断开) -> 退避后重连
type Client struct {
	endpoint string
	token    string

	mu         sync.Mutex
	connected  bool
	lastErr    error
	attempts   int
	cancel     context.CancelFunc
	stopTimer  func() // 至多一个待触发的重连定时器
	closed     bool
	httpClient *http.Client
	onMessage  func(Message)

	// 可注入定时器，便于测试退避序列
	afterFunc func(d time.Duration, fn func()) func()
}

func NewClient(endpoint, token string, onMessage func(Message)) *Client {
	return &Client{
		endpoint:   endpoint,
		token:      token,
		onMessage:  onMessage,
		httpClient: utils.NewHTTPClient(0), // 长连接不设整体超时
		afterFunc: func(d time.Duration, fn func()) func() {
			t := time.AfterFunc(d, fn)
			return func() { t.Stop() }
		},
	}
}

// Connect 发起连接。没有凭证时不做任何事（不视为错误）
func (c *Client) Connect() {
	if c.token == "" {
		logger.Debug("Push channel: no credential, skip connect")
		return
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	if c.cancel != nil {
		c.cancel()
	}
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.mu.Unlock()

	go c.run(ctx)
}

func (c *Client) run(ctx context.Context) {
	streamURL, err := c.buildURL()
	if err != nil {
		c.onDisconnect(fmt.Errorf("invalid push endpoint: %w", err))
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, streamURL, nil)
	if err != nil {
		c.onDisconnect(err)
		return
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// 底层传输无论是已关闭还是仍在连接中失败，都走同一条重连路径
		c.onDisconnect(err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.onDisconnect(fmt.Errorf("push channel returned status %d", resp.StatusCode))
		return
	}

	reader := bufio.NewReader(resp.Body)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		line, err := reader.ReadString('\n')
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.onDisconnect(fmt.Errorf("push channel read: %w", err))
			return
		}

		data := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(line), "data:"))
		if data == "" {
			continue
		}

		var msg Message
		if err := json.Unmarshal([]byte(data), &msg); err != nil {
			logger.Warnf("Push channel: dropping unparsable message: %v", err)
			continue
		}

		c.handleMessage(msg)
	}
}

func (c *Client) buildURL() (string, error) {
	u, err := url.Parse(c.endpoint)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("token", c.token)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (c *Client) handleMessage(msg Message) {
	switch msg.Type {
	case MessageConnected:
		c.mu.Lock()
		c.connected = true
		c.lastErr = nil
		c.attempts = 0
		c.mu.Unlock()
		logger.Info("Push channel connected")

	case MessageProgress:
		if c.onMessage != nil {
			c.onMessage(msg)
		}

	case MessageError:
		logger.Warnf("Push channel server error: %s", msg.Message)

	default:
		logger.Debugf("Push channel: ignoring message type %q", msg.Type)
	}
}

// onDisconnect 记录错误并安排一次退避重连
func (c *Client) onDisconnect(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.connected = false
	c.lastErr = err
	if c.closed {
		return
	}

	delay := c.nextBackoffLocked()
	logger.Warnf("Push channel disconnected: %v, reconnecting in %v", err, delay)

	// 新的重连安排取代未触发的旧定时器
	if c.stopTimer != nil {
		c.stopTimer()
	}
	c.stopTimer = c.afterFunc(delay, func() {
		c.mu.Lock()
		c.stopTimer = nil
		c.mu.Unlock()
		c.Connect()
	})
}

// nextBackoffLocked 计算下一次重连延迟: 1s, 2s, 4s, ... 封顶30s
func (c *Client) nextBackoffLocked() time.Duration {
	delay := InitialBackoff << c.attempts
	if delay > MaxBackoff || delay <= 0 {
		delay = MaxBackoff
	}
	c.attempts++
	return delay
}

// IsConnected 返回连接健康状态
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// LastError 返回最近一次连接错误（非阻塞的状态标志，供UI可选展示）
func (c *Client) LastError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// Close 关闭连接并清理待触发的重连定时器，组件卸载时必须调用
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.closed = true
	c.connected = false
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	if c.stopTimer != nil {
		c.stopTimer()
		c.stopTimer = nil
	}
}
