package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"adflow-gateway/internal/bufferbridge"
	"adflow-gateway/internal/bus"
	"adflow-gateway/internal/cache"
	"adflow-gateway/internal/config"
	"adflow-gateway/internal/conversation"
	"adflow-gateway/internal/model"
	"adflow-gateway/internal/session"
	"adflow-gateway/internal/stream"
	"adflow-gateway/internal/task"
	"adflow-gateway/internal/utils"
	"adflow-gateway/pkg/logger"

	"github.com/google/uuid"
)

// 固定的用户可见文案
const (
	GeneratingLabel = "正在生成内容..."
	SuccessLabel    = "内容已生成完成 ✅"
	ApologyMessage  = "抱歉，生成回复时出现了问题，请稍后重试。"
)

// 编辑器跳转前的短暂延迟，等待状态落定
const editorRedirectDelay = 300 * time.Millisecond

const historyTailSize = 6

// ChatService 串联流式生成的完整链路：
// 打开后端流 -> 摄取信封 -> 路由器分发 -> 会话存储/外部缓冲区，
// 同时把会话可见的事件转发给前端UI
type ChatService struct {
	cfg      *config.Config
	store    *conversation.Store
	router   *stream.Router
	bridge   *bufferbridge.Bridge
	registry *task.Registry
	cache    *cache.Cache
	bus      *bus.Bus
	guard    *session.Guard

	httpClient *http.Client

	mu        sync.Mutex
	activeID  string // 当前streaming占位消息的ID
	turnEmit  func(model.StreamEvent)
	afterFunc func(d time.Duration, fn func()) func()
}

func NewChatService(
	cfg *config.Config,
	store *conversation.Store,
	bridge *bufferbridge.Bridge,
	registry *task.Registry,
	readCache *cache.Cache,
	eventBus *bus.Bus,
	guard *session.Guard,
) *ChatService {
	s := &ChatService{
		cfg:        cfg,
		store:      store,
		bridge:     bridge,
		registry:   registry,
		cache:      readCache,
		bus:        eventBus,
		guard:      guard,
		httpClient: utils.NewHTTPClient(cfg.Backend.Timeout),
		afterFunc: func(d time.Duration, fn func()) func() {
			t := time.AfterFunc(d, fn)
			return func() { t.Stop() }
		},
	}
	s.router = stream.NewRouter(s)

	// 会话清空时路由器复位到会话目的地
	store.OnClear(s.router.Reset)

	// 外部触发（回复生成按钮等）经总线发起新的会话轮次
	eventBus.SubscribeChatTrigger(func(req model.TriggerRequest) {
		go s.runTriggeredTurn(req)
	})

	return s
}

// Router 暴露路由器（供测试和状态投影用）
func (s *ChatService) Router() *stream.Router {
	return s.router
}

// Store 返回会话存储
func (s *ChatService) Store() *conversation.Store {
	return s.store
}

// StreamChat 执行一轮流式会话
// 返回会话可见事件通道和错误通道，两者都会在轮次结束时关闭
func (s *ChatService) StreamChat(ctx context.Context, req model.ChatRequest) (<-chan model.StreamEvent, <-chan error) {
	eventChan := make(chan model.StreamEvent, 100)
	errChan := make(chan error, 1)

	go func() {
		defer close(eventChan)
		defer close(errChan)

		s.store.CreateUserMessage(req.Message, req.AttachedLink, req.AttachedLinkKind)
		msgID := s.store.CreateAssistantPlaceholder(req.AttachedLink, req.AttachedLinkKind)

		s.beginTurn(msgID, func(ev model.StreamEvent) {
			select {
			case eventChan <- ev:
			case <-ctx.Done():
			}
		})
		defer s.endTurn()

		if err := s.runStream(ctx, req, msgID); err != nil {
			s.failTurn(msgID)
			errChan <- err
			return
		}

		// 正常完成：终结消息、路由器复位
		s.store.UpdateMessage(msgID, func(m *model.Message) {
			m.IsStreaming = false
		})
		s.router.Reset()

		final, _ := s.store.GetMessage(msgID)
		s.emit(model.StreamEvent{
			Type:      "complete",
			MessageID: msgID,
			Content:   final.Content,
			Role:      model.RoleAssistant,
			Timestamp: time.Now().Unix(),
		})
	}()

	return eventChan, errChan
}

// runStream 打开后端流并消费到结束
func (s *ChatService) runStream(ctx context.Context, req model.ChatRequest, msgID string) error {
	requestID := uuid.New().String()
	log := logger.WithFields(map[string]interface{}{
		"request_id": requestID,
		"message_id": msgID,
	})

	payload, err := json.Marshal(map[string]string{
		"request_id": requestID,
		"message":    req.Message,
		"history":    s.store.HistoryTail(historyTailSize),
	})
	if err != nil {
		return &stream.NetworkError{Err: err}
	}

	streamURL := s.cfg.Backend.BaseURL + s.cfg.Backend.StreamPath
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, streamURL, bytes.NewReader(payload))
	if err != nil {
		return &stream.NetworkError{Err: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	if s.cfg.Backend.Token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+s.cfg.Backend.Token)
	}

	resp, err := s.httpClient.Do(httpReq)
	if err != nil {
		return &stream.NetworkError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		log.Warn("Backend rejected stream request with 401")
		s.HandleAuthFailure()
		return &stream.NetworkError{Err: fmt.Errorf("unauthorized")}
	}
	if resp.StatusCode != http.StatusOK {
		log.Warnf("Backend returned status %d for stream request", resp.StatusCode)
		return &stream.NetworkError{Err: fmt.Errorf("backend returned status %d", resp.StatusCode)}
	}

	log.Debug("后端生成流已打开")
	ingestor := stream.NewIngestor(s.router)
	return ingestor.Run(resp.Body, func(stream.Envelope) {
		// 片段的展示事件由Sink回调产生，这里无需重复转发
	})
}

// runTriggeredTurn 处理外部触发的会话轮次，消费事件但不转发
// （UI通过消息读取接口看到结果）
func (s *ChatService) runTriggeredTurn(req model.TriggerRequest) {
	chatReq := model.ChatRequest{
		Message:          req.Content,
		AttachedLink:     req.AttachedLink,
		AttachedLinkKind: req.AttachedLinkKind,
	}

	events, errs := s.StreamChat(context.Background(), chatReq)
	for range events {
	}
	if err := <-errs; err != nil {
		logger.Errorf("Triggered chat turn failed: %v", err)
	}
}

// ClearConversation 清空会话（存储的清空回调会把路由器复位）
func (s *ChatService) ClearConversation() {
	s.store.Clear()
}

func (s *ChatService) beginTurn(msgID string, emit func(model.StreamEvent)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.activeID = msgID
	s.turnEmit = emit
}

func (s *ChatService) endTurn() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.activeID = ""
	s.turnEmit = nil
}

func (s *ChatService) currentTurn() (string, func(model.StreamEvent)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeID, s.turnEmit
}

func (s *ChatService) emit(ev model.StreamEvent) {
	_, emit := s.currentTurn()
	if emit != nil {
		emit(ev)
	}
}

// failTurn 把本轮失败收敛为一条道歉消息，不影响其他状态
func (s *ChatService) failTurn(msgID string) {
	s.store.UpdateMessage(msgID, func(m *model.Message) {
		m.IsStreaming = false
		m.Content = ApologyMessage
		m.DisplayContent = ""
	})
	s.router.Reset()
}

// HandleAuthFailure 处理401：清缓存并广播会话失效，保证只执行一次
func (s *ChatService) HandleAuthFailure() {
	if !s.guard.Claim() {
		return
	}
	logger.Warn("Backend rejected credential, invalidating session")
	s.cache.Flush()
	s.bus.PublishSessionExpired()
}

// ---- stream.Sink 实现 ----

// AppendConversation 把片段追加到当前streaming消息
// 更新函数读到的是存储中的最新内容，并发回调下不会丢追加
func (s *ChatService) AppendConversation(text string) {
	msgID, _ := s.currentTurn()
	if msgID == "" {
		return
	}

	if err := s.store.AppendContent(msgID, text); err != nil {
		logger.Errorf("Failed to append fragment to %s: %v", msgID, err)
		return
	}

	s.emit(model.StreamEvent{
		Type:      "message",
		MessageID: msgID,
		Content:   text,
		Role:      model.RoleAssistant,
		Timestamp: time.Now().Unix(),
	})
}

// AppendBuffer 把片段写入外部缓冲区（绝不进入会话消息）
func (s *ChatService) AppendBuffer(key, text string) {
	s.bridge.Append(key, text)

	s.emit(model.StreamEvent{
		Type:      "buffer",
		BufferKey: key,
		Timestamp: time.Now().Unix(),
	})
}

// ResetBuffer 在新路由会话开始前清掉同key的陈旧内容
func (s *ChatService) ResetBuffer(key string) {
	s.bridge.BeginSession(key)
}

// CacheExternalRecord 登记占位的外部记录，用于前端预取展示
func (s *ChatService) CacheExternalRecord(id, key, title string) {
	s.cache.Set("record:"+key, map[string]string{
		"id":    id,
		"key":   key,
		"title": title,
	})
}

// ScheduleEditorRedirect 延迟广播编辑器跳转
func (s *ChatService) ScheduleEditorRedirect(key string) {
	s.afterFunc(editorRedirectDelay, func() {
		s.bus.PublishNavigation(key)
	})
}

// MarkStreamStarted 给当前消息打上过渡文案
func (s *ChatService) MarkStreamStarted() {
	msgID, _ := s.currentTurn()
	if msgID == "" {
		return
	}
	s.store.UpdateMessage(msgID, func(m *model.Message) {
		m.Content = GeneratingLabel
		m.IsStreaming = true
	})
	s.emit(model.StreamEvent{
		Type:      "status",
		MessageID: msgID,
		Content:   GeneratingLabel,
		Timestamp: time.Now().Unix(),
	})
}

// MarkStreamEnded 结束streaming状态并落成功文案
// 结束时目的地是缓冲区的话，对外发出该缓冲区的定稿通知
func (s *ChatService) MarkStreamEnded(bufferKey string) {
	msgID, _ := s.currentTurn()
	if msgID != "" {
		s.store.UpdateMessage(msgID, func(m *model.Message) {
			m.IsStreaming = false
			m.Content = SuccessLabel
		})
	}

	if bufferKey != "" {
		s.bridge.Finalize(bufferKey)
		s.bus.PublishBufferFinalized(bufferKey)
	}

	s.emit(model.StreamEvent{
		Type:      "status",
		MessageID: msgID,
		Content:   SuccessLabel,
		BufferKey: bufferKey,
		Timestamp: time.Now().Unix(),
	})
}
