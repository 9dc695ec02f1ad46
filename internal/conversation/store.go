package conversation

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"adflow-gateway/internal/model"
)

// ErrMessageNotFound 更新目标消息不存在
var ErrMessageNotFound = fmt.Errorf("message not found")

// Store 持有按创建顺序排列的会话消息
// 消息ID由单调递增的序号生成，同一Store内不会复用
// 同一时刻最多只有一条消息处于streaming状态
type Store struct {
	mu       sync.RWMutex
	messages []model.Message
	seq      int
	onClear  []func()
}

func NewStore() *Store {
	return &Store{
		messages: make([]model.Message, 0),
	}
}

// OnClear 注册会话清空时的回调（如通知路由器复位）
func (s *Store) OnClear(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onClear = append(s.onClear, fn)
}

func (s *Store) nextID() string {
	s.seq++
	return fmt.Sprintf("msg-%d", s.seq)
}

// CreateUserMessage 追加一条用户消息
func (s *Store) CreateUserMessage(content, link, kind string) model.Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg := model.Message{
		ID:               s.nextID(),
		Role:             model.RoleUser,
		Content:          content,
		AttachedLink:     link,
		AttachedLinkKind: kind,
		Timestamp:        time.Now(),
	}
	s.messages = append(s.messages, msg)
	return msg
}

// CreateAssistantPlaceholder 创建空内容的streaming占位消息并返回其ID
// 如果已有streaming消息会先将其终结，保证同一时刻只有一条
func (s *Store) CreateAssistantPlaceholder(link, kind string) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.messages {
		if s.messages[i].IsStreaming {
			s.messages[i].IsStreaming = false
		}
	}

	msg := model.Message{
		ID:               s.nextID(),
		Role:             model.RoleAssistant,
		Content:          "",
		IsStreaming:      true,
		AttachedLink:     link,
		AttachedLinkKind: kind,
		Timestamp:        time.Now(),
	}
	s.messages = append(s.messages, msg)
	return msg.ID
}

// UpdateMessage 以函数形式原子更新消息
// 更新函数看到的一定是存储中的最新值，避免闭包捕获旧值导致的追加丢失
func (s *Store) UpdateMessage(id string, fn func(*model.Message)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.messages {
		if s.messages[i].ID == id {
			fn(&s.messages[i])
			return nil
		}
	}
	return ErrMessageNotFound
}

// AppendContent 向指定消息追加内容片段
func (s *Store) AppendContent(id, fragment string) error {
	return s.UpdateMessage(id, func(m *model.Message) {
		m.Content += fragment
	})
}

// GetMessage 返回消息的副本
func (s *Store) GetMessage(id string) (model.Message, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for i := range s.messages {
		if s.messages[i].ID == id {
			return s.messages[i], true
		}
	}
	return model.Message{}, false
}

// Messages 返回全部消息的副本切片
func (s *Store) Messages() []model.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.Message, len(s.messages))
	copy(out, s.messages)
	return out
}

// Clear 清空消息列表并重置ID计数器，随后触发注册的清空回调
func (s *Store) Clear() {
	s.mu.Lock()
	s.messages = s.messages[:0]
	s.seq = 0
	callbacks := make([]func(), len(s.onClear))
	copy(callbacks, s.onClear)
	s.mu.Unlock()

	for _, fn := range callbacks {
		fn()
	}
}

// HistoryTail 返回最近n条消息的格式化历史，供后端请求携带上下文
func (s *Store) HistoryTail(n int) string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if n <= 0 {
		n = 6
	}
	start := len(s.messages) - n
	if start < 0 {
		start = 0
	}

	var sb strings.Builder
	for _, msg := range s.messages[start:] {
		sb.WriteString(msg.Role)
		sb.WriteString(": ")
		sb.WriteString(msg.Content)
		sb.WriteString("\n")
	}
	return strings.TrimSuffix(sb.String(), "\n")
}
