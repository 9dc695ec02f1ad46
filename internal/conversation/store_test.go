package conversation

import (
	"fmt"
	"sync"
	"testing"

	"adflow-gateway/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStoreMessageIDsMonotonic(t *testing.T) {
	s := NewStore()

	m1 := s.CreateUserMessage("one", "", "")
	id2 := s.CreateAssistantPlaceholder("", "")
	m3 := s.CreateUserMessage("three", "", "")

	assert.Equal(t, "msg-1", m1.ID)
	assert.Equal(t, "msg-2", id2)
	assert.Equal(t, "msg-3", m3.ID)
}

func TestStorePlaceholderStartsEmptyAndStreaming(t *testing.T) {
	s := NewStore()
	id := s.CreateAssistantPlaceholder("post-5", "reply")

	msg, ok := s.GetMessage(id)
	require.True(t, ok)
	assert.Equal(t, model.RoleAssistant, msg.Role)
	assert.Equal(t, "", msg.Content)
	assert.True(t, msg.IsStreaming)
	assert.Equal(t, "post-5", msg.AttachedLink)
	assert.Equal(t, "reply", msg.AttachedLinkKind)
}

// 同一时刻只有一条streaming消息：新占位会终结旧的
func TestStoreSingleStreamingInvariant(t *testing.T) {
	s := NewStore()
	first := s.CreateAssistantPlaceholder("", "")
	second := s.CreateAssistantPlaceholder("", "")

	m1, _ := s.GetMessage(first)
	m2, _ := s.GetMessage(second)
	assert.False(t, m1.IsStreaming)
	assert.True(t, m2.IsStreaming)
}

// 更新函数读到的总是存储中的最新值，并发追加不丢内容
func TestStoreConcurrentAppendsPreserved(t *testing.T) {
	s := NewStore()
	id := s.CreateAssistantPlaceholder("", "")

	const n = 100
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, s.AppendContent(id, "x"))
		}()
	}
	wg.Wait()

	msg, _ := s.GetMessage(id)
	assert.Len(t, msg.Content, n)
}

func TestStoreAppendOrderSequential(t *testing.T) {
	s := NewStore()
	id := s.CreateAssistantPlaceholder("", "")

	for i := 0; i < 5; i++ {
		s.AppendContent(id, fmt.Sprintf("%d", i))
	}

	msg, _ := s.GetMessage(id)
	assert.Equal(t, "01234", msg.Content)
}

func TestStoreUpdateMissingMessage(t *testing.T) {
	s := NewStore()
	err := s.UpdateMessage("msg-99", func(m *model.Message) {})
	assert.ErrorIs(t, err, ErrMessageNotFound)
}

// Clear重置消息列表和ID计数器，并触发清空回调
func TestStoreClear(t *testing.T) {
	s := NewStore()
	var cleared bool
	s.OnClear(func() { cleared = true })

	s.CreateUserMessage("hello", "", "")
	s.CreateAssistantPlaceholder("", "")
	s.Clear()

	assert.Empty(t, s.Messages())
	assert.True(t, cleared)

	// 计数器归零后ID从头分配
	m := s.CreateUserMessage("again", "", "")
	assert.Equal(t, "msg-1", m.ID)
}

func TestStoreHistoryTail(t *testing.T) {
	s := NewStore()
	for i := 1; i <= 8; i++ {
		s.CreateUserMessage(fmt.Sprintf("q%d", i), "", "")
	}

	tail := s.HistoryTail(6)
	assert.Equal(t,
		"user: q3\nuser: q4\nuser: q5\nuser: q6\nuser: q7\nuser: q8",
		tail)

	// n<=0 时退回默认6条
	assert.Equal(t, tail, s.HistoryTail(0))
}
