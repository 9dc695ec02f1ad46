package bufferbridge

import (
	"testing"
	"time"

	"adflow-gateway/internal/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBridge(t *testing.T) *Bridge {
	t.Helper()
	store := storage.NewMemoryStore()
	require.NoError(t, store.Init())
	return New(store)
}

func TestBridgeAppendAndRead(t *testing.T) {
	b := newTestBridge(t)

	b.Append("post-1", "# Title\n")
	b.Append("post-1", "Body")

	content, err := b.Read("post-1")
	require.NoError(t, err)
	assert.Equal(t, "# Title\nBody", content)
}

// 新会话开始时清空同key的陈旧内容
func TestBridgeBeginSessionClearsStale(t *testing.T) {
	b := newTestBridge(t)

	b.Append("post-1", "old session content")
	b.BeginSession("post-1")
	b.Append("post-1", "new")

	content, err := b.Read("post-1")
	require.NoError(t, err)
	assert.Equal(t, "new", content)
}

// 对不存在的key开始会话不报错
func TestBridgeBeginSessionMissingKey(t *testing.T) {
	b := newTestBridge(t)
	b.BeginSession("never-written")

	_, err := b.Read("never-written")
	assert.ErrorIs(t, err, storage.ErrBufferNotFound)
}

// 经Bridge的写入向订阅方发变更通知，取消后不再收到
func TestBridgeSubscribeChanges(t *testing.T) {
	b := newTestBridge(t)

	changes, cancel := b.SubscribeChanges()

	b.Append("post-1", "fragment")

	select {
	case key := <-changes:
		assert.Equal(t, "post-1", key)
	default:
		t.Fatal("expected a change notification after append")
	}

	cancel()
	b.Append("post-1", "more")

	_, open := <-changes
	assert.False(t, open, "cancelled subscription channel should be closed")
}

// 底层存储的文件变更经StartWatch转发给订阅方
func TestBridgeStartWatchForwardsDiskChanges(t *testing.T) {
	store := storage.NewDiskStore(t.TempDir())
	require.NoError(t, store.Init())
	defer store.Close()

	b := New(store)
	require.NoError(t, b.StartWatch())

	changes, cancel := b.SubscribeChanges()
	defer cancel()

	// 绕过Bridge直接写存储，模拟外部进程改写缓冲区文件
	require.NoError(t, store.Append("post-9", "external edit"))

	select {
	case key := <-changes:
		assert.Equal(t, "post-9", key)
	case <-time.After(2 * time.Second):
		t.Fatal("expected a change notification from the file watcher")
	}
}

func TestBridgeFinalizeNotifies(t *testing.T) {
	b := newTestBridge(t)

	var got []string
	b.OnFinalize(func(key string) { got = append(got, key) })

	b.Append("post-2", "content")
	b.Finalize("post-2")

	assert.Equal(t, []string{"post-2"}, got)
}
