package storage

// BufferStore 持久化按目的地key区分的追加式文本缓冲区
// 写入方只做追加；读取方（如编辑器视图）允许在任意时刻观察到部分内容
type BufferStore interface {
	// 缓冲区操作
	Append(key, text string) error
	Read(key string) (string, error)
	Clear(key string) error
	Keys() ([]string, error)

	// 存储管理
	Init() error
	Close() error
}

// Watchable 支持对缓冲区变更的监听，磁盘实现基于fsnotify
type Watchable interface {
	Watch() (<-chan string, error)
}
