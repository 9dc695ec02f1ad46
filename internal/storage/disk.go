package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"adflow-gateway/pkg/logger"

	"github.com/fsnotify/fsnotify"
)

const bufferFileExt = ".buf"

// DiskStore 把每个缓冲区落盘为 dataDir 下的一个追加式文件
// 外部进程（编辑器视图）可以直接读文件，或通过Watch监听变更
// 内存中保留写穿缓存，读取时优先命中缓存
type DiskStore struct {
	dataDir string
	cache   map[string]string
	mu      sync.RWMutex
	watcher *fsnotify.Watcher
	events  chan string
	done    chan struct{}
}

func NewDiskStore(dataDir string) *DiskStore {
	return &DiskStore{
		dataDir: dataDir,
		cache:   make(map[string]string),
		done:    make(chan struct{}),
	}
}

func (d *DiskStore) Init() error {
	if err := os.MkdirAll(d.dataDir, 0755); err != nil {
		return fmt.Errorf("%w: %v", ErrStorageInit, err)
	}

	// 启动时把已有缓冲区文件载入缓存
	entries, err := os.ReadDir(d.dataDir)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStorageInit, err)
	}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), bufferFileExt) {
			continue
		}
		key := strings.TrimSuffix(entry.Name(), bufferFileExt)
		data, err := os.ReadFile(filepath.Join(d.dataDir, entry.Name()))
		if err != nil {
			logger.Warnf("Failed to load buffer file %s: %v", entry.Name(), err)
			continue
		}
		d.cache[key] = string(data)
	}

	return nil
}

func (d *DiskStore) Close() error {
	close(d.done)
	if d.watcher != nil {
		return d.watcher.Close()
	}
	return nil
}

func (d *DiskStore) path(key string) string {
	// key来自流中的slug，保守起见过滤路径分隔符
	safe := strings.NewReplacer("/", "_", "\\", "_", "..", "_").Replace(key)
	return filepath.Join(d.dataDir, safe+bufferFileExt)
}

func (d *DiskStore) Append(key, text string) error {
	if key == "" {
		return ErrInvalidKey
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	f, err := os.OpenFile(d.path(key), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrFileOperation, err)
	}
	defer f.Close()

	if _, err := f.WriteString(text); err != nil {
		return fmt.Errorf("%w: %v", ErrFileOperation, err)
	}

	d.cache[key] += text
	return nil
}

func (d *DiskStore) Read(key string) (string, error) {
	d.mu.RLock()
	content, exists := d.cache[key]
	d.mu.RUnlock()
	if exists {
		return content, nil
	}

	data, err := os.ReadFile(d.path(key))
	if err != nil {
		if os.IsNotExist(err) {
			return "", ErrBufferNotFound
		}
		return "", fmt.Errorf("%w: %v", ErrFileOperation, err)
	}

	d.mu.Lock()
	d.cache[key] = string(data)
	d.mu.Unlock()

	return string(data), nil
}

func (d *DiskStore) Clear(key string) error {
	if key == "" {
		return ErrInvalidKey
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	delete(d.cache, key)
	if err := os.Remove(d.path(key)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("%w: %v", ErrFileOperation, err)
	}
	return nil
}

func (d *DiskStore) Keys() ([]string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	keys := make([]string, 0, len(d.cache))
	for key := range d.cache {
		keys = append(keys, key)
	}
	return keys, nil
}

// Watch 返回发生变更的缓冲区key的通道
// 供同机的外部消费者监听缓冲区文件更新
func (d *DiskStore) Watch() (<-chan string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.events != nil {
		return d.events, nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFileOperation, err)
	}
	if err := watcher.Add(d.dataDir); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("%w: %v", ErrFileOperation, err)
	}

	d.watcher = watcher
	d.events = make(chan string, 16)

	go func() {
		defer close(d.events)
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				name := filepath.Base(event.Name)
				if !strings.HasSuffix(name, bufferFileExt) {
					continue
				}
				key := strings.TrimSuffix(name, bufferFileExt)
				select {
				case d.events <- key:
				default:
					// 消费方落后时丢弃通知，读取方总能拿到最新内容
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.Warnf("Buffer watcher error: %v", err)
			case <-d.done:
				return
			}
		}
	}()

	return d.events, nil
}
