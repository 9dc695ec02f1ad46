package handler

import (
	"errors"
	"net/http"

	"adflow-gateway/internal/bufferbridge"
	"adflow-gateway/internal/model"
	"adflow-gateway/internal/push"
	"adflow-gateway/internal/storage"
	"adflow-gateway/internal/task"
	"adflow-gateway/internal/utils"

	"github.com/gin-gonic/gin"
)

// DashboardHandler 暴露后台任务状态、外部缓冲区和推送连接健康度的读接口
type DashboardHandler struct {
	registry   *task.Registry
	bridge     *bufferbridge.Bridge
	pushClient *push.Client
}

func NewDashboardHandler(registry *task.Registry, bridge *bufferbridge.Bridge, pushClient *push.Client) *DashboardHandler {
	return &DashboardHandler{
		registry:   registry,
		bridge:     bridge,
		pushClient: pushClient,
	}
}

// ListTasks 返回当前跟踪中的全部后台任务
func (h *DashboardHandler) ListTasks(c *gin.Context) {
	tasks := h.registry.Tasks()
	out := make([]model.TaskResponse, 0, len(tasks))
	for _, t := range tasks {
		out = append(out, model.NewTaskResponse(t))
	}
	c.JSON(http.StatusOK, gin.H{"tasks": out})
}

// GetTask 返回指定任务类型的最新状态
func (h *DashboardHandler) GetTask(c *gin.Context) {
	taskType := c.Param("task_type")

	t := h.registry.GetTask(taskType)
	if t == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no tracked task for type: " + taskType})
		return
	}

	c.JSON(http.StatusOK, model.NewTaskResponse(t))
}

// GetBuffer 供外部消费者（编辑器视图）读取缓冲区已累积的内容
// 读到的可能是部分内容，调用方需要容忍
func (h *DashboardHandler) GetBuffer(c *gin.Context) {
	key := c.Param("key")

	content, err := h.bridge.Read(key)
	if err != nil {
		if errors.Is(err, storage.ErrBufferNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "buffer not found: " + key})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"key":     key,
		"content": content,
	})
}

// WatchBuffer 以SSE把缓冲区的后续变更推给外部消费者（编辑器视图）
// 先推一次当前快照，之后每次变更推送最新的完整内容
func (h *DashboardHandler) WatchBuffer(c *gin.Context) {
	key := c.Param("key")

	content, err := h.bridge.Read(key)
	if err != nil && !errors.Is(err, storage.ErrBufferNotFound) {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	changes, cancel := h.bridge.SubscribeChanges()
	defer cancel()

	sseWriter := utils.NewSSEWriter(c.Writer)
	if err := sseWriter.WriteJSON("buffer", gin.H{"key": key, "content": content}); err != nil {
		return
	}

	for {
		select {
		case changed, ok := <-changes:
			if !ok {
				return
			}
			if changed != key {
				continue
			}
			content, err := h.bridge.Read(key)
			if err != nil {
				continue
			}
			if err := sseWriter.WriteJSON("buffer", gin.H{"key": key, "content": content}); err != nil {
				return
			}

		case <-c.Request.Context().Done():
			return
		}
	}
}

// ListBuffers 返回现存缓冲区key列表
func (h *DashboardHandler) ListBuffers(c *gin.Context) {
	keys, err := h.bridge.Keys()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"buffers": keys})
}

// PushStatus 返回推送连接健康度（断开只是非阻塞的状态标志）
func (h *DashboardHandler) PushStatus(c *gin.Context) {
	status := model.PushStatusResponse{
		Connected: h.pushClient.IsConnected(),
	}
	if err := h.pushClient.LastError(); err != nil {
		status.LastError = err.Error()
	}
	c.JSON(http.StatusOK, status)
}
