package handler

import (
	"context"
	"net/http"
	"time"

	"adflow-gateway/internal/bus"
	"adflow-gateway/internal/model"
	"adflow-gateway/internal/service"
	"adflow-gateway/internal/utils"
	"adflow-gateway/pkg/logger"

	"github.com/gin-gonic/gin"
)

type ChatHandler struct {
	chatService *service.ChatService
	eventBus    *bus.Bus
}

func NewChatHandler(chatService *service.ChatService, eventBus *bus.Bus) *ChatHandler {
	return &ChatHandler{
		chatService: chatService,
		eventBus:    eventBus,
	}
}

// StreamChat 把一轮流式会话以SSE转发给前端UI
func (h *ChatHandler) StreamChat(c *gin.Context) {
	var req model.ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	sseWriter := utils.NewSSEWriter(c.Writer)

	ctx, cancel := context.WithTimeout(c.Request.Context(), 25*time.Minute)
	defer cancel()

	// 心跳防止连接因空闲被中间层断开
	heartbeatTicker := time.NewTicker(30 * time.Second)
	defer heartbeatTicker.Stop()

	go func() {
		for {
			select {
			case <-heartbeatTicker.C:
				if err := sseWriter.WriteJSON("heartbeat", gin.H{
					"type":      "heartbeat",
					"timestamp": time.Now().Unix(),
				}); err != nil {
					logger.Warnf("Heartbeat write failed: %v", err)
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	eventChan, errChan := h.chatService.StreamChat(ctx, req)

	for {
		select {
		case ev, ok := <-eventChan:
			if !ok {
				sseWriter.Close()
				return
			}
			if err := sseWriter.WriteJSON("message", ev); err != nil {
				logger.Errorf("Failed to write SSE: %v", err)
				return
			}

		case err := <-errChan:
			if err != nil {
				sseWriter.WriteJSON("error", gin.H{
					"error":     err.Error(),
					"type":      "stream_error",
					"timestamp": time.Now().Unix(),
				})
				sseWriter.Close()
				return
			}

		case <-ctx.Done():
			sseWriter.Close()
			return
		}
	}
}

// GetMessages 返回当前会话全部消息的渲染视图
func (h *ChatHandler) GetMessages(c *gin.Context) {
	messages := h.chatService.Store().Messages()
	out := make([]model.MessageResponse, 0, len(messages))
	for _, m := range messages {
		out = append(out, model.NewMessageResponse(m))
	}
	c.JSON(http.StatusOK, gin.H{"messages": out})
}

// ClearConversation 清空会话并复位路由状态
func (h *ChatHandler) ClearConversation(c *gin.Context) {
	h.chatService.ClearConversation()
	c.JSON(http.StatusOK, gin.H{"message": "Conversation cleared successfully"})
}

// TriggerReply 接收外部触发的生成请求并经总线转发
// 触发方（如回复生成按钮）与聊天服务互不感知
func (h *ChatHandler) TriggerReply(c *gin.Context) {
	var req model.TriggerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	h.eventBus.PublishChatTrigger(req)
	c.JSON(http.StatusAccepted, gin.H{"message": "Trigger accepted"})
}
