package web

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// sseMessage 推送给单个客户端的一条事件
type sseMessage struct {
	Event string
	Data  map[string]interface{}
}

// SSEHub 管理所有SSE客户端连接并实现事件总线的广播接口
type SSEHub struct {
	mu      sync.RWMutex
	clients map[string]chan sseMessage
	closed  bool
	logger  *slog.Logger
}

// NewSSEHub 创建SSE连接管理器
func NewSSEHub(logger *slog.Logger) *SSEHub {
	return &SSEHub{
		clients: make(map[string]chan sseMessage),
		logger:  logger,
	}
}

// BroadcastEvent 向所有客户端广播事件，慢客户端直接跳过
func (h *SSEHub) BroadcastEvent(eventType string, data map[string]interface{}) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for clientID, ch := range h.clients {
		select {
		case ch <- sseMessage{Event: eventType, Data: data}:
		default:
			h.logger.Debug("SSE客户端缓冲区已满，跳过事件", "client_id", clientID, "event", eventType)
		}
	}
}

// IsActive 是否存在至少一个活跃客户端
func (h *SSEHub) IsActive() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients) > 0
}

// ClientCount 当前连接的客户端数量
func (h *SSEHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close 断开所有客户端
func (h *SSEHub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}
	h.closed = true
	for clientID, ch := range h.clients {
		close(ch)
		delete(h.clients, clientID)
	}
}

// register 注册新客户端，返回其接收通道
func (h *SSEHub) register(clientID string) (chan sseMessage, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil, false
	}
	ch := make(chan sseMessage, 64)
	h.clients[clientID] = ch
	return ch, true
}

// unregister 移除客户端
func (h *SSEHub) unregister(clientID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if ch, ok := h.clients[clientID]; ok {
		close(ch)
		delete(h.clients, clientID)
	}
}

// handleSSE 处理Server-Sent Events连接
func (ws *WebServer) handleSSE(c *gin.Context) {
	// 设置SSE标准响应头
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("Access-Control-Allow-Origin", "*")

	c.Writer.Flush()

	// 获取客户端ID，如果没有则生成一个
	clientID := c.Query("client_id")
	if clientID == "" {
		clientID = uuid.New().String()
	}

	ch, ok := ws.sse.register(clientID)
	if !ok {
		c.Status(503)
		return
	}
	defer ws.sse.unregister(clientID)

	ws.logger.Debug("SSE客户端已连接", "client_id", clientID)

	// 发送初始连接确认
	if err := writeSSEEvent(c, "connection", map[string]interface{}{
		"status":    "established",
		"client_id": clientID,
		"timestamp": time.Now().Format("2006-01-02 15:04:05"),
	}); err != nil {
		return
	}

	// 心跳保持连接存活
	heartbeat := time.NewTicker(30 * time.Second)
	defer heartbeat.Stop()

	ctx := c.Request.Context()
	for {
		select {
		case msg, open := <-ch:
			if !open {
				return
			}
			if err := writeSSEEvent(c, msg.Event, msg.Data); err != nil {
				ws.logger.Debug("SSE事件发送失败", "client_id", clientID, "error", err)
				return
			}
		case <-heartbeat.C:
			if err := writeSSEEvent(c, "heartbeat", map[string]interface{}{
				"timestamp": time.Now().Format("2006-01-02 15:04:05"),
			}); err != nil {
				return
			}
		case <-ctx.Done():
			// 客户端断开连接
			ws.logger.Debug("SSE客户端断开连接", "client_id", clientID)
			return
		}
	}
}

// writeSSEEvent 按SSE协议写出一条事件并立即刷新
func writeSSEEvent(c *gin.Context, event string, data map[string]interface{}) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(c.Writer, "event: %s\ndata: %s\n\n", event, payload); err != nil {
		return err
	}
	c.Writer.Flush()
	return nil
}
