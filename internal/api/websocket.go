// internal/api/websocket.go
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/Corphon/ClipStudy/internal/models"
	"github.com/Corphon/ClipStudy/internal/utils"
)

const (
	wsWriteWait      = 10 * time.Second
	wsPongWait       = 60 * time.Second
	wsPingPeriod     = (wsPongWait * 9) / 10
	wsMaxMessageSize = 4096
	wsSendBuffer     = 64
	wsClientsGauge   = "ws_clients"
)

// WebSocket 升级器配置
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// 本地单用户应用，前端可能来自任意开发端口
		return true
	},
}

// wsClient 表示一个 WebSocket 客户端连接
type wsClient struct {
	conn      *websocket.Conn
	send      chan []byte
	mu        sync.Mutex // 保护 closed 与 send 的关闭
	closed    bool
	createdAt time.Time
}

// Close 关闭发送队列，可重复调用
func (client *wsClient) Close() {
	client.mu.Lock()
	defer client.mu.Unlock()
	if !client.closed {
		client.closed = true
		close(client.send)
	}
}

// IsClosed 检查连接是否已关闭
func (client *wsClient) IsClosed() bool {
	client.mu.Lock()
	defer client.mu.Unlock()
	return client.closed
}

// trySend 非阻塞写入发送队列；已关闭的客户端直接跳过，队列满时返回 false
func (client *wsClient) trySend(msg []byte) bool {
	client.mu.Lock()
	defer client.mu.Unlock()
	if client.closed {
		return true
	}
	select {
	case client.send <- msg:
		return true
	default:
		return false
	}
}

// Hub 把条目变更推送给所有订阅的页面（采集窗口与复习窗口之间的同步）
type Hub struct {
	mu      sync.RWMutex
	clients map[*wsClient]struct{}
	metrics *utils.APIMetrics
	closed  bool
}

// NewHub 创建推送中心
func NewHub(metrics *utils.APIMetrics) *Hub {
	if metrics == nil {
		metrics = utils.NewAPIMetrics()
	}
	return &Hub{
		clients: make(map[*wsClient]struct{}),
		metrics: metrics,
	}
}

// ClientCount 当前连接数
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) register(client *wsClient) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[client] = struct{}{}
	h.metrics.Collector().IncGauge(wsClientsGauge)
	return true
}

// unregister 移除并关闭客户端
func (h *Hub) unregister(client *wsClient) {
	h.mu.Lock()
	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		h.metrics.Collector().DecGauge(wsClientsGauge)
	}
	h.mu.Unlock()
	client.Close()
}

// Publish 广播条目事件；发送队列已满的客户端被视为失效并断开
func (h *Hub) Publish(event models.EntryEvent) {
	msg, err := json.Marshal(event)
	if err != nil {
		utils.GetLogger().Error("序列化推送消息失败", map[string]interface{}{"error": err.Error()})
		return
	}

	h.mu.RLock()
	targets := make([]*wsClient, 0, len(h.clients))
	for client := range h.clients {
		targets = append(targets, client)
	}
	h.mu.RUnlock()

	for _, client := range targets {
		if !client.trySend(msg) {
			utils.GetLogger().Warn("推送队列已满，断开客户端", map[string]interface{}{
				"connected_at": client.createdAt.Format(time.RFC3339),
			})
			h.unregister(client)
		}
	}
	h.metrics.Collector().IncrementCounter("ws_events_published")
}

// Run 阻塞直到 ctx 结束，随后断开所有客户端
func (h *Hub) Run(ctx context.Context) error {
	<-ctx.Done()
	h.Shutdown()
	return nil
}

// Shutdown 断开所有客户端并拒绝新连接
func (h *Hub) Shutdown() {
	h.mu.Lock()
	h.closed = true
	clients := h.clients
	h.clients = make(map[*wsClient]struct{})
	h.mu.Unlock()

	for client := range clients {
		client.Close()
	}
	h.metrics.Collector().SetGauge(wsClientsGauge, 0)
}

// ServeWS 处理 /ws/entries 连接
func (h *Hub) ServeWS(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		utils.GetLogger().Warn("WebSocket 升级失败", map[string]interface{}{"error": err.Error()})
		return
	}

	client := &wsClient{
		conn:      conn,
		send:      make(chan []byte, wsSendBuffer),
		createdAt: time.Now(),
	}
	if !h.register(client) {
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
		conn.Close()
		return
	}

	go h.writePump(client)
	h.readPump(client)
}

// readPump 只处理 pong 与关闭；客户端不发送业务消息
func (h *Hub) readPump(client *wsClient) {
	defer h.unregister(client)

	client.conn.SetReadLimit(wsMaxMessageSize)
	_ = client.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	client.conn.SetPongHandler(func(string) error {
		return client.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	for {
		if _, _, err := client.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				utils.GetLogger().Debug("WebSocket 连接异常关闭", map[string]interface{}{"error": err.Error()})
			}
			return
		}
	}
}

// writePump 发送队列中的消息并定时 ping；队列关闭后发送关闭帧
func (h *Hub) writePump(client *wsClient) {
	ticker := time.NewTicker(wsPingPeriod)
	defer func() {
		ticker.Stop()
		client.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-client.send:
			_ = client.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if !ok {
				_ = client.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := client.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				h.unregister(client)
				return
			}
		case <-ticker.C:
			_ = client.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := client.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				h.unregister(client)
				return
			}
		}
	}
}
