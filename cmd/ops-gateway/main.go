// cmd/ops-gateway/main.go
package main

import (
	"context"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"bazaar/internal/pkg/bootstrap"
	"bazaar/internal/pkg/config"
	"bazaar/internal/pkg/logger"
	"bazaar/internal/pkg/mq"

	"github.com/gorilla/websocket"
)

const serviceName = "ops-gateway"

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool { // 内网运维面板，允许跨域
		return true
	},
}

// Hub 维护所有在线的运维客户端，把编排告警广播给每一个连接。
type Hub struct {
	clients    map[*Client]struct{}
	register   chan *Client
	unregister chan *Client
	broadcast  chan []byte
	lock       sync.RWMutex
}

func newHub() *Hub {
	return &Hub{
		clients:    make(map[*Client]struct{}),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan []byte, 64),
	}
}

func (h *Hub) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case client := <-h.register:
			h.lock.Lock()
			h.clients[client] = struct{}{}
			h.lock.Unlock()
			logger.L().Info().Str("operator", client.operator).Msg("Ops client connected")
		case client := <-h.unregister:
			h.lock.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			h.lock.Unlock()
			logger.L().Info().Str("operator", client.operator).Msg("Ops client disconnected")
		case message := <-h.broadcast:
			h.lock.RLock()
			for client := range h.clients {
				select {
				case client.send <- message:
				default:
					// 慢客户端直接丢弃这条消息
				}
			}
			h.lock.RUnlock()
		}
	}
}

// Client 是一个运维 WebSocket 连接。
type Client struct {
	hub      *Hub
	conn     *websocket.Conn
	send     chan []byte
	operator string
}

func (c *Client) writePump() {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case message, ok := <-c.send:
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()
	c.conn.SetReadLimit(512)
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func serveWs(hub *Hub, w http.ResponseWriter, r *http.Request) {
	operator := r.URL.Query().Get("operator")
	if operator == "" {
		http.Error(w, "operator is required", http.StatusBadRequest)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.L().Error().Err(err).Msg("Failed to upgrade ops connection")
		return
	}

	client := &Client{hub: hub, conn: conn, send: make(chan []byte, 256), operator: operator}
	hub.register <- client

	go client.writePump()
	go client.readPump()
}

// consumeAlerts 订阅编排告警主题，把每条告警广播给在线客户端。
func consumeAlerts(ctx context.Context, cfg *config.Config, hub *Hub) {
	reader := mq.NewKafkaReader(strings.Split(cfg.Kafka.Brokers, ","),
		cfg.Kafka.SagaAlertTopic, cfg.Kafka.OpsGatewayGroup)
	defer reader.Close()

	logger.L().Info().Str("topic", cfg.Kafka.SagaAlertTopic).Msg("Alert consumer started")
	for {
		msg, err := reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				logger.L().Info().Msg("Alert consumer shutting down")
				return
			}
			logger.L().Error().Err(err).Msg("Failed to fetch alert, retrying")
			time.Sleep(time.Second)
			continue
		}

		hub.broadcast <- msg.Value

		if err := reader.CommitMessages(ctx, msg); err != nil {
			logger.L().Error().Err(err).Msg("Failed to commit alert offset")
		}
	}
}

func main() {
	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		logger.Init(serviceName)
		logger.L().Fatal().Err(err).Msg("failed to load config")
	}
	cfg.ServiceName = serviceName

	hub := newHub()
	bgCtx, cancelBg := context.WithCancel(context.Background())
	go hub.run(bgCtx)
	go consumeAlerts(bgCtx, cfg, hub)

	bootstrap.StartService(bootstrap.AppInfo{
		ServiceName: serviceName,
		Cfg:         cfg,
		RegisterHandlers: func(appCtx bootstrap.AppCtx) {
			appCtx.Mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
				serveWs(hub, w, r)
			})
		},
		OnShutdown: func(ctx context.Context) {
			cancelBg()
		},
	})
}
