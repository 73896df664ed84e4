package handlers

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/clicker-market/bff/internal/auth"
	"github.com/clicker-market/bff/internal/config"
	"github.com/clicker-market/bff/internal/events"
)

const wsWriteTimeout = 5 * time.Second

type wsConn struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *wsConn) write(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// WSHub pushes settlement events to the sockets of the player they address.
type WSHub struct {
	cfg         *config.Config
	subscriber  events.Subscriber
	log         *zap.Logger
	mu          sync.RWMutex
	connections map[uuid.UUID][]*wsConn
}

func NewWSHub(cfg *config.Config, subscriber events.Subscriber, log *zap.Logger) *WSHub {
	return &WSHub{
		cfg:         cfg,
		subscriber:  subscriber,
		log:         log,
		connections: make(map[uuid.UUID][]*wsConn),
	}
}

func (h *WSHub) Start(ctx context.Context) error {
	return h.subscriber.Subscribe(ctx, events.StreamSettlement, h.route)
}

func (h *WSHub) route(event events.Event) {
	id := event.PlayerID()
	if id == "" {
		h.broadcast(event)
		return
	}
	playerID, err := uuid.Parse(id)
	if err != nil {
		h.log.Warn("event with malformed player id", zap.String("type", event.Type), zap.String("player_id", id))
		return
	}
	h.SendToPlayer(playerID, event)
}

func (h *WSHub) broadcast(event events.Event) {
	data, err := json.Marshal(event)
	if err != nil {
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, conns := range h.connections {
		for _, conn := range conns {
			_ = conn.write(data)
		}
	}
}

func (h *WSHub) SendToPlayer(playerID uuid.UUID, event events.Event) {
	data, err := json.Marshal(event)
	if err != nil {
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, conn := range h.connections[playerID] {
		if err := conn.write(data); err != nil {
			h.log.Debug("ws write failed", zap.String("player_id", playerID.String()), zap.Error(err))
		}
	}
}

// Connected reports the number of open sockets for playerID.
func (h *WSHub) Connected(playerID uuid.UUID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.connections[playerID])
}

// WSUpgradeMiddleware rejects plain HTTP requests to the socket endpoint.
func WSUpgradeMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	}
}

func (h *WSHub) HandleWS(conn *websocket.Conn) {
	tokenStr := conn.Query("token")
	if tokenStr == "" {
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"error":"missing token"}`))
		conn.Close()
		return
	}

	claims, err := auth.ParseJWT(h.cfg.JWTSecret, tokenStr)
	if err != nil {
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"error":"invalid token"}`))
		conn.Close()
		return
	}

	playerID := claims.PlayerID
	wc := &wsConn{conn: conn}

	h.mu.Lock()
	h.connections[playerID] = append(h.connections[playerID], wc)
	h.mu.Unlock()

	defer func() {
		h.mu.Lock()
		conns := h.connections[playerID]
		for i, c := range conns {
			if c == wc {
				h.connections[playerID] = append(conns[:i], conns[i+1:]...)
				break
			}
		}
		if len(h.connections[playerID]) == 0 {
			delete(h.connections, playerID)
		}
		h.mu.Unlock()
		conn.Close()
	}()

	// Inbound frames are keep-alives only.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
}
