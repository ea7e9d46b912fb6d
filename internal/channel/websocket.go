package channel

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"docbot/internal/answer"
	"docbot/internal/domain"
)

const wsQueueSize = 8

// wsRequest is one client frame.
type wsRequest struct {
	Query     string `json:"query"`
	K         int    `json:"k"`
	SessionID string `json:"session_id"`
}

// WSMessage is one server frame: a stream event, or a status/error notice.
type WSMessage struct {
	Type      string                   `json:"type"` // "status" | "snippets" | "token" | "done" | "error"
	Content   string                   `json:"content,omitempty"`
	Results   []domain.RetrievalResult `json:"results,omitempty"`
	SessionID string                   `json:"session_id,omitempty"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins (configure CORS for production)
	},
}

// wsHub answers queries over WebSocket connections. Each connection handles
// its frames in order.
type wsHub struct {
	answerer Answerer
	logger   *slog.Logger

	mu      sync.Mutex
	clients map[*wsClient]struct{}
}

// wsClient tracks a connected WebSocket client.
type wsClient struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func newWSHub(a Answerer, logger *slog.Logger) *wsHub {
	return &wsHub{answerer: a, logger: logger, clients: make(map[*wsClient]struct{})}
}

func (h *wsHub) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", "err", err)
		return
	}
	client := &wsClient{conn: conn}

	h.mu.Lock()
	h.clients[client] = struct{}{}
	h.mu.Unlock()

	ctx, cancel := context.WithCancel(context.Background())
	queue := make(chan wsRequest, wsQueueSize)
	worker := make(chan struct{})
	go func() {
		defer close(worker)
		for req := range queue {
			h.answer(ctx, client, req)
		}
	}()

	h.logger.Info("websocket client connected", "remote", r.RemoteAddr)
	client.send(WSMessage{Type: "status", Content: "connected"})

	defer func() {
		cancel()
		close(queue)
		<-worker
		h.mu.Lock()
		delete(h.clients, client)
		h.mu.Unlock()
		conn.Close()
		h.logger.Info("websocket client disconnected", "remote", r.RemoteAddr)
	}()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Error("websocket read error", "err", err)
			}
			return
		}

		var req wsRequest
		if err := json.Unmarshal(message, &req); err != nil {
			client.send(WSMessage{Type: "error", Content: "invalid frame: " + err.Error()})
			continue
		}
		if req.SessionID == "" {
			req.SessionID = uuid.NewString()
		}
		select {
		case queue <- req:
		default:
			client.send(WSMessage{Type: "error", Content: "too many pending queries", SessionID: req.SessionID})
		}
	}
}

func (h *wsHub) answer(ctx context.Context, client *wsClient, req wsRequest) {
	events := make(chan domain.StreamEvent)
	errc := make(chan error, 1)
	go func() {
		_, err := h.answerer.Answer(ctx, answer.Request{Query: req.Query, K: req.K, SessionID: req.SessionID}, events)
		close(events)
		errc <- err
	}()

	for ev := range events {
		if err := client.send(WSMessage{
			Type:      string(ev.Type),
			Content:   ev.Content,
			Results:   ev.Results,
			SessionID: req.SessionID,
		}); err != nil {
			h.logger.Debug("websocket write failed", "err", err)
		}
	}
	if err := <-errc; err != nil && ctx.Err() == nil {
		client.send(WSMessage{Type: "error", Content: err.Error(), SessionID: req.SessionID})
	}
}

func (c *wsClient) send(msg WSMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal frame: %w", err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func (h *wsHub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients {
		client.conn.Close()
		delete(h.clients, client)
	}
}
