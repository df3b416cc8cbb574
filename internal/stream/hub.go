// Package stream pushes freshly refreshed candles to websocket subscribers.
package stream

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"dexcharts/internal/domain"
)

const writeTimeout = 10 * time.Second

// Update is the message pushed to subscribers after a refresh.
type Update struct {
	TokenAddress string          `json:"tokenAddress"`
	Candles      []domain.Candle `json:"candles"`
	Timestamp    int64           `json:"timestamp"`
}

// subscriber serializes writes to one connection. gorilla/websocket
// forbids concurrent writers, and Publish can be called from any goroutine.
type subscriber struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (s *subscriber) send(update Update) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}
	return s.conn.WriteJSON(update)
}

// Hub fans refresh updates out to per-token websocket subscribers.
type Hub struct {
	mu       sync.RWMutex
	subs     map[string]map[*subscriber]struct{} // token → connections
	upgrader websocket.Upgrader
	logger   *logrus.Logger
}

// NewHub creates an empty hub.
func NewHub(logger *logrus.Logger) *Hub {
	if logger == nil {
		logger = logrus.New()
	}
	return &Hub{
		subs: make(map[string]map[*subscriber]struct{}),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
		logger: logger,
	}
}

// ServeWS upgrades the request and subscribes the connection to the token
// given by the "token" query parameter.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	token := strings.ToLower(r.URL.Query().Get("token"))
	if token == "" {
		http.Error(w, "token query parameter required", http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warnf("websocket upgrade failed: %v", err)
		return
	}

	sub := &subscriber{conn: conn}
	h.add(token, sub)

	// Reader loop exists only to observe the close; inbound frames are discarded.
	go func() {
		defer h.remove(token, sub)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

// Publish sends an update to every subscriber of the token. Dead
// connections are dropped.
func (h *Hub) Publish(tokenAddress string, candles []domain.Candle) {
	token := strings.ToLower(tokenAddress)

	h.mu.RLock()
	subs := make([]*subscriber, 0, len(h.subs[token]))
	for s := range h.subs[token] {
		subs = append(subs, s)
	}
	h.mu.RUnlock()

	if len(subs) == 0 {
		return
	}

	update := Update{
		TokenAddress: token,
		Candles:      candles,
		Timestamp:    time.Now().UnixMilli(),
	}

	for _, sub := range subs {
		if err := sub.send(update); err != nil {
			h.remove(token, sub)
		}
	}
}

// SubscriberCount returns the number of connections subscribed to a token.
func (h *Hub) SubscriberCount(tokenAddress string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[strings.ToLower(tokenAddress)])
}

func (h *Hub) add(token string, sub *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.subs[token] == nil {
		h.subs[token] = make(map[*subscriber]struct{})
	}
	h.subs[token][sub] = struct{}{}
}

func (h *Hub) remove(token string, sub *subscriber) {
	h.mu.Lock()
	if subs, ok := h.subs[token]; ok {
		delete(subs, sub)
		if len(subs) == 0 {
			delete(h.subs, token)
		}
	}
	h.mu.Unlock()
	_ = sub.conn.Close()
}
