// Package feed broadcasts per-tick readings to WebSocket subscribers such
// as dashboards and notifiers.
package feed

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Update is the per-tick payload pushed to subscribers.
type Update struct {
	WindowID      string  `json:"window_id"`
	TimeToCloseMs int64   `json:"ttc_ms"`
	AskUp         float64 `json:"ask_up"`
	AskDown       float64 `json:"ask_down"`
	UpImbalance   float64 `json:"up_imbalance"`
	DownImbalance float64 `json:"down_imbalance"`
	Signal        string  `json:"signal"`
	Strength      string  `json:"strength"`
	Trend         string  `json:"trend"`
	PriceToBeat   float64 `json:"price_to_beat,omitempty"`
	Timestamp     int64   `json:"timestamp"`
}

// Hub accepts WebSocket subscribers and fans updates out to them.
// Broadcast never blocks the caller: a slow client is dropped.
type Hub struct {
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[*websocket.Conn]bool
}

func NewHub() *Hub {
	return &Hub{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		clients: make(map[*websocket.Conn]bool),
	}
}

// ServeHTTP upgrades the connection and keeps it registered until the
// client goes away.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("websocket upgrade failed", "error", err)
		return
	}

	h.mu.Lock()
	h.clients[conn] = true
	count := len(h.clients)
	h.mu.Unlock()
	slog.Info("feed client connected", "clients", count)

	// Drain reads so close frames are processed; we never expect input.
	go func() {
		defer h.drop(conn)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

// Broadcast sends the update to every connected client.
func (h *Hub) Broadcast(u Update) {
	h.mu.RLock()
	conns := make([]*websocket.Conn, 0, len(h.clients))
	for c := range h.clients {
		conns = append(conns, c)
	}
	h.mu.RUnlock()

	for _, c := range conns {
		c.SetWriteDeadline(time.Now().Add(2 * time.Second))
		if err := c.WriteJSON(u); err != nil {
			slog.Debug("dropping slow feed client", "error", err)
			h.drop(c)
		}
	}
}

func (h *Hub) drop(c *websocket.Conn) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		c.Close()
	}
	h.mu.Unlock()
}

// Serve runs the feed HTTP listener until the context is cancelled.
func (h *Hub) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/feed", h)

	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	slog.Info("feed listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}
