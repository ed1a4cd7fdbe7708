package bus

import (
	log "log/slog"
	"net/http"
	"sync"

	ws "github.com/gorilla/websocket"
)

// Hub relays every frame it receives to all other connected shards. Shards
// filter by recipient themselves.
type Hub struct {
	upgrader ws.Upgrader

	mu    sync.Mutex
	peers map[*peer]struct{}
}

type peer struct {
	conn *ws.Conn
	mu   sync.Mutex
}

func NewHub() *Hub {
	return &Hub{
		upgrader: ws.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
		peers:    map[*peer]struct{}{},
	}
}

func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn("Bus upgrade failed", "remote", r.RemoteAddr, "err", err)
		return
	}

	p := &peer{conn: conn}
	h.mu.Lock()
	h.peers[p] = struct{}{}
	h.mu.Unlock()
	log.Debug("Shard connected", "remote", r.RemoteAddr)

	defer func() {
		h.mu.Lock()
		delete(h.peers, p)
		h.mu.Unlock()
		conn.Close()
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		h.relay(p, data)
	}
}

func (h *Hub) relay(from *peer, data []byte) {
	h.mu.Lock()
	targets := make([]*peer, 0, len(h.peers))
	for p := range h.peers {
		if p != from {
			targets = append(targets, p)
		}
	}
	h.mu.Unlock()

	for _, p := range targets {
		p.mu.Lock()
		err := p.conn.WriteMessage(ws.TextMessage, data)
		p.mu.Unlock()
		if err != nil {
			log.Debug("Relay failed", "err", err)
		}
	}
}

// Peers reports how many shards are connected.
func (h *Hub) Peers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.peers)
}

// Close disconnects every shard.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for p := range h.peers {
		p.conn.Close()
	}
}
