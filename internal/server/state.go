package server

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/ayusman/spellcast/internal/presentation"
)

const (
	writeWait = 2 * time.Second

	// sendBuffer is how many snapshots may queue for one client before it
	// is dropped as too slow.
	sendBuffer = 16
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow local connections
	},
}

// StateHub is the web page's presentation surface. It renders states onto a
// presentation.Surface and pushes every resulting snapshot to the connected
// WebSocket clients.
type StateHub struct {
	surface *presentation.Surface
	logger  *zap.Logger

	mu      sync.Mutex
	clients map[*stateClient]bool
}

// stateClient is one connected page. Only its write pump writes to conn.
type stateClient struct {
	conn *websocket.Conn
	send chan []byte
}

// NewStateHub creates a StateHub over a surface themed with spells.
func NewStateHub(spells []presentation.Spell, logger *zap.Logger) *StateHub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StateHub{
		surface: presentation.NewSurface(spells),
		logger:  logger.Named("state"),
		clients: make(map[*stateClient]bool),
	}
}

// SetSpells replaces the effect slots known to the surface.
func (h *StateHub) SetSpells(spells []presentation.Spell) {
	h.surface.SetSpells(spells)
}

// Snapshot returns the current surface snapshot.
func (h *StateHub) Snapshot() presentation.Snapshot {
	return h.surface.Snapshot()
}

// Clients returns the number of connected WebSocket clients.
func (h *StateHub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Render implements presentation.Renderer. Snapshots are queued to every
// client in render order; a client whose queue is full is dropped.
func (h *StateHub) Render(state presentation.State) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.surface.Render(state); err != nil {
		return err
	}

	msg, err := json.Marshal(h.surface.Snapshot())
	if err != nil {
		return err
	}
	for c := range h.clients {
		select {
		case c.send <- msg:
		default:
			h.logger.Debug("dropping slow client", zap.Stringer("remote", c.conn.RemoteAddr()))
			h.drop(c)
		}
	}
	return nil
}

// drop removes c and stops its write pump. h.mu must be held.
func (h *StateHub) drop(c *stateClient) {
	delete(h.clients, c)
	close(c.send)
	c.conn.Close()
}

func (h *StateHub) writePump(c *stateClient) {
	defer c.conn.Close()

	for msg := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	c.conn.WriteMessage(websocket.CloseMessage, []byte{})
}

// ServeHTTP handles WebSocket upgrade requests on /api/state/ws. The current
// snapshot is sent right after the upgrade.
func (h *StateHub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade error", zap.Error(err))
		return
	}
	defer conn.Close()

	c := &stateClient{conn: conn, send: make(chan []byte, sendBuffer)}

	h.mu.Lock()
	msg, err := json.Marshal(h.surface.Snapshot())
	if err != nil {
		h.mu.Unlock()
		return
	}
	c.send <- msg
	h.clients[c] = true
	h.mu.Unlock()

	go h.writePump(c)

	// Keep connection alive by reading messages
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}

	h.mu.Lock()
	if h.clients[c] {
		h.drop(c)
	}
	h.mu.Unlock()
}

// handleState handles GET /api/state.
func (h *StateHub) handleState(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(h.surface.Snapshot()); err != nil {
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
	}
}
