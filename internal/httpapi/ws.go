package httpapi

import (
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
)

// hub maintains the websocket clients subscribed to one run's log
// stream and broadcasts log lines to them, ported from the teacher's
// internal/api.Hub (there keyed by agentID, here by runID) standing in
// for the spec's `logs` subscription.
type hub struct {
	mu      sync.Mutex
	clients map[*websocket.Conn]bool
}

var (
	hubs     = make(map[string]*hub)
	hubsMu   sync.Mutex
	upgrader = websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool { return true },
	}
)

// getHub returns the hub for runID, creating it on first use.
func getHub(runID string) *hub {
	hubsMu.Lock()
	defer hubsMu.Unlock()
	h, ok := hubs[runID]
	if !ok {
		h = &hub{clients: make(map[*websocket.Conn]bool)}
		hubs[runID] = h
	}
	return h
}

// Broadcast pushes a log line to every client currently subscribed to
// runID. Safe to call from any goroutine, including from inside a step
// executor mid-run.
func Broadcast(runID string, line []byte) {
	hubsMu.Lock()
	h, ok := hubs[runID]
	hubsMu.Unlock()
	if !ok {
		return
	}
	h.broadcast(line)
}

func (rt *Router) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	h := getHub(runID)
	h.addClient(conn)
	go h.readPump(conn)
}

func (h *hub) addClient(conn *websocket.Conn) {
	h.mu.Lock()
	h.clients[conn] = true
	h.mu.Unlock()
}

func (h *hub) removeClient(conn *websocket.Conn) {
	h.mu.Lock()
	delete(h.clients, conn)
	h.mu.Unlock()
	conn.Close()
}

func (h *hub) broadcast(message []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for conn := range h.clients {
		conn.WriteMessage(websocket.TextMessage, message)
	}
}

// readPump drains a client's incoming frames until it disconnects. The
// log stream is one-directional (server to client); incoming frames are
// discarded rather than rebroadcast, unlike the teacher's Hub which
// treats every connected client as both publisher and subscriber.
func (h *hub) readPump(conn *websocket.Conn) {
	defer h.removeClient(conn)
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
