package web

import (
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"pastelflow/internal/editor"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingInterval   = 30 * time.Second
	maxClientFrame = 512
)

// Hub pushes editor state snapshots to the WebSocket clients of a session.
type Hub struct {
	mu       sync.Mutex
	subs     map[string]map[*subscriber]struct{}
	closed   bool
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

type subscriber struct {
	send chan editor.State
}

func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Hub{
		subs:   make(map[string]map[*subscriber]struct{}),
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// Publish hands st to every client of the session. A slow client only ever
// holds the newest state: an undelivered older one is replaced.
func (h *Hub) Publish(sessionID string, st editor.State) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for sub := range h.subs[sessionID] {
		replaceLatest(sub.send, st)
	}
}

// offer queues st for one client unless a newer published state is already
// waiting or the client is gone.
func (h *Hub) offer(sessionID string, sub *subscriber, st editor.State) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.subs[sessionID][sub]; !ok {
		return
	}
	select {
	case sub.send <- st:
	default:
	}
}

func replaceLatest(ch chan editor.State, st editor.State) {
	select {
	case ch <- st:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- st:
	default:
	}
}

// Clients counts open connections across all sessions.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()

	n := 0
	for _, set := range h.subs {
		n += len(set)
	}
	return n
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.closed = true
	for id, set := range h.subs {
		for sub := range set {
			close(sub.send)
		}
		delete(h.subs, id)
	}
}

// Serve upgrades the request and streams the session's states. The client
// is registered before snapshot is taken, so no change between the two is
// lost.
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request, sessionID string, snapshot func() editor.State) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "err", err)
		return
	}

	sub := &subscriber{send: make(chan editor.State, 1)}
	if !h.add(sessionID, sub) {
		_ = conn.Close()
		return
	}
	h.offer(sessionID, sub, snapshot())

	go h.readLoop(conn, sessionID, sub)
	h.writeLoop(conn, sub)
}

func (h *Hub) add(sessionID string, sub *subscriber) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return false
	}
	set, ok := h.subs[sessionID]
	if !ok {
		set = make(map[*subscriber]struct{})
		h.subs[sessionID] = set
	}
	set[sub] = struct{}{}
	return true
}

func (h *Hub) remove(sessionID string, sub *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()

	set, ok := h.subs[sessionID]
	if !ok {
		return
	}
	if _, ok := set[sub]; !ok {
		return
	}
	delete(set, sub)
	close(sub.send)
	if len(set) == 0 {
		delete(h.subs, sessionID)
	}
}

// readLoop drains client frames so pongs and close frames are processed.
func (h *Hub) readLoop(conn *websocket.Conn, sessionID string, sub *subscriber) {
	defer h.remove(sessionID, sub)

	conn.SetReadLimit(maxClientFrame)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writeLoop(conn *websocket.Conn, sub *subscriber) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		_ = conn.Close()
	}()

	for {
		select {
		case st, ok := <-sub.send:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
				return
			}
			if err := conn.WriteJSON(st); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
