// Package notify fans session events out to live watchers: browser
// dashboards over websocket and terminal monitors over a gRPC stream.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"google.golang.org/protobuf/types/known/structpb"

	types "github.com/sebas/callrouter/api/types/v1"
	"github.com/sebas/callrouter/internal/callrouter/events"
)

// ActiveSessions is the event name of the greeting sent to new watchers.
const ActiveSessions = "active-sessions"

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10

	defaultSendBuffer = 64
)

// Message is the envelope delivered to every watcher.
type Message struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// Decode converts Data into v via its JSON form.
func (m Message) Decode(v any) error {
	raw, err := json.Marshal(m.Data)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, v)
}

// SnapshotFunc returns the sessions that are live right now.
type SnapshotFunc func() []types.Session

// Hub is an events.Publisher that broadcasts to connected watchers.
type Hub struct {
	snapshot SnapshotFunc
	logger   *slog.Logger
	upgrader websocket.Upgrader

	mu       sync.RWMutex
	clients  map[*client]struct{}
	watchers map[*watcher]struct{}
	closed   bool
}

var _ events.Publisher = (*Hub)(nil)

// NewHub creates a hub. snapshot may be nil.
func NewHub(snapshot SnapshotFunc, logger *slog.Logger) *Hub {
	if snapshot == nil {
		snapshot = func() []types.Session { return nil }
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		snapshot: snapshot,
		logger:   logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		clients:  make(map[*client]struct{}),
		watchers: make(map[*watcher]struct{}),
	}
}

// client is one websocket connection.
type client struct {
	conn *websocket.Conn
	send chan []byte
	once sync.Once
}

func (c *client) close() {
	c.once.Do(func() { close(c.send) })
}

// watcher is one gRPC stream.
type watcher struct {
	send chan *structpb.Struct
	done chan struct{}
	once sync.Once
}

func (w *watcher) close() {
	w.once.Do(func() { close(w.done) })
}

// ServeHTTP upgrades the request to a websocket and streams events to it.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("[Notify] Websocket upgrade failed", "error", err, "remote", r.RemoteAddr)
		return
	}

	greeting, err := json.Marshal(h.greeting())
	if err != nil {
		h.logger.Error("[Notify] Failed to encode active sessions", "error", err)
		conn.Close()
		return
	}

	c := &client{conn: conn, send: make(chan []byte, defaultSendBuffer)}
	c.send <- greeting

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		conn.Close()
		return
	}
	h.clients[c] = struct{}{}
	count := len(h.clients)
	h.mu.Unlock()

	h.logger.Info("[Notify] Websocket client connected", "remote", r.RemoteAddr, "clients", count)

	go h.writePump(c)
	h.readPump(c)
}

func (h *Hub) greeting() Message {
	sessions := h.snapshot()
	if sessions == nil {
		sessions = []types.Session{}
	}
	return Message{Event: ActiveSessions, Data: sessions}
}

// readPump drains client frames so control messages are processed and
// returns when the connection is gone.
func (h *Hub) readPump(c *client) {
	defer h.removeClient(c)

	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug("[Notify] Websocket read error", "error", err)
			}
			return
		}
	}
}

func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (h *Hub) removeClient(c *client) {
	h.mu.Lock()
	_, ok := h.clients[c]
	delete(h.clients, c)
	h.mu.Unlock()
	c.close()
	if ok {
		h.logger.Info("[Notify] Websocket client disconnected", "remote", c.conn.RemoteAddr().String())
	}
}

func (h *Hub) addWatcher() (*watcher, error) {
	greeting, err := toStruct(h.greeting())
	if err != nil {
		return nil, err
	}
	w := &watcher{send: make(chan *structpb.Struct, defaultSendBuffer), done: make(chan struct{})}
	w.send <- greeting

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, fmt.Errorf("notify hub closed")
	}
	h.watchers[w] = struct{}{}
	return w, nil
}

func (h *Hub) removeWatcher(w *watcher) {
	h.mu.Lock()
	delete(h.watchers, w)
	h.mu.Unlock()
	w.close()
}

// Publish broadcasts event to every watcher.
func (h *Hub) Publish(ctx context.Context, event events.Event) error {
	return h.broadcast(Message{Event: event.Type().ClientName(), Data: event.Payload()})
}

// PublishAsync broadcasts event to every watcher. Delivery never blocks.
func (h *Hub) PublishAsync(event events.Event) {
	if err := h.Publish(context.Background(), event); err != nil {
		h.logger.Warn("[Notify] Broadcast failed", "type", event.Type(), "error", err)
	}
}

func (h *Hub) broadcast(msg Message) error {
	raw, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode %s: %w", msg.Event, err)
	}

	h.mu.RLock()
	if h.closed {
		h.mu.RUnlock()
		return nil
	}
	var st *structpb.Struct
	if len(h.watchers) > 0 {
		if st, err = rawToStruct(raw); err != nil {
			h.mu.RUnlock()
			return fmt.Errorf("encode %s: %w", msg.Event, err)
		}
	}

	var slowClients []*client
	for c := range h.clients {
		select {
		case c.send <- raw:
		default:
			slowClients = append(slowClients, c)
		}
	}
	var slowWatchers []*watcher
	for w := range h.watchers {
		select {
		case w.send <- st:
		default:
			slowWatchers = append(slowWatchers, w)
		}
	}
	h.mu.RUnlock()

	for _, c := range slowClients {
		h.logger.Warn("[Notify] Dropping slow websocket client", "remote", c.conn.RemoteAddr().String())
		h.removeClient(c)
	}
	for _, w := range slowWatchers {
		h.logger.Warn("[Notify] Dropping slow stream watcher")
		h.removeWatcher(w)
	}
	return nil
}

// Clients returns the number of connected websocket clients and stream
// watchers.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients) + len(h.watchers)
}

// Close disconnects every watcher. Later publishes are dropped.
func (h *Hub) Close() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	clients := h.clients
	watchers := h.watchers
	h.clients = make(map[*client]struct{})
	h.watchers = make(map[*watcher]struct{})
	h.mu.Unlock()

	for c := range clients {
		c.close()
	}
	for w := range watchers {
		w.close()
	}
	return nil
}

func toStruct(msg Message) (*structpb.Struct, error) {
	raw, err := json.Marshal(msg)
	if err != nil {
		return nil, err
	}
	return rawToStruct(raw)
}

func rawToStruct(raw []byte) (*structpb.Struct, error) {
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	return structpb.NewStruct(m)
}
