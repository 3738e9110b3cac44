package notify

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

const (
	subscriberBuffer = 32
	writeTimeout     = 5 * time.Second
	pingInterval     = 15 * time.Second
	readTimeout      = 60 * time.Second
)

// Hub keeps per-session subscriber channels and streams them over
// websockets.
type Hub struct {
	mu     sync.Mutex
	subs   map[string]map[uint64]chan Change
	closed bool

	upgrader websocket.Upgrader
	nextID   atomic.Uint64
	dropped  atomic.Uint64
}

// NewHub creates an empty hub. Browser upgrades are accepted from the
// given origins, or from anywhere when one of them is "*". Same-origin
// pages and clients that send no Origin header are always accepted.
func NewHub(allowedOrigins ...string) *Hub {
	return &Hub{
		subs: make(map[string]map[uint64]chan Change),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4 * 1024,
			WriteBufferSize: 4 * 1024,
			CheckOrigin:     originChecker(allowedOrigins),
		},
	}
}

func originChecker(allowed []string) func(*http.Request) bool {
	set := make(map[string]bool, len(allowed))
	for _, o := range allowed {
		o = strings.ToLower(strings.TrimRight(strings.TrimSpace(o), "/"))
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
		if o != "" {
			set[o] = true
		}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		if set[strings.ToLower(strings.TrimRight(origin, "/"))] {
			return true
		}
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		return strings.EqualFold(u.Host, r.Host)
	}
}

// Publish delivers c to every subscriber of its session. A subscriber
// whose buffer is full misses the change.
func (h *Hub) Publish(c Change) {
	if c.At.IsZero() {
		c.At = time.Now().UTC()
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, ch := range h.subs[c.SessionID] {
		select {
		case ch <- c:
		default:
			h.dropped.Add(1)
		}
	}
}

// Subscribe registers a listener for one session.
func (h *Hub) Subscribe(sessionID string) (uint64, <-chan Change) {
	id := h.nextID.Add(1)
	ch := make(chan Change, subscriberBuffer)

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		close(ch)
		return id, ch
	}
	if h.subs[sessionID] == nil {
		h.subs[sessionID] = make(map[uint64]chan Change)
	}
	h.subs[sessionID][id] = ch
	return id, ch
}

// Unsubscribe removes a listener and closes its channel.
func (h *Hub) Unsubscribe(sessionID string, id uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set := h.subs[sessionID]
	ch, ok := set[id]
	if !ok {
		return
	}
	delete(set, id)
	close(ch)
	if len(set) == 0 {
		delete(h.subs, sessionID)
	}
}

// Subscribers returns how many listeners a session has.
func (h *Hub) Subscribers(sessionID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[sessionID])
}

// Dropped returns how many changes were discarded for slow subscribers.
func (h *Hub) Dropped() uint64 {
	return h.dropped.Load()
}

// Close ends every subscription.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for sid, set := range h.subs {
		for id, ch := range set {
			close(ch)
			delete(set, id)
		}
		delete(h.subs, sid)
	}
}

// ServeWS upgrades the request and streams the session's changes as JSON
// text frames until the client goes away or the hub closes.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, sessionID string) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("websocket upgrade failed", "session", sessionID, "error", err)
		return
	}
	defer conn.Close()

	subID, changes := h.Subscribe(sessionID)
	defer h.Unsubscribe(sessionID, subID)
	slog.Info("stream client connected", "session", sessionID, "sub_id", subID)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// Reader: only control frames are expected; any error ends the stream.
	go func() {
		defer cancel()
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(readTimeout))
		})
		for {
			_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(pingInterval)
	defer ping.Stop()

	for {
		select {
		case c, ok := <-changes:
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
					time.Now().Add(time.Second))
				return
			}
			b, err := json.Marshal(c)
			if err != nil {
				continue
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout)); err != nil {
				return
			}
		case <-ctx.Done():
			slog.Info("stream client disconnected", "session", sessionID, "sub_id", subID)
			return
		}
	}
}
