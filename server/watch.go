package server

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	marcidb "github.com/den59k/marci-db"
)

const (
	watchWriteTimeout = 10 * time.Second
	watchSendBuffer   = 64
)

var watchUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// watchHub fans committed change events out to websocket subscribers.
// Events arrive from the engine's OnChange hook on the committing
// goroutine; a buffered channel decouples commit latency from slow
// clients, and a client whose buffer fills is dropped.
type watchHub struct {
	logger *zap.Logger

	events chan marcidb.Change
	done   chan struct{}

	lock    sync.Mutex
	clients map[*watchClient]struct{}
	running bool
}

type watchClient struct {
	conn *websocket.Conn
	send chan marcidb.Change
}

func newWatchHub(logger *zap.Logger) *watchHub {
	return &watchHub{
		logger:  logger,
		events:  make(chan marcidb.Change, 256),
		done:    make(chan struct{}),
		clients: make(map[*watchClient]struct{}),
	}
}

func (h *watchHub) start() {
	h.lock.Lock()
	if h.running {
		h.lock.Unlock()
		return
	}
	h.running = true
	h.lock.Unlock()
	go h.run()
}

func (h *watchHub) stop() {
	close(h.done)
}

// publish is installed as the engine's OnChange handler. It must not
// block the committing transaction, so a full hub drops the event.
func (h *watchHub) publish(c marcidb.Change) {
	select {
	case h.events <- c:
	default:
		h.logger.Warn("watch hub overflow, dropping event",
			zap.String("model", c.Model), zap.Uint64("id", uint64(c.ID)))
	}
}

func (h *watchHub) run() {
	for {
		select {
		case <-h.done:
			h.lock.Lock()
			for c := range h.clients {
				close(c.send)
			}
			h.clients = make(map[*watchClient]struct{})
			h.lock.Unlock()
			return
		case ev := <-h.events:
			h.lock.Lock()
			for c := range h.clients {
				select {
				case c.send <- ev:
				default:
					// Slow consumer; drop it rather than stall the feed.
					close(c.send)
					delete(h.clients, c)
				}
			}
			h.lock.Unlock()
		}
	}
}

func (h *watchHub) handleWatch(w http.ResponseWriter, r *http.Request) {
	conn, err := watchUpgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("watch upgrade failed", zap.Error(err))
		return
	}
	c := &watchClient{conn: conn, send: make(chan marcidb.Change, watchSendBuffer)}
	h.lock.Lock()
	h.clients[c] = struct{}{}
	h.lock.Unlock()

	go c.writePump(h.logger)
	c.readPump(h)
}

func (h *watchHub) remove(c *watchClient) {
	h.lock.Lock()
	defer h.lock.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
}

// readPump discards inbound frames; its job is noticing the close.
func (c *watchClient) readPump(h *watchHub) {
	defer func() {
		h.remove(c)
		c.conn.Close()
	}()
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (c *watchClient) writePump(logger *zap.Logger) {
	defer c.conn.Close()
	for ev := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(watchWriteTimeout))
		if err := c.conn.WriteJSON(ev); err != nil {
			logger.Debug("watch client write failed", zap.Error(err))
			return
		}
	}
	c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}
