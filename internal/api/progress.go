package api

import (
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/particlekit/particlekit/internal/paint"
)

// ProgressHub streams painting progress to websocket clients. It implements
// paint.Observer so it can be handed straight to a run.
type ProgressHub struct {
	logger      *zap.Logger
	connections map[*websocket.Conn]bool
	broadcast   chan *ProgressMessage
	register    chan *websocket.Conn
	unregister  chan *websocket.Conn
	done        chan struct{}
	closeOnce   sync.Once
	mutex       sync.RWMutex
	upgrader    websocket.Upgrader
}

// ProgressMessage is one event sent to clients
type ProgressMessage struct {
	Type      string            `json:"type"` // "chunk", "done", "run"
	Timestamp int64             `json:"timestamp"`
	Chunk     *paint.ChunkEvent `json:"chunk,omitempty"`
	Done      *paint.DoneEvent  `json:"done,omitempty"`
	Run       string            `json:"run,omitempty"`
	Error     string            `json:"error,omitempty"`
}

// NewProgressHub creates a hub and starts its dispatch loop
func NewProgressHub(logger *zap.Logger) *ProgressHub {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &ProgressHub{
		logger:      logger.Named("progress"),
		connections: make(map[*websocket.Conn]bool),
		broadcast:   make(chan *ProgressMessage, 256),
		register:    make(chan *websocket.Conn),
		unregister:  make(chan *websocket.Conn),
		done:        make(chan struct{}),
		upgrader: websocket.Upgrader{
			CheckOrigin:     localOrigin,
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
	go h.run()
	return h
}

// localOrigin accepts same-origin and loopback browsers only
func localOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, prefix := range []string{"http://localhost", "https://localhost", "http://127.0.0.1", "https://127.0.0.1"} {
		if strings.HasPrefix(origin, prefix) {
			return true
		}
	}
	return false
}

func (h *ProgressHub) run() {
	for {
		select {
		case <-h.done:
			h.mutex.Lock()
			for conn := range h.connections {
				conn.Close()
				delete(h.connections, conn)
			}
			h.mutex.Unlock()
			return

		case conn := <-h.register:
			h.mutex.Lock()
			h.connections[conn] = true
			n := len(h.connections)
			h.mutex.Unlock()
			h.logger.Debug("client connected", zap.Int("clients", n))

		case conn := <-h.unregister:
			h.mutex.Lock()
			if _, ok := h.connections[conn]; ok {
				delete(h.connections, conn)
				conn.Close()
			}
			n := len(h.connections)
			h.mutex.Unlock()
			h.logger.Debug("client disconnected", zap.Int("clients", n))

		case msg := <-h.broadcast:
			h.sendToAll(msg)
		}
	}
}

func (h *ProgressHub) sendToAll(msg *ProgressMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Warn("failed to marshal progress message", zap.Error(err))
		return
	}

	h.mutex.RLock()
	var failed []*websocket.Conn
	for conn := range h.connections {
		conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			failed = append(failed, conn)
		}
	}
	h.mutex.RUnlock()

	if len(failed) > 0 {
		h.mutex.Lock()
		for _, conn := range failed {
			if _, ok := h.connections[conn]; ok {
				conn.Close()
				delete(h.connections, conn)
			}
		}
		h.mutex.Unlock()
	}
}

// Clients returns the number of connected clients
func (h *ProgressHub) Clients() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.connections)
}

// HandleWebSocket upgrades the request and subscribes the client
func (h *ProgressHub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("failed to upgrade connection", zap.Error(err))
		return
	}
	select {
	case h.register <- conn:
	case <-h.done:
		conn.Close()
		return
	}
	go h.readMessages(conn)
}

// readMessages drains the client until it goes away
func (h *ProgressHub) readMessages(conn *websocket.Conn) {
	defer func() {
		select {
		case h.unregister <- conn:
		case <-h.done:
		}
	}()

	conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.logger.Debug("websocket error", zap.Error(err))
			}
			return
		}
	}
}

// publish queues msg without blocking the painter. Messages are dropped when
// the queue is full.
func (h *ProgressHub) publish(msg *ProgressMessage) {
	msg.Timestamp = time.Now().Unix()
	select {
	case h.broadcast <- msg:
	case <-h.done:
	default:
		h.logger.Debug("progress queue full, dropping message", zap.String("type", msg.Type))
	}
}

// ChunkPainted forwards a chunk event
func (h *ProgressHub) ChunkPainted(e paint.ChunkEvent) {
	h.publish(&ProgressMessage{Type: "chunk", Chunk: &e})
}

// Done forwards a rank's completion
func (h *ProgressHub) Done(e paint.DoneEvent) {
	h.publish(&ProgressMessage{Type: "done", Done: &e})
}

// RunFinished announces a recorded run, or the error that ended it
func (h *ProgressHub) RunFinished(id string, err error) {
	msg := &ProgressMessage{Type: "run", Run: id}
	if err != nil {
		msg.Error = err.Error()
	}
	h.publish(msg)
}

// Close stops the hub and disconnects every client
func (h *ProgressHub) Close() {
	h.closeOnce.Do(func() { close(h.done) })
}
