package api

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/zde37/chordfs/internal/chord"
	"github.com/zde37/chordfs/pkg"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10 // must stay below pongWait
	maxInboundSize = 512                 // subscribers only send control frames
	sendQueueSize  = 256
	eventQueueSize = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // read-only event feed
	},
}

var _ chord.RingUpdateBroadcaster = (*WebSocketHub)(nil)

// subscriber is one WebSocket connection receiving ring events.
type subscriber struct {
	hub   *WebSocketHub
	conn  *websocket.Conn
	queue chan []byte
}

// WebSocketHub fans ring events out to connected WebSocket subscribers. Run
// owns the subscriber set; mu only guards reads from ClientCount.
type WebSocketHub struct {
	mu          sync.RWMutex
	subscribers map[*subscriber]struct{}

	events   chan []byte
	join     chan *subscriber
	drop     chan *subscriber
	shutdown chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	logger *pkg.Logger
}

// NewWebSocketHub creates a new WebSocket hub.
func NewWebSocketHub(logger *pkg.Logger) *WebSocketHub {
	return &WebSocketHub{
		subscribers: make(map[*subscriber]struct{}),
		events:      make(chan []byte, eventQueueSize),
		join:        make(chan *subscriber),
		drop:        make(chan *subscriber),
		shutdown:    make(chan struct{}),
		logger:      logger,
	}
}

// Run serves subscriber joins, drops and events until Stop.
func (h *WebSocketHub) Run() {
	h.wg.Add(1)
	defer h.wg.Done()

	for {
		select {
		case sub := <-h.join:
			h.mu.Lock()
			h.subscribers[sub] = struct{}{}
			total := len(h.subscribers)
			h.mu.Unlock()
			h.logger.Info().Int("subscribers", total).Msg("WebSocket subscriber connected")

		case sub := <-h.drop:
			h.mu.Lock()
			removed := h.removeLocked(sub)
			total := len(h.subscribers)
			h.mu.Unlock()
			if removed {
				h.logger.Info().Int("subscribers", total).Msg("WebSocket subscriber disconnected")
			}

		case event := <-h.events:
			h.mu.Lock()
			for sub := range h.subscribers {
				select {
				case sub.queue <- event:
				default:
					// a full queue means the subscriber stopped reading
					h.removeLocked(sub)
					h.logger.Warn().Msg("WebSocket subscriber queue full, disconnecting")
				}
			}
			h.mu.Unlock()

		case <-h.shutdown:
			h.mu.Lock()
			for sub := range h.subscribers {
				h.removeLocked(sub)
				sub.conn.Close()
			}
			h.mu.Unlock()
			h.logger.Info().Msg("WebSocket hub stopped")
			return
		}
	}
}

// removeLocked forgets sub and closes its queue. Callers hold h.mu.
func (h *WebSocketHub) removeLocked(sub *subscriber) bool {
	if _, ok := h.subscribers[sub]; !ok {
		return false
	}
	delete(h.subscribers, sub)
	close(sub.queue)
	return true
}

// ClientCount returns the number of connected subscribers.
func (h *WebSocketHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers)
}

// Stop disconnects every subscriber and waits for Run to return.
func (h *WebSocketHub) Stop() {
	h.stopOnce.Do(func() { close(h.shutdown) })
	h.wg.Wait()
}

// readLoop only answers pings and notices the connection going away.
func (sub *subscriber) readLoop() {
	defer func() {
		select {
		case sub.hub.drop <- sub:
		case <-sub.hub.shutdown:
		}
		sub.conn.Close()
	}()

	sub.conn.SetReadLimit(maxInboundSize)
	_ = sub.conn.SetReadDeadline(time.Now().Add(pongWait))
	sub.conn.SetPongHandler(func(string) error {
		return sub.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := sub.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				sub.hub.logger.Debug().Err(err).Msg("WebSocket closed unexpectedly")
			}
			return
		}
	}
}

// writeLoop is the connection's only writer: queued events, one per frame,
// and periodic pings.
func (sub *subscriber) writeLoop() {
	ping := time.NewTicker(pingPeriod)
	defer func() {
		ping.Stop()
		sub.conn.Close()
	}()

	for {
		select {
		case event, ok := <-sub.queue:
			_ = sub.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// dropped by the hub
				_ = sub.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := sub.conn.WriteMessage(websocket.TextMessage, event); err != nil {
				return
			}

		case <-ping.C:
			_ = sub.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := sub.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// HandleWebSocket upgrades the request and subscribes it to ring events.
func (h *WebSocketHub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Msg("WebSocket upgrade failed")
		return
	}

	sub := &subscriber{hub: h, conn: conn, queue: make(chan []byte, sendQueueSize)}
	select {
	case h.join <- sub:
	case <-h.shutdown:
		conn.Close()
		return
	}

	go sub.writeLoop()
	go sub.readLoop()
}

// BroadcastRingUpdate encodes update as JSON and queues it for every
// subscriber. Events are dropped when the hub is backed up.
func (h *WebSocketHub) BroadcastRingUpdate(update any) error {
	data, err := json.Marshal(update)
	if err != nil {
		return err
	}

	select {
	case h.events <- data:
	default:
		h.logger.Warn().Msg("Ring event queue full, dropping event")
	}
	return nil
}
