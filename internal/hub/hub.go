// Package hub is the Subscriber Hub (C2): a WebSocket fan-out broadcaster
// for live events, incidents, and stats pushed to connected dashboards.
package hub

import (
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/arc-sentinel/sentinel/pkg/metrics"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second
	maxMessageSize = 4096
	sendBufferSize = 64
)

// MessageType is the discriminator carried on every broadcast envelope.
type MessageType string

const (
	MessageEvent    MessageType = "event"
	MessageIncident MessageType = "incident"
	MessageStats    MessageType = "stats"
	MessageResponse MessageType = "response_action"
)

// Message is the wire envelope sent to every subscriber.
type Message struct {
	Type      MessageType `json:"type"`
	Event     MessageType `json:"event"` // legacy alias some dashboard clients still read
	Data      any         `json:"data"`
	Timestamp time.Time   `json:"timestamp"`
}

type subscriber struct {
	id   string
	conn *websocket.Conn
	send chan Message
}

// Hub is the subscriber registry and broadcast fan-out point. Zero value
// is not usable; construct with New.
type Hub struct {
	mu          sync.RWMutex
	subscribers map[string]*subscriber
	upgrader    websocket.Upgrader
}

// New builds a Hub. allowedOrigins empty means allow all (dev/demo mode).
func New(allowedOrigins []string) *Hub {
	h := &Hub{
		subscribers: make(map[string]*subscriber),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowedOrigins) == 0 {
				return true
			}
			origin := r.Header.Get("Origin")
			for _, o := range allowedOrigins {
				if o == "*" || o == origin {
					return true
				}
			}
			return false
		},
	}
	return h
}

// ServeWS upgrades the request and registers a new subscriber.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("hub: upgrade failed")
		return
	}

	sub := &subscriber{
		id:   uuid.NewString(),
		conn: conn,
		send: make(chan Message, sendBufferSize),
	}

	h.mu.Lock()
	h.subscribers[sub.id] = sub
	count := len(h.subscribers)
	h.mu.Unlock()
	metrics.SubscribersActive.Set(float64(count))

	log.Info().Str("subscriber_id", sub.id).Int("total", count).Msg("hub: subscriber connected")

	go h.writeLoop(sub)
	go h.readLoop(sub)
}

func (h *Hub) readLoop(sub *subscriber) {
	defer h.disconnect(sub)

	sub.conn.SetReadLimit(maxMessageSize)
	_ = sub.conn.SetReadDeadline(time.Now().Add(pongWait))
	sub.conn.SetPongHandler(func(string) error {
		return sub.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := sub.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Debug().Err(err).Str("subscriber_id", sub.id).Msg("hub: read error")
			}
			return
		}
	}
}

func (h *Hub) writeLoop(sub *subscriber) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = sub.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-sub.send:
			_ = sub.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = sub.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			b, err := json.Marshal(msg)
			if err != nil {
				log.Error().Err(err).Msg("hub: marshal failed")
				continue
			}
			if err := sub.conn.WriteMessage(websocket.TextMessage, b); err != nil {
				return
			}
		case <-ticker.C:
			_ = sub.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := sub.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (h *Hub) disconnect(sub *subscriber) {
	h.mu.Lock()
	if _, ok := h.subscribers[sub.id]; ok {
		delete(h.subscribers, sub.id)
		close(sub.send)
	}
	count := len(h.subscribers)
	h.mu.Unlock()
	metrics.SubscribersActive.Set(float64(count))
	log.Info().Str("subscriber_id", sub.id).Int("remaining", count).Msg("hub: subscriber disconnected")
}

// Broadcast fans data out to every connected subscriber. Non-blocking:
// a subscriber whose send buffer is full is dropped rather than stalling
// the caller (materializer/telemetry), matching the "never block
// ingestion on a slow client" requirement in spec.md §4.2.
func (h *Hub) Broadcast(t MessageType, data any) {
	msg := Message{Type: t, Event: MessageType(strings.ToUpper(string(t))), Data: data, Timestamp: time.Now().UTC()}

	h.mu.RLock()
	targets := make([]*subscriber, 0, len(h.subscribers))
	for _, s := range h.subscribers {
		targets = append(targets, s)
	}
	h.mu.RUnlock()

	for _, sub := range targets {
		select {
		case sub.send <- msg:
		default:
			go h.disconnect(sub)
		}
	}
	metrics.BroadcastsSent.WithLabelValues(string(t)).Inc()
}

// Count returns the current subscriber count.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers)
}
