package api

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	streamWriteWait  = 10 * time.Second
	streamPongWait   = 60 * time.Second
	streamPingPeriod = 50 * time.Second
	streamBuffer     = 64
)

// StreamMessage is one JSON frame pushed to stream clients
type StreamMessage struct {
	Type      string      `json:"type"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

type streamClient struct {
	id   string
	send chan []byte
}

// Hub fans out session events to WebSocket clients on /api/stream.
// Slow clients drop messages instead of blocking the publisher.
type Hub struct {
	log      zerolog.Logger
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[string]*streamClient
}

// NewHub creates an empty hub
func NewHub(log zerolog.Logger) *Hub {
	return &Hub{
		log: log.With().Str("component", "stream").Logger(),
		upgrader: websocket.Upgrader{
			CheckOrigin:     func(r *http.Request) bool { return true },
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		clients: make(map[string]*streamClient),
	}
}

// Clients returns the number of connected clients
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Publish sends a message of kind to every connected client
func (h *Hub) Publish(kind string, data interface{}) {
	payload, err := json.Marshal(StreamMessage{Type: kind, Data: data, Timestamp: time.Now().UTC()})
	if err != nil {
		h.log.Error().Err(err).Str("type", kind).Msg("encoding stream message")
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for _, c := range h.clients {
		select {
		case c.send <- payload:
		default:
			h.log.Warn().Str("client", c.id).Str("type", kind).Msg("stream client too slow, message dropped")
		}
	}
}

func (h *Hub) register(c *streamClient) {
	h.mu.Lock()
	h.clients[c.id] = c
	h.mu.Unlock()
}

func (h *Hub) unregister(c *streamClient) {
	h.mu.Lock()
	delete(h.clients, c.id)
	h.mu.Unlock()
}

// serve upgrades the request and pumps messages until the client goes away
func (h *Hub) serve(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	client := &streamClient{id: uuid.NewString(), send: make(chan []byte, streamBuffer)}
	h.register(client)
	defer h.unregister(client)
	h.log.Debug().Str("client", client.id).Msg("stream client connected")

	// The read side only handles pongs and close frames
	readDone := make(chan struct{})
	go func() {
		defer close(readDone)
		conn.SetReadDeadline(time.Now().Add(streamPongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(streamPongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					h.log.Debug().Err(err).Str("client", client.id).Msg("stream read error")
				}
				return
			}
		}
	}()

	ticker := time.NewTicker(streamPingPeriod)
	defer ticker.Stop()

	for {
		select {
		case msg := <-client.send:
			conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(streamWriteWait)); err != nil {
				return
			}
		case <-readDone:
			h.log.Debug().Str("client", client.id).Msg("stream client disconnected")
			return
		case <-c.Request.Context().Done():
			return
		}
	}
}
