package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/ironstar-game/ironstar/game"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxFrameSize   = 1024
	clientBufSize  = 64
	inboundPerSec  = 5
	inboundBurst   = 10
	hubQueueLength = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || origin == "http://"+r.Host || origin == "https://"+r.Host
	},
}

// pushFrame is the JSON shape delivered to connected clients.
type pushFrame struct {
	Type string        `json:"type"`
	Data *game.Message `json:"data"`
}

// inboundFrame is the only client-to-server request: marking a message read.
type inboundFrame struct {
	Type      string `json:"type"`
	MessageID int64  `json:"messageId"`
}

// Client is one websocket connection bound to a user id.
type Client struct {
	hub     *Hub
	conn    *websocket.Conn
	send    chan []byte
	userID  int64
	limiter *rate.Limiter
}

type hubDelivery struct {
	userID int64
	frame  []byte
}

// Hub fans fresh notifications out to connected clients. Registration,
// unregistration and delivery all run through the hub goroutine, so client
// set access needs no lock of its own.
type Hub struct {
	messages *MessageCache
	log      zerolog.Logger

	clients map[*Client]bool
	byUser  map[int64]map[*Client]bool

	register   chan *Client
	unregister chan *Client
	deliveries chan hubDelivery

	stop chan struct{}
	done chan struct{}
}

// NewHub builds the hub and installs itself as the message cache's push
// hook.
func NewHub(messages *MessageCache, log zerolog.Logger) *Hub {
	h := &Hub{
		messages:   messages,
		log:        log.With().Str("component", "hub").Logger(),
		clients:    make(map[*Client]bool),
		byUser:     make(map[int64]map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		deliveries: make(chan hubDelivery, hubQueueLength),
	}
	messages.SetPush(h.Push)
	return h
}

// Run processes hub events until Stop.
func (h *Hub) Run() {
	if h.stop != nil {
		return
	}
	h.stop = make(chan struct{})
	h.done = make(chan struct{})
	go func() {
		defer close(h.done)
		for {
			select {
			case c := <-h.register:
				h.clients[c] = true
				if h.byUser[c.userID] == nil {
					h.byUser[c.userID] = make(map[*Client]bool)
				}
				h.byUser[c.userID][c] = true
				h.log.Debug().Int64("user", c.userID).Msg("client connected")

			case c := <-h.unregister:
				if _, ok := h.clients[c]; ok {
					delete(h.clients, c)
					delete(h.byUser[c.userID], c)
					if len(h.byUser[c.userID]) == 0 {
						delete(h.byUser, c.userID)
					}
					close(c.send)
				}

			case d := <-h.deliveries:
				for c := range h.byUser[d.userID] {
					select {
					case c.send <- d.frame:
					default:
						// Slow consumer: drop the frame, never block the hub.
						h.log.Warn().Int64("user", c.userID).Msg("client buffer full, frame dropped")
					}
				}

			case <-h.stop:
				for c := range h.clients {
					close(c.send)
					c.conn.Close()
				}
				return
			}
		}
	}()
}

// Stop shuts the hub down and disconnects every client.
func (h *Hub) Stop() {
	if h.stop == nil {
		return
	}
	close(h.stop)
	<-h.done
	h.stop = nil
}

// Push queues one message for live delivery. Safe to call from any task;
// drops when the hub queue is full.
func (h *Hub) Push(m *game.Message) {
	frame, err := json.Marshal(pushFrame{Type: "message", Data: m})
	if err != nil {
		h.log.Error().Err(err).Msg("frame encode failed")
		return
	}
	select {
	case h.deliveries <- hubDelivery{userID: m.RecipientID, frame: frame}:
	default:
		h.log.Warn().Int64("user", m.RecipientID).Msg("hub queue full, frame dropped")
	}
}

// HandleWS upgrades an HTTP request into a notification connection. The
// user identifies via the user query parameter; session validation happens
// upstream.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	userID, err := strconv.ParseInt(r.URL.Query().Get("user"), 10, 64)
	if err != nil || userID <= 0 {
		http.Error(w, "missing or invalid user", http.StatusBadRequest)
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn().Err(err).Msg("upgrade failed")
		return
	}
	c := &Client{
		hub:     h,
		conn:    conn,
		send:    make(chan []byte, clientBufSize),
		userID:  userID,
		limiter: rate.NewLimiter(rate.Limit(inboundPerSec), inboundBurst),
	}
	h.register <- c
	go c.writePump()
	go c.readPump()
}

func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()
	c.conn.SetReadLimit(maxFrameSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		if !c.limiter.Allow() {
			continue
		}
		var frame inboundFrame
		if err := json.Unmarshal(raw, &frame); err != nil {
			continue
		}
		if frame.Type == "mark_read" && frame.MessageID > 0 {
			if err := c.hub.messages.MarkRead(context.Background(), frame.MessageID, true); err != nil {
				c.hub.log.Warn().Err(err).Int64("message", frame.MessageID).Msg("mark read failed")
			}
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case frame, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
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
