package session

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 16 << 10

	// typing and activity frames arrive at keystroke rate
	inboundRate  = 20
	inboundBurst = 40
)

// Client is the middleman between one WebSocket connection and its session.
type Client struct {
	hub     *Hub
	conn    *websocket.Conn
	userID  string
	session *Session
	limiter *rate.Limiter

	mu     sync.Mutex
	send   chan []byte
	closed bool
}

func NewClient(hub *Hub, conn *websocket.Conn, userID string) *Client {
	return &Client{
		hub:     hub,
		conn:    conn,
		userID:  userID,
		limiter: rate.NewLimiter(inboundRate, inboundBurst),
		send:    make(chan []byte, 256),
	}
}

// Attach binds the session whose frames this client carries. It must be
// called before Serve.
func (c *Client) Attach(s *Session) { c.session = s }

// Emit queues a frame for the browser. A frame that does not fit the
// buffer is dropped.
func (c *Client) Emit(f Frame) {
	message, err := f.Encode()
	if err != nil {
		log.Error().Err(err).Str("type", f.Type).Msg("encode frame")
		return
	}
	if !c.deliver(message) {
		log.Warn().Str("user_id", c.userID).Str("type", f.Type).Msg("client send buffer full, frame dropped")
	}
}

func (c *Client) deliver(message []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return true
	}
	select {
	case c.send <- message:
		return true
	default:
		return false
	}
}

func (c *Client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// Serve registers the client, starts the session and runs both pumps. It
// returns immediately.
func (c *Client) Serve(ctx context.Context) {
	c.hub.register(c)
	go c.writePump()
	go c.readPump(ctx)
}

// readPump feeds browser frames into the session until the connection dies.
func (c *Client) readPump(ctx context.Context) {
	defer func() {
		c.hub.unregister(c)
		c.session.Close(context.Background())
		c.conn.Close()
	}()

	if err := c.session.Start(ctx); err != nil {
		log.Error().Err(err).Str("user_id", c.userID).Msg("session start failed")
		return
	}

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Warn().Err(err).Str("user_id", c.userID).Msg("websocket closed")
			}
			return
		}

		var in Inbound
		if err := json.Unmarshal(message, &in); err != nil {
			log.Debug().Err(err).Str("user_id", c.userID).Msg("malformed inbound frame")
			continue
		}
		if !c.admit(in) {
			log.Debug().Str("user_id", c.userID).Str("type", in.Type).Msg("inbound frame rate limited")
			continue
		}
		c.session.Handle(ctx, in)
	}
}

// admit applies the limiter to keystroke-rate frames only; every user
// action passes.
func (c *Client) admit(in Inbound) bool {
	switch in.Type {
	case InTyping, InActivity:
		return c.limiter.Allow()
	}
	return true
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			// one frame per WebSocket message, the browser parses each as JSON
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
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
