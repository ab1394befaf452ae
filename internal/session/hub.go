package session

import (
	"context"

	"github.com/rs/zerolog/log"

	"panelchat/internal/events"
	"panelchat/internal/metrics"
)

// Hub keeps the set of connected clients of this instance. It fans
// process-wide presence and avatar events out to all of them and lets the
// HTTP handlers reach the sessions of one user.
type Hub struct {
	clients map[*Client]bool
	byUser  map[string]map[*Client]bool

	Register   chan *Client
	Unregister chan *Client
	broadcast  chan Frame
	lookup     chan lookup
	done       chan struct{}
}

type lookup struct {
	userID string
	reply  chan []*Session
}

func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		byUser:     make(map[string]map[*Client]bool),
		Register:   make(chan *Client),
		Unregister: make(chan *Client),
		broadcast:  make(chan Frame, 64),
		lookup:     make(chan lookup),
		done:       make(chan struct{}),
	}
}

// Run owns the client maps until ctx is cancelled. bus may be nil.
func (h *Hub) Run(ctx context.Context, bus *events.Bus) {
	defer close(h.done)

	if bus != nil {
		offStatus := bus.Statuses.Subscribe(func(e events.StatusChanged) {
			h.Broadcast(Frame{Type: OutPresence, Data: []PresenceUpdate{{
				UserID: e.UserID, Status: e.Status, LastSeen: e.LastSeen,
			}}})
		})
		defer offStatus()
		offAvatar := bus.Avatars.Subscribe(func(e events.AvatarUpdated) {
			h.Broadcast(Frame{Type: OutAvatar, Data: map[string]string{"user_id": e.UserID, "avatar_url": e.URL}})
		})
		defer offAvatar()
	}

	for {
		select {
		case <-ctx.Done():
			for client := range h.clients {
				h.remove(client)
			}
			return

		case client := <-h.Register:
			h.clients[client] = true
			if h.byUser[client.userID] == nil {
				h.byUser[client.userID] = make(map[*Client]bool)
			}
			h.byUser[client.userID][client] = true
			metrics.Sessions.Inc()

		case client := <-h.Unregister:
			if _, ok := h.clients[client]; ok {
				h.remove(client)
			}

		case req := <-h.lookup:
			var out []*Session
			for client := range h.byUser[req.userID] {
				if client.session != nil {
					out = append(out, client.session)
				}
			}
			req.reply <- out

		case frame := <-h.broadcast:
			message, err := frame.Encode()
			if err != nil {
				log.Error().Err(err).Str("type", frame.Type).Msg("encode broadcast frame")
				continue
			}
			for client := range h.clients {
				if !client.deliver(message) {
					// a client that cannot keep up is dropped, its pumps exit
					h.remove(client)
				}
			}
		}
	}
}

func (h *Hub) remove(client *Client) {
	delete(h.clients, client)
	if set := h.byUser[client.userID]; set != nil {
		delete(set, client)
		if len(set) == 0 {
			delete(h.byUser, client.userID)
		}
	}
	client.close()
	metrics.Sessions.Dec()
}

// Broadcast queues a frame for every client. It never blocks once the hub
// has stopped.
func (h *Hub) Broadcast(f Frame) {
	select {
	case h.broadcast <- f:
	case <-h.done:
	}
}

func (h *Hub) register(c *Client) {
	select {
	case h.Register <- c:
	case <-h.done:
		c.close()
	}
}

func (h *Hub) unregister(c *Client) {
	select {
	case h.Unregister <- c:
	case <-h.done:
	}
}

// ForUser returns the live sessions of userID on this instance.
func (h *Hub) ForUser(userID string) []*Session {
	req := lookup{userID: userID, reply: make(chan []*Session, 1)}
	select {
	case h.lookup <- req:
		return <-req.reply
	case <-h.done:
		return nil
	}
}
