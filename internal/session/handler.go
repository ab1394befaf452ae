package session

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"panelchat/internal/conversation"
	myMiddleware "panelchat/internal/middleware"
	"panelchat/internal/presence"
)

// DefaultZone renders day separators and read times when the tab sends no
// ?tz= parameter.
const DefaultZone = "Europe/Berlin"

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// the panel is embedded in the intranet portal under another origin
	CheckOrigin: func(r *http.Request) bool { return true },
}

type Handler struct {
	hub  *Hub
	deps Deps
}

func NewHandler(hub *Hub, deps Deps) *Handler {
	return &Handler{hub: hub, deps: deps}
}

// ServeWs upgrades the request and starts a session for the authenticated
// user.
func (h *Handler) ServeWs(w http.ResponseWriter, r *http.Request) {
	userID, username, role, ok := myMiddleware.Identity(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	loc := zone(r.URL.Query().Get("tz"))

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Str("user_id", userID).Msg("websocket upgrade failed")
		return
	}

	client := NewClient(h.hub, conn, userID)
	id := Identity{UserID: userID, Username: username, Role: conversation.Role(role)}
	client.Attach(New(h.deps, id, loc, client.Emit))

	// the request context ends with this handler, the session outlives it
	client.Serve(context.Background())
}

// zone resolves an IANA name, falling back to DefaultZone and then UTC.
func zone(name string) *time.Location {
	for _, n := range []string{name, DefaultZone} {
		if n == "" {
			continue
		}
		if loc, err := time.LoadLocation(n); err == nil {
			return loc
		}
	}
	return time.UTC
}

// UpdateStatus sets the manual status of the caller. Live sessions on this
// instance publish it; without one only the profile is written.
func (h *Handler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	userID, _, _, ok := myMiddleware.Identity(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	var req struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	st, valid := presence.ParseStatus(req.Status)
	if !valid {
		http.Error(w, "Unbekannter Status.", http.StatusBadRequest)
		return
	}

	if sessions := h.hub.ForUser(userID); len(sessions) > 0 && st != presence.Offline {
		for _, s := range sessions {
			s.SetStatus(r.Context(), string(st))
		}
	} else if err := h.deps.Profiles.UpdateStatus(r.Context(), userID, string(st)); err != nil {
		log.Error().Err(err).Str("user_id", userID).Msg("update status failed")
		http.Error(w, "Status konnte nicht gespeichert werden.", http.StatusBadGateway)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": string(st)})
}
