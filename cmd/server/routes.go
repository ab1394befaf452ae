package main

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"panelchat/internal/chat"
	myMiddleware "panelchat/internal/middleware"
	"panelchat/internal/session"
	"panelchat/internal/user"
)

type handlers struct {
	users   *user.Handler
	chat    *chat.Handler
	session *session.Handler
	auth    *myMiddleware.AuthMiddleware
	// health pings the backing stores; nil reports healthy.
	health func(ctx context.Context) error
}

func newRouter(h handlers) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(myMiddleware.RequestLogger)
	r.Use(middleware.Recoverer)

	// Public Routes
	r.Post("/register", h.users.Register)
	r.Post("/login", h.users.Login)
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if h.health != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := h.health(ctx); err != nil {
				http.Error(w, err.Error(), http.StatusServiceUnavailable)
				return
			}
		}
		w.Write([]byte("ok"))
	})

	// Protected Routes (Require JWT)
	r.Group(func(r chi.Router) {
		r.Use(h.auth.Handle)

		r.Get("/ws", h.session.ServeWs)

		r.Get("/api/users/search", h.users.SearchUsers)
		r.Post("/api/profile/avatar", h.users.UploadAvatar)
		r.Post("/api/status", h.session.UpdateStatus)

		r.Get("/api/messages", h.chat.GetChatHistory)
		r.Post("/api/messages", h.chat.SendMessage)
		r.Patch("/api/messages/{id}", h.chat.EditMessage)
		r.Delete("/api/messages/{id}", h.chat.DeleteMessage)
		r.Put("/api/messages/{id}/pin", h.chat.PinMessage)
		r.Post("/api/messages/{id}/read", h.chat.MarkRead)
		r.Post("/api/inbox/open", h.chat.OpenInbox)
		r.Get("/api/unread", h.chat.Unread)
	})
	return r
}
