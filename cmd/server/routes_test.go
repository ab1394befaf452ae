package main

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"panelchat/internal/chat"
	myMiddleware "panelchat/internal/middleware"
	"panelchat/internal/session"
	"panelchat/internal/user"
)

func testRouter(health func(context.Context) error) http.Handler {
	users := user.NewService(nil, "secret", nil, nil)
	return newRouter(handlers{
		users:   user.NewHandler(users),
		chat:    chat.NewHandler(nil, nil),
		session: session.NewHandler(nil, session.Deps{}),
		auth:    myMiddleware.NewAuthMiddleware(users),
		health:  health,
	})
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	r := testRouter(nil)
	routes := []struct{ method, path string }{
		{http.MethodGet, "/ws"},
		{http.MethodGet, "/api/messages?with=u2"},
		{http.MethodPost, "/api/messages"},
		{http.MethodPatch, "/api/messages/m1"},
		{http.MethodDelete, "/api/messages/m1"},
		{http.MethodPut, "/api/messages/m1/pin"},
		{http.MethodPost, "/api/messages/m1/read"},
		{http.MethodPost, "/api/inbox/open"},
		{http.MethodGet, "/api/unread"},
		{http.MethodPost, "/api/status"},
		{http.MethodGet, "/api/users/search"},
		{http.MethodPost, "/api/profile/avatar"},
	}
	for _, rt := range routes {
		t.Run(rt.method+" "+rt.path, func(t *testing.T) {
			rec := httptest.NewRecorder()
			r.ServeHTTP(rec, httptest.NewRequest(rt.method, rt.path, nil))
			assert.Equal(t, http.StatusUnauthorized, rec.Code)

			rec = httptest.NewRecorder()
			req := httptest.NewRequest(rt.method, rt.path, nil)
			req.Header.Set("Authorization", "Bearer forged")
			r.ServeHTTP(rec, req)
			assert.Equal(t, http.StatusUnauthorized, rec.Code)
		})
	}
}

func TestHealthAndMetrics(t *testing.T) {
	rec := httptest.NewRecorder()
	testRouter(nil).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	down := func(context.Context) error { return errors.New("redis: connection refused") }
	testRouter(down).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = httptest.NewRecorder()
	testRouter(nil).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "panelchat_ws_sessions")
}
