package myMiddleware

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

type staticValidator struct{}

func (staticValidator) ValidateToken(token string) (string, string, string, error) {
	if token != "good" {
		return "", "", "", errors.New("bad token")
	}
	return "u1", "anna", "admin", nil
}

func TestAuthMiddleware(t *testing.T) {
	var gotID, gotName, gotRole string
	h := NewAuthMiddleware(staticValidator{}).Handle(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotID, gotName, gotRole, _ = Identity(r.Context())
	}))

	tests := []struct {
		name   string
		header string
		query  string
		code   int
	}{
		{name: "bearer header", header: "Bearer good", code: http.StatusOK},
		{name: "query fallback", query: "?token=good", code: http.StatusOK},
		{name: "missing", code: http.StatusUnauthorized},
		{name: "invalid", header: "Bearer nope", code: http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gotID = ""
			req := httptest.NewRequest(http.MethodGet, "/ws"+tt.query, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			assert.Equal(t, tt.code, rec.Code)
			if tt.code == http.StatusOK {
				assert.Equal(t, "u1", gotID)
				assert.Equal(t, "anna", gotName)
				assert.Equal(t, "admin", gotRole)
			} else {
				assert.Empty(t, gotID)
			}
		})
	}
}
