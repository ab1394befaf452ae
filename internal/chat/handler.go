package chat

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	myMiddleware "panelchat/internal/middleware"
)

// Namer resolves the display name used in reply quotes.
type Namer interface {
	DisplayName(ctx context.Context, userID string) string
}

type Handler struct {
	svc   *Service
	names Namer
}

func NewHandler(svc *Service, names Namer) *Handler {
	return &Handler{svc: svc, names: names}
}

func (h *Handler) store(w http.ResponseWriter, r *http.Request) (*Store, bool) {
	userID, _, _, ok := myMiddleware.Identity(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return nil, false
	}
	return h.svc.As(userID), true
}

// GetChatHistory returns the thread with ?with=, oldest first.
func (h *Handler) GetChatHistory(w http.ResponseWriter, r *http.Request) {
	st, ok := h.store(w, r)
	if !ok {
		return
	}
	partner := r.URL.Query().Get("with")
	if partner == "" {
		http.Error(w, "Parameter 'with' fehlt.", http.StatusBadRequest)
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	msgs, err := st.Thread(r.Context(), partner, limit)
	if err != nil {
		h.fail(w, OpLoad, err)
		return
	}
	if msgs == nil {
		msgs = []*Message{}
	}
	writeJSON(w, http.StatusOK, msgs)
}

// SendMessage accepts multipart fields to, text, reply_to and an optional
// image file.
func (h *Handler) SendMessage(w http.ResponseWriter, r *http.Request) {
	st, ok := h.store(w, r)
	if !ok {
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, h.svc.maxImage+1<<20)
	if err := r.ParseMultipartForm(1 << 20); err != nil {
		h.fail(w, OpSend, ErrImageTooLarge)
		return
	}

	var upload *Upload
	file, header, err := r.FormFile("image")
	switch {
	case err == nil:
		defer file.Close()
		upload = &Upload{
			Name:        header.Filename,
			ContentType: header.Header.Get("Content-Type"),
			Size:        header.Size,
			Body:        file,
		}
	case !errors.Is(err, http.ErrMissingFile):
		h.fail(w, OpSend, ErrNotAnImage)
		return
	}

	var reply *ReplyContext
	if id := r.FormValue("reply_to"); id != "" {
		quoted, err := st.Get(r.Context(), id)
		if err != nil {
			h.fail(w, OpSend, err)
			return
		}
		reply = &ReplyContext{Name: h.names.DisplayName(r.Context(), quoted.SenderID), Text: quoted.Text}
	}

	m, err := st.Send(r.Context(), r.FormValue("to"), r.FormValue("text"), upload, reply)
	if err != nil {
		h.fail(w, OpSend, err)
		return
	}
	writeJSON(w, http.StatusCreated, m)
}

func (h *Handler) EditMessage(w http.ResponseWriter, r *http.Request) {
	st, ok := h.store(w, r)
	if !ok {
		return
	}
	var req struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	m, err := st.Edit(r.Context(), chi.URLParam(r, "id"), req.Text)
	if err != nil {
		h.fail(w, OpEdit, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (h *Handler) DeleteMessage(w http.ResponseWriter, r *http.Request) {
	st, ok := h.store(w, r)
	if !ok {
		return
	}
	if err := st.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.fail(w, OpDelete, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) PinMessage(w http.ResponseWriter, r *http.Request) {
	st, ok := h.store(w, r)
	if !ok {
		return
	}
	var req struct {
		Pinned bool `json:"pinned"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	m, err := st.SetPinned(r.Context(), chi.URLParam(r, "id"), req.Pinned)
	if err != nil {
		h.fail(w, OpPin, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (h *Handler) MarkRead(w http.ResponseWriter, r *http.Request) {
	st, ok := h.store(w, r)
	if !ok {
		return
	}
	m, err := st.MarkRead(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, OpRead, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

// OpenInbox marks all messages to the user as read, optionally only those
// from ?from=.
func (h *Handler) OpenInbox(w http.ResponseWriter, r *http.Request) {
	st, ok := h.store(w, r)
	if !ok {
		return
	}
	n, err := st.MarkAllRead(r.Context(), r.URL.Query().Get("from"))
	if err != nil {
		h.fail(w, OpRead, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"marked": n})
}

func (h *Handler) Unread(w http.ResponseWriter, r *http.Request) {
	st, ok := h.store(w, r)
	if !ok {
		return
	}
	n, err := st.UnreadCount(r.Context())
	if err != nil {
		h.fail(w, OpLoad, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"count": n})
}

// fail answers with the German message for err and a matching status code.
func (h *Handler) fail(w http.ResponseWriter, op Op, err error) {
	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, ErrValidation), errors.Is(err, ErrRecipientUnresolved):
		code = http.StatusBadRequest
	case errors.Is(err, ErrAuthorization):
		code = http.StatusForbidden
	case errors.Is(err, ErrNotFound):
		code = http.StatusNotFound
	case errors.Is(err, ErrUpload), errors.Is(err, ErrTransport):
		code = http.StatusBadGateway
	}
	if code >= http.StatusInternalServerError {
		log.Error().Err(err).Str("op", string(op)).Msg("chat request failed")
	}
	writeJSON(w, code, map[string]string{"error": UserMessage(op, err)})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}
