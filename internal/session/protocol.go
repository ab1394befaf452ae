package session

import (
	"encoding/json"
	"time"
)

// Inbound frame types sent by the browser tab.
const (
	InTyping     = "typing"
	InStopTyping = "stop_typing"
	InActivity   = "activity"
	InVisibility = "visibility"
	InStatus     = "status"
	InUnload     = "unload"
	InOpenInbox  = "open_inbox"
	InToastClick = "toast_click"
	InToastClose = "toast_close"
	InOpenThread = "open_thread"
	InSend       = "send"
	InEdit       = "edit"
	InDelete     = "delete"
	InPin        = "pin"
	InRead       = "read"
	InSearch     = "search"
)

// Outbound frame types pushed to the browser tab.
const (
	OutThread        = "thread"
	OutMessage       = "message"
	OutMessageUpdate = "message_update"
	OutMessageDelete = "message_delete"
	OutPresence      = "presence"
	OutAvatar        = "avatar"
	OutTyping        = "typing"
	OutUnread        = "unread"
	OutSound         = "sound"
	OutToast         = "toast"
	OutToastDismiss  = "toast_dismiss"
	OutOpenInbox     = "open_inbox"
	OutError         = "error"
)

// Inbound is the union of every browser frame; fields not used by Type are
// left empty.
type Inbound struct {
	Type    string `json:"type"`
	Hidden  bool   `json:"hidden,omitempty"`
	Status  string `json:"status,omitempty"`
	ID      string `json:"id,omitempty"`
	UserID  string `json:"user_id,omitempty"`
	Text    string `json:"text,omitempty"`
	ReplyTo string `json:"reply_to,omitempty"`
	Pinned  bool   `json:"pinned,omitempty"`
	Query   string `json:"query,omitempty"`
}

type Frame struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

func (f Frame) Encode() ([]byte, error) {
	return json.Marshal(f)
}

type PresenceUpdate struct {
	UserID      string    `json:"user_id"`
	Status      string    `json:"status"`
	LastSeen    time.Time `json:"last_seen"`
	DisplayName string    `json:"display_name,omitempty"`
}

type ErrorData struct {
	Op      string `json:"op"`
	Message string `json:"message"`
}
