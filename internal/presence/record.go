// Package presence tracks live user status (online, away, busy, offline)
// over a shared realtime channel, with the durable profile status as the
// fallback of record.
package presence

import (
	"strings"
	"time"
)

type Status string

const (
	Online  Status = "online"
	Away    Status = "away"
	Busy    Status = "busy"
	Offline Status = "offline"
)

// ParseStatus accepts the four known statuses.
func ParseStatus(s string) (Status, bool) {
	switch Status(s) {
	case Online, Away, Busy, Offline:
		return Status(s), true
	}
	return "", false
}

// Record is the live presence state published by one session of a user.
type Record struct {
	UserID      string    `json:"user_id"`
	SessionID   string    `json:"session_id,omitempty"`
	Status      Status    `json:"status"`
	LastSeen    time.Time `json:"last_seen"`
	DisplayName string    `json:"display_name"`
}

// Key is the presence key the record is tracked under.
func (r Record) Key() string { return Key(r.UserID, r.SessionID) }

// Key joins a user and one of their sessions into a presence key.
func Key(userID, sessionID string) string {
	if sessionID == "" {
		return userID
	}
	return userID + "/" + sessionID
}

// SplitKey is the inverse of Key.
func SplitKey(key string) (userID, sessionID string) {
	userID, sessionID, _ = strings.Cut(key, "/")
	return userID, sessionID
}

// rank orders the statuses of one user's sessions; the highest represents
// the user. Busy is manual and wins over any automatic status.
func rank(s Status) int {
	switch s {
	case Busy:
		return 3
	case Online:
		return 2
	case Away:
		return 1
	}
	return 0
}

// Fresh reports whether the record was refreshed within staleAfter of now.
func (r Record) Fresh(now time.Time, staleAfter time.Duration) bool {
	return now.Sub(r.LastSeen) <= staleAfter
}
