package conversation

import (
	"panelchat/internal/chat"
)

type Role string

const (
	RoleEmployee Role = "employee"
	RoleAdmin    Role = "admin"
)

// ResolvePartner returns who the viewer is talking to. An admin talks to
// the employee they selected. An employee talks to whoever last wrote to
// them: the sender of the most recent message in msgs not sent by self.
func ResolvePartner(role Role, self, selected string, msgs []*chat.Message) (string, error) {
	if role == RoleAdmin {
		if selected == "" {
			return "", chat.ErrRecipientUnresolved
		}
		return selected, nil
	}

	var latest *chat.Message
	for _, m := range msgs {
		if !m.Involves(self) || m.SenderID == self {
			continue
		}
		if latest == nil || !m.CreatedAt.Before(latest.CreatedAt) {
			latest = m
		}
	}
	if latest == nil {
		return "", chat.ErrRecipientUnresolved
	}
	return latest.SenderID, nil
}
