package chat

import (
	"errors"
	"fmt"
)

var (
	ErrValidation          = errors.New("validation failed")
	ErrAuthorization       = errors.New("not allowed")
	ErrRecipientUnresolved = errors.New("no recipient")
	ErrTransport           = errors.New("store unavailable")
	ErrUpload              = errors.New("image upload failed")
	ErrNotFound            = errors.New("message not found")

	ErrEmptyMessage  = fmt.Errorf("%w: empty message", ErrValidation)
	ErrImageTooLarge = fmt.Errorf("%w: image too large", ErrValidation)
	ErrNotAnImage    = fmt.Errorf("%w: not an image", ErrValidation)
)

func transport(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrTransport, err)
}

// Op names the user action an error belongs to.
type Op string

const (
	OpSend   Op = "send"
	OpEdit   Op = "edit"
	OpDelete Op = "delete"
	OpPin    Op = "pin"
	OpRead   Op = "read"
	OpLoad   Op = "load"
)

var failed = map[Op]string{
	OpSend:   "Nachricht konnte nicht gesendet werden.",
	OpEdit:   "Nachricht konnte nicht bearbeitet werden.",
	OpDelete: "Nachricht konnte nicht gelöscht werden.",
	OpPin:    "Nachricht konnte nicht angeheftet werden.",
	OpRead:   "Nachrichten konnten nicht als gelesen markiert werden.",
	OpLoad:   "Nachrichten konnten nicht geladen werden.",
}

// UserMessage is the German toast text shown when op fails with err.
func UserMessage(op Op, err error) string {
	switch {
	case errors.Is(err, ErrImageTooLarge):
		return "Das Bild darf maximal 5 MB groß sein."
	case errors.Is(err, ErrNotAnImage):
		return "Bitte wähle eine Bilddatei aus."
	case errors.Is(err, ErrValidation):
		return "Bitte gib eine Nachricht ein oder wähle ein Bild aus."
	case errors.Is(err, ErrRecipientUnresolved):
		return "Kein Ansprechpartner gefunden. Du kannst antworten, sobald dir ein Admin geschrieben hat."
	case errors.Is(err, ErrAuthorization):
		return "Du kannst nur deine eigenen Nachrichten bearbeiten oder löschen."
	case errors.Is(err, ErrUpload):
		return "Bild konnte nicht hochgeladen werden."
	case errors.Is(err, ErrNotFound):
		return "Nachricht wurde nicht gefunden."
	}
	if msg, ok := failed[op]; ok {
		return msg
	}
	return "Aktion fehlgeschlagen. Bitte versuche es erneut."
}
