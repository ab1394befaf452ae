package chat

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComposeAndSplitQuote(t *testing.T) {
	text := ComposeText("Anna", "Can you check this ticket please", "Hello")
	assert.Equal(t, "> Anna: Can you check this ticket please\n\nHello", text)

	q, body := SplitQuote(text)
	require.NotNil(t, q)
	assert.Equal(t, "Hello", body)
	assert.Equal(t, "Anna", q.Name)
	assert.Equal(t, "Can you check this ticket please", q.Excerpt)
}

func TestComposeTruncatesLongQuotes(t *testing.T) {
	long := strings.Repeat("ä", 120)
	text := ComposeText("Anna", long, "ok")

	q, body := SplitQuote(text)
	require.NotNil(t, q)
	assert.Equal(t, "ok", body)
	assert.Equal(t, strings.Repeat("ä", 100)+"...", q.Excerpt)

	exact := strings.Repeat("x", 100)
	q, _ = SplitQuote(ComposeText("Anna", exact, "ok"))
	assert.Equal(t, exact, q.Excerpt)
}

func TestComposeDropsNestedQuote(t *testing.T) {
	earlier := ComposeText("Ben", "first", "second")
	q, body := SplitQuote(ComposeText("Anna", earlier, "third"))
	assert.Equal(t, "second", q.Excerpt)
	assert.Equal(t, "third", body)
}

func TestSplitQuoteWithoutHeader(t *testing.T) {
	for _, text := range []string{"plain", "> no blank line", "> missing colon\n\nbody"} {
		q, body := SplitQuote(text)
		assert.Nil(t, q, text)
		assert.Equal(t, text, body)
	}
}

func TestEdited(t *testing.T) {
	created := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	m := &Message{CreatedAt: created, UpdatedAt: created}
	assert.False(t, m.Edited())

	m.UpdatedAt = created.Add(time.Second)
	assert.True(t, m.Edited())

	// a row read back from Postgres carries microseconds only
	m.CreatedAt = created.Add(123456789 * time.Nanosecond)
	m.UpdatedAt = m.CreatedAt.Truncate(time.Microsecond)
	assert.False(t, m.Edited())
}

func TestUserMessage(t *testing.T) {
	assert.Equal(t, "Das Bild darf maximal 5 MB groß sein.", UserMessage(OpSend, ErrImageTooLarge))
	assert.Equal(t, "Bild konnte nicht hochgeladen werden.", UserMessage(OpSend, ErrUpload))
	assert.Equal(t, "Nachricht konnte nicht gelöscht werden.",
		UserMessage(OpDelete, transport("delete", errors.New("conn reset"))))
	assert.Contains(t, UserMessage(OpEdit, ErrAuthorization), "eigenen Nachrichten")
}
