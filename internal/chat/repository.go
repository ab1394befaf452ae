package chat

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// Repository is the durable message store. Guarded mutations take the
// acting user and report ErrNotFound when the guard does not match.
type Repository interface {
	Insert(ctx context.Context, m *Message) error
	Get(ctx context.Context, id string) (*Message, error)
	UpdateText(ctx context.Context, id, senderID, text string, at time.Time) (*Message, error)
	Delete(ctx context.Context, id, senderID string) error
	SetPinned(ctx context.Context, id, userID string, pinned bool) (*Message, error)
	// MarkRead returns nil, nil when the message was already read.
	MarkRead(ctx context.Context, id, recipientID string, at time.Time) (*Message, error)
	// MarkAllRead marks unread direct messages to recipientID, limited to
	// senderID unless it is empty.
	MarkAllRead(ctx context.Context, recipientID, senderID string, at time.Time) ([]*Message, error)
	Thread(ctx context.Context, a, b string, limit int) ([]*Message, error)
	Inbox(ctx context.Context, userID string, limit int) ([]*Message, error)
	UnreadCount(ctx context.Context, recipientID string) (int, error)
}

const messageColumns = `id, sender_id, recipient_id, is_group_message, text, image_url,
	created_at, updated_at, read_at, is_pinned`

type SQLRepository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *SQLRepository {
	return &SQLRepository{db: db}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMessage(row rowScanner) (*Message, error) {
	m := &Message{}
	err := row.Scan(&m.ID, &m.SenderID, &m.RecipientID, &m.IsGroupMessage, &m.Text, &m.ImageURL,
		&m.CreatedAt, &m.UpdatedAt, &m.ReadAt, &m.IsPinned)
	if err != nil {
		return nil, err
	}
	return m, nil
}

func (r *SQLRepository) queryMessages(ctx context.Context, query string, args ...any) ([]*Message, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []*Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

func (r *SQLRepository) queryOne(ctx context.Context, query string, args ...any) (*Message, error) {
	m, err := scanMessage(r.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return m, err
}

func (r *SQLRepository) Insert(ctx context.Context, m *Message) error {
	query := `INSERT INTO messages (` + messageColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`
	_, err := r.db.ExecContext(ctx, query, m.ID, m.SenderID, m.RecipientID, m.IsGroupMessage, m.Text,
		m.ImageURL, m.CreatedAt, m.UpdatedAt, m.ReadAt, m.IsPinned)
	return err
}

func (r *SQLRepository) Get(ctx context.Context, id string) (*Message, error) {
	return r.queryOne(ctx, `SELECT `+messageColumns+` FROM messages WHERE id = $1`, id)
}

func (r *SQLRepository) UpdateText(ctx context.Context, id, senderID, text string, at time.Time) (*Message, error) {
	query := `UPDATE messages SET text = $3, updated_at = $4
		WHERE id = $1 AND sender_id = $2
		RETURNING ` + messageColumns
	return r.queryOne(ctx, query, id, senderID, text, at)
}

func (r *SQLRepository) Delete(ctx context.Context, id, senderID string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM messages WHERE id = $1 AND sender_id = $2`, id, senderID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *SQLRepository) SetPinned(ctx context.Context, id, userID string, pinned bool) (*Message, error) {
	query := `UPDATE messages SET is_pinned = $3
		WHERE id = $1 AND NOT is_group_message AND (sender_id = $2 OR recipient_id = $2)
		RETURNING ` + messageColumns
	return r.queryOne(ctx, query, id, userID, pinned)
}

func (r *SQLRepository) MarkRead(ctx context.Context, id, recipientID string, at time.Time) (*Message, error) {
	// read_at is set once; the first timestamp wins
	query := `UPDATE messages SET read_at = $3
		WHERE id = $1 AND recipient_id = $2 AND read_at IS NULL
		RETURNING ` + messageColumns
	m, err := r.queryOne(ctx, query, id, recipientID, at)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	return m, err
}

func (r *SQLRepository) MarkAllRead(ctx context.Context, recipientID, senderID string, at time.Time) ([]*Message, error) {
	query := `UPDATE messages SET read_at = $2
		WHERE recipient_id = $1 AND read_at IS NULL AND NOT is_group_message`
	args := []any{recipientID, at}
	if senderID != "" {
		query += ` AND sender_id = $3`
		args = append(args, senderID)
	}
	return r.queryMessages(ctx, query+` RETURNING `+messageColumns, args...)
}

func (r *SQLRepository) Thread(ctx context.Context, a, b string, limit int) ([]*Message, error) {
	query := `SELECT ` + messageColumns + ` FROM (
			SELECT ` + messageColumns + ` FROM messages
			WHERE NOT is_group_message
			  AND ((sender_id = $1 AND recipient_id = $2) OR (sender_id = $2 AND recipient_id = $1))
			ORDER BY created_at DESC
			LIMIT $3
		) recent
		ORDER BY created_at ASC`
	return r.queryMessages(ctx, query, a, b, limit)
}

func (r *SQLRepository) Inbox(ctx context.Context, userID string, limit int) ([]*Message, error) {
	query := `SELECT ` + messageColumns + ` FROM (
			SELECT ` + messageColumns + ` FROM messages
			WHERE NOT is_group_message AND (sender_id = $1 OR recipient_id = $1)
			ORDER BY created_at DESC
			LIMIT $2
		) recent
		ORDER BY created_at ASC`
	return r.queryMessages(ctx, query, userID, limit)
}

func (r *SQLRepository) UnreadCount(ctx context.Context, recipientID string) (int, error) {
	var n int
	query := `SELECT count(*) FROM messages
		WHERE recipient_id = $1 AND read_at IS NULL AND NOT is_group_message`
	err := r.db.QueryRowContext(ctx, query, recipientID).Scan(&n)
	return n, err
}
