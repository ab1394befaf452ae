package user

import (
	"context"
	"database/sql"
	"errors"
)

var ErrNotFound = errors.New("user not found")

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

const userColumns = "id, username, password, display_name, avatar_url, role, status"

func scanUser(row interface{ Scan(...any) error }) (*User, error) {
	u := &User{}
	err := row.Scan(&u.ID, &u.Username, &u.Password, &u.DisplayName, &u.AvatarURL, &u.Role, &u.Status)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return u, nil
}

func (r *Repository) CreateUser(ctx context.Context, user *User) (*User, error) {
	query := `INSERT INTO users (id, username, password, display_name, role, status)
		VALUES ($1, $2, $3, $4, $5, $6)`
	_, err := r.db.ExecContext(ctx, query, user.ID, user.Username, user.Password, user.DisplayName, user.Role, user.Status)
	if err != nil {
		return nil, err
	}
	return user, nil
}

func (r *Repository) GetUserByUsername(ctx context.Context, username string) (*User, error) {
	return scanUser(r.db.QueryRowContext(ctx, "SELECT "+userColumns+" FROM users WHERE username = $1", username))
}

func (r *Repository) GetUserByID(ctx context.Context, id string) (*User, error) {
	return scanUser(r.db.QueryRowContext(ctx, "SELECT "+userColumns+" FROM users WHERE id = $1", id))
}

func (r *Repository) SearchUsers(ctx context.Context, query, role string) ([]User, error) {
	// We limit to 10 to keep it fast
	q := `SELECT ` + userColumns + ` FROM users
		WHERE (username ILIKE $1 OR display_name ILIKE $1) AND ($2 = '' OR role = $2)
		ORDER BY display_name, username
		LIMIT 10`
	rows, err := r.db.QueryContext(ctx, q, "%"+query+"%", role)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, *u)
	}
	return users, rows.Err()
}

func (r *Repository) exec(ctx context.Context, query string, args ...any) error {
	res, err := r.db.ExecContext(ctx, query, args...)
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

func (r *Repository) UpdateStatus(ctx context.Context, id, status string) error {
	return r.exec(ctx, "UPDATE users SET status = $2 WHERE id = $1", id, status)
}

func (r *Repository) UpdateAvatar(ctx context.Context, id, url string) error {
	return r.exec(ctx, "UPDATE users SET avatar_url = $2 WHERE id = $1", id, url)
}

func (r *Repository) SetRole(ctx context.Context, username, role string) error {
	return r.exec(ctx, "UPDATE users SET role = $2 WHERE username = $1", username, role)
}
