package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"github.com/riverqueue/river/rivermigrate"
)

// Database holds one pgx pool, exposed both natively (for the River job
// queue) and through database/sql (for the repositories).
type Database struct {
	Pool *pgxpool.Pool
	Conn *sql.DB
}

func NewDatabase(ctx context.Context, dsn string) (*Database, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	cfg.MaxConns = 25
	cfg.MaxConnLifetime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, err
	}
	return &Database{Pool: pool, Conn: stdlib.OpenDBFromPool(pool)}, nil
}

func (d *Database) Close() {
	d.Conn.Close()
	d.Pool.Close()
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS users (
            id UUID PRIMARY KEY,
            username VARCHAR(50) UNIQUE NOT NULL,
            password VARCHAR(255) NOT NULL,
            display_name VARCHAR(100) NOT NULL DEFAULT '',
            avatar_url TEXT NOT NULL DEFAULT '',
            role VARCHAR(10) NOT NULL DEFAULT 'employee' CHECK (role IN ('employee', 'admin')),
            status VARCHAR(10) NOT NULL DEFAULT 'offline' CHECK (status IN ('online', 'away', 'busy', 'offline')),
            created_at TIMESTAMPTZ NOT NULL DEFAULT now()
        )`,

	`CREATE TABLE IF NOT EXISTS messages (
            id UUID PRIMARY KEY,
            sender_id UUID NOT NULL REFERENCES users(id) ON DELETE CASCADE,
            recipient_id UUID REFERENCES users(id) ON DELETE CASCADE,
            is_group_message BOOLEAN NOT NULL DEFAULT false,
            text TEXT NOT NULL DEFAULT '',
            image_url TEXT,
            created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
            updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
            read_at TIMESTAMPTZ,
            is_pinned BOOLEAN NOT NULL DEFAULT false
        )`,

	`CREATE INDEX IF NOT EXISTS messages_pair_idx
            ON messages (sender_id, recipient_id, created_at DESC)`,

	`CREATE INDEX IF NOT EXISTS messages_unread_idx
            ON messages (recipient_id) WHERE read_at IS NULL`,
}

// AutoMigrate creates the application tables.
func (d *Database) AutoMigrate(ctx context.Context) error {
	for _, query := range schema {
		if _, err := d.Conn.ExecContext(ctx, query); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}

// MigrateQueue creates or upgrades the River job tables.
func (d *Database) MigrateQueue(ctx context.Context) (int, error) {
	migrator, err := rivermigrate.New(riverpgxv5.New(d.Pool), nil)
	if err != nil {
		return 0, fmt.Errorf("river migrator: %w", err)
	}
	res, err := migrator.Migrate(ctx, rivermigrate.DirectionUp, nil)
	if err != nil {
		return 0, fmt.Errorf("river migration failed: %w", err)
	}
	return len(res.Versions), nil
}
