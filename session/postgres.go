package session

import (
	"context"
	"errors"
	"fmt"

	"dessert-admin/db"

	"github.com/jackc/pgx/v5"
)

// PostgresStore keeps one session row per key in admin_sessions.
type PostgresStore struct {
	Key string
}

func NewPostgresStore(key string) *PostgresStore {
	if key == "" {
		key = "default"
	}
	return &PostgresStore{Key: key}
}

func (p *PostgresStore) Load(ctx context.Context) (Session, error) {
	if db.Pool == nil {
		return Session{}, db.ErrNotInitialized
	}
	var s Session
	err := db.Pool.QueryRow(ctx, `
		SELECT admin_pin, operator, logged_in_at FROM admin_sessions WHERE session_key = $1`,
		p.Key,
	).Scan(&s.PIN, &s.Operator, &s.LoggedInAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Session{}, ErrNotFound
	}
	if err != nil {
		return Session{}, fmt.Errorf("load session: %w", err)
	}
	return s, nil
}

func (p *PostgresStore) Save(ctx context.Context, s Session) error {
	if db.Pool == nil {
		return db.ErrNotInitialized
	}
	_, err := db.Pool.Exec(ctx, `
		INSERT INTO admin_sessions (session_key, admin_pin, operator, logged_in_at, updated_at)
		VALUES ($1, $2, $3, $4, now())
		ON CONFLICT (session_key) DO UPDATE SET
			admin_pin = EXCLUDED.admin_pin,
			operator = EXCLUDED.operator,
			logged_in_at = EXCLUDED.logged_in_at,
			updated_at = now()`,
		p.Key, s.PIN, s.Operator, s.LoggedInAt,
	)
	if err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

func (p *PostgresStore) Clear(ctx context.Context) error {
	if db.Pool == nil {
		return db.ErrNotInitialized
	}
	if _, err := db.Pool.Exec(ctx, `DELETE FROM admin_sessions WHERE session_key = $1`, p.Key); err != nil {
		return fmt.Errorf("clear session: %w", err)
	}
	return nil
}
