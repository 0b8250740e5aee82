package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ayush/station-chat/backend/internal/models"
)

const pgUniqueViolation = "23505"

// PostgresBackend stores users and messages in two PostgreSQL tables.
type PostgresBackend struct {
	pool *pgxpool.Pool
}

func NewPostgresBackend(pool *pgxpool.Pool) *PostgresBackend {
	return &PostgresBackend{pool: pool}
}

func (s *PostgresBackend) Close() error {
	s.pool.Close()
	return nil
}

// Migrate creates the tables if they don't exist.
func (s *PostgresBackend) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS users (
			id             BIGSERIAL PRIMARY KEY,
			username       TEXT        UNIQUE NOT NULL,
			phone          TEXT        NOT NULL DEFAULT '',
			password_hash  TEXT        NOT NULL,
			stations       JSONB       NOT NULL DEFAULT '[]',
			station_titles JSONB       NOT NULL DEFAULT '{}',
			created_at     TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE TABLE IF NOT EXISTS messages (
			id         BIGSERIAL PRIMARY KEY,
			sender     TEXT        NOT NULL,
			recipient  TEXT        NOT NULL,
			text       TEXT        NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			unlinked   BOOLEAN     NOT NULL DEFAULT FALSE
		);
		CREATE INDEX IF NOT EXISTS messages_pair_idx ON messages (sender, recipient);
	`)
	return err
}

const userColumns = `id, username, phone, password_hash, stations, station_titles, created_at`

func scanUser(row pgx.Row) (models.User, error) {
	var u models.User
	err := row.Scan(&u.ID, &u.Username, &u.Phone, &u.PasswordHash, &u.Stations, &u.StationTitles, &u.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.User{}, ErrNotFound
	}
	if err != nil {
		return models.User{}, fmt.Errorf("scan user: %w", err)
	}
	return u, nil
}

func stationsOrEmpty(u models.User) ([]string, map[string]string) {
	stations, titles := u.Stations, u.StationTitles
	if stations == nil {
		stations = []string{}
	}
	if titles == nil {
		titles = map[string]string{}
	}
	return stations, titles
}

func (s *PostgresBackend) GetUser(ctx context.Context, username string) (models.User, error) {
	return scanUser(s.pool.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE username = $1`, username))
}

func (s *PostgresBackend) GetUserByID(ctx context.Context, id int64) (models.User, error) {
	return scanUser(s.pool.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = $1`, id))
}

func (s *PostgresBackend) PutUser(ctx context.Context, u models.User) (models.User, error) {
	stations, titles := stationsOrEmpty(u)
	err := s.pool.QueryRow(ctx,
		`INSERT INTO users (username, phone, password_hash, stations, station_titles, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING id, created_at`,
		u.Username, u.Phone, u.PasswordHash, stations, titles, time.Now().UTC(),
	).Scan(&u.ID, &u.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return models.User{}, fmt.Errorf("username %q: %w", u.Username, ErrAlreadyExists)
		}
		return models.User{}, fmt.Errorf("create user: %w", err)
	}
	return cloneUser(u), nil
}

func (s *PostgresBackend) UpdateUser(ctx context.Context, u models.User) error {
	stations, titles := stationsOrEmpty(u)
	tag, err := s.pool.Exec(ctx,
		`UPDATE users SET phone = $2, password_hash = $3, stations = $4, station_titles = $5
		 WHERE username = $1`,
		u.Username, u.Phone, u.PasswordHash, stations, titles,
	)
	if err != nil {
		return fmt.Errorf("update user: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresBackend) ListUsers(ctx context.Context) ([]models.User, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+userColumns+` FROM users`)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	out := []models.User{}
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

// DeleteUser removes the row, then marks the user's messages unlinked. The
// two statements do not share a transaction.
func (s *PostgresBackend) DeleteUser(ctx context.Context, id int64) error {
	var username string
	err := s.pool.QueryRow(ctx, `DELETE FROM users WHERE id = $1 RETURNING username`, id).Scan(&username)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	_, err = s.pool.Exec(ctx,
		`UPDATE messages SET unlinked = TRUE
		 WHERE NOT unlinked AND (sender = $1 OR recipient = $1)`, username)
	if err != nil {
		return fmt.Errorf("unlink messages: %w", err)
	}
	return nil
}

func (s *PostgresBackend) AppendMessage(ctx context.Context, m models.Message) (models.Message, error) {
	if err := validateMessage(m); err != nil {
		return models.Message{}, err
	}
	m = stamp(m)
	err := s.pool.QueryRow(ctx,
		`INSERT INTO messages (sender, recipient, text, created_at)
		 VALUES ($1, $2, $3, $4)
		 RETURNING id, created_at`,
		m.Sender, m.Recipient, m.Text, m.CreatedAt,
	).Scan(&m.ID, &m.CreatedAt)
	if err != nil {
		return models.Message{}, fmt.Errorf("append message: %w", err)
	}
	m.CreatedAt = m.CreatedAt.UTC()
	return m, nil
}

func scanMessage(row pgx.Row) (models.Message, error) {
	var m models.Message
	err := row.Scan(&m.ID, &m.Sender, &m.Recipient, &m.Text, &m.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Message{}, ErrNotFound
	}
	if err != nil {
		return models.Message{}, fmt.Errorf("scan message: %w", err)
	}
	m.CreatedAt = m.CreatedAt.UTC()
	return m, nil
}

func (s *PostgresBackend) GetMessage(ctx context.Context, id int64) (models.Message, error) {
	return scanMessage(s.pool.QueryRow(ctx,
		`SELECT id, sender, recipient, text, created_at FROM messages WHERE id = $1`, id))
}

func (s *PostgresBackend) GetHistory(ctx context.Context, a, b string) ([]models.Message, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, sender, recipient, text, created_at FROM messages
		 WHERE NOT unlinked
		   AND ((sender = $1 AND recipient = $2) OR (sender = $2 AND recipient = $1))
		 ORDER BY created_at, id`, a, b)
	if err != nil {
		return nil, fmt.Errorf("history: %w", err)
	}
	defer rows.Close()

	out := []models.Message{}
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
