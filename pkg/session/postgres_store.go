package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"lexy/pkg/llm"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Connect opens a pgx pool and pings it.
func Connect(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse pgx config: %w", err)
	}
	cfg.MaxConns = 10
	cfg.MinConns = 0
	cfg.MaxConnLifetime = time.Hour
	cfg.HealthCheckPeriod = 30 * time.Second

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open pgx pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return pool, nil
}

// PostgresStore keeps each conversation as one JSONB row.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, pool *pgxpool.Pool) (*PostgresStore, error) {
	s := &PostgresStore{pool: pool}
	if err := s.ensureSchema(ctx); err != nil {
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	return s, nil
}

func (s *PostgresStore) ensureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS chat_histories (
	session_id TEXT PRIMARY KEY,
	messages JSONB NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);
`)
	return err
}

func (s *PostgresStore) Load(ctx context.Context, sessionID string) ([]llm.Message, error) {
	var raw []byte
	err := s.pool.QueryRow(ctx, `
SELECT messages FROM chat_histories WHERE session_id = $1
`, sessionID).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load history %s: %w", sessionID, err)
	}

	var msgs []llm.Message
	if err := json.Unmarshal(raw, &msgs); err != nil {
		return nil, fmt.Errorf("decode history %s: %w", sessionID, err)
	}
	return msgs, nil
}

func (s *PostgresStore) Save(ctx context.Context, sessionID string, messages []llm.Message) error {
	raw, err := json.Marshal(messages)
	if err != nil {
		return fmt.Errorf("encode history %s: %w", sessionID, err)
	}
	_, err = s.pool.Exec(ctx, `
INSERT INTO chat_histories (session_id, messages, updated_at)
VALUES ($1, $2, $3)
ON CONFLICT (session_id) DO UPDATE SET messages = EXCLUDED.messages, updated_at = EXCLUDED.updated_at
`, sessionID, raw, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("save history %s: %w", sessionID, err)
	}
	return nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
