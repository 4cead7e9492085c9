package db

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wuwenbin0122/roomchat/internal/models"
	"github.com/wuwenbin0122/roomchat/internal/utils"
)

type Postgres struct {
	Pool *pgxpool.Pool
}

func NewPostgres(ctx context.Context, cfg utils.PostgresConfig) (*Postgres, error) {
	dsn := cfg.BuildDSN()
	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: parse dsn: %w", err)
	}

	if cfg.MaxConns > 0 {
		poolConfig.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns >= 0 {
		poolConfig.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	}
	if cfg.MaxConnIdleTime > 0 {
		poolConfig.MaxConnIdleTime = cfg.MaxConnIdleTime
	}
	if cfg.HealthCheckPeriod > 0 {
		poolConfig.HealthCheckPeriod = cfg.HealthCheckPeriod
	}

	ctx, cancel := context.WithTimeout(ctx, timeoutOrDefault(cfg.ConnectTimeout))
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("postgres: connect: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}

	return &Postgres{Pool: pool}, nil
}

func (p *Postgres) Close(ctx context.Context) error {
	if p == nil || p.Pool == nil {
		return nil
	}
	p.Pool.Close()
	return nil
}

func (p *Postgres) Ping(ctx context.Context) error {
	if p == nil || p.Pool == nil {
		return fmt.Errorf("postgres: pool not initialised")
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	return p.Pool.Ping(ctx)
}

// EnsureSchema creates the append-only turn table. The BIGSERIAL id doubles
// as the tie breaker for turns sharing a created_at.
func (p *Postgres) EnsureSchema(ctx context.Context) error {
	if p == nil || p.Pool == nil {
		return fmt.Errorf("postgres: pool not initialised")
	}

	statements := []string{
		strings.Join([]string{
			"CREATE TABLE IF NOT EXISTS chat_turns (",
			"    id BIGSERIAL PRIMARY KEY,",
			"    session_id TEXT NOT NULL,",
			"    role TEXT NOT NULL CHECK (role IN ('user', 'assistant')),",
			"    content TEXT NOT NULL,",
			"    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()",
			")",
		}, "\n"),
		"CREATE INDEX IF NOT EXISTS chat_turns_session_order_idx ON chat_turns (session_id, created_at, id)",
	}

	for _, stmt := range statements {
		if _, err := p.Pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("postgres: ensure schema: %w", err)
		}
	}

	return nil
}

func (p *Postgres) Append(ctx context.Context, sessionID string, role models.Role, content string) (models.Turn, error) {
	if err := validateAppend(sessionID, role); err != nil {
		return models.Turn{}, err
	}

	const query = `INSERT INTO chat_turns (session_id, role, content) VALUES ($1, $2, $3) RETURNING id, created_at`

	var (
		id        int64
		createdAt time.Time
	)
	if err := p.Pool.QueryRow(ctx, query, sessionID, string(role), content).Scan(&id, &createdAt); err != nil {
		return models.Turn{}, persistenceError("postgres insert turn", err)
	}

	return newStoredTurn(strconv.FormatInt(id, 10), sessionID, role, content, createdAt), nil
}

func (p *Postgres) ListTurns(ctx context.Context, sessionID string) ([]models.Turn, error) {
	const query = `SELECT id, role, content, created_at FROM chat_turns WHERE session_id = $1 ORDER BY created_at ASC, id ASC`

	rows, err := p.Pool.Query(ctx, query, sessionID)
	if err != nil {
		return nil, persistenceError("postgres list turns", err)
	}
	defer rows.Close()

	turns := make([]models.Turn, 0)
	for rows.Next() {
		var (
			id        int64
			role      string
			content   string
			createdAt time.Time
		)
		if err := rows.Scan(&id, &role, &content, &createdAt); err != nil {
			return nil, persistenceError("postgres scan turn", err)
		}
		turns = append(turns, newStoredTurn(strconv.FormatInt(id, 10), sessionID, models.Role(role), content, createdAt))
	}
	if err := rows.Err(); err != nil {
		return nil, persistenceError("postgres list turns", err)
	}

	return turns, nil
}

func newStoredTurn(id, sessionID string, role models.Role, content string, createdAt time.Time) models.Turn {
	createdAt = createdAt.UTC()
	return models.Turn{
		ID:        id,
		SessionID: sessionID,
		Role:      role,
		Content:   content,
		CreatedAt: &createdAt,
		State:     models.StateConfirmed,
	}
}

func timeoutOrDefault(value time.Duration) time.Duration {
	if value > 0 {
		return value
	}
	return 10 * time.Second
}
