package pending

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore keeps decisions in a table keyed by decision ID.
//
// Schema (created on connect):
//
//	CREATE TABLE IF NOT EXISTS pending_decisions (
//	  decision_id TEXT PRIMARY KEY,
//	  decision JSONB NOT NULL,
//	  expires_at TIMESTAMPTZ NOT NULL,
//	  created_at TIMESTAMPTZ DEFAULT NOW()
//	);
type PostgresStore struct {
	pool *pgxpool.Pool
}

const createPendingTable = `
	CREATE TABLE IF NOT EXISTS pending_decisions (
		decision_id TEXT PRIMARY KEY,
		decision JSONB NOT NULL,
		expires_at TIMESTAMPTZ NOT NULL,
		created_at TIMESTAMPTZ DEFAULT NOW()
	);
	CREATE INDEX IF NOT EXISTS idx_pending_decisions_expires ON pending_decisions(expires_at);
`

// NewPostgresStore opens a pool on connStr and ensures the table exists.
func NewPostgresStore(ctx context.Context, connStr string) (*PostgresStore, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to create postgres pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres ping failed: %w", err)
	}

	if _, err := pool.Exec(ctx, createPendingTable); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to create pending_decisions: %w", err)
	}

	return &PostgresStore{pool: pool}, nil
}

func (p *PostgresStore) Put(ctx context.Context, d *Decision, ttl time.Duration) error {
	data, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("failed to marshal decision: %w", err)
	}

	query := `
		INSERT INTO pending_decisions (decision_id, decision, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (decision_id) DO NOTHING
	`
	if _, err := p.pool.Exec(ctx, query, d.ID, data, time.Now().Add(ttl)); err != nil {
		return fmt.Errorf("postgres insert failed: %w", err)
	}
	return nil
}

func (p *PostgresStore) Take(ctx context.Context, id string) (*Decision, error) {
	query := `
		DELETE FROM pending_decisions
		WHERE decision_id = $1 AND expires_at > NOW()
		RETURNING decision
	`

	var data []byte
	err := p.pool.QueryRow(ctx, query, id).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("postgres delete failed: %w", err)
	}

	var d Decision
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("failed to unmarshal decision: %w", err)
	}
	return &d, nil
}

// CleanupExpired removes expired rows and returns how many were deleted.
func (p *PostgresStore) CleanupExpired(ctx context.Context) (int64, error) {
	result, err := p.pool.Exec(ctx, `DELETE FROM pending_decisions WHERE expires_at <= NOW()`)
	if err != nil {
		return 0, fmt.Errorf("cleanup failed: %w", err)
	}
	return result.RowsAffected(), nil
}

func (p *PostgresStore) Close() error {
	p.pool.Close()
	return nil
}
