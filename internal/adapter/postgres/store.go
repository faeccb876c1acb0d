package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store implements resultstore.Store using PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a new Store backed by the given connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Save upserts the payload for (session, agent) with the given TTL.
func (s *Store) Save(ctx context.Context, sessionID, agentName string, payload []byte, ttl time.Duration) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO agent_results (session_id, agent_name, payload, created_at, expires_at)
		 VALUES ($1, $2, $3, now(), now() + $4)
		 ON CONFLICT (session_id, agent_name)
		 DO UPDATE SET payload = EXCLUDED.payload, created_at = now(), expires_at = EXCLUDED.expires_at`,
		sessionID, agentName, payload, ttl)
	if err != nil {
		return fmt.Errorf("save result %s/%s: %w", sessionID, agentName, err)
	}
	return nil
}

// Load returns the stored payload for (session, agent) if present and not expired.
func (s *Store) Load(ctx context.Context, sessionID, agentName string) ([]byte, bool, error) {
	var payload []byte
	err := s.pool.QueryRow(ctx,
		`SELECT payload FROM agent_results
		 WHERE session_id = $1 AND agent_name = $2 AND expires_at > now()`,
		sessionID, agentName).Scan(&payload)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("load result %s/%s: %w", sessionID, agentName, err)
	}
	return payload, true, nil
}

// PurgeExpired removes rows past their expiry and returns how many.
func (s *Store) PurgeExpired(ctx context.Context) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM agent_results WHERE expires_at <= now()`)
	if err != nil {
		return 0, fmt.Errorf("purge expired results: %w", err)
	}
	return tag.RowsAffected(), nil
}
