package tenant

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/botlerhq/botler/internal/event"
)

// PgStore reads tenants from Postgres.
type PgStore struct {
	pool *pgxpool.Pool
}

// NewPgStore creates a Postgres-backed tenant store.
func NewPgStore(pool *pgxpool.Pool) *PgStore {
	return &PgStore{pool: pool}
}

// Get implements Store.
func (s *PgStore) Get(ctx context.Context, id string) (Tenant, error) {
	const q = `
		SELECT id, name, enabled, credentials, created_at
		FROM tenants
		WHERE id = $1`

	var (
		t       Tenant
		rawCred []byte
	)
	err := s.pool.QueryRow(ctx, q, id).Scan(&t.ID, &t.Name, &t.Enabled, &rawCred, &t.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Tenant{}, ErrNotFound
	}
	if err != nil {
		return Tenant{}, fmt.Errorf("get tenant %s: %w", id, err)
	}
	if !t.Enabled {
		return Tenant{}, ErrNotFound
	}
	creds := map[string]Credentials{}
	if len(rawCred) > 0 {
		if err := json.Unmarshal(rawCred, &creds); err != nil {
			return Tenant{}, fmt.Errorf("decode tenant %s credentials: %w", id, err)
		}
	}
	t.Credentials = map[event.Platform]Credentials{}
	for platform, c := range creds {
		t.Credentials[event.Platform(platform)] = c
	}
	return t, nil
}
