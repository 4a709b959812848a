package notary

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/lyzr/signer/cmd/sign-node/pipeline"
	"github.com/lyzr/signer/common/db"
)

// Schema creates the attestation table
var Schema = []string{
	`CREATE TABLE IF NOT EXISTS notary_attestation (
		hash       TEXT PRIMARY KEY,
		metadata   JSONB NOT NULL DEFAULT '{}',
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
}

// PostgresStore keeps attestations in the notary_attestation table
type PostgresStore struct {
	db db.Querier
}

// NewPostgresStore creates a store over q
func NewPostgresStore(q db.Querier) *PostgresStore {
	return &PostgresStore{db: q}
}

// Lookup retrieves an attestation by hash
func (s *PostgresStore) Lookup(ctx context.Context, hash string) (*pipeline.Attestation, error) {
	query := `SELECT hash, metadata FROM notary_attestation WHERE hash = $1`

	var (
		att  pipeline.Attestation
		meta []byte
	)
	err := s.db.QueryRow(ctx, query, hash).Scan(&att.Hash, &meta)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get attestation: %w", err)
	}

	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &att.Metadata); err != nil {
			return nil, fmt.Errorf("decode attestation metadata: %w", err)
		}
	}
	return &att, nil
}

// Put inserts or replaces an attestation
func (s *PostgresStore) Put(ctx context.Context, att pipeline.Attestation) error {
	meta, err := json.Marshal(att.Metadata)
	if err != nil {
		return fmt.Errorf("encode attestation metadata: %w", err)
	}

	query := `
		INSERT INTO notary_attestation (hash, metadata)
		VALUES ($1, $2)
		ON CONFLICT (hash) DO UPDATE SET metadata = EXCLUDED.metadata
	`
	if _, err := s.db.Exec(ctx, query, att.Hash, meta); err != nil {
		return fmt.Errorf("failed to save attestation: %w", err)
	}
	return nil
}
