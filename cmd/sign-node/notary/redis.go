package notary

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/lyzr/signer/cmd/sign-node/pipeline"
	"github.com/lyzr/signer/common/redis"
)

// AttestationsKey is the Redis hash holding metadata by content address
const AttestationsKey = "notary:attestations"

// HashClient is the part of the Redis client the store uses
type HashClient interface {
	SetHash(ctx context.Context, key, field, value string) error
	GetHash(ctx context.Context, key, field string) (string, error)
}

// RedisStore keeps attestations as fields of one Redis hash
type RedisStore struct {
	client HashClient
}

// NewRedisStore creates a store over client
func NewRedisStore(client HashClient) *RedisStore {
	return &RedisStore{client: client}
}

// Lookup retrieves an attestation by hash
func (s *RedisStore) Lookup(ctx context.Context, hash string) (*pipeline.Attestation, error) {
	raw, err := s.client.GetHash(ctx, AttestationsKey, hash)
	if errors.Is(err, redis.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	att := &pipeline.Attestation{Hash: hash}
	if err := json.Unmarshal([]byte(raw), &att.Metadata); err != nil {
		return nil, fmt.Errorf("decode attestation %s: %w", hash, err)
	}
	return att, nil
}

// Put stores an attestation
func (s *RedisStore) Put(ctx context.Context, att pipeline.Attestation) error {
	meta, err := json.Marshal(att.Metadata)
	if err != nil {
		return fmt.Errorf("encode attestation metadata: %w", err)
	}
	return s.client.SetHash(ctx, AttestationsKey, att.Hash, string(meta))
}
