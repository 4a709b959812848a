package notary

import (
	"context"
	"fmt"

	"github.com/lyzr/signer/cmd/sign-node/pipeline"
	"github.com/lyzr/signer/common/hasher"
)

// Logger interface for logging
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
	Warn(msg string, keysAndValues ...interface{})
	Debug(msg string, keysAndValues ...interface{})
}

// SourceHashKey links a notarized artifact to the attestation it was signed from
const SourceHashKey = "source_hash"

// Store persists attestations keyed by content address
type Store interface {
	// Lookup returns nil, nil when nothing is recorded for hash
	Lookup(ctx context.Context, hash string) (*pipeline.Attestation, error)
	Put(ctx context.Context, att pipeline.Attestation) error
}

// Ledger verifies files by content address against a Store
type Ledger struct {
	store Store
	log   Logger
}

// NewLedger creates a ledger over store
func NewLedger(store Store, log Logger) *Ledger {
	return &Ledger{store: store, log: log}
}

// Verify looks up the attestation for the file's current content
func (l *Ledger) Verify(ctx context.Context, path string) (*pipeline.Attestation, error) {
	h, err := hasher.HashFile(path)
	if err != nil {
		return nil, err
	}

	att, err := l.store.Lookup(ctx, h.String())
	if err != nil {
		return nil, fmt.Errorf("lookup %s: %w", h, err)
	}
	if att == nil {
		l.log.Warn("no attestation recorded", "path", path, "hash", h.String())
		return nil, nil
	}

	l.log.Debug("attestation found", "path", path, "hash", h.String())
	return att, nil
}

// Notarize records the signed file, inheriting metadata from previous,
// and returns its content address
func (l *Ledger) Notarize(ctx context.Context, path string, previous *pipeline.Attestation) (string, error) {
	h, err := hasher.HashFile(path)
	if err != nil {
		return "", err
	}

	meta := make(map[string]string)
	if previous != nil {
		for k, v := range previous.Metadata {
			meta[k] = v
		}
		meta[SourceHashKey] = previous.Hash
	}

	att := pipeline.Attestation{Hash: h.String(), Metadata: meta}
	if err := l.store.Put(ctx, att); err != nil {
		return "", fmt.Errorf("record %s: %w", h, err)
	}

	l.log.Info("artifact notarized", "path", path, "hash", att.Hash)
	return att.Hash, nil
}
