package pipeline

import (
	"context"
	"sync"

	"github.com/lyzr/signer/common/models"
)

// Verifier runs notary calls one at a time. A single Verifier is shared by
// every task in the process so the ledger client never sees concurrent use.
type Verifier struct {
	notary  Notary
	enabled bool
	mu      sync.Mutex
	log     Logger
}

// NewVerifier creates a verifier; a nil notary disables verification
func NewVerifier(notary Notary, enabled bool, log Logger) *Verifier {
	return &Verifier{
		notary:  notary,
		enabled: enabled && notary != nil,
		log:     log,
	}
}

// Enabled reports whether artifacts are checked against the ledger
func (v *Verifier) Enabled() bool {
	return v.enabled
}

// Verify checks every artifact that carries a pre-sign content hash and
// returns the attestations keyed by package id
func (v *Verifier) Verify(ctx context.Context, artifacts []Artifact) (map[models.ID]*Attestation, error) {
	attestations := make(map[models.ID]*Attestation)
	if !v.enabled {
		return attestations, nil
	}

	for _, a := range artifacts {
		if a.Package.CASHash == "" {
			continue
		}
		att, err := v.verifyOne(ctx, a.Path)
		if err != nil {
			return nil, stageErr(VerificationError, err, "package %s (%s) cannot be verified", a.Package.ID, a.Package.FileName)
		}
		if att == nil {
			return nil, stageErr(VerificationError, nil, "package %s (%s) cannot be verified", a.Package.ID, a.Package.FileName)
		}
		v.log.Debug("package verified", "package_id", a.Package.ID, "hash", att.Hash)
		attestations[a.Package.ID] = att
	}
	return attestations, nil
}

// Notarize records each previously verified artifact's signed content and
// returns the new content addresses keyed by package id
func (v *Verifier) Notarize(ctx context.Context, artifacts []Artifact, attestations map[models.ID]*Attestation) (map[models.ID]string, error) {
	addresses := make(map[models.ID]string, len(attestations))
	if !v.enabled {
		return addresses, nil
	}

	for _, a := range artifacts {
		att, ok := attestations[a.Package.ID]
		if !ok {
			continue
		}
		address, err := v.notarizeOne(ctx, a.Path, att)
		if err != nil {
			return nil, stageErr(VerificationError, err, "notarize package %s (%s)", a.Package.ID, a.Package.FileName)
		}
		addresses[a.Package.ID] = address
	}
	return addresses, nil
}

func (v *Verifier) verifyOne(ctx context.Context, path string) (*Attestation, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.notary.Verify(ctx, path)
}

func (v *Verifier) notarizeOne(ctx context.Context, path string, att *Attestation) (string, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.notary.Notarize(ctx, path, att)
}
