package pipeline

import (
	"context"
	"io"
	"time"

	"github.com/lyzr/signer/common/models"
)

// Logger interface for logging
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
	Warn(msg string, keysAndValues ...interface{})
	Debug(msg string, keysAndValues ...interface{})
}

// Downloader fetches a remote artifact to a local path
type Downloader interface {
	Fetch(ctx context.Context, url, destPath string) error
}

// Attestation is what a notary ledger knows about a file's content
type Attestation struct {
	Hash     string            `json:"hash"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Notary verifies artifacts against a trust ledger and records signed results.
// Implementations need not be safe for concurrent use.
type Notary interface {
	// Verify returns nil, nil when the ledger has no entry for the file
	Verify(ctx context.Context, path string) (*Attestation, error)
	Notarize(ctx context.Context, path string, previous *Attestation) (string, error)
}

// StatusSignatureCreated is the only outcome status treated as success
const StatusSignatureCreated = "signature created"

// SignRequest carries the key material for one signer invocation
type SignRequest struct {
	KeyID      string
	Passphrase string
	SignFiles  bool
	CertPath   string
}

// Outcome reports what a signer invocation did
type Outcome struct {
	Status string
	Output string
	// Signature holds the detached signature for DetachSign
	Signature []byte
}

// Signer is the external signing capability. Every call mutates or
// produces files in place and must be bounded by ctx.
type Signer interface {
	SignRPMs(ctx context.Context, req SignRequest, paths []string) (*Outcome, error)
	DetachSign(ctx context.Context, req SignRequest, payload io.Reader) (*Outcome, error)
	ClearSign(ctx context.Context, req SignRequest, src, dst string) (*Outcome, error)
}

// SignatureReader returns the issuer key ids of the OpenPGP signatures
// embedded in an RPM header. An empty slice means the package is unsigned.
type SignatureReader interface {
	Signers(path string) ([]string, error)
}

// UploadTarget names where an artifact belongs in storage
type UploadTarget struct {
	TaskID    models.ID
	Platform  string
	PackageID models.ID
	FileName  string
}

// Storage stores a signed artifact and returns its href
type Storage interface {
	Upload(ctx context.Context, path string, target UploadTarget) (string, error)
}

// Reporter delivers the final payload of a task
type Reporter interface {
	Report(ctx context.Context, taskID models.ID, payload models.ResponsePayload) error
}

// Recorder receives pipeline metrics
type Recorder interface {
	TaskStarted()
	TaskFinished(success bool)
	StageFinished(stage string, d time.Duration)
	PackagesSigned(kind string, n int)
	DuplicatesSkipped(n int)
}

type nopRecorder struct{}

func (nopRecorder) TaskStarted() {}
func (nopRecorder) TaskFinished(bool) {}
func (nopRecorder) StageFinished(string, time.Duration) {}
func (nopRecorder) PackagesSigned(string, int) {}
func (nopRecorder) DuplicatesSkipped(int) {}
