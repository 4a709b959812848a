package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/lyzr/signer/common/keyring"
	"github.com/lyzr/signer/common/logger"
	"github.com/lyzr/signer/common/models"
)

const testKeyID = "4D0A36B2E7B4A5F1"

func testKeyRing() *keyring.KeyRing {
	return keyring.New(&keyring.Key{
		ID:          testKeyID,
		Passphrase:  "secret",
		Fingerprint: "0F1E2D3C4B5A69784D0A36B2E7B4A5F1",
		Subkeys:     []string{"A1B2C3D4E5F60718"},
	})
}

func testSettings(dir string) Settings {
	s := DefaultSettings(dir)
	s.DownloadRetryInterval = 0
	return s
}

var testLog = logger.Discard()

// fakeDownloader serves bodies by url; failures[url] attempts fail first
type fakeDownloader struct {
	mu       sync.Mutex
	bodies   map[string][]byte
	failures map[string]int
	calls    map[string]int
}

func newFakeDownloader() *fakeDownloader {
	return &fakeDownloader{
		bodies:   make(map[string][]byte),
		failures: make(map[string]int),
		calls:    make(map[string]int),
	}
}

func (d *fakeDownloader) Fetch(_ context.Context, url, dest string) error {
	d.mu.Lock()
	d.calls[url]++
	if d.failures[url] > 0 {
		d.failures[url]--
		d.mu.Unlock()
		return fmt.Errorf("connection reset fetching %s", url)
	}
	body, ok := d.bodies[url]
	d.mu.Unlock()

	if !ok {
		return fmt.Errorf("404 not found: %s", url)
	}
	return os.WriteFile(dest, body, 0o644)
}

func (d *fakeDownloader) callCount(url string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls[url]
}

// fakeNotary fails on the verify call numbered failAt (1-based)
type fakeNotary struct {
	mu          sync.Mutex
	failAt      int
	verifyCalls int
	notarized   []string
	inFlight    int
	maxInFlight int
}

func (n *fakeNotary) enter() {
	n.mu.Lock()
	n.inFlight++
	n.maxInFlight = max(n.maxInFlight, n.inFlight)
	n.mu.Unlock()
}

func (n *fakeNotary) leave() {
	n.mu.Lock()
	n.inFlight--
	n.mu.Unlock()
}

func (n *fakeNotary) Verify(_ context.Context, path string) (*Attestation, error) {
	n.enter()
	defer n.leave()

	n.mu.Lock()
	n.verifyCalls++
	call := n.verifyCalls
	n.mu.Unlock()

	if call == n.failAt {
		return nil, errors.New("ledger unavailable")
	}
	return &Attestation{Hash: filepath.Base(path), Metadata: map[string]string{"source": "build"}}, nil
}

func (n *fakeNotary) Notarize(_ context.Context, path string, previous *Attestation) (string, error) {
	n.enter()
	defer n.leave()

	n.mu.Lock()
	defer n.mu.Unlock()
	n.notarized = append(n.notarized, path)
	return "cas-" + previous.Hash, nil
}

// fakeSigner appends a marker to RPMs and records every batch
type fakeSigner struct {
	mu       sync.Mutex
	batches  [][]string
	payloads [][]byte
	status   string
	err      error
	block    bool
}

func (s *fakeSigner) outcome() string {
	if s.status != "" {
		return s.status
	}
	return StatusSignatureCreated
}

func (s *fakeSigner) SignRPMs(ctx context.Context, req SignRequest, paths []string) (*Outcome, error) {
	s.mu.Lock()
	s.batches = append(s.batches, append([]string(nil), paths...))
	s.mu.Unlock()

	if s.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if s.err != nil {
		return nil, s.err
	}
	for _, p := range paths {
		f, err := os.OpenFile(p, os.O_APPEND|os.O_WRONLY, 0)
		if err != nil {
			return nil, err
		}
		_, err = f.WriteString("+signed-by-" + req.KeyID)
		f.Close()
		if err != nil {
			return nil, err
		}
	}
	return &Outcome{Status: s.outcome()}, nil
}

func (s *fakeSigner) DetachSign(_ context.Context, req SignRequest, payload io.Reader) (*Outcome, error) {
	data, err := io.ReadAll(payload)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.payloads = append(s.payloads, data)
	s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	return &Outcome{Status: s.outcome(), Signature: []byte("SIG:" + req.KeyID)}, nil
}

func (s *fakeSigner) ClearSign(_ context.Context, req SignRequest, src, dst string) (*Outcome, error) {
	if s.err != nil {
		return nil, s.err
	}
	data, err := os.ReadFile(src)
	if err != nil {
		return nil, err
	}
	signed := "-----BEGIN PGP SIGNED MESSAGE-----\n\n" + string(data) + "-----BEGIN PGP SIGNATURE-----\n"
	if err := os.WriteFile(dst, []byte(signed), 0o644); err != nil {
		return nil, err
	}
	return &Outcome{Status: s.outcome()}, nil
}

func (s *fakeSigner) batchSizes() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	sizes := make([]int, len(s.batches))
	for i, b := range s.batches {
		sizes[i] = len(b)
	}
	return sizes
}

// fakeReader reports signers by file name; unknown names are signed by the test key
type fakeReader struct {
	signers map[string][]string
	errs    map[string]error
}

func (r fakeReader) Signers(path string) ([]string, error) {
	name := filepath.Base(path)
	if err, ok := r.errs[name]; ok {
		return nil, err
	}
	if s, ok := r.signers[name]; ok {
		return s, nil
	}
	return []string{testKeyID}, nil
}

// fakeStorage stores uploads in memory
type fakeStorage struct {
	mu      sync.Mutex
	uploads []UploadTarget
	failOn  string
}

func (s *fakeStorage) Upload(ctx context.Context, path string, target UploadTarget) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if target.FileName == s.failOn {
		return "", errors.New("bucket unavailable")
	}
	if _, err := os.Stat(path); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.uploads = append(s.uploads, target)
	return fmt.Sprintf("mem://%s/%s/%s", target.TaskID, target.PackageID, target.FileName), nil
}

func (s *fakeStorage) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.uploads)
}

// fakeReporter records every report; like a network sink it fails on a done context
type fakeReporter struct {
	mu       sync.Mutex
	payloads []models.ResponsePayload
	ctxErrs  []error
	err      error
}

func (r *fakeReporter) Report(ctx context.Context, _ models.ID, payload models.ResponsePayload) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.payloads = append(r.payloads, payload)
	r.ctxErrs = append(r.ctxErrs, ctx.Err())
	if err := ctx.Err(); err != nil {
		return err
	}
	return r.err
}

// cancelingSigner cancels the caller's context before signing, as a
// shutdown signal arriving mid-task would
type cancelingSigner struct {
	*fakeSigner
	cancel context.CancelFunc
}

func (s cancelingSigner) SignRPMs(ctx context.Context, req SignRequest, paths []string) (*Outcome, error) {
	s.cancel()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.fakeSigner.SignRPMs(ctx, req, paths)
}
