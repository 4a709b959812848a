package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/lyzr/signer/common/models"
)

// SigningStage applies the external signer to fetched artifacts
type SigningStage struct {
	signer    Signer
	batchSize int
	timeout   time.Duration
	certPath  string
	log       Logger
}

// NewSigningStage creates a signing stage
func NewSigningStage(signer Signer, settings Settings, log Logger) *SigningStage {
	return &SigningStage{
		signer:    signer,
		batchSize: settings.SignBatchSize,
		timeout:   settings.SignTimeout,
		certPath:  settings.FilesSignCertPath,
		log:       log,
	}
}

// Sign signs every artifact exactly once and returns how many of each kind
// were signed. RPMs are signed in sorted batches; DEB and DSC one at a time.
func (s *SigningStage) Sign(ctx context.Context, req SignRequest, artifacts []Artifact) (map[models.PackageKind]int, error) {
	if req.SignFiles && req.CertPath == "" {
		req.CertPath = s.certPath
	}

	var rpms []string
	var others []Artifact
	for _, a := range artifacts {
		if a.Package.Kind == models.KindRPM {
			rpms = append(rpms, a.Path)
		} else {
			others = append(others, a)
		}
	}
	sort.Strings(rpms)

	counts := make(map[models.PackageKind]int)

	for _, batch := range Batches(rpms, s.batchSize) {
		if err := s.signBatch(ctx, req, batch); err != nil {
			return nil, stageErr(SigningError, err, "sign rpm batch of %d starting at %s", len(batch), batch[0])
		}
		counts[models.KindRPM] += len(batch)
	}

	for _, a := range others {
		var err error
		switch a.Package.Kind {
		case models.KindDEB:
			err = s.signDEB(ctx, req, a.Path)
		case models.KindDSC:
			err = s.signDSC(ctx, req, a.Path)
		default:
			err = fmt.Errorf("unsupported package type %q", a.Package.Kind)
		}
		if err != nil {
			return nil, stageErr(SigningError, err, "sign package %s (%s)", a.Package.ID, a.Package.FileName)
		}
		counts[a.Package.Kind]++
	}

	s.log.Info("packages signed", "rpm", counts[models.KindRPM], "deb", counts[models.KindDEB], "dsc", counts[models.KindDSC])
	return counts, nil
}

// Batches splits paths into consecutive chunks of at most size
func Batches(paths []string, size int) [][]string {
	if size < 1 {
		size = 1
	}
	var out [][]string
	for start := 0; start < len(paths); start += size {
		end := min(start+size, len(paths))
		out = append(out, paths[start:end])
	}
	return out
}

func (s *SigningStage) signBatch(ctx context.Context, req SignRequest, paths []string) error {
	signCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	s.log.Debug("signing rpm batch", "size", len(paths), "sign_files", req.SignFiles)
	out, err := s.signer.SignRPMs(signCtx, req, paths)
	return checkOutcome(signCtx, out, err, s.timeout)
}

// signDSC clear-signs path into path.asc and moves it over the original
func (s *SigningStage) signDSC(ctx context.Context, req SignRequest, path string) error {
	signCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	signed := path + ".asc"
	out, err := s.signer.ClearSign(signCtx, req, path, signed)
	if err := checkOutcome(signCtx, out, err, s.timeout); err != nil {
		_ = os.Remove(signed)
		return err
	}
	if err := os.Rename(signed, path); err != nil {
		return fmt.Errorf("replace %s with clear-signed copy: %w", path, err)
	}
	return nil
}

func checkOutcome(ctx context.Context, out *Outcome, err error, timeout time.Duration) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("signer timed out after %s", timeout)
	}
	if err != nil {
		return err
	}
	if out == nil {
		return errors.New("signer returned no outcome")
	}
	if out.Status != StatusSignatureCreated {
		detail := strings.TrimSpace(out.Output)
		if detail == "" {
			detail = "no output"
		}
		return fmt.Errorf("unexpected signer status %q: %s", out.Status, detail)
	}
	return nil
}
