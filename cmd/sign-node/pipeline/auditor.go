package pipeline

import (
	"errors"
	"io/fs"
	"os"
	"strings"

	"github.com/hashicorp/go-multierror"
	"github.com/lyzr/signer/common/keyring"
	"github.com/lyzr/signer/common/models"
	"golang.org/x/sync/errgroup"
)

// AuditErrorHeader prefixes the aggregated audit failure message
const AuditErrorHeader = "Errors during checking packages signatures: \n"

// Auditor re-reads signed RPMs and checks who signed them
type Auditor struct {
	reader  SignatureReader
	workers int
	log     Logger
}

// NewAuditor creates an auditor with a bounded pool
func NewAuditor(reader SignatureReader, settings Settings, log Logger) *Auditor {
	return &Auditor{
		reader:  reader,
		workers: settings.AuditWorkers,
		log:     log,
	}
}

// Check classifies every path; records come back in input order
func (a *Auditor) Check(key *keyring.Key, paths []string) []SignatureRecord {
	records := make([]SignatureRecord, len(paths))

	var g errgroup.Group
	g.SetLimit(max(a.workers, 1))
	for i, path := range paths {
		g.Go(func() error {
			records[i] = a.classify(key, path)
			return nil
		})
	}
	g.Wait()

	return records
}

// Audit checks every signed RPM among artifacts and fails with one line per
// offending package
func (a *Auditor) Audit(key *keyring.Key, artifacts []Artifact) error {
	var paths []string
	for _, art := range artifacts {
		if art.Package.Kind == models.KindRPM {
			paths = append(paths, art.Path)
		}
	}

	var result *multierror.Error
	for _, rec := range a.Check(key, paths) {
		if rec.Status == SignatureOK {
			continue
		}
		a.log.Warn("signature check failed", "path", rec.Path, "status", rec.Status.String(), "signer", rec.Signer)
		result = multierror.Append(result, errors.New(rec.Message()))
	}
	if result == nil {
		return nil
	}

	result.ErrorFormat = formatAuditErrors
	return &StageError{Kind: AuditError, Msg: result.Error(), Err: result}
}

func formatAuditErrors(errs []error) string {
	lines := make([]string, len(errs))
	for i, err := range errs {
		lines[i] = err.Error()
	}
	return AuditErrorHeader + strings.Join(lines, "\n")
}

func (a *Auditor) classify(key *keyring.Key, path string) SignatureRecord {
	rec := SignatureRecord{Path: path}

	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		rec.Status = SignatureReadError
		return rec
	}

	signers, err := a.reader.Signers(path)
	if err != nil {
		a.log.Debug("cannot read rpm signature", "path", path, "error", err)
		rec.Status = SignatureReadError
		return rec
	}
	if len(signers) == 0 {
		rec.Status = SignatureMissing
		return rec
	}

	for _, signer := range signers {
		if key.Authorizes(signer) {
			rec.Status = SignatureOK
			return rec
		}
		rec.Signer = strings.ToLower(signer)
	}
	rec.Status = SignatureWrongKey
	return rec
}
