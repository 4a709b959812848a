package signer

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/lyzr/signer/cmd/sign-node/pipeline"
)

// Logger interface for logging
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
	Warn(msg string, keysAndValues ...interface{})
	Debug(msg string, keysAndValues ...interface{})
}

// ExecOpts configures the gpg/rpmsign backend
type ExecOpts struct {
	GPGBinary     string
	RPMSignBinary string
	// GPGHome overrides GNUPGHOME for both tools when set
	GPGHome string
	Logger  Logger
}

// ExecSigner signs by running gpg and rpmsign. Passphrases are handed over
// through a 0600 file that lives only for the duration of one call.
type ExecSigner struct {
	gpg     string
	rpmsign string
	gpgHome string
	log     Logger
}

// NewExecSigner creates the external tool backend
func NewExecSigner(opts ExecOpts) *ExecSigner {
	gpg := opts.GPGBinary
	if gpg == "" {
		gpg = "gpg"
	}
	rpmsign := opts.RPMSignBinary
	if rpmsign == "" {
		rpmsign = "rpmsign"
	}
	return &ExecSigner{
		gpg:     gpg,
		rpmsign: rpmsign,
		gpgHome: opts.GPGHome,
		log:     opts.Logger,
	}
}

// SignRPMs drops existing signatures then re-signs the whole batch in one
// rpmsign invocation
func (s *ExecSigner) SignRPMs(ctx context.Context, req pipeline.SignRequest, paths []string) (*pipeline.Outcome, error) {
	for _, path := range paths {
		out, err := s.run(ctx, nil, s.rpmsign, "--delsign", path)
		if err != nil {
			return nil, fmt.Errorf("cannot delete package signature of %s: %w: %s", path, err, out)
		}
	}

	workDir, passFile, err := s.passphraseFile(req.Passphrase)
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(workDir)

	args := []string{"--rpmv3", "--resign"}
	if req.SignFiles {
		args = append(args, "--signfiles", "--fskpath", req.CertPath)
	}
	args = append(args,
		"-D", "_gpg_name "+req.KeyID,
		"-D", "_gpg_sign_cmd_extra_args --batch --pinentry-mode loopback --passphrase-file "+passFile,
	)
	args = append(args, paths...)

	s.log.Debug("running rpmsign", "batch", len(paths), "sign_files", req.SignFiles)
	out, err := s.run(ctx, nil, s.rpmsign, args...)
	if err != nil {
		return &pipeline.Outcome{Status: "failed", Output: string(out)}, fmt.Errorf("rpmsign: %w", err)
	}
	return &pipeline.Outcome{Status: pipeline.StatusSignatureCreated, Output: string(out)}, nil
}

// DetachSign writes a binary OpenPGP detached signature over payload
func (s *ExecSigner) DetachSign(ctx context.Context, req pipeline.SignRequest, payload io.Reader) (*pipeline.Outcome, error) {
	workDir, passFile, err := s.passphraseFile(req.Passphrase)
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(workDir)

	sigFile := filepath.Join(workDir, "signature")
	statusFile := filepath.Join(workDir, "status")

	out, runErr := s.run(ctx, payload, s.gpg, s.gpgArgs(req, passFile, statusFile,
		"--openpgp", "--detach-sign", "--output", sigFile)...)

	outcome, err := readOutcome(statusFile, out)
	if err != nil {
		return nil, err
	}
	if runErr != nil && outcome.Status == pipeline.StatusSignatureCreated {
		return nil, fmt.Errorf("gpg: %w", runErr)
	}
	if outcome.Status != pipeline.StatusSignatureCreated {
		return outcome, nil
	}

	outcome.Signature, err = os.ReadFile(sigFile)
	if err != nil {
		return nil, fmt.Errorf("read detached signature: %w", err)
	}
	return outcome, nil
}

// ClearSign writes an inline clear-signed copy of src to dst
func (s *ExecSigner) ClearSign(ctx context.Context, req pipeline.SignRequest, src, dst string) (*pipeline.Outcome, error) {
	workDir, passFile, err := s.passphraseFile(req.Passphrase)
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(workDir)

	statusFile := filepath.Join(workDir, "status")
	out, runErr := s.run(ctx, nil, s.gpg, s.gpgArgs(req, passFile, statusFile,
		"--clearsign", "--output", dst, src)...)

	outcome, err := readOutcome(statusFile, out)
	if err != nil {
		return nil, err
	}
	if runErr != nil && outcome.Status == pipeline.StatusSignatureCreated {
		return nil, fmt.Errorf("gpg: %w", runErr)
	}
	return outcome, nil
}

func (s *ExecSigner) gpgArgs(req pipeline.SignRequest, passFile, statusFile string, extra ...string) []string {
	args := []string{
		"--batch", "--yes",
		"--pinentry-mode", "loopback",
		"--passphrase-file", passFile,
		"--status-file", statusFile,
		"--local-user", req.KeyID,
	}
	return append(args, extra...)
}

func (s *ExecSigner) passphraseFile(passphrase string) (string, string, error) {
	dir, err := os.MkdirTemp("", "sign-node-")
	if err != nil {
		return "", "", fmt.Errorf("create signer work dir: %w", err)
	}
	path := filepath.Join(dir, "passphrase")
	if err := os.WriteFile(path, []byte(passphrase), 0o600); err != nil {
		os.RemoveAll(dir)
		return "", "", fmt.Errorf("write passphrase file: %w", err)
	}
	return dir, path, nil
}

func (s *ExecSigner) run(ctx context.Context, stdin io.Reader, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Env = append(os.Environ(), "LC_ALL=C.UTF-8")
	if s.gpgHome != "" {
		cmd.Env = append(cmd.Env, "GNUPGHOME="+s.gpgHome)
	}
	cmd.Stdin = stdin
	cmd.WaitDelay = 5 * time.Second

	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	err := cmd.Run()
	if ctxErr := ctx.Err(); ctxErr != nil {
		return out.Bytes(), ctxErr
	}
	return out.Bytes(), err
}

func readOutcome(statusFile string, output []byte) (*pipeline.Outcome, error) {
	f, err := os.Open(statusFile)
	if errors.Is(err, os.ErrNotExist) {
		return &pipeline.Outcome{Status: "no status", Output: string(output)}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read gpg status: %w", err)
	}
	defer f.Close()

	status, err := ParseStatus(f)
	if err != nil {
		return nil, err
	}
	return &pipeline.Outcome{Status: status, Output: string(output)}, nil
}

// ParseStatus turns gpg --status-file output into an outcome status.
// SIG_CREATED wins; otherwise the most telling failure keyword is returned.
func ParseStatus(r io.Reader) (string, error) {
	status := "no signature created"
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		fields := strings.Fields(strings.TrimPrefix(sc.Text(), "[GNUPG:]"))
		if len(fields) == 0 {
			continue
		}
		switch fields[0] {
		case "SIG_CREATED":
			return pipeline.StatusSignatureCreated, nil
		case "BAD_PASSPHRASE", "MISSING_PASSPHRASE":
			status = "bad passphrase"
		case "INV_SGNR", "NO_SGNR":
			status = "invalid signer"
		case "KEYEXPIRED", "KEY_EXPIRED":
			status = "key expired"
		case "FAILURE", "ERROR":
			if status == "no signature created" {
				status = strings.ToLower(strings.Join(fields, " "))
			}
		}
	}
	return status, sc.Err()
}
