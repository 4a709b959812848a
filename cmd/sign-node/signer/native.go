package signer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/ProtonMail/go-crypto/openpgp"
	"github.com/ProtonMail/go-crypto/openpgp/clearsign"
	"github.com/lyzr/signer/cmd/sign-node/pipeline"
	"github.com/lyzr/signer/common/keyring"
	"github.com/sassoftware/go-rpmutils"
)

// ErrFileSigningUnsupported is returned for IMA file signing requests
var ErrFileSigningUnsupported = errors.New("file signing requires the gpg backend")

// NativeSigner signs in-process with OpenPGP keys read from the key ring's
// secret key files
type NativeSigner struct {
	keys *keyring.KeyRing
	log  Logger

	mu       sync.Mutex
	entities map[string]*openpgp.Entity
}

// NewNativeSigner creates the in-process backend
func NewNativeSigner(keys *keyring.KeyRing, log Logger) *NativeSigner {
	return &NativeSigner{
		keys:     keys,
		log:      log,
		entities: make(map[string]*openpgp.Entity),
	}
}

// SignRPMs writes an RPM header signature into each package
func (s *NativeSigner) SignRPMs(ctx context.Context, req pipeline.SignRequest, paths []string) (*pipeline.Outcome, error) {
	if req.SignFiles {
		return nil, ErrFileSigningUnsupported
	}
	entity, err := s.entity(req)
	if err != nil {
		return nil, err
	}

	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := signRPM(path, entity); err != nil {
			return nil, err
		}
	}
	return &pipeline.Outcome{Status: pipeline.StatusSignatureCreated}, nil
}

func signRPM(path string, entity *openpgp.Entity) error {
	in, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	tmp := filepath.Join(filepath.Dir(path), "."+filepath.Base(path)+".signed")

	_, err = rpmutils.SignRpmFile(in, tmp, entity.PrivateKey, nil)
	in.Close()
	if err != nil {
		os.Remove(tmp)
		return fmt.Errorf("sign %s: %w", path, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("replace %s: %w", path, err)
	}
	return nil
}

// DetachSign produces a binary detached signature over payload
func (s *NativeSigner) DetachSign(ctx context.Context, req pipeline.SignRequest, payload io.Reader) (*pipeline.Outcome, error) {
	entity, err := s.entity(req)
	if err != nil {
		return nil, err
	}

	var sig bytes.Buffer
	if err := openpgp.DetachSign(&sig, entity, payload, nil); err != nil {
		return nil, fmt.Errorf("detach sign: %w", err)
	}
	return &pipeline.Outcome{Status: pipeline.StatusSignatureCreated, Signature: sig.Bytes()}, nil
}

// ClearSign writes a clear-signed copy of src to dst
func (s *NativeSigner) ClearSign(ctx context.Context, req pipeline.SignRequest, src, dst string) (*pipeline.Outcome, error) {
	entity, err := s.entity(req)
	if err != nil {
		return nil, err
	}

	in, err := os.Open(src)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", src, err)
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", dst, err)
	}
	defer out.Close()

	w, err := clearsign.Encode(out, entity.PrivateKey, nil)
	if err != nil {
		return nil, fmt.Errorf("clearsign: %w", err)
	}
	if _, err := io.Copy(w, in); err != nil {
		return nil, fmt.Errorf("clearsign %s: %w", src, err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("finish clearsign: %w", err)
	}
	if err := out.Close(); err != nil {
		return nil, fmt.Errorf("close %s: %w", dst, err)
	}
	return &pipeline.Outcome{Status: pipeline.StatusSignatureCreated}, nil
}

// entity loads and unlocks the secret key for req.KeyID once
func (s *NativeSigner) entity(req pipeline.SignRequest) (*openpgp.Entity, error) {
	id := strings.ToLower(req.KeyID)

	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.entities[id]; ok {
		return e, nil
	}

	key, err := s.keys.Get(req.KeyID)
	if err != nil {
		return nil, err
	}
	if key.SecretKeyPath == "" {
		return nil, fmt.Errorf("key %s has no secret key file", key.ID)
	}

	f, err := os.Open(key.SecretKeyPath)
	if err != nil {
		return nil, fmt.Errorf("open secret key: %w", err)
	}
	defer f.Close()

	list, err := openpgp.ReadArmoredKeyRing(f)
	if err != nil {
		return nil, fmt.Errorf("read secret key %s: %w", key.SecretKeyPath, err)
	}
	entity := pickEntity(list, key.ID)
	if entity == nil || entity.PrivateKey == nil {
		return nil, fmt.Errorf("secret key file %s has no private key for %s", key.SecretKeyPath, key.ID)
	}

	passphrase := req.Passphrase
	if passphrase == "" {
		passphrase = key.Passphrase
	}
	if entity.PrivateKey.Encrypted {
		if err := entity.DecryptPrivateKeys([]byte(passphrase)); err != nil {
			return nil, fmt.Errorf("unlock key %s: %w", key.ID, err)
		}
	}

	s.log.Info("loaded signing key", "key_id", key.ID)
	s.entities[id] = entity
	return entity, nil
}

func pickEntity(list openpgp.EntityList, keyID string) *openpgp.Entity {
	for _, e := range list {
		if e.PrimaryKey != nil && strings.EqualFold(fmt.Sprintf("%016X", e.PrimaryKey.KeyId), keyID) {
			return e
		}
	}
	if len(list) > 0 {
		return list[0]
	}
	return nil
}
