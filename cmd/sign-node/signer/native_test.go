package signer

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ProtonMail/go-crypto/openpgp"
	"github.com/ProtonMail/go-crypto/openpgp/armor"
	"github.com/ProtonMail/go-crypto/openpgp/clearsign"
	"github.com/ProtonMail/go-crypto/openpgp/packet"
	"github.com/lyzr/signer/cmd/sign-node/pipeline"
	"github.com/lyzr/signer/common/keyring"
	"github.com/lyzr/signer/common/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func nativeSigner(t *testing.T) (*NativeSigner, *openpgp.Entity, string) {
	t.Helper()
	return nativeSignerWith(t, &packet.Config{Algorithm: packet.PubKeyAlgoEdDSA})
}

func nativeSignerWith(t *testing.T, cfg *packet.Config) (*NativeSigner, *openpgp.Entity, string) {
	t.Helper()
	entity, err := openpgp.NewEntity("Build Signer", "", "signer@example.com", cfg)
	require.NoError(t, err)

	var buf bytes.Buffer
	w, err := armor.Encode(&buf, openpgp.PrivateKeyType, nil)
	require.NoError(t, err)
	require.NoError(t, entity.SerializePrivate(w, nil))
	require.NoError(t, w.Close())

	path := filepath.Join(t.TempDir(), "secret.asc")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o600))

	keyID := fmt.Sprintf("%016X", entity.PrimaryKey.KeyId)
	keys := keyring.New(&keyring.Key{ID: keyID, SecretKeyPath: path})
	return NewNativeSigner(keys, logger.Discard()), entity, keyID
}

func TestNativeSigner_DetachSign(t *testing.T) {
	s, entity, keyID := nativeSigner(t)

	out, err := s.DetachSign(context.Background(), pipeline.SignRequest{KeyID: keyID}, strings.NewReader("2.0\ncontroldata"))
	require.NoError(t, err)
	assert.Equal(t, pipeline.StatusSignatureCreated, out.Status)

	_, err = openpgp.CheckDetachedSignature(openpgp.EntityList{entity},
		strings.NewReader("2.0\ncontroldata"), bytes.NewReader(out.Signature), nil)
	require.NoError(t, err)

	ids, err := pipeline.IssuerKeyIDs(out.Signature)
	require.NoError(t, err)
	assert.Equal(t, []string{keyID}, ids)
}

func TestNativeSigner_ClearSign(t *testing.T) {
	s, _, keyID := nativeSigner(t)
	dir := t.TempDir()
	src := filepath.Join(dir, "hello.dsc")
	require.NoError(t, os.WriteFile(src, []byte("Format: 3.0 (quilt)\nSource: hello\n"), 0o644))

	out, err := s.ClearSign(context.Background(), pipeline.SignRequest{KeyID: keyID}, src, src+".asc")
	require.NoError(t, err)
	assert.Equal(t, pipeline.StatusSignatureCreated, out.Status)

	data, err := os.ReadFile(src + ".asc")
	require.NoError(t, err)
	block, _ := clearsign.Decode(data)
	require.NotNil(t, block)
	assert.Contains(t, string(block.Plaintext), "Source: hello")
}

// unsignedRPM copies the unsigned fixture package into a temp dir
func unsignedRPM(t *testing.T) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join("testdata", "simple-1.0.1-1.i386.rpm"))
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "simple-1.0.1-1.i386.rpm")
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func TestNativeSigner_SignRPMsPassesAudit(t *testing.T) {
	s, _, keyID := nativeSignerWith(t, &packet.Config{Algorithm: packet.PubKeyAlgoRSA, RSABits: 2048})
	path := unsignedRPM(t)

	reader := pipeline.RPMSignatureReader{}
	auditor := pipeline.NewAuditor(reader, pipeline.DefaultSettings(t.TempDir()), logger.Discard())
	key := &keyring.Key{ID: keyID}

	ids, err := reader.Signers(path)
	require.NoError(t, err)
	assert.Empty(t, ids)
	assert.Equal(t, pipeline.SignatureMissing, auditor.Check(key, []string{path})[0].Status)

	out, err := s.SignRPMs(context.Background(), pipeline.SignRequest{KeyID: keyID}, []string{path})
	require.NoError(t, err)
	assert.Equal(t, pipeline.StatusSignatureCreated, out.Status)

	ids, err = reader.Signers(path)
	require.NoError(t, err)
	assert.Equal(t, []string{keyID}, ids)

	records := auditor.Check(key, []string{path})
	assert.Equal(t, pipeline.SignatureOK, records[0].Status)

	other := &keyring.Key{ID: "0123456789ABCDEF"}
	records = auditor.Check(other, []string{path})
	assert.Equal(t, pipeline.SignatureWrongKey, records[0].Status)
	assert.Equal(t, strings.ToLower(keyID), records[0].Signer)
}

func TestNativeSigner_Errors(t *testing.T) {
	s, _, keyID := nativeSigner(t)

	_, err := s.SignRPMs(context.Background(), pipeline.SignRequest{KeyID: keyID, SignFiles: true}, []string{"a.rpm"})
	assert.ErrorIs(t, err, ErrFileSigningUnsupported)

	_, err = s.DetachSign(context.Background(), pipeline.SignRequest{KeyID: "FFFFFFFFFFFFFFFF"}, strings.NewReader("x"))
	assert.ErrorIs(t, err, keyring.ErrUnknownKey)

	bare := NewNativeSigner(keyring.New(&keyring.Key{ID: "AB"}), logger.Discard())
	_, err = bare.DetachSign(context.Background(), pipeline.SignRequest{KeyID: "AB"}, strings.NewReader("x"))
	assert.ErrorContains(t, err, "no secret key file")
}
