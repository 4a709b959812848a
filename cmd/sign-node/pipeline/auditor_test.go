package pipeline

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ProtonMail/go-crypto/openpgp"
	"github.com/ProtonMail/go-crypto/openpgp/packet"
	"github.com/lyzr/signer/common/keyring"
	"github.com/lyzr/signer/common/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func auditKey(t *testing.T) *keyring.Key {
	t.Helper()
	key, err := testKeyRing().Get(testKeyID)
	require.NoError(t, err)
	return key
}

func rpmArtifacts(t *testing.T, dir string, names ...string) []Artifact {
	t.Helper()
	var out []Artifact
	for i, name := range names {
		path := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(path, []byte(name), 0o644))
		out = append(out, Artifact{
			Package: models.PackageDescriptor{ID: models.ID(fmt.Sprint(i)), FileName: name, Kind: models.KindRPM},
			Path:    path,
		})
	}
	return out
}

func TestAuditor_Classification(t *testing.T) {
	dir := t.TempDir()
	reader := fakeReader{
		signers: map[string][]string{
			"lower.rpm":    {strings.ToLower(testKeyID)},
			"subkey.rpm":   {"a1b2c3d4e5f60718"},
			"multi.rpm":    {"1111111111111111", testKeyID},
			"unsigned.rpm": {},
			"wrong.rpm":    {"DEADBEEFDEADBEEF"},
		},
		errs: map[string]error{"corrupt.rpm": errors.New("bad lead")},
	}
	paths := []string{
		filepath.Join(dir, "lower.rpm"),
		filepath.Join(dir, "subkey.rpm"),
		filepath.Join(dir, "multi.rpm"),
		filepath.Join(dir, "unsigned.rpm"),
		filepath.Join(dir, "wrong.rpm"),
		filepath.Join(dir, "corrupt.rpm"),
		filepath.Join(dir, "missing.rpm"),
	}
	for _, p := range paths[:6] {
		require.NoError(t, os.WriteFile(p, nil, 0o644))
	}

	records := NewAuditor(reader, testSettings(dir), testLog).Check(auditKey(t), paths)

	var got []SignatureStatus
	for _, r := range records {
		got = append(got, r.Status)
	}
	assert.Equal(t, []SignatureStatus{
		SignatureOK, SignatureOK, SignatureOK,
		SignatureMissing, SignatureWrongKey, SignatureReadError, SignatureReadError,
	}, got)
	assert.Equal(t, "deadbeefdeadbeef", records[4].Signer)
}

func TestAuditor_WrongSignerFailsWithOneLinePerPackage(t *testing.T) {
	dir := t.TempDir()
	artifacts := rpmArtifacts(t, dir, "good.rpm", "bad.rpm", "unsigned.rpm")
	reader := fakeReader{signers: map[string][]string{
		"bad.rpm":      {"DEADBEEFDEADBEEF"},
		"unsigned.rpm": nil,
	}}

	err := NewAuditor(reader, testSettings(dir), testLog).Audit(auditKey(t), artifacts)
	require.Error(t, err)
	assert.Equal(t, AuditError, KindOf(err))

	want := AuditErrorHeader +
		"Package " + artifacts[1].Path + " is signed with the wrong key: deadbeefdeadbeef\n" +
		"Package " + artifacts[2].Path + " is not signed"
	assert.Equal(t, want, ErrorMessage(err))
}

func TestAuditor_IgnoresNonRPMs(t *testing.T) {
	dir := t.TempDir()
	artifacts := []Artifact{{
		Package: models.PackageDescriptor{ID: "1", FileName: "a.deb", Kind: models.KindDEB},
		Path:    filepath.Join(dir, "does-not-exist.deb"),
	}}
	err := NewAuditor(fakeReader{}, testSettings(dir), testLog).Audit(auditKey(t), artifacts)
	assert.NoError(t, err)
}

func TestIssuerKeyIDs_ParsesOpenPGPSignature(t *testing.T) {
	entity, err := openpgp.NewEntity("Build Signer", "", "signer@example.com", &packet.Config{Algorithm: packet.PubKeyAlgoEdDSA})
	require.NoError(t, err)

	var sig bytes.Buffer
	require.NoError(t, openpgp.DetachSign(&sig, entity, strings.NewReader("header+payload"), nil))

	ids, err := IssuerKeyIDs(sig.Bytes())
	require.NoError(t, err)
	require.Len(t, ids, 1)
	assert.Equal(t, fmt.Sprintf("%016X", entity.PrimaryKey.KeyId), ids[0])
}

func TestIssuerKeyIDs_RejectsGarbage(t *testing.T) {
	_, err := IssuerKeyIDs([]byte("not a signature"))
	assert.Error(t, err)
}

func TestRPMSignatureReader_UnreadableFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "junk.rpm")
	require.NoError(t, os.WriteFile(path, []byte("junk"), 0o644))

	_, err := RPMSignatureReader{}.Signers(path)
	assert.Error(t, err)
}
