package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/lyzr/signer/common/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeArtifacts(t *testing.T, dir string, kind models.PackageKind, n int) []Artifact {
	t.Helper()
	var out []Artifact
	for i := 0; i < n; i++ {
		name := fmt.Sprintf("pkg-%03d.%s", i, kind)
		path := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(path, []byte(name), 0o644))
		out = append(out, Artifact{
			Package: models.PackageDescriptor{ID: models.ID(fmt.Sprint(i)), FileName: name, Kind: kind},
			Path:    path,
		})
	}
	return out
}

func TestBatches(t *testing.T) {
	paths := make([]string, 130)
	var sizes []int
	for _, b := range Batches(paths, 50) {
		sizes = append(sizes, len(b))
	}
	assert.Equal(t, []int{50, 50, 30}, sizes)
	assert.Empty(t, Batches(nil, 50))
}

func TestSigningStage_BatchesRPMs(t *testing.T) {
	dir := t.TempDir()
	artifacts := writeArtifacts(t, dir, models.KindRPM, 130)
	// reverse so the stage has to sort
	for i, j := 0, len(artifacts)-1; i < j; i, j = i+1, j-1 {
		artifacts[i], artifacts[j] = artifacts[j], artifacts[i]
	}
	signer := &fakeSigner{}

	counts, err := NewSigningStage(signer, testSettings(dir), testLog).Sign(context.Background(), SignRequest{KeyID: testKeyID}, artifacts)
	require.NoError(t, err)

	assert.Equal(t, 130, counts[models.KindRPM])
	assert.Equal(t, []int{50, 50, 30}, signer.batchSizes())
	for _, batch := range signer.batches {
		assert.True(t, sort.StringsAreSorted(batch))
	}
}

func TestSigningStage_PassesCertPathOnlyWhenSigningFiles(t *testing.T) {
	dir := t.TempDir()
	artifacts := writeArtifacts(t, dir, models.KindRPM, 1)

	var got SignRequest
	signer := &recordingSigner{fakeSigner: &fakeSigner{}, onRPM: func(req SignRequest) { got = req }}
	stage := NewSigningStage(signer, testSettings(dir), testLog)

	_, err := stage.Sign(context.Background(), SignRequest{KeyID: testKeyID, SignFiles: true}, artifacts)
	require.NoError(t, err)
	assert.Equal(t, "/etc/pki/ima/ima-sign.key", got.CertPath)

	_, err = stage.Sign(context.Background(), SignRequest{KeyID: testKeyID}, artifacts)
	require.NoError(t, err)
	assert.Empty(t, got.CertPath)
}

type recordingSigner struct {
	*fakeSigner
	onRPM func(SignRequest)
}

func (s *recordingSigner) SignRPMs(ctx context.Context, req SignRequest, paths []string) (*Outcome, error) {
	s.onRPM(req)
	return s.fakeSigner.SignRPMs(ctx, req, paths)
}

func TestSigningStage_Failures(t *testing.T) {
	cases := map[string]*fakeSigner{
		"bad status":   {status: "bad passphrase"},
		"signer error": {err: errors.New("exit status 1")},
	}
	for name, signer := range cases {
		t.Run(name, func(t *testing.T) {
			dir := t.TempDir()
			_, err := NewSigningStage(signer, testSettings(dir), testLog).
				Sign(context.Background(), SignRequest{KeyID: testKeyID}, writeArtifacts(t, dir, models.KindRPM, 2))
			require.Error(t, err)
			assert.Equal(t, SigningError, KindOf(err))
		})
	}
}

func TestSigningStage_Timeout(t *testing.T) {
	dir := t.TempDir()
	settings := testSettings(dir)
	settings.SignTimeout = 20 * time.Millisecond

	_, err := NewSigningStage(&fakeSigner{block: true}, settings, testLog).
		Sign(context.Background(), SignRequest{KeyID: testKeyID}, writeArtifacts(t, dir, models.KindRPM, 1))
	require.Error(t, err)
	assert.Equal(t, SigningError, KindOf(err))
	assert.Contains(t, err.Error(), "timed out")
}

func TestSigningStage_ClearSignsDSCInPlace(t *testing.T) {
	dir := t.TempDir()
	artifacts := writeArtifacts(t, dir, models.KindDSC, 1)

	counts, err := NewSigningStage(&fakeSigner{}, testSettings(dir), testLog).
		Sign(context.Background(), SignRequest{KeyID: testKeyID}, artifacts)
	require.NoError(t, err)
	assert.Equal(t, 1, counts[models.KindDSC])

	data, err := os.ReadFile(artifacts[0].Path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "BEGIN PGP SIGNED MESSAGE")
	assert.NoFileExists(t, artifacts[0].Path+".asc")
}

func TestSigningStage_DSCBadStatusLeavesOriginal(t *testing.T) {
	dir := t.TempDir()
	artifacts := writeArtifacts(t, dir, models.KindDSC, 1)

	_, err := NewSigningStage(&fakeSigner{status: "error"}, testSettings(dir), testLog).
		Sign(context.Background(), SignRequest{KeyID: testKeyID}, artifacts)
	require.Error(t, err)

	data, err := os.ReadFile(artifacts[0].Path)
	require.NoError(t, err)
	assert.Equal(t, "pkg-000.dsc", string(data))
	assert.NoFileExists(t, artifacts[0].Path+".asc")
}
