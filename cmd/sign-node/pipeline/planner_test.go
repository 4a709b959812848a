package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/lyzr/signer/common/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func artifactWithContent(t *testing.T, dir, id, name, content string) Artifact {
	t.Helper()
	path := filepath.Join(dir, id, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return Artifact{
		Package: models.PackageDescriptor{ID: models.ID(id), FileName: name, Kind: models.KindRPM},
		Path:    path,
	}
}

func TestPlanner_DeduplicatesByContent(t *testing.T) {
	dir := t.TempDir()
	artifacts := []Artifact{
		artifactWithContent(t, dir, "1", "noarch.rpm", "same"),
		artifactWithContent(t, dir, "2", "other.rpm", "different"),
		artifactWithContent(t, dir, "3", "noarch.rpm", "same"),
	}

	plan, err := NewPlanner(testSettings(dir)).Plan(artifacts)
	require.NoError(t, err)

	require.Len(t, plan.Parallel, 2)
	assert.Empty(t, plan.Sequential)
	assert.Equal(t, models.ID("1"), plan.Parallel[0].Artifact.Package.ID)
	assert.Equal(t, models.ID("2"), plan.Parallel[1].Artifact.Package.ID)
	assert.Equal(t, 1, plan.Duplicates)
	assert.Equal(t, plan.Hashes["1"], plan.Hashes["3"])
	assert.Len(t, plan.Hashes, 3)
}

func TestPlanner_SizeThreshold(t *testing.T) {
	dir := t.TempDir()
	settings := testSettings(dir)
	settings.ParallelUploadMaxSize = 4

	artifacts := []Artifact{
		artifactWithContent(t, dir, "1", "big.rpm", "12345"),
		artifactWithContent(t, dir, "2", "exact.rpm", "1234"),
		artifactWithContent(t, dir, "3", "small.rpm", "12"),
	}

	plan, err := NewPlanner(settings).Plan(artifacts)
	require.NoError(t, err)
	require.Len(t, plan.Sequential, 1)
	assert.Equal(t, models.ID("1"), plan.Sequential[0].Artifact.Package.ID)
	require.Len(t, plan.Parallel, 2)

	settings.ParallelUpload = false
	plan, err = NewPlanner(settings).Plan(artifacts)
	require.NoError(t, err)
	assert.Empty(t, plan.Parallel)
	assert.Len(t, plan.Sequential, 3)
}

func TestUploader_HrefsByHash(t *testing.T) {
	dir := t.TempDir()
	settings := testSettings(dir)
	settings.ParallelUploadMaxSize = 4
	artifacts := []Artifact{
		artifactWithContent(t, dir, "1", "big.rpm", "12345"),
		artifactWithContent(t, dir, "2", "small.rpm", "12"),
		artifactWithContent(t, dir, "3", "copy.rpm", "12"),
	}
	plan, err := NewPlanner(settings).Plan(artifacts)
	require.NoError(t, err)

	storage := &fakeStorage{}
	hrefs, err := NewUploader(storage, settings, testLog).Upload(context.Background(), "t1", plan)
	require.NoError(t, err)
	assert.Equal(t, 2, storage.count())

	records, err := Resolve(artifacts, plan, hrefs)
	require.NoError(t, err)
	assert.Equal(t, "mem://t1/1/big.rpm", records[0].Href)
	assert.Equal(t, "mem://t1/2/small.rpm", records[1].Href)
	assert.Equal(t, records[1].Href, records[2].Href)
}

func TestUploader_FailureIsFatal(t *testing.T) {
	dir := t.TempDir()
	artifacts := []Artifact{artifactWithContent(t, dir, "1", "a.rpm", "a")}
	plan, err := NewPlanner(testSettings(dir)).Plan(artifacts)
	require.NoError(t, err)

	_, err = NewUploader(&fakeStorage{failOn: "a.rpm"}, testSettings(dir), testLog).Upload(context.Background(), "t1", plan)
	require.Error(t, err)
	assert.Equal(t, UploadError, KindOf(err))
}
