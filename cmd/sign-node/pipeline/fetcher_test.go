package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/lyzr/signer/common/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStagingPath(t *testing.T) {
	rpm := models.PackageDescriptor{ID: "7", FileName: "a.rpm", Kind: models.KindRPM, Platform: "x86_64"}
	dsc := models.PackageDescriptor{ID: "8", FileName: "a.dsc", Kind: models.KindDSC}

	assert.Equal(t, filepath.Join("/s", "rpms", "x86_64", "7", "a.rpm"), StagingPath("/s", rpm))
	assert.Equal(t, filepath.Join("/s", "debs", "8", "a.dsc"), StagingPath("/s", dsc))
}

func TestFetcher_DownloadsInDescriptorOrder(t *testing.T) {
	dir := t.TempDir()
	dl := newFakeDownloader()
	var pkgs []models.PackageDescriptor
	for i, name := range []string{"c.rpm", "a.deb", "b.rpm", "d.dsc", "e.rpm"} {
		url := "http://build/" + name
		dl.bodies[url] = []byte(name)
		kind := models.PackageKind(filepath.Ext(name)[1:])
		pkgs = append(pkgs, models.PackageDescriptor{
			ID: models.ID(fmt.Sprint(i + 1)), FileName: name, Kind: kind, DownloadURL: url,
		})
	}

	artifacts, err := NewFetcher(dl, testSettings(dir), testLog).Fetch(context.Background(), dir, pkgs)
	require.NoError(t, err)
	require.Len(t, artifacts, len(pkgs))

	for i, a := range artifacts {
		assert.Equal(t, pkgs[i].ID, a.Package.ID)
		data, err := os.ReadFile(a.Path)
		require.NoError(t, err)
		assert.Equal(t, pkgs[i].FileName, string(data))
	}
}

func TestFetcher_RetriesTransientFailures(t *testing.T) {
	dir := t.TempDir()
	dl := newFakeDownloader()
	dl.bodies["http://build/a.rpm"] = []byte("rpm")
	dl.failures["http://build/a.rpm"] = 2

	pkgs := []models.PackageDescriptor{{ID: "1", FileName: "a.rpm", Kind: models.KindRPM, DownloadURL: "http://build/a.rpm"}}
	_, err := NewFetcher(dl, testSettings(dir), testLog).Fetch(context.Background(), dir, pkgs)

	require.NoError(t, err)
	assert.Equal(t, 3, dl.callCount("http://build/a.rpm"))
}

func TestFetcher_GivesUpAfterThreeAttempts(t *testing.T) {
	dir := t.TempDir()
	dl := newFakeDownloader()
	dl.failures["http://build/a.rpm"] = 10

	pkgs := []models.PackageDescriptor{{ID: "1", FileName: "a.rpm", Kind: models.KindRPM, DownloadURL: "http://build/a.rpm"}}
	_, err := NewFetcher(dl, testSettings(dir), testLog).Fetch(context.Background(), dir, pkgs)

	require.Error(t, err)
	assert.Equal(t, DownloadError, KindOf(err))
	assert.Contains(t, err.Error(), "attempt 3/3")
	assert.Contains(t, err.Error(), "connection reset")
	assert.Equal(t, 3, dl.callCount("http://build/a.rpm"))
}
