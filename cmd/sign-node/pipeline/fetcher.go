package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/lyzr/signer/common/models"
	"golang.org/x/sync/errgroup"
)

// Fetcher downloads every package of a task into the staging directory
type Fetcher struct {
	downloader Downloader
	workers    int
	attempts   int
	interval   time.Duration
	log        Logger
}

// NewFetcher creates a fetcher with a bounded download pool
func NewFetcher(downloader Downloader, settings Settings, log Logger) *Fetcher {
	return &Fetcher{
		downloader: downloader,
		workers:    settings.FetchWorkers,
		attempts:   settings.DownloadAttempts,
		interval:   settings.DownloadRetryInterval,
		log:        log,
	}
}

// StagingPath returns where a package is downloaded inside stagingDir
func StagingPath(stagingDir string, pkg models.PackageDescriptor) string {
	kindDir := "rpms"
	if pkg.Kind != models.KindRPM {
		kindDir = "debs"
	}
	parts := []string{stagingDir, kindDir}
	if pkg.Platform != "" {
		parts = append(parts, pkg.Platform)
	}
	parts = append(parts, string(pkg.ID), pkg.FileName)
	return filepath.Join(parts...)
}

// Fetch downloads pkgs and returns the artifacts in descriptor order
func (f *Fetcher) Fetch(ctx context.Context, stagingDir string, pkgs []models.PackageDescriptor) ([]Artifact, error) {
	artifacts := make([]Artifact, len(pkgs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(f.workers)

	for i, pkg := range pkgs {
		g.Go(func() error {
			dest := StagingPath(stagingDir, pkg)
			if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
				return stageErr(DownloadError, err, "prepare %s", dest)
			}
			if err := f.fetchWithRetry(gctx, pkg, dest); err != nil {
				return stageErr(DownloadError, err, "download package %s from %s", pkg.ID, pkg.DownloadURL)
			}
			artifacts[i] = Artifact{Package: pkg, Path: dest, Platform: pkg.Platform}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return artifacts, nil
}

func (f *Fetcher) fetchWithRetry(ctx context.Context, pkg models.PackageDescriptor, dest string) error {
	var policy backoff.BackOff = backoff.NewConstantBackOff(f.interval)
	policy = backoff.WithMaxRetries(policy, uint64(f.attempts-1))
	policy = backoff.WithContext(policy, ctx)

	attempt := 0
	operation := func() error {
		attempt++
		if err := f.downloader.Fetch(ctx, pkg.DownloadURL, dest); err != nil {
			return fmt.Errorf("attempt %d/%d: %w", attempt, f.attempts, err)
		}
		return nil
	}
	notify := func(err error, wait time.Duration) {
		f.log.Warn("package download failed, retrying",
			"package_id", pkg.ID,
			"error", err,
			"retry_in", wait,
		)
	}

	if err := backoff.RetryNotify(operation, policy, notify); err != nil {
		return err
	}
	f.log.Debug("package downloaded", "package_id", pkg.ID, "path", dest, "attempts", attempt)
	return nil
}
