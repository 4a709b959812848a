package pipeline

import (
	"context"
	"sync"

	"github.com/lyzr/signer/common/models"
	"github.com/opencontainers/go-digest"
	"golang.org/x/sync/errgroup"
)

// Uploader stores planned artifacts
type Uploader struct {
	storage Storage
	workers int
	log     Logger
}

// NewUploader creates an uploader with a bounded parallel pool
func NewUploader(storage Storage, settings Settings, log Logger) *Uploader {
	return &Uploader{
		storage: storage,
		workers: settings.UploadWorkers,
		log:     log,
	}
}

// Upload sends the parallel set through the pool, then the sequential set
// one at a time, and returns href by content hash
func (u *Uploader) Upload(ctx context.Context, taskID models.ID, plan *UploadPlan) (map[digest.Digest]string, error) {
	hrefs := make(map[digest.Digest]string, len(plan.Parallel)+len(plan.Sequential))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(u.workers)
	for _, item := range plan.Parallel {
		g.Go(func() error {
			href, err := u.uploadOne(gctx, taskID, item)
			if err != nil {
				return err
			}
			mu.Lock()
			hrefs[item.Hash.Digest] = href
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	for _, item := range plan.Sequential {
		href, err := u.uploadOne(ctx, taskID, item)
		if err != nil {
			return nil, err
		}
		hrefs[item.Hash.Digest] = href
	}

	return hrefs, nil
}

func (u *Uploader) uploadOne(ctx context.Context, taskID models.ID, item PlannedUpload) (string, error) {
	a := item.Artifact
	href, err := u.storage.Upload(ctx, a.Path, UploadTarget{
		TaskID:    taskID,
		Platform:  a.Platform,
		PackageID: a.Package.ID,
		FileName:  a.Package.FileName,
	})
	if err != nil {
		return "", stageErr(UploadError, err, "upload package %s (%s)", a.Package.ID, a.Package.FileName)
	}
	u.log.Debug("package uploaded", "package_id", a.Package.ID, "href", href, "size", item.Hash.Size)
	return href, nil
}
