package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/lyzr/signer/cmd/sign-node/pipeline"
)

// DirStorage copies signed packages into a local directory tree laid out
// like the bucket
type DirStorage struct {
	root string
}

// NewDirStorage creates a storage rooted at root
func NewDirStorage(root string) *DirStorage {
	return &DirStorage{root: root}
}

// Upload copies the file and returns a file:// href
func (d *DirStorage) Upload(ctx context.Context, filePath string, target pipeline.UploadTarget) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	dest := filepath.Join(d.root, string(target.TaskID), target.Platform, string(target.PackageID), target.FileName)
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return "", fmt.Errorf("create %s: %w", filepath.Dir(dest), err)
	}

	src, err := os.Open(filePath)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", filePath, err)
	}
	defer src.Close()

	out, err := os.Create(dest)
	if err != nil {
		return "", fmt.Errorf("create %s: %w", dest, err)
	}
	if _, err := io.Copy(out, src); err != nil {
		out.Close()
		return "", fmt.Errorf("copy to %s: %w", dest, err)
	}
	if err := out.Close(); err != nil {
		return "", fmt.Errorf("close %s: %w", dest, err)
	}

	abs, err := filepath.Abs(dest)
	if err != nil {
		return "", err
	}
	return "file://" + abs, nil
}
