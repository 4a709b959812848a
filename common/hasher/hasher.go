package hasher

import (
	"fmt"
	"os"

	"github.com/opencontainers/go-digest"
)

// ContentHash is the sha256 digest of a file's bytes
type ContentHash struct {
	Digest digest.Digest
	Size   int64
}

// Hex returns the bare hex encoding, as reported in task responses
func (h ContentHash) Hex() string {
	return h.Digest.Encoded()
}

// String returns "sha256:<hex>"
func (h ContentHash) String() string {
	return h.Digest.String()
}

// HashFile computes the sha256 digest and size of a local file
func HashFile(path string) (ContentHash, error) {
	f, err := os.Open(path)
	if err != nil {
		return ContentHash{}, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return ContentHash{}, fmt.Errorf("stat %s: %w", path, err)
	}

	d, err := digest.SHA256.FromReader(f)
	if err != nil {
		return ContentHash{}, fmt.Errorf("hash %s: %w", path, err)
	}

	return ContentHash{Digest: d, Size: info.Size()}, nil
}
