package pipeline

import (
	"github.com/lyzr/signer/common/hasher"
	"github.com/lyzr/signer/common/models"
	"github.com/opencontainers/go-digest"
)

// Planner partitions signed artifacts into upload sets by content hash and size
type Planner struct {
	parallel bool
	maxSize  int64
	hash     func(path string) (hasher.ContentHash, error)
}

// NewPlanner creates a planner using the settings' upload policy
func NewPlanner(settings Settings) *Planner {
	return &Planner{
		parallel: settings.ParallelUpload,
		maxSize:  settings.ParallelUploadMaxSize,
		hash:     hasher.HashFile,
	}
}

// Plan hashes every artifact before anything is uploaded. The first artifact
// with a given hash is queued; later ones are only recorded in Hashes.
func (p *Planner) Plan(artifacts []Artifact) (*UploadPlan, error) {
	plan := &UploadPlan{
		Hashes: make(map[models.ID]hasher.ContentHash, len(artifacts)),
	}
	seen := make(map[digest.Digest]struct{}, len(artifacts))

	for _, a := range artifacts {
		h, err := p.hash(a.Path)
		if err != nil {
			return nil, stageErr(UploadError, err, "hash package %s", a.Package.ID)
		}
		plan.Hashes[a.Package.ID] = h

		if _, dup := seen[h.Digest]; dup {
			plan.Duplicates++
			continue
		}
		seen[h.Digest] = struct{}{}

		item := PlannedUpload{Artifact: a, Hash: h}
		if p.Eligible(h.Size) {
			plan.Parallel = append(plan.Parallel, item)
		} else {
			plan.Sequential = append(plan.Sequential, item)
		}
	}
	return plan, nil
}

// Eligible reports whether a file of size goes to the parallel pool
func (p *Planner) Eligible(size int64) bool {
	return p.parallel && size <= p.maxSize
}
