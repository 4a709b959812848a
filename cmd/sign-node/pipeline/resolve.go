package pipeline

import (
	"github.com/opencontainers/go-digest"
)

// Resolve gives every artifact, duplicates included, the href its content
// was uploaded to. Records come back in artifact order.
func Resolve(artifacts []Artifact, plan *UploadPlan, hrefs map[digest.Digest]string) ([]UploadRecord, error) {
	records := make([]UploadRecord, len(artifacts))
	for i, a := range artifacts {
		h, ok := plan.Hashes[a.Package.ID]
		if !ok {
			return nil, stageErr(UploadError, nil, "package %s was not planned", a.Package.ID)
		}
		href, ok := hrefs[h.Digest]
		if !ok {
			return nil, stageErr(UploadError, nil, "no upload recorded for package %s (%s)", a.Package.ID, h.Digest)
		}
		records[i] = UploadRecord{PackageID: a.Package.ID, Hash: h, Href: href}
	}
	return records, nil
}
