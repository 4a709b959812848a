package pipeline

import (
	"github.com/lyzr/signer/common/hasher"
	"github.com/lyzr/signer/common/models"
)

// Artifact is a downloaded package file in the task's staging directory
type Artifact struct {
	Package  models.PackageDescriptor
	Path     string
	Platform string
}

// SignatureStatus is the audit verdict for one signed RPM
type SignatureStatus int

const (
	SignatureOK SignatureStatus = iota
	SignatureReadError
	SignatureMissing
	SignatureWrongKey
)

func (s SignatureStatus) String() string {
	switch s {
	case SignatureOK:
		return "success"
	case SignatureReadError:
		return "read-error"
	case SignatureMissing:
		return "no-signature"
	case SignatureWrongKey:
		return "wrong-signature"
	default:
		return "unknown"
	}
}

// SignatureRecord is the audit outcome of one artifact
type SignatureRecord struct {
	Path   string
	Status SignatureStatus
	// Signer is the last observed issuer key id when Status is SignatureWrongKey
	Signer string
}

// Message renders a failing record as a human-readable line
func (r SignatureRecord) Message() string {
	switch r.Status {
	case SignatureReadError:
		return "Cannot read file " + r.Path
	case SignatureMissing:
		return "Package " + r.Path + " is not signed"
	case SignatureWrongKey:
		return "Package " + r.Path + " is signed with the wrong key: " + r.Signer
	default:
		return ""
	}
}

// PlannedUpload is the first artifact seen with a given content hash
type PlannedUpload struct {
	Artifact Artifact
	Hash     hasher.ContentHash
}

// UploadPlan is the dedup planner's output
type UploadPlan struct {
	Parallel   []PlannedUpload
	Sequential []PlannedUpload
	// Hashes maps every package id, uploaded or duplicate, to its content hash
	Hashes map[models.ID]hasher.ContentHash
	// Duplicates counts artifacts that reuse an earlier upload
	Duplicates int
}

// UploadRecord ties a package to the href its content was stored at
type UploadRecord struct {
	PackageID models.ID
	Hash      hasher.ContentHash
	Href      string
}
