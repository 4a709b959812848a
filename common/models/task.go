package models

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
)

// PackageKind is the artifact format of a package
type PackageKind string

const (
	KindRPM PackageKind = "rpm"
	KindDEB PackageKind = "deb"
	KindDSC PackageKind = "dsc"
)

// ErrInvalidTask is wrapped by every task validation failure
var ErrInvalidTask = errors.New("invalid sign task")

// ID is an identifier that arrives either as a JSON number or a string
type ID string

// UnmarshalJSON accepts 42 and "42"
func (id *ID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = ID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("id must be a string or number: %w", err)
	}
	*id = ID(n.String())
	return nil
}

// String returns the identifier text
func (id ID) String() string {
	return string(id)
}

// PackageDescriptor describes one built artifact to sign
type PackageDescriptor struct {
	ID          ID          `json:"id"`
	Name        string      `json:"name,omitempty"`
	FileName    string      `json:"file_name,omitempty"`
	Kind        PackageKind `json:"type,omitempty"`
	DownloadURL string      `json:"download_url"`
	Platform    string      `json:"platform,omitempty"`
	CASHash     string      `json:"cas_hash,omitempty"`
}

// UnmarshalJSON applies the field aliases accepted from build servers
func (p *PackageDescriptor) UnmarshalJSON(data []byte) error {
	type plain PackageDescriptor
	var raw struct {
		plain
		PackageType PackageKind `json:"package_type"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*p = PackageDescriptor(raw.plain)
	if p.Kind == "" {
		p.Kind = raw.PackageType
	}
	if p.Kind == "" {
		p.Kind = KindRPM
	}
	p.Kind = PackageKind(strings.ToLower(string(p.Kind)))
	if p.FileName == "" {
		p.FileName = p.Name
	}
	return nil
}

// Validate checks the descriptor is usable
func (p *PackageDescriptor) Validate() error {
	if p.ID == "" {
		return fmt.Errorf("%w: package without id", ErrInvalidTask)
	}
	if p.FileName == "" {
		return fmt.Errorf("%w: package %s has no file name", ErrInvalidTask, p.ID)
	}
	if strings.ContainsAny(p.FileName, `/\`) || p.FileName == "." || p.FileName == ".." {
		return fmt.Errorf("%w: package %s has an unsafe file name %q", ErrInvalidTask, p.ID, p.FileName)
	}
	if strings.ContainsAny(p.Platform, `/\`) || p.Platform == ".." {
		return fmt.Errorf("%w: package %s has an unsafe platform %q", ErrInvalidTask, p.ID, p.Platform)
	}
	if p.DownloadURL == "" {
		return fmt.Errorf("%w: package %s has no download url", ErrInvalidTask, p.ID)
	}
	switch p.Kind {
	case KindRPM, KindDEB, KindDSC:
	default:
		return fmt.Errorf("%w: package %s has unsupported type %q", ErrInvalidTask, p.ID, p.Kind)
	}
	return nil
}

// PackageSet holds the task's packages either as a flat list or grouped by
// platform. It is normalized once, at decode time, into Descriptors.
type PackageSet struct {
	Grouped     bool
	Descriptors []PackageDescriptor
}

// UnmarshalJSON decodes `[...]` or `{"platform": [...]}`
func (s *PackageSet) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*s = PackageSet{}
		return nil
	}

	switch data[0] {
	case '[':
		var flat []PackageDescriptor
		if err := json.Unmarshal(data, &flat); err != nil {
			return fmt.Errorf("decode package list: %w", err)
		}
		*s = PackageSet{Descriptors: flat}
		return nil
	case '{':
		var grouped map[string][]PackageDescriptor
		if err := json.Unmarshal(data, &grouped); err != nil {
			return fmt.Errorf("decode grouped packages: %w", err)
		}
		platforms := make([]string, 0, len(grouped))
		for platform := range grouped {
			platforms = append(platforms, platform)
		}
		sort.Strings(platforms)

		var out []PackageDescriptor
		for _, platform := range platforms {
			for _, pkg := range grouped[platform] {
				pkg.Platform = platform
				out = append(out, pkg)
			}
		}
		*s = PackageSet{Grouped: true, Descriptors: out}
		return nil
	default:
		return fmt.Errorf("packages must be a list or an object keyed by platform")
	}
}

// MarshalJSON writes the normalized flat form
func (s PackageSet) MarshalJSON() ([]byte, error) {
	if s.Descriptors == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(s.Descriptors)
}

// SignTask is a request to sign and deliver a batch of packages
type SignTask struct {
	ID        ID         `json:"id"`
	KeyID     string     `json:"keyid"`
	BuildID   *ID        `json:"build_id,omitempty"`
	SignFiles bool       `json:"sign_files,omitempty"`
	Packages  PackageSet `json:"packages"`
}

// UnmarshalJSON accepts pgp_keyid as an alias of keyid
func (t *SignTask) UnmarshalJSON(data []byte) error {
	type plain SignTask
	var raw struct {
		plain
		PGPKeyID string `json:"pgp_keyid"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*t = SignTask(raw.plain)
	if t.KeyID == "" {
		t.KeyID = raw.PGPKeyID
	}
	return nil
}

// DecodeTask parses and validates a task payload
func DecodeTask(data []byte) (*SignTask, error) {
	var task SignTask
	if err := json.Unmarshal(data, &task); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidTask, err)
	}
	if err := task.Validate(); err != nil {
		return nil, err
	}
	return &task, nil
}

// Validate checks task-level fields and every descriptor. A missing key id is
// not checked here; it is reported by the pipeline as a configuration error.
func (t *SignTask) Validate() error {
	if t.ID == "" {
		return fmt.Errorf("%w: task without id", ErrInvalidTask)
	}
	if strings.ContainsAny(string(t.ID), `/\`) || t.ID == ".." || t.ID == "." {
		return fmt.Errorf("%w: unsafe task id %q", ErrInvalidTask, t.ID)
	}
	seen := make(map[ID]struct{}, len(t.Packages.Descriptors))
	for i := range t.Packages.Descriptors {
		pkg := &t.Packages.Descriptors[i]
		if err := pkg.Validate(); err != nil {
			return err
		}
		if _, dup := seen[pkg.ID]; dup {
			return fmt.Errorf("%w: duplicate package id %s", ErrInvalidTask, pkg.ID)
		}
		seen[pkg.ID] = struct{}{}
	}
	return nil
}
