package models

import "time"

// StageTiming records when a pipeline stage ran
type StageTiming struct {
	StartedAt  time.Time `json:"start"`
	FinishedAt time.Time `json:"end"`
	Duration   float64   `json:"duration"` // seconds
}

// TaskStats maps a stage stat name to its timing
type TaskStats struct {
	StartedAt time.Time              `json:"sign_task_start_time"`
	Stages    map[string]StageTiming `json:"stages"`
}

// NewTaskStats starts a stats record at t
func NewTaskStats(t time.Time) *TaskStats {
	return &TaskStats{
		StartedAt: t.UTC(),
		Stages:    make(map[string]StageTiming),
	}
}

// Record stores a stage timing
func (s *TaskStats) Record(name string, start, end time.Time) {
	s.Stages[name] = StageTiming{
		StartedAt:  start.UTC(),
		FinishedAt: end.UTC(),
		Duration:   end.Sub(start).Seconds(),
	}
}

// SignedPackage is the per-package result returned to the build system
type SignedPackage struct {
	ID          ID          `json:"id"`
	Name        string      `json:"name,omitempty"`
	FileName    string      `json:"file_name"`
	Kind        PackageKind `json:"type"`
	Platform    string      `json:"platform,omitempty"`
	Href        string      `json:"href,omitempty"`
	SHA256      string      `json:"sha256,omitempty"`
	Fingerprint string      `json:"fingerprint"`
	CASHash     string      `json:"cas_hash,omitempty"`
}

// NewSignedPackage copies a descriptor without its download url
func NewSignedPackage(pkg PackageDescriptor, fingerprint string) SignedPackage {
	return SignedPackage{
		ID:          pkg.ID,
		Name:        pkg.Name,
		FileName:    pkg.FileName,
		Kind:        pkg.Kind,
		Platform:    pkg.Platform,
		Fingerprint: fingerprint,
		CASHash:     pkg.CASHash,
	}
}

// ResponsePayload is the single result object of a sign task
type ResponsePayload struct {
	BuildID      *ID             `json:"build_id"`
	Success      bool            `json:"success"`
	Packages     []SignedPackage `json:"packages,omitempty"`
	Stats        *TaskStats      `json:"stats,omitempty"`
	ErrorMessage string          `json:"error_message,omitempty"`
}

// TaskResult is what reporters deliver: the payload keyed by task id
type TaskResult struct {
	TaskID     ID              `json:"task_id"`
	Payload    ResponsePayload `json:"payload"`
	ReportedAt time.Time       `json:"reported_at"`
}
