package pipeline

import (
	"time"

	"github.com/lyzr/signer/common/config"
)

// Settings are the pipeline tunables
type Settings struct {
	WorkingDir            string
	FetchWorkers          int
	DownloadAttempts      int
	DownloadRetryInterval time.Duration
	SignBatchSize         int
	SignTimeout           time.Duration
	FilesSignCertPath     string
	AuditWorkers          int
	UploadWorkers         int
	ParallelUpload        bool
	ParallelUploadMaxSize int64
	NotaryEnabled         bool
}

// DefaultSettings returns the documented defaults rooted at workingDir
func DefaultSettings(workingDir string) Settings {
	return Settings{
		WorkingDir:            workingDir,
		FetchWorkers:          4,
		DownloadAttempts:      3,
		DownloadRetryInterval: time.Second,
		SignBatchSize:         50,
		SignTimeout:           10 * time.Minute,
		FilesSignCertPath:     "/etc/pki/ima/ima-sign.key",
		AuditWorkers:          10,
		UploadWorkers:         4,
		ParallelUpload:        true,
		ParallelUploadMaxSize: config.DefaultParallelUploadMaxSize,
	}
}

// SettingsFromConfig maps service configuration onto pipeline settings
func SettingsFromConfig(cfg *config.Config) Settings {
	return Settings{
		WorkingDir:            cfg.Signer.WorkingDir,
		FetchWorkers:          cfg.Signer.FetchWorkers,
		DownloadAttempts:      cfg.Signer.DownloadAttempts,
		DownloadRetryInterval: cfg.Signer.DownloadRetryInterval,
		SignBatchSize:         cfg.Signer.SignBatchSize,
		SignTimeout:           cfg.Signer.SignTimeout,
		FilesSignCertPath:     cfg.Signer.FilesSignCertPath,
		AuditWorkers:          cfg.Signer.AuditWorkers,
		UploadWorkers:         cfg.Signer.UploadWorkers,
		ParallelUpload:        cfg.Signer.ParallelUpload,
		ParallelUploadMaxSize: cfg.Signer.ParallelUploadMaxSize,
		NotaryEnabled:         cfg.Notary.Enabled,
	}
}
