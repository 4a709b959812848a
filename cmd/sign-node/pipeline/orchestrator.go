package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
	"github.com/lyzr/signer/common/keyring"
	"github.com/lyzr/signer/common/models"
)

// State is a step of the task state machine
type State string

const (
	StateFetching  State = "fetching"
	StateVerifying State = "verifying"
	StateSigning   State = "signing"
	StateAuditing  State = "auditing"
	StatePlanning  State = "planning"
	StateUploading State = "uploading"
	StateReporting State = "reporting"
	StateDone      State = "done"
	StateFailed    State = "failed"
)

// Stat names written into the response stats
const (
	StatDownload     = "download_packages_time"
	StatVerification = "verification_packages_time"
	StatSign         = "sign_packages_time"
	StatAudit        = "signature_check_packages_time"
	StatNotarization = "notarization_packages_time"
	StatUpload       = "upload_packages_time"
)

// Orchestrator sequences the pipeline stages for one task at a time per call.
// Concurrent Run calls are safe; each gets its own staging directory.
type Orchestrator struct {
	keys     *keyring.KeyRing
	fetcher  *Fetcher
	verifier *Verifier
	signing  *SigningStage
	auditor  *Auditor
	planner  *Planner
	uploader *Uploader
	reporter Reporter
	recorder Recorder
	settings Settings
	log      Logger

	onTransition func(taskID models.ID, state State)
	now          func() time.Time
}

// OrchestratorOpts contains the collaborators of an orchestrator
type OrchestratorOpts struct {
	KeyRing         *keyring.KeyRing
	Downloader      Downloader
	Notary          Notary
	Signer          Signer
	SignatureReader SignatureReader
	Storage         Storage
	Reporter        Reporter
	Recorder        Recorder
	Settings        Settings
	Logger          Logger
	// OnTransition is called on every state change, if set
	OnTransition func(taskID models.ID, state State)
}

// NewOrchestrator wires the stages together
func NewOrchestrator(opts *OrchestratorOpts) *Orchestrator {
	recorder := opts.Recorder
	if recorder == nil {
		recorder = nopRecorder{}
	}
	reader := opts.SignatureReader
	if reader == nil {
		reader = RPMSignatureReader{}
	}

	return &Orchestrator{
		keys:         opts.KeyRing,
		fetcher:      NewFetcher(opts.Downloader, opts.Settings, opts.Logger),
		verifier:     NewVerifier(opts.Notary, opts.Settings.NotaryEnabled, opts.Logger),
		signing:      NewSigningStage(opts.Signer, opts.Settings, opts.Logger),
		auditor:      NewAuditor(reader, opts.Settings, opts.Logger),
		planner:      NewPlanner(opts.Settings),
		uploader:     NewUploader(opts.Storage, opts.Settings, opts.Logger),
		reporter:     opts.Reporter,
		recorder:     recorder,
		settings:     opts.Settings,
		log:          opts.Logger,
		onTransition: opts.OnTransition,
		now:          time.Now,
	}
}

type taskRun struct {
	task       *models.SignTask
	stagingDir string
	stats      *models.TaskStats
	state      State
}

// Run executes the task end to end. It never returns an error: failures end
// up in the payload, the payload is reported exactly once and the staging
// directory is removed on every path. Cancelling ctx does not interrupt the
// run; stages are bounded by their own timeouts.
func (o *Orchestrator) Run(ctx context.Context, task *models.SignTask) models.ResponsePayload {
	ctx = context.WithoutCancel(ctx)
	o.recorder.TaskStarted()

	run := &taskRun{
		task:       task,
		stagingDir: filepath.Join(o.settings.WorkingDir, fmt.Sprintf("%s-%s", task.ID, uuid.NewString()[:8])),
		stats:      models.NewTaskStats(o.now()),
	}
	defer o.cleanup(run)

	payload := models.ResponsePayload{
		BuildID: task.BuildID,
		Stats:   run.stats,
	}

	o.log.Info("sign task started",
		"task_id", task.ID,
		"key_id", task.KeyID,
		"packages", len(task.Packages.Descriptors),
		"staging_dir", run.stagingDir,
	)

	packages, err := o.execute(ctx, run)
	if err != nil {
		o.transition(run, StateFailed)
		payload.Success = false
		payload.ErrorMessage = ErrorMessage(err)
		o.log.Error("sign task failed", "task_id", task.ID, "kind", string(KindOf(err)), "error", err)
	} else {
		payload.Success = true
		payload.Packages = packages
	}

	o.transition(run, StateReporting)
	if o.reporter != nil {
		if err := o.reporter.Report(ctx, task.ID, payload); err != nil {
			o.log.Error("failed to report sign task", "task_id", task.ID, "error", err)
		}
	}

	o.transition(run, StateDone)
	o.recorder.TaskFinished(payload.Success)
	o.log.Info("sign task finished", "task_id", task.ID, "success", payload.Success)
	return payload
}

// ErrorMessage renders a task error for the response payload. Audit
// failures keep their one-line-per-package form.
func ErrorMessage(err error) string {
	var se *StageError
	if errors.As(err, &se) && se.Kind == AuditError {
		return se.Msg
	}
	return err.Error()
}

func (o *Orchestrator) execute(ctx context.Context, run *taskRun) (packages []models.SignedPackage, err error) {
	defer func() {
		if r := recover(); r != nil {
			o.log.Error("panic in sign pipeline", "task_id", run.task.ID, "state", string(run.state), "panic", r, "stack", string(debug.Stack()))
			packages = nil
			err = &StageError{Kind: InternalError, Msg: fmt.Sprintf("panic while %s: %v", run.state, r)}
		}
	}()

	task := run.task
	if task.KeyID == "" {
		return nil, stageErr(ConfigError, nil, "sign task %s has no key id", task.ID)
	}
	key, err := o.keys.Get(task.KeyID)
	if err != nil {
		return nil, stageErr(ConfigError, err, "sign task %s", task.ID)
	}
	if err := os.MkdirAll(run.stagingDir, 0o755); err != nil {
		return nil, stageErr(ConfigError, err, "create staging directory")
	}

	var artifacts []Artifact
	err = o.stage(run, StateFetching, StatDownload, func() error {
		var err error
		artifacts, err = o.fetcher.Fetch(ctx, run.stagingDir, task.Packages.Descriptors)
		return err
	})
	if err != nil {
		return nil, err
	}

	var attestations map[models.ID]*Attestation
	err = o.stage(run, StateVerifying, StatVerification, func() error {
		var err error
		attestations, err = o.verifier.Verify(ctx, artifacts)
		return err
	})
	if err != nil {
		return nil, err
	}

	err = o.stage(run, StateSigning, StatSign, func() error {
		counts, err := o.signing.Sign(ctx, SignRequest{
			KeyID:      key.ID,
			Passphrase: key.Passphrase,
			SignFiles:  task.SignFiles,
		}, artifacts)
		for kind, n := range counts {
			o.recorder.PackagesSigned(string(kind), n)
		}
		return err
	})
	if err != nil {
		return nil, err
	}

	err = o.stage(run, StateAuditing, StatAudit, func() error {
		return o.auditor.Audit(key, artifacts)
	})
	if err != nil {
		return nil, err
	}

	var plan *UploadPlan
	var addresses map[models.ID]string
	err = o.stage(run, StatePlanning, StatNotarization, func() error {
		var err error
		if addresses, err = o.verifier.Notarize(ctx, artifacts, attestations); err != nil {
			return err
		}
		plan, err = o.planner.Plan(artifacts)
		return err
	})
	if err != nil {
		return nil, err
	}
	o.recorder.DuplicatesSkipped(plan.Duplicates)

	var records []UploadRecord
	err = o.stage(run, StateUploading, StatUpload, func() error {
		hrefs, err := o.uploader.Upload(ctx, task.ID, plan)
		if err != nil {
			return err
		}
		records, err = Resolve(artifacts, plan, hrefs)
		return err
	})
	if err != nil {
		return nil, err
	}

	fingerprint := key.Fingerprint
	if fingerprint == "" {
		fingerprint = key.ID
	}
	packages = make([]models.SignedPackage, len(artifacts))
	for i, a := range artifacts {
		sp := models.NewSignedPackage(a.Package, fingerprint)
		sp.Href = records[i].Href
		sp.SHA256 = records[i].Hash.Hex()
		if address, ok := addresses[a.Package.ID]; ok {
			sp.CASHash = address
		}
		packages[i] = sp
	}
	return packages, nil
}

// stage runs fn as state and records its timing under statName
func (o *Orchestrator) stage(run *taskRun, state State, statName string, fn func() error) error {
	o.transition(run, state)
	start := o.now()
	err := fn()
	end := o.now()

	run.stats.Record(statName, start, end)
	o.recorder.StageFinished(string(state), end.Sub(start))
	return err
}

func (o *Orchestrator) transition(run *taskRun, state State) {
	run.state = state
	o.log.Debug("sign task state", "task_id", run.task.ID, "state", string(state))
	if o.onTransition != nil {
		o.onTransition(run.task.ID, state)
	}
}

func (o *Orchestrator) cleanup(run *taskRun) {
	if err := os.RemoveAll(run.stagingDir); err != nil {
		o.log.Error("failed to remove staging directory", "task_id", run.task.ID, "path", run.stagingDir, "error", err)
	}
}
