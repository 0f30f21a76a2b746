// Package orchestrator implements the Ingest -> Plan -> Execute
// -> Finalize state machine that sequences an Assessment or Installation run,
// gluing the Environment Resolver, Package Manager Adapter, Filter Engine,
// Deadline Controller, Status Writer and Reboot Manager together, running a
// single bounded cycle that exits when its state machine reaches Finalize.
package orchestrator

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/guestpatch/patchcore/internal/archive"
	"github.com/guestpatch/patchcore/internal/config"
	"github.com/guestpatch/patchcore/internal/deadline"
	"github.com/guestpatch/patchcore/internal/env"
	"github.com/guestpatch/patchcore/internal/errs"
	"github.com/guestpatch/patchcore/internal/filter"
	"github.com/guestpatch/patchcore/internal/lalog"
	"github.com/guestpatch/patchcore/internal/lock"
	"github.com/guestpatch/patchcore/internal/metrics"
	"github.com/guestpatch/patchcore/internal/model"
	"github.com/guestpatch/patchcore/internal/pkgmanager"
	"github.com/guestpatch/patchcore/internal/reboot"
	"github.com/guestpatch/patchcore/internal/status"
)

// minInstallAttemptWindow is the per-patch time estimate used until a real
// install duration has been observed. It is deliberately small so that a run
// with a tight budget still attempts at least one install while time
// remains; once an install completes, the estimate becomes 1.5x the last
// observed duration, never dropping below this floor.
const minInstallAttemptWindow = 15 * time.Second

// Orchestrator owns a single Run from Ingest through Finalize.
type Orchestrator struct {
	Resolver *env.Resolver
	Adapter  pkgmanager.Adapter
	Logger   *lalog.Logger

	// Reboot is the function used to perform an OS reboot; overridable in
	// tests so they never actually shut the test host down.
	Reboot func(ctx context.Context) error

	// mu guards activeDeadline, which is only non-nil while a patching
	// operation's Execute phase is in flight.
	mu             sync.Mutex
	activeDeadline *deadline.Controller
}

// HandleSIGTERM cooperatively cancels the in-progress patching operation, if
// any: the Run transitions to Aborted after the current single-patch install
// finishes, never mid-package. It is a no-op when no operation is running.
func (o *Orchestrator) HandleSIGTERM() {
	o.mu.Lock()
	dctl := o.activeDeadline
	o.mu.Unlock()
	if dctl != nil {
		HandleSIGTERM(dctl)
	}
}

// New constructs an Orchestrator wired to the given environment and adapter.
func New(resolver *env.Resolver, adapter pkgmanager.Adapter) *Orchestrator {
	return &Orchestrator{
		Resolver: resolver,
		Adapter:  adapter,
		Logger:   &lalog.Logger{ComponentName: "orchestrator.Orchestrator"},
		Reboot:   reboot.Reboot,
	}
}

// Result is returned after a run reaches Finalize, primarily for the CLI
// entrypoint to decide a process exit code.
type Result struct {
	Run           model.Run
	StartupFailed bool // true only when the Orchestrator itself could not start
}

// RunOnce executes exactly one Ingest->Plan->Execute->Finalize cycle against
// the highest-sequence `.settings` file currently in the config directory.
func (o *Orchestrator) RunOnce(ctx context.Context) (result Result) {
	defer func() {
		if !result.StartupFailed {
			metrics.ObserveRun(result.Run)
		}
	}()
	paths := o.Resolver.Paths()

	if resumed, ok := o.resumeAfterReboot(paths); ok {
		return Result{Run: resumed}
	}

	settingsPath, seq, err := config.LatestSettingsFile(paths.ConfigFolder)
	if err != nil {
		o.Logger.Warning("RunOnce", nil, err, "failed to locate a settings file")
		return Result{StartupFailed: true}
	}
	req, err := config.Load(settingsPath, seq, time.Now())
	if err != nil {
		return o.finalizeConfigurationError(paths, seq, err)
	}

	writer := status.NewWriter(paths.StatusFolder, seq)
	defer writer.Close()

	switch req.Operation {
	case model.OperationConfigurePatching:
		return o.runConfigurePatching(paths, req, writer)
	case model.OperationNoOperation:
		return o.runNoOperation(paths, req, writer)
	default:
		return o.runPatchingOperation(ctx, paths, req, writer)
	}
}

func (o *Orchestrator) finalizeConfigurationError(paths env.Paths, seq int, cause error) Result {
	run := model.Run{StartedAt: time.Now().UTC()}
	run.AddSubstatus(cause.Error())
	run.SetStatus(model.RunStatusFailed)
	writer := status.NewWriter(paths.StatusFolder, seq)
	defer writer.Close()
	writer.Flush(run)
	return Result{Run: run}
}

func (o *Orchestrator) runConfigurePatching(paths env.Paths, req model.Request, writer *status.Writer) Result {
	run := newRun(req)
	// Persist the configured modes to the well-known file the automatic
	// assessment timer (an external collaborator) consumes.
	if err := config.WriteConfigurationMode(paths.HandlerStateFolder, config.ConfigurationMode{
		PatchMode:                 req.PatchMode,
		AssessmentMode:            req.AssessmentMode,
		MaximumAssessmentInterval: req.RawMaximumAssessmentInterval,
	}); err != nil {
		run.AddSubstatus("failed to persist configuration mode: " + err.Error())
		run.SetStatus(model.RunStatusFailed)
		writer.Flush(run)
		return Result{Run: run}
	}
	run.SetStatus(model.RunStatusSucceeded)
	writer.Flush(run)
	return Result{Run: run}
}

func (o *Orchestrator) runNoOperation(paths env.Paths, req model.Request, writer *status.Writer) Result {
	run := newRun(req)
	// Signal any concurrent Execute-phase Orchestrator by attempting the
	// single-instance lock; if held, wait for it to settle.
	l, err := lock.Acquire(paths.HandlerStateFolder)
	if err == nil {
		_ = l.Unlock()
	}
	run.SetStatus(model.RunStatusSucceeded)
	writer.Flush(run)
	return Result{Run: run}
}

func (o *Orchestrator) runPatchingOperation(ctx context.Context, paths env.Paths, req model.Request, writer *status.Writer) Result {
	l, ok, err := lock.TryAcquire(paths.HandlerStateFolder)
	if err != nil {
		o.Logger.Warning("runPatchingOperation", req.ActivityID, err, "failed to acquire single-instance lock")
		return Result{StartupFailed: true}
	}
	waitStarted := time.Now()
	if !ok {
		o.Logger.Info("runPatchingOperation", req.ActivityID, nil, "another Orchestrator instance already holds the lock, waiting")
		l, err = lock.Acquire(paths.HandlerStateFolder)
		if err != nil {
			return Result{StartupFailed: true}
		}
	}
	metrics.ObserveLockWait(req.Operation, time.Since(waitStarted).Seconds())
	defer l.Unlock()

	run := newRun(req)
	dctl := deadline.New(req.Deadline())
	runCtx, cancel := dctl.WithDeadline(ctx)
	defer cancel()

	o.mu.Lock()
	o.activeDeadline = dctl
	o.mu.Unlock()
	defer func() {
		o.mu.Lock()
		o.activeDeadline = nil
		o.mu.Unlock()
	}()

	watchCtx, stopWatch := context.WithCancel(runCtx)
	defer stopWatch()
	go WatchForCancellation(watchCtx, paths.ConfigFolder, req.SequenceNumber, req.ActivityID, dctl)

	candidates, err := o.Adapter.ListAvailableUpdates(runCtx)
	if err != nil {
		run.AddSubstatus(err.Error())
		run.SetStatus(model.RunStatusFailed)
		writer.Flush(run)
		return Result{Run: run}
	}

	var selection []model.Patch
	if req.Operation == model.OperationInstallation {
		selection, err = filter.Select(runCtx, o.Adapter, candidates, filter.Request{
			ClassificationsToInclude: req.ClassificationsToInclude,
			PatchesToInclude:         req.PatchesToInclude,
			PatchesToExclude:         req.PatchesToExclude,
		})
	} else {
		selection, err = filter.Select(runCtx, nil, candidates, filter.Request{
			ClassificationsToInclude: req.ClassificationsToInclude,
		})
	}
	if err != nil {
		run.AddSubstatus(err.Error())
		run.SetStatus(model.RunStatusFailed)
		writer.Flush(run)
		return Result{Run: run}
	}
	run.Patches = selection
	writer.Enqueue(run)

	var aborted, fatal, stopped bool
	if req.Operation == model.OperationInstallation {
		aborted, fatal, stopped = o.executeInstallLoop(runCtx, &run, dctl, writer, req)
	}

	// Every patch the install loop never reached gets a final NotStarted
	// row, so the final status accounts for the entire selection. Assessment
	// rows are enumeration only and end NotStarted as well. UpsertPatch drops
	// the write for patches already in a terminal state.
	for _, p := range run.Patches {
		p.InstallState = model.InstallStateNotStarted
		run.UpsertPatch(p)
	}

	if fatal {
		run.SetStatus(model.RunStatusFailed)
	}
	run.Finalize(aborted)
	if req.Operation == model.OperationAssessment && run.Status == model.RunStatusSucceeded {
		if recErr := config.RecordLastAssessment(paths.HandlerStateFolder, req.ActivityID, time.Now().UTC()); recErr != nil {
			run.AddSubstatus("failed to record last-assessment marker: " + recErr.Error())
		}
	}

	if req.Operation == model.OperationInstallation {
		if aborted || stopped {
			// A cancelled or deadline-truncated run wraps up gracefully with a
			// status flush and no reboot; a pending reboot need is still
			// surfaced to the host.
			if required, _ := o.Adapter.RebootRequired(runCtx); required {
				run.RebootStatus = model.RebootStatusRequired
			}
		} else {
			o.handleReboot(runCtx, paths, &run, writer, req.RebootSetting, req.SequenceNumber)
		}
	}
	writer.Flush(run)
	if req.ArchiveSnapshot {
		archiveSnapshot(paths.StatusFolder, req.ActivityID, req.SequenceNumber)
	}
	return Result{Run: run}
}

// archiveSnapshot uploads the just-flushed status document to the optional
// archive bucket. It is fire-and-forget: the Run has already finalized and
// its outcome is never affected by this upload succeeding or failing.
func archiveSnapshot(statusDir, activityID string, sequenceNumber int) {
	uploader, ok, err := archive.NewUploader()
	if !ok || err != nil {
		return
	}
	body, err := os.ReadFile(status.Path(statusDir, sequenceNumber))
	if err != nil {
		return
	}
	go func() {
		_ = uploader.UploadSnapshot(context.Background(), activityID, sequenceNumber, body)
	}()
}

// executeInstallLoop processes the selection one patch at a time. aborted
// reports that cancellation terminated the loop;
// fatal reports the adapter returned PackageManagerFatal, which fails the
// whole run regardless of how many patches installed before it; stopped
// reports the deadline cut the loop short before the selection was exhausted.
func (o *Orchestrator) executeInstallLoop(ctx context.Context, run *model.Run, dctl *deadline.Controller, writer *status.Writer, req model.Request) (aborted, fatal, stopped bool) {
	estimate := minInstallAttemptWindow
	for i := range run.Patches {
		p := run.Patches[i]
		if p.SelectedState == model.SelectedStateExcluded {
			continue
		}
		decision := dctl.Checkpoint(estimate)
		if decision != deadline.Continue {
			if cancelled, _ := dctl.Cancelled(); cancelled {
				return true, false, false
			}
			run.AddSubstatus("deadline reached before patch " + p.Name + ", stopping (" + decision.String() + ")")
			return false, false, true
		}

		p.InstallState = model.InstallStateInstalling
		run.UpsertPatch(p)
		writer.Enqueue(*run)

		started := time.Now()
		outcome, err := o.Adapter.InstallOne(ctx, p.Name, p.Version)
		if elapsed := time.Since(started); elapsed > 0 {
			estimate = elapsed + elapsed/2
			if estimate < minInstallAttemptWindow {
				estimate = minInstallAttemptWindow
			}
		}

		if err != nil {
			p.InstallState = model.InstallStateFailed
			p.ErrorMessage = err.Error()
			run.UpsertPatch(p)
			writer.Enqueue(*run)
			if kind, known := errs.KindOf(err); known && kind == errs.KindPackageManagerFatal {
				run.AddSubstatus("package manager reported a fatal condition: " + err.Error())
				return false, true, false
			}
			continue
		}
		p.InstallState = model.InstallStateInstalled
		_ = outcome
		run.UpsertPatch(p)
		writer.Enqueue(*run)

		if cancelled, reason := dctl.Cancelled(); cancelled {
			o.Logger.Info("executeInstallLoop", req.ActivityID, nil, "cancellation observed after completing current patch: %s", reason)
			return true, false, false
		}
	}
	return false, false, false
}

// handleReboot applies the reboot policy table after the install loop exits.
// When a reboot is issued, the status with RebootStatus=Started is flushed
// right before the reboot call.
func (o *Orchestrator) handleReboot(ctx context.Context, paths env.Paths, run *model.Run, writer *status.Writer, setting model.RebootSetting, seq int) {
	rebootRequired, _ := o.Adapter.RebootRequired(ctx)
	if !reboot.Decide(setting, rebootRequired) {
		if rebootRequired {
			run.RebootStatus = model.RebootStatusRequired
		}
		return
	}
	run.RebootStatus = model.RebootStatusStarted
	if err := reboot.WriteMarker(paths.HandlerStateFolder, reboot.Marker{
		ActivityID:       run.ActivityID,
		Operation:        run.Operation,
		IntendedStatus:   run.Status,
		RebootStatusWant: model.RebootStatusCompleted,
		SequenceNumber:   seq,
	}); err != nil {
		run.AddSubstatus("failed to persist reboot marker: " + err.Error())
		run.RebootStatus = model.RebootStatusFailed
		return
	}
	rebootFn := o.Reboot
	if rebootFn == nil {
		rebootFn = reboot.Reboot
	}
	writer.Flush(*run)
	if err := rebootFn(ctx); err != nil {
		run.AddSubstatus("reboot failed: " + err.Error())
		run.RebootStatus = model.RebootStatusFailed
	}
}

// resumeAfterReboot checks for a pending reboot marker before reading a
// fresh request: if present, the prior Run is finalized and the
// marker deleted.
func (o *Orchestrator) resumeAfterReboot(paths env.Paths) (model.Run, bool) {
	marker, ok, err := reboot.ReadMarker(paths.HandlerStateFolder)
	if err != nil || !ok {
		return model.Run{}, false
	}
	run := model.Run{
		ActivityID:   marker.ActivityID,
		Operation:    marker.Operation,
		Status:       marker.IntendedStatus,
		RebootStatus: model.RebootStatusCompleted,
	}
	now := time.Now().UTC()
	run.CompletedAt = &now

	writer := status.NewWriter(paths.StatusFolder, marker.SequenceNumber)
	writer.Flush(run)
	writer.Close()

	_ = reboot.DeleteMarker(paths.HandlerStateFolder)
	return run, true
}

func newRun(req model.Request) model.Run {
	return model.Run{
		ActivityID:         req.ActivityID,
		Operation:          req.Operation,
		StartedAt:          time.Now().UTC(),
		Status:             model.RunStatusInProgress,
		RebootStatus:       model.RebootStatusNotStarted,
		UnrecognizedFields: req.UnrecognizedFields,
	}
}

// WatchForCancellation polls the config directory at >=1Hz for a newer
// sequence number carrying NoOperation for the same activityId. It runs until ctx is done or it has cancelled dctl itself.
func WatchForCancellation(ctx context.Context, configDir string, afterSeq int, activityID string, dctl *deadline.Controller) {
	ticker := time.NewTicker(900 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			newer, err := config.SequenceNumbersNewerThan(configDir, afterSeq)
			if err != nil {
				continue
			}
			for _, n := range newer {
				if isNoOp, _ := config.IsNoOperationFor(configDir, n, activityID); isNoOp {
					dctl.Cancel("newer NoOperation sequence observed")
					return
				}
			}
		}
	}
}

// HandleSIGTERM translates a process-level SIGTERM into deadline
// cancellation, the second of the two cancellation forms. The CLI entrypoint
// reaches this indirectly through Orchestrator.HandleSIGTERM, which locates
// the controller for whichever operation is currently in flight.
func HandleSIGTERM(dctl *deadline.Controller) {
	dctl.Cancel("SIGTERM received")
}
