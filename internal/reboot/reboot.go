// Package reboot implements the reboot manager: it applies the
// reboot policy table, persists a marker describing an in-flight reboot so the
// next invocation can resume the prior Run, and (on Linux) performs the
// controlled reboot itself. Command invocation goes through procrun the same
// way the package manager adapters shell out.
package reboot

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/guestpatch/patchcore/internal/errs"
	"github.com/guestpatch/patchcore/internal/model"
	"github.com/guestpatch/patchcore/internal/procrun"
)

// Marker is persisted to the handler-state directory before a reboot is
// issued, so the next process invocation can finalize the interrupted Run.
type Marker struct {
	ActivityID       string             `json:"activityId"`
	Operation        model.Operation    `json:"operation"`
	IntendedStatus   model.RunStatus    `json:"intendedStatus"`
	RebootStatusWant model.RebootStatus `json:"rebootStatusWant"`
	WrittenAt        time.Time          `json:"writtenAt"`

	// SequenceNumber identifies the .settings/status pair the interrupted Run
	// belongs to, so the resuming invocation can re-flush the same status
	// document instead of leaving it stuck at RebootStatus=Started.
	SequenceNumber int `json:"sequenceNumber"`
}

const markerFileName = "reboot.marker.json"

func markerPath(handlerStateDir string) string {
	return filepath.Join(handlerStateDir, markerFileName)
}

// Decide implements the reboot policy table, returning true when a reboot
// should be scheduled after the install loop exits.
func Decide(setting model.RebootSetting, rebootRequired bool) bool {
	switch setting {
	case model.RebootAlways:
		return true
	case model.RebootIfRequired:
		return rebootRequired
	case model.RebootNever:
		return false
	default:
		return false
	}
}

// WriteMarker persists the marker before the OS reboot command is invoked.
func WriteMarker(handlerStateDir string, m Marker) error {
	m.WrittenAt = time.Now().UTC()
	raw, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return errs.Wrap(errs.KindRebootFailure, "failed to encode reboot marker", err)
	}
	tmp := markerPath(handlerStateDir) + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o600); err != nil {
		return errs.Wrap(errs.KindRebootFailure, "failed to write reboot marker", err)
	}
	if err := os.Rename(tmp, markerPath(handlerStateDir)); err != nil {
		return errs.Wrap(errs.KindRebootFailure, "failed to rename reboot marker into place", err)
	}
	return nil
}

// ReadMarker returns the pending marker, if any. ok is false when no reboot
// is in flight, which is the common case on every invocation but the one
// immediately following a scheduled reboot.
func ReadMarker(handlerStateDir string) (m Marker, ok bool, err error) {
	raw, readErr := os.ReadFile(markerPath(handlerStateDir))
	if readErr != nil {
		if os.IsNotExist(readErr) {
			return Marker{}, false, nil
		}
		return Marker{}, false, errs.Wrap(errs.KindRebootFailure, "failed to read reboot marker", readErr)
	}
	if jsonErr := json.Unmarshal(raw, &m); jsonErr != nil {
		return Marker{}, false, errs.Wrap(errs.KindRebootFailure, "failed to parse reboot marker", jsonErr)
	}
	return m, true, nil
}

// DeleteMarker removes the marker after the interrupted Run has been finalized.
func DeleteMarker(handlerStateDir string) error {
	err := os.Remove(markerPath(handlerStateDir))
	if err != nil && !os.IsNotExist(err) {
		return errs.Wrap(errs.KindRebootFailure, "failed to delete reboot marker", err)
	}
	return nil
}

// rebootTimeout bounds the `shutdown -r now` invocation itself; the command
// is expected not to return at all, because the kernel tears the process
// down first — a SIGTERM arriving here is the expected outcome, not a failure.
const rebootTimeout = 2 * time.Minute

// Reboot invokes the system reboot command. A nil error with TimedOut/Killed
// set in the returned outcome is the *expected* success path: the process is
// torn down by the kernel before `shutdown` reports back. Any other error
// (binary missing, permission denied) is a genuine RebootFailure.
func Reboot(ctx context.Context) error {
	result, err := procrun.Run(ctx, rebootTimeout, "shutdown", "-r", "now")
	if err == nil {
		return nil
	}
	if result.TimedOut || result.Killed || ctx.Err() != nil {
		// Imminent SIGTERM is treated as expected completion.
		return nil
	}
	return errs.Wrap(errs.KindRebootFailure, "failed to invoke system reboot", err)
}
