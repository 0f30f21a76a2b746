package metrics

import (
	"testing"
	"time"

	"github.com/guestpatch/patchcore/internal/model"
)

// TestRegisterGloballyDisabledIsNoop exercises the default (unset
// PATCHCORE_ENABLE_METRICS) path a patch run takes in every test and most
// production invocations: registration and observation must never panic or
// error even though no collector is actually wired up.
func TestRegisterGloballyDisabledIsNoop(t *testing.T) {
	if enabled {
		t.Skip("PATCHCORE_ENABLE_METRICS is set in this environment")
	}
	if err := RegisterGlobally(); err != nil {
		t.Fatal(err)
	}
	run := model.Run{
		Operation: model.OperationInstallation,
		Status:    model.RunStatusSucceeded,
		StartedAt: time.Now().Add(-time.Minute),
		Patches: []model.Patch{
			{Name: "openssl", Classification: model.ClassificationSecurity, InstallState: model.InstallStateInstalled},
		},
	}
	now := time.Now()
	run.CompletedAt = &now
	ObserveRun(run)
	ObserveLockWait(model.OperationInstallation, 0.5)
}
