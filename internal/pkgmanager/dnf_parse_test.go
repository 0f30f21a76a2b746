package pkgmanager

import (
	"reflect"
	"testing"

	"github.com/guestpatch/patchcore/internal/model"
)

func TestParseDnfCheckUpdate_Unwrapped(t *testing.T) {
	stdout := `kernel-core.x86_64          6.5.0-1.fc39        updates
bash.x86_64                 5.2.15-1.fc39       updates
`
	got := parseDnfCheckUpdate(stdout)
	want := []UpdateCandidate{
		{Name: "kernel-core", Version: "6.5.0-1.fc39", Classification: model.ClassificationUnknown},
		{Name: "bash", Version: "5.2.15-1.fc39", Classification: model.ClassificationUnknown},
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %+v, want %+v", got, want)
	}
}

func TestParseDnfCheckUpdate_WrappedColumns(t *testing.T) {
	// A long package name pushes version and repository onto the next line.
	stdout := "python3-setuptools-wheel.noarch\n                             67.7.2-1.fc39       updates\nbash.x86_64 5.2.15-1.fc39 updates\n"
	got := parseDnfCheckUpdate(stdout)
	want := []UpdateCandidate{
		{Name: "python3-setuptools-wheel", Version: "67.7.2-1.fc39", Classification: model.ClassificationUnknown},
		{Name: "bash", Version: "5.2.15-1.fc39", Classification: model.ClassificationUnknown},
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %+v, want %+v", got, want)
	}
}

func TestParseDnfUpdateInfo(t *testing.T) {
	stdout := `FEDORA-2024-xyz789 Critical/Sec. kernel-core-6.5.0-1.fc39.x86_64
`
	got := parseDnfUpdateInfo(stdout)
	if got["kernel-core"] != model.ClassificationCritical {
		t.Fatalf("expected Critical, got %v", got["kernel-core"])
	}
}
