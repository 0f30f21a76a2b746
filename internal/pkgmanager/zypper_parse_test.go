package pkgmanager

import (
	"reflect"
	"testing"

	"github.com/guestpatch/patchcore/internal/model"
)

func TestParseZypperListPatches(t *testing.T) {
	stdout := `Repository | Name                                        | Category    | Severity  | Status | Summary
------------------------------------------------------------------------------------------------------
v | SUSE | SUSE-SLE-Module-Basesystem-15-SP5-2024-123 | security | important | needed | Security fix for foo
v | SUSE | SUSE-SLE-Module-Basesystem-15-SP5-2024-456 | recommended | low | needed | Bugfix for bar
v | SUSE | SUSE-SLE-Module-Basesystem-15-SP5-2024-789 | security | important | not needed | Already applied
`
	got := parseZypperListPatches(stdout)
	want := []UpdateCandidate{
		{Name: "SUSE-SLE-Module-Basesystem-15-SP5-2024-123", Version: "", Classification: model.ClassificationSecurity},
		{Name: "SUSE-SLE-Module-Basesystem-15-SP5-2024-456", Version: "", Classification: model.ClassificationOther},
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %+v, want %+v", got, want)
	}
}

func TestParseZypperListUpdates(t *testing.T) {
	stdout := `S | Repository | Name    | Current Version | Available Version | Arch
--+------------+---------+------------------+--------------------+-------
v | Main       | openssl | 1.1.1f-1         | 1.1.1k-1           | x86_64
`
	got := parseZypperListUpdates(stdout)
	want := []UpdateCandidate{
		{Name: "openssl", Version: "1.1.1k-1", Classification: model.ClassificationUnknown},
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %+v, want %+v", got, want)
	}
}

func TestZypperPsIndicatesReboot(t *testing.T) {
	if !zypperPsIndicatesReboot("Reboot is suggested to let the package manager run to completion") {
		t.Fatal("expected true")
	}
	if zypperPsIndicatesReboot("No processes using deleted files found") {
		t.Fatal("expected false")
	}
}
