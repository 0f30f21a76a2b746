package pkgmanager

import (
	"github.com/guestpatch/patchcore/internal/env"
	"github.com/guestpatch/patchcore/internal/testingstub"
)

// AssertRegistered is a test routine, called from registry_test.go, that
// checks ForFamily resolves family to an Adapter whose Name() matches
// wantName. It lives outside a _test.go file and takes a testingstub.T
// rather than *testing.T, following maintenance.go's TestMaintenance(check
// *Daemon, t testingstub.T) convention.
func AssertRegistered(t testingstub.T, family env.Family, wantName string) {
	t.Helper()
	adapter, err := ForFamily(family)
	if err != nil {
		t.Fatalf("ForFamily(%s): %v", family, err)
	}
	if adapter.Name() != wantName {
		t.Fatalf("ForFamily(%s).Name() = %q, want %q", family, adapter.Name(), wantName)
	}
}
