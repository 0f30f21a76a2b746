package filter

import (
	"context"
	"testing"

	"github.com/guestpatch/patchcore/internal/model"
	"github.com/guestpatch/patchcore/internal/pkgmanager"
)

func candidates() []pkgmanager.UpdateCandidate {
	return []pkgmanager.UpdateCandidate{
		{Name: "openssl", Version: "1.1.1k", Classification: model.ClassificationSecurity},
		{Name: "vim", Version: "8.2", Classification: model.ClassificationOther},
		{Name: "mystery-pkg", Version: "1.0", Classification: model.ClassificationUnknown},
		{Name: "libc6", Version: "2.31", Classification: model.ClassificationCritical},
	}
}

func TestSelect_ClassificationFilterEmptyIncludesAll(t *testing.T) {
	got, err := Select(context.Background(), nil, candidates(), Request{})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 4 {
		t.Fatalf("expected all 4 candidates, got %d: %+v", len(got), got)
	}
	// Deterministic ordering: Critical, Security, Other, Unknown.
	if got[0].Name != "libc6" || got[1].Name != "openssl" || got[2].Name != "vim" || got[3].Name != "mystery-pkg" {
		t.Fatalf("unexpected order: %+v", got)
	}
}

func TestSelect_UnknownExcludedWithoutOther(t *testing.T) {
	got, err := Select(context.Background(), nil, candidates(), Request{
		ClassificationsToInclude: []model.Classification{model.ClassificationSecurity, model.ClassificationCritical},
	})
	if err != nil {
		t.Fatal(err)
	}
	for _, p := range got {
		if p.Name == "mystery-pkg" || p.Name == "vim" {
			t.Fatalf("did not expect %s in selection: %+v", p.Name, got)
		}
	}
	if len(got) != 2 {
		t.Fatalf("expected 2, got %d: %+v", len(got), got)
	}
}

func TestSelect_UnknownIncludedWithOther(t *testing.T) {
	got, err := Select(context.Background(), nil, candidates(), Request{
		ClassificationsToInclude: []model.Classification{model.ClassificationOther},
	})
	if err != nil {
		t.Fatal(err)
	}
	names := map[string]bool{}
	for _, p := range got {
		names[p.Name] = true
	}
	if !names["mystery-pkg"] || !names["vim"] {
		t.Fatalf("expected mystery-pkg and vim, got %+v", got)
	}
}

func TestSelect_IncludeExcludeWildcards(t *testing.T) {
	got, err := Select(context.Background(), nil, candidates(), Request{
		PatchesToInclude: []string{"lib*", "open*"},
		PatchesToExclude: []string{"libc*"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].Name != "openssl" {
		t.Fatalf("expected only openssl (exclude wins over include), got %+v", got)
	}
}

type fakeAdapter struct {
	pkgmanager.Adapter
	sim pkgmanager.SimulateResult
}

func (f fakeAdapter) SimulateInstall(ctx context.Context, names []string) (pkgmanager.SimulateResult, error) {
	return f.sim, nil
}

func TestSelect_DependencyClosureExpansion(t *testing.T) {
	adapter := fakeAdapter{sim: pkgmanager.SimulateResult{AdditionalDependencies: []string{"libc6"}}}
	got, err := Select(context.Background(), adapter, []pkgmanager.UpdateCandidate{
		{Name: "openssl", Version: "1.1.1k", Classification: model.ClassificationSecurity},
		{Name: "libc6", Version: "2.31", Classification: model.ClassificationCritical},
	}, Request{PatchesToInclude: []string{"openssl"}})
	if err != nil {
		t.Fatal(err)
	}
	found := false
	for _, p := range got {
		if p.Name == "libc6" {
			found = true
			if p.SelectedState != model.SelectedStateSelected {
				t.Fatalf("expected libc6 selected, got %+v", p)
			}
		}
	}
	if !found {
		t.Fatalf("expected libc6 to be pulled in via dependency closure: %+v", got)
	}
}

func TestSelect_DependencyClosureExcluded(t *testing.T) {
	adapter := fakeAdapter{sim: pkgmanager.SimulateResult{AdditionalDependencies: []string{"libc6"}}}
	got, err := Select(context.Background(), adapter, []pkgmanager.UpdateCandidate{
		{Name: "openssl", Version: "1.1.1k", Classification: model.ClassificationSecurity},
		{Name: "libc6", Version: "2.31", Classification: model.ClassificationCritical},
	}, Request{PatchesToInclude: []string{"openssl"}, PatchesToExclude: []string{"libc6"}})
	if err != nil {
		t.Fatal(err)
	}
	// The entire transaction pulling in an excluded dependency is excluded,
	// not just the dependency itself: the requesting patch (openssl) is
	// marked excluded-dep too.
	states := map[string]model.Patch{}
	for _, p := range got {
		states[p.Name] = p
	}
	for _, name := range []string{"libc6", "openssl"} {
		p, ok := states[name]
		if !ok {
			t.Fatalf("expected %s in selection, got %+v", name, got)
		}
		if p.SelectedState != model.SelectedStateExcluded || p.InstallState != model.InstallStateExcluded || p.ErrorMessage != "excluded-dep" {
			t.Fatalf("expected %s excluded-dep, got %+v", name, p)
		}
	}
}

func TestSelect_DependencyClosureExcludedBothMarked(t *testing.T) {
	// Scenario: include ["kernel*"], exclude ["kernel-core"], simulation
	// shows kernel-modules requires kernel-core. Both patches end up
	// Excluded with reason excluded-dep; no install proceeds for either.
	adapter := fakeAdapter{sim: pkgmanager.SimulateResult{AdditionalDependencies: []string{"kernel-core"}}}
	got, err := Select(context.Background(), adapter, []pkgmanager.UpdateCandidate{
		{Name: "kernel-modules", Version: "5.10-1", Classification: model.ClassificationSecurity},
	}, Request{PatchesToInclude: []string{"kernel*"}, PatchesToExclude: []string{"kernel-core"}})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("expected kernel-modules and kernel-core, got %+v", got)
	}
	for _, p := range got {
		if p.SelectedState != model.SelectedStateExcluded || p.InstallState != model.InstallStateExcluded || p.ErrorMessage != "excluded-dep" {
			t.Fatalf("expected %s excluded-dep, got %+v", p.Name, p)
		}
	}
}
