// Package filter implements the patch filter engine: it narrows a
// candidate set of available patches down to a selection, applying
// classification rules and wildcard include/exclude lists, then expands the
// selection to its dependency closure via the adapter's SimulateInstall.
// The state this produces is the same model.Patch/model.Run vocabulary the
// Orchestrator mutates throughout a run; the logic is a handful of pure
// functions rather than an object graph.
package filter

import (
	"context"
	"path/filepath"
	"sort"
	"strings"

	"github.com/guestpatch/patchcore/internal/model"
	"github.com/guestpatch/patchcore/internal/pkgmanager"
)

// Request is the subset of model.Request the Filter Engine consumes.
type Request struct {
	ClassificationsToInclude []model.Classification
	PatchesToInclude         []string
	PatchesToExclude         []string
}

// Select narrows the candidate set and returns the
// ordered selection of patches the Orchestrator should act on. adapter is
// used to resolve the dependency closure via SimulateInstall; pass a nil
// adapter (or one whose SimulateInstall always returns an empty result) for
// an Assessment run, which never expands a closure.
func Select(ctx context.Context, adapter pkgmanager.Adapter, candidates []pkgmanager.UpdateCandidate, req Request) ([]model.Patch, error) {
	classSet := classificationSet(req.ClassificationsToInclude)
	includeAll := len(classSet) == 0

	var matched []pkgmanager.UpdateCandidate
	for _, c := range candidates {
		if !classificationAllowed(c.Classification, classSet, includeAll) {
			continue
		}
		if !matchesInclude(req.PatchesToInclude, c.Name, c.Version) {
			continue
		}
		if matchesPattern(req.PatchesToExclude, c.Name, c.Version) {
			continue
		}
		matched = append(matched, c)
	}

	patches := make([]model.Patch, 0, len(matched))
	indexOf := make(map[string]int, len(matched))
	for _, c := range matched {
		indexOf[c.Name] = len(patches)
		patches = append(patches, model.Patch{
			Name:           c.Name,
			Version:        c.Version,
			Classification: c.Classification,
			SelectedState:  model.SelectedStateSelected,
			InstallState:   model.InstallStatePending,
		})
	}

	if adapter != nil && len(matched) > 0 {
		byName := make(map[string]pkgmanager.UpdateCandidate, len(candidates))
		for _, c := range candidates {
			byName[c.Name] = c
		}
		added := make(map[string]bool, len(patches))

		// simulateInstall is invoked once per matched patch, rather than once
		// for the whole batch, so that a dependency discovered to conflict
		// with an exclude pattern can be walked back to the specific patch
		// that pulled it in: the entire transaction involving an excluded
		// dependency is marked Excluded.
		for _, c := range matched {
			simResult, err := adapter.SimulateInstall(ctx, []string{c.Name})
			if err != nil {
				return nil, err
			}

			var excludedDeps []model.Patch
			transactionExcluded := false
			for _, depName := range simResult.AdditionalDependencies {
				if depName == c.Name || added[depName] {
					continue
				}
				cand, known := byName[depName]
				cls := model.ClassificationUnknown
				version := ""
				if known {
					cls = cand.Classification
					version = cand.Version
				}
				if !matchesPattern(req.PatchesToExclude, depName, version) {
					continue
				}
				transactionExcluded = true
				if idx, ok := indexOf[depName]; ok {
					patches[idx].SelectedState = model.SelectedStateExcluded
					patches[idx].InstallState = model.InstallStateExcluded
					patches[idx].ErrorMessage = "excluded-dep"
					continue
				}
				excludedDeps = append(excludedDeps, model.Patch{
					Name:           depName,
					Version:        version,
					Classification: cls,
					SelectedState:  model.SelectedStateExcluded,
					InstallState:   model.InstallStateExcluded,
					ErrorMessage:   "excluded-dep",
				})
			}

			if transactionExcluded {
				requesterIdx := indexOf[c.Name]
				patches[requesterIdx].SelectedState = model.SelectedStateExcluded
				patches[requesterIdx].InstallState = model.InstallStateExcluded
				patches[requesterIdx].ErrorMessage = "excluded-dep"
				for _, dep := range excludedDeps {
					indexOf[dep.Name] = len(patches)
					added[dep.Name] = true
					patches = append(patches, dep)
				}
				continue
			}

			for _, depName := range simResult.AdditionalDependencies {
				if depName == c.Name || added[depName] {
					continue
				}
				if _, already := indexOf[depName]; already {
					continue
				}
				cand, known := byName[depName]
				cls := model.ClassificationUnknown
				version := ""
				if known {
					cls = cand.Classification
					version = cand.Version
				}
				added[depName] = true
				indexOf[depName] = len(patches)
				patches = append(patches, model.Patch{
					Name:           depName,
					Version:        version,
					Classification: cls,
					SelectedState:  model.SelectedStateSelected,
					InstallState:   model.InstallStatePending,
				})
			}
		}
	}

	sort.SliceStable(patches, func(i, j int) bool {
		if patches[i].Classification.Rank() != patches[j].Classification.Rank() {
			return patches[i].Classification.Rank() < patches[j].Classification.Rank()
		}
		if patches[i].Name != patches[j].Name {
			return patches[i].Name < patches[j].Name
		}
		return patches[i].Version < patches[j].Version
	})
	return patches, nil
}

// classificationSet builds a lookup set from the requested classifications.
// An empty set means "all classifications".
func classificationSet(list []model.Classification) map[model.Classification]bool {
	set := make(map[model.Classification]bool, len(list))
	for _, c := range list {
		set[c] = true
	}
	return set
}

// classificationAllowed decides by classification: Unknown is included when the
// filter is empty or explicitly includes Other, excluded otherwise.
func classificationAllowed(c model.Classification, set map[model.Classification]bool, includeAll bool) bool {
	if includeAll {
		return true
	}
	if c == model.ClassificationUnknown {
		return set[model.ClassificationOther]
	}
	return set[c]
}

// matchesInclude implements the "empty list means unrestricted" half of
// include matching: an empty patchesToInclude matches everything.
func matchesInclude(patterns []string, name, version string) bool {
	if len(patterns) == 0 {
		return true
	}
	return matchesPattern(patterns, name, version)
}

// matchesPattern reports whether any pattern matches name or "name=version".
// An empty pattern list matches nothing, which is the correct behaviour for
// patchesToExclude and for the dependency-closure exclude check
// .
func matchesPattern(patterns []string, name, version string) bool {
	nameVersion := name
	if version != "" {
		nameVersion = name + "=" + version
	}
	lowerName := strings.ToLower(name)
	for _, p := range patterns {
		lowerPattern := strings.ToLower(p)
		if ok, _ := filepath.Match(lowerPattern, lowerName); ok {
			return true
		}
		// name=version comparisons are case-sensitive on the version portion,
		// so match the pattern as-given against the literal name=version form too.
		if ok, _ := filepath.Match(p, nameVersion); ok {
			return true
		}
	}
	return false
}
