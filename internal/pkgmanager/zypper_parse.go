package pkgmanager

import (
	"regexp"
	"strings"

	"github.com/guestpatch/patchcore/internal/model"
)

// zypperPatchLineRE matches a `zypper --xmlout` -free pipe-delimited line from
// `zypper lp` (list-patches), e.g.:
//
//	v | SUSE | SUSE-SLE-Module-Basesystem-15-SP5-2024-123 | security | important | needed | Security fix for foo
var zypperPatchLineRE = regexp.MustCompile(`^\s*\S?\s*\|\s*(\S+)\s*\|\s*(\S+)\s*\|\s*(\S+)\s*\|\s*(\S+)\s*\|\s*(\S+)`)

// parseZypperListPatches is the pure parser for `zypper --non-interactive
// --no-color lp` output, surfacing patch names with their category.
func parseZypperListPatches(stdout string) []UpdateCandidate {
	var out []UpdateCandidate
	for _, line := range strings.Split(stdout, "\n") {
		if !strings.Contains(line, "|") {
			continue
		}
		m := zypperPatchLineRE.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		patchName, category, status := m[2], m[3], m[5]
		if status != "needed" {
			continue
		}
		out = append(out, UpdateCandidate{
			Name:           patchName,
			Version:        "",
			Classification: classifyZypperCategory(category),
		})
	}
	return out
}

func classifyZypperCategory(category string) model.Classification {
	lower := strings.ToLower(category)
	switch {
	case lower == "security":
		return model.ClassificationSecurity
	case lower == "":
		return model.ClassificationUnknown
	default:
		return model.ClassificationOther
	}
}

// zypperListLineRE matches a `zypper lu` (list-updates) line:
//
//	v | Repository | Name | Current Version | Available Version | Arch
var zypperListLineRE = regexp.MustCompile(`^\s*\S?\s*\|\s*\S[^|]*\|\s*(\S+)\s*\|\s*\S+\s*\|\s*(\S+)\s*\|`)

// parseZypperListUpdates parses `zypper lu` for name-level package updates,
// used to cross-reference package names against patch names from list-patches.
func parseZypperListUpdates(stdout string) []UpdateCandidate {
	var out []UpdateCandidate
	for _, line := range strings.Split(stdout, "\n") {
		if !strings.Contains(line, "|") {
			continue
		}
		m := zypperListLineRE.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		out = append(out, UpdateCandidate{Name: m[1], Version: m[2], Classification: model.ClassificationUnknown})
	}
	return out
}

// zypperInstallLineRE matches an "Installing: <name>-<version> " summary line
// emitted by `zypper --non-interactive install --dry-run`.
var zypperInstallLineRE = regexp.MustCompile(`^\s*Installing:\s+(\S+)`)

func parseZypperSimulate(stdout string, requested []string) SimulateResult {
	requestedSet := make(map[string]bool, len(requested))
	for _, n := range requested {
		requestedSet[n] = true
	}
	result := SimulateResult{Requested: requested}
	for _, line := range strings.Split(stdout, "\n") {
		m := zypperInstallLineRE.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		name := m[1]
		if idx := strings.LastIndex(name, "-"); idx > 0 {
			name = name[:idx]
		}
		if !requestedSet[name] {
			result.AdditionalDependencies = append(result.AdditionalDependencies, name)
		}
	}
	if strings.Contains(strings.ToLower(stdout), "nothing provides") || strings.Contains(strings.ToLower(stdout), "conflict") {
		result.Conflicts = append(result.Conflicts, requested...)
	}
	return result
}

var zypperNoopMarkers = []string{"nothing to do", "no update candidate", "is already installed"}

func zypperResultIsNoop(combined string) bool {
	lower := strings.ToLower(combined)
	for _, marker := range zypperNoopMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

// zypperRebootHintMarkers mirrors `zypper ps -s` emitting this banner when a
// core library (glibc, systemd, kernel) has been replaced on disk.
var zypperRebootHintMarkers = []string{"reboot is suggested", "reboot is required"}

func zypperPsIndicatesReboot(stdout string) bool {
	lower := strings.ToLower(stdout)
	for _, marker := range zypperRebootHintMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}
