package pkgmanager

import (
	"regexp"
	"strings"

	"github.com/guestpatch/patchcore/internal/model"
)

// yumCheckUpdateLineRE matches a `yum check-update` line:
//
//	selinux-policy-targeted.noarch   3.13.1-268.el7   updates
var yumCheckUpdateLineRE = regexp.MustCompile(`^(\S+)\.(\S+)\s+(\S+)\s+(\S+)`)

// yumObsoleteMarkers lists lines that check-update intersperses and must be ignored.
var yumObsoleteMarkers = []string{"obsoleting packages", "security:", "updates information"}

// parseYumCheckUpdate is the pure parser for `yum check-update` output.
// Classification is resolved separately via `yum updateinfo list` because
// check-update does not carry advisory type. Parsing stops at the
// "Obsoleting Packages" header, so entries listed under it are not returned.
func parseYumCheckUpdate(stdout string) []UpdateCandidate {
	var out []UpdateCandidate
	for _, line := range strings.Split(stdout, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		if strings.HasPrefix(strings.ToLower(trimmed), "obsoleting packages") {
			break
		}
		skip := false
		for _, marker := range yumObsoleteMarkers {
			if strings.Contains(strings.ToLower(trimmed), marker) {
				skip = true
				break
			}
		}
		if skip {
			continue
		}
		m := yumCheckUpdateLineRE.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		name, version := m[1], m[3]
		out = append(out, UpdateCandidate{Name: name, Version: version, Classification: model.ClassificationUnknown})
	}
	return out
}

// yumUpdateInfoLineRE matches a `yum updateinfo list` line:
//
//	FEDORA-2024-abcd123 Security/Critical selinux-policy-targeted-3.13.1-268.el7.noarch
var yumUpdateInfoLineRE = regexp.MustCompile(`^\S+\s+(\S+)\s+(\S+)-[^-]+-[^-]+\.\S+$`)

// parseYumUpdateInfo is the pure parser for `yum updateinfo list` output,
// mapping package name -> advisory-derived classification.
func parseYumUpdateInfo(stdout string) map[string]model.Classification {
	out := make(map[string]model.Classification)
	for _, line := range strings.Split(stdout, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		m := yumUpdateInfoLineRE.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		advisoryType, name := strings.ToLower(m[1]), m[2]
		out[name] = classifyYumAdvisory(advisoryType)
	}
	return out
}

func classifyYumAdvisory(advisoryType string) model.Classification {
	switch {
	case strings.Contains(advisoryType, "critical"):
		return model.ClassificationCritical
	case strings.Contains(advisoryType, "security") || strings.Contains(advisoryType, "important") || strings.Contains(advisoryType, "moderate"):
		return model.ClassificationSecurity
	case advisoryType == "":
		return model.ClassificationUnknown
	default:
		return model.ClassificationOther
	}
}

// yumDepLineRE matches one five-column package row under the dependencies
// header of `yum install --assumeno` dry-run output.
var yumDepLineRE = regexp.MustCompile(`^\s*(\S+)\s+\S+\s+\S+\s+\S+\s+\S+$`)

// parseYumSimulate scans the transaction summary table of a `yum install
// --assumeno` run. Lines under the "Installing for dependencies:" header
// (dnf prints "Installing dependencies:") that are not in requested are
// additional dependencies.
func parseYumSimulate(stdout string, requested []string) SimulateResult {
	requestedSet := make(map[string]bool, len(requested))
	for _, n := range requested {
		requestedSet[n] = true
	}
	result := SimulateResult{Requested: requested}
	inDepsSection := false
	for _, line := range strings.Split(stdout, "\n") {
		trimmed := strings.TrimSpace(line)
		lower := strings.ToLower(trimmed)
		if strings.HasPrefix(lower, "installing for dependencies") || strings.HasPrefix(lower, "installing dependencies") {
			inDepsSection = true
			continue
		}
		if trimmed == "" {
			inDepsSection = false
			continue
		}
		if !inDepsSection {
			continue
		}
		m := yumDepLineRE.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		name := m[1]
		if !requestedSet[name] {
			result.AdditionalDependencies = append(result.AdditionalDependencies, name)
		}
	}
	if strings.Contains(strings.ToLower(stdout), "error: package does not") {
		result.Conflicts = append(result.Conflicts, requested...)
	}
	return result
}

var yumSuppressOutputMarkers = []string{"no packages marked for update", "nothing to do", "no match for argument"}
var yumAlreadyInstalledMarkers = []string{"already installed"}

func yumResultIsNoop(combined string) bool {
	lower := strings.ToLower(combined)
	for _, marker := range append(append([]string{}, yumSuppressOutputMarkers...), yumAlreadyInstalledMarkers...) {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}
