package pkgmanager

import (
	"regexp"
	"strings"

	"github.com/guestpatch/patchcore/internal/model"
)

// dnfNameArchRE matches the leading "<name>.<arch>" token of a `dnf
// check-update` line, which may be alone on its own line when the name is
// long enough to push version and repository onto the next line.
var dnfNameArchRE = regexp.MustCompile(`^(\S+)\.(\S+)$`)

// dnfFullLineRE matches a complete, unwrapped check-update line.
var dnfFullLineRE = regexp.MustCompile(`^(\S+)\.(\S+)\s+(\S+)\s+(\S+)\s*$`)

var dnfSkipMarkers = []string{"last metadata expiration", "obsoleting packages", "security:"}

// parseDnfCheckUpdate is the pure parser for `dnf check-update` output. dnf
// occasionally wraps a long package name onto its own line, leaving version
// and repo on the following line; this function re-joins such pairs before
// extracting fields, per the column-wrapping tolerance the parsing policy requires.
func parseDnfCheckUpdate(stdout string) []UpdateCandidate {
	lines := strings.Split(stdout, "\n")
	var out []UpdateCandidate
	pendingNameArch := ""
	for _, raw := range lines {
		line := strings.TrimRight(raw, " \t\r")
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			pendingNameArch = ""
			continue
		}
		skip := false
		for _, marker := range dnfSkipMarkers {
			if strings.Contains(strings.ToLower(trimmed), marker) {
				skip = true
				break
			}
		}
		if skip {
			continue
		}
		if pendingNameArch != "" {
			fields := strings.Fields(trimmed)
			if len(fields) >= 1 {
				nameArch := dnfNameArchRE.FindStringSubmatch(pendingNameArch)
				if nameArch != nil {
					out = append(out, UpdateCandidate{
						Name:           nameArch[1],
						Version:        fields[0],
						Classification: model.ClassificationUnknown,
					})
				}
			}
			pendingNameArch = ""
			continue
		}
		if m := dnfFullLineRE.FindStringSubmatch(trimmed); m != nil {
			out = append(out, UpdateCandidate{Name: m[1], Version: m[3], Classification: model.ClassificationUnknown})
			continue
		}
		if dnfNameArchRE.MatchString(trimmed) {
			pendingNameArch = trimmed
			continue
		}
	}
	return out
}

// dnfAdvisoryLineRE matches a `dnf updateinfo list` line:
//
//	FEDORA-2024-xyz789 Critical/Sec. kernel-core-6.5.0-1.fc39.x86_64
var dnfAdvisoryLineRE = regexp.MustCompile(`^\S+\s+(\S+)\s+(\S+)-[^-]+-[^-]+\.\S+$`)

func parseDnfUpdateInfo(stdout string) map[string]model.Classification {
	out := make(map[string]model.Classification)
	for _, line := range strings.Split(stdout, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		m := dnfAdvisoryLineRE.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		out[m[2]] = classifyDnfAdvisory(strings.ToLower(m[1]))
	}
	return out
}

func classifyDnfAdvisory(advisoryType string) model.Classification {
	switch {
	case strings.Contains(advisoryType, "crit"):
		return model.ClassificationCritical
	case strings.Contains(advisoryType, "sec"), strings.Contains(advisoryType, "important"), strings.Contains(advisoryType, "moderate"):
		return model.ClassificationSecurity
	case advisoryType == "":
		return model.ClassificationUnknown
	default:
		return model.ClassificationOther
	}
}

// parseDnfSimulate reuses yum's transaction-summary parsing shape since dnf's
// --assumeno output follows the same "Installing dependencies:" section format.
func parseDnfSimulate(stdout string, requested []string) SimulateResult {
	return parseYumSimulate(stdout, requested)
}

var dnfNoopMarkers = []string{"nothing to do", "no match for argument", "already installed", "package already installed"}

func dnfResultIsNoop(combined string) bool {
	lower := strings.ToLower(combined)
	for _, marker := range dnfNoopMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}
