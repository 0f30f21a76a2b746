package pkgmanager

import (
	"regexp"
	"strings"

	"github.com/guestpatch/patchcore/internal/model"
)

// aptListLineRE matches a line of `apt list --upgradable` output, e.g.:
//
//	openssl/focal-security 1.1.1k amd64 [upgradable from: 1.1.1f]
//	vim/focal-updates 8.2 amd64 [upgradable from: 8.1]
//
// dnf-style column wrapping does not occur in apt output, but apt does emit
// a "Listing..." banner line and localisable footers that must be ignored.
var aptListLineRE = regexp.MustCompile(`^(\S+)/(\S+)\s+(\S+)\s+(\S+)`)

// aptSuppressOutputMarkers are phrases indicating the package manager made
// no change to the system.
var aptSuppressOutputMarkers = []string{
	"0 upgraded, 0 newly installed", "unable to locate", "is already the newest version",
	"unable to find", "operation aborted.",
}

// parseAptList is the pure parser for `apt list --upgradable` output, exposed
// for table-driven testing. It tolerates the
// "Listing..." banner, blank lines, and Unicode package names.
func parseAptList(stdout string) []UpdateCandidate {
	var candidates []UpdateCandidate
	for _, line := range strings.Split(stdout, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "Listing...") {
			continue
		}
		m := aptListLineRE.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		name, pocket, version := m[1], m[2], m[3]
		candidates = append(candidates, UpdateCandidate{
			Name:           name,
			Version:        version,
			Classification: classifyAptPocket(pocket),
		})
	}
	return candidates
}

// classifyAptPocket derives a classification from the apt repository pocket
// suffix (e.g. "focal-security" -> Security): for apt,
// classification derives from the source repository (security pocket =>
// Security; other pockets => Other)."
func classifyAptPocket(pocket string) model.Classification {
	lower := strings.ToLower(pocket)
	switch {
	case strings.Contains(lower, "security"):
		return model.ClassificationSecurity
	case pocket == "":
		return model.ClassificationUnknown
	default:
		return model.ClassificationOther
	}
}

// aptInstLineRE matches an "Inst <name> ..." line from `apt-get install -s`
// (simulate) output, used to discover the dependency closure.
var aptInstLineRE = regexp.MustCompile(`^Inst\s+(\S+)`)

// aptConfLineRE matches a "Conf <name> ..." line, which apt emits for
// packages it would configure without reinstalling (treated as already satisfied, not a new dependency).
var aptConfLineRE = regexp.MustCompile(`^Conf\s+(\S+)`)

// parseAptSimulate is the pure parser for `apt-get install -s` dry-run
// output. requested is the set of package names the caller asked to
// install; anything else mentioned via an "Inst" line is an additional
// dependency apt would pull in.
func parseAptSimulate(stdout string, requested []string) SimulateResult {
	requestedSet := make(map[string]bool, len(requested))
	for _, n := range requested {
		requestedSet[n] = true
	}
	result := SimulateResult{Requested: requested}
	seen := make(map[string]bool)
	for _, line := range strings.Split(stdout, "\n") {
		line = strings.TrimSpace(line)
		if m := aptInstLineRE.FindStringSubmatch(line); m != nil {
			name := m[1]
			if !requestedSet[name] && !seen[name] {
				result.AdditionalDependencies = append(result.AdditionalDependencies, name)
				seen[name] = true
			}
		}
	}
	if strings.Contains(strings.ToLower(stdout), "unable to resolve") || strings.Contains(strings.ToLower(stdout), "conflicting") {
		result.Conflicts = append(result.Conflicts, requested...)
	}
	return result
}

// aptAlreadyInstalledMarkers are phrases apt emits when the target needs no work.
var aptAlreadyInstalledMarkers = []string{"already the newest version", "already installed"}

func aptResultIsNoop(combined string) bool {
	lower := strings.ToLower(combined)
	for _, marker := range aptSuppressOutputMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	for _, marker := range aptAlreadyInstalledMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

// aptRebootMarkerFile is checked by RebootRequired; Debian/Ubuntu systems
// write this file when a library upgrade (e.g. libc) demands a reboot.
const aptRebootMarkerFile = "/var/run/reboot-required"
