// Package env implements the environment and distro resolver: it
// reads the host-supplied HandlerEnvironment.json descriptor, detects the
// Linux distribution family, and selects the matching package manager
// family. Distro sniffing reads /etc/os-release first and falls back to
// distribution-specific release files.
package env

import (
	"encoding/json"
	"os"
	"strings"

	"github.com/guestpatch/patchcore/internal/errs"
)

// Family identifies which package manager family a distro uses.
type Family string

const (
	FamilyAPT    Family = "apt"
	FamilyYum    Family = "yum"
	FamilyDNF    Family = "dnf"
	FamilyZypper Family = "zypper"
)

// Paths are the well-known directories supplied by the host agent through
// the HandlerEnvironment.json descriptor.
type Paths struct {
	LogFolder          string
	ConfigFolder       string
	StatusFolder       string
	HandlerStateFolder string
}

// handlerEnvironmentDoc mirrors the on-disk shape of HandlerEnvironment.json:
// a JSON array containing one object with a "handlerEnvironment" member.
type handlerEnvironmentDoc struct {
	HandlerEnvironment struct {
		LogFolder          string `json:"logFolder"`
		ConfigFolder       string `json:"configFolder"`
		StatusFolder       string `json:"statusFolder"`
		HandlerStateFolder string `json:"handlerStateFolder"`
	} `json:"handlerEnvironment"`
}

// LoadPaths reads and parses the environment descriptor file at path.
func LoadPaths(path string) (Paths, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Paths{}, errs.Wrap(errs.KindConfigurationError, "failed to read handler environment descriptor", err)
	}
	var docs []handlerEnvironmentDoc
	if err := json.Unmarshal(raw, &docs); err != nil {
		return Paths{}, errs.Wrap(errs.KindConfigurationError, "failed to parse handler environment descriptor", err)
	}
	if len(docs) == 0 {
		return Paths{}, errs.New(errs.KindConfigurationError, "handler environment descriptor is an empty array")
	}
	he := docs[0].HandlerEnvironment
	if he.LogFolder == "" || he.ConfigFolder == "" || he.StatusFolder == "" || he.HandlerStateFolder == "" {
		return Paths{}, errs.New(errs.KindConfigurationError, "handler environment descriptor is missing one or more required folders")
	}
	return Paths{
		LogFolder:          he.LogFolder,
		ConfigFolder:       he.ConfigFolder,
		StatusFolder:       he.StatusFolder,
		HandlerStateFolder: he.HandlerStateFolder,
	}, nil
}

// Resolver detects the host distribution and exposes the package manager
// family to use.
type Resolver struct {
	paths  Paths
	family Family
}

// NewResolver constructs a Resolver for the given paths, detecting the
// distribution family immediately so UnsupportedDistro surfaces at startup.
func NewResolver(paths Paths) (*Resolver, error) {
	family, err := detectFamily()
	if err != nil {
		return nil, err
	}
	return &Resolver{paths: paths, family: family}, nil
}

// NewResolverWithFamily constructs a Resolver without touching the host
// filesystem for distro detection, for use by orchestrator tests that need a
// deterministic family.
func NewResolverWithFamily(paths Paths, family Family) *Resolver {
	return &Resolver{paths: paths, family: family}
}

// Paths returns the resolved host-supplied directories.
func (r *Resolver) Paths() Paths { return r.paths }

// Family returns the detected package manager family.
func (r *Resolver) Family() Family { return r.family }

// detectFamily inspects /etc/os-release first, falling back to
// distribution-specific release files when os-release is absent or
// inconclusive, exactly the ladder software.go climbs for Debian/Amazon Linux detection.
func detectFamily() (Family, error) {
	if content, err := os.ReadFile("/etc/os-release"); err == nil {
		if family, ok := familyFromOSRelease(string(content)); ok {
			return family, nil
		}
	}
	if _, err := os.Stat("/etc/redhat-release"); err == nil {
		return familyFromRedHatRelease()
	}
	if _, err := os.Stat("/etc/SuSE-release"); err == nil {
		return FamilyZypper, nil
	}
	if _, err := os.Stat("/etc/debian_version"); err == nil {
		return FamilyAPT, nil
	}
	return "", errs.New(errs.KindUnsupportedDistro, "could not detect a supported distribution family")
}

// familyFromOSRelease parses the ID and ID_LIKE fields of /etc/os-release content.
func familyFromOSRelease(content string) (Family, bool) {
	fields := map[string]string{}
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := parts[0]
		val := strings.Trim(parts[1], `"'`)
		fields[key] = val
	}
	idLike := strings.ToLower(fields["ID"] + " " + fields["ID_LIKE"])
	switch {
	case strings.Contains(idLike, "suse"):
		return FamilyZypper, true
	case strings.Contains(idLike, "fedora"):
		return FamilyDNF, true
	case strings.Contains(idLike, "rhel") || strings.Contains(idLike, "centos") || strings.Contains(idLike, "amzn") || strings.Contains(idLike, "amazon"):
		// Newer RHEL/CentOS/Fedora derivatives ship dnf, classic ones ship yum;
		// the family is DNF when a dnf binary is on PATH, Yum otherwise.
		if hasBinary("dnf") {
			return FamilyDNF, true
		}
		return FamilyYum, true
	case strings.Contains(idLike, "debian") || strings.Contains(idLike, "ubuntu"):
		return FamilyAPT, true
	}
	return "", false
}

func familyFromRedHatRelease() (Family, error) {
	if hasBinary("dnf") {
		return FamilyDNF, nil
	}
	return FamilyYum, nil
}

func hasBinary(name string) bool {
	for _, dir := range strings.Split(procrunPATH, ":") {
		if _, err := os.Stat(dir + "/" + name); err == nil {
			return true
		}
	}
	return false
}

const procrunPATH = "/usr/bin:/bin:/usr/sbin:/sbin:/usr/local/bin:/usr/local/sbin"
