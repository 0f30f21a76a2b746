package pkgmanager

import (
	"context"
	"os"
	"strings"

	"github.com/guestpatch/patchcore/internal/errs"
	"github.com/guestpatch/patchcore/internal/model"
	"github.com/guestpatch/patchcore/internal/procrun"
)

// AptAdapter drives Debian/Ubuntu's apt-get with a non-interactive frontend
// and dpkg options that force the old config on conflicting upgrades.
type AptAdapter struct {
	BinaryPath string // overridable in tests; defaults to "apt-get"
}

// NewAptAdapter returns an AptAdapter using the system apt-get binary.
func NewAptAdapter() *AptAdapter {
	return &AptAdapter{BinaryPath: "apt-get"}
}

func (a *AptAdapter) binary() string {
	if a.BinaryPath != "" {
		return a.BinaryPath
	}
	return "apt-get"
}

func (a *AptAdapter) Name() string { return "apt" }

var aptEnv = []string{"DEBIAN_FRONTEND=noninteractive"}

var aptDpkgOptions = []string{
	"-o", "Dpkg::Options::=--force-confold",
	"-o", "Dpkg::Options::=--force-confdef",
}

func (a *AptAdapter) isTransient(err error) bool {
	return err != nil && strings.Contains(strings.ToLower(err.Error()), "could not get lock")
}

func (a *AptAdapter) ListAvailableUpdates(ctx context.Context) ([]UpdateCandidate, error) {
	var candidates []UpdateCandidate
	err := withTransientRetry(ctx, a.isTransient, func() error {
		result, runErr := procrun.RunWithEnv(ctx, aptEnv, listTimeout, "apt", "list", "--upgradable")
		if runErr != nil && result.ExitCode != 0 {
			return classifyAptExit(result, runErr)
		}
		candidates = parseAptList(result.Combined)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return candidates, nil
}

func (a *AptAdapter) ListInstalled(ctx context.Context) ([]InstalledPackage, error) {
	result, err := procrun.RunWithEnv(ctx, aptEnv, listTimeout, "dpkg-query", "-W", "-f", "${Package} ${Version}\n")
	if err != nil && result.ExitCode != 0 {
		return nil, classifyAptExit(result, err)
	}
	var pkgs []InstalledPackage
	for _, line := range strings.Split(result.Stdout, "\n") {
		fields := strings.Fields(line)
		if len(fields) == 2 {
			pkgs = append(pkgs, InstalledPackage{Name: fields[0], Version: fields[1]})
		}
	}
	return pkgs, nil
}

// Classify for apt re-derives classification from the source pocket, since
// the already-fetched `apt list --upgradable` line carries it; Classify
// exists separately from ListAvailableUpdates so the Filter Engine can
// re-resolve classification for a name set discovered later (e.g. dependency
// closure members) without re-listing everything.
func (a *AptAdapter) Classify(ctx context.Context, names []string) (map[string]model.Classification, error) {
	candidates, err := a.ListAvailableUpdates(ctx)
	if err != nil {
		return nil, err
	}
	byName := make(map[string]model.Classification, len(candidates))
	for _, c := range candidates {
		byName[c.Name] = c.Classification
	}
	out := make(map[string]model.Classification, len(names))
	for _, n := range names {
		if c, ok := byName[n]; ok {
			out[n] = c
		} else {
			out[n] = model.ClassificationUnknown
		}
	}
	return out, nil
}

func (a *AptAdapter) SimulateInstall(ctx context.Context, names []string) (SimulateResult, error) {
	args := append([]string{"install", "-s", "-q", "-y"}, aptDpkgOptions...)
	args = append(args, names...)
	result, err := procrun.RunWithEnv(ctx, aptEnv, listTimeout, a.binary(), args...)
	if err != nil && result.ExitCode != 0 {
		return SimulateResult{}, classifyAptExit(result, err)
	}
	return parseAptSimulate(result.Combined, names), nil
}

func (a *AptAdapter) InstallOne(ctx context.Context, name, version string) (InstallOutcome, error) {
	target := name
	if version != "" {
		target = name + "=" + version
	}
	args := append([]string{"install", "-q", "-y", "-f", "-m"}, aptDpkgOptions...)
	args = append(args, target)
	var result struct {
		ExitCode int
		Combined string
	}
	var runErr error
	err := withTransientRetry(ctx, a.isTransient, func() error {
		r, e := procrun.RunWithEnv(ctx, aptEnv, installTimeout, a.binary(), args...)
		result.ExitCode = r.ExitCode
		result.Combined = r.Combined
		runErr = e
		if e != nil && aptResultIsNoop(r.Combined) {
			return nil // treat as success: nothing to do or already installed
		}
		if a.isTransient(e) {
			return e
		}
		return nil
	})
	if err != nil {
		return InstallOutcome{}, err
	}
	reboot, _ := a.RebootRequired(ctx)
	outcome := InstallOutcome{ExitCode: result.ExitCode, Stdout: result.Combined, RebootRequired: reboot}
	if runErr != nil && !aptResultIsNoop(result.Combined) {
		return outcome, errs.Wrap(errs.KindPackageManagerFailed, "apt-get install failed for "+target, runErr)
	}
	return outcome, nil
}

func (a *AptAdapter) RebootRequired(ctx context.Context) (bool, error) {
	_, err := os.Stat(aptRebootMarkerFile)
	return err == nil, nil
}

// classifyAptExit maps a failed apt-get invocation to the errs taxonomy.
func classifyAptExit(result procrun.Result, cause error) error {
	lower := strings.ToLower(result.Combined)
	switch {
	case strings.Contains(lower, "could not get lock"):
		return errs.Wrap(errs.KindPackageManagerTransient, "apt lock contention", cause)
	case strings.Contains(lower, "unable to locate package"), strings.Contains(lower, "no installation candidate"):
		return errs.Wrap(errs.KindPackageManagerFailed, "package not found", cause)
	case strings.Contains(lower, "dpkg was interrupted"), strings.Contains(lower, "corrupted"):
		return errs.Wrap(errs.KindPackageManagerFatal, "dpkg database appears corrupt", cause)
	default:
		return errs.Wrap(errs.KindPackageManagerFailed, "apt-get exited with an error", cause)
	}
}
