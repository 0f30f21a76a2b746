package pkgmanager

import (
	"context"
	"strings"

	"github.com/guestpatch/patchcore/internal/errs"
	"github.com/guestpatch/patchcore/internal/model"
	"github.com/guestpatch/patchcore/internal/procrun"
)

// DnfAdapter drives the dnf successor to yum on modern Fedora/RHEL8+ systems.
type DnfAdapter struct {
	BinaryPath string
}

func NewDnfAdapter() *DnfAdapter { return &DnfAdapter{BinaryPath: "dnf"} }

func (d *DnfAdapter) binary() string {
	if d.BinaryPath != "" {
		return d.BinaryPath
	}
	return "dnf"
}

func (d *DnfAdapter) Name() string { return "dnf" }

func (d *DnfAdapter) isTransient(err error) bool {
	return err != nil && strings.Contains(strings.ToLower(err.Error()), "lock")
}

func (d *DnfAdapter) ListAvailableUpdates(ctx context.Context) ([]UpdateCandidate, error) {
	var candidates []UpdateCandidate
	err := withTransientRetry(ctx, d.isTransient, func() error {
		result, runErr := procrun.Run(ctx, listTimeout, d.binary(), "check-update")
		if runErr != nil && result.ExitCode != 100 {
			return classifyDnfExit(result, runErr)
		}
		candidates = parseDnfCheckUpdate(result.Combined)
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(candidates) > 0 {
		if advisories, advErr := d.fetchAdvisories(ctx); advErr == nil {
			for i := range candidates {
				if cls, ok := advisories[candidates[i].Name]; ok {
					candidates[i].Classification = cls
				}
			}
		}
	}
	return candidates, nil
}

func (d *DnfAdapter) fetchAdvisories(ctx context.Context) (map[string]model.Classification, error) {
	result, err := procrun.Run(ctx, listTimeout, d.binary(), "updateinfo", "list")
	if err != nil && result.ExitCode != 0 {
		return nil, classifyDnfExit(result, err)
	}
	return parseDnfUpdateInfo(result.Combined), nil
}

func (d *DnfAdapter) ListInstalled(ctx context.Context) ([]InstalledPackage, error) {
	result, err := procrun.Run(ctx, queryTimeout, "rpm", "-qa", "--queryformat", "%{NAME} %{VERSION}-%{RELEASE}\n")
	if err != nil && result.ExitCode != 0 {
		return nil, classifyDnfExit(result, err)
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

func (d *DnfAdapter) Classify(ctx context.Context, names []string) (map[string]model.Classification, error) {
	advisories, err := d.fetchAdvisories(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[string]model.Classification, len(names))
	for _, n := range names {
		if c, ok := advisories[n]; ok {
			out[n] = c
		} else {
			out[n] = model.ClassificationUnknown
		}
	}
	return out, nil
}

func (d *DnfAdapter) SimulateInstall(ctx context.Context, names []string) (SimulateResult, error) {
	args := append([]string{"install", "--assumeno"}, names...)
	result, err := procrun.Run(ctx, listTimeout, d.binary(), args...)
	if err != nil && strings.Contains(strings.ToLower(result.Combined), "error:") {
		return SimulateResult{}, classifyDnfExit(result, err)
	}
	return parseDnfSimulate(result.Combined, names), nil
}

func (d *DnfAdapter) InstallOne(ctx context.Context, name, version string) (InstallOutcome, error) {
	target := name
	if version != "" {
		target = name + "-" + version
	}
	var result procrun.Result
	var runErr error
	err := withTransientRetry(ctx, d.isTransient, func() error {
		r, e := procrun.Run(ctx, installTimeout, d.binary(), "-y", "--skip-broken", "install", target)
		result = r
		runErr = e
		if e != nil && dnfResultIsNoop(r.Combined) {
			return nil
		}
		if d.isTransient(e) {
			return e
		}
		return nil
	})
	if err != nil {
		return InstallOutcome{}, err
	}
	reboot, _ := d.RebootRequired(ctx)
	outcome := InstallOutcome{ExitCode: result.ExitCode, Stdout: result.Combined, RebootRequired: reboot}
	if runErr != nil && !dnfResultIsNoop(result.Combined) {
		return outcome, errs.Wrap(errs.KindPackageManagerFailed, "dnf install failed for "+target, runErr)
	}
	return outcome, nil
}

func (d *DnfAdapter) RebootRequired(ctx context.Context) (bool, error) {
	result, err := procrun.Run(ctx, queryTimeout, "needs-restarting", "-r")
	if err != nil {
		return result.ExitCode == 1, nil
	}
	return false, nil
}

func classifyDnfExit(result procrun.Result, cause error) error {
	lower := strings.ToLower(result.Combined)
	switch {
	case strings.Contains(lower, "lock"):
		return errs.Wrap(errs.KindPackageManagerTransient, "dnf lock contention", cause)
	case strings.Contains(lower, "no match for argument"), strings.Contains(lower, "no package"):
		return errs.Wrap(errs.KindPackageManagerFailed, "package not found", cause)
	case strings.Contains(lower, "rpmdb") && strings.Contains(lower, "damaged"):
		return errs.Wrap(errs.KindPackageManagerFatal, "rpm database appears corrupt", cause)
	default:
		return errs.Wrap(errs.KindPackageManagerFailed, "dnf exited with an error", cause)
	}
}
