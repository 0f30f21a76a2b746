package pkgmanager

import (
	"context"
	"os"
	"strings"

	"github.com/guestpatch/patchcore/internal/errs"
	"github.com/guestpatch/patchcore/internal/model"
	"github.com/guestpatch/patchcore/internal/procrun"
)

// YumAdapter drives RHEL/CentOS/Amazon Linux's classic yum with a
// -y/--skip-broken invocation shape, so one broken package cannot wedge a
// whole transaction.
type YumAdapter struct {
	BinaryPath string
}

func NewYumAdapter() *YumAdapter { return &YumAdapter{BinaryPath: "yum"} }

func (y *YumAdapter) binary() string {
	if y.BinaryPath != "" {
		return y.BinaryPath
	}
	return "yum"
}

func (y *YumAdapter) Name() string { return "yum" }

func (y *YumAdapter) isTransient(err error) bool {
	return err != nil && strings.Contains(strings.ToLower(err.Error()), "could not obtain lock")
}

func (y *YumAdapter) ListAvailableUpdates(ctx context.Context) ([]UpdateCandidate, error) {
	var candidates []UpdateCandidate
	err := withTransientRetry(ctx, y.isTransient, func() error {
		result, runErr := procrun.Run(ctx, listTimeout, y.binary(), "check-update")
		// yum check-update exits 100 when updates are available; that is not a failure.
		if runErr != nil && result.ExitCode != 100 {
			return classifyYumExit(result, runErr)
		}
		candidates = parseYumCheckUpdate(result.Combined)
		return nil
	})
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(candidates))
	for _, c := range candidates {
		names = append(names, c.Name)
	}
	if len(names) > 0 {
		advisories, advErr := y.fetchAdvisories(ctx)
		if advErr == nil {
			for i := range candidates {
				if cls, ok := advisories[candidates[i].Name]; ok {
					candidates[i].Classification = cls
				}
			}
		}
	}
	return candidates, nil
}

func (y *YumAdapter) fetchAdvisories(ctx context.Context) (map[string]model.Classification, error) {
	result, err := procrun.Run(ctx, listTimeout, y.binary(), "updateinfo", "list")
	if err != nil && result.ExitCode != 0 {
		return nil, classifyYumExit(result, err)
	}
	return parseYumUpdateInfo(result.Combined), nil
}

func (y *YumAdapter) ListInstalled(ctx context.Context) ([]InstalledPackage, error) {
	result, err := procrun.Run(ctx, queryTimeout, "rpm", "-qa", "--queryformat", "%{NAME} %{VERSION}-%{RELEASE}\n")
	if err != nil && result.ExitCode != 0 {
		return nil, classifyYumExit(result, err)
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

func (y *YumAdapter) Classify(ctx context.Context, names []string) (map[string]model.Classification, error) {
	advisories, err := y.fetchAdvisories(ctx)
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

func (y *YumAdapter) SimulateInstall(ctx context.Context, names []string) (SimulateResult, error) {
	args := append([]string{"install", "--assumeno"}, names...)
	result, err := procrun.Run(ctx, listTimeout, y.binary(), args...)
	// yum exits non-zero on an assumeno abort by design; only a real error marker indicates failure.
	if err != nil && strings.Contains(strings.ToLower(result.Combined), "error:") {
		return SimulateResult{}, classifyYumExit(result, err)
	}
	return parseYumSimulate(result.Combined, names), nil
}

func (y *YumAdapter) InstallOne(ctx context.Context, name, version string) (InstallOutcome, error) {
	target := name
	if version != "" {
		target = name + "-" + version
	}
	var result procrun.Result
	var runErr error
	err := withTransientRetry(ctx, y.isTransient, func() error {
		r, e := procrun.Run(ctx, installTimeout, y.binary(), "-y", "--skip-broken", "install", target)
		result = r
		runErr = e
		if e != nil && yumResultIsNoop(r.Combined) {
			return nil
		}
		if y.isTransient(e) {
			return e
		}
		return nil
	})
	if err != nil {
		return InstallOutcome{}, err
	}
	reboot, _ := y.RebootRequired(ctx)
	outcome := InstallOutcome{ExitCode: result.ExitCode, Stdout: result.Combined, RebootRequired: reboot}
	if runErr != nil && !yumResultIsNoop(result.Combined) {
		return outcome, errs.Wrap(errs.KindPackageManagerFailed, "yum install failed for "+target, runErr)
	}
	return outcome, nil
}

func (y *YumAdapter) RebootRequired(ctx context.Context) (bool, error) {
	if _, err := os.Stat("/usr/bin/needs-restarting"); err != nil {
		return false, nil
	}
	result, err := procrun.Run(ctx, queryTimeout, "needs-restarting", "-r")
	if err != nil {
		// needs-restarting -r exits 1 when a reboot is required, by design.
		return result.ExitCode == 1, nil
	}
	return false, nil
}

func classifyYumExit(result procrun.Result, cause error) error {
	lower := strings.ToLower(result.Combined)
	switch {
	case strings.Contains(lower, "could not obtain lock"), strings.Contains(lower, "another app is currently holding"):
		return errs.Wrap(errs.KindPackageManagerTransient, "yum lock contention", cause)
	case strings.Contains(lower, "no package") && strings.Contains(lower, "available"):
		return errs.Wrap(errs.KindPackageManagerFailed, "package not found", cause)
	case strings.Contains(lower, "rpmdb") && strings.Contains(lower, "damaged"):
		return errs.Wrap(errs.KindPackageManagerFatal, "rpm database appears corrupt", cause)
	default:
		return errs.Wrap(errs.KindPackageManagerFailed, "yum exited with an error", cause)
	}
}
