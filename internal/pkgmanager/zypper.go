package pkgmanager

import (
	"context"
	"strings"

	"github.com/guestpatch/patchcore/internal/errs"
	"github.com/guestpatch/patchcore/internal/model"
	"github.com/guestpatch/patchcore/internal/procrun"
)

// ZypperAdapter drives SUSE/openSUSE's zypper. Classification comes from
// patch categories (`zypper lp`) rather than package-level metadata.
type ZypperAdapter struct {
	BinaryPath string
}

func NewZypperAdapter() *ZypperAdapter { return &ZypperAdapter{BinaryPath: "zypper"} }

func (z *ZypperAdapter) binary() string {
	if z.BinaryPath != "" {
		return z.BinaryPath
	}
	return "zypper"
}

func (z *ZypperAdapter) Name() string { return "zypper" }

func (z *ZypperAdapter) isTransient(err error) bool {
	return err != nil && strings.Contains(strings.ToLower(err.Error()), "system management is locked")
}

var zypperCommonFlags = []string{"--non-interactive", "--no-color"}

func (z *ZypperAdapter) ListAvailableUpdates(ctx context.Context) ([]UpdateCandidate, error) {
	var updates []UpdateCandidate
	err := withTransientRetry(ctx, z.isTransient, func() error {
		args := append(append([]string{}, zypperCommonFlags...), "lu")
		result, runErr := procrun.Run(ctx, listTimeout, z.binary(), args...)
		if runErr != nil && result.ExitCode != 0 {
			return classifyZypperExit(result, runErr)
		}
		updates = parseZypperListUpdates(result.Combined)
		return nil
	})
	if err != nil {
		return nil, err
	}
	patchArgs := append(append([]string{}, zypperCommonFlags...), "lp")
	patchResult, patchErr := procrun.Run(ctx, listTimeout, z.binary(), patchArgs...)
	if patchErr != nil && patchResult.ExitCode != 0 {
		// Patch-level classification is best-effort; fall back to Unknown rather than failing assessment.
		return updates, nil
	}
	patches := parseZypperListPatches(patchResult.Combined)
	byName := make(map[string]model.Classification, len(patches))
	for _, p := range patches {
		byName[p.Name] = p.Classification
	}
	for i := range updates {
		if cls, ok := byName[updates[i].Name]; ok {
			updates[i].Classification = cls
		}
	}
	return updates, nil
}

func (z *ZypperAdapter) ListInstalled(ctx context.Context) ([]InstalledPackage, error) {
	result, err := procrun.Run(ctx, queryTimeout, "rpm", "-qa", "--queryformat", "%{NAME} %{VERSION}-%{RELEASE}\n")
	if err != nil && result.ExitCode != 0 {
		return nil, classifyZypperExit(result, err)
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

func (z *ZypperAdapter) Classify(ctx context.Context, names []string) (map[string]model.Classification, error) {
	updates, err := z.ListAvailableUpdates(ctx)
	if err != nil {
		return nil, err
	}
	byName := make(map[string]model.Classification, len(updates))
	for _, u := range updates {
		byName[u.Name] = u.Classification
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

func (z *ZypperAdapter) SimulateInstall(ctx context.Context, names []string) (SimulateResult, error) {
	args := append(append([]string{}, zypperCommonFlags...), "install", "--dry-run")
	args = append(args, names...)
	result, err := procrun.Run(ctx, listTimeout, z.binary(), args...)
	if err != nil && strings.Contains(strings.ToLower(result.Combined), "nothing provides") {
		return SimulateResult{}, classifyZypperExit(result, err)
	}
	return parseZypperSimulate(result.Combined, names), nil
}

func (z *ZypperAdapter) InstallOne(ctx context.Context, name, version string) (InstallOutcome, error) {
	target := name
	if version != "" {
		target = name + "=" + version
	}
	var result procrun.Result
	var runErr error
	err := withTransientRetry(ctx, z.isTransient, func() error {
		args := append(append([]string{}, zypperCommonFlags...), "install", "--auto-agree-with-licenses", target)
		r, e := procrun.Run(ctx, installTimeout, z.binary(), args...)
		result = r
		runErr = e
		if e != nil && zypperResultIsNoop(r.Combined) {
			return nil
		}
		if z.isTransient(e) {
			return e
		}
		return nil
	})
	if err != nil {
		return InstallOutcome{}, err
	}
	reboot, _ := z.RebootRequired(ctx)
	outcome := InstallOutcome{ExitCode: result.ExitCode, Stdout: result.Combined, RebootRequired: reboot}
	if runErr != nil && !zypperResultIsNoop(result.Combined) {
		return outcome, errs.Wrap(errs.KindPackageManagerFailed, "zypper install failed for "+target, runErr)
	}
	return outcome, nil
}

func (z *ZypperAdapter) RebootRequired(ctx context.Context) (bool, error) {
	result, err := procrun.Run(ctx, queryTimeout, z.binary(), "ps", "-s")
	if err != nil && result.ExitCode != 0 {
		return false, nil
	}
	return zypperPsIndicatesReboot(result.Combined), nil
}

func classifyZypperExit(result procrun.Result, cause error) error {
	lower := strings.ToLower(result.Combined)
	switch {
	case strings.Contains(lower, "system management is locked"):
		return errs.Wrap(errs.KindPackageManagerTransient, "zypper lock contention", cause)
	case strings.Contains(lower, "not found in package names"), strings.Contains(lower, "no update candidate"):
		return errs.Wrap(errs.KindPackageManagerFailed, "package not found", cause)
	case strings.Contains(lower, "rpmdb") && strings.Contains(lower, "damaged"):
		return errs.Wrap(errs.KindPackageManagerFatal, "rpm database appears corrupt", cause)
	default:
		return errs.Wrap(errs.KindPackageManagerFailed, "zypper exited with an error", cause)
	}
}
