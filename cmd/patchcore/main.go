// Command patchcore is the guest-side entrypoint invoked by the host agent
// with a single operation flag, following main.go's flag.BoolVar/inline-usage
// style rather than a third-party CLI framework.
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/guestpatch/patchcore/internal/env"
	"github.com/guestpatch/patchcore/internal/lalog"
	"github.com/guestpatch/patchcore/internal/metrics"
	"github.com/guestpatch/patchcore/internal/orchestrator"
	"github.com/guestpatch/patchcore/internal/pkgmanager"
	"github.com/guestpatch/patchcore/internal/reboot"
	"github.com/guestpatch/patchcore/internal/tracing"
)

// Exit codes mirror the host agent's extension error-code table: 0 for a
// normal exit (the host reads the actual outcome from the status document),
// and a handful of reserved non-zero codes for failures severe enough that
// no status document could be produced at all.
const (
	exitOK                 = 0
	exitNoUsableRuntime    = 51
	exitEnvironmentError   = 52
	exitConfigurationError = 53
)

var logger = lalog.Logger{ComponentName: "main", ComponentID: []lalog.IDField{{Key: "PID", Value: os.Getpid()}}}

func main() {
	var (
		install   bool
		enable    bool
		disable   bool
		uninstall bool
		update    bool
		reset     bool

		handlerEnvPath string
		metricsAddr    string
	)
	flag.BoolVar(&install, "install", false, "(Lifecycle) the handler package has just been installed")
	flag.BoolVar(&enable, "enable", false, "(Lifecycle) run the operation described by the latest settings file")
	flag.BoolVar(&disable, "disable", false, "(Lifecycle) the handler is being disabled; no operation runs")
	flag.BoolVar(&uninstall, "uninstall", false, "(Lifecycle) the handler package is being removed")
	flag.BoolVar(&update, "update", false, "(Lifecycle) run the operation described by the latest settings file after a version update")
	flag.BoolVar(&reset, "reset", false, "(Lifecycle) clear persisted handler state (locks, reboot markers, last-assessment marker)")
	flag.StringVar(&handlerEnvPath, "handlerenv", "HandlerEnvironment.json", "(Optional) path to the host-supplied handler environment descriptor")
	flag.StringVar(&metricsAddr, "metricsaddr", "", "(Optional) loopback address to serve Prometheus metrics on, e.g. 127.0.0.1:9090; only takes effect with -enable/-update when metrics are enabled")
	flag.Parse()

	tracing.Configure()

	switch {
	case install, disable, uninstall:
		// These lifecycle points carry no patch operation of their own; the
		// extension contract only requires a clean exit.
		logger.Info("main", "", nil, "acknowledging lifecycle operation with no patch run")
		os.Exit(exitOK)
	case reset:
		os.Exit(runReset(handlerEnvPath))
	case enable, update:
		os.Exit(runOperation(handlerEnvPath, metricsAddr))
	default:
		logger.Warning("main", "", nil, "no recognised operation flag given, exiting")
		os.Exit(exitConfigurationError)
	}
}

func runReset(handlerEnvPath string) int {
	paths, err := env.LoadPaths(handlerEnvPath)
	if err != nil {
		logger.Warning("runReset", "", err, "failed to load handler environment descriptor")
		return exitEnvironmentError
	}
	_ = reboot.DeleteMarker(paths.HandlerStateFolder)
	for _, name := range []string{"orchestrator.lock", "last-assessment.json", "configuration-mode.json"} {
		_ = os.Remove(filepath.Join(paths.HandlerStateFolder, name))
	}
	return exitOK
}

func runOperation(handlerEnvPath, metricsAddr string) int {
	paths, err := env.LoadPaths(handlerEnvPath)
	if err != nil {
		logger.Warning("runOperation", "", err, "failed to load handler environment descriptor")
		return exitEnvironmentError
	}

	resolver, err := env.NewResolver(paths)
	if err != nil {
		logger.Warning("runOperation", "", err, "failed to detect a supported distribution")
		return exitNoUsableRuntime
	}

	adapter, err := pkgmanager.ForFamily(resolver.Family())
	if err != nil {
		logger.Warning("runOperation", "", err, "no package manager adapter for detected family")
		return exitNoUsableRuntime
	}

	if err := metrics.RegisterGlobally(); err != nil {
		logger.Warning("runOperation", "", err, "failed to register metrics collectors")
	}
	if metrics.Enabled() && metricsAddr != "" {
		startMetricsServer(metricsAddr)
	}

	o := orchestrator.New(resolver, adapter)

	ctx := context.Background()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM)
	go func() {
		<-sigCh
		// Cooperative: the Run transitions to Aborted after the current
		// single-patch install finishes. The subprocess is never killed
		// mid-package by a plain SIGTERM; that is reserved for deadline
		// grace-period overrun (internal/deadline, internal/procrun).
		o.HandleSIGTERM()
	}()

	result := o.RunOnce(ctx)
	if result.StartupFailed {
		return exitConfigurationError
	}
	return exitOK
}

func startMetricsServer(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Warning("startMetricsServer", addr, err, "metrics server stopped")
		}
	}()
}
