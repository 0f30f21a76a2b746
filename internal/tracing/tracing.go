// Package tracing optionally wraps package-manager subprocess invocations in
// AWS X-Ray subsegments, mirroring main.go's x-ray bring-up: configure once
// at startup, gated on an environment toggle, and never let a tracing
// failure affect the operation being traced.
package tracing

import (
	"context"
	"io"
	"os"

	"github.com/aws/aws-xray-sdk-go/strategy/ctxmissing"
	"github.com/aws/aws-xray-sdk-go/xray"
	"github.com/aws/aws-xray-sdk-go/xraylog"
)

// enabled gates tracing behind an environment variable rather than
// always-on, since the guest VM running this agent is not necessarily an
// AWS instance.
var enabled = os.Getenv("PATCHCORE_ENABLE_XRAY") == "1"

// Configure sets up the global X-Ray recorder exactly once. Call it from
// the CLI entrypoint before any Capture call. It is a no-op when tracing is
// not enabled.
func Configure() {
	if !enabled {
		return
	}
	_ = os.Setenv("AWS_XRAY_CONTEXT_MISSING", "LOG_ERROR")
	_ = xray.Configure(xray.Config{ContextMissingStrategy: ctxmissing.NewDefaultIgnoreErrorStrategy()})
	xray.SetLogger(xraylog.NewDefaultLogger(io.Discard, xraylog.LogLevelWarn))
}

// Capture runs fn inside an X-Ray subsegment named name when tracing is
// enabled, otherwise it calls fn directly. The subsegment records fn's
// returned error but never replaces it.
func Capture(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	if !enabled {
		return fn(ctx)
	}
	return xray.Capture(ctx, name, fn)
}

// Enabled reports whether X-Ray subsegment tracing is active.
func Enabled() bool {
	return enabled
}
