// Package errs implements a taxonomy of patch-orchestration errors as
// explicit values rather than exceptions: adapters never panic, they return
// a Classified error or nil.
package errs

import "fmt"

// Kind enumerates the recovery classes of patch-orchestration errors.
type Kind string

const (
	KindConfigurationError      Kind = "ConfigurationError"
	KindUnsupportedDistro       Kind = "UnsupportedDistro"
	KindPackageManagerTransient Kind = "PackageManagerTransient"
	KindPackageManagerFailed    Kind = "PackageManagerFailed"
	KindPackageManagerFatal     Kind = "PackageManagerFatal"
	KindDeadlineExceeded        Kind = "DeadlineExceeded"
	KindCancelled               Kind = "Cancelled"
	KindStatusWriteError        Kind = "StatusWriteError"
	KindRebootFailure           Kind = "RebootFailure"
)

// Classified wraps an underlying cause with the Kind that decides how the
// Orchestrator recovers from it.
type Classified struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Classified) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Classified) Unwrap() error {
	return e.Cause
}

// New constructs a Classified error of the given kind.
func New(kind Kind, message string) *Classified {
	return &Classified{Kind: kind, Message: message}
}

// Wrap constructs a Classified error of the given kind around a cause.
func Wrap(kind Kind, message string, cause error) *Classified {
	return &Classified{Kind: kind, Message: message, Cause: cause}
}

// KindOf extracts the Kind of an error if it is (or wraps) a *Classified,
// returning ok=false otherwise.
func KindOf(err error) (Kind, bool) {
	var c *Classified
	if err == nil {
		return "", false
	}
	if asClassified, ok := err.(*Classified); ok {
		c = asClassified
	} else if unwrapper, ok := err.(interface{ Unwrap() error }); ok {
		return KindOf(unwrapper.Unwrap())
	} else {
		return "", false
	}
	return c.Kind, true
}

// Is reports whether err is a Classified error of the given kind.
func Is(err error, kind Kind) bool {
	k, ok := KindOf(err)
	return ok && k == kind
}
