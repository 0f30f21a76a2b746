// Package testingstub defines the subset of *testing.T's interface that
// shared test routines need, so that those routines can live in regular
// (non-_test.go) files and be called from multiple packages' tests without
// importing the "testing" package outside of _test.go files.
package testingstub

type T interface {
	Helper()
	Error(...interface{})
	Errorf(string, ...interface{})
	Fatal(...interface{})
	Fatalf(string, ...interface{})
	Fail()
	FailNow()
	Failed() bool
	Log(...interface{})
	Logf(string, ...interface{})
}
