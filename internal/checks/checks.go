// Package checks declares the optional code-quality collaborators the
// verifier may invoke: a type-checker, a test runner, and an impact
// scanner. Each is a thin interface over an external tool the core never
// spawns itself; a no-op default lets the verifier's pipeline run
// unchanged with zero configured checks.
package checks

import (
	"context"
	"time"
)

// Result is the outcome of one optional check.
type Result struct {
	Name       string
	Passed     bool
	Errors     []string
	DurationMs int64
}

// TypeChecker runs a type/compile check over a set of changed files.
type TypeChecker interface {
	TypeCheck(ctx context.Context, files []string) (Result, error)
}

// TestRunner runs tests matching the given file patterns within a
// timeout.
type TestRunner interface {
	RunTests(ctx context.Context, patterns []string, timeout time.Duration) (Result, error)
}

// ImpactScanner reports files affected by a change to file (and,
// optionally, a specific symbol within it).
type ImpactScanner interface {
	ScanImpact(ctx context.Context, file, symbol string) ([]string, error)
}

// DefaultTestTimeout is the test_timeout budget enforced locally when a
// caller does not specify one.
const DefaultTestTimeout = 30 * time.Second

// NoopTypeChecker reports every check as passed without invoking any
// external tool; it is the zero-configuration default.
type NoopTypeChecker struct{}

func (NoopTypeChecker) TypeCheck(ctx context.Context, files []string) (Result, error) {
	return Result{Name: "typecheck", Passed: true}, nil
}

// NoopTestRunner reports every run as passed without invoking any
// external tool; it is the zero-configuration default.
type NoopTestRunner struct{}

func (NoopTestRunner) RunTests(ctx context.Context, patterns []string, timeout time.Duration) (Result, error) {
	return Result{Name: "test", Passed: true}, nil
}

// NoopImpactScanner reports no affected files; it is the
// zero-configuration default.
type NoopImpactScanner struct{}

func (NoopImpactScanner) ScanImpact(ctx context.Context, file, symbol string) ([]string, error) {
	return nil, nil
}
