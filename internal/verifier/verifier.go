// Package verifier implements the response verifier: it decomposes a
// reasoning response into atomic claims, checks their coverage against the
// accumulated evidence, optionally runs code checks over changed files, and
// combines the results into a confidence score with a suggested refinement
// when that confidence falls short.
package verifier

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/seanblong/rlmcode/internal/checks"
	"github.com/seanblong/rlmcode/internal/claims"
	"github.com/seanblong/rlmcode/internal/evidence"
	"github.com/seanblong/rlmcode/pkg/models"
)

// failedCheckPenalty is subtracted from coverage for every failed optional
// check.
const failedCheckPenalty = 0.2

// allPassedBonus rewards a response whose changed files survived every
// configured check.
const allPassedBonus = 0.1

// DefaultConfidenceThreshold is used when a caller does not override it.
const DefaultConfidenceThreshold = 0.7

// CheckResult mirrors checks.Result at the verifier boundary so callers of
// this package do not need to import internal/checks directly.
type CheckResult = checks.Result

// VerificationResult is the outcome of one Verify call.
type VerificationResult struct {
	Confident           bool
	OverallConfidence   float64
	Coverage            evidence.CoverageResult
	CheckResults        []CheckResult
	Errors              []string
	SuggestedRefinement string
}

// Options configures an optional check pipeline; a zero-value Options runs
// the verifier with no checks configured.
type Options struct {
	TypeChecker         checks.TypeChecker
	TestRunner          checks.TestRunner
	ImpactScanner       checks.ImpactScanner
	TestTimeout         time.Duration
	ConfidenceThreshold float64
}

// DefaultOptions returns an Options with no-op checks and the default
// confidence threshold.
func DefaultOptions() Options {
	return Options{
		TypeChecker:         checks.NoopTypeChecker{},
		TestRunner:          checks.NoopTestRunner{},
		ImpactScanner:       checks.NoopImpactScanner{},
		TestTimeout:         checks.DefaultTestTimeout,
		ConfidenceThreshold: DefaultConfidenceThreshold,
	}
}

// Verifier ties the claim extractor and evidence tracker together with the
// optional code-check collaborators.
type Verifier struct {
	tracker *evidence.Tracker
	opts    Options
	logger  zerolog.Logger
}

// New constructs a Verifier over tracker using opts. A zero-value Options
// is replaced with DefaultOptions.
func New(tracker *evidence.Tracker, opts Options, logger zerolog.Logger) *Verifier {
	if opts.TypeChecker == nil {
		opts.TypeChecker = checks.NoopTypeChecker{}
	}
	if opts.TestRunner == nil {
		opts.TestRunner = checks.NoopTestRunner{}
	}
	if opts.ImpactScanner == nil {
		opts.ImpactScanner = checks.NoopImpactScanner{}
	}
	if opts.TestTimeout == 0 {
		opts.TestTimeout = checks.DefaultTestTimeout
	}
	if opts.ConfidenceThreshold == 0 {
		opts.ConfidenceThreshold = DefaultConfidenceThreshold
	}
	return &Verifier{tracker: tracker, opts: opts, logger: logger}
}

// Verify runs the six-step pipeline: claim extraction, coverage,
// optional checks over changedFiles, confidence scoring, and, when not
// confident, a suggested refinement built from the coverage gaps.
func (v *Verifier) Verify(ctx context.Context, response string, ev []models.Evidence, changedFiles []string) (VerificationResult, error) {
	extracted := claims.ExtractAtomicClaims(response)
	verifiable := claims.FilterVerifiable(extracted)

	coverage := v.tracker.CheckCoverage(verifiable, ev)

	var checkResults []CheckResult
	var errs []string
	if len(changedFiles) > 0 {
		if res, err := v.opts.TypeChecker.TypeCheck(ctx, changedFiles); err != nil {
			errs = append(errs, err.Error())
		} else {
			checkResults = append(checkResults, res)
			errs = append(errs, res.Errors...)
		}
		if res, err := v.opts.TestRunner.RunTests(ctx, changedFiles, v.opts.TestTimeout); err != nil {
			errs = append(errs, err.Error())
		} else {
			checkResults = append(checkResults, res)
			errs = append(errs, res.Errors...)
		}
		if res, err := v.impactScan(ctx, changedFiles); err != nil {
			errs = append(errs, err.Error())
		} else {
			checkResults = append(checkResults, res)
			errs = append(errs, res.Errors...)
		}
	}

	confidence := v.computeConfidence(coverage.CoverageRatio, checkResults)
	confident := confidence >= v.opts.ConfidenceThreshold

	result := VerificationResult{
		Confident:         confident,
		OverallConfidence: confidence,
		Coverage:          coverage,
		CheckResults:      checkResults,
		Errors:            errs,
	}

	if !confident && len(coverage.Gaps) > 0 {
		result.SuggestedRefinement = buildRefinement(coverage.Gaps, response)
	}

	v.logger.Debug().
		Float64("confidence", confidence).
		Bool("confident", confident).
		Int("gaps", len(coverage.Gaps)).
		Msg("verification complete")

	return result, nil
}

// impactScan runs the impact scanner over each changed file, folding the
// affected-file lists into one check result. The scan itself cannot fail
// a response; it only surfaces blast radius, so Passed is true whenever
// the scanner ran.
func (v *Verifier) impactScan(ctx context.Context, changedFiles []string) (CheckResult, error) {
	start := time.Now()
	affected := map[string]struct{}{}
	for _, f := range changedFiles {
		files, err := v.opts.ImpactScanner.ScanImpact(ctx, f, "")
		if err != nil {
			return CheckResult{}, err
		}
		for _, af := range files {
			affected[af] = struct{}{}
		}
	}
	res := CheckResult{Name: "impact", Passed: true, DurationMs: time.Since(start).Milliseconds()}
	if len(affected) > 0 {
		v.logger.Debug().Int("affected_files", len(affected)).Msg("impact scan complete")
	}
	return res, nil
}

// computeConfidence starts from the coverage ratio, subtracts a fixed
// penalty per failed check, and adds a bonus only when checks actually ran
// and all passed. Clamped to [0, 1].
func (v *Verifier) computeConfidence(coverageRatio float64, results []CheckResult) float64 {
	base := coverageRatio
	failed := 0
	for _, r := range results {
		if !r.Passed {
			failed++
		}
	}
	base -= failedCheckPenalty * float64(failed)
	if len(results) > 0 && failed == 0 {
		base += allPassedBonus
	}
	if base < 0 {
		base = 0
	}
	if base > 1 {
		base = 1
	}
	return base
}

// buildRefinement concatenates gap-reason-specific hints with a fragment of
// the original response, producing a query the dispatcher can retry with.
func buildRefinement(gaps []evidence.Gap, original string) string {
	reasons := map[string]struct{}{}
	var hints []string
	for _, g := range gaps {
		if _, seen := reasons[g.Reason]; seen {
			continue
		}
		reasons[g.Reason] = struct{}{}
		hints = append(hints, hintFor(g.Reason))
	}
	fragment := original
	if len(fragment) > 120 {
		fragment = fragment[:120]
	}
	return fmt.Sprintf("%s %s", strings.Join(hints, " "), fragment)
}

func hintFor(reason string) string {
	switch reason {
	case evidence.GapNoEvidence:
		return "Find specific source chunks that support each claim."
	case evidence.GapNoSourceChunks:
		return "Cite the chunk ids that justify each claim."
	case evidence.GapLowConfidence:
		return "Gather stronger evidence before asserting this."
	default:
		return "Clarify and re-verify the previous answer."
	}
}
