// Package dispatcher implements the top-level iterative-refinement loop:
// retrieve, reason, verify, and, while confidence is low and budget
// remains, refine the query and retry, with a loop guard against
// unproductive recursion.
package dispatcher

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/seanblong/rlmcode/internal/engine"
	"github.com/seanblong/rlmcode/internal/evidence"
	"github.com/seanblong/rlmcode/internal/retriever"
	"github.com/seanblong/rlmcode/internal/store"
	"github.com/seanblong/rlmcode/internal/verifier"
	"github.com/seanblong/rlmcode/pkg/models"
)

// ConfidenceLevel buckets an overall ConfidenceReport.Score.
type ConfidenceLevel string

const (
	LevelLow    ConfidenceLevel = "low"
	LevelMedium ConfidenceLevel = "medium"
	LevelHigh   ConfidenceLevel = "high"
)

// Weight constants for ConfidenceReport, summing to 1.0.
const (
	weightRetrieval = 0.40
	weightCoverage  = 0.35
	weightChunkSat  = 0.10
	weightConsist   = 0.15
)

// chunkSaturationDivisor is the "n/10" denominator in the saturation term.
const chunkSaturationDivisor = 10.0

// confidenceDeltaFloor is the minimum improvement required between
// iterations before should_recurse permits another one.
const confidenceDeltaFloor = 0.05

// errorOverlapCeiling is the maximum fraction of repeated error strings
// tolerated between iterations before should_recurse blocks another one.
const errorOverlapCeiling = 0.5

// ConfidenceReport is the weighted combination of retrieval, coverage,
// chunk-count saturation, and consistency that gates refinement.
type ConfidenceReport struct {
	RetrievalScore  float64
	CoverageRatio   float64
	ChunkSaturation float64
	Consistency     float64
	Score           float64
	Level           ConfidenceLevel
	Warnings        []string
}

// VerifiedResult is the Dispatcher's return value.
type VerifiedResult struct {
	Response         string
	ConfidenceReport ConfidenceReport
	Evidence         []models.Evidence
	Reasoning        []string
	TokensUsed       int
	RecursionDepth   int
	Iterations       int
	Verification     *verifier.VerificationResult
}

// Options configures a Dispatcher.
type Options struct {
	Collection          string
	SearchOptions       retriever.Options
	MaxRecursions       int
	ConfidenceThreshold float64
	VerifyEnabled       bool
}

// retrievalScoreWarningFloor / coverageWarningFloor / consistencyWarningFloor
// trigger a ConfidenceReport warning when their factor falls below them.
const (
	retrievalScoreWarningFloor = 0.3
	coverageWarningFloor       = 0.3
	consistencyWarningFloor    = 0.3
)

// Dispatcher wires the retriever, reasoning engine, evidence tracker and
// verifier together into the bounded refinement loop.
type Dispatcher struct {
	Store    store.VectorStore
	Engine   *engine.Engine
	Tracker  *evidence.Tracker
	Verifier *verifier.Verifier
	Opts     Options
	Logger   zerolog.Logger
}

// New constructs a Dispatcher. A zero-value MaxRecursions/ConfidenceThreshold
// in opts is replaced with the defaults (3 and 0.75 respectively).
func New(vs store.VectorStore, eng *engine.Engine, tracker *evidence.Tracker, v *verifier.Verifier, opts Options, logger zerolog.Logger) *Dispatcher {
	if opts.MaxRecursions <= 0 {
		opts.MaxRecursions = 3
	}
	if opts.ConfidenceThreshold <= 0 {
		opts.ConfidenceThreshold = 0.75
	}
	return &Dispatcher{Store: vs, Engine: eng, Tracker: tracker, Verifier: v, Opts: opts, Logger: logger}
}

// emptyResult is the well-formed VerifiedResult returned when no chunks
// can be retrieved for the query at all.
func emptyResult(iteration int) VerifiedResult {
	if iteration <= 0 {
		iteration = 1
	}
	return VerifiedResult{
		Response:   "No relevant context found for this query.",
		Evidence:   nil,
		Reasoning:  []string{"No chunks retrieved from vector search"},
		Iterations: iteration,
		ConfidenceReport: ConfidenceReport{
			Level:    LevelLow,
			Warnings: []string{"No chunks retrieved from vector search"},
		},
	}
}

// Dispatch runs the iterative-refinement loop:
// retrieve, reason (query on iteration 1, recurse thereafter), optionally
// verify, and refine the query while confidence is low, budget remains,
// and the loop guard allows another pass.
func (d *Dispatcher) Dispatch(ctx context.Context, query string) (VerifiedResult, error) {
	if strings.TrimSpace(query) == "" {
		return emptyResult(1), nil
	}

	d.Tracker.Clear()
	currentQuery := query

	var prevVerif *verifier.VerificationResult
	var lastRLM engine.RLMResult
	var lastReport ConfidenceReport
	var lastVerif *verifier.VerificationResult
	iteration := 0

	for iteration = 1; iteration <= d.Opts.MaxRecursions; iteration++ {
		results, err := retriever.HybridSearch(ctx, d.Store, d.Opts.Collection, currentQuery, d.Opts.SearchOptions)
		if err != nil {
			d.Logger.Warn().Err(err).Msg("retrieval failed")
			return emptyResult(iteration), nil
		}
		if len(results) == 0 {
			return emptyResult(iteration), nil
		}
		d.Tracker.RegisterChunks(results)

		var rlm engine.RLMResult
		if iteration == 1 {
			rlm, err = d.Engine.Query(ctx, currentQuery, results)
		} else {
			rlm, err = d.Engine.Recurse(ctx, currentQuery)
		}
		if err != nil {
			return VerifiedResult{}, fmt.Errorf("dispatcher: reasoning: %w", err)
		}
		for _, e := range rlm.Evidence {
			d.Tracker.AddEvidence(e)
		}
		lastRLM = rlm

		report := d.buildReport(results, rlm)
		lastReport = report

		var verif *verifier.VerificationResult
		if d.Opts.VerifyEnabled && d.Verifier != nil {
			v, _ := d.Verifier.Verify(ctx, rlm.Response, d.Tracker.GetAllEvidence(), nil)
			verif = &v
			lastVerif = verif

			if !v.Confident && rlm.CanRecurse && shouldRecurse(&v, prevVerif) {
				currentQuery = v.SuggestedRefinement
				if currentQuery == "" {
					currentQuery = refineFromReport(query, report)
				}
				prevVerif = verif
				continue
			}
			if !v.Confident && rlm.CanRecurse && !shouldRecurse(&v, prevVerif) {
				report.Warnings = append(report.Warnings, "refinement halted: loop guard prevented further recursion")
				lastReport = report
				return build(rlm, report, iteration, verif), nil
			}
		}

		if report.Score >= d.Opts.ConfidenceThreshold || !rlm.CanRecurse {
			return build(rlm, report, iteration, verif), nil
		}
		currentQuery = refineFromReport(query, report)
	}

	return build(lastRLM, lastReport, iteration-1, lastVerif), nil
}

func build(rlm engine.RLMResult, report ConfidenceReport, iterations int, verif *verifier.VerificationResult) VerifiedResult {
	return VerifiedResult{
		Response:         rlm.Response,
		ConfidenceReport: report,
		Evidence:         rlm.Evidence,
		Reasoning:        rlm.Reasoning,
		TokensUsed:       rlm.TokensUsed,
		RecursionDepth:   rlm.Depth,
		Iterations:       iterations,
		Verification:     verif,
	}
}

// buildReport combines retrieval, coverage, chunk-count saturation, and
// consistency into the weighted ConfidenceReport.
func (d *Dispatcher) buildReport(results []models.ScoredChunk, rlm engine.RLMResult) ConfidenceReport {
	retrievalScore := avgScore(results)

	claims := d.Tracker.ExtractClaims(rlm.Response)
	coverage := d.Tracker.CheckCoverage(claims, rlm.Evidence)

	saturation := float64(len(results)) / chunkSaturationDivisor
	if saturation > 1 {
		saturation = 1
	}

	consistency := d.Tracker.Consistency(rlm.Evidence)

	score := weightRetrieval*retrievalScore + weightCoverage*coverage.CoverageRatio +
		weightChunkSat*saturation + weightConsist*consistency

	var warnings []string
	if retrievalScore < retrievalScoreWarningFloor {
		warnings = append(warnings, "retrieval score is low")
	}
	if coverage.CoverageRatio < coverageWarningFloor {
		warnings = append(warnings, "evidence coverage is low")
	}
	if consistency < consistencyWarningFloor {
		warnings = append(warnings, "evidence is scattered across many files")
	}

	return ConfidenceReport{
		RetrievalScore:  retrievalScore,
		CoverageRatio:   coverage.CoverageRatio,
		ChunkSaturation: saturation,
		Consistency:     consistency,
		Score:           score,
		Level:           level(score),
		Warnings:        warnings,
	}
}

func avgScore(results []models.ScoredChunk) float64 {
	if len(results) == 0 {
		return 0
	}
	total := 0.0
	for _, r := range results {
		total += r.Score
	}
	return total / float64(len(results))
}

func level(score float64) ConfidenceLevel {
	switch {
	case score < 0.4:
		return LevelLow
	case score < 0.7:
		return LevelMedium
	default:
		return LevelHigh
	}
}

// shouldRecurse is the infinite-loop guard: block
// another iteration if confidence improved by less than the floor, or if
// more than half of the current errors repeat the previous iteration's
// errors verbatim.
func shouldRecurse(verif, prev *verifier.VerificationResult) bool {
	if prev == nil {
		return true
	}
	if verif.OverallConfidence-prev.OverallConfidence < confidenceDeltaFloor {
		return false
	}
	if errorOverlap(verif.Errors, prev.Errors) > errorOverlapCeiling {
		return false
	}
	return true
}

func errorOverlap(current, previous []string) float64 {
	if len(current) == 0 {
		return 0
	}
	prevSet := make(map[string]struct{}, len(previous))
	for _, e := range previous {
		prevSet[e] = struct{}{}
	}
	shared := 0
	for _, e := range current {
		if _, ok := prevSet[e]; ok {
			shared++
		}
	}
	return float64(shared) / float64(len(current))
}

// refineFromReport builds a fallback refined query when verification is
// disabled, judged the response confident while the report score stayed
// below the threshold, or produced no suggestion: it appends the lowest-scoring
// report dimension as a hint so the next retrieval biases away from it.
func refineFromReport(original string, report ConfidenceReport) string {
	weakest := "evidence coverage"
	lowest := report.CoverageRatio
	if report.RetrievalScore < lowest {
		weakest, lowest = "retrieval relevance", report.RetrievalScore
	}
	if report.Consistency < lowest {
		weakest, lowest = "evidence consistency", report.Consistency
	}
	return fmt.Sprintf("%s (refine focus: improve %s)", original, weakest)
}
