// Package rlmerrors collects the error taxonomy shared across the engine.
//
// A failure that falls under this taxonomy is returned wrapping one of
// these sentinels (with fmt.Errorf("...: %w", ...) for context), so callers
// at any layer can classify it with errors.Is. Errors outside it, such as
// configuration, auth, encoding, and batch-shape errors, are plain errors.
package rlmerrors

import "errors"

var (
	// ErrUnsupportedLanguage means the chunker was given a file extension it
	// has no grammar or markdown mapping for.
	ErrUnsupportedLanguage = errors.New("unsupported language")

	// ErrParse means a grammar failed to parse a file's bytes.
	ErrParse = errors.New("parse error")

	// ErrStoreUnavailable means the vector store could not be reached.
	ErrStoreUnavailable = errors.New("store unavailable")

	// ErrEmbedderUnavailable means the embedding collaborator could not be
	// reached or returned a failure.
	ErrEmbedderUnavailable = errors.New("embedder unavailable")

	// ErrValidation means tool-call arguments failed schema validation. It
	// is surfaced to the reasoning model as a tool result, never raised to
	// a dispatch caller.
	ErrValidation = errors.New("validation error")

	// ErrRetrieval means the store failed in a way that does not resemble a
	// simple connectivity problem.
	ErrRetrieval = errors.New("retrieval error")

	// ErrBudgetExhausted means depth, token, or iteration caps were hit.
	// Not an error from the dispatch caller's perspective.
	ErrBudgetExhausted = errors.New("budget exhausted")

	// ErrTimeoutExceeded means a wall-clock deadline elapsed.
	ErrTimeoutExceeded = errors.New("timeout exceeded")

	// ErrInvalidInput means a caller-supplied query was empty or exceeded a
	// declared limit. Only terminal at the dispatch boundary.
	ErrInvalidInput = errors.New("invalid input")
)
