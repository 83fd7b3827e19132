package types

import "errors"

// Error taxonomy for the conversation core. Callers classify failures with
// errors.Is; the concrete cause stays attached through %w wrapping.
var (
	// ErrNotFound means a referenced conversation or message does not exist
	// where existence was required (e.g. appending to a missing conversation).
	ErrNotFound = errors.New("not found")

	// ErrValidation means malformed input: empty role, negative limit,
	// non-positive context budget, unknown export format.
	ErrValidation = errors.New("validation failed")

	// ErrStorage means the underlying persistent store failed (disk,
	// connection, corrupt row). Always surfaced, never swallowed.
	ErrStorage = errors.New("storage error")

	// ErrProvider means the upstream LLM provider failed (auth, rate limit,
	// timeout, malformed response). Generated by the llm package and passed
	// through unchanged.
	ErrProvider = errors.New("provider error")
)
