// Package llm provides the language model client used by the
// orchestration pipeline.
package llm

import (
	"context"
	"errors"
	"time"
)

// ErrTimeout reports that a completion call exceeded its deadline.
// Callers use this to drive the adaptive context backoff.
var ErrTimeout = errors.New("llm: completion timed out")

// ErrUnavailable reports that the inference endpoint could not be
// reached at all. Total unavailability is fatal to the turn but never
// to the process.
var ErrUnavailable = errors.New("llm: endpoint unavailable")

// ChunkFunc receives incremental completion text as it arrives. A
// caller that needs to stop a stream cancels the context instead.
type ChunkFunc func(chunk string)

// Client is the interface the orchestration pipeline depends on.
type Client interface {
	// Complete sends a prompt and returns the full completion text.
	// The call is bounded by timeout; on expiry the error wraps
	// [ErrTimeout].
	Complete(ctx context.Context, prompt string, timeout time.Duration) (string, error)

	// CompleteStream sends a prompt and delivers the completion
	// incrementally to onChunk, returning the accumulated text.
	CompleteStream(ctx context.Context, prompt string, timeout time.Duration, onChunk ChunkFunc) (string, error)

	// Ping checks if the endpoint is reachable.
	Ping(ctx context.Context) error
}

// IsTimeout reports whether err represents a completion deadline expiry,
// unwrapping both [ErrTimeout] and raw context deadline errors.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout) || errors.Is(err, context.DeadlineExceeded)
}
