// Package command parses structured commands out of model output and
// dispatches them to domain adapters.
package command

import (
	"context"
	"errors"
)

// Execution statuses.
const (
	StatusSuccess = "success"
	StatusFailure = "failure"
	StatusPartial = "partial"
)

// ErrPartial wraps handler errors where part of the requested action
// took effect. The dispatcher reports these as partial rather than
// failed.
var ErrPartial = errors.New("partially completed")

// Intent is one action extracted from a model turn, resolved to a
// domain for routing.
type Intent struct {
	Domain string         `json:"domain"`
	Action string         `json:"action"`
	Target string         `json:"target,omitempty"`
	Args   map[string]any `json:"args,omitempty"`
}

// ExecutionResult records the outcome of one intent. Every dispatched
// intent produces exactly one result, failures included.
type ExecutionResult struct {
	Intent Intent `json:"intent"`
	Status string `json:"status"`
	Detail string `json:"detail,omitempty"`
	Error  string `json:"error,omitempty"`
}

// Failed reports whether the intent did not fully succeed.
func (r ExecutionResult) Failed() bool {
	return r.Status != StatusSuccess
}

// Turn is the structured content of one model response.
type Turn struct {
	Intents  []Intent `json:"intents,omitempty"`
	Reply    string   `json:"reply"`
	Language string   `json:"language"`
}

// TurnResult is a completed turn: the executed intents' outcomes plus
// the final spoken reply.
type TurnResult struct {
	ID       string            `json:"id"`
	Reply    string            `json:"reply"`
	Language string            `json:"language"`
	Results  []ExecutionResult `json:"results,omitempty"`
}

// Handler executes one intent and returns a human-readable detail of
// what happened.
type Handler func(ctx context.Context, intent Intent) (string, error)
