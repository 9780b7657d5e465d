package command

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"
)

// Dispatcher executes a turn's intents against the registry. Intents
// run concurrently and in isolation: one intent failing, hanging, or
// panicking never affects its siblings, and every intent yields
// exactly one result in input order.
type Dispatcher struct {
	registry *Registry
	logger   *slog.Logger
	timeout  time.Duration
}

// NewDispatcher creates a dispatcher with a per-intent timeout.
func NewDispatcher(registry *Registry, timeout time.Duration, logger *slog.Logger) *Dispatcher {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Dispatcher{registry: registry, logger: logger, timeout: timeout}
}

// Dispatch runs all intents and returns one result per intent, index
// for index.
func (d *Dispatcher) Dispatch(ctx context.Context, intents []Intent) []ExecutionResult {
	results := make([]ExecutionResult, len(intents))

	var wg sync.WaitGroup
	for i, intent := range intents {
		wg.Add(1)
		go func(i int, intent Intent) {
			defer wg.Done()
			results[i] = d.execute(ctx, intent)
		}(i, intent)
	}
	wg.Wait()

	return results
}

func (d *Dispatcher) execute(ctx context.Context, intent Intent) (result ExecutionResult) {
	result = ExecutionResult{Intent: intent}

	defer func() {
		if r := recover(); r != nil {
			if d.logger != nil {
				d.logger.Error("intent handler panicked",
					"domain", intent.Domain, "action", intent.Action,
					"panic", r, "stack", string(debug.Stack()))
			}
			result.Status = StatusFailure
			result.Error = fmt.Sprintf("internal error executing %s", intent.Action)
		}
	}()

	handler, ok := d.registry.Lookup(intent.Domain, intent.Action)
	if !ok {
		result.Status = StatusFailure
		result.Error = fmt.Sprintf("no handler for action %q", intent.Action)
		if d.logger != nil {
			d.logger.Warn("unroutable intent", "domain", intent.Domain, "action", intent.Action)
		}
		return result
	}

	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	start := time.Now()
	detail, err := handler(ctx, intent)
	elapsed := time.Since(start)

	switch {
	case err == nil:
		result.Status = StatusSuccess
		result.Detail = detail
	case errors.Is(err, ErrPartial):
		result.Status = StatusPartial
		result.Detail = detail
		result.Error = err.Error()
	default:
		result.Status = StatusFailure
		result.Error = err.Error()
	}

	if d.logger != nil {
		d.logger.Debug("intent executed",
			"domain", intent.Domain, "action", intent.Action,
			"target", intent.Target, "status", result.Status,
			"elapsed", elapsed)
	}

	return result
}
