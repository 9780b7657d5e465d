package command

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"
)

func testRegistry() *Registry {
	r := NewRegistry()
	r.Register("smarthome", "turn_on", func(ctx context.Context, intent Intent) (string, error) {
		return "turned on " + intent.Target, nil
	})
	r.Register("smarthome", "turn_off", func(ctx context.Context, intent Intent) (string, error) {
		return "", fmt.Errorf("device %q not found", intent.Target)
	})
	r.Register("calendar", "create", func(ctx context.Context, intent Intent) (string, error) {
		return "created", nil
	})
	return r
}

func TestDispatchOneResultPerIntent(t *testing.T) {
	d := NewDispatcher(testRegistry(), time.Second, nil)

	intents := []Intent{
		{Domain: "smarthome", Action: "turn_on", Target: "desk light"},
		{Domain: "smarthome", Action: "turn_off", Target: "ghost lamp"},
		{Domain: "calendar", Action: "create", Target: "dentist"},
		{Domain: "nosuch", Action: "explode"},
	}

	results := d.Dispatch(context.Background(), intents)
	if len(results) != len(intents) {
		t.Fatalf("len(results) = %d, want %d", len(results), len(intents))
	}

	for i, r := range results {
		if r.Intent.Action != intents[i].Action {
			t.Errorf("result %d out of order: %+v", i, r.Intent)
		}
	}

	if results[0].Status != StatusSuccess {
		t.Errorf("results[0] = %+v, want success", results[0])
	}
	if results[1].Status != StatusFailure || results[1].Error == "" {
		t.Errorf("results[1] = %+v, want failure with error", results[1])
	}
	if results[2].Status != StatusSuccess {
		t.Errorf("results[2] = %+v, want success", results[2])
	}
	if results[3].Status != StatusFailure || !strings.Contains(results[3].Error, "no handler") {
		t.Errorf("results[3] = %+v, want no-handler failure", results[3])
	}
}

func TestDispatchIsolatesPanics(t *testing.T) {
	r := testRegistry()
	r.Register("test", "panic", func(ctx context.Context, intent Intent) (string, error) {
		panic("boom")
	})
	d := NewDispatcher(r, time.Second, nil)

	results := d.Dispatch(context.Background(), []Intent{
		{Domain: "test", Action: "panic"},
		{Domain: "smarthome", Action: "turn_on", Target: "desk light"},
	})

	if results[0].Status != StatusFailure {
		t.Errorf("panicking intent = %+v, want failure", results[0])
	}
	if results[1].Status != StatusSuccess {
		t.Errorf("sibling intent = %+v, want success despite sibling panic", results[1])
	}
}

func TestDispatchPartial(t *testing.T) {
	r := NewRegistry()
	r.Register("test", "multi", func(ctx context.Context, intent Intent) (string, error) {
		return "2 of 3 done", fmt.Errorf("%w: one device unreachable", ErrPartial)
	})
	d := NewDispatcher(r, time.Second, nil)

	results := d.Dispatch(context.Background(), []Intent{{Domain: "test", Action: "multi"}})
	if results[0].Status != StatusPartial {
		t.Errorf("status = %q, want partial", results[0].Status)
	}
	if results[0].Detail != "2 of 3 done" {
		t.Errorf("detail = %q", results[0].Detail)
	}
}

func TestDispatchTimeout(t *testing.T) {
	r := NewRegistry()
	r.Register("test", "slow", func(ctx context.Context, intent Intent) (string, error) {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(5 * time.Second):
			return "done", nil
		}
	})
	d := NewDispatcher(r, 20*time.Millisecond, nil)

	start := time.Now()
	results := d.Dispatch(context.Background(), []Intent{{Domain: "test", Action: "slow"}})
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("dispatch took %v, timeout not applied", elapsed)
	}
	if results[0].Status != StatusFailure {
		t.Errorf("status = %q, want failure on timeout", results[0].Status)
	}
}

func TestRegistryBareActionResolution(t *testing.T) {
	r := NewRegistry()
	r.Register("smarthome", "turn_on", func(ctx context.Context, intent Intent) (string, error) { return "", nil })
	r.Register("smarthome", "list", func(ctx context.Context, intent Intent) (string, error) { return "", nil })
	r.Register("calendar", "list", func(ctx context.Context, intent Intent) (string, error) { return "", nil })

	if _, ok := r.Lookup("", "turn_on"); !ok {
		t.Error("unique bare action did not resolve")
	}
	if _, ok := r.Lookup("", "list"); ok {
		t.Error("ambiguous bare action resolved")
	}
	if _, ok := r.Lookup("calendar", "list"); !ok {
		t.Error("qualified action did not resolve")
	}
}

func TestRegistryActions(t *testing.T) {
	r := NewRegistry()
	r.Install(&FuncAdapter{Name: "test", Handlers: map[string]Handler{
		"b": func(ctx context.Context, intent Intent) (string, error) { return "", nil },
		"a": func(ctx context.Context, intent Intent) (string, error) { return "", nil },
	}})

	got := r.Actions()
	if len(got) != 2 || got[0] != "test.a" || got[1] != "test.b" {
		t.Errorf("Actions = %v", got)
	}
}

func TestSummarizeAllSuccess(t *testing.T) {
	results := []ExecutionResult{
		{Intent: Intent{Action: "turn_on"}, Status: StatusSuccess},
	}
	if got := Summarize("Done.", results); got != "Done." {
		t.Errorf("Summarize = %q", got)
	}
}

func TestSummarizeMentionsEveryFailure(t *testing.T) {
	results := []ExecutionResult{
		{Intent: Intent{Action: "turn_on", Target: "desk light"}, Status: StatusSuccess},
		{Intent: Intent{Action: "turn_off", Target: "garage"}, Status: StatusFailure, Error: "device not found"},
		{Intent: Intent{Action: "create", Target: "dentist"}, Status: StatusPartial, Error: "partially completed: clash"},
	}

	got := Summarize("All set.", results)
	if !strings.Contains(got, "turn_off for garage") {
		t.Errorf("summary missing failed intent: %q", got)
	}
	if !strings.Contains(got, "create for dentist") {
		t.Errorf("summary missing partial intent: %q", got)
	}
	if !strings.Contains(got, "All set.") {
		t.Errorf("summary dropped the reply: %q", got)
	}
}

func TestSummarizeEmptyReplyStillReportsFailure(t *testing.T) {
	results := []ExecutionResult{
		{Intent: Intent{Action: "turn_on"}, Status: StatusFailure, Error: "unreachable"},
	}
	got := Summarize("", results)
	if !strings.Contains(got, "turn_on") || !strings.Contains(got, "unreachable") {
		t.Errorf("Summarize = %q", got)
	}
}

func TestDispatchContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	r := NewRegistry()
	r.Register("test", "noop", func(ctx context.Context, intent Intent) (string, error) {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		return "ok", nil
	})
	d := NewDispatcher(r, time.Second, nil)

	results := d.Dispatch(ctx, []Intent{{Domain: "test", Action: "noop"}})
	if results[0].Status != StatusFailure {
		t.Errorf("result = %+v, want failure under cancelled context", results[0])
	}
	if !strings.Contains(results[0].Error, context.Canceled.Error()) {
		t.Errorf("error = %q, want context cancellation surfaced", results[0].Error)
	}
}
