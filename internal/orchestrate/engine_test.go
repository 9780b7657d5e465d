package orchestrate

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/lumen-home/lumen/internal/command"
	"github.com/lumen-home/lumen/internal/contextwin"
	"github.com/lumen-home/lumen/internal/llm"
	"github.com/lumen-home/lumen/internal/memory"
)

// fakeModel scripts responses per call. An entry of "" simulates a
// timeout.
type fakeModel struct {
	mu      sync.Mutex
	replies []string
	prompts []string
	chunked bool
}

func (f *fakeModel) Complete(ctx context.Context, prompt string, timeout time.Duration) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prompts = append(f.prompts, prompt)
	if len(f.replies) == 0 {
		return "", llm.ErrUnavailable
	}
	reply := f.replies[0]
	f.replies = f.replies[1:]
	if reply == "" {
		return "", fmt.Errorf("generate: %w", llm.ErrTimeout)
	}
	return reply, nil
}

func (f *fakeModel) CompleteStream(ctx context.Context, prompt string, timeout time.Duration, onChunk llm.ChunkFunc) (string, error) {
	reply, err := f.Complete(ctx, prompt, timeout)
	if err != nil {
		return "", err
	}
	// Deliver in small fragments so boundary detection is exercised.
	for i := 0; i < len(reply); i += 10 {
		end := i + 10
		if end > len(reply) {
			end = len(reply)
		}
		onChunk(reply[i:end])
	}
	f.mu.Lock()
	f.chunked = true
	f.mu.Unlock()
	return reply, nil
}

func (f *fakeModel) Ping(ctx context.Context) error { return nil }

type fakeStore struct {
	mu      sync.Mutex
	history []memory.Message
	turns   [][2]string
}

func (f *fakeStore) LastNWords(ctx context.Context, conversationID string, n int) ([]memory.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return memory.TrimToWords(f.history, n), nil
}

func (f *fakeStore) AppendTurn(ctx context.Context, conversationID, utterance, reply string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.turns = append(f.turns, [2]string{utterance, reply})
	return nil
}

func testEngine(t *testing.T, model llm.Client, store HistoryStore, attempts int) (*Engine, *contextwin.Manager, *recorder) {
	t.Helper()
	rec := &recorder{}
	registry := command.NewRegistry()
	registry.Register("smarthome", "turn_off", func(ctx context.Context, intent command.Intent) (string, error) {
		rec.add("turn_off " + intent.Target)
		return "turned off " + intent.Target, nil
	})
	registry.Register("smarthome", "turn_on", func(ctx context.Context, intent command.Intent) (string, error) {
		rec.add("turn_on " + intent.Target)
		if intent.Target == "broken lamp" {
			return "", fmt.Errorf("device unreachable")
		}
		return "turned on " + intent.Target, nil
	})

	budgets := contextwin.NewManager(400, 100, 800, 0.7, 50, nil)
	engine := New(Options{
		Model:         model,
		Dispatcher:    command.NewDispatcher(registry, time.Second, nil),
		Store:         store,
		Budgets:       budgets,
		System:        func(context.Context) string { return "You are Lumen." },
		Timeout:       time.Second,
		RetryAttempts: attempts,
	})
	return engine, budgets, rec
}

type recorder struct {
	mu      sync.Mutex
	entries []string
}

func (r *recorder) add(s string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, s)
}

func (r *recorder) all() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.entries...)
}

func TestRunCommandTurn(t *testing.T) {
	model := &fakeModel{replies: []string{
		`{"commands":[{"action":"smarthome.turn_off","target":"kitchen light"}],"nl_response":"The kitchen light is off.","language":"en"}`,
	}}
	store := &fakeStore{}
	engine, budgets, rec := testEngine(t, model, store, 1)

	result, err := engine.Run(context.Background(), "conv-1", "turn off the kitchen light")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Reply != "The kitchen light is off." {
		t.Errorf("Reply = %q", result.Reply)
	}
	if len(result.Results) != 1 || result.Results[0].Status != command.StatusSuccess {
		t.Errorf("Results = %+v", result.Results)
	}
	if got := rec.all(); len(got) != 1 || got[0] != "turn_off kitchen light" {
		t.Errorf("executed = %v", got)
	}
	if len(store.turns) != 1 || store.turns[0][0] != "turn off the kitchen light" {
		t.Errorf("recorded turns = %v", store.turns)
	}
	if got := budgets.Budget("conv-1"); got != 450 {
		t.Errorf("budget after success = %d, want 450 (grown)", got)
	}
	if result.ID == "" {
		t.Error("TurnResult has no ID")
	}
}

func TestRunFailedIntentInReply(t *testing.T) {
	model := &fakeModel{replies: []string{
		`{"commands":[{"action":"smarthome.turn_on","target":"desk light"},{"action":"smarthome.turn_on","target":"broken lamp"}],"nl_response":"Both lights are on.","language":"en"}`,
	}}
	engine, _, _ := testEngine(t, model, &fakeStore{}, 1)

	result, err := engine.Run(context.Background(), "conv-1", "turn on both lights")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(result.Results) != 2 {
		t.Fatalf("Results = %+v", result.Results)
	}
	if !strings.Contains(result.Reply, "broken lamp") {
		t.Errorf("reply does not mention the failed device: %q", result.Reply)
	}
	if !strings.Contains(result.Reply, "Both lights are on.") {
		t.Errorf("reply dropped the model response: %q", result.Reply)
	}
}

func TestRunTimeoutShrinksAndRetries(t *testing.T) {
	model := &fakeModel{replies: []string{
		"", // first attempt times out
		`{"commands":[],"nl_response":"Hello.","language":"en"}`,
	}}
	engine, budgets, _ := testEngine(t, model, &fakeStore{}, 1)

	result, err := engine.Run(context.Background(), "conv-1", "hi")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Reply != "Hello." {
		t.Errorf("Reply = %q", result.Reply)
	}
	if len(model.prompts) != 2 {
		t.Fatalf("model called %d times, want 2", len(model.prompts))
	}
	// Shrunk to 280, then grown by 50 after the successful retry.
	if got := budgets.Budget("conv-1"); got != 330 {
		t.Errorf("budget = %d, want 330", got)
	}
}

func TestRunSlowTurnKeepsBudget(t *testing.T) {
	model := &fakeModel{replies: []string{`{"commands":[],"nl_response":"Hi.","language":"en"}`}}
	budgets := contextwin.NewManager(400, 100, 800, 0.7, 50, nil)
	engine := New(Options{
		Model:      model,
		Dispatcher: command.NewDispatcher(command.NewRegistry(), time.Second, nil),
		Budgets:    budgets,
		Timeout:    time.Second,
		// Any measurable elapsed time counts as slow.
		Fast: time.Nanosecond,
	})

	if _, err := engine.Run(context.Background(), "conv-1", "hi"); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := budgets.Budget("conv-1"); got != 400 {
		t.Errorf("budget = %d, want 400 (unchanged after slow turn)", got)
	}
}

func TestRunAllAttemptsFailFallsBack(t *testing.T) {
	model := &fakeModel{replies: []string{"", ""}}
	store := &fakeStore{}
	engine, _, _ := testEngine(t, model, store, 1)

	result, err := engine.Run(context.Background(), "conv-1", "hi")
	if err != nil {
		t.Fatalf("Run must not error on model failure, got %v", err)
	}
	if result.Reply != fallbackReply {
		t.Errorf("Reply = %q, want fallback", result.Reply)
	}
	if len(store.turns) != 0 {
		t.Errorf("failed turn was recorded: %v", store.turns)
	}
}

func TestRunProseOnlyTurn(t *testing.T) {
	model := &fakeModel{replies: []string{"Paris is the capital of France."}}
	engine, _, rec := testEngine(t, model, &fakeStore{}, 0)

	result, err := engine.Run(context.Background(), "conv-1", "capital of France?")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Reply != "Paris is the capital of France." {
		t.Errorf("Reply = %q", result.Reply)
	}
	if got := rec.all(); len(got) != 0 {
		t.Errorf("prose turn executed intents: %v", got)
	}
}

func TestRunStreamDispatchesOnBoundary(t *testing.T) {
	model := &fakeModel{replies: []string{
		`{"commands":[{"action":"smarthome.turn_off","target":"desk light"}],"nl_response":"Off.","language":"en"} and some trailing chatter from the model`,
	}}
	engine, _, rec := testEngine(t, model, &fakeStore{}, 0)

	var chunks []string
	result, err := engine.RunStream(context.Background(), "conv-1", "lights off", func(c string) {
		chunks = append(chunks, c)
	})
	if err != nil {
		t.Fatalf("RunStream: %v", err)
	}
	if len(chunks) == 0 {
		t.Error("no chunks streamed")
	}
	if got := rec.all(); len(got) != 1 {
		t.Errorf("executed = %v, want one intent", got)
	}
	if result.Reply != "Off." {
		t.Errorf("Reply = %q", result.Reply)
	}
}

// dyingStreamModel streams a complete command object and then fails
// the call with a timeout, as when generation stalls after the
// structured output.
type dyingStreamModel struct {
	mu    sync.Mutex
	calls int
}

const dyingStreamObject = `{"commands":[{"action":"smarthome.turn_off","target":"desk light"}],"nl_response":"Off.","language":"en"}`

func (m *dyingStreamModel) Complete(ctx context.Context, prompt string, timeout time.Duration) (string, error) {
	return m.CompleteStream(ctx, prompt, timeout, func(string) {})
}

func (m *dyingStreamModel) CompleteStream(ctx context.Context, prompt string, timeout time.Duration, onChunk llm.ChunkFunc) (string, error) {
	m.mu.Lock()
	m.calls++
	m.mu.Unlock()
	onChunk(dyingStreamObject)
	return dyingStreamObject, fmt.Errorf("read stream: %w", llm.ErrTimeout)
}

func (m *dyingStreamModel) Ping(ctx context.Context) error { return nil }

func TestRunStreamTimeoutAfterDispatchDoesNotRetry(t *testing.T) {
	model := &dyingStreamModel{}
	engine, _, rec := testEngine(t, model, &fakeStore{}, 1)

	result, err := engine.RunStream(context.Background(), "conv-1", "lights off", func(string) {})
	if err != nil {
		t.Fatalf("RunStream: %v", err)
	}
	if model.calls != 1 {
		t.Errorf("model called %d times, want 1: the executed turn must not be retried", model.calls)
	}
	if got := rec.all(); len(got) != 1 || got[0] != "turn_off desk light" {
		t.Errorf("executed = %v, want a single execution", got)
	}
	if result.Reply != "Off." {
		t.Errorf("Reply = %q, want the completed turn's reply, not the fallback", result.Reply)
	}
	if len(result.Results) != 1 || result.Results[0].Status != command.StatusSuccess {
		t.Errorf("Results = %+v, want one result per intent", result.Results)
	}
}

func TestRunHistoryFlowsIntoPrompt(t *testing.T) {
	store := &fakeStore{history: []memory.Message{
		{Role: memory.RoleUser, Content: "my name is Sam"},
		{Role: memory.RoleAssistant, Content: "Nice to meet you, Sam."},
	}}
	model := &fakeModel{replies: []string{`{"commands":[],"nl_response":"You are Sam.","language":"en"}`}}
	engine, _, _ := testEngine(t, model, store, 0)

	if _, err := engine.Run(context.Background(), "conv-1", "what is my name?"); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(model.prompts) != 1 {
		t.Fatalf("model called %d times", len(model.prompts))
	}
	prompt := model.prompts[0]
	if !strings.Contains(prompt, "my name is Sam") {
		t.Errorf("prompt missing history:\n%s", prompt)
	}
	if !strings.Contains(prompt, "You are Lumen.") {
		t.Errorf("prompt missing system text:\n%s", prompt)
	}
	if !strings.Contains(prompt, "what is my name?") {
		t.Errorf("prompt missing utterance:\n%s", prompt)
	}
}
