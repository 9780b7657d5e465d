// Package orchestrate runs the shared turn pipeline used by both the
// voice loop and text chat: build a budgeted prompt, query the model,
// parse its structured output, execute the intents, and record the
// completed exchange.
package orchestrate

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/lumen-home/lumen/internal/command"
	"github.com/lumen-home/lumen/internal/contextwin"
	"github.com/lumen-home/lumen/internal/llm"
	"github.com/lumen-home/lumen/internal/memory"
)

// fallbackReply is spoken when the model cannot be reached at all.
// The pipeline never surfaces a dead turn as silence.
const fallbackReply = "Sorry, I'm having trouble thinking right now. Please try again in a moment."

// HistoryStore is the slice of the memory store the engine needs.
type HistoryStore interface {
	LastNWords(ctx context.Context, conversationID string, n int) ([]memory.Message, error)
	AppendTurn(ctx context.Context, conversationID, utterance, reply string) error
}

// SystemPromptFunc builds the system prompt for a turn. It runs per
// turn so the device inventory and clock stay current.
type SystemPromptFunc func(ctx context.Context) string

// Engine executes turns.
type Engine struct {
	model      llm.Client
	dispatcher *command.Dispatcher
	store      HistoryStore
	budgets    *contextwin.Manager
	system     SystemPromptFunc
	logger     *slog.Logger

	timeout       time.Duration
	fast          time.Duration
	retryAttempts int
}

// Options configures an Engine.
type Options struct {
	Model         llm.Client
	Dispatcher    *command.Dispatcher
	Store         HistoryStore
	Budgets       *contextwin.Manager
	System        SystemPromptFunc
	Logger        *slog.Logger
	Timeout       time.Duration
	RetryAttempts int

	// Fast is the elapsed-time threshold under which a completed turn
	// counts as fast, letting the conversation's context budget grow
	// back toward its ceiling.
	Fast time.Duration
}

// New creates an engine.
func New(opts Options) *Engine {
	if opts.Timeout <= 0 {
		opts.Timeout = 60 * time.Second
	}
	if opts.Fast <= 0 {
		opts.Fast = 10 * time.Second
	}
	if opts.RetryAttempts < 0 {
		opts.RetryAttempts = 0
	}
	if opts.System == nil {
		opts.System = func(context.Context) string { return "" }
	}
	return &Engine{
		model:         opts.Model,
		dispatcher:    opts.Dispatcher,
		store:         opts.Store,
		budgets:       opts.Budgets,
		system:        opts.System,
		logger:        opts.Logger,
		timeout:       opts.Timeout,
		fast:          opts.Fast,
		retryAttempts: opts.RetryAttempts,
	}
}

// Run executes one turn. A model timeout shrinks the conversation's
// context budget and retries with the smaller prompt; if every attempt
// fails the turn completes with an apologetic reply instead of an
// error, so callers always have something to say.
func (e *Engine) Run(ctx context.Context, conversationID, utterance string) (*command.TurnResult, error) {
	return e.run(ctx, conversationID, utterance, nil)
}

// RunStream is Run with the model's raw output streamed through
// onChunk as it arrives. Intents execute as soon as the structured
// object completes, while the model may still be generating.
func (e *Engine) RunStream(ctx context.Context, conversationID, utterance string, onChunk llm.ChunkFunc) (*command.TurnResult, error) {
	return e.run(ctx, conversationID, utterance, onChunk)
}

func (e *Engine) run(ctx context.Context, conversationID, utterance string, onChunk llm.ChunkFunc) (*command.TurnResult, error) {
	turnID := newTurnID()
	logger := e.logger
	if logger != nil {
		logger = logger.With("turn", turnID, "conversation", conversationID)
	}

	start := time.Now()
	turn, results, err := e.converse(ctx, conversationID, utterance, onChunk, logger)
	elapsed := time.Since(start)

	if err != nil {
		if logger != nil {
			logger.Error("turn failed, using fallback reply", "error", err, "elapsed", elapsed)
		}
		return &command.TurnResult{ID: turnID, Reply: fallbackReply, Language: "en"}, nil
	}

	reply := command.Summarize(turn.Reply, results)
	if reply == "" {
		reply = fallbackReply
	}

	if e.store != nil {
		if err := e.store.AppendTurn(ctx, conversationID, utterance, reply); err != nil && logger != nil {
			logger.Error("record turn", "error", err)
		}
	}
	// The budget recovers only after fast turns; a slow-but-successful
	// turn keeps its current size.
	if elapsed <= e.fast {
		e.budgets.Grow(conversationID)
	}

	if logger != nil {
		logger.Info("turn complete",
			"intents", len(turn.Intents), "language", turn.Language, "elapsed", elapsed)
	}

	return &command.TurnResult{
		ID:       turnID,
		Reply:    reply,
		Language: turn.Language,
		Results:  results,
	}, nil
}

// converse queries the model and executes intents, retrying on timeout
// with a reduced context budget.
func (e *Engine) converse(ctx context.Context, conversationID, utterance string, onChunk llm.ChunkFunc, logger *slog.Logger) (*command.Turn, []command.ExecutionResult, error) {
	system := e.system(ctx)

	var lastErr error
	for attempt := 0; attempt <= e.retryAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}

		budget := e.budgets.Budget(conversationID)
		prompt := contextwin.BuildPrompt(system, e.history(ctx, conversationID, budget), budget, utterance)

		turn, results, err := e.attempt(ctx, prompt, onChunk)
		if err == nil {
			return turn, results, nil
		}
		lastErr = err

		if llm.IsTimeout(err) && attempt < e.retryAttempts {
			next := e.budgets.Shrink(conversationID)
			if logger != nil {
				logger.Warn("model timed out, retrying with smaller context",
					"attempt", attempt+1, "budget", next)
			}
			continue
		}
		break
	}
	return nil, nil, lastErr
}

func (e *Engine) attempt(ctx context.Context, prompt string, onChunk llm.ChunkFunc) (*command.Turn, []command.ExecutionResult, error) {
	if onChunk == nil {
		raw, err := e.model.Complete(ctx, prompt, e.timeout)
		if err != nil {
			return nil, nil, err
		}
		turn, err := command.Parse(raw)
		if err != nil {
			return nil, nil, fmt.Errorf("parse model output: %w", err)
		}
		return turn, e.dispatcher.Dispatch(ctx, turn.Intents), nil
	}

	// Streaming path: intents fire on the chunk that completes the
	// structured object, before generation finishes.
	parser := command.NewStreamParser()
	var turn *command.Turn
	var results []command.ExecutionResult

	_, err := e.model.CompleteStream(ctx, prompt, e.timeout, func(chunk string) {
		onChunk(chunk)
		if t := parser.Feed(chunk); t != nil {
			turn = t
			results = e.dispatcher.Dispatch(ctx, t.Intents)
		}
	})
	if err != nil {
		// Once intents have executed the turn is committed: a retry
		// would run the commands a second time, and the fallback reply
		// would deny actions that already happened. The completed
		// object carries the reply, so finish the turn with it.
		if turn != nil {
			if e.logger != nil {
				e.logger.Warn("stream failed after intents executed, completing turn", "error", err)
			}
			return turn, results, nil
		}
		return nil, nil, err
	}

	if turn == nil {
		t, err := parser.Finish()
		if err != nil {
			return nil, nil, fmt.Errorf("parse model output: %w", err)
		}
		turn = t
		results = e.dispatcher.Dispatch(ctx, turn.Intents)
	}

	return turn, results, nil
}

func (e *Engine) history(ctx context.Context, conversationID string, budget int) []contextwin.Message {
	if e.store == nil {
		return nil
	}
	stored, err := e.store.LastNWords(ctx, conversationID, budget)
	if err != nil {
		if e.logger != nil {
			e.logger.Warn("load history", "conversation", conversationID, "error", err)
		}
		return nil
	}
	out := make([]contextwin.Message, len(stored))
	for i, m := range stored {
		out[i] = contextwin.Message{Role: m.Role, Content: m.Content}
	}
	return out
}

func newTurnID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}
