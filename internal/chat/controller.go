// Package chat serializes text conversations. Each conversation owns a
// FIFO mailbox goroutine so its turns never interleave, while separate
// conversations run concurrently up to a session cap.
package chat

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/lumen-home/lumen/internal/command"
	"github.com/lumen-home/lumen/internal/llm"
)

// ErrTooManySessions reports that the session cap is reached and every
// live session is still busy.
var ErrTooManySessions = errors.New("chat: too many active sessions")

// errSessionClosed is returned for jobs caught in a session shutdown;
// submit retries against a fresh session.
var errSessionClosed = errors.New("chat: session closed")

// mailboxDepth bounds queued turns per conversation. Beyond this,
// submission blocks until the backlog drains.
const mailboxDepth = 16

// idleTimeout is how long a session goroutine lingers without work
// before shutting down.
const idleTimeout = 10 * time.Minute

// Runner executes turns. Satisfied by the orchestration engine.
type Runner interface {
	Run(ctx context.Context, conversationID, utterance string) (*command.TurnResult, error)
	RunStream(ctx context.Context, conversationID, utterance string, onChunk llm.ChunkFunc) (*command.TurnResult, error)
}

type job struct {
	ctx       context.Context
	utterance string
	onChunk   llm.ChunkFunc
	done      chan outcome
}

type outcome struct {
	result *command.TurnResult
	err    error
}

type session struct {
	id      string
	mailbox chan job
	quit    chan struct{}

	mu         sync.Mutex
	lastActive time.Time
	busy       bool
}

func (s *session) touch(busy bool) {
	s.mu.Lock()
	s.lastActive = time.Now()
	s.busy = busy
	s.mu.Unlock()
}

func (s *session) idleSince() (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActive, !s.busy && len(s.mailbox) == 0
}

// Controller routes turn submissions to per-conversation sessions.
type Controller struct {
	runner      Runner
	maxSessions int
	logger      *slog.Logger

	mu       sync.Mutex
	sessions map[string]*session
	baseCtx  context.Context
	cancel   context.CancelFunc
}

// NewController creates a controller allowing at most maxSessions
// concurrent conversations.
func NewController(runner Runner, maxSessions int, logger *slog.Logger) *Controller {
	if maxSessions <= 0 {
		maxSessions = 8
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Controller{
		runner:      runner,
		maxSessions: maxSessions,
		logger:      logger,
		sessions:    map[string]*session{},
		baseCtx:     ctx,
		cancel:      cancel,
	}
}

// Close stops all session goroutines.
func (c *Controller) Close() {
	c.cancel()
}

// SubmitText runs one turn in the conversation, waiting for turns
// queued ahead of it. Turns within a conversation complete in
// submission order.
func (c *Controller) SubmitText(ctx context.Context, conversationID, utterance string) (*command.TurnResult, error) {
	return c.submit(ctx, conversationID, utterance, nil)
}

// SubmitTextStream is SubmitText with model output streamed through
// onChunk.
func (c *Controller) SubmitTextStream(ctx context.Context, conversationID, utterance string, onChunk llm.ChunkFunc) (*command.TurnResult, error) {
	return c.submit(ctx, conversationID, utterance, onChunk)
}

func (c *Controller) submit(ctx context.Context, conversationID, utterance string, onChunk llm.ChunkFunc) (*command.TurnResult, error) {
	for {
		if c.baseCtx.Err() != nil {
			return nil, errors.New("chat: controller closed")
		}
		sess, err := c.sessionFor(conversationID)
		if err != nil {
			return nil, err
		}

		j := job{ctx: ctx, utterance: utterance, onChunk: onChunk, done: make(chan outcome, 1)}
		select {
		case sess.mailbox <- j:
		case <-sess.quit:
			continue // session shut down between lookup and send
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-c.baseCtx.Done():
			return nil, errors.New("chat: controller closed")
		}

		select {
		case out := <-j.done:
			if errors.Is(out.err, errSessionClosed) {
				continue
			}
			return out.result, out.err
		case <-sess.quit:
			// Session shut down after accepting the job. The job may
			// still be queued or mid-run; every accepted job gets one
			// outcome, from the goroutine or from a drain, so wait for
			// it rather than resubmitting a turn that may be running.
			c.drain(sess)
			select {
			case out := <-j.done:
				if errors.Is(out.err, errSessionClosed) {
					continue
				}
				return out.result, out.err
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// sessionFor returns the conversation's session, creating it if
// needed. At the cap, the longest-idle session is evicted first; if
// every session is busy the submission is refused.
func (c *Controller) sessionFor(conversationID string) (*session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if sess, ok := c.sessions[conversationID]; ok {
		return sess, nil
	}

	if len(c.sessions) >= c.maxSessions {
		if !c.evictIdleLocked() {
			return nil, ErrTooManySessions
		}
	}

	sess := &session{
		id:         conversationID,
		mailbox:    make(chan job, mailboxDepth),
		quit:       make(chan struct{}),
		lastActive: time.Now(),
	}
	c.sessions[conversationID] = sess
	go c.serve(sess)

	if c.logger != nil {
		c.logger.Debug("chat session opened", "conversation", conversationID, "active", len(c.sessions))
	}
	return sess, nil
}

func (c *Controller) evictIdleLocked() bool {
	var victim *session
	var oldest time.Time
	for _, sess := range c.sessions {
		at, idle := sess.idleSince()
		if !idle {
			continue
		}
		if victim == nil || at.Before(oldest) {
			victim, oldest = sess, at
		}
	}
	if victim == nil {
		return false
	}
	delete(c.sessions, victim.id)
	close(victim.quit)
	return true
}

func (c *Controller) remove(sess *session) {
	c.mu.Lock()
	if current, ok := c.sessions[sess.id]; ok && current == sess {
		delete(c.sessions, sess.id)
		close(sess.quit)
	}
	c.mu.Unlock()
}

// serve is the session goroutine: one turn at a time, FIFO.
func (c *Controller) serve(sess *session) {
	idle := time.NewTimer(idleTimeout)
	defer idle.Stop()
	defer c.drain(sess)

	for {
		select {
		case <-c.baseCtx.Done():
			c.remove(sess)
			return
		case <-sess.quit:
			return
		case <-idle.C:
			c.remove(sess)
			return
		case j, ok := <-sess.mailbox:
			if !ok {
				return
			}
			sess.touch(true)
			c.runJob(sess, j)
			sess.touch(false)
			if !idle.Stop() {
				select {
				case <-idle.C:
				default:
				}
			}
			idle.Reset(idleTimeout)
		}
	}
}

// drain fails any jobs that raced into the mailbox during shutdown so
// their submitters retry on a fresh session. Called by the session
// goroutine on exit and by submitters that observe the shutdown; the
// two only compete over channel receives.
func (c *Controller) drain(sess *session) {
	for {
		select {
		case j := <-sess.mailbox:
			j.done <- outcome{err: errSessionClosed}
		default:
			return
		}
	}
}

func (c *Controller) runJob(sess *session, j job) {
	if err := j.ctx.Err(); err != nil {
		j.done <- outcome{err: err}
		return
	}

	var result *command.TurnResult
	var err error
	if j.onChunk != nil {
		result, err = c.runner.RunStream(j.ctx, sess.id, j.utterance, j.onChunk)
	} else {
		result, err = c.runner.Run(j.ctx, sess.id, j.utterance)
	}
	j.done <- outcome{result: result, err: err}
}

// ActiveSessions reports how many conversations currently hold a
// session.
func (c *Controller) ActiveSessions() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sessions)
}
