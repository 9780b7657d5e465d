package voice

import (
	"context"
	"errors"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/lumen-home/lumen/internal/command"
	"github.com/lumen-home/lumen/internal/speech"
)

// conversationID names the single ambient voice conversation. Voice
// turns share one history; text chat sessions have their own.
const conversationID = "voice"

// errorReply is spoken when a turn faults mid-pipeline.
const errorReply = "Sorry, something went wrong. I'm listening again."

// WakeDetector signals wake word detections on a channel so the loop
// can select against shutdown.
type WakeDetector interface {
	// Wake returns a channel that delivers one value per detection.
	Wake() <-chan struct{}
}

// Recorder captures one utterance, ending on sustained silence.
type Recorder interface {
	Record(ctx context.Context) ([]byte, error)
}

// Player plays synthesized audio to completion.
type Player interface {
	Play(ctx context.Context, audio []byte) error
}

// TurnRunner executes one conversational turn. Satisfied by the
// orchestration engine.
type TurnRunner interface {
	Run(ctx context.Context, conversationID, utterance string) (*command.TurnResult, error)
}

// Status is a point-in-time snapshot of the loop.
type Status struct {
	State     State     `json:"state"`
	Since     time.Time `json:"since"`
	Turns     int       `json:"turns"`
	LastError string    `json:"last_error,omitempty"`
}

// Machine is the voice interaction loop. All state transitions happen
// on the Run goroutine; Status reads a snapshot under a lock.
type Machine struct {
	wake        WakeDetector
	recorder    Recorder
	transcriber speech.Transcriber
	synthesizer speech.Synthesizer
	player      Player
	engine      TurnRunner
	logger      *slog.Logger

	mu     sync.Mutex
	status Status
}

// NewMachine assembles the voice loop.
func NewMachine(wake WakeDetector, recorder Recorder, transcriber speech.Transcriber, synthesizer speech.Synthesizer, player Player, engine TurnRunner, logger *slog.Logger) *Machine {
	return &Machine{
		wake:        wake,
		recorder:    recorder,
		transcriber: transcriber,
		synthesizer: synthesizer,
		player:      player,
		engine:      engine,
		logger:      logger,
		status:      Status{State: StateLoading, Since: time.Now()},
	}
}

// Status returns the current loop snapshot.
func (m *Machine) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

func (m *Machine) setState(s State) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.status.State != s {
		m.status.State = s
		m.status.Since = time.Now()
	}
	if m.logger != nil {
		m.logger.Debug("voice state", "state", s.String())
	}
}

func (m *Machine) recordFault(err error) {
	m.mu.Lock()
	m.status.LastError = err.Error()
	m.mu.Unlock()
	if m.logger != nil {
		m.logger.Error("voice turn failed", "error", err)
	}
}

func (m *Machine) countTurn() {
	m.mu.Lock()
	m.status.Turns++
	m.mu.Unlock()
}

// Run drives the loop until ctx is cancelled. It never returns early:
// any fault inside a turn, panics included, lands in StateError and
// the loop goes back to listening.
func (m *Machine) Run(ctx context.Context) {
	for {
		m.setState(StateListening)

		select {
		case <-ctx.Done():
			return
		case <-m.wake.Wake():
		}

		if err := m.turn(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			m.setState(StateError)
			m.recordFault(err)
			m.speakBestEffort(ctx, errorReply, "en")
		}
	}
}

// turn runs one wake-to-reply cycle. A panic anywhere inside is
// converted to an error so the loop survives.
func (m *Machine) turn(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			if m.logger != nil {
				m.logger.Error("voice turn panicked", "panic", r, "stack", string(debug.Stack()))
			}
			err = errors.New("internal fault during voice turn")
		}
	}()

	m.setState(StateRecording)
	audio, err := m.recorder.Record(ctx)
	if err != nil {
		return err
	}

	m.setState(StateProcessing)
	tr, err := m.transcriber.Transcribe(ctx, audio)
	if errors.Is(err, speech.ErrNoSpeech) {
		// False wake: nothing was said, go straight back to listening.
		if m.logger != nil {
			m.logger.Debug("no speech in recording")
		}
		return nil
	}
	if err != nil {
		return err
	}
	if m.logger != nil {
		m.logger.Info("utterance", "text", tr.Text, "language", tr.Language)
	}

	m.setState(StateWaitingLLM)
	result, err := m.engine.Run(ctx, conversationID, tr.Text)
	if err != nil {
		return err
	}

	m.setState(StateResponding)
	if err := m.speak(ctx, result.Reply, result.Language); err != nil {
		return err
	}

	m.countTurn()
	return nil
}

func (m *Machine) speak(ctx context.Context, text, language string) error {
	audio, err := m.synthesizer.Synthesize(ctx, text, language)
	if err != nil {
		return err
	}
	return m.player.Play(ctx, audio)
}

// speakBestEffort announces an error without letting synthesis
// problems cascade.
func (m *Machine) speakBestEffort(ctx context.Context, text, language string) {
	if err := m.speak(ctx, text, language); err != nil && m.logger != nil {
		m.logger.Error("speak error reply", "error", err)
	}
}
