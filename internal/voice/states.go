// Package voice runs the hands-free interaction loop: wait for the
// wake word, record until silence, transcribe, run the turn, and speak
// the reply. The loop is a state machine that survives any single
// failure and returns to listening.
package voice

// State is the current phase of the voice loop.
type State int

const (
	// StateLoading is the initial state while components warm up.
	StateLoading State = iota
	// StateListening waits for the wake word.
	StateListening
	// StateRecording captures the user's utterance.
	StateRecording
	// StateProcessing transcribes the captured audio.
	StateProcessing
	// StateWaitingLLM waits for the model's turn to complete.
	StateWaitingLLM
	// StateResponding synthesizes and plays the reply.
	StateResponding
	// StateError is a transient fault state; the loop announces the
	// problem and returns to listening.
	StateError
)

var stateNames = map[State]string{
	StateLoading:    "loading",
	StateListening:  "listening",
	StateRecording:  "recording",
	StateProcessing: "processing",
	StateWaitingLLM: "waiting_llm",
	StateResponding: "responding",
	StateError:      "error",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "unknown"
}
