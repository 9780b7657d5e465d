package command

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/lumen-home/lumen/internal/llm"
)

// ErrNoTurn reports that the model output contained no parseable turn
// object.
var ErrNoTurn = errors.New("command: no turn object in model output")

// supportedLanguages are the voices available for synthesis. Anything
// else falls back to English.
var supportedLanguages = map[string]bool{
	"en": true, "fr": true, "de": true, "it": true, "es": true, "ru": true,
}

var thinkBlock = regexp.MustCompile(`(?s)<think>.*?</think>`)

// wireTurn is the JSON shape the model is prompted to emit.
type wireTurn struct {
	Commands   []wireCommand `json:"commands"`
	NLResponse string        `json:"nl_response"`
	Language   string        `json:"language"`
}

type wireCommand struct {
	Action string         `json:"action"`
	Target string         `json:"target"`
	Data   map[string]any `json:"data"`
}

// Parse extracts a structured turn from raw model output. Models wrap
// JSON in code fences, prepend reasoning, or emit trailing prose;
// everything around the first complete object is ignored. If no object
// can be found at all, the whole output becomes the spoken reply.
func Parse(raw string) (*Turn, error) {
	cleaned := thinkBlock.ReplaceAllString(raw, "")
	cleaned = stripFences(cleaned)
	cleaned = strings.TrimSpace(cleaned)
	if cleaned == "" {
		return nil, ErrNoTurn
	}

	scanner := llm.NewBoundaryScanner()
	scanner.Write(cleaned)
	obj, ok := scanner.Object()
	if !ok {
		// Plain prose answer with no command structure.
		return &Turn{Reply: cleaned, Language: "en"}, nil
	}

	var wire wireTurn
	if err := json.Unmarshal([]byte(obj), &wire); err != nil {
		return nil, fmt.Errorf("command: decode turn: %w", err)
	}

	return fromWire(wire), nil
}

func fromWire(wire wireTurn) *Turn {
	t := &Turn{
		Reply:    strings.TrimSpace(wire.NLResponse),
		Language: wire.Language,
	}
	if !supportedLanguages[t.Language] {
		t.Language = "en"
	}

	for _, c := range wire.Commands {
		action := strings.TrimSpace(c.Action)
		if action == "" {
			continue
		}
		domain := ""
		if d, a, ok := strings.Cut(action, "."); ok {
			domain, action = d, a
		}
		t.Intents = append(t.Intents, Intent{
			Domain: domain,
			Action: action,
			Target: strings.TrimSpace(c.Target),
			Args:   c.Data,
		})
	}

	return t
}

// stripFences removes markdown code fences so the scanner sees bare
// JSON.
func stripFences(s string) string {
	s = strings.ReplaceAll(s, "```json", "")
	return strings.ReplaceAll(s, "```", "")
}

// StreamParser detects the turn object incrementally as model chunks
// arrive, so intents can execute before the model finishes talking.
type StreamParser struct {
	scanner *llm.BoundaryScanner
	done    bool
}

// NewStreamParser creates a parser for one streamed response.
func NewStreamParser() *StreamParser {
	return &StreamParser{scanner: llm.NewBoundaryScanner()}
}

// Feed adds a chunk. It returns the parsed turn exactly once, on the
// chunk that completes the JSON object; subsequent chunks return nil.
func (p *StreamParser) Feed(chunk string) *Turn {
	if p.done {
		return nil
	}
	if !p.scanner.Write(stripFences(chunk)) {
		return nil
	}
	p.done = true

	obj, ok := p.scanner.Object()
	if !ok {
		return nil
	}
	var wire wireTurn
	if err := json.Unmarshal([]byte(obj), &wire); err != nil {
		return nil
	}
	return fromWire(wire)
}

// Finish parses whatever accumulated if no complete object ever
// arrived, falling back to treating the text as the spoken reply.
func (p *StreamParser) Finish() (*Turn, error) {
	if p.done {
		return nil, nil
	}
	return Parse(p.scanner.Text())
}
