// Package contextwin manages adaptive prompt context budgets. Each
// conversation carries a word budget for how much history goes into
// the prompt: slow model turns shrink it multiplicatively, successful
// turns recover it additively, and it always stays within configured
// bounds.
package contextwin

import (
	"log/slog"
	"math"
	"strings"
	"sync"
)

// Message is one prior exchange entry included in a prompt.
type Message struct {
	Role    string
	Content string
}

// Manager tracks per-conversation word budgets.
type Manager struct {
	initial      int
	floor        int
	ceiling      int
	factor       float64
	recoveryStep int
	logger       *slog.Logger

	mu      sync.Mutex
	budgets map[string]int
}

// NewManager creates a budget manager. Bounds are sanitized so the
// manager never produces a budget outside [floor, ceiling].
func NewManager(initial, floor, ceiling int, factor float64, recoveryStep int, logger *slog.Logger) *Manager {
	if floor < 1 {
		floor = 1
	}
	if ceiling < floor {
		ceiling = floor
	}
	if initial < floor {
		initial = floor
	}
	if initial > ceiling {
		initial = ceiling
	}
	if factor <= 0 || factor >= 1 {
		factor = 0.7
	}
	if recoveryStep < 1 {
		recoveryStep = 50
	}
	return &Manager{
		initial:      initial,
		floor:        floor,
		ceiling:      ceiling,
		factor:       factor,
		recoveryStep: recoveryStep,
		logger:       logger,
		budgets:      map[string]int{},
	}
}

// Budget returns the current word budget for a conversation.
func (m *Manager) Budget(conversationID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if b, ok := m.budgets[conversationID]; ok {
		return b
	}
	m.budgets[conversationID] = m.initial
	return m.initial
}

// Shrink cuts the budget after a slow or timed-out turn and returns
// the new value. Repeated shrinks converge on the floor.
func (m *Manager) Shrink(conversationID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	old := m.initial
	if b, ok := m.budgets[conversationID]; ok {
		old = b
	}
	next := int(math.Round(float64(old) * m.factor))
	if next < m.floor {
		next = m.floor
	}
	m.budgets[conversationID] = next

	if m.logger != nil && next != old {
		m.logger.Info("context budget reduced", "conversation", conversationID, "from", old, "to", next)
	}
	return next
}

// Grow restores budget after a fast successful turn and returns the
// new value. Recovery is additive so one good turn does not undo the
// backoff a struggling model earned.
func (m *Manager) Grow(conversationID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	old := m.initial
	if b, ok := m.budgets[conversationID]; ok {
		old = b
	}
	next := old + m.recoveryStep
	if next > m.ceiling {
		next = m.ceiling
	}
	m.budgets[conversationID] = next

	if m.logger != nil && next != old {
		m.logger.Debug("context budget recovered", "conversation", conversationID, "from", old, "to", next)
	}
	return next
}

// Forget drops a conversation's budget state.
func (m *Manager) Forget(conversationID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.budgets, conversationID)
}

// BuildPrompt assembles the model prompt: system text, then at most
// budget words of history, then the current utterance. History is
// chosen newest-first so recent turns survive a tight budget, but
// emitted in chronological order.
func BuildPrompt(system string, history []Message, budget int, utterance string) string {
	var sb strings.Builder
	if system != "" {
		sb.WriteString(system)
		sb.WriteString("\n\n")
	}

	included := selectHistory(history, budget)
	if len(included) > 0 {
		sb.WriteString("Conversation so far:\n")
		for _, msg := range included {
			sb.WriteString(msg.Role)
			sb.WriteString(": ")
			sb.WriteString(msg.Content)
			sb.WriteString("\n")
		}
		sb.WriteString("\n")
	}

	sb.WriteString("user: ")
	sb.WriteString(utterance)
	return sb.String()
}

// selectHistory returns the most recent messages whose combined word
// count fits the budget, in chronological order. If even the newest
// message alone exceeds the budget, its last budget words are kept so
// the prompt is never history-free.
func selectHistory(history []Message, budget int) []Message {
	if len(history) == 0 || budget <= 0 {
		return nil
	}

	var included []Message
	remaining := budget
	for i := len(history) - 1; i >= 0; i-- {
		words := len(strings.Fields(history[i].Content))
		if words > remaining {
			break
		}
		included = append(included, history[i])
		remaining -= words
	}

	if len(included) == 0 {
		newest := history[len(history)-1]
		fields := strings.Fields(newest.Content)
		if len(fields) > budget {
			newest.Content = strings.Join(fields[len(fields)-budget:], " ")
		}
		return []Message{newest}
	}

	// Reverse back to chronological order.
	for i, j := 0, len(included)-1; i < j; i, j = i+1, j-1 {
		included[i], included[j] = included[j], included[i]
	}
	return included
}

// CountWords reports the word count of the history portion a budget
// would admit.
func CountWords(messages []Message) int {
	total := 0
	for _, m := range messages {
		total += len(strings.Fields(m.Content))
	}
	return total
}
