package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/lumen-home/lumen/internal/command"
	"github.com/lumen-home/lumen/internal/homeassistant"
	"github.com/lumen-home/lumen/internal/orchestrate"
)

// systemPreamble instructs the model to answer in the structured wire
// format the parser expects. Kept as one literal so the contract is
// readable in one place.
const systemPreamble = `You are Lumen, a helpful voice assistant for a smart home.
You control devices, manage reminders, and answer questions.

Always respond with a single JSON object in this exact shape:

{"commands": [{"action": "domain.action", "target": "device or item name", "data": {}}], "nl_response": "what you say to the user", "language": "en"}

Rules:
- "commands" lists the actions to perform, in order. Use an empty list when the user is only chatting or asking a question.
- "nl_response" is spoken aloud. Keep it short and conversational; never mention JSON or actions by name.
- "language" is the two-letter code of the language the user spoke (en, fr, de, it, es, ru).
- Refer to devices by the names in the device list. Do not invent devices.`

// newSystemPrompt builds the per-turn system prompt: the wire-format
// contract, the installed actions, the current device inventory, and
// the clock. It runs per turn so the inventory and time stay current.
func newSystemPrompt(inventory *homeassistant.Inventory, registry *command.Registry) orchestrate.SystemPromptFunc {
	return func(ctx context.Context) string {
		var sb strings.Builder
		sb.WriteString(systemPreamble)

		sb.WriteString("\n\nAvailable actions:\n")
		for _, a := range registry.Actions() {
			fmt.Fprintf(&sb, "  - %s\n", a)
		}

		sb.WriteString("\n")
		if inventory != nil {
			entities, err := inventory.Entities(ctx)
			if err == nil {
				sb.WriteString(homeassistant.PromptFragment(entities))
			} else {
				sb.WriteString("The smart home is currently unreachable; say so if asked to control a device.\n")
			}
		} else {
			sb.WriteString("No smart home is connected; say so if asked to control a device.\n")
		}

		fmt.Fprintf(&sb, "\nCurrent date and time: %s\n", time.Now().Format("Monday, January 2, 2006 at 15:04"))
		return sb.String()
	}
}
