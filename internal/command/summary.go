package command

import (
	"fmt"
	"strings"
)

// Summarize produces the final spoken reply for a turn. The model's
// reply is kept as-is when everything succeeded; otherwise every
// failed or partial intent is mentioned so the user is never told a
// thing happened when it did not.
func Summarize(reply string, results []ExecutionResult) string {
	var problems []string
	for _, r := range results {
		if !r.Failed() {
			continue
		}
		name := r.Intent.Action
		if r.Intent.Target != "" {
			name = fmt.Sprintf("%s for %s", r.Intent.Action, r.Intent.Target)
		}
		switch r.Status {
		case StatusPartial:
			problems = append(problems, fmt.Sprintf("%s only partly worked (%s)", name, r.Error))
		default:
			problems = append(problems, fmt.Sprintf("%s failed (%s)", name, r.Error))
		}
	}

	if len(problems) == 0 {
		return reply
	}

	caveat := "I ran into trouble: " + strings.Join(problems, "; ") + "."
	if strings.TrimSpace(reply) == "" {
		return caveat
	}
	return reply + " " + caveat
}
