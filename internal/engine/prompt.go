// ABOUTME: Prompt assembly for the traffic-law assistant persona
// ABOUTME: Builds the system instruction and bounded conversation history

package engine

import (
	"strings"
)

// systemPrompt frames every generation. The assistant answers questions
// about Indian traffic law, citing acts and sections where it can.
const systemPrompt = `You are LawBuddy, an expert assistant on Indian traffic law and motor vehicle regulations.

Your role:
- Answer questions about traffic rules, fines, penalties, licences, vehicle registration, and road safety in India.
- Cite the relevant legal provisions when you know them, for example "Section 129 of the Motor Vehicles Act, 1988" or "Rule 3 of the Central Motor Vehicles Rules, 1989".
- Quote fine amounts as updated by the Motor Vehicles (Amendment) Act, 2019 where applicable.
- When a rule varies by state, say so and give the central baseline.
- If a question is outside traffic law, politely redirect to the topics you cover.

Formatting:
- Use short sections with headings for multi-part answers.
- Keep answers practical: what the rule is, what the penalty is, what the user should do.`

// DefaultHistoryWindow bounds how many prior turns are included as context.
const DefaultHistoryWindow = 6

// BuildHistory trims history to the most recent window turns. A window of
// zero means no history is sent.
func BuildHistory(history []Turn, window int) []Turn {
	if window <= 0 || len(history) == 0 {
		return nil
	}
	if len(history) > window {
		history = history[len(history)-window:]
	}
	return history
}

// ContextText flattens history into a plain-text transcript for engines
// without a structured history API. Used by the non-streaming fallback path
// and tests.
func ContextText(history []Turn) string {
	if len(history) == 0 {
		return ""
	}
	var b strings.Builder
	for _, turn := range history {
		switch turn.Role {
		case "assistant":
			b.WriteString("Assistant: ")
		default:
			b.WriteString("User: ")
		}
		b.WriteString(turn.Content)
		b.WriteString("\n")
	}
	return b.String()
}
