package protocol

import (
	"strings"

	"github.com/hupe1980/personamesh/core"
)

var formatExamples = []string{
	Format(example("The request needs a goal check before anything else.",
		"Does this line align with our goals: 'Pizza is awesome!'",
		"Example Persona (Goal Evaluator)")),
	Format(example("This step needs the equation solved.",
		"Solve for x: 2x + 3 = 11.",
		"Example Persona (Equation Processor)")),
}

// FormatInstructions explains the three-block response format to a
// coordinating model, including two worked examples.
func FormatInstructions() string {
	var sb strings.Builder
	sb.WriteString("Reply with exactly three Markdown fenced code blocks, in this order. ")
	sb.WriteString(`Put the first under a "Reasoning" header and explain why you chose the next step. `)
	sb.WriteString(`Put the second under a "Message" header; it holds only the text to send to the next persona. `)
	sb.WriteString(`Put the third under a "Recipient" header; it holds the exact name of the persona you delegate to, `)
	sb.WriteString("or null when your message is the final answer.\n\nExamples:\n")
	for _, ex := range formatExamples {
		sb.WriteString(`"""` + "\n")
		sb.WriteString(ex)
		sb.WriteString(`"""` + "\n\n")
	}
	return strings.TrimRight(sb.String(), "\n") + "\n"
}

func example(reasoning, message, recipient string) core.ProposedResponse {
	return core.ProposedResponse{Message: message, Recipient: &recipient, Reasoning: &reasoning}
}
