// Package prompt appends task-specific formatting instructions to a user's
// raw prompt before it goes upstream.
package prompt

import "github.com/projectmitra/mitra-assist/internal/provider"

// chatSuffix asks for a casual tone and, when ideas are involved, the JSON
// shape normalize.TryParseIdeas understands.
const chatSuffix = `

Please respond as a friendly chatbot assistant speaking casual English.
If you provide project ideas, list at most 5 project titles or names without any markdown, special characters (*, #) or extra formatting.
Do not use any bullet points or list symbols.
If you can, respond with JSON in this format when you provide ideas:

{
  "ideas": ["Idea 1", "Idea 2", "Idea 3"]
}

Otherwise, just reply normally in plain text.`

// codeGenSuffix asks for the layout normalize.ExtractCode splits on.
const codeGenSuffix = `

Please provide a brief explanation first, then the code inside a single markdown code block.`

// Build returns raw with the boilerplate for kind appended. Unknown kinds
// get no boilerplate.
func Build(raw string, kind provider.TaskKind) string {
	switch kind {
	case provider.TaskChat:
		return raw + chatSuffix
	case provider.TaskCodeGen:
		return raw + codeGenSuffix
	default:
		return raw
	}
}
