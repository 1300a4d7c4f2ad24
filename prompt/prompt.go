// Package prompt builds the single text prompt sent to the model from the
// system instructions, retrieved past turns and the current user message.
package prompt

import (
	"strings"

	"github.com/becomeliminal/nim-recall/memory"
)

const (
	// ContextHeader opens the block of retrieved turns.
	ContextHeader = "Relevant past conversation snippets (most relevant first):"
	// Separator follows the header and every retrieved turn, the last one
	// included.
	Separator = "---"
	// Cue ends the prompt; the model's continuation is the bot's reply.
	Cue = "Bot:"
)

// DefaultSystemPrompt is the fixed instruction preamble.
const DefaultSystemPrompt = "You are a helpful and friendly conversational AI. " +
	"Your goal is to assist the user based on the current conversation and any relevant past snippets provided. " +
	"If past snippets are given, use them to remember details like names, preferences, or previous topics. " +
	"If no relevant past snippets are provided, or if they don't seem relevant to the current question, " +
	"answer based on the current question alone."

// FormatContext renders retrieved turns in the order given, which is the
// index's similarity order. No turns renders as "", so the caller can omit
// the block entirely.
func FormatContext(turns []memory.Turn) string {
	if len(turns) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString(ContextHeader)
	b.WriteString("\n")
	b.WriteString(Separator)
	b.WriteString("\n")
	for _, t := range turns {
		b.WriteString("User: ")
		b.WriteString(t.User)
		b.WriteString("\nBot: ")
		b.WriteString(t.Bot)
		b.WriteString("\n")
		b.WriteString(Separator)
		b.WriteString("\n")
	}
	return b.String()
}

// Assemble joins the system instructions, the context block (when not
// empty) and the current user message, ending with Cue.
func Assemble(system, contextBlock, userText string) string {
	var b strings.Builder
	b.WriteString(system)
	b.WriteString("\n\n")
	if contextBlock != "" {
		b.WriteString(contextBlock)
		b.WriteString("\n")
	}
	b.WriteString("Current conversation:\nUser: ")
	b.WriteString(userText)
	b.WriteString("\n")
	b.WriteString(Cue)
	return b.String()
}
