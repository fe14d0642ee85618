package chat

import (
	"fmt"
	"strings"

	"github.com/buildmaster/buildmaster/internal/conversation"
	"github.com/buildmaster/buildmaster/internal/llm"
	"github.com/buildmaster/buildmaster/internal/retrieval"
)

// buildContext renders retrieved snippets as a numbered knowledge block.
// No snippets yields the empty string, and the system prompt is then used
// unaugmented.
func buildContext(snippets []retrieval.Snippet) string {
	if len(snippets) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString("Relevant knowledge base entries:\n")
	for i, s := range snippets {
		fmt.Fprintf(&b, "%d. [score %.2f] %s\n", i+1, s.Score, s.Content)
	}
	return b.String()
}

// buildRequest assembles the generation request: persona (plus knowledge
// context when present), the trailing window of prior messages, and the
// new user message.
func buildRequest(contextBlock string, history []conversation.Message, window int, userMsg string) llm.Request {
	system := systemPrompt
	if contextBlock != "" {
		system += "\n\nRelevant knowledge:\n" + contextBlock
	}

	if window > 0 && len(history) > window {
		history = history[len(history)-window:]
	}

	msgs := make([]llm.Message, 0, len(history))
	for _, m := range history {
		var role string
		switch m.Role {
		case conversation.RoleUser:
			role = llm.RoleUser
		case conversation.RoleAssistant:
			role = llm.RoleAssistant
		default:
			// Only dialogue turns replay; anything else in the log is
			// not part of the exchange.
			continue
		}
		msgs = append(msgs, llm.Message{Role: role, Content: m.Content})
	}

	return llm.Request{
		System:  system,
		History: msgs,
		Prompt:  userMsg,
	}
}
