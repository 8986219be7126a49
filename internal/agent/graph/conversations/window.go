package conversations

import (
	"strings"

	"github.com/cloudwego/eino/schema"
)

// RecentTurns returns copies of the pointers for the last maxTurns turns. A
// turn starts at a user message; system and tool messages are dropped.
func RecentTurns(messages []*schema.Message, maxTurns int) []*schema.Message {
	if maxTurns <= 0 {
		return []*schema.Message{}
	}
	start := len(messages)
	turns := 0
	for i := len(messages) - 1; i >= 0; i-- {
		m := messages[i]
		if m == nil {
			continue
		}
		start = i
		if m.Role == schema.User {
			turns++
			if turns == maxTurns {
				break
			}
		}
	}

	result := make([]*schema.Message, 0, len(messages)-start)
	for _, m := range messages[start:] {
		if m == nil || (m.Role != schema.User && m.Role != schema.Assistant) {
			continue
		}
		result = append(result, m)
	}
	return result
}

// RenderTurns formats messages as "User: ..." / "Assistant: ..." lines for
// prompts. Empty messages are skipped.
func RenderTurns(messages []*schema.Message) string {
	var b strings.Builder
	for _, msg := range messages {
		if msg == nil || strings.TrimSpace(msg.Content) == "" {
			continue
		}
		switch msg.Role {
		case schema.User:
			b.WriteString("User: ")
		case schema.Assistant:
			b.WriteString("Assistant: ")
		default:
			continue
		}
		b.WriteString(strings.TrimSpace(msg.Content))
		b.WriteByte('\n')
	}
	return strings.TrimRight(b.String(), "\n")
}

// PriorTurns renders the window that precedes the latest user message.
func PriorTurns(messages []*schema.Message, maxTurns int) string {
	last := len(messages)
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i] != nil && messages[i].Role == schema.User {
			last = i
			break
		}
	}
	return RenderTurns(RecentTurns(messages[:last], maxTurns))
}
