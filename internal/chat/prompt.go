package chat

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/wuwenbin0122/roomchat/internal/models"
)

const maxSummaryRuneLength = 120

// BuildPrompt produces the outbound message list: the system preamble, then
// the transcript turns in order. The newest user turn is already the last
// transcript entry, so it appears exactly once.
//
// When window > 0 only the most recent window turns are sent verbatim and the
// older ones are folded into one system summary message.
func BuildPrompt(preamble string, turns []models.Turn, window int) []models.Message {
	history := make([]models.Message, 0, len(turns))
	for _, turn := range turns {
		if turn.Role == models.RoleSystem {
			continue
		}
		history = append(history, turn.Message())
	}

	summary, preserved := splitHistory(history, window)

	messages := make([]models.Message, 0, 2+len(preserved))
	if preamble = strings.TrimSpace(preamble); preamble != "" {
		messages = append(messages, models.Message{Role: models.RoleSystem, Content: preamble})
	}
	if summary != "" {
		messages = append(messages, models.Message{Role: models.RoleSystem, Content: "Earlier in this conversation:\n" + summary})
	}
	return append(messages, preserved...)
}

func splitHistory(history []models.Message, window int) (string, []models.Message) {
	if window <= 0 || len(history) <= window {
		return "", history
	}

	cutoff := len(history) - window
	return summariseMessages(history[:cutoff]), append([]models.Message(nil), history[cutoff:]...)
}

func summariseMessages(messages []models.Message) string {
	var builder strings.Builder
	index := 1
	for _, msg := range messages {
		content := strings.TrimSpace(msg.Content)
		if content == "" {
			continue
		}
		builder.WriteString(fmt.Sprintf("%d. %s: %s\n", index, labelForRole(msg.Role), truncateRunes(content, maxSummaryRuneLength)))
		index++
	}
	return strings.TrimSpace(builder.String())
}

func labelForRole(role models.Role) string {
	switch role {
	case models.RoleAssistant:
		return "Assistant"
	case models.RoleSystem:
		return "System"
	default:
		return "User"
	}
}

func truncateRunes(input string, max int) string {
	if max <= 0 || utf8.RuneCountInString(input) <= max {
		return input
	}

	var builder strings.Builder
	count := 0
	for _, r := range input {
		if count >= max {
			builder.WriteRune('…')
			break
		}
		builder.WriteRune(r)
		count++
	}
	return builder.String()
}
