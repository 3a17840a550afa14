package usecase

import (
	"strings"

	"line-chat-agent/internal/domain"
)

const systemInstruction = "你是一個友善的聊天助理。無論使用者使用哪種語言，請一律只使用繁體中文回答。"

var newlineStripper = strings.NewReplacer("\r", "", "\n", "")

// buildPromptMessages prefixes the conversation with the fixed system
// instruction. history must already end with the current user record.
func buildPromptMessages(history []domain.Record) []domain.Record {
	messages := make([]domain.Record, 0, len(history)+1)
	messages = append(messages, domain.Record{Role: domain.RoleSystem, Content: systemInstruction})
	messages = append(messages, history...)
	return messages
}

// sanitizeAnswer removes line breaks from the completion text.
func sanitizeAnswer(raw string) string {
	return strings.TrimSpace(newlineStripper.Replace(raw))
}
