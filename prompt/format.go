package prompt

import "strings"

// FormatForProvider はメッセージリストをプロバイダの入力形式に合わせる
// chat形式を持たないプロバイダでは1本の連結プロンプトに畳み、
// それ以外はそのまま返す
func FormatForProvider(provider string, messages []Message) ([]Message, string) {
	if !singlePromptProviders[provider] {
		return messages, ""
	}

	var sb strings.Builder
	for _, msg := range messages {
		switch msg.Role {
		case RoleSystem:
			sb.WriteString(msg.Content)
		case RoleUser:
			sb.WriteString("User: ")
			sb.WriteString(msg.Content)
		case RoleAssistant:
			sb.WriteString("Assistant: ")
			sb.WriteString(msg.Content)
		default:
			sb.WriteString(msg.Content)
		}
		sb.WriteString("\n\n")
	}
	sb.WriteString("Assistant: ")

	return nil, sb.String()
}
