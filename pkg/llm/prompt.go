package llm

import "github.com/harun/oni/pkg/session"

// DefaultSystemPrompt is used when no system prompt is configured.
const DefaultSystemPrompt = "You are a helpful assistant."

// BuildPrompt assembles the messages sent to the model: the system prompt, then the transcript in
// order, then the new user input. An empty system prompt is omitted. The transcript is not modified.
func BuildPrompt(systemPrompt string, transcript session.Transcript, input string) []session.Message {
	messages := make([]session.Message, 0, len(transcript)+2)
	if systemPrompt != "" {
		messages = append(messages, session.Message{Role: session.RoleSystem, Content: systemPrompt})
	}
	messages = append(messages, transcript...)
	return append(messages, session.Message{Role: session.RoleUser, Content: input})
}
