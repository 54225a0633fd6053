package generator

import (
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/schema"
)

// NotFoundAnswer is returned without calling the model when no context
// survives retrieval.
const NotFoundAnswer = "The answer was not found in context. None of the indexed documents are relevant enough to this question."

// SystemInstruction constrains the model to the supplied context.
const SystemInstruction = `You are a helpful assistant that answers questions using only the provided context.

Rules:
1. Answer using ONLY the information in the context below.
2. If the context does not contain enough information, reply that the answer is "not found in context".
3. Never make up facts, sources or quotes that are not present in the context.
4. Be concise and cite the [Document N] markers you relied on when useful.`

// Role identifies the author of a conversation turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one message of a conversation. History is owned by the caller and
// never modified.
type Turn struct {
	Role    Role   `json:"role" validate:"required,oneof=user assistant"`
	Content string `json:"content" validate:"required"`
}

// BuildMessages assembles the prompt: system instruction, context, history
// turns in order, then the question.
func BuildMessages(question, context string, history []Turn) ([]llms.MessageContent, error) {
	messages := make([]llms.MessageContent, 0, len(history)+2)

	var system strings.Builder
	system.WriteString(SystemInstruction)
	system.WriteString("\n\nContext information:\n")
	system.WriteString(context)
	messages = append(messages, llms.TextParts(schema.ChatMessageTypeSystem, system.String()))

	for i, turn := range history {
		var role schema.ChatMessageType
		switch turn.Role {
		case RoleUser:
			role = schema.ChatMessageTypeHuman
		case RoleAssistant:
			role = schema.ChatMessageTypeAI
		default:
			return nil, fmt.Errorf("%w: turn %d has role %q", ErrInvalidHistory, i, turn.Role)
		}
		messages = append(messages, llms.TextParts(role, turn.Content))
	}

	messages = append(messages, llms.TextParts(schema.ChatMessageTypeHuman,
		"Question: "+question+"\n\nAnswer the question based on the context above. "+
			"If the context does not contain the information needed, say it was not found in context."))
	return messages, nil
}
