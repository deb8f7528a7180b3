package chat

import (
	"fmt"
	"strings"
)

// RAGPrompt builds a retrieval-augmented prompt from a question and the
// passages returned by the retriever.
func RAGPrompt(question string, passages []string) string {
	context := strings.Join(passages, "\n\n ")
	return fmt.Sprintf(
		"Answer the question using only the context provided. If the context does not contain the answer, say so.\n\nContext:\n%s\n\nQuestion: %s\nAnswer:",
		context, question,
	)
}

// SummaryPrompt asks the model for a summary of the whole conversation.
func SummaryPrompt(msgs []Message) string {
	return "Summarise this conversation " + strings.Join(AllTexts(msgs), " ")
}

// InterpretConversationQuery phrases the whole client side of the conversation
// as a single retrieval query.
func InterpretConversationQuery(msgs []Message) string {
	return "Can you interpret this client conversation " + strings.Join(ClientTexts(msgs), " ")
}
