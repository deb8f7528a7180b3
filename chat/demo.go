package chat

// DemoConversation returns the canned conversation used by the "create
// conversation" action on the agent surface.
func DemoConversation() []Message {
	return []Message{
		{Role: RoleClient, Text: "Hey how's it going, I was hoping to get some help"},
		{Role: RoleBot, Text: "Sure what can I help you with?"},
		{Role: RoleClient, Text: "I was hoping you can help me with watsonx.ai?"},
		{Role: RoleBot, Text: "Not an issue, what's the question?"},
		{Role: RoleClient, Text: "Well, what is watsonx.ai?"},
	}
}
