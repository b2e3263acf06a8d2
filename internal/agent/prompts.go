package agent

// PromptTemplates holds the prompt text for every LLM-calling stage.
// They are plain fmt format strings, supplied at processor construction
// so two processors can carry different prompts without sharing state.
type PromptTemplates struct {
	// ThreadCheck takes (recent context, current message) and expects
	// exactly "NEW" or "CONTINUE" back.
	ThreadCheck string

	// Classify takes (comma-joined categories, message) and expects one
	// category name back.
	Classify string

	// Validate takes (comma-joined required fields, conversation
	// context, message) and expects comma-joined missing field names or
	// "NONE" back.
	Validate string

	// AskInfo takes (user message, comma-joined missing fields) and
	// expects a short conversational ask back.
	AskInfo string
}

// DefaultPromptTemplates returns the stock prompts.
func DefaultPromptTemplates() PromptTemplates {
	return PromptTemplates{
		ThreadCheck: `Determine if the current message starts a NEW conversation topic or continues the EXISTING topic.

Recent conversation context: %s
Current message: %s

Rules:
- If the current message introduces a COMPLETELY DIFFERENT problem/service area, respond "NEW"
- If the current message continues the same issue, provides requested information, or gives more details, respond "CONTINUE"
- Be CONSERVATIVE - when in doubt, choose "CONTINUE"
- Examples of NEW: switching from billing issues to technical support
- Examples of CONTINUE: providing account numbers, describing symptoms, giving error details, clarifying previous statements

Respond with only "NEW" or "CONTINUE":`,

		Classify: `Classify the following user message into ONE of these categories: %s

Instructions:
- Choose the most appropriate category based on the user's intent
- If the message doesn't clearly fit any category, respond with "default"
- Respond with ONLY the category name, nothing else

User message: "%s"

Category:`,

		Validate: `Analyze the conversation to determine which required information is present or missing.

Required fields: %s%s
Current message: "%s"

Instructions:
- Look at the ENTIRE conversation history, not just the current message
- For each required field, determine if ANY message in the conversation contains that information
- List only the MISSING fields (fields not present anywhere in the conversation)
- If all fields are present, respond with "NONE"
- Respond with missing field names separated by commas, or "NONE"

Missing fields:`,

		AskInfo: `You are a helpful assistant in a chat conversation.

The user said: "%s"
You need this missing info: %s

Respond in 1-2 short sentences asking for what you need. Be direct and professional. Just ask for the information you need.

Response:`,
	}
}
