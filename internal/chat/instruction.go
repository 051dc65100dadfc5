package chat

import "strings"

// DefaultSubject is what the assistant claims expertise in.
const DefaultSubject = "the Cornell Sustainability Office (CSO)"

const instructionTemplate = `You are an expert on {subject}.

Strictly using your given context regarding {subject}, answer the question clearly.
NEVER guess or infer information, i.e. be upfront if you cannot answer a question.
All information must come from the provided context.

If the user greets you, simply greet them back and briefly introduce yourself.

AVOID saying the word 'context' in your responses. Make it appear as if
the information from the provided context is inherently part of your knowledge base.`

// SystemInstruction renders the fixed system instruction for subject.
func SystemInstruction(subject string) string {
	if strings.TrimSpace(subject) == "" {
		subject = DefaultSubject
	}
	return strings.ReplaceAll(instructionTemplate, "{subject}", subject)
}
