package policy

import "fmt"

const retrievalSystemPromptTemplate = `You are an assistant for %s. Use the provided clinic documents to answer patient phone queries concisely.
If the answer can be found in the documents, rely only on that information and reference the document id.
Respond in a warm, conversational tone suitable for a phone call, using at most two sentences.
Return a developer_note JSON object with keys: used_docs (list of doc ids) and confidence (0-1 float).`

const fallbackSystemPrompt = `You are a clinic assistant. The user asked the question below, but there is no KB evidence available.
Ask a clarifying question if needed; otherwise offer a polite fallback such as connecting to staff.
Keep replies short (<= 20 words) and conversational.`

const promptTemplate = `Context documents:
%s

User transcript:
"%s"

Respond with a valid JSON object using this schema:
{
  "response": "spoken reply (<= 2 sentences)",
  "developer_note": {"used_docs": ["doc_id"...], "confidence": 0.0-1.0}
}`

const (
	noDocumentsContext = "No supporting documents."
	genericPrompt      = "Could you share how I can help with your appointment?"
	nextAvailable      = "the next available specialist"
)

func retrievalSystemPrompt(facility string) string {
	return fmt.Sprintf(retrievalSystemPromptTemplate, facility)
}

func groundedPayload(context, transcript string) string {
	return fmt.Sprintf(promptTemplate, context, transcript)
}
