package ai

// GenerationRequest is the input to a Generator.
type GenerationRequest struct {
	// Question is the user's question as asked.
	Question string

	// Context is the assembled excerpt of retrieved records, each block
	// headed by its document id.
	Context string

	// DocumentIDs lists the record ids present in Context, in order.
	DocumentIDs []string
}

// GeneratedAnswer is the parsed output of a Generator.
type GeneratedAnswer struct {
	// Answer is nil when the model could not answer from the context.
	Answer *string

	// UsedDocuments lists the record ids the model says it relied on.
	UsedDocuments []string

	// Confidence is the model's self-reported "low", "medium" or "high", if any.
	Confidence string
}
