package model

// GlobalContextSentinel is the context hash recorded for requests made
// without a context payload.
const GlobalContextSentinel = "__GLOBAL__"

// EngineError is a typed failure returned by an engine. It is a value, not a
// raised error: engines report expected failure modes through it.
type EngineError struct {
	Message   string
	Retryable bool
}

func (e *EngineError) Error() string {
	return e.Message
}

// EngineResult is the outcome of translating one text. Exactly one of
// TranslatedText or Err is meaningful.
type EngineResult struct {
	TranslatedText  string
	FromEngineCache bool
	Err             *EngineError
}

// EngineSuccess builds a successful result.
func EngineSuccess(text string) EngineResult {
	return EngineResult{TranslatedText: text}
}

// EngineFailure builds a typed error result.
func EngineFailure(message string, retryable bool) EngineResult {
	return EngineResult{Err: &EngineError{Message: message, Retryable: retryable}}
}

// OK reports whether the result is a success.
func (r EngineResult) OK() bool {
	return r.Err == nil
}

// ContentItem is one claimed translation task handed from the persistence
// layer to the coordinator. The row behind TranslationID is already in
// TRANSLATING state when the item is returned.
type ContentItem struct {
	ContentID      int64
	BusinessID     string
	SourcePayload  Payload
	ContextHash    string
	ContextPayload Payload
	TranslationID  int64
	TargetLang     string
	SourceLang     string
}

// Text is the source text of the task.
func (c ContentItem) Text() string {
	return c.SourcePayload.Text()
}

// TranslationResult is the caller-facing outcome of one translation task.
type TranslationResult struct {
	TranslationID      int64
	BusinessID         string
	OriginalText       string
	TranslatedText     *string
	TranslationPayload Payload
	TargetLang         string
	SourceLang         string
	Status             TranslationStatus
	Engine             string
	EngineVersion      string
	Error              string
	FromCache          bool
	ContextHash        string
}

// GCReport holds the row counts removed (or, on a dry run, removable) by one
// garbage collection pass.
type GCReport struct {
	DeletedJobs         int64
	DeletedContent      int64
	DeletedTranslations int64
	DeletedContexts     int64
}

// Stats is a per-status translation row count snapshot.
type Stats struct {
	Pending     int64
	Translating int64
	Translated  int64
	Failed      int64
	Approved    int64
}
