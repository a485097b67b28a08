package model

import "time"

// Content is a durable piece of source material identified by its
// application-facing business id.
type Content struct {
	ID            int64
	BusinessID    string
	SourcePayload Payload
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// TranslationContext is a deduplicated context payload shared by translations.
type TranslationContext struct {
	ID             int64
	ContextHash    string
	ContextPayload Payload
	CreatedAt      time.Time
}

// Translation is one (content, context, language) translation row.
type Translation struct {
	ID                 int64
	ContentID          int64
	ContextID          *int64
	LangCode           string
	SourceLang         string
	Status             TranslationStatus
	TranslationPayload Payload
	Engine             string
	EngineVersion      string
	Error              string
	CreatedAt          time.Time
	LastUpdatedAt      time.Time
}

// Job marks content as actively requested; its timestamp drives GC retention.
type Job struct {
	ID              int64
	ContentID       int64
	LastRequestedAt time.Time
}

// DeadLetterEntry is an append-only archive record for a task that exhausted
// its retries. The referenced translation row stays in the main table.
type DeadLetterEntry struct {
	ID               int64
	TranslationID    *int64
	OriginalPayload  Payload
	ContextPayload   Payload
	TargetLangCode   string
	LastErrorMessage string
	FailedAt         time.Time
	EngineName       string
	EngineVersion    string
}

// AuditLogEntry records a mutation for after-the-fact inspection.
type AuditLogEntry struct {
	ID        int64
	EventID   string
	EventType string
	TableName string
	RecordID  string
	Timestamp time.Time
	Details   string
}
