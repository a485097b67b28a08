// Package repository implements the persistence contract: durable storage of
// content, contexts, translations, jobs and the dead-letter queue, with
// atomic task claiming across concurrent workers.
package repository

import (
	"context"
	"errors"
	"time"

	"transhub/internal/model"
)

var (
	// ErrStorageUnavailable reports that the backing database cannot be
	// reached. Fatal at connect time.
	ErrStorageUnavailable = errors.New("storage unavailable")
	// ErrInvalidPayload reports a source payload without a text field.
	ErrInvalidPayload = errors.New("payload lacks text field")
)

// Handler is the storage contract the coordinator and processing policy
// depend on. Every method forms one transaction unless composed inside InTx.
type Handler interface {
	Connect(ctx context.Context) error
	Close() error

	// UpsertContent creates or updates the content row for businessID and
	// returns its id. An existing row is only rewritten when the payload
	// actually changed.
	UpsertContent(ctx context.Context, businessID string, payload model.Payload) (int64, error)

	// EnsureContext deduplicates a context payload by hash. A nil or empty
	// payload maps to (nil, model.GlobalContextSentinel).
	EnsureContext(ctx context.Context, payload model.Payload) (*int64, string, error)

	// EnsurePendingTranslations inserts a PENDING row per target language,
	// reopening FAILED rows (or, with force, any row) in place. Returns the
	// number of rows newly inserted or reopened.
	EnsurePendingTranslations(ctx context.Context, contentID int64, contextID *int64, targetLangs []string, sourceLang string, force bool) (int64, error)

	// TouchJob creates or refreshes the job row driving GC retention.
	TouchJob(ctx context.Context, contentID int64) error

	// ClaimPendingBatch atomically flips up to batchSize rows for langCode
	// from PENDING (and FAILED when includeFailed) to TRANSLATING and
	// returns them. Two concurrent workers never receive the same row.
	ClaimPendingBatch(ctx context.Context, langCode string, batchSize int, includeFailed bool) ([]model.ContentItem, error)

	// SaveResults persists terminal outcomes for previously claimed rows in
	// one batch.
	SaveResults(ctx context.Context, results []model.TranslationResult) error

	// MoveToDLQ appends archive entries for tasks that exhausted retries.
	MoveToDLQ(ctx context.Context, entries []model.DeadLetterEntry) error

	// GetTranslation looks up the stored translation for a business id,
	// language and context. Returns (nil, nil) when absent.
	GetTranslation(ctx context.Context, businessID, langCode string, contextPayload model.Payload) (*model.TranslationResult, error)

	// GarbageCollect prunes jobs older than the retention window, content
	// rows left without a live job, and contexts no surviving translation
	// references. With dryRun the would-be counts are reported and nothing
	// is mutated.
	GarbageCollect(ctx context.Context, retentionDays int, dryRun bool) (model.GCReport, error)

	// ResetStaleTranslating returns TRANSLATING rows older than the watchdog
	// threshold to PENDING so crashed workers do not strand tasks.
	ResetStaleTranslating(ctx context.Context, olderThan time.Duration) (int64, error)

	// GetStats counts translation rows per status.
	GetStats(ctx context.Context) (model.Stats, error)

	// InTx runs fn with a Handler whose operations share one transaction.
	InTx(ctx context.Context, fn func(Handler) error) error
}
