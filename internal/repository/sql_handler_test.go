package repository

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"transhub/internal/model"
)

func newTestHandler(t *testing.T) *SQLHandler {
	t.Helper()
	h := NewSQLHandler("sqlite://"+filepath.Join(t.TempDir(), "transhub.db"), true)
	require.NoError(t, h.Connect(context.Background()))
	t.Cleanup(func() { _ = h.Close() })
	return h
}

// seedTask registers content with pending translations the way the
// coordinator's request path does, and returns the content id.
func seedTask(t *testing.T, h *SQLHandler, businessID, text string, contextPayload model.Payload, langs ...string) int64 {
	t.Helper()
	ctx := context.Background()

	contentID, err := h.UpsertContent(ctx, businessID, model.TextPayload(text))
	require.NoError(t, err)
	contextID, _, err := h.EnsureContext(ctx, contextPayload)
	require.NoError(t, err)
	_, err = h.EnsurePendingTranslations(ctx, contentID, contextID, langs, "", false)
	require.NoError(t, err)
	require.NoError(t, h.TouchJob(ctx, contentID))
	return contentID
}

func TestUpsertContent_Idempotent(t *testing.T) {
	h := newTestHandler(t)
	ctx := context.Background()

	id1, err := h.UpsertContent(ctx, "ui.greeting", model.TextPayload("Hello"))
	require.NoError(t, err)
	id2, err := h.UpsertContent(ctx, "ui.greeting", model.TextPayload("Hello"))
	require.NoError(t, err)
	require.Equal(t, id1, id2)

	// Changed payload rewrites the row but keeps the id.
	id3, err := h.UpsertContent(ctx, "ui.greeting", model.TextPayload("Hello!"))
	require.NoError(t, err)
	require.Equal(t, id1, id3)

	var payloadJSON string
	require.NoError(t, h.conn.QueryRowx(`SELECT source_payload_json FROM th_content WHERE id = ?`, id1).Scan(&payloadJSON))
	require.Contains(t, payloadJSON, "Hello!")
}

func TestUpsertContent_RejectsMissingText(t *testing.T) {
	h := newTestHandler(t)

	_, err := h.UpsertContent(context.Background(), "ui.empty", model.Payload{"note": "no text"})
	require.ErrorIs(t, err, ErrInvalidPayload)
}

func TestEnsureContext_Deduplicates(t *testing.T) {
	h := newTestHandler(t)
	ctx := context.Background()

	id1, hash1, err := h.EnsureContext(ctx, model.Payload{"domain": "checkout", "tone": "formal"})
	require.NoError(t, err)
	require.NotNil(t, id1)

	// Key order must not matter.
	id2, hash2, err := h.EnsureContext(ctx, model.Payload{"tone": "formal", "domain": "checkout"})
	require.NoError(t, err)
	require.Equal(t, *id1, *id2)
	require.Equal(t, hash1, hash2)

	id3, _, err := h.EnsureContext(ctx, model.Payload{"domain": "marketing"})
	require.NoError(t, err)
	require.NotEqual(t, *id1, *id3)
}

func TestEnsureContext_GlobalSentinel(t *testing.T) {
	h := newTestHandler(t)
	ctx := context.Background()

	id, hash, err := h.EnsureContext(ctx, nil)
	require.NoError(t, err)
	require.Nil(t, id)
	require.Equal(t, model.GlobalContextSentinel, hash)

	// An empty payload is the same as no payload at all.
	id, hash, err = h.EnsureContext(ctx, model.Payload{})
	require.NoError(t, err)
	require.Nil(t, id)
	require.Equal(t, model.GlobalContextSentinel, hash)
}

func TestEnsurePendingTranslations_Idempotent(t *testing.T) {
	h := newTestHandler(t)
	ctx := context.Background()

	contentID, err := h.UpsertContent(ctx, "ui.save", model.TextPayload("Save"))
	require.NoError(t, err)

	n, err := h.EnsurePendingTranslations(ctx, contentID, nil, []string{"fr", "de"}, "", false)
	require.NoError(t, err)
	require.EqualValues(t, 2, n)

	// Repeating the request changes nothing while the rows are PENDING.
	n, err = h.EnsurePendingTranslations(ctx, contentID, nil, []string{"fr", "de"}, "", false)
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestEnsurePendingTranslations_ReopensFailed(t *testing.T) {
	h := newTestHandler(t)
	ctx := context.Background()

	seedTask(t, h, "ui.retry", "Retry", nil, "fr")
	items, err := h.ClaimPendingBatch(ctx, "fr", 10, false)
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.NoError(t, h.SaveResults(ctx, []model.TranslationResult{{
		TranslationID: items[0].TranslationID,
		Status:        model.StatusFailed,
		Error:         "engine down",
	}}))

	n, err := h.EnsurePendingTranslations(ctx, items[0].ContentID, nil, []string{"fr"}, "", false)
	require.NoError(t, err)
	require.EqualValues(t, 1, n)

	stats, err := h.GetStats(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 1, stats.Pending)
	require.Zero(t, stats.Failed)
}

func TestEnsurePendingTranslations_ForceReopensTranslated(t *testing.T) {
	h := newTestHandler(t)
	ctx := context.Background()

	seedTask(t, h, "ui.force", "Force", nil, "fr")
	items, err := h.ClaimPendingBatch(ctx, "fr", 10, false)
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.NoError(t, h.SaveResults(ctx, []model.TranslationResult{{
		TranslationID:      items[0].TranslationID,
		Status:             model.StatusTranslated,
		TranslationPayload: model.TextPayload("[fr]Force"),
		Engine:             "debug",
	}}))

	// Without force a finished row stays untouched.
	n, err := h.EnsurePendingTranslations(ctx, items[0].ContentID, nil, []string{"fr"}, "", false)
	require.NoError(t, err)
	require.Zero(t, n)

	n, err = h.EnsurePendingTranslations(ctx, items[0].ContentID, nil, []string{"fr"}, "", true)
	require.NoError(t, err)
	require.EqualValues(t, 1, n)

	stored, err := h.GetTranslation(ctx, "ui.force", "fr", nil)
	require.NoError(t, err)
	require.NotNil(t, stored)
	require.Equal(t, model.StatusPending, stored.Status)
	require.Nil(t, stored.TranslatedText)
}

func TestClaimPendingBatch_MarksTranslating(t *testing.T) {
	h := newTestHandler(t)
	ctx := context.Background()

	seedTask(t, h, "ui.hello", "Hello", model.Payload{"domain": "ui"}, "fr", "de")

	items, err := h.ClaimPendingBatch(ctx, "fr", 10, false)
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.Equal(t, "ui.hello", items[0].BusinessID)
	require.Equal(t, "Hello", items[0].Text())
	require.Equal(t, "fr", items[0].TargetLang)
	require.Equal(t, model.Payload{"domain": "ui"}, items[0].ContextPayload)
	require.NotEqual(t, model.GlobalContextSentinel, items[0].ContextHash)

	// A second claim for the same language finds nothing.
	again, err := h.ClaimPendingBatch(ctx, "fr", 10, false)
	require.NoError(t, err)
	require.Empty(t, again)

	stats, err := h.GetStats(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 1, stats.Translating)
	require.EqualValues(t, 1, stats.Pending) // the de row
}

func TestClaimPendingBatch_IncludeFailed(t *testing.T) {
	h := newTestHandler(t)
	ctx := context.Background()

	seedTask(t, h, "ui.flaky", "Flaky", nil, "fr")
	items, err := h.ClaimPendingBatch(ctx, "fr", 10, false)
	require.NoError(t, err)
	require.NoError(t, h.SaveResults(ctx, []model.TranslationResult{{
		TranslationID: items[0].TranslationID,
		Status:        model.StatusFailed,
		Error:         "boom",
	}}))

	items, err = h.ClaimPendingBatch(ctx, "fr", 10, false)
	require.NoError(t, err)
	require.Empty(t, items)

	items, err = h.ClaimPendingBatch(ctx, "fr", 10, true)
	require.NoError(t, err)
	require.Len(t, items, 1)
}

func TestClaimPendingBatch_NoDoubleClaim(t *testing.T) {
	h := newTestHandler(t)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		seedTask(t, h, "ui.item."+string(rune('a'+i)), "Item", nil, "fr")
	}

	var (
		mu      sync.Mutex
		claimed []int64
		wg      sync.WaitGroup
	)
	errs := make(chan error, 4)
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				items, err := h.ClaimPendingBatch(ctx, "fr", 3, false)
				if err != nil {
					errs <- err
					return
				}
				if len(items) == 0 {
					return
				}
				mu.Lock()
				for _, it := range items {
					claimed = append(claimed, it.TranslationID)
				}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	require.Len(t, claimed, 10)
	seen := map[int64]bool{}
	for _, id := range claimed {
		require.False(t, seen[id], "translation %d claimed twice", id)
		seen[id] = true
	}
}

func TestSaveResults_And_GetTranslation(t *testing.T) {
	h := newTestHandler(t)
	ctx := context.Background()

	seedTask(t, h, "ui.bye", "Goodbye", nil, "fr")
	items, err := h.ClaimPendingBatch(ctx, "fr", 10, false)
	require.NoError(t, err)
	require.Len(t, items, 1)

	require.NoError(t, h.SaveResults(ctx, []model.TranslationResult{{
		TranslationID:      items[0].TranslationID,
		Status:             model.StatusTranslated,
		TranslationPayload: model.TextPayload("[fr]Goodbye"),
		Engine:             "debug",
		EngineVersion:      "1.0.0",
	}}))

	stored, err := h.GetTranslation(ctx, "ui.bye", "fr", nil)
	require.NoError(t, err)
	require.NotNil(t, stored)
	require.Equal(t, model.StatusTranslated, stored.Status)
	require.NotNil(t, stored.TranslatedText)
	require.Equal(t, "[fr]Goodbye", *stored.TranslatedText)
	require.Equal(t, "Goodbye", stored.OriginalText)
	require.Equal(t, "debug", stored.Engine)
	require.Equal(t, "1.0.0", stored.EngineVersion)
}

func TestGetTranslation_ContextSeparation(t *testing.T) {
	h := newTestHandler(t)
	ctx := context.Background()
	formal := model.Payload{"tone": "formal"}

	seedTask(t, h, "ui.greet", "Hello", nil, "fr")
	seedTask(t, h, "ui.greet", "Hello", formal, "fr")

	items, err := h.ClaimPendingBatch(ctx, "fr", 10, false)
	require.NoError(t, err)
	require.Len(t, items, 2)
	for _, it := range items {
		text := "[fr]Hello"
		if it.ContextHash != model.GlobalContextSentinel {
			text = "[fr-formal]Hello"
		}
		require.NoError(t, h.SaveResults(ctx, []model.TranslationResult{{
			TranslationID:      it.TranslationID,
			Status:             model.StatusTranslated,
			TranslationPayload: model.TextPayload(text),
		}}))
	}

	global, err := h.GetTranslation(ctx, "ui.greet", "fr", nil)
	require.NoError(t, err)
	require.Equal(t, "[fr]Hello", *global.TranslatedText)

	contextual, err := h.GetTranslation(ctx, "ui.greet", "fr", formal)
	require.NoError(t, err)
	require.Equal(t, "[fr-formal]Hello", *contextual.TranslatedText)
}

func TestGetTranslation_Absent(t *testing.T) {
	h := newTestHandler(t)

	stored, err := h.GetTranslation(context.Background(), "no.such", "fr", nil)
	require.NoError(t, err)
	require.Nil(t, stored)
}

func TestMoveToDLQ(t *testing.T) {
	h := newTestHandler(t)
	ctx := context.Background()

	seedTask(t, h, "ui.doomed", "Doomed", nil, "fr")
	items, err := h.ClaimPendingBatch(ctx, "fr", 10, false)
	require.NoError(t, err)

	id := items[0].TranslationID
	require.NoError(t, h.MoveToDLQ(ctx, []model.DeadLetterEntry{{
		TranslationID:    &id,
		OriginalPayload:  items[0].SourcePayload,
		TargetLangCode:   "fr",
		LastErrorMessage: "engine exploded",
		EngineName:       "debug",
	}}))

	var count int64
	require.NoError(t, h.conn.QueryRowx(`SELECT COUNT(*) FROM th_dead_letter_queue WHERE translation_id = ?`, id).Scan(&count))
	require.EqualValues(t, 1, count)

	// The archived row never removes the translation itself.
	var status string
	require.NoError(t, h.conn.QueryRowx(`SELECT status FROM th_translations WHERE id = ?`, id).Scan(&status))
	require.Equal(t, string(model.StatusTranslating), status)
}

func TestResetStaleTranslating(t *testing.T) {
	h := newTestHandler(t)
	ctx := context.Background()

	seedTask(t, h, "ui.stuck", "Stuck", nil, "fr")
	items, err := h.ClaimPendingBatch(ctx, "fr", 10, false)
	require.NoError(t, err)
	require.Len(t, items, 1)

	// Backdate the claim far past the watchdog threshold.
	_, err = h.conn.Exec(`UPDATE th_translations SET last_updated_at = ? WHERE id = ?`,
		formatTime(time.Now().Add(-time.Hour)), items[0].TranslationID)
	require.NoError(t, err)

	n, err := h.ResetStaleTranslating(ctx, 10*time.Minute)
	require.NoError(t, err)
	require.EqualValues(t, 1, n)

	// A fresh claim is not stale.
	items, err = h.ClaimPendingBatch(ctx, "fr", 10, false)
	require.NoError(t, err)
	require.Len(t, items, 1)
	n, err = h.ResetStaleTranslating(ctx, 10*time.Minute)
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestGarbageCollect(t *testing.T) {
	h := newTestHandler(t)
	ctx := context.Background()

	oldContext := model.Payload{"tone": "archaic"}
	freshContext := model.Payload{"tone": "modern"}
	oldID := seedTask(t, h, "ui.old", "Old", oldContext, "fr", "de")
	seedTask(t, h, "ui.fresh", "Fresh", freshContext, "fr")

	_, err := h.conn.Exec(`UPDATE th_jobs SET last_requested_at = ? WHERE content_id = ?`,
		formatTime(time.Now().AddDate(0, 0, -40)), oldID)
	require.NoError(t, err)

	dry, err := h.GarbageCollect(ctx, 30, true)
	require.NoError(t, err)
	require.EqualValues(t, 1, dry.DeletedJobs)
	require.EqualValues(t, 1, dry.DeletedContent)
	require.EqualValues(t, 2, dry.DeletedTranslations)
	require.EqualValues(t, 1, dry.DeletedContexts)

	// Dry run mutated nothing.
	stored, err := h.GetTranslation(ctx, "ui.old", "fr", oldContext)
	require.NoError(t, err)
	require.NotNil(t, stored)

	real, err := h.GarbageCollect(ctx, 30, false)
	require.NoError(t, err)
	require.Equal(t, dry, real)

	stored, err = h.GetTranslation(ctx, "ui.old", "fr", oldContext)
	require.NoError(t, err)
	require.Nil(t, stored)
	stored, err = h.GetTranslation(ctx, "ui.fresh", "fr", freshContext)
	require.NoError(t, err)
	require.NotNil(t, stored)

	// The context only the deleted content referenced is gone; the one a
	// surviving translation references stays.
	var contexts int64
	require.NoError(t, h.conn.QueryRowx(`SELECT COUNT(*) FROM th_contexts`).Scan(&contexts))
	require.EqualValues(t, 1, contexts)
}

func TestGarbageCollect_ZeroRetention(t *testing.T) {
	h := newTestHandler(t)
	ctx := context.Background()

	// Retention 0 keeps anything requested today.
	seedTask(t, h, "ui.today", "Today", nil, "fr")
	report, err := h.GarbageCollect(ctx, 0, false)
	require.NoError(t, err)
	require.Zero(t, report.DeletedJobs)
	require.Zero(t, report.DeletedContent)
}

func TestInTx_RollsBackOnError(t *testing.T) {
	h := newTestHandler(t)
	ctx := context.Background()

	err := h.InTx(ctx, func(tx Handler) error {
		if _, err := tx.UpsertContent(ctx, "ui.tx", model.TextPayload("Tx")); err != nil {
			return err
		}
		return context.Canceled
	})
	require.Error(t, err)

	stored, err := h.GetTranslation(ctx, "ui.tx", "fr", nil)
	require.NoError(t, err)
	require.Nil(t, stored)

	var count int64
	require.NoError(t, h.conn.QueryRowx(`SELECT COUNT(*) FROM th_content WHERE business_id = 'ui.tx'`).Scan(&count))
	require.Zero(t, count)
}

func TestAuditLogWritten(t *testing.T) {
	h := newTestHandler(t)
	ctx := context.Background()

	_, err := h.UpsertContent(ctx, "ui.audited", model.TextPayload("Audit"))
	require.NoError(t, err)

	var count int64
	require.NoError(t, h.conn.QueryRowx(`SELECT COUNT(*) FROM th_audit_logs WHERE event_type = 'content.upsert'`).Scan(&count))
	require.EqualValues(t, 1, count)
}
